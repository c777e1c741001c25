package feed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intraday/internal/schema"
	"intraday/pkg/exception"
)

var simNow = time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)

func newSim(t *testing.T, cfg SimConfig, opts ...Option) *Sim {
	t.Helper()
	opts = append([]Option{WithNow(func() time.Time { return simNow })}, opts...)
	s, err := NewSim(cfg, opts...)
	require.NoError(t, err)
	return s
}

func TestSimBarsDeterministic(t *testing.T) {
	ctx := context.Background()
	s := newSim(t, DefaultSimConfig())

	since := simNow.Add(-30 * 5 * time.Minute)
	bars, err := s.Bars(ctx, "SHOP", schema.Timeframe5m, since)
	require.NoError(t, err)
	require.Len(t, bars, 30)
	assert.Equal(t, since, bars[0].Ts)
	assert.Equal(t, simNow.Add(-5*time.Minute), bars[29].Ts)

	for i, b := range bars {
		assert.GreaterOrEqual(t, b.High, b.Open)
		assert.GreaterOrEqual(t, b.High, b.Close)
		assert.LessOrEqual(t, b.Low, b.Open)
		assert.LessOrEqual(t, b.Low, b.Close)
		assert.Positive(t, b.Volume)
		if i > 0 {
			assert.Equal(t, bars[i-1].Close, b.Open)
		}
	}

	// a shorter overlapping window yields the same bars
	tail, err := s.Bars(ctx, "SHOP", schema.Timeframe5m, simNow.Add(-50*time.Minute))
	require.NoError(t, err)
	require.Len(t, tail, 10)
	assert.Equal(t, bars[20:], tail)

	// another seed diverges
	other := newSim(t, SimConfig{Seed: 99, Volatility: 0.02})
	diff, err := other.Bars(ctx, "SHOP", schema.Timeframe5m, since)
	require.NoError(t, err)
	assert.NotEqual(t, bars, diff)
}

func TestSimNews(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultSimConfig()
	cfg.NewsRate = 1
	s := newSim(t, cfg)

	news, err := s.News(ctx, "RY", simNow.Add(-3*time.Hour))
	require.NoError(t, err)
	require.Len(t, news, 4)
	for _, n := range news {
		assert.Equal(t, "RY", n.Symbol)
		assert.Equal(t, "sim", n.Source)
		assert.Contains(t, n.Headline, "RY")
		require.NotNil(t, n.Sentiment)
	}

	cfg.NewsRate = 0
	quiet := newSim(t, cfg)
	news, err = quiet.News(ctx, "RY", simNow.Add(-3*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, news)
}

func TestSimConfigValidate(t *testing.T) {
	cases := []struct {
		desc string
		mut  func(*SimConfig)
	}{
		{desc: "volatility", mut: func(c *SimConfig) { c.Volatility = 0.9 }},
		{desc: "spike rate", mut: func(c *SimConfig) { c.SpikeRate = -0.1 }},
		{desc: "news rate", mut: func(c *SimConfig) { c.NewsRate = 2 }},
		{desc: "latency", mut: func(c *SimConfig) { c.Latency = -time.Second }},
	}
	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			cfg := DefaultSimConfig()
			tc.mut(&cfg)
			_, err := NewSim(cfg)
			assert.Error(t, err)
		})
	}
	assert.NoError(t, DefaultSimConfig().Validate())
}

func TestGuard(t *testing.T) {
	ctx := context.Background()

	t.Run("unsupported timeframe", func(t *testing.T) {
		g := NewGuard(newSim(t, DefaultSimConfig()), time.Second)
		_, err := g.Bars(ctx, "RY", schema.Timeframe("1h"), simNow.Add(-time.Hour))
		require.ErrorIs(t, err, exception.ErrUnsupportedTimeframe)
	})

	t.Run("symbol down", func(t *testing.T) {
		g := NewGuard(newSim(t, DefaultSimConfig(), WithUnavailable("td")), time.Second)
		_, err := g.Bars(ctx, "TD", schema.Timeframe5m, simNow.Add(-time.Hour))
		require.ErrorIs(t, err, exception.ErrDataUnavailable)
		_, err = g.News(ctx, "TD", simNow.Add(-time.Hour))
		require.ErrorIs(t, err, exception.ErrDataUnavailable)
	})

	t.Run("timeout", func(t *testing.T) {
		cfg := DefaultSimConfig()
		cfg.Latency = time.Second
		g := NewGuard(newSim(t, cfg), 10*time.Millisecond)
		_, err := g.Bars(ctx, "RY", schema.Timeframe5m, simNow.Add(-time.Hour))
		require.ErrorIs(t, err, exception.ErrDataUnavailable)
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("healthy", func(t *testing.T) {
		g := NewGuard(newSim(t, DefaultSimConfig()), time.Second)
		bars, err := g.Bars(ctx, "RY", schema.Timeframe15m, simNow.Add(-time.Hour))
		require.NoError(t, err)
		assert.Len(t, bars, 4)
	})
}

func TestMergeCatalysts(t *testing.T) {
	now := time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)
	older := now.Add(-8 * time.Hour)
	recent := now.Add(-time.Hour)

	wire := []schema.NewsEvent{
		{Symbol: "shop", Source: "wire", Headline: "Shop beats estimates", Ts: older},
		{Symbol: "RY", Source: "wire", URL: "https://example.com/ry", Ts: recent},
		{Symbol: "", Headline: "orphan", Ts: recent},
		{Symbol: "TD", Ts: recent},
	}
	feed := []schema.NewsEvent{
		{Symbol: "SHOP", Headline: "Shop beats estimates", Ts: recent},
		{Symbol: "SHOP", Source: "feed", Headline: "Shop holds meeting", Ts: older},
	}

	got := MergeCatalysts(now, 6*time.Hour, wire, feed)
	require.Len(t, got, 3)

	assert.Equal(t, "RY", got[0].Symbol)
	assert.True(t, got[0].Fresh)

	assert.Equal(t, "SHOP", got[1].Symbol)
	assert.Equal(t, "Shop holds meeting", got[1].Headline)
	assert.False(t, got[1].Fresh)

	assert.Equal(t, "Shop beats estimates", got[2].Headline)
	assert.Equal(t, recent, got[2].Ts)
	assert.Equal(t, "unknown", got[2].Source)
	assert.True(t, got[2].Fresh)
}
