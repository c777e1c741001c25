package indicator

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intraday/internal/schema"
)

func makeBars(n int, price func(i int) float64, volume func(i int) float64) []schema.Bar {
	start := time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)
	bars := make([]schema.Bar, n)
	for i := range bars {
		p := price(i)
		bars[i] = schema.Bar{
			Symbol:    "AAA",
			Timeframe: schema.Timeframe5m,
			Ts:        start.Add(time.Duration(i) * 5 * time.Minute),
			Open:      p,
			High:      p + 0.5,
			Low:       p - 0.5,
			Close:     p,
			Volume:    volume(i),
		}
	}
	return bars
}

func flat(v float64) func(int) float64 {
	return func(int) float64 { return v }
}

func TestComputeShortSeriesIsInsufficient(t *testing.T) {
	cfg := DefaultConfig()
	for n := 0; n < cfg.EMAFast; n++ {
		bars := makeBars(n, flat(10), flat(0))
		vectors := Compute(bars, cfg)
		require.Len(t, vectors, n)
		for i, v := range vectors {
			assert.Falsef(t, v.EMAFast.OK, "ema fast at %d of %d", i, n)
			assert.Falsef(t, v.EMASlow.OK, "ema slow at %d of %d", i, n)
			assert.Falsef(t, v.ATR.OK, "atr at %d of %d", i, n)
			assert.Falsef(t, v.RSI.OK, "rsi at %d of %d", i, n)
			assert.Falsef(t, v.VolumeSpike.OK, "spike at %d of %d", i, n)
			assert.Falsef(t, v.Consolidation.OK, "consolidation at %d of %d", i, n)
			assert.Falsef(t, v.VWAP.OK, "vwap without volume at %d of %d", i, n)
		}
	}
}

func TestWarmUpBoundaries(t *testing.T) {
	cfg := DefaultConfig()
	bars := makeBars(cfg.WarmUp()+5, func(i int) float64 { return 10 + float64(i)*0.1 }, flat(1000))
	vectors := Compute(bars, cfg)

	cases := []struct {
		desc  string
		first int
		get   func(Vector) Value
	}{
		{desc: "ema fast", first: cfg.EMAFast - 1, get: func(v Vector) Value { return v.EMAFast }},
		{desc: "ema slow", first: cfg.EMASlow - 1, get: func(v Vector) Value { return v.EMASlow }},
		{desc: "atr", first: cfg.ATRWindow - 1, get: func(v Vector) Value { return v.ATR }},
		{desc: "rsi", first: cfg.RSIWindow, get: func(v Vector) Value { return v.RSI }},
		{desc: "volume spike", first: cfg.VolumeWindow, get: func(v Vector) Value { return v.VolumeSpike }},
		{desc: "consolidation", first: cfg.ConsolidationWindow - 1, get: func(v Vector) Value { return v.Consolidation }},
		{desc: "vwap", first: 0, get: func(v Vector) Value { return v.VWAP }},
	}
	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			for i, v := range vectors {
				got := tc.get(v).OK
				if got != (i >= tc.first) {
					t.Fatalf("availability mismatch at %d: got %v want %v", i, got, i >= tc.first)
				}
			}
		})
	}
}

func TestComputeIsDeterministic(t *testing.T) {
	bars := makeBars(40, func(i int) float64 { return 50 + math.Sin(float64(i)) }, func(i int) float64 { return float64(1000 + 10*i) })
	a := Compute(bars, DefaultConfig())
	b := Compute(bars, DefaultConfig())
	assert.Equal(t, a, b)
}

func TestEMAConstantSeries(t *testing.T) {
	values := []float64{5, 5, 5, 5, 5}
	out := EMA(values, 3)
	assert.False(t, out[1].OK)
	for _, v := range out[2:] {
		require.True(t, v.OK)
		assert.InDelta(t, 5.0, v.V, 1e-12)
	}
}

func TestRSIOnlyGains(t *testing.T) {
	closes := []float64{1, 2, 3, 4, 5, 6}
	out := RSI(closes, 3)
	assert.False(t, out[2].OK)
	assert.True(t, out[3].OK)
	assert.Equal(t, 100.0, out[5].V)
}

func TestATRUsesPreviousClose(t *testing.T) {
	bars := []schema.Bar{
		{High: 10, Low: 9, Close: 9.5},
		{High: 12, Low: 11, Close: 11.5},
	}
	tr := TrueRange(bars)
	assert.InDelta(t, 1.0, tr[0], 1e-12)
	assert.InDelta(t, 2.5, tr[1], 1e-12)
	atr := ATR(bars, 2)
	assert.False(t, atr[0].OK)
	assert.InDelta(t, 1.75, atr[1].V, 1e-12)
}

func TestVolumeSpike(t *testing.T) {
	bars := makeBars(4, flat(10), func(i int) float64 {
		if i == 3 {
			return 300
		}
		return 100
	})
	baseline, spike := VolumeSpike(bars, 3)
	assert.False(t, spike[2].OK)
	require.True(t, spike[3].OK)
	assert.InDelta(t, 100.0, baseline[3].V, 1e-12)
	assert.InDelta(t, 3.0, spike[3].V, 1e-12)
}

func TestConsolidation(t *testing.T) {
	bars := makeBars(3, flat(10), flat(100))
	out := Consolidation(bars, 3)
	require.True(t, out[2].OK)
	assert.InDelta(t, 0.1, out[2].V, 1e-12)
}

func TestComputeFlagsGaps(t *testing.T) {
	bars := makeBars(3, flat(10), flat(100))
	bars[2].Ts = bars[2].Ts.Add(10 * time.Minute)
	vectors := Compute(bars, DefaultConfig())
	assert.False(t, vectors[1].Gap)
	assert.True(t, vectors[2].Gap)
}

func TestValuePtr(t *testing.T) {
	assert.Nil(t, Value{}.Ptr())
	p := Value{V: 2, OK: true}.Ptr()
	require.NotNil(t, p)
	assert.Equal(t, 2.0, *p)
}
