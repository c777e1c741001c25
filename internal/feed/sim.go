package feed

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"time"

	"intraday/internal/errors"
	"intraday/internal/schema"
	"intraday/pkg/exception"
)

// SimConfig controls the synthetic feed.
type SimConfig struct {
	Seed       int64         `yaml:"seed" json:"seed"`
	Volatility float64       `yaml:"volatility" json:"volatility"`
	SpikeRate  float64       `yaml:"spike_rate" json:"spikeRate"`
	NewsRate   float64       `yaml:"news_rate" json:"newsRate"`
	Latency    time.Duration `yaml:"latency" json:"latency"`
}

// DefaultSimConfig returns a lively but deterministic feed.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		Seed:       7,
		Volatility: 0.02,
		SpikeRate:  0.08,
		NewsRate:   0.25,
	}
}

// Validate ensures the config is within supported ranges.
func (c SimConfig) Validate() error {
	if c.Volatility < 0 || c.Volatility > 0.5 {
		return fmt.Errorf("volatility must be between 0 and 0.5")
	}
	if c.SpikeRate < 0 || c.SpikeRate > 1 {
		return fmt.Errorf("spikeRate must be between 0 and 1")
	}
	if c.NewsRate < 0 || c.NewsRate > 1 {
		return fmt.Errorf("newsRate must be between 0 and 1")
	}
	if c.Latency < 0 {
		return fmt.Errorf("latency must be >= 0")
	}
	return nil
}

// Option customizes a Sim.
type Option func(*Sim)

// WithNow sets the clock the sim generates up to.
func WithNow(now func() time.Time) Option {
	return func(s *Sim) {
		s.now = now
	}
}

// WithUnavailable makes the listed symbols fail every call.
func WithUnavailable(symbols ...string) Option {
	return func(s *Sim) {
		for _, sym := range symbols {
			s.down[schema.NormalizeSymbol(sym)] = true
		}
	}
}

// Sim generates bars and headlines from a hash of (seed, symbol, bar ts), so any
// two overlapping windows return identical bars.
type Sim struct {
	cfg  SimConfig
	now  func() time.Time
	down map[string]bool
}

// NewSim creates a synthetic feed.
func NewSim(cfg SimConfig, opts ...Option) (*Sim, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Sim{cfg: cfg, now: time.Now, down: make(map[string]bool)}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Bars returns every completed bar starting at or after since.
func (s *Sim) Bars(ctx context.Context, symbol string, tf schema.Timeframe, since time.Time) ([]schema.Bar, error) {
	if err := s.wait(ctx, symbol); err != nil {
		return nil, err
	}
	step := tf.Step()
	if step == 0 {
		return nil, errors.Wrapf(exception.ErrUnsupportedTimeframe, "%s", tf)
	}
	now := s.now().UTC()
	start := since.UTC().Truncate(step)
	if start.Before(since.UTC()) {
		start = start.Add(step)
	}
	out := make([]schema.Bar, 0, int(now.Sub(start)/step)+1)
	for ts := start; !ts.Add(step).After(now); ts = ts.Add(step) {
		out = append(out, s.bar(symbol, tf, ts))
	}
	return out, nil
}

var simHeadlines = []struct {
	text      string
	sentiment float64
}{
	{"%s posts record quarterly revenue", 0.8},
	{"%s shares surge after analyst upgrade", 0.7},
	{"%s beats earnings estimates", 0.6},
	{"%s announces new product line", 0.2},
	{"%s holds annual shareholder meeting", 0},
	{"%s guidance miss weighs on outlook", -0.5},
	{"%s faces lawsuit over patent dispute", -0.6},
	{"%s shares drop on weak demand and downgrade", -0.8},
}

// News returns headlines published on the hour at or after since.
func (s *Sim) News(ctx context.Context, symbol string, since time.Time) ([]schema.NewsEvent, error) {
	if err := s.wait(ctx, symbol); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	start := since.UTC().Truncate(time.Hour)
	if start.Before(since.UTC()) {
		start = start.Add(time.Hour)
	}
	var out []schema.NewsEvent
	for ts := start; !ts.After(now); ts = ts.Add(time.Hour) {
		rng := s.rng(symbol, "news", ts)
		if rng.Float64() >= s.cfg.NewsRate {
			continue
		}
		h := simHeadlines[rng.Intn(len(simHeadlines))]
		sentiment := h.sentiment
		out = append(out, schema.NewsEvent{
			Symbol:    symbol,
			Source:    "sim",
			Headline:  fmt.Sprintf(h.text, symbol),
			URL:       fmt.Sprintf("sim://%s/%d", symbol, ts.Unix()),
			Ts:        ts,
			Sentiment: &sentiment,
		})
	}
	return out, nil
}

func (s *Sim) wait(ctx context.Context, symbol string) error {
	if s.down[schema.NormalizeSymbol(symbol)] {
		return errors.Wrapf(exception.ErrDataUnavailable, "sim %s is down", symbol)
	}
	if s.cfg.Latency <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(s.cfg.Latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// bar derives one bar from the symbol's price path at ts and ts-step.
func (s *Sim) bar(symbol string, tf schema.Timeframe, ts time.Time) schema.Bar {
	step := tf.Step()
	open := s.price(symbol, ts.Add(-step))
	closePx := s.price(symbol, ts)
	rng := s.rng(symbol, string(tf), ts)

	wick := open * s.cfg.Volatility * 0.25
	high := math.Max(open, closePx) + wick*rng.Float64()
	low := math.Min(open, closePx) - wick*rng.Float64()

	volume := 1000 * (0.7 + 0.6*rng.Float64())
	if rng.Float64() < s.cfg.SpikeRate {
		volume *= 3
	}
	return schema.Bar{
		Symbol:    symbol,
		Timeframe: tf,
		Ts:        ts,
		Open:      round2(open),
		High:      round2(high),
		Low:       round2(low),
		Close:     round2(closePx),
		Volume:    math.Round(volume),
	}
}

// price is a smooth deterministic path: a per-symbol base with two waves.
func (s *Sim) price(symbol string, ts time.Time) float64 {
	h := s.hash(symbol, "base", time.Time{})
	base := 20 + float64(h%8000)/100
	phase := float64(h%628) / 100
	x := float64(ts.Unix()) / 300
	wave := math.Sin(x/9+phase) + 0.5*math.Sin(x/3.7+2*phase)
	return base * (1 + s.cfg.Volatility*wave)
}

func (s *Sim) rng(symbol, salt string, ts time.Time) *rand.Rand {
	return rand.New(rand.NewSource(int64(s.hash(symbol, salt, ts))))
}

func (s *Sim) hash(symbol, salt string, ts time.Time) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d|%s|%s|%d", s.cfg.Seed, schema.NormalizeSymbol(symbol), salt, ts.Unix())
	return h.Sum64()
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
