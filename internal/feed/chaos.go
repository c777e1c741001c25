package feed

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"time"

	"intraday/internal/errors"
	"intraday/internal/schema"
	"intraday/pkg/exception"
)

// ChaosConfig controls fault injection on top of another adapter.
type ChaosConfig struct {
	Seed          int64         `yaml:"seed" json:"seed"`
	DropRate      float64       `yaml:"drop_rate" json:"dropRate"`
	DuplicateRate float64       `yaml:"duplicate_rate" json:"duplicateRate"`
	ReorderWindow int           `yaml:"reorder_window" json:"reorderWindow"`
	MaxDelay      time.Duration `yaml:"max_delay" json:"maxDelay"`
}

// Enabled reports whether any fault is configured.
func (c ChaosConfig) Enabled() bool {
	return c.DropRate > 0 || c.DuplicateRate > 0 || c.ReorderWindow > 1 || c.MaxDelay > 0
}

// Validate ensures the config is within supported ranges.
func (c ChaosConfig) Validate() error {
	if c.DropRate < 0 || c.DropRate > 1 {
		return fmt.Errorf("dropRate must be between 0 and 1")
	}
	if c.DuplicateRate < 0 || c.DuplicateRate > 1 {
		return fmt.Errorf("duplicateRate must be between 0 and 1")
	}
	if c.ReorderWindow < 0 {
		return fmt.Errorf("reorderWindow must be >= 0")
	}
	if c.MaxDelay < 0 {
		return fmt.Errorf("maxDelay must be >= 0")
	}
	return nil
}

// Chaos drops, delays, duplicates and reorders what another adapter returns.
// The faults of a call depend only on the seed and the request, so a replay
// with the same seed sees the same faults.
type Chaos struct {
	next Adapter
	cfg  ChaosConfig
}

// NewChaos wraps next with fault injection.
func NewChaos(next Adapter, cfg ChaosConfig) (*Chaos, error) {
	if next == nil {
		return nil, exception.ErrNilInstance
	}
	if cfg.ReorderWindow <= 0 {
		cfg.ReorderWindow = 1
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UTC().UnixNano()
	}
	return &Chaos{next: next, cfg: cfg}, nil
}

// Bars returns the wrapped bars with faults applied.
func (c *Chaos) Bars(ctx context.Context, symbol string, tf schema.Timeframe, since time.Time) ([]schema.Bar, error) {
	rng := c.rng(symbol, "bars|"+string(tf), since)
	if err := c.fault(ctx, rng, symbol); err != nil {
		return nil, err
	}
	bars, err := c.next.Bars(ctx, symbol, tf, since)
	if err != nil {
		return nil, err
	}
	return disorder(rng, bars, c.cfg), nil
}

// News returns the wrapped headlines with faults applied.
func (c *Chaos) News(ctx context.Context, symbol string, since time.Time) ([]schema.NewsEvent, error) {
	rng := c.rng(symbol, "news", since)
	if err := c.fault(ctx, rng, symbol); err != nil {
		return nil, err
	}
	news, err := c.next.News(ctx, symbol, since)
	if err != nil {
		return nil, err
	}
	return disorder(rng, news, c.cfg), nil
}

// fault drops the call or holds it for a random delay.
func (c *Chaos) fault(ctx context.Context, rng *rand.Rand, symbol string) error {
	if c.cfg.DropRate > 0 && rng.Float64() < c.cfg.DropRate {
		return errors.Wrapf(exception.ErrDataUnavailable, "chaos dropped %s", symbol)
	}
	if c.cfg.MaxDelay <= 0 {
		return ctx.Err()
	}
	delay := time.Duration(rng.Int63n(c.cfg.MaxDelay.Nanoseconds() + 1))
	if delay == 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// disorder shuffles items within consecutive windows and duplicates some of them.
func disorder[T any](rng *rand.Rand, items []T, cfg ChaosConfig) []T {
	out := make([]T, 0, len(items))
	for start := 0; start < len(items); start += cfg.ReorderWindow {
		end := min(start+cfg.ReorderWindow, len(items))
		window := append([]T(nil), items[start:end]...)
		rng.Shuffle(len(window), func(i, j int) {
			window[i], window[j] = window[j], window[i]
		})
		for _, item := range window {
			out = append(out, item)
			if cfg.DuplicateRate > 0 && rng.Float64() < cfg.DuplicateRate {
				out = append(out, item)
			}
		}
	}
	return out
}

func (c *Chaos) rng(symbol, salt string, since time.Time) *rand.Rand {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d|%s|%s|%d", c.cfg.Seed, schema.NormalizeSymbol(symbol), salt, since.Unix())
	return rand.New(rand.NewSource(int64(h.Sum64())))
}
