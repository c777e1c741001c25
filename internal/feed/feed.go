package feed

import (
	"context"
	"sort"
	"time"

	"intraday/internal/errors"
	"intraday/internal/schema"
	"intraday/pkg/exception"
)

// Adapter is a market data and news source.
type Adapter interface {
	Bars(ctx context.Context, symbol string, tf schema.Timeframe, since time.Time) ([]schema.Bar, error)
	News(ctx context.Context, symbol string, since time.Time) ([]schema.NewsEvent, error)
}

// Guard bounds every call of an adapter and reports any failure as
// exception.ErrDataUnavailable.
type Guard struct {
	next    Adapter
	timeout time.Duration
}

// NewGuard wraps an adapter with a per-call timeout.
func NewGuard(next Adapter, timeout time.Duration) *Guard {
	return &Guard{next: next, timeout: timeout}
}

// Bars fetches bars within the timeout. Bars are returned oldest first with
// one bar per timestamp.
func (g *Guard) Bars(ctx context.Context, symbol string, tf schema.Timeframe, since time.Time) ([]schema.Bar, error) {
	if tf.Step() == 0 {
		return nil, errors.Wrapf(exception.ErrUnsupportedTimeframe, "%s", tf)
	}
	ctx, cancel := g.bound(ctx)
	defer cancel()

	bars, err := g.next.Bars(ctx, symbol, tf, since)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "bars %s %s", symbol, tf), exception.ErrDataUnavailable)
	}
	sort.SliceStable(bars, func(i, j int) bool {
		return bars[i].Ts.Before(bars[j].Ts)
	})
	return dedupeBars(bars), nil
}

// dedupeBars keeps the first bar of every timestamp. bars must be sorted.
func dedupeBars(bars []schema.Bar) []schema.Bar {
	out := bars[:0]
	for _, bar := range bars {
		if n := len(out); n > 0 && bar.Ts.Equal(out[n-1].Ts) {
			continue
		}
		out = append(out, bar)
	}
	return out
}

// News fetches headlines within the timeout.
func (g *Guard) News(ctx context.Context, symbol string, since time.Time) ([]schema.NewsEvent, error) {
	ctx, cancel := g.bound(ctx)
	defer cancel()

	news, err := g.next.News(ctx, symbol, since)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "news %s", symbol), exception.ErrDataUnavailable)
	}
	return news, nil
}

func (g *Guard) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

// MergeCatalysts combines news sources, keeping the newest item per symbol and
// headline (or url when the headline is empty). Items newer than now-window are
// marked fresh. The result is ordered by symbol, then time, then key.
func MergeCatalysts(now time.Time, window time.Duration, sources ...[]schema.NewsEvent) []schema.NewsEvent {
	type key struct {
		symbol string
		item   string
	}
	combined := make(map[key]schema.NewsEvent)
	for _, src := range sources {
		for _, n := range src {
			n.Symbol = schema.NormalizeSymbol(n.Symbol)
			if n.Symbol == "" || n.Key() == "" {
				continue
			}
			k := key{symbol: n.Symbol, item: n.Key()}
			if cur, ok := combined[k]; ok && !n.Ts.After(cur.Ts) {
				continue
			}
			combined[k] = n
		}
	}

	threshold := now.Add(-window)
	out := make([]schema.NewsEvent, 0, len(combined))
	for _, n := range combined {
		n.Fresh = !n.Ts.Before(threshold)
		if n.Source == "" {
			n.Source = "unknown"
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		if !out[i].Ts.Equal(out[j].Ts) {
			return out[i].Ts.Before(out[j].Ts)
		}
		return out[i].Key() < out[j].Key()
	})
	return out
}
