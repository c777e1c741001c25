package state

import (
	"context"
	"sort"

	"intraday/internal/errors"
	"intraday/internal/schema"
	"intraday/pkg/exception"
)

// Loader reads the persisted owned state.
type Loader interface {
	OpenTrades(ctx context.Context) ([]schema.Trade, error)
	Positions(ctx context.Context) ([]schema.Position, error)
	LoadState(ctx context.Context) (schema.OrchestratorState, bool, error)
}

// RecoverConfig controls how the book is rebuilt from storage.
type RecoverConfig struct {
	SessionDate   string
	AccountEquity float64
}

// RecoverResult contains the recovered book and what had to be repaired.
type RecoverResult struct {
	Book       *Book
	NewSession bool
	Repaired   []string
}

// Recover loads open trades, positions and the session row. A stored row from
// another date starts a fresh session carrying its equity forward. Positions
// that disagree with their open trade are rebuilt from the trade.
func Recover(ctx context.Context, loader Loader, cfg RecoverConfig) (RecoverResult, error) {
	if loader == nil {
		return RecoverResult{}, exception.ErrNilInstance
	}
	if cfg.SessionDate == "" {
		return RecoverResult{}, errors.Wrap(exception.ErrInvalidArgument, "session date is empty")
	}

	st, ok, err := loader.LoadState(ctx)
	if err != nil {
		return RecoverResult{}, errors.Mark(errors.Wrap(err, "load state"), exception.ErrPersistence)
	}
	trades, err := loader.OpenTrades(ctx)
	if err != nil {
		return RecoverResult{}, errors.Mark(errors.Wrap(err, "load open trades"), exception.ErrPersistence)
	}
	positions, err := loader.Positions(ctx)
	if err != nil {
		return RecoverResult{}, errors.Mark(errors.Wrap(err, "load positions"), exception.ErrPersistence)
	}

	res := RecoverResult{}
	if !ok || st.SessionDate != cfg.SessionDate {
		equity := cfg.AccountEquity
		if ok && st.Equity > 0 {
			equity = st.Equity
		}
		st = schema.NewSession(cfg.SessionDate, equity)
		res.NewSession = true
	}

	book := NewBook(st)
	for _, t := range trades {
		if t.Status.Terminal() {
			continue
		}
		if err := book.Put(t); err != nil {
			return RecoverResult{}, err
		}
	}

	bySymbol := make(map[string]schema.Position, len(positions))
	for _, p := range positions {
		if p.Qty != 0 {
			bySymbol[p.Symbol] = p
		}
	}
	for _, t := range book.ActiveTrades() {
		held := int64(0)
		if t.Status == schema.TradeStatusOpen || t.Status == schema.TradeStatusScaling {
			held = t.Qty
		}
		p, exists := bySymbol[t.Symbol]
		if held == 0 {
			if exists {
				res.Repaired = append(res.Repaired, t.Symbol)
				delete(bySymbol, t.Symbol)
			}
			continue
		}
		if !exists || p.Qty != held {
			res.Repaired = append(res.Repaired, t.Symbol)
			p = schema.Position{Symbol: t.Symbol, Qty: held, AvgPrice: t.EntryPrice, OpenedAt: t.OpenedAt}
		}
		p.Stop = t.Stop
		p.TrailMode = t.TrailMode
		book.positions[t.Symbol] = p
		delete(bySymbol, t.Symbol)
	}
	// orphans without an open trade cannot be managed
	for symbol := range bySymbol {
		res.Repaired = append(res.Repaired, symbol)
	}
	sort.Strings(res.Repaired)

	res.Book = book
	return res, nil
}
