package state

import (
	"sort"

	"intraday/internal/errors"
	"intraday/internal/schema"
	"intraday/pkg/exception"
)

// Book owns the cross-cycle state: trades, positions and the session row.
// It is not safe for concurrent use; the orchestrator holds the cycle lock.
type Book struct {
	trades    map[string]schema.Trade
	active    map[string]string
	positions map[string]schema.Position
	state     schema.OrchestratorState
}

// NewBook creates an empty book for a session.
func NewBook(state schema.OrchestratorState) *Book {
	return &Book{
		trades:    make(map[string]schema.Trade),
		active:    make(map[string]string),
		positions: make(map[string]schema.Position),
		state:     state,
	}
}

// State returns the session row.
func (b *Book) State() schema.OrchestratorState {
	return b.state
}

// SetState replaces the session row.
func (b *Book) SetState(state schema.OrchestratorState) {
	b.state = state
}

// Trade returns a trade by id.
func (b *Book) Trade(id string) (schema.Trade, bool) {
	t, ok := b.trades[id]
	return t, ok
}

// ActiveTrade returns the non-terminal trade of a symbol.
func (b *Book) ActiveTrade(symbol string) (schema.Trade, bool) {
	id, ok := b.active[symbol]
	if !ok {
		return schema.Trade{}, false
	}
	return b.trades[id], true
}

// ActiveTrades returns every non-terminal trade ordered by symbol.
func (b *Book) ActiveTrades() []schema.Trade {
	out := make([]schema.Trade, 0, len(b.active))
	for _, id := range b.active {
		out = append(out, b.trades[id])
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// Trades returns every trade of the session ordered by symbol then id.
func (b *Book) Trades() []schema.Trade {
	out := make([]schema.Trade, 0, len(b.trades))
	for _, t := range b.trades {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Position returns the open position of a symbol.
func (b *Book) Position(symbol string) (schema.Position, bool) {
	p, ok := b.positions[symbol]
	return p, ok
}

// Positions returns open positions ordered by symbol.
func (b *Book) Positions() []schema.Position {
	out := make([]schema.Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// OpenPositions returns the number of symbols with exposure.
func (b *Book) OpenPositions() int {
	return len(b.positions)
}

// Put stores a trade. A second non-terminal trade for a symbol is rejected.
func (b *Book) Put(trade schema.Trade) error {
	if trade.ID == "" || trade.Symbol == "" {
		return errors.Wrap(exception.ErrInvalidArgument, "trade id and symbol are required")
	}
	if id, ok := b.active[trade.Symbol]; ok && id != trade.ID {
		return errors.Wrapf(exception.ErrDuplicateTrade, "%s has trade %s", trade.Symbol, id)
	}
	b.trades[trade.ID] = trade
	if trade.Status.Terminal() {
		if b.active[trade.Symbol] == trade.ID {
			delete(b.active, trade.Symbol)
		}
	} else {
		b.active[trade.Symbol] = trade.ID
	}
	return nil
}

// Record stores the next version of a trade and applies its fills. A step
// without fills still carries a moved stop onto the position. It returns the
// realized P&L added by this step.
func (b *Book) Record(trade schema.Trade, fills []schema.Fill) (float64, error) {
	prev := b.trades[trade.ID]
	if err := b.Put(trade); err != nil {
		return 0, err
	}
	if len(fills) == 0 {
		b.SyncPosition(trade)
	}
	for _, fill := range fills {
		b.ApplyFill(fill, trade)
	}
	return trade.RealizedPnL - prev.RealizedPnL, nil
}

// ApplyFill updates the position and returns the new quantity. A position that
// reaches zero is removed.
func (b *Book) ApplyFill(fill schema.Fill, trade schema.Trade) int64 {
	current, ok := b.positions[fill.Symbol]
	if !ok {
		current = schema.Position{Symbol: fill.Symbol, OpenedAt: fill.Ts}
	}
	switch fill.Side {
	case schema.FillSideBuy:
		total := current.Qty + fill.Qty
		if total != 0 {
			current.AvgPrice = (current.AvgPrice*float64(current.Qty) + fill.Price*float64(fill.Qty)) / float64(total)
		}
		current.Qty = total
	case schema.FillSideSell:
		current.Qty -= fill.Qty
	}
	current.Stop = trade.Stop
	current.TrailMode = trade.TrailMode
	if current.Qty == 0 {
		delete(b.positions, fill.Symbol)
		return 0
	}
	b.positions[fill.Symbol] = current
	return current.Qty
}

// SyncPosition copies the trade's stop and trail mode onto its position.
func (b *Book) SyncPosition(trade schema.Trade) {
	p, ok := b.positions[trade.Symbol]
	if !ok {
		return
	}
	p.Stop = trade.Stop
	p.TrailMode = trade.TrailMode
	b.positions[trade.Symbol] = p
}

// Unrealized marks every open trade at its last price.
func (b *Book) Unrealized() float64 {
	var total float64
	for _, id := range b.active {
		t := b.trades[id]
		if t.Status != schema.TradeStatusOpen && t.Status != schema.TradeStatusScaling {
			continue
		}
		total += (t.LastPrice - t.EntryPrice) * float64(t.Qty)
	}
	return total
}

// Checkpoint captures one symbol's trade and position so a failed commit can be undone.
type Checkpoint struct {
	Symbol      string
	Trade       *schema.Trade
	Position    *schema.Position
	hadActiveID string
}

// Checkpoint captures the current state of symbol.
func (b *Book) Checkpoint(symbol string) Checkpoint {
	cp := Checkpoint{Symbol: symbol}
	if id, ok := b.active[symbol]; ok {
		t := b.trades[id]
		cp.Trade = &t
		cp.hadActiveID = id
	}
	if p, ok := b.positions[symbol]; ok {
		cp.Position = &p
	}
	return cp
}

// Rollback restores symbol to the checkpoint, dropping trades created since.
func (b *Book) Rollback(cp Checkpoint, created ...string) {
	for _, id := range created {
		if cp.Trade != nil && cp.Trade.ID == id {
			continue
		}
		delete(b.trades, id)
	}
	delete(b.active, cp.Symbol)
	if cp.Trade != nil {
		b.trades[cp.Trade.ID] = *cp.Trade
		b.active[cp.Symbol] = cp.hadActiveID
	}
	delete(b.positions, cp.Symbol)
	if cp.Position != nil {
		b.positions[cp.Symbol] = *cp.Position
	}
}
