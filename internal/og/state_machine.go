package og

import (
	"time"

	"intraday/internal/errors"
	"intraday/internal/schema"
	"intraday/pkg/exception"
)

// FillMode selects when a pending entry is filled.
type FillMode string

const (
	FillImmediate FillMode = "immediate"
	FillNextOpen  FillMode = "next_open"
)

// Fill reasons.
const (
	ReasonEntry   = "entry"
	ReasonScale   = "scale_out"
	ReasonStop    = "stop"
	ReasonTarget  = "target"
	ReasonFlatten = "flatten"
	ReasonCancel  = "cancel"
)

// Kind names the transition an event produced.
type Kind string

const (
	KindNone      Kind = "none"
	KindMark      Kind = "mark"
	KindOpened    Kind = "opened"
	KindScaled    Kind = "scaled"
	KindStopped   Kind = "stopped"
	KindTarget    Kind = "target"
	KindFlattened Kind = "flattened"
	KindCancelled Kind = "cancelled"
)

// Policy is the simulated execution policy.
type Policy struct {
	Mode          FillMode `yaml:"mode" json:"mode"`
	SlippagePct   float64  `yaml:"slippage_pct" json:"slippagePct"`
	MinTick       float64  `yaml:"min_tick" json:"minTick"`
	ScaleFraction float64  `yaml:"scale_fraction" json:"scaleFraction"`
}

// DefaultPolicy fills immediately with 0.1% adverse slippage and scales out half.
func DefaultPolicy() Policy {
	return Policy{
		Mode:          FillImmediate,
		SlippagePct:   0.1,
		MinTick:       0.01,
		ScaleFraction: 0.5,
	}
}

// Event is one of FillEvent, BarEvent, FlattenEvent or CancelEvent.
type Event interface {
	Time() time.Time
	event()
}

// FillEvent fills a pending entry at Price plus slippage.
type FillEvent struct {
	Ts    time.Time
	Price float64
}

// BarEvent advances an active trade through one bar. EMASlow drives ema trailing.
type BarEvent struct {
	Bar     schema.Bar
	EMASlow *float64
}

// FlattenEvent force-closes an active trade or cancels a pending one.
type FlattenEvent struct {
	Ts    time.Time
	Price float64
}

// CancelEvent cancels a pending entry.
type CancelEvent struct {
	Ts     time.Time
	Reason string
}

func (e FillEvent) Time() time.Time    { return e.Ts }
func (e BarEvent) Time() time.Time     { return e.Bar.Ts }
func (e FlattenEvent) Time() time.Time { return e.Ts }
func (e CancelEvent) Time() time.Time  { return e.Ts }

func (FillEvent) event()    {}
func (BarEvent) event()     {}
func (FlattenEvent) event() {}
func (CancelEvent) event()  {}

// Outcome is the result of applying one event.
type Outcome struct {
	Trade   schema.Trade
	Changed bool
	Kind    Kind
	Fills   []schema.Fill
}

// NewTrade creates a pending trade from an accepted risk decision.
func NewTrade(id string, d schema.RiskDecision, ts time.Time, tags []string) schema.Trade {
	return schema.Trade{
		ID:          id,
		Symbol:      d.Symbol,
		Side:        schema.SideLong,
		Qty:         d.Qty,
		InitialQty:  d.Qty,
		EntryPrice:  d.EntryPrice,
		Status:      schema.TradeStatusPending,
		OpenedAt:    ts,
		Stop:        d.Stop,
		ScaleTarget: d.ScaleTarget,
		Target:      d.Target,
		TrailMode:   d.TrailMode,
		Tags:        append([]string(nil), tags...),
		LastPrice:   d.EntryPrice,
	}
}

// Apply computes the next trade for an event. The input trade is never modified.
// Fill and bar events at or before the last processed bar are no-ops.
func Apply(trade schema.Trade, ev Event, p Policy) (Outcome, error) {
	unchanged := Outcome{Trade: trade, Kind: KindNone}
	if trade.Status.Terminal() {
		return unchanged, errors.Wrapf(exception.ErrTransitionConflict, "trade %s is %s", trade.ID, trade.Status)
	}

	switch e := ev.(type) {
	case FillEvent:
		if stale(trade, e.Ts) {
			return unchanged, nil
		}
		if trade.Status != schema.TradeStatusPending {
			return unchanged, errors.Wrapf(exception.ErrTransitionConflict, "fill on %s trade %s", trade.Status, trade.ID)
		}
		return open(trade, e.Ts, e.Price, p)
	case BarEvent:
		if stale(trade, e.Bar.Ts) {
			return unchanged, nil
		}
		if trade.Status == schema.TradeStatusPending {
			if p.Mode != FillNextOpen || !e.Bar.Ts.After(trade.OpenedAt) {
				return unchanged, nil
			}
			return open(trade, e.Bar.Ts, e.Bar.Open, p)
		}
		return advance(trade, e, p), nil
	case FlattenEvent:
		if trade.Status == schema.TradeStatusPending {
			return cancel(trade, e.Ts, ReasonFlatten), nil
		}
		price := e.Price
		if price <= 0 {
			price = trade.LastPrice
		}
		if price <= 0 {
			price = trade.EntryPrice
		}
		next := cloneTrade(trade)
		fill := exit(&next, e.Ts, slip(price, schema.FillSideSell, p), next.Qty, ReasonFlatten)
		return Outcome{Trade: next, Changed: true, Kind: KindFlattened, Fills: []schema.Fill{fill}}, nil
	case CancelEvent:
		if trade.Status != schema.TradeStatusPending {
			return unchanged, errors.Wrapf(exception.ErrTransitionConflict, "cancel on %s trade %s", trade.Status, trade.ID)
		}
		reason := e.Reason
		if reason == "" {
			reason = ReasonCancel
		}
		return cancel(trade, e.Ts, reason), nil
	default:
		return unchanged, errors.Wrapf(exception.ErrInvalidArgument, "unknown event %T", ev)
	}
}

func stale(trade schema.Trade, ts time.Time) bool {
	return !trade.LastBarTs.IsZero() && !ts.After(trade.LastBarTs)
}

func open(trade schema.Trade, ts time.Time, price float64, p Policy) (Outcome, error) {
	if price <= 0 || trade.Qty <= 0 {
		return Outcome{Trade: trade, Kind: KindNone}, errors.Wrapf(exception.ErrInvalidArgument, "fill price %v qty %d", price, trade.Qty)
	}
	next := cloneTrade(trade)
	next.EntryPrice = slip(price, schema.FillSideBuy, p)
	next.Status = schema.TradeStatusOpen
	next.OpenedAt = ts
	next.LastBarTs = ts
	next.LastPrice = price
	fill := schema.Fill{
		TradeID: next.ID,
		Symbol:  next.Symbol,
		Side:    schema.FillSideBuy,
		Price:   next.EntryPrice,
		Qty:     next.Qty,
		Ts:      ts,
		Reason:  ReasonEntry,
	}
	return Outcome{Trade: next, Changed: true, Kind: KindOpened, Fills: []schema.Fill{fill}}, nil
}

// advance walks one bar: stop first, then scale-out, then the final target.
// Trailing uses the bar's EMA only after exits were checked.
func advance(trade schema.Trade, e BarEvent, p Policy) Outcome {
	bar := e.Bar
	next := cloneTrade(trade)
	next.LastBarTs = bar.Ts
	next.LastPrice = bar.Close
	out := Outcome{Trade: next, Changed: true, Kind: KindMark}

	if next.Stop > 0 && bar.Low <= next.Stop {
		price := next.Stop
		if bar.Open < price {
			price = bar.Open
		}
		out.Fills = append(out.Fills, exit(&next, bar.Ts, price, next.Qty, ReasonStop))
		out.Trade, out.Kind = next, KindStopped
		return out
	}

	if next.Status == schema.TradeStatusOpen && next.ScaleTarget > 0 && bar.High >= next.ScaleTarget {
		qty := scaleQty(next, p)
		if qty > 0 {
			out.Fills = append(out.Fills, exit(&next, bar.Ts, next.ScaleTarget, qty, ReasonScale))
			next.Status = schema.TradeStatusScaling
			next.Stop = maxFloat(next.Stop, next.EntryPrice)
			if next.TrailMode == schema.TrailEMA && e.EMASlow != nil {
				next.Stop = maxFloat(next.Stop, schema.FloorToTick(*e.EMASlow, p.MinTick))
			}
			out.Kind = KindScaled
		}
	}

	if next.Target > 0 && bar.High >= next.Target {
		out.Fills = append(out.Fills, exit(&next, bar.Ts, next.Target, next.Qty, ReasonTarget))
		out.Trade, out.Kind = next, KindTarget
		return out
	}

	if next.TrailMode == schema.TrailEMA && e.EMASlow != nil {
		next.Stop = maxFloat(next.Stop, schema.FloorToTick(*e.EMASlow, p.MinTick))
	}
	out.Trade = next
	return out
}

func scaleQty(trade schema.Trade, p Policy) int64 {
	frac := p.ScaleFraction
	if frac <= 0 || frac >= 1 {
		frac = 0.5
	}
	qty := int64(float64(trade.InitialQty) * frac)
	if qty >= trade.Qty {
		return 0
	}
	return qty
}

// exit sells qty of the trade at price and closes it when nothing remains.
func exit(trade *schema.Trade, ts time.Time, price float64, qty int64, reason string) schema.Fill {
	if qty > trade.Qty {
		qty = trade.Qty
	}
	trade.Qty -= qty
	trade.RealizedPnL += (price - trade.EntryPrice) * float64(qty)
	trade.ExitPrice = price
	trade.LastPrice = price
	if trade.Qty == 0 {
		trade.Status = schema.TradeStatusClosed
		trade.ClosedAt = ts
		trade.CloseReason = reason
	}
	return schema.Fill{
		TradeID: trade.ID,
		Symbol:  trade.Symbol,
		Side:    schema.FillSideSell,
		Price:   price,
		Qty:     qty,
		Ts:      ts,
		Reason:  reason,
	}
}

func cancel(trade schema.Trade, ts time.Time, reason string) Outcome {
	next := cloneTrade(trade)
	next.Status = schema.TradeStatusCancelled
	next.ClosedAt = ts
	next.CloseReason = reason
	return Outcome{Trade: next, Changed: true, Kind: KindCancelled}
}

func slip(price float64, side schema.FillSide, p Policy) float64 {
	adj := p.SlippagePct / 100
	if side == schema.FillSideSell {
		adj = -adj
	}
	return schema.RoundToTick(price*(1+adj), p.MinTick)
}

func cloneTrade(t schema.Trade) schema.Trade {
	t.Tags = append([]string(nil), t.Tags...)
	return t
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
