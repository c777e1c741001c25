package schema

import "time"

// Side describes trade direction. Only long entries are generated.
type Side uint16

const (
	SideUnknown Side = iota
	SideLong
)

// FillSide describes the direction of a single execution.
type FillSide uint16

const (
	FillSideUnknown FillSide = iota
	FillSideBuy
	FillSideSell
)

// TradeStatus is the lifecycle state of a trade.
type TradeStatus uint16

const (
	TradeStatusUnknown TradeStatus = iota
	TradeStatusPending
	TradeStatusOpen
	TradeStatusScaling
	TradeStatusClosed
	TradeStatusCancelled
)

func (s TradeStatus) String() string {
	switch s {
	case TradeStatusPending:
		return "PENDING"
	case TradeStatusOpen:
		return "OPEN"
	case TradeStatusScaling:
		return "SCALING"
	case TradeStatusClosed:
		return "CLOSED"
	case TradeStatusCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transition is possible.
func (s TradeStatus) Terminal() bool {
	return s == TradeStatusClosed || s == TradeStatusCancelled
}

// TrailMode selects how the stop moves after entry.
type TrailMode string

const (
	TrailBreakeven TrailMode = "breakeven"
	TrailEMA       TrailMode = "ema"
)

// Trade is a simulated trade owned by the execution state machine.
type Trade struct {
	ID          string      `json:"id"`
	Symbol      string      `json:"symbol"`
	Side        Side        `json:"side"`
	Qty         int64       `json:"qty"`
	InitialQty  int64       `json:"initialQty"`
	EntryPrice  float64     `json:"entryPrice"`
	ExitPrice   float64     `json:"exitPrice"`
	Status      TradeStatus `json:"status"`
	OpenedAt    time.Time   `json:"openedAt"`
	ClosedAt    time.Time   `json:"closedAt"`
	Stop        float64     `json:"stop"`
	ScaleTarget float64     `json:"scaleTarget"`
	Target      float64     `json:"target"`
	TrailMode   TrailMode   `json:"trailMode"`
	Tags        []string    `json:"tags,omitempty"`
	RealizedPnL float64     `json:"realizedPnl"`
	LastBarTs   time.Time   `json:"lastBarTs"`
	LastPrice   float64     `json:"lastPrice"`
	CloseReason string      `json:"closeReason,omitempty"`
}

// Position is the open exposure for one symbol.
type Position struct {
	Symbol    string    `json:"symbol"`
	Qty       int64     `json:"qty"`
	AvgPrice  float64   `json:"avgPrice"`
	OpenedAt  time.Time `json:"openedAt"`
	Stop      float64   `json:"stop"`
	TrailMode TrailMode `json:"trailMode"`
}

// Fill is one simulated execution against a trade.
type Fill struct {
	TradeID string    `json:"tradeId"`
	Symbol  string    `json:"symbol"`
	Side    FillSide  `json:"side"`
	Price   float64   `json:"price"`
	Qty     int64     `json:"qty"`
	Ts      time.Time `json:"ts"`
	Reason  string    `json:"reason"`
}

// RiskAction is the outcome of a risk decision.
type RiskAction uint16

const (
	RiskActionUnknown RiskAction = iota
	RiskActionAccept
	RiskActionReject
)

// RiskReason is a coarse reason code for risk decisions.
type RiskReason uint16

const (
	RiskReasonNone RiskReason = iota
	RiskReasonSessionHalt
	RiskReasonSessionClosed
	RiskReasonMaxTrades
	RiskReasonMaxOpenPositions
	RiskReasonPositionExists
	RiskReasonNoVolatility
	RiskReasonInvalidPrice
	RiskReasonPerTradeRisk
	RiskReasonSizeZero
)

func (r RiskReason) String() string {
	switch r {
	case RiskReasonNone:
		return "none"
	case RiskReasonSessionHalt:
		return "session_halt"
	case RiskReasonSessionClosed:
		return "session_closed"
	case RiskReasonMaxTrades:
		return "max_trades"
	case RiskReasonMaxOpenPositions:
		return "max_open_positions"
	case RiskReasonPositionExists:
		return "position_exists"
	case RiskReasonNoVolatility:
		return "no_volatility"
	case RiskReasonInvalidPrice:
		return "invalid_price"
	case RiskReasonPerTradeRisk:
		return "per_trade_risk"
	case RiskReasonSizeZero:
		return "size_zero"
	default:
		return "unknown"
	}
}

// RiskDecision is returned by the risk manager for one candidate.
type RiskDecision struct {
	Symbol       string     `json:"symbol"`
	Action       RiskAction `json:"action"`
	Reason       RiskReason `json:"reason"`
	Qty          int64      `json:"qty"`
	EntryPrice   float64    `json:"entryPrice"`
	Stop         float64    `json:"stop"`
	StopDistance float64    `json:"stopDistance"`
	ScaleTarget  float64    `json:"scaleTarget"`
	Target       float64    `json:"target"`
	TrailMode    TrailMode  `json:"trailMode"`
	RiskAmount   float64    `json:"riskAmount"`
}

// Accepted reports whether the decision allows an entry.
func (d RiskDecision) Accepted() bool {
	return d.Action == RiskActionAccept
}
