package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"intraday/internal/schema"
)

// Config defines the hard limits and the sizing policy.
type Config struct {
	AccountEquity       float64          `yaml:"account_equity" json:"accountEquity"`
	RiskPerTradePct     float64          `yaml:"risk_per_trade_pct" json:"riskPerTradePct"`
	MaxTradeRiskPct     float64          `yaml:"max_trade_risk_pct" json:"maxTradeRiskPct"`
	ATRMult             float64          `yaml:"atr_mult" json:"atrMult"`
	MinTick             float64          `yaml:"min_tick" json:"minTick"`
	MinStopTicks        int              `yaml:"min_stop_ticks" json:"minStopTicks"`
	MaxNotional         float64          `yaml:"max_notional" json:"maxNotional"`
	MaxOpenPositions    int              `yaml:"max_open_positions" json:"maxOpenPositions"`
	MaxTradesPerSession int              `yaml:"max_trades_per_session" json:"maxTradesPerSession"`
	MaxDrawdownPct      float64          `yaml:"max_drawdown_pct" json:"maxDrawdownPct"`
	ScalePct            float64          `yaml:"scale_pct" json:"scalePct"`
	TargetPct           float64          `yaml:"target_pct" json:"targetPct"`
	TrailMode           schema.TrailMode `yaml:"trail_mode" json:"trailMode"`
}

// DefaultConfig returns the standard limits for a 100k account.
func DefaultConfig() Config {
	return Config{
		AccountEquity:       100000,
		RiskPerTradePct:     1.0,
		MaxTradeRiskPct:     1.0,
		MaxNotional:         100000,
		ATRMult:             1.5,
		MinTick:             0.01,
		MinStopTicks:        1,
		MaxOpenPositions:    5,
		MaxTradesPerSession: 8,
		MaxDrawdownPct:      4.0,
		ScalePct:            4.0,
		TargetPct:           8.0,
		TrailMode:           schema.TrailBreakeven,
	}
}

// Validate checks the parameters sizing cannot work without.
func (c Config) Validate() error {
	if c.AccountEquity <= 0 {
		return fmt.Errorf("accountEquity must be > 0")
	}
	if c.RiskPerTradePct <= 0 || c.RiskPerTradePct > 100 {
		return fmt.Errorf("riskPerTradePct must be in (0, 100]")
	}
	if c.MaxTradeRiskPct < 0 || c.MaxTradeRiskPct > 100 {
		return fmt.Errorf("maxTradeRiskPct must be in [0, 100]")
	}
	if c.MaxNotional <= 0 {
		return fmt.Errorf("maxNotional must be > 0")
	}
	if c.ATRMult <= 0 {
		return fmt.Errorf("atrMult must be > 0")
	}
	if c.MinTick <= 0 {
		return fmt.Errorf("minTick must be > 0")
	}
	if c.MaxDrawdownPct <= 0 || c.MaxDrawdownPct >= 100 {
		return fmt.Errorf("maxDrawdownPct must be in (0, 100)")
	}
	if c.TargetPct < c.ScalePct {
		return fmt.Errorf("targetPct must be >= scalePct")
	}
	switch c.TrailMode {
	case schema.TrailBreakeven, schema.TrailEMA:
	default:
		return fmt.Errorf("unknown trailMode %q", c.TrailMode)
	}
	return nil
}

// StateView is the read-only slice of owned state a decision looks at.
type StateView struct {
	Position       *schema.Position
	HasActiveTrade bool
	OpenPositions  int
	State          schema.OrchestratorState
}

// Engine evaluates risk decisions. It never mutates trades or positions.
type Engine struct {
	cfg Config
}

// NewEngine creates a risk engine with static limits.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Config returns the limits in use.
func (e *Engine) Config() Config {
	return e.cfg
}

// Evaluate applies the hard limits to a candidate and sizes it.
func (e *Engine) Evaluate(c schema.Candidate, view StateView) schema.RiskDecision {
	decision := schema.RiskDecision{
		Symbol:     c.Symbol,
		Action:     schema.RiskActionAccept,
		Reason:     schema.RiskReasonNone,
		EntryPrice: c.Price,
		TrailMode:  e.cfg.TrailMode,
	}

	if view.State.Halted {
		return reject(decision, schema.RiskReasonSessionHalt)
	}
	if view.State.Flattened {
		return reject(decision, schema.RiskReasonSessionClosed)
	}
	if e.cfg.MaxTradesPerSession > 0 && view.State.TradeCount >= e.cfg.MaxTradesPerSession {
		return reject(decision, schema.RiskReasonMaxTrades)
	}
	if view.HasActiveTrade || (view.Position != nil && view.Position.Qty != 0) {
		return reject(decision, schema.RiskReasonPositionExists)
	}
	if e.cfg.MaxOpenPositions > 0 && view.OpenPositions >= e.cfg.MaxOpenPositions {
		return reject(decision, schema.RiskReasonMaxOpenPositions)
	}
	if c.Price <= 0 {
		return reject(decision, schema.RiskReasonInvalidPrice)
	}
	if c.ATR == nil || *c.ATR <= 0 {
		return reject(decision, schema.RiskReasonNoVolatility)
	}

	equity := view.State.Equity
	if equity <= 0 {
		equity = e.cfg.AccountEquity
	}

	distance := *c.ATR * e.cfg.ATRMult
	if floor := e.cfg.MinTick * float64(e.cfg.MinStopTicks); distance < floor {
		distance = floor
	}
	stop := schema.FloorToTick(c.Price-distance, e.cfg.MinTick)
	if stop <= 0 {
		return reject(decision, schema.RiskReasonInvalidPrice)
	}
	distance = c.Price - stop

	budget := equity * e.cfg.RiskPerTradePct / 100
	qty := floorQty(budget, distance)
	if byNotional := floorQty(e.cfg.MaxNotional, c.Price); byNotional < qty {
		qty = byNotional
	}
	if qty < 0 {
		qty = 0
	}

	decision.Qty = qty
	decision.Stop = stop
	decision.StopDistance = distance
	decision.RiskAmount = float64(qty) * distance
	decision.ScaleTarget = schema.RoundToTick(c.Price*(1+e.cfg.ScalePct/100), e.cfg.MinTick)
	decision.Target = schema.RoundToTick(c.Price*(1+e.cfg.TargetPct/100), e.cfg.MinTick)

	if e.cfg.MaxTradeRiskPct > 0 && decision.RiskAmount > equity*e.cfg.MaxTradeRiskPct/100 {
		return reject(decision, schema.RiskReasonPerTradeRisk)
	}
	if qty == 0 {
		return reject(decision, schema.RiskReasonSizeZero)
	}
	return decision
}

// Track folds a marked-to-market equity into the drawdown figures and latches
// the halt. It returns whether the session is halted.
func (e *Engine) Track(state *schema.OrchestratorState, equity float64) bool {
	if state == nil {
		return false
	}
	if state.DDStartEquity <= 0 {
		state.DDStartEquity = equity
		state.DDLowEquity = equity
	}
	if equity < state.DDLowEquity {
		state.DDLowEquity = equity
	}
	if state.DDLowEquity <= state.DDStartEquity*(1-e.cfg.MaxDrawdownPct/100) {
		state.Halted = true
	}
	return state.Halted
}

// Drawdown returns the session drawdown as a fraction of the start equity.
func Drawdown(state schema.OrchestratorState) float64 {
	if state.DDStartEquity <= 0 {
		return 0
	}
	dd := (state.DDStartEquity - state.DDLowEquity) / state.DDStartEquity
	if dd < 0 {
		return 0
	}
	return dd
}

func reject(decision schema.RiskDecision, reason schema.RiskReason) schema.RiskDecision {
	decision.Action = schema.RiskActionReject
	decision.Reason = reason
	decision.Qty = 0
	return decision
}

func floorQty(amount, unit float64) int64 {
	if amount <= 0 || unit <= 0 {
		return 0
	}
	return decimal.NewFromFloat(amount).Div(decimal.NewFromFloat(unit)).Floor().IntPart()
}
