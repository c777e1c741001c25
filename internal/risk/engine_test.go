package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intraday/internal/schema"
)

func candidate(price, atr float64) schema.Candidate {
	return schema.Candidate{Symbol: "AAA", Price: price, ATR: &atr, Decision: schema.DecisionEnterLong}
}

func freshView() StateView {
	return StateView{State: schema.NewSession("2024-03-04", 100000)}
}

func TestEvaluateBasicAccept(t *testing.T) {
	e := NewEngine(DefaultConfig())
	d := e.Evaluate(candidate(10, 0.2), freshView())

	require.True(t, d.Accepted(), "reason %s", d.Reason)
	assert.Equal(t, schema.RiskReasonNone, d.Reason)
	assert.InDelta(t, 9.70, d.Stop, 1e-9)
	assert.Equal(t, int64(3333), d.Qty)
	assert.InDelta(t, 10.40, d.ScaleTarget, 1e-9)
	assert.InDelta(t, 10.80, d.Target, 1e-9)
	assert.LessOrEqual(t, d.RiskAmount, 1000.0)
	assert.Equal(t, schema.TrailBreakeven, d.TrailMode)
}

func TestEvaluateRejections(t *testing.T) {
	pos := &schema.Position{Symbol: "AAA", Qty: 100}
	cases := []struct {
		desc   string
		cfg    func(*Config)
		c      schema.Candidate
		view   func(*StateView)
		reason schema.RiskReason
	}{
		{desc: "halted", c: candidate(10, 0.2), view: func(v *StateView) { v.State.Halted = true }, reason: schema.RiskReasonSessionHalt},
		{desc: "flattened", c: candidate(10, 0.2), view: func(v *StateView) { v.State.Flattened = true }, reason: schema.RiskReasonSessionClosed},
		{desc: "max trades", c: candidate(10, 0.2), view: func(v *StateView) { v.State.TradeCount = 8 }, reason: schema.RiskReasonMaxTrades},
		{desc: "position exists", c: candidate(10, 0.2), view: func(v *StateView) { v.Position = pos }, reason: schema.RiskReasonPositionExists},
		{desc: "active trade", c: candidate(10, 0.2), view: func(v *StateView) { v.HasActiveTrade = true }, reason: schema.RiskReasonPositionExists},
		{desc: "max open positions", c: candidate(10, 0.2), view: func(v *StateView) { v.OpenPositions = 5 }, reason: schema.RiskReasonMaxOpenPositions},
		{desc: "invalid price", c: candidate(0, 0.2), reason: schema.RiskReasonInvalidPrice},
		{desc: "stop below zero", c: candidate(0.1, 0.2), reason: schema.RiskReasonInvalidPrice},
		{desc: "no atr", c: schema.Candidate{Symbol: "AAA", Price: 10}, reason: schema.RiskReasonNoVolatility},
		{desc: "zero atr", c: candidate(10, 0), reason: schema.RiskReasonNoVolatility},
		{desc: "per trade cap", cfg: func(c *Config) { c.MaxTradeRiskPct = 0.5 }, c: candidate(10, 0.2), reason: schema.RiskReasonPerTradeRisk},
		{desc: "size zero", cfg: func(c *Config) { c.AccountEquity = 10 }, c: candidate(10, 0.2), view: func(v *StateView) { v.State.Equity = 0 }, reason: schema.RiskReasonSizeZero},
	}
	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			cfg := DefaultConfig()
			if tc.cfg != nil {
				tc.cfg(&cfg)
			}
			view := freshView()
			if tc.view != nil {
				tc.view(&view)
			}
			d := NewEngine(cfg).Evaluate(tc.c, view)
			assert.False(t, d.Accepted())
			if d.Reason != tc.reason {
				t.Fatalf("reason mismatch: got %s want %s", d.Reason, tc.reason)
			}
			assert.Equal(t, int64(0), d.Qty)
		})
	}
}

func TestEvaluateMinStopAndNotionalCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinStopTicks = 50
	cfg.MaxNotional = 5000
	d := NewEngine(cfg).Evaluate(candidate(10, 0.01), freshView())

	require.True(t, d.Accepted())
	// ATR*1.5 is below 50 ticks, so the stop sits 0.50 away.
	assert.InDelta(t, 9.50, d.Stop, 1e-9)
	assert.Equal(t, int64(500), d.Qty)
}

func TestEvaluateDefaultsCapNotional(t *testing.T) {
	cfg := DefaultConfig()
	d := NewEngine(cfg).Evaluate(candidate(100, 0.05), freshView())

	require.True(t, d.Accepted(), "reason %s", d.Reason)
	// the 1% budget alone would buy 12500 shares at a 0.08 stop
	assert.Equal(t, int64(1000), d.Qty)
	assert.LessOrEqual(t, float64(d.Qty)*d.EntryPrice, cfg.AccountEquity)
	assert.LessOrEqual(t, d.RiskAmount, cfg.AccountEquity*cfg.MaxTradeRiskPct/100)
}

func TestEvaluateUsesSessionEquity(t *testing.T) {
	view := freshView()
	view.State.Equity = 50000
	d := NewEngine(DefaultConfig()).Evaluate(candidate(10, 0.2), view)
	require.True(t, d.Accepted())
	assert.Equal(t, int64(1666), d.Qty)
}

func TestTrackDrawdownHalt(t *testing.T) {
	e := NewEngine(DefaultConfig())
	state := schema.NewSession("2024-03-04", 100000)

	assert.False(t, e.Track(&state, 98000))
	assert.False(t, e.Track(&state, 101000))
	assert.Equal(t, 98000.0, state.DDLowEquity)
	assert.InDelta(t, 0.02, Drawdown(state), 1e-12)

	assert.True(t, e.Track(&state, 95900))
	assert.True(t, state.Halted)

	// latched even after recovery
	assert.True(t, e.Track(&state, 100000))

	d := e.Evaluate(candidate(10, 0.2), StateView{State: state})
	assert.Equal(t, schema.RiskReasonSessionHalt, d.Reason)
}

func TestTrackInitializesStart(t *testing.T) {
	e := NewEngine(DefaultConfig())
	state := schema.OrchestratorState{SessionDate: "2024-03-04"}
	assert.False(t, e.Track(&state, 100000))
	assert.Equal(t, 100000.0, state.DDStartEquity)
	assert.False(t, e.Track(nil, 1))
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cases := []struct {
		desc string
		mut  func(*Config)
	}{
		{desc: "equity", mut: func(c *Config) { c.AccountEquity = 0 }},
		{desc: "risk pct", mut: func(c *Config) { c.RiskPerTradePct = 0 }},
		{desc: "trade risk cap", mut: func(c *Config) { c.MaxTradeRiskPct = -1 }},
		{desc: "no notional cap", mut: func(c *Config) { c.MaxNotional = 0 }},
		{desc: "atr mult", mut: func(c *Config) { c.ATRMult = 0 }},
		{desc: "tick", mut: func(c *Config) { c.MinTick = 0 }},
		{desc: "drawdown", mut: func(c *Config) { c.MaxDrawdownPct = 0 }},
		{desc: "targets", mut: func(c *Config) { c.TargetPct = 1 }},
		{desc: "trail", mut: func(c *Config) { c.TrailMode = "atr" }},
	}
	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mut(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
