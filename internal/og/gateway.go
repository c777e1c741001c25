package og

import (
	"time"

	"github.com/google/uuid"

	"intraday/internal/errors"
	"intraday/internal/schema"
	"intraday/pkg/exception"
)

// GatewayConfig controls the simulated gateway.
type GatewayConfig struct {
	Session string
	Policy  Policy
}

// Gateway places simulated entries and walks active trades through bars.
type Gateway struct {
	cfg GatewayConfig
}

// NewGateway creates a new simulated gateway.
func NewGateway(cfg GatewayConfig) *Gateway {
	if cfg.Session == "" {
		cfg.Session = "default"
	}
	if cfg.Policy.Mode == "" {
		cfg.Policy.Mode = FillImmediate
	}
	return &Gateway{cfg: cfg}
}

// Policy returns the execution policy in use.
func (g *Gateway) Policy() Policy {
	return g.cfg.Policy
}

// TradeID derives a stable id so a replayed session produces identical trades.
func TradeID(session, symbol string, ts time.Time) string {
	key := session + "|" + symbol + "|" + ts.UTC().Format(time.RFC3339Nano)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

// Place turns an accepted decision into a trade. In immediate mode the entry is
// filled at price right away; otherwise the trade stays pending for the next bar.
func (g *Gateway) Place(d schema.RiskDecision, ts time.Time, price float64, tags []string) (Outcome, error) {
	if !d.Accepted() || d.Qty <= 0 {
		return Outcome{Kind: KindNone}, errors.Wrapf(exception.ErrRiskRejected, "%s: %s", d.Symbol, d.Reason)
	}
	trade := NewTrade(TradeID(g.cfg.Session, d.Symbol, ts), d, ts, tags)
	if g.cfg.Policy.Mode != FillImmediate {
		return Outcome{Trade: trade, Changed: true, Kind: KindNone}, nil
	}
	return Apply(trade, FillEvent{Ts: ts, Price: price}, g.cfg.Policy)
}

// Advance applies bar events in order until the trade is terminal. The combined
// outcome carries every fill and the last meaningful transition.
func (g *Gateway) Advance(trade schema.Trade, events []BarEvent) (Outcome, error) {
	out := Outcome{Trade: trade, Kind: KindNone}
	for _, ev := range events {
		if out.Trade.Status.Terminal() {
			break
		}
		step, err := Apply(out.Trade, ev, g.cfg.Policy)
		if err != nil {
			return out, err
		}
		if !step.Changed {
			continue
		}
		out.Trade = step.Trade
		out.Changed = true
		out.Fills = append(out.Fills, step.Fills...)
		if step.Kind != KindMark || out.Kind == KindNone {
			out.Kind = step.Kind
		}
	}
	return out, nil
}

// Flatten closes or cancels a non-terminal trade at price.
func (g *Gateway) Flatten(trade schema.Trade, ts time.Time, price float64) (Outcome, error) {
	return Apply(trade, FlattenEvent{Ts: ts, Price: price}, g.cfg.Policy)
}
