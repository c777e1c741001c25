package schema

import "time"

// Gate is the sentiment gate outcome for a symbol.
type Gate string

const (
	GateAccept   Gate = "accept"
	GateSoftVeto Gate = "soft_veto"
	GateVeto     Gate = "veto"
	GateDecline  Gate = "decline"
)

// SentimentResult is produced by the sentiment gate.
type SentimentResult struct {
	Symbol  string   `json:"symbol"`
	Score   float64  `json:"score"`
	Model   string   `json:"model"`
	Gate    Gate     `json:"gate"`
	Reasons []string `json:"reasons"`
}

// Usable reports whether the score may contribute to ranking.
func (r SentimentResult) Usable() bool {
	return r.Gate == GateAccept || r.Gate == GateSoftVeto
}

// Decision is what the ranker recommends for a candidate.
type Decision string

const (
	DecisionEnterLong Decision = "enter_long"
	DecisionObserve   Decision = "observe"
	DecisionSkipVeto  Decision = "skip_veto"
)

// Candidate is a ranked trade idea for one cycle.
type Candidate struct {
	Symbol    string    `json:"symbol"`
	Technical float64   `json:"technical"`
	Catalyst  float64   `json:"catalyst"`
	Sentiment *float64  `json:"sentiment,omitempty"`
	Composite float64   `json:"composite"`
	Decision  Decision  `json:"decision"`
	Gate      Gate      `json:"gate,omitempty"`
	Reasons   []string  `json:"reasons"`
	Price     float64   `json:"price"`
	ATR       *float64  `json:"atr,omitempty"`
	EMASlow   *float64  `json:"emaSlow,omitempty"`
	BarTs     time.Time `json:"barTs"`
}

// OrchestratorState is the single process-wide state row.
type OrchestratorState struct {
	SessionDate   string  `json:"sessionDate"`
	TradeCount    int     `json:"tradeCount"`
	Equity        float64 `json:"equity"`
	DDStartEquity float64 `json:"ddStartEquity"`
	DDLowEquity   float64 `json:"ddLowEquity"`
	Halted        bool    `json:"halted"`
	Flattened     bool    `json:"flattened"`
}

// NewSession returns the state for a fresh trading date.
func NewSession(date string, equity float64) OrchestratorState {
	return OrchestratorState{
		SessionDate:   date,
		Equity:        equity,
		DDStartEquity: equity,
		DDLowEquity:   equity,
	}
}

// AIProvenance is an append-only audit row of one sentiment evaluation.
type AIProvenance struct {
	Symbol  string    `json:"symbol"`
	RunTs   time.Time `json:"runTs"`
	RawText []string  `json:"rawText"`
	Model   string    `json:"model"`
	Score   float64   `json:"score"`
	Gate    Gate      `json:"gate"`
	Reasons []string  `json:"reasons"`
}
