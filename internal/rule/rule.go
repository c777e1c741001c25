package rule

import (
	"time"

	"intraday/internal/indicator"
	"intraday/internal/schema"
)

// Outcome is the result of evaluating a single rule.
type Outcome string

const (
	OutcomeFired        Outcome = "fired"
	OutcomeNotFired     Outcome = "not_fired"
	OutcomeNotEvaluated Outcome = "not_evaluated"
)

// Kind groups rules into the score they contribute to.
type Kind string

const (
	KindTechnical Kind = "technical"
	KindCatalyst  Kind = "catalyst"
)

// Rule ids.
const (
	RuleEMACross         = "ema_cross"
	RuleAboveVWAP        = "above_vwap"
	RuleVolumeSpike      = "volume_spike"
	RuleNotConsolidating = "not_consolidating"
	RuleRSIMomentum      = "rsi_momentum"
	RuleFreshCatalyst    = "fresh_catalyst"
	RuleNewsFlow         = "news_flow"
	RulePositiveNews     = "positive_news_sentiment"
)

const (
	reasonInsufficientHistory = "insufficient_history"
	reasonPositionOpen        = "position_open"
)

// Result is the structured record of one rule.
type Result struct {
	RuleID  string  `json:"ruleId"`
	Kind    Kind    `json:"kind"`
	Outcome Outcome `json:"outcome"`
	Weight  float64 `json:"weight"`
}

// Config holds rule thresholds and weights.
type Config struct {
	VWAPEnforce        bool               `yaml:"vwap_enforce" json:"vwapEnforce"`
	VolumeSpikeMult    float64            `yaml:"volume_spike_mult" json:"volumeSpikeMult"`
	ConsolidationMax   float64            `yaml:"consolidation_max" json:"consolidationMax"`
	RSILow             float64            `yaml:"rsi_low" json:"rsiLow"`
	RSIHigh            float64            `yaml:"rsi_high" json:"rsiHigh"`
	NewsFlowMin        int                `yaml:"news_flow_min" json:"newsFlowMin"`
	PositiveNewsMin    float64            `yaml:"positive_news_min" json:"positiveNewsMin"`
	MinEvaluatedWeight float64            `yaml:"min_evaluated_weight" json:"minEvaluatedWeight"`
	Weights            map[string]float64 `yaml:"weights" json:"weights"`
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		VWAPEnforce:        true,
		VolumeSpikeMult:    2.0,
		ConsolidationMax:   0.05,
		RSILow:             50,
		RSIHigh:            75,
		NewsFlowMin:        2,
		PositiveNewsMin:    0.2,
		MinEvaluatedWeight: 0.5,
		Weights:            DefaultWeights(),
	}
}

// DefaultWeights returns the weight of every rule.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		RuleEMACross:         0.30,
		RuleAboveVWAP:        0.20,
		RuleVolumeSpike:      0.20,
		RuleNotConsolidating: 0.15,
		RuleRSIMomentum:      0.15,
		RuleFreshCatalyst:    0.40,
		RuleNewsFlow:         0.20,
		RulePositiveNews:     0.40,
	}
}

// Input is everything one symbol's rules look at.
type Input struct {
	Symbol   string
	Bar      schema.Bar
	Vector   indicator.Vector
	News     []schema.NewsEvent
	Position *schema.Position
}

// Evaluation is the per-symbol rule output.
type Evaluation struct {
	Symbol      string    `json:"symbol"`
	Technical   float64   `json:"technical"`
	Catalyst    float64   `json:"catalyst"`
	Results     []Result  `json:"results"`
	Reasons     []string  `json:"reasons"`
	HasPosition bool      `json:"hasPosition"`
	Price       float64   `json:"price"`
	BarTs       time.Time `json:"barTs"`

	Vector indicator.Vector `json:"vector"`
}

// Fired returns the ids of rules that fired, in evaluation order.
func (e Evaluation) Fired() []string {
	out := make([]string, 0, len(e.Results))
	for _, r := range e.Results {
		if r.Outcome == OutcomeFired {
			out = append(out, r.RuleID)
		}
	}
	return out
}

// Outcome returns the outcome recorded for a rule id.
func (e Evaluation) Outcome(ruleID string) (Outcome, bool) {
	for _, r := range e.Results {
		if r.RuleID == ruleID {
			return r.Outcome, true
		}
	}
	return "", false
}

// Evaluator applies the technical and catalyst rule sets.
type Evaluator struct {
	cfg Config
}

// NewEvaluator creates an evaluator, filling missing weights with defaults.
func NewEvaluator(cfg Config) *Evaluator {
	weights := DefaultWeights()
	for id, w := range cfg.Weights {
		weights[id] = w
	}
	cfg.Weights = weights
	return &Evaluator{cfg: cfg}
}

// Evaluate runs every rule independently and aggregates the weighted scores.
func (e *Evaluator) Evaluate(in Input) Evaluation {
	eval := Evaluation{
		Symbol:      in.Symbol,
		HasPosition: in.Position != nil && in.Position.Qty != 0,
		Price:       in.Bar.Close,
		BarTs:       in.Bar.Ts,
		Vector:      in.Vector,
	}

	technical := []Result{
		e.emaCross(in),
		e.aboveVWAP(in),
		e.volumeSpike(in),
		e.notConsolidating(in),
		e.rsiMomentum(in),
	}
	catalyst := []Result{
		e.freshCatalyst(in),
		e.newsFlow(in),
		e.positiveNews(in),
	}

	var evaluated float64
	eval.Technical, evaluated = score(technical)
	if evaluated < e.cfg.MinEvaluatedWeight {
		eval.Technical = 0
		eval.Reasons = append(eval.Reasons, reasonInsufficientHistory)
	}
	eval.Catalyst, _ = score(catalyst)

	eval.Results = append(technical, catalyst...)
	for _, r := range eval.Results {
		if r.Outcome == OutcomeFired {
			eval.Reasons = append(eval.Reasons, r.RuleID)
		}
	}
	if eval.HasPosition {
		eval.Reasons = append(eval.Reasons, reasonPositionOpen)
	}
	return eval
}

// score returns fired weight over evaluated weight, and the evaluated weight.
func score(results []Result) (float64, float64) {
	var fired, evaluated, total float64
	for _, r := range results {
		total += r.Weight
		switch r.Outcome {
		case OutcomeFired:
			fired += r.Weight
			evaluated += r.Weight
		case OutcomeNotFired:
			evaluated += r.Weight
		}
	}
	if evaluated == 0 || total == 0 {
		return 0, 0
	}
	return clamp01(fired / evaluated), evaluated / total
}

func (e *Evaluator) result(id string, kind Kind, ok bool, fired bool) Result {
	r := Result{RuleID: id, Kind: kind, Weight: e.cfg.Weights[id]}
	switch {
	case !ok:
		r.Outcome = OutcomeNotEvaluated
	case fired:
		r.Outcome = OutcomeFired
	default:
		r.Outcome = OutcomeNotFired
	}
	return r
}

func (e *Evaluator) emaCross(in Input) Result {
	v := in.Vector
	ok := v.EMAFast.OK && v.EMASlow.OK
	fired := ok && v.EMAFast.V > v.EMASlow.V && v.Close > v.EMAFast.V
	return e.result(RuleEMACross, KindTechnical, ok, fired)
}

func (e *Evaluator) aboveVWAP(in Input) Result {
	v := in.Vector
	if !e.cfg.VWAPEnforce {
		return e.result(RuleAboveVWAP, KindTechnical, true, true)
	}
	return e.result(RuleAboveVWAP, KindTechnical, v.VWAP.OK, v.VWAP.OK && v.Close >= v.VWAP.V)
}

func (e *Evaluator) volumeSpike(in Input) Result {
	v := in.Vector.VolumeSpike
	return e.result(RuleVolumeSpike, KindTechnical, v.OK, v.OK && v.V >= e.cfg.VolumeSpikeMult)
}

func (e *Evaluator) notConsolidating(in Input) Result {
	v := in.Vector.Consolidation
	return e.result(RuleNotConsolidating, KindTechnical, v.OK, v.OK && v.V <= e.cfg.ConsolidationMax)
}

func (e *Evaluator) rsiMomentum(in Input) Result {
	v := in.Vector.RSI
	return e.result(RuleRSIMomentum, KindTechnical, v.OK, v.OK && v.V >= e.cfg.RSILow && v.V <= e.cfg.RSIHigh)
}

func (e *Evaluator) freshCatalyst(in Input) Result {
	fired := false
	for _, n := range in.News {
		if n.Fresh {
			fired = true
			break
		}
	}
	return e.result(RuleFreshCatalyst, KindCatalyst, true, fired)
}

func (e *Evaluator) newsFlow(in Input) Result {
	return e.result(RuleNewsFlow, KindCatalyst, true, len(in.News) >= e.cfg.NewsFlowMin)
}

func (e *Evaluator) positiveNews(in Input) Result {
	var sum float64
	var count int
	for _, n := range in.News {
		if n.Sentiment == nil {
			continue
		}
		sum += *n.Sentiment
		count++
	}
	if count == 0 {
		return e.result(RulePositiveNews, KindCatalyst, false, false)
	}
	return e.result(RulePositiveNews, KindCatalyst, true, sum/float64(count) >= e.cfg.PositiveNewsMin)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
