package rank

import (
	"fmt"
	"sort"

	"intraday/internal/rule"
	"intraday/internal/schema"
)

// Config is the fixed weighting policy.
//
// Sentiment in [-1, 1] is mapped to [0, 1] before weighting. When it is absent the
// composite is (wt*technical + wc*catalyst) / (wt + wc).
type Config struct {
	TechnicalWeight  float64 `yaml:"technical_weight" json:"technicalWeight"`
	CatalystWeight   float64 `yaml:"catalyst_weight" json:"catalystWeight"`
	SentimentWeight  float64 `yaml:"sentiment_weight" json:"sentimentWeight"`
	RegimeMultiplier float64 `yaml:"regime_multiplier" json:"regimeMultiplier"`
	MinComposite     float64 `yaml:"min_composite" json:"minComposite"`
	TopK             int     `yaml:"top_k" json:"topK"`
}

// DefaultConfig returns the standard weights.
func DefaultConfig() Config {
	return Config{
		TechnicalWeight:  0.5,
		CatalystWeight:   0.3,
		SentimentWeight:  0.2,
		RegimeMultiplier: 1.0,
		MinComposite:     0.5,
		TopK:             20,
	}
}

// Validate ensures the policy can produce a rank.
func (c Config) Validate() error {
	if c.TechnicalWeight < 0 || c.CatalystWeight < 0 || c.SentimentWeight < 0 {
		return fmt.Errorf("rank weights must be >= 0")
	}
	if c.TechnicalWeight+c.CatalystWeight <= 0 {
		return fmt.Errorf("technical + catalyst weight must be > 0")
	}
	if c.RegimeMultiplier <= 0 {
		return fmt.Errorf("regimeMultiplier must be > 0")
	}
	return nil
}

// Ranker merges rule scores and sentiment into ordered candidates.
type Ranker struct {
	cfg Config
}

// NewRanker creates a ranker.
func NewRanker(cfg Config) *Ranker {
	return &Ranker{cfg: cfg}
}

// Composite blends the available scores. sentiment may be nil.
func (r *Ranker) Composite(technical, catalyst float64, sentiment *float64) float64 {
	num := r.cfg.TechnicalWeight*technical + r.cfg.CatalystWeight*catalyst
	den := r.cfg.TechnicalWeight + r.cfg.CatalystWeight
	if sentiment != nil && r.cfg.SentimentWeight > 0 {
		num += r.cfg.SentimentWeight * (*sentiment + 1) / 2
		den += r.cfg.SentimentWeight
	}
	if den == 0 {
		return 0
	}
	return clamp01(num / den)
}

// Rank orders candidates by composite rank, highest first, ties by symbol.
func (r *Ranker) Rank(evals []rule.Evaluation, sentiments map[string]schema.SentimentResult) []schema.Candidate {
	out := make([]schema.Candidate, 0, len(evals))
	for _, eval := range evals {
		c := schema.Candidate{
			Symbol:    eval.Symbol,
			Technical: eval.Technical,
			Catalyst:  eval.Catalyst,
			Price:     eval.Price,
			ATR:       eval.Vector.ATR.Ptr(),
			EMASlow:   eval.Vector.EMASlow.Ptr(),
			BarTs:     eval.BarTs,
			Reasons:   append([]string(nil), eval.Reasons...),
		}
		res, ok := sentiments[eval.Symbol]
		if ok {
			c.Gate = res.Gate
			c.Reasons = append(c.Reasons, res.Reasons...)
		}
		if ok && res.Gate == schema.GateVeto {
			c.Composite = 0
			c.Decision = schema.DecisionSkipVeto
			out = append(out, c)
			continue
		}
		if ok && res.Usable() {
			score := res.Score
			c.Sentiment = &score
		}
		c.Composite = clamp01(r.Composite(c.Technical, c.Catalyst, c.Sentiment) * r.cfg.RegimeMultiplier)
		c.Decision = schema.DecisionObserve
		if c.Composite >= r.cfg.MinComposite && c.Composite > 0 {
			c.Decision = schema.DecisionEnterLong
		}
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Composite != out[j].Composite {
			return out[i].Composite > out[j].Composite
		}
		return out[i].Symbol < out[j].Symbol
	})
	if r.cfg.TopK > 0 && len(out) > r.cfg.TopK {
		out = out[:r.cfg.TopK]
	}
	return out
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
