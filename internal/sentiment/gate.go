package sentiment

import (
	"context"
	"strings"
	"time"

	"intraday/internal/schema"
)

const (
	ModelLexicon = "lexicon-v1"

	reasonDisabled     = "disabled"
	reasonNoNews       = "no news"
	reasonStrongNeg    = "strong negative sentiment"
	reasonSoftNeg      = "soft negative sentiment"
	reasonNeutralOrPos = "neutral or positive"
)

var (
	positiveLexicon = []string{"beat", "surge", "strong", "record", "upgrade", "positive"}
	negativeLexicon = []string{"miss", "drop", "weak", "downgrade", "negative", "lawsuit"}
)

// Evaluator scores recent news for a symbol.
type Evaluator interface {
	Evaluate(ctx context.Context, symbol string, news []schema.NewsEvent) (schema.SentimentResult, error)
}

// Config controls the gate thresholds.
type Config struct {
	Enabled       bool    `yaml:"enabled" json:"enabled"`
	SoftVeto      bool    `yaml:"soft_veto" json:"softVeto"`
	VetoBelow     float64 `yaml:"veto_below" json:"vetoBelow"`
	SoftVetoBelow float64 `yaml:"soft_veto_below" json:"softVetoBelow"`
	Model         string  `yaml:"model" json:"model"`
}

// DefaultConfig returns the standard gate.
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		SoftVeto:      true,
		VetoBelow:     -0.7,
		SoftVetoBelow: -0.4,
		Model:         ModelLexicon,
	}
}

// Gate is the lexicon-based sentiment gate.
type Gate struct {
	cfg Config
}

// NewGate creates a gate.
func NewGate(cfg Config) *Gate {
	if cfg.Model == "" {
		cfg.Model = ModelLexicon
	}
	return &Gate{cfg: cfg}
}

// Evaluate scores the headlines and applies the gate thresholds.
func (g *Gate) Evaluate(ctx context.Context, symbol string, news []schema.NewsEvent) (schema.SentimentResult, error) {
	if err := ctx.Err(); err != nil {
		return schema.SentimentResult{}, err
	}
	res := schema.SentimentResult{Symbol: symbol, Model: g.cfg.Model}
	if !g.cfg.Enabled {
		res.Gate = schema.GateDecline
		res.Reasons = []string{reasonDisabled}
		return res, nil
	}
	headlines := Headlines(news)
	if len(headlines) == 0 {
		res.Gate = schema.GateDecline
		res.Reasons = []string{reasonNoNews}
		return res, nil
	}

	res.Score = Score(headlines)
	switch {
	case res.Score <= g.cfg.VetoBelow:
		res.Gate = schema.GateVeto
		res.Reasons = []string{reasonStrongNeg}
	case g.cfg.SoftVeto && res.Score <= g.cfg.SoftVetoBelow:
		res.Gate = schema.GateSoftVeto
		res.Reasons = []string{reasonSoftNeg}
	default:
		res.Gate = schema.GateAccept
		res.Reasons = []string{reasonNeutralOrPos}
	}
	return res, nil
}

// Score returns the lexicon score in [-1, 1]: the mean token score of headlines
// that matched anything, clamped to ±3 and divided by 3.
func Score(headlines []string) float64 {
	var total float64
	var count int
	for _, h := range headlines {
		text := strings.ToLower(h)
		word := 0
		for _, token := range positiveLexicon {
			if strings.Contains(text, token) {
				word++
			}
		}
		for _, token := range negativeLexicon {
			if strings.Contains(text, token) {
				word--
			}
		}
		if word != 0 {
			total += float64(word)
			count++
		}
	}
	if count == 0 {
		return 0
	}
	mean := total / float64(count)
	if mean > 3 {
		mean = 3
	}
	if mean < -3 {
		mean = -3
	}
	return mean / 3
}

// Headlines returns the non-empty headlines of news items.
func Headlines(news []schema.NewsEvent) []string {
	out := make([]string, 0, len(news))
	for _, n := range news {
		if n.Headline != "" {
			out = append(out, n.Headline)
		}
	}
	return out
}

// Provenance builds the audit record of an evaluation. Declined results with no
// headlines are not recorded.
func Provenance(res schema.SentimentResult, news []schema.NewsEvent, runTs time.Time) (schema.AIProvenance, bool) {
	headlines := Headlines(news)
	if len(headlines) == 0 {
		return schema.AIProvenance{}, false
	}
	reasons := make([]string, len(res.Reasons))
	copy(reasons, res.Reasons)
	return schema.AIProvenance{
		Symbol:  res.Symbol,
		RunTs:   runTs,
		RawText: headlines,
		Model:   res.Model,
		Score:   res.Score,
		Gate:    res.Gate,
		Reasons: reasons,
	}, true
}
