package rank

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intraday/internal/indicator"
	"intraday/internal/rule"
	"intraday/internal/schema"
)

func eval(symbol string, technical, catalyst float64) rule.Evaluation {
	return rule.Evaluation{
		Symbol:    symbol,
		Technical: technical,
		Catalyst:  catalyst,
		Price:     10,
		Vector: indicator.Vector{
			ATR:     indicator.Value{V: 0.2, OK: true},
			EMASlow: indicator.Value{V: 9.8, OK: true},
		},
	}
}

func TestComposite(t *testing.T) {
	r := NewRanker(DefaultConfig())
	pos, neg := 0.5, -1.0

	cases := []struct {
		desc      string
		technical float64
		catalyst  float64
		sentiment *float64
		want      float64
	}{
		{desc: "missing sentiment renormalizes", technical: 0.8, catalyst: 0.6, want: 0.725},
		{desc: "positive sentiment", technical: 0.8, catalyst: 0.6, sentiment: &pos, want: 0.4 + 0.18 + 0.2*0.75},
		{desc: "most negative sentiment", technical: 1, catalyst: 1, sentiment: &neg, want: 0.8},
		{desc: "all zero", want: 0},
	}
	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			assert.InDelta(t, tc.want, r.Composite(tc.technical, tc.catalyst, tc.sentiment), 1e-12)
		})
	}
}

func TestRankOrdersAndDecides(t *testing.T) {
	r := NewRanker(DefaultConfig())
	evals := []rule.Evaluation{
		eval("CCC", 0.2, 0.1),
		eval("BBB", 0.8, 0.6),
		eval("AAA", 0.8, 0.6),
		eval("DDD", 1.0, 1.0),
	}
	sentiments := map[string]schema.SentimentResult{
		"DDD": {Symbol: "DDD", Score: -0.9, Gate: schema.GateVeto, Reasons: []string{"strong negative sentiment"}},
		"CCC": {Symbol: "CCC", Gate: schema.GateDecline},
	}

	out := r.Rank(evals, sentiments)
	require.Len(t, out, 4)

	got := make([]string, len(out))
	for i, c := range out {
		got[i] = c.Symbol
	}
	assert.Equal(t, []string{"AAA", "BBB", "CCC", "DDD"}, got)

	assert.InDelta(t, 0.725, out[0].Composite, 1e-12)
	assert.Equal(t, schema.DecisionEnterLong, out[0].Decision)
	assert.Nil(t, out[0].Sentiment)
	require.NotNil(t, out[0].ATR)
	assert.Equal(t, 0.2, *out[0].ATR)

	assert.Equal(t, schema.DecisionObserve, out[2].Decision)
	assert.Equal(t, schema.GateDecline, out[2].Gate)

	assert.Equal(t, 0.0, out[3].Composite)
	assert.Equal(t, schema.DecisionSkipVeto, out[3].Decision)
	assert.Contains(t, out[3].Reasons, "strong negative sentiment")
}

func TestRankSoftVetoKeepsSentiment(t *testing.T) {
	r := NewRanker(DefaultConfig())
	out := r.Rank([]rule.Evaluation{eval("AAA", 0.8, 0.6)}, map[string]schema.SentimentResult{
		"AAA": {Symbol: "AAA", Score: -0.5, Gate: schema.GateSoftVeto},
	})
	require.Len(t, out, 1)
	require.NotNil(t, out[0].Sentiment)
	assert.InDelta(t, 0.4+0.18+0.2*0.25, out[0].Composite, 1e-12)
}

func TestRankRegimeMultiplierAndTopK(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RegimeMultiplier = 0.5
	cfg.TopK = 3
	r := NewRanker(cfg)

	evals := make([]rule.Evaluation, 0, 10)
	for i := 0; i < 10; i++ {
		evals = append(evals, eval(fmt.Sprintf("S%02d", i), float64(i)/10, 0))
	}
	out := r.Rank(evals, nil)
	require.Len(t, out, 3)
	assert.Equal(t, "S09", out[0].Symbol)
	// 0.9 technical alone is 0.5625, halved by the regime.
	assert.InDelta(t, 0.28125, out[0].Composite, 1e-12)
	assert.Equal(t, schema.DecisionObserve, out[0].Decision)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.TechnicalWeight, cfg.CatalystWeight = 0, 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.SentimentWeight = -1
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.RegimeMultiplier = 0
	assert.Error(t, cfg.Validate())
}
