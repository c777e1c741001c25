package indicator

import (
	"fmt"
	"math"

	"intraday/internal/schema"
)

// Value is one indicator reading. OK is false until the warm-up window is met.
type Value struct {
	V  float64 `json:"v"`
	OK bool    `json:"ok"`
}

func valid(v float64) Value {
	return Value{V: v, OK: true}
}

// Ptr returns a pointer to the reading, or nil when it is not available.
func (v Value) Ptr() *float64 {
	if !v.OK {
		return nil
	}
	out := v.V
	return &out
}

// Config holds the window lengths of every indicator.
//
// EMA uses alpha = 2/(n+1) seeded with the first close and is reported from index n-1.
// ATR is the simple mean of the last n true ranges. RSI uses Wilder smoothing and is
// reported from index n. The volume baseline is the mean of the n bars before the
// current one. Consolidation is (max high - min low) / mean close over n bars.
type Config struct {
	EMAFast             int `yaml:"ema_fast" json:"emaFast"`
	EMASlow             int `yaml:"ema_slow" json:"emaSlow"`
	ATRWindow           int `yaml:"atr_window" json:"atrWindow"`
	RSIWindow           int `yaml:"rsi_window" json:"rsiWindow"`
	VolumeWindow        int `yaml:"volume_window" json:"volumeWindow"`
	ConsolidationWindow int `yaml:"consolidation_window" json:"consolidationWindow"`
}

// DefaultConfig returns the standard windows.
func DefaultConfig() Config {
	return Config{
		EMAFast:             9,
		EMASlow:             21,
		ATRWindow:           14,
		RSIWindow:           14,
		VolumeWindow:        20,
		ConsolidationWindow: 20,
	}
}

// Validate ensures every window is usable.
func (c Config) Validate() error {
	if c.EMAFast <= 0 || c.EMASlow <= 0 {
		return fmt.Errorf("ema windows must be > 0")
	}
	if c.EMAFast >= c.EMASlow {
		return fmt.Errorf("emaFast must be < emaSlow")
	}
	if c.ATRWindow <= 0 || c.RSIWindow <= 0 {
		return fmt.Errorf("atr and rsi windows must be > 0")
	}
	if c.VolumeWindow <= 0 || c.ConsolidationWindow <= 0 {
		return fmt.Errorf("volume and consolidation windows must be > 0")
	}
	return nil
}

// WarmUp is the number of bars needed before every indicator is available.
func (c Config) WarmUp() int {
	n := c.EMASlow
	for _, w := range []int{c.ATRWindow, c.RSIWindow + 1, c.VolumeWindow + 1, c.ConsolidationWindow} {
		if w > n {
			n = w
		}
	}
	return n
}

// Vector is the indicator output for one bar index.
type Vector struct {
	Ts             int64   `json:"ts"`
	Close          float64 `json:"close"`
	EMAFast        Value   `json:"emaFast"`
	EMASlow        Value   `json:"emaSlow"`
	VWAP           Value   `json:"vwap"`
	ATR            Value   `json:"atr"`
	RSI            Value   `json:"rsi"`
	VolumeBaseline Value   `json:"volumeBaseline"`
	VolumeSpike    Value   `json:"volumeSpike"`
	Consolidation  Value   `json:"consolidation"`

	// Gap is set when the previous bar is more than one step away.
	Gap bool `json:"gap"`
}

// Compute derives one vector per bar. Bars must be ordered by timestamp.
// Warm-up is per indicator: a series shorter than WarmUp can still carry
// valid VWAP or fast EMA readings while the longer windows stay unset.
func Compute(bars []schema.Bar, cfg Config) []Vector {
	out := make([]Vector, len(bars))
	if len(bars) == 0 {
		return out
	}
	closes := make([]float64, len(bars))
	for i, bar := range bars {
		closes[i] = bar.Close
		out[i].Ts = bar.Ts.UnixNano()
		out[i].Close = bar.Close
	}

	fast := EMA(closes, cfg.EMAFast)
	slow := EMA(closes, cfg.EMASlow)
	vwap := VWAP(bars)
	atr := ATR(bars, cfg.ATRWindow)
	rsi := RSI(closes, cfg.RSIWindow)
	baseline, spike := VolumeSpike(bars, cfg.VolumeWindow)
	cons := Consolidation(bars, cfg.ConsolidationWindow)

	step := bars[0].Timeframe.Step()
	for i := range out {
		out[i].EMAFast = fast[i]
		out[i].EMASlow = slow[i]
		out[i].VWAP = vwap[i]
		out[i].ATR = atr[i]
		out[i].RSI = rsi[i]
		out[i].VolumeBaseline = baseline[i]
		out[i].VolumeSpike = spike[i]
		out[i].Consolidation = cons[i]
		if i > 0 && step > 0 && bars[i].Ts.Sub(bars[i-1].Ts) > step {
			out[i].Gap = true
		}
	}
	return out
}

// Latest returns the last vector of a series.
func Latest(vectors []Vector) (Vector, bool) {
	if len(vectors) == 0 {
		return Vector{}, false
	}
	return vectors[len(vectors)-1], true
}

// EMA computes an exponential moving average with alpha = 2/(n+1).
func EMA(values []float64, n int) []Value {
	out := make([]Value, len(values))
	if n <= 0 || len(values) == 0 {
		return out
	}
	alpha := 2.0 / float64(n+1)
	ema := values[0]
	for i, v := range values {
		if i > 0 {
			ema = alpha*v + (1-alpha)*ema
		}
		if i >= n-1 {
			out[i] = valid(ema)
		}
	}
	return out
}

// VWAP computes the cumulative volume-weighted typical price.
func VWAP(bars []schema.Bar) []Value {
	out := make([]Value, len(bars))
	var pv, vol float64
	for i, bar := range bars {
		typical := (bar.High + bar.Low + bar.Close) / 3
		pv += typical * bar.Volume
		vol += bar.Volume
		if vol > 0 {
			out[i] = valid(pv / vol)
		}
	}
	return out
}

// TrueRange returns the true range of each bar. The first bar uses high-low.
func TrueRange(bars []schema.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, bar := range bars {
		tr := bar.High - bar.Low
		if i > 0 {
			prev := bars[i-1].Close
			tr = math.Max(tr, math.Max(math.Abs(bar.High-prev), math.Abs(bar.Low-prev)))
		}
		out[i] = tr
	}
	return out
}

// ATR computes the simple mean of the last n true ranges.
func ATR(bars []schema.Bar, n int) []Value {
	out := make([]Value, len(bars))
	if n <= 0 {
		return out
	}
	tr := TrueRange(bars)
	var sum float64
	for i := range tr {
		sum += tr[i]
		if i >= n {
			sum -= tr[i-n]
		}
		if i >= n-1 {
			out[i] = valid(sum / float64(n))
		}
	}
	return out
}

// RSI computes Wilder's relative strength index.
func RSI(closes []float64, n int) []Value {
	out := make([]Value, len(closes))
	if n <= 0 || len(closes) <= n {
		return out
	}
	var gain, loss float64
	for i := 1; i <= n; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gain += delta
		} else {
			loss -= delta
		}
	}
	avgGain := gain / float64(n)
	avgLoss := loss / float64(n)
	out[n] = valid(rsiFrom(avgGain, avgLoss))
	for i := n + 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		up, down := 0.0, 0.0
		if delta > 0 {
			up = delta
		} else {
			down = -delta
		}
		avgGain = (avgGain*float64(n-1) + up) / float64(n)
		avgLoss = (avgLoss*float64(n-1) + down) / float64(n)
		out[i] = valid(rsiFrom(avgGain, avgLoss))
	}
	return out
}

func rsiFrom(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// VolumeSpike returns the trailing volume baseline and the ratio of volume to it.
func VolumeSpike(bars []schema.Bar, n int) (baseline []Value, spike []Value) {
	baseline = make([]Value, len(bars))
	spike = make([]Value, len(bars))
	if n <= 0 {
		return baseline, spike
	}
	var sum float64
	for i, bar := range bars {
		if i >= n {
			mean := sum / float64(n)
			baseline[i] = valid(mean)
			if mean > 0 {
				spike[i] = valid(bar.Volume / mean)
			}
			sum -= bars[i-n].Volume
		}
		sum += bar.Volume
	}
	return baseline, spike
}

// Consolidation computes the relative price range over the last n bars.
func Consolidation(bars []schema.Bar, n int) []Value {
	out := make([]Value, len(bars))
	if n <= 0 {
		return out
	}
	for i := n - 1; i < len(bars); i++ {
		window := bars[i-n+1 : i+1]
		high := window[0].High
		low := window[0].Low
		var closes float64
		for _, bar := range window {
			high = math.Max(high, bar.High)
			low = math.Min(low, bar.Low)
			closes += bar.Close
		}
		mean := closes / float64(n)
		if mean > 0 {
			out[i] = valid((high - low) / mean)
		}
	}
	return out
}
