package schema

import (
	"time"

	"intraday/internal/errors"
	"intraday/pkg/exception"
)

// Timeframe is the bar interval of a series.
type Timeframe string

const (
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
)

// Step returns the wall-clock length of one bar.
func (tf Timeframe) Step() time.Duration {
	switch tf {
	case Timeframe5m:
		return 5 * time.Minute
	case Timeframe15m:
		return 15 * time.Minute
	default:
		return 0
	}
}

// ParseTimeframe validates a timeframe label.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if tf.Step() == 0 {
		return "", errors.Wrapf(exception.ErrUnsupportedTimeframe, "%q", s)
	}
	return tf, nil
}

// Bar is one OHLCV sample. Bars are keyed by (Symbol, Timeframe, Ts).
type Bar struct {
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`
	Ts        time.Time `json:"ts"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// NewsEvent is a catalyst headline for a symbol.
type NewsEvent struct {
	Symbol    string            `json:"symbol"`
	Source    string            `json:"source"`
	Headline  string            `json:"headline"`
	URL       string            `json:"url"`
	Ts        time.Time         `json:"ts"`
	Sentiment *float64          `json:"sentiment,omitempty"`
	Fresh     bool              `json:"fresh"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// Key returns the dedupe key of the event within its symbol.
func (n NewsEvent) Key() string {
	if n.Headline != "" {
		return n.Headline
	}
	return n.URL
}
