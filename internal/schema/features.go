package schema

import "time"

// FeatureRow is the latest indicator reading of a symbol in one cycle. Nil
// fields were still warming up.
type FeatureRow struct {
	Symbol        string    `json:"symbol"`
	Timeframe     Timeframe `json:"timeframe"`
	BarTs         time.Time `json:"barTs"`
	Close         float64   `json:"close"`
	EMAFast       *float64  `json:"emaFast,omitempty"`
	EMASlow       *float64  `json:"emaSlow,omitempty"`
	VWAP          *float64  `json:"vwap,omitempty"`
	ATR           *float64  `json:"atr,omitempty"`
	RSI           *float64  `json:"rsi,omitempty"`
	VolumeSpike   *float64  `json:"volumeSpike,omitempty"`
	Consolidation *float64  `json:"consolidation,omitempty"`
	Gap           bool      `json:"gap"`
}

// WatchlistRun is the watchlist a session traded, in rank order.
type WatchlistRun struct {
	RunDate string   `json:"runDate"`
	Source  string   `json:"source"`
	Symbols []string `json:"symbols"`
}
