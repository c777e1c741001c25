package schema

import "time"

// CycleRun is the audit record of one orchestrator cycle.
type CycleRun struct {
	ID         string    `json:"id"`
	Timeframe  Timeframe `json:"timeframe"`
	Kind       string    `json:"kind"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Watchlist  int       `json:"watchlist"`
	Evaluated  int       `json:"evaluated"`
	Placed     int       `json:"placed"`
	Errors     int       `json:"errors"`
	Notes      []string  `json:"notes,omitempty"`
}

// Note appends a free-form remark to the run.
func (r *CycleRun) Note(msg string) {
	r.Notes = append(r.Notes, msg)
}

// SymbolCommit is one symbol's share of a cycle, stored atomically together
// with its effect on the session row.
type SymbolCommit struct {
	Session  string
	Symbol   string
	Trades   []Trade
	Fills    []Fill
	Position *Position
	Placed   int
	Realized float64
}
