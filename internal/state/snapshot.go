package state

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"

	"intraday/internal/schema"
)

// Snapshot captures the book at the end of a cycle.
type Snapshot struct {
	SessionDate string                   `json:"sessionDate"`
	State       schema.OrchestratorState `json:"state"`
	Trades      []schema.Trade           `json:"trades"`
	Positions   []schema.Position        `json:"positions"`
}

// Snapshot builds a deterministic snapshot of the book.
func (b *Book) Snapshot() Snapshot {
	return Snapshot{
		SessionDate: b.state.SessionDate,
		State:       b.state,
		Trades:      b.Trades(),
		Positions:   b.Positions(),
	}
}

// Restore replaces the book content with a snapshot.
func (b *Book) Restore(snap Snapshot) error {
	next := NewBook(snap.State)
	for _, t := range snap.Trades {
		if err := next.Put(t); err != nil {
			return err
		}
	}
	for _, p := range snap.Positions {
		if p.Qty != 0 {
			next.positions[p.Symbol] = p
		}
	}
	*b = *next
	return nil
}

// WriteSnapshot writes a snapshot to disk as JSON.
func WriteSnapshot(path string, snapshot Snapshot) error {
	data, err := sonic.ConfigStd.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadSnapshot loads a snapshot from disk.
func ReadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := sonic.ConfigStd.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

const priceEpsilon = 1e-9

// CompareSnapshots checks if two snapshots describe the same end state.
func CompareSnapshots(expected, actual Snapshot) error {
	if expected.SessionDate != actual.SessionDate {
		return fmt.Errorf("snapshot session mismatch: expected=%s actual=%s", expected.SessionDate, actual.SessionDate)
	}
	if expected.State.TradeCount != actual.State.TradeCount || expected.State.Halted != actual.State.Halted || expected.State.Flattened != actual.State.Flattened {
		return fmt.Errorf("snapshot state mismatch: expected=%+v actual=%+v", expected.State, actual.State)
	}
	if !near(expected.State.Equity, actual.State.Equity) || !near(expected.State.DDLowEquity, actual.State.DDLowEquity) {
		return fmt.Errorf("snapshot equity mismatch: expected=%v/%v actual=%v/%v",
			expected.State.Equity, expected.State.DDLowEquity, actual.State.Equity, actual.State.DDLowEquity)
	}

	if len(expected.Trades) != len(actual.Trades) {
		return fmt.Errorf("snapshot trade length mismatch: expected=%d actual=%d", len(expected.Trades), len(actual.Trades))
	}
	expectedTrades := make(map[string]schema.Trade, len(expected.Trades))
	for _, t := range expected.Trades {
		expectedTrades[t.ID] = t
	}
	for _, t := range actual.Trades {
		want, ok := expectedTrades[t.ID]
		if !ok {
			return fmt.Errorf("snapshot missing trade: %s (%s)", t.ID, t.Symbol)
		}
		if want.Status != t.Status || want.Qty != t.Qty {
			return fmt.Errorf("snapshot trade mismatch: id=%s expected=%s/%d actual=%s/%d", t.ID, want.Status, want.Qty, t.Status, t.Qty)
		}
		if !near(want.EntryPrice, t.EntryPrice) || !near(want.ExitPrice, t.ExitPrice) || !near(want.RealizedPnL, t.RealizedPnL) {
			return fmt.Errorf("snapshot trade price mismatch: id=%s", t.ID)
		}
	}

	if len(expected.Positions) != len(actual.Positions) {
		return fmt.Errorf("snapshot length mismatch: expected=%d actual=%d", len(expected.Positions), len(actual.Positions))
	}
	expectedMap := make(map[string]int64, len(expected.Positions))
	for _, entry := range expected.Positions {
		expectedMap[entry.Symbol] = entry.Qty
	}
	for _, entry := range actual.Positions {
		want, ok := expectedMap[entry.Symbol]
		if !ok {
			return fmt.Errorf("snapshot missing symbol: %s", entry.Symbol)
		}
		if want != entry.Qty {
			return fmt.Errorf("snapshot qty mismatch: symbol=%s expected=%d actual=%d", entry.Symbol, want, entry.Qty)
		}
	}
	return nil
}

func near(a, b float64) bool {
	return math.Abs(a-b) <= priceEpsilon
}
