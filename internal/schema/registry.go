package schema

import (
	"strings"

	"intraday/internal/errors"
	"intraday/pkg/exception"
)

// Watchlist keeps normalized symbols in first-seen order.
type Watchlist struct {
	symbols  []string
	bySymbol map[string]int
}

func NewWatchlist() *Watchlist {
	return &Watchlist{
		bySymbol: make(map[string]int),
	}
}

// NormalizeSymbol upper-cases and trims a ticker.
func NormalizeSymbol(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// Add registers a symbol and returns its rank (1-based insertion order) and
// whether it was new.
func (w *Watchlist) Add(name string) (int, bool, error) {
	symbol := NormalizeSymbol(name)
	if symbol == "" {
		return 0, false, errors.Wrap(exception.ErrInvalidArgument, "symbol name is empty")
	}
	if strings.ContainsAny(symbol, " \t,;") {
		return 0, false, errors.Wrapf(exception.ErrInvalidArgument, "symbol name is invalid: %q", name)
	}
	if rank, ok := w.bySymbol[symbol]; ok {
		return rank, false, nil
	}
	w.symbols = append(w.symbols, symbol)
	rank := len(w.symbols)
	w.bySymbol[symbol] = rank
	return rank, true, nil
}

// Symbols returns the symbols in insertion order.
func (w *Watchlist) Symbols() []string {
	if w == nil {
		return nil
	}
	out := make([]string, len(w.symbols))
	copy(out, w.symbols)
	return out
}
