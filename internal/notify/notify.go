package notify

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/rs/zerolog"
)

// Kind labels a notification.
type Kind string

const (
	KindTopCandidate     Kind = "top_candidate"
	KindTradeOpened      Kind = "trade_opened"
	KindTradeClosed      Kind = "trade_closed"
	KindSessionHalted    Kind = "session_halted"
	KindSessionFlattened Kind = "session_flattened"
)

// Event is one operator-facing message.
type Event struct {
	Kind    Kind           `json:"kind"`
	Symbol  string         `json:"symbol,omitempty"`
	Ts      time.Time      `json:"ts"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// Notifier delivers events. Delivery failures never stop a cycle.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Log writes events to a zerolog logger.
type Log struct {
	log zerolog.Logger
}

// NewLog creates a logging notifier.
func NewLog(log zerolog.Logger) *Log {
	return &Log{log: log}
}

// Notify logs the event at info level.
func (l *Log) Notify(_ context.Context, ev Event) error {
	e := l.log.Info().Str("kind", string(ev.Kind)).Time("ts", ev.Ts)
	if ev.Symbol != "" {
		e = e.Str("symbol", ev.Symbol)
	}
	if len(ev.Fields) > 0 {
		e = e.Fields(ev.Fields)
	}
	e.Msg(ev.Message)
	return nil
}

// Multi sends every event to all notifiers and joins their errors.
type Multi []Notifier

// Notify fans out the event.
func (m Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// Nop discards events.
type Nop struct{}

// Notify does nothing.
func (Nop) Notify(context.Context, Event) error { return nil }
