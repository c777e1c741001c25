package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"intraday/internal/errors"
	"intraday/internal/notify"
	"intraday/internal/og"
	"intraday/internal/schema"
	"intraday/internal/state"
	"intraday/pkg/exception"
)

// Flatten closes every open trade once per session. A session that already
// flattened is left alone, and no cycle opens new trades after it.
func (e *Engine) Flatten(ctx context.Context) error {
	release, err := e.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	now := e.deps.Clock.Now()
	book, err := e.recover(ctx, now)
	if err != nil {
		return err
	}
	if book.State().Flattened {
		e.log.Debug().Str("session", book.State().SessionDate).Msg("session already flattened")
		return nil
	}

	run := schema.CycleRun{
		ID:        uuid.NewString(),
		Kind:      runKindFlatten,
		StartedAt: now,
		Watchlist: len(e.cfg.Symbols),
	}
	if err := e.deps.Store.StartCycle(ctx, run); err != nil {
		return err
	}

	prices := make(map[string]float64)
	for _, t := range book.ActiveTrades() {
		if p, ok := e.lastPrice(ctx, t.Symbol, now); ok {
			prices[t.Symbol] = p
		}
	}
	started := time.Now()
	_, ferr := e.flattenBook(ctx, book, now, prices)
	result := "ok"
	if ferr != nil {
		result = "error"
		run.Errors++
		run.Note(ferr.Error())
	}
	e.deps.Metrics.ObserveCycle(schema.Timeframe(runKindFlatten), result, time.Since(started))

	run.FinishedAt = e.deps.Clock.Now()
	if err := e.deps.Store.FinishCycle(ctx, run); err != nil {
		e.log.Error().Err(err).Str("run", run.ID).Msg("finish flatten run")
	}
	return ferr
}

// lastPrice is the latest close the feed has for symbol. Without one the
// state machine falls back to the trade's last mark.
func (e *Engine) lastPrice(ctx context.Context, symbol string, now time.Time) (float64, bool) {
	tf := schema.Timeframe5m
	bars, err := e.deps.Feed.Bars(ctx, symbol, tf, now.Add(-6*tf.Step()))
	if err != nil || len(bars) == 0 {
		e.log.Warn().Err(err).Str("symbol", symbol).Msg("no price for flatten, using last mark")
		return 0, false
	}
	return bars[len(bars)-1].Close, true
}

// flattenBook closes every active trade in book and commits each symbol. The
// session is only marked flattened when every symbol committed.
func (e *Engine) flattenBook(ctx context.Context, book *state.Book, now time.Time, prices map[string]float64) (bool, error) {
	session := book.State().SessionDate
	gw := og.NewGateway(og.GatewayConfig{Session: session, Policy: e.cfg.Execution})

	var (
		realized float64
		closed   int
		failed   []string
	)
	for _, trade := range book.ActiveTrades() {
		cp := book.Checkpoint(trade.Symbol)
		out, err := gw.Flatten(trade, now, prices[trade.Symbol])
		if err != nil {
			failed = append(failed, trade.Symbol)
			e.log.Error().Err(err).Str("trade", trade.ID).Msg("flatten trade")
			continue
		}
		delta, err := book.Record(out.Trade, out.Fills)
		if err == nil {
			var pos *schema.Position
			if p, ok := book.Position(trade.Symbol); ok {
				pos = &p
			}
			err = e.deps.Store.CommitSymbol(ctx, schema.SymbolCommit{
				Session:  session,
				Symbol:   trade.Symbol,
				Trades:   []schema.Trade{out.Trade},
				Fills:    out.Fills,
				Position: pos,
				Realized: delta,
			})
		}
		if err != nil {
			book.Rollback(cp)
			failed = append(failed, trade.Symbol)
			e.deps.Metrics.IncPersistenceFailure()
			e.log.Error().Err(err).Str("symbol", trade.Symbol).Msg("flatten rolled back")
			continue
		}
		realized += delta
		closed++
		e.transition(ctx, out, now)
	}

	st := book.State()
	st.Equity += realized
	st.Flattened = len(failed) == 0
	e.risk.Track(&st, st.Equity+book.Unrealized())
	book.SetState(st)
	if err := e.deps.Store.SaveState(ctx, st); err != nil {
		return false, err
	}
	if len(failed) > 0 {
		return false, errors.Wrapf(exception.ErrPersistence, "flatten incomplete for %v", failed)
	}

	e.log.Info().Int("closed", closed).Float64("equity", st.Equity).Msg("session flattened")
	e.notify(ctx, notify.Event{
		Kind:    notify.KindSessionFlattened,
		Ts:      now,
		Message: fmt.Sprintf("flattened %d trades, equity %.2f", closed, st.Equity),
		Fields:  map[string]any{"closed": closed, "equity": st.Equity},
	})
	return true, nil
}
