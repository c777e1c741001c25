package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"intraday/internal/errors"
	"intraday/internal/feed"
	"intraday/internal/indicator"
	"intraday/internal/notify"
	"intraday/internal/og"
	"intraday/internal/risk"
	"intraday/internal/rule"
	"intraday/internal/schema"
	"intraday/internal/sentiment"
	"intraday/internal/state"
	"intraday/pkg/exception"
)

const (
	runKindCycle   = "cycle"
	runKindFlatten = "flatten"
)

// Report is what one cycle did.
type Report struct {
	Run        schema.CycleRun
	Candidates []schema.Candidate
	Decisions  []schema.RiskDecision
	State      schema.OrchestratorState
	Flattened  bool
}

// analysis is the per-symbol output of the parallel stage.
type analysis struct {
	symbol     string
	bars       []schema.Bar
	vectors    []indicator.Vector
	news       []schema.NewsEvent
	eval       rule.Evaluation
	sentiment  *schema.SentimentResult
	provenance *schema.AIProvenance
	err        error
}

// change tracks what a cycle did to one symbol so a failed commit can be undone.
type change struct {
	checkpoint state.Checkpoint
	tradeIDs   []string
	created    []string
	fills      []schema.Fill
	realized   float64
	placed     int
	outcomes   []og.Outcome
}

// RunCycle runs one cycle for tf.
func (e *Engine) RunCycle(ctx context.Context, tf schema.Timeframe) error {
	_, err := e.Run(ctx, tf)
	return err
}

// Run executes the cycle steps in a fixed order under the cycle lock.
func (e *Engine) Run(ctx context.Context, tf schema.Timeframe) (Report, error) {
	if tf.Step() == 0 {
		return Report{}, errors.Wrapf(exception.ErrUnsupportedTimeframe, "%s", tf)
	}
	release, err := e.acquire(ctx)
	if err != nil {
		return Report{}, err
	}
	defer release()

	started := time.Now()
	report, err := e.cycle(ctx, tf)
	result := "ok"
	if err != nil {
		result = "error"
	}
	e.deps.Metrics.ObserveCycle(tf, result, time.Since(started))
	return report, err
}

func (e *Engine) cycle(ctx context.Context, tf schema.Timeframe) (Report, error) {
	now := e.deps.Clock.Now()
	book, err := e.recover(ctx, now)
	if err != nil {
		return Report{}, err
	}
	session := book.State().SessionDate

	run := schema.CycleRun{
		ID:        uuid.NewString(),
		Timeframe: tf,
		Kind:      runKindCycle,
		StartedAt: now,
		Watchlist: len(e.cfg.Symbols),
	}
	if err := e.deps.Store.StartCycle(ctx, run); err != nil {
		return Report{}, err
	}
	log := e.log.With().Str("run", run.ID).Str("timeframe", string(tf)).Logger()
	report := Report{}

	analyses, err := e.analyze(ctx, tf, now, book)
	if err != nil {
		run.Errors++
		run.Note("cancelled during analysis")
		return e.abort(run, report, err)
	}

	var (
		evals      []rule.Evaluation
		provenance []schema.AIProvenance
		sentiments = make(map[string]schema.SentimentResult)
		bySymbol   = make(map[string]*analysis, len(analyses))
	)
	for i := range analyses {
		a := &analyses[i]
		if a.err != nil {
			run.Errors++
			run.Note(fmt.Sprintf("%s: %v", a.symbol, a.err))
			e.deps.Metrics.IncDataUnavailable(a.symbol)
			log.Warn().Err(a.err).Str("symbol", a.symbol).Msg("symbol skipped")
			continue
		}
		bySymbol[a.symbol] = a
		evals = append(evals, a.eval)
		if a.sentiment != nil {
			sentiments[a.symbol] = *a.sentiment
		}
		if a.provenance != nil {
			provenance = append(provenance, *a.provenance)
		}
	}
	run.Evaluated = len(evals)

	if err := e.deps.Store.SaveFeatures(ctx, run.ID, featureRows(tf, bySymbol)); err != nil {
		run.Errors++
		run.Note("features not stored")
		log.Error().Err(err).Msg("save features")
	}

	if err := e.deps.Store.AppendProvenance(ctx, provenance); err != nil {
		run.Errors++
		run.Note("provenance not stored")
		log.Error().Err(err).Msg("append provenance")
	}
	candidates := e.ranker.Rank(evals, sentiments)
	report.Candidates = candidates
	e.deps.Metrics.ObserveSignals(candidates)
	if err := e.deps.Store.SaveSignals(ctx, run.ID, candidates); err != nil {
		run.Errors++
		run.Note("signals not stored")
		log.Error().Err(err).Msg("save signals")
	}
	if len(candidates) > 0 && candidates[0].Decision == schema.DecisionEnterLong {
		top := candidates[0]
		e.notify(ctx, notify.Event{
			Kind:    notify.KindTopCandidate,
			Symbol:  top.Symbol,
			Ts:      now,
			Message: fmt.Sprintf("top candidate %s composite %.3f", top.Symbol, top.Composite),
			Fields:  map[string]any{"composite": top.Composite, "timeframe": string(tf)},
		})
	}

	gw := og.NewGateway(og.GatewayConfig{Session: session, Policy: e.cfg.Execution})
	changes := make(map[string]*change)
	track := func(symbol string) *change {
		ch, ok := changes[symbol]
		if !ok {
			ch = &change{checkpoint: book.Checkpoint(symbol)}
			changes[symbol] = ch
		}
		return ch
	}

	// manage what is already open before looking for new entries
	for _, trade := range book.ActiveTrades() {
		if err := ctx.Err(); err != nil {
			return e.abort(run, report, err)
		}
		a, ok := bySymbol[trade.Symbol]
		if !ok {
			continue
		}
		events := barEvents(a, trade.LastBarTs)
		if len(events) == 0 {
			continue
		}
		out, err := gw.Advance(trade, events)
		if err != nil {
			run.Errors++
			log.Error().Err(err).Str("trade", trade.ID).Msg("advance trade")
			continue
		}
		if !out.Changed {
			continue
		}
		ch := track(trade.Symbol)
		delta, err := book.Record(out.Trade, out.Fills)
		if err != nil {
			run.Errors++
			log.Error().Err(err).Str("trade", trade.ID).Msg("record trade")
			continue
		}
		ch.realized += delta
		ch.fills = append(ch.fills, out.Fills...)
		ch.tradeIDs = appendOnce(ch.tradeIDs, trade.ID)
		ch.outcomes = append(ch.outcomes, out)
	}

	// no new entries once the flatten time has passed
	closing := e.deps.Clock.ShouldFlatten(now)
	placed := 0
	for _, c := range candidates {
		if closing || c.Decision != schema.DecisionEnterLong {
			continue
		}
		if err := ctx.Err(); err != nil {
			return e.abort(run, report, err)
		}
		view := e.view(book, c.Symbol, placed)
		began := time.Now()
		decision := e.risk.Evaluate(c, view)
		e.deps.Metrics.ObserveRiskEval(time.Since(began))
		report.Decisions = append(report.Decisions, decision)
		if !decision.Accepted() {
			e.deps.Metrics.IncRiskReason(decision.Reason)
			log.Debug().Str("symbol", c.Symbol).Str("reason", decision.Reason.String()).Msg("risk rejected")
			continue
		}

		tags := []string{"tf:" + string(tf), fmt.Sprintf("composite:%.3f", c.Composite)}
		out, err := gw.Place(decision, c.BarTs, c.Price, tags)
		if err != nil {
			run.Errors++
			log.Error().Err(err).Str("symbol", c.Symbol).Msg("place trade")
			continue
		}
		ch := track(c.Symbol)
		delta, err := book.Record(out.Trade, out.Fills)
		if err != nil {
			run.Errors++
			log.Error().Err(err).Str("symbol", c.Symbol).Msg("record trade")
			continue
		}
		ch.realized += delta
		ch.fills = append(ch.fills, out.Fills...)
		ch.tradeIDs = appendOnce(ch.tradeIDs, out.Trade.ID)
		ch.created = append(ch.created, out.Trade.ID)
		ch.placed++
		placed++
		ch.outcomes = append(ch.outcomes, out)
	}

	realized, placed := e.commit(ctx, book, session, changes, now, &run)
	run.Placed = placed

	st := e.settle(ctx, book, realized, placed, now)
	report.State = st
	if err := e.deps.Store.SaveState(ctx, st); err != nil {
		run.Errors++
		run.Note("session row not stored")
		return e.abort(run, report, err)
	}
	e.recordMetrics(ctx, run.ID, now, book, run)

	if closing && !st.Flattened {
		flattened, err := e.flattenBook(ctx, book, now, latestPrices(bySymbol))
		if err != nil {
			run.Errors++
			run.Note("flatten failed")
			log.Error().Err(err).Msg("end of day flatten")
		}
		report.Flattened = flattened
		report.State = book.State()
	}

	run.FinishedAt = e.deps.Clock.Now()
	report.Run = run
	if err := e.deps.Store.FinishCycle(ctx, run); err != nil {
		return report, err
	}
	log.Info().
		Int("evaluated", run.Evaluated).
		Int("placed", run.Placed).
		Int("errors", run.Errors).
		Int("trades", report.State.TradeCount).
		Float64("equity", report.State.Equity).
		Msg("cycle finished")
	return report, nil
}

// analyze runs the pure stages per symbol with bounded parallelism. Feed
// failures are recorded on the symbol; only cancellation fails the stage.
func (e *Engine) analyze(ctx context.Context, tf schema.Timeframe, now time.Time, book *state.Book) ([]analysis, error) {
	positions := make(map[string]schema.Position)
	for _, p := range book.Positions() {
		positions[p.Symbol] = p
	}
	since := now.Add(-time.Duration(e.lookback(tf)) * tf.Step())
	newsSince := now.Add(-e.cfg.NewsWindow)

	out := make([]analysis, len(e.cfg.Symbols))
	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)
	for i, symbol := range e.cfg.Symbols {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			a := analysis{symbol: symbol}
			defer func() { out[i] = a }()

			bars, err := e.deps.Feed.Bars(ctx, symbol, tf, since)
			if err == nil && len(bars) == 0 {
				err = errors.Wrapf(exception.ErrDataUnavailable, "no bars for %s", symbol)
			}
			if err != nil {
				a.err = errors.Mark(err, exception.ErrDataUnavailable)
				return nil
			}
			news, err := e.deps.Feed.News(ctx, symbol, newsSince)
			if err != nil {
				e.log.Warn().Err(err).Str("symbol", symbol).Msg("news unavailable")
				news = nil
			}
			a.bars = bars
			a.news = feed.MergeCatalysts(now, e.cfg.FreshWindow, news)

			if err := e.deps.Store.UpsertBars(ctx, a.bars); err != nil {
				e.log.Error().Err(err).Str("symbol", symbol).Msg("upsert bars")
			}
			if err := e.deps.Store.UpsertNews(ctx, a.news); err != nil {
				e.log.Error().Err(err).Str("symbol", symbol).Msg("upsert news")
			}

			a.vectors = indicator.Compute(a.bars, e.cfg.Indicator)
			latest, _ := indicator.Latest(a.vectors)
			in := rule.Input{
				Symbol: symbol,
				Bar:    a.bars[len(a.bars)-1],
				Vector: latest,
				News:   a.news,
			}
			if p, ok := positions[symbol]; ok {
				in.Position = &p
			}
			a.eval = e.rules.Evaluate(in)

			if e.deps.Sentiment != nil {
				res, err := e.deps.Sentiment.Evaluate(ctx, symbol, a.news)
				if err != nil {
					e.log.Warn().Err(err).Str("symbol", symbol).Msg("sentiment unavailable")
					return nil
				}
				a.sentiment = &res
				if rec, ok := sentiment.Provenance(res, a.news, now); ok {
					a.provenance = &rec
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// view is the risk engine's slice of the book. Entries placed earlier in this
// cycle count against the session limit before the row is updated.
func (e *Engine) view(book *state.Book, symbol string, placed int) risk.StateView {
	st := book.State()
	st.TradeCount += placed
	v := risk.StateView{
		OpenPositions: len(book.ActiveTrades()),
		State:         st,
	}
	if p, ok := book.Position(symbol); ok {
		v.Position = &p
	}
	_, v.HasActiveTrade = book.ActiveTrade(symbol)
	return v
}

// commit writes every touched symbol in its own transaction. A failed symbol
// is rolled back in the book and does not count towards the session; its
// transitions are never announced.
func (e *Engine) commit(ctx context.Context, book *state.Book, session string, changes map[string]*change, now time.Time, run *schema.CycleRun) (float64, int) {
	symbols := make([]string, 0, len(changes))
	for s := range changes {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	var realized float64
	var placed int
	for _, symbol := range symbols {
		ch := changes[symbol]
		trades := make([]schema.Trade, 0, len(ch.tradeIDs))
		for _, id := range ch.tradeIDs {
			if t, ok := book.Trade(id); ok {
				trades = append(trades, t)
			}
		}
		var pos *schema.Position
		if p, ok := book.Position(symbol); ok {
			pos = &p
		}

		err := ctx.Err()
		if err == nil {
			err = e.deps.Store.CommitSymbol(ctx, schema.SymbolCommit{
				Session:  session,
				Symbol:   symbol,
				Trades:   trades,
				Fills:    ch.fills,
				Position: pos,
				Placed:   ch.placed,
				Realized: ch.realized,
			})
		}
		if err != nil {
			book.Rollback(ch.checkpoint, ch.created...)
			run.Errors++
			run.Note(fmt.Sprintf("%s: %v", symbol, err))
			e.deps.Metrics.IncPersistenceFailure()
			e.log.Error().Err(err).Str("symbol", symbol).Msg("commit rolled back")
			continue
		}
		realized += ch.realized
		placed += ch.placed
		for _, out := range ch.outcomes {
			e.transition(ctx, out, now)
		}
	}
	return realized, placed
}

// settle folds the committed results into the session row exactly once.
func (e *Engine) settle(ctx context.Context, book *state.Book, realized float64, placed int, now time.Time) schema.OrchestratorState {
	st := book.State()
	st.Equity += realized
	st.TradeCount += placed
	wasHalted := st.Halted
	mark := st.Equity + book.Unrealized()
	if e.risk.Track(&st, mark) && !wasHalted {
		e.log.Warn().Float64("equity", mark).Float64("drawdown", risk.Drawdown(st)).Msg("session halted")
		e.notify(ctx, notify.Event{
			Kind:    notify.KindSessionHalted,
			Ts:      now,
			Message: fmt.Sprintf("drawdown halt at equity %.2f", mark),
			Fields:  map[string]any{"drawdown": risk.Drawdown(st)},
		})
	}
	book.SetState(st)
	e.deps.Metrics.SetSession(mark, risk.Drawdown(st), st.Halted, book.OpenPositions())
	return st
}

func (e *Engine) recordMetrics(ctx context.Context, runID string, now time.Time, book *state.Book, run schema.CycleRun) {
	st := book.State()
	values := map[string]float64{
		"equity":         st.Equity,
		"unrealized":     book.Unrealized(),
		"drawdown":       risk.Drawdown(st),
		"open_positions": float64(book.OpenPositions()),
		"trade_count":    float64(st.TradeCount),
		"evaluated":      float64(run.Evaluated),
		"placed":         float64(run.Placed),
	}
	if err := e.deps.Store.RecordMetrics(ctx, runID, now, values); err != nil {
		e.log.Error().Err(err).Msg("record metrics")
	}
}

// transition publishes metrics and notifications for a state machine step.
func (e *Engine) transition(ctx context.Context, out og.Outcome, now time.Time) {
	e.deps.Metrics.IncTransition(string(out.Kind))
	t := out.Trade
	switch out.Kind {
	case og.KindOpened:
		e.notify(ctx, notify.Event{
			Kind:    notify.KindTradeOpened,
			Symbol:  t.Symbol,
			Ts:      now,
			Message: fmt.Sprintf("opened %s %d @ %.2f stop %.2f", t.Symbol, t.Qty, t.EntryPrice, t.Stop),
			Fields:  map[string]any{"trade": t.ID, "qty": t.Qty, "entry": t.EntryPrice, "stop": t.Stop},
		})
	case og.KindStopped, og.KindTarget, og.KindFlattened:
		e.notify(ctx, notify.Event{
			Kind:    notify.KindTradeClosed,
			Symbol:  t.Symbol,
			Ts:      now,
			Message: fmt.Sprintf("closed %s (%s) pnl %.2f", t.Symbol, t.CloseReason, t.RealizedPnL),
			Fields:  map[string]any{"trade": t.ID, "reason": t.CloseReason, "pnl": t.RealizedPnL},
		})
	}
}

// abort closes the run record after a failure and returns err.
func (e *Engine) abort(run schema.CycleRun, report Report, err error) (Report, error) {
	run.FinishedAt = e.deps.Clock.Now()
	report.Run = run
	if ferr := e.deps.Store.FinishCycle(context.Background(), run); ferr != nil {
		e.log.Error().Err(ferr).Str("run", run.ID).Msg("finish cycle")
	}
	return report, err
}

// barEvents turns the bars newer than after into state machine events.
func barEvents(a *analysis, after time.Time) []og.BarEvent {
	var events []og.BarEvent
	for i, bar := range a.bars {
		if !bar.Ts.After(after) {
			continue
		}
		ev := og.BarEvent{Bar: bar}
		if i < len(a.vectors) {
			ev.EMASlow = a.vectors[i].EMASlow.Ptr()
		}
		events = append(events, ev)
	}
	return events
}

// featureRows keeps the latest indicator vector of every analysed symbol.
func featureRows(tf schema.Timeframe, bySymbol map[string]*analysis) []schema.FeatureRow {
	rows := make([]schema.FeatureRow, 0, len(bySymbol))
	for symbol, a := range bySymbol {
		v, ok := indicator.Latest(a.vectors)
		if !ok {
			continue
		}
		rows = append(rows, schema.FeatureRow{
			Symbol:        symbol,
			Timeframe:     tf,
			BarTs:         a.bars[len(a.bars)-1].Ts,
			Close:         v.Close,
			EMAFast:       v.EMAFast.Ptr(),
			EMASlow:       v.EMASlow.Ptr(),
			VWAP:          v.VWAP.Ptr(),
			ATR:           v.ATR.Ptr(),
			RSI:           v.RSI.Ptr(),
			VolumeSpike:   v.VolumeSpike.Ptr(),
			Consolidation: v.Consolidation.Ptr(),
			Gap:           v.Gap,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Symbol < rows[j].Symbol })
	return rows
}

func latestPrices(bySymbol map[string]*analysis) map[string]float64 {
	out := make(map[string]float64, len(bySymbol))
	for symbol, a := range bySymbol {
		if n := len(a.bars); n > 0 {
			out[symbol] = a.bars[n-1].Close
		}
	}
	return out
}

func appendOnce(ids []string, id string) []string {
	for _, v := range ids {
		if v == id {
			return ids
		}
	}
	return append(ids, id)
}
