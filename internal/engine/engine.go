package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"intraday/internal/clock"
	"intraday/internal/errors"
	"intraday/internal/feed"
	"intraday/internal/indicator"
	"intraday/internal/lock"
	"intraday/internal/notify"
	"intraday/internal/obs"
	"intraday/internal/og"
	"intraday/internal/rank"
	"intraday/internal/risk"
	"intraday/internal/rule"
	"intraday/internal/schema"
	"intraday/internal/sentiment"
	"intraday/internal/state"
	"intraday/pkg/exception"
)

// Store is the persistence the engine needs. *store.Repository implements it.
type Store interface {
	state.Loader
	UpsertBars(ctx context.Context, bars []schema.Bar) error
	UpsertNews(ctx context.Context, news []schema.NewsEvent) error
	AppendProvenance(ctx context.Context, recs []schema.AIProvenance) error
	SaveSignals(ctx context.Context, runID string, cands []schema.Candidate) error
	StartCycle(ctx context.Context, run schema.CycleRun) error
	FinishCycle(ctx context.Context, run schema.CycleRun) error
	RecordMetrics(ctx context.Context, runID string, ts time.Time, values map[string]float64) error
	SaveFeatures(ctx context.Context, runID string, rows []schema.FeatureRow) error
	SaveWatchlist(ctx context.Context, run schema.WatchlistRun) error
	CommitSymbol(ctx context.Context, c schema.SymbolCommit) error
	SaveState(ctx context.Context, st schema.OrchestratorState) error
	Trades(ctx context.Context) ([]schema.Trade, error)
}

// Config is the strategy and execution setup of the engine.
type Config struct {
	Symbols         []string
	WatchlistSource string
	Indicator       indicator.Config
	Rules           rule.Config
	Rank            rank.Config
	Risk            risk.Config
	Execution       og.Policy
	Lookback        map[schema.Timeframe]int
	FreshWindow     time.Duration
	NewsWindow      time.Duration
	Concurrency     int
}

// DefaultConfig returns the standard strategy for symbols.
func DefaultConfig(symbols ...string) Config {
	return Config{
		Symbols:   symbols,
		Indicator: indicator.DefaultConfig(),
		Rules:     rule.DefaultConfig(),
		Rank:      rank.DefaultConfig(),
		Risk:      risk.DefaultConfig(),
		Execution: og.DefaultPolicy(),
		Lookback: map[schema.Timeframe]int{
			schema.Timeframe5m:  60,
			schema.Timeframe15m: 40,
		},
		FreshWindow: 6 * time.Hour,
		NewsWindow:  24 * time.Hour,
		Concurrency: 8,
	}
}

// Deps are the collaborators of the engine. Sentiment, Notifier and Metrics are optional.
type Deps struct {
	Feed      feed.Adapter
	Store     Store
	Lock      lock.Locker
	Clock     *clock.Clock
	Sentiment sentiment.Evaluator
	Notifier  notify.Notifier
	Metrics   *obs.Metrics
	Log       zerolog.Logger
}

// Engine runs cycles and the end-of-day flatten against owned state.
type Engine struct {
	cfg    Config
	deps   Deps
	rules  *rule.Evaluator
	ranker *rank.Ranker
	risk   *risk.Engine
	log    zerolog.Logger
}

// New validates the configuration and wires the pipeline stages.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Feed == nil || deps.Store == nil || deps.Lock == nil || deps.Clock == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "feed, store, lock and clock are required")
	}
	if err := cfg.Indicator.Validate(); err != nil {
		return nil, errors.Mark(err, exception.ErrConfig)
	}
	if err := cfg.Rank.Validate(); err != nil {
		return nil, errors.Mark(err, exception.ErrConfig)
	}
	if err := cfg.Risk.Validate(); err != nil {
		return nil, errors.Mark(err, exception.ErrConfig)
	}

	symbols := make([]string, 0, len(cfg.Symbols))
	seen := make(map[string]bool, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		s = schema.NormalizeSymbol(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		symbols = append(symbols, s)
	}
	cfg.Symbols = symbols
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.FreshWindow <= 0 {
		cfg.FreshWindow = 6 * time.Hour
	}
	if cfg.NewsWindow <= 0 {
		cfg.NewsWindow = 24 * time.Hour
	}
	if cfg.Execution.MinTick <= 0 {
		cfg.Execution.MinTick = cfg.Risk.MinTick
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}

	return &Engine{
		cfg:    cfg,
		deps:   deps,
		rules:  rule.NewEvaluator(cfg.Rules),
		ranker: rank.NewRanker(cfg.Rank),
		risk:   risk.NewEngine(cfg.Risk),
		log:    deps.Log.With().Str("module", "engine").Logger(),
	}, nil
}

// Symbols returns the normalized watchlist.
func (e *Engine) Symbols() []string {
	out := make([]string, len(e.cfg.Symbols))
	copy(out, e.cfg.Symbols)
	return out
}

func (e *Engine) lookback(tf schema.Timeframe) int {
	if n, ok := e.cfg.Lookback[tf]; ok && n > 0 {
		return n
	}
	return e.cfg.Indicator.WarmUp() * 2
}

// acquire takes the cycle lock and returns its release.
func (e *Engine) acquire(ctx context.Context) (func(), error) {
	release, err := e.deps.Lock.TryAcquire(ctx)
	if err != nil {
		return nil, err
	}
	return func() {
		if err := release(context.Background()); err != nil {
			e.log.Warn().Err(err).Msg("release cycle lock")
		}
	}, nil
}

// recover rebuilds the book for the session of now. A new session row is
// stored right away so symbol commits can apply their deltas to it.
func (e *Engine) recover(ctx context.Context, now time.Time) (*state.Book, error) {
	session := e.deps.Clock.SessionDate(now)
	res, err := state.Recover(ctx, e.deps.Store, state.RecoverConfig{
		SessionDate:   session,
		AccountEquity: e.cfg.Risk.AccountEquity,
	})
	if err != nil {
		return nil, err
	}
	if res.NewSession {
		if err := e.deps.Store.SaveState(ctx, res.Book.State()); err != nil {
			return nil, err
		}
		run := schema.WatchlistRun{RunDate: session, Source: e.cfg.WatchlistSource, Symbols: e.Symbols()}
		if err := e.deps.Store.SaveWatchlist(ctx, run); err != nil {
			e.log.Error().Err(err).Str("session", session).Msg("save watchlist")
		}
		e.log.Info().Str("session", session).Float64("equity", res.Book.State().Equity).Msg("new session")
	}
	if len(res.Repaired) > 0 {
		e.log.Warn().Strs("symbols", res.Repaired).Msg("positions repaired from open trades")
	}
	return res.Book, nil
}

// Snapshot reads the current session's book from storage.
func (e *Engine) Snapshot(ctx context.Context) (state.Snapshot, error) {
	st, ok, err := e.deps.Store.LoadState(ctx)
	if err != nil {
		return state.Snapshot{}, err
	}
	if !ok {
		return state.Snapshot{}, errors.Wrap(exception.ErrDataUnavailable, "no session row")
	}
	trades, err := e.deps.Store.Trades(ctx)
	if err != nil {
		return state.Snapshot{}, err
	}
	positions, err := e.deps.Store.Positions(ctx)
	if err != nil {
		return state.Snapshot{}, err
	}
	session := trades[:0]
	for _, t := range trades {
		if !t.Status.Terminal() || e.deps.Clock.SessionDate(t.OpenedAt) == st.SessionDate {
			session = append(session, t)
		}
	}
	book := state.NewBook(st)
	if err := book.Restore(state.Snapshot{SessionDate: st.SessionDate, State: st, Trades: session, Positions: positions}); err != nil {
		return state.Snapshot{}, err
	}
	return book.Snapshot(), nil
}

func (e *Engine) notify(ctx context.Context, ev notify.Event) {
	if err := e.deps.Notifier.Notify(ctx, ev); err != nil {
		e.log.Warn().Err(err).Str("kind", string(ev.Kind)).Msg("notification failed")
	}
}
