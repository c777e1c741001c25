package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"intraday/internal/clock"
	"intraday/internal/engine"
	"intraday/internal/feed"
	"intraday/internal/lock"
	"intraday/internal/notify"
	"intraday/internal/obs"
	"intraday/internal/ops"
	"intraday/internal/scheduler"
	"intraday/internal/schema"
	"intraday/internal/sentiment"
	"intraday/internal/state"
	"intraday/internal/store"
	"intraday/pkg/conn"
)

// runtimeEngine lets a config reload swap the engine between jobs.
type runtimeEngine struct {
	v atomic.Value
}

func newRuntimeEngine(e *engine.Engine) *runtimeEngine {
	var r runtimeEngine
	r.v.Store(e)
	return &r
}

func (r *runtimeEngine) Load() *engine.Engine {
	return r.v.Load().(*engine.Engine)
}

func (r *runtimeEngine) Update(e *engine.Engine) {
	r.v.Store(e)
}

func (r *runtimeEngine) RunCycle(ctx context.Context, tf schema.Timeframe) error {
	return r.Load().RunCycle(ctx, tf)
}

func (r *runtimeEngine) Flatten(ctx context.Context) error {
	return r.Load().Flatten(ctx)
}

// app holds the long-lived collaborators shared by every engine build.
type app struct {
	deps    engine.Deps
	db      *conn.Client
	redis   *redis.Client
	amqp    *notify.AMQP
	metrics *http.Server
}

func main() {
	configPath := flag.String("config", "", "Path to YAML config (empty = defaults + env)")
	envPath := flag.String("env", ".env", "dotenv file loaded before the config")
	mode := flag.String("mode", "", "Run mode override: once or daemon")
	configReload := flag.Duration("config-reload-interval", 5*time.Second, "Config reload interval in daemon mode (0=disable)")
	pyroscopeAddr := flag.String("pyroscope", "", "Pyroscope server address (empty = profiling off)")
	flag.Parse()

	if err := ops.LoadEnv(*envPath); err != nil {
		logs.Errorf("env load failed: %+v", err)
		os.Exit(1)
	}
	loaded, err := loadConfig(*configPath)
	if err != nil {
		logs.Errorf("config load failed: %+v", err)
		os.Exit(1)
	}
	if *mode != "" {
		loaded.Mode = ops.RunMode(*mode)
	}

	log := obs.NewLogger(loaded.LogLevel, nil)
	profiler, err := obs.StartProfiler(obs.ProfilerConfig{Server: *pyroscopeAddr, Tags: map[string]string{"mode": string(loaded.Mode)}}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("pyroscope start failed")
	}
	if profiler != nil {
		defer func() {
			_ = profiler.Stop()
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, loaded, log)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer a.close(log)

	eng, err := engine.New(engineConfig(loaded), a.deps)
	if err != nil {
		log.Fatal().Err(err).Msg("engine build failed")
	}

	switch loaded.Mode {
	case ops.RunDaemon:
		err = runDaemon(ctx, a, eng, loaded, *configPath, *configReload, log)
	case ops.RunOnce:
		err = runOnce(ctx, eng, loaded, log)
	default:
		err = fmt.Errorf("unknown run mode %q", loaded.Mode)
	}
	if err != nil {
		log.Error().Err(err).Msg("trader stopped with error")
		a.close(log)
		os.Exit(1)
	}
}

func loadConfig(path string) (ops.Loaded, error) {
	if path == "" {
		return ops.Default()
	}
	return ops.Load(path)
}

func newApp(ctx context.Context, loaded ops.Loaded, log zerolog.Logger) (*app, error) {
	clk, err := clock.New(loaded.Clock)
	if err != nil {
		return nil, err
	}

	db, err := conn.New(conn.FromURL(loaded.DatabaseURL))
	if err != nil {
		return nil, err
	}
	repo := store.New(db.DB())
	if err := repo.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	a := &app{db: db}

	var locker lock.Locker = lock.NewLocal()
	if loaded.Features.RedisLock {
		a.redis = redis.NewClient(&redis.Options{Addr: loaded.Redis.Addr})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.close(log)
			return nil, fmt.Errorf("redis ping %s: %w", loaded.Redis.Addr, err)
		}
		locker = lock.NewRedis(a.redis, loaded.Redis.LockKey, loaded.Redis.LockTTL)
	}

	notifiers := notify.Multi{notify.NewLog(log)}
	if loaded.Features.Notifications && loaded.AMQP.URL != "" {
		a.amqp, err = notify.DialAMQP(loaded.AMQP.URL, loaded.AMQP.Exchange, log)
		if err != nil {
			a.close(log)
			return nil, err
		}
		notifiers = append(notifiers, a.amqp)
	}

	var source feed.Adapter
	source, err = feed.NewSim(loaded.Feed.Sim)
	if err == nil && loaded.Feed.Chaos.Enabled() {
		source, err = feed.NewChaos(source, loaded.Feed.Chaos)
		log.Warn().Interface("chaos", loaded.Feed.Chaos).Msg("feed fault injection enabled")
	}
	if err != nil {
		a.close(log)
		return nil, err
	}

	metrics := obs.NewMetrics()
	if loaded.MetricsAddr != "" {
		a.metrics = metrics.Serve(loaded.MetricsAddr)
		log.Info().Str("addr", loaded.MetricsAddr).Msg("metrics listening")
	}

	var gate sentiment.Evaluator
	if loaded.Sentiment.Enabled {
		gate = sentiment.NewGate(loaded.Sentiment)
	}

	a.deps = engine.Deps{
		Feed:      feed.NewGuard(source, loaded.Feed.Timeout),
		Store:     repo,
		Lock:      locker,
		Clock:     clk,
		Sentiment: gate,
		Notifier:  notifiers,
		Metrics:   metrics,
		Log:       log,
	}
	return a, nil
}

func (a *app) close(log zerolog.Logger) {
	if a.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = a.metrics.Shutdown(ctx)
		cancel()
		a.metrics = nil
	}
	if a.amqp != nil {
		if err := a.amqp.Close(); err != nil {
			log.Warn().Err(err).Msg("amqp close")
		}
		a.amqp = nil
	}
	if a.redis != nil {
		_ = a.redis.Close()
		a.redis = nil
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			log.Warn().Err(err).Msg("database close")
		}
		a.db = nil
	}
}

func engineConfig(loaded ops.Loaded) engine.Config {
	cfg := engine.DefaultConfig(loaded.Symbols...)
	cfg.WatchlistSource = loaded.WatchlistSource
	cfg.Indicator = loaded.Indicator
	cfg.Rules = loaded.Rules
	cfg.Rank = loaded.Rank
	cfg.Risk = loaded.Risk
	cfg.Execution = loaded.Execution
	for _, tf := range loaded.Timeframes {
		cfg.Lookback[tf] = loaded.Lookback(tf)
	}
	cfg.FreshWindow = loaded.Feed.FreshWindow
	cfg.Concurrency = loaded.Engine.Concurrency
	return cfg
}

// runOnce runs one cycle per configured timeframe and exits.
func runOnce(ctx context.Context, eng *engine.Engine, loaded ops.Loaded, log zerolog.Logger) error {
	var errs []error
	for _, tf := range loaded.Timeframes {
		report, err := eng.Run(ctx, tf)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s cycle: %w", tf, err))
			continue
		}
		for _, c := range report.Candidates {
			log.Info().
				Str("timeframe", string(tf)).
				Str("symbol", c.Symbol).
				Str("decision", string(c.Decision)).
				Float64("composite", c.Composite).
				Strs("reasons", c.Reasons).
				Msg("candidate")
		}
	}
	if loaded.Engine.SnapshotDir != "" {
		if err := writeSnapshot(ctx, eng, loaded.Engine.SnapshotDir); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func writeSnapshot(ctx context.Context, eng *engine.Engine, dir string) error {
	snap, err := eng.Snapshot(ctx)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return state.WriteSnapshot(filepath.Join(dir, "session-"+snap.SessionDate+".json"), snap)
}

// runDaemon schedules cycles until shutdown. Config changes rebuild the engine.
func runDaemon(ctx context.Context, a *app, eng *engine.Engine, loaded ops.Loaded, path string, reload time.Duration, log zerolog.Logger) error {
	current := newRuntimeEngine(eng)
	sched, err := scheduler.New(current, a.deps.Clock, loaded.Scheduler, log)
	if err != nil {
		return err
	}
	if path != "" && reload > 0 {
		go watchConfig(ctx, path, reload, log, func(next ops.Loaded) {
			rebuilt, err := engine.New(engineConfig(next), a.deps)
			if err != nil {
				log.Error().Err(err).Msg("config reload rejected")
				return
			}
			current.Update(rebuilt)
		})
	}

	sched.Start(ctx)
	logs.Infof("trader running, %d jobs, watchlist %d, next run %s", sched.Entries(), len(eng.Symbols()), sched.Next().Format(time.RFC3339))

	select {
	case <-sys.Shutdown():
	case <-ctx.Done():
	}
	logs.Info("shutting down, waiting for running jobs")
	stopCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	sched.Stop(stopCtx)
	return nil
}

func watchConfig(ctx context.Context, path string, interval time.Duration, log zerolog.Logger, update func(ops.Loaded)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastMod time.Time
	if info, err := os.Stat(path); err == nil {
		lastMod = info.ModTime()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(path)
			if err != nil {
				log.Warn().Err(err).Msg("config stat failed")
				continue
			}
			if !info.ModTime().After(lastMod) {
				continue
			}
			loaded, err := ops.Load(path)
			if err != nil {
				log.Error().Err(err).Msg("config reload failed")
				continue
			}
			update(loaded)
			lastMod = info.ModTime()
			log.Info().Str("path", path).Int("watchlist", len(loaded.Symbols)).Msg("config reloaded")
		}
	}
}
