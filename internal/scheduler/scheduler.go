package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"intraday/internal/clock"
	"intraday/internal/errors"
	"intraday/internal/schema"
	"intraday/pkg/exception"
)

// Runner is the work the scheduler triggers.
type Runner interface {
	RunCycle(ctx context.Context, tf schema.Timeframe) error
	Flatten(ctx context.Context) error
}

// Config holds cron specs in the exchange timezone. An empty spec disables the job.
type Config struct {
	Cycle5m  string `yaml:"cycle_5m" json:"cycle5m"`
	Cycle15m string `yaml:"cycle_15m" json:"cycle15m"`
	Flatten  string `yaml:"flatten" json:"flatten"`
}

// DefaultConfig fires on every bar close of a weekday. Cycles outside market
// hours are skipped at run time.
func DefaultConfig() Config {
	return Config{
		Cycle5m:  "*/5 9-16 * * 1-5",
		Cycle15m: "*/15 9-16 * * 1-5",
	}
}

// Scheduler drives cycles and the end-of-day flatten from cron entries.
// Jobs that fire together run one after another, so a quarter-hour tick
// runs the 5m and 15m cycles back to back instead of racing for the cycle lock.
type Scheduler struct {
	cron   *cron.Cron
	runner Runner
	clock  *clock.Clock
	log    zerolog.Logger

	mu  sync.Mutex
	ctx context.Context

	run sync.Mutex
}

// New registers the jobs. The flatten job defaults to the clock's cutoff.
func New(runner Runner, clk *clock.Clock, cfg Config, log zerolog.Logger) (*Scheduler, error) {
	if runner == nil || clk == nil {
		return nil, exception.ErrNilInstance
	}
	logger := cronLogger{log: log}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(clk.Location()),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		runner: runner,
		clock:  clk,
		log:    log,
		ctx:    context.Background(),
	}

	if cfg.Flatten == "" {
		cfg.Flatten = clk.FlattenSpec()
	}
	jobs := []struct {
		spec string
		name string
		fn   func()
	}{
		{spec: cfg.Cycle5m, name: "cycle 5m", fn: s.cycleJob(schema.Timeframe5m)},
		{spec: cfg.Cycle15m, name: "cycle 15m", fn: s.cycleJob(schema.Timeframe15m)},
		{spec: cfg.Flatten, name: "flatten", fn: s.flattenJob},
	}
	for _, job := range jobs {
		if job.spec == "" {
			continue
		}
		if _, err := s.cron.AddFunc(job.spec, job.fn); err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "schedule %s %q", job.name, job.spec), exception.ErrConfig)
		}
	}
	return s, nil
}

// Start runs the cron loop until Stop. Jobs inherit ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cron.Start()
	s.log.Info().Int("entries", len(s.cron.Entries())).Msg("scheduler started")
}

// Stop prevents new runs and waits for running jobs up to ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.log.Warn().Msg("scheduler stop timed out waiting for jobs")
	}
}

// Entries returns the number of registered jobs.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// Next returns the next fire time across all jobs.
func (s *Scheduler) Next() time.Time {
	var next time.Time
	for _, e := range s.cron.Entries() {
		if e.Next.IsZero() {
			continue
		}
		if next.IsZero() || e.Next.Before(next) {
			next = e.Next
		}
	}
	return next
}

func (s *Scheduler) jobContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *Scheduler) cycleJob(tf schema.Timeframe) func() {
	return func() {
		now := s.clock.Now()
		if !s.clock.IsOpen(now) {
			s.log.Debug().Str("timeframe", string(tf)).Time("at", now).Msg("market closed, cycle skipped")
			return
		}
		s.run.Lock()
		err := s.runner.RunCycle(s.jobContext(), tf)
		s.run.Unlock()
		switch {
		case err == nil:
		case errors.Is(err, exception.ErrCycleInFlight):
			s.log.Warn().Str("timeframe", string(tf)).Msg("cycle already in flight")
		default:
			s.log.Error().Err(err).Str("timeframe", string(tf)).Msg("cycle failed")
		}
	}
}

func (s *Scheduler) flattenJob() {
	s.run.Lock()
	defer s.run.Unlock()
	if err := s.runner.Flatten(s.jobContext()); err != nil {
		s.log.Error().Err(err).Msg("flatten failed")
	}
}

// cronLogger routes cron's own logging through zerolog.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
