package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intraday/internal/clock"
	"intraday/internal/schema"
	"intraday/pkg/exception"
)

// fakeRunner refuses overlapping cycles the way the engine's lock does.
type fakeRunner struct {
	mu       sync.Mutex
	cycles   []schema.Timeframe
	flattens int
	refused  int
	busy     bool
	hold     time.Duration
	err      error
}

func (r *fakeRunner) RunCycle(_ context.Context, tf schema.Timeframe) error {
	r.mu.Lock()
	if r.busy {
		r.refused++
		r.mu.Unlock()
		return exception.ErrCycleInFlight
	}
	r.busy = true
	r.cycles = append(r.cycles, tf)
	r.mu.Unlock()

	time.Sleep(r.hold)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.busy = false
	return r.err
}

func (r *fakeRunner) Flatten(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flattens++
	return r.err
}

func newScheduler(t *testing.T, runner Runner, at time.Time, cfg Config) *Scheduler {
	t.Helper()
	clk, err := clock.New(clock.DefaultConfig())
	require.NoError(t, err)
	clk = clk.WithNow(func() time.Time { return at })
	s, err := New(runner, clk, cfg, zerolog.Nop())
	require.NoError(t, err)
	return s
}

func TestNewRegistersJobs(t *testing.T) {
	at := time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)

	s := newScheduler(t, &fakeRunner{}, at, DefaultConfig())
	assert.Equal(t, 3, s.Entries())

	s = newScheduler(t, &fakeRunner{}, at, Config{Cycle5m: "*/5 * * * *"})
	assert.Equal(t, 2, s.Entries())

	clk, err := clock.New(clock.DefaultConfig())
	require.NoError(t, err)
	_, err = New(&fakeRunner{}, clk, Config{Cycle5m: "every now and then"}, zerolog.Nop())
	require.ErrorIs(t, err, exception.ErrConfig)

	_, err = New(nil, clk, DefaultConfig(), zerolog.Nop())
	require.ErrorIs(t, err, exception.ErrNilInstance)
}

func TestCycleJobRespectsMarketHours(t *testing.T) {
	loc, err := time.LoadLocation("America/Toronto")
	require.NoError(t, err)

	cases := []struct {
		desc string
		at   time.Time
		runs int
	}{
		{desc: "open", at: time.Date(2024, 3, 4, 10, 5, 0, 0, loc), runs: 1},
		{desc: "pre-market", at: time.Date(2024, 3, 4, 9, 5, 0, 0, loc), runs: 0},
		{desc: "weekend", at: time.Date(2024, 3, 9, 10, 5, 0, 0, loc), runs: 0},
	}
	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			runner := &fakeRunner{}
			s := newScheduler(t, runner, tc.at, DefaultConfig())
			s.cycleJob(schema.Timeframe5m)()
			assert.Len(t, runner.cycles, tc.runs)
		})
	}
}

func TestJobsSwallowErrors(t *testing.T) {
	loc, err := time.LoadLocation("America/Toronto")
	require.NoError(t, err)
	at := time.Date(2024, 3, 4, 10, 15, 0, 0, loc)

	runner := &fakeRunner{err: exception.ErrCycleInFlight}
	s := newScheduler(t, runner, at, DefaultConfig())
	s.cycleJob(schema.Timeframe15m)()
	s.flattenJob()

	assert.Equal(t, []schema.Timeframe{schema.Timeframe15m}, runner.cycles)
	assert.Equal(t, 1, runner.flattens)
}

func TestQuarterHourRunsBothTimeframes(t *testing.T) {
	loc, err := time.LoadLocation("America/Toronto")
	require.NoError(t, err)
	at := time.Date(2024, 3, 4, 10, 15, 0, 0, loc)

	runner := &fakeRunner{hold: 20 * time.Millisecond}
	s := newScheduler(t, runner, at, DefaultConfig())

	var wg sync.WaitGroup
	for _, tf := range []schema.Timeframe{schema.Timeframe5m, schema.Timeframe15m} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.cycleJob(tf)()
		}()
	}
	wg.Wait()

	assert.ElementsMatch(t, []schema.Timeframe{schema.Timeframe5m, schema.Timeframe15m}, runner.cycles)
	assert.Zero(t, runner.refused)
}

func TestStartStop(t *testing.T) {
	s := newScheduler(t, &fakeRunner{}, time.Now(), DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	assert.False(t, s.Next().IsZero())

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	s.Stop(stopCtx)
}
