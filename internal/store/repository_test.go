package store

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intraday/internal/schema"
	"intraday/pkg/conn"
	"intraday/pkg/exception"
)

var t0 = time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)

func newRepo(t *testing.T) *Repository {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	client, err := conn.New(conn.Option{
		Driver: conn.DriverSQLite,
		Path:   fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	repo := New(client.DB())
	require.NoError(t, repo.Migrate(context.Background()))
	return repo
}

func TestUpsertBarsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	bars := []schema.Bar{
		{Symbol: "AAA", Timeframe: schema.Timeframe5m, Ts: t0, Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 1000},
		{Symbol: "AAA", Timeframe: schema.Timeframe5m, Ts: t0.Add(5 * time.Minute), Open: 10.5, High: 11, Low: 10, Close: 10.8, Volume: 800},
	}
	require.NoError(t, repo.UpsertBars(ctx, bars))
	changed := bars[0]
	changed.Close = 99
	require.NoError(t, repo.UpsertBars(ctx, []schema.Bar{changed, bars[1]}))

	got, err := repo.Bars(ctx, "AAA", schema.Timeframe5m, t0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 10.5, got[0].Close, "bars are immutable once stored")
	assert.True(t, got[0].Ts.Equal(t0))

	got, err = repo.Bars(ctx, "AAA", schema.Timeframe15m, t0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestUpsertNewsDedupes(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	s := 0.4

	news := []schema.NewsEvent{
		{Symbol: "AAA", Source: "wire", Headline: "record quarter", Ts: t0, Sentiment: &s},
		{Symbol: "AAA", Source: "other", Headline: "record quarter", Ts: t0.Add(time.Minute)},
		{Symbol: "AAA", URL: "https://x/1", Ts: t0},
		{Symbol: "BBB", Headline: "record quarter", Ts: t0},
		{Symbol: "AAA"},
	}
	require.NoError(t, repo.UpsertNews(ctx, news[:2]))
	require.NoError(t, repo.UpsertNews(ctx, news))

	n, err := repo.CountNews(ctx, "AAA")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	n, err = repo.CountNews(ctx, "BBB")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func trade(id, symbol string, status schema.TradeStatus, qty int64) schema.Trade {
	return schema.Trade{
		ID:         id,
		Symbol:     symbol,
		Side:       schema.SideLong,
		Qty:        qty,
		InitialQty: 100,
		EntryPrice: 10.01,
		Status:     status,
		OpenedAt:   t0,
		Stop:       9.7,
		TrailMode:  schema.TrailBreakeven,
		Tags:       []string{"enter_long"},
		LastBarTs:  t0,
		LastPrice:  10,
	}
}

func TestCommitSymbolAndLoad(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	require.NoError(t, repo.SaveState(ctx, schema.NewSession("2024-03-04", 100000)))

	open := trade("t1", "AAA", schema.TradeStatusOpen, 100)
	pos := &schema.Position{Symbol: "AAA", Qty: 100, AvgPrice: 10.01, OpenedAt: t0, Stop: 9.7, TrailMode: schema.TrailBreakeven}
	entry := schema.Fill{TradeID: "t1", Symbol: "AAA", Side: schema.FillSideBuy, Price: 10.01, Qty: 100, Ts: t0, Reason: "entry"}
	require.NoError(t, repo.CommitSymbol(ctx, schema.SymbolCommit{
		Session:  "2024-03-04",
		Symbol:   "AAA",
		Trades:   []schema.Trade{open},
		Fills:    []schema.Fill{entry},
		Position: pos,
		Placed:   1,
	}))
	require.NoError(t, repo.CommitSymbol(ctx, schema.SymbolCommit{
		Session: "2024-03-04",
		Symbol:  "BBB",
		Trades:  []schema.Trade{trade("t2", "BBB", schema.TradeStatusPending, 50)},
		Placed:  1,
	}))

	trades, err := repo.OpenTrades(ctx)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, open, trades[0])

	positions, err := repo.Positions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, *pos, positions[0])

	closed := open
	closed.Qty = 0
	closed.Status = schema.TradeStatusClosed
	closed.ClosedAt = t0.Add(time.Hour)
	closed.ExitPrice = 10.4
	closed.CloseReason = "target"
	exit := schema.Fill{TradeID: "t1", Symbol: "AAA", Side: schema.FillSideSell, Price: 10.4, Qty: 100, Ts: t0.Add(time.Hour), Reason: "target"}
	require.NoError(t, repo.CommitSymbol(ctx, schema.SymbolCommit{
		Session:  "2024-03-04",
		Symbol:   "AAA",
		Trades:   []schema.Trade{closed},
		Fills:    []schema.Fill{exit},
		Realized: 39,
	}))

	trades, err = repo.OpenTrades(ctx)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "BBB", trades[0].Symbol)

	positions, err = repo.Positions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions)

	all, err := repo.Trades(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, closed, all[0])

	fills, err := repo.Fills(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []schema.Fill{entry, exit}, fills)

	st, ok, err := repo.LoadState(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, st.TradeCount)
	assert.InDelta(t, 100039, st.Equity, 1e-9)
}

func TestCommitSymbolRollsBack(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		desc   string
		commit schema.SymbolCommit
		kind   error
	}{
		{
			desc: "trade of another symbol",
			commit: schema.SymbolCommit{
				Session:  "2024-03-04",
				Symbol:   "AAA",
				Trades:   []schema.Trade{trade("t1", "AAA", schema.TradeStatusOpen, 100), trade("t2", "BBB", schema.TradeStatusOpen, 100)},
				Position: &schema.Position{Symbol: "AAA", Qty: 100, OpenedAt: t0},
				Placed:   2,
			},
			kind: exception.ErrInvalidArgument,
		},
		{
			desc: "session row of another date",
			commit: schema.SymbolCommit{
				Session:  "2024-03-05",
				Symbol:   "AAA",
				Trades:   []schema.Trade{trade("t1", "AAA", schema.TradeStatusOpen, 100)},
				Fills:    []schema.Fill{{TradeID: "t1", Symbol: "AAA", Side: schema.FillSideBuy, Price: 10, Qty: 100, Ts: t0}},
				Position: &schema.Position{Symbol: "AAA", Qty: 100, OpenedAt: t0},
				Placed:   1,
			},
			kind: exception.ErrDataUnavailable,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			repo := newRepo(t)
			require.NoError(t, repo.SaveState(ctx, schema.NewSession("2024-03-04", 100000)))

			err := repo.CommitSymbol(ctx, tc.commit)
			require.ErrorIs(t, err, exception.ErrPersistence)
			require.ErrorIs(t, err, tc.kind)

			trades, err := repo.Trades(ctx)
			require.NoError(t, err)
			assert.Empty(t, trades)
			fills, err := repo.Fills(ctx, "t1")
			require.NoError(t, err)
			assert.Empty(t, fills)
			positions, err := repo.Positions(ctx)
			require.NoError(t, err)
			assert.Empty(t, positions)
			st, _, err := repo.LoadState(ctx)
			require.NoError(t, err)
			assert.Equal(t, 0, st.TradeCount)
		})
	}
}

func TestFeatures(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	ema, atr := 10.2, 0.15
	row := schema.FeatureRow{Symbol: "AAA", Timeframe: schema.Timeframe5m, BarTs: t0, Close: 10.3, EMAFast: &ema, ATR: &atr}
	require.NoError(t, repo.SaveFeatures(ctx, "run-1", []schema.FeatureRow{row}))

	again := row
	again.Close = 99
	require.NoError(t, repo.SaveFeatures(ctx, "run-2", []schema.FeatureRow{again}))

	got, err := repo.Features(ctx, "AAA", schema.Timeframe5m)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, row, got[0])
	assert.Nil(t, got[0].RSI)
}

func TestWatchlist(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	run := schema.WatchlistRun{RunDate: "2024-03-04", Source: "watchlist-2024-03-04.txt", Symbols: []string{"SHOP", "RY", "TD"}}
	require.NoError(t, repo.SaveWatchlist(ctx, run))
	require.NoError(t, repo.SaveWatchlist(ctx, run))

	got, err := repo.Watchlist(ctx, run.RunDate, run.Source)
	require.NoError(t, err)
	assert.Equal(t, run.Symbols, got)

	var runs int64
	require.NoError(t, repo.db.Model(&WatchlistRunModel{}).Count(&runs).Error)
	assert.Equal(t, int64(1), runs)
}

func TestStateRow(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	_, ok, err := repo.LoadState(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	st := schema.NewSession("2024-03-04", 100000)
	st.TradeCount = 3
	st.Halted = true
	require.NoError(t, repo.SaveState(ctx, st))
	st.Halted = false
	st.TradeCount = 4
	require.NoError(t, repo.SaveState(ctx, st))

	got, ok, err := repo.LoadState(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, st, got)
}

func TestCycleRunsSignalsProvenance(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	run := schema.CycleRun{ID: "run-1", Timeframe: schema.Timeframe5m, Kind: "cycle", StartedAt: t0, Watchlist: 3}
	require.NoError(t, repo.StartCycle(ctx, run))
	run.FinishedAt = t0.Add(2 * time.Second)
	run.Evaluated, run.Placed, run.Errors = 2, 1, 1
	run.Note("BBB: market data: unavailable")
	require.NoError(t, repo.FinishCycle(ctx, run))

	got, err := repo.CycleRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, run, got)

	sent := 0.3
	require.NoError(t, repo.SaveSignals(ctx, "run-1", []schema.Candidate{
		{Symbol: "AAA", Technical: 0.8, Catalyst: 0.6, Sentiment: &sent, Composite: 0.71, Decision: schema.DecisionEnterLong, Reasons: []string{"ema_cross"}, BarTs: t0},
		{Symbol: "CCC", Composite: 0, Decision: schema.DecisionSkipVeto, Gate: schema.GateVeto},
	}))
	signals, err := repo.Signals(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, signals, 2)
	assert.Equal(t, "AAA", signals[0].Symbol)
	assert.Equal(t, string(schema.DecisionSkipVeto), signals[1].Decision)

	rec := schema.AIProvenance{Symbol: "AAA", RunTs: t0, RawText: []string{"record beat"}, Model: "lexicon-v1", Score: 0.67, Gate: schema.GateAccept, Reasons: []string{"neutral or positive"}}
	require.NoError(t, repo.AppendProvenance(ctx, []schema.AIProvenance{rec}))
	require.NoError(t, repo.AppendProvenance(ctx, []schema.AIProvenance{rec}))
	recs, err := repo.Provenance(ctx, "AAA")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, rec, recs[0])

	require.NoError(t, repo.RecordMetrics(ctx, "run-1", t0, map[string]float64{"candidates": 2, "placed": 1}))
	var n int64
	require.NoError(t, repo.db.Model(&MetricModel{}).Count(&n).Error)
	assert.Equal(t, int64(2), n)
}
