package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"intraday/internal/clock"
	"intraday/internal/engine"
	"intraday/internal/feed"
	"intraday/internal/lock"
	"intraday/internal/obs"
	"intraday/internal/schema"
	"intraday/internal/sentiment"
	"intraday/internal/state"
	"intraday/internal/store"
	"intraday/pkg/conn"
)

// replay runs a simulated session twice on separate in-memory databases and
// verifies both runs end with the same book. Chaos flags inject seeded feed
// faults, which must not break determinism either.
func main() {
	date := flag.String("date", "2024-03-04", "Session date (exchange local)")
	symbols := flag.String("symbols", "SHOP,RY,TD,ENB,CNQ,BNS", "Comma separated watchlist")
	seed := flag.Int64("seed", 7, "Simulated feed seed")
	outDir := flag.String("out", "", "Directory for the two snapshots (empty = skip writing)")
	drop := flag.Float64("drop", 0, "Chaos: share of feed calls that fail")
	dup := flag.Float64("dup", 0, "Chaos: share of bars and headlines returned twice")
	reorder := flag.Int("reorder", 0, "Chaos: shuffle window for returned bars (0=off)")
	verbose := flag.Bool("v", false, "Log every cycle")
	flag.Parse()

	level := zerolog.WarnLevel
	if *verbose {
		level = zerolog.InfoLevel
	}
	log := obs.NewLogger(level, os.Stderr)

	clk, err := clock.New(clock.DefaultConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("clock")
	}
	day, err := time.ParseInLocation("2006-01-02", *date, clk.Location())
	if err != nil {
		log.Fatal().Err(err).Msg("invalid date")
	}
	if !clk.IsTradingDay(day) {
		log.Fatal().Str("date", *date).Msg("not a trading day")
	}

	chaos := feed.ChaosConfig{Seed: *seed, DropRate: *drop, DuplicateRate: *dup, ReorderWindow: *reorder}
	ctx := context.Background()
	snapshots := make([]state.Snapshot, 2)
	for i := range snapshots {
		snap, err := replay(ctx, clk, day, strings.Split(*symbols, ","), *seed, chaos, fmt.Sprintf("replay_%d", i), log)
		if err != nil {
			log.Fatal().Err(err).Int("run", i).Msg("replay failed")
		}
		snapshots[i] = snap
		if *outDir != "" {
			path := filepath.Join(*outDir, fmt.Sprintf("replay-%s-%d.json", *date, i))
			if err := state.WriteSnapshot(path, snap); err != nil {
				log.Fatal().Err(err).Msg("write snapshot")
			}
		}
	}

	if err := state.CompareSnapshots(snapshots[0], snapshots[1]); err != nil {
		log.Fatal().Err(err).Msg("replay diverged")
	}
	st := snapshots[0].State
	fmt.Printf("session=%s trades=%d equity=%.2f halted=%t flattened=%t deterministic=true\n",
		st.SessionDate, len(snapshots[0].Trades), st.Equity, st.Halted, st.Flattened)
}

// replay drives one session from the open to the close on a virtual clock.
func replay(ctx context.Context, base *clock.Clock, day time.Time, symbols []string, seed int64, chaos feed.ChaosConfig, dbName string, log zerolog.Logger) (state.Snapshot, error) {
	client, err := conn.New(conn.Option{
		Driver: conn.DriverSQLite,
		Path:   fmt.Sprintf("file:%s?mode=memory&cache=shared", dbName),
	})
	if err != nil {
		return state.Snapshot{}, err
	}
	defer func() { _ = client.Close() }()
	repo := store.New(client.DB())
	if err := repo.Migrate(ctx); err != nil {
		return state.Snapshot{}, err
	}

	var now time.Time
	clk := base.WithNow(func() time.Time { return now })
	simCfg := feed.DefaultSimConfig()
	simCfg.Seed = seed
	var source feed.Adapter
	source, err = feed.NewSim(simCfg, feed.WithNow(func() time.Time { return now }))
	if err == nil && chaos.Enabled() {
		source, err = feed.NewChaos(source, chaos)
	}
	if err != nil {
		return state.Snapshot{}, err
	}

	cfg := engine.DefaultConfig(symbols...)
	cfg.WatchlistSource = "replay"
	eng, err := engine.New(cfg, engine.Deps{
		Feed:      feed.NewGuard(source, 5*time.Second),
		Store:     repo,
		Lock:      lock.NewLocal(),
		Clock:     clk,
		Sentiment: sentiment.NewGate(sentiment.DefaultConfig()),
		Log:       log,
	})
	if err != nil {
		return state.Snapshot{}, err
	}

	open := clk.SessionOpen(day)
	flattenAt := clk.FlattenAt(day)
	for now = open.Add(5 * time.Minute); !now.After(flattenAt.Add(5 * time.Minute)); now = now.Add(5 * time.Minute) {
		if _, err := eng.Run(ctx, schema.Timeframe5m); err != nil {
			return state.Snapshot{}, fmt.Errorf("5m cycle at %s: %w", now.Format(time.Kitchen), err)
		}
		if now.Minute()%15 == 0 {
			if _, err := eng.Run(ctx, schema.Timeframe15m); err != nil {
				return state.Snapshot{}, fmt.Errorf("15m cycle at %s: %w", now.Format(time.Kitchen), err)
			}
		}
	}
	if err := eng.Flatten(ctx); err != nil {
		return state.Snapshot{}, err
	}
	return eng.Snapshot(ctx)
}
