package ops

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intraday/internal/schema"
	"intraday/pkg/exception"
)

var envKeys = []string{
	"RUN_MODE", "LOG_LEVEL", "DATABASE_URL", "REDIS_ADDR", "AMQP_URL", "METRICS_ADDR",
	"ACCOUNT_EQUITY", "WATCHLIST_FILE", "WATCHLIST_GLOB", "TZ_EXCHANGE",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

const riskYAML = `
risk:
  account_equity: 25000
  risk_per_trade_pct: 0.5
  max_trades_per_session: 4
  max_drawdown_pct: 3
feed:
  timeout: 2s
  lookback:
    5m: 48
`

const minimalYAML = `
mode: once
log_level: debug
watchlist:
  symbols: [shop, ry, SHOP]
timeframes: [5m]
` + riskYAML

func TestDefault(t *testing.T) {
	clearEnv(t)
	loaded, err := Default()
	require.NoError(t, err)

	assert.Equal(t, RunOnce, loaded.Mode)
	assert.Equal(t, zerolog.InfoLevel, loaded.LogLevel)
	assert.Equal(t, []schema.Timeframe{schema.Timeframe5m, schema.Timeframe15m}, loaded.Timeframes)
	assert.Equal(t, 60, loaded.Lookback(schema.Timeframe5m))
	assert.Equal(t, 40, loaded.Lookback(schema.Timeframe15m))
	assert.True(t, loaded.Features.Sentiment)
	assert.False(t, loaded.Features.RedisLock)
	assert.Equal(t, 100000.0, loaded.Risk.AccountEquity)
}

func TestParse(t *testing.T) {
	clearEnv(t)
	loaded, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, zerolog.DebugLevel, loaded.LogLevel)
	assert.Equal(t, []string{"SHOP", "RY"}, loaded.Symbols)
	assert.Equal(t, []schema.Timeframe{schema.Timeframe5m}, loaded.Timeframes)
	assert.Equal(t, 25000.0, loaded.Risk.AccountEquity)
	assert.Equal(t, 0.5, loaded.Risk.RiskPerTradePct)
	assert.Equal(t, 4, loaded.Risk.MaxTradesPerSession)
	// untouched keys keep their defaults
	assert.Equal(t, 1.5, loaded.Risk.ATRMult)
	assert.Equal(t, 2*time.Second, loaded.Feed.Timeout)
	assert.Equal(t, 48, loaded.Lookback(schema.Timeframe5m))
	assert.Equal(t, 40, loaded.Lookback(schema.Timeframe15m))
}

func TestParseEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("RUN_MODE", "DAEMON")
	t.Setenv("ACCOUNT_EQUITY", "50000")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/intraday")
	t.Setenv("REDIS_ADDR", "redis:6379")

	loaded, err := Parse([]byte(minimalYAML + "features:\n  redis_lock: true\n  sentiment: false\n"))
	require.NoError(t, err)
	assert.Equal(t, RunDaemon, loaded.Mode)
	assert.Equal(t, 50000.0, loaded.Risk.AccountEquity)
	assert.Equal(t, "postgres://u:p@db:5432/intraday", loaded.DatabaseURL)
	assert.True(t, loaded.Features.RedisLock)
	assert.False(t, loaded.Features.Sentiment)
	assert.False(t, loaded.Sentiment.Enabled)
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		desc string
		yaml string
		env  map[string]string
	}{
		{desc: "missing risk section", yaml: "mode: once\n"},
		{desc: "missing drawdown", yaml: "risk:\n  account_equity: 1\n  risk_per_trade_pct: 1\n  max_trades_per_session: 1\n"},
		{desc: "bad yaml", yaml: "risk: [\n"},
		{desc: "bad mode", yaml: riskYAML + "mode: forever\n"},
		{desc: "bad timeframe", yaml: riskYAML + "timeframes: [1h]\n"},
		{desc: "bad equity env", yaml: minimalYAML, env: map[string]string{"ACCOUNT_EQUITY": "lots"}},
		{desc: "redis lock without addr", yaml: minimalYAML + "features:\n  redis_lock: true\n"},
		{desc: "bad fill mode", yaml: minimalYAML + "execution:\n  mode: sometimes\n"},
		{desc: "ema order", yaml: minimalYAML + "indicator:\n  ema_fast: 30\n"},
		{desc: "chaos drop rate", yaml: strings.Replace(minimalYAML, "feed:\n", "feed:\n  chaos:\n    drop_rate: 2\n", 1)},
	}
	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Parse([]byte(tc.yaml))
			require.ErrorIs(t, err, exception.ErrConfig)
		})
	}
}

func TestLoadAndEnvFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	cfgPath := filepath.Join(dir, "intraday.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(minimalYAML), 0o644))
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("METRICS_ADDR=:9999\n"), 0o644))

	require.NoError(t, LoadEnv(filepath.Join(dir, "missing.env"), envPath))
	loaded, err := Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, ":9999", loaded.MetricsAddr)

	_, err = Load(filepath.Join(dir, "nope.yaml"))
	require.ErrorIs(t, err, exception.ErrConfig)
}

func TestLoadWatchlist(t *testing.T) {
	dir := t.TempDir()
	text := filepath.Join(dir, "watchlist-2024-03-01.txt")
	require.NoError(t, os.WriteFile(text, []byte("# morning list\nshop\nry, td # banks\n\n"), 0o644))
	newer := filepath.Join(dir, "watchlist-2024-03-04.json")
	require.NoError(t, os.WriteFile(newer, []byte(`[{"Symbol":"cnq"},{"name":"x"},"enb","CNQ"]`), 0o644))

	t.Run("file", func(t *testing.T) {
		got, err := LoadWatchlist(WatchlistConfig{Symbols: []string{"RY", "BNS"}, File: text})
		require.NoError(t, err)
		assert.Equal(t, []string{"RY", "BNS", "SHOP", "TD"}, got.Symbols)
		assert.Equal(t, text, got.Source)
	})

	t.Run("newest glob match", func(t *testing.T) {
		got, err := LoadWatchlist(WatchlistConfig{Glob: filepath.Join(dir, "watchlist-*")})
		require.NoError(t, err)
		assert.Equal(t, []string{"CNQ", "ENB"}, got.Symbols)
		assert.Equal(t, newer, got.Source)
	})

	t.Run("inline only", func(t *testing.T) {
		got, err := LoadWatchlist(WatchlistConfig{Symbols: []string{"td"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"TD"}, got.Symbols)
		assert.Equal(t, "inline", got.Source)
	})

	t.Run("bad json", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{"symbol":"RY"}`), 0o644))
		_, err := LoadWatchlist(WatchlistConfig{File: bad})
		require.ErrorIs(t, err, exception.ErrConfig)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadWatchlist(WatchlistConfig{File: filepath.Join(dir, "none.txt")})
		require.ErrorIs(t, err, exception.ErrConfig)
	})
}
