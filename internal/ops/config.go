package ops

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	yerrors "github.com/yanun0323/errors"
	"gopkg.in/yaml.v3"

	"intraday/internal/clock"
	"intraday/internal/errors"
	"intraday/internal/feed"
	"intraday/internal/indicator"
	"intraday/internal/og"
	"intraday/internal/rank"
	"intraday/internal/risk"
	"intraday/internal/rule"
	"intraday/internal/scheduler"
	"intraday/internal/schema"
	"intraday/internal/sentiment"
	"intraday/pkg/exception"
)

// RunMode selects a single cycle or the scheduled daemon.
type RunMode string

const (
	RunOnce   RunMode = "once"
	RunDaemon RunMode = "daemon"
)

// FileConfig mirrors the YAML config layout.
type FileConfig struct {
	Mode       string             `yaml:"mode"`
	LogLevel   string             `yaml:"log_level"`
	Watchlist  WatchlistConfig    `yaml:"watchlist"`
	Timeframes []string           `yaml:"timeframes"`
	Clock      clock.Config       `yaml:"clock"`
	Feed       FeedConfig         `yaml:"feed"`
	Indicator  indicator.Config   `yaml:"indicator"`
	Rules      rule.Config        `yaml:"rules"`
	Sentiment  sentiment.Config   `yaml:"sentiment"`
	Rank       rank.Config        `yaml:"rank"`
	Risk       risk.Config        `yaml:"risk"`
	Execution  og.Policy          `yaml:"execution"`
	Scheduler  scheduler.Config   `yaml:"scheduler"`
	Storage    StorageConfig      `yaml:"storage"`
	Redis      RedisConfig        `yaml:"redis"`
	AMQP       AMQPConfig         `yaml:"amqp"`
	Metrics    MetricsConfig      `yaml:"metrics"`
	Engine     EngineConfig       `yaml:"engine"`
	Features   FeatureFlagsConfig `yaml:"features"`
}

// WatchlistConfig lists symbols inline, in a file, or in the newest file matching a glob.
type WatchlistConfig struct {
	Symbols []string `yaml:"symbols"`
	File    string   `yaml:"file"`
	Glob    string   `yaml:"glob"`
}

// FeedConfig controls the simulated feed and its guard.
type FeedConfig struct {
	Sim         feed.SimConfig   `yaml:"sim"`
	Chaos       feed.ChaosConfig `yaml:"chaos"`
	Timeout     time.Duration    `yaml:"timeout"`
	FreshWindow time.Duration    `yaml:"fresh_window"`
	Lookback    map[string]int   `yaml:"lookback"`
}

type StorageConfig struct {
	DatabaseURL string `yaml:"database_url"`
}

type RedisConfig struct {
	Addr    string        `yaml:"addr"`
	LockKey string        `yaml:"lock_key"`
	LockTTL time.Duration `yaml:"lock_ttl"`
}

type AMQPConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// EngineConfig tunes the orchestrator.
type EngineConfig struct {
	Concurrency int    `yaml:"concurrency"`
	SnapshotDir string `yaml:"snapshot_dir"`
}

// FeatureFlagsConfig captures optional runtime flags.
type FeatureFlagsConfig struct {
	Sentiment     *bool `yaml:"sentiment"`
	Notifications *bool `yaml:"notifications"`
	RedisLock     *bool `yaml:"redis_lock"`
}

// FeatureFlags are resolved runtime flags.
type FeatureFlags struct {
	Sentiment     bool
	Notifications bool
	RedisLock     bool
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Mode            RunMode
	LogLevel        zerolog.Level
	Symbols         []string
	WatchlistSource string
	Timeframes      []schema.Timeframe
	Clock           clock.Config
	Feed            FeedConfig
	Indicator       indicator.Config
	Rules           rule.Config
	Sentiment       sentiment.Config
	Rank            rank.Config
	Risk            risk.Config
	Execution       og.Policy
	Scheduler       scheduler.Config
	DatabaseURL     string
	Redis           RedisConfig
	AMQP            AMQPConfig
	MetricsAddr     string
	Engine          EngineConfig
	Features        FeatureFlags
}

// Lookback returns the number of bars fetched per cycle for tf.
func (l Loaded) Lookback(tf schema.Timeframe) int {
	if n, ok := l.Feed.Lookback[string(tf)]; ok && n > 0 {
		return n
	}
	switch tf {
	case schema.Timeframe15m:
		return 40
	default:
		return 60
	}
}

// DefaultFile returns a complete file config that runs locally on sqlite.
func DefaultFile() FileConfig {
	return FileConfig{
		Mode:       string(RunOnce),
		LogLevel:   "info",
		Timeframes: []string{string(schema.Timeframe5m), string(schema.Timeframe15m)},
		Clock:      clock.DefaultConfig(),
		Feed: FeedConfig{
			Sim:         feed.DefaultSimConfig(),
			Timeout:     5 * time.Second,
			FreshWindow: 6 * time.Hour,
			Lookback: map[string]int{
				string(schema.Timeframe5m):  60,
				string(schema.Timeframe15m): 40,
			},
		},
		Indicator: indicator.DefaultConfig(),
		Rules:     rule.DefaultConfig(),
		Sentiment: sentiment.DefaultConfig(),
		Rank:      rank.DefaultConfig(),
		Risk:      risk.DefaultConfig(),
		Execution: og.DefaultPolicy(),
		Scheduler: scheduler.DefaultConfig(),
		Storage:   StorageConfig{DatabaseURL: "sqlite://var/intraday.db"},
		Redis:     RedisConfig{LockKey: "intraday:cycle", LockTTL: 5 * time.Minute},
		AMQP:      AMQPConfig{Exchange: "intraday.notifications"},
		Metrics:   MetricsConfig{Addr: ":9102"},
		Engine:    EngineConfig{Concurrency: 8},
	}
}

// Default resolves DefaultFile with environment overrides applied.
func Default() (Loaded, error) {
	cfg := DefaultFile()
	if err := applyEnv(&cfg); err != nil {
		return Loaded{}, err
	}
	return resolve(cfg)
}

// requiredRisk are the risk keys a config file must set explicitly.
var requiredRisk = []string{"risk_per_trade_pct", "max_trades_per_session", "max_drawdown_pct"}

// Load reads a YAML config over the defaults, then applies environment overrides.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, errors.Mark(errors.Wrap(err, "read config"), exception.ErrConfig)
	}
	return Parse(data)
}

// Parse resolves a YAML document.
func Parse(data []byte) (Loaded, error) {
	var raw struct {
		Risk map[string]any `yaml:"risk"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Loaded{}, configErr(yerrors.Errorf("parse config: %v", err))
	}
	for _, key := range requiredRisk {
		if _, ok := raw.Risk[key]; !ok {
			return Loaded{}, configErr(yerrors.Errorf("risk.%s is required", key))
		}
	}
	if _, ok := raw.Risk["account_equity"]; !ok && os.Getenv("ACCOUNT_EQUITY") == "" {
		return Loaded{}, configErr(yerrors.New("risk.account_equity or ACCOUNT_EQUITY is required"))
	}

	cfg := DefaultFile()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, configErr(yerrors.Errorf("parse config: %v", err))
	}
	if err := applyEnv(&cfg); err != nil {
		return Loaded{}, err
	}
	return resolve(cfg)
}

// LoadEnv reads .env files into the process environment. Missing files are ignored.
func LoadEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return configErr(yerrors.Errorf("load env %s: %v", p, err))
		}
	}
	return nil
}

func applyEnv(cfg *FileConfig) error {
	set := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	set("RUN_MODE", &cfg.Mode)
	set("LOG_LEVEL", &cfg.LogLevel)
	set("DATABASE_URL", &cfg.Storage.DatabaseURL)
	set("REDIS_ADDR", &cfg.Redis.Addr)
	set("AMQP_URL", &cfg.AMQP.URL)
	set("METRICS_ADDR", &cfg.Metrics.Addr)
	set("WATCHLIST_FILE", &cfg.Watchlist.File)
	set("WATCHLIST_GLOB", &cfg.Watchlist.Glob)
	set("TZ_EXCHANGE", &cfg.Clock.Timezone)

	if v := strings.TrimSpace(os.Getenv("ACCOUNT_EQUITY")); v != "" {
		equity, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return configErr(yerrors.Errorf("ACCOUNT_EQUITY %q is not a number", v))
		}
		cfg.Risk.AccountEquity = equity
	}
	return nil
}

func resolve(cfg FileConfig) (Loaded, error) {
	mode := RunMode(strings.ToLower(strings.TrimSpace(cfg.Mode)))
	if mode != RunOnce && mode != RunDaemon {
		return Loaded{}, configErr(yerrors.Errorf("mode must be %q or %q, got %q", RunOnce, RunDaemon, cfg.Mode))
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	timeframes := make([]schema.Timeframe, 0, len(cfg.Timeframes))
	for _, raw := range cfg.Timeframes {
		tf, err := schema.ParseTimeframe(raw)
		if err != nil {
			return Loaded{}, configErr(err)
		}
		timeframes = append(timeframes, tf)
	}
	if len(timeframes) == 0 {
		return Loaded{}, configErr(yerrors.New("at least one timeframe is required"))
	}

	if _, err := clock.New(cfg.Clock); err != nil {
		return Loaded{}, configErr(err)
	}
	if err := cfg.Feed.Sim.Validate(); err != nil {
		return Loaded{}, configErr(err)
	}
	if err := cfg.Feed.Chaos.Validate(); err != nil {
		return Loaded{}, configErr(err)
	}
	if err := cfg.Indicator.Validate(); err != nil {
		return Loaded{}, configErr(err)
	}
	if cfg.Indicator.EMAFast >= cfg.Indicator.EMASlow {
		return Loaded{}, configErr(yerrors.New("indicator.ema_fast must be below ema_slow"))
	}
	if err := cfg.Rank.Validate(); err != nil {
		return Loaded{}, configErr(err)
	}
	if err := cfg.Risk.Validate(); err != nil {
		return Loaded{}, configErr(err)
	}
	if err := validatePolicy(cfg.Execution); err != nil {
		return Loaded{}, err
	}
	if cfg.Engine.Concurrency <= 0 {
		cfg.Engine.Concurrency = 1
	}

	watchlist, err := LoadWatchlist(cfg.Watchlist)
	if err != nil {
		return Loaded{}, err
	}

	features := resolveFeatures(cfg.Features)
	if features.RedisLock && cfg.Redis.Addr == "" {
		return Loaded{}, configErr(yerrors.New("features.redis_lock needs redis.addr or REDIS_ADDR"))
	}
	cfg.Sentiment.Enabled = cfg.Sentiment.Enabled && features.Sentiment

	return Loaded{
		Mode:        mode,
		LogLevel:    level,
		Symbols:     watchlist.Symbols,
		WatchlistSource: watchlist.Source,
		Timeframes:  timeframes,
		Clock:       cfg.Clock,
		Feed:        cfg.Feed,
		Indicator:   cfg.Indicator,
		Rules:       cfg.Rules,
		Sentiment:   cfg.Sentiment,
		Rank:        cfg.Rank,
		Risk:        cfg.Risk,
		Execution:   cfg.Execution,
		Scheduler:   cfg.Scheduler,
		DatabaseURL: cfg.Storage.DatabaseURL,
		Redis:       cfg.Redis,
		AMQP:        cfg.AMQP,
		MetricsAddr: cfg.Metrics.Addr,
		Engine:      cfg.Engine,
		Features:    features,
	}, nil
}

func validatePolicy(p og.Policy) error {
	switch p.Mode {
	case og.FillImmediate, og.FillNextOpen:
	default:
		return configErr(yerrors.Errorf("execution.mode %q is unknown", p.Mode))
	}
	if p.SlippagePct < 0 {
		return configErr(yerrors.New("execution.slippage_pct must be >= 0"))
	}
	if p.ScaleFraction <= 0 || p.ScaleFraction >= 1 {
		return configErr(yerrors.New("execution.scale_fraction must be in (0, 1)"))
	}
	return nil
}

func resolveFeatures(cfg FeatureFlagsConfig) FeatureFlags {
	flags := FeatureFlags{
		Sentiment:     true,
		Notifications: true,
		RedisLock:     false,
	}
	if cfg.Sentiment != nil {
		flags.Sentiment = *cfg.Sentiment
	}
	if cfg.Notifications != nil {
		flags.Notifications = *cfg.Notifications
	}
	if cfg.RedisLock != nil {
		flags.RedisLock = *cfg.RedisLock
	}
	return flags
}

func configErr(err error) error {
	return errors.Mark(err, exception.ErrConfig)
}
