package obs

import (
	"fmt"
	"io"
	"os"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/rs/zerolog"
)

// NewLogger returns a timestamped JSON logger at lvl. A nil w writes to stdout.
func NewLogger(lvl zerolog.Level, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}
	return zerolog.New(w).With().Timestamp().Logger().Level(lvl)
}

// ProfilerConfig points the continuous profiler at a pyroscope server.
type ProfilerConfig struct {
	Server string
	App    string
	Tags   map[string]string
}

// StartProfiler starts pushing CPU and allocation profiles. An empty server
// disables profiling and returns a nil profiler.
func StartProfiler(cfg ProfilerConfig, log zerolog.Logger) (*pyroscope.Profiler, error) {
	if cfg.Server == "" {
		return nil, nil
	}
	if cfg.App == "" {
		cfg.App = "intraday"
	}
	return pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.App,
		ServerAddress:   cfg.Server,
		Tags:            cfg.Tags,
		Logger:          profilerLogger{log: log.With().Str("module", "profiler").Logger()},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
		},
	})
}

// profilerLogger adapts zerolog to the pyroscope logger.
type profilerLogger struct {
	log zerolog.Logger
}

func (l profilerLogger) Infof(format string, args ...interface{}) {
	l.log.Info().Msg(fmt.Sprintf(format, args...))
}

func (l profilerLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug().Msg(fmt.Sprintf(format, args...))
}

func (l profilerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error().Msg(fmt.Sprintf(format, args...))
}
