package exception

import "errors"

var (
	ErrDataUnavailable      = errors.New("market data: unavailable")
	ErrUnsupportedTimeframe = errors.New("market data: unsupported timeframe")
)
