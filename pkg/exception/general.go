package exception

import "errors"

// General errors
var (
	ErrConfig          = errors.New("invalid configuration")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNilInstance     = errors.New("nil instance")
	ErrCycleInFlight   = errors.New("cycle already in flight")
)
