package exception

import "errors"

var (
	ErrRiskRejected       = errors.New("order: risk rejected")
	ErrTransitionConflict = errors.New("order: transition conflicts with trade state")
	ErrDuplicateTrade     = errors.New("order: symbol already has an active trade")
)
