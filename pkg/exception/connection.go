package exception

import "errors"

// Storage, lock and broker errors
var (
	ErrPersistence     = errors.New("storage: persistence failure")
	ErrConnectionClose = errors.New("connection closed")
	ErrLockNotHeld     = errors.New("lock: not held")
)
