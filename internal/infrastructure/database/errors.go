package database

import "errors"

// Domain errors for the database package.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrLockPoisoned is returned by every acquisition after an operation
	// panicked while holding the gateway.
	ErrLockPoisoned = errors.New("database: connection lock poisoned")

	// ErrOperationPanicked is returned to the operation that panicked while
	// holding the gateway. The gateway is poisoned afterwards.
	ErrOperationPanicked = errors.New("database: operation panicked while holding connection")

	// ErrGatewayClosed is returned when the gateway has been closed.
	ErrGatewayClosed = errors.New("database: gateway closed")
)
