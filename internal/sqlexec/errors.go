package sqlexec

import "errors"

// Domain errors for statement execution.
//
// Every error returned by the Executor wraps one of these, so callers can
// classify failures with errors.Is():
//
//	if errors.Is(err, sqlexec.ErrPrepare) {
//	    // bad SQL text
//	}
var (
	// ErrPrepare is returned when SQL text fails to prepare
	// (syntax error, unknown table or column).
	ErrPrepare = errors.New("sqlexec: failed to prepare statement")

	// ErrExecute is returned when binding or executing a prepared statement
	// fails (parameter count mismatch, constraint violation, runtime error).
	ErrExecute = errors.New("sqlexec: failed to execute statement")

	// ErrRowDecode is returned when a result cell cannot be decoded into a
	// scalar. This indicates a driver/codec mismatch, not bad input.
	ErrRowDecode = errors.New("sqlexec: failed to decode row")

	// ErrArityExceeded is returned when a call supplies more parameters
	// than the configured maximum.
	ErrArityExceeded = errors.New("sqlexec: too many parameters")

	// ErrNotFound is returned by QueryOne when the query yields no rows.
	ErrNotFound = errors.New("sqlexec: not found")
)
