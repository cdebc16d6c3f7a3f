package script

import (
	"errors"
	"fmt"
)

// Domain errors for script execution.
var (
	// ErrUnsupportedParameter is returned when a call argument has no
	// database representation (plain objects, functions, symbols, arrays
	// other than Uint8Array).
	ErrUnsupportedParameter = errors.New("script: unsupported parameter kind")

	// ErrMissingSQL is returned when a SQLite call has no SQL text argument.
	ErrMissingSQL = errors.New("script: SQL text argument is required")

	// ErrSourceTooLarge is returned when a script exceeds Config.MaxSourceSize.
	ErrSourceTooLarge = errors.New("script: source too large")

	// ErrCompile is returned when a script fails to parse.
	ErrCompile = errors.New("script: compile failed")

	// ErrException is returned when a script throws an uncaught exception.
	ErrException = errors.New("script: uncaught exception")

	// ErrTimeout is returned when a run is interrupted by its deadline or
	// by cancellation of the caller's context.
	ErrTimeout = errors.New("script: run interrupted")

	// ErrResult is returned when the completion value cannot be rendered
	// as JSON.
	ErrResult = errors.New("script: result not serialisable")

	// ErrPanicked is returned when a run panics outside the script's own
	// exception handling. The run's runtime is discarded.
	ErrPanicked = errors.New("script: run panicked")
)

// ParameterError describes an argument the binder could not encode.
// Position is the argument index in the call, so the first parameter after
// the SQL text is position 1.
type ParameterError struct {
	Position int
	Kind     string
}

// Error implements error.
func (e *ParameterError) Error() string {
	return fmt.Sprintf("%s: argument %d is %s", ErrUnsupportedParameter, e.Position, e.Kind)
}

// Unwrap makes errors.Is(err, ErrUnsupportedParameter) succeed.
func (e *ParameterError) Unwrap() error {
	return ErrUnsupportedParameter
}
