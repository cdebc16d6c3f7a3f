package dispatch

import "errors"

// Domain-specific errors for dispatch operations.
var (
	// ErrNotStarted is returned when a message arrives before Start or after Stop.
	ErrNotStarted = errors.New("dispatch: not started")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("dispatch: already started")

	// ErrEmptySource is returned when a request carries no script.
	ErrEmptySource = errors.New("dispatch: request has no source")

	// ErrNoResponse is returned by Requester.Call when the context ends
	// before the bridge answers.
	ErrNoResponse = errors.New("dispatch: no response")

	// ErrBadResponse is returned by Requester.Call for an answer that is
	// not a Response.
	ErrBadResponse = errors.New("dispatch: malformed response")
)
