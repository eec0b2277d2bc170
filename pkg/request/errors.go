package request

import "errors"

// Errors returned by the request package.
var (
	// ErrReplaced is delivered to a request superseded by a newer one.
	ErrReplaced = errors.New("request: replaced by another request")

	// ErrTimeout is delivered when a request is not completed in time.
	ErrTimeout = errors.New("request: timed out")

	// ErrWrongType is returned when completing with a type that does not
	// match the pending request.
	ErrWrongType = errors.New("request: wrong type for pending request")

	// ErrNoPendingRequest is returned when completing with nothing pending.
	ErrNoPendingRequest = errors.New("request: no pending request")

	// ErrReset is delivered to a pending request when the radio resets.
	ErrReset = errors.New("request: radio reset")

	// ErrClosed is delivered when the lifecycle shuts down.
	ErrClosed = errors.New("request: lifecycle closed")
)
