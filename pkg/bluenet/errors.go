package bluenet

import (
	"context"
	"errors"

	"github.com/backkem/bluenet/pkg/request"
	"github.com/backkem/bluenet/pkg/transport"
)

// Client lifecycle errors.
var (
	ErrInvalidConfig   = errors.New("bluenet: invalid configuration")
	ErrAdapterRequired = errors.New("bluenet: adapter is required")
	ErrAlreadyStarted  = errors.New("bluenet: client already started")
	ErrNotStarted      = errors.New("bluenet: client not started")
	ErrAlreadyStopped  = errors.New("bluenet: client already stopped")
)

// Connection and protocol errors.
var (
	// ErrNotConnected is returned for commands to a peer without a ready link.
	ErrNotConnected = errors.New("bluenet: peer not connected")

	// ErrUnknownService is returned when a peer exposes no stone service.
	ErrUnknownService = errors.New("bluenet: peer exposes no stone service")

	// ErrUnknownDialect is returned when no control characteristic matches
	// a known dialect.
	ErrUnknownDialect = errors.New("bluenet: no supported protocol dialect")

	// ErrWrongMode is returned for commands the peer's mode does not accept.
	ErrWrongMode = errors.New("bluenet: command not available in this mode")

	// ErrInvalidResult is returned when a result envelope does not parse.
	ErrInvalidResult = errors.New("bluenet: invalid result envelope")
)

// Validation errors.
var (
	// ErrNoKeys is returned when no sphere is loaded for a reference.
	ErrNoKeys = errors.New("bluenet: no keys for sphere")

	// ErrUnverified is returned when connecting without a reference to a
	// stone whose broadcasts have not been verified.
	ErrUnverified = errors.New("bluenet: stone not verified")

	// ErrNoKeyStore is returned by LoadKeys without a configured store.
	ErrNoKeyStore = errors.New("bluenet: no key store configured")
)

// IsRetryable reports whether err is a transient condition worth
// retrying: timeouts, replaced or reset requests and dropped links.
// Wrong keys, integrity failures and rejected commands are terminal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range []error{
		request.ErrTimeout,
		request.ErrReplaced,
		request.ErrReset,
		transport.ErrDisconnected,
		transport.ErrConnectTimeout,
		transport.ErrNotConnected,
		context.DeadlineExceeded,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
