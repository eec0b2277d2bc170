package transport

import "errors"

// Transport errors.
var (
	// ErrClosed is returned when an operation is attempted on a closed transport.
	ErrClosed = errors.New("transport: closed")

	// ErrNotConnected is returned for GATT operations on an unconnected peer.
	ErrNotConnected = errors.New("transport: peer not connected")

	// ErrConnectTimeout is returned when the radio failed to connect in time.
	ErrConnectTimeout = errors.New("transport: connect timeout")

	// ErrDisconnected is returned when a link dropped during an operation.
	ErrDisconnected = errors.New("transport: disconnected unexpectedly")

	// ErrPeerNotFound is returned when the radio does not know the peer.
	ErrPeerNotFound = errors.New("transport: peer not found")

	// ErrServiceNotFound is returned when a service is not exposed by the peer.
	ErrServiceNotFound = errors.New("transport: service not found")

	// ErrCharacteristicNotFound is returned when a characteristic is not exposed.
	ErrCharacteristicNotFound = errors.New("transport: characteristic not found")

	// ErrScanInProgress is returned when a second scan is started.
	ErrScanInProgress = errors.New("transport: scan already in progress")

	// ErrRemote is returned for failures reported by a remote radio without a code.
	ErrRemote = errors.New("transport: remote error")

	// ErrFrameTooLarge is returned when a frame exceeds the link maximum.
	ErrFrameTooLarge = errors.New("transport: frame too large")

	// ErrFrameCRC is returned when a stream frame fails its checksum.
	ErrFrameCRC = errors.New("transport: frame CRC mismatch")

	// ErrFrameEscape is returned when a stream frame ends mid-escape.
	ErrFrameEscape = errors.New("transport: incomplete escape sequence")

	// ErrUnsupportedScheme is returned for link URLs other than ws:// or wss://.
	ErrUnsupportedScheme = errors.New("transport: unsupported URL scheme")
)

var errorCodes = []error{
	nil,
	ErrNotConnected,
	ErrConnectTimeout,
	ErrDisconnected,
	ErrPeerNotFound,
	ErrServiceNotFound,
	ErrCharacteristicNotFound,
	ErrScanInProgress,
}

// errorCode maps an error to its wire code. Unknown errors map to -1.
func errorCode(err error) int {
	if err == nil {
		return 0
	}
	for i, e := range errorCodes[1:] {
		if errors.Is(err, e) {
			return i + 1
		}
	}
	return -1
}

// codeError maps a wire code back to an error.
func codeError(code int, msg string) error {
	if code > 0 && code < len(errorCodes) {
		return errorCodes[code]
	}
	if code == 0 && msg == "" {
		return nil
	}
	if msg == "" {
		return ErrRemote
	}
	return &RemoteError{Message: msg}
}

// RemoteError carries an error message reported by a remote radio.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "transport: remote: " + e.Message
}

// Unwrap lets errors.Is match ErrRemote.
func (e *RemoteError) Unwrap() error {
	return ErrRemote
}
