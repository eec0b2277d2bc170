package packet

import "errors"

// Packet codec errors.
var (
	ErrUnknownDialect       = errors.New("packet: unknown dialect")
	ErrUnsupportedCommand   = errors.New("packet: command not supported by dialect")
	ErrPayloadTooLong       = errors.New("packet: payload exceeds length field")
	ErrMultipartOutOfOrder  = errors.New("packet: multipart chunk out of order")
	ErrMultipartTooLarge    = errors.New("packet: multipart message too large")
	ErrInvalidSetupKey      = errors.New("packet: setup key must be 16 bytes")
	ErrInvalidResult        = errors.New("packet: invalid result envelope")
	ErrResponseLength       = errors.New("packet: incorrect response length")
	ErrUnexpectedResultType = errors.New("packet: result for a different command")
)
