// Package request serializes operations on a connection.
//
// A Lifecycle holds at most one pending Request. Issuing a new request
// rejects the previous one, except that a disconnect issued while another
// disconnect is pending completes the earlier one successfully. Every
// request is completed exactly once, either by the caller that drives the
// operation, by a timeout, or by a radio reset.
package request

// Type tags what a pending request is waiting for.
type Type int

const (
	// TypeUnknown indicates an uninitialized request type.
	TypeUnknown Type = iota

	// TypeConnect waits for a link to be established.
	TypeConnect

	// TypeRead waits for a characteristic read.
	TypeRead

	// TypeWrite waits for a characteristic write and its result.
	TypeWrite

	// TypeSubscribe waits for a notification subscription.
	TypeSubscribe

	// TypeDisconnect waits for a disconnect the client asked for.
	TypeDisconnect

	// TypeAwaitDisconnect waits for the device to drop the link.
	TypeAwaitDisconnect

	// TypeErrorDisconnect disconnects after an error and delivers that
	// error once the link is gone.
	TypeErrorDisconnect
)

// String returns a human-readable name for the request type.
func (t Type) String() string {
	switch t {
	case TypeConnect:
		return "connect"
	case TypeRead:
		return "read"
	case TypeWrite:
		return "write"
	case TypeSubscribe:
		return "subscribe"
	case TypeDisconnect:
		return "disconnect"
	case TypeAwaitDisconnect:
		return "await-disconnect"
	case TypeErrorDisconnect:
		return "error-disconnect"
	default:
		return "unknown"
	}
}

// IsValid returns true if the type is a defined value.
func (t Type) IsValid() bool {
	return t >= TypeConnect && t <= TypeErrorDisconnect
}

// IsDisconnect returns true for the types a link loss completes.
func (t Type) IsDisconnect() bool {
	return t == TypeDisconnect || t == TypeAwaitDisconnect || t == TypeErrorDisconnect
}
