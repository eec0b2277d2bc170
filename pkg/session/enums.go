// Package session holds per-connection protocol state.
//
// A ConnectionState exists for each connected peer. It records the
// negotiated dialect and operation mode, the active key material, the
// session data issued by the device, and the access level derived from the
// keys. Payload encryption for a connection goes through its state so that
// nothing is encrypted before the session data is known.
package session

// OperationMode is the lifecycle phase a device is in.
type OperationMode int

const (
	// ModeUnknown indicates the mode has not been resolved.
	ModeUnknown OperationMode = iota

	// ModeSetup is initial provisioning. Traffic uses a one-time setup key.
	ModeSetup

	// ModeOperation is normal authenticated use.
	ModeOperation

	// ModeDFU is firmware update.
	ModeDFU
)

// String returns a human-readable name for the mode.
func (m OperationMode) String() string {
	switch m {
	case ModeSetup:
		return "setup"
	case ModeOperation:
		return "operation"
	case ModeDFU:
		return "dfu"
	default:
		return "unknown"
	}
}

// IsValid returns true for a resolved mode.
func (m OperationMode) IsValid() bool {
	return m >= ModeSetup && m <= ModeDFU
}

// AccessLevel selects which key encrypts a connection's traffic.
// The values are the bytes carried in the encryption envelope.
type AccessLevel uint8

const (
	AccessAdmin   AccessLevel = 0
	AccessMember  AccessLevel = 1
	AccessGuest   AccessLevel = 2
	AccessSetup   AccessLevel = 100
	AccessUnknown AccessLevel = 255
)

// String returns a human-readable name for the access level.
func (a AccessLevel) String() string {
	switch a {
	case AccessAdmin:
		return "admin"
	case AccessMember:
		return "member"
	case AccessGuest:
		return "guest"
	case AccessSetup:
		return "setup"
	default:
		return "unknown"
	}
}

// CanEncrypt returns true if the level maps to a key slot.
func (a AccessLevel) CanEncrypt() bool {
	return a != AccessUnknown
}

// Phase is the connection state machine position.
type Phase int

const (
	PhaseDisconnected Phase = iota
	PhaseConnecting
	PhaseConnected
	PhaseModeResolved
	PhaseSessionEstablished
	PhaseReady
)

// String returns a human-readable name for the phase.
func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	case PhaseModeResolved:
		return "mode-resolved"
	case PhaseSessionEstablished:
		return "session-established"
	case PhaseReady:
		return "ready"
	default:
		return "invalid"
	}
}
