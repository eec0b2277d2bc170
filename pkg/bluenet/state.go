package bluenet

// ClientState is the lifecycle state of a Client.
type ClientState int

const (
	// ClientStateInitialized means the client is created but not started.
	ClientStateInitialized ClientState = iota

	// ClientStateRunning means scanning is active and commands are accepted.
	ClientStateRunning

	// ClientStateStopping means Stop has been called.
	ClientStateStopping

	// ClientStateStopped means the client has shut down.
	ClientStateStopped
)

// String returns a human-readable name for the state.
func (s ClientState) String() string {
	switch s {
	case ClientStateInitialized:
		return "Initialized"
	case ClientStateRunning:
		return "Running"
	case ClientStateStopping:
		return "Stopping"
	case ClientStateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// CanStart returns true if Start can be called in this state.
func (s ClientState) CanStart() bool {
	return s == ClientStateInitialized
}

// CanStop returns true if Stop can be called in this state.
func (s ClientState) CanStop() bool {
	return s == ClientStateRunning
}
