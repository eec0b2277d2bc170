package transport

// FrameOp identifies the operation carried by a bridge frame.
type FrameOp uint8

const (
	// FrameOpUnknown is the zero value for an unset operation.
	FrameOpUnknown FrameOp = iota

	// Requests from the engine to the radio.
	FrameOpScanStart
	FrameOpScanStop
	FrameOpConnect
	FrameOpDisconnect
	FrameOpDiscoverServices
	FrameOpDiscoverCharacteristics
	FrameOpWrite
	FrameOpRead
	FrameOpSubscribe
	FrameOpUnsubscribe
	FrameOpAdvertise
	FrameOpStopAdvertise

	// Replies and events from the radio to the engine.
	FrameOpResponse
	FrameOpAdvertisement
	FrameOpNotification
	FrameOpDisconnected
)

var frameOpNames = map[FrameOp]string{
	FrameOpScanStart:               "ScanStart",
	FrameOpScanStop:                "ScanStop",
	FrameOpConnect:                 "Connect",
	FrameOpDisconnect:              "Disconnect",
	FrameOpDiscoverServices:        "DiscoverServices",
	FrameOpDiscoverCharacteristics: "DiscoverCharacteristics",
	FrameOpWrite:                   "Write",
	FrameOpRead:                    "Read",
	FrameOpSubscribe:               "Subscribe",
	FrameOpUnsubscribe:             "Unsubscribe",
	FrameOpAdvertise:               "Advertise",
	FrameOpStopAdvertise:           "StopAdvertise",
	FrameOpResponse:                "Response",
	FrameOpAdvertisement:           "Advertisement",
	FrameOpNotification:            "Notification",
	FrameOpDisconnected:            "Disconnected",
}

// String returns the string representation of the operation.
func (o FrameOp) String() string {
	if n, ok := frameOpNames[o]; ok {
		return n
	}
	return "Unknown"
}

// IsValid returns true if the operation is a known value.
func (o FrameOp) IsValid() bool {
	_, ok := frameOpNames[o]
	return ok
}

// IsRequest reports whether the operation expects a Response frame.
func (o FrameOp) IsRequest() bool {
	return o >= FrameOpScanStart && o <= FrameOpStopAdvertise
}
