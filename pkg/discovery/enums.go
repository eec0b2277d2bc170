// Package discovery finds network radio bridges with DNS-SD.
//
// A bridge owns a BLE radio and exposes it to clients over a WebSocket. It
// registers the service type _bluenet._tcp and describes itself in TXT
// records:
//
//	path   WebSocket path, default "/"
//	proto  "ws" or "wss"
//	ver    bridge protocol version
package discovery

import "time"

// DNS-SD names.
const (
	ServiceBridge = "_bluenet._tcp"
	DefaultDomain = "local."
)

// Defaults.
const (
	DefaultPort          = 8765
	DefaultBrowseTimeout = 10 * time.Second
	DefaultLookupTimeout = 5 * time.Second
	ProtocolVersion      = 1
)

// Proto is the WebSocket scheme a bridge serves.
type Proto string

const (
	ProtoWS  Proto = "ws"
	ProtoWSS Proto = "wss"
)

// IsValid returns true for known schemes.
func (p Proto) IsValid() bool {
	return p == ProtoWS || p == ProtoWSS
}
