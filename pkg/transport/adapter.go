// Package transport defines the radio capability the protocol engine consumes
// and provides implementations of it.
//
// The engine never talks to a radio stack directly. It uses the Adapter
// interface for scanning and GATT access and the Advertiser interface for its
// own outbound broadcasts. Implementations in this package bridge to a remote
// radio over a framed link (WebSocket, serial or an in-memory Pipe); the ble
// subpackage drives a local controller.
package transport

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// PeerID identifies a remote device as reported by the radio stack.
// It is opaque; on most stacks it is a MAC address or a platform handle.
type PeerID string

// String returns the peer identifier.
func (p PeerID) String() string {
	return string(p)
}

// RawAdvertisement is one received advertisement or scan response.
type RawAdvertisement struct {
	Peer         PeerID
	Name         string
	RSSI         int
	ServiceUUIDs []uuid.UUID
	// ServiceData is keyed by 16-bit service data UUID.
	ServiceData map[uint16][]byte
	ReceivedAt  time.Time
}

// HasService reports whether u is among the advertised service UUIDs.
func (a RawAdvertisement) HasService(u uuid.UUID) bool {
	for _, s := range a.ServiceUUIDs {
		if s == u {
			return true
		}
	}
	return false
}

// Adapter is the radio capability consumed by the engine.
//
// Calls block until the radio confirms the operation or ctx is done.
// Streams returned by Scan and Subscribe are closed when ctx is done or the
// peer disconnects.
type Adapter interface {
	// Scan reports advertisements carrying any of the filter services,
	// or all advertisements when filter is empty.
	Scan(ctx context.Context, filter []uuid.UUID) (<-chan RawAdvertisement, error)

	// Connect establishes a link to peer.
	Connect(ctx context.Context, peer PeerID) error

	// Disconnect drops the link to peer. Disconnecting an unconnected peer succeeds.
	Disconnect(ctx context.Context, peer PeerID) error

	// DiscoverServices lists the primary services of a connected peer.
	DiscoverServices(ctx context.Context, peer PeerID) ([]uuid.UUID, error)

	// DiscoverCharacteristics lists the characteristics of one service.
	DiscoverCharacteristics(ctx context.Context, peer PeerID, service uuid.UUID) ([]uuid.UUID, error)

	// Write writes a characteristic value.
	Write(ctx context.Context, peer PeerID, service, char uuid.UUID, data []byte, withResponse bool) error

	// Read reads a characteristic value.
	Read(ctx context.Context, peer PeerID, service, char uuid.UUID) ([]byte, error)

	// Subscribe enables notifications on a characteristic.
	Subscribe(ctx context.Context, peer PeerID, service, char uuid.UUID) (<-chan []byte, error)

	// OnDisconnect registers a handler for links dropped by the radio or the peer.
	OnDisconnect(handler func(peer PeerID))
}

// Advertiser transmits the local device's own advertisement payload.
type Advertiser interface {
	// Advertise replaces the current outbound payload. It returns once the
	// radio has accepted it.
	Advertise(ctx context.Context, payload []byte) error

	// StopAdvertising stops outbound advertising.
	StopAdvertising() error
}
