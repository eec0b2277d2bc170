package bluenet

import (
	"sync"
	"time"

	"github.com/backkem/bluenet/pkg/session"
	"github.com/backkem/bluenet/pkg/transport"
)

// Nearest describes the strongest stone heard recently.
type Nearest struct {
	Peer        transport.PeerID      `json:"peer"`
	Name        string                `json:"name,omitempty"`
	RSSI        int                   `json:"rssi"`
	Mode        session.OperationMode `json:"mode"`
	Validated   bool                  `json:"validated"`
	ReferenceID string                `json:"referenceId,omitempty"`
	SeenAt      time.Time             `json:"seenAt"`
}

// NearestTracker keeps the last sighting of each peer and picks the one
// with the highest RSSI among those heard within the expiry window.
type NearestTracker struct {
	expiry time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	entries map[transport.PeerID]Nearest
	best    transport.PeerID
}

// NewNearestTracker creates a tracker.
func NewNearestTracker(expiry time.Duration, clock func() time.Time) *NearestTracker {
	if clock == nil {
		clock = time.Now
	}
	return &NearestTracker{
		expiry:  expiry,
		clock:   clock,
		entries: make(map[transport.PeerID]Nearest),
	}
}

// Update records a sighting. It returns the nearest stone and whether it
// should be announced: the nearest peer changed, or the nearest peer
// itself was just heard. Non-negative RSSI values are reported by some
// stacks for unknown signal strength and are ignored.
func (n *NearestTracker) Update(e Nearest) (Nearest, bool) {
	if e.RSSI >= 0 {
		return Nearest{}, false
	}
	if e.SeenAt.IsZero() {
		e.SeenAt = n.clock()
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.entries[e.Peer] = e
	best, ok := n.nearestLocked()
	if !ok {
		return Nearest{}, false
	}
	changed := best.Peer != n.best || best.Peer == e.Peer
	n.best = best.Peer
	return best, changed
}

// Nearest returns the current nearest stone.
func (n *NearestTracker) Nearest() (Nearest, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.nearestLocked()
}

// Remove forgets a peer, e.g. after it changed mode.
func (n *NearestTracker) Remove(peer transport.PeerID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.entries, peer)
	if n.best == peer {
		n.best = ""
	}
}

func (n *NearestTracker) nearestLocked() (Nearest, bool) {
	now := n.clock()
	var best Nearest
	found := false
	for peer, e := range n.entries {
		if n.expiry > 0 && now.Sub(e.SeenAt) > n.expiry {
			delete(n.entries, peer)
			continue
		}
		if !found || e.RSSI > best.RSSI || (e.RSSI == best.RSSI && e.Peer < best.Peer) {
			best = e
			found = true
		}
	}
	return best, found
}
