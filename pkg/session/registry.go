package session

import (
	"sync"

	"github.com/backkem/bluenet/pkg/transport"
)

// Registry maps peers to their connection state. Entries are created on
// connect and removed on disconnect or radio reset.
type Registry struct {
	config ConnectionConfig

	mu     sync.RWMutex
	states map[transport.PeerID]*ConnectionState
}

// NewRegistry creates an empty registry. New states use config.
func NewRegistry(config ConnectionConfig) *Registry {
	return &Registry{
		config: config,
		states: make(map[transport.PeerID]*ConnectionState),
	}
}

// Get returns the state for peer, or nil.
func (r *Registry) Get(peer transport.PeerID) *ConnectionState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.states[peer]
}

// Create replaces any state for peer with a fresh one.
func (r *Registry) Create(peer transport.PeerID) *ConnectionState {
	st := NewConnectionState(peer, r.config)
	r.mu.Lock()
	r.states[peer] = st
	r.mu.Unlock()
	return st
}

// Remove drops the state for peer and marks it disconnected.
func (r *Registry) Remove(peer transport.PeerID) {
	r.mu.Lock()
	st, ok := r.states[peer]
	delete(r.states, peer)
	r.mu.Unlock()
	if ok {
		_ = st.SetPhase(PhaseDisconnected)
	}
}

// Clear drops every state. It returns the peers that were present.
func (r *Registry) Clear() []transport.PeerID {
	r.mu.Lock()
	states := r.states
	r.states = make(map[transport.PeerID]*ConnectionState)
	r.mu.Unlock()

	peers := make([]transport.PeerID, 0, len(states))
	for peer, st := range states {
		_ = st.SetPhase(PhaseDisconnected)
		peers = append(peers, peer)
	}
	return peers
}

// Count returns the number of tracked connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.states)
}

// Peers returns the tracked peers.
func (r *Registry) Peers() []transport.PeerID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	peers := make([]transport.PeerID, 0, len(r.states))
	for peer := range r.states {
		peers = append(peers, peer)
	}
	return peers
}
