package advertisement

import (
	"sync"
	"time"

	"github.com/backkem/bluenet/pkg/servicedata"
	"github.com/backkem/bluenet/pkg/session"
	"github.com/backkem/bluenet/pkg/transport"
)

// Manager keeps one Validator per peer, created on first sight and dropped
// by Sweep once the peer has been silent for Config.Expiry.
type Manager struct {
	config Config

	mu         sync.RWMutex
	validators map[transport.PeerID]*entry
	keys       []Candidate
}

type entry struct {
	validator *Validator
	lastSeen  time.Time
}

// NewManager creates a manager with no keys.
func NewManager(config Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()
	return &Manager{
		config:     config,
		validators: make(map[transport.PeerID]*entry),
	}, nil
}

// SetKeys replaces the candidate keys. Every validator is reset, which
// also lifts lock-outs.
func (m *Manager) SetKeys(keys []Candidate) {
	cp := make([]Candidate, len(keys))
	for i, k := range keys {
		cp[i] = Candidate{ReferenceID: k.ReferenceID, Key: append([]byte(nil), k.Key...)}
	}

	m.mu.Lock()
	m.keys = cp
	validators := make([]*Validator, 0, len(m.validators))
	for _, e := range m.validators {
		validators = append(validators, e.validator)
	}
	m.mu.Unlock()

	for _, v := range validators {
		v.Reset()
	}
}

// Keys returns the current candidate keys.
func (m *Manager) Keys() []Candidate {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.keys
}

// Process parses the stone service data of adv and runs it through the
// peer's validator. It returns ErrNoServiceData when adv carries none.
func (m *Manager) Process(adv transport.RawAdvertisement) (Result, error) {
	sd := servicedata.FromAdvertisement(adv)
	if sd == nil && servicedata.ModeOf(adv, nil) == session.ModeUnknown {
		return Result{Peer: adv.Peer}, ErrNoServiceData
	}

	m.mu.Lock()
	e, err := m.entryLocked(adv.Peer)
	if err != nil {
		m.mu.Unlock()
		return Result{Peer: adv.Peer}, err
	}
	e.lastSeen = m.config.Clock()
	keys := m.keys
	m.mu.Unlock()
	return e.validator.Process(adv, sd, keys), nil
}

// Lookup returns the validator of a tracked peer.
func (m *Manager) Lookup(peer transport.PeerID) (*Validator, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.validators[peer]
	if !ok {
		return nil, false
	}
	return e.validator, true
}

// Validator returns the validator for peer, creating it if needed.
func (m *Manager) Validator(peer transport.PeerID) (*Validator, error) {
	m.mu.RLock()
	e, ok := m.validators[peer]
	m.mu.RUnlock()
	if ok {
		return e.validator, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.entryLocked(peer)
	if err != nil {
		return nil, err
	}
	return e.validator, nil
}

func (m *Manager) entryLocked(peer transport.PeerID) (*entry, error) {
	if e, ok := m.validators[peer]; ok {
		return e, nil
	}
	v, err := NewValidator(peer, m.config)
	if err != nil {
		return nil, err
	}
	e := &entry{validator: v, lastSeen: m.config.Clock()}
	m.validators[peer] = e
	return e, nil
}

// Sweep drops the validators of peers not heard from within Config.Expiry
// and returns them. A locked-out peer stays until its cooldown has ended,
// so going quiet does not lift the lock-out.
func (m *Manager) Sweep() []transport.PeerID {
	now := m.config.Clock()
	cutoff := now.Add(-m.config.Expiry)

	m.mu.Lock()
	defer m.mu.Unlock()
	var dropped []transport.PeerID
	for peer, e := range m.validators {
		if e.lastSeen.After(cutoff) {
			continue
		}
		if until := e.validator.heldUntil(); now.Before(until) {
			continue
		}
		delete(m.validators, peer)
		dropped = append(dropped, peer)
	}
	return dropped
}

// Forget drops the state of a peer that is no longer reachable.
func (m *Manager) Forget(peer transport.PeerID) {
	m.mu.Lock()
	delete(m.validators, peer)
	m.mu.Unlock()
}

// Count returns the number of tracked peers.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.validators)
}
