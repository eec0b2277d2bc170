package session

import (
	"io"
	"sync"
	"time"

	"github.com/backkem/bluenet/pkg/crypto"
	"github.com/backkem/bluenet/pkg/packet"
	"github.com/backkem/bluenet/pkg/transport"
)

// ConnectionState is the protocol state of one connected peer.
//
// Dialect and operation mode are resolved once per connection. The access
// level is recomputed whenever key material changes: a setup key wins,
// then admin, member and guest in that order.
type ConnectionState struct {
	peer  transport.PeerID
	clock func() time.Time
	rand  io.Reader

	mu           sync.RWMutex
	phase        Phase
	dialect      packet.Dialect
	mode         OperationMode
	keys         *KeySet
	setupKey     []byte
	sessionData  *crypto.SessionData
	accessLevel  AccessLevel
	lastActivity time.Time
}

// ConnectionConfig configures a ConnectionState.
type ConnectionConfig struct {
	// Clock stamps activity. Default: time.Now
	Clock func() time.Time

	// Rand supplies packet nonces. Default: crypto/rand
	Rand io.Reader
}

// NewConnectionState creates state for a peer in the connecting phase.
func NewConnectionState(peer transport.PeerID, config ConnectionConfig) *ConnectionState {
	if config.Clock == nil {
		config.Clock = time.Now
	}
	return &ConnectionState{
		peer:         peer,
		clock:        config.Clock,
		rand:         config.Rand,
		phase:        PhaseConnecting,
		accessLevel:  AccessUnknown,
		lastActivity: config.Clock(),
	}
}

// Peer returns the peer this state belongs to.
func (c *ConnectionState) Peer() transport.PeerID {
	return c.peer
}

// Phase returns the current phase.
func (c *ConnectionState) Phase() Phase {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.phase
}

// SetPhase advances the phase. PhaseDisconnected is reachable from any
// phase; other phases only move forward.
func (c *ConnectionState) SetPhase(p Phase) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p != PhaseDisconnected && p < c.phase {
		return ErrInvalidPhase
	}
	c.phase = p
	return nil
}

// Dialect returns the negotiated dialect.
func (c *ConnectionState) Dialect() packet.Dialect {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dialect
}

// SetDialect records the negotiated dialect. It may be set only once.
func (c *ConnectionState) SetDialect(d packet.Dialect) error {
	if !d.IsValid() {
		return packet.ErrUnknownDialect
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dialect != packet.DialectUnknown {
		return ErrDialectAlreadySet
	}
	c.dialect = d
	if c.phase < PhaseConnected {
		c.phase = PhaseConnected
	}
	return nil
}

// Mode returns the resolved operation mode.
func (c *ConnectionState) Mode() OperationMode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

// SetMode records the operation mode. It may be set only once.
func (c *ConnectionState) SetMode(m OperationMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != ModeUnknown {
		return ErrModeAlreadySet
	}
	c.mode = m
	if c.phase < PhaseModeResolved {
		c.phase = PhaseModeResolved
	}
	return nil
}

// KeySet returns the active key set, or nil.
func (c *ConnectionState) KeySet() *KeySet {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.keys
}

// SetKeySet replaces the key set and recomputes the access level.
func (c *ConnectionState) SetKeySet(ks *KeySet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = ks
	c.recompute()
}

// SetSetupKey activates a one-time setup key. A nil key clears it.
func (c *ConnectionState) SetSetupKey(key []byte) error {
	if len(key) != 0 && len(key) != crypto.KeySize {
		return ErrInvalidKey
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(key) == 0 {
		c.setupKey = nil
	} else {
		c.setupKey = append([]byte(nil), key...)
	}
	c.recompute()
	return nil
}

func (c *ConnectionState) recompute() {
	if c.setupKey != nil {
		c.accessLevel = AccessSetup
		return
	}
	c.accessLevel = c.keys.HighestLevel()
}

// AccessLevel returns the level used to encrypt outgoing traffic.
func (c *ConnectionState) AccessLevel() AccessLevel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessLevel
}

// keyFor returns the key for level. Caller holds the lock.
func (c *ConnectionState) keyFor(level AccessLevel) []byte {
	if level == AccessSetup {
		return c.setupKey
	}
	return c.keys.Key(level)
}

// SessionDataKey returns the key that decrypts the session data block:
// the setup key in setup mode, the guest key otherwise.
func (c *ConnectionState) SessionDataKey() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.mode == ModeSetup {
		return c.setupKey
	}
	return c.keys.Key(AccessGuest)
}

// SetSessionData installs the session nonce and validation key.
func (c *ConnectionState) SetSessionData(sd crypto.SessionData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionData = &sd
	if c.phase < PhaseSessionEstablished {
		c.phase = PhaseSessionEstablished
	}
}

// SessionData returns the session data and whether it is set.
func (c *ConnectionState) SessionData() (crypto.SessionData, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.sessionData == nil {
		return crypto.SessionData{}, false
	}
	return *c.sessionData, true
}

// Encrypt wraps payload for the device at the current access level.
func (c *ConnectionState) Encrypt(payload []byte) ([]byte, error) {
	c.mu.RLock()
	sd := c.sessionData
	level := c.accessLevel
	key := c.keyFor(level)
	c.mu.RUnlock()

	if sd == nil {
		return nil, crypto.ErrNoSessionNonce
	}
	if !level.CanEncrypt() || key == nil {
		return nil, crypto.ErrKeyUnavailable
	}
	return crypto.Encrypt(payload, key, uint8(level), sd, c.rand)
}

// Decrypt opens an envelope from the device with the key named by its
// access level byte.
func (c *ConnectionState) Decrypt(data []byte) ([]byte, error) {
	c.mu.RLock()
	sd := c.sessionData
	c.mu.RUnlock()

	lookup := func(level uint8) ([]byte, error) {
		c.mu.RLock()
		defer c.mu.RUnlock()
		key := c.keyFor(AccessLevel(level))
		if key == nil {
			return nil, crypto.ErrKeyUnavailable
		}
		return key, nil
	}
	return crypto.Decrypt(data, lookup, sd)
}

// MarkActivity records a successful read or write.
func (c *ConnectionState) MarkActivity() {
	now := c.clock()
	c.mu.Lock()
	c.lastActivity = now
	c.mu.Unlock()
}

// LastActivity returns the time of the last read or write.
func (c *ConnectionState) LastActivity() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActivity
}

// Snapshot is a point-in-time copy of the state for reporting.
type Snapshot struct {
	Peer         transport.PeerID
	Phase        Phase
	Dialect      packet.Dialect
	Mode         OperationMode
	AccessLevel  AccessLevel
	ReferenceID  string
	HasSession   bool
	LastActivity time.Time
}

// Snapshot returns a copy of the reportable fields.
func (c *ConnectionState) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Snapshot{
		Peer:         c.peer,
		Phase:        c.phase,
		Dialect:      c.dialect,
		Mode:         c.mode,
		AccessLevel:  c.accessLevel,
		HasSession:   c.sessionData != nil,
		LastActivity: c.lastActivity,
	}
	if c.keys != nil {
		s.ReferenceID = c.keys.ReferenceID
	}
	return s
}
