package session

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/backkem/bluenet/pkg/crypto"
	"github.com/backkem/bluenet/pkg/packet"
)

func key(b byte) []byte {
	return bytes.Repeat([]byte{b}, crypto.KeySize)
}

func mustKeySet(t *testing.T, admin, member, guest []byte) *KeySet {
	t.Helper()
	ks, err := NewKeySet("sphere-1", admin, member, guest)
	if err != nil {
		t.Fatalf("NewKeySet() error = %v", err)
	}
	return ks
}

func TestNewKeySet(t *testing.T) {
	t.Run("copies input", func(t *testing.T) {
		admin := key(0x01)
		ks := mustKeySet(t, admin, nil, nil)
		admin[0] = 0xFF
		if got := ks.Key(AccessAdmin); got[0] != 0x01 {
			t.Errorf("Key(admin)[0] = %#x, want 0x01", got[0])
		}
	})

	t.Run("rejects short key", func(t *testing.T) {
		if _, err := NewKeySet("x", []byte{1, 2, 3}, nil, nil); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("NewKeySet() error = %v, want %v", err, ErrInvalidKey)
		}
	})

	t.Run("empty slots", func(t *testing.T) {
		ks := mustKeySet(t, nil, nil, key(3))
		if ks.Key(AccessAdmin) != nil {
			t.Error("Key(admin) should be nil")
		}
		if len(ks.Keys()) != 1 {
			t.Errorf("len(Keys()) = %d, want 1", len(ks.Keys()))
		}
	})
}

func TestConnectionState_AccessLevel(t *testing.T) {
	tests := []struct {
		name     string
		keys     *KeySet
		setupKey []byte
		want     AccessLevel
	}{
		{"admin", mustKeySet(t, key(1), key(2), key(3)), nil, AccessAdmin},
		{"member", mustKeySet(t, nil, key(2), key(3)), nil, AccessMember},
		{"guest only", mustKeySet(t, nil, nil, key(3)), nil, AccessGuest},
		{"no keys", nil, nil, AccessUnknown},
		{"empty key set", mustKeySet(t, nil, nil, nil), nil, AccessUnknown},
		{"setup wins", mustKeySet(t, key(1), nil, nil), key(9), AccessSetup},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewConnectionState("peer", ConnectionConfig{})
			if err := c.SetDialect(packet.DialectV5); err != nil {
				t.Fatalf("SetDialect() error = %v", err)
			}
			if err := c.SetMode(ModeOperation); err != nil {
				t.Fatalf("SetMode() error = %v", err)
			}
			c.SetKeySet(tt.keys)
			if err := c.SetSetupKey(tt.setupKey); err != nil {
				t.Fatalf("SetSetupKey() error = %v", err)
			}
			if got := c.AccessLevel(); got != tt.want {
				t.Errorf("AccessLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConnectionState_AccessLevelRecomputed(t *testing.T) {
	c := NewConnectionState("peer", ConnectionConfig{})
	c.SetKeySet(mustKeySet(t, key(1), nil, nil))
	if c.AccessLevel() != AccessAdmin {
		t.Fatalf("AccessLevel() = %v, want admin", c.AccessLevel())
	}
	c.SetKeySet(mustKeySet(t, nil, nil, key(3)))
	if c.AccessLevel() != AccessGuest {
		t.Errorf("AccessLevel() = %v, want guest", c.AccessLevel())
	}
	_ = c.SetSetupKey(key(9))
	if c.AccessLevel() != AccessSetup {
		t.Errorf("AccessLevel() = %v, want setup", c.AccessLevel())
	}
	_ = c.SetSetupKey(nil)
	if c.AccessLevel() != AccessGuest {
		t.Errorf("AccessLevel() after clearing setup key = %v, want guest", c.AccessLevel())
	}
}

func TestConnectionState_SetOnce(t *testing.T) {
	c := NewConnectionState("peer", ConnectionConfig{})
	if err := c.SetDialect(packet.DialectUnknown); !errors.Is(err, packet.ErrUnknownDialect) {
		t.Errorf("SetDialect(unknown) error = %v, want %v", err, packet.ErrUnknownDialect)
	}
	if err := c.SetDialect(packet.DialectV3); err != nil {
		t.Fatalf("SetDialect() error = %v", err)
	}
	if err := c.SetDialect(packet.DialectV5); !errors.Is(err, ErrDialectAlreadySet) {
		t.Errorf("second SetDialect() error = %v, want %v", err, ErrDialectAlreadySet)
	}
	if c.Dialect() != packet.DialectV3 {
		t.Errorf("Dialect() = %v, want v3", c.Dialect())
	}

	if err := c.SetMode(ModeSetup); err != nil {
		t.Fatalf("SetMode() error = %v", err)
	}
	if err := c.SetMode(ModeOperation); !errors.Is(err, ErrModeAlreadySet) {
		t.Errorf("second SetMode() error = %v, want %v", err, ErrModeAlreadySet)
	}
	if c.Phase() != PhaseModeResolved {
		t.Errorf("Phase() = %v, want %v", c.Phase(), PhaseModeResolved)
	}
}

func TestConnectionState_Phase(t *testing.T) {
	c := NewConnectionState("peer", ConnectionConfig{})
	if c.Phase() != PhaseConnecting {
		t.Fatalf("Phase() = %v, want connecting", c.Phase())
	}
	if err := c.SetPhase(PhaseReady); err != nil {
		t.Fatalf("SetPhase(ready) error = %v", err)
	}
	if err := c.SetPhase(PhaseConnected); !errors.Is(err, ErrInvalidPhase) {
		t.Errorf("SetPhase(connected) error = %v, want %v", err, ErrInvalidPhase)
	}
	if err := c.SetPhase(PhaseDisconnected); err != nil {
		t.Errorf("SetPhase(disconnected) error = %v", err)
	}
}

func TestConnectionState_EncryptDecrypt(t *testing.T) {
	sd := crypto.SessionData{
		Nonce:         crypto.SessionNonce{1, 2, 3, 4, 5},
		ValidationKey: crypto.ValidationKey{0xAA, 0xBB, 0xCC, 0xDD},
	}

	t.Run("requires session data", func(t *testing.T) {
		c := NewConnectionState("peer", ConnectionConfig{})
		c.SetKeySet(mustKeySet(t, key(1), nil, nil))
		if _, err := c.Encrypt([]byte{1}); !errors.Is(err, crypto.ErrNoSessionNonce) {
			t.Errorf("Encrypt() error = %v, want %v", err, crypto.ErrNoSessionNonce)
		}
	})

	t.Run("unknown level disallows encryption", func(t *testing.T) {
		c := NewConnectionState("peer", ConnectionConfig{})
		c.SetSessionData(sd)
		if _, err := c.Encrypt([]byte{1}); !errors.Is(err, crypto.ErrKeyUnavailable) {
			t.Errorf("Encrypt() error = %v, want %v", err, crypto.ErrKeyUnavailable)
		}
	})

	t.Run("round trip per level", func(t *testing.T) {
		for _, ks := range []*KeySet{
			mustKeySet(t, key(1), key(2), key(3)),
			mustKeySet(t, nil, key(2), key(3)),
			mustKeySet(t, nil, nil, key(3)),
		} {
			c := NewConnectionState("peer", ConnectionConfig{})
			c.SetKeySet(ks)
			c.SetSessionData(sd)

			payload := []byte("switch on")
			enc, err := c.Encrypt(payload)
			if err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			if AccessLevel(enc[crypto.PacketNonceSize]) != c.AccessLevel() {
				t.Errorf("envelope level = %d, want %v", enc[crypto.PacketNonceSize], c.AccessLevel())
			}
			dec, err := c.Decrypt(enc)
			if err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if !bytes.Equal(dec[:len(payload)], payload) {
				t.Errorf("Decrypt() = %x, want prefix %x", dec, payload)
			}
		}
	})

	t.Run("setup key", func(t *testing.T) {
		c := NewConnectionState("peer", ConnectionConfig{})
		_ = c.SetMode(ModeSetup)
		_ = c.SetSetupKey(key(9))
		c.SetSessionData(sd)
		enc, err := c.Encrypt([]byte{1, 2})
		if err != nil {
			t.Fatalf("Encrypt() error = %v", err)
		}
		if enc[crypto.PacketNonceSize] != uint8(AccessSetup) {
			t.Errorf("envelope level = %d, want %d", enc[crypto.PacketNonceSize], AccessSetup)
		}
		if !bytes.Equal(c.SessionDataKey(), key(9)) {
			t.Error("SessionDataKey() should be the setup key in setup mode")
		}
	})

	t.Run("integrity mismatch", func(t *testing.T) {
		c := NewConnectionState("peer", ConnectionConfig{})
		c.SetKeySet(mustKeySet(t, key(1), nil, nil))
		c.SetSessionData(sd)
		other, _ := crypto.Encrypt([]byte{1}, key(1), 0, &crypto.SessionData{Nonce: sd.Nonce}, nil)
		if _, err := c.Decrypt(other); !errors.Is(err, crypto.ErrIntegrityMismatch) {
			t.Errorf("Decrypt() error = %v, want %v", err, crypto.ErrIntegrityMismatch)
		}
	})
}

func TestConnectionState_Activity(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewConnectionState("peer", ConnectionConfig{Clock: func() time.Time { return now }})
	now = now.Add(5 * time.Second)
	c.MarkActivity()
	if got := c.LastActivity(); !got.Equal(now) {
		t.Errorf("LastActivity() = %v, want %v", got, now)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(ConnectionConfig{})
	a := r.Create("a")
	r.Create("b")
	if r.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", r.Count())
	}
	if r.Get("a") != a {
		t.Error("Get(a) returned a different state")
	}

	fresh := r.Create("a")
	if fresh == a {
		t.Error("Create() should replace existing state")
	}

	r.Remove("a")
	if r.Get("a") != nil {
		t.Error("Get(a) after Remove() should be nil")
	}
	if fresh.Phase() != PhaseDisconnected {
		t.Errorf("removed Phase() = %v, want disconnected", fresh.Phase())
	}

	peers := r.Clear()
	if len(peers) != 1 || peers[0] != "b" {
		t.Errorf("Clear() = %v, want [b]", peers)
	}
	if r.Count() != 0 {
		t.Errorf("Count() after Clear() = %d, want 0", r.Count())
	}
}
