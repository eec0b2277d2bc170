// Package keystore persists the per-sphere key material a client needs to
// talk to its stones.
package keystore

import (
	"errors"
	"fmt"

	"github.com/backkem/bluenet/pkg/session"
)

// Errors returned by the keystore package.
var (
	ErrNotFound           = errors.New("keystore: sphere not found")
	ErrNoReference        = errors.New("keystore: sphere reference is required")
	ErrInvalidKey         = errors.New("keystore: key must be 16 bytes")
	ErrPassphraseRequired = errors.New("keystore: file is sealed, passphrase required")
	ErrUnsupportedVersion = errors.New("keystore: unsupported file version")
)

// Sphere holds the keys of one sphere. Any key may be absent.
type Sphere struct {
	ReferenceID string
	SphereUID   uint8

	AdminKey       []byte
	MemberKey      []byte
	GuestKey       []byte
	ServiceDataKey []byte
}

// Validate checks key lengths.
func (s *Sphere) Validate() error {
	if s.ReferenceID == "" {
		return ErrNoReference
	}
	for _, k := range [][]byte{s.AdminKey, s.MemberKey, s.GuestKey, s.ServiceDataKey} {
		if k != nil && len(k) != 16 {
			return fmt.Errorf("%w: sphere %q", ErrInvalidKey, s.ReferenceID)
		}
	}
	return nil
}

// KeySet returns the connection keys of the sphere.
func (s *Sphere) KeySet() (*session.KeySet, error) {
	return session.NewKeySet(s.ReferenceID, s.AdminKey, s.MemberKey, s.GuestKey)
}

// Clone creates a deep copy.
func (s *Sphere) Clone() *Sphere {
	if s == nil {
		return nil
	}
	return &Sphere{
		ReferenceID:    s.ReferenceID,
		SphereUID:      s.SphereUID,
		AdminKey:       cloneKey(s.AdminKey),
		MemberKey:      cloneKey(s.MemberKey),
		GuestKey:       cloneKey(s.GuestKey),
		ServiceDataKey: cloneKey(s.ServiceDataKey),
	}
}

func cloneKey(k []byte) []byte {
	if k == nil {
		return nil
	}
	return append([]byte(nil), k...)
}

// Store abstracts persistent key storage.
//
// All methods must be safe for concurrent use.
type Store interface {
	LoadSpheres() ([]*Sphere, error)
	SaveSphere(s *Sphere) error
	DeleteSphere(referenceID string) error
}

// Lookup returns one sphere from a store.
func Lookup(store Store, referenceID string) (*Sphere, error) {
	spheres, err := store.LoadSpheres()
	if err != nil {
		return nil, err
	}
	for _, s := range spheres {
		if s.ReferenceID == referenceID {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNotFound, referenceID)
}
