package session

import "github.com/backkem/bluenet/pkg/crypto"

// KeySet is the key material of one sphere. It is immutable; the
// constructor copies its inputs.
type KeySet struct {
	ReferenceID string

	admin  []byte
	member []byte
	guest  []byte
}

// NewKeySet creates a key set. Empty slots are passed as nil.
func NewKeySet(referenceID string, admin, member, guest []byte) (*KeySet, error) {
	ks := &KeySet{ReferenceID: referenceID}
	var err error
	if ks.admin, err = copyKey(admin); err != nil {
		return nil, err
	}
	if ks.member, err = copyKey(member); err != nil {
		return nil, err
	}
	if ks.guest, err = copyKey(guest); err != nil {
		return nil, err
	}
	return ks, nil
}

func copyKey(key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, nil
	}
	if len(key) != crypto.KeySize {
		return nil, ErrInvalidKey
	}
	return append([]byte(nil), key...), nil
}

// Key returns a copy of the key for level, or nil if the slot is empty.
func (k *KeySet) Key(level AccessLevel) []byte {
	if k == nil {
		return nil
	}
	var key []byte
	switch level {
	case AccessAdmin:
		key = k.admin
	case AccessMember:
		key = k.member
	case AccessGuest:
		key = k.guest
	}
	if key == nil {
		return nil
	}
	return append([]byte(nil), key...)
}

// HighestLevel returns the most privileged filled slot, or AccessUnknown.
func (k *KeySet) HighestLevel() AccessLevel {
	if k == nil {
		return AccessUnknown
	}
	switch {
	case k.admin != nil:
		return AccessAdmin
	case k.member != nil:
		return AccessMember
	case k.guest != nil:
		return AccessGuest
	default:
		return AccessUnknown
	}
}

// Keys returns every filled key with its level, most privileged first.
func (k *KeySet) Keys() map[AccessLevel][]byte {
	out := make(map[AccessLevel][]byte, 3)
	for _, l := range []AccessLevel{AccessAdmin, AccessMember, AccessGuest} {
		if key := k.Key(l); key != nil {
			out[l] = key
		}
	}
	return out
}
