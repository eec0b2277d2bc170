// Command encryption envelope.
//
// Wire format: PacketNonce (3) || AccessLevel (1) || Ciphertext (16 * k)
//
// The plaintext is ValidationKey (4) || Payload, zero-padded to a multiple of
// 16 bytes. After decryption the receiver checks the validation prefix and
// strips it. Padding is left in place; the inner packet carries its own length.

package crypto

import (
	"bytes"
	"io"
)

// EnvelopeHeaderSize is the size of the clear header preceding the ciphertext.
const EnvelopeHeaderSize = PacketNonceSize + 1

// minEnvelopeSize is the header plus one cipher block.
const minEnvelopeSize = EnvelopeHeaderSize + BlockSize

// SessionData holds the per-connection values issued by the device.
type SessionData struct {
	Nonce         SessionNonce
	ValidationKey ValidationKey
}

// KeyLookup returns the key for an access level byte, or ErrKeyUnavailable.
type KeyLookup func(level uint8) ([]byte, error)

// Encrypt wraps payload in an encrypted envelope using key at the given access level.
// A fresh packet nonce is read from rand (crypto/rand when nil).
func Encrypt(payload, key []byte, level uint8, session *SessionData, rand io.Reader) ([]byte, error) {
	nonce, err := NewPacketNonce(rand)
	if err != nil {
		return nil, err
	}
	return EncryptWithNonce(payload, key, level, session, nonce)
}

// EncryptWithNonce is Encrypt with a caller-supplied packet nonce.
func EncryptWithNonce(payload, key []byte, level uint8, session *SessionData, nonce PacketNonce) ([]byte, error) {
	if session == nil {
		return nil, ErrNoSessionNonce
	}
	if len(key) == 0 {
		return nil, ErrKeyUnavailable
	}
	ctr, err := NewAESCTR(key)
	if err != nil {
		return nil, err
	}

	plainLen := ValidationKeySize + len(payload)
	if rem := plainLen % BlockSize; rem != 0 {
		plainLen += BlockSize - rem
	}
	plaintext := make([]byte, plainLen)
	copy(plaintext, session.ValidationKey[:])
	copy(plaintext[ValidationKeySize:], payload)

	iv := BuildIV(nonce, session.Nonce)

	out := make([]byte, EnvelopeHeaderSize, EnvelopeHeaderSize+plainLen)
	copy(out, nonce[:])
	out[PacketNonceSize] = level
	out = append(out, ctr.Encrypt(iv, plaintext)...)
	return out, nil
}

// Decrypt opens an envelope, selecting the key for its access level byte.
// The returned payload has the validation prefix removed and keeps block padding.
func Decrypt(data []byte, keys KeyLookup, session *SessionData) ([]byte, error) {
	if session == nil {
		return nil, ErrNoSessionNonce
	}
	if len(data) < minEnvelopeSize {
		return nil, ErrPayloadTooShort
	}
	if (len(data)-EnvelopeHeaderSize)%BlockSize != 0 {
		return nil, ErrNotBlockAligned
	}

	var nonce PacketNonce
	copy(nonce[:], data[:PacketNonceSize])
	level := data[PacketNonceSize]

	key, err := keys(level)
	if err != nil {
		return nil, err
	}
	ctr, err := NewAESCTR(key)
	if err != nil {
		return nil, err
	}

	iv := BuildIV(nonce, session.Nonce)
	plaintext := ctr.Decrypt(iv, data[EnvelopeHeaderSize:])

	if !bytes.Equal(plaintext[:ValidationKeySize], session.ValidationKey[:]) {
		return nil, ErrIntegrityMismatch
	}
	return plaintext[ValidationKeySize:], nil
}
