package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
)

// Passphrase sealing parameters.
const (
	// PBKDF2Iterations is the iteration count used for passphrase keys.
	PBKDF2Iterations = 100000

	// SealSaltSize is the random salt stored in front of sealed data.
	SealSaltSize = 16
)

// PBKDF2SHA256 derives a key from a password using PBKDF2-HMAC-SHA256.
func PBKDF2SHA256(password, salt []byte, iterations, keyLen int) []byte {
	return pbkdf2.Key(password, salt, iterations, keyLen, sha256.New)
}

// SealWithPassphrase encrypts plaintext under a key derived from passphrase.
//
// Format: Salt (16) || Nonce (24) || XChaCha20-Poly1305 ciphertext
func SealWithPassphrase(passphrase, plaintext []byte) ([]byte, error) {
	salt := make([]byte, SealSaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(PBKDF2SHA256(passphrase, salt, PBKDF2Iterations, chacha20poly1305.KeySize))
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(salt)+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, salt), nil
}

// OpenWithPassphrase reverses SealWithPassphrase.
func OpenWithPassphrase(passphrase, sealed []byte) ([]byte, error) {
	headerLen := SealSaltSize + chacha20poly1305.NonceSizeX
	if len(sealed) < headerLen+chacha20poly1305.Overhead {
		return nil, ErrSealedDataCorrupt
	}
	salt := sealed[:SealSaltSize]
	nonce := sealed[SealSaltSize:headerLen]

	aead, err := chacha20poly1305.NewX(PBKDF2SHA256(passphrase, salt, PBKDF2Iterations, chacha20poly1305.KeySize))
	if err != nil {
		return nil, err
	}
	plain, err := aead.Open(nil, nonce, sealed[headerLen:], salt)
	if err != nil {
		return nil, ErrSealedDataCorrupt
	}
	return plain, nil
}
