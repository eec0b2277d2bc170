// AES-CTR implementation for stone command traffic.
// Command payloads are encrypted with AES-128 in counter mode. The initial
// counter block is built from a per-packet nonce and the per-connection session
// nonce; the remaining 8 bytes hold a big-endian block counter starting at zero.

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
)

// AESCTR represents an AES-128-CTR cipher instance for command encryption.
type AESCTR struct {
	block cipher.Block
}

// NewAESCTR creates a new AES-128-CTR cipher.
// The key must be exactly 16 bytes (128 bits).
func NewAESCTR(key []byte) (*AESCTR, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	return &AESCTR{block: block}, nil
}

// Encrypt encrypts plaintext starting from the given initial counter block.
// Returns ciphertext of the same length as plaintext.
func (c *AESCTR) Encrypt(iv [BlockSize]byte, plaintext []byte) []byte {
	ciphertext := make([]byte, len(plaintext))
	c.ctrXOR(iv, ciphertext, plaintext)
	return ciphertext
}

// Decrypt decrypts ciphertext starting from the given initial counter block.
func (c *AESCTR) Decrypt(iv [BlockSize]byte, ciphertext []byte) []byte {
	plaintext := make([]byte, len(ciphertext))
	c.ctrXOR(iv, plaintext, ciphertext)
	return plaintext
}

func (c *AESCTR) ctrXOR(iv [BlockSize]byte, dst, src []byte) {
	if len(src) == 0 {
		return
	}
	// The counter occupies the zeroed low 8 bytes of the IV, so the
	// standard big-endian increment never carries into the nonces.
	stream := cipher.NewCTR(c.block, iv[:])
	stream.XORKeyStream(dst, src)
}

// AESCTREncrypt is a convenience function for AES-128-CTR encryption.
func AESCTREncrypt(key []byte, iv [BlockSize]byte, plaintext []byte) ([]byte, error) {
	ctr, err := NewAESCTR(key)
	if err != nil {
		return nil, err
	}
	return ctr.Encrypt(iv, plaintext), nil
}

// AESCTRDecrypt is a convenience function for AES-128-CTR decryption.
func AESCTRDecrypt(key []byte, iv [BlockSize]byte, ciphertext []byte) ([]byte, error) {
	ctr, err := NewAESCTR(key)
	if err != nil {
		return nil, err
	}
	return ctr.Decrypt(iv, ciphertext), nil
}
