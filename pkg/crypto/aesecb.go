// AES-ECB for broadcast payloads and the session data block.
// Stone broadcasts and the v5 session data are single AES blocks encrypted
// without chaining.

package crypto

import (
	"crypto/aes"
)

// ECBEncrypt encrypts each 16-byte block of data independently.
func ECBEncrypt(key, data []byte) ([]byte, error) {
	return ecb(key, data, true)
}

// ECBDecrypt decrypts each 16-byte block of data independently.
func ECBDecrypt(key, data []byte) ([]byte, error) {
	return ecb(key, data, false)
}

func ecb(key, data []byte, encrypt bool) ([]byte, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	if len(data) == 0 || len(data)%BlockSize != 0 {
		return nil, ErrNotBlockAligned
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(data))
	for i := 0; i < len(data); i += BlockSize {
		if encrypt {
			block.Encrypt(out[i:i+BlockSize], data[i:i+BlockSize])
		} else {
			block.Decrypt(out[i:i+BlockSize], data[i:i+BlockSize])
		}
	}
	return out, nil
}
