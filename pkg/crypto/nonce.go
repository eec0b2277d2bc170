// Nonce construction for command encryption.

package crypto

import (
	"crypto/rand"
	"io"
)

// Sizes used by the command encryption scheme.
const (
	// KeySize is the AES-128 key length.
	KeySize = 16

	// BlockSize is the AES block length.
	BlockSize = 16

	// PacketNonceSize is the length of the random per-packet nonce.
	PacketNonceSize = 3

	// SessionNonceSize is the length of the device-issued session nonce.
	SessionNonceSize = 5

	// ValidationKeySize is the length of the device-issued validation key.
	ValidationKeySize = 4
)

// PacketNonce is the random nonce prepended to every encrypted command.
type PacketNonce [PacketNonceSize]byte

// SessionNonce is the per-connection nonce issued by the device.
type SessionNonce [SessionNonceSize]byte

// ValidationKey is the per-connection integrity prefix issued by the device.
type ValidationKey [ValidationKeySize]byte

// BuildIV constructs the 16-byte initial counter block for AES-CTR.
//
// Format: PacketNonce (3 bytes) || SessionNonce (5 bytes) || 0x00 * 8
func BuildIV(packetNonce PacketNonce, sessionNonce SessionNonce) [BlockSize]byte {
	var iv [BlockSize]byte
	copy(iv[0:PacketNonceSize], packetNonce[:])
	copy(iv[PacketNonceSize:PacketNonceSize+SessionNonceSize], sessionNonce[:])
	return iv
}

// NewPacketNonce reads a fresh random packet nonce from r.
// A nil reader uses crypto/rand.
func NewPacketNonce(r io.Reader) (PacketNonce, error) {
	if r == nil {
		r = rand.Reader
	}
	var n PacketNonce
	if _, err := io.ReadFull(r, n[:]); err != nil {
		return n, err
	}
	return n, nil
}
