// Session data bootstrap.
//
// Right after connecting, the client reads the session data characteristic.
// Dialect v5 devices in setup or operation mode return one ECB-encrypted block:
//
//	Checksum (4, LE 0xCAFEBABE) || Protocol (1) || SessionNonce (5) || ValidationKey (4) || Padding (2)
//
// Older dialects return SessionNonce (5) || ValidationKey (4) in the clear,
// or just the 5 nonce bytes, in which case the validation key is the first
// 4 bytes of the nonce.

package crypto

import "encoding/binary"

// SessionDataChecksum is the magic value prefixed to encrypted session data.
const SessionDataChecksum uint32 = 0xCAFEBABE

const checksumSize = 4

// EncryptedSessionData is the decoded content of an encrypted session data block.
type EncryptedSessionData struct {
	SessionData
	Protocol uint8
}

// ParseClearSessionData decodes session data sent without encryption.
func ParseClearSessionData(raw []byte) (SessionData, error) {
	var sd SessionData
	switch {
	case len(raw) >= SessionNonceSize+ValidationKeySize:
		copy(sd.Nonce[:], raw[:SessionNonceSize])
		copy(sd.ValidationKey[:], raw[SessionNonceSize:SessionNonceSize+ValidationKeySize])
	case len(raw) == SessionNonceSize:
		copy(sd.Nonce[:], raw)
		copy(sd.ValidationKey[:], raw[:ValidationKeySize])
	default:
		return sd, ErrSessionDataLength
	}
	return sd, nil
}

// DecryptSessionData decrypts and checksum-validates a v5 session data block.
func DecryptSessionData(raw, key []byte) (EncryptedSessionData, error) {
	var out EncryptedSessionData
	if len(raw) != BlockSize {
		return out, ErrSessionDataLength
	}
	plain, err := ECBDecrypt(key, raw)
	if err != nil {
		return out, err
	}
	if binary.LittleEndian.Uint32(plain[:checksumSize]) != SessionDataChecksum {
		return out, ErrSessionDataChecksum
	}
	off := checksumSize
	out.Protocol = plain[off]
	off++
	copy(out.Nonce[:], plain[off:off+SessionNonceSize])
	off += SessionNonceSize
	copy(out.ValidationKey[:], plain[off:off+ValidationKeySize])
	return out, nil
}

// EncryptSessionData builds an encrypted v5 session data block.
// Devices produce this; the client only uses it in simulations and tests.
func EncryptSessionData(sd SessionData, protocol uint8, key []byte) ([]byte, error) {
	plain := make([]byte, BlockSize)
	binary.LittleEndian.PutUint32(plain[:checksumSize], SessionDataChecksum)
	off := checksumSize
	plain[off] = protocol
	off++
	copy(plain[off:], sd.Nonce[:])
	off += SessionNonceSize
	copy(plain[off:], sd.ValidationKey[:])
	return ECBEncrypt(key, plain)
}
