package crypto

import "errors"

// Errors returned by the encryption engine.
var (
	// ErrInvalidKeySize indicates a key that is not 16 bytes.
	ErrInvalidKeySize = errors.New("crypto: invalid key size, must be 16 bytes")

	// ErrNoSessionNonce indicates an encrypt or decrypt before session data was read.
	ErrNoSessionNonce = errors.New("crypto: no session nonce set")

	// ErrKeyUnavailable indicates no key is loaded for the requested access level.
	ErrKeyUnavailable = errors.New("crypto: key not available for access level")

	// ErrPayloadTooShort indicates an envelope shorter than header plus one block.
	ErrPayloadTooShort = errors.New("crypto: payload too short")

	// ErrNotBlockAligned indicates ciphertext that is not a multiple of 16 bytes.
	ErrNotBlockAligned = errors.New("crypto: payload not block aligned")

	// ErrIntegrityMismatch indicates the decrypted validation prefix did not match.
	ErrIntegrityMismatch = errors.New("crypto: validation key mismatch")

	// ErrSessionDataChecksum indicates the decrypted session data had a bad checksum.
	ErrSessionDataChecksum = errors.New("crypto: session data checksum mismatch")

	// ErrSessionDataLength indicates session data of an unsupported length.
	ErrSessionDataLength = errors.New("crypto: invalid session data length")

	// ErrSealedDataCorrupt indicates a passphrase-sealed blob failed to open.
	ErrSealedDataCorrupt = errors.New("crypto: sealed data corrupt or wrong passphrase")
)
