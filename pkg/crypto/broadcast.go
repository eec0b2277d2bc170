package crypto

// EncryptBroadcast encrypts a single 16-byte outbound broadcast block and
// reverses the ciphertext. Receiving firmware reads the block back to front.
func EncryptBroadcast(key, block []byte) ([]byte, error) {
	if len(block) != BlockSize {
		return nil, ErrNotBlockAligned
	}
	ct, err := ECBEncrypt(key, block)
	if err != nil {
		return nil, err
	}
	reverse(ct)
	return ct, nil
}

// DecryptBroadcast undoes EncryptBroadcast.
func DecryptBroadcast(key, data []byte) ([]byte, error) {
	if len(data) != BlockSize {
		return nil, ErrNotBlockAligned
	}
	ct := make([]byte, BlockSize)
	copy(ct, data)
	reverse(ct)
	return ECBDecrypt(key, ct)
}

func reverse(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}
