package crypto

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex %q: %v", s, err)
	}
	return b
}

func testSession() *SessionData {
	return &SessionData{
		Nonce:         SessionNonce{0x01, 0x02, 0x03, 0x04, 0x05},
		ValidationKey: ValidationKey{0xCA, 0xFE, 0xBE, 0xEF},
	}
}

func TestBuildIV(t *testing.T) {
	iv := BuildIV(PacketNonce{0xAA, 0xBB, 0xCC}, SessionNonce{1, 2, 3, 4, 5})
	want := []byte{0xAA, 0xBB, 0xCC, 1, 2, 3, 4, 5, 0, 0, 0, 0, 0, 0, 0, 0}
	if !bytes.Equal(iv[:], want) {
		t.Errorf("BuildIV() = %x, want %x", iv, want)
	}

	again := BuildIV(PacketNonce{0xAA, 0xBB, 0xCC}, SessionNonce{1, 2, 3, 4, 5})
	if iv != again {
		t.Error("BuildIV() is not deterministic")
	}
}

// RFC 3686 Test Vector #1 with its literal counter block.
func TestAESCTRVector(t *testing.T) {
	key := mustHex(t, "ae6852f8121067cc4bf7a5765577f39e")
	var iv [BlockSize]byte
	copy(iv[:], mustHex(t, "00000030000000000000000000000001"))
	plaintext := []byte("Single block msg")
	want := mustHex(t, "e4095d4fb7a7b3792d6175a3261311b8")

	got, err := AESCTREncrypt(key, iv, plaintext)
	if err != nil {
		t.Fatalf("AESCTREncrypt() error = %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("AESCTREncrypt() = %x, want %x", got, want)
	}

	back, err := AESCTRDecrypt(key, iv, got)
	if err != nil {
		t.Fatalf("AESCTRDecrypt() error = %v", err)
	}
	if !bytes.Equal(back, plaintext) {
		t.Errorf("AESCTRDecrypt() = %q, want %q", back, plaintext)
	}
}

func TestNewAESCTRInvalidKey(t *testing.T) {
	if _, err := NewAESCTR(make([]byte, 15)); !errors.Is(err, ErrInvalidKeySize) {
		t.Errorf("NewAESCTR(15 bytes) error = %v, want %v", err, ErrInvalidKeySize)
	}
}

// FIPS-197 Appendix C.1.
func TestECBVector(t *testing.T) {
	key := mustHex(t, "000102030405060708090a0b0c0d0e0f")
	plain := mustHex(t, "00112233445566778899aabbccddeeff")
	want := mustHex(t, "69c4e0d86a7b0430d8cdb78070b4c55a")

	got, err := ECBEncrypt(key, plain)
	if err != nil {
		t.Fatalf("ECBEncrypt() error = %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("ECBEncrypt() = %x, want %x", got, want)
	}
	back, err := ECBDecrypt(key, got)
	if err != nil {
		t.Fatalf("ECBDecrypt() error = %v", err)
	}
	if !bytes.Equal(back, plain) {
		t.Errorf("ECBDecrypt() = %x, want %x", back, plain)
	}
}

func TestECBRejectsUnaligned(t *testing.T) {
	key := make([]byte, KeySize)
	for _, n := range []int{0, 1, 15, 17} {
		if _, err := ECBEncrypt(key, make([]byte, n)); !errors.Is(err, ErrNotBlockAligned) {
			t.Errorf("ECBEncrypt(%d bytes) error = %v, want %v", n, err, ErrNotBlockAligned)
		}
	}
}

func TestBroadcastReversal(t *testing.T) {
	key := mustHex(t, "000102030405060708090a0b0c0d0e0f")
	plain := mustHex(t, "00112233445566778899aabbccddeeff")

	got, err := EncryptBroadcast(key, plain)
	if err != nil {
		t.Fatalf("EncryptBroadcast() error = %v", err)
	}
	want := mustHex(t, "5ac5b47080b7cdd830047b6ad8e0c469")
	if !bytes.Equal(got, want) {
		t.Errorf("EncryptBroadcast() = %x, want %x", got, want)
	}

	back, err := DecryptBroadcast(key, got)
	if err != nil {
		t.Fatalf("DecryptBroadcast() error = %v", err)
	}
	if !bytes.Equal(back, plain) {
		t.Errorf("DecryptBroadcast() = %x, want %x", back, plain)
	}
}

func fixedKeys(key []byte) KeyLookup {
	return func(level uint8) ([]byte, error) {
		if level == 0 {
			return key, nil
		}
		return nil, ErrKeyUnavailable
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x41}, KeySize)
	session := testSession()

	for size := 0; size <= 500; size++ {
		payload := make([]byte, size)
		for i := range payload {
			payload[i] = byte(i*7 + size)
		}

		env, err := Encrypt(payload, key, 0, session, nil)
		if err != nil {
			t.Fatalf("Encrypt(%d bytes) error = %v", size, err)
		}
		if (len(env)-EnvelopeHeaderSize)%BlockSize != 0 {
			t.Fatalf("Encrypt(%d bytes) ciphertext length %d not aligned", size, len(env)-EnvelopeHeaderSize)
		}
		if env[PacketNonceSize] != 0 {
			t.Fatalf("Encrypt() access level byte = %d, want 0", env[PacketNonceSize])
		}

		got, err := Decrypt(env, fixedKeys(key), session)
		if err != nil {
			t.Fatalf("Decrypt(%d bytes) error = %v", size, err)
		}
		if !bytes.Equal(got[:size], payload) {
			t.Fatalf("Decrypt(%d bytes) payload mismatch", size)
		}
		for _, b := range got[size:] {
			if b != 0 {
				t.Fatalf("Decrypt(%d bytes) padding not zero: %x", size, got[size:])
			}
		}
	}
}

func TestEnvelopeDeterministicNonce(t *testing.T) {
	key := bytes.Repeat([]byte{0x11}, KeySize)
	session := testSession()
	nonce := PacketNonce{9, 8, 7}

	a, err := EncryptWithNonce([]byte{1, 2, 3}, key, 2, session, nonce)
	if err != nil {
		t.Fatalf("EncryptWithNonce() error = %v", err)
	}
	b, _ := EncryptWithNonce([]byte{1, 2, 3}, key, 2, session, nonce)
	if !bytes.Equal(a, b) {
		t.Error("EncryptWithNonce() not deterministic for identical inputs")
	}
	if !bytes.Equal(a[:3], nonce[:]) || a[3] != 2 {
		t.Errorf("EncryptWithNonce() header = %x, want %x02", a[:4], nonce)
	}
	if len(a) != EnvelopeHeaderSize+BlockSize {
		t.Errorf("len(EncryptWithNonce()) = %d, want %d", len(a), EnvelopeHeaderSize+BlockSize)
	}
}

func TestDecryptIntegrityMismatch(t *testing.T) {
	key := bytes.Repeat([]byte{0x22}, KeySize)
	session := testSession()

	env, err := Encrypt([]byte("switch on"), key, 0, session, nil)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	other := *session
	other.ValidationKey = ValidationKey{0, 0, 0, 1}
	got, err := Decrypt(env, fixedKeys(key), &other)
	if !errors.Is(err, ErrIntegrityMismatch) {
		t.Errorf("Decrypt() error = %v, want %v", err, ErrIntegrityMismatch)
	}
	if got != nil {
		t.Errorf("Decrypt() returned data %x on integrity failure", got)
	}

	wrongKey := bytes.Repeat([]byte{0x23}, KeySize)
	if _, err := Decrypt(env, fixedKeys(wrongKey), session); !errors.Is(err, ErrIntegrityMismatch) {
		t.Errorf("Decrypt(wrong key) error = %v, want %v", err, ErrIntegrityMismatch)
	}
}

func TestDecryptErrors(t *testing.T) {
	key := bytes.Repeat([]byte{0x33}, KeySize)
	session := testSession()

	tests := []struct {
		name    string
		data    []byte
		session *SessionData
		want    error
	}{
		{"no session", make([]byte, 20), nil, ErrNoSessionNonce},
		{"too short", make([]byte, 19), session, ErrPayloadTooShort},
		{"unaligned", make([]byte, 21), session, ErrNotBlockAligned},
		{"unknown level", append([]byte{0, 0, 0, 1}, make([]byte, 16)...), session, ErrKeyUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decrypt(tt.data, fixedKeys(key), tt.session)
			if !errors.Is(err, tt.want) {
				t.Errorf("Decrypt() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestEncryptErrors(t *testing.T) {
	if _, err := Encrypt(nil, make([]byte, KeySize), 0, nil, nil); !errors.Is(err, ErrNoSessionNonce) {
		t.Errorf("Encrypt(no session) error = %v, want %v", err, ErrNoSessionNonce)
	}
	if _, err := Encrypt(nil, nil, 0, testSession(), nil); !errors.Is(err, ErrKeyUnavailable) {
		t.Errorf("Encrypt(no key) error = %v, want %v", err, ErrKeyUnavailable)
	}
}

func TestSessionDataEncrypted(t *testing.T) {
	key := bytes.Repeat([]byte{0x44}, KeySize)
	sd := *testSession()

	raw, err := EncryptSessionData(sd, 5, key)
	if err != nil {
		t.Fatalf("EncryptSessionData() error = %v", err)
	}
	got, err := DecryptSessionData(raw, key)
	if err != nil {
		t.Fatalf("DecryptSessionData() error = %v", err)
	}
	if got.SessionData != sd {
		t.Errorf("DecryptSessionData() = %+v, want %+v", got.SessionData, sd)
	}
	if got.Protocol != 5 {
		t.Errorf("DecryptSessionData().Protocol = %d, want 5", got.Protocol)
	}

	if _, err := DecryptSessionData(raw, bytes.Repeat([]byte{0x45}, KeySize)); !errors.Is(err, ErrSessionDataChecksum) {
		t.Errorf("DecryptSessionData(wrong key) error = %v, want %v", err, ErrSessionDataChecksum)
	}
	if _, err := DecryptSessionData(raw[:9], key); !errors.Is(err, ErrSessionDataLength) {
		t.Errorf("DecryptSessionData(short) error = %v, want %v", err, ErrSessionDataLength)
	}
}

func TestSessionDataClear(t *testing.T) {
	tests := []struct {
		name    string
		raw     []byte
		want    SessionData
		wantErr error
	}{
		{
			name: "nonce and validation key",
			raw:  []byte{1, 2, 3, 4, 5, 6, 7, 8, 9},
			want: SessionData{Nonce: SessionNonce{1, 2, 3, 4, 5}, ValidationKey: ValidationKey{6, 7, 8, 9}},
		},
		{
			name: "nonce only",
			raw:  []byte{1, 2, 3, 4, 5},
			want: SessionData{Nonce: SessionNonce{1, 2, 3, 4, 5}, ValidationKey: ValidationKey{1, 2, 3, 4}},
		},
		{name: "short", raw: []byte{1, 2, 3}, wantErr: ErrSessionDataLength},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseClearSessionData(tt.raw)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ParseClearSessionData() error = %v, want %v", err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("ParseClearSessionData() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestPassphraseSeal(t *testing.T) {
	secret := []byte("sphere keys")
	sealed, err := SealWithPassphrase([]byte("hunter2"), secret)
	if err != nil {
		t.Fatalf("SealWithPassphrase() error = %v", err)
	}
	got, err := OpenWithPassphrase([]byte("hunter2"), sealed)
	if err != nil {
		t.Fatalf("OpenWithPassphrase() error = %v", err)
	}
	if !bytes.Equal(got, secret) {
		t.Errorf("OpenWithPassphrase() = %q, want %q", got, secret)
	}
	if _, err := OpenWithPassphrase([]byte("wrong"), sealed); !errors.Is(err, ErrSealedDataCorrupt) {
		t.Errorf("OpenWithPassphrase(wrong) error = %v, want %v", err, ErrSealedDataCorrupt)
	}
	if _, err := OpenWithPassphrase([]byte("hunter2"), sealed[:10]); !errors.Is(err, ErrSealedDataCorrupt) {
		t.Errorf("OpenWithPassphrase(short) error = %v, want %v", err, ErrSealedDataCorrupt)
	}
}
