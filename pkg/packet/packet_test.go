package packet

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestControlEncode(t *testing.T) {
	sw := NewSwitch(SwitchOn)
	tests := []struct {
		name    string
		dialect Dialect
		want    []byte
	}{
		{"legacy", DialectLegacy, []byte{0, 0, 1, 0, 100}},
		{"v1", DialectV1, []byte{0, 0, 1, 0, 100}},
		{"v2", DialectV2, []byte{0, 0, 1, 0, 100}},
		{"v3", DialectV3, []byte{20, 0, 1, 0, 100}},
		{"v5", DialectV5, []byte{5, 20, 0, 1, 0, 100}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := sw.Encode(tt.dialect)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("Encode() = %x, want %x", got, tt.want)
			}

			back, ok := DecodeControl(tt.dialect, got)
			if !ok {
				t.Fatal("DecodeControl() ok = false")
			}
			if back.Type != CommandSwitch || !bytes.Equal(back.Payload, sw.Payload) {
				t.Errorf("DecodeControl() = %+v, want %+v", back, sw)
			}
		})
	}
}

func TestControlEncodeErrors(t *testing.T) {
	if _, err := NewSwitch(0).Encode(DialectUnknown); !errors.Is(err, ErrUnknownDialect) {
		t.Errorf("Encode(unknown) error = %v, want %v", err, ErrUnknownDialect)
	}
	p := ControlPacket{Type: CommandGetUICRData}
	if _, err := p.Encode(DialectLegacy); !errors.Is(err, ErrUnsupportedCommand) {
		t.Errorf("Encode(legacy, UICR) error = %v, want %v", err, ErrUnsupportedCommand)
	}
}

func TestStateEncode(t *testing.T) {
	p := SetState(StateTypeTxPower, 1, PersistenceRAM, []byte{0xF4})

	v3, err := p.Encode(DialectV3)
	if err != nil {
		t.Fatalf("Encode(v3) error = %v", err)
	}
	wantV3 := []byte{3, 0, 5, 0, 11, 0, 1, 0, 0xF4}
	if !bytes.Equal(v3, wantV3) {
		t.Errorf("Encode(v3) = %x, want %x", v3, wantV3)
	}

	v5, err := p.Encode(DialectV5)
	if err != nil {
		t.Fatalf("Encode(v5) error = %v", err)
	}
	wantV5 := []byte{5, 3, 0, 7, 0, 11, 0, 1, 0, 1, 0, 0xF4}
	if !bytes.Equal(v5, wantV5) {
		t.Errorf("Encode(v5) = %x, want %x", v5, wantV5)
	}

	get, err := GetState(StateTypeSwitchState, 0).Encode(DialectV5)
	if err != nil {
		t.Fatalf("GetState Encode(v5) error = %v", err)
	}
	wantGet := []byte{5, 2, 0, 6, 0, 134, 0, 0, 0, 0, 0}
	if !bytes.Equal(get, wantGet) {
		t.Errorf("GetState Encode(v5) = %x, want %x", get, wantGet)
	}
}

func TestDecodeState(t *testing.T) {
	tests := []struct {
		dialect Dialect
		prefix  int
	}{
		{DialectV5, 6},
		{DialectV3, 4},
		{DialectV1, 4},
	}
	for _, tt := range tests {
		t.Run(tt.dialect.String(), func(t *testing.T) {
			src := SetState(StateTypeTime, 3, PersistenceRAM, []byte{1, 2, 3, 4})
			payload := src.StatePayload(tt.dialect)
			if len(payload) != tt.prefix+4 {
				t.Fatalf("StatePayload() len = %d, want %d", len(payload), tt.prefix+4)
			}
			got, ok := DecodeState(tt.dialect, CommandSetState, payload)
			if !ok {
				t.Fatal("DecodeState() ok = false")
			}
			if got.StateType != StateTypeTime || got.ID != 3 || !bytes.Equal(got.Value, src.Value) {
				t.Errorf("DecodeState() = %+v", got)
			}
			wantPersistence := PersistenceStored
			if tt.dialect == DialectV5 {
				wantPersistence = PersistenceRAM
			}
			if got.Persistence != wantPersistence {
				t.Errorf("Persistence = %d, want %d", got.Persistence, wantPersistence)
			}
			if _, ok := DecodeState(tt.dialect, CommandGetState, payload[:tt.prefix-1]); ok {
				t.Error("DecodeState(short) ok = true, want false")
			}
		})
	}
}

func TestParseResult(t *testing.T) {
	tests := []struct {
		name       string
		dialect    Dialect
		data       []byte
		wantValid  bool
		wantType   CommandType
		wantResult ResultCode
		wantData   []byte
	}{
		{
			name:      "v5 success",
			dialect:   DialectV5,
			data:      []byte{5, 20, 0, 0, 0, 0, 0},
			wantValid: true, wantType: CommandSwitch, wantResult: ResultSuccess, wantData: []byte{},
		},
		{
			name:      "v5 payload with padding",
			dialect:   DialectV5,
			data:      []byte{5, 103, 0, 0, 0, 4, 0, 1, 2, 3, 4, 0, 0, 0},
			wantValid: true, wantType: CommandGetTime, wantResult: ResultSuccess, wantData: []byte{1, 2, 3, 4},
		},
		{
			name:    "v5 wrong version byte",
			dialect: DialectV5,
			data:    []byte{3, 20, 0, 0, 0, 0, 0},
		},
		{
			name:    "v5 truncated header",
			dialect: DialectV5,
			data:    []byte{5, 20, 0, 0},
		},
		{
			name:      "v3 no access",
			dialect:   DialectV3,
			data:      []byte{20, 0, 48, 0, 0, 0},
			wantValid: true, wantType: CommandSwitch, wantResult: ResultNoAccess, wantData: []byte{},
		},
		{
			name:    "v3 size exceeds buffer",
			dialect: DialectV3,
			data:    []byte{20, 0, 0, 0, 5, 0, 1, 2},
		},
		{
			name:    "v3 unknown command",
			dialect: DialectV3,
			data:    []byte{0xEE, 0xEE, 0, 0, 0, 0},
		},
		{
			name:    "v3 unknown result code",
			dialect: DialectV3,
			data:    []byte{20, 0, 0x99, 0, 0, 0},
		},
		{
			name:      "legacy notify",
			dialect:   DialectLegacy,
			data:      []byte{7, 2, 2, 0, 0xAB, 0xCD},
			wantValid: true, wantType: CommandGetState, wantResult: ResultSuccess, wantData: []byte{0xAB, 0xCD},
		},
		{
			name:    "legacy bad opcode",
			dialect: DialectLegacy,
			data:    []byte{7, 9, 0, 0},
		},
		{
			name:    "unknown dialect",
			dialect: DialectUnknown,
			data:    []byte{5, 20, 0, 0, 0, 0, 0},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseResult(tt.dialect, tt.data)
			if got.Valid != tt.wantValid {
				t.Fatalf("ParseResult().Valid = %v, want %v", got.Valid, tt.wantValid)
			}
			if !got.Valid {
				return
			}
			if got.Type != tt.wantType {
				t.Errorf("ParseResult().Type = %v, want %v", got.Type, tt.wantType)
			}
			if got.Result != tt.wantResult {
				t.Errorf("ParseResult().Result = %v, want %v", got.Result, tt.wantResult)
			}
			if !bytes.Equal(got.Payload, tt.wantData) {
				t.Errorf("ParseResult().Payload = %x, want %x", got.Payload, tt.wantData)
			}
		})
	}
}

func TestEncodeResultRoundTrip(t *testing.T) {
	for _, d := range []Dialect{DialectLegacy, DialectV1, DialectV2, DialectV3, DialectV5} {
		t.Run(d.String(), func(t *testing.T) {
			in := ResultPacket{Type: CommandGetTime, Result: ResultSuccess, OpCode: LegacyOpNotify, Payload: []byte{9, 8, 7, 6}}
			raw, err := EncodeResult(d, in)
			if err != nil {
				t.Fatalf("EncodeResult() error = %v", err)
			}
			got := ParseResult(d, raw)
			if !got.Valid || got.Type != in.Type || !bytes.Equal(got.Payload, in.Payload) {
				t.Errorf("ParseResult(EncodeResult()) = %+v, want %+v", got, in)
			}
		})
	}
}

func TestResultErr(t *testing.T) {
	ok := ResultPacket{Valid: true, Type: CommandSwitch, Result: ResultSuccessNoChange}
	if err := ok.Err(); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}

	bad := ResultPacket{Valid: true, Type: CommandSwitch, Result: ResultNoAccess}
	var re *ResultError
	if err := bad.Err(); !errors.As(err, &re) || re.Code != ResultNoAccess {
		t.Errorf("Err() = %v, want ResultError NoAccess", err)
	}

	if err := (ResultPacket{}).Err(); !errors.Is(err, ErrInvalidResult) {
		t.Errorf("Err() = %v, want %v", err, ErrInvalidResult)
	}
}

func TestSetupRoundTrip(t *testing.T) {
	key := func(b byte) []byte { return bytes.Repeat([]byte{b}, 16) }
	in := SetupData{
		StoneID:        7,
		SphereID:       3,
		AdminKey:       key(1),
		MemberKey:      key(2),
		GuestKey:       key(3),
		ServiceDataKey: key(4),
		IBeaconUUID:    uuid.MustParse("1843423e-e175-4af0-a2e4-31e32f729a8a"),
		IBeaconMajor:   1234,
		IBeaconMinor:   5678,
	}
	p, err := NewSetup(in)
	if err != nil {
		t.Fatalf("NewSetup() error = %v", err)
	}
	got, ok := ParseSetup(p.Payload)
	if !ok {
		t.Fatal("ParseSetup() ok = false")
	}
	if got.StoneID != 7 || got.SphereID != 3 || got.IBeaconUUID != in.IBeaconUUID ||
		got.IBeaconMajor != 1234 || got.IBeaconMinor != 5678 || !bytes.Equal(got.GuestKey, key(3)) {
		t.Errorf("ParseSetup() = %+v, want %+v", got, in)
	}

	in.AdminKey = key(1)[:8]
	if _, err := NewSetup(in); !errors.Is(err, ErrInvalidSetupKey) {
		t.Errorf("NewSetup(short key) error = %v, want %v", err, ErrInvalidSetupKey)
	}
}

func TestFactoryResetPayload(t *testing.T) {
	p := NewFactoryReset()
	want := []byte{0xEF, 0xBE, 0xAD, 0xDE}
	if !bytes.Equal(p.Payload, want) {
		t.Errorf("NewFactoryReset().Payload = %x, want %x", p.Payload, want)
	}
}

func TestMultipart(t *testing.T) {
	data := make([]byte, 50)
	for i := range data {
		data[i] = byte(i)
	}
	chunks := Split(data, 20)
	if len(chunks) != 3 {
		t.Fatalf("len(Split()) = %d, want 3", len(chunks))
	}
	if chunks[2][0] != MultipartLast {
		t.Errorf("last chunk counter = %#x, want %#x", chunks[2][0], MultipartLast)
	}

	var m Merger
	for i, c := range chunks {
		out, done, err := m.Add(c)
		if err != nil {
			t.Fatalf("Add(chunk %d) error = %v", i, err)
		}
		if done != (i == len(chunks)-1) {
			t.Fatalf("Add(chunk %d) done = %v", i, done)
		}
		if done && !bytes.Equal(out, data) {
			t.Errorf("merged = %x, want %x", out, data)
		}
	}

	if _, _, err := m.Add([]byte{3, 1, 2}); !errors.Is(err, ErrMultipartOutOfOrder) {
		t.Errorf("Add(out of order) error = %v, want %v", err, ErrMultipartOutOfOrder)
	}

	single := Split([]byte{1, 2}, 20)
	out, done, _ := m.Add(single[0])
	if !done || !bytes.Equal(out, []byte{1, 2}) {
		t.Errorf("Add(single) = %x, %v, want 0102, true", out, done)
	}
}

func TestDialectString(t *testing.T) {
	if DialectV5.String() != "v5" || DialectUnknown.IsValid() || !DialectV3.IsValid() {
		t.Error("Dialect String/IsValid mismatch")
	}
	if CommandSwitch.String() != "Switch" || CommandType(999).IsValid() {
		t.Error("CommandType String/IsValid mismatch")
	}
}
