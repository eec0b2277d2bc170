package packet

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Result header sizes per dialect.
const (
	legacyResultHeaderSize = 4
	v3ResultHeaderSize     = 6
	v5ResultHeaderSize     = 7
)

// ResultPacket is a decoded result envelope.
// Fields other than Valid are meaningless when Valid is false.
type ResultPacket struct {
	Valid   bool
	Type    CommandType
	Result  ResultCode
	OpCode  LegacyOpCode
	Payload []byte
}

// Err returns nil for successful results and a *ResultError otherwise.
func (r ResultPacket) Err() error {
	if !r.Valid {
		return ErrInvalidResult
	}
	if r.Result.IsSuccess() || r.Result == ResultWaitForSuccess {
		return nil
	}
	return &ResultError{Type: r.Type, Code: r.Result}
}

// ResultError reports a command the device rejected.
type ResultError struct {
	Type CommandType
	Code ResultCode
}

func (e *ResultError) Error() string {
	return fmt.Sprintf("packet: %s failed: %s (%d)", e.Type, e.Code, uint16(e.Code))
}

// ParseResult decodes a result envelope in the given dialect.
// Trailing bytes past the declared size (cipher padding) are dropped.
func ParseResult(d Dialect, data []byte) ResultPacket {
	var r ResultPacket
	var size, off int

	switch d {
	case DialectLegacy, DialectV1, DialectV2:
		if len(data) < legacyResultHeaderSize {
			return r
		}
		t, ok := CommandFromLegacy(data[0])
		if !ok {
			return r
		}
		op := LegacyOpCode(data[1])
		if !op.IsValid() {
			return r
		}
		r.Type = t
		r.OpCode = op
		r.Result = ResultSuccess
		size = int(binary.LittleEndian.Uint16(data[2:4]))
		off = legacyResultHeaderSize

	case DialectV3:
		if len(data) < v3ResultHeaderSize {
			return r
		}
		r.Type = CommandType(binary.LittleEndian.Uint16(data[0:2]))
		r.Result = ResultCode(binary.LittleEndian.Uint16(data[2:4]))
		size = int(binary.LittleEndian.Uint16(data[4:6]))
		off = v3ResultHeaderSize

	case DialectV5:
		if len(data) < v5ResultHeaderSize || data[0] != ProtocolVersion {
			return r
		}
		r.Type = CommandType(binary.LittleEndian.Uint16(data[1:3]))
		r.Result = ResultCode(binary.LittleEndian.Uint16(data[3:5]))
		size = int(binary.LittleEndian.Uint16(data[5:7]))
		off = v5ResultHeaderSize

	default:
		return r
	}

	if !r.Type.IsValid() || !r.Result.IsValid() {
		return r
	}
	if off+size > len(data) {
		return r
	}
	r.Payload = append([]byte(nil), data[off:off+size]...)
	r.Valid = true
	return r
}

// EncodeResult serializes a result envelope. Simulated stones use it to answer
// commands; legacy dialects carry r.OpCode instead of a result code.
func EncodeResult(d Dialect, r ResultPacket) ([]byte, error) {
	if len(r.Payload) > math.MaxUint16 {
		return nil, ErrPayloadTooLong
	}
	n := uint16(len(r.Payload))

	var out []byte
	switch d {
	case DialectLegacy, DialectV1, DialectV2:
		code, ok := r.Type.LegacyCode()
		if !ok {
			return nil, ErrUnsupportedCommand
		}
		out = make([]byte, legacyResultHeaderSize, legacyResultHeaderSize+len(r.Payload))
		out[0] = code
		out[1] = uint8(r.OpCode)
		binary.LittleEndian.PutUint16(out[2:4], n)

	case DialectV3:
		out = make([]byte, v3ResultHeaderSize, v3ResultHeaderSize+len(r.Payload))
		binary.LittleEndian.PutUint16(out[0:2], uint16(r.Type))
		binary.LittleEndian.PutUint16(out[2:4], uint16(r.Result))
		binary.LittleEndian.PutUint16(out[4:6], n)

	case DialectV5:
		out = make([]byte, v5ResultHeaderSize, v5ResultHeaderSize+len(r.Payload))
		out[0] = ProtocolVersion
		binary.LittleEndian.PutUint16(out[1:3], uint16(r.Type))
		binary.LittleEndian.PutUint16(out[3:5], uint16(r.Result))
		binary.LittleEndian.PutUint16(out[5:7], n)

	default:
		return nil, ErrUnknownDialect
	}
	return append(out, r.Payload...), nil
}
