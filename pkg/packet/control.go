package packet

import (
	"encoding/binary"
	"math"
)

// Header sizes per dialect.
const (
	legacyHeaderSize = 4
	v3HeaderSize     = 4
	v5HeaderSize     = 5
)

// ControlPacket is an outgoing command.
type ControlPacket struct {
	Type    CommandType
	Payload []byte
}

// Encode serializes the command in the given dialect.
func (p ControlPacket) Encode(d Dialect) ([]byte, error) {
	return encodeControl(d, p.Type, p.Payload)
}

// StatePacket is a get-state or set-state command.
// Value is ignored for get-state.
type StatePacket struct {
	Command     CommandType
	StateType   StateType
	ID          uint16
	Persistence Persistence
	Value       []byte
}

// GetState returns a get-state packet for the given state type.
func GetState(t StateType, id uint16) StatePacket {
	return StatePacket{Command: CommandGetState, StateType: t, ID: id, Persistence: PersistenceStored}
}

// SetState returns a set-state packet writing value to the given state type.
func SetState(t StateType, id uint16, persistence Persistence, value []byte) StatePacket {
	return StatePacket{Command: CommandSetState, StateType: t, ID: id, Persistence: persistence, Value: value}
}

// Encode serializes the state command in the given dialect. The state type and
// id (and on v5 the persistence mode plus a reserved byte) precede the value.
func (p StatePacket) Encode(d Dialect) ([]byte, error) {
	if !d.IsValid() {
		return nil, ErrUnknownDialect
	}
	return encodeControl(d, p.Command, p.StatePayload(d))
}

// StatePayload returns the command payload of p without the packet header.
// Devices echo the same layout, value included, in state results.
func (p StatePacket) StatePayload(d Dialect) []byte {
	prefix := statePrefixSize(d)
	payload := make([]byte, prefix, prefix+len(p.Value))
	binary.LittleEndian.PutUint16(payload[0:2], uint16(p.StateType))
	binary.LittleEndian.PutUint16(payload[2:4], p.ID)
	if d == DialectV5 {
		payload[4] = uint8(p.Persistence)
	}
	return append(payload, p.Value...)
}

// DecodeState parses a state payload as produced by StatePayload. It
// serves both the device side of get/set-state commands and the client
// side of their results.
func DecodeState(d Dialect, command CommandType, payload []byte) (StatePacket, bool) {
	prefix := statePrefixSize(d)
	if len(payload) < prefix {
		return StatePacket{}, false
	}
	p := StatePacket{
		Command:   command,
		StateType: StateType(binary.LittleEndian.Uint16(payload[0:2])),
		ID:        binary.LittleEndian.Uint16(payload[2:4]),
		Value:     append([]byte(nil), payload[prefix:]...),
	}
	if d == DialectV5 {
		p.Persistence = Persistence(payload[4])
	}
	return p, true
}

func statePrefixSize(d Dialect) int {
	if d == DialectV5 {
		return 6
	}
	return 4
}

func encodeControl(d Dialect, t CommandType, payload []byte) ([]byte, error) {
	if len(payload) > math.MaxUint16 {
		return nil, ErrPayloadTooLong
	}
	n := uint16(len(payload))

	switch d {
	case DialectLegacy, DialectV1, DialectV2:
		code, ok := t.LegacyCode()
		if !ok {
			return nil, ErrUnsupportedCommand
		}
		out := make([]byte, legacyHeaderSize, legacyHeaderSize+len(payload))
		out[0] = code
		binary.LittleEndian.PutUint16(out[2:4], n)
		return append(out, payload...), nil

	case DialectV3:
		out := make([]byte, v3HeaderSize, v3HeaderSize+len(payload))
		binary.LittleEndian.PutUint16(out[0:2], uint16(t))
		binary.LittleEndian.PutUint16(out[2:4], n)
		return append(out, payload...), nil

	case DialectV5:
		out := make([]byte, v5HeaderSize, v5HeaderSize+len(payload))
		out[0] = ProtocolVersion
		binary.LittleEndian.PutUint16(out[1:3], uint16(t))
		binary.LittleEndian.PutUint16(out[3:5], n)
		return append(out, payload...), nil

	default:
		return nil, ErrUnknownDialect
	}
}

// DecodeControl parses a command packet. It is the device side of Encode and
// is used by simulated stones. The returned bool is false on malformed input.
func DecodeControl(d Dialect, data []byte) (ControlPacket, bool) {
	var p ControlPacket
	var length int
	var off int

	switch d {
	case DialectLegacy, DialectV1, DialectV2:
		if len(data) < legacyHeaderSize {
			return p, false
		}
		t, ok := CommandFromLegacy(data[0])
		if !ok {
			return p, false
		}
		p.Type = t
		length = int(binary.LittleEndian.Uint16(data[2:4]))
		off = legacyHeaderSize

	case DialectV3:
		if len(data) < v3HeaderSize {
			return p, false
		}
		p.Type = CommandType(binary.LittleEndian.Uint16(data[0:2]))
		length = int(binary.LittleEndian.Uint16(data[2:4]))
		off = v3HeaderSize

	case DialectV5:
		if len(data) < v5HeaderSize || data[0] != ProtocolVersion {
			return p, false
		}
		p.Type = CommandType(binary.LittleEndian.Uint16(data[1:3]))
		length = int(binary.LittleEndian.Uint16(data[3:5]))
		off = v5HeaderSize

	default:
		return p, false
	}

	if !p.Type.IsValid() || off+length > len(data) {
		return p, false
	}
	p.Payload = append([]byte(nil), data[off:off+length]...)
	return p, true
}
