package servicedata

import (
	"encoding/binary"
	"math"

	"github.com/backkem/bluenet/pkg/crypto"
)

// Encode builds raw service data from sd, encrypting operation layouts with
// key. Stones produce this; the client uses it to simulate them.
func (sd *ServiceData) Encode(key []byte) ([]byte, error) {
	if !sd.Opcode.IsValid() {
		return nil, ErrUnknownOpcode
	}

	var block [BlockSize]byte
	switch {
	case sd.Opcode.IsSetup():
		sd.encodeSetup(block[:])
	case sd.Opcode == OpcodeLegacy:
		sd.encodeLegacy(block[:])
	default:
		if err := sd.encodeOperation(block[:]); err != nil {
			return nil, err
		}
	}

	body := block[:]
	if !sd.Opcode.IsSetup() {
		ct, err := crypto.ECBEncrypt(key, block[:])
		if err != nil {
			return nil, err
		}
		body = ct
	}

	out := make([]byte, 0, sd.Opcode.Size())
	out = append(out, byte(sd.Opcode))
	if sd.Opcode.HasDeviceType() {
		out = append(out, byte(sd.DeviceType))
	}
	return append(out, body...), nil
}

func clampInt16(v float64) int16 {
	return int16(math.Max(math.MinInt16, math.Min(math.MaxInt16, math.Round(v))))
}

func clampInt8(v float64) int8 {
	return int8(math.Max(math.MinInt8, math.Min(math.MaxInt8, math.Round(v))))
}

func (sd *ServiceData) encodeLegacy(b []byte) {
	binary.LittleEndian.PutUint16(b[0:2], sd.CrownstoneID)
	b[2] = sd.SwitchState
	b[3] = byte(sd.Flags)
	b[4] = byte(sd.Temperature)
	binary.LittleEndian.PutUint32(b[5:9], uint32(int32(math.Round(sd.PowerUsage*1000))))
	binary.LittleEndian.PutUint32(b[9:13], uint32(int32(sd.EnergyUsed)))
	b[13] = byte(sd.UniqueID)
	b[14] = byte(sd.UniqueID >> 8)
	b[15] = byte(sd.UniqueID >> 16)
}

func (sd *ServiceData) encodeOperation(b []byte) error {
	if !sd.DataType.IsValid() {
		return ErrUnknownDataType
	}
	b[0] = byte(sd.DataType)
	b[1] = byte(sd.CrownstoneID)

	switch sd.DataType {
	case DataTypeState, DataTypeExternalState:
		b[2] = sd.SwitchState
		b[3] = byte(sd.Flags)
		b[4] = byte(sd.Temperature)
		b[5] = byte(clampInt8(sd.PowerFactor * 127))
		binary.LittleEndian.PutUint16(b[6:8], uint16(clampInt16(sd.PowerUsage*8)))
		binary.LittleEndian.PutUint32(b[8:12], uint32(int32(sd.EnergyUsed/64)))
		binary.LittleEndian.PutUint16(b[12:14], sd.PartialTimestamp)
		if sd.DataType == DataTypeExternalState {
			b[14] = byte(sd.ExternalRSSI)
		}
		b[15] = ValidationMarker

	case DataTypeError:
		binary.LittleEndian.PutUint32(b[2:6], uint32(sd.Errors))
		binary.LittleEndian.PutUint32(b[6:10], sd.ErrorTimestamp)
		b[10] = byte(sd.Flags)
		b[11] = byte(sd.Temperature)
		binary.LittleEndian.PutUint16(b[12:14], sd.PartialTimestamp)
		binary.LittleEndian.PutUint16(b[14:16], uint16(clampInt16(sd.PowerUsage*8)))

	case DataTypeExternalError:
		binary.LittleEndian.PutUint32(b[2:6], uint32(sd.Errors))
		binary.LittleEndian.PutUint32(b[6:10], sd.ErrorTimestamp)
		b[10] = byte(sd.Flags)
		b[11] = byte(sd.Temperature)
		binary.LittleEndian.PutUint16(b[12:14], sd.PartialTimestamp)
		b[14] = byte(sd.ExternalRSSI)
		b[15] = ValidationMarker

	case DataTypeAlternativeState:
		b[2] = sd.SwitchState
		b[3] = byte(sd.Flags)
		binary.LittleEndian.PutUint16(b[4:6], sd.BehaviourHash)
		binary.LittleEndian.PutUint16(b[6:8], sd.AssetFilterVer)
		binary.LittleEndian.PutUint32(b[8:12], sd.AssetFilterCRC)
		binary.LittleEndian.PutUint16(b[12:14], sd.PartialTimestamp)
		b[15] = ValidationMarker
	}
	return nil
}

func (sd *ServiceData) encodeSetup(b []byte) {
	b[0] = byte(sd.DataType)
	b[1] = sd.SwitchState
	b[2] = byte(sd.Flags)
	b[3] = byte(sd.Temperature)
	b[4] = byte(clampInt8(sd.PowerFactor * 127))
	binary.LittleEndian.PutUint16(b[5:7], uint16(clampInt16(sd.PowerUsage*8)))
	binary.LittleEndian.PutUint32(b[7:11], uint32(sd.Errors))
	b[11] = sd.SetupCounter
}
