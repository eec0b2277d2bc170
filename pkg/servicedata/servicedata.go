package servicedata

import (
	"encoding/binary"
	"time"

	"github.com/backkem/bluenet/pkg/crypto"
)

// ValidationMarker is the fixed last byte of a correctly decrypted
// operation block.
const ValidationMarker uint8 = 0xFA

// BlockSize is the size of the encrypted or plain data block.
const BlockSize = crypto.BlockSize

// ServiceData is a decoded stone broadcast.
//
// Parse fills the envelope fields. For setup layouts the block is plain and
// decoded immediately; for operation layouts Decrypt must be called with a
// candidate key before the state fields are meaningful.
type ServiceData struct {
	Valid       bool
	ServiceUUID uint16
	Opcode      Opcode
	DeviceType  DeviceType
	Encrypted   bool
	Decrypted   bool

	DataType         DataType
	CrownstoneID     uint16
	SwitchState      uint8
	Flags            Flags
	Temperature      int8
	PowerFactor      float64
	PowerUsage       float64 // watts
	EnergyUsed       int64   // joules
	Errors           Errors
	ErrorTimestamp   uint32
	PartialTimestamp uint16
	Timestamp        uint32
	ExternalRSSI     int8
	BehaviourHash    uint16
	AssetFilterVer   uint16
	AssetFilterCRC   uint32
	SetupCounter     uint8

	// Validation is the marker byte; HasValidation is false for layouts
	// without one (legacy and own error blocks).
	Validation    uint8
	HasValidation bool

	// UniqueID changes with every fresh broadcast and repeats for
	// retransmissions of the same one.
	UniqueID uint32

	block [BlockSize]byte
}

// Parse decodes the envelope of raw service data. Malformed input yields
// Valid=false.
func Parse(serviceUUID uint16, raw []byte) *ServiceData {
	sd := &ServiceData{ServiceUUID: serviceUUID}
	if len(raw) < 1 {
		return sd
	}
	sd.Opcode = Opcode(raw[0])
	if !sd.Opcode.IsValid() || len(raw) != sd.Opcode.Size() {
		return sd
	}
	off := 1
	if sd.Opcode.HasDeviceType() {
		sd.DeviceType = DeviceType(raw[1])
		off = 2
	}
	copy(sd.block[:], raw[off:])

	if sd.Opcode.IsSetup() {
		sd.decodeSetup()
		sd.Valid = true
		return sd
	}
	sd.Encrypted = true
	sd.Valid = true
	return sd
}

// Block returns the data block as received.
func (sd *ServiceData) Block() []byte {
	return append([]byte(nil), sd.block[:]...)
}

// Decrypt returns a copy of sd decoded with key. The receiver is not
// modified so the same envelope can be tried against several keys.
// now anchors the timestamp reconstruction.
func (sd *ServiceData) Decrypt(key []byte, now time.Time) (*ServiceData, error) {
	if !sd.Valid {
		return nil, ErrInvalid
	}
	if !sd.Encrypted {
		return nil, ErrNotEncrypted
	}
	plain, err := crypto.ECBDecrypt(key, sd.block[:])
	if err != nil {
		return nil, err
	}
	out := *sd
	copy(out.block[:], plain)
	out.Decrypted = true

	if sd.Opcode == OpcodeLegacy {
		out.decodeLegacy()
		return &out, nil
	}
	if err := out.decodeOperation(now); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExpectsValidation reports whether a correctly decrypted block carries
// the validation marker.
func (sd *ServiceData) ExpectsValidation() bool {
	return sd.HasValidation
}

// ValidationOK returns true if the block has no marker or the marker matches.
func (sd *ServiceData) ValidationOK() bool {
	return !sd.HasValidation || sd.Validation == ValidationMarker
}

// Legacy block:
//
//	CrownstoneID (2) | SwitchState (1) | Flags (1) | Temperature (1) |
//	PowerUsage mW (4) | Energy (4) | Random (3)
func (sd *ServiceData) decodeLegacy() {
	b := sd.block[:]
	sd.DataType = DataTypeState
	sd.CrownstoneID = binary.LittleEndian.Uint16(b[0:2])
	sd.SwitchState = b[2]
	sd.Flags = Flags(b[3])
	sd.Temperature = int8(b[4])
	sd.PowerUsage = float64(int32(binary.LittleEndian.Uint32(b[5:9]))) / 1000
	sd.EnergyUsed = int64(int32(binary.LittleEndian.Uint32(b[9:13])))
	sd.UniqueID = uint32(b[13]) | uint32(b[14])<<8 | uint32(b[15])<<16
	sd.HasValidation = false
}

// Operation blocks start with DataType (1) | CrownstoneID (1).
//
//	state:       SwitchState | Flags | Temp | PowerFactor | Power (2) | Energy (4) | Time (2) | Reserved | Marker
//	error:       Errors (4) | ErrorTime (4) | Flags | Temp | Time (2) | Power (2)
//	ext. state:  as state, with RSSI in place of Reserved
//	ext. error:  Errors (4) | ErrorTime (4) | Flags | Temp | Time (2) | RSSI | Marker
//	alt. state:  SwitchState | Flags | BehaviourHash (2) | FilterVer (2) | FilterCRC (4) | Time (2) | Reserved | Marker
func (sd *ServiceData) decodeOperation(now time.Time) error {
	b := sd.block[:]
	sd.DataType = DataType(b[0])
	if !sd.DataType.IsValid() {
		return ErrUnknownDataType
	}
	sd.CrownstoneID = uint16(b[1])

	switch sd.DataType {
	case DataTypeState, DataTypeExternalState:
		sd.decodeStateFields(b)
		if sd.DataType == DataTypeExternalState {
			sd.ExternalRSSI = int8(b[14])
		}
		sd.Validation = b[15]
		sd.HasValidation = true

	case DataTypeError:
		sd.Errors = Errors(binary.LittleEndian.Uint32(b[2:6]))
		sd.ErrorTimestamp = binary.LittleEndian.Uint32(b[6:10])
		sd.Flags = Flags(b[10])
		sd.Temperature = int8(b[11])
		sd.PartialTimestamp = binary.LittleEndian.Uint16(b[12:14])
		sd.PowerUsage = float64(int16(binary.LittleEndian.Uint16(b[14:16]))) / 8
		sd.HasValidation = false

	case DataTypeExternalError:
		sd.Errors = Errors(binary.LittleEndian.Uint32(b[2:6]))
		sd.ErrorTimestamp = binary.LittleEndian.Uint32(b[6:10])
		sd.Flags = Flags(b[10])
		sd.Temperature = int8(b[11])
		sd.PartialTimestamp = binary.LittleEndian.Uint16(b[12:14])
		sd.ExternalRSSI = int8(b[14])
		sd.Validation = b[15]
		sd.HasValidation = true

	case DataTypeAlternativeState:
		sd.SwitchState = b[2]
		sd.Flags = Flags(b[3])
		sd.BehaviourHash = binary.LittleEndian.Uint16(b[4:6])
		sd.AssetFilterVer = binary.LittleEndian.Uint16(b[6:8])
		sd.AssetFilterCRC = binary.LittleEndian.Uint32(b[8:12])
		sd.PartialTimestamp = binary.LittleEndian.Uint16(b[12:14])
		sd.Validation = b[15]
		sd.HasValidation = true
	}

	sd.Timestamp = ReconstructTimestamp(now, sd.PartialTimestamp)
	sd.UniqueID = uint32(sd.PartialTimestamp)
	return nil
}

func (sd *ServiceData) decodeStateFields(b []byte) {
	sd.SwitchState = b[2]
	sd.Flags = Flags(b[3])
	sd.Temperature = int8(b[4])
	sd.PowerFactor = float64(int8(b[5])) / 127
	sd.PowerUsage = float64(int16(binary.LittleEndian.Uint16(b[6:8]))) / 8
	sd.EnergyUsed = int64(int32(binary.LittleEndian.Uint32(b[8:12]))) * 64
	sd.PartialTimestamp = binary.LittleEndian.Uint16(b[12:14])
}

// Setup block:
//
//	DataType (1) | SwitchState (1) | Flags (1) | Temp (1) | PowerFactor (1) |
//	Power (2) | Errors (4) | Counter (1) | Reserved (4)
func (sd *ServiceData) decodeSetup() {
	b := sd.block[:]
	sd.DataType = DataType(b[0])
	sd.SwitchState = b[1]
	sd.Flags = Flags(b[2])
	sd.Temperature = int8(b[3])
	sd.PowerFactor = float64(int8(b[4])) / 127
	sd.PowerUsage = float64(int16(binary.LittleEndian.Uint16(b[5:7]))) / 8
	sd.Errors = Errors(binary.LittleEndian.Uint32(b[7:11]))
	sd.SetupCounter = b[11]
	sd.UniqueID = uint32(sd.SetupCounter)
}
