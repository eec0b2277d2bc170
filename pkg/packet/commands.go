package packet

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// Switch values understood by the switch command.
const (
	SwitchOff    uint8 = 0
	SwitchOn     uint8 = 100
	SwitchToggle uint8 = 255
)

// FactoryResetCode must accompany a factory reset command.
const FactoryResetCode uint32 = 0xDEADBEEF

// NewSwitch builds a switch command. Values 0-100 set the dim level,
// 255 toggles.
func NewSwitch(value uint8) ControlPacket {
	return ControlPacket{Type: CommandSwitch, Payload: []byte{value}}
}

// NewSetTime builds a set-time command carrying a local Unix timestamp.
func NewSetTime(timestamp uint32) ControlPacket {
	p := make([]byte, 4)
	binary.LittleEndian.PutUint32(p, timestamp)
	return ControlPacket{Type: CommandSetTime, Payload: p}
}

// NewGetTime builds a get-time command.
func NewGetTime() ControlPacket {
	return ControlPacket{Type: CommandGetTime}
}

// NewReset builds a reboot command.
func NewReset() ControlPacket {
	return ControlPacket{Type: CommandReset}
}

// NewFactoryReset builds a factory reset command.
func NewFactoryReset() ControlPacket {
	p := make([]byte, 4)
	binary.LittleEndian.PutUint32(p, FactoryResetCode)
	return ControlPacket{Type: CommandFactoryReset, Payload: p}
}

// NewGoToDFU builds a command that reboots the device into the bootloader.
func NewGoToDFU() ControlPacket {
	return ControlPacket{Type: CommandGoToDFU}
}

// NewNoOp builds a keep-alive command.
func NewNoOp() ControlPacket {
	return ControlPacket{Type: CommandNoOp}
}

// NewDisconnect asks the device to drop the connection.
func NewDisconnect() ControlPacket {
	return ControlPacket{Type: CommandDisconnect}
}

// NewLockSwitch builds a command that locks or unlocks the switch.
func NewLockSwitch(lock bool) ControlPacket {
	return ControlPacket{Type: CommandLockSwitch, Payload: []byte{boolByte(lock)}}
}

// NewAllowDimming builds a command that enables or disables dimming.
func NewAllowDimming(allow bool) ControlPacket {
	return ControlPacket{Type: CommandAllowDimming, Payload: []byte{boolByte(allow)}}
}

// NewGetFirmwareVersion builds a firmware version query.
func NewGetFirmwareVersion() ControlPacket {
	return ControlPacket{Type: CommandGetFirmwareVersion}
}

// NewGetBootloaderVersion builds a bootloader version query.
func NewGetBootloaderVersion() ControlPacket {
	return ControlPacket{Type: CommandGetBootloaderVersion}
}

// SetupData is the provisioning information written during setup.
type SetupData struct {
	StoneID        uint8
	SphereID       uint8
	AdminKey       []byte
	MemberKey      []byte
	GuestKey       []byte
	ServiceDataKey []byte
	IBeaconUUID    uuid.UUID
	IBeaconMajor   uint16
	IBeaconMinor   uint16
}

// NewSetup builds the setup command.
//
// Payload: StoneID (1) | SphereID (1) | Admin (16) | Member (16) | Guest (16) |
// ServiceData (16) | IBeaconUUID (16) | Major (2) | Minor (2)
func NewSetup(s SetupData) (ControlPacket, error) {
	keys := [][]byte{s.AdminKey, s.MemberKey, s.GuestKey, s.ServiceDataKey}
	for _, k := range keys {
		if len(k) != 16 {
			return ControlPacket{}, ErrInvalidSetupKey
		}
	}

	p := make([]byte, 0, 2+len(keys)*16+16+4)
	p = append(p, s.StoneID, s.SphereID)
	for _, k := range keys {
		p = append(p, k...)
	}
	p = append(p, s.IBeaconUUID[:]...)
	p = binary.LittleEndian.AppendUint16(p, s.IBeaconMajor)
	p = binary.LittleEndian.AppendUint16(p, s.IBeaconMinor)
	return ControlPacket{Type: CommandSetup, Payload: p}, nil
}

// ParseSetup decodes a setup payload.
func ParseSetup(payload []byte) (SetupData, bool) {
	const size = 2 + 4*16 + 16 + 4
	var s SetupData
	if len(payload) < size {
		return s, false
	}
	s.StoneID = payload[0]
	s.SphereID = payload[1]
	off := 2
	next := func() []byte {
		k := append([]byte(nil), payload[off:off+16]...)
		off += 16
		return k
	}
	s.AdminKey = next()
	s.MemberKey = next()
	s.GuestKey = next()
	s.ServiceDataKey = next()
	copy(s.IBeaconUUID[:], payload[off:off+16])
	off += 16
	s.IBeaconMajor = binary.LittleEndian.Uint16(payload[off:])
	s.IBeaconMinor = binary.LittleEndian.Uint16(payload[off+2:])
	return s, true
}

// ParseTime decodes the payload of a get-time result.
func ParseTime(payload []byte) (uint32, error) {
	if len(payload) < 4 {
		return 0, ErrResponseLength
	}
	return binary.LittleEndian.Uint32(payload), nil
}

// ParseVersion decodes a firmware or bootloader version string payload.
func ParseVersion(payload []byte) string {
	for i, b := range payload {
		if b == 0 {
			return string(payload[:i])
		}
	}
	return string(payload)
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
