package transport

import (
	"github.com/google/uuid"

	"github.com/backkem/bluenet/pkg/packet"
)

// Service data UUIDs carried in stone advertisements.
const (
	ServiceDataPlug       uint16 = 0xC001
	ServiceDataBuiltin    uint16 = 0xC002
	ServiceDataGuidestone uint16 = 0xC003
)

// ServiceDataUUIDs lists the 16-bit service data keys that hold stone broadcasts.
var ServiceDataUUIDs = []uint16{ServiceDataPlug, ServiceDataBuiltin, ServiceDataGuidestone}

// Primary services.
var (
	OperationService  = uuid.MustParse("24f00000-7d10-4805-bfc1-7663a01c3bff")
	SetupService      = uuid.MustParse("24f10000-7d10-4805-bfc1-7663a01c3bff")
	DFUService        = uuid.MustParse("0000fe59-0000-1000-8000-00805f9b34fb")
	LegacyDFUService  = uuid.MustParse("00001530-1212-efde-1523-785feabcd123")
	DeviceInfoService = uuid.MustParse("0000180a-0000-1000-8000-00805f9b34fb")
)

// Characteristics shared by the operation and setup services. The setup
// service uses the same suffixes on its own base.
var (
	SessionDataChar      = charUUID(0x0008)
	SetupKeyChar         = charUUID(0x0009)
	FirmwareRevisionChar = uuid.MustParse("00002a26-0000-1000-8000-00805f9b34fb")
)

type dialectChars struct {
	dialect packet.Dialect
	control uuid.UUID
	result  uuid.UUID
}

// Ordered newest first so the handshake picks the highest dialect exposed.
var dialectTable = []dialectChars{
	{packet.DialectV5, charUUID(0x000e), charUUID(0x000f)},
	{packet.DialectV3, charUUID(0x000c), charUUID(0x000d)},
	{packet.DialectV2, charUUID(0x0005), charUUID(0x0006)},
	{packet.DialectV1, charUUID(0x0003), charUUID(0x0004)},
	{packet.DialectLegacy, charUUID(0x0001), charUUID(0x0002)},
}

func charUUID(suffix uint16) uuid.UUID {
	u := OperationService
	u[2] = byte(suffix >> 8)
	u[3] = byte(suffix)
	return u
}

// InService maps an operation-service characteristic to the same
// characteristic under another service base.
func InService(service, char uuid.UUID) uuid.UUID {
	if service != SetupService {
		return char
	}
	c := char
	c[1] = SetupService[1]
	return c
}

// DialectFor returns the highest dialect whose control characteristic is
// present, or DialectUnknown.
func DialectFor(service uuid.UUID, chars []uuid.UUID) packet.Dialect {
	for _, d := range dialectTable {
		for _, c := range chars {
			if c == InService(service, d.control) {
				return d.dialect
			}
		}
	}
	return packet.DialectUnknown
}

// ControlChar returns the control characteristic for a dialect under service.
func ControlChar(service uuid.UUID, d packet.Dialect) (uuid.UUID, bool) {
	for _, e := range dialectTable {
		if e.dialect == d {
			return InService(service, e.control), true
		}
	}
	return uuid.Nil, false
}

// ResultChar returns the result characteristic for a dialect under service.
func ResultChar(service uuid.UUID, d packet.Dialect) (uuid.UUID, bool) {
	for _, e := range dialectTable {
		if e.dialect == d {
			return InService(service, e.result), true
		}
	}
	return uuid.Nil, false
}
