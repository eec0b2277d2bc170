// Package servicedata decodes the periodic state broadcasts of stones.
//
// A broadcast carries service data under one of the stone service data
// UUIDs. The first byte is an opcode selecting a fixed layout:
//
//	1  legacy     17 bytes  opcode | encrypted block
//	3  operation  17 bytes  opcode | encrypted block
//	4  setup      17 bytes  opcode | plain block
//	5  operation  18 bytes  opcode | device type | encrypted block
//	6  setup      18 bytes  opcode | device type | plain block
//
// Encrypted blocks are single AES-ECB blocks under the sphere's service
// data key. The first byte of a decrypted operation block selects the data
// type: own state, own errors, relayed state of another stone, relayed
// errors, or alternative state.
package servicedata

// Opcode selects the service data layout.
type Opcode uint8

const (
	OpcodeLegacy            Opcode = 1
	OpcodeOperation         Opcode = 3
	OpcodeSetup             Opcode = 4
	OpcodeOperationWithType Opcode = 5
	OpcodeSetupWithType     Opcode = 6
)

// String returns a human-readable name for the opcode.
func (o Opcode) String() string {
	switch o {
	case OpcodeLegacy:
		return "legacy"
	case OpcodeOperation:
		return "operation"
	case OpcodeSetup:
		return "setup"
	case OpcodeOperationWithType:
		return "operation+type"
	case OpcodeSetupWithType:
		return "setup+type"
	default:
		return "unknown"
	}
}

// IsValid returns true if the opcode is a known layout.
func (o Opcode) IsValid() bool {
	switch o {
	case OpcodeLegacy, OpcodeOperation, OpcodeSetup, OpcodeOperationWithType, OpcodeSetupWithType:
		return true
	}
	return false
}

// Size returns the total service data length for the opcode.
func (o Opcode) Size() int {
	if o == OpcodeOperationWithType || o == OpcodeSetupWithType {
		return 18
	}
	return 17
}

// IsSetup returns true for the plain setup layouts.
func (o Opcode) IsSetup() bool {
	return o == OpcodeSetup || o == OpcodeSetupWithType
}

// HasDeviceType returns true if byte 1 carries the device type.
func (o Opcode) HasDeviceType() bool {
	return o == OpcodeOperationWithType || o == OpcodeSetupWithType
}

// DataType selects the content of a decrypted operation block.
type DataType uint8

const (
	DataTypeState            DataType = 0
	DataTypeError            DataType = 1
	DataTypeExternalState    DataType = 2
	DataTypeExternalError    DataType = 3
	DataTypeAlternativeState DataType = 4
)

// String returns a human-readable name for the data type.
func (d DataType) String() string {
	switch d {
	case DataTypeState:
		return "state"
	case DataTypeError:
		return "error"
	case DataTypeExternalState:
		return "external-state"
	case DataTypeExternalError:
		return "external-error"
	case DataTypeAlternativeState:
		return "alternative-state"
	default:
		return "unknown"
	}
}

// IsValid returns true if the data type is known.
func (d DataType) IsValid() bool {
	return d <= DataTypeAlternativeState
}

// IsExternal returns true if the block describes another stone.
func (d DataType) IsExternal() bool {
	return d == DataTypeExternalState || d == DataTypeExternalError
}

// IsError returns true for the error layouts.
func (d DataType) IsError() bool {
	return d == DataTypeError || d == DataTypeExternalError
}

// DeviceType identifies the hardware.
type DeviceType uint8

const (
	DeviceUndefined  DeviceType = 0
	DevicePlug       DeviceType = 1
	DeviceGuidestone DeviceType = 2
	DeviceBuiltin    DeviceType = 3
	DeviceUSB        DeviceType = 4
	DeviceBuiltinOne DeviceType = 5
	DevicePlugOne    DeviceType = 6
	DeviceHub        DeviceType = 7
)

// String returns a human-readable name for the device type.
func (d DeviceType) String() string {
	switch d {
	case DevicePlug:
		return "plug"
	case DeviceGuidestone:
		return "guidestone"
	case DeviceBuiltin:
		return "builtin"
	case DeviceUSB:
		return "usb"
	case DeviceBuiltinOne:
		return "builtin-one"
	case DevicePlugOne:
		return "plug-one"
	case DeviceHub:
		return "hub"
	default:
		return "undefined"
	}
}

// Flags is the state flags bitfield.
type Flags uint8

const (
	FlagDimmingAvailable    Flags = 1 << 0
	FlagDimmingAllowed      Flags = 1 << 1
	FlagHasError            Flags = 1 << 2
	FlagSwitchLocked        Flags = 1 << 3
	FlagTimeSet             Flags = 1 << 4
	FlagSwitchcraftEnabled  Flags = 1 << 5
	FlagTapToToggle         Flags = 1 << 6
	FlagBehaviourOverridden Flags = 1 << 7
)

func (f Flags) DimmingAvailable() bool    { return f&FlagDimmingAvailable != 0 }
func (f Flags) DimmingAllowed() bool      { return f&FlagDimmingAllowed != 0 }
func (f Flags) HasError() bool            { return f&FlagHasError != 0 }
func (f Flags) SwitchLocked() bool        { return f&FlagSwitchLocked != 0 }
func (f Flags) TimeSet() bool             { return f&FlagTimeSet != 0 }
func (f Flags) SwitchcraftEnabled() bool  { return f&FlagSwitchcraftEnabled != 0 }
func (f Flags) TapToToggle() bool         { return f&FlagTapToToggle != 0 }
func (f Flags) BehaviourOverridden() bool { return f&FlagBehaviourOverridden != 0 }

// Errors is the error bitmask reported by a stone.
type Errors uint32

const (
	ErrorOverCurrent       Errors = 1 << 0
	ErrorOverCurrentDimmer Errors = 1 << 1
	ErrorChipTemperature   Errors = 1 << 2
	ErrorDimmerTemperature Errors = 1 << 3
	ErrorDimmerOnFailure   Errors = 1 << 4
	ErrorDimmerOffFailure  Errors = 1 << 5
)

// Has returns true if every bit of e is set.
func (x Errors) Has(e Errors) bool {
	return x&e == e
}

// Any returns true if any error is set.
func (x Errors) Any() bool {
	return x != 0
}
