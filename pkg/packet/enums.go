// Package packet implements the stone command and result wire formats.
//
// Five protocol dialects are supported. They differ in command-type width,
// header layout and whether a protocol version byte leads the packet:
//
//	legacy, v1, v2: Type (1) | Reserved (1) | Length (2) | Payload
//	v3:             Type (2) | Length (2) | Payload
//	v5:             Version (1) | Type (2) | Length (2) | Payload
//
// Result envelopes follow the same split. All multi-byte fields are little-endian.
// Parsing never fails with an error; malformed input yields a packet with
// Valid set to false.
package packet

// Dialect identifies the command/result wire format spoken by a device.
type Dialect uint8

const (
	// DialectUnknown is the dialect before the handshake has resolved it.
	DialectUnknown Dialect = iota
	DialectLegacy
	DialectV1
	DialectV2
	DialectV3
	DialectV5
)

// String returns a human-readable name for the dialect.
func (d Dialect) String() string {
	switch d {
	case DialectLegacy:
		return "legacy"
	case DialectV1:
		return "v1"
	case DialectV2:
		return "v2"
	case DialectV3:
		return "v3"
	case DialectV5:
		return "v5"
	default:
		return "unknown"
	}
}

// IsValid returns true if the dialect is a resolved value.
func (d Dialect) IsValid() bool {
	return d >= DialectLegacy && d <= DialectV5
}

// IsLegacyHeader reports whether the dialect uses a 1-byte command type.
func (d Dialect) IsLegacyHeader() bool {
	return d == DialectLegacy || d == DialectV1 || d == DialectV2
}

// ProtocolVersion is the leading version byte of v5 packets.
const ProtocolVersion uint8 = 5

// CommandType identifies a control command.
type CommandType uint16

// Command types as numbered by v3 and v5 firmware.
const (
	CommandSetup                CommandType = 0
	CommandFactoryReset         CommandType = 1
	CommandGetState             CommandType = 2
	CommandSetState             CommandType = 3
	CommandGetBootloaderVersion CommandType = 4
	CommandGetUICRData          CommandType = 5
	CommandGetMACAddress        CommandType = 7
	CommandGetHardwareVersion   CommandType = 8
	CommandGetFirmwareVersion   CommandType = 9
	CommandReset                CommandType = 10
	CommandGoToDFU              CommandType = 11
	CommandNoOp                 CommandType = 12
	CommandDisconnect           CommandType = 13
	CommandSwitch               CommandType = 20
	CommandMultiSwitch          CommandType = 21
	CommandDimmer               CommandType = 22
	CommandRelay                CommandType = 23
	CommandSetTime              CommandType = 30
	CommandSetSunTime           CommandType = 31
	CommandAllowDimming         CommandType = 32
	CommandLockSwitch           CommandType = 33
	CommandGetBehaviour         CommandType = 63
	CommandGetBehaviourIndices  CommandType = 64
	CommandGetTime              CommandType = 103
)

var commandNames = map[CommandType]string{
	CommandSetup:                "Setup",
	CommandFactoryReset:         "FactoryReset",
	CommandGetState:             "GetState",
	CommandSetState:             "SetState",
	CommandGetBootloaderVersion: "GetBootloaderVersion",
	CommandGetUICRData:          "GetUICRData",
	CommandGetMACAddress:        "GetMACAddress",
	CommandGetHardwareVersion:   "GetHardwareVersion",
	CommandGetFirmwareVersion:   "GetFirmwareVersion",
	CommandReset:                "Reset",
	CommandGoToDFU:              "GoToDFU",
	CommandNoOp:                 "NoOp",
	CommandDisconnect:           "Disconnect",
	CommandSwitch:               "Switch",
	CommandMultiSwitch:          "MultiSwitch",
	CommandDimmer:               "Dimmer",
	CommandRelay:                "Relay",
	CommandSetTime:              "SetTime",
	CommandSetSunTime:           "SetSunTime",
	CommandAllowDimming:         "AllowDimming",
	CommandLockSwitch:           "LockSwitch",
	CommandGetBehaviour:         "GetBehaviour",
	CommandGetBehaviourIndices:  "GetBehaviourIndices",
	CommandGetTime:              "GetTime",
}

// String returns a human-readable name for the command type.
func (c CommandType) String() string {
	if n, ok := commandNames[c]; ok {
		return n
	}
	return "Unknown"
}

// IsValid returns true if the command type is known.
func (c CommandType) IsValid() bool {
	_, ok := commandNames[c]
	return ok
}

// Legacy dialects number commands in a single byte with a different table.
var legacyCommandTypes = map[CommandType]uint8{
	CommandSwitch:        0,
	CommandDimmer:        1,
	CommandSetTime:       2,
	CommandGoToDFU:       3,
	CommandReset:         4,
	CommandFactoryReset:  5,
	CommandSetState:      6,
	CommandGetState:      7,
	CommandNoOp:          12,
	CommandRelay:         16,
	CommandSetup:         17,
	CommandDisconnect:    20,
	CommandAllowDimming:  29,
	CommandLockSwitch:    30,
	CommandMultiSwitch:   31,
	CommandGetTime:       33,
	CommandGetMACAddress: 34,
}

var legacyCommandLookup = func() map[uint8]CommandType {
	m := make(map[uint8]CommandType, len(legacyCommandTypes))
	for c, b := range legacyCommandTypes {
		m[b] = c
	}
	return m
}()

// LegacyCode returns the 1-byte command number used by legacy dialects.
func (c CommandType) LegacyCode() (uint8, bool) {
	b, ok := legacyCommandTypes[c]
	return b, ok
}

// CommandFromLegacy maps a legacy 1-byte command number back to a CommandType.
func CommandFromLegacy(b uint8) (CommandType, bool) {
	c, ok := legacyCommandLookup[b]
	return c, ok
}

// ResultCode is the status a device reports for a command.
type ResultCode uint16

// Result codes reported by v3 and v5 firmware.
const (
	ResultSuccess             ResultCode = 0
	ResultWaitForSuccess      ResultCode = 1
	ResultSuccessNoChange     ResultCode = 2
	ResultBufferUnassigned    ResultCode = 16
	ResultBufferLocked        ResultCode = 17
	ResultBufferTooSmall      ResultCode = 18
	ResultWrongPayloadLength  ResultCode = 32
	ResultWrongParameter      ResultCode = 33
	ResultInvalidMessage      ResultCode = 34
	ResultUnknownOpCode       ResultCode = 35
	ResultUnknownType         ResultCode = 36
	ResultNotFound            ResultCode = 37
	ResultNoSpace             ResultCode = 38
	ResultBusy                ResultCode = 39
	ResultWrongState          ResultCode = 40
	ResultAlreadyExists       ResultCode = 41
	ResultTimeout             ResultCode = 42
	ResultCanceled            ResultCode = 43
	ResultProtocolUnsupported ResultCode = 44
	ResultNoAccess            ResultCode = 48
	ResultUnsafe              ResultCode = 49
	ResultNotAvailable        ResultCode = 64
	ResultNotImplemented      ResultCode = 65
	ResultNotInitialized      ResultCode = 67
	ResultWriteDisabled       ResultCode = 80
	ResultNotAllowed          ResultCode = 81
	ResultUnspecified         ResultCode = 65535
)

var resultNames = map[ResultCode]string{
	ResultSuccess:             "Success",
	ResultWaitForSuccess:      "WaitForSuccess",
	ResultSuccessNoChange:     "SuccessNoChange",
	ResultBufferUnassigned:    "BufferUnassigned",
	ResultBufferLocked:        "BufferLocked",
	ResultBufferTooSmall:      "BufferTooSmall",
	ResultWrongPayloadLength:  "WrongPayloadLength",
	ResultWrongParameter:      "WrongParameter",
	ResultInvalidMessage:      "InvalidMessage",
	ResultUnknownOpCode:       "UnknownOpCode",
	ResultUnknownType:         "UnknownType",
	ResultNotFound:            "NotFound",
	ResultNoSpace:             "NoSpace",
	ResultBusy:                "Busy",
	ResultWrongState:          "WrongState",
	ResultAlreadyExists:       "AlreadyExists",
	ResultTimeout:             "Timeout",
	ResultCanceled:            "Canceled",
	ResultProtocolUnsupported: "ProtocolUnsupported",
	ResultNoAccess:            "NoAccess",
	ResultUnsafe:              "Unsafe",
	ResultNotAvailable:        "NotAvailable",
	ResultNotImplemented:      "NotImplemented",
	ResultNotInitialized:      "NotInitialized",
	ResultWriteDisabled:       "WriteDisabled",
	ResultNotAllowed:          "NotAllowed",
	ResultUnspecified:         "Unspecified",
}

// String returns a human-readable name for the result code.
func (r ResultCode) String() string {
	if n, ok := resultNames[r]; ok {
		return n
	}
	return "Unknown"
}

// IsValid returns true if the result code is known.
func (r ResultCode) IsValid() bool {
	_, ok := resultNames[r]
	return ok
}

// IsSuccess reports whether the code indicates the command was accepted.
func (r ResultCode) IsSuccess() bool {
	return r == ResultSuccess || r == ResultSuccessNoChange
}

// LegacyOpCode is the operation field of a legacy result envelope.
type LegacyOpCode uint8

const (
	LegacyOpRead   LegacyOpCode = 0
	LegacyOpWrite  LegacyOpCode = 1
	LegacyOpNotify LegacyOpCode = 2
)

// IsValid returns true if the opcode is known.
func (o LegacyOpCode) IsValid() bool {
	return o <= LegacyOpNotify
}

// StateType identifies a device state or configuration value.
type StateType uint16

// State types shared by get-state and set-state commands.
const (
	StateTypeIBeaconMajor      StateType = 6
	StateTypeIBeaconMinor      StateType = 7
	StateTypeIBeaconUUID       StateType = 8
	StateTypeIBeaconTxPower    StateType = 9
	StateTypeTxPower           StateType = 11
	StateTypeAdvInterval       StateType = 12
	StateTypeRelayHighDuration StateType = 24
	StateTypeSwitchcraft       StateType = 81
	StateTypeTapToToggle       StateType = 87
	StateTypeSwitchState       StateType = 134
	StateTypeTime              StateType = 136
	StateTypeErrors            StateType = 139
	StateTypeBehaviourHash     StateType = 157
)

// Persistence selects where a set-state value is stored on v5 devices.
type Persistence uint8

const (
	// PersistenceStored writes the value to flash.
	PersistenceStored Persistence = 0
	// PersistenceRAM keeps the value in memory only.
	PersistenceRAM Persistence = 1
	// PersistenceFirmwareDefault resets to the firmware default.
	PersistenceFirmwareDefault Persistence = 2
)
