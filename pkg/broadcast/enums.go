// Package broadcast packs short commands into the phone's own outbound
// advertisement.
//
// Stones listen for a 16-byte encrypted block inside the advertisement. One
// block carries commands of a single type for a single sphere. Because an
// advertisement is only on air for a short window each interval, every
// element accumulates its on-air time across ticks and completes once it
// has been exposed for its minimum duration.
package broadcast

import "time"

// Wire sizes of a broadcast block.
const (
	BlockSize     = 16
	HeaderSize    = 4
	PayloadBudget = BlockSize - HeaderSize - 1
)

// StaticValidation replaces the timestamp header when time based replay
// protection is disabled.
const StaticValidation uint32 = 0xCAFEBABE

// ProtocolVersion is the first byte of every outbound payload.
const ProtocolVersion uint8 = 1

// Defaults for Config.
const (
	DefaultMinDuration  = 1500 * time.Millisecond
	DefaultTickInterval = 250 * time.Millisecond
)

// TargetAll addresses every stone of the sphere.
const TargetAll uint16 = 0xFFFF

// Type is the command type of a broadcast block.
type Type uint8

const (
	TypeNoOp                Type = 0
	TypeMultiSwitch         Type = 1
	TypeSetTime             Type = 2
	TypeBehaviourSettings   Type = 3
	TypeUpdateTrackedDevice Type = 4
)

// String returns the type name.
func (t Type) String() string {
	switch t {
	case TypeNoOp:
		return "NoOp"
	case TypeMultiSwitch:
		return "MultiSwitch"
	case TypeSetTime:
		return "SetTime"
	case TypeBehaviourSettings:
		return "BehaviourSettings"
	case TypeUpdateTrackedDevice:
		return "UpdateTrackedDevice"
	default:
		return "Unknown"
	}
}

// IsValid returns true for known types.
func (t Type) IsValid() bool {
	return t <= TypeUpdateTrackedDevice
}

// IsCounted reports whether the block carries an element count byte.
func (t Type) IsCounted() bool {
	return t == TypeMultiSwitch
}

// IsExclusive reports whether an element of this type fills a block alone.
func (t Type) IsExclusive() bool {
	switch t {
	case TypeSetTime, TypeBehaviourSettings, TypeUpdateTrackedDevice:
		return true
	}
	return false
}

// ElementSize is the fixed element size, or 0 when the element may take
// any length up to the budget.
func (t Type) ElementSize() int {
	switch t {
	case TypeMultiSwitch:
		return 2
	case TypeSetTime, TypeBehaviourSettings:
		return 4
	}
	return 0
}

// budget is the number of bytes available for elements.
func (t Type) budget() int {
	if t.IsCounted() {
		return PayloadBudget - 1
	}
	return PayloadBudget
}
