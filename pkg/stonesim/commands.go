package stonesim

import (
	"encoding/binary"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/backkem/bluenet/pkg/behaviour"
	"github.com/backkem/bluenet/pkg/crypto"
	"github.com/backkem/bluenet/pkg/packet"
	"github.com/backkem/bluenet/pkg/session"
	"github.com/backkem/bluenet/pkg/transport"
)

// BootloaderVersion is reported by the bootloader version query.
const BootloaderVersion = "2.1.0"

// linkDropDelay lets the write response reach the client before a
// requested disconnect.
const linkDropDelay = 20 * time.Millisecond

// ErrMalformedCommand is returned for writes that decrypt but do not decode.
var ErrMalformedCommand = errors.New("stonesim: malformed command")

// requiredLevel is the weakest access level allowed to run a command.
// Setup level passes every check.
var requiredLevel = map[packet.CommandType]session.AccessLevel{
	packet.CommandSetup:        session.AccessSetup,
	packet.CommandFactoryReset: session.AccessAdmin,
	packet.CommandSetState:     session.AccessAdmin,
	packet.CommandGoToDFU:      session.AccessAdmin,
	packet.CommandReset:        session.AccessAdmin,
	packet.CommandLockSwitch:   session.AccessAdmin,
	packet.CommandAllowDimming: session.AccessAdmin,
	packet.CommandSetTime:      session.AccessMember,
	packet.CommandGetState:     session.AccessMember,
}

func allowed(cmd packet.CommandType, level session.AccessLevel) bool {
	if level == session.AccessSetup {
		return true
	}
	need, ok := requiredLevel[cmd]
	if !ok {
		need = session.AccessGuest
	}
	if need == session.AccessSetup {
		return false
	}
	return level <= need
}

type outcome struct {
	code    packet.ResultCode
	payload []byte
	// dropLink ends the connection after the result is sent.
	dropLink bool
}

// Write implements transport.Peripheral. Only the control characteristic
// accepts writes; the result is notified on the matching result
// characteristic before Write returns.
func (s *Stone) Write(service, char uuid.UUID, data []byte, notify transport.Notifier) error {
	if err := s.hasChar(service, char); err != nil {
		return err
	}
	control, _ := transport.ControlChar(service, s.config.Dialect)
	resultChar, _ := transport.ResultChar(service, s.config.Dialect)
	if char != control {
		return transport.ErrCharacteristicNotFound
	}

	s.mu.Lock()
	if s.session == nil {
		s.mu.Unlock()
		return ErrNoSession
	}
	sd := *s.session
	plain, err := crypto.Decrypt(data, func(level uint8) ([]byte, error) {
		if k := s.keyLocked(session.AccessLevel(level)); k != nil {
			return k, nil
		}
		return nil, crypto.ErrKeyUnavailable
	}, &sd)
	if err != nil {
		s.mu.Unlock()
		s.log.Debugf("%s: rejecting write: %v", s.config.ID, err)
		return err
	}
	level := session.AccessLevel(data[crypto.PacketNonceSize])

	cmd, ok := packet.DecodeControl(s.config.Dialect, plain)
	if !ok {
		s.mu.Unlock()
		return ErrMalformedCommand
	}
	s.commands = append(s.commands, cmd.Type)
	// A factory reset wipes the keys; the result still goes out under the old one.
	key := s.keyLocked(level)

	var out outcome
	if !allowed(cmd.Type, level) {
		out.code = packet.ResultNoAccess
	} else {
		out = s.executeLocked(cmd)
	}
	s.log.Tracef("%s: %s at %s -> %s", s.config.ID, cmd.Type, level, out.code)

	result := packet.ResultPacket{Type: cmd.Type, Result: out.code, OpCode: packet.LegacyOpNotify, Payload: out.payload}
	raw, err := packet.EncodeResult(s.config.Dialect, result)
	if err == nil {
		raw, err = crypto.Encrypt(raw, key, byte(level), &sd, s.config.Rand)
	}
	server := s.server
	s.mu.Unlock()

	if err != nil {
		return err
	}
	if s.config.Dialect == packet.DialectV5 {
		for _, chunk := range packet.Split(raw, s.config.MTU) {
			notify(service, resultChar, chunk)
		}
	} else {
		notify(service, resultChar, raw)
	}

	if out.dropLink && server != nil {
		id := s.config.ID
		time.AfterFunc(linkDropDelay, func() { server.DropLink(id) })
	}
	return nil
}

func (s *Stone) executeLocked(cmd packet.ControlPacket) outcome {
	p := cmd.Payload

	switch cmd.Type {
	case packet.CommandSetup:
		if s.mode != session.ModeSetup {
			return outcome{code: packet.ResultWrongState}
		}
		setup, ok := packet.ParseSetup(p)
		if !ok {
			return outcome{code: packet.ResultWrongPayloadLength}
		}
		s.crownstoneID = uint16(setup.StoneID)
		s.sphereUID = setup.SphereID
		s.admin = setup.AdminKey
		s.member = setup.MemberKey
		s.guest = setup.GuestKey
		s.serviceDataKey = setup.ServiceDataKey
		s.pendingMode = session.ModeOperation
		return outcome{code: packet.ResultSuccess, dropLink: true}

	case packet.CommandFactoryReset:
		if len(p) < 4 || binary.LittleEndian.Uint32(p) != packet.FactoryResetCode {
			return outcome{code: packet.ResultWrongParameter}
		}
		s.factoryResetLocked()
		return outcome{code: packet.ResultSuccess, dropLink: true}

	case packet.CommandGetState:
		return s.getStateLocked(p)

	case packet.CommandSetState:
		return s.setStateLocked(p)

	case packet.CommandGetFirmwareVersion:
		return outcome{code: packet.ResultSuccess, payload: []byte(s.config.FirmwareVersion)}

	case packet.CommandGetBootloaderVersion:
		return outcome{code: packet.ResultSuccess, payload: []byte(BootloaderVersion)}

	case packet.CommandReset:
		s.pendingMode = s.mode
		return outcome{code: packet.ResultSuccess, dropLink: true}

	case packet.CommandGoToDFU:
		s.pendingMode = session.ModeDFU
		return outcome{code: packet.ResultSuccess, dropLink: true}

	case packet.CommandNoOp:
		return outcome{code: packet.ResultSuccess}

	case packet.CommandDisconnect:
		return outcome{code: packet.ResultSuccess, dropLink: true}

	case packet.CommandSwitch:
		if len(p) != 1 {
			return outcome{code: packet.ResultWrongPayloadLength}
		}
		return outcome{code: s.applySwitchLocked(p[0])}

	case packet.CommandSetTime:
		if len(p) != 4 {
			return outcome{code: packet.ResultWrongPayloadLength}
		}
		s.setTimeLocked(binary.LittleEndian.Uint32(p))
		return outcome{code: packet.ResultSuccess}

	case packet.CommandGetTime:
		out := make([]byte, 4)
		binary.LittleEndian.PutUint32(out, uint32(s.nowLocked().Unix()))
		return outcome{code: packet.ResultSuccess, payload: out}

	case packet.CommandLockSwitch:
		if len(p) != 1 {
			return outcome{code: packet.ResultWrongPayloadLength}
		}
		s.switchLocked = p[0] != 0
		return outcome{code: packet.ResultSuccess}

	case packet.CommandAllowDimming:
		if len(p) != 1 {
			return outcome{code: packet.ResultWrongPayloadLength}
		}
		s.dimmingAllowed = p[0] != 0
		if !s.dimmingAllowed && s.switchState > 0 && s.switchState < packet.SwitchOn {
			s.switchState = packet.SwitchOn
		}
		return outcome{code: packet.ResultSuccess}

	case packet.CommandGetBehaviourIndices:
		indices := make([]int, 0, len(s.behaviours))
		for i := range s.behaviours {
			indices = append(indices, int(i))
		}
		sort.Ints(indices)
		out := make([]byte, 0, len(indices)*5)
		for _, i := range indices {
			h := behaviour.Hash(behaviour.Record{Index: uint8(i), Data: s.behaviours[uint8(i)]})
			out = append(out, uint8(i))
			out = binary.LittleEndian.AppendUint32(out, h)
		}
		return outcome{code: packet.ResultSuccess, payload: out}

	case packet.CommandGetBehaviour:
		if len(p) != 1 {
			return outcome{code: packet.ResultWrongPayloadLength}
		}
		data, ok := s.behaviours[p[0]]
		if !ok {
			return outcome{code: packet.ResultNotFound}
		}
		return outcome{code: packet.ResultSuccess, payload: append([]byte{p[0]}, data...)}
	}
	return outcome{code: packet.ResultNotImplemented}
}

func (s *Stone) factoryResetLocked() {
	s.admin, s.member, s.guest, s.serviceDataKey = nil, nil, nil, nil
	s.crownstoneID = 0
	s.sphereUID = 0
	s.behaviours = make(map[uint8][]byte)
	s.switchLocked = false
	s.dimmingAllowed = false
	s.setupCounter++
	s.pendingMode = session.ModeSetup
}

// applySwitchLocked applies a switch value: 0-100 sets the level, 255 toggles.
// Without dimming permission intermediate levels turn fully on.
func (s *Stone) applySwitchLocked(value uint8) packet.ResultCode {
	if s.switchLocked {
		return packet.ResultNotAllowed
	}
	switch {
	case value == packet.SwitchToggle:
		if s.switchState > 0 {
			value = packet.SwitchOff
		} else {
			value = packet.SwitchOn
		}
	case value > packet.SwitchOn:
		return packet.ResultWrongParameter
	}
	if !s.dimmingAllowed && value > 0 {
		value = packet.SwitchOn
	}
	s.switchState = value
	return packet.ResultSuccess
}

func (s *Stone) setTimeLocked(ts uint32) {
	s.timeOffset = time.Unix(int64(ts), 0).Sub(s.config.Clock())
	s.timeSet = true
}

func (s *Stone) getStateLocked(p []byte) outcome {
	st, ok := packet.DecodeState(s.config.Dialect, packet.CommandGetState, p)
	if !ok {
		return outcome{code: packet.ResultWrongPayloadLength}
	}

	switch st.StateType {
	case packet.StateTypeSwitchState:
		st.Value = []byte{s.switchState}
	case packet.StateTypeTime:
		st.Value = binary.LittleEndian.AppendUint32(nil, uint32(s.nowLocked().Unix()))
	case packet.StateTypeErrors:
		st.Value = binary.LittleEndian.AppendUint32(nil, uint32(s.errors))
	case packet.StateTypeBehaviourHash:
		st.Value = binary.LittleEndian.AppendUint32(nil, behaviour.MasterHash(s.behaviourRecordsLocked()))
	default:
		return outcome{code: packet.ResultUnknownType}
	}
	return outcome{code: packet.ResultSuccess, payload: st.StatePayload(s.config.Dialect)}
}

func (s *Stone) setStateLocked(p []byte) outcome {
	st, ok := packet.DecodeState(s.config.Dialect, packet.CommandSetState, p)
	if !ok {
		return outcome{code: packet.ResultWrongPayloadLength}
	}

	switch st.StateType {
	case packet.StateTypeSwitchState:
		if len(st.Value) != 1 {
			return outcome{code: packet.ResultWrongPayloadLength}
		}
		return outcome{code: s.applySwitchLocked(st.Value[0])}
	case packet.StateTypeTime:
		if len(st.Value) != 4 {
			return outcome{code: packet.ResultWrongPayloadLength}
		}
		s.setTimeLocked(binary.LittleEndian.Uint32(st.Value))
		return outcome{code: packet.ResultSuccess}
	}
	return outcome{code: packet.ResultUnknownType}
}
