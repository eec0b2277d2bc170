package stonesim

import (
	"context"
	"encoding/binary"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/backkem/bluenet/pkg/behaviour"
	"github.com/backkem/bluenet/pkg/broadcast"
	"github.com/backkem/bluenet/pkg/packet"
	"github.com/backkem/bluenet/pkg/servicedata"
	"github.com/backkem/bluenet/pkg/session"
	"github.com/backkem/bluenet/pkg/transport"
)

// DefaultRSSI is reported with simulated advertisements.
const DefaultRSSI = -60

// broadcastWindow is how far a broadcast timestamp may be from the stone clock.
const broadcastWindow = 60 * time.Second

// ErrNotAttached is returned by Run when the stone has no server.
var ErrNotAttached = errors.New("stonesim: not attached to a server")

// Advertisement builds the stone's current advertisement. Operation mode
// broadcasts are encrypted with the service data key; v5 stones alternate
// between the state and alternative state layouts, and report errors every
// fourth broadcast while any are set.
func (s *Stone) Advertisement() (transport.RawAdvertisement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowLocked()
	adv := transport.RawAdvertisement{
		Peer:       s.config.ID,
		Name:       s.config.Name,
		RSSI:       DefaultRSSI,
		ReceivedAt: s.config.Clock(),
	}
	s.advCounter++

	if s.mode == session.ModeDFU {
		adv.ServiceUUIDs = []uuid.UUID{transport.DFUService}
		return adv, nil
	}

	sd := &servicedata.ServiceData{
		DeviceType:  s.config.DeviceType,
		SwitchState: s.switchState,
		Flags:       s.flagsLocked(),
		Temperature: s.temperature,
		PowerFactor: 1,
		PowerUsage:  s.powerUsage,
		EnergyUsed:  s.energyUsed,
		Errors:      s.errors,
	}
	key := s.serviceDataKey

	switch {
	case s.mode == session.ModeSetup:
		sd.Opcode = servicedata.OpcodeSetup
		if s.config.Dialect == packet.DialectV5 {
			sd.Opcode = servicedata.OpcodeSetupWithType
		}
		sd.SetupCounter = s.setupCounter
		key = nil

	case s.config.Dialect.IsLegacyHeader():
		sd.Opcode = servicedata.OpcodeLegacy
		sd.CrownstoneID = s.crownstoneID
		sd.UniqueID = uint32(s.advCounter)

	default:
		sd.Opcode = servicedata.OpcodeOperation
		if s.config.Dialect == packet.DialectV5 {
			sd.Opcode = servicedata.OpcodeOperationWithType
		}
		sd.CrownstoneID = s.crownstoneID
		sd.PartialTimestamp = uint16(now.Unix())
		sd.DataType = s.dataTypeLocked()
		if sd.DataType == servicedata.DataTypeError {
			sd.ErrorTimestamp = uint32(now.Unix())
		}
		if sd.DataType == servicedata.DataTypeAlternativeState {
			sd.BehaviourHash = behaviour.Short(behaviour.MasterHash(s.behaviourRecordsLocked()))
		}
	}

	raw, err := sd.Encode(key)
	if err != nil {
		return adv, err
	}
	adv.ServiceData = map[uint16][]byte{s.config.ServiceDataUUID: raw}
	return adv, nil
}

func (s *Stone) flagsLocked() servicedata.Flags {
	f := servicedata.FlagDimmingAvailable
	if s.dimmingAllowed {
		f |= servicedata.FlagDimmingAllowed
	}
	if s.switchLocked {
		f |= servicedata.FlagSwitchLocked
	}
	if s.timeSet {
		f |= servicedata.FlagTimeSet
	}
	if s.errors.Any() {
		f |= servicedata.FlagHasError
	}
	return f
}

func (s *Stone) dataTypeLocked() servicedata.DataType {
	if s.errors.Any() && s.advCounter%4 == 0 {
		return servicedata.DataTypeError
	}
	if s.config.Dialect == packet.DialectV5 && s.advCounter%2 == 0 {
		return servicedata.DataTypeAlternativeState
	}
	return servicedata.DataTypeState
}

// Advertise emits one advertisement through the attached server.
func (s *Stone) Advertise() error {
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()
	if server == nil {
		return ErrNotAttached
	}
	adv, err := s.Advertisement()
	if err != nil {
		return err
	}
	return server.EmitAdvertisement(adv)
}

// Run advertises every interval and applies the client's outbound
// broadcasts until ctx is done.
func (s *Stone) Run(ctx context.Context, interval time.Duration) error {
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()
	if server == nil {
		return ErrNotAttached
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Advertise(); err != nil {
				s.log.Debugf("%s: advertise: %v", s.config.ID, err)
			}
		case payload := <-server.Advertised():
			if err := s.HandleBroadcast(payload); err != nil {
				s.log.Tracef("%s: broadcast ignored: %v", s.config.ID, err)
			}
		}
	}
}

// HandleBroadcast applies an outbound client broadcast addressed to the
// stone's sphere. Multi-switch entries for other stones are ignored.
func (s *Stone) HandleBroadcast(payload []byte) error {
	if len(payload) < 3 {
		return broadcast.ErrShortPayload
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode != session.ModeOperation || payload[1] != s.sphereUID {
		return broadcast.ErrNoKey
	}
	key := s.keyLocked(session.AccessLevel(payload[2]))
	if key == nil {
		return broadcast.ErrNoKey
	}
	p, err := broadcast.ParsePayload(payload, key)
	if err != nil {
		return err
	}
	if err := p.CheckValidation(s.nowLocked(), broadcastWindow); err != nil {
		return err
	}

	switch p.Type {
	case broadcast.TypeMultiSwitch:
		for _, e := range p.Elements {
			if uint16(e[0]) == s.crownstoneID {
				s.applySwitchLocked(e[1])
			}
		}
	case broadcast.TypeSetTime:
		s.setTimeLocked(binary.LittleEndian.Uint32(p.Elements[0]))
	}
	return nil
}
