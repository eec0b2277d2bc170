// Package stonesim simulates a stone behind a transport.PeripheralServer.
//
// A Stone speaks one packet dialect, answers session data reads, decrypts
// and executes commands, notifies encrypted results and emits encrypted
// service data advertisements. Mode changes triggered by setup, factory
// reset and DFU take effect when the link drops, the way real firmware
// reboots.
package stonesim

import (
	"crypto/rand"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"

	"github.com/backkem/bluenet/pkg/behaviour"
	"github.com/backkem/bluenet/pkg/crypto"
	"github.com/backkem/bluenet/pkg/packet"
	"github.com/backkem/bluenet/pkg/servicedata"
	"github.com/backkem/bluenet/pkg/session"
	"github.com/backkem/bluenet/pkg/transport"
)

// Errors returned by the simulator.
var (
	ErrInvalidConfig = errors.New("stonesim: invalid config")
	ErrNoSession     = errors.New("stonesim: no session data issued")
)

// DefaultFirmwareVersion is reported when Config leaves it empty.
const DefaultFirmwareVersion = "5.4.0"

// Config describes a simulated stone.
type Config struct {
	ID      transport.PeerID
	Name    string
	Dialect packet.Dialect

	// Mode is the initial mode. Default: ModeOperation
	Mode session.OperationMode

	DeviceType   servicedata.DeviceType
	CrownstoneID uint16
	SphereUID    uint8

	// Sphere keys. Ignored in setup mode until setup completes.
	AdminKey       []byte
	MemberKey      []byte
	GuestKey       []byte
	ServiceDataKey []byte

	// SetupKey is handed out in setup mode. Default: random
	SetupKey []byte

	FirmwareVersion string

	// MTU is the notification size. Results longer than MTU are split into
	// multipart chunks on v5. Default: 20
	MTU int

	// ServiceDataUUID keys the advertised service data. Default: ServiceDataPlug
	ServiceDataUUID uint16

	Clock         func() time.Time
	Rand          io.Reader
	LoggerFactory logging.LoggerFactory
}

func (c *Config) validate() error {
	if c.ID == "" || !c.Dialect.IsValid() {
		return ErrInvalidConfig
	}
	for _, k := range [][]byte{c.AdminKey, c.MemberKey, c.GuestKey, c.ServiceDataKey, c.SetupKey} {
		if len(k) != 0 && len(k) != crypto.KeySize {
			return ErrInvalidConfig
		}
	}
	return nil
}

func (c *Config) applyDefaults() error {
	if c.Mode == session.ModeUnknown {
		c.Mode = session.ModeOperation
	}
	if c.FirmwareVersion == "" {
		c.FirmwareVersion = DefaultFirmwareVersion
	}
	if c.MTU <= 1 {
		c.MTU = 20
	}
	if c.ServiceDataUUID == 0 {
		c.ServiceDataUUID = transport.ServiceDataPlug
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Rand == nil {
		c.Rand = rand.Reader
	}
	if c.LoggerFactory == nil {
		c.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	if len(c.SetupKey) == 0 {
		c.SetupKey = make([]byte, crypto.KeySize)
		if _, err := io.ReadFull(c.Rand, c.SetupKey); err != nil {
			return err
		}
	}
	return nil
}

// Stone is a simulated device. It implements transport.Peripheral.
type Stone struct {
	config Config
	log    logging.LeveledLogger

	mu             sync.Mutex
	mode           session.OperationMode
	pendingMode    session.OperationMode
	crownstoneID   uint16
	sphereUID      uint8
	admin          []byte
	member         []byte
	guest          []byte
	serviceDataKey []byte

	switchState    uint8
	dimmingAllowed bool
	switchLocked   bool
	temperature    int8
	powerUsage     float64
	energyUsed     int64
	errors         servicedata.Errors
	timeOffset     time.Duration
	timeSet        bool
	behaviours     map[uint8][]byte
	setupCounter   uint8

	connected  bool
	session    *crypto.SessionData
	commands   []packet.CommandType
	advCounter uint16
	server     *transport.PeripheralServer
}

// New creates a stone.
func New(config Config) (*Stone, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	if err := config.applyDefaults(); err != nil {
		return nil, err
	}
	return &Stone{
		config:         config,
		log:            config.LoggerFactory.NewLogger("stonesim"),
		mode:           config.Mode,
		crownstoneID:   config.CrownstoneID,
		sphereUID:      config.SphereUID,
		admin:          cloneKey(config.AdminKey),
		member:         cloneKey(config.MemberKey),
		guest:          cloneKey(config.GuestKey),
		serviceDataKey: cloneKey(config.ServiceDataKey),
		temperature:    24,
		behaviours:     make(map[uint8][]byte),
	}, nil
}

func cloneKey(k []byte) []byte {
	if len(k) == 0 {
		return nil
	}
	return append([]byte(nil), k...)
}

// Attach registers the stone with a bridge server. The server is used to
// drop the link after disconnect, reset and DFU commands and to emit
// advertisements.
func (s *Stone) Attach(server *transport.PeripheralServer) {
	s.mu.Lock()
	s.server = server
	s.mu.Unlock()
	server.Add(s)
}

// ID implements transport.Peripheral.
func (s *Stone) ID() transport.PeerID { return s.config.ID }

// Mode returns the current mode.
func (s *Stone) Mode() session.OperationMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetupKey returns the key handed out in setup mode.
func (s *Stone) SetupKey() []byte {
	return cloneKey(s.config.SetupKey)
}

// SwitchState returns the current switch value.
func (s *Stone) SwitchState() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.switchState
}

// CrownstoneID returns the identifier assigned during setup.
func (s *Stone) CrownstoneID() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.crownstoneID
}

// Commands returns the command types executed so far.
func (s *Stone) Commands() []packet.CommandType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]packet.CommandType(nil), s.commands...)
}

// SetBehaviour stores a behaviour rule in a slot. Nil data clears it.
func (s *Stone) SetBehaviour(index uint8, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if data == nil {
		delete(s.behaviours, index)
		return
	}
	s.behaviours[index] = append([]byte(nil), data...)
}

// SetPower sets the simulated power (watts) and energy (joules) readings.
func (s *Stone) SetPower(watts float64, joules int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.powerUsage = watts
	s.energyUsed = joules
}

// SetErrors sets the error bitmask reported in broadcasts.
func (s *Stone) SetErrors(e servicedata.Errors) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = e
}

func (s *Stone) behaviourRecordsLocked() []behaviour.Record {
	records := make([]behaviour.Record, 0, len(s.behaviours))
	for i, d := range s.behaviours {
		records = append(records, behaviour.Record{Index: i, Data: d})
	}
	return records
}

func (s *Stone) nowLocked() time.Time {
	return s.config.Clock().Add(s.timeOffset)
}

// Services implements transport.Peripheral.
func (s *Stone) Services() []transport.Service {
	s.mu.Lock()
	mode := s.mode
	s.mu.Unlock()

	info := transport.Service{UUID: transport.DeviceInfoService, Characteristics: []uuid.UUID{transport.FirmwareRevisionChar}}
	switch mode {
	case session.ModeDFU:
		return []transport.Service{{UUID: transport.DFUService}, info}
	case session.ModeSetup:
		return []transport.Service{s.service(transport.SetupService, true), info}
	default:
		return []transport.Service{s.service(transport.OperationService, false), info}
	}
}

func (s *Stone) service(base uuid.UUID, setup bool) transport.Service {
	control, _ := transport.ControlChar(base, s.config.Dialect)
	result, _ := transport.ResultChar(base, s.config.Dialect)
	chars := []uuid.UUID{control, result, transport.InService(base, transport.SessionDataChar)}
	if setup {
		chars = append(chars, transport.InService(base, transport.SetupKeyChar))
	}
	return transport.Service{UUID: base, Characteristics: chars}
}

func (s *Stone) hasChar(service, char uuid.UUID) error {
	for _, svc := range s.Services() {
		if svc.UUID != service {
			continue
		}
		for _, c := range svc.Characteristics {
			if c == char {
				return nil
			}
		}
		return transport.ErrCharacteristicNotFound
	}
	return transport.ErrServiceNotFound
}

// Connected implements transport.Peripheral. A fresh session nonce and
// validation key are issued for every link.
func (s *Stone) Connected() {
	var sd crypto.SessionData
	_, err := io.ReadFull(s.config.Rand, sd.Nonce[:])
	if err == nil {
		_, err = io.ReadFull(s.config.Rand, sd.ValidationKey[:])
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	if err != nil {
		s.log.Warnf("%s: session data: %v", s.config.ID, err)
		s.session = nil
		return
	}
	s.session = &sd
}

// Disconnected implements transport.Peripheral. Pending mode changes take
// effect here.
func (s *Stone) Disconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	s.session = nil
	if s.pendingMode != session.ModeUnknown {
		s.log.Debugf("%s: rebooting into %s", s.config.ID, s.pendingMode)
		s.mode = s.pendingMode
		s.pendingMode = session.ModeUnknown
	}
}

// Read implements transport.Peripheral.
func (s *Stone) Read(service, char uuid.UUID) ([]byte, error) {
	if err := s.hasChar(service, char); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch char {
	case transport.FirmwareRevisionChar:
		return []byte(s.config.FirmwareVersion), nil
	case transport.InService(service, transport.SetupKeyChar):
		return cloneKey(s.config.SetupKey), nil
	case transport.InService(service, transport.SessionDataChar):
		return s.sessionDataLocked()
	}
	return nil, transport.ErrCharacteristicNotFound
}

func (s *Stone) sessionDataLocked() ([]byte, error) {
	if s.session == nil {
		return nil, ErrNoSession
	}
	if s.config.Dialect != packet.DialectV5 {
		out := make([]byte, 0, crypto.SessionNonceSize+crypto.ValidationKeySize)
		out = append(out, s.session.Nonce[:]...)
		return append(out, s.session.ValidationKey[:]...), nil
	}
	key := s.guest
	if s.mode == session.ModeSetup {
		key = s.config.SetupKey
	}
	return crypto.EncryptSessionData(*s.session, packet.ProtocolVersion, key)
}

// keyLocked returns the key for an access level in the current mode.
func (s *Stone) keyLocked(level session.AccessLevel) []byte {
	if s.mode == session.ModeSetup {
		if level == session.AccessSetup {
			return s.config.SetupKey
		}
		return nil
	}
	switch level {
	case session.AccessAdmin:
		return s.admin
	case session.AccessMember:
		return s.member
	case session.AccessGuest:
		return s.guest
	}
	return nil
}
