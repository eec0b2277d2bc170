package transport

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/logging"
)

// Service is a GATT service and the characteristics it exposes.
type Service struct {
	UUID            uuid.UUID
	Characteristics []uuid.UUID
}

// Notifier sends a notification on a subscribed characteristic.
type Notifier func(service, char uuid.UUID, data []byte)

// Peripheral is a device served over a bridge by PeripheralServer.
type Peripheral interface {
	ID() PeerID
	Services() []Service
	Read(service, char uuid.UUID) ([]byte, error)
	Write(service, char uuid.UUID, data []byte, notify Notifier) error
	// Connected and Disconnected bracket each link.
	Connected()
	Disconnected()
}

// PeripheralServerConfig configures a PeripheralServer.
type PeripheralServerConfig struct {
	// Conn is the radio side of a bridge link. Required.
	Conn FrameConn

	// LoggerFactory creates the server logger. Default: pion default factory.
	LoggerFactory logging.LoggerFactory
}

// PeripheralServer answers bridge frames on behalf of a set of peripherals.
// It is the radio side of the bridge protocol and backs simulations and tests.
type PeripheralServer struct {
	conn FrameConn
	log  logging.LeveledLogger

	mu          sync.Mutex
	peripherals map[PeerID]Peripheral
	connected   map[PeerID]bool
	subscribed  map[subKey]bool
	scanning    bool
	scanFilter  []uuid.UUID
	advertising []byte
	advertised  chan []byte
}

// NewPeripheralServer creates a server. Call Serve to process frames.
func NewPeripheralServer(config PeripheralServerConfig) *PeripheralServer {
	if config.LoggerFactory == nil {
		config.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	return &PeripheralServer{
		conn:        config.Conn,
		log:         config.LoggerFactory.NewLogger("radio"),
		peripherals: make(map[PeerID]Peripheral),
		connected:   make(map[PeerID]bool),
		subscribed:  make(map[subKey]bool),
		advertised:  make(chan []byte, 64),
	}
}

// Add registers a peripheral.
func (s *PeripheralServer) Add(p Peripheral) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peripherals[p.ID()] = p
}

// Remove unregisters a peripheral, dropping any link to it.
func (s *PeripheralServer) Remove(id PeerID) {
	s.DropLink(id)
	s.mu.Lock()
	delete(s.peripherals, id)
	s.mu.Unlock()
}

// Scanning reports whether the engine has an active scan.
func (s *PeripheralServer) Scanning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanning
}

// Connected reports whether the engine holds a link to id.
func (s *PeripheralServer) Connected(id PeerID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected[id]
}

// Advertised delivers every payload the engine asks the radio to advertise.
func (s *PeripheralServer) Advertised() <-chan []byte {
	return s.advertised
}

// Advertising returns the current outbound payload, or nil when stopped.
func (s *PeripheralServer) Advertising() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advertising
}

// EmitAdvertisement delivers adv to the engine if a matching scan is active.
func (s *PeripheralServer) EmitAdvertisement(adv RawAdvertisement) error {
	s.mu.Lock()
	scanning := s.scanning
	filter := s.scanFilter
	s.mu.Unlock()

	if !scanning || !matchesFilter(adv, filter) {
		return nil
	}
	return s.conn.WriteFrame(Frame{
		Op:          FrameOpAdvertisement,
		Peer:        adv.Peer,
		Name:        adv.Name,
		RSSI:        adv.RSSI,
		UUIDs:       uuidList(adv.ServiceUUIDs),
		ServiceData: adv.ServiceData,
	})
}

func matchesFilter(adv RawAdvertisement, filter []uuid.UUID) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if adv.HasService(f) {
			return true
		}
	}
	return false
}

// DropLink simulates the peripheral or radio dropping the link.
func (s *PeripheralServer) DropLink(id PeerID) {
	s.mu.Lock()
	p, ok := s.peripherals[id]
	was := s.connected[id]
	delete(s.connected, id)
	s.clearSubs(id)
	s.mu.Unlock()

	if !was {
		return
	}
	if ok {
		p.Disconnected()
	}
	if err := s.conn.WriteFrame(Frame{Op: FrameOpDisconnected, Peer: id}); err != nil {
		s.log.Debugf("disconnect event for %s: %v", id, err)
	}
}

func (s *PeripheralServer) clearSubs(id PeerID) {
	for k := range s.subscribed {
		if k.peer == id {
			delete(s.subscribed, k)
		}
	}
}

// Serve processes frames until the link fails or ctx is done.
func (s *PeripheralServer) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.conn.Close()
	}()

	for {
		f, err := s.conn.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		resp := s.handle(f)
		resp.Op = FrameOpResponse
		resp.Seq = f.Seq
		if err := s.conn.WriteFrame(resp); err != nil {
			return err
		}
	}
}

func (s *PeripheralServer) peripheral(id PeerID, needLink bool) (Peripheral, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peripherals[id]
	if !ok {
		return nil, ErrPeerNotFound
	}
	if needLink && !s.connected[id] {
		return nil, ErrNotConnected
	}
	return p, nil
}

func (s *PeripheralServer) handle(f Frame) Frame {
	var resp Frame

	switch f.Op {
	case FrameOpScanStart:
		s.mu.Lock()
		s.scanning = true
		s.scanFilter = uuidsFromList(f.UUIDs)
		s.mu.Unlock()

	case FrameOpScanStop:
		s.mu.Lock()
		s.scanning = false
		s.scanFilter = nil
		s.mu.Unlock()

	case FrameOpConnect:
		p, err := s.peripheral(f.Peer, false)
		if err != nil {
			resp.setErr(err)
			break
		}
		s.mu.Lock()
		already := s.connected[f.Peer]
		s.connected[f.Peer] = true
		s.mu.Unlock()
		if !already {
			p.Connected()
		}

	case FrameOpDisconnect:
		s.mu.Lock()
		p, ok := s.peripherals[f.Peer]
		was := s.connected[f.Peer]
		delete(s.connected, f.Peer)
		s.clearSubs(f.Peer)
		s.mu.Unlock()
		if ok && was {
			p.Disconnected()
		}

	case FrameOpDiscoverServices:
		p, err := s.peripheral(f.Peer, true)
		if err != nil {
			resp.setErr(err)
			break
		}
		var us []uuid.UUID
		for _, svc := range p.Services() {
			us = append(us, svc.UUID)
		}
		resp.UUIDs = uuidList(us)

	case FrameOpDiscoverCharacteristics:
		p, err := s.peripheral(f.Peer, true)
		if err != nil {
			resp.setErr(err)
			break
		}
		want := uuidFromBytes(f.Service)
		found := false
		for _, svc := range p.Services() {
			if svc.UUID == want {
				resp.UUIDs = uuidList(svc.Characteristics)
				found = true
			}
		}
		if !found {
			resp.setErr(ErrServiceNotFound)
		}

	case FrameOpRead:
		p, err := s.peripheral(f.Peer, true)
		if err != nil {
			resp.setErr(err)
			break
		}
		data, err := p.Read(uuidFromBytes(f.Service), uuidFromBytes(f.Char))
		resp.Data = data
		resp.setErr(err)

	case FrameOpWrite:
		p, err := s.peripheral(f.Peer, true)
		if err != nil {
			resp.setErr(err)
			break
		}
		peer := f.Peer
		notify := func(service, char uuid.UUID, data []byte) {
			s.notify(peer, service, char, data)
		}
		resp.setErr(p.Write(uuidFromBytes(f.Service), uuidFromBytes(f.Char), f.Data, notify))

	case FrameOpSubscribe:
		if _, err := s.peripheral(f.Peer, true); err != nil {
			resp.setErr(err)
			break
		}
		s.mu.Lock()
		s.subscribed[subKey{peer: f.Peer, service: uuidFromBytes(f.Service), char: uuidFromBytes(f.Char)}] = true
		s.mu.Unlock()

	case FrameOpUnsubscribe:
		s.mu.Lock()
		delete(s.subscribed, subKey{peer: f.Peer, service: uuidFromBytes(f.Service), char: uuidFromBytes(f.Char)})
		s.mu.Unlock()

	case FrameOpAdvertise:
		data := append([]byte(nil), f.Data...)
		s.mu.Lock()
		s.advertising = data
		s.mu.Unlock()
		select {
		case s.advertised <- data:
		default:
		}

	case FrameOpStopAdvertise:
		s.mu.Lock()
		s.advertising = nil
		s.mu.Unlock()

	default:
		resp.Error = "unsupported operation " + f.Op.String()
		resp.Code = -1
	}
	return resp
}

// notify sends a notification if the engine subscribed to the characteristic.
// Peripherals call it from Write, so it runs before the write response.
func (s *PeripheralServer) notify(peer PeerID, service, char uuid.UUID, data []byte) {
	s.mu.Lock()
	ok := s.subscribed[subKey{peer: peer, service: service, char: char}]
	s.mu.Unlock()
	if !ok {
		s.log.Debugf("dropping notification for %s: not subscribed", peer)
		return
	}
	if err := s.conn.WriteFrame(Frame{
		Op:      FrameOpNotification,
		Peer:    peer,
		Service: uuidBytes(service),
		Char:    uuidBytes(char),
		Data:    data,
	}); err != nil {
		s.log.Warnf("notification to %s failed: %v", peer, err)
	}
}
