// Package ble implements transport.Adapter on a local Bluetooth controller.
package ble

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"
	"tinygo.org/x/bluetooth"

	"github.com/backkem/bluenet/pkg/transport"
)

// CompanyID is the manufacturer identifier used for outbound broadcasts.
const CompanyID uint16 = 0x038E

// Config configures an Adapter.
type Config struct {
	// Radio is the controller to use. Default: bluetooth.DefaultAdapter
	Radio *bluetooth.Adapter

	// LoggerFactory creates the adapter logger. Default: pion default factory.
	LoggerFactory logging.LoggerFactory
}

type link struct {
	device bluetooth.Device
	chars  map[uuid.UUID]map[uuid.UUID]bluetooth.DeviceCharacteristic
}

// Adapter drives a local controller.
type Adapter struct {
	radio *bluetooth.Adapter
	log   logging.LeveledLogger

	mu           sync.Mutex
	addresses    map[transport.PeerID]bluetooth.Address
	links        map[transport.PeerID]*link
	subs         map[transport.PeerID][]chan []byte
	scanning     bool
	onDisconnect func(transport.PeerID)
	adv          *bluetooth.Advertisement
}

// New enables the controller and returns an adapter.
func New(config Config) (*Adapter, error) {
	if config.Radio == nil {
		config.Radio = bluetooth.DefaultAdapter
	}
	if config.LoggerFactory == nil {
		config.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	if err := config.Radio.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}

	a := &Adapter{
		radio:     config.Radio,
		log:       config.LoggerFactory.NewLogger("ble"),
		addresses: make(map[transport.PeerID]bluetooth.Address),
		links:     make(map[transport.PeerID]*link),
		subs:      make(map[transport.PeerID][]chan []byte),
	}
	a.radio.SetConnectHandler(a.connectEvent)
	return a, nil
}

func (a *Adapter) connectEvent(device bluetooth.Device, connected bool) {
	if connected {
		return
	}
	peer := transport.PeerID(device.Address.String())

	a.mu.Lock()
	_, known := a.links[peer]
	delete(a.links, peer)
	for _, ch := range a.subs[peer] {
		close(ch)
	}
	delete(a.subs, peer)
	handler := a.onDisconnect
	a.mu.Unlock()

	if known && handler != nil {
		handler(peer)
	}
}

func toUUID(u bluetooth.UUID) uuid.UUID {
	parsed, err := uuid.Parse(u.String())
	if err != nil {
		return uuid.Nil
	}
	return parsed
}

func fromUUID(u uuid.UUID) (bluetooth.UUID, error) {
	return bluetooth.ParseUUID(u.String())
}

// Scan implements transport.Adapter.
func (a *Adapter) Scan(ctx context.Context, filter []uuid.UUID) (<-chan transport.RawAdvertisement, error) {
	var filters []bluetooth.UUID
	for _, f := range filter {
		bu, err := fromUUID(f)
		if err != nil {
			return nil, err
		}
		filters = append(filters, bu)
	}

	a.mu.Lock()
	if a.scanning {
		a.mu.Unlock()
		return nil, transport.ErrScanInProgress
	}
	a.scanning = true
	a.mu.Unlock()

	out := make(chan transport.RawAdvertisement, 64)
	go func() {
		<-ctx.Done()
		if err := a.radio.StopScan(); err != nil {
			a.log.Debugf("stop scan: %v", err)
		}
	}()
	go func() {
		defer func() {
			a.mu.Lock()
			a.scanning = false
			a.mu.Unlock()
			close(out)
		}()
		err := a.radio.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			if !matches(result, filters) {
				return
			}
			adv := a.convert(result)
			select {
			case out <- adv:
			default:
				a.log.Tracef("scan buffer full, dropping %s", adv.Peer)
			}
		})
		if err != nil {
			a.log.Warnf("scan ended: %v", err)
		}
	}()
	return out, nil
}

func matches(result bluetooth.ScanResult, filters []bluetooth.UUID) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if result.HasServiceUUID(f) {
			return true
		}
	}
	for _, sd := range result.ServiceData() {
		for _, f := range filters {
			if sd.UUID == f {
				return true
			}
		}
	}
	return false
}

func (a *Adapter) convert(result bluetooth.ScanResult) transport.RawAdvertisement {
	peer := transport.PeerID(result.Address.String())
	a.mu.Lock()
	a.addresses[peer] = result.Address
	a.mu.Unlock()

	adv := transport.RawAdvertisement{
		Peer:        peer,
		Name:        result.LocalName(),
		RSSI:        int(result.RSSI),
		ServiceData: make(map[uint16][]byte),
		ReceivedAt:  time.Now(),
	}
	for _, sd := range result.ServiceData() {
		if sd.UUID.Is16Bit() {
			adv.ServiceData[sd.UUID.Get16Bit()] = append([]byte(nil), sd.Data...)
		}
	}
	for _, svc := range []uuid.UUID{transport.OperationService, transport.SetupService, transport.DFUService, transport.LegacyDFUService} {
		bu, err := fromUUID(svc)
		if err == nil && result.HasServiceUUID(bu) {
			adv.ServiceUUIDs = append(adv.ServiceUUIDs, svc)
		}
	}
	return adv
}

// Connect implements transport.Adapter.
func (a *Adapter) Connect(ctx context.Context, peer transport.PeerID) error {
	a.mu.Lock()
	addr, ok := a.addresses[peer]
	_, connected := a.links[peer]
	a.mu.Unlock()
	if connected {
		return nil
	}
	if !ok {
		return transport.ErrPeerNotFound
	}

	params := bluetooth.ConnectionParams{}
	if deadline, ok := ctx.Deadline(); ok {
		params.ConnectionTimeout = bluetooth.NewDuration(time.Until(deadline))
	}

	type result struct {
		device bluetooth.Device
		err    error
	}
	done := make(chan result, 1)
	go func() {
		d, err := a.radio.Connect(addr, params)
		done <- result{d, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return fmt.Errorf("%w: %v", transport.ErrConnectTimeout, r.err)
		}
		a.mu.Lock()
		a.links[peer] = &link{device: r.device, chars: make(map[uuid.UUID]map[uuid.UUID]bluetooth.DeviceCharacteristic)}
		a.mu.Unlock()
		return nil
	case <-ctx.Done():
		go func() {
			if r := <-done; r.err == nil {
				_ = r.device.Disconnect()
			}
		}()
		return transport.ErrConnectTimeout
	}
}

// Disconnect implements transport.Adapter.
func (a *Adapter) Disconnect(ctx context.Context, peer transport.PeerID) error {
	a.mu.Lock()
	l, ok := a.links[peer]
	delete(a.links, peer)
	for _, ch := range a.subs[peer] {
		close(ch)
	}
	delete(a.subs, peer)
	a.mu.Unlock()
	if !ok {
		return nil
	}
	return l.device.Disconnect()
}

func (a *Adapter) link(peer transport.PeerID) (*link, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.links[peer]
	if !ok {
		return nil, transport.ErrNotConnected
	}
	return l, nil
}

// DiscoverServices implements transport.Adapter.
func (a *Adapter) DiscoverServices(ctx context.Context, peer transport.PeerID) ([]uuid.UUID, error) {
	l, err := a.link(peer)
	if err != nil {
		return nil, err
	}
	services, err := l.device.DiscoverServices(nil)
	if err != nil {
		return nil, err
	}
	out := make([]uuid.UUID, 0, len(services))
	for _, s := range services {
		out = append(out, toUUID(s.UUID()))
	}
	return out, nil
}

// DiscoverCharacteristics implements transport.Adapter.
func (a *Adapter) DiscoverCharacteristics(ctx context.Context, peer transport.PeerID, service uuid.UUID) ([]uuid.UUID, error) {
	l, err := a.link(peer)
	if err != nil {
		return nil, err
	}
	bu, err := fromUUID(service)
	if err != nil {
		return nil, err
	}
	services, err := l.device.DiscoverServices([]bluetooth.UUID{bu})
	if err != nil || len(services) == 0 {
		return nil, transport.ErrServiceNotFound
	}
	chars, err := services[0].DiscoverCharacteristics(nil)
	if err != nil {
		return nil, err
	}

	byUUID := make(map[uuid.UUID]bluetooth.DeviceCharacteristic, len(chars))
	out := make([]uuid.UUID, 0, len(chars))
	for _, c := range chars {
		id := toUUID(c.UUID())
		byUUID[id] = c
		out = append(out, id)
	}
	a.mu.Lock()
	l.chars[service] = byUUID
	a.mu.Unlock()
	return out, nil
}

func (a *Adapter) char(ctx context.Context, peer transport.PeerID, service, char uuid.UUID) (bluetooth.DeviceCharacteristic, error) {
	l, err := a.link(peer)
	if err != nil {
		return bluetooth.DeviceCharacteristic{}, err
	}
	a.mu.Lock()
	chars, ok := l.chars[service]
	a.mu.Unlock()
	if !ok {
		if _, err := a.DiscoverCharacteristics(ctx, peer, service); err != nil {
			return bluetooth.DeviceCharacteristic{}, err
		}
		a.mu.Lock()
		chars = l.chars[service]
		a.mu.Unlock()
	}
	c, ok := chars[char]
	if !ok {
		return bluetooth.DeviceCharacteristic{}, transport.ErrCharacteristicNotFound
	}
	return c, nil
}

// Write implements transport.Adapter.
func (a *Adapter) Write(ctx context.Context, peer transport.PeerID, service, char uuid.UUID, data []byte, withResponse bool) error {
	c, err := a.char(ctx, peer, service, char)
	if err != nil {
		return err
	}
	if withResponse {
		return writeWithResponse(c, data)
	}
	_, err = c.WriteWithoutResponse(data)
	return err
}

// Read implements transport.Adapter.
func (a *Adapter) Read(ctx context.Context, peer transport.PeerID, service, char uuid.UUID) ([]byte, error) {
	c, err := a.char(ctx, peer, service, char)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 512)
	n, err := c.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// Subscribe implements transport.Adapter.
func (a *Adapter) Subscribe(ctx context.Context, peer transport.PeerID, service, char uuid.UUID) (<-chan []byte, error) {
	c, err := a.char(ctx, peer, service, char)
	if err != nil {
		return nil, err
	}
	ch := make(chan []byte, 16)
	a.mu.Lock()
	a.subs[peer] = append(a.subs[peer], ch)
	a.mu.Unlock()

	err = c.EnableNotifications(func(buf []byte) {
		data := append([]byte(nil), buf...)
		a.mu.Lock()
		defer a.mu.Unlock()
		for _, s := range a.subs[peer] {
			if s == ch {
				select {
				case ch <- data:
				default:
					a.log.Warnf("notification buffer full for %s", peer)
				}
			}
		}
	})
	if err != nil {
		a.removeSub(peer, ch)
		return nil, err
	}

	go func() {
		<-ctx.Done()
		if a.removeSub(peer, ch) {
			_ = c.EnableNotifications(nil)
		}
	}()
	return ch, nil
}

func (a *Adapter) removeSub(peer transport.PeerID, ch chan []byte) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	subs := a.subs[peer]
	for i, s := range subs {
		if s == ch {
			close(ch)
			a.subs[peer] = append(subs[:i], subs[i+1:]...)
			return true
		}
	}
	return false
}

// OnDisconnect implements transport.Adapter.
func (a *Adapter) OnDisconnect(handler func(peer transport.PeerID)) {
	a.mu.Lock()
	a.onDisconnect = handler
	a.mu.Unlock()
}

// Advertise implements transport.Advertiser. The payload is carried as
// manufacturer data.
func (a *Adapter) Advertise(ctx context.Context, payload []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.adv == nil {
		a.adv = a.radio.DefaultAdvertisement()
	} else if err := a.adv.Stop(); err != nil {
		a.log.Debugf("stop advertisement: %v", err)
	}
	err := a.adv.Configure(bluetooth.AdvertisementOptions{
		ManufacturerData: []bluetooth.ManufacturerDataElement{
			{CompanyID: CompanyID, Data: append([]byte(nil), payload...)},
		},
	})
	if err != nil {
		return fmt.Errorf("ble: configure advertisement: %w", err)
	}
	return a.adv.Start()
}

// StopAdvertising implements transport.Advertiser.
func (a *Adapter) StopAdvertising() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.adv == nil {
		return nil
	}
	return a.adv.Stop()
}

var (
	_ transport.Adapter    = (*Adapter)(nil)
	_ transport.Advertiser = (*Adapter)(nil)
)
