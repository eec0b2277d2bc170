package transport

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"
)

// RemoteConfig configures a RemoteAdapter.
type RemoteConfig struct {
	// Conn is the link to the radio bridge. Required.
	Conn FrameConn

	// LoggerFactory creates the adapter logger. Default: pion default factory.
	LoggerFactory logging.LoggerFactory

	// ScanBuffer is the advertisement channel capacity. Default: 64
	ScanBuffer int

	// NotifyBuffer is the notification channel capacity. Default: 16
	NotifyBuffer int

	// Clock stamps received advertisements. Default: time.Now
	Clock func() time.Time
}

type subKey struct {
	peer    PeerID
	service uuid.UUID
	char    uuid.UUID
}

// RemoteAdapter implements Adapter and Advertiser by forwarding operations to
// a radio bridge over a FrameConn.
type RemoteAdapter struct {
	conn   FrameConn
	log    logging.LeveledLogger
	clock  func() time.Time
	config RemoteConfig

	mu           sync.Mutex
	seq          uint32
	pending      map[uint32]chan Frame
	scanCh       chan RawAdvertisement
	subs         map[subKey]chan []byte
	onDisconnect func(PeerID)
	closed       bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewRemoteAdapter creates the adapter and starts reading from the link.
func NewRemoteAdapter(config RemoteConfig) (*RemoteAdapter, error) {
	if config.Conn == nil {
		return nil, ErrClosed
	}
	if config.LoggerFactory == nil {
		config.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	if config.ScanBuffer == 0 {
		config.ScanBuffer = 64
	}
	if config.NotifyBuffer == 0 {
		config.NotifyBuffer = 16
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}

	r := &RemoteAdapter{
		conn:    config.Conn,
		log:     config.LoggerFactory.NewLogger("transport"),
		clock:   config.Clock,
		config:  config,
		pending: make(map[uint32]chan Frame),
		subs:    make(map[subKey]chan []byte),
		done:    make(chan struct{}),
	}

	r.wg.Add(1)
	go r.readLoop()
	return r, nil
}

// Close shuts the link and fails all pending calls.
func (r *RemoteAdapter) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.done)
	r.mu.Unlock()

	err := r.conn.Close()
	r.wg.Wait()
	return err
}

func (r *RemoteAdapter) readLoop() {
	defer r.wg.Done()
	defer r.shutdown()

	for {
		f, err := r.conn.ReadFrame()
		if err != nil {
			select {
			case <-r.done:
			default:
				r.log.Warnf("bridge link read failed: %v", err)
			}
			return
		}
		r.dispatch(f)
	}
}

// shutdown closes every stream after the link is gone.
func (r *RemoteAdapter) shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.done)
	}
	if r.scanCh != nil {
		close(r.scanCh)
		r.scanCh = nil
	}
	for k, ch := range r.subs {
		close(ch)
		delete(r.subs, k)
	}
}

func (r *RemoteAdapter) dispatch(f Frame) {
	switch f.Op {
	case FrameOpResponse:
		r.mu.Lock()
		ch, ok := r.pending[f.Seq]
		delete(r.pending, f.Seq)
		r.mu.Unlock()
		if !ok {
			r.log.Debugf("response for unknown seq %d", f.Seq)
			return
		}
		ch <- f

	case FrameOpAdvertisement:
		adv := RawAdvertisement{
			Peer:         f.Peer,
			Name:         f.Name,
			RSSI:         f.RSSI,
			ServiceUUIDs: uuidsFromList(f.UUIDs),
			ServiceData:  f.ServiceData,
			ReceivedAt:   r.clock(),
		}
		r.mu.Lock()
		if r.scanCh != nil {
			select {
			case r.scanCh <- adv:
			default:
				r.log.Tracef("scan buffer full, dropping advertisement from %s", f.Peer)
			}
		}
		r.mu.Unlock()

	case FrameOpNotification:
		key := subKey{peer: f.Peer, service: uuidFromBytes(f.Service), char: uuidFromBytes(f.Char)}
		r.mu.Lock()
		if ch, ok := r.subs[key]; ok {
			select {
			case ch <- f.Data:
			default:
				r.log.Warnf("notification buffer full for %s", f.Peer)
			}
		}
		r.mu.Unlock()

	case FrameOpDisconnected:
		r.mu.Lock()
		for k, ch := range r.subs {
			if k.peer == f.Peer {
				close(ch)
				delete(r.subs, k)
			}
		}
		handler := r.onDisconnect
		r.mu.Unlock()
		r.log.Debugf("peer %s disconnected", f.Peer)
		if handler != nil {
			handler(f.Peer)
		}

	default:
		r.log.Debugf("ignoring frame %s", f.Op)
	}
}

// call sends a request frame and waits for its response.
func (r *RemoteAdapter) call(ctx context.Context, f Frame) (Frame, error) {
	ch := make(chan Frame, 1)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return Frame{}, ErrClosed
	}
	r.seq++
	f.Seq = r.seq
	r.pending[f.Seq] = ch
	r.mu.Unlock()

	if err := r.conn.WriteFrame(f); err != nil {
		r.forget(f.Seq)
		return Frame{}, err
	}

	select {
	case resp := <-ch:
		return resp, resp.Err()
	case <-ctx.Done():
		r.forget(f.Seq)
		return Frame{}, ctx.Err()
	case <-r.done:
		r.forget(f.Seq)
		return Frame{}, ErrClosed
	}
}

func (r *RemoteAdapter) forget(seq uint32) {
	r.mu.Lock()
	delete(r.pending, seq)
	r.mu.Unlock()
}

// Scan implements Adapter.
func (r *RemoteAdapter) Scan(ctx context.Context, filter []uuid.UUID) (<-chan RawAdvertisement, error) {
	r.mu.Lock()
	if r.scanCh != nil {
		r.mu.Unlock()
		return nil, ErrScanInProgress
	}
	ch := make(chan RawAdvertisement, r.config.ScanBuffer)
	r.scanCh = ch
	r.mu.Unlock()

	if _, err := r.call(ctx, Frame{Op: FrameOpScanStart, UUIDs: uuidList(filter)}); err != nil {
		r.mu.Lock()
		if r.scanCh == ch {
			r.scanCh = nil
			close(ch)
		}
		r.mu.Unlock()
		return nil, err
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		select {
		case <-ctx.Done():
		case <-r.done:
			return
		}
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if _, err := r.call(stopCtx, Frame{Op: FrameOpScanStop}); err != nil {
			r.log.Debugf("scan stop: %v", err)
		}
		r.mu.Lock()
		if r.scanCh == ch {
			r.scanCh = nil
			close(ch)
		}
		r.mu.Unlock()
	}()
	return ch, nil
}

// Connect implements Adapter.
func (r *RemoteAdapter) Connect(ctx context.Context, peer PeerID) error {
	_, err := r.call(ctx, Frame{Op: FrameOpConnect, Peer: peer})
	return err
}

// Disconnect implements Adapter.
func (r *RemoteAdapter) Disconnect(ctx context.Context, peer PeerID) error {
	_, err := r.call(ctx, Frame{Op: FrameOpDisconnect, Peer: peer})
	return err
}

// DiscoverServices implements Adapter.
func (r *RemoteAdapter) DiscoverServices(ctx context.Context, peer PeerID) ([]uuid.UUID, error) {
	resp, err := r.call(ctx, Frame{Op: FrameOpDiscoverServices, Peer: peer})
	if err != nil {
		return nil, err
	}
	return uuidsFromList(resp.UUIDs), nil
}

// DiscoverCharacteristics implements Adapter.
func (r *RemoteAdapter) DiscoverCharacteristics(ctx context.Context, peer PeerID, service uuid.UUID) ([]uuid.UUID, error) {
	resp, err := r.call(ctx, Frame{Op: FrameOpDiscoverCharacteristics, Peer: peer, Service: uuidBytes(service)})
	if err != nil {
		return nil, err
	}
	return uuidsFromList(resp.UUIDs), nil
}

// Write implements Adapter.
func (r *RemoteAdapter) Write(ctx context.Context, peer PeerID, service, char uuid.UUID, data []byte, withResponse bool) error {
	_, err := r.call(ctx, Frame{
		Op:           FrameOpWrite,
		Peer:         peer,
		Service:      uuidBytes(service),
		Char:         uuidBytes(char),
		Data:         data,
		WithResponse: withResponse,
	})
	return err
}

// Read implements Adapter.
func (r *RemoteAdapter) Read(ctx context.Context, peer PeerID, service, char uuid.UUID) ([]byte, error) {
	resp, err := r.call(ctx, Frame{Op: FrameOpRead, Peer: peer, Service: uuidBytes(service), Char: uuidBytes(char)})
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Subscribe implements Adapter.
func (r *RemoteAdapter) Subscribe(ctx context.Context, peer PeerID, service, char uuid.UUID) (<-chan []byte, error) {
	key := subKey{peer: peer, service: service, char: char}
	ch := make(chan []byte, r.config.NotifyBuffer)

	r.mu.Lock()
	if old, ok := r.subs[key]; ok {
		close(old)
	}
	r.subs[key] = ch
	r.mu.Unlock()

	f := Frame{Op: FrameOpSubscribe, Peer: peer, Service: uuidBytes(service), Char: uuidBytes(char)}
	if _, err := r.call(ctx, f); err != nil {
		r.dropSub(key, ch)
		return nil, err
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		select {
		case <-ctx.Done():
		case <-r.done:
			return
		}
		if r.dropSub(key, ch) {
			stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			f.Op = FrameOpUnsubscribe
			_, _ = r.call(stopCtx, f)
		}
	}()
	return ch, nil
}

// dropSub removes and closes ch if it is still registered under key.
func (r *RemoteAdapter) dropSub(key subKey, ch chan []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.subs[key]; ok && cur == ch {
		close(ch)
		delete(r.subs, key)
		return true
	}
	return false
}

// OnDisconnect implements Adapter.
func (r *RemoteAdapter) OnDisconnect(handler func(peer PeerID)) {
	r.mu.Lock()
	r.onDisconnect = handler
	r.mu.Unlock()
}

// Advertise implements Advertiser.
func (r *RemoteAdapter) Advertise(ctx context.Context, payload []byte) error {
	_, err := r.call(ctx, Frame{Op: FrameOpAdvertise, Data: payload})
	return err
}

// StopAdvertising implements Advertiser.
func (r *RemoteAdapter) StopAdvertising() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := r.call(ctx, Frame{Op: FrameOpStopAdvertise})
	return err
}

var (
	_ Adapter    = (*RemoteAdapter)(nil)
	_ Advertiser = (*RemoteAdapter)(nil)
)
