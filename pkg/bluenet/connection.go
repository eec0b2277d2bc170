package bluenet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/backkem/bluenet/pkg/crypto"
	"github.com/backkem/bluenet/pkg/packet"
	"github.com/backkem/bluenet/pkg/request"
	"github.com/backkem/bluenet/pkg/session"
	"github.com/backkem/bluenet/pkg/transport"
)

// link is the one connection the client holds.
type link struct {
	peer    transport.PeerID
	state   *session.ConnectionState
	service uuid.UUID
	control uuid.UUID
	result  uuid.UUID

	// ctx scopes the result subscription to the link.
	ctx    context.Context
	cancel context.CancelFunc

	once sync.Once
	lost chan struct{}

	// inflight lists the commands written on the link whose result has
	// not arrived yet, oldest first. The stone answers in order.
	mu       sync.Mutex
	inflight []inflight
	seq      uint64
}

type inflight struct {
	seq  uint64
	cmd  packet.CommandType
	sent time.Time
}

// expect records a command about to be written. Entries older than maxAge
// are assumed lost.
func (l *link) expect(cmd packet.CommandType, now time.Time, maxAge time.Duration) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := 0
	for i < len(l.inflight) && now.Sub(l.inflight[i].sent) > maxAge {
		i++
	}
	l.seq++
	l.inflight = append(l.inflight[i:], inflight{seq: l.seq, cmd: cmd, sent: now})
	return l.seq
}

// forget removes a command whose write never reached the stone.
func (l *link) forget(seq uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, f := range l.inflight {
		if f.seq == seq {
			l.inflight = append(l.inflight[:i], l.inflight[i+1:]...)
			return
		}
	}
}

// settle matches a result to the oldest outstanding command of its type.
// It reports whether the result is stale: a newer command was written
// after it, so the result belongs to a write that was replaced.
func (l *link) settle(cmd packet.CommandType) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, f := range l.inflight {
		if f.cmd == cmd {
			stale := i < len(l.inflight)-1
			l.inflight = l.inflight[i+1:]
			return stale
		}
	}
	return false
}

func (c *Client) currentLink() *link {
	c.linkMu.Lock()
	defer c.linkMu.Unlock()
	return c.link
}

// readyLink returns the link to peer if its handshake completed.
func (c *Client) readyLink(peer transport.PeerID) (*link, error) {
	l := c.currentLink()
	if l == nil || l.peer != peer || l.state.Phase() != session.PhaseReady {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, peer)
	}
	return l, nil
}

// Connection returns a snapshot of the current connection.
func (c *Client) Connection() (session.Snapshot, bool) {
	l := c.currentLink()
	if l == nil {
		return session.Snapshot{}, false
	}
	return l.state.Snapshot(), true
}

// call runs op as the pending request of type t. The result of op is
// returned only when the request completed through op itself.
func call[T any](ctx context.Context, c *Client, t request.Type, timeout time.Duration, op func(context.Context) (T, error)) (T, error) {
	var zero T
	req := c.lifecycle.Issue(t, timeout)
	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	values := make(chan T, 1)
	go func() {
		v, err := op(opCtx)
		if err == nil {
			values <- v
		}
		c.lifecycle.Complete(req, nil, err)
	}()

	if _, err := req.Wait(ctx); err != nil {
		return zero, err
	}
	select {
	case v := <-values:
		return v, nil
	default:
		return zero, nil
	}
}

// Connect links to peer and runs the handshake: mode and dialect
// discovery, key selection and session data. referenceID selects the
// sphere keys; when empty the sphere that validated the peer's broadcasts
// is used. Setup and DFU mode need no sphere. Any link to another peer is
// disconnected first.
func (c *Client) Connect(ctx context.Context, peer transport.PeerID, referenceID string) (session.OperationMode, error) {
	if err := c.running(); err != nil {
		return session.ModeUnknown, err
	}
	if l := c.currentLink(); l != nil {
		if l.peer == peer && l.state.Phase() == session.PhaseReady {
			return l.state.Mode(), nil
		}
		if err := c.Disconnect(ctx, l.peer); err != nil {
			c.log.Debugf("dropping link to %s: %v", l.peer, err)
		}
	}

	l := &link{
		peer:  peer,
		state: c.registry.Create(peer),
		lost:  make(chan struct{}),
	}
	l.ctx, l.cancel = context.WithCancel(context.Background())
	c.linkMu.Lock()
	c.link = l
	c.linkMu.Unlock()
	c.publishConnection(l, nil)

	_, err := call(ctx, c, request.TypeConnect, c.config.ConnectTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.config.Adapter.Connect(ctx, peer)
	})
	if err != nil {
		if errors.Is(err, request.ErrTimeout) || ctx.Err() != nil {
			c.abortConnect(peer)
		}
		c.drop(l, err)
		return session.ModeUnknown, err
	}
	l.state.SetPhase(session.PhaseConnected)

	mode, err := c.handshake(ctx, l, referenceID)
	if err != nil {
		if errors.Is(err, request.ErrReplaced) || l.detached() {
			c.drop(l, err)
			return session.ModeUnknown, err
		}
		return session.ModeUnknown, c.errorDisconnect(l, err)
	}

	l.state.SetPhase(session.PhaseReady)
	l.state.MarkActivity()
	c.watchdog.Kick()
	c.publishConnection(l, nil)
	c.log.Infof("connected to %s: %s, %s", peer, mode, l.state.Dialect())
	return mode, nil
}

// abortConnect cancels a link the radio may still complete after the
// connect request gave up.
func (c *Client) abortConnect(peer transport.PeerID) {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.DisconnectTimeout)
	defer cancel()
	if err := c.config.Adapter.Disconnect(ctx, peer); err != nil {
		c.log.Debugf("cancel connect to %s: %v", peer, err)
	}
}

func (c *Client) handshake(ctx context.Context, l *link, referenceID string) (session.OperationMode, error) {
	services, err := call(ctx, c, request.TypeRead, c.config.RequestTimeout, func(ctx context.Context) ([]uuid.UUID, error) {
		return c.config.Adapter.DiscoverServices(ctx, l.peer)
	})
	if err != nil {
		return session.ModeUnknown, err
	}
	mode, service := resolveMode(services)
	if mode == session.ModeUnknown {
		return mode, ErrUnknownService
	}
	if err := l.state.SetMode(mode); err != nil {
		return mode, err
	}
	l.service = service
	if mode == session.ModeDFU {
		return mode, nil
	}

	chars, err := call(ctx, c, request.TypeRead, c.config.RequestTimeout, func(ctx context.Context) ([]uuid.UUID, error) {
		return c.config.Adapter.DiscoverCharacteristics(ctx, l.peer, service)
	})
	if err != nil {
		return mode, err
	}
	d := transport.DialectFor(service, chars)
	if d == packet.DialectUnknown {
		return mode, ErrUnknownDialect
	}
	if err := l.state.SetDialect(d); err != nil {
		return mode, err
	}
	l.control, _ = transport.ControlChar(service, d)
	l.result, _ = transport.ResultChar(service, d)

	if mode == session.ModeSetup {
		key, err := c.read(ctx, l, transport.InService(service, transport.SetupKeyChar))
		if err != nil {
			return mode, err
		}
		if err := l.state.SetSetupKey(key); err != nil {
			return mode, err
		}
	} else {
		if err := c.selectKeys(l, referenceID); err != nil {
			return mode, err
		}
	}

	raw, err := c.read(ctx, l, transport.InService(service, transport.SessionDataChar))
	if err != nil {
		return mode, err
	}
	var sd crypto.SessionData
	if d == packet.DialectV5 {
		esd, err := crypto.DecryptSessionData(raw, l.state.SessionDataKey())
		if err != nil {
			return mode, err
		}
		sd = esd.SessionData
	} else {
		sd, err = crypto.ParseClearSessionData(raw)
		if err != nil {
			return mode, err
		}
	}
	l.state.SetSessionData(sd)

	results, err := call(ctx, c, request.TypeSubscribe, c.config.RequestTimeout, func(context.Context) (<-chan []byte, error) {
		return c.config.Adapter.Subscribe(l.ctx, l.peer, service, l.result)
	})
	if err != nil {
		return mode, err
	}
	go c.notifyLoop(l, results)
	return mode, nil
}

func (c *Client) selectKeys(l *link, referenceID string) error {
	ref := referenceID
	if ref == "" {
		ok, validated := c.Verified(l.peer)
		if !ok || validated == "" {
			return fmt.Errorf("%w: %s", ErrUnverified, l.peer)
		}
		ref = validated
	}
	s := c.sphere(ref)
	if s == nil {
		return fmt.Errorf("%w: %q", ErrNoKeys, ref)
	}
	ks, err := s.KeySet()
	if err != nil {
		return err
	}
	l.state.SetKeySet(ks)
	return nil
}

func resolveMode(services []uuid.UUID) (session.OperationMode, uuid.UUID) {
	has := func(u uuid.UUID) bool {
		for _, s := range services {
			if s == u {
				return true
			}
		}
		return false
	}
	switch {
	case has(transport.DFUService):
		return session.ModeDFU, transport.DFUService
	case has(transport.LegacyDFUService):
		return session.ModeDFU, transport.LegacyDFUService
	case has(transport.SetupService):
		return session.ModeSetup, transport.SetupService
	case has(transport.OperationService):
		return session.ModeOperation, transport.OperationService
	}
	return session.ModeUnknown, uuid.Nil
}

// read reads a characteristic as a TypeRead request.
func (c *Client) read(ctx context.Context, l *link, char uuid.UUID) ([]byte, error) {
	return call(ctx, c, request.TypeRead, c.config.RequestTimeout, func(ctx context.Context) ([]byte, error) {
		return c.config.Adapter.Read(ctx, l.peer, l.service, char)
	})
}

// notifyLoop turns result notifications into completions of the pending
// write. It ends when the subscription closes.
func (c *Client) notifyLoop(l *link, results <-chan []byte) {
	var merger packet.Merger
	d := l.state.Dialect()
	for data := range results {
		msg := data
		if d == packet.DialectV5 {
			merged, done, err := merger.Add(data)
			if err != nil {
				c.log.Warnf("result from %s: %v", l.peer, err)
				continue
			}
			if !done {
				continue
			}
			msg = merged
		}

		plain, err := l.state.Decrypt(msg)
		if err != nil {
			c.log.Warnf("result from %s: %v", l.peer, err)
			if rejectErr := c.lifecycle.Reject(request.TypeWrite, err); rejectErr != nil {
				c.log.Debugf("undecryptable notification without a pending write")
			}
			continue
		}
		res := packet.ParseResult(d, plain)
		if res.Valid && res.Result == packet.ResultWaitForSuccess {
			c.log.Debugf("%s: %s in progress", l.peer, res.Type)
			continue
		}
		if res.Valid && l.settle(res.Type) {
			c.log.Debugf("%s: dropping late %s result of a replaced write", l.peer, res.Type)
			continue
		}
		if err := c.lifecycle.Fulfill(request.TypeWrite, plain); err != nil {
			c.log.Debugf("unsolicited result from %s: %v", l.peer, err)
		}
	}
	c.log.Tracef("result stream of %s closed", l.peer)
}

// Disconnect drops the link to peer. Disconnecting a peer without a link
// succeeds.
func (c *Client) Disconnect(ctx context.Context, peer transport.PeerID) error {
	l := c.currentLink()
	if l == nil || l.peer != peer {
		return nil
	}
	_, err := call(ctx, c, request.TypeDisconnect, c.config.DisconnectTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.config.Adapter.Disconnect(ctx, peer)
	})
	c.drop(l, nil)
	if err == nil {
		c.log.Infof("disconnected from %s", peer)
	}
	return err
}

// errorDisconnect drops l after a failed handshake and returns cause.
func (c *Client) errorDisconnect(l *link, cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.DisconnectTimeout)
	defer cancel()

	req := c.lifecycle.IssueErrorDisconnect(cause, c.config.DisconnectTimeout)
	go func() {
		c.lifecycle.Complete(req, nil, c.config.Adapter.Disconnect(ctx, l.peer))
	}()
	if _, err := req.Wait(ctx); !errors.Is(err, cause) {
		c.log.Debugf("disconnect after failed handshake with %s: %v", l.peer, err)
	}
	c.drop(l, cause)
	c.log.Warnf("connect to %s failed: %v", l.peer, cause)
	return cause
}

// awaitDisconnect waits for the peer to drop the link after a command
// that restarts it. A peer that keeps the link is disconnected.
func (c *Client) awaitDisconnect(ctx context.Context, l *link) error {
	req := c.lifecycle.Issue(request.TypeAwaitDisconnect, c.config.DisconnectTimeout)
	if l.detached() {
		c.lifecycle.Complete(req, nil, nil)
	}
	_, err := req.Wait(ctx)
	if errors.Is(err, request.ErrTimeout) {
		c.log.Debugf("%s kept the link, disconnecting", l.peer)
		return c.Disconnect(ctx, l.peer)
	}
	return err
}

// HandleRadioReset is called when the radio stack restarts. A pending
// plain disconnect succeeds; any other pending request fails with
// request.ErrReset. All connection state is discarded.
func (c *Client) HandleRadioReset() {
	l := c.currentLink()
	detached := l != nil && c.detach(l)
	c.lifecycle.Reset()
	for _, peer := range c.registry.Clear() {
		c.log.Debugf("discarded state of %s", peer)
	}
	if detached {
		c.publishConnection(l, request.ErrReset)
	}
	c.log.Warn("radio reset")
}

// ConnectWithRetry calls Connect up to attempts times while the failure
// is retryable, backing off between attempts.
func (c *Client) ConnectWithRetry(ctx context.Context, peer transport.PeerID, referenceID string, attempts int) (session.OperationMode, error) {
	for attempt := 0; ; attempt++ {
		mode, err := c.Connect(ctx, peer, referenceID)
		if err == nil || !IsRetryable(err) || attempt+1 >= attempts {
			return mode, err
		}
		delay := c.backoff.Delay(c.config.RetryBase, attempt)
		c.log.Debugf("connect to %s failed: %v; retrying in %s", peer, err, delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return session.ModeUnknown, ctx.Err()
		case <-timer.C:
		}
	}
}

// onLinkLost handles a link dropped by the radio or the peer. It runs on
// the adapter's event goroutine and must not call back into the adapter.
func (c *Client) onLinkLost(peer transport.PeerID) {
	l := c.currentLink()
	if l == nil || l.peer != peer {
		return
	}
	detached := c.detach(l)
	c.lifecycle.LinkLost(fmt.Errorf("%w: %s", transport.ErrDisconnected, peer))
	if detached {
		c.log.Infof("link to %s lost", peer)
		go c.publishConnection(l, transport.ErrDisconnected)
	}
}

func (c *Client) onIdle() {
	l := c.currentLink()
	if l == nil {
		return
	}
	if _, pending := c.lifecycle.Pending(); pending {
		c.watchdog.Kick()
		return
	}
	c.log.Infof("%s idle, disconnecting", l.peer)
	ctx, cancel := context.WithTimeout(context.Background(), c.config.DisconnectTimeout)
	defer cancel()
	if err := c.Disconnect(ctx, l.peer); err != nil {
		c.log.Debugf("idle disconnect of %s: %v", l.peer, err)
	}
}

// detach releases l. It returns false if l was already released.
func (c *Client) detach(l *link) bool {
	released := false
	l.once.Do(func() {
		c.linkMu.Lock()
		if c.link == l {
			c.link = nil
		}
		c.linkMu.Unlock()

		l.cancel()
		l.state.SetPhase(session.PhaseDisconnected)
		c.registry.Remove(l.peer)
		c.watchdog.Stop()
		close(l.lost)
		released = true
	})
	return released
}

func (l *link) detached() bool {
	select {
	case <-l.lost:
		return true
	default:
		return false
	}
}

func (c *Client) drop(l *link, cause error) {
	if c.detach(l) {
		c.publishConnection(l, cause)
	}
}

func (c *Client) publishConnection(l *link, err error) {
	c.events.Publish(Event{
		Topic: TopicConnectionState,
		Peer:  l.peer,
		Time:  c.config.Clock(),
		Payload: ConnectionEvent{
			Peer:    l.peer,
			Phase:   l.state.Phase(),
			Mode:    l.state.Mode(),
			Dialect: l.state.Dialect(),
			Err:     err,
		},
	})
}
