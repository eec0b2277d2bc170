package bluenet

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/bluenet/pkg/advertisement"
	"github.com/backkem/bluenet/pkg/broadcast"
	"github.com/backkem/bluenet/pkg/keystore"
	"github.com/backkem/bluenet/pkg/request"
	"github.com/backkem/bluenet/pkg/session"
	"github.com/backkem/bluenet/pkg/transport"
)

// Client is the protocol engine: it scans and validates stone broadcasts,
// holds at most one connection, runs commands over it and queues outbound
// broadcasts.
type Client struct {
	config Config
	log    logging.LeveledLogger

	events          *EventBus
	advertisements  *advertisement.Manager
	lifecycle       *request.Lifecycle
	watchdog        *request.Watchdog
	registry        *session.Registry
	backoff         *request.Backoff
	broadcaster     *broadcast.Broadcaster
	nearest         *NearestTracker
	nearestSetup    *NearestTracker
	nearestVerified *NearestTracker

	mu     sync.Mutex
	state  ClientState
	cancel context.CancelFunc
	wg     sync.WaitGroup

	keysMu  sync.RWMutex
	spheres map[string]*keystore.Sphere

	linkMu sync.Mutex
	link   *link
}

// NewClient creates a client. Call Start to begin scanning.
func NewClient(config Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	manager, err := advertisement.NewManager(config.Validator)
	if err != nil {
		return nil, err
	}

	c := &Client{
		config:         config,
		log:            config.LoggerFactory.NewLogger("bluenet"),
		events:         NewEventBus(),
		advertisements: manager,
		lifecycle: request.NewLifecycle(request.Config{
			LoggerFactory: config.LoggerFactory,
		}),
		registry: session.NewRegistry(session.ConnectionConfig{
			Clock: config.Clock,
			Rand:  config.Rand,
		}),
		backoff:         request.NewBackoff(request.DefaultRandomSource),
		nearest:         NewNearestTracker(config.NearestExpiry, config.Clock),
		nearestSetup:    NewNearestTracker(config.NearestExpiry, config.Clock),
		nearestVerified: NewNearestTracker(config.NearestExpiry, config.Clock),
		spheres:         make(map[string]*keystore.Sphere),
	}
	c.watchdog = request.NewWatchdog(config.IdleTimeout, c.onIdle)

	if config.Advertiser != nil {
		c.broadcaster, err = broadcast.NewBroadcaster(broadcast.Config{
			Advertiser:            config.Advertiser,
			Keys:                  c.broadcastKey,
			TickInterval:          config.Broadcast.TickInterval,
			MinDuration:           config.Broadcast.MinDuration,
			DisableTimeValidation: config.Broadcast.DisableTimeValidation,
			Clock:                 config.Clock,
			LoggerFactory:         config.LoggerFactory,
		})
		if err != nil {
			return nil, err
		}
	}

	config.Adapter.OnDisconnect(c.onLinkLost)
	return c, nil
}

// Events returns the event bus.
func (c *Client) Events() *EventBus {
	return c.events
}

// Subscribe registers h for topic and returns the unsubscribe function.
func (c *Client) Subscribe(topic Topic, h Handler) func() {
	return c.events.Subscribe(topic, h)
}

// State returns the client state.
func (c *Client) State() ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s ClientState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	if c.config.OnStateChanged != nil {
		c.config.OnStateChanged(s)
	}
}

// Start begins scanning and, with an advertiser, broadcasting.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if !c.state.CanStart() {
		state := c.state
		c.mu.Unlock()
		if state == ClientStateRunning {
			return ErrAlreadyStarted
		}
		return ErrAlreadyStopped
	}

	runCtx, cancel := context.WithCancel(ctx)
	advs, err := c.config.Adapter.Scan(runCtx, c.config.ScanFilter)
	if err != nil {
		cancel()
		c.mu.Unlock()
		return err
	}
	c.cancel = cancel

	c.wg.Add(1)
	go c.scanLoop(runCtx, advs)

	if c.broadcaster != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if err := c.broadcaster.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				c.log.Warnf("broadcaster stopped: %v", err)
			}
		}()
	}
	c.mu.Unlock()

	c.setState(ClientStateRunning)
	c.log.Info("client started")
	return nil
}

// Stop disconnects, stops scanning and fails outstanding broadcasts.
// A stopped client cannot be restarted.
func (c *Client) Stop() error {
	c.mu.Lock()
	if !c.state.CanStop() {
		state := c.state
		c.mu.Unlock()
		if state == ClientStateStopped || state == ClientStateStopping {
			return ErrAlreadyStopped
		}
		return ErrNotStarted
	}
	c.state = ClientStateStopping
	cancel := c.cancel
	c.mu.Unlock()

	if l := c.currentLink(); l != nil {
		ctx, done := context.WithTimeout(context.Background(), c.config.DisconnectTimeout)
		if err := c.Disconnect(ctx, l.peer); err != nil {
			c.log.Debugf("disconnect on stop: %v", err)
		}
		done()
	}

	cancel()
	c.wg.Wait()
	c.lifecycle.Close()
	c.watchdog.Stop()

	c.setState(ClientStateStopped)
	c.log.Info("client stopped")
	return nil
}

func (c *Client) running() error {
	switch c.State() {
	case ClientStateRunning:
		return nil
	case ClientStateInitialized:
		return ErrNotStarted
	default:
		return ErrAlreadyStopped
	}
}

// SetSpheres replaces the loaded key material. Every advertisement
// validator is reset.
func (c *Client) SetSpheres(spheres []*keystore.Sphere) error {
	m := make(map[string]*keystore.Sphere, len(spheres))
	for _, s := range spheres {
		if err := s.Validate(); err != nil {
			return err
		}
		m[s.ReferenceID] = s.Clone()
	}

	c.keysMu.Lock()
	c.spheres = m
	c.keysMu.Unlock()

	c.advertisements.SetKeys(c.candidates())
	c.log.Debugf("loaded %d spheres", len(m))
	return nil
}

// LoadKeys reads every sphere from the configured store.
func (c *Client) LoadKeys() error {
	if c.config.Keys == nil {
		return ErrNoKeyStore
	}
	spheres, err := c.config.Keys.LoadSpheres()
	if err != nil {
		return err
	}
	return c.SetSpheres(spheres)
}

// Spheres returns the reference IDs of the loaded spheres, sorted.
func (c *Client) Spheres() []string {
	c.keysMu.RLock()
	defer c.keysMu.RUnlock()
	refs := make([]string, 0, len(c.spheres))
	for ref := range c.spheres {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}

func (c *Client) sphere(ref string) *keystore.Sphere {
	c.keysMu.RLock()
	defer c.keysMu.RUnlock()
	return c.spheres[ref]
}

func (c *Client) candidates() []advertisement.Candidate {
	c.keysMu.RLock()
	defer c.keysMu.RUnlock()
	out := make([]advertisement.Candidate, 0, len(c.spheres))
	for _, ref := range c.sortedRefsLocked() {
		s := c.spheres[ref]
		if s.ServiceDataKey == nil {
			continue
		}
		out = append(out, advertisement.Candidate{ReferenceID: ref, Key: s.ServiceDataKey})
	}
	return out
}

func (c *Client) sortedRefsLocked() []string {
	refs := make([]string, 0, len(c.spheres))
	for ref := range c.spheres {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}

// broadcastKey encrypts outbound broadcasts with the highest key of the
// sphere.
func (c *Client) broadcastKey(ref string) (broadcast.SphereKey, bool) {
	s := c.sphere(ref)
	if s == nil {
		return broadcast.SphereKey{}, false
	}
	ks, err := s.KeySet()
	if err != nil {
		return broadcast.SphereKey{}, false
	}
	level := ks.HighestLevel()
	key := ks.Key(level)
	if key == nil {
		return broadcast.SphereKey{}, false
	}
	return broadcast.SphereKey{Key: key, Level: level, SphereUID: s.SphereUID}, true
}

// Nearest returns the strongest stone heard within the expiry window.
func (c *Client) Nearest() (Nearest, bool) { return c.nearest.Nearest() }

// NearestSetup returns the strongest stone in setup mode.
func (c *Client) NearestSetup() (Nearest, bool) { return c.nearestSetup.Nearest() }

// NearestVerified returns the strongest stone validated with a loaded sphere.
func (c *Client) NearestVerified() (Nearest, bool) { return c.nearestVerified.Nearest() }

// Verified returns whether peer has been validated and with which sphere.
func (c *Client) Verified(peer transport.PeerID) (bool, string) {
	v, ok := c.advertisements.Lookup(peer)
	if !ok {
		return false, ""
	}
	return v.Validated()
}

func (c *Client) scanLoop(ctx context.Context, advs <-chan transport.RawAdvertisement) {
	defer c.wg.Done()
	sweep := time.NewTicker(c.config.NearestExpiry)
	defer sweep.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			c.sweep()
		case adv, ok := <-advs:
			if !ok {
				c.log.Debug("scan stream closed")
				return
			}
			c.handleAdvertisement(adv)
		}
	}
}

// sweep releases the validators of stones that went quiet.
func (c *Client) sweep() {
	for _, peer := range c.advertisements.Sweep() {
		c.log.Tracef("%s out of range", peer)
		c.nearest.Remove(peer)
		c.nearestSetup.Remove(peer)
		c.nearestVerified.Remove(peer)
	}
}

// handleAdvertisement validates one broadcast and publishes the results.
func (c *Client) handleAdvertisement(adv transport.RawAdvertisement) {
	now := adv.ReceivedAt
	if now.IsZero() {
		now = c.config.Clock()
	}
	c.events.Publish(Event{Topic: TopicRawAdvertisement, Peer: adv.Peer, Time: now, Payload: adv})

	res, err := c.advertisements.Process(adv)
	if err != nil {
		if !errors.Is(err, advertisement.ErrNoServiceData) {
			c.log.Debugf("advertisement from %s: %v", adv.Peer, err)
		}
		return
	}
	if res.Skipped || res.Duplicate {
		return
	}

	a := Advertisement{
		Peer:        adv.Peer,
		Name:        adv.Name,
		RSSI:        adv.RSSI,
		Mode:        res.Mode,
		Validated:   res.Validated,
		ReferenceID: res.ReferenceID,
		Data:        res.Data,
	}
	sighting := Nearest{
		Peer:        adv.Peer,
		Name:        adv.Name,
		RSSI:        adv.RSSI,
		Mode:        res.Mode,
		Validated:   res.Validated,
		ReferenceID: res.ReferenceID,
		SeenAt:      now,
	}

	switch res.Mode {
	case session.ModeSetup:
		c.events.Publish(Event{Topic: TopicSetupAdvertisement, Peer: adv.Peer, Time: now, Payload: a})
		c.nearestVerified.Remove(adv.Peer)
		c.announce(c.nearestSetup, TopicNearestSetupStone, sighting)
	case session.ModeDFU:
		c.events.Publish(Event{Topic: TopicDFUAdvertisement, Peer: adv.Peer, Time: now, Payload: a})
		c.nearestSetup.Remove(adv.Peer)
		c.nearestVerified.Remove(adv.Peer)
	default:
		c.nearestSetup.Remove(adv.Peer)
		if res.Validated {
			c.events.Publish(Event{Topic: TopicVerifiedAdvertisement, Peer: adv.Peer, Time: now, Payload: a})
			c.announce(c.nearestVerified, TopicNearestVerifiedStone, sighting)
		} else {
			c.events.Publish(Event{Topic: TopicUnverifiedAdvertisement, Peer: adv.Peer, Time: now, Payload: a})
		}
	}
	c.announce(c.nearest, TopicNearestStone, sighting)
}

func (c *Client) announce(t *NearestTracker, topic Topic, sighting Nearest) {
	best, changed := t.Update(sighting)
	if !changed {
		return
	}
	c.events.Publish(Event{Topic: topic, Peer: best.Peer, Time: sighting.SeenAt, Payload: best})
}
