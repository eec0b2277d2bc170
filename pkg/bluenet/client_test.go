package bluenet

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/backkem/bluenet/pkg/behaviour"
	"github.com/backkem/bluenet/pkg/broadcast"
	"github.com/backkem/bluenet/pkg/crypto"
	"github.com/backkem/bluenet/pkg/keystore"
	"github.com/backkem/bluenet/pkg/packet"
	"github.com/backkem/bluenet/pkg/request"
	"github.com/backkem/bluenet/pkg/session"
	"github.com/backkem/bluenet/pkg/stonesim"
	"github.com/backkem/bluenet/pkg/transport"
)

const testStone transport.PeerID = "stone-1"

type rig struct {
	client *Client
	bridge *TestBridge
	stone  *stonesim.Stone
	sphere *keystore.Sphere
}

func newRig(t *testing.T, stoneConfig func(*stonesim.Config)) *rig {
	t.Helper()
	return newRigWith(t, stoneConfig, nil)
}

func newRigWith(t *testing.T, stoneConfig func(*stonesim.Config), clientConfig func(*Config)) *rig {
	t.Helper()
	bridge, err := NewTestBridge()
	if err != nil {
		t.Fatalf("NewTestBridge() error = %v", err)
	}
	sphere := TestSphere("home", 3, 0x10)

	cfg := TestStoneConfig(testStone, sphere, packet.DialectV5)
	if stoneConfig != nil {
		stoneConfig(&cfg)
	}
	stone, err := bridge.AddStone(cfg)
	if err != nil {
		bridge.Close()
		t.Fatalf("AddStone() error = %v", err)
	}

	config := TestClientConfig(bridge)
	if clientConfig != nil {
		clientConfig(&config)
	}
	client, err := NewClient(config)
	if err != nil {
		bridge.Close()
		t.Fatalf("NewClient() error = %v", err)
	}
	if err := client.SetSpheres([]*keystore.Sphere{sphere}); err != nil {
		t.Fatalf("SetSpheres() error = %v", err)
	}
	if err := client.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	t.Cleanup(func() {
		_ = client.Stop()
		bridge.Close()
	})
	return &rig{client: client, bridge: bridge, stone: stone, sphere: sphere}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

// stepClock advances one second per reading so consecutive broadcasts
// carry distinct identifiers.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func TestConfig_Validate(t *testing.T) {
	bridge, err := NewTestBridge()
	if err != nil {
		t.Fatalf("NewTestBridge() error = %v", err)
	}
	defer bridge.Close()

	tests := []struct {
		name    string
		config  Config
		wantErr error
	}{
		{"no adapter", Config{}, ErrAdapterRequired},
		{"negative timeout", Config{Adapter: bridge.Adapter, RequestTimeout: -time.Second}, ErrInvalidConfig},
		{"defaults", Config{Adapter: bridge.Adapter}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.config.Validate(); !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestClientState_Transitions(t *testing.T) {
	bridge, err := NewTestBridge()
	if err != nil {
		t.Fatalf("NewTestBridge() error = %v", err)
	}
	defer bridge.Close()

	var mu sync.Mutex
	var seen []ClientState
	cfg := TestClientConfig(bridge)
	cfg.OnStateChanged = func(s ClientState) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	}
	c, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	if err := c.Stop(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Stop() before Start error = %v, want %v", err, ErrNotStarted)
	}
	if _, err := c.Connect(context.Background(), testStone, ""); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Connect() before Start error = %v, want %v", err, ErrNotStarted)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !bridge.Server.Scanning() {
		t.Error("Start() did not begin scanning")
	}
	if err := c.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want %v", err, ErrAlreadyStarted)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := c.Stop(); !errors.Is(err, ErrAlreadyStopped) {
		t.Errorf("second Stop() error = %v, want %v", err, ErrAlreadyStopped)
	}
	if c.State() != ClientStateStopped {
		t.Errorf("State() = %v, want Stopped", c.State())
	}

	mu.Lock()
	defer mu.Unlock()
	want := []ClientState{ClientStateRunning, ClientStateStopped}
	if len(seen) != len(want) || seen[0] != want[0] || seen[1] != want[1] {
		t.Errorf("OnStateChanged saw %v, want %v", seen, want)
	}
}

func TestEventBus(t *testing.T) {
	b := NewEventBus()
	var got []Topic
	unsub := b.Subscribe(TopicNearestStone, func(e Event) { got = append(got, e.Topic) })
	unsubAll := b.SubscribeAll(func(e Event) { got = append(got, "all:"+e.Topic) })

	b.Publish(Event{Topic: TopicNearestStone})
	b.Publish(Event{Topic: TopicConnectionState})
	if n := b.Subscribers(TopicNearestStone); n != 2 {
		t.Errorf("Subscribers() = %d, want 2", n)
	}

	unsub()
	unsub()
	unsubAll()
	b.Publish(Event{Topic: TopicNearestStone})

	want := []Topic{TopicNearestStone, "all:" + TopicNearestStone, "all:" + TopicConnectionState}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	// Topic and wildcard handlers of one event run in unspecified order.
	if got[2] != want[2] {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestNearestTracker(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	n := NewNearestTracker(10*time.Second, clock)

	if _, ok := n.Update(Nearest{Peer: "a", RSSI: 0}); ok {
		t.Error("Update() with RSSI 0 should be ignored")
	}

	best, changed := n.Update(Nearest{Peer: "a", RSSI: -70})
	if !changed || best.Peer != "a" {
		t.Errorf("Update(a) = %v, %v, want a, true", best.Peer, changed)
	}
	best, changed = n.Update(Nearest{Peer: "b", RSSI: -80})
	if changed || best.Peer != "a" {
		t.Errorf("Update(b weaker) = %v, %v, want a, false", best.Peer, changed)
	}
	best, changed = n.Update(Nearest{Peer: "b", RSSI: -50})
	if !changed || best.Peer != "b" {
		t.Errorf("Update(b stronger) = %v, %v, want b, true", best.Peer, changed)
	}

	now = now.Add(11 * time.Second)
	if _, ok := n.Nearest(); ok {
		t.Error("Nearest() should be empty after expiry")
	}

	n.Update(Nearest{Peer: "c", RSSI: -90})
	n.Remove("c")
	if _, ok := n.Nearest(); ok {
		t.Error("Nearest() should be empty after Remove")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{request.ErrTimeout, true},
		{request.ErrReplaced, true},
		{request.ErrReset, true},
		{transport.ErrDisconnected, true},
		{context.DeadlineExceeded, true},
		{crypto.ErrIntegrityMismatch, false},
		{crypto.ErrSessionDataChecksum, false},
		{ErrNoKeys, false},
		{&packet.ResultError{Type: packet.CommandSwitch, Code: packet.ResultNoAccess}, false},
	}
	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestClient_SwitchAllDialects(t *testing.T) {
	dialects := []packet.Dialect{
		packet.DialectLegacy,
		packet.DialectV1,
		packet.DialectV2,
		packet.DialectV3,
		packet.DialectV5,
	}
	for _, d := range dialects {
		t.Run(d.String(), func(t *testing.T) {
			r := newRig(t, func(c *stonesim.Config) { c.Dialect = d })
			ctx := testContext(t)

			mode, err := r.client.Connect(ctx, testStone, "home")
			if err != nil {
				t.Fatalf("Connect() error = %v", err)
			}
			if mode != session.ModeOperation {
				t.Errorf("Connect() mode = %v, want operation", mode)
			}
			snap, ok := r.client.Connection()
			if !ok || snap.Dialect != d || snap.Phase != session.PhaseReady {
				t.Fatalf("Connection() = %+v, %v", snap, ok)
			}
			if snap.AccessLevel != session.AccessAdmin {
				t.Errorf("AccessLevel = %v, want admin", snap.AccessLevel)
			}

			if err := r.client.Switch(ctx, testStone, 100); err != nil {
				t.Fatalf("Switch() error = %v", err)
			}
			if got := r.stone.SwitchState(); got != 100 {
				t.Errorf("stone SwitchState = %d, want 100", got)
			}
			if err := r.client.TurnOff(ctx, testStone); err != nil {
				t.Fatalf("TurnOff() error = %v", err)
			}
			if got := r.stone.SwitchState(); got != 0 {
				t.Errorf("stone SwitchState = %d, want 0", got)
			}

			if err := r.client.Disconnect(ctx, testStone); err != nil {
				t.Fatalf("Disconnect() error = %v", err)
			}
			if _, ok := r.client.Connection(); ok {
				t.Error("Connection() should be empty after Disconnect")
			}
			if err := r.client.Disconnect(ctx, testStone); err != nil {
				t.Errorf("repeated Disconnect() error = %v", err)
			}
			if err := r.client.Switch(ctx, testStone, 100); !errors.Is(err, ErrNotConnected) {
				t.Errorf("Switch() after Disconnect error = %v, want %v", err, ErrNotConnected)
			}
		})
	}
}

func TestClient_State(t *testing.T) {
	for _, d := range []packet.Dialect{packet.DialectV3, packet.DialectV5} {
		t.Run(d.String(), func(t *testing.T) {
			r := newRig(t, func(c *stonesim.Config) { c.Dialect = d })
			ctx := testContext(t)
			if _, err := r.client.Connect(ctx, testStone, "home"); err != nil {
				t.Fatalf("Connect() error = %v", err)
			}

			if err := r.client.AllowDimming(ctx, testStone, true); err != nil {
				t.Fatalf("AllowDimming() error = %v", err)
			}
			if err := r.client.SetState(ctx, testStone, packet.StateTypeSwitchState, 0, packet.PersistenceRAM, []byte{40}); err != nil {
				t.Fatalf("SetState() error = %v", err)
			}
			got, err := r.client.SwitchState(ctx, testStone)
			if err != nil {
				t.Fatalf("SwitchState() error = %v", err)
			}
			if got != 40 {
				t.Errorf("SwitchState() = %d, want 40", got)
			}

			_, err = r.client.GetState(ctx, testStone, packet.StateTypeTxPower, 0)
			var re *packet.ResultError
			if !errors.As(err, &re) || re.Code != packet.ResultUnknownType {
				t.Errorf("GetState(TxPower) error = %v, want UnknownType", err)
			}
		})
	}
}

func TestClient_TimeAndVersions(t *testing.T) {
	r := newRig(t, nil)
	ctx := testContext(t)
	if _, err := r.client.Connect(ctx, testStone, "home"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	want := time.Unix(1_800_000_000, 0)
	if err := r.client.SetTime(ctx, testStone, want); err != nil {
		t.Fatalf("SetTime() error = %v", err)
	}
	got, err := r.client.GetTime(ctx, testStone)
	if err != nil {
		t.Fatalf("GetTime() error = %v", err)
	}
	if d := got.Sub(want); d < 0 || d > 2*time.Second {
		t.Errorf("GetTime() = %v, want about %v", got, want)
	}

	fw, err := r.client.FirmwareVersion(ctx, testStone)
	if err != nil || fw != stonesim.DefaultFirmwareVersion {
		t.Errorf("FirmwareVersion() = %q, %v, want %q", fw, err, stonesim.DefaultFirmwareVersion)
	}
	bl, err := r.client.BootloaderVersion(ctx, testStone)
	if err != nil || bl != stonesim.BootloaderVersion {
		t.Errorf("BootloaderVersion() = %q, %v, want %q", bl, err, stonesim.BootloaderVersion)
	}
	if err := r.client.NoOp(ctx, testStone); err != nil {
		t.Errorf("NoOp() error = %v", err)
	}
}

func TestClient_LegacyFirmwareVersion(t *testing.T) {
	r := newRig(t, func(c *stonesim.Config) {
		c.Dialect = packet.DialectV1
		c.FirmwareVersion = "1.9.0"
	})
	ctx := testContext(t)
	if _, err := r.client.Connect(ctx, testStone, "home"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	fw, err := r.client.FirmwareVersion(ctx, testStone)
	if err != nil || fw != "1.9.0" {
		t.Errorf("FirmwareVersion() = %q, %v, want 1.9.0", fw, err)
	}
	if _, err := r.client.BootloaderVersion(ctx, testStone); !errors.Is(err, packet.ErrUnsupportedCommand) {
		t.Errorf("BootloaderVersion() error = %v, want %v", err, packet.ErrUnsupportedCommand)
	}
}

func TestClient_AccessDenied(t *testing.T) {
	r := newRig(t, nil)
	guest := &keystore.Sphere{
		ReferenceID:    "guest",
		SphereUID:      r.sphere.SphereUID,
		GuestKey:       r.sphere.GuestKey,
		ServiceDataKey: r.sphere.ServiceDataKey,
	}
	if err := r.client.SetSpheres([]*keystore.Sphere{r.sphere, guest}); err != nil {
		t.Fatalf("SetSpheres() error = %v", err)
	}
	ctx := testContext(t)
	if _, err := r.client.Connect(ctx, testStone, "guest"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if snap, _ := r.client.Connection(); snap.AccessLevel != session.AccessGuest {
		t.Errorf("AccessLevel = %v, want guest", snap.AccessLevel)
	}

	if err := r.client.Switch(ctx, testStone, 100); err != nil {
		t.Errorf("Switch() as guest error = %v", err)
	}
	err := r.client.Reset(ctx, testStone)
	var re *packet.ResultError
	if !errors.As(err, &re) || re.Code != packet.ResultNoAccess {
		t.Errorf("Reset() as guest error = %v, want NoAccess", err)
	}
	if IsRetryable(err) {
		t.Error("NoAccess should not be retryable")
	}
	if _, ok := r.client.Connection(); !ok {
		t.Error("rejected command should keep the link")
	}
}

func TestClient_ConnectFailures(t *testing.T) {
	r := newRig(t, nil)
	ctx := testContext(t)

	if _, err := r.client.Connect(ctx, testStone, "unknown"); !errors.Is(err, ErrNoKeys) {
		t.Errorf("Connect(unknown sphere) error = %v, want %v", err, ErrNoKeys)
	}
	if r.bridge.Server.Connected(testStone) {
		t.Error("failed handshake should disconnect the radio link")
	}
	if _, err := r.client.Connect(ctx, testStone, ""); !errors.Is(err, ErrUnverified) {
		t.Errorf("Connect(unverified) error = %v, want %v", err, ErrUnverified)
	}

	wrong := TestSphere("wrong", 3, 0x60)
	if err := r.client.SetSpheres([]*keystore.Sphere{r.sphere, wrong}); err != nil {
		t.Fatalf("SetSpheres() error = %v", err)
	}
	_, err := r.client.Connect(ctx, testStone, "wrong")
	if !errors.Is(err, crypto.ErrSessionDataChecksum) {
		t.Errorf("Connect(wrong keys) error = %v, want %v", err, crypto.ErrSessionDataChecksum)
	}
	if IsRetryable(err) {
		t.Error("wrong keys should not be retryable")
	}

	_, err = r.client.ConnectWithRetry(ctx, "nobody", "home", 3)
	if !errors.Is(err, transport.ErrPeerNotFound) {
		t.Errorf("ConnectWithRetry(unknown peer) error = %v, want %v", err, transport.ErrPeerNotFound)
	}

	if _, err := r.client.Connect(ctx, testStone, "home"); err != nil {
		t.Errorf("Connect() after failures error = %v", err)
	}
}

func TestClient_VerifiedAdvertisements(t *testing.T) {
	clock := &stepClock{now: time.Now()}
	r := newRig(t, func(c *stonesim.Config) { c.Clock = clock.Now })

	verified := make(chan Advertisement, 16)
	nearest := make(chan Nearest, 16)
	r.client.Subscribe(TopicVerifiedAdvertisement, func(e Event) {
		verified <- e.Payload.(Advertisement)
	})
	r.client.Subscribe(TopicNearestVerifiedStone, func(e Event) {
		nearest <- e.Payload.(Nearest)
	})

	for i := 0; i < 5; i++ {
		if err := r.stone.Advertise(); err != nil {
			t.Fatalf("Advertise() error = %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case a := <-verified:
		if a.ReferenceID != "home" || a.Peer != testStone || a.Mode != session.ModeOperation {
			t.Errorf("verified advertisement = %+v", a)
		}
		if a.Data == nil || a.Data.CrownstoneID != 7 {
			t.Errorf("verified Data = %+v, want CrownstoneID 7", a.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no verified advertisement")
	}
	select {
	case n := <-nearest:
		if n.Peer != testStone || n.RSSI != stonesim.DefaultRSSI {
			t.Errorf("nearest = %+v", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no nearest verified stone")
	}

	if ok, ref := r.client.Verified(testStone); !ok || ref != "home" {
		t.Errorf("Verified() = %v, %q, want true, home", ok, ref)
	}
	ctx := testContext(t)
	if _, err := r.client.Connect(ctx, testStone, ""); err != nil {
		t.Fatalf("Connect() with validated sphere error = %v", err)
	}
}

func TestClient_SweepsSilentStones(t *testing.T) {
	bridge, err := NewTestBridge()
	if err != nil {
		t.Fatalf("NewTestBridge() error = %v", err)
	}
	defer bridge.Close()
	sphere := TestSphere("home", 3, 0x10)
	clock := &stepClock{now: time.Now()}
	cfg := TestStoneConfig(testStone, sphere, packet.DialectV5)
	cfg.Clock = clock.Now
	stone, err := bridge.AddStone(cfg)
	if err != nil {
		t.Fatalf("AddStone() error = %v", err)
	}

	config := TestClientConfig(bridge)
	config.NearestExpiry = 20 * time.Millisecond
	config.Validator.Expiry = 100 * time.Millisecond
	client, err := NewClient(config)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	defer client.Stop()
	if err := client.SetSpheres([]*keystore.Sphere{sphere}); err != nil {
		t.Fatalf("SetSpheres() error = %v", err)
	}
	if err := client.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := stone.Advertise(); err != nil {
			t.Fatalf("Advertise() error = %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	waitFor(t, "validator", func() bool { return client.advertisements.Count() == 1 })

	waitFor(t, "sweep", func() bool { return client.advertisements.Count() == 0 })
	if _, ok := client.NearestVerified(); ok {
		t.Error("NearestVerified() still reports a swept stone")
	}
}

func TestClient_SetupFlow(t *testing.T) {
	r := newRig(t, func(c *stonesim.Config) {
		c.Mode = session.ModeSetup
		c.AdminKey, c.MemberKey, c.GuestKey, c.ServiceDataKey = nil, nil, nil, nil
	})
	ctx := testContext(t)

	setupSeen := make(chan struct{}, 1)
	r.client.Subscribe(TopicNearestSetupStone, func(e Event) {
		select {
		case setupSeen <- struct{}{}:
		default:
		}
	})
	if err := r.stone.Advertise(); err != nil {
		t.Fatalf("Advertise() error = %v", err)
	}
	select {
	case <-setupSeen:
	case <-time.After(2 * time.Second):
		t.Fatal("no nearest setup stone")
	}

	mode, err := r.client.Connect(ctx, testStone, "")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if mode != session.ModeSetup {
		t.Fatalf("Connect() mode = %v, want setup", mode)
	}
	if snap, _ := r.client.Connection(); snap.AccessLevel != session.AccessSetup {
		t.Errorf("AccessLevel = %v, want setup", snap.AccessLevel)
	}

	data := packet.SetupData{
		StoneID:        7,
		SphereID:       r.sphere.SphereUID,
		AdminKey:       r.sphere.AdminKey,
		MemberKey:      r.sphere.MemberKey,
		GuestKey:       r.sphere.GuestKey,
		ServiceDataKey: r.sphere.ServiceDataKey,
	}
	if err := r.client.Setup(ctx, testStone, data); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if _, ok := r.client.Connection(); ok {
		t.Error("link should drop after setup")
	}
	waitFor(t, "stone to reboot into operation mode", func() bool {
		return r.stone.Mode() == session.ModeOperation
	})

	mode, err = r.client.Connect(ctx, testStone, "home")
	if err != nil {
		t.Fatalf("Connect() after setup error = %v", err)
	}
	if mode != session.ModeOperation {
		t.Errorf("Connect() mode = %v, want operation", mode)
	}
	if err := r.client.Setup(ctx, testStone, data); !errors.Is(err, ErrWrongMode) {
		t.Errorf("Setup() in operation mode error = %v, want %v", err, ErrWrongMode)
	}
	if err := r.client.TurnOn(ctx, testStone); err != nil {
		t.Errorf("TurnOn() error = %v", err)
	}
}

func TestClient_RestartCommands(t *testing.T) {
	r := newRig(t, nil)
	ctx := testContext(t)

	if _, err := r.client.Connect(ctx, testStone, "home"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := r.client.Reset(ctx, testStone); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if _, ok := r.client.Connection(); ok {
		t.Error("link should drop after Reset")
	}

	if _, err := r.client.Connect(ctx, testStone, "home"); err != nil {
		t.Fatalf("Connect() after Reset error = %v", err)
	}
	if err := r.client.GoToDFU(ctx, testStone); err != nil {
		t.Fatalf("GoToDFU() error = %v", err)
	}
	waitFor(t, "stone to enter DFU", func() bool { return r.stone.Mode() == session.ModeDFU })

	mode, err := r.client.Connect(ctx, testStone, "home")
	if err != nil {
		t.Fatalf("Connect() to DFU stone error = %v", err)
	}
	if mode != session.ModeDFU {
		t.Errorf("Connect() mode = %v, want dfu", mode)
	}
	if err := r.client.Switch(ctx, testStone, 100); !errors.Is(err, ErrWrongMode) {
		t.Errorf("Switch() in DFU error = %v, want %v", err, ErrWrongMode)
	}
}

func TestClient_FactoryReset(t *testing.T) {
	r := newRig(t, nil)
	ctx := testContext(t)

	setup := make(chan Advertisement, 4)
	r.client.Subscribe(TopicSetupAdvertisement, func(e Event) {
		setup <- e.Payload.(Advertisement)
	})
	if _, err := r.client.Connect(ctx, testStone, "home"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := r.client.FactoryReset(ctx, testStone); err != nil {
		t.Fatalf("FactoryReset() error = %v", err)
	}
	if _, ok := r.client.Connection(); ok {
		t.Error("link should drop after FactoryReset")
	}
	waitFor(t, "stone to enter setup", func() bool { return r.stone.Mode() == session.ModeSetup })
	if r.stone.CrownstoneID() != 0 {
		t.Errorf("CrownstoneID() = %d, want 0", r.stone.CrownstoneID())
	}

	if err := r.stone.Advertise(); err != nil {
		t.Fatalf("Advertise() error = %v", err)
	}
	select {
	case a := <-setup:
		if a.Peer != testStone || a.Mode != session.ModeSetup {
			t.Errorf("setup advertisement = %+v", a)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no setup advertisement after factory reset")
	}

	mode, err := r.client.Connect(ctx, testStone, "")
	if err != nil {
		t.Fatalf("Connect() after FactoryReset error = %v", err)
	}
	if mode != session.ModeSetup {
		t.Errorf("Connect() mode = %v, want setup", mode)
	}
}

func TestClient_IdleDisconnect(t *testing.T) {
	r := newRigWith(t, nil, func(c *Config) { c.IdleTimeout = 100 * time.Millisecond })
	ctx := testContext(t)

	disconnected := make(chan ConnectionEvent, 4)
	r.client.Subscribe(TopicConnectionState, func(e Event) {
		if ev := e.Payload.(ConnectionEvent); ev.Phase == session.PhaseDisconnected {
			disconnected <- ev
		}
	})
	if _, err := r.client.Connect(ctx, testStone, "home"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	// Activity postpones the idle disconnect.
	for i := 0; i < 3; i++ {
		time.Sleep(50 * time.Millisecond)
		if err := r.client.NoOp(ctx, testStone); err != nil {
			t.Fatalf("NoOp() #%d error = %v", i, err)
		}
	}
	if _, ok := r.client.Connection(); !ok {
		t.Fatal("link dropped while in use")
	}

	select {
	case ev := <-disconnected:
		if ev.Err != nil {
			t.Errorf("event Err = %v, want nil", ev.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("idle link was not disconnected")
	}
	waitFor(t, "link release", func() bool {
		_, ok := r.client.Connection()
		return !ok
	})
}

func TestClient_ConnectReplaced(t *testing.T) {
	r := newRig(t, nil)
	ctx := testContext(t)

	first := make(chan error, 1)
	go func() {
		_, err := r.client.Connect(ctx, testStone, "home")
		first <- err
	}()
	waitFor(t, "connect in progress", func() bool {
		_, pending := r.client.lifecycle.Pending()
		_, linked := r.client.Connection()
		return pending || linked
	})

	if _, err := r.client.Connect(ctx, testStone, "home"); err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}
	select {
	case err := <-first:
		if err != nil {
			t.Logf("first Connect() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("first Connect() never returned")
	}

	if err := r.client.NoOp(ctx, testStone); err != nil {
		t.Errorf("NoOp() on the surviving link error = %v", err)
	}
}

func TestClient_LinkLost(t *testing.T) {
	r := newRig(t, nil)
	ctx := testContext(t)

	lost := make(chan ConnectionEvent, 4)
	r.client.Subscribe(TopicConnectionState, func(e Event) {
		if ev := e.Payload.(ConnectionEvent); ev.Phase == session.PhaseDisconnected {
			lost <- ev
		}
	})
	if _, err := r.client.Connect(ctx, testStone, "home"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	r.bridge.Server.DropLink(testStone)
	select {
	case ev := <-lost:
		if !errors.Is(ev.Err, transport.ErrDisconnected) {
			t.Errorf("event Err = %v, want %v", ev.Err, transport.ErrDisconnected)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no disconnect event")
	}
	if _, ok := r.client.Connection(); ok {
		t.Error("Connection() should be empty after link loss")
	}
	if err := r.client.NoOp(ctx, testStone); !errors.Is(err, ErrNotConnected) {
		t.Errorf("NoOp() error = %v, want %v", err, ErrNotConnected)
	}
}

func TestClient_HandleRadioReset(t *testing.T) {
	r := newRig(t, nil)
	ctx := testContext(t)
	if _, err := r.client.Connect(ctx, testStone, "home"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	r.client.HandleRadioReset()
	if _, ok := r.client.Connection(); ok {
		t.Error("Connection() should be empty after radio reset")
	}
	if r.client.registry.Count() != 0 {
		t.Errorf("registry Count() = %d, want 0", r.client.registry.Count())
	}
	if _, err := r.client.Connect(ctx, testStone, "home"); err != nil {
		t.Errorf("Connect() after reset error = %v", err)
	}
}

func TestClient_SyncBehaviours(t *testing.T) {
	r := newRig(t, nil)
	ctx := testContext(t)

	rule1 := behaviour.Record{Index: 1, Data: []byte{1, 2, 3, 4}}
	rule2 := behaviour.Record{Index: 2, Data: []byte{5, 6, 7, 8}}
	rule3 := behaviour.Record{Index: 3, Data: []byte{9, 9}}
	r.stone.SetBehaviour(rule1.Index, rule1.Data)
	r.stone.SetBehaviour(rule2.Index, rule2.Data)

	if _, err := r.client.Connect(ctx, testStone, "home"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	got, err := r.client.SyncBehaviours(ctx, testStone, []behaviour.Record{rule1, rule3})
	if err != nil {
		t.Fatalf("SyncBehaviours() error = %v", err)
	}
	if got.InSync {
		t.Error("InSync = true, want false")
	}
	if len(got.Fetched) != 1 || got.Fetched[0].Index != 2 || !bytes.Equal(got.Fetched[0].Data, rule2.Data) {
		t.Errorf("Fetched = %+v, want rule 2", got.Fetched)
	}
	if len(got.Removed) != 1 || got.Removed[0] != 3 {
		t.Errorf("Removed = %v, want [3]", got.Removed)
	}

	got, err = r.client.SyncBehaviours(ctx, testStone, []behaviour.Record{rule2, rule1})
	if err != nil {
		t.Fatalf("SyncBehaviours() error = %v", err)
	}
	if !got.InSync || got.MasterHash != behaviour.MasterHash([]behaviour.Record{rule1, rule2}) {
		t.Errorf("SyncBehaviours() = %+v, want in sync", got)
	}
}

func TestClient_BroadcastSwitch(t *testing.T) {
	r := newRig(t, nil)
	ctx := testContext(t)

	go func() { _ = r.stone.Run(ctx, 20*time.Millisecond) }()

	if err := r.client.BroadcastSwitch(ctx, "home", 7, 100); err != nil {
		t.Fatalf("BroadcastSwitch() error = %v", err)
	}
	waitFor(t, "broadcast switch to apply", func() bool { return r.stone.SwitchState() == 100 })

	if err := r.client.BroadcastSwitch(ctx, "unknown", 7, 0); !errors.Is(err, broadcast.ErrNoKey) {
		t.Errorf("BroadcastSwitch(unknown sphere) error = %v, want %v", err, broadcast.ErrNoKey)
	}
	if n := r.client.PendingBroadcasts(); n != 0 {
		t.Errorf("PendingBroadcasts() = %d, want 0", n)
	}
}
