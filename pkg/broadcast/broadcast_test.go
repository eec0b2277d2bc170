package broadcast

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/backkem/bluenet/pkg/session"
)

var sphereKey = bytes.Repeat([]byte{0x5A}, 16)

func TestType(t *testing.T) {
	tests := []struct {
		typ       Type
		name      string
		counted   bool
		exclusive bool
		size      int
	}{
		{TypeNoOp, "NoOp", false, false, 0},
		{TypeMultiSwitch, "MultiSwitch", true, false, 2},
		{TypeSetTime, "SetTime", false, true, 4},
		{TypeBehaviourSettings, "BehaviourSettings", false, true, 4},
		{TypeUpdateTrackedDevice, "UpdateTrackedDevice", false, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.typ.String(); got != tt.name {
				t.Errorf("String() = %q, want %q", got, tt.name)
			}
			if got := tt.typ.IsCounted(); got != tt.counted {
				t.Errorf("IsCounted() = %v, want %v", got, tt.counted)
			}
			if got := tt.typ.IsExclusive(); got != tt.exclusive {
				t.Errorf("IsExclusive() = %v, want %v", got, tt.exclusive)
			}
			if got := tt.typ.ElementSize(); got != tt.size {
				t.Errorf("ElementSize() = %d, want %d", got, tt.size)
			}
		})
	}
	if Type(9).IsValid() {
		t.Error("Type(9).IsValid() = true")
	}
}

func TestNewElement_Errors(t *testing.T) {
	tests := []struct {
		name    string
		typ     Type
		payload []byte
		want    error
	}{
		{"unknown type", Type(7), nil, ErrUnknownType},
		{"switch wrong size", TypeMultiSwitch, []byte{1}, ErrElementSize},
		{"time wrong size", TypeSetTime, []byte{1, 2}, ErrElementSize},
		{"tracked device too large", TypeUpdateTrackedDevice, make([]byte, 12), ErrTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewElement(tt.typ, "home", TargetAll, tt.payload); !errors.Is(err, tt.want) {
				t.Errorf("NewElement() error = %v, want %v", err, tt.want)
			}
		})
	}
	if _, err := NewElement(TypeUpdateTrackedDevice, "home", TargetAll, make([]byte, PayloadBudget)); err != nil {
		t.Errorf("NewElement() with full budget error = %v", err)
	}
}

func TestAssembler_PacksMultiSwitch(t *testing.T) {
	a := NewAssembler(0)
	for id := uint8(1); id <= 6; id++ {
		a.Add(NewMultiSwitch("home", id, 100))
	}
	if got := a.Buffers(); got != 2 {
		t.Fatalf("Buffers() = %d, want 2", got)
	}

	buf, elements := a.Next()
	if len(elements) != 5 || !buf.Sealed() {
		t.Fatalf("first buffer: %d elements, sealed=%v, want 5, true", len(elements), buf.Sealed())
	}
	block := buf.Encode(0x01020304)
	want := []byte{0x04, 0x03, 0x02, 0x01, 1, 5, 1, 100, 2, 100, 3, 100, 4, 100, 5, 100}
	if !bytes.Equal(block, want) {
		t.Errorf("Encode() = %x, want %x", block, want)
	}

	// Different sphere never shares a buffer.
	a.Add(NewMultiSwitch("office", 1, 0))
	if got := a.Buffers(); got != 3 {
		t.Errorf("Buffers() = %d, want 3", got)
	}
}

func TestAssembler_ExclusiveSeals(t *testing.T) {
	a := NewAssembler(0)
	a.Add(NewSetTime("home", time.Unix(1000, 0)))
	a.Add(NewSetTime("home", time.Unix(2000, 0)))
	if got := a.Buffers(); got != 2 {
		t.Errorf("Buffers() = %d, want 2", got)
	}
	a.Add(NewBehaviourSettings("home", 1))
	if got := a.Buffers(); got != 3 {
		t.Errorf("Buffers() = %d, want 3", got)
	}
}

func TestAssembler_Supersede(t *testing.T) {
	a := NewAssembler(0)
	old := NewMultiSwitch("home", 4, 0)
	a.Add(old)
	newer := NewMultiSwitch("home", 4, 100)
	a.Add(newer)

	if err := old.Err(); !errors.Is(err, ErrSuperseded) {
		t.Errorf("old.Err() = %v, want %v", err, ErrSuperseded)
	}
	if got := a.Pending(); got != 1 {
		t.Errorf("Pending() = %d, want 1", got)
	}
	_, elements := a.Next()
	if len(elements) != 1 || elements[0] != newer {
		t.Error("Next() should return the newer element")
	}
}

func TestAssembler_OnAirAccounting(t *testing.T) {
	a := NewAssembler(time.Second)
	e := NewMultiSwitch("home", 1, 100)
	a.Add(e)

	_, elements := a.Next()
	a.Credit(elements, 400*time.Millisecond)
	a.Credit(elements, 400*time.Millisecond)
	select {
	case <-e.Done():
		t.Fatal("element completed before minimum on-air time")
	default:
	}

	a.Credit(elements, 200*time.Millisecond)
	select {
	case <-e.Done():
	default:
		t.Fatal("element not completed after minimum on-air time")
	}
	if err := e.Err(); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}
	if a.Pending() != 0 || a.Buffers() != 0 {
		t.Errorf("Pending, Buffers = %d, %d, want 0, 0", a.Pending(), a.Buffers())
	}
}

func TestAssembler_Cancel(t *testing.T) {
	a := NewAssembler(0)
	elements := []*Element{
		NewMultiSwitch("home", 1, 100),
		NewMultiSwitch("home", 2, 100),
		NewSetTime("office", time.Unix(0, 0)),
	}
	for _, e := range elements {
		a.Add(e)
	}
	a.Cancel(ErrCancelled)
	for i, e := range elements {
		if err := e.Err(); !errors.Is(err, ErrCancelled) {
			t.Errorf("element %d Err() = %v, want %v", i, err, ErrCancelled)
		}
	}
	if buf, _ := a.Next(); buf != nil {
		t.Error("Next() after Cancel() should return nil")
	}
}

func TestAssembler_RoundRobin(t *testing.T) {
	a := NewAssembler(0)
	a.Add(NewMultiSwitch("home", 1, 100))
	a.Add(NewMultiSwitch("office", 1, 100))

	first, _ := a.Next()
	second, _ := a.Next()
	third, _ := a.Next()
	if first == second || first != third {
		t.Error("Next() should alternate between buffers")
	}
}

// fakeAdvertiser records payloads.
type fakeAdvertiser struct {
	mu       sync.Mutex
	payloads [][]byte
	stopped  int
}

func (f *fakeAdvertiser) Advertise(_ context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, append([]byte(nil), payload...))
	return nil
}

func (f *fakeAdvertiser) StopAdvertising() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	return nil
}

func (f *fakeAdvertiser) last() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.payloads) == 0 {
		return nil
	}
	return f.payloads[len(f.payloads)-1]
}

type manualClock struct{ now time.Time }

func (c *manualClock) Now() time.Time          { return c.now }
func (c *manualClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func testKeys(ref string) (SphereKey, bool) {
	if ref != "home" {
		return SphereKey{}, false
	}
	return SphereKey{Key: sphereKey, Level: session.AccessMember, SphereUID: 42}, true
}

func newTestBroadcaster(t *testing.T, clock *manualClock, static bool) (*Broadcaster, *fakeAdvertiser) {
	t.Helper()
	adv := &fakeAdvertiser{}
	b, err := NewBroadcaster(Config{
		Advertiser:            adv,
		Keys:                  testKeys,
		Clock:                 clock.Now,
		DisableTimeValidation: static,
	})
	if err != nil {
		t.Fatalf("NewBroadcaster() error = %v", err)
	}
	return b, adv
}

func TestConfig_Validate(t *testing.T) {
	if _, err := NewBroadcaster(Config{Keys: testKeys}); !errors.Is(err, ErrNoAdvertiser) {
		t.Errorf("NewBroadcaster() error = %v, want %v", err, ErrNoAdvertiser)
	}
	if _, err := NewBroadcaster(Config{Advertiser: &fakeAdvertiser{}}); !errors.Is(err, ErrNoKeyLookup) {
		t.Errorf("NewBroadcaster() error = %v, want %v", err, ErrNoKeyLookup)
	}
}

func TestBroadcaster_Payload(t *testing.T) {
	clock := &manualClock{now: time.Unix(1_700_000_000, 0)}
	b, adv := newTestBroadcaster(t, clock, false)
	b.Add(NewMultiSwitch("home", 7, 100))
	b.Add(NewMultiSwitch("home", 8, 0))
	b.tick(context.Background())

	p, err := ParsePayload(adv.last(), sphereKey)
	if err != nil {
		t.Fatalf("ParsePayload() error = %v", err)
	}
	if p.SphereUID != 42 || p.Level != session.AccessMember {
		t.Errorf("SphereUID, Level = %d, %v, want 42, member", p.SphereUID, p.Level)
	}
	if p.Validation != uint32(clock.now.Unix()) {
		t.Errorf("Validation = %d, want %d", p.Validation, clock.now.Unix())
	}
	if err := p.CheckValidation(clock.now.Add(time.Second), 5*time.Second); err != nil {
		t.Errorf("CheckValidation() error = %v", err)
	}
	if err := p.CheckValidation(clock.now.Add(time.Minute), 5*time.Second); !errors.Is(err, ErrBadValidation) {
		t.Errorf("CheckValidation() error = %v, want %v", err, ErrBadValidation)
	}
	if p.Type != TypeMultiSwitch || len(p.Elements) != 2 {
		t.Fatalf("Type, Elements = %v, %d, want MultiSwitch, 2", p.Type, len(p.Elements))
	}
	if !bytes.Equal(p.Elements[0], []byte{7, 100}) || !bytes.Equal(p.Elements[1], []byte{8, 0}) {
		t.Errorf("Elements = %x", p.Elements)
	}

	if _, err := ParsePayload(adv.last()[:10], sphereKey); !errors.Is(err, ErrShortPayload) {
		t.Errorf("ParsePayload() short error = %v, want %v", err, ErrShortPayload)
	}
}

func TestBroadcaster_ValidationHeader(t *testing.T) {
	clock := &manualClock{now: time.Unix(1_700_000_000, 0)}

	b, adv := newTestBroadcaster(t, clock, true)
	b.Add(NewMultiSwitch("home", 1, 100))
	b.tick(context.Background())
	p, err := ParsePayload(adv.last(), sphereKey)
	if err != nil {
		t.Fatalf("ParsePayload() error = %v", err)
	}
	if p.Validation != StaticValidation {
		t.Errorf("Validation = %#x, want %#x", p.Validation, StaticValidation)
	}

	b, adv = newTestBroadcaster(t, clock, false)
	e := NewBehaviourSettings("home", 0x01)
	e.SetNonce(0x11223344)
	b.Add(e)
	b.tick(context.Background())
	p, err = ParsePayload(adv.last(), sphereKey)
	if err != nil {
		t.Fatalf("ParsePayload() error = %v", err)
	}
	if p.Validation != 0x11223344 {
		t.Errorf("Validation = %#x, want 0x11223344", p.Validation)
	}
	if p.Type != TypeBehaviourSettings || !bytes.Equal(p.Elements[0], []byte{1, 0, 0, 0}) {
		t.Errorf("Type, Elements = %v, %x", p.Type, p.Elements)
	}
}

func TestAssembler_NonceFromSnapshot(t *testing.T) {
	a := NewAssembler(0)
	e := NewBehaviourSettings("home", 0x01)
	e.SetNonce(0x11223344)
	a.Add(e)
	_, elements := a.Next()

	// Superseding empties the buffer the snapshot came from.
	a.Add(NewBehaviourSettings("home", 0x02))
	n, ok := nonceOf(elements)
	if !ok || n != 0x11223344 {
		t.Errorf("nonceOf() = %#x, %v, want 0x11223344, true", n, ok)
	}
}

func TestBroadcaster_AddWhileTicking(t *testing.T) {
	clock := &manualClock{now: time.Unix(1_700_000_000, 0)}
	b, _ := newTestBroadcaster(t, clock, false)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			e := NewBehaviourSettings("home", uint32(i))
			e.SetNonce(uint32(i))
			b.Add(e)
			b.Add(NewMultiSwitch("home", uint8(i%4), 100))
		}
	}()
	for i := 0; i < 200; i++ {
		b.tick(context.Background())
	}
	wg.Wait()
}

func TestBroadcaster_CompletesAfterOnAirTime(t *testing.T) {
	clock := &manualClock{now: time.Unix(1_700_000_000, 0)}
	b, adv := newTestBroadcaster(t, clock, false)
	e := NewMultiSwitch("home", 1, 100)
	b.Add(e)

	ctx := context.Background()
	for i := 0; i < 6; i++ {
		b.tick(ctx)
		clock.Advance(250 * time.Millisecond)
	}
	select {
	case <-e.Done():
		t.Fatal("element done after 1.25s on air")
	default:
	}

	b.tick(ctx)
	select {
	case <-e.Done():
	default:
		t.Fatal("element not done after 1.5s on air")
	}
	if err := e.Err(); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}
	if adv.stopped != 1 {
		t.Errorf("StopAdvertising calls = %d, want 1", adv.stopped)
	}
}

func TestBroadcaster_UnknownSphere(t *testing.T) {
	clock := &manualClock{now: time.Unix(1_700_000_000, 0)}
	b, adv := newTestBroadcaster(t, clock, false)
	e := NewMultiSwitch("elsewhere", 1, 100)
	b.Add(e)
	b.tick(context.Background())

	if err := e.Err(); !errors.Is(err, ErrNoKey) {
		t.Errorf("Err() = %v, want %v", err, ErrNoKey)
	}
	if adv.last() != nil {
		t.Error("nothing should be advertised without a key")
	}
}

func TestBroadcaster_RunCancel(t *testing.T) {
	b, adv := newTestBroadcaster(t, &manualClock{now: time.Unix(0, 0)}, false)
	e := NewMultiSwitch("home", 1, 100)
	b.Add(e)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- b.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for adv.last() == nil {
		select {
		case <-deadline:
			t.Fatal("nothing advertised")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want %v", err, context.Canceled)
	}
	if err := e.Err(); !errors.Is(err, ErrCancelled) {
		t.Errorf("Err() = %v, want %v", err, ErrCancelled)
	}
}
