package broadcast

import (
	"context"
	"encoding/binary"
	"sync"
	"time"
)

// Element is one command waiting to be broadcast. It completes once it has
// been on air for MinDuration, or fails when cancelled or superseded.
type Element struct {
	Type        Type
	ReferenceID string
	Target      uint16
	Payload     []byte

	// MinDuration is the required on-air time. Zero uses the broadcaster
	// default.
	MinDuration time.Duration

	nonce    uint32
	hasNonce bool

	// Guarded by the owning Assembler.
	onAir time.Duration
	buf   *Buffer

	once sync.Once
	done chan struct{}
	err  error
}

// NewElement creates an element. Fixed-size types reject payloads of the
// wrong length.
func NewElement(t Type, referenceID string, target uint16, payload []byte) (*Element, error) {
	if !t.IsValid() {
		return nil, ErrUnknownType
	}
	if n := t.ElementSize(); n > 0 && len(payload) != n {
		return nil, ErrElementSize
	}
	if len(payload) > t.budget() {
		return nil, ErrTooLarge
	}
	return &Element{
		Type:        t,
		ReferenceID: referenceID,
		Target:      target,
		Payload:     append([]byte(nil), payload...),
		done:        make(chan struct{}),
	}, nil
}

// NewMultiSwitch addresses one stone with a switch value (0-100, or 255
// for the stone's behaviour default).
func NewMultiSwitch(referenceID string, stoneID uint8, state uint8) *Element {
	e, _ := NewElement(TypeMultiSwitch, referenceID, uint16(stoneID), []byte{stoneID, state})
	return e
}

// NewSetTime broadcasts the wall clock to all stones of a sphere.
func NewSetTime(referenceID string, t time.Time) *Element {
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint32(payload, uint32(t.Unix()))
	e, _ := NewElement(TypeSetTime, referenceID, TargetAll, payload)
	return e
}

// NewBehaviourSettings broadcasts the sphere wide behaviour settings word.
func NewBehaviourSettings(referenceID string, settings uint32) *Element {
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint32(payload, settings)
	e, _ := NewElement(TypeBehaviourSettings, referenceID, TargetAll, payload)
	return e
}

// SetNonce fixes the validation header of the element's block. Only
// exclusive elements carry their own nonce.
func (e *Element) SetNonce(nonce uint32) {
	e.nonce = nonce
	e.hasNonce = true
}

// Done is closed when the element completes.
func (e *Element) Done() <-chan struct{} {
	return e.done
}

// Err returns the completion error. Valid after Done is closed.
func (e *Element) Err() error {
	<-e.done
	return e.err
}

// Wait blocks until the element completes or ctx is done.
func (e *Element) Wait(ctx context.Context) error {
	select {
	case <-e.done:
		return e.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Element) finish(err error) {
	e.once.Do(func() {
		e.err = err
		close(e.done)
	})
}

func (e *Element) finished() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}
