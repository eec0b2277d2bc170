package broadcast

import (
	"sync"
	"time"
)

// Assembler queues elements into buffers and hands them out round-robin.
// It is safe for concurrent use.
type Assembler struct {
	minDuration time.Duration

	mu      sync.Mutex
	buffers []*Buffer
	next    int
}

// NewAssembler creates an empty assembler. minDuration applies to elements
// that do not set their own.
func NewAssembler(minDuration time.Duration) *Assembler {
	if minDuration <= 0 {
		minDuration = DefaultMinDuration
	}
	return &Assembler{minDuration: minDuration}
}

// Add queues e. A pending multi-switch element for the same stone in the
// same sphere is superseded.
func (a *Assembler) Add(e *Element) {
	if e.MinDuration <= 0 {
		e.MinDuration = a.minDuration
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if e.Type == TypeMultiSwitch {
		if old := a.findTargetLocked(e); old != nil {
			a.dropLocked(old)
			old.finish(ErrSuperseded)
		}
	}

	for _, b := range a.buffers {
		if b.canAdd(e) {
			b.add(e)
			return
		}
	}
	b := newBuffer(e)
	b.add(e)
	a.buffers = append(a.buffers, b)
}

func (a *Assembler) findTargetLocked(e *Element) *Element {
	for _, b := range a.buffers {
		if b.Type != e.Type || b.ReferenceID != e.ReferenceID {
			continue
		}
		for _, el := range b.elements {
			if el.Target == e.Target {
				return el
			}
		}
	}
	return nil
}

// Next returns the buffer to advertise and a snapshot of its elements, or
// nil when nothing is queued.
func (a *Assembler) Next() (*Buffer, []*Element) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.buffers) == 0 {
		return nil, nil
	}
	b := a.buffers[a.next%len(a.buffers)]
	a.next = (a.next + 1) % len(a.buffers)
	return b, b.Elements()
}

// Credit adds on-air time to elements that were advertised. Elements that
// reach their minimum duration complete successfully and leave the queue.
func (a *Assembler) Credit(elements []*Element, d time.Duration) {
	a.mu.Lock()
	var done []*Element
	for _, e := range elements {
		if e.buf == nil || e.finished() {
			continue
		}
		e.onAir += d
		if e.onAir >= e.MinDuration {
			a.dropLocked(e)
			done = append(done, e)
		}
	}
	a.mu.Unlock()

	for _, e := range done {
		e.finish(nil)
	}
}

// Fail completes elements with err and removes them from the queue.
func (a *Assembler) Fail(elements []*Element, err error) {
	a.mu.Lock()
	for _, e := range elements {
		if e.buf != nil {
			a.dropLocked(e)
		}
	}
	a.mu.Unlock()

	for _, e := range elements {
		e.finish(err)
	}
}

// Cancel fails every queued element with err.
func (a *Assembler) Cancel(err error) {
	a.mu.Lock()
	var all []*Element
	for _, b := range a.buffers {
		for _, e := range b.elements {
			e.buf = nil
			all = append(all, e)
		}
	}
	a.buffers = nil
	a.next = 0
	a.mu.Unlock()

	for _, e := range all {
		e.finish(err)
	}
}

// Pending returns the number of queued elements.
func (a *Assembler) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, b := range a.buffers {
		n += len(b.elements)
	}
	return n
}

// Buffers returns the number of queued buffers.
func (a *Assembler) Buffers() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buffers)
}

func (a *Assembler) dropLocked(e *Element) {
	b := e.buf
	if b == nil {
		return
	}
	b.remove(e)
	if len(b.elements) > 0 {
		return
	}
	for i, q := range a.buffers {
		if q == b {
			a.buffers = append(a.buffers[:i], a.buffers[i+1:]...)
			if a.next > i {
				a.next--
			}
			break
		}
	}
	if len(a.buffers) == 0 {
		a.next = 0
	}
}
