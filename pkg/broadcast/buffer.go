package broadcast

import "encoding/binary"

// Buffer collects elements that share one block.
type Buffer struct {
	Type        Type
	ReferenceID string

	elements []*Element
	size     int
	sealed   bool
}

func newBuffer(e *Element) *Buffer {
	return &Buffer{Type: e.Type, ReferenceID: e.ReferenceID}
}

// Elements returns the elements currently in the buffer.
func (b *Buffer) Elements() []*Element {
	return append([]*Element(nil), b.elements...)
}

// Len returns the number of elements.
func (b *Buffer) Len() int { return len(b.elements) }

// Sealed reports whether the buffer accepts no more elements.
func (b *Buffer) Sealed() bool { return b.sealed }

func (b *Buffer) canAdd(e *Element) bool {
	if b.sealed || e.Type != b.Type || e.ReferenceID != b.ReferenceID {
		return false
	}
	return b.size+len(e.Payload) <= b.Type.budget()
}

func (b *Buffer) add(e *Element) {
	b.elements = append(b.elements, e)
	b.size += len(e.Payload)
	e.buf = b
	if e.Type.IsExclusive() || b.size+len(e.Payload) > b.Type.budget() {
		b.sealed = true
	}
}

func (b *Buffer) remove(e *Element) {
	for i, el := range b.elements {
		if el == e {
			b.elements = append(b.elements[:i], b.elements[i+1:]...)
			b.size -= len(e.Payload)
			e.buf = nil
			return
		}
	}
}

// nonceOf returns the fixed validation header of an exclusive element.
// It takes the snapshot from Assembler.Next, since the buffer itself may
// change once the lock is released.
func nonceOf(elements []*Element) (uint32, bool) {
	if len(elements) == 1 && elements[0].hasNonce {
		return elements[0].nonce, true
	}
	return 0, false
}

// Encode serializes the buffer into a plaintext block:
// header(4) | type(1) | [count(1)] | elements, zero padded to BlockSize.
func (b *Buffer) Encode(header uint32) []byte {
	block := make([]byte, BlockSize)
	binary.LittleEndian.PutUint32(block, header)
	block[HeaderSize] = byte(b.Type)
	off := HeaderSize + 1
	if b.Type.IsCounted() {
		block[off] = byte(len(b.elements))
		off++
	}
	for _, e := range b.elements {
		off += copy(block[off:], e.Payload)
	}
	return block
}
