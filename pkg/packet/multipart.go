package packet

// Results larger than one notification are split into chunks, each prefixed
// with a counter byte. Counters run 0, 1, 2, ... and the final chunk uses
// MultipartLast.

// MultipartLast is the counter value of the final chunk.
const MultipartLast uint8 = 0xFF

// maxMultipartSize bounds a merged message.
const maxMultipartSize = 4096

// Merger reassembles multipart notifications. The zero value is ready to use.
type Merger struct {
	buf  []byte
	next uint8
}

// Add appends a chunk. It returns the merged message and true when the final
// chunk arrives. An out-of-order chunk resets the merger.
func (m *Merger) Add(chunk []byte) ([]byte, bool, error) {
	if len(chunk) == 0 {
		return nil, false, nil
	}
	counter := chunk[0]
	if counter != MultipartLast && counter != m.next {
		m.Reset()
		return nil, false, ErrMultipartOutOfOrder
	}
	if len(m.buf)+len(chunk)-1 > maxMultipartSize {
		m.Reset()
		return nil, false, ErrMultipartTooLarge
	}

	m.buf = append(m.buf, chunk[1:]...)
	if counter == MultipartLast {
		out := m.buf
		m.buf = nil
		m.next = 0
		return out, true, nil
	}
	m.next++
	return nil, false, nil
}

// Reset discards partial data.
func (m *Merger) Reset() {
	m.buf = nil
	m.next = 0
}

// Split chunks data for notifications with the given maximum size.
func Split(data []byte, mtu int) [][]byte {
	step := mtu - 1
	if step < 1 {
		step = 1
	}
	var out [][]byte
	counter := uint8(0)
	for len(data) > step {
		chunk := make([]byte, 0, mtu)
		chunk = append(chunk, counter)
		chunk = append(chunk, data[:step]...)
		out = append(out, chunk)
		data = data[step:]
		counter++
	}
	last := make([]byte, 0, len(data)+1)
	last = append(last, MultipartLast)
	last = append(last, data...)
	return append(out, last)
}
