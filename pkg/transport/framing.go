// Byte-stream framing for serial links.
//
// Wire format: START | stuff(Payload || CRC16 (2, big-endian)) | END
//
// START, END and ESC inside the stuffed section are sent as ESC followed by
// the byte XOR 0x20. The CRC is CRC-16-CCITT (poly 0x1021, init 0xFFFF) over
// the unstuffed payload.

package transport

import (
	"bufio"
	"io"
	"sync"
)

// Framing bytes.
const (
	StartByte byte = 0x7E
	EndByte   byte = 0x7F
	EscByte   byte = 0x7D
	EscXor    byte = 0x20

	crcPolynomial uint16 = 0x1021
	crcInitial    uint16 = 0xFFFF
)

// CRC16 computes CRC-16-CCITT over data.
func CRC16(data []byte) uint16 {
	crc := crcInitial
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ crcPolynomial
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// EncodeStreamFrame wraps payload for a byte stream.
func EncodeStreamFrame(payload []byte) []byte {
	crc := CRC16(payload)
	out := make([]byte, 0, len(payload)*2+6)
	out = append(out, StartByte)
	out = stuff(out, payload)
	out = stuff(out, []byte{byte(crc >> 8), byte(crc)})
	return append(out, EndByte)
}

func stuff(dst, data []byte) []byte {
	for _, b := range data {
		if b == StartByte || b == EndByte || b == EscByte {
			dst = append(dst, EscByte, b^EscXor)
		} else {
			dst = append(dst, b)
		}
	}
	return dst
}

// StreamDecoder extracts frames from a byte stream. Bytes outside a
// START..END pair are discarded; a START mid-frame restarts the frame.
type StreamDecoder struct {
	r *bufio.Reader
}

// NewStreamDecoder creates a decoder reading from r.
func NewStreamDecoder(r io.Reader) *StreamDecoder {
	return &StreamDecoder{r: bufio.NewReader(r)}
}

// Next returns the next verified payload.
func (d *StreamDecoder) Next() ([]byte, error) {
	var buf []byte
	inFrame := false
	escaped := false

	for {
		b, err := d.r.ReadByte()
		if err != nil {
			return nil, err
		}

		switch {
		case b == StartByte:
			buf = buf[:0]
			inFrame = true
			escaped = false
		case !inFrame:
			continue
		case b == EndByte:
			if escaped {
				return nil, ErrFrameEscape
			}
			if len(buf) < 2 {
				inFrame = false
				continue
			}
			payload := buf[:len(buf)-2]
			crc := uint16(buf[len(buf)-2])<<8 | uint16(buf[len(buf)-1])
			if CRC16(payload) != crc {
				return nil, ErrFrameCRC
			}
			return payload, nil
		case b == EscByte:
			escaped = true
		default:
			if escaped {
				b ^= EscXor
				escaped = false
			}
			if len(buf) >= MaxFrameSize+2 {
				inFrame = false
				continue
			}
			buf = append(buf, b)
		}
	}
}

// streamFrameConn carries bridge frames over a byte stream.
type streamFrameConn struct {
	rwc  io.ReadWriteCloser
	dec  *StreamDecoder
	wrMu sync.Mutex
}

// NewStreamFrameConn wraps a byte stream such as a serial port.
func NewStreamFrameConn(rwc io.ReadWriteCloser) FrameConn {
	return &streamFrameConn{rwc: rwc, dec: NewStreamDecoder(rwc)}
}

func (c *streamFrameConn) ReadFrame() (Frame, error) {
	for {
		payload, err := c.dec.Next()
		if err == ErrFrameCRC || err == ErrFrameEscape {
			// Line noise; resynchronise on the next START.
			continue
		}
		if err != nil {
			return Frame{}, err
		}
		return UnmarshalFrame(payload)
	}
}

func (c *streamFrameConn) WriteFrame(f Frame) error {
	data, err := MarshalFrame(f)
	if err != nil {
		return err
	}
	c.wrMu.Lock()
	defer c.wrMu.Unlock()
	_, err = c.rwc.Write(EncodeStreamFrame(data))
	return err
}

func (c *streamFrameConn) Close() error {
	return c.rwc.Close()
}
