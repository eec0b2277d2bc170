package transport

import (
	"net"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// MaxFrameSize bounds an encoded bridge frame.
const MaxFrameSize = 4096

// Frame is one message of the radio bridge protocol, encoded as a CBOR map
// with integer keys.
type Frame struct {
	Op           FrameOp           `cbor:"1,keyasint"`
	Seq          uint32            `cbor:"2,keyasint,omitempty"`
	Peer         PeerID            `cbor:"3,keyasint,omitempty"`
	Service      []byte            `cbor:"4,keyasint,omitempty"`
	Char         []byte            `cbor:"5,keyasint,omitempty"`
	Data         []byte            `cbor:"6,keyasint,omitempty"`
	RSSI         int               `cbor:"7,keyasint,omitempty"`
	Name         string            `cbor:"8,keyasint,omitempty"`
	UUIDs        [][]byte          `cbor:"9,keyasint,omitempty"`
	ServiceData  map[uint16][]byte `cbor:"10,keyasint,omitempty"`
	WithResponse bool              `cbor:"11,keyasint,omitempty"`
	Code         int               `cbor:"12,keyasint,omitempty"`
	Error        string            `cbor:"13,keyasint,omitempty"`
}

// MarshalFrame encodes a frame.
func MarshalFrame(f Frame) ([]byte, error) {
	data, err := cbor.Marshal(f)
	if err != nil {
		return nil, err
	}
	if len(data) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	return data, nil
}

// UnmarshalFrame decodes a frame.
func UnmarshalFrame(data []byte) (Frame, error) {
	var f Frame
	err := cbor.Unmarshal(data, &f)
	return f, err
}

// Err returns the error carried by a response frame.
func (f Frame) Err() error {
	return codeError(f.Code, f.Error)
}

// setErr stores err in the frame.
func (f *Frame) setErr(err error) {
	if err == nil {
		return
	}
	f.Code = errorCode(err)
	f.Error = err.Error()
}

func uuidBytes(u uuid.UUID) []byte {
	b := make([]byte, len(u))
	copy(b, u[:])
	return b
}

func uuidFromBytes(b []byte) uuid.UUID {
	u, err := uuid.FromBytes(b)
	if err != nil {
		return uuid.Nil
	}
	return u
}

func uuidList(us []uuid.UUID) [][]byte {
	out := make([][]byte, 0, len(us))
	for _, u := range us {
		out = append(out, uuidBytes(u))
	}
	return out
}

func uuidsFromList(bs [][]byte) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(bs))
	for _, b := range bs {
		if u := uuidFromBytes(b); u != uuid.Nil {
			out = append(out, u)
		}
	}
	return out
}

// FrameConn carries bridge frames over a link.
type FrameConn interface {
	ReadFrame() (Frame, error)
	WriteFrame(f Frame) error
	Close() error
}

// packetFrameConn carries one frame per datagram over a message-oriented conn.
type packetFrameConn struct {
	conn net.Conn
	pipe *Pipe
	buf  []byte
	wrMu sync.Mutex
}

// NewPacketFrameConn wraps a message-oriented net.Conn, where each Write is
// delivered as exactly one Read.
func NewPacketFrameConn(conn net.Conn) FrameConn {
	return &packetFrameConn{conn: conn, buf: make([]byte, MaxFrameSize)}
}

func (c *packetFrameConn) ReadFrame() (Frame, error) {
	n, err := c.conn.Read(c.buf)
	if err != nil {
		return Frame{}, err
	}
	return UnmarshalFrame(c.buf[:n])
}

func (c *packetFrameConn) WriteFrame(f Frame) error {
	data, err := MarshalFrame(f)
	if err != nil {
		return err
	}
	c.wrMu.Lock()
	defer c.wrMu.Unlock()
	if c.pipe != nil {
		return c.pipe.write(c.conn, data)
	}
	_, err = c.conn.Write(data)
	return err
}

func (c *packetFrameConn) Close() error {
	return c.conn.Close()
}
