package transport

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"
)

// LinkConfig describes how to reach a radio bridge.
type LinkConfig struct {
	// URL of a WebSocket bridge (ws:// or wss://).
	URL string
	// Username and Password enable HTTP Basic auth on the WebSocket handshake.
	Username string
	Password string
	// InsecureSkipVerify disables TLS verification for wss://.
	InsecureSkipVerify bool

	// Port is a serial device path used when URL is empty.
	Port string
	// BaudRate for the serial port. Default: 115200
	BaudRate int

	// DialTimeout bounds the WebSocket handshake. Default: 15s
	DialTimeout time.Duration
}

// DefaultBaudRate is used when LinkConfig.BaudRate is zero.
const DefaultBaudRate = 115200

// OpenLink opens the link described by cfg and returns a frame connection
// plus a human-readable description.
func OpenLink(ctx context.Context, cfg LinkConfig) (FrameConn, string, error) {
	if cfg.URL != "" {
		conn, err := DialWebSocket(ctx, cfg)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("WebSocket: %s", cfg.URL), nil
	}
	if cfg.Port != "" {
		conn, err := OpenSerial(cfg.Port, cfg.BaudRate)
		if err != nil {
			return nil, "", err
		}
		baud := cfg.BaudRate
		if baud == 0 {
			baud = DefaultBaudRate
		}
		return conn, fmt.Sprintf("Serial: %s @ %d baud", cfg.Port, baud), nil
	}
	return nil, "", fmt.Errorf("transport: either a URL or a serial port must be specified")
}

// OpenSerial opens a serial radio dongle speaking the stream-framed bridge protocol.
func OpenSerial(portName string, baudRate int) (FrameConn, error) {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("transport: open serial port %s: %w", portName, err)
	}
	return NewStreamFrameConn(port), nil
}

// wsFrameConn carries one frame per binary WebSocket message.
type wsFrameConn struct {
	conn *websocket.Conn
	wrMu sync.Mutex
}

// NewWebSocketFrameConn wraps an established WebSocket connection.
func NewWebSocketFrameConn(conn *websocket.Conn) FrameConn {
	return &wsFrameConn{conn: conn}
}

// DialWebSocket connects to a WebSocket radio bridge.
func DialWebSocket(ctx context.Context, cfg LinkConfig) (FrameConn, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("transport: invalid URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}

	timeout := cfg.DialTimeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	}

	headers := http.Header{}
	if cfg.Username != "" && cfg.Password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(cfg.Username + ":" + cfg.Password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, cfg.URL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("transport: websocket handshake failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("transport: websocket dial failed: %w", err)
	}
	conn.SetReadLimit(MaxFrameSize)
	return NewWebSocketFrameConn(conn), nil
}

func (c *wsFrameConn) ReadFrame() (Frame, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return Frame{}, err
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		return UnmarshalFrame(data)
	}
}

func (c *wsFrameConn) WriteFrame(f Frame) error {
	data, err := MarshalFrame(f)
	if err != nil {
		return err
	}
	c.wrMu.Lock()
	defer c.wrMu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (c *wsFrameConn) Close() error {
	c.wrMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.wrMu.Unlock()
	return c.conn.Close()
}

// Upgrader accepts bridge connections on the radio side of a WebSocket link.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  MaxFrameSize,
	WriteBufferSize: MaxFrameSize,
}

// AcceptWebSocket upgrades an HTTP request to a bridge frame connection.
func AcceptWebSocket(w http.ResponseWriter, r *http.Request) (FrameConn, error) {
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(MaxFrameSize)
	return NewWebSocketFrameConn(conn), nil
}
