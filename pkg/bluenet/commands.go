package bluenet

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/backkem/bluenet/pkg/behaviour"
	"github.com/backkem/bluenet/pkg/packet"
	"github.com/backkem/bluenet/pkg/request"
	"github.com/backkem/bluenet/pkg/session"
	"github.com/backkem/bluenet/pkg/transport"
)

// encoder is a control or state packet.
type encoder interface {
	Encode(d packet.Dialect) ([]byte, error)
}

// exchange writes one command to the control characteristic and waits for
// its result notification.
func (c *Client) exchange(ctx context.Context, peer transport.PeerID, p encoder, expect packet.CommandType) (packet.ResultPacket, error) {
	l, err := c.readyLink(peer)
	if err != nil {
		return packet.ResultPacket{}, err
	}
	if l.state.Mode() == session.ModeDFU {
		return packet.ResultPacket{}, ErrWrongMode
	}
	return c.exchangeOn(ctx, l, p, expect)
}

func (c *Client) exchangeOn(ctx context.Context, l *link, p encoder, expect packet.CommandType) (packet.ResultPacket, error) {
	d := l.state.Dialect()
	raw, err := p.Encode(d)
	if err != nil {
		return packet.ResultPacket{}, err
	}
	ct, err := l.state.Encrypt(raw)
	if err != nil {
		return packet.ResultPacket{}, err
	}

	seq := l.expect(expect, c.config.Clock(), c.config.RequestTimeout)
	req := c.lifecycle.Issue(request.TypeWrite, c.config.RequestTimeout)
	writeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := c.config.Adapter.Write(writeCtx, l.peer, l.service, l.control, ct, true); err != nil {
			// A cancelled write may still have been delivered.
			if !errors.Is(err, context.Canceled) {
				l.forget(seq)
			}
			c.lifecycle.Complete(req, nil, err)
		}
	}()

	plain, err := req.Wait(ctx)
	if err != nil {
		return packet.ResultPacket{}, err
	}
	l.state.MarkActivity()
	c.watchdog.Kick()

	res := packet.ParseResult(d, plain)
	if !res.Valid {
		return res, ErrInvalidResult
	}
	if res.Type != expect {
		return res, fmt.Errorf("%w: sent %s, got %s", packet.ErrUnexpectedResultType, expect, res.Type)
	}
	return res, res.Err()
}

func (c *Client) control(ctx context.Context, peer transport.PeerID, p packet.ControlPacket) (packet.ResultPacket, error) {
	return c.exchange(ctx, peer, p, p.Type)
}

// restart sends a command after which the stone drops the link, and
// waits for the link to go down.
func (c *Client) restart(ctx context.Context, peer transport.PeerID, p packet.ControlPacket) error {
	l, err := c.readyLink(peer)
	if err != nil {
		return err
	}
	if _, err := c.exchangeOn(ctx, l, p, p.Type); err != nil {
		return err
	}
	return c.awaitDisconnect(ctx, l)
}

// Switch sets the switch state: 0 is off, 100 fully on, values in between
// dim, 255 toggles.
func (c *Client) Switch(ctx context.Context, peer transport.PeerID, value uint8) error {
	_, err := c.control(ctx, peer, packet.NewSwitch(value))
	return err
}

// TurnOn switches fully on.
func (c *Client) TurnOn(ctx context.Context, peer transport.PeerID) error {
	return c.Switch(ctx, peer, 100)
}

// TurnOff switches off.
func (c *Client) TurnOff(ctx context.Context, peer transport.PeerID) error {
	return c.Switch(ctx, peer, 0)
}

// Toggle inverts the switch state.
func (c *Client) Toggle(ctx context.Context, peer transport.PeerID) error {
	return c.Switch(ctx, peer, 255)
}

// SetTime sets the stone clock.
func (c *Client) SetTime(ctx context.Context, peer transport.PeerID, t time.Time) error {
	_, err := c.control(ctx, peer, packet.NewSetTime(uint32(t.Unix())))
	return err
}

// GetTime reads the stone clock.
func (c *Client) GetTime(ctx context.Context, peer transport.PeerID) (time.Time, error) {
	res, err := c.control(ctx, peer, packet.NewGetTime())
	if err != nil {
		return time.Time{}, err
	}
	ts, err := packet.ParseTime(res.Payload)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(ts), 0), nil
}

// LockSwitch prevents or allows switching.
func (c *Client) LockSwitch(ctx context.Context, peer transport.PeerID, lock bool) error {
	_, err := c.control(ctx, peer, packet.NewLockSwitch(lock))
	return err
}

// AllowDimming enables or disables dimming.
func (c *Client) AllowDimming(ctx context.Context, peer transport.PeerID, allow bool) error {
	_, err := c.control(ctx, peer, packet.NewAllowDimming(allow))
	return err
}

// NoOp sends an empty command, keeping the link alive.
func (c *Client) NoOp(ctx context.Context, peer transport.PeerID) error {
	_, err := c.control(ctx, peer, packet.NewNoOp())
	return err
}

// FirmwareVersion returns the firmware version. Dialects without the
// command read the device information service.
func (c *Client) FirmwareVersion(ctx context.Context, peer transport.PeerID) (string, error) {
	l, err := c.readyLink(peer)
	if err != nil {
		return "", err
	}
	d := l.state.Dialect()
	if d == packet.DialectV3 || d == packet.DialectV5 {
		res, err := c.exchangeOn(ctx, l, packet.NewGetFirmwareVersion(), packet.CommandGetFirmwareVersion)
		if err != nil {
			return "", err
		}
		return packet.ParseVersion(res.Payload), nil
	}
	raw, err := call(ctx, c, request.TypeRead, c.config.RequestTimeout, func(ctx context.Context) ([]byte, error) {
		return c.config.Adapter.Read(ctx, l.peer, transport.DeviceInfoService, transport.FirmwareRevisionChar)
	})
	if err != nil {
		return "", err
	}
	l.state.MarkActivity()
	c.watchdog.Kick()
	return packet.ParseVersion(raw), nil
}

// BootloaderVersion returns the bootloader version.
func (c *Client) BootloaderVersion(ctx context.Context, peer transport.PeerID) (string, error) {
	res, err := c.control(ctx, peer, packet.NewGetBootloaderVersion())
	if err != nil {
		return "", err
	}
	return packet.ParseVersion(res.Payload), nil
}

// GetState reads a state value.
func (c *Client) GetState(ctx context.Context, peer transport.PeerID, t packet.StateType, id uint16) ([]byte, error) {
	l, err := c.readyLink(peer)
	if err != nil {
		return nil, err
	}
	res, err := c.exchange(ctx, peer, packet.GetState(t, id), packet.CommandGetState)
	if err != nil {
		return nil, err
	}
	st, ok := packet.DecodeState(l.state.Dialect(), packet.CommandGetState, res.Payload)
	if !ok {
		return nil, packet.ErrResponseLength
	}
	if st.StateType != t {
		return nil, fmt.Errorf("%w: asked %d, got %d", packet.ErrUnexpectedResultType, t, st.StateType)
	}
	return st.Value, nil
}

// SetState writes a state value.
func (c *Client) SetState(ctx context.Context, peer transport.PeerID, t packet.StateType, id uint16, persistence packet.Persistence, value []byte) error {
	_, err := c.exchange(ctx, peer, packet.SetState(t, id, persistence, value), packet.CommandSetState)
	return err
}

// SwitchState reads the current switch state.
func (c *Client) SwitchState(ctx context.Context, peer transport.PeerID) (uint8, error) {
	v, err := c.GetState(ctx, peer, packet.StateTypeSwitchState, 0)
	if err != nil {
		return 0, err
	}
	if len(v) < 1 {
		return 0, packet.ErrResponseLength
	}
	return v[0], nil
}

// Reset restarts the stone. The link drops.
func (c *Client) Reset(ctx context.Context, peer transport.PeerID) error {
	return c.restart(ctx, peer, packet.NewReset())
}

// FactoryReset wipes the stone back to setup mode. The link drops.
func (c *Client) FactoryReset(ctx context.Context, peer transport.PeerID) error {
	return c.restart(ctx, peer, packet.NewFactoryReset())
}

// GoToDFU restarts the stone into its bootloader. The link drops.
func (c *Client) GoToDFU(ctx context.Context, peer transport.PeerID) error {
	return c.restart(ctx, peer, packet.NewGoToDFU())
}

// RequestDisconnect asks the stone to drop the link.
func (c *Client) RequestDisconnect(ctx context.Context, peer transport.PeerID) error {
	return c.restart(ctx, peer, packet.NewDisconnect())
}

// Setup provisions a stone in setup mode. It reboots into operation mode
// and the link drops.
func (c *Client) Setup(ctx context.Context, peer transport.PeerID, data packet.SetupData) error {
	l, err := c.readyLink(peer)
	if err != nil {
		return err
	}
	if l.state.Mode() != session.ModeSetup {
		return ErrWrongMode
	}
	p, err := packet.NewSetup(data)
	if err != nil {
		return err
	}
	return c.restart(ctx, peer, p)
}

// BehaviourSync is the difference between a local rule set and a stone.
type BehaviourSync struct {
	// MasterHash is the hash reported by the stone.
	MasterHash uint32

	// InSync is set when the stone's hash matches the local rules.
	InSync bool

	// Fetched holds the stone's rules that are missing or differ locally.
	Fetched []behaviour.Record

	// Removed lists local indices the stone no longer has.
	Removed []uint8
}

// BehaviourIndex is one entry of a stone's rule listing.
type BehaviourIndex struct {
	Index uint8
	Hash  uint32
}

// BehaviourIndices lists the rule slots in use on the stone.
func (c *Client) BehaviourIndices(ctx context.Context, peer transport.PeerID) ([]BehaviourIndex, error) {
	res, err := c.control(ctx, peer, packet.ControlPacket{Type: packet.CommandGetBehaviourIndices})
	if err != nil {
		return nil, err
	}
	if len(res.Payload)%5 != 0 {
		return nil, packet.ErrResponseLength
	}
	out := make([]BehaviourIndex, 0, len(res.Payload)/5)
	for p := res.Payload; len(p) >= 5; p = p[5:] {
		out = append(out, BehaviourIndex{Index: p[0], Hash: binary.LittleEndian.Uint32(p[1:5])})
	}
	return out, nil
}

// Behaviour reads one serialized rule.
func (c *Client) Behaviour(ctx context.Context, peer transport.PeerID, index uint8) (behaviour.Record, error) {
	res, err := c.control(ctx, peer, packet.ControlPacket{Type: packet.CommandGetBehaviour, Payload: []byte{index}})
	if err != nil {
		return behaviour.Record{}, err
	}
	if len(res.Payload) < 1 || res.Payload[0] != index {
		return behaviour.Record{}, packet.ErrResponseLength
	}
	return behaviour.Record{Index: index, Data: append([]byte(nil), res.Payload[1:]...)}, nil
}

// SyncBehaviours compares local rules against the stone and fetches the
// rules that differ.
func (c *Client) SyncBehaviours(ctx context.Context, peer transport.PeerID, local []behaviour.Record) (*BehaviourSync, error) {
	raw, err := c.GetState(ctx, peer, packet.StateTypeBehaviourHash, 0)
	if err != nil {
		return nil, err
	}
	if len(raw) < 4 {
		return nil, packet.ErrResponseLength
	}
	out := &BehaviourSync{MasterHash: binary.LittleEndian.Uint32(raw)}
	if out.MasterHash == behaviour.MasterHash(local) {
		out.InSync = true
		return out, nil
	}

	indices, err := c.BehaviourIndices(ctx, peer)
	if err != nil {
		return nil, err
	}
	known := make(map[uint8]uint32, len(local))
	for _, r := range local {
		known[r.Index] = behaviour.Hash(r)
	}
	remote := make(map[uint8]bool, len(indices))
	for _, idx := range indices {
		remote[idx.Index] = true
		if h, ok := known[idx.Index]; ok && h == idx.Hash {
			continue
		}
		r, err := c.Behaviour(ctx, peer, idx.Index)
		if err != nil {
			return nil, err
		}
		out.Fetched = append(out.Fetched, r)
	}
	for _, r := range local {
		if !remote[r.Index] {
			out.Removed = append(out.Removed, r.Index)
		}
	}
	return out, nil
}
