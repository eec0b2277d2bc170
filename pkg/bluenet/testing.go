package bluenet

import (
	"bytes"
	"context"
	"time"

	"github.com/backkem/bluenet/pkg/keystore"
	"github.com/backkem/bluenet/pkg/packet"
	"github.com/backkem/bluenet/pkg/stonesim"
	"github.com/backkem/bluenet/pkg/transport"
)

// TestBridge is an in-memory radio with simulated stones behind it.
// Frames flow over a transport.Pipe between a RemoteAdapter (the client's
// radio) and a PeripheralServer hosting the stones.
//
// Example:
//
//	bridge, _ := bluenet.NewTestBridge()
//	defer bridge.Close()
//	sphere := bluenet.TestSphere("home", 3, 0x10)
//	stone, _ := bridge.AddStone(bluenet.TestStoneConfig("stone-1", sphere, packet.DialectV5))
//	client, _ := bluenet.NewClient(bluenet.TestClientConfig(bridge))
type TestBridge struct {
	Pipe    *transport.Pipe
	Server  *transport.PeripheralServer
	Adapter *transport.RemoteAdapter

	cancel context.CancelFunc
	done   chan struct{}
}

// NewTestBridge starts a bridge with no stones.
func NewTestBridge() (*TestBridge, error) {
	p := transport.NewPipe()
	server := transport.NewPeripheralServer(transport.PeripheralServerConfig{Conn: p.Radio()})
	adapter, err := transport.NewRemoteAdapter(transport.RemoteConfig{Conn: p.Engine()})
	if err != nil {
		p.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &TestBridge{
		Pipe:    p,
		Server:  server,
		Adapter: adapter,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go func() {
		defer close(b.done)
		_ = server.Serve(ctx)
	}()
	return b, nil
}

// AddStone creates a simulated stone and attaches it to the bridge.
func (b *TestBridge) AddStone(config stonesim.Config) (*stonesim.Stone, error) {
	s, err := stonesim.New(config)
	if err != nil {
		return nil, err
	}
	s.Attach(b.Server)
	return s, nil
}

// Close tears the bridge down.
func (b *TestBridge) Close() error {
	b.cancel()
	err := b.Adapter.Close()
	b.Pipe.Close()
	select {
	case <-b.done:
	case <-time.After(time.Second):
	}
	return err
}

// TestSphere returns a sphere whose keys are filled with fill, fill+1,
// fill+2 and fill+3.
func TestSphere(referenceID string, sphereUID uint8, fill byte) *keystore.Sphere {
	return &keystore.Sphere{
		ReferenceID:    referenceID,
		SphereUID:      sphereUID,
		AdminKey:       bytes.Repeat([]byte{fill}, 16),
		MemberKey:      bytes.Repeat([]byte{fill + 1}, 16),
		GuestKey:       bytes.Repeat([]byte{fill + 2}, 16),
		ServiceDataKey: bytes.Repeat([]byte{fill + 3}, 16),
	}
}

// TestStoneConfig returns a stone in operation mode provisioned into
// sphere with stone ID 7.
func TestStoneConfig(id transport.PeerID, sphere *keystore.Sphere, d packet.Dialect) stonesim.Config {
	return stonesim.Config{
		ID:             id,
		Name:           "Test Stone",
		Dialect:        d,
		CrownstoneID:   7,
		SphereUID:      sphere.SphereUID,
		AdminKey:       sphere.AdminKey,
		MemberKey:      sphere.MemberKey,
		GuestKey:       sphere.GuestKey,
		ServiceDataKey: sphere.ServiceDataKey,
	}
}

// TestClientConfig returns a client configuration using the bridge as
// radio and advertiser, with short timeouts.
func TestClientConfig(b *TestBridge) Config {
	return Config{
		Adapter:           b.Adapter,
		Advertiser:        b.Adapter,
		ConnectTimeout:    2 * time.Second,
		RequestTimeout:    2 * time.Second,
		DisconnectTimeout: time.Second,
		RetryBase:         10 * time.Millisecond,
		Broadcast: BroadcastConfig{
			TickInterval: 10 * time.Millisecond,
			MinDuration:  50 * time.Millisecond,
		},
	}
}
