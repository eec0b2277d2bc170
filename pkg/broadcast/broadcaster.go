package broadcast

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/bluenet/pkg/crypto"
	"github.com/backkem/bluenet/pkg/session"
	"github.com/backkem/bluenet/pkg/transport"
)

// SphereKey is the key material used to encrypt blocks for one sphere.
type SphereKey struct {
	Key       []byte
	Level     session.AccessLevel
	SphereUID uint8
}

// KeyLookup returns the broadcast key for a sphere reference.
type KeyLookup func(referenceID string) (SphereKey, bool)

// Config configures a Broadcaster.
type Config struct {
	// Advertiser transmits the outbound payload. Required.
	Advertiser transport.Advertiser

	// Keys resolves sphere keys. Required.
	Keys KeyLookup

	// TickInterval is how often the advertised block rotates.
	// Default: 250ms
	TickInterval time.Duration

	// MinDuration is the default on-air time per element. Default: 1.5s
	MinDuration time.Duration

	// DisableTimeValidation sends StaticValidation instead of the current
	// time in the block header.
	DisableTimeValidation bool

	// Clock returns the current time. Default: time.Now
	Clock func() time.Time

	// LoggerFactory creates the broadcaster logger.
	LoggerFactory logging.LoggerFactory
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Advertiser == nil {
		return ErrNoAdvertiser
	}
	if c.Keys == nil {
		return ErrNoKeyLookup
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.MinDuration <= 0 {
		c.MinDuration = DefaultMinDuration
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.LoggerFactory == nil {
		c.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
}

// Broadcaster rotates queued buffers through the advertiser.
type Broadcaster struct {
	config    Config
	assembler *Assembler
	log       logging.LeveledLogger
	wake      chan struct{}

	// Owned by the Run goroutine.
	last        []*Element
	lastAt      time.Time
	advertising bool
}

// NewBroadcaster creates a broadcaster. Call Run to start transmitting.
func NewBroadcaster(config Config) (*Broadcaster, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()
	return &Broadcaster{
		config:    config,
		assembler: NewAssembler(config.MinDuration),
		log:       config.LoggerFactory.NewLogger("broadcast"),
		wake:      make(chan struct{}, 1),
	}, nil
}

// Add queues e for transmission.
func (b *Broadcaster) Add(e *Element) {
	b.assembler.Add(e)
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued elements.
func (b *Broadcaster) Pending() int {
	return b.assembler.Pending()
}

// Cancel fails every queued element, e.g. when the app is backgrounded.
func (b *Broadcaster) Cancel() {
	b.assembler.Cancel(ErrCancelled)
}

// Run transmits until ctx is done. Outstanding elements then fail with
// ErrCancelled and advertising stops.
func (b *Broadcaster) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.assembler.Cancel(ErrCancelled)
			if b.advertising {
				if err := b.config.Advertiser.StopAdvertising(); err != nil {
					b.log.Debugf("stop advertising: %v", err)
				}
			}
			return ctx.Err()
		case <-ticker.C:
		case <-b.wake:
		}
		b.tick(ctx)
	}
}

// tick credits the previous block with its on-air time and advertises the
// next one.
func (b *Broadcaster) tick(ctx context.Context) {
	now := b.config.Clock()
	if b.last != nil {
		b.assembler.Credit(b.last, now.Sub(b.lastAt))
		b.last = nil
	}

	buf, elements := b.assembler.Next()
	if buf == nil {
		if b.advertising {
			if err := b.config.Advertiser.StopAdvertising(); err != nil {
				b.log.Warnf("stop advertising: %v", err)
			}
			b.advertising = false
		}
		return
	}

	payload, err := b.payload(buf, elements, now)
	if err != nil {
		b.log.Warnf("drop %s block for %s: %v", buf.Type, buf.ReferenceID, err)
		b.assembler.Fail(elements, err)
		return
	}
	b.log.Tracef("advertise %x", payload)
	if err := b.config.Advertiser.Advertise(ctx, payload); err != nil {
		b.log.Warnf("advertise: %v", err)
		return
	}
	b.last = elements
	b.lastAt = now
	b.advertising = true
}

// payload builds protocol(1) | sphereUID(1) | accessLevel(1) | block(16).
func (b *Broadcaster) payload(buf *Buffer, elements []*Element, now time.Time) ([]byte, error) {
	key, ok := b.config.Keys(buf.ReferenceID)
	if !ok || !key.Level.CanEncrypt() {
		return nil, fmt.Errorf("%w: %q", ErrNoKey, buf.ReferenceID)
	}

	header := uint32(now.Unix())
	if b.config.DisableTimeValidation {
		header = StaticValidation
	}
	if n, ok := nonceOf(elements); ok {
		header = n
	}

	block := encodeElements(buf.Type, elements, header)
	ct, err := crypto.EncryptBroadcast(key.Key, block)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 3+BlockSize)
	out = append(out, ProtocolVersion, key.SphereUID, byte(key.Level))
	return append(out, ct...), nil
}

func encodeElements(t Type, elements []*Element, header uint32) []byte {
	b := &Buffer{Type: t, elements: elements}
	return b.Encode(header)
}

// Packet is a decoded outbound payload, as a stone would see it.
type Packet struct {
	SphereUID  uint8
	Level      session.AccessLevel
	Validation uint32
	Type       Type
	Elements   [][]byte
}

// ParsePayload decrypts and splits a payload built by a Broadcaster.
func ParsePayload(payload, key []byte) (*Packet, error) {
	if len(payload) != 3+BlockSize || payload[0] != ProtocolVersion {
		return nil, ErrShortPayload
	}
	block, err := crypto.DecryptBroadcast(key, payload[3:])
	if err != nil {
		return nil, err
	}
	p := &Packet{
		SphereUID:  payload[1],
		Level:      session.AccessLevel(payload[2]),
		Validation: binary.LittleEndian.Uint32(block),
		Type:       Type(block[HeaderSize]),
	}
	if !p.Type.IsValid() {
		return nil, ErrUnknownType
	}

	body := block[HeaderSize+1:]
	size := p.Type.ElementSize()
	switch {
	case p.Type.IsCounted():
		count := int(body[0])
		body = body[1:]
		if count*size > len(body) {
			return nil, ErrTooLarge
		}
		for i := 0; i < count; i++ {
			p.Elements = append(p.Elements, append([]byte(nil), body[i*size:(i+1)*size]...))
		}
	case size > 0:
		p.Elements = [][]byte{append([]byte(nil), body[:size]...)}
	case p.Type == TypeUpdateTrackedDevice:
		p.Elements = [][]byte{append([]byte(nil), body...)}
	}
	return p, nil
}

// CheckValidation verifies a packet header against the receiver clock.
// Static headers are accepted; timestamps must be within window of now.
func (p *Packet) CheckValidation(now time.Time, window time.Duration) error {
	if p.Validation == StaticValidation {
		return nil
	}
	d := now.Sub(time.Unix(int64(p.Validation), 0))
	if d < 0 {
		d = -d
	}
	if d > window {
		return ErrBadValidation
	}
	return nil
}
