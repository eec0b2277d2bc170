package bluenet

import (
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"

	"github.com/backkem/bluenet/pkg/advertisement"
	"github.com/backkem/bluenet/pkg/keystore"
	"github.com/backkem/bluenet/pkg/transport"
)

// Default timeouts.
const (
	DefaultConnectTimeout    = 10 * time.Second
	DefaultRequestTimeout    = 5 * time.Second
	DefaultDisconnectTimeout = 3 * time.Second
	DefaultIdleTimeout       = 30 * time.Second
	DefaultNearestExpiry     = 10 * time.Second
	DefaultRetryBase         = 500 * time.Millisecond
)

// BroadcastConfig configures outbound broadcasting.
type BroadcastConfig struct {
	TickInterval          time.Duration
	MinDuration           time.Duration
	DisableTimeValidation bool
}

// Config holds the configuration of a Client.
type Config struct {
	// Adapter is the radio. Required.
	Adapter transport.Adapter

	// Advertiser transmits outbound broadcasts. Broadcasting is disabled
	// when nil.
	Advertiser transport.Advertiser

	// Keys is loaded by LoadKeys. Optional; spheres can also be set directly.
	Keys keystore.Store

	// ScanFilter limits scanning to advertisements carrying one of these
	// services. Empty scans everything.
	ScanFilter []uuid.UUID

	// Timeouts (defaults: 10s connect, 5s request, 3s disconnect).
	ConnectTimeout    time.Duration
	RequestTimeout    time.Duration
	DisconnectTimeout time.Duration

	// IdleTimeout disconnects a link with no reads or writes for this long.
	// Default: 30s
	IdleTimeout time.Duration

	// NearestExpiry drops stones from nearest tracking when they have not
	// been heard for this long. Default: 10s
	NearestExpiry time.Duration

	// RetryBase is the first retry delay of ConnectWithRetry. Default: 500ms
	RetryBase time.Duration

	Validator advertisement.Config
	Broadcast BroadcastConfig

	// Clock returns the current time. Default: time.Now
	Clock func() time.Time

	// Rand supplies packet nonces. Default: crypto/rand
	Rand io.Reader

	LoggerFactory logging.LoggerFactory

	// OnStateChanged is called after every client state transition.
	OnStateChanged func(state ClientState)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Adapter == nil {
		return ErrAdapterRequired
	}
	for _, d := range []time.Duration{c.ConnectTimeout, c.RequestTimeout, c.DisconnectTimeout, c.IdleTimeout, c.NearestExpiry, c.RetryBase} {
		if d < 0 {
			return ErrInvalidConfig
		}
	}
	return c.Validator.Validate()
}

// applyDefaults fills in default values for unset fields.
func (c *Config) applyDefaults() {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.DisconnectTimeout == 0 {
		c.DisconnectTimeout = DefaultDisconnectTimeout
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.NearestExpiry == 0 {
		c.NearestExpiry = DefaultNearestExpiry
	}
	if c.RetryBase == 0 {
		c.RetryBase = DefaultRetryBase
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.LoggerFactory == nil {
		c.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	if c.Validator.Clock == nil {
		c.Validator.Clock = c.Clock
	}
	if c.Validator.LoggerFactory == nil {
		c.Validator.LoggerFactory = c.LoggerFactory
	}
}
