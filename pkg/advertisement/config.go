// Package advertisement decides which sphere a broadcasting stone belongs to.
//
// Broadcasts are not authenticated. A Validator tries every known service
// data key on each broadcast of a peer and trusts a key once it has
// produced several consecutive, fresh, self-consistent decryptions. Setup
// and DFU broadcasts are trusted without a key. Repeated failures lock the
// peer out for a cooldown so unknown stones do not burn CPU on every
// broadcast.
package advertisement

import (
	"errors"
	"time"

	"github.com/pion/logging"
)

// Defaults for Config.
const (
	DefaultMatchThreshold   = 3
	DefaultFailureThreshold = 10
	DefaultLockoutDuration  = 300 * time.Second
	DefaultExpiry           = 60 * time.Second
)

// Errors returned by the advertisement package.
var (
	ErrInvalidThreshold = errors.New("advertisement: thresholds must not be negative")
	ErrNoServiceData    = errors.New("advertisement: no stone service data")
)

// Config configures validators.
type Config struct {
	// MatchThreshold is the number of consecutive matches that validates a
	// key. Default: 3
	MatchThreshold int

	// FailureThreshold is the number of broadcasts without any match after
	// which the peer is locked out. Default: 10
	FailureThreshold int

	// LockoutDuration is how long a locked-out peer is skipped. Default: 300s
	LockoutDuration time.Duration

	// Expiry is how long a silent peer keeps its validator before
	// Manager.Sweep drops it. Locked-out peers are kept until their
	// cooldown ends. Default: 60s
	Expiry time.Duration

	// Clock returns the current time. Default: time.Now
	Clock func() time.Time

	// LoggerFactory creates the validator logger. Default: pion default factory.
	LoggerFactory logging.LoggerFactory
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.MatchThreshold < 0 || c.FailureThreshold < 0 || c.LockoutDuration < 0 || c.Expiry < 0 {
		return ErrInvalidThreshold
	}
	return nil
}

// applyDefaults fills in default values for unset fields.
func (c *Config) applyDefaults() {
	if c.MatchThreshold == 0 {
		c.MatchThreshold = DefaultMatchThreshold
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.LockoutDuration == 0 {
		c.LockoutDuration = DefaultLockoutDuration
	}
	if c.Expiry == 0 {
		c.Expiry = DefaultExpiry
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.LoggerFactory == nil {
		c.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
}

// Candidate is a service data key that may belong to a peer.
type Candidate struct {
	ReferenceID string
	Key         []byte
}
