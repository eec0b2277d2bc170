package request

import (
	"math"
	"math/rand"
	"time"
)

// Retry backoff parameters.
const (
	// BackoffBase is the exponential growth factor per attempt.
	BackoffBase = 1.6

	// BackoffThreshold is the number of attempts that use the base delay
	// before growth starts.
	BackoffThreshold = 1

	// BackoffJitter is the maximum fraction of random delay added.
	BackoffJitter = 0.25
)

// RandomSource provides random values for jitter calculation.
type RandomSource interface {
	// Float64 returns a random float64 in [0.0, 1.0).
	Float64() float64
}

type defaultRandomSource struct{}

func (defaultRandomSource) Float64() float64 {
	return rand.Float64()
}

// DefaultRandomSource uses math/rand.
var DefaultRandomSource RandomSource = defaultRandomSource{}

// Backoff computes the delay before retrying a failed connect or write.
//
//	delay = base * BackoffBase^max(0, attempt-BackoffThreshold) * (1 + random*BackoffJitter)
type Backoff struct {
	random RandomSource
}

// NewBackoff creates a calculator. A nil random uses DefaultRandomSource.
func NewBackoff(random RandomSource) *Backoff {
	if random == nil {
		random = DefaultRandomSource
	}
	return &Backoff{random: random}
}

func growth(attempt int) float64 {
	exponent := attempt - BackoffThreshold
	if exponent < 0 {
		exponent = 0
	}
	return math.Pow(BackoffBase, float64(exponent))
}

// Delay returns the jittered delay before attempt (0 for the first retry).
func (b *Backoff) Delay(base time.Duration, attempt int) time.Duration {
	return time.Duration(float64(base) * growth(attempt) * (1.0 + b.random.Float64()*BackoffJitter))
}

// MinDelay returns the delay without jitter.
func (b *Backoff) MinDelay(base time.Duration, attempt int) time.Duration {
	return time.Duration(float64(base) * growth(attempt))
}

// MaxDelay returns the delay with full jitter.
func (b *Backoff) MaxDelay(base time.Duration, attempt int) time.Duration {
	return time.Duration(float64(base) * growth(attempt) * (1.0 + BackoffJitter))
}
