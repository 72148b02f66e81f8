package channel

import (
	"math"
	"math/rand"
	"time"
)

// Receive backoff defaults.
const (
	// DefaultReceiveBackoff is the pause after the first failed receive.
	DefaultReceiveBackoff = 10 * time.Millisecond

	// DefaultMaxReceiveBackoff caps the pause between failed receives.
	DefaultMaxReceiveBackoff = 1 * time.Second

	// backoffBase is the growth factor per consecutive failure.
	backoffBase = 2.0

	// backoffJitter is the maximum relative jitter added to each pause.
	backoffJitter = 0.25
)

// RandomSource provides random values for jitter calculation.
// Allows injection of deterministic sources for testing.
type RandomSource interface {
	// Float64 returns a random float64 in [0.0, 1.0).
	Float64() float64
}

type defaultRandomSource struct{}

func (defaultRandomSource) Float64() float64 {
	return rand.Float64()
}

// DefaultRandomSource is the default random source using math/rand.
var DefaultRandomSource RandomSource = defaultRandomSource{}

// Backoff computes the pause between consecutive failed receives.
//
//	pause = min(base * 2^failures, limit) * (1.0 + random(0,1) * 0.25)
type Backoff struct {
	base   time.Duration
	limit  time.Duration
	random RandomSource
}

// NewBackoff creates a backoff with the given base and cap.
// Zero values select the defaults; a nil random uses DefaultRandomSource.
func NewBackoff(base, limit time.Duration, random RandomSource) *Backoff {
	if base <= 0 {
		base = DefaultReceiveBackoff
	}
	if limit <= 0 {
		limit = DefaultMaxReceiveBackoff
	}
	if limit < base {
		limit = base
	}
	if random == nil {
		random = DefaultRandomSource
	}
	return &Backoff{base: base, limit: limit, random: random}
}

// Calculate returns the pause after the given number of previous failures.
func (b *Backoff) Calculate(failures int) time.Duration {
	return time.Duration(float64(b.CalculateMin(failures)) * (1.0 + b.random.Float64()*backoffJitter))
}

// CalculateMin returns the pause without jitter.
func (b *Backoff) CalculateMin(failures int) time.Duration {
	if failures < 0 {
		failures = 0
	}
	pause := float64(b.base) * math.Pow(backoffBase, float64(failures))
	if pause > float64(b.limit) {
		pause = float64(b.limit)
	}
	return time.Duration(pause)
}

// CalculateMax returns the pause with full jitter.
func (b *Backoff) CalculateMax(failures int) time.Duration {
	return time.Duration(float64(b.CalculateMin(failures)) * (1.0 + backoffJitter))
}
