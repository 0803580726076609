// Package retry computes the wait-queue re-entry delay for retryable
// dispatch failures. The default strategy is a short fixed delay (factor
// 1.0); exponential growth and jitter are opt-in through configuration, so
// the choice lives in config rather than code.
package retry

import (
	"math"
	"math/rand"
	"time"
)

type Backoff struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Factor    float64
	Jitter    float64 // 0.0-1.0, fraction of the delay added as random spread
}

// DefaultBackoff is the fixed short delay: every retry waits BaseDelay.
// Even CONTINUOUS notices go through this, so a persistently failing
// recipient never hot-loops.
func DefaultBackoff() *Backoff {
	return &Backoff{
		BaseDelay: 30 * time.Second,
		MaxDelay:  30 * time.Second,
		Factor:    1.0,
	}
}

// NextDelay calculates the delay before the given attempt (0-based).
func (b *Backoff) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(b.BaseDelay) * math.Pow(b.Factor, float64(attempt))
	if delay > float64(b.MaxDelay) {
		delay = float64(b.MaxDelay)
	}

	if b.Jitter > 0 {
		jitterRange := delay * b.Jitter
		jitter := (rand.Float64() * 2 * jitterRange) - jitterRange
		delay += jitter
	}

	// Enforce 100ms minimum floor
	if delay < float64(100*time.Millisecond) {
		delay = float64(100 * time.Millisecond)
	}

	return time.Duration(delay)
}
