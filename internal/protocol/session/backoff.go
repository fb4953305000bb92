package session

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig shapes the wait before each redial in a failure streak.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	// Jitter spreads each delay uniformly over [d/2, d] so clients that lost
	// the same bridge do not redial in lockstep.
	Jitter bool
}

// Delay returns the wait before redial number streak (1-based). The result
// never exceeds MaxDelay when MaxDelay is set.
func (b BackoffConfig) Delay(streak int, rng *rand.Rand) time.Duration {
	if b.InitialDelay <= 0 {
		return 0
	}
	if streak < 1 {
		streak = 1
	}
	mult := math.Max(b.Multiplier, 1)
	d := float64(b.InitialDelay) * math.Pow(mult, float64(streak-1))
	if b.MaxDelay > 0 {
		d = math.Min(d, float64(b.MaxDelay))
	}
	if b.Jitter && rng != nil {
		d = d/2 + rng.Float64()*d/2
	}
	return time.Duration(d)
}
