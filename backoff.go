package redis

import (
	"math"
	"time"
)

// BackoffFunc returns the delay before retry attempt n, starting at 0.
type BackoffFunc func(attempt int) time.Duration

// ExponentialBackoff grows the delay by Multiplier per attempt, from
// MinInterval up to MaxInterval.
type ExponentialBackoff struct {
	Multiplier  float64       // defaults to 2
	MinInterval time.Duration // defaults to 500ms
	MaxInterval time.Duration // defaults to 2s
}

// Func returns the BackoffFunc for b.
func (b ExponentialBackoff) Func() BackoffFunc {
	if b.Multiplier == 0 {
		b.Multiplier = 2
	}
	if b.MinInterval == 0 {
		b.MinInterval = 500 * time.Millisecond
	}
	if b.MaxInterval == 0 {
		b.MaxInterval = 2 * time.Second
	}

	return func(attempt int) time.Duration {
		d := float64(b.MinInterval) * math.Pow(b.Multiplier, float64(attempt))
		if d > float64(b.MaxInterval) || math.IsInf(d, 0) || math.IsNaN(d) {
			return b.MaxInterval
		}
		return time.Duration(d)
	}
}

// ConstantBackoff always waits d.
func ConstantBackoff(d time.Duration) BackoffFunc {
	return func(int) time.Duration { return d }
}
