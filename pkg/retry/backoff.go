package retry

import (
	"math"
	"math/rand"
	"time"
)

// BackoffStrategy yields the wait before the next attempt. attempt starts at 1.
type BackoffStrategy interface {
	NextBackoff(attempt int) time.Duration
}

// ConstantBackoff waits the same interval between every attempt.
type ConstantBackoff struct {
	Interval time.Duration
}

func (b *ConstantBackoff) NextBackoff(attempt int) time.Duration {
	return b.Interval
}

// ExponentialBackoff grows the interval by Multiplier per attempt, adds up to
// JitterFactor of random jitter and caps the result at MaxInterval.
type ExponentialBackoff struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	JitterFactor    float64
}

func (b *ExponentialBackoff) NextBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	backoff := float64(b.InitialInterval) * math.Pow(b.Multiplier, float64(attempt-1))

	if b.JitterFactor > 0 {
		backoff += rand.Float64() * b.JitterFactor * backoff
	}

	if b.MaxInterval > 0 && backoff > float64(b.MaxInterval) {
		backoff = float64(b.MaxInterval)
	}

	return time.Duration(backoff)
}

// NewDefaultExponentialBackoff is used for outbound HTTP calls to third parties.
func NewDefaultExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2,
		JitterFactor:    0.2,
	}
}
