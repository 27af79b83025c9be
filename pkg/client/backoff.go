package client

import (
	"math"
	"math/rand"
	"time"
)

// BackoffStrategy decides how long SendPacket waits before retry n (0-based).
type BackoffStrategy interface {
	Next(retry int) time.Duration
}

// ExponentialBackoff grows the wait by Factor per retry, capped at Max, and
// spreads it by +/- Jitter so a restarted daemon is not hit by every gateway
// at once.
type ExponentialBackoff struct {
	Base   time.Duration
	Max    time.Duration
	Factor float64
	Jitter float64 // 0.0 to 1.0
}

// DefaultBackoff: 250ms, doubling, capped at 10s, 20% jitter.
func DefaultBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		Base:   250 * time.Millisecond,
		Max:    10 * time.Second,
		Factor: 2.0,
		Jitter: 0.2,
	}
}

func (b *ExponentialBackoff) Next(retry int) time.Duration {
	if retry < 0 {
		retry = 0
	}

	delay := math.Min(float64(b.Base)*math.Pow(b.Factor, float64(retry)), float64(b.Max))
	if b.Jitter > 0 {
		delay += delay * (rand.Float64()*2 - 1) * b.Jitter
	}
	if delay < 0 {
		return 0
	}
	return time.Duration(delay)
}

// ConstantBackoff always waits the same duration.
type ConstantBackoff time.Duration

func (b ConstantBackoff) Next(int) time.Duration { return time.Duration(b) }
