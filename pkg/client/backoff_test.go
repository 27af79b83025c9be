package client

import (
	"testing"
	"time"
)

func TestExponentialBackoff_Next(t *testing.T) {
	b := &ExponentialBackoff{
		Base:   100 * time.Millisecond,
		Max:    1 * time.Second,
		Factor: 2.0,
	}

	tests := []struct {
		retry    int
		expected time.Duration
	}{
		{-1, 100 * time.Millisecond},
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, 1 * time.Second}, // capped
		{10, 1 * time.Second},
	}

	for _, tt := range tests {
		if got := b.Next(tt.retry); got != tt.expected {
			t.Errorf("Next(%d) = %v; want %v", tt.retry, got, tt.expected)
		}
	}
}

func TestExponentialBackoff_JitterBounds(t *testing.T) {
	b := DefaultBackoff()
	min := time.Duration(float64(b.Base) * (1 - b.Jitter))
	max := time.Duration(float64(b.Base) * (1 + b.Jitter))

	for i := 0; i < 100; i++ {
		if got := b.Next(0); got < min || got > max {
			t.Fatalf("Next(0) = %v; want between %v and %v", got, min, max)
		}
	}
}
