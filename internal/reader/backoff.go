package reader

import (
	"context"
	"time"

	"github.com/jpillora/backoff"
)

const (
	DefaultBaseDelay   = time.Second
	DefaultMaxExponent = 5
)

// Backoff computes base * 2^min(attempts, MaxExponent).
type Backoff struct {
	Base        time.Duration
	MaxExponent int
}

func (b Backoff) Delay(attempts int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = DefaultBaseDelay
	}
	maxExp := b.MaxExponent
	if maxExp < 0 {
		maxExp = 0
	}
	exp := attempts
	if exp < 0 {
		exp = 0
	}
	if exp > maxExp {
		exp = maxExp
	}
	bo := &backoff.Backoff{Min: base, Max: base << uint(maxExp), Factor: 2}
	return bo.ForAttempt(float64(exp))
}

// Max is the largest delay Delay can return.
func (b Backoff) Max() time.Duration {
	return b.Delay(b.MaxExponent)
}

// waitForReconnect reports true when ctx ended before the delay elapsed.
func waitForReconnect(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}
