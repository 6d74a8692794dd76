package writer

import (
	"fmt"
	"time"

	"golang.org/x/time/rate"

	appconfig "liqrelay/config"
)

// RatePolicy is consulted once per send. BeginCycle marks the start of a
// drain tick.
type RatePolicy interface {
	BeginCycle(now time.Time)
	Allow(now time.Time) bool
}

// FixedInterval allows one send per drain tick.
type FixedInterval struct {
	used bool
}

func NewFixedInterval() *FixedInterval { return &FixedInterval{} }

func (f *FixedInterval) BeginCycle(time.Time) { f.used = false }

func (f *FixedInterval) Allow(time.Time) bool {
	if f.used {
		return false
	}
	f.used = true
	return true
}

// TokenBucket refills continuously from elapsed wall-clock time and holds at
// most Capacity tokens. It starts full.
type TokenBucket struct {
	limiter  *rate.Limiter
	capacity int
}

func NewTokenBucket(capacity int, refillPerSecond float64) *TokenBucket {
	if capacity < 1 {
		capacity = 1
	}
	return &TokenBucket{
		limiter:  rate.NewLimiter(rate.Limit(refillPerSecond), capacity),
		capacity: capacity,
	}
}

func (b *TokenBucket) BeginCycle(time.Time) {}

func (b *TokenBucket) Allow(now time.Time) bool {
	return b.limiter.AllowN(now, 1)
}

// Tokens reports the tokens available at now.
func (b *TokenBucket) Tokens(now time.Time) float64 {
	return b.limiter.TokensAt(now)
}

func (b *TokenBucket) Capacity() int { return b.capacity }

// NewPolicy builds the policy selected by cfg.RatePolicy.
func NewPolicy(cfg appconfig.DeliveryConfig) (RatePolicy, error) {
	switch cfg.RatePolicy {
	case appconfig.RatePolicyTokenBucket, "":
		return NewTokenBucket(cfg.Bucket.Capacity, cfg.Bucket.RefillRate), nil
	case appconfig.RatePolicyFixedInterval:
		return NewFixedInterval(), nil
	default:
		return nil, fmt.Errorf("unknown rate policy %q", cfg.RatePolicy)
	}
}
