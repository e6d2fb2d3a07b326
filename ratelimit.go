package gatekeep

import (
	"math"
	"sync"
	"time"
)

// bucketKind distinguishes what a token bucket meters.
type bucketKind string

const (
	kindCalls bucketKind = "calls"
	kindUnits bucketKind = "units"
)

// tokenBucket is one (kind × window) budget. Tokens refill lazily on access
// and never exceed capacity.
type tokenBucket struct {
	name        string // e.g. "calls/minute"
	kind        bucketKind
	capacity    float64
	tokens      float64
	refillPerMs float64
	lastRefill  time.Time
}

func (b *tokenBucket) refill(now time.Time) {
	elapsedMs := float64(now.Sub(b.lastRefill)) / float64(time.Millisecond)
	if elapsedMs <= 0 {
		return
	}
	b.tokens = math.Min(b.capacity, b.tokens+elapsedMs*b.refillPerMs)
	b.lastRefill = now
}

// retryAfter returns how long until the bucket reaches the requested level.
func (b *tokenBucket) retryAfter(requested float64) time.Duration {
	shortfall := requested - b.tokens
	if shortfall <= 0 {
		return 0
	}
	ms := math.Ceil(shortfall / b.refillPerMs)
	return time.Duration(ms) * time.Millisecond
}

// Admission is the outcome of a RateLimiter admission check.
type Admission struct {
	Allowed    bool
	RetryAfter time.Duration
	// Remaining maps bucket name to tokens left after the check.
	Remaining map[string]float64
}

// RateLimiter enforces per-window call and resource-unit budgets using
// token buckets. Admission requires every configured window to have
// capacity; the check and the deduction are a single critical section so
// concurrent callers cannot over-admit.
type RateLimiter struct {
	mu      sync.Mutex
	buckets []*tokenBucket
}

// NewRateLimiter creates a RateLimiter from per-window settings.
// Windows with a zero limit are left unconfigured (unlimited).
func NewRateLimiter(s RateLimitSettings) *RateLimiter {
	now := time.Now()
	rl := &RateLimiter{}

	add := func(name string, kind bucketKind, limit int64, window time.Duration) {
		if limit <= 0 {
			return
		}
		rl.buckets = append(rl.buckets, &tokenBucket{
			name:        name,
			kind:        kind,
			capacity:    float64(limit),
			tokens:      float64(limit),
			refillPerMs: float64(limit) / (float64(window) / float64(time.Millisecond)),
			lastRefill:  now,
		})
	}

	add("calls/minute", kindCalls, s.CallsPerMinute, time.Minute)
	add("calls/hour", kindCalls, s.CallsPerHour, time.Hour)
	add("calls/day", kindCalls, s.CallsPerDay, 24*time.Hour)
	add("units/minute", kindUnits, s.UnitsPerMinute, time.Minute)
	add("units/hour", kindUnits, s.UnitsPerHour, time.Hour)
	add("units/day", kindUnits, s.UnitsPerDay, 24*time.Hour)

	return rl
}

// TryAdmit checks whether a call consuming the given units may proceed.
// On admission the requested amounts are deducted from every bucket; on
// denial RetryAfter is the wait for the most constrained bucket.
func (rl *RateLimiter) TryAdmit(calls, units int64) Admission {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	var retryAfter time.Duration
	allowed := true

	for _, b := range rl.buckets {
		b.refill(now)
		requested := b.requested(calls, units)
		if b.tokens < requested {
			allowed = false
			if wait := b.retryAfter(requested); wait > retryAfter {
				retryAfter = wait
			}
		}
	}

	if allowed {
		for _, b := range rl.buckets {
			b.tokens -= b.requested(calls, units)
		}
		retryAfter = 0
	}

	return Admission{
		Allowed:    allowed,
		RetryAfter: retryAfter,
		Remaining:  rl.remainingLocked(),
	}
}

func (b *tokenBucket) requested(calls, units int64) float64 {
	if b.kind == kindCalls {
		return float64(calls)
	}
	return float64(units)
}

// Status reports remaining tokens per bucket without consuming any.
func (rl *RateLimiter) Status() map[string]float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for _, b := range rl.buckets {
		b.refill(now)
	}
	return rl.remainingLocked()
}

func (rl *RateLimiter) remainingLocked() map[string]float64 {
	remaining := make(map[string]float64, len(rl.buckets))
	for _, b := range rl.buckets {
		remaining[b.name] = b.tokens
	}
	return remaining
}

// Reset refills every bucket to full capacity.
func (rl *RateLimiter) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for _, b := range rl.buckets {
		b.tokens = b.capacity
		b.lastRefill = now
	}
}
