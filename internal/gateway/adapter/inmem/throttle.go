package inmem

import (
	"context"
	"math"
	"sync"
	"time"

	"authgate/internal/gateway"
)

const staleAfter = 10 * time.Minute

// Throttle is a token bucket limiter with one bucket per client key.
// It backs the throttle filter.
type Throttle struct {
	rate  float64 // tokens per second
	burst float64
	now   func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

var _ gateway.RateLimiter = (*Throttle)(nil)

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// NewThrottle creates a throttle refilling rate tokens per second up to burst.
// clock is injectable for deterministic testing.
func NewThrottle(rate float64, burst int, clock func() time.Time) *Throttle {
	if clock == nil {
		clock = time.Now
	}
	return &Throttle{
		rate:    rate,
		burst:   float64(burst),
		now:     clock,
		buckets: make(map[string]*bucket),
	}
}

// Allow takes one token from key's bucket.
func (t *Throttle) Allow(key string) gateway.RateLimitResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	b, ok := t.buckets[key]
	if !ok {
		b = &bucket{tokens: t.burst, lastSeen: now}
		t.buckets[key] = b
	}

	b.tokens = math.Min(t.burst, b.tokens+now.Sub(b.lastSeen).Seconds()*t.rate)
	b.lastSeen = now

	if b.tokens >= 1 {
		b.tokens--
		return gateway.RateLimitResult{Allowed: true}
	}

	wait := max(int(math.Ceil((1-b.tokens)/t.rate)), 1)
	return gateway.RateLimitResult{Allowed: false, RetryAfter: wait}
}

// Reset forgets key's bucket, restoring its full burst.
func (t *Throttle) Reset(key string) {
	t.mu.Lock()
	delete(t.buckets, key)
	t.mu.Unlock()
}

// Prune drops buckets idle for longer than ten minutes and returns how many
// were removed.
func (t *Throttle) Prune() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	removed := 0
	for key, b := range t.buckets {
		if now.Sub(b.lastSeen) > staleAfter {
			delete(t.buckets, key)
			removed++
		}
	}
	return removed
}

// Run prunes idle buckets every interval until ctx is done.
func (t *Throttle) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Prune()
		}
	}
}

// Len returns the number of tracked keys.
func (t *Throttle) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buckets)
}
