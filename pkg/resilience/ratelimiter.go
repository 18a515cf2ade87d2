// Package resilience provides the per-client rate limiter and the circuit
// breaker guarding the answer-synthesis provider.
package resilience

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LimiterOpts configures the per-client quota: Quota requests per Window,
// enforced as a token bucket with burst = Quota.
type LimiterOpts struct {
	Quota  int
	Window time.Duration
}

// DefaultLimiterOpts allows 30 queries per minute per client.
var DefaultLimiterOpts = LimiterOpts{Quota: 30, Window: time.Minute}

type clientBucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// KeyedLimiter rate-limits independently per client key. Counters are
// in-memory only; a restart hands every client a fresh window, which is the
// intended failure direction.
type KeyedLimiter struct {
	mu      sync.Mutex
	opts    LimiterOpts
	buckets map[string]*clientBucket
	now     func() time.Time // for testing
}

// NewKeyedLimiter creates a limiter registry with the given quota.
func NewKeyedLimiter(opts LimiterOpts) *KeyedLimiter {
	if opts.Quota <= 0 {
		opts.Quota = DefaultLimiterOpts.Quota
	}
	if opts.Window <= 0 {
		opts.Window = DefaultLimiterOpts.Window
	}
	return &KeyedLimiter{
		opts:    opts,
		buckets: make(map[string]*clientBucket),
		now:     time.Now,
	}
}

// Allow reports whether the client identified by key may proceed, consuming
// one token if so.
func (k *KeyedLimiter) Allow(key string) bool {
	now := k.now()

	k.mu.Lock()
	b, ok := k.buckets[key]
	if !ok {
		b = &clientBucket{
			lim: rate.NewLimiter(rate.Limit(float64(k.opts.Quota)/k.opts.Window.Seconds()), k.opts.Quota),
		}
		k.buckets[key] = b
	}
	b.lastSeen = now
	k.mu.Unlock()

	return b.lim.AllowN(now, 1)
}

// Prune drops buckets idle longer than maxIdle so the registry does not grow
// unboundedly across unique client keys. Returns the number removed.
func (k *KeyedLimiter) Prune(maxIdle time.Duration) int {
	cutoff := k.now().Add(-maxIdle)

	k.mu.Lock()
	defer k.mu.Unlock()
	removed := 0
	for key, b := range k.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(k.buckets, key)
			removed++
		}
	}
	return removed
}

// Size returns the number of tracked client keys.
func (k *KeyedLimiter) Size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.buckets)
}
