package ratelimit

import (
	"errors"
	"sync"
	"time"
)

// ErrInvalidConfig indicates a non-positive capacity or window.
var ErrInvalidConfig = errors.New("invalid configuration")

// bucket implements a token bucket.
type bucket struct {
	available  int
	lastRefill time.Time
	lastUsed   time.Time
}

// Limiter gives every key its own token bucket of the same size.
// It is safe for concurrent use.
type Limiter struct {
	mu        sync.Mutex
	capacity  int
	window    time.Duration
	buckets   map[string]*bucket
	lastSweep time.Time
	nowFunc   func() time.Time // for testing
}

// NewLimiter allows capacity requests per window for each key.
func NewLimiter(capacity int, window time.Duration) (*Limiter, error) {
	if capacity <= 0 || window <= 0 {
		return nil, ErrInvalidConfig
	}
	return &Limiter{
		capacity: capacity,
		window:   window,
		buckets:  make(map[string]*bucket),
		nowFunc:  time.Now,
	}, nil
}

// refill adds tokens based on elapsed time since last refill.
func (l *Limiter) refill(b *bucket, now time.Time) {
	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		return
	}
	// rate = capacity / window
	tokens := int(float64(l.capacity) * float64(elapsed) / float64(l.window))
	if tokens > 0 {
		b.available += tokens
		if b.available > l.capacity {
			b.available = l.capacity
		}
		b.lastRefill = now
	}
}

// Allow takes a token from key's bucket and reports whether one was
// available.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	l.sweep(now)

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{available: l.capacity, lastRefill: now} // start full
		l.buckets[key] = b
	}
	l.refill(b, now)
	b.lastUsed = now

	if b.available > 0 {
		b.available--
		return true
	}
	return false
}

// Available returns the tokens key could spend now.
func (l *Limiter) Available(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		return l.capacity
	}
	l.refill(b, l.nowFunc())
	return b.available
}

// RetryAfter is how long a caller that was refused should wait for one
// token.
func (l *Limiter) RetryAfter() time.Duration {
	return l.window / time.Duration(l.capacity)
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// sweep drops buckets idle for a full window; they would be full again
// anyway. It runs at most once per window.
func (l *Limiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.window {
		return
	}
	l.lastSweep = now
	for key, b := range l.buckets {
		if now.Sub(b.lastUsed) >= l.window {
			delete(l.buckets, key)
		}
	}
}
