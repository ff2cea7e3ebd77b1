// Package ratelimit provides per-client burst limiting using a token
// bucket. It protects the HTTP surface from floods; the daily submission
// quotas live in the admission layer, not here.
package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket allows a number of requests per window, with tokens
// refilling at a steady rate.
type TokenBucket struct {
	capacity   int
	refillRate float64 // tokens per second
	tokens     float64
	lastRefill time.Time
	mu         sync.Mutex
}

func newTokenBucket(capacity int, refillRate float64) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		refillRate: refillRate,
		tokens:     float64(capacity),
		lastRefill: time.Now(),
	}
}

// allow consumes a token if one is available.
func (tb *TokenBucket) allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.lastRefill)
	tb.tokens = min(float64(tb.capacity), tb.tokens+elapsed.Seconds()*tb.refillRate)
	tb.lastRefill = now

	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		return true
	}
	return false
}

// Info reports rate limit state for response headers.
type Info struct {
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter manages token buckets per client.
type Limiter struct {
	mu         sync.Mutex
	buckets    map[string]*TokenBucket
	lastAccess map[string]time.Time
	limit      int
	window     time.Duration

	cleanupTicker *time.Ticker
	cleanupStop   chan struct{}
}

// NewLimiter creates a limiter allowing limit requests per window per
// client, with burst capacity equal to the limit.
func NewLimiter(limit int, window time.Duration) *Limiter {
	l := &Limiter{
		buckets:    make(map[string]*TokenBucket),
		lastAccess: make(map[string]time.Time),
		limit:      limit,
		window:     window,
	}

	l.cleanupTicker = time.NewTicker(5 * time.Minute)
	l.cleanupStop = make(chan struct{})
	go l.cleanup()

	return l
}

// Allow checks whether a request from the client fits its budget.
func (l *Limiter) Allow(clientID string) (bool, Info) {
	l.mu.Lock()
	bucket, ok := l.buckets[clientID]
	if !ok {
		bucket = newTokenBucket(l.limit, float64(l.limit)/l.window.Seconds())
		l.buckets[clientID] = bucket
	}
	l.lastAccess[clientID] = time.Now()
	l.mu.Unlock()

	allowed := bucket.allow()

	bucket.mu.Lock()
	remaining := int(bucket.tokens)
	var retryAfter time.Duration
	if !allowed {
		retryAfter = time.Duration((1.0 - bucket.tokens) / bucket.refillRate * float64(time.Second))
	}
	bucket.mu.Unlock()

	return allowed, Info{Limit: l.limit, Remaining: remaining, RetryAfter: retryAfter}
}

// Stop terminates the cleanup goroutine.
func (l *Limiter) Stop() {
	if l.cleanupTicker != nil {
		l.cleanupTicker.Stop()
		close(l.cleanupStop)
	}
}

// cleanup drops buckets idle long enough to be full again.
func (l *Limiter) cleanup() {
	for {
		select {
		case <-l.cleanupStop:
			return
		case <-l.cleanupTicker.C:
			cutoff := time.Now().Add(-2 * l.window)
			l.mu.Lock()
			for id, last := range l.lastAccess {
				if last.Before(cutoff) {
					delete(l.buckets, id)
					delete(l.lastAccess, id)
				}
			}
			l.mu.Unlock()
		}
	}
}
