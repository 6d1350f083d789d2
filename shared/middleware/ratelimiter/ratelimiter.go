// Package ratelimiter keeps one token bucket per caller identity.
package ratelimiter

import (
	"sync"
	"time"
)

type bucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
	timer      *time.Timer
}

// UserRateLimiter hands out tokens per identity. Buckets idle for longer than
// the expiration are dropped.
type UserRateLimiter struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	rate       float64 // tokens per second
	capacity   float64
	expiration time.Duration
	now        func() time.Time
}

func New(rate float64, capacity float64, expiration time.Duration) *UserRateLimiter {
	return &UserRateLimiter{
		buckets:    make(map[string]*bucket),
		rate:       rate,
		capacity:   capacity,
		expiration: expiration,
		now:        time.Now,
	}
}

func (l *UserRateLimiter) bucket(identity string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[identity]
	if !ok {
		b = &bucket{tokens: l.capacity, lastRefill: l.now()}
		l.buckets[identity] = b
		b.timer = time.AfterFunc(l.expiration, func() { l.forget(identity, b) })
		return b
	}
	b.timer.Reset(l.expiration)
	return b
}

func (l *UserRateLimiter) forget(identity string, b *bucket) {
	l.mu.Lock()
	if l.buckets[identity] == b {
		delete(l.buckets, identity)
	}
	l.mu.Unlock()
}

// Allow takes one token from identity's bucket.
func (l *UserRateLimiter) Allow(identity string) bool {
	b := l.bucket(identity)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := l.now()
	b.tokens += now.Sub(b.lastRefill).Seconds() * l.rate
	if b.tokens > l.capacity {
		b.tokens = l.capacity
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Len is the number of tracked identities.
func (l *UserRateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Stop cancels the expiration timers.
func (l *UserRateLimiter) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, b := range l.buckets {
		b.timer.Stop()
	}
}
