package ratelimit

import (
	"context"
	"sync"
	"time"
)

type bucket struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter is a fixed-window limiter keyed by caller identity, local
// to one process. Buckets live in a map guarded by a mutex; the window
// resets lazily on the first check after it elapses.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	quota   int
	window  time.Duration
	now     func() time.Time
}

func NewMemoryLimiter(quota int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		buckets: make(map[string]*bucket),
		quota:   quota,
		window:  window,
		now:     time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, callerID string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[callerID]
	if !ok || now.After(b.resetAt) {
		b = &bucket{count: 1, resetAt: now.Add(l.window)}
		l.buckets[callerID] = b
		return Decision{Allowed: true, Remaining: l.quota - 1, ResetAt: b.resetAt}
	}

	b.count++
	if b.count <= l.quota {
		return Decision{Allowed: true, Remaining: l.quota - b.count, ResetAt: b.resetAt}
	}
	return Decision{
		Allowed:    false,
		Remaining:  0,
		ResetAt:    b.resetAt,
		RetryAfter: b.resetAt.Sub(now),
	}
}
