package ratelimit

import (
	"context"
	"sync"
	"time"
)

// InMemoryLimiter keeps one sliding window of admission times per key. It is
// per process; deployments with several replicas use RedisLimiter.
type InMemoryLimiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	now     func() time.Time
}

func NewInMemoryLimiter() *InMemoryLimiter {
	return &InMemoryLimiter{windows: make(map[string][]time.Time), now: time.Now}
}

func (l *InMemoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-window)
	stamps := l.windows[key]
	kept := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= limit {
		l.windows[key] = kept
		return Result{Limit: limit, ResetAt: kept[0].Add(window)}, nil
	}
	kept = append(kept, now)
	l.windows[key] = kept
	return Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - len(kept),
		ResetAt:   kept[0].Add(window),
	}, nil
}
