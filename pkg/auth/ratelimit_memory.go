package auth

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxLimiterEntries bounds the in-memory limiter map. When full, the least
// recently seen entries are evicted.
const maxLimiterEntries = 10000

// Limiter is the rate-limit capability shared by the in-memory and Redis
// implementations.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryLimiter is a per-key token bucket for single-replica deployments.
type MemoryLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	rate    rate.Limit
	burst   int
}

// NewMemoryLimiter enforces rps with the given burst per key.
func NewMemoryLimiter(rps, burst int) *MemoryLimiter {
	return &MemoryLimiter{
		entries: map[string]*limiterEntry{},
		rate:    rate.Limit(rps),
		burst:   burst,
	}
}

// Allow consumes one token for the key.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		if len(l.entries) >= maxLimiterEntries {
			l.evictLocked()
		}
		e = &limiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.entries[key] = e
	}
	e.lastSeen = time.Now()
	return e.limiter.Allow(), nil
}

// evictLocked drops the stalest tenth of the map.
func (l *MemoryLimiter) evictLocked() {
	drop := maxLimiterEntries / 10
	for i := 0; i < drop; i++ {
		var oldestKey string
		var oldest time.Time
		for k, e := range l.entries {
			if oldestKey == "" || e.lastSeen.Before(oldest) {
				oldestKey = k
				oldest = e.lastSeen
			}
		}
		if oldestKey == "" {
			return
		}
		delete(l.entries, oldestKey)
	}
}
