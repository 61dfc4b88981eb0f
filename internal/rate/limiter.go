package rate

import (
	"sync"
	"time"
)

// Limiter admits at most limit events per key per window. A limit of zero or
// less disables limiting for that call.
type Limiter interface {
	Allow(key string, limit int, window time.Duration) (bool, time.Duration)
}

// sweepInterval is how often Allow drops buckets whose window has passed.
const sweepInterval = time.Minute

type MemoryLimiter struct {
	mu        sync.Mutex
	store     map[string]*bucket
	now       func() time.Time
	nextSweep time.Time
}

type bucket struct {
	count   int
	resetAt time.Time
	window  time.Duration
}

func NewMemory() *MemoryLimiter {
	return &MemoryLimiter{store: make(map[string]*bucket), now: time.Now}
}

func (m *MemoryLimiter) Allow(key string, limit int, window time.Duration) (bool, time.Duration) {
	if limit <= 0 {
		return true, 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if now.After(m.nextSweep) {
		m.prune(now)
		m.nextSweep = now.Add(sweepInterval)
	}

	b, ok := m.store[key]
	if !ok || now.After(b.resetAt) || b.window != window {
		b = &bucket{count: 0, resetAt: now.Add(window), window: window}
		m.store[key] = b
	}

	if b.count >= limit {
		return false, b.resetAt.Sub(now)
	}

	b.count++
	return true, b.resetAt.Sub(now)
}

// prune drops buckets whose window has passed. The caller holds mu.
func (m *MemoryLimiter) prune(now time.Time) {
	for k, b := range m.store {
		if now.After(b.resetAt) {
			delete(m.store, k)
		}
	}
}
