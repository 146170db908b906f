package ratelimit

import (
	"context"
	"sync"
	"time"
)

// caller tracks the remaining read budget for one key.
type caller struct {
	budget float64
	seenAt time.Time
}

// MemoryLimiter is an in-process token bucket keyed by caller. It caps
// how fast a single user (or share-link IP) can drive transcript reads,
// since every read fans out to the orchestrator run log. Single-instance
// only; multi-instance deployments need a coordinated Limiter.
type MemoryLimiter struct {
	refillPerSec float64
	capacity     float64

	mu      sync.Mutex
	callers map[string]*caller

	stopOnce sync.Once
	done     chan struct{}
}

// NewMemoryLimiter creates a limiter sustaining rate requests per second
// per key with bursts up to burst. A janitor goroutine drops callers idle
// for idleEviction; Close stops it.
func NewMemoryLimiter(rate float64, burst int) *MemoryLimiter {
	m := &MemoryLimiter{
		refillPerSec: rate,
		capacity:     float64(burst),
		callers:      make(map[string]*caller),
		done:         make(chan struct{}),
	}
	go m.janitor()
	return m
}

// Allow spends one token from key's budget. False means the caller is
// reading faster than the sustained rate and should back off.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	c, ok := m.callers[key]
	if !ok {
		c = &caller{budget: m.capacity, seenAt: now}
		m.callers[key] = c
	} else {
		c.budget += now.Sub(c.seenAt).Seconds() * m.refillPerSec
		if c.budget > m.capacity {
			c.budget = m.capacity
		}
		c.seenAt = now
	}

	if c.budget < 1 {
		return false, nil
	}
	c.budget--
	return true, nil
}

// Close stops the janitor. Safe to call more than once.
func (m *MemoryLimiter) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	return nil
}

const (
	idleEviction  = 10 * time.Minute
	sweepInterval = time.Minute
)

func (m *MemoryLimiter) janitor() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.prune()
		}
	}
}

// prune drops callers that have not issued a read recently.
func (m *MemoryLimiter) prune() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-idleEviction)
	for key, c := range m.callers {
		if c.seenAt.Before(cutoff) {
			delete(m.callers, key)
		}
	}
}
