package stream

import (
	"context"
	"sync"
	"time"
)

// entry is one stored marker with its expiry deadline.
type entry struct {
	marker    Marker
	expiresAt time.Time
}

// MemoryStore implements MarkerStore with an in-memory TTL map and an
// injected clock, so expiry is testable without sleeping.
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	markers map[string]entry // keyed by session id

	stopOnce sync.Once
	done     chan struct{}
}

// NewMemoryStore creates a marker store whose markers expire after ttl.
// If now is nil, time.Now is used. A background goroutine sweeps expired
// entries every minute; call Close to stop it.
func NewMemoryStore(ttl time.Duration, now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	m := &MemoryStore{
		ttl:     ttl,
		now:     now,
		markers: make(map[string]entry),
		done:    make(chan struct{}),
	}
	go m.sweep()
	return m
}

// Put records the marker for its session, resetting the TTL. Called by
// the send path when the orchestrator acknowledges a stream.
func (m *MemoryStore) Put(marker Marker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markers[marker.SessionID] = entry{marker: marker, expiresAt: m.now().Add(m.ttl)}
}

// Delete removes the marker for a session. Called when a stream
// completes before its TTL lapses.
func (m *MemoryStore) Delete(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.markers, sessionID)
}

// GetActiveStream returns the unexpired marker for the session, or nil.
func (m *MemoryStore) GetActiveStream(_ context.Context, sessionID string) (*Marker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.markers[sessionID]
	if !ok {
		return nil, nil
	}
	if !m.now().Before(e.expiresAt) {
		delete(m.markers, sessionID)
		return nil, nil
	}
	marker := e.marker
	return &marker, nil
}

// Close stops the sweep goroutine. Safe to call multiple times.
func (m *MemoryStore) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	return nil
}

func (m *MemoryStore) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictExpired()
		}
	}
}

func (m *MemoryStore) evictExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for sessionID, e := range m.markers {
		if !now.Before(e.expiresAt) {
			delete(m.markers, sessionID)
		}
	}
}
