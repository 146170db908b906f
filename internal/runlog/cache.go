package runlog

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ashita-ai/tsumugi/internal/model"
	"github.com/ashita-ai/tsumugi/internal/stream"
)

// Fetcher is the upstream a Cache wraps; implemented by Client.
type Fetcher interface {
	FetchRuns(ctx context.Context, sessionID string) ([]model.RunRecord, error)
}

// Cache is a read-through TTL cache over a run-log Fetcher. Concurrent
// reads for the same session share one upstream fetch. Sessions with an
// active stream marker bypass the cache entirely: while a response is
// streaming, staleness is visible to the user within a single poll
// interval.
type Cache struct {
	upstream Fetcher
	markers  stream.MarkerStore
	ttl      time.Duration
	now      func() time.Time

	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	runs      []model.RunRecord
	expiresAt time.Time
}

// NewCache wraps upstream with a TTL cache. markers may be nil when
// streaming is disabled; now defaults to time.Now.
func NewCache(upstream Fetcher, markers stream.MarkerStore, ttl time.Duration, now func() time.Time) *Cache {
	if markers == nil {
		markers = stream.NoopStore{}
	}
	if now == nil {
		now = time.Now
	}
	return &Cache{
		upstream: upstream,
		markers:  markers,
		ttl:      ttl,
		now:      now,
		entries:  make(map[string]cacheEntry),
	}
}

// FetchRuns serves the cached run log when fresh, otherwise fetches
// upstream and caches the result. Upstream failures are returned
// uncached so the next read retries.
func (c *Cache) FetchRuns(ctx context.Context, sessionID string) ([]model.RunRecord, error) {
	if marker, err := c.markers.GetActiveStream(ctx, sessionID); err == nil && marker != nil {
		return c.fetchAndStore(ctx, sessionID)
	}

	c.mu.RLock()
	entry, ok := c.entries[sessionID]
	c.mu.RUnlock()
	if ok && c.now().Before(entry.expiresAt) {
		return entry.runs, nil
	}

	v, err, _ := c.group.Do(sessionID, func() (any, error) {
		return c.fetchAndStore(ctx, sessionID)
	})
	if err != nil {
		return nil, err
	}
	return v.([]model.RunRecord), nil
}

// Invalidate drops the cached entry for a session. The send path calls
// this so the turn just submitted is visible on the next read.
func (c *Cache) Invalidate(sessionID string) {
	c.mu.Lock()
	delete(c.entries, sessionID)
	c.mu.Unlock()
}

func (c *Cache) fetchAndStore(ctx context.Context, sessionID string) ([]model.RunRecord, error) {
	runs, err := c.upstream.FetchRuns(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.entries[sessionID] = cacheEntry{runs: runs, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return runs, nil
}
