package runlog

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/tsumugi/internal/model"
	"github.com/ashita-ai/tsumugi/internal/stream"
)

type countingFetcher struct {
	calls atomic.Int64
	runs  []model.RunRecord
	err   error
}

func (f *countingFetcher) FetchRuns(context.Context, string) ([]model.RunRecord, error) {
	f.calls.Add(1)
	return f.runs, f.err
}

func TestCacheServesFreshEntries(t *testing.T) {
	now := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	upstream := &countingFetcher{runs: []model.RunRecord{{RunID: "r1"}}}
	cache := NewCache(upstream, nil, 30*time.Second, func() time.Time { return now })

	for i := 0; i < 3; i++ {
		runs, err := cache.FetchRuns(context.Background(), "sess-1")
		require.NoError(t, err)
		require.Len(t, runs, 1)
	}
	assert.EqualValues(t, 1, upstream.calls.Load(), "repeated reads within the TTL hit upstream once")
}

func TestCacheExpires(t *testing.T) {
	now := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	upstream := &countingFetcher{}
	cache := NewCache(upstream, nil, 30*time.Second, func() time.Time { return now })

	_, err := cache.FetchRuns(context.Background(), "sess-1")
	require.NoError(t, err)

	now = now.Add(31 * time.Second)
	_, err = cache.FetchRuns(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, upstream.calls.Load())
}

func TestCacheEntriesArePerSession(t *testing.T) {
	now := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	upstream := &countingFetcher{}
	cache := NewCache(upstream, nil, 30*time.Second, func() time.Time { return now })

	_, _ = cache.FetchRuns(context.Background(), "sess-1")
	_, _ = cache.FetchRuns(context.Background(), "sess-2")
	assert.EqualValues(t, 2, upstream.calls.Load())
}

func TestCacheDoesNotCacheFailures(t *testing.T) {
	now := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	upstream := &countingFetcher{err: errors.New("boom")}
	cache := NewCache(upstream, nil, 30*time.Second, func() time.Time { return now })

	_, err := cache.FetchRuns(context.Background(), "sess-1")
	require.Error(t, err)

	upstream.err = nil
	_, err = cache.FetchRuns(context.Background(), "sess-1")
	require.NoError(t, err, "the failure must not poison the cache")
	assert.EqualValues(t, 2, upstream.calls.Load())
}

func TestCacheInvalidate(t *testing.T) {
	now := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	upstream := &countingFetcher{}
	cache := NewCache(upstream, nil, 30*time.Second, func() time.Time { return now })

	_, _ = cache.FetchRuns(context.Background(), "sess-1")
	cache.Invalidate("sess-1")
	_, _ = cache.FetchRuns(context.Background(), "sess-1")
	assert.EqualValues(t, 2, upstream.calls.Load())
}

func TestCacheBypassedDuringActiveStream(t *testing.T) {
	now := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	markers := stream.NewMemoryStore(time.Minute, func() time.Time { return now })
	t.Cleanup(func() { _ = markers.Close() })

	upstream := &countingFetcher{}
	cache := NewCache(upstream, markers, 30*time.Second, func() time.Time { return now })

	_, _ = cache.FetchRuns(context.Background(), "sess-1")
	require.EqualValues(t, 1, upstream.calls.Load())

	markers.Put(stream.Marker{StreamID: "st-1", SessionID: "sess-1"})
	_, _ = cache.FetchRuns(context.Background(), "sess-1")
	_, _ = cache.FetchRuns(context.Background(), "sess-1")
	assert.EqualValues(t, 3, upstream.calls.Load(),
		"every read during an active stream goes upstream")

	markers.Delete("sess-1")
	_, _ = cache.FetchRuns(context.Background(), "sess-1")
	assert.EqualValues(t, 3, upstream.calls.Load(),
		"the bypass refreshes the cache, so the next read is served from it")
}
