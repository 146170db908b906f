package stream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorePutGet(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	s := NewMemoryStore(time.Hour, clock)
	defer func() { _ = s.Close() }()

	s.Put(Marker{StreamID: "st-1", SessionID: "sess-1", RunID: "r1", Status: "streaming"})

	got, err := s.GetActiveStream(context.Background(), "sess-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "st-1", got.StreamID)
	assert.Equal(t, "r1", got.RunID)

	missing, err := s.GetActiveStream(context.Background(), "sess-2")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMemoryStoreExpiry(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	s := NewMemoryStore(time.Hour, clock)
	defer func() { _ = s.Close() }()

	s.Put(Marker{StreamID: "st-1", SessionID: "sess-1"})

	now = now.Add(time.Hour + time.Second)
	got, err := s.GetActiveStream(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Nil(t, got, "expired marker must never be returned")
}

func TestMemoryStoreDelete(t *testing.T) {
	s := NewMemoryStore(time.Hour, nil)
	defer func() { _ = s.Close() }()

	s.Put(Marker{StreamID: "st-1", SessionID: "sess-1"})
	s.Delete("sess-1")

	got, err := s.GetActiveStream(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStorePutResetsTTL(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	s := NewMemoryStore(time.Hour, clock)
	defer func() { _ = s.Close() }()

	s.Put(Marker{StreamID: "st-1", SessionID: "sess-1"})
	now = now.Add(50 * time.Minute)
	s.Put(Marker{StreamID: "st-2", SessionID: "sess-1"})
	now = now.Add(50 * time.Minute)

	got, err := s.GetActiveStream(context.Background(), "sess-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "st-2", got.StreamID)
}
