// Package stream provides access to the ephemeral streaming marker
// store. The orchestration side writes a TTL-bounded marker when a
// response starts streaming and deletes it on completion; this engine
// only ever reads, so no write-write conflict is possible from here.
//
// The distribution ships an in-memory implementation (MemoryStore).
// Deployments that share markers across instances substitute an external
// KV-backed implementation; the MarkerStore interface is the contract.
package stream

import "context"

// Marker records one in-flight streaming response for a session.
type Marker struct {
	StreamID  string
	SessionID string
	RunID     string
	Status    string // "streaming" while active
	User      string
}

// MarkerStore looks up the active stream for a session, if any.
// Implementations must be safe for concurrent use.
type MarkerStore interface {
	// GetActiveStream returns the active marker for the session, or nil
	// when no stream is in flight. Expired markers are never returned.
	GetActiveStream(ctx context.Context, sessionID string) (*Marker, error)

	// Close releases resources.
	Close() error
}

// NoopStore reports no active stream. Used when streaming is disabled.
type NoopStore struct{}

// GetActiveStream always returns nil.
func (NoopStore) GetActiveStream(context.Context, string) (*Marker, error) { return nil, nil }

// Close is a no-op.
func (NoopStore) Close() error { return nil }
