package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/tsumugi/internal/model"
	"github.com/ashita-ai/tsumugi/internal/stream"
)

func TestApplyStreamOverlayNilMarker(t *testing.T) {
	msgs := []model.CanonicalMessage{{MessageID: "m1", Role: model.RoleUser}}
	out := applyStreamOverlay(msgs, nil, time.Now())
	assert.Equal(t, msgs, out)
}

func TestApplyStreamOverlayAppendsPlaceholder(t *testing.T) {
	at := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	marker := &stream.Marker{StreamID: "st-1", SessionID: "sess-1", RunID: "r1", Status: "streaming"}
	msgs := []model.CanonicalMessage{
		{MessageID: "u1", Role: model.RoleUser, Content: "tell me a story", Timestamp: tsPtr(at)},
	}

	out := applyStreamOverlay(msgs, marker, at.Add(time.Second))
	require.Len(t, out, 2)

	assert.Equal(t, "st-1", out[0].StreamID, "the awaiting user turn is tagged")
	assert.Equal(t, model.StreamStatusStreaming, out[0].StreamStatus)

	placeholder := out[1]
	assert.Equal(t, model.RoleAssistant, placeholder.Role)
	assert.Empty(t, placeholder.Content)
	assert.Equal(t, "st-1", placeholder.StreamID)
	assert.Equal(t, model.StreamStatusStreaming, placeholder.StreamStatus)
	assert.Equal(t, "r1", placeholder.RunID)
	assert.NotNil(t, placeholder.Attachments, "placeholder encodes [] like enriched messages")
	assert.NotNil(t, placeholder.AgentsInvolved)
}

func TestApplyStreamOverlayPlaceholderIDIsStable(t *testing.T) {
	marker := &stream.Marker{StreamID: "st-1", SessionID: "sess-1", RunID: "r1"}

	a := applyStreamOverlay(nil, marker, time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC))
	b := applyStreamOverlay(nil, marker, time.Date(2024, 5, 10, 9, 0, 5, 0, time.UTC))
	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.Equal(t, a[0].MessageID, b[0].MessageID,
		"repeated polls during one stream see one placeholder id")
}

func TestApplyStreamOverlayExistingAssistantSuppressesPlaceholder(t *testing.T) {
	at := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	marker := &stream.Marker{StreamID: "st-1", SessionID: "sess-1", RunID: "r1"}
	msgs := []model.CanonicalMessage{
		{MessageID: "u1", Role: model.RoleUser, Timestamp: tsPtr(at), StreamID: "st-1"},
		{MessageID: "a1", Role: model.RoleAssistant, Content: "partial so far", Timestamp: tsPtr(at.Add(time.Second)), StreamID: "st-1"},
	}

	out := applyStreamOverlay(msgs, marker, at.Add(2*time.Second))
	require.Len(t, out, 2, "an assistant message already on the stream needs no placeholder")
	assert.Equal(t, model.StreamStatusStreaming, out[1].StreamStatus)
}

func TestApplyStreamOverlayTagsMostRecentUserOnly(t *testing.T) {
	at := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	marker := &stream.Marker{StreamID: "st-1", SessionID: "sess-1", RunID: "r1"}
	msgs := []model.CanonicalMessage{
		{MessageID: "u1", Role: model.RoleUser, Timestamp: tsPtr(at)},
		{MessageID: "a1", Role: model.RoleAssistant, Timestamp: tsPtr(at.Add(time.Second))},
		{MessageID: "u2", Role: model.RoleUser, Timestamp: tsPtr(at.Add(time.Minute))},
	}

	out := applyStreamOverlay(msgs, marker, at.Add(2*time.Minute))
	assert.Empty(t, out[0].StreamID, "earlier turns stay untouched")
	assert.Equal(t, "st-1", out[2].StreamID)
}
