package reconcile

import (
	"time"

	"github.com/ashita-ai/tsumugi/internal/model"
	"github.com/ashita-ai/tsumugi/internal/stream"
)

// applyStreamOverlay injects the in-flight response state into the
// transcript. While a stream marker is active the most recent user turn
// is annotated with the stream id, and a placeholder assistant message
// carrying the same id is guaranteed to exist so the client always has
// a terminal "streaming" entry to poll against.
func applyStreamOverlay(msgs []model.CanonicalMessage, marker *stream.Marker, now time.Time) []model.CanonicalMessage {
	if marker == nil {
		return msgs
	}

	tagged := false
	for i := range msgs {
		if msgs[i].StreamID == marker.StreamID {
			if msgs[i].StreamStatus == "" {
				msgs[i].StreamStatus = model.StreamStatusStreaming
			}
			tagged = true
		}
	}
	if !tagged {
		// Nothing carries the marker yet: attach it to the most recent
		// user message, which is the turn the response is streaming for.
		for i := len(msgs) - 1; i >= 0; i-- {
			if msgs[i].Role == model.RoleUser {
				msgs[i].StreamID = marker.StreamID
				msgs[i].StreamStatus = model.StreamStatusStreaming
				break
			}
		}
	}

	for _, m := range msgs {
		if m.Role == model.RoleAssistant && m.StreamID == marker.StreamID {
			return msgs
		}
	}

	// Synthesize the placeholder assistant entry. Its id is derived from
	// the stream id alone so repeated reads while the stream is active
	// produce the same placeholder.
	// Empty slices, not nil: the placeholder joins the transcript after
	// enrichment and must encode like every other message.
	ts := now.UTC()
	return append(msgs, model.CanonicalMessage{
		MessageID:      MessageID(marker.SessionID, marker.RunID, string(model.RoleAssistant), "stream:"+marker.StreamID, nil),
		Role:           model.RoleAssistant,
		Timestamp:      &ts,
		RunID:          marker.RunID,
		StreamID:       marker.StreamID,
		StreamStatus:   model.StreamStatusStreaming,
		Attachments:    []model.Attachment{},
		AgentsInvolved: []model.AgentRef{},
	})
}
