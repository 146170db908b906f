package model

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// LocalMessage is one row of the local message ledger, written
// synchronously when the user sends a message. Never mutated after
// creation except to attach a stream marker or correct an agent id.
type LocalMessage struct {
	ID        uuid.UUID      `json:"id"`
	SessionID uuid.UUID      `json:"session_id"`
	UserID    uuid.UUID      `json:"user_id"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	AgentID   string         `json:"agent_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// StreamID returns the stream marker attached to this message, if any.
// Both snake_case and camelCase keys occur in older ledger rows.
func (m LocalMessage) StreamID() string {
	for _, key := range []string{"stream_id", "streamId"} {
		if v, ok := m.Metadata[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// Attachments extracts attachment descriptors from the metadata map.
// Rows written before the attachment index existed carry them inline.
func (m LocalMessage) Attachments() []Attachment {
	raw, ok := m.Metadata["attachments"].([]any)
	if !ok {
		return nil
	}
	var out []Attachment
	for _, entry := range raw {
		fields, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		att := Attachment{
			ID:       firstString(fields, "attachment_id", "id"),
			Filename: firstString(fields, "filename", "file_name"),
			URL:      firstString(fields, "blob_url", "download_url", "url"),
		}
		if att.ID != "" || att.Filename != "" || att.URL != "" {
			out = append(out, att)
		}
	}
	return out
}

// CustomFields returns the metadata entries that are neither stream
// markers nor attachments. These ride along onto the matched
// CanonicalMessage untouched.
func (m LocalMessage) CustomFields() map[string]any {
	if len(m.Metadata) == 0 {
		return nil
	}
	out := make(map[string]any)
	for k, v := range m.Metadata {
		switch k {
		case "stream_id", "streamId", "attachments":
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func firstString(fields map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := fields[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// Attachment is a file reference attached to a message.
type Attachment struct {
	ID       string `json:"attachment_uuid"`
	Filename string `json:"filename,omitempty"`
	URL      string `json:"url,omitempty"`
}

// Feedback is one user's reaction to an assistant message.
type Feedback struct {
	FeedbackID string     `json:"feedback_id"`
	Reaction   string     `json:"reaction,omitempty"` // "like", "dislike", or empty for neutral
	Comment    string     `json:"comment,omitempty"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
}

// StreamStatusStreaming annotates messages that belong to an in-flight
// response the client should keep polling for.
const StreamStatusStreaming = "streaming"

// CanonicalMessage is one entry of the reconciled transcript. It exists
// only for the duration of one read and is never persisted.
type CanonicalMessage struct {
	MessageID      string         `json:"message_id"`
	Role           Role           `json:"type"`
	Content        string         `json:"content"`
	Timestamp      *time.Time     `json:"timestamp,omitempty"`
	RunID          string         `json:"run_id,omitempty"`
	AgentID        string         `json:"agent_id,omitempty"`
	AgentName      string         `json:"agent_name,omitempty"`
	TeamID         string         `json:"team_id,omitempty"`
	TeamName       string         `json:"team_name,omitempty"`
	Attachments    []Attachment   `json:"attachments"`
	AgentsInvolved []AgentRef     `json:"agents_involved"`
	Feedback       *Feedback      `json:"feedback,omitempty"` // assistant messages only
	StreamID       string         `json:"stream_id,omitempty"`
	StreamStatus   string         `json:"stream_status,omitempty"`
	CustomFields   map[string]any `json:"custom_fields,omitempty"`
	LocalMessageID *uuid.UUID     `json:"local_message_id,omitempty"`
}
