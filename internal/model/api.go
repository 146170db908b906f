package model

import (
	"fmt"
	"time"
)

// Error codes returned in API error responses.
const (
	ErrCodeUnauthorized   = "UNAUTHORIZED"
	ErrCodeForbidden      = "FORBIDDEN"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeBadRequest     = "BAD_REQUEST"
	ErrCodeRateLimited    = "RATE_LIMITED"
	ErrCodeInternalError  = "INTERNAL_ERROR"
	ErrCodeSessionMissing = "SESSION_NOT_FOUND"
)

// Transcript read limits.
const (
	DefaultTranscriptLimit = 10
	MaxTranscriptLimit     = 100
	MaxMessageContentLen   = 64 * 1024 // 64 KB
)

// APIResponse is the standard success envelope.
type APIResponse struct {
	Data any          `json:"data"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ErrorDetail holds a machine-readable code and human-readable message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResponseMeta carries request tracking information.
type ResponseMeta struct {
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// TranscriptResponse is the reconciled transcript returned to the chat UI.
type TranscriptResponse struct {
	SessionID       string             `json:"session_id"`
	Messages        []CanonicalMessage `json:"messages"`
	HasMore         bool               `json:"has_more"`
	OldestMessageID string             `json:"oldest_message_id,omitempty"`
	NewestMessageID string             `json:"newest_message_id,omitempty"`
	RunSummaries    []RunSummary       `json:"runs_summary"`
	TotalRuns       int                `json:"total_runs"`
	// Degraded marks a transcript built from the local ledger alone
	// because the run log was unreachable.
	Degraded bool `json:"degraded,omitempty"`
}

// SendMessageRequest is the payload for posting a new user message.
type SendMessageRequest struct {
	Content  string         `json:"content"`
	AgentID  string         `json:"agent_id,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Validate checks request bounds before the ledger write.
func (r SendMessageRequest) Validate() error {
	if r.Content == "" {
		return fmt.Errorf("content is required")
	}
	if len(r.Content) > MaxMessageContentLen {
		return fmt.Errorf("content exceeds maximum length of %d bytes", MaxMessageContentLen)
	}
	return nil
}

// SendMessageResponse acknowledges a ledger write and hands back the
// stream id the client should poll the transcript for.
type SendMessageResponse struct {
	MessageID string `json:"message_id"`
	StreamID  string `json:"stream_id,omitempty"`
	SessionID string `json:"session_id"`
}

// ExportedTranscript is the full-session export payload.
type ExportedTranscript struct {
	SessionID  string             `json:"session_id"`
	Title      string             `json:"title,omitempty"`
	ExportedAt time.Time          `json:"exported_at"`
	Messages   []CanonicalMessage `json:"messages"`
}
