package model

import (
	"time"

	"github.com/google/uuid"
)

// Session is one chat conversation owned by a user. The session's
// PublicID is the identifier shared with the orchestrator; its run log
// is keyed by it.
type Session struct {
	ID        uuid.UUID `json:"id"`
	PublicID  uuid.UUID `json:"public_id"`
	UserID    uuid.UUID `json:"user_id"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Agent is one entry of the agent directory. Display names are mutable;
// the directory is always consulted for the current name rather than
// trusting names embedded in historical run-log entries.
type Agent struct {
	ID        string    `json:"agent_id"`
	PublicID  uuid.UUID `json:"public_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
