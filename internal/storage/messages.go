package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/tsumugi/internal/model"
)

// CreateMessage appends one row to the message ledger.
func (db *DB) CreateMessage(ctx context.Context, msg model.LocalMessage) (model.LocalMessage, error) {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.Metadata == nil {
		msg.Metadata = map[string]any{}
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO messages (id, session_id, user_id, role, content, agent_id, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		msg.ID, msg.SessionID, msg.UserID, string(msg.Role), msg.Content,
		msg.AgentID, msg.Metadata, msg.CreatedAt,
	)
	if err != nil {
		return model.LocalMessage{}, fmt.Errorf("storage: create message: %w", err)
	}
	return msg, nil
}

// ListMessages returns every ledger row for the session in chronological
// order. The user scope is part of the query so one user can never read
// another's ledger through a guessed session id.
func (db *DB) ListMessages(ctx context.Context, sessionID, userID uuid.UUID) ([]model.LocalMessage, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT m.id, m.session_id, m.user_id, m.role, m.content, m.agent_id, m.metadata, m.created_at
		 FROM messages m
		 JOIN sessions s ON s.id = m.session_id
		 WHERE m.session_id = $1 AND s.user_id = $2
		 ORDER BY m.created_at ASC, m.id ASC`,
		sessionID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list messages: %w", err)
	}
	defer rows.Close()

	var msgs []model.LocalMessage
	for rows.Next() {
		var m model.LocalMessage
		var role string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.UserID, &role, &m.Content,
			&m.AgentID, &m.Metadata, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan message: %w", err)
		}
		m.Role = model.Role(role)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// AttachStreamID records the stream marker on an existing message's
// metadata. This is the only post-creation mutation the ledger permits.
func (db *DB) AttachStreamID(ctx context.Context, messageID uuid.UUID, streamID string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE messages
		 SET metadata = metadata || jsonb_build_object('stream_id', $2::text)
		 WHERE id = $1`,
		messageID, streamID,
	)
	if err != nil {
		return fmt.Errorf("storage: attach stream id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
