package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/tsumugi/internal/model"
)

// CreateSession inserts a new chat session. A zero PublicID is assigned
// a fresh UUID; it becomes the session's identity in the run log.
func (db *DB) CreateSession(ctx context.Context, session model.Session) (model.Session, error) {
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	if session.PublicID == uuid.Nil {
		session.PublicID = uuid.New()
	}
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now

	_, err := db.pool.Exec(ctx,
		`INSERT INTO sessions (id, public_id, user_id, title, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		session.ID, session.PublicID, session.UserID, session.Title,
		session.CreatedAt, session.UpdatedAt,
	)
	if err != nil {
		return model.Session{}, fmt.Errorf("storage: create session: %w", err)
	}
	return session, nil
}

// GetSession returns the session if it exists and belongs to the user.
func (db *DB) GetSession(ctx context.Context, sessionID, userID uuid.UUID) (model.Session, error) {
	var s model.Session
	err := db.pool.QueryRow(ctx,
		`SELECT id, public_id, user_id, title, created_at, updated_at
		 FROM sessions
		 WHERE id = $1 AND user_id = $2`,
		sessionID, userID,
	).Scan(&s.ID, &s.PublicID, &s.UserID, &s.Title, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Session{}, ErrNotFound
		}
		return model.Session{}, fmt.Errorf("storage: get session: %w", err)
	}
	return s, nil
}

// ListSessions returns the user's sessions, most recently active first.
func (db *DB) ListSessions(ctx context.Context, userID uuid.UUID, limit int) ([]model.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, public_id, user_id, title, created_at, updated_at
		 FROM sessions
		 WHERE user_id = $1
		 ORDER BY updated_at DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		var s model.Session
		if err := rows.Scan(&s.ID, &s.PublicID, &s.UserID, &s.Title, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// TouchSession bumps the session's updated_at so it sorts to the top of
// the session list after new activity.
func (db *DB) TouchSession(ctx context.Context, sessionID uuid.UUID) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE sessions SET updated_at = now() WHERE id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("storage: touch session: %w", err)
	}
	return nil
}

// UpdateSessionTitle sets the user-visible title.
func (db *DB) UpdateSessionTitle(ctx context.Context, sessionID, userID uuid.UUID, title string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE sessions SET title = $3, updated_at = now()
		 WHERE id = $1 AND user_id = $2`,
		sessionID, userID, title,
	)
	if err != nil {
		return fmt.Errorf("storage: update session title: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
