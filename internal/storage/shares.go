package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ShareRecord is one transcript share link. The bearer token itself is
// never stored; only its argon2id hash is.
type ShareRecord struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	UserID    uuid.UUID
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// CreateShare inserts a share link record.
func (db *DB) CreateShare(ctx context.Context, rec ShareRecord) (ShareRecord, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO shares (id, session_id, user_id, token_hash, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.SessionID, rec.UserID, rec.TokenHash, rec.CreatedAt, rec.ExpiresAt,
	)
	if err != nil {
		return ShareRecord{}, fmt.Errorf("storage: create share: %w", err)
	}
	return rec, nil
}

// GetShare returns an unexpired share link by id.
func (db *DB) GetShare(ctx context.Context, shareID uuid.UUID) (ShareRecord, error) {
	var rec ShareRecord
	err := db.pool.QueryRow(ctx,
		`SELECT id, session_id, user_id, token_hash, created_at, expires_at
		 FROM shares
		 WHERE id = $1 AND expires_at > now()`,
		shareID,
	).Scan(&rec.ID, &rec.SessionID, &rec.UserID, &rec.TokenHash, &rec.CreatedAt, &rec.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ShareRecord{}, ErrNotFound
		}
		return ShareRecord{}, fmt.Errorf("storage: get share: %w", err)
	}
	return rec, nil
}

// DeleteShare revokes a share link. Scoped to the owning user.
func (db *DB) DeleteShare(ctx context.Context, shareID, userID uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM shares WHERE id = $1 AND user_id = $2`,
		shareID, userID,
	)
	if err != nil {
		return fmt.Errorf("storage: delete share: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
