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

// UpsertFeedback records or replaces one user's reaction to a message.
// Message ids are stored lowercased so lookups are case-insensitive.
func (db *DB) UpsertFeedback(ctx context.Context, messageID string, userID uuid.UUID, reaction, comment string) (model.Feedback, error) {
	fb := model.Feedback{
		FeedbackID: uuid.NewString(),
		Reaction:   reaction,
		Comment:    comment,
	}
	now := time.Now().UTC()
	fb.CreatedAt = &now

	err := db.pool.QueryRow(ctx,
		`INSERT INTO feedback (id, message_id, user_id, reaction, comment, created_at)
		 VALUES ($1, lower($2), $3, $4, $5, $6)
		 ON CONFLICT (message_id, user_id)
		 DO UPDATE SET reaction = EXCLUDED.reaction, comment = EXCLUDED.comment, created_at = EXCLUDED.created_at
		 RETURNING id`,
		fb.FeedbackID, messageID, userID, reaction, comment, now,
	).Scan(&fb.FeedbackID)
	if err != nil {
		return model.Feedback{}, fmt.Errorf("storage: upsert feedback: %w", err)
	}
	return fb, nil
}

// GetFeedback returns the user's feedback on a message, or nil when none
// exists. The message id comparison is case-insensitive: feedback written
// by older clients recorded uppercased UUIDs.
func (db *DB) GetFeedback(ctx context.Context, messageID string, userID uuid.UUID) (*model.Feedback, error) {
	var fb model.Feedback
	var createdAt time.Time
	err := db.pool.QueryRow(ctx,
		`SELECT id, reaction, comment, created_at
		 FROM feedback
		 WHERE message_id = lower($1) AND user_id = $2`,
		messageID, userID,
	).Scan(&fb.FeedbackID, &fb.Reaction, &fb.Comment, &createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: get feedback: %w", err)
	}
	fb.CreatedAt = &createdAt
	return &fb, nil
}

// DeleteFeedback removes the user's feedback on a message.
func (db *DB) DeleteFeedback(ctx context.Context, messageID string, userID uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM feedback WHERE message_id = lower($1) AND user_id = $2`,
		messageID, userID,
	)
	if err != nil {
		return fmt.Errorf("storage: delete feedback: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
