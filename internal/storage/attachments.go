package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/tsumugi/internal/model"
)

// AttachmentRecord is one row of the attachment index. MessageID is the
// ledger message id the file was uploaded with; ContentSignature is the
// normalized content prefix of that message, kept for rows whose message
// predates stable ids.
type AttachmentRecord struct {
	ID               uuid.UUID
	MessageID        string
	SessionID        uuid.UUID
	Role             model.Role
	ContentSignature string
	Filename         string
	URL              string
	CreatedAt        time.Time
}

// CreateAttachment indexes one uploaded file.
func (db *DB) CreateAttachment(ctx context.Context, rec AttachmentRecord) (AttachmentRecord, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO attachments (id, message_id, session_id, role, content_signature, filename, url, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.MessageID, rec.SessionID, string(rec.Role),
		rec.ContentSignature, rec.Filename, rec.URL, rec.CreatedAt,
	)
	if err != nil {
		return AttachmentRecord{}, fmt.Errorf("storage: create attachment: %w", err)
	}
	return rec, nil
}

// ListAttachments returns the attachments indexed under a message id.
func (db *DB) ListAttachments(ctx context.Context, messageID string) ([]model.Attachment, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, filename, url FROM attachments
		 WHERE message_id = $1
		 ORDER BY created_at ASC`,
		messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list attachments: %w", err)
	}
	defer rows.Close()
	return scanAttachments(rows)
}

// FindByContentSignature recovers attachments for messages whose id
// changed across reconciliation generations: the lookup matches on role
// and the recorded content prefix instead.
func (db *DB) FindByContentSignature(ctx context.Context, role model.Role, contentPrefix string) ([]model.Attachment, error) {
	if contentPrefix == "" {
		return nil, nil
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, filename, url FROM attachments
		 WHERE role = $1 AND content_signature = $2
		 ORDER BY created_at ASC`,
		string(role), contentPrefix,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: find attachments by signature: %w", err)
	}
	defer rows.Close()
	return scanAttachments(rows)
}

type attachmentRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanAttachments(rows attachmentRows) ([]model.Attachment, error) {
	var out []model.Attachment
	for rows.Next() {
		var a model.Attachment
		var id uuid.UUID
		if err := rows.Scan(&id, &a.Filename, &a.URL); err != nil {
			return nil, fmt.Errorf("storage: scan attachment: %w", err)
		}
		a.ID = id.String()
		out = append(out, a)
	}
	return out, rows.Err()
}
