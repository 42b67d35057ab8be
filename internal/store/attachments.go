package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/felo/mailstore/internal/db"
)

const attachmentColumns = "a.id, a.message_id, a.filename, a.content_type, a.size, a.content_id, a.is_inline, a.storage_path, a.checksum, a.created_at"

func scanAttachment(row interface{ Scan(...any) error }) (*Attachment, error) {
	a := &Attachment{}
	var cid sql.NullString
	var created db.NullTime
	err := row.Scan(&a.ID, &a.MessageID, &a.Filename, &a.ContentType, &a.Size, &cid, &a.IsInline,
		&a.StoragePath, &a.Checksum, &created)
	if err != nil {
		return nil, err
	}
	if cid.Valid {
		a.ContentID = &cid.String
	}
	a.CreatedAt = created.Time
	return a, nil
}

func insertAttachment(ctx context.Context, tx db.Querier, messageID int64, na NewAttachment) (int64, error) {
	contentType := na.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO attachments (message_id, filename, content_type, size, content_id, is_inline, storage_path, checksum, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, messageID, na.Filename, contentType, na.Size, na.ContentID, na.IsInline, na.StoragePath, na.Checksum, now())
	if err != nil {
		return 0, fmt.Errorf("failed to insert attachment: %w", err)
	}
	return res.LastInsertId()
}

// AddAttachment stores attachment metadata for an existing message
func (s *Store) AddAttachment(ctx context.Context, messageID int64, na NewAttachment) (*Attachment, error) {
	var att *Attachment
	err := s.db.Transaction(ctx, func(ctx context.Context, tx db.Querier) error {
		m, err := s.getMessage(ctx, "id = ?", messageID)
		if err != nil {
			return err
		}
		if m == nil {
			return fmt.Errorf("%w: %d", ErrMessageNotFound, messageID)
		}
		id, err := insertAttachment(ctx, tx, messageID, na)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "UPDATE messages SET has_attachments = 1 WHERE id = ?", messageID); err != nil {
			return fmt.Errorf("failed to flag message attachments: %w", err)
		}
		att, err = s.GetAttachment(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return att, nil
}

// GetAttachment retrieves attachment metadata by id
func (s *Store) GetAttachment(ctx context.Context, id int64) (*Attachment, error) {
	a, err := scanAttachment(s.db.Querier(ctx).QueryRowContext(ctx, `
		SELECT `+attachmentColumns+`
		FROM attachments a JOIN messages m ON m.id = a.message_id
		WHERE a.id = ? AND m.user_id = ?
	`, id, s.userID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attachment: %w", err)
	}
	return a, nil
}

// GetAttachments retrieves all attachments of a message
func (s *Store) GetAttachments(ctx context.Context, messageID int64) ([]*Attachment, error) {
	rows, err := s.db.Querier(ctx).QueryContext(ctx, `
		SELECT `+attachmentColumns+`
		FROM attachments a JOIN messages m ON m.id = a.message_id
		WHERE a.message_id = ? AND m.user_id = ?
		ORDER BY a.id
	`, messageID, s.userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get attachments: %w", err)
	}
	defer rows.Close()

	attachments := []*Attachment{}
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}
		attachments = append(attachments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attachments: %w", err)
	}
	return attachments, nil
}

// DeleteAttachment removes attachment metadata. It reports false if the
// attachment does not exist.
func (s *Store) DeleteAttachment(ctx context.Context, id int64) (bool, error) {
	found := false
	err := s.db.Transaction(ctx, func(ctx context.Context, tx db.Querier) error {
		a, err := s.GetAttachment(ctx, id)
		if err != nil || a == nil {
			return err
		}
		found = true
		if _, err := tx.ExecContext(ctx, "DELETE FROM attachments WHERE id = ?", id); err != nil {
			return fmt.Errorf("failed to delete attachment: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE messages SET has_attachments = EXISTS(SELECT 1 FROM attachments WHERE message_id = ?)
			WHERE id = ?
		`, a.MessageID, a.MessageID)
		if err != nil {
			return fmt.Errorf("failed to flag message attachments: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return found, nil
}
