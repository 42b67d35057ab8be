package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/felo/mailstore/internal/db"
)

const messageColumns = `id, user_id, folder_id, message_id, from_address, to_addresses, cc_addresses, bcc_addresses,
	subject, body_text, body_html, headers, status, priority,
	is_read, is_starred, is_important, is_encrypted, is_signed, has_attachments,
	thread_id, in_reply_to, reference_ids, original_folder_id,
	received_at, sent_at, deleted_at, created_at, updated_at`

// messageColumnsAs is messageColumns qualified with the messages alias m.
var messageColumnsAs = func() string {
	cols := strings.Split(messageColumns, ",")
	for i, c := range cols {
		cols[i] = "m." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}()

func scanMessage(row interface{ Scan(...any) error }, extra ...any) (*Message, error) {
	m := &Message{}
	var to, cc, bcc, headers, refs string
	var original sql.NullInt64
	var received, sent, deleted, created, updated db.NullTime

	dest := []any{
		&m.ID, &m.UserID, &m.FolderID, &m.MessageID, &m.From, &to, &cc, &bcc,
		&m.Subject, &m.BodyText, &m.BodyHTML, &headers, &m.Status, &m.Priority,
		&m.IsRead, &m.IsStarred, &m.IsImportant, &m.IsEncrypted, &m.IsSigned, &m.HasAttachments,
		&m.ThreadID, &m.InReplyTo, &refs, &original,
		&received, &sent, &deleted, &created, &updated,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	var err error
	if m.To, err = decodeList(to); err != nil {
		return nil, err
	}
	if m.Cc, err = decodeList(cc); err != nil {
		return nil, err
	}
	if m.Bcc, err = decodeList(bcc); err != nil {
		return nil, err
	}
	if m.References, err = decodeList(refs); err != nil {
		return nil, err
	}
	if m.Headers, err = decodeHeaders(headers); err != nil {
		return nil, err
	}
	if original.Valid {
		m.OriginalFolderID = &original.Int64
	}
	m.ReceivedAt = received.Time
	m.SentAt = sent.Ptr()
	m.DeletedAt = deleted.Ptr()
	m.CreatedAt, m.UpdatedAt = created.Time, updated.Time
	return m, nil
}

func (s *Store) queryMessages(ctx context.Context, query string, args ...any) ([]*Message, error) {
	rows, err := s.db.Querier(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []*Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return messages, nil
}

func (s *Store) getMessage(ctx context.Context, where string, args ...any) (*Message, error) {
	m, err := scanMessage(s.db.Querier(ctx).QueryRowContext(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE user_id = ? AND "+where,
		append([]any{s.userID}, args...)...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return m, nil
}

// GetMessage retrieves a message and its attachments by id
func (s *Store) GetMessage(ctx context.Context, id int64) (*Message, error) {
	m, err := s.getMessage(ctx, "id = ?", id)
	if err != nil || m == nil {
		return nil, err
	}
	if m.Attachments, err = s.GetAttachments(ctx, id); err != nil {
		return nil, err
	}
	return m, nil
}

// GetMessageByMessageID retrieves the oldest message with the given
// Message-ID header
func (s *Store) GetMessageByMessageID(ctx context.Context, messageID string) (*Message, error) {
	if messageID == "" {
		return nil, nil
	}
	return s.getMessage(ctx, "message_id = ? ORDER BY id LIMIT 1", messageID)
}

// ListMessages returns messages newest first
func (s *Store) ListMessages(ctx context.Context, f MessageFilter) ([]*Message, error) {
	where := []string{"user_id = ?"}
	args := []any{s.userID}
	if f.FolderID != 0 {
		where = append(where, "folder_id = ?")
		args = append(args, f.FolderID)
	}
	if f.UnreadOnly {
		where = append(where, "is_read = 0")
	}
	if f.StarredOnly {
		where = append(where, "is_starred = 1")
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	args = append(args, limit, f.Offset)

	return s.queryMessages(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE "+strings.Join(where, " AND ")+
			" ORDER BY received_at DESC, id DESC LIMIT ? OFFSET ?", args...)
}

// CreateMessage stores a message and its attachments in one transaction and
// refreshes the folder counts.
func (s *Store) CreateMessage(ctx context.Context, nm NewMessage) (*Message, error) {
	var msg *Message
	err := s.db.Transaction(ctx, func(ctx context.Context, tx db.Querier) error {
		id, err := s.insertMessage(ctx, tx, &nm)
		if err != nil {
			return err
		}
		for _, a := range nm.Attachments {
			if _, err := insertAttachment(ctx, tx, id, a); err != nil {
				return err
			}
		}
		if err := db.RefreshFolderCounts(ctx, tx); err != nil {
			return err
		}
		msg, err = s.GetMessage(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	metricMessageOps.WithLabelValues("create").Inc()
	return msg, nil
}

func (s *Store) insertMessage(ctx context.Context, tx db.Querier, nm *NewMessage) (int64, error) {
	folderID, err := s.folderID(ctx, nm.FolderID)
	if err != nil {
		return 0, err
	}

	if nm.MessageID == "" {
		nm.MessageID = "<" + uuid.NewString() + "@mailstore.local>"
	}
	if nm.Status == "" {
		nm.Status = db.StatusReceived
	}
	if nm.Priority == "" {
		nm.Priority = db.PriorityNormal
	}
	if nm.ReceivedAt.IsZero() {
		nm.ReceivedAt = now()
	}
	if nm.ThreadID == "" {
		if nm.ThreadID, err = s.threadFor(ctx, nm.InReplyTo, nm.References); err != nil {
			return 0, err
		}
	}

	to, err := encodeList(nm.To)
	if err != nil {
		return 0, err
	}
	cc, err := encodeList(nm.Cc)
	if err != nil {
		return 0, err
	}
	bcc, err := encodeList(nm.Bcc)
	if err != nil {
		return 0, err
	}
	refs, err := encodeList(nm.References)
	if err != nil {
		return 0, err
	}
	headers, err := encodeHeaders(nm.Headers)
	if err != nil {
		return 0, err
	}

	t := now()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (
			user_id, folder_id, message_id, from_address, to_addresses, cc_addresses, bcc_addresses,
			subject, body_text, body_html, headers, status, priority,
			is_read, is_starred, is_important, is_encrypted, is_signed, has_attachments,
			thread_id, in_reply_to, reference_ids, received_at, sent_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		s.userID, folderID, nm.MessageID, nm.From, to, cc, bcc,
		nm.Subject, nm.BodyText, nm.BodyHTML, headers, nm.Status, nm.Priority,
		nm.IsRead, nm.IsStarred, nm.IsImportant, nm.IsEncrypted, nm.IsSigned, len(nm.Attachments) > 0,
		nm.ThreadID, nm.InReplyTo, refs, nm.ReceivedAt.UTC(), db.NullTimeFrom(utcPtr(nm.SentAt)), t, t,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert message: %w", err)
	}
	return res.LastInsertId()
}

// UpdateMessage changes the non-nil fields of a message. It reports false if
// the message does not exist.
func (s *Store) UpdateMessage(ctx context.Context, id int64, u MessageUpdate) (bool, error) {
	var sets []string
	var args []any
	set := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	setList := func(col string, l *[]string) error {
		if l == nil {
			return nil
		}
		enc, err := encodeList(*l)
		if err != nil {
			return err
		}
		set(col, enc)
		return nil
	}

	if u.From != nil {
		set("from_address", *u.From)
	}
	if err := setList("to_addresses", u.To); err != nil {
		return false, err
	}
	if err := setList("cc_addresses", u.Cc); err != nil {
		return false, err
	}
	if err := setList("bcc_addresses", u.Bcc); err != nil {
		return false, err
	}
	if u.Subject != nil {
		set("subject", *u.Subject)
	}
	if u.BodyText != nil {
		set("body_text", *u.BodyText)
	}
	if u.BodyHTML != nil {
		set("body_html", *u.BodyHTML)
	}
	if u.Headers != nil {
		enc, err := encodeHeaders(*u.Headers)
		if err != nil {
			return false, err
		}
		set("headers", enc)
	}
	if u.Status != nil {
		set("status", *u.Status)
	}
	if u.Priority != nil {
		set("priority", *u.Priority)
	}
	if u.IsRead != nil {
		set("is_read", *u.IsRead)
	}
	if u.IsStarred != nil {
		set("is_starred", *u.IsStarred)
	}
	if u.IsImportant != nil {
		set("is_important", *u.IsImportant)
	}
	if u.IsEncrypted != nil {
		set("is_encrypted", *u.IsEncrypted)
	}
	if u.IsSigned != nil {
		set("is_signed", *u.IsSigned)
	}
	if u.SentAt != nil {
		set("sent_at", u.SentAt.UTC())
	}
	if len(sets) == 0 {
		m, err := s.getMessage(ctx, "id = ?", id)
		return m != nil, err
	}

	return s.updateMessages(ctx, "update", u.IsRead != nil, "id = ?", []any{id}, sets, args)
}

// updateMessages applies sets to the messages matching where and, when
// counts is set, refreshes the folder counts in the same transaction. It
// reports whether any message matched.
func (s *Store) updateMessages(ctx context.Context, op string, counts bool, where string, whereArgs []any, sets []string, args []any) (bool, error) {
	sets = append(sets, "updated_at = ?")
	args = append(args, now(), s.userID)
	args = append(args, whereArgs...)

	var n int64
	err := s.db.Transaction(ctx, func(ctx context.Context, tx db.Querier) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE messages SET "+strings.Join(sets, ", ")+" WHERE user_id = ? AND "+where, args...)
		if err != nil {
			return fmt.Errorf("failed to update message: %w", err)
		}
		if n, err = res.RowsAffected(); err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if counts && n > 0 {
			return db.RefreshFolderCounts(ctx, tx)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if n > 0 {
		metricMessageOps.WithLabelValues(op).Inc()
	}
	return n > 0, nil
}

// DeleteMessage permanently deletes a message with its attachments and queue
// items. It reports false if the message does not exist.
func (s *Store) DeleteMessage(ctx context.Context, id int64) (bool, error) {
	var n int64
	err := s.db.Transaction(ctx, func(ctx context.Context, tx db.Querier) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE user_id = ? AND id = ?", s.userID, id)
		if err != nil {
			return fmt.Errorf("failed to delete message: %w", err)
		}
		if n, err = res.RowsAffected(); err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		return db.RefreshFolderCounts(ctx, tx)
	})
	if err != nil {
		return false, err
	}
	if n > 0 {
		metricMessageOps.WithLabelValues("delete").Inc()
	}
	return n > 0, nil
}

// MoveMessage moves a message to another folder. A move into Trash behaves
// like MoveToTrash and a move out of Trash clears the restore bookkeeping. It
// reports false if the message does not exist.
func (s *Store) MoveMessage(ctx context.Context, id, folderID int64) (bool, error) {
	moved := false
	err := s.db.Transaction(ctx, func(ctx context.Context, tx db.Querier) error {
		f, err := s.GetFolder(ctx, folderID)
		if err != nil {
			return err
		}
		if f == nil {
			return fmt.Errorf("%w: %d", ErrFolderNotFound, folderID)
		}
		m, err := s.getMessage(ctx, "id = ?", id)
		if err != nil || m == nil {
			return err
		}
		moved = true

		switch {
		case f.Type == db.FolderTrash:
			_, err = s.MoveToTrash(ctx, id)
		case m.FolderID == f.ID:
		case m.DeletedAt != nil || m.OriginalFolderID != nil:
			_, err = s.updateMessages(ctx, "move", true, "id = ?", []any{id},
				[]string{"folder_id = ?", "original_folder_id = NULL", "deleted_at = NULL"}, []any{folderID})
		default:
			_, err = s.updateMessages(ctx, "move", true, "id = ?", []any{id},
				[]string{"folder_id = ?"}, []any{folderID})
		}
		return err
	})
	if err != nil {
		return false, err
	}
	return moved, nil
}

// MoveToTrash moves a message to Trash, remembering its folder for
// RestoreFromTrash. A message already in Trash is returned unchanged. It
// returns nil if the message does not exist.
func (s *Store) MoveToTrash(ctx context.Context, id int64) (*Message, error) {
	var msg *Message
	err := s.db.Transaction(ctx, func(ctx context.Context, tx db.Querier) error {
		m, err := s.getMessage(ctx, "id = ?", id)
		if err != nil || m == nil {
			return err
		}
		trash, err := s.GetFolderByType(ctx, db.FolderTrash)
		if err != nil {
			return err
		}
		if trash == nil {
			return fmt.Errorf("%w: no trash", ErrFolderNotFound)
		}
		if m.FolderID != trash.ID {
			t := now()
			if _, err := s.updateMessages(ctx, "trash", true, "id = ?", []any{id},
				[]string{"original_folder_id = ?", "folder_id = ?", "deleted_at = ?"},
				[]any{m.FolderID, trash.ID, t}); err != nil {
				return err
			}
		}
		msg, err = s.GetMessage(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// RestoreFromTrash moves a trashed message back to the folder it came from,
// or to the Inbox if that folder is gone, and clears the trash bookkeeping.
// It returns nil if the message does not exist.
func (s *Store) RestoreFromTrash(ctx context.Context, id int64) (*Message, error) {
	var msg *Message
	err := s.db.Transaction(ctx, func(ctx context.Context, tx db.Querier) error {
		m, err := s.getMessage(ctx, "id = ?", id)
		if err != nil || m == nil {
			return err
		}
		trash, err := s.GetFolderByType(ctx, db.FolderTrash)
		if err != nil {
			return err
		}
		if trash != nil && m.FolderID == trash.ID {
			var target *Folder
			if m.OriginalFolderID != nil {
				if target, err = s.GetFolder(ctx, *m.OriginalFolderID); err != nil {
					return err
				}
			}
			if target == nil {
				if target, err = s.GetFolderByType(ctx, db.FolderInbox); err != nil {
					return err
				}
				if target == nil {
					return fmt.Errorf("%w: no inbox", ErrFolderNotFound)
				}
			}
			if _, err := s.updateMessages(ctx, "restore", true, "id = ?", []any{id},
				[]string{"folder_id = ?", "original_folder_id = NULL", "deleted_at = NULL"},
				[]any{target.ID}); err != nil {
				return err
			}
		}
		msg, err = s.GetMessage(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// EmptyTrash permanently deletes every message in Trash and returns how
// many were deleted.
func (s *Store) EmptyTrash(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.Transaction(ctx, func(ctx context.Context, tx db.Querier) error {
		trash, err := s.GetFolderByType(ctx, db.FolderTrash)
		if err != nil || trash == nil {
			return err
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE user_id = ? AND folder_id = ?", s.userID, trash.ID)
		if err != nil {
			return fmt.Errorf("failed to empty trash: %w", err)
		}
		if n, err = res.RowsAffected(); err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		return db.RefreshFolderCounts(ctx, tx)
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metricMessageOps.WithLabelValues("empty_trash").Add(float64(n))
	}
	return n, nil
}

// MarkAsRead marks a message read. It reports false if the message does not exist.
func (s *Store) MarkAsRead(ctx context.Context, id int64) (bool, error) {
	return s.updateMessages(ctx, "mark_read", true, "id = ?", []any{id}, []string{"is_read = 1"}, nil)
}

// MarkAsUnread marks a message unread. It reports false if the message does not exist.
func (s *Store) MarkAsUnread(ctx context.Context, id int64) (bool, error) {
	return s.updateMessages(ctx, "mark_unread", true, "id = ?", []any{id}, []string{"is_read = 0"}, nil)
}

// MarkAllAsRead marks every unread message of a folder read and returns how
// many changed.
func (s *Store) MarkAllAsRead(ctx context.Context, folderID int64) (int64, error) {
	var n int64
	err := s.db.Transaction(ctx, func(ctx context.Context, tx db.Querier) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE messages SET is_read = 1, updated_at = ? WHERE user_id = ? AND folder_id = ? AND is_read = 0",
			now(), s.userID, folderID)
		if err != nil {
			return fmt.Errorf("failed to mark messages read: %w", err)
		}
		if n, err = res.RowsAffected(); err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		return db.RefreshFolderCounts(ctx, tx)
	})
	return n, err
}

// ToggleStarred flips the starred flag and returns the new value.
func (s *Store) ToggleStarred(ctx context.Context, id int64) (bool, error) {
	var starred bool
	err := s.db.Transaction(ctx, func(ctx context.Context, tx db.Querier) error {
		found, err := s.updateMessages(ctx, "star", false, "id = ?", []any{id},
			[]string{"is_starred = NOT is_starred"}, nil)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %d", ErrMessageNotFound, id)
		}
		return tx.QueryRowContext(ctx, "SELECT is_starred FROM messages WHERE id = ?", id).Scan(&starred)
	})
	return starred, err
}

// SetStarred sets the starred flag. It reports false if the message does not exist.
func (s *Store) SetStarred(ctx context.Context, id int64, starred bool) (bool, error) {
	return s.updateMessages(ctx, "star", false, "id = ?", []any{id}, []string{"is_starred = ?"}, []any{starred})
}

// SetImportant sets the important flag. It reports false if the message does not exist.
func (s *Store) SetImportant(ctx context.Context, id int64, important bool) (bool, error) {
	return s.updateMessages(ctx, "important", false, "id = ?", []any{id}, []string{"is_important = ?"}, []any{important})
}

// SetFlags sets the non-nil flags. It reports false if the message does not exist.
func (s *Store) SetFlags(ctx context.Context, id int64, f Flags) (bool, error) {
	return s.UpdateMessage(ctx, id, MessageUpdate{IsRead: f.IsRead, IsStarred: f.IsStarred, IsImportant: f.IsImportant})
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
