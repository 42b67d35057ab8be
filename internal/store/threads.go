package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// threadFor returns the thread a new message joins: the thread of the
// message it replies to, else of its nearest known reference, else a new one.
func (s *Store) threadFor(ctx context.Context, inReplyTo string, references []string) (string, error) {
	candidates := make([]string, 0, len(references)+1)
	if inReplyTo != "" {
		candidates = append(candidates, inReplyTo)
	}
	for i := len(references) - 1; i >= 0; i-- {
		candidates = append(candidates, references[i])
	}

	for _, id := range candidates {
		var thread string
		err := s.db.Querier(ctx).QueryRowContext(ctx,
			"SELECT thread_id FROM messages WHERE user_id = ? AND message_id = ? AND thread_id != '' ORDER BY id LIMIT 1",
			s.userID, id).Scan(&thread)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to look up thread: %w", err)
		}
		return thread, nil
	}
	return uuid.NewString(), nil
}

// GetThread returns the messages of a conversation, oldest first
func (s *Store) GetThread(ctx context.Context, threadID string) ([]*Message, error) {
	if threadID == "" {
		return []*Message{}, nil
	}
	return s.queryMessages(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE user_id = ? AND thread_id = ? ORDER BY received_at, id",
		s.userID, threadID)
}

// ListThreads returns the conversation roots of a folder, newest first, with
// their reply counts. A root is a message that replies to nothing, or to a
// message that is not stored. A folderID of 0 lists roots in every folder.
func (s *Store) ListThreads(ctx context.Context, folderID int64, limit, offset int) ([]*Thread, error) {
	if limit <= 0 {
		limit = -1
	}
	roots, err := s.queryMessages(ctx, `
		SELECT `+messageColumnsAs+`
		FROM messages m
		WHERE m.user_id = ?
		  AND (? = 0 OR m.folder_id = ?)
		  AND (m.in_reply_to = ''
		       OR NOT EXISTS (SELECT 1 FROM messages p WHERE p.user_id = m.user_id AND p.message_id = m.in_reply_to))
		ORDER BY m.received_at DESC, m.id DESC
		LIMIT ? OFFSET ?
	`, s.userID, folderID, folderID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}

	threads := make([]*Thread, 0, len(roots))
	for _, root := range roots {
		count, err := s.CountReplies(ctx, root.MessageID)
		if err != nil {
			return nil, err
		}
		threads = append(threads, &Thread{Message: root, ReplyCount: count})
	}
	return threads, nil
}

// CountReplies counts the direct and indirect replies to a Message-ID
func (s *Store) CountReplies(ctx context.Context, messageID string) (int, error) {
	if messageID == "" {
		return 0, nil
	}

	var count int
	err := s.db.Querier(ctx).QueryRowContext(ctx, `
		WITH RECURSIVE replies(message_id) AS (
			-- Base case: direct replies
			SELECT message_id FROM messages
			WHERE user_id = ? AND in_reply_to = ?

			UNION

			-- Recursive case: replies to replies; UNION stops on reply cycles
			SELECT m.message_id FROM messages m
			JOIN replies r ON m.in_reply_to = r.message_id
			WHERE m.user_id = ? AND r.message_id != ''
		)
		SELECT COUNT(*) FROM replies
	`, s.userID, messageID, s.userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count replies: %w", err)
	}
	return count, nil
}
