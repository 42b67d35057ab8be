package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/felo/mailstore/internal/db"
)

const queueColumns = `id, message_id, recipient, status, priority, attempts, max_attempts,
	created_at, updated_at, last_attempt_at, completed_at, error_message, metadata`

// queueFrom lists the states each transition may start from.
var queueFrom = map[db.QueueStatus][]db.QueueStatus{
	db.QueueProcessing: {db.QueuePending},
	db.QueueCompleted:  {db.QueuePending, db.QueueProcessing},
	db.QueueFailed:     {db.QueuePending, db.QueueProcessing},
	db.QueueDeadLetter: {db.QueuePending, db.QueueProcessing, db.QueueFailed},
	db.QueuePending:    {db.QueueFailed, db.QueueDeadLetter},
}

func canTransition(from, to db.QueueStatus) bool {
	for _, s := range queueFrom[to] {
		if s == from {
			return true
		}
	}
	return false
}

func scanQueueItem(row interface{ Scan(...any) error }) (*QueueItem, error) {
	q := &QueueItem{}
	var created, updated, lastAttempt, completed db.NullTime
	var metadata string
	err := row.Scan(&q.ID, &q.MessageID, &q.Recipient, &q.Status, &q.Priority, &q.Attempts, &q.MaxAttempts,
		&created, &updated, &lastAttempt, &completed, &q.ErrorMessage, &metadata)
	if err != nil {
		return nil, err
	}
	q.CreatedAt, q.UpdatedAt = created.Time, updated.Time
	q.LastAttemptAt = lastAttempt.Ptr()
	q.CompletedAt = completed.Ptr()
	if q.Metadata, err = decodeMetadata(metadata); err != nil {
		return nil, err
	}
	return q, nil
}

// Queue items belong to the user owning their message.
const queueOwned = "message_id IN (SELECT id FROM messages WHERE user_id = ?)"

func (s *Store) queryQueue(ctx context.Context, where string, args ...any) ([]*QueueItem, error) {
	rows, err := s.db.Querier(ctx).QueryContext(ctx,
		"SELECT "+queueColumns+" FROM delivery_queue WHERE "+queueOwned+" AND "+where,
		append([]any{s.userID}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query delivery queue: %w", err)
	}
	defer rows.Close()

	items := []*QueueItem{}
	for rows.Next() {
		q, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		items = append(items, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating delivery queue: %w", err)
	}
	return items, nil
}

// CreateQueueItem queues a message for delivery to one recipient. The item
// starts pending with no attempts.
func (s *Store) CreateQueueItem(ctx context.Context, nq NewQueueItem) (*QueueItem, error) {
	maxAttempts := nq.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.maxAttempts
	}
	metadata, err := encodeMetadata(nq.Metadata)
	if err != nil {
		return nil, err
	}

	var item *QueueItem
	err = s.db.Transaction(ctx, func(ctx context.Context, tx db.Querier) error {
		m, err := s.getMessage(ctx, "id = ?", nq.MessageID)
		if err != nil {
			return err
		}
		if m == nil {
			return fmt.Errorf("%w: %d", ErrMessageNotFound, nq.MessageID)
		}

		t := now()
		res, err := tx.ExecContext(ctx, `
			INSERT INTO delivery_queue (message_id, recipient, status, priority, attempts, max_attempts, created_at, updated_at, metadata)
			VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?)
		`, nq.MessageID, nq.Recipient, db.QueuePending, nq.Priority, maxAttempts, t, t, metadata)
		if err != nil {
			return fmt.Errorf("failed to insert queue item: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		item, err = s.GetQueueItem(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	metricQueueTransitions.WithLabelValues(string(db.QueuePending)).Inc()
	return item, nil
}

// GetQueueItem retrieves a queue item by id
func (s *Store) GetQueueItem(ctx context.Context, id int64) (*QueueItem, error) {
	items, err := s.queryQueue(ctx, "id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items[0], nil
}

// ListQueueItems returns queue items oldest first, all of them when status is empty
func (s *Store) ListQueueItems(ctx context.Context, status db.QueueStatus) ([]*QueueItem, error) {
	if status == "" {
		return s.queryQueue(ctx, "1 = 1 ORDER BY id")
	}
	return s.queryQueue(ctx, "status = ? ORDER BY id", status)
}

// GetPendingQueueItems returns up to limit pending items, highest priority
// first and in creation order within a priority.
func (s *Store) GetPendingQueueItems(ctx context.Context, limit int) ([]*QueueItem, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.queryQueue(ctx, "status = ? ORDER BY priority DESC, id LIMIT ?", db.QueuePending, limit)
}

// transition moves item id to status to after checking the state machine.
// update returns the extra columns to set given the current item. It
// returns nil if the item does not exist.
func (s *Store) transition(ctx context.Context, id int64, to db.QueueStatus, update func(q *QueueItem) (db.QueueStatus, []string, []any)) (*QueueItem, error) {
	var item *QueueItem
	var entered db.QueueStatus
	err := s.db.Transaction(ctx, func(ctx context.Context, tx db.Querier) error {
		q, err := s.GetQueueItem(ctx, id)
		if err != nil || q == nil {
			return err
		}
		if !canTransition(q.Status, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, q.Status, to)
		}

		status, sets, args := update(q)
		sets = append([]string{"status = ?", "updated_at = ?"}, sets...)
		args = append([]any{status, now()}, args...)
		args = append(args, id)
		if _, err := tx.ExecContext(ctx,
			"UPDATE delivery_queue SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...); err != nil {
			return fmt.Errorf("failed to update queue item: %w", err)
		}
		entered = status
		item, err = s.GetQueueItem(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if item != nil {
		metricQueueTransitions.WithLabelValues(string(entered)).Inc()
		s.log.Debug("queue transition", slog.Int64("item", id), slog.String("status", string(entered)))
	}
	return item, nil
}

// MarkQueueItemProcessing starts a delivery attempt
func (s *Store) MarkQueueItemProcessing(ctx context.Context, id int64) (*QueueItem, error) {
	return s.transition(ctx, id, db.QueueProcessing, func(q *QueueItem) (db.QueueStatus, []string, []any) {
		return db.QueueProcessing, []string{"last_attempt_at = ?"}, []any{now()}
	})
}

// MarkQueueItemCompleted records a successful delivery
func (s *Store) MarkQueueItemCompleted(ctx context.Context, id int64) (*QueueItem, error) {
	return s.transition(ctx, id, db.QueueCompleted, func(q *QueueItem) (db.QueueStatus, []string, []any) {
		return db.QueueCompleted, []string{"completed_at = ?", "error_message = ''"}, []any{now()}
	})
}

// MarkQueueItemFailed records a failed attempt. The item returns to pending
// for a retry until its attempts reach max_attempts, then it is failed.
func (s *Store) MarkQueueItemFailed(ctx context.Context, id int64, errMsg string) (*QueueItem, error) {
	return s.transition(ctx, id, db.QueueFailed, func(q *QueueItem) (db.QueueStatus, []string, []any) {
		status := db.QueuePending
		if q.Attempts+1 >= q.MaxAttempts {
			status = db.QueueFailed
		}
		return status, []string{"attempts = attempts + 1", "error_message = ?", "last_attempt_at = ?"},
			[]any{errMsg, now()}
	})
}

// MoveToDeadLetter gives up on an item regardless of its attempts
func (s *Store) MoveToDeadLetter(ctx context.Context, id int64, reason string) (*QueueItem, error) {
	return s.transition(ctx, id, db.QueueDeadLetter, func(q *QueueItem) (db.QueueStatus, []string, []any) {
		return db.QueueDeadLetter, []string{"error_message = ?"}, []any{reason}
	})
}

// RetryQueueItem puts a failed or dead-lettered item back to pending with
// its attempts and error cleared
func (s *Store) RetryQueueItem(ctx context.Context, id int64) (*QueueItem, error) {
	return s.transition(ctx, id, db.QueuePending, func(q *QueueItem) (db.QueueStatus, []string, []any) {
		return db.QueuePending, []string{"attempts = 0", "error_message = ''", "completed_at = NULL"}, nil
	})
}

// DeleteQueueItem removes a queue item. It reports false if it does not exist.
func (s *Store) DeleteQueueItem(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.Querier(ctx).ExecContext(ctx,
		"DELETE FROM delivery_queue WHERE "+queueOwned+" AND id = ?", s.userID, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete queue item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// QueueStats counts queue items per status
func (s *Store) QueueStats(ctx context.Context) (map[db.QueueStatus]int, error) {
	rows, err := s.db.Querier(ctx).QueryContext(ctx,
		"SELECT status, COUNT(*) FROM delivery_queue WHERE "+queueOwned+" GROUP BY status", s.userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue stats: %w", err)
	}
	defer rows.Close()

	stats := map[db.QueueStatus]int{
		db.QueuePending:    0,
		db.QueueProcessing: 0,
		db.QueueCompleted:  0,
		db.QueueFailed:     0,
		db.QueueDeadLetter: 0,
	}
	for rows.Next() {
		var status db.QueueStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan queue stats: %w", err)
		}
		stats[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue stats: %w", err)
	}
	return stats, nil
}

// PurgeCompletedQueueItems deletes items completed more than olderThan ago
// and returns how many were deleted.
func (s *Store) PurgeCompletedQueueItems(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.db.Querier(ctx).ExecContext(ctx,
		"DELETE FROM delivery_queue WHERE "+queueOwned+" AND status = ? AND completed_at <= ?",
		s.userID, db.QueueCompleted, now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to purge queue: %w", err)
	}
	return res.RowsAffected()
}
