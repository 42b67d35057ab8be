package store

import (
	"context"
	"fmt"
	"time"

	"github.com/felo/mailstore/internal/db"
)

// GetStatistics summarizes messages, attachments, contacts and the queue
func (s *Store) GetStatistics(ctx context.Context) (*Statistics, error) {
	st := &Statistics{}
	q := s.db.Querier(ctx)

	err := q.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN is_read = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN is_starred = 1 THEN 1 ELSE 0 END), 0)
		FROM messages WHERE user_id = ?
	`, s.userID).Scan(&st.TotalMessages, &st.UnreadMessages, &st.StarredMessages)
	if err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}

	err = q.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(a.size), 0)
		FROM attachments a JOIN messages m ON m.id = a.message_id
		WHERE m.user_id = ?
	`, s.userID).Scan(&st.AttachmentCount, &st.AttachmentSize)
	if err != nil {
		return nil, fmt.Errorf("failed to count attachments: %w", err)
	}

	err = q.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM folders WHERE user_id = ?),
			(SELECT COUNT(*) FROM contacts WHERE user_id = ?),
			(SELECT COUNT(*) FROM delivery_queue WHERE status = ? AND `+queueOwned+`)
	`, s.userID, s.userID, db.QueuePending, s.userID).Scan(&st.TotalFolders, &st.TotalContacts, &st.QueuePending)
	if err != nil {
		return nil, fmt.Errorf("failed to count folders and contacts: %w", err)
	}

	st.DatabaseSize = s.fileSize()
	return st, nil
}

// GetMessageVolume buckets messages received and sent since the given time
// by day or by month. Received counts messages with status received by
// their received time; sent counts messages with status sent by their sent
// time.
func (s *Store) GetMessageVolume(ctx context.Context, granularity string, since time.Time) ([]VolumeBucket, error) {
	var format string
	switch granularity {
	case VolumeDaily, "":
		format = "%Y-%m-%d"
	case VolumeMonthly:
		format = "%Y-%m"
	default:
		return nil, fmt.Errorf("unknown volume granularity %q", granularity)
	}
	since = since.UTC()

	rows, err := s.db.Querier(ctx).QueryContext(ctx, `
		SELECT period, SUM(received), SUM(sent) FROM (
			SELECT strftime(?, received_at) AS period, 1 AS received, 0 AS sent
			FROM messages WHERE user_id = ? AND status = ? AND received_at >= ?
			UNION ALL
			SELECT strftime(?, COALESCE(sent_at, received_at)), 0, 1
			FROM messages WHERE user_id = ? AND status = ? AND COALESCE(sent_at, received_at) >= ?
		)
		WHERE period IS NOT NULL
		GROUP BY period
		ORDER BY period
	`, format, s.userID, db.StatusReceived, since, format, s.userID, db.StatusSent, since)
	if err != nil {
		return nil, fmt.Errorf("failed to get message volume: %w", err)
	}
	defer rows.Close()

	buckets := []VolumeBucket{}
	for rows.Next() {
		var b VolumeBucket
		if err := rows.Scan(&b.Period, &b.Received, &b.Sent); err != nil {
			return nil, fmt.Errorf("failed to scan volume: %w", err)
		}
		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating volume: %w", err)
	}
	return buckets, nil
}
