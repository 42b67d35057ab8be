package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/felo/mailstore/internal/db"
)

// SetConfig stores a setting, replacing any earlier value. A nil expiresAt
// never expires.
func (s *Store) SetConfig(ctx context.Context, key, value string, expiresAt *time.Time) error {
	t := now()
	_, err := s.db.Querier(ctx).ExecContext(ctx, `
		INSERT INTO config (user_id, key, value, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, key) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`, s.userID, key, value, db.NullTimeFrom(utcPtr(expiresAt)), t, t)
	if err != nil {
		return fmt.Errorf("failed to set config %s: %w", key, err)
	}
	return nil
}

// GetConfig returns a setting, or nil if it is unset or expired
func (s *Store) GetConfig(ctx context.Context, key string) (*ConfigEntry, error) {
	e := &ConfigEntry{}
	var expires, created, updated db.NullTime
	err := s.db.Querier(ctx).QueryRowContext(ctx, `
		SELECT key, value, expires_at, created_at, updated_at FROM config
		WHERE user_id = ? AND key = ? AND (expires_at IS NULL OR expires_at > ?)
	`, s.userID, key, now()).Scan(&e.Key, &e.Value, &expires, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get config %s: %w", key, err)
	}
	e.ExpiresAt = expires.Ptr()
	e.CreatedAt, e.UpdatedAt = created.Time, updated.Time
	return e, nil
}

// DeleteConfig removes a setting. It reports false if it was not set.
func (s *Store) DeleteConfig(ctx context.Context, key string) (bool, error) {
	res, err := s.db.Querier(ctx).ExecContext(ctx, "DELETE FROM config WHERE user_id = ? AND key = ?", s.userID, key)
	if err != nil {
		return false, fmt.Errorf("failed to delete config %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// CleanupExpiredConfig removes expired settings and returns how many were removed.
func (s *Store) CleanupExpiredConfig(ctx context.Context) (int64, error) {
	res, err := s.db.Querier(ctx).ExecContext(ctx,
		"DELETE FROM config WHERE expires_at IS NOT NULL AND expires_at <= ?", now())
	if err != nil {
		return 0, fmt.Errorf("failed to clean up config: %w", err)
	}
	return res.RowsAffected()
}
