package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/felo/mailstore/internal/db"
)

// BlacklistToken records a revoked credential. Blacklisting an id again
// replaces the earlier entry. A nil expiresAt keeps the entry until removed.
func (s *Store) BlacklistToken(ctx context.Context, tokenID, reason string, expiresAt *time.Time) error {
	_, err := s.db.Querier(ctx).ExecContext(ctx, `
		INSERT OR REPLACE INTO token_blacklist (token_id, user_id, reason, expires_at, revoked_at)
		VALUES (?, ?, ?, ?, ?)
	`, tokenID, s.userID, reason, db.NullTimeFrom(utcPtr(expiresAt)), now())
	if err != nil {
		return fmt.Errorf("failed to blacklist token: %w", err)
	}
	return nil
}

// IsTokenBlacklisted reports whether tokenID has been revoked
func (s *Store) IsTokenBlacklisted(ctx context.Context, tokenID string) (bool, error) {
	var one int
	err := s.db.Querier(ctx).QueryRowContext(ctx,
		"SELECT 1 FROM token_blacklist WHERE token_id = ?", tokenID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check token blacklist: %w", err)
	}
	return true, nil
}

// CleanupExpiredTokens removes entries past their expiry and returns how
// many were removed.
func (s *Store) CleanupExpiredTokens(ctx context.Context) (int64, error) {
	res, err := s.db.Querier(ctx).ExecContext(ctx,
		"DELETE FROM token_blacklist WHERE expires_at IS NOT NULL AND expires_at <= ?", now())
	if err != nil {
		return 0, fmt.Errorf("failed to clean up token blacklist: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		s.log.Info("expired tokens removed", slog.Int64("count", n))
	}
	return n, nil
}
