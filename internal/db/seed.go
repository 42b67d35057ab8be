package db

import (
	"context"
	"fmt"
	"time"
)

// SeedDefaultFolders inserts every default folder whose type the user does
// not have yet, and returns the ids by type.
func SeedDefaultFolders(ctx context.Context, q Querier, userID int64) (map[FolderType]int64, error) {
	ids := make(map[FolderType]int64, len(DefaultFolders))

	rows, err := q.QueryContext(ctx,
		"SELECT id, folder_type FROM folders WHERE user_id = ? AND folder_type != ? ORDER BY id",
		userID, FolderCustom)
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	for rows.Next() {
		var id int64
		var ft FolderType
		if err := rows.Scan(&id, &ft); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan folder: %w", err)
		}
		if _, ok := ids[ft]; !ok {
			ids[ft] = id
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating folders: %w", err)
	}

	now := time.Now().UTC()
	for _, f := range DefaultFolders {
		if _, ok := ids[f.Type]; ok {
			continue
		}
		name := f.Name
		// A custom folder may already use the default name.
		var taken bool
		if err := q.QueryRowContext(ctx,
			"SELECT EXISTS(SELECT 1 FROM folders WHERE user_id = ? AND name = ?)", userID, name).Scan(&taken); err != nil {
			return nil, fmt.Errorf("failed to check folder name: %w", err)
		}
		if taken {
			name = f.Name + " (" + string(f.Type) + ")"
		}
		res, err := q.ExecContext(ctx, `
			INSERT INTO folders (user_id, name, folder_type, icon, sort_order, is_system, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, userID, name, f.Type, f.Icon, f.SortOrder, f.IsSystem, now, now)
		if err != nil {
			return nil, fmt.Errorf("failed to insert folder %s: %w", f.Name, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("failed to get last insert id: %w", err)
		}
		ids[f.Type] = id
	}
	return ids, nil
}

// InsertUser creates a user row.
func InsertUser(ctx context.Context, q Querier, email, displayName string) (int64, error) {
	now := time.Now().UTC()
	res, err := q.ExecContext(ctx, `
		INSERT INTO users (email, display_name, is_active, created_at, updated_at)
		VALUES (?, ?, 1, ?, ?)
	`, email, displayName, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to insert user: %w", err)
	}
	return res.LastInsertId()
}

// RefreshFolderCounts recomputes message_count and unread_count of every
// folder from the message rows.
func RefreshFolderCounts(ctx context.Context, q Querier) error {
	_, err := q.ExecContext(ctx, `
		UPDATE folders SET
			message_count = (SELECT COUNT(*) FROM messages m WHERE m.folder_id = folders.id),
			unread_count = (SELECT COUNT(*) FROM messages m WHERE m.folder_id = folders.id AND m.is_read = 0)
	`)
	if err != nil {
		return fmt.Errorf("failed to refresh folder counts: %w", err)
	}
	return nil
}
