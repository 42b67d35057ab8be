package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/felo/mailstore/internal/db"
)

const folderColumns = `id, user_id, name, folder_type, icon, color, sort_order, is_system,
	parent_id, message_count, unread_count, created_at, updated_at`

func scanFolder(row interface{ Scan(...any) error }) (*Folder, error) {
	f := &Folder{}
	var color sql.NullString
	var parent sql.NullInt64
	var created, updated db.NullTime
	err := row.Scan(&f.ID, &f.UserID, &f.Name, &f.Type, &f.Icon, &color, &f.SortOrder, &f.IsSystem,
		&parent, &f.MessageCount, &f.UnreadCount, &created, &updated)
	if err != nil {
		return nil, err
	}
	if color.Valid {
		f.Color = &color.String
	}
	if parent.Valid {
		f.ParentID = &parent.Int64
	}
	f.CreatedAt, f.UpdatedAt = created.Time, updated.Time
	return f, nil
}

func (s *Store) queryFolder(ctx context.Context, where string, args ...any) (*Folder, error) {
	f, err := scanFolder(s.db.Querier(ctx).QueryRowContext(ctx,
		"SELECT "+folderColumns+" FROM folders WHERE user_id = ? AND "+where,
		append([]any{s.userID}, args...)...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get folder: %w", err)
	}
	return f, nil
}

// GetFolder retrieves a folder by id
func (s *Store) GetFolder(ctx context.Context, id int64) (*Folder, error) {
	return s.queryFolder(ctx, "id = ?", id)
}

// GetFolderByName retrieves a folder by its unique name
func (s *Store) GetFolderByName(ctx context.Context, name string) (*Folder, error) {
	return s.queryFolder(ctx, "name = ?", name)
}

// GetFolderByType retrieves the folder of a non-custom type, or the first
// custom folder for FolderCustom.
func (s *Store) GetFolderByType(ctx context.Context, ft db.FolderType) (*Folder, error) {
	return s.queryFolder(ctx, "folder_type = ? ORDER BY id LIMIT 1", ft)
}

// ListFolders returns every folder in display order
func (s *Store) ListFolders(ctx context.Context) ([]*Folder, error) {
	rows, err := s.db.Querier(ctx).QueryContext(ctx,
		"SELECT "+folderColumns+" FROM folders WHERE user_id = ? ORDER BY sort_order, name", s.userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	defer rows.Close()

	folders := []*Folder{}
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan folder: %w", err)
		}
		folders = append(folders, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating folders: %w", err)
	}
	return folders, nil
}

// CreateFolder creates a folder. Names are unique per user, and so is every
// folder type except custom.
func (s *Store) CreateFolder(ctx context.Context, nf NewFolder) (*Folder, error) {
	name := strings.TrimSpace(nf.Name)
	if name == "" {
		return nil, ErrInvalidFolderName
	}
	ft := nf.Type
	if ft == "" {
		ft = db.FolderCustom
	}
	if !ft.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFolderType, ft)
	}
	if nf.ParentID != nil && db.SystemFolderTypes[ft] {
		return nil, fmt.Errorf("%w: a %s folder cannot be nested", ErrSystemFolder, ft)
	}

	var folder *Folder
	err := s.db.Transaction(ctx, func(ctx context.Context, tx db.Querier) error {
		existing, err := s.GetFolderByName(ctx, name)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: %q", ErrDuplicateFolder, name)
		}
		if ft != db.FolderCustom {
			existing, err := s.GetFolderByType(ctx, ft)
			if err != nil {
				return err
			}
			if existing != nil {
				return fmt.Errorf("%w: a %s folder exists", ErrDuplicateFolder, ft)
			}
		}
		if nf.ParentID != nil {
			parent, err := s.GetFolder(ctx, *nf.ParentID)
			if err != nil {
				return err
			}
			if parent == nil {
				return fmt.Errorf("%w: parent %d", ErrFolderNotFound, *nf.ParentID)
			}
		}

		t := now()
		res, err := tx.ExecContext(ctx, `
			INSERT INTO folders (user_id, name, folder_type, icon, color, sort_order, is_system, parent_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, s.userID, name, ft, nf.Icon, nf.Color, nf.SortOrder, db.SystemFolderTypes[ft], nf.ParentID, t, t)
		if err != nil {
			if db.IsUniqueViolation(err) {
				return fmt.Errorf("%w: %q", ErrDuplicateFolder, name)
			}
			return fmt.Errorf("failed to insert folder: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		folder, err = s.GetFolder(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return folder, nil
}

// RenameFolder renames a folder. It reports false if the folder does not exist.
func (s *Store) RenameFolder(ctx context.Context, id int64, name string) (bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return false, ErrInvalidFolderName
	}

	found := false
	err := s.db.Transaction(ctx, func(ctx context.Context, tx db.Querier) error {
		f, err := s.GetFolder(ctx, id)
		if err != nil || f == nil {
			return err
		}
		found = true
		if db.SystemFolderTypes[f.Type] {
			return fmt.Errorf("%w: %q", ErrSystemFolder, f.Name)
		}
		if f.Name == name {
			return nil
		}
		other, err := s.GetFolderByName(ctx, name)
		if err != nil {
			return err
		}
		if other != nil {
			return fmt.Errorf("%w: %q", ErrDuplicateFolder, name)
		}
		_, err = tx.ExecContext(ctx, "UPDATE folders SET name = ?, updated_at = ? WHERE id = ?", name, now(), id)
		if err != nil {
			if db.IsUniqueViolation(err) {
				return fmt.Errorf("%w: %q", ErrDuplicateFolder, name)
			}
			return fmt.Errorf("failed to rename folder: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

// UpdateFolder changes presentation attributes and nesting. It reports false
// if the folder does not exist.
func (s *Store) UpdateFolder(ctx context.Context, id int64, u FolderUpdate) (bool, error) {
	found := false
	err := s.db.Transaction(ctx, func(ctx context.Context, tx db.Querier) error {
		f, err := s.GetFolder(ctx, id)
		if err != nil || f == nil {
			return err
		}
		found = true

		sets := []string{"updated_at = ?"}
		args := []any{now()}
		if u.Icon != nil {
			sets = append(sets, "icon = ?")
			args = append(args, *u.Icon)
		}
		if u.Color != nil {
			sets = append(sets, "color = ?")
			args = append(args, *u.Color)
		}
		if u.SortOrder != nil {
			sets = append(sets, "sort_order = ?")
			args = append(args, *u.SortOrder)
		}
		switch {
		case u.ClearParent:
			sets = append(sets, "parent_id = NULL")
		case u.ParentID != nil:
			if db.SystemFolderTypes[f.Type] {
				return fmt.Errorf("%w: %q cannot be nested", ErrSystemFolder, f.Name)
			}
			if err := s.checkParent(ctx, id, *u.ParentID); err != nil {
				return err
			}
			sets = append(sets, "parent_id = ?")
			args = append(args, *u.ParentID)
		}

		args = append(args, id)
		if _, err := tx.ExecContext(ctx, "UPDATE folders SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...); err != nil {
			return fmt.Errorf("failed to update folder: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

// checkParent verifies that parentID exists and is neither id nor one of
// its descendants.
func (s *Store) checkParent(ctx context.Context, id, parentID int64) error {
	if parentID == id {
		return fmt.Errorf("%w: folder %d cannot be its own parent", ErrInvalidParent, id)
	}
	parent, err := s.GetFolder(ctx, parentID)
	if err != nil {
		return err
	}
	if parent == nil {
		return fmt.Errorf("%w: parent %d", ErrFolderNotFound, parentID)
	}

	var cycle bool
	err = s.db.Querier(ctx).QueryRowContext(ctx, `
		WITH RECURSIVE ancestors(id) AS (
			SELECT parent_id FROM folders WHERE id = ?
			UNION
			SELECT f.parent_id FROM folders f JOIN ancestors a ON f.id = a.id
		)
		SELECT EXISTS(SELECT 1 FROM ancestors WHERE id = ?)
	`, parentID, id).Scan(&cycle)
	if err != nil {
		return fmt.Errorf("failed to check folder ancestry: %w", err)
	}
	if cycle {
		return fmt.Errorf("%w: folder %d is an ancestor of %d", ErrInvalidParent, id, parentID)
	}
	return nil
}

// DeleteFolder deletes a folder together with its subfolders and their
// messages. It reports false if the folder does not exist.
func (s *Store) DeleteFolder(ctx context.Context, id int64) (bool, error) {
	found := false
	err := s.db.Transaction(ctx, func(ctx context.Context, tx db.Querier) error {
		f, err := s.GetFolder(ctx, id)
		if err != nil || f == nil {
			return err
		}
		found = true
		if db.SystemFolderTypes[f.Type] {
			return fmt.Errorf("%w: %q", ErrSystemFolder, f.Name)
		}
		nested, err := s.nestedSystemFolder(ctx, id)
		if err != nil {
			return err
		}
		if nested != "" {
			return fmt.Errorf("%w: %q contains %q", ErrSystemFolder, f.Name, nested)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM folders WHERE id = ?", id); err != nil {
			return fmt.Errorf("failed to delete folder: %w", err)
		}
		return db.RefreshFolderCounts(ctx, tx)
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

// nestedSystemFolder returns the name of a system folder below id, or "" if
// there is none. Deleting id would cascade to it.
func (s *Store) nestedSystemFolder(ctx context.Context, id int64) (string, error) {
	types := make([]string, 0, len(db.SystemFolderTypes))
	args := []any{id}
	for ft := range db.SystemFolderTypes {
		types = append(types, "?")
		args = append(args, ft)
	}

	var name string
	err := s.db.Querier(ctx).QueryRowContext(ctx, `
		WITH RECURSIVE descendants(id) AS (
			SELECT id FROM folders WHERE parent_id = ?
			UNION
			SELECT f.id FROM folders f JOIN descendants d ON f.parent_id = d.id
		)
		SELECT f.name FROM folders f JOIN descendants d ON f.id = d.id
		WHERE f.folder_type IN (`+strings.Join(types, ", ")+`)
		ORDER BY f.id LIMIT 1
	`, args...).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to check subfolders: %w", err)
	}
	return name, nil
}

// RefreshFolderCounts recomputes the message and unread counts of every
// folder from the message rows.
func (s *Store) RefreshFolderCounts(ctx context.Context) error {
	return db.RefreshFolderCounts(ctx, s.db.Querier(ctx))
}

// folderID resolves the folder of a new message, defaulting to the Inbox.
func (s *Store) folderID(ctx context.Context, id int64) (int64, error) {
	if id == 0 {
		inbox, err := s.GetFolderByType(ctx, db.FolderInbox)
		if err != nil {
			return 0, err
		}
		if inbox == nil {
			return 0, fmt.Errorf("%w: no inbox", ErrFolderNotFound)
		}
		return inbox.ID, nil
	}
	f, err := s.GetFolder(ctx, id)
	if err != nil {
		return 0, err
	}
	if f == nil {
		return 0, fmt.Errorf("%w: %d", ErrFolderNotFound, id)
	}
	return f.ID, nil
}
