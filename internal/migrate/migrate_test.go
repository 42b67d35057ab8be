package migrate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/felo/mailstore/internal/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMigrator(t *testing.T) (*Migrator, *db.DB, string) {
	t.Helper()

	dir := t.TempDir()
	database, err := db.Open(filepath.Join(dir, "mail.db"), db.PoolOptions{MaxOpenConns: 4}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	return New(database, Options{DataDir: dir}), database, dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func queryInt(t *testing.T, database *db.DB, query string, args ...any) int {
	t.Helper()
	ctx := context.Background()
	var n int
	require.NoError(t, database.Querier(ctx).QueryRowContext(ctx, query, args...).Scan(&n))
	return n
}

func TestFreshInstall(t *testing.T) {
	m, database, _ := setupMigrator(t)
	ctx := context.Background()

	applied, err := m.Run(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	version, err := m.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, Latest(), version)

	assert.Equal(t, 1, queryInt(t, database, "SELECT COUNT(*) FROM users"))

	rows, err := database.Querier(ctx).QueryContext(ctx,
		"SELECT name, folder_type, is_system FROM folders ORDER BY sort_order")
	require.NoError(t, err)
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name, ft string
		var system bool
		require.NoError(t, rows.Scan(&name, &ft, &system))
		assert.True(t, system, name)
		names = append(names, name)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"Inbox", "Sent", "Drafts", "Trash", "Spam", "Archive"}, names)
}

func TestRunIsIdempotent(t *testing.T) {
	m, database, _ := setupMigrator(t)
	ctx := context.Background()

	_, err := m.Run(ctx, 0)
	require.NoError(t, err)

	applied, err := m.Run(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, applied)

	history, err := m.History(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 1, history[0].Version)
	assert.False(t, history[0].AppliedAt.IsZero())

	assert.Equal(t, 1, queryInt(t, database, "SELECT COUNT(*) FROM users"))
	assert.Equal(t, 6, queryInt(t, database, "SELECT COUNT(*) FROM folders"))
}

func TestRunUnknownTarget(t *testing.T) {
	m, _, _ := setupMigrator(t)

	_, err := m.Run(context.Background(), Latest()+1)
	assert.Error(t, err)
}

func TestLegacyImport(t *testing.T) {
	m, database, dir := setupMigrator(t)
	ctx := context.Background()

	writeFile(t, filepath.Join(dir, LegacyFoldersFile), `[
		{"id": "f1", "name": "Inbox", "folder_type": "inbox", "is_system": true, "parent_id": 7},
		{"id": 7, "name": "Projects", "folder_type": "custom"},
		{"id": "f3", "name": "Clients", "folder_type": "custom", "parent_id": 7},
		{"id": "f4", "name": "Projects", "folder_type": "custom"},
		{"id": "f5", "name": "Weird", "folder_type": "nonsense"}
	]`)
	writeFile(t, filepath.Join(dir, LegacyMessagesFile), `[
		{
			"id": "m1", "folder_id": "f1", "message_id": "<a@x>", "from_address": "a@x.com",
			"to_addresses": "b@x.com, c@x.com", "subject": "Hello", "body_text": "first body",
			"received_at": "2024-03-01T10:00:00Z",
			"attachments": [{"filename": "a.pdf", "content_type": "application/pdf", "size": 12}]
		},
		{
			"id": "m2", "folder_id": 7, "message_id": "<b@x>", "from_address": "b@x.com",
			"to_addresses": ["a@x.com"], "subject": "Plan", "is_read": true, "priority": 1
		},
		{"id": "m3", "folder_id": "gone", "subject": "Orphan"}
	]`)

	applied, err := m.Run(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	// Projects deduplicated, defaults added for the missing system types.
	assert.Equal(t, 1, queryInt(t, database, "SELECT COUNT(*) FROM folders WHERE name = 'Projects'"))
	assert.Equal(t, 1, queryInt(t, database, "SELECT COUNT(*) FROM folders WHERE folder_type = 'inbox'"))
	assert.Equal(t, 1, queryInt(t, database, "SELECT COUNT(*) FROM folders WHERE folder_type = 'trash'"))
	assert.Equal(t, "custom", queryString(t, database, "SELECT folder_type FROM folders WHERE name = 'Weird'"))
	assert.Equal(t, queryInt(t, database, "SELECT id FROM folders WHERE name = 'Projects'"),
		queryInt(t, database, "SELECT parent_id FROM folders WHERE name = 'Clients'"))
	// A system folder is never nested, even when the legacy data says so.
	assert.Equal(t, 1, queryInt(t, database, "SELECT COUNT(*) FROM folders WHERE folder_type = 'inbox' AND parent_id IS NULL"))

	assert.Equal(t, 3, queryInt(t, database, "SELECT COUNT(*) FROM messages"))
	assert.Equal(t, "Inbox", queryString(t, database,
		"SELECT f.name FROM messages m JOIN folders f ON f.id = m.folder_id WHERE m.subject = 'Orphan'"))
	assert.Equal(t, `["b@x.com","c@x.com"]`, queryString(t, database,
		"SELECT to_addresses FROM messages WHERE subject = 'Hello'"))
	assert.Equal(t, "urgent", queryString(t, database, "SELECT priority FROM messages WHERE subject = 'Plan'"))
	assert.Equal(t, 1, queryInt(t, database, "SELECT has_attachments FROM messages WHERE subject = 'Hello'"))
	assert.Equal(t, 1, queryInt(t, database, "SELECT COUNT(*) FROM attachments"))

	// Counts reflect the imported rows.
	assert.Equal(t, 2, queryInt(t, database, "SELECT message_count FROM folders WHERE folder_type = 'inbox'"))
	assert.Equal(t, 2, queryInt(t, database, "SELECT unread_count FROM folders WHERE folder_type = 'inbox'"))
	assert.Equal(t, 0, queryInt(t, database, "SELECT unread_count FROM folders WHERE name = 'Projects'"))

	// Imported content is searchable.
	assert.Equal(t, 1, queryInt(t, database, "SELECT COUNT(*) FROM messages_fts WHERE messages_fts MATCH 'first'"))

	// Sources moved to the backup directory.
	_, err = os.Stat(filepath.Join(dir, LegacyFoldersFile))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, LegacyMessagesFile))
	assert.True(t, os.IsNotExist(err))
	backups, err := filepath.Glob(filepath.Join(dir, BackupDir, "*.json.*"))
	require.NoError(t, err)
	assert.Len(t, backups, 2)
}

func TestLegacyImportMalformed(t *testing.T) {
	m, database, dir := setupMigrator(t)
	ctx := context.Background()

	path := filepath.Join(dir, LegacyMessagesFile)
	writeFile(t, path, `[{"id": "m1", "subject": `)

	_, err := m.Run(ctx, 0)
	require.NoError(t, err)

	assert.Equal(t, 0, queryInt(t, database, "SELECT COUNT(*) FROM messages"))
	assert.Equal(t, 6, queryInt(t, database, "SELECT COUNT(*) FROM folders"))

	_, err = os.Stat(path)
	assert.NoError(t, err, "malformed file stays in place")
}

func TestFailingStepRollsBack(t *testing.T) {
	m, database, _ := setupMigrator(t)
	ctx := context.Background()

	boom := errors.New("boom")
	saved := Migrations
	Migrations = append(append([]Migration(nil), saved...), Migration{
		Version:     2,
		Description: "broken",
		Up: func(ctx context.Context, q db.Querier, env *Env) error {
			if _, err := q.ExecContext(ctx, "CREATE TABLE extra (id INTEGER)"); err != nil {
				return err
			}
			return boom
		},
	})
	t.Cleanup(func() { Migrations = saved })

	applied, err := m.Run(ctx, 0)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, applied)

	version, err := m.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
	assert.Equal(t, 0, queryInt(t, database,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'extra'"))
}

func TestFailingFirstStepLeavesEmptyDatabase(t *testing.T) {
	m, database, _ := setupMigrator(t)
	ctx := context.Background()

	saved := Migrations
	Migrations = []Migration{{
		Version:     1,
		Description: "broken initial",
		Up: func(ctx context.Context, q db.Querier, env *Env) error {
			if err := migrateInitial(ctx, q, env); err != nil {
				return err
			}
			return errors.New("late failure")
		},
	}}
	t.Cleanup(func() { Migrations = saved })

	_, err := m.Run(ctx, 0)
	require.Error(t, err)

	version, err := m.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, version)
	assert.Equal(t, 0, queryInt(t, database,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'messages'"))
}

func TestLegacyPriority(t *testing.T) {
	tests := map[string]db.MessagePriority{
		"":       db.PriorityNormal,
		"HIGH":   db.PriorityHigh,
		"low":    db.PriorityLow,
		"urgent": db.PriorityUrgent,
		"1":      db.PriorityUrgent,
		"2":      db.PriorityHigh,
		"3":      db.PriorityNormal,
		"5":      db.PriorityLow,
		"bogus":  db.PriorityNormal,
	}
	for in, want := range tests {
		assert.Equal(t, want, legacyPriority(in), in)
	}
}

func queryString(t *testing.T, database *db.DB, query string, args ...any) string {
	t.Helper()
	ctx := context.Background()
	var s string
	require.NoError(t, database.Querier(ctx).QueryRowContext(ctx, query, args...).Scan(&s))
	return s
}
