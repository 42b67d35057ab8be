package app

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felo/mailstore/internal/migrate"
	"github.com/felo/mailstore/internal/store"
)

// run executes the command line against dataDir and returns its output.
func run(t *testing.T, dataDir string, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--data-dir", dataDir, "--log-level", "warn"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, t.TempDir(), "version")
	require.NoError(t, err)
	assert.Contains(t, out, "mailstore dev")
}

func TestMigrate(t *testing.T) {
	dir := t.TempDir()

	out, err := run(t, dir, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, fmt.Sprintf("Applied 1 migration(s); schema version %d", migrate.Latest()))
	assert.FileExists(t, filepath.Join(dir, "mailstore.db"))

	out, err = run(t, dir, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "Applied 0 migration(s)")

	_, err = run(t, dir, "migrate", "--target", "99")
	assert.Error(t, err)
}

func TestFoldersAndImport(t *testing.T) {
	dir := t.TempDir()
	mail := filepath.Join(t.TempDir(), "mail")
	require.NoError(t, os.MkdirAll(mail, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(mail, "a.eml"), []byte(
		"From: a@example.com\r\nSubject: Lighthouse report\r\nMessage-ID: <cli@example.com>\r\n\r\nkeepers log\r\n"), 0o644))

	out, err := run(t, dir, "import", mail, "--workers", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "Found 1, imported 1, skipped 0, failed 0")

	out, err = run(t, dir, "folders")
	require.NoError(t, err)
	assert.Contains(t, out, "Inbox")
	assert.Contains(t, out, "Archive")

	out, err = run(t, dir, "search", "lighthouse")
	require.NoError(t, err)
	assert.Contains(t, out, "Lighthouse report")

	out, err = run(t, dir, "search", "lighthouse", "--folder", "Archive")
	require.NoError(t, err)
	assert.NotContains(t, out, "Lighthouse report")

	_, err = run(t, dir, "search", "lighthouse", "--folder", "Nowhere")
	assert.ErrorIs(t, err, store.ErrFolderNotFound)

	out, err = run(t, dir, "stats")
	require.NoError(t, err)
	assert.Regexp(t, `Messages:\s+1`, out)

	out, err = run(t, dir, "stats", "--volume", "monthly", "--days", "100000")
	require.NoError(t, err)
	assert.Contains(t, out, "PERIOD")
}

func TestQueueAndCleanup(t *testing.T) {
	dir := t.TempDir()

	out, err := run(t, dir, "queue")
	require.NoError(t, err)
	assert.Contains(t, out, "pending=0")

	out, err = run(t, dir, "cleanup")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed 0 token(s), 0 setting(s), 0 queue item(s)")
}

func TestMaintenance(t *testing.T) {
	dir := t.TempDir()

	out, err := run(t, dir, "maintenance", "check")
	require.NoError(t, err)
	assert.Contains(t, out, "ok")

	_, err = run(t, dir, "maintenance", "vacuum")
	require.NoError(t, err)
	_, err = run(t, dir, "maintenance", "vacuum", "--incremental", "10")
	require.NoError(t, err)
	_, err = run(t, dir, "maintenance", "optimize")
	require.NoError(t, err)
}

func TestInvalidLogLevel(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--data-dir", t.TempDir(), "--log-level", "loud", "version"})
	assert.Error(t, cmd.Execute())
}
