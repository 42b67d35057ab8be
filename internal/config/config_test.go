package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, ".mailstore", filepath.Base(cfg.DataDir))
	assert.Equal(t, filepath.Join(cfg.DataDir, "mailstore.db"), cfg.DBPath())
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Equal(t, "info", cfg.LogLevel)

	opts := cfg.PoolOptions()
	assert.Equal(t, 8, opts.MaxOpenConns)
	assert.Equal(t, 5*time.Second, opts.BusyTimeout)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mailstore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /var/lib/mail
db_file: local.db
log_level: debug
pool:
  max_open_conns: 2
  busy_timeout: 250ms
user:
  email: me@example.com
queue:
  max_attempts: 5
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/mail", cfg.DataDir)
	assert.Equal(t, "/var/lib/mail/local.db", cfg.DBPath())
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 2, cfg.Pool.MaxOpenConns)
	assert.Equal(t, 250*time.Millisecond, cfg.Pool.BusyTimeout)
	assert.Equal(t, "me@example.com", cfg.User.Email)
	assert.Equal(t, 5, cfg.Queue.MaxAttempts)

	// Unset keys keep their defaults.
	assert.Equal(t, Default().User.DisplayName, cfg.User.DisplayName)
	assert.Equal(t, Default().Pool.CacheSizeKB, cfg.Pool.CacheSizeKB)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("MAILSTORE_DB_FILE", "/tmp/override.db")
	t.Setenv("MAILSTORE_POOL_MAX_OPEN_CONNS", "3")
	t.Setenv("MAILSTORE_DATA_DIR", "~/mail")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/override.db", cfg.DBPath())
	assert.Equal(t, 3, cfg.Pool.MaxOpenConns)

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "mail"), cfg.DataDir)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
