// Package migrate applies forward-only schema migrations and performs the
// one-time import of the legacy JSON data set.
package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/felo/mailstore/internal/db"
)

// Migration is one forward step. Up runs inside a single transaction.
type Migration struct {
	Version     int
	Description string
	Up          func(ctx context.Context, q db.Querier, env *Env) error
}

// Env gives a migration step access to its surroundings. Actions registered
// with AfterCommit run only once the step's transaction has committed.
type Env struct {
	DataDir     string
	UserEmail   string
	UserName    string
	Log         *slog.Logger
	afterCommit []func() error
}

// AfterCommit registers fn to run after the step commits.
func (e *Env) AfterCommit(fn func() error) {
	e.afterCommit = append(e.afterCommit, fn)
}

// Migrations is the ordered list of known steps.
var Migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema and legacy JSON import",
		Up:          migrateInitial,
	},
}

// Latest is the version the code expects.
func Latest() int {
	return Migrations[len(Migrations)-1].Version
}

// Options configures a Migrator.
type Options struct {
	// DataDir holds the legacy messages.json and folders.json files.
	DataDir string
	// UserEmail and UserName describe the default user created on a fresh install.
	UserEmail string
	UserName  string
	Log       *slog.Logger
}

// Migrator tracks and advances the schema version.
type Migrator struct {
	db   *db.DB
	opts Options
	log  *slog.Logger
}

// New creates a Migrator.
func New(database *db.DB, opts Options) *Migrator {
	if opts.UserEmail == "" {
		opts.UserEmail = "user@localhost"
	}
	if opts.UserName == "" {
		opts.UserName = "Local User"
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Migrator{db: database, opts: opts, log: log.With(slog.String("pkg", "migrate"))}
}

func (m *Migrator) ensureVersionTable(ctx context.Context) error {
	if _, err := m.db.Querier(ctx).ExecContext(ctx, db.SchemaVersionTable); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}
	return nil
}

// SchemaVersion returns the highest applied version, 0 when none.
func (m *Migrator) SchemaVersion(ctx context.Context) (int, error) {
	if err := m.ensureVersionTable(ctx); err != nil {
		return 0, err
	}
	var version int
	err := m.db.Querier(ctx).QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}

// AppliedMigration is a row of the schema version log.
type AppliedMigration struct {
	Version     int
	Description string
	AppliedAt   time.Time
}

// History returns the schema version log, oldest first.
func (m *Migrator) History(ctx context.Context) ([]AppliedMigration, error) {
	if err := m.ensureVersionTable(ctx); err != nil {
		return nil, err
	}
	rows, err := m.db.Querier(ctx).QueryContext(ctx,
		"SELECT version, description, applied_at FROM schema_version ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}
	defer rows.Close()

	var history []AppliedMigration
	for rows.Next() {
		var a AppliedMigration
		var at db.NullTime
		if err := rows.Scan(&a.Version, &a.Description, &at); err != nil {
			return nil, fmt.Errorf("failed to scan migration: %w", err)
		}
		a.AppliedAt = at.Time
		history = append(history, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating migrations: %w", err)
	}
	return history, nil
}

// Run applies, in order, every step above the current version up to and
// including target. A target of 0 means Latest. It returns the number of
// steps applied; calling it again once the target is reached applies none.
//
// Each step is all-or-nothing. The first failing step is rolled back and its
// error returned, leaving the database at the last completed version.
func (m *Migrator) Run(ctx context.Context, target int) (int, error) {
	if target <= 0 {
		target = Latest()
	}
	if target > Latest() {
		return 0, fmt.Errorf("unknown schema version %d (latest is %d)", target, Latest())
	}

	current, err := m.SchemaVersion(ctx)
	if err != nil {
		return 0, err
	}
	if current >= target {
		return 0, nil
	}

	applied := 0
	for _, mig := range Migrations {
		if mig.Version <= current || mig.Version > target {
			continue
		}
		if err := m.apply(ctx, mig); err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}

func (m *Migrator) apply(ctx context.Context, mig Migration) error {
	log := m.log.With(slog.Int("version", mig.Version), slog.String("description", mig.Description))
	log.Info("applying migration")

	env := &Env{
		DataDir:   m.opts.DataDir,
		UserEmail: m.opts.UserEmail,
		UserName:  m.opts.UserName,
		Log:       log,
	}
	err := m.db.Transaction(ctx, func(ctx context.Context, tx db.Querier) error {
		if err := mig.Up(ctx, tx, env); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO schema_version (version, description, applied_at) VALUES (?, ?, ?)",
			mig.Version, mig.Description, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to record schema version: %w", err)
		}
		return nil
	})
	if err != nil {
		log.Error("migration failed", slog.Any("err", err))
		return fmt.Errorf("migration %d (%s): %w", mig.Version, mig.Description, err)
	}

	// Post-commit actions move files; a failure there does not undo the step.
	for _, fn := range env.afterCommit {
		if err := fn(); err != nil {
			log.Warn("post-migration action failed", slog.Any("err", err))
		}
	}
	log.Info("migration applied")
	return nil
}

func migrateInitial(ctx context.Context, q db.Querier, env *Env) error {
	if _, err := q.ExecContext(ctx, db.Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	userID, err := db.InsertUser(ctx, q, env.UserEmail, env.UserName)
	if err != nil {
		return err
	}

	imported, err := importLegacy(ctx, q, env, userID)
	if err != nil {
		return err
	}

	// System folders missing from the legacy data, or all of them on a
	// fresh install.
	if _, err := db.SeedDefaultFolders(ctx, q, userID); err != nil {
		return err
	}

	if imported.any() {
		env.Log.Info("legacy data imported",
			slog.Int("folders", imported.folders),
			slog.Int("messages", imported.messages),
			slog.Int("attachments", imported.attachments))
	} else {
		env.Log.Info("no legacy data, created default user and folders")
	}
	return nil
}
