// Package store is the storage façade of the mail client: every read and
// write of folders, messages, attachments, contacts, the delivery queue,
// revoked tokens and settings goes through a Store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/felo/mailstore/internal/db"
	"github.com/felo/mailstore/internal/migrate"
)

// DefaultMaxAttempts is the delivery attempt limit of new queue items.
const DefaultMaxAttempts = 3

// Options configures Open.
type Options struct {
	// Path is the database file.
	Path string
	// DataDir holds legacy JSON files to import; it defaults to the
	// directory of Path.
	DataDir string
	Pool    db.PoolOptions
	// UserEmail and UserName describe the user created on a fresh install,
	// and UserEmail selects the user the store acts for.
	UserEmail   string
	UserName    string
	MaxAttempts int
	Log         *slog.Logger
}

// Store is an explicitly constructed storage handle. It is safe for
// concurrent use.
type Store struct {
	db          *db.DB
	log         *slog.Logger
	userID      int64
	maxAttempts int
}

// Open opens the database at opts.Path, brings its schema up to date and
// resolves the user the store acts for.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Path == "" {
		return nil, errors.New("database path is required")
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	opts.Log = log

	database, err := db.Open(opts.Path, opts.Pool, log)
	if err != nil {
		return nil, err
	}

	s, err := New(ctx, database, opts)
	if err != nil {
		database.Close()
		return nil, err
	}
	return s, nil
}

// New builds a Store on an open database, running pending migrations first.
func New(ctx context.Context, database *db.DB, opts Options) (*Store, error) {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	dataDir := opts.DataDir
	if dataDir == "" {
		dataDir = filepath.Dir(database.Pool().Path())
	}

	m := migrate.New(database, migrate.Options{
		DataDir:   dataDir,
		UserEmail: opts.UserEmail,
		UserName:  opts.UserName,
		Log:       log,
	})
	if _, err := m.Run(ctx, 0); err != nil {
		return nil, err
	}

	s := &Store{
		db:          database,
		log:         log.With(slog.String("pkg", "store")),
		maxAttempts: opts.MaxAttempts,
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = DefaultMaxAttempts
	}

	user, err := s.resolveUser(ctx, opts.UserEmail)
	if err != nil {
		return nil, err
	}
	s.userID = user.ID
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the transactional wrapper, for maintenance and for grouping
// several store calls into one transaction with DB().Transaction.
func (s *Store) DB() *db.DB {
	return s.db
}

// UserID returns the id of the user the store acts for.
func (s *Store) UserID() int64 {
	return s.userID
}

func (s *Store) resolveUser(ctx context.Context, email string) (*User, error) {
	if email != "" {
		u, err := s.GetUserByEmail(ctx, email)
		if err != nil {
			return nil, err
		}
		if u != nil {
			return u, nil
		}
	}
	u, err := s.DefaultUser(ctx)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	return u, nil
}

const userColumns = "id, email, display_name, is_active, created_at, updated_at"

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	u := &User{}
	var created, updated db.NullTime
	if err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.IsActive, &created, &updated); err != nil {
		return nil, err
	}
	u.CreatedAt, u.UpdatedAt = created.Time, updated.Time
	return u, nil
}

// CreateUser adds a user with the default folder set.
func (s *Store) CreateUser(ctx context.Context, email, displayName string) (*User, error) {
	var user *User
	err := s.db.Transaction(ctx, func(ctx context.Context, tx db.Querier) error {
		id, err := db.InsertUser(ctx, tx, email, displayName)
		if err != nil {
			return err
		}
		if _, err := db.SeedDefaultFolders(ctx, tx, id); err != nil {
			return err
		}
		user, err = s.GetUser(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetUser retrieves a user by id
func (s *Store) GetUser(ctx context.Context, id int64) (*User, error) {
	u, err := scanUser(s.db.Querier(ctx).QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// GetUserByEmail retrieves a user by address
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	u, err := scanUser(s.db.Querier(ctx).QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email = ?", email))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// DefaultUser returns the first active user, the implicit owner on a
// single-user install.
func (s *Store) DefaultUser(ctx context.Context) (*User, error) {
	u, err := scanUser(s.db.Querier(ctx).QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE is_active = 1 ORDER BY id LIMIT 1"))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get default user: %w", err)
	}
	return u, nil
}

// Vacuum reclaims all free space.
func (s *Store) Vacuum(ctx context.Context) error {
	return s.db.Vacuum(ctx)
}

// IncrementalVacuum reclaims up to pages free pages, all when pages <= 0.
func (s *Store) IncrementalVacuum(ctx context.Context, pages int) error {
	return s.db.IncrementalVacuum(ctx, pages)
}

// Optimize updates planner statistics and compacts the full-text index.
func (s *Store) Optimize(ctx context.Context) error {
	return s.db.Optimize(ctx)
}

// IntegrityCheck reports whether the database file is healthy.
func (s *Store) IntegrityCheck(ctx context.Context) (bool, error) {
	return s.db.IntegrityCheck(ctx)
}

// fileSize returns the size of the database file plus its write-ahead log.
func (s *Store) fileSize() int64 {
	var total int64
	path := s.db.Pool().Path()
	for _, p := range []string{path, path + "-wal"} {
		if info, err := os.Stat(p); err == nil {
			total += info.Size()
		}
	}
	return total
}

func now() time.Time {
	return time.Now().UTC()
}
