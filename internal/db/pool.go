package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// PoolOptions is the fixed engine configuration applied to every connection.
type PoolOptions struct {
	MaxOpenConns int
	BusyTimeout  time.Duration
	CacheSizeKB  int   // page cache size, passed to PRAGMA cache_size as -KB
	MmapSize     int64 // bytes of memory-mapped I/O
}

// DefaultPoolOptions returns the settings used when none are configured.
func DefaultPoolOptions() PoolOptions {
	return PoolOptions{
		MaxOpenConns: 8,
		BusyTimeout:  5 * time.Second,
		CacheSizeKB:  64 * 1024,
		MmapSize:     256 << 20,
	}
}

func (o PoolOptions) withDefaults() PoolOptions {
	d := DefaultPoolOptions()
	if o.MaxOpenConns <= 0 {
		o.MaxOpenConns = d.MaxOpenConns
	}
	if o.BusyTimeout <= 0 {
		o.BusyTimeout = d.BusyTimeout
	}
	if o.CacheSizeKB <= 0 {
		o.CacheSizeKB = d.CacheSizeKB
	}
	if o.MmapSize <= 0 {
		o.MmapSize = d.MmapSize
	}
	return o
}

// dsn builds the driver connection string. The driver runs every _pragma
// once, when it opens a new connection, so each pooled connection carries the
// same configuration for its whole life.
func dsn(path string, o PoolOptions) string {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout("+strconv.FormatInt(o.BusyTimeout.Milliseconds(), 10)+")")
	// auto_vacuum only takes effect before the first table exists.
	q.Add("_pragma", "auto_vacuum(INCREMENTAL)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "mmap_size("+strconv.FormatInt(o.MmapSize, 10)+")")
	q.Add("_pragma", "cache_size(-"+strconv.Itoa(o.CacheSizeKB)+")")
	q.Add("_pragma", "synchronous(NORMAL)")
	// BEGIN IMMEDIATE: take the write lock at transaction start.
	q.Set("_txlock", "immediate")
	q.Set("_time_format", "sqlite")
	return path + "?" + q.Encode()
}

// Pool owns every connection to one database file. No other component opens
// or closes connections.
type Pool struct {
	db   *sql.DB
	path string
	opts PoolOptions
}

// OpenPool opens the database file at path, creating it and its directory if
// needed. It fails fast: the file is opened and configured before returning.
func OpenPool(path string, opts PoolOptions) (*Pool, error) {
	opts = opts.withDefaults()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite", dsn(path, opts))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	sqlDB.SetMaxIdleConns(opts.MaxOpenConns)
	sqlDB.SetConnMaxIdleTime(0)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	return &Pool{db: sqlDB, path: path, opts: opts}, nil
}

// Path returns the database file path.
func (p *Pool) Path() string {
	return p.path
}

// Options returns the effective engine configuration.
func (p *Pool) Options() PoolOptions {
	return p.opts
}

// Stats exposes the underlying pool statistics.
func (p *Pool) Stats() sql.DBStats {
	return p.db.Stats()
}

// Close closes every connection. Checked-out connections are closed when
// they are released.
func (p *Pool) Close() error {
	return p.db.Close()
}

type connKey struct{}

// Conn is a connection checked out of the pool. A Conn is never shared
// between goroutines that do not share its context.
type Conn struct {
	*sql.Conn
	owned bool
}

// Close releases the connection back to the pool. A Conn obtained from a
// context that already carried a connection is borrowed, and Close on it is
// a no-op; the outer scope releases it.
func (c *Conn) Close() error {
	if !c.owned {
		return nil
	}
	c.owned = false
	return c.Conn.Close()
}

// Discard closes the underlying driver connection instead of returning it
// to the pool, so the next checkout opens a fresh connection.
func (c *Conn) Discard() error {
	if !c.owned {
		return nil
	}
	c.owned = false
	// Reporting ErrBadConn from Raw makes database/sql close the connection.
	err := c.Conn.Raw(func(any) error { return driver.ErrBadConn })
	if errors.Is(err, driver.ErrBadConn) {
		return nil
	}
	return err
}

// Conn checks out a connection. If ctx already carries a connection (see
// WithConn) that same connection is returned as a borrowed handle.
func (p *Pool) Conn(ctx context.Context) (*Conn, error) {
	if c, ok := ctx.Value(connKey{}).(*sql.Conn); ok {
		return &Conn{Conn: c}, nil
	}
	c, err := p.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return &Conn{Conn: c, owned: true}, nil
}

// WithConn runs fn with a connection bound to the returned context. Nested
// Conn and WithConn calls using that context reuse the connection. The
// connection is released on every exit path, including panics.
func (p *Pool) WithConn(ctx context.Context, fn func(ctx context.Context, c *Conn) error) error {
	c, err := p.Conn(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(context.WithValue(ctx, connKey{}, c.Conn), c)
}

func connFromContext(ctx context.Context) *sql.Conn {
	c, _ := ctx.Value(connKey{}).(*sql.Conn)
	return c
}

// IsBusy reports whether err is a lock contention error that outlasted the
// busy timeout.
func IsBusy(err error) bool {
	var coded interface{ Code() int }
	if errors.As(err, &coded) {
		// Extended codes keep the primary code in the low byte.
		code := coded.Code() & 0xff
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	}
	return false
}

// IsUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY
// constraint failure.
func IsUniqueViolation(err error) bool {
	var coded interface{ Code() int }
	if errors.As(err, &coded) {
		code := coded.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}
