package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// Querier is implemented by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB is the transactional wrapper over a Pool.
type DB struct {
	pool *Pool
	log  *slog.Logger
}

// New wraps pool. A nil logger means slog.Default().
func New(pool *Pool, log *slog.Logger) *DB {
	if log == nil {
		log = slog.Default()
	}
	return &DB{pool: pool, log: log}
}

// Open opens a pool on dbPath and wraps it.
func Open(dbPath string, opts PoolOptions, log *slog.Logger) (*DB, error) {
	pool, err := OpenPool(dbPath, opts)
	if err != nil {
		return nil, err
	}
	return New(pool, log), nil
}

// Pool returns the underlying connection pool.
func (db *DB) Pool() *Pool {
	return db.pool
}

// Close closes the pool.
func (db *DB) Close() error {
	return db.pool.Close()
}

type txKey struct{}

// InTransaction reports whether ctx carries an open transaction.
func InTransaction(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*sql.Tx)
	return ok
}

// Querier returns the transaction carried by ctx, else the connection
// carried by ctx, else the pool itself.
func (db *DB) Querier(ctx context.Context) Querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	if c := connFromContext(ctx); c != nil {
		return c
	}
	return db.pool.db
}

// Cursor runs fn with a query handle that is valid only during the call.
// Outside a transaction a connection is checked out for the duration and
// released afterwards, also when fn fails or panics.
func (db *DB) Cursor(ctx context.Context, fn func(ctx context.Context, q Querier) error) error {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx, tx)
	}
	return db.pool.WithConn(ctx, func(ctx context.Context, c *Conn) error {
		return fn(ctx, c.Conn)
	})
}

// Transaction runs fn inside a write transaction. The write lock is taken
// when the transaction begins. The transaction commits when fn returns nil
// and rolls back when fn returns an error or panics.
//
// A ctx that already carries a transaction joins it: fn runs in the outer
// transaction and neither commit nor rollback happens here.
func (db *DB) Transaction(ctx context.Context, fn func(ctx context.Context, tx Querier) error) (err error) {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx, tx)
	}

	var tx *sql.Tx
	if c := connFromContext(ctx); c != nil {
		tx, err = c.BeginTx(ctx, nil)
	} else {
		tx, err = db.pool.db.BeginTx(ctx, nil)
	}
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx), tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.log.Error("rollback failed", slog.Any("err", rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Vacuum rebuilds the database file, returning all free pages to the
// filesystem.
func (db *DB) Vacuum(ctx context.Context) error {
	if InTransaction(ctx) {
		return fmt.Errorf("failed to vacuum: cannot vacuum inside a transaction")
	}
	if _, err := db.pool.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("failed to vacuum: %w", err)
	}
	db.log.Info("database vacuumed", slog.String("path", db.pool.path))
	return nil
}

// IncrementalVacuum releases up to pages free pages; pages <= 0 releases all.
func (db *DB) IncrementalVacuum(ctx context.Context, pages int) error {
	query := "PRAGMA incremental_vacuum"
	if pages > 0 {
		query = fmt.Sprintf("PRAGMA incremental_vacuum(%d)", pages)
	}
	rows, err := db.Querier(ctx).QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to run incremental vacuum: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
	}
	return rows.Err()
}

// Optimize refreshes planner statistics and merges the full-text index
// segments.
func (db *DB) Optimize(ctx context.Context) error {
	stmts := []string{
		"INSERT INTO " + FTSTable + "(" + FTSTable + ") VALUES('optimize')",
		"ANALYZE",
		"PRAGMA optimize",
	}
	for _, stmt := range stmts {
		if _, err := db.Querier(ctx).ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to optimize database: %w", err)
		}
	}
	db.log.Info("database optimized", slog.String("path", db.pool.path))
	return nil
}

// IntegrityCheck runs PRAGMA integrity_check and reports whether the
// database is healthy. Problems are logged, never repaired.
func (db *DB) IntegrityCheck(ctx context.Context) (bool, error) {
	rows, err := db.Querier(ctx).QueryContext(ctx, "PRAGMA integrity_check")
	if err != nil {
		return false, fmt.Errorf("failed to check integrity: %w", err)
	}
	defer rows.Close()

	ok := true
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return false, fmt.Errorf("failed to scan integrity result: %w", err)
		}
		if line != "ok" {
			ok = false
			db.log.Warn("integrity problem", slog.String("detail", line))
		}
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("error iterating integrity results: %w", err)
	}
	return ok, nil
}
