package db

import (
	"context"
	"path/filepath"
	"testing"
)

// SetupTestDB opens a database in a fresh temporary directory and creates
// the schema. A file is used rather than :memory: because every pooled
// connection must see the same database.
func SetupTestDB(t *testing.T) *DB {
	t.Helper()

	database, err := Open(filepath.Join(t.TempDir(), "test.db"), PoolOptions{MaxOpenConns: 4}, nil)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	ctx := context.Background()
	if _, err := database.Querier(ctx).ExecContext(ctx, SchemaVersionTable+Schema); err != nil {
		database.Close()
		t.Fatalf("Failed to create test schema: %v", err)
	}

	return database
}

// CleanupTestDB closes the test database
func CleanupTestDB(t *testing.T, db *DB) {
	t.Helper()

	if err := db.Close(); err != nil {
		t.Errorf("Failed to close test database: %v", err)
	}
}

// InsertTestUser inserts a user and returns its id.
func InsertTestUser(t *testing.T, db *DB, email string) int64 {
	t.Helper()

	ctx := context.Background()
	res, err := db.Querier(ctx).ExecContext(ctx, "INSERT INTO users (email) VALUES (?)", email)
	if err != nil {
		t.Fatalf("Failed to insert test user: %v", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("Failed to get test user id: %v", err)
	}
	return id
}
