package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/felo/mailstore/internal/db"
)

// SetupTestStore opens a migrated store on a fresh temporary directory.
func SetupTestStore(t *testing.T) *Store {
	t.Helper()

	dir := t.TempDir()
	s, err := Open(context.Background(), Options{
		Path:      filepath.Join(dir, "mail.db"),
		DataDir:   dir,
		Pool:      db.PoolOptions{MaxOpenConns: 4},
		UserEmail: "test@example.com",
		UserName:  "Test User",
	})
	if err != nil {
		t.Fatalf("Failed to open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Failed to close test store: %v", err)
		}
	})
	return s
}

// MustFolder returns the folder of the given type or fails the test.
func MustFolder(t *testing.T, s *Store, ft db.FolderType) *Folder {
	t.Helper()

	f, err := s.GetFolderByType(context.Background(), ft)
	if err != nil || f == nil {
		t.Fatalf("Failed to get %s folder: %v", ft, err)
	}
	return f
}

// CreateTestMessage stores a message with the given subject in folderID.
func CreateTestMessage(t *testing.T, s *Store, folderID int64, subject string) *Message {
	t.Helper()

	m, err := s.CreateMessage(context.Background(), NewMessage{
		FolderID: folderID,
		From:     "sender@example.com",
		To:       []string{"test@example.com"},
		Subject:  subject,
		BodyText: "body of " + subject,
	})
	if err != nil {
		t.Fatalf("Failed to create test message: %v", err)
	}
	return m
}
