package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/felo/mailstore/internal/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const importEML = "From: Alice <alice@example.com>\r\n" +
	"To: bob@example.com, carol@example.com\r\n" +
	"Cc: dave@example.com\r\n" +
	"Subject: Import me\r\n" +
	"Date: Mon, 02 Jan 2006 15:04:05 +0100\r\n" +
	"Message-ID: <import@example.com>\r\n" +
	"X-Priority: 1\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=\"b1\"\r\n" +
	"\r\n" +
	"--b1\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Hello from the import test\r\n" +
	"--b1\r\n" +
	"Content-Type: text/plain; name=\"notes.txt\"\r\n" +
	"Content-Disposition: attachment; filename=\"notes.txt\"\r\n" +
	"\r\n" +
	"attached notes\r\n" +
	"--b1--\r\n"

func TestImportRFC822(t *testing.T) {
	s := SetupTestStore(t)
	ctx := context.Background()

	m, err := s.ImportRFC822(ctx, strings.NewReader(importEML), 0)
	require.NoError(t, err)

	got, err := s.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, MustFolder(t, s, db.FolderInbox).ID, got.FolderID)
	assert.Equal(t, "<import@example.com>", got.MessageID)
	assert.Equal(t, "alice@example.com", got.From)
	assert.Equal(t, []string{"bob@example.com", "carol@example.com"}, got.To)
	assert.Equal(t, []string{"dave@example.com"}, got.Cc)
	assert.Equal(t, "Import me", got.Subject)
	assert.Contains(t, got.BodyText, "Hello from the import test")
	assert.Equal(t, db.StatusReceived, got.Status)
	assert.Equal(t, db.PriorityUrgent, got.Priority)
	assert.False(t, got.IsRead)

	date := time.Date(2006, 1, 2, 14, 4, 5, 0, time.UTC)
	assert.True(t, date.Equal(got.ReceivedAt), got.ReceivedAt)
	require.NotNil(t, got.SentAt)
	assert.True(t, date.Equal(*got.SentAt))

	require.True(t, got.HasAttachments)
	require.Len(t, got.Attachments, 1)
	a := got.Attachments[0]
	assert.Equal(t, "notes.txt", a.Filename)
	assert.Equal(t, int64(len("attached notes")), a.Size)
	sum := sha256.Sum256([]byte("attached notes"))
	assert.Equal(t, hex.EncodeToString(sum[:]), a.Checksum)

	results, err := s.SearchMessages(ctx, "import", SearchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, m.ID, results[0].ID)
}

func TestImportRFC822IntoFolder(t *testing.T) {
	s := SetupTestStore(t)
	ctx := context.Background()

	archive := MustFolder(t, s, db.FolderArchive)
	raw := "From: x@example.com\r\nSubject: no date\r\n\r\nbody\r\n"
	before := time.Now().Add(-time.Second)

	m, err := s.ImportRFC822(ctx, strings.NewReader(raw), archive.ID)
	require.NoError(t, err)
	assert.Equal(t, archive.ID, m.FolderID)
	assert.Nil(t, m.SentAt)
	assert.True(t, m.ReceivedAt.After(before))
	assert.NotEmpty(t, m.MessageID)

	_, err = s.ImportRFC822(ctx, strings.NewReader(raw), 9999)
	assert.ErrorIs(t, err, ErrFolderNotFound)
}
