package store

import (
	"context"
	"testing"

	"github.com/felo/mailstore/internal/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSeedsDefaults(t *testing.T) {
	s := SetupTestStore(t)
	ctx := context.Background()

	user, err := s.GetUser(ctx, s.UserID())
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "test@example.com", user.Email)

	folders, err := s.ListFolders(ctx)
	require.NoError(t, err)
	var names []string
	for _, f := range folders {
		names = append(names, f.Name)
		assert.True(t, f.IsSystem)
	}
	assert.Equal(t, []string{"Inbox", "Sent", "Drafts", "Trash", "Spam", "Archive"}, names)
}

func TestCreateFolder(t *testing.T) {
	s := SetupTestStore(t)
	ctx := context.Background()

	f, err := s.CreateFolder(ctx, NewFolder{Name: "  Projects ", Icon: "folder", SortOrder: 10})
	require.NoError(t, err)
	assert.Equal(t, "Projects", f.Name)
	assert.Equal(t, db.FolderCustom, f.Type)
	assert.False(t, f.IsSystem)
	assert.Nil(t, f.ParentID)

	got, err := s.GetFolderByName(ctx, "Projects")
	require.NoError(t, err)
	assert.Equal(t, f.ID, got.ID)

	_, err = s.CreateFolder(ctx, NewFolder{Name: "Projects"})
	assert.ErrorIs(t, err, ErrDuplicateFolder)

	_, err = s.CreateFolder(ctx, NewFolder{Name: "   "})
	assert.ErrorIs(t, err, ErrInvalidFolderName)

	_, err = s.CreateFolder(ctx, NewFolder{Name: "Second inbox", Type: db.FolderInbox})
	assert.ErrorIs(t, err, ErrDuplicateFolder)

	_, err = s.CreateFolder(ctx, NewFolder{Name: "Odd", Type: "odd"})
	assert.ErrorIs(t, err, ErrInvalidFolderType)

	missing := int64(9999)
	_, err = s.CreateFolder(ctx, NewFolder{Name: "Orphan", ParentID: &missing})
	assert.ErrorIs(t, err, ErrFolderNotFound)
}

func TestGetFolderNotFound(t *testing.T) {
	s := SetupTestStore(t)

	f, err := s.GetFolder(context.Background(), 9999)
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestRenameFolder(t *testing.T) {
	s := SetupTestStore(t)
	ctx := context.Background()

	f, err := s.CreateFolder(ctx, NewFolder{Name: "Old"})
	require.NoError(t, err)
	_, err = s.CreateFolder(ctx, NewFolder{Name: "Taken"})
	require.NoError(t, err)

	ok, err := s.RenameFolder(ctx, f.ID, "New")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetFolder(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, "New", got.Name)

	_, err = s.RenameFolder(ctx, f.ID, "Taken")
	assert.ErrorIs(t, err, ErrDuplicateFolder)

	_, err = s.RenameFolder(ctx, f.ID, "")
	assert.ErrorIs(t, err, ErrInvalidFolderName)

	inbox := MustFolder(t, s, db.FolderInbox)
	_, err = s.RenameFolder(ctx, inbox.ID, "Mail")
	assert.ErrorIs(t, err, ErrSystemFolder)

	ok, err = s.RenameFolder(ctx, 9999, "Nothing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteFolder(t *testing.T) {
	s := SetupTestStore(t)
	ctx := context.Background()

	for _, ft := range []db.FolderType{db.FolderInbox, db.FolderSent, db.FolderDrafts, db.FolderTrash, db.FolderSpam} {
		f := MustFolder(t, s, ft)
		_, err := s.DeleteFolder(ctx, f.ID)
		assert.ErrorIs(t, err, ErrSystemFolder, ft)
	}

	parent, err := s.CreateFolder(ctx, NewFolder{Name: "Parent"})
	require.NoError(t, err)
	child, err := s.CreateFolder(ctx, NewFolder{Name: "Child", ParentID: &parent.ID})
	require.NoError(t, err)
	msg := CreateTestMessage(t, s, child.ID, "nested")

	ok, err := s.DeleteFolder(ctx, parent.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	// Subfolders and their messages go with it.
	got, err := s.GetFolder(ctx, child.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
	m, err := s.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Nil(t, m)

	ok, err = s.DeleteFolder(ctx, parent.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	// Archive is seeded as a system folder but may be removed.
	archive := MustFolder(t, s, db.FolderArchive)
	ok, err = s.DeleteFolder(ctx, archive.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

// TestSystemFoldersStayTopLevel tests that a system folder can neither be
// nested nor removed through its parent
func TestSystemFoldersStayTopLevel(t *testing.T) {
	s := SetupTestStore(t)
	ctx := context.Background()

	container, err := s.CreateFolder(ctx, NewFolder{Name: "Container"})
	require.NoError(t, err)
	inbox := MustFolder(t, s, db.FolderInbox)

	_, err = s.UpdateFolder(ctx, inbox.ID, FolderUpdate{ParentID: &container.ID})
	assert.ErrorIs(t, err, ErrSystemFolder)
	got, err := s.GetFolder(ctx, inbox.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ParentID)

	_, err = s.CreateFolder(ctx, NewFolder{Name: "Nested trash", Type: db.FolderTrash, ParentID: &container.ID})
	assert.ErrorIs(t, err, ErrSystemFolder)

	// Archive is not protected and may be nested.
	archive := MustFolder(t, s, db.FolderArchive)
	ok, err := s.UpdateFolder(ctx, archive.ID, FolderUpdate{ParentID: &container.ID})
	require.NoError(t, err)
	assert.True(t, ok)

	// A nested system folder left by older data blocks deletion of its ancestors.
	outer, err := s.CreateFolder(ctx, NewFolder{Name: "Outer"})
	require.NoError(t, err)
	inner, err := s.CreateFolder(ctx, NewFolder{Name: "Inner", ParentID: &outer.ID})
	require.NoError(t, err)
	spam := MustFolder(t, s, db.FolderSpam)
	_, err = s.DB().Querier(ctx).ExecContext(ctx, "UPDATE folders SET parent_id = ? WHERE id = ?", inner.ID, spam.ID)
	require.NoError(t, err)

	_, err = s.DeleteFolder(ctx, outer.ID)
	assert.ErrorIs(t, err, ErrSystemFolder)
	got, err = s.GetFolder(ctx, spam.ID)
	require.NoError(t, err)
	assert.NotNil(t, got)

	ok, err = s.DeleteFolder(ctx, container.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	m, err := s.CreateMessage(ctx, NewMessage{Subject: "still delivered"})
	require.NoError(t, err)
	assert.Equal(t, inbox.ID, m.FolderID)
}

func TestUpdateFolderNesting(t *testing.T) {
	s := SetupTestStore(t)
	ctx := context.Background()

	a, err := s.CreateFolder(ctx, NewFolder{Name: "A"})
	require.NoError(t, err)
	b, err := s.CreateFolder(ctx, NewFolder{Name: "B", ParentID: &a.ID})
	require.NoError(t, err)

	icon, color, order := "star", "#ff0000", 3
	ok, err := s.UpdateFolder(ctx, b.ID, FolderUpdate{Icon: &icon, Color: &color, SortOrder: &order})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetFolder(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "star", got.Icon)
	require.NotNil(t, got.Color)
	assert.Equal(t, "#ff0000", *got.Color)
	assert.Equal(t, 3, got.SortOrder)
	require.NotNil(t, got.ParentID)
	assert.Equal(t, a.ID, *got.ParentID)

	_, err = s.UpdateFolder(ctx, a.ID, FolderUpdate{ParentID: &a.ID})
	assert.ErrorIs(t, err, ErrInvalidParent)

	_, err = s.UpdateFolder(ctx, a.ID, FolderUpdate{ParentID: &b.ID})
	assert.ErrorIs(t, err, ErrInvalidParent)

	ok, err = s.UpdateFolder(ctx, b.ID, FolderUpdate{ClearParent: true})
	require.NoError(t, err)
	assert.True(t, ok)
	got, err = s.GetFolder(ctx, b.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ParentID)

	ok, err = s.UpdateFolder(ctx, 9999, FolderUpdate{Icon: &icon})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFolderCountConsistency(t *testing.T) {
	s := SetupTestStore(t)
	ctx := context.Background()

	inbox := MustFolder(t, s, db.FolderInbox)
	projects, err := s.CreateFolder(ctx, NewFolder{Name: "Projects"})
	require.NoError(t, err)

	var ids []int64
	for i := 0; i < 5; i++ {
		ids = append(ids, CreateTestMessage(t, s, inbox.ID, "m").ID)
	}
	_, err = s.MarkAsRead(ctx, ids[0])
	require.NoError(t, err)
	_, err = s.MoveMessage(ctx, ids[1], projects.ID)
	require.NoError(t, err)
	_, err = s.DeleteMessage(ctx, ids[2])
	require.NoError(t, err)
	_, err = s.MoveToTrash(ctx, ids[3])
	require.NoError(t, err)

	folders, err := s.ListFolders(ctx)
	require.NoError(t, err)
	for _, f := range folders {
		var total, unread int
		q := s.DB().Querier(ctx)
		require.NoError(t, q.QueryRowContext(ctx,
			"SELECT COUNT(*), COALESCE(SUM(is_read = 0), 0) FROM messages WHERE folder_id = ?", f.ID).Scan(&total, &unread))
		assert.Equal(t, total, f.MessageCount, f.Name)
		assert.Equal(t, unread, f.UnreadCount, f.Name)
	}

	got, err := s.GetFolder(ctx, inbox.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.MessageCount)
	assert.Equal(t, 1, got.UnreadCount)
}
