package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateContact(t *testing.T) {
	s := SetupTestStore(t)
	ctx := context.Background()

	c, err := s.CreateContact(ctx, NewContact{Email: " Alice@Example.com ", Name: "Alice", Organization: "Acme"})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", c.Email)
	assert.Equal(t, "Alice", c.Name)
	assert.Equal(t, "Acme", c.Organization)
	assert.Equal(t, 0, c.ContactFrequency)
	assert.Nil(t, c.LastContacted)

	got, err := s.GetContactByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, c.ID, got.ID)

	_, err = s.CreateContact(ctx, NewContact{Email: "alice@EXAMPLE.com"})
	assert.ErrorIs(t, err, ErrDuplicateContact)

	_, err = s.CreateContact(ctx, NewContact{Email: "  "})
	assert.ErrorIs(t, err, ErrInvalidEmail)

	missing, err := s.GetContact(ctx, 9999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestUpdateAndDeleteContact(t *testing.T) {
	s := SetupTestStore(t)
	ctx := context.Background()

	c, err := s.CreateContact(ctx, NewContact{Email: "bob@example.com", Name: "Bob"})
	require.NoError(t, err)

	phone, fav := "555-0100", true
	ok, err := s.UpdateContact(ctx, c.ID, ContactUpdate{Phone: &phone, IsFavorite: &fav})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetContact(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "555-0100", got.Phone)
	assert.True(t, got.IsFavorite)
	assert.Equal(t, "Bob", got.Name)

	ok, err = s.UpdateContact(ctx, 9999, ContactUpdate{Phone: &phone})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.DeleteContact(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.DeleteContact(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecordContactUsage(t *testing.T) {
	s := SetupTestStore(t)
	ctx := context.Background()

	c, err := s.RecordContactUsage(ctx, "Carol@example.com", "")
	require.NoError(t, err)
	assert.Equal(t, 1, c.ContactFrequency)
	assert.NotNil(t, c.LastContacted)
	assert.Equal(t, "", c.Name)

	c, err = s.RecordContactUsage(ctx, "carol@example.com", "Carol")
	require.NoError(t, err)
	assert.Equal(t, 2, c.ContactFrequency)
	assert.Equal(t, "Carol", c.Name)

	// A known name is not overwritten.
	c, err = s.RecordContactUsage(ctx, "carol@example.com", "Someone Else")
	require.NoError(t, err)
	assert.Equal(t, 3, c.ContactFrequency)
	assert.Equal(t, "Carol", c.Name)

	_, err = s.RecordContactUsage(ctx, "", "Nobody")
	assert.ErrorIs(t, err, ErrInvalidEmail)
}

func TestSearchContactsRanking(t *testing.T) {
	s := SetupTestStore(t)
	ctx := context.Background()

	rare, err := s.CreateContact(ctx, NewContact{Email: "dan@example.com", Name: "Dan"})
	require.NoError(t, err)
	frequent, err := s.RecordContactUsage(ctx, "dana@example.com", "Dana")
	require.NoError(t, err)
	_, err = s.RecordContactUsage(ctx, "dana@example.com", "")
	require.NoError(t, err)
	fav := true
	favorite, err := s.CreateContact(ctx, NewContact{Email: "zed@example.com", Name: "Daniel Zed", IsFavorite: fav})
	require.NoError(t, err)
	_, err = s.CreateContact(ctx, NewContact{Email: "erin@example.com", Name: "Erin"})
	require.NoError(t, err)
	_, err = s.CreateContact(ctx, NewContact{Email: "under_score@example.com"})
	require.NoError(t, err)

	found, err := s.SearchContacts(ctx, "Da", 0)
	require.NoError(t, err)
	require.Len(t, found, 3)
	assert.Equal(t, favorite.ID, found[0].ID)
	assert.Equal(t, frequent.ID, found[1].ID)
	assert.Equal(t, rare.ID, found[2].ID)

	limited, err := s.SearchContacts(ctx, "da", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, favorite.ID, limited[0].ID)

	// LIKE wildcards in the prefix match literally.
	wild, err := s.SearchContacts(ctx, "%", 0)
	require.NoError(t, err)
	assert.Empty(t, wild)
	under, err := s.SearchContacts(ctx, "under_", 0)
	require.NoError(t, err)
	assert.Len(t, under, 1)

	none, err := s.SearchContacts(ctx, " ", 0)
	require.NoError(t, err)
	assert.Empty(t, none)

	all, err := s.ListContacts(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
	assert.Equal(t, favorite.ID, all[0].ID)
}
