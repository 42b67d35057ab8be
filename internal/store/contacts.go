package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/felo/mailstore/internal/db"
)

const contactColumns = `id, user_id, email, name, display_name, organization, phone, notes,
	is_favorite, contact_frequency, last_contacted, created_at, updated_at`

// Contacts rank for auto-completion: favorites, then frequency, then name.
const contactOrder = "ORDER BY is_favorite DESC, contact_frequency DESC, name, email"

func scanContact(row interface{ Scan(...any) error }) (*Contact, error) {
	c := &Contact{}
	var last, created, updated db.NullTime
	err := row.Scan(&c.ID, &c.UserID, &c.Email, &c.Name, &c.DisplayName, &c.Organization, &c.Phone, &c.Notes,
		&c.IsFavorite, &c.ContactFrequency, &last, &created, &updated)
	if err != nil {
		return nil, err
	}
	c.LastContacted = last.Ptr()
	c.CreatedAt, c.UpdatedAt = created.Time, updated.Time
	return c, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Store) queryContact(ctx context.Context, where string, args ...any) (*Contact, error) {
	c, err := scanContact(s.db.Querier(ctx).QueryRowContext(ctx,
		"SELECT "+contactColumns+" FROM contacts WHERE user_id = ? AND "+where,
		append([]any{s.userID}, args...)...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}
	return c, nil
}

func (s *Store) queryContacts(ctx context.Context, query string, args ...any) ([]*Contact, error) {
	rows, err := s.db.Querier(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query contacts: %w", err)
	}
	defer rows.Close()

	contacts := []*Contact{}
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		contacts = append(contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating contacts: %w", err)
	}
	return contacts, nil
}

// GetContact retrieves a contact by id
func (s *Store) GetContact(ctx context.Context, id int64) (*Contact, error) {
	return s.queryContact(ctx, "id = ?", id)
}

// GetContactByEmail retrieves a contact by address, case-insensitively
func (s *Store) GetContactByEmail(ctx context.Context, email string) (*Contact, error) {
	return s.queryContact(ctx, "email = ?", normalizeEmail(email))
}

// CreateContact adds an address book entry. Addresses are unique per user.
func (s *Store) CreateContact(ctx context.Context, nc NewContact) (*Contact, error) {
	email := normalizeEmail(nc.Email)
	if email == "" {
		return nil, ErrInvalidEmail
	}

	t := now()
	res, err := s.db.Querier(ctx).ExecContext(ctx, `
		INSERT INTO contacts (user_id, email, name, display_name, organization, phone, notes, is_favorite, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.userID, email, nc.Name, nc.DisplayName, nc.Organization, nc.Phone, nc.Notes, nc.IsFavorite, t, t)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateContact, email)
		}
		return nil, fmt.Errorf("failed to insert contact: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}
	return s.GetContact(ctx, id)
}

// UpdateContact changes the non-nil fields. It reports false if the contact
// does not exist.
func (s *Store) UpdateContact(ctx context.Context, id int64, u ContactUpdate) (bool, error) {
	sets := []string{"updated_at = ?"}
	args := []any{now()}
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if u.Name != nil {
		add("name", *u.Name)
	}
	if u.DisplayName != nil {
		add("display_name", *u.DisplayName)
	}
	if u.Organization != nil {
		add("organization", *u.Organization)
	}
	if u.Phone != nil {
		add("phone", *u.Phone)
	}
	if u.Notes != nil {
		add("notes", *u.Notes)
	}
	if u.IsFavorite != nil {
		add("is_favorite", *u.IsFavorite)
	}
	args = append(args, s.userID, id)

	res, err := s.db.Querier(ctx).ExecContext(ctx,
		"UPDATE contacts SET "+strings.Join(sets, ", ")+" WHERE user_id = ? AND id = ?", args...)
	if err != nil {
		return false, fmt.Errorf("failed to update contact: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// DeleteContact removes a contact. It reports false if it does not exist.
func (s *Store) DeleteContact(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.Querier(ctx).ExecContext(ctx, "DELETE FROM contacts WHERE user_id = ? AND id = ?", s.userID, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete contact: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// ListContacts returns contacts in ranking order
func (s *Store) ListContacts(ctx context.Context, limit, offset int) ([]*Contact, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.queryContacts(ctx,
		"SELECT "+contactColumns+" FROM contacts WHERE user_id = ? "+contactOrder+" LIMIT ? OFFSET ?",
		s.userID, limit, offset)
}

// SearchContacts returns contacts whose address or names start with prefix,
// best ranked first, for address auto-completion.
func (s *Store) SearchContacts(ctx context.Context, prefix string, limit int) ([]*Contact, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return []*Contact{}, nil
	}
	if limit <= 0 {
		limit = 10
	}
	pattern := escapeLike(strings.ToLower(prefix)) + "%"
	return s.queryContacts(ctx, `
		SELECT `+contactColumns+` FROM contacts
		WHERE user_id = ?
		  AND (email LIKE ? ESCAPE '\' OR lower(name) LIKE ? ESCAPE '\' OR lower(display_name) LIKE ? ESCAPE '\')
		`+contactOrder+`
		LIMIT ?
	`, s.userID, pattern, pattern, pattern, limit)
}

// RecordContactUsage notes that mail was exchanged with email: the contact
// is created if needed, its frequency incremented and last-contacted time
// stamped. An empty stored name is filled from name.
func (s *Store) RecordContactUsage(ctx context.Context, email, name string) (*Contact, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, ErrInvalidEmail
	}

	t := now()
	_, err := s.db.Querier(ctx).ExecContext(ctx, `
		INSERT INTO contacts (user_id, email, name, contact_frequency, last_contacted, created_at, updated_at)
		VALUES (?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT(user_id, email) DO UPDATE SET
			contact_frequency = contact_frequency + 1,
			last_contacted = excluded.last_contacted,
			name = CASE WHEN contacts.name = '' THEN excluded.name ELSE contacts.name END,
			updated_at = excluded.updated_at
	`, s.userID, email, name, t, t, t)
	if err != nil {
		return nil, fmt.Errorf("failed to record contact usage: %w", err)
	}
	return s.GetContactByEmail(ctx, email)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
