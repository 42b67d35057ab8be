package migrate

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/felo/mailstore/internal/db"
)

// Legacy flat-file names and the backup directory, all inside the data directory.
const (
	LegacyFoldersFile  = "folders.json"
	LegacyMessagesFile = "messages.json"
	BackupDir          = "json_backup"
)

// flexString accepts a JSON string, number or boolean; the legacy files were
// not consistent about ids and enumerations.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(string(b))
	return nil
}

// flexList accepts a JSON array of strings or a single comma-separated string.
type flexList []string

func (l *flexList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*l = nil
		return nil
	}
	if b[0] == '[' {
		var items []string
		if err := json.Unmarshal(b, &items); err != nil {
			return err
		}
		*l = items
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	var items []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	*l = items
	return nil
}

type legacyFolder struct {
	ID         flexString `json:"id"`
	Name       string     `json:"name"`
	FolderType string     `json:"folder_type"`
	Icon       string     `json:"icon"`
	Color      *string    `json:"color"`
	SortOrder  int        `json:"sort_order"`
	IsSystem   bool       `json:"is_system"`
	ParentID   flexString `json:"parent_id"`
	CreatedAt  string     `json:"created_at"`
}

type legacyAttachment struct {
	Filename    string  `json:"filename"`
	ContentType string  `json:"content_type"`
	Size        int64   `json:"size"`
	ContentID   *string `json:"content_id"`
	IsInline    bool    `json:"is_inline"`
	StoragePath string  `json:"storage_path"`
	Checksum    string  `json:"checksum"`
}

type legacyMessage struct {
	ID            flexString            `json:"id"`
	FolderID      flexString            `json:"folder_id"`
	MessageID     string                `json:"message_id"`
	FromAddress   string                `json:"from_address"`
	ToAddresses   flexList              `json:"to_addresses"`
	CcAddresses   flexList              `json:"cc_addresses"`
	BccAddresses  flexList              `json:"bcc_addresses"`
	Subject       string                `json:"subject"`
	BodyText      string                `json:"body_text"`
	BodyHTML      string                `json:"body_html"`
	Headers       map[string]flexString `json:"headers"`
	Status        flexString            `json:"status"`
	Priority      flexString            `json:"priority"`
	IsRead        bool                  `json:"is_read"`
	IsStarred     bool                  `json:"is_starred"`
	IsImportant   bool                  `json:"is_important"`
	IsEncrypted   bool                  `json:"is_encrypted"`
	IsSigned      bool                  `json:"is_signed"`
	ThreadID      string                `json:"thread_id"`
	InReplyTo     string                `json:"in_reply_to"`
	References    flexList              `json:"references"`
	ReceivedAt    string                `json:"received_at"`
	SentAt        string                `json:"sent_at"`
	Attachments   []legacyAttachment    `json:"attachments"`
	HasAttachment bool                  `json:"has_attachments"`
}

type importCounts struct {
	folders     int
	messages    int
	attachments int
}

func (c importCounts) any() bool {
	return c.folders > 0 || c.messages > 0
}

// readLegacy decodes a legacy file into v. It reports false without error
// when the file does not exist, and returns an error when it cannot be read
// or decoded.
func readLegacy(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, err
	}
	return true, nil
}

// importLegacy translates folders.json and messages.json, if present, into
// rows for userID. A file that cannot be decoded is skipped with a warning
// and left in place; defaults are seeded instead. Database errors abort.
func importLegacy(ctx context.Context, q db.Querier, env *Env, userID int64) (importCounts, error) {
	var counts importCounts
	if env.DataDir == "" {
		return counts, nil
	}

	foldersPath := filepath.Join(env.DataDir, LegacyFoldersFile)
	messagesPath := filepath.Join(env.DataDir, LegacyMessagesFile)

	// Pass one: folders. folderIDs maps legacy ids to new ids.
	folderIDs := make(map[string]int64)
	var folders []legacyFolder
	found, err := readLegacy(foldersPath, &folders)
	if err != nil {
		env.Log.Warn("skipping malformed legacy folders", slog.String("path", foldersPath), slog.Any("err", err))
	} else if found {
		n, err := importFolders(ctx, q, userID, folders, folderIDs)
		if err != nil {
			return counts, err
		}
		counts.folders = n
		scheduleBackup(env, foldersPath)
	}

	defaults, err := db.SeedDefaultFolders(ctx, q, userID)
	if err != nil {
		return counts, err
	}

	// Pass two: messages, resolved through folderIDs.
	var messages []legacyMessage
	found, err = readLegacy(messagesPath, &messages)
	if err != nil {
		env.Log.Warn("skipping malformed legacy messages", slog.String("path", messagesPath), slog.Any("err", err))
	} else if found {
		for i := range messages {
			natts, err := importMessage(ctx, q, env, userID, &messages[i], folderIDs, defaults[db.FolderInbox])
			if err != nil {
				return counts, err
			}
			counts.messages++
			counts.attachments += natts
		}
		scheduleBackup(env, messagesPath)
	}

	if err := db.RefreshFolderCounts(ctx, q); err != nil {
		return counts, err
	}
	return counts, nil
}

func importFolders(ctx context.Context, q db.Querier, userID int64, folders []legacyFolder, folderIDs map[string]int64) (int, error) {
	seenTypes := make(map[db.FolderType]bool)
	system := make(map[int64]bool)
	imported := 0

	for _, f := range folders {
		name := strings.TrimSpace(f.Name)
		if name == "" {
			continue
		}

		// Duplicate names collapse onto the first folder.
		var existing int64
		var existingType db.FolderType
		err := q.QueryRowContext(ctx,
			"SELECT id, folder_type FROM folders WHERE user_id = ? AND name = ?", userID, name).Scan(&existing, &existingType)
		switch {
		case err == nil:
			folderIDs[string(f.ID)] = existing
			system[existing] = db.SystemFolderTypes[existingType]
			continue
		case !errors.Is(err, sql.ErrNoRows):
			return imported, fmt.Errorf("failed to look up folder %q: %w", name, err)
		}

		ft := db.FolderType(strings.ToLower(f.FolderType))
		if !ft.Valid() || (ft != db.FolderCustom && seenTypes[ft]) {
			ft = db.FolderCustom
		}
		seenTypes[ft] = true

		created := parseLegacyTime(f.CreatedAt)
		res, err := q.ExecContext(ctx, `
			INSERT INTO folders (user_id, name, folder_type, icon, color, sort_order, is_system, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, userID, name, ft, f.Icon, f.Color, f.SortOrder, f.IsSystem || db.SystemFolderTypes[ft], created, created)
		if err != nil {
			return imported, fmt.Errorf("failed to import folder %q: %w", name, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return imported, fmt.Errorf("failed to get last insert id: %w", err)
		}
		if f.ID != "" {
			folderIDs[string(f.ID)] = id
		}
		system[id] = db.SystemFolderTypes[ft]
		imported++
	}

	// Parents can only be resolved once every folder has a new id.
	for _, f := range folders {
		if f.ParentID == "" || f.ID == "" {
			continue
		}
		child, ok := folderIDs[string(f.ID)]
		parent, pok := folderIDs[string(f.ParentID)]
		if !ok || !pok || child == parent {
			continue
		}
		// System folders stay top level.
		if system[child] {
			continue
		}
		if _, err := q.ExecContext(ctx, "UPDATE folders SET parent_id = ? WHERE id = ?", parent, child); err != nil {
			return imported, fmt.Errorf("failed to set parent of folder %d: %w", child, err)
		}
	}
	return imported, nil
}

func importMessage(ctx context.Context, q db.Querier, env *Env, userID int64, m *legacyMessage, folderIDs map[string]int64, inboxID int64) (int, error) {
	folderID, ok := folderIDs[string(m.FolderID)]
	if !ok {
		if m.FolderID != "" {
			env.Log.Warn("legacy message references unknown folder, using inbox",
				slog.String("message", string(m.ID)), slog.String("folder", string(m.FolderID)))
		}
		folderID = inboxID
	}

	received := parseLegacyTime(m.ReceivedAt)
	var sent db.NullTime
	if m.SentAt != "" {
		if t, err := db.ParseTime(m.SentAt); err == nil {
			sent = db.NewNullTime(t.UTC())
		}
	}

	status := db.MessageStatus(strings.ToLower(string(m.Status)))
	switch status {
	case db.StatusReceived, db.StatusDraft, db.StatusQueued, db.StatusSending, db.StatusSent, db.StatusFailed:
	default:
		status = db.StatusReceived
	}

	to, _ := json.Marshal(nonNil(m.ToAddresses))
	cc, _ := json.Marshal(nonNil(m.CcAddresses))
	bcc, _ := json.Marshal(nonNil(m.BccAddresses))
	refs, _ := json.Marshal(nonNil(m.References))
	headers := m.Headers
	if headers == nil {
		headers = map[string]flexString{}
	}
	hdrs, _ := json.Marshal(headers)

	now := time.Now().UTC()
	res, err := q.ExecContext(ctx, `
		INSERT INTO messages (
			user_id, folder_id, message_id, from_address, to_addresses, cc_addresses, bcc_addresses,
			subject, body_text, body_html, headers, status, priority,
			is_read, is_starred, is_important, is_encrypted, is_signed, has_attachments,
			thread_id, in_reply_to, reference_ids, received_at, sent_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		userID, folderID, m.MessageID, m.FromAddress, string(to), string(cc), string(bcc),
		m.Subject, m.BodyText, m.BodyHTML, string(hdrs), status, legacyPriority(string(m.Priority)),
		m.IsRead, m.IsStarred, m.IsImportant, m.IsEncrypted, m.IsSigned, m.HasAttachment || len(m.Attachments) > 0,
		m.ThreadID, m.InReplyTo, string(refs), received, sent, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to import message %s: %w", m.ID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert id: %w", err)
	}

	for _, a := range m.Attachments {
		contentType := a.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		_, err := q.ExecContext(ctx, `
			INSERT INTO attachments (message_id, filename, content_type, size, content_id, is_inline, storage_path, checksum, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, id, a.Filename, contentType, a.Size, a.ContentID, a.IsInline, a.StoragePath, a.Checksum, now)
		if err != nil {
			return 0, fmt.Errorf("failed to import attachment %s of message %s: %w", a.Filename, m.ID, err)
		}
	}
	return len(m.Attachments), nil
}

// legacyPriority maps names and X-Priority style numbers (1 highest, 5 lowest).
func legacyPriority(p string) db.MessagePriority {
	switch strings.ToLower(p) {
	case "low":
		return db.PriorityLow
	case "high":
		return db.PriorityHigh
	case "urgent":
		return db.PriorityUrgent
	}
	if n, err := strconv.Atoi(p); err == nil {
		switch {
		case n <= 1:
			return db.PriorityUrgent
		case n == 2:
			return db.PriorityHigh
		case n >= 4:
			return db.PriorityLow
		}
	}
	return db.PriorityNormal
}

func parseLegacyTime(s string) time.Time {
	if s != "" {
		if t, err := db.ParseTime(s); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}

func nonNil(l flexList) []string {
	if l == nil {
		return []string{}
	}
	return l
}

// scheduleBackup moves path into the backup directory once the migration
// has committed. Legacy files are never deleted.
func scheduleBackup(env *Env, path string) {
	env.AfterCommit(func() error {
		dest, err := backupFile(path, time.Now())
		if err != nil {
			return err
		}
		env.Log.Info("legacy file moved to backup", slog.String("from", path), slog.String("to", dest))
		return nil
	})
}

func backupFile(path string, now time.Time) (string, error) {
	dir := filepath.Join(filepath.Dir(path), BackupDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}
	dest := filepath.Join(dir, filepath.Base(path)+"."+now.Format("20060102_150405"))
	if err := os.Rename(path, dest); err != nil {
		return "", fmt.Errorf("failed to move %s to backup: %w", path, err)
	}
	return dest, nil
}
