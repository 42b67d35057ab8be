package store

import (
	"time"

	"github.com/felo/mailstore/internal/db"
)

// User is the local account that owns every other record
type User struct {
	ID          int64
	Email       string
	DisplayName string
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Folder is a named message container. MessageCount and UnreadCount are
// derived from the message rows.
type Folder struct {
	ID           int64
	UserID       int64
	Name         string
	Type         db.FolderType
	Icon         string
	Color        *string
	SortOrder    int
	IsSystem     bool
	ParentID     *int64
	MessageCount int
	UnreadCount  int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewFolder holds the fields of a folder to create. An empty Type means custom.
type NewFolder struct {
	Name      string
	Type      db.FolderType
	Icon      string
	Color     *string
	SortOrder int
	ParentID  *int64
}

// FolderUpdate changes the non-nil fields. ClearParent moves the folder to
// the top level.
type FolderUpdate struct {
	Icon        *string
	Color       *string
	SortOrder   *int
	ParentID    *int64
	ClearParent bool
}

// Message is a stored email
type Message struct {
	ID               int64
	UserID           int64
	FolderID         int64
	MessageID        string
	From             string
	To               []string
	Cc               []string
	Bcc              []string
	Subject          string
	BodyText         string
	BodyHTML         string
	Headers          map[string]string
	Status           db.MessageStatus
	Priority         db.MessagePriority
	IsRead           bool
	IsStarred        bool
	IsImportant      bool
	IsEncrypted      bool
	IsSigned         bool
	HasAttachments   bool
	ThreadID         string
	InReplyTo        string
	References       []string
	OriginalFolderID *int64 // folder to restore to while in Trash
	ReceivedAt       time.Time
	SentAt           *time.Time
	DeletedAt        *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time

	// Attachments is filled by GetMessage only.
	Attachments []*Attachment
}

// NewMessage holds the fields of a message to create. Zero values get
// defaults: the Inbox folder, status received, priority normal, a received
// time of now, a generated Message-ID and a thread id.
type NewMessage struct {
	FolderID    int64
	MessageID   string
	From        string
	To          []string
	Cc          []string
	Bcc         []string
	Subject     string
	BodyText    string
	BodyHTML    string
	Headers     map[string]string
	Status      db.MessageStatus
	Priority    db.MessagePriority
	IsRead      bool
	IsStarred   bool
	IsImportant bool
	IsEncrypted bool
	IsSigned    bool
	ThreadID    string
	InReplyTo   string
	References  []string
	ReceivedAt  time.Time
	SentAt      *time.Time
	Attachments []NewAttachment
}

// MessageUpdate changes the non-nil fields
type MessageUpdate struct {
	From        *string
	To          *[]string
	Cc          *[]string
	Bcc         *[]string
	Subject     *string
	BodyText    *string
	BodyHTML    *string
	Headers     *map[string]string
	Status      *db.MessageStatus
	Priority    *db.MessagePriority
	IsRead      *bool
	IsStarred   *bool
	IsImportant *bool
	IsEncrypted *bool
	IsSigned    *bool
	SentAt      *time.Time
}

// Flags are the user-toggled message markers; nil leaves a flag unchanged.
type Flags struct {
	IsRead      *bool
	IsStarred   *bool
	IsImportant *bool
}

// MessageFilter selects messages for ListMessages. Zero fields do not filter.
type MessageFilter struct {
	FolderID    int64
	UnreadOnly  bool
	StarredOnly bool
	Status      db.MessageStatus
	Limit       int
	Offset      int
}

// SearchOptions scopes SearchMessages
type SearchOptions struct {
	FolderID int64
	Limit    int
}

// SearchResult is a message matching a full-text query
type SearchResult struct {
	*Message
	Snippet string
	Rank    float64 // lower is more relevant
}

// Thread is a conversation root with the number of its direct and indirect replies
type Thread struct {
	*Message
	ReplyCount int
}

// Attachment is the metadata of a message part stored outside the database
type Attachment struct {
	ID          int64
	MessageID   int64
	Filename    string
	ContentType string
	Size        int64
	ContentID   *string
	IsInline    bool
	StoragePath string
	Checksum    string
	CreatedAt   time.Time
}

// NewAttachment holds the fields of an attachment to create
type NewAttachment struct {
	Filename    string
	ContentType string
	Size        int64
	ContentID   *string
	IsInline    bool
	StoragePath string
	Checksum    string
}

// Contact is an address book entry
type Contact struct {
	ID               int64
	UserID           int64
	Email            string
	Name             string
	DisplayName      string
	Organization     string
	Phone            string
	Notes            string
	IsFavorite       bool
	ContactFrequency int
	LastContacted    *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewContact holds the fields of a contact to create
type NewContact struct {
	Email        string
	Name         string
	DisplayName  string
	Organization string
	Phone        string
	Notes        string
	IsFavorite   bool
}

// ContactUpdate changes the non-nil fields
type ContactUpdate struct {
	Name         *string
	DisplayName  *string
	Organization *string
	Phone        *string
	Notes        *string
	IsFavorite   *bool
}

// QueueItem is one delivery of a message to one recipient
type QueueItem struct {
	ID            int64
	MessageID     int64
	Recipient     string
	Status        db.QueueStatus
	Priority      int
	Attempts      int
	MaxAttempts   int
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastAttemptAt *time.Time
	CompletedAt   *time.Time
	ErrorMessage  string
	Metadata      map[string]any
}

// NewQueueItem holds the fields of a queue item to create. A zero
// MaxAttempts uses the store default.
type NewQueueItem struct {
	MessageID   int64
	Recipient   string
	Priority    int
	MaxAttempts int
	Metadata    map[string]any
}

// ConfigEntry is a per-user setting, optionally expiring
type ConfigEntry struct {
	Key       string
	Value     string
	ExpiresAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Statistics summarizes the store
type Statistics struct {
	TotalMessages   int
	UnreadMessages  int
	StarredMessages int
	TotalFolders    int
	TotalContacts   int
	AttachmentCount int
	AttachmentSize  int64
	QueuePending    int
	DatabaseSize    int64 // bytes on disk, including the write-ahead log
}

// VolumeBucket counts messages received and sent in one period
type VolumeBucket struct {
	Period   string // 2006-01-02 for daily, 2006-01 for monthly
	Received int
	Sent     int
}

// Volume granularities for GetMessageVolume
const (
	VolumeDaily   = "daily"
	VolumeMonthly = "monthly"
)
