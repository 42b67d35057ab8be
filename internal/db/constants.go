package db

// FolderType classifies a folder. Every type except FolderCustom exists once per user.
type FolderType string

const (
	FolderInbox   FolderType = "inbox"
	FolderSent    FolderType = "sent"
	FolderDrafts  FolderType = "drafts"
	FolderTrash   FolderType = "trash"
	FolderSpam    FolderType = "spam"
	FolderArchive FolderType = "archive"
	FolderCustom  FolderType = "custom"
)

// Valid reports whether t is a known folder type.
func (t FolderType) Valid() bool {
	switch t {
	case FolderInbox, FolderSent, FolderDrafts, FolderTrash, FolderSpam, FolderArchive, FolderCustom:
		return true
	}
	return false
}

// MessageStatus is the lifecycle state of a message.
type MessageStatus string

const (
	StatusReceived MessageStatus = "received"
	StatusDraft    MessageStatus = "draft"
	StatusQueued   MessageStatus = "queued"
	StatusSending  MessageStatus = "sending"
	StatusSent     MessageStatus = "sent"
	StatusFailed   MessageStatus = "failed"
)

// MessagePriority is the sender-assigned importance of a message.
type MessagePriority string

const (
	PriorityLow    MessagePriority = "low"
	PriorityNormal MessagePriority = "normal"
	PriorityHigh   MessagePriority = "high"
	PriorityUrgent MessagePriority = "urgent"
)

// QueueStatus is a delivery queue item state.
//
//	pending -> processing -> completed
//	                      -> pending (retry while attempts < max_attempts)
//	                      -> failed
//	any non-terminal      -> dead_letter
//	failed, dead_letter   -> pending (manual retry)
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueCompleted  QueueStatus = "completed"
	QueueFailed     QueueStatus = "failed"
	QueueDeadLetter QueueStatus = "dead_letter"
)

// DefaultFolder describes one entry of the seed folder list.
type DefaultFolder struct {
	Name      string
	Type      FolderType
	Icon      string
	SortOrder int
	IsSystem  bool
}

// DefaultFolders is seeded, in this order, for every new user.
var DefaultFolders = []DefaultFolder{
	{Name: "Inbox", Type: FolderInbox, Icon: "inbox", SortOrder: 0, IsSystem: true},
	{Name: "Sent", Type: FolderSent, Icon: "send", SortOrder: 1, IsSystem: true},
	{Name: "Drafts", Type: FolderDrafts, Icon: "file-text", SortOrder: 2, IsSystem: true},
	{Name: "Trash", Type: FolderTrash, Icon: "trash", SortOrder: 3, IsSystem: true},
	{Name: "Spam", Type: FolderSpam, Icon: "alert-octagon", SortOrder: 4, IsSystem: true},
	{Name: "Archive", Type: FolderArchive, Icon: "archive", SortOrder: 5, IsSystem: true},
}

// SystemFolderTypes cannot be renamed or deleted.
var SystemFolderTypes = map[FolderType]bool{
	FolderInbox:  true,
	FolderSent:   true,
	FolderDrafts: true,
	FolderTrash:  true,
	FolderSpam:   true,
}
