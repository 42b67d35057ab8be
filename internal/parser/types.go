package parser

import "time"

// ParsedEmail represents a parsed RFC 5322 message with all its components
type ParsedEmail struct {
	MessageID  string
	InReplyTo  string   // Message-ID of the parent message
	References []string // Message-IDs of the conversation ancestry, oldest first
	Subject    string
	Sender     string
	SenderName string
	Recipients []string
	CC         []string
	BCC        []string
	Date       time.Time
	HasDate    bool
	Priority   string // low, normal, high or urgent
	BodyText   string
	BodyHTML   string
	// Headers holds the first value of every header, keyed by canonical name.
	Headers     map[string]string
	Attachments []ParsedAttachment
	RawHeaders  string
	Size        int64
}

// ParsedAttachment represents an email attachment or inline part
type ParsedAttachment struct {
	Filename    string
	ContentType string
	ContentID   string
	IsInline    bool
	Size        int64
	Checksum    string // SHA-256 of Data, hex encoded
	Data        []byte
}
