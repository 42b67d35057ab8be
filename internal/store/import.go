package store

import (
	"context"
	"io"
	"time"

	"github.com/felo/mailstore/internal/db"
	"github.com/felo/mailstore/internal/parser"
)

// ImportRFC822 parses a raw RFC 5322 message and stores it in folderID, the
// Inbox when 0. Attachment content is not kept, only its metadata.
func (s *Store) ImportRFC822(ctx context.Context, r io.Reader, folderID int64) (*Message, error) {
	parsed, err := parser.ParseEML(r)
	if err != nil {
		return nil, err
	}
	return s.ImportParsed(ctx, parsed, folderID, "")
}

// ImportParsed stores an already parsed message. source, if set, is
// recorded as the storage path of its attachments.
func (s *Store) ImportParsed(ctx context.Context, p *parser.ParsedEmail, folderID int64, source string) (*Message, error) {
	nm := NewMessage{
		FolderID:   folderID,
		MessageID:  p.MessageID,
		From:       p.Sender,
		To:         p.Recipients,
		Cc:         p.CC,
		Bcc:        p.BCC,
		Subject:    p.Subject,
		BodyText:   p.BodyText,
		BodyHTML:   p.BodyHTML,
		Headers:    p.Headers,
		Status:     db.StatusReceived,
		Priority:   db.MessagePriority(p.Priority),
		InReplyTo:  p.InReplyTo,
		References: p.References,
		ReceivedAt: p.Date,
	}
	if p.HasDate {
		sent := p.Date
		nm.SentAt = &sent
	} else {
		nm.ReceivedAt = time.Time{}
	}
	for _, a := range p.Attachments {
		na := NewAttachment{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Size:        a.Size,
			IsInline:    a.IsInline,
			StoragePath: source,
			Checksum:    a.Checksum,
		}
		if a.ContentID != "" {
			cid := a.ContentID
			na.ContentID = &cid
		}
		nm.Attachments = append(nm.Attachments, na)
	}
	return s.CreateMessage(ctx, nm)
}
