package parser

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"net/textproto"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"golang.org/x/text/encoding/charmap"
)

func init() {
	// Register additional charsets that are commonly used in emails
	charset.RegisterEncoding("windows-1252", charmap.Windows1252)
	charset.RegisterEncoding("iso-8859-1", charmap.ISO8859_1)
	charset.RegisterEncoding("iso-8859-15", charmap.ISO8859_15)
}

// ParseEMLFile parses an .eml file and returns a ParsedEmail
func ParseEMLFile(filePath string) (*ParsedEmail, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	return ParseEML(f)
}

// ParseEML parses an email from a reader
func ParseEML(r io.Reader) (*ParsedEmail, error) {
	// Read the entire message first to capture raw headers
	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, r); err != nil {
		return nil, fmt.Errorf("failed to read email: %w", err)
	}

	mr, err := mail.CreateReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("failed to create mail reader: %w", err)
	}
	defer mr.Close()

	parsed := &ParsedEmail{
		RawHeaders: extractRawHeaders(buf.String()),
		Size:       int64(buf.Len()),
		Headers:    make(map[string]string),
	}

	header := mr.Header

	fields := header.Fields()
	for fields.Next() {
		key := textproto.CanonicalMIMEHeaderKey(fields.Key())
		if _, ok := parsed.Headers[key]; ok {
			continue
		}
		value, err := fields.Text()
		if err != nil {
			value = fields.Value()
		}
		parsed.Headers[key] = value
	}

	parsed.MessageID = strings.TrimSpace(header.Get("Message-Id"))

	// In-Reply-To may carry comments or several ids; the first id is the parent.
	if ids := parseMessageIDList(header.Get("In-Reply-To")); len(ids) > 0 {
		parsed.InReplyTo = ids[0]
	}
	parsed.References = parseMessageIDList(header.Get("References"))

	parsed.Subject = decodeMIMEWord(header.Get("Subject"))
	parsed.Priority = parsePriority(header.Get("X-Priority"), header.Get("Importance"))

	if fromAddrs, err := header.AddressList("From"); err == nil && len(fromAddrs) > 0 {
		parsed.Sender = fromAddrs[0].Address
		parsed.SenderName = fromAddrs[0].Name
	}
	parsed.Recipients = addressList(header, "To")
	parsed.CC = addressList(header, "Cc")
	parsed.BCC = addressList(header, "Bcc")

	if date, err := header.Date(); err == nil && !date.IsZero() {
		parsed.Date = date.UTC()
		parsed.HasDate = true
	} else {
		parsed.Date = time.Now().UTC()
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read part: %w", err)
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, params, _ := h.ContentType()
			body, err := io.ReadAll(part.Body)
			if err != nil {
				return nil, fmt.Errorf("failed to read body: %w", err)
			}

			switch {
			case strings.HasPrefix(contentType, "text/plain"):
				// Multipart alternatives carry both; the first plain part wins.
				if parsed.BodyText == "" {
					parsed.BodyText = string(body)
				}
			case strings.HasPrefix(contentType, "text/html"):
				parsed.BodyHTML = string(body)
			default:
				// Inline images and the like referenced through cid: URLs.
				parsed.Attachments = append(parsed.Attachments, newAttachment(
					params["name"], contentType, contentID(h.Get("Content-Id")), true, body))
			}

		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()

			data, err := io.ReadAll(part.Body)
			if err != nil {
				return nil, fmt.Errorf("failed to read attachment: %w", err)
			}

			parsed.Attachments = append(parsed.Attachments, newAttachment(
				filename, contentType, contentID(h.Get("Content-Id")), false, data))
		}
	}

	return parsed, nil
}

func newAttachment(filename, contentType, cid string, inline bool, data []byte) ParsedAttachment {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if filename == "" {
		filename = "unnamed"
	}
	sum := sha256.Sum256(data)
	return ParsedAttachment{
		Filename:    filename,
		ContentType: contentType,
		ContentID:   cid,
		IsInline:    inline,
		Size:        int64(len(data)),
		Checksum:    hex.EncodeToString(sum[:]),
		Data:        data,
	}
}

func addressList(header mail.Header, key string) []string {
	addrs, err := header.AddressList(key)
	if err != nil {
		return nil
	}
	var out []string
	for _, addr := range addrs {
		out = append(out, addr.Address)
	}
	return out
}

// contentID strips the angle brackets of a Content-Id header value.
func contentID(s string) string {
	return strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(s), "<"), ">")
}

// parsePriority maps X-Priority (1 highest to 5 lowest) or, failing that,
// the Importance header.
func parsePriority(xPriority, importance string) string {
	if f := strings.Fields(xPriority); len(f) > 0 {
		if n, err := strconv.Atoi(f[0]); err == nil {
			switch {
			case n <= 1:
				return "urgent"
			case n == 2:
				return "high"
			case n >= 4:
				return "low"
			}
			return "normal"
		}
	}
	switch strings.ToLower(strings.TrimSpace(importance)) {
	case "high":
		return "high"
	case "low":
		return "low"
	}
	return "normal"
}

// extractRawHeaders extracts the raw header section from the email
func extractRawHeaders(emailContent string) string {
	// Headers end at the first blank line
	parts := strings.SplitN(emailContent, "\r\n\r\n", 2)
	if len(parts) < 2 {
		parts = strings.SplitN(emailContent, "\n\n", 2)
	}
	if len(parts) > 0 {
		return parts[0]
	}
	return ""
}

// decodeMIMEWord decodes MIME-encoded words (RFC 2047)
// Example: =?UTF-8?Q?Invitaci=C3=B3n?= -> Invitación
func decodeMIMEWord(s string) string {
	dec := new(mime.WordDecoder)
	dec.CharsetReader = charset.Reader
	decoded, err := dec.DecodeHeader(s)
	if err != nil {
		return s
	}
	return decoded
}

// parseMessageIDList parses a whitespace-separated list of Message-IDs
// Example: "<id1@example.com> <id2@example.com>" -> ["<id1@example.com>", "<id2@example.com>"]
func parseMessageIDList(s string) []string {
	var ids []string
	for _, part := range strings.Fields(s) {
		if strings.HasPrefix(part, "<") && strings.HasSuffix(part, ">") {
			ids = append(ids, part)
		}
	}
	return ids
}
