package parser

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func crlf(s string) string {
	return strings.ReplaceAll(s, "\n", "\r\n")
}

const simpleEmail = `From: sender@example.com
To: recipient@example.com
Subject: Simple Test Email
Date: Mon, 01 Jan 2024 12:00:00 +0100
Message-ID: <simple123@example.com>
Content-Type: text/plain; charset=utf-8

This is a simple test email.
`

// TestParseEML_SimpleEmail tests parsing a basic plain text email
func TestParseEML_SimpleEmail(t *testing.T) {
	parsed, err := ParseEML(strings.NewReader(crlf(simpleEmail)))

	require.NoError(t, err, "Should parse simple email without error")
	assert.Equal(t, "Simple Test Email", parsed.Subject)
	assert.Equal(t, "sender@example.com", parsed.Sender)
	assert.Equal(t, "", parsed.SenderName)
	assert.Equal(t, []string{"recipient@example.com"}, parsed.Recipients)
	assert.Contains(t, parsed.BodyText, "This is a simple test email")
	assert.Empty(t, parsed.BodyHTML)
	assert.Empty(t, parsed.Attachments)
	assert.Equal(t, "<simple123@example.com>", parsed.MessageID)
	assert.True(t, parsed.HasDate)
	assert.Equal(t, 11, parsed.Date.Hour(), "date is normalized to UTC")
	assert.Equal(t, "normal", parsed.Priority)
	assert.Equal(t, "Simple Test Email", parsed.Headers["Subject"])
	assert.Contains(t, parsed.RawHeaders, "Message-ID: <simple123@example.com>")
}

// TestParseEML_MIMEEncodedSubject tests parsing emails with MIME-encoded headers
func TestParseEML_MIMEEncodedSubject(t *testing.T) {
	raw := `From: "=?UTF-8?Q?Jos=C3=A9?=" <sender@example.com>
To: recipient@example.com
Subject: =?UTF-8?Q?Invitaci=C3=B3n:_Reuni=C3=B3n_de_proyecto?=
Content-Type: text/plain; charset=utf-8

This email has a MIME-encoded subject line.
`
	parsed, err := ParseEML(strings.NewReader(crlf(raw)))

	require.NoError(t, err)
	assert.Equal(t, "Invitación: Reunión de proyecto", parsed.Subject)
	assert.Equal(t, "José", parsed.SenderName)
	assert.Contains(t, parsed.BodyText, "MIME-encoded subject line")
	assert.False(t, parsed.HasDate)
	assert.False(t, parsed.Date.IsZero())
}

// TestParseEML_Windows1252Charset tests that registered legacy charsets decode
func TestParseEML_Windows1252Charset(t *testing.T) {
	raw := "From: sender@example.com\r\n" +
		"Subject: Windows-1252 Charset Test\r\n" +
		"Content-Type: text/plain; charset=windows-1252\r\n" +
		"Content-Transfer-Encoding: 8bit\r\n" +
		"\r\n" +
		"Caf\xe9 in windows-1252 charset \x80\r\n"

	parsed, err := ParseEML(strings.NewReader(raw))

	require.NoError(t, err)
	assert.Contains(t, parsed.BodyText, "Café in windows-1252 charset €")
}

// TestParseEML_ISO88591Charset tests parsing emails with iso-8859-1 charset
func TestParseEML_ISO88591Charset(t *testing.T) {
	raw := "From: sender@example.com\r\n" +
		"Subject: ISO-8859-1 Charset Test\r\n" +
		"Content-Type: text/plain; charset=iso-8859-1\r\n" +
		"Content-Transfer-Encoding: quoted-printable\r\n" +
		"\r\n" +
		"Se=F1or, this is iso-8859-1 charset\r\n"

	parsed, err := ParseEML(strings.NewReader(raw))

	require.NoError(t, err)
	assert.Contains(t, parsed.BodyText, "Señor, this is iso-8859-1 charset")
}

const multipartEmail = `From: Alice <alice@example.com>
To: bob@example.com, carol@example.com
Cc: dave@example.com
Subject: Email with Attachment
Message-ID: <child@example.com>
In-Reply-To: <parent@example.com>
References: <root@example.com> <parent@example.com>
X-Priority: 1 (Highest)
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary="outer"

--outer
Content-Type: multipart/related; boundary="rel"

--rel
Content-Type: multipart/alternative; boundary="alt"

--alt
Content-Type: text/plain; charset=utf-8

This email has an attachment.
--alt
Content-Type: text/html; charset=utf-8

<p>This email has an <img src="cid:logo@example.com"> attachment.</p>
--alt--
--rel
Content-Type: image/png; name="logo.png"
Content-Disposition: inline
Content-ID: <logo@example.com>
Content-Transfer-Encoding: base64

iVBORw0KGgo=
--rel--
--outer
Content-Type: application/pdf
Content-Disposition: attachment; filename="document.pdf"
Content-Transfer-Encoding: base64

JVBERi0xLjQKJcfsj6IK
--outer--
`

// TestParseEML_WithAttachment tests parsing emails with attachments and inline parts
func TestParseEML_WithAttachment(t *testing.T) {
	parsed, err := ParseEML(strings.NewReader(crlf(multipartEmail)))

	require.NoError(t, err)
	assert.Equal(t, "Email with Attachment", parsed.Subject)
	assert.Contains(t, parsed.BodyText, "This email has an attachment")
	assert.Contains(t, parsed.BodyHTML, "cid:logo@example.com")
	assert.Equal(t, "Alice", parsed.SenderName)
	assert.Equal(t, []string{"bob@example.com", "carol@example.com"}, parsed.Recipients)
	assert.Equal(t, []string{"dave@example.com"}, parsed.CC)
	assert.Equal(t, "urgent", parsed.Priority)

	require.Len(t, parsed.Attachments, 2)

	inline := parsed.Attachments[0]
	assert.True(t, inline.IsInline)
	assert.Equal(t, "logo@example.com", inline.ContentID)
	assert.Equal(t, "logo.png", inline.Filename)
	assert.Equal(t, "image/png", inline.ContentType)

	att := parsed.Attachments[1]
	assert.False(t, att.IsInline)
	assert.Equal(t, "document.pdf", att.Filename)
	assert.Equal(t, "application/pdf", att.ContentType)
	assert.Equal(t, int64(len(att.Data)), att.Size)
	assert.Len(t, att.Checksum, 64)
}

// TestParseEML_Threading tests In-Reply-To and References extraction
func TestParseEML_Threading(t *testing.T) {
	parsed, err := ParseEML(strings.NewReader(crlf(multipartEmail)))

	require.NoError(t, err)
	assert.Equal(t, "<child@example.com>", parsed.MessageID)
	assert.Equal(t, "<parent@example.com>", parsed.InReplyTo)
	assert.Equal(t, []string{"<root@example.com>", "<parent@example.com>"}, parsed.References)
}

// TestParseEMLFile tests reading from disk
func TestParseEMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "simple.eml")
	require.NoError(t, os.WriteFile(path, []byte(crlf(simpleEmail)), 0644))

	parsed, err := ParseEMLFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Simple Test Email", parsed.Subject)

	_, err = ParseEMLFile(filepath.Join(t.TempDir(), "missing.eml"))
	assert.Error(t, err)
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		xPriority, importance, want string
	}{
		{"1 (Highest)", "", "urgent"},
		{"2", "", "high"},
		{"3 (Normal)", "low", "normal"},
		{"5 (Lowest)", "", "low"},
		{"", "High", "high"},
		{"", "low", "low"},
		{"", "", "normal"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parsePriority(tt.xPriority, tt.importance), tt.xPriority+"/"+tt.importance)
	}
}

func TestParseMessageIDList(t *testing.T) {
	assert.Equal(t, []string{"<a@x>", "<b@x>"}, parseMessageIDList("<a@x>\r\n <b@x> (comment)"))
	assert.Nil(t, parseMessageIDList(""))
}
