package mimeparse

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/foxcpp/tempmailgw/internal/logging"
)

func buildMessage(boundary, textPart, attachmentPart string) string {
	msg := "From: Sender <sender@example.org>\r\n" +
		"To: Recipient <recipient@example.org>\r\n" +
		"Subject: Test message\r\n" +
		"Message-Id: <abc123@example.org>\r\n" +
		"Content-Type: multipart/mixed; boundary=" + boundary + "\r\n" +
		"\r\n" +
		"--" + boundary + "\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		textPart + "\r\n"
	if attachmentPart != "" {
		msg += "--" + boundary + "\r\n" +
			"Content-Type: application/octet-stream\r\n" +
			"Content-Disposition: attachment; filename=\"payload.bin\"\r\n" +
			"\r\n" +
			attachmentPart + "\r\n"
	}
	msg += "--" + boundary + "--\r\n"
	return msg
}

func TestParseExtractsBasicFields(t *testing.T) {
	raw := buildMessage("BOUNDARY1", "hello world", "")
	rec, err := Parse([]byte(raw), "uid-1", Limits{}, logging.Logger{})
	require.NoError(t, err)

	require.Equal(t, "uid-1", rec.UID)
	require.Equal(t, "Test message", rec.Subject)
	require.Equal(t, "sender@example.org", rec.Sender.Address)
	require.Len(t, rec.Recipients, 1)
	require.Equal(t, "recipient@example.org", rec.Recipients[0].Address)
	require.Equal(t, "hello world", strings.TrimRight(rec.TextBody, "\r\n"))
	require.Empty(t, rec.Attachments)
}

func TestParseCollectsAttachment(t *testing.T) {
	raw := buildMessage("BOUNDARY2", "body text", "binary-payload")
	rec, err := Parse([]byte(raw), "uid-2", Limits{}, logging.Logger{})
	require.NoError(t, err)

	require.Len(t, rec.Attachments, 1)
	att := rec.Attachments[0]
	require.Equal(t, "payload.bin", att.Filename)
	require.Equal(t, "application/octet-stream", att.ContentType)
	require.NotEmpty(t, att.Checksum)
	require.Equal(t, "binary-payload", strings.TrimRight(string(att.Content), "\r\n"))
}

func TestParseDropsOversizeAttachment(t *testing.T) {
	raw := buildMessage("BOUNDARY3", "body text", "0123456789")
	rec, err := Parse([]byte(raw), "uid-3", Limits{MaxAttachmentBytes: 5}, logging.Logger{})
	require.NoError(t, err)

	require.Empty(t, rec.Attachments, "oversize attachment must be dropped, not fail the whole message")
}

func TestParseDropsOversizeHTMLBody(t *testing.T) {
	html := "<html>" + strings.Repeat("a", 100) + "</html>"
	raw := "From: sender@example.org\r\n" +
		"To: recipient@example.org\r\n" +
		"Subject: html test\r\n" +
		"Content-Type: text/html\r\n" +
		"\r\n" +
		html

	rec, err := Parse([]byte(raw), "uid-4", Limits{MaxHTMLBytes: 10}, logging.Logger{})
	require.NoError(t, err)
	require.Empty(t, rec.HTMLBody, "oversize html part must be dropped silently")
}

func TestParseHandlesMissingSender(t *testing.T) {
	raw := "Subject: no from header\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"body\r\n"

	rec, err := Parse([]byte(raw), "uid-5", Limits{}, logging.Logger{})
	require.NoError(t, err)
	require.Empty(t, rec.Sender.Address)
	require.Equal(t, "no from header", rec.Subject)
}
