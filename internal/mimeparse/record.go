// Package mimeparse adapts emersion/go-message/mail into the
// normalized message record every ingestion path (fetch worker and SMTP
// receiver alike) writes into storage, per §4.D.
package mimeparse

import "time"

// Address is a single recipient or sender mailbox.
type Address struct {
	Name    string
	Address string
}

// Attachment is a binary part pulled out of a message during parsing.
type Attachment struct {
	Filename    string
	ContentType string
	SizeBytes   int
	ContentID   string
	Checksum    string // sha256, hex
	Content     []byte
}

// allowedHeaders is the exact header export allow-list from §4.D.
var allowedHeaders = []string{
	"message-id", "date", "from", "to", "cc", "bcc",
	"reply-to", "content-type", "x-mailer", "x-spam-status",
}

// Record is the normalized shape every fetched or delivered message is
// reduced to before it reaches the store.
type Record struct {
	UID         string
	MessageID   string
	Sender      Address
	Recipients  []Address
	Subject     string
	TextBody    string
	HTMLBody    string
	Headers     map[string]string
	SizeBytes   int
	ReceivedAt  time.Time
	Attachments []Attachment
}
