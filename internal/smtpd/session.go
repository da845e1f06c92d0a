package smtpd

import (
	"context"
	"io"
	"sync"

	"github.com/emersion/go-smtp"
	"github.com/google/uuid"

	"github.com/foxcpp/tempmailgw/internal/addrutil"
	"github.com/foxcpp/tempmailgw/internal/logging"
	"github.com/foxcpp/tempmailgw/internal/mimeparse"
	"github.com/foxcpp/tempmailgw/internal/store"
)

// recipient pairs an accepted forward-path with the inbox it resolved
// to, so Data doesn't have to re-run the gating lookup per recipient.
type recipient struct {
	addr    string
	inboxID string
}

// Session implements smtp.Session for one client connection. There is
// no delivery pipeline or MsgMetadata to carry: RCPT resolves directly
// to a gateway inbox and DATA writes directly to the store.
type Session struct {
	backend *Backend
	log     logging.Logger

	mu       sync.Mutex
	mailFrom string
	rcpts    []recipient
}

func (s *Session) Mail(from string, opts *smtp.MailOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mailFrom = from
	s.rcpts = nil
	return nil
}

// Rcpt implements the §4.F gating: reject unknown domains with
// "Relay access denied" and unknown mailboxes within a known domain
// with "Unknown recipient". Both are permanent (5xx) failures — the
// gateway never queues for retry.
func (s *Session) Rcpt(to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	normalized, err := addrutil.ForLookup(to)
	if err != nil {
		return &smtp.SMTPError{Code: 501, EnhancedCode: smtp.EnhancedCode{5, 1, 3}, Message: "Malformed recipient address"}
	}
	_, domain, err := addrutil.Split(normalized)
	if err != nil {
		return &smtp.SMTPError{Code: 501, EnhancedCode: smtp.EnhancedCode{5, 1, 3}, Message: "Malformed recipient address"}
	}

	if !s.backend.domains.Contains(domain) {
		return &smtp.SMTPError{Code: 550, EnhancedCode: smtp.EnhancedCode{5, 7, 1}, Message: "Relay access denied"}
	}

	inbox, err := s.backend.store.GetInboxByEmail(context.Background(), normalized)
	if err != nil {
		return &smtp.SMTPError{Code: 550, EnhancedCode: smtp.EnhancedCode{5, 1, 1}, Message: "Unknown recipient"}
	}

	s.rcpts = append(s.rcpts, recipient{addr: to, inboxID: inbox.ID})
	return nil
}

// Data reads the message once, parses it once, and persists it once
// per matched recipient (§4.F step: fan-out by recipient, not by
// re-parsing). The transaction replies OK if at least one recipient's
// insert succeeded, and fails hard only if every one of them did.
func (s *Session) Data(r io.Reader) error {
	s.mu.Lock()
	rcpts := s.rcpts
	s.mu.Unlock()

	if len(rcpts) == 0 {
		return &smtp.SMTPError{Code: 554, EnhancedCode: smtp.EnhancedCode{5, 5, 1}, Message: "No valid recipients"}
	}

	limited := io.LimitReader(r, int64(s.backend.cfg.MaxMessageSize)+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return &smtp.SMTPError{Code: 451, EnhancedCode: smtp.EnhancedCode{4, 3, 0}, Message: "I/O error reading message"}
	}
	if len(raw) > s.backend.cfg.MaxMessageSize {
		return &smtp.SMTPError{Code: 552, EnhancedCode: smtp.EnhancedCode{5, 3, 4}, Message: "Message size exceeds limit"}
	}

	uid := "smtp-" + uuid.NewString()
	rec, err := mimeparse.Parse(raw, uid, s.backend.cfg.Limits, s.log)
	if err != nil {
		s.log.Error("smtpd: failed to parse inbound message", err)
		return &smtp.SMTPError{Code: 554, EnhancedCode: smtp.EnhancedCode{5, 6, 0}, Message: "Message could not be parsed"}
	}

	params := toMessageParams(uid, rec)

	ctx := context.Background()
	delivered := 0
	for _, rcpt := range rcpts {
		p := params
		p.InboxID = rcpt.inboxID
		if _, _, err := s.backend.store.InsertMessage(ctx, p); err != nil {
			s.log.Error("smtpd: failed to persist message", err, "inbox_id", rcpt.inboxID, "rcpt", rcpt.addr)
			continue
		}
		delivered++
	}

	if delivered == 0 {
		return &smtp.SMTPError{Code: 554, EnhancedCode: smtp.EnhancedCode{5, 3, 0}, Message: "Failed to store message for any recipient"}
	}

	s.backend.rec.IncDelivery()
	return nil
}

func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mailFrom = ""
	s.rcpts = nil
}

func (s *Session) Logout() error {
	return nil
}

func toMessageParams(uid string, rec mimeparse.Record) store.NewMessageParams {
	recipients := make([]store.RecipientJSON, 0, len(rec.Recipients))
	for _, a := range rec.Recipients {
		recipients = append(recipients, store.RecipientJSON{Address: a.Address, Name: a.Name})
	}

	attachments := make([]store.NewAttachmentParams, 0, len(rec.Attachments))
	for _, a := range rec.Attachments {
		attachments = append(attachments, store.NewAttachmentParams{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			SizeBytes:   a.SizeBytes,
			ContentID:   a.ContentID,
			Checksum:    a.Checksum,
			Content:     a.Content,
		})
	}

	return store.NewMessageParams{
		UID:           uid,
		MessageID:     rec.MessageID,
		SenderAddress: rec.Sender.Address,
		SenderName:    rec.Sender.Name,
		Recipients:    recipients,
		Subject:       rec.Subject,
		TextBody:      rec.TextBody,
		HTMLBody:      rec.HTMLBody,
		Headers:       rec.Headers,
		SizeBytes:     rec.SizeBytes,
		ReceivedAt:    rec.ReceivedAt,
		Attachments:   attachments,
	}
}
