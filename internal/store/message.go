package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RecipientJSON mirrors the mimeparse.Address shape without importing
// internal/mimeparse, so store stays a leaf package.
type RecipientJSON struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

// NewMessageParams is what the fetch worker and SMTP receiver both hand
// to InsertMessage after parsing.
type NewMessageParams struct {
	InboxID       string
	UID           string
	MessageID     string
	SenderAddress string
	SenderName    string
	Recipients    []RecipientJSON
	Subject       string
	TextBody      string
	HTMLBody      string
	Headers       map[string]string
	SizeBytes     int
	ReceivedAt    time.Time
	Attachments   []NewAttachmentParams
}

type NewAttachmentParams struct {
	Filename    string
	ContentType string
	SizeBytes   int
	ContentID   string
	Checksum    string
	Content     []byte
}

// MessageInsertResult reports the outcome of inserting one message as
// part of an InsertMessages batch.
type MessageInsertResult struct {
	UID      string
	ID       string
	Inserted bool
}

// InsertMessage inserts a single message and its attachments, for
// callers (the SMTP receiver's per-recipient fan-out) that only ever
// have one message to persist at a time. It delegates to InsertMessages
// so both paths share one transactional insert implementation.
func (s *Store) InsertMessage(ctx context.Context, p NewMessageParams) (messageID string, inserted bool, err error) {
	results, err := s.InsertMessages(ctx, []NewMessageParams{p})
	if err != nil {
		return "", false, err
	}
	r := results[0]
	return r.ID, r.Inserted, nil
}

// InsertMessages implements the §4.E/§4.G batch insert: every message
// (and its attachments) in all is written inside a single transaction
// with ON CONFLICT (inbox_id, uid) DO NOTHING per row, so a job's
// messages commit together or not at all. A row that already exists is
// reported as not-inserted and its attachments are skipped, matching
// the per-message semantics §4.E step 5 describes; only a hard error
// (marshaling, the transaction itself) rolls the whole batch back.
func (s *Store) InsertMessages(ctx context.Context, all []NewMessageParams) ([]MessageInsertResult, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: beginning message batch insert: %w", err)
	}
	defer tx.Rollback()

	query := s.rebind(`
		INSERT INTO messages (
			id, inbox_id, uid, message_id, sender_address, sender_name,
			recipients_json, subject, text_body, html_body, headers_json,
			size_bytes, received_at, fetched_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (inbox_id, uid) DO NOTHING`)
	attachQuery := s.rebind(`
		INSERT INTO attachments (id, message_id, inbox_id, filename, content_type, size_bytes, content_id, checksum_sha256, content)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	now := time.Now().UTC()
	results := make([]MessageInsertResult, 0, len(all))

	for _, p := range all {
		recipientsJSON, err := json.Marshal(p.Recipients)
		if err != nil {
			return nil, fmt.Errorf("store: marshaling recipients for %s/%s: %w", p.InboxID, p.UID, err)
		}
		headersJSON, err := json.Marshal(p.Headers)
		if err != nil {
			return nil, fmt.Errorf("store: marshaling headers for %s/%s: %w", p.InboxID, p.UID, err)
		}

		id := uuid.NewString()
		res, err := tx.ExecContext(ctx, query,
			id, p.InboxID, p.UID, p.MessageID, p.SenderAddress, p.SenderName,
			string(recipientsJSON), p.Subject, p.TextBody, p.HTMLBody, string(headersJSON),
			p.SizeBytes, p.ReceivedAt, now,
		)
		if err != nil {
			return nil, fmt.Errorf("store: inserting message %s/%s: %w", p.InboxID, p.UID, err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("store: checking insert result for %s/%s: %w", p.InboxID, p.UID, err)
		}
		if n == 0 {
			// Conflict: row already exists, skip attachments and report
			// not-inserted so the caller doesn't advance bookkeeping twice.
			results = append(results, MessageInsertResult{UID: p.UID})
			continue
		}

		for _, a := range p.Attachments {
			if _, err := tx.ExecContext(ctx, attachQuery,
				uuid.NewString(), id, p.InboxID, a.Filename, a.ContentType, a.SizeBytes, a.ContentID, a.Checksum, a.Content,
			); err != nil {
				return nil, fmt.Errorf("store: inserting attachment %q for message %s: %w", a.Filename, id, err)
			}
		}

		results = append(results, MessageInsertResult{UID: p.UID, ID: id, Inserted: true})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: committing message batch insert: %w", err)
	}

	return results, nil
}

// MessageWithAttachments is what FetchSince returns: a message row
// joined with its attachment metadata (content bytes excluded — the
// attachment download endpoint fetches those by id separately).
type MessageWithAttachments struct {
	Message
	Attachments []Attachment
}

// FetchSince implements the §4.G cursor read: resolve sinceUid to the
// fetched_at of the matching (inbox, uid) row and return messages
// strictly after it in ascending fetched_at order. An unknown or empty
// sinceUid falls back to the first page.
func (s *Store) FetchSince(ctx context.Context, inboxID, sinceUID string, limit int) ([]MessageWithAttachments, error) {
	var cursor time.Time
	haveCursor := false

	if sinceUID != "" {
		var msg Message
		query := s.rebind(`SELECT * FROM messages WHERE inbox_id = ? AND uid = ?`)
		if err := s.db.GetContext(ctx, &msg, query, inboxID, sinceUID); err == nil {
			cursor = msg.FetchedAt
			haveCursor = true
		}
	}

	var messages []Message
	if haveCursor {
		query := s.rebind(`SELECT * FROM messages WHERE inbox_id = ? AND fetched_at > ? ORDER BY fetched_at ASC LIMIT ?`)
		if err := s.db.SelectContext(ctx, &messages, query, inboxID, cursor, limit); err != nil {
			return nil, fmt.Errorf("store: fetching messages since %s for inbox %s: %w", sinceUID, inboxID, err)
		}
	} else {
		query := s.rebind(`SELECT * FROM messages WHERE inbox_id = ? ORDER BY fetched_at ASC LIMIT ?`)
		if err := s.db.SelectContext(ctx, &messages, query, inboxID, limit); err != nil {
			return nil, fmt.Errorf("store: fetching first page for inbox %s: %w", inboxID, err)
		}
	}

	result := make([]MessageWithAttachments, 0, len(messages))
	for _, m := range messages {
		var attachments []Attachment
		query := s.rebind(`SELECT id, message_id, inbox_id, filename, content_type, size_bytes, content_id, checksum_sha256 FROM attachments WHERE message_id = ?`)
		if err := s.db.SelectContext(ctx, &attachments, query, m.ID); err != nil {
			return nil, fmt.Errorf("store: fetching attachments for message %s: %w", m.ID, err)
		}
		result = append(result, MessageWithAttachments{Message: m, Attachments: attachments})
	}

	return result, nil
}

// GetMessageByUID resolves the provider-assigned uid exposed in the
// HTTP API's routes (and in messageResponse.UID) back to the internal
// message row, scoped to the owning inbox.
func (s *Store) GetMessageByUID(ctx context.Context, inboxID, uid string) (*Message, error) {
	var m Message
	query := s.rebind(`SELECT * FROM messages WHERE inbox_id = ? AND uid = ?`)
	if err := s.db.GetContext(ctx, &m, query, inboxID, uid); err != nil {
		return nil, fmt.Errorf("store: getting message %s/%s: %w", inboxID, uid, err)
	}
	return &m, nil
}

// GetAttachment fetches a single attachment's bytes for the download
// endpoint, scoped to the owning inbox so a token can't fetch another
// inbox's attachment by guessing an id.
func (s *Store) GetAttachment(ctx context.Context, inboxID, messageID, attachmentID string) (*Attachment, error) {
	var a Attachment
	query := s.rebind(`SELECT * FROM attachments WHERE id = ? AND message_id = ? AND inbox_id = ?`)
	if err := s.db.GetContext(ctx, &a, query, attachmentID, messageID, inboxID); err != nil {
		return nil, fmt.Errorf("store: getting attachment %s: %w", attachmentID, err)
	}
	return &a, nil
}
