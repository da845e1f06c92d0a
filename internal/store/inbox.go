package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewInboxParams collects the fields CreateInbox needs; credentials are
// expected pre-encrypted by the caller (internal/crypto is store's
// sibling, not a dependency of it).
type NewInboxParams struct {
	Email       string
	Type        InboxType
	POP3Host    string
	POP3Port    string
	POP3TLS     bool
	UsernameEnc string
	PasswordEnc string
	DomainID    *string
	CreatorAddr string
	TTLSeconds  int
}

// CreateInbox inserts a new active inbox row.
func (s *Store) CreateInbox(ctx context.Context, p NewInboxParams) (*Inbox, error) {
	inbox := &Inbox{
		ID:          uuid.NewString(),
		Email:       p.Email,
		Type:        p.Type,
		Status:      InboxActive,
		POP3Host:    p.POP3Host,
		POP3Port:    p.POP3Port,
		POP3TLS:     p.POP3TLS,
		UsernameEnc: p.UsernameEnc,
		PasswordEnc: p.PasswordEnc,
		DomainID:    p.DomainID,
		CreatorAddr: p.CreatorAddr,
		TTLSeconds:  p.TTLSeconds,
		CreatedAt:   time.Now().UTC(),
	}

	query := s.rebind(`
		INSERT INTO inboxes (
			id, email, type, status, pop3_host, pop3_port, pop3_tls,
			username_enc, password_enc, domain_id, creator_addr,
			ttl_seconds, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query,
		inbox.ID, inbox.Email, inbox.Type, inbox.Status, inbox.POP3Host, inbox.POP3Port, inbox.POP3TLS,
		inbox.UsernameEnc, inbox.PasswordEnc, inbox.DomainID, inbox.CreatorAddr,
		inbox.TTLSeconds, inbox.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("store: creating inbox %s: %w", p.Email, err)
	}

	return inbox, nil
}

// GetInbox fetches one inbox by id, active or not.
func (s *Store) GetInbox(ctx context.Context, id string) (*Inbox, error) {
	var inbox Inbox
	query := s.rebind(`SELECT * FROM inboxes WHERE id = ?`)
	if err := s.db.GetContext(ctx, &inbox, query, id); err != nil {
		return nil, fmt.Errorf("store: getting inbox %s: %w", id, err)
	}
	return &inbox, nil
}

// GetInboxByEmail performs a case-insensitive lookup, used by the SMTP
// receiver's RCPT TO gating (§4.F).
func (s *Store) GetInboxByEmail(ctx context.Context, email string) (*Inbox, error) {
	var inbox Inbox
	query := s.rebind(`SELECT * FROM inboxes WHERE lower(email) = lower(?) AND status = 'active'`)
	if err := s.db.GetContext(ctx, &inbox, query, email); err != nil {
		return nil, fmt.Errorf("store: getting inbox by email %s: %w", email, err)
	}
	return &inbox, nil
}

// ListGeneratedInboxes returns every active generated inbox, for the
// admin export endpoint.
func (s *Store) ListGeneratedInboxes(ctx context.Context) ([]Inbox, error) {
	var inboxes []Inbox
	query := s.rebind(`SELECT * FROM inboxes WHERE type = ? AND status = 'active' ORDER BY created_at`)
	if err := s.db.SelectContext(ctx, &inboxes, query, InboxGenerated); err != nil {
		return nil, fmt.Errorf("store: listing generated inboxes: %w", err)
	}
	return inboxes, nil
}

// AdvanceCursor sets last_seen_uid to uid. Called after a fetch job's
// batch insert succeeds, with the last fetched UID, whether or not any
// of the fetched messages were new (§4.E step 6).
func (s *Store) AdvanceCursor(ctx context.Context, inboxID, uid string) error {
	query := s.rebind(`UPDATE inboxes SET last_seen_uid = ? WHERE id = ?`)
	_, err := s.db.ExecContext(ctx, query, uid, inboxID)
	if err != nil {
		return fmt.Errorf("store: advancing cursor for inbox %s: %w", inboxID, err)
	}
	return nil
}

// DeleteInboxCascade implements §4.G Delete inbox: within one
// transaction, delete attachments, delete messages, revoke active
// tokens, and mark the inbox deleted with credential blobs erased.
func (s *Store) DeleteInboxCascade(ctx context.Context, inboxID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: beginning cascade delete for inbox %s: %w", inboxID, err)
	}
	defer tx.Rollback()

	del := func(query string, args ...interface{}) error {
		_, err := tx.ExecContext(ctx, s.rebind(query), args...)
		return err
	}

	if err := del(`DELETE FROM attachments WHERE inbox_id = ?`, inboxID); err != nil {
		return fmt.Errorf("store: deleting attachments for inbox %s: %w", inboxID, err)
	}
	if err := del(`DELETE FROM messages WHERE inbox_id = ?`, inboxID); err != nil {
		return fmt.Errorf("store: deleting messages for inbox %s: %w", inboxID, err)
	}

	now := time.Now().UTC()
	if err := del(`UPDATE tokens SET status = 'revoked', revoked_at = ? WHERE inbox_id = ? AND status = 'active'`, now, inboxID); err != nil {
		return fmt.Errorf("store: revoking tokens for inbox %s: %w", inboxID, err)
	}

	if err := del(`UPDATE inboxes SET status = 'deleted', username_enc = '', password_enc = '', deleted_at = ? WHERE id = ?`, now, inboxID); err != nil {
		return fmt.Errorf("store: marking inbox %s deleted: %w", inboxID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: committing cascade delete for inbox %s: %w", inboxID, err)
	}
	return nil
}
