package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateToken inserts an active token row for inboxID with the given
// pre-hashed digest and expiry.
func (s *Store) CreateToken(ctx context.Context, inboxID, tokenHash, issuerAddr string, expiresAt time.Time) (*Token, error) {
	tok := &Token{
		ID:         uuid.NewString(),
		InboxID:    inboxID,
		TokenHash:  tokenHash,
		Status:     TokenActive,
		ExpiresAt:  expiresAt,
		IssuerAddr: issuerAddr,
		CreatedAt:  time.Now().UTC(),
	}

	query := s.rebind(`
		INSERT INTO tokens (id, inbox_id, token_hash, status, expires_at, issuer_addr, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query, tok.ID, tok.InboxID, tok.TokenHash, tok.Status, tok.ExpiresAt, tok.IssuerAddr, tok.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: creating token for inbox %s: %w", inboxID, err)
	}
	return tok, nil
}

// RevokeAllForInbox transitions every active token of inboxID to
// revoked, invariant (ii) of §3 Token: at most one active token per
// inbox after a rotate.
func (s *Store) RevokeAllForInbox(ctx context.Context, inboxID string) error {
	query := s.rebind(`UPDATE tokens SET status = 'revoked', revoked_at = ? WHERE inbox_id = ? AND status = 'active'`)
	_, err := s.db.ExecContext(ctx, query, time.Now().UTC(), inboxID)
	if err != nil {
		return fmt.Errorf("store: revoking tokens for inbox %s: %w", inboxID, err)
	}
	return nil
}

// RotateToken revokes every existing active token for inboxID and
// issues a fresh one, as a single transaction.
func (s *Store) RotateToken(ctx context.Context, inboxID, newTokenHash, issuerAddr string, expiresAt time.Time) (*Token, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: beginning token rotation for inbox %s: %w", inboxID, err)
	}
	defer tx.Rollback()

	revokeQuery := s.rebind(`UPDATE tokens SET status = 'revoked', revoked_at = ? WHERE inbox_id = ? AND status = 'active'`)
	if _, err := tx.ExecContext(ctx, revokeQuery, time.Now().UTC(), inboxID); err != nil {
		return nil, fmt.Errorf("store: revoking prior tokens for inbox %s: %w", inboxID, err)
	}

	tok := &Token{
		ID:         uuid.NewString(),
		InboxID:    inboxID,
		TokenHash:  newTokenHash,
		Status:     TokenActive,
		ExpiresAt:  expiresAt,
		IssuerAddr: issuerAddr,
		CreatedAt:  time.Now().UTC(),
	}
	insertQuery := s.rebind(`
		INSERT INTO tokens (id, inbox_id, token_hash, status, expires_at, issuer_addr, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if _, err := tx.ExecContext(ctx, insertQuery, tok.ID, tok.InboxID, tok.TokenHash, tok.Status, tok.ExpiresAt, tok.IssuerAddr, tok.CreatedAt); err != nil {
		return nil, fmt.Errorf("store: inserting rotated token for inbox %s: %w", inboxID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: committing token rotation for inbox %s: %w", inboxID, err)
	}
	return tok, nil
}

// LookupByHash returns the token row joined with its owning inbox's
// status, the shape the request-path auth state machine needs (§4.H).
func (s *Store) LookupByHash(ctx context.Context, tokenHash string) (*TokenWithInbox, error) {
	var row TokenWithInbox
	query := s.rebind(`
		SELECT t.*, i.status AS inbox_status
		FROM tokens t
		JOIN inboxes i ON i.id = t.inbox_id
		WHERE t.token_hash = ?`)
	if err := s.db.GetContext(ctx, &row, query, tokenHash); err != nil {
		return nil, fmt.Errorf("store: looking up token: %w", err)
	}
	return &row, nil
}

// SweepExpiredTokens transitions active-but-past-expiry rows to
// expired, returning the count affected. Run every 5 minutes by
// internal/token's background sweep (§4.H).
func (s *Store) SweepExpiredTokens(ctx context.Context) (int64, error) {
	query := s.rebind(`UPDATE tokens SET status = 'expired' WHERE status = 'active' AND expires_at < ?`)
	res, err := s.db.ExecContext(ctx, query, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("store: sweeping expired tokens: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: counting swept tokens: %w", err)
	}
	return n, nil
}
