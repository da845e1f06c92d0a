package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InsertAuditLog appends one audit row. Callers (internal/audit) are
// expected to swallow the returned error themselves — audit-write
// failures must never propagate to the originating request (§3 Audit
// event, §7 propagation policy).
func (s *Store) InsertAuditLog(ctx context.Context, kind string, inboxID *string, actorAddr string, metadata map[string]interface{}) error {
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("store: marshaling audit metadata: %w", err)
	}

	query := s.rebind(`
		INSERT INTO audit_logs (id, kind, inbox_id, actor_addr, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	_, err = s.db.ExecContext(ctx, query, uuid.NewString(), kind, inboxID, actorAddr, string(metaJSON), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store: inserting audit log %s: %w", kind, err)
	}
	return nil
}

// CreateBulkGeneration records the durable result of an admin
// bulk-generate operation (expanded §3 BulkGeneration).
func (s *Store) CreateBulkGeneration(ctx context.Context, domainID string, requested, created int, issuerAddr string) (*BulkGeneration, error) {
	bg := &BulkGeneration{
		ID:             uuid.NewString(),
		DomainID:       domainID,
		CountRequested: requested,
		CountCreated:   created,
		IssuerAddr:     issuerAddr,
		CreatedAt:      time.Now().UTC(),
	}

	query := s.rebind(`
		INSERT INTO bulk_generations (id, domain_id, count_requested, count_created, issuer_addr, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query, bg.ID, bg.DomainID, bg.CountRequested, bg.CountCreated, bg.IssuerAddr, bg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: recording bulk generation for domain %s: %w", domainID, err)
	}
	return bg, nil
}

// Stats is the counter set the admin /v1/admin/stats endpoint returns.
type Stats struct {
	TotalInboxes     int `db:"total_inboxes"`
	ActiveInboxes    int `db:"active_inboxes"`
	GeneratedInboxes int `db:"generated_inboxes"`
	TotalMessages    int `db:"total_messages"`
	ActiveTokens     int `db:"active_tokens"`
}

func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	queries := []struct {
		dest *int
		sql  string
	}{
		{&st.TotalInboxes, `SELECT COUNT(*) FROM inboxes`},
		{&st.ActiveInboxes, `SELECT COUNT(*) FROM inboxes WHERE status = 'active'`},
		{&st.GeneratedInboxes, `SELECT COUNT(*) FROM inboxes WHERE type = 'generated'`},
		{&st.TotalMessages, `SELECT COUNT(*) FROM messages`},
		{&st.ActiveTokens, `SELECT COUNT(*) FROM tokens WHERE status = 'active'`},
	}
	for _, q := range queries {
		if err := s.db.GetContext(ctx, q.dest, q.sql); err != nil {
			return nil, fmt.Errorf("store: computing stats: %w", err)
		}
	}
	return &st, nil
}
