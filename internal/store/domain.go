package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewDomainParams collects the fields CreateDomain needs.
type NewDomainParams struct {
	FQDN     string
	POP3Host string
	POP3Port string
	POP3TLS  bool
	IsLocal  bool
}

func (s *Store) CreateDomain(ctx context.Context, p NewDomainParams) (*Domain, error) {
	d := &Domain{
		ID:        uuid.NewString(),
		FQDN:      p.FQDN,
		POP3Host:  p.POP3Host,
		POP3Port:  p.POP3Port,
		POP3TLS:   p.POP3TLS,
		IsLocal:   p.IsLocal,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}

	query := s.rebind(`
		INSERT INTO domains (id, fqdn, pop3_host, pop3_port, pop3_tls, is_local, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query, d.ID, d.FQDN, d.POP3Host, d.POP3Port, d.POP3TLS, d.IsLocal, d.Active, d.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: creating domain %s: %w", p.FQDN, err)
	}
	return d, nil
}

func (s *Store) GetDomain(ctx context.Context, id string) (*Domain, error) {
	var d Domain
	query := s.rebind(`SELECT * FROM domains WHERE id = ?`)
	if err := s.db.GetContext(ctx, &d, query, id); err != nil {
		return nil, fmt.Errorf("store: getting domain %s: %w", id, err)
	}
	return &d, nil
}

func (s *Store) ListDomains(ctx context.Context) ([]Domain, error) {
	var domains []Domain
	if err := s.db.SelectContext(ctx, &domains, `SELECT * FROM domains ORDER BY fqdn`); err != nil {
		return nil, fmt.Errorf("store: listing domains: %w", err)
	}
	return domains, nil
}

// ActiveLocalDomains returns the set of fully-qualified domains flagged
// is_local and active — the in-memory map the SMTP receiver refreshes
// every 60 seconds for RCPT TO gating (§4.F).
func (s *Store) ActiveLocalDomains(ctx context.Context) ([]string, error) {
	var fqdns []string
	query := `SELECT fqdn FROM domains WHERE is_local = ? AND active = ?`
	if err := s.db.SelectContext(ctx, &fqdns, s.rebind(query), true, true); err != nil {
		return nil, fmt.Errorf("store: listing active local domains: %w", err)
	}
	return fqdns, nil
}

func (s *Store) UpdateDomain(ctx context.Context, id string, active bool) error {
	query := s.rebind(`UPDATE domains SET active = ? WHERE id = ?`)
	_, err := s.db.ExecContext(ctx, query, active, id)
	if err != nil {
		return fmt.Errorf("store: updating domain %s: %w", id, err)
	}
	return nil
}

// DeleteDomain removes a domain row. §3 Ownership: disallowed unless no
// active inboxes reference it — enforced by the caller (internal/httpapi)
// via CountActiveInboxesForDomain, not by a database constraint, so the
// decision stays administrative policy rather than runtime.
func (s *Store) DeleteDomain(ctx context.Context, id string) error {
	query := s.rebind(`DELETE FROM domains WHERE id = ?`)
	_, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("store: deleting domain %s: %w", id, err)
	}
	return nil
}

func (s *Store) CountActiveInboxesForDomain(ctx context.Context, domainID string) (int, error) {
	var count int
	query := s.rebind(`SELECT COUNT(*) FROM inboxes WHERE domain_id = ? AND status = 'active'`)
	if err := s.db.GetContext(ctx, &count, query, domainID); err != nil {
		return 0, fmt.Errorf("store: counting active inboxes for domain %s: %w", domainID, err)
	}
	return count, nil
}
