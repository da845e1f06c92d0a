// Package audit implements the append-only state-change ledger
// (component I, §3 Audit event). Writes are always best-effort: a
// failure here must never fail the request that triggered it (§7).
package audit

import (
	"context"

	"github.com/foxcpp/tempmailgw/internal/logging"
)

// Event kinds recorded across the gateway (§4.I).
const (
	InboxCreated      = "inbox.created"
	InboxDeleted      = "inbox.deleted"
	TokenIssued       = "token.issued"
	TokenRotated      = "token.rotated"
	TokenRevoked      = "token.revoked"
	FetchCompleted    = "fetch.completed"
	SMTPDelivered     = "smtp.delivered"
	DomainCreated     = "domain.created"
	DomainDeleted     = "domain.deleted"
	AdminBulkGenerate = "admin.bulk_generate"
)

// Store is the persistence dependency audit needs — satisfied by
// *internal/store.Store, named here to keep audit import-cycle free of
// the rest of store's surface.
type Store interface {
	InsertAuditLog(ctx context.Context, kind string, inboxID *string, actorAddr string, metadata map[string]interface{}) error
}

// Logger records state-changing operations. It never returns an error:
// write failures are logged and swallowed, per §3/§7.
type Logger struct {
	store Store
	log   logging.Logger
}

func New(store Store, log logging.Logger) *Logger {
	return &Logger{store: store, log: log}
}

// Record appends one audit event. inboxID may be nil for events with no
// associated inbox (e.g. domain.created).
func (l *Logger) Record(ctx context.Context, kind string, inboxID *string, actorAddr string, meta map[string]interface{}) {
	if meta == nil {
		meta = map[string]interface{}{}
	}
	if err := l.store.InsertAuditLog(ctx, kind, inboxID, actorAddr, meta); err != nil {
		l.log.Error("audit: failed to record event", err, "kind", kind)
	}
}
