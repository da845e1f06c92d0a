// Package smtpd implements the inbound SMTP receiver (component F,
// §4.F): a go-smtp Backend/Session pair that accepts mail only for
// known local domains and known active inboxes, parses it the same way
// the fetch worker does, and persists it directly — no outbound relay,
// no AUTH, no STARTTLS advertised.
package smtpd

import (
	"context"

	"github.com/emersion/go-smtp"

	"github.com/foxcpp/tempmailgw/internal/logging"
	"github.com/foxcpp/tempmailgw/internal/mimeparse"
	"github.com/foxcpp/tempmailgw/internal/store"
)

// Store is the persistence surface the SMTP receiver needs.
type Store interface {
	GetInboxByEmail(ctx context.Context, email string) (*store.Inbox, error)
	InsertMessage(ctx context.Context, p store.NewMessageParams) (messageID string, inserted bool, err error)
}

// Recorder receives delivery metrics (component J).
type Recorder interface {
	IncDelivery()
}

type noopRecorder struct{}

func (noopRecorder) IncDelivery() {}

// Config bounds what the receiver accepts.
type Config struct {
	Banner         string
	MaxMessageSize int
	Limits         mimeparse.Limits
}

func (c Config) withDefaults() Config {
	if c.Banner == "" {
		c.Banner = "tempmailgw"
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 25 * 1024 * 1024
	}
	return c
}

// Backend is the go-smtp Backend the gateway's listener is built
// around. AUTH and STARTTLS are never advertised: no TLSConfig is set
// and no SASL mechanism is registered, matching §4.F's "accept plain,
// unauthenticated inbound mail for gated recipients only" scope.
type Backend struct {
	store   Store
	domains *LocalDomains
	cfg     Config
	rec     Recorder
	log     logging.Logger
}

func NewBackend(st Store, domains *LocalDomains, cfg Config, rec Recorder, log logging.Logger) *Backend {
	cfg = cfg.withDefaults()
	if rec == nil {
		rec = noopRecorder{}
	}
	return &Backend{store: st, domains: domains, cfg: cfg, rec: rec, log: log}
}

func (b *Backend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	return &Session{backend: b, log: b.log}, nil
}

// NewServer builds a *smtp.Server wired to b with the settings §4.F
// names explicitly: no AllowInsecureAuth (there is no AUTH to allow),
// the configured message-size cap, and a plain greeting banner.
func NewServer(b *Backend, addr string) *smtp.Server {
	s := smtp.NewServer(b)
	s.Addr = addr
	s.Domain = b.cfg.Banner
	s.MaxMessageBytes = int64(b.cfg.MaxMessageSize)
	s.MaxRecipients = 100
	s.AllowInsecureAuth = false
	return s
}
