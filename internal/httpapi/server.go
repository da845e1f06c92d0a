// Package httpapi implements the client- and admin-facing HTTP surface
// (§6): a net/http.ServeMux router using Go 1.22 method+path patterns,
// one handler per documented path, Bearer/admin-key authentication, and
// per-caller rate limiting. It is the thinnest layer in the gateway —
// the routing/validation framework itself is named out of scope (§1) —
// following the same plain *http.Server-with-ServeMux shape the
// reference control-plane server in this corpus uses.
package httpapi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/foxcpp/tempmailgw/internal/audit"
	"github.com/foxcpp/tempmailgw/internal/crypto"
	"github.com/foxcpp/tempmailgw/internal/fetch"
	"github.com/foxcpp/tempmailgw/internal/gatewayerr"
	"github.com/foxcpp/tempmailgw/internal/logging"
	"github.com/foxcpp/tempmailgw/internal/store"
	"github.com/foxcpp/tempmailgw/internal/token"
)

// authErrMismatch is returned when an authenticated token's inbox id
// doesn't match the :id path parameter (§4.H step 6).
var authErrMismatch = gatewayerr.Authorization("token does not grant access to this inbox")

// Store is the persistence surface httpapi depends on. Its method set
// is a superset of internal/token.Store, so a *internal/store.Store
// value satisfies both without adapters. It is not a superset of
// internal/fetch.Store, which needs InsertMessages.
type Store interface {
	CreateInbox(ctx context.Context, p store.NewInboxParams) (*store.Inbox, error)
	GetInbox(ctx context.Context, id string) (*store.Inbox, error)
	DeleteInboxCascade(ctx context.Context, inboxID string) error
	FetchSince(ctx context.Context, inboxID, sinceUID string, limit int) ([]store.MessageWithAttachments, error)
	GetAttachment(ctx context.Context, inboxID, messageID, attachmentID string) (*store.Attachment, error)
	GetMessageByUID(ctx context.Context, inboxID, uid string) (*store.Message, error)
	InsertMessage(ctx context.Context, p store.NewMessageParams) (messageID string, inserted bool, err error)
	AdvanceCursor(ctx context.Context, inboxID, uid string) error

	CreateToken(ctx context.Context, inboxID, tokenHash, issuerAddr string, expiresAt time.Time) (*store.Token, error)
	RotateToken(ctx context.Context, inboxID, newTokenHash, issuerAddr string, expiresAt time.Time) (*store.Token, error)
	LookupByHash(ctx context.Context, tokenHash string) (*store.TokenWithInbox, error)
	SweepExpiredTokens(ctx context.Context) (int64, error)

	CreateDomain(ctx context.Context, p store.NewDomainParams) (*store.Domain, error)
	GetDomain(ctx context.Context, id string) (*store.Domain, error)
	ListDomains(ctx context.Context) ([]store.Domain, error)
	UpdateDomain(ctx context.Context, id string, active bool) error
	DeleteDomain(ctx context.Context, id string) error
	CountActiveInboxesForDomain(ctx context.Context, domainID string) (int, error)

	CreateBulkGeneration(ctx context.Context, domainID string, requested, created int, issuerAddr string) (*store.BulkGeneration, error)
	ListGeneratedInboxes(ctx context.Context) ([]store.Inbox, error)
	Stats(ctx context.Context) (*store.Stats, error)
	Ping(ctx context.Context) error
}

// Fetcher is the fetch worker surface (component E) the GET-messages
// handler triggers when fetch_new=true.
type Fetcher interface {
	Run(ctx context.Context, job fetch.Job) (fetch.Result, error)
}

// Config bundles the operator-facing knobs this package reads from
// config.Config so it doesn't import the config package directly and
// grow a cyclic dependency with internal/app.
type Config struct {
	ListenAddr        string
	AdminKey          string
	CreateInboxRPS    float64
	AdminRPS          float64
	Debug             bool
	TokenDefaultTTL   time.Duration
	TokenMaxTTL       time.Duration
	DefaultFetchLimit int
}

// Server is the gateway's HTTP listener.
type Server struct {
	store   Store
	fetcher Fetcher
	cipher  *crypto.Cipher
	audit   *audit.Logger
	cfg     Config
	log     logging.Logger

	createLimiter *keyedLimiter
	adminLimiter  *keyedLimiter

	httpSrv *http.Server
}

func NewServer(st Store, fetcher Fetcher, cipher *crypto.Cipher, auditLog *audit.Logger, reg *prometheus.Registry, cfg Config, log logging.Logger) *Server {
	if cfg.DefaultFetchLimit <= 0 {
		cfg.DefaultFetchLimit = 50
	}

	s := &Server{
		store:         st,
		fetcher:       fetcher,
		cipher:        cipher,
		audit:         auditLog,
		cfg:           cfg,
		log:           log,
		createLimiter: newKeyedLimiter(cfg.CreateInboxRPS, int(cfg.CreateInboxRPS)+1),
		adminLimiter:  newKeyedLimiter(cfg.AdminRPS, int(cfg.AdminRPS)+1),
	}

	mux := http.NewServeMux()
	s.routes(mux)
	if reg != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	s.httpSrv = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/inboxes", s.rateLimited(s.createLimiter, clientIP, s.handleCreateInbox))

	mux.HandleFunc("GET /v1/inboxes/{id}/messages", s.withAuth(s.handleGetMessages))
	mux.HandleFunc("GET /v1/inboxes/{id}/messages/{uid}/attachments/{attachmentId}", s.withAuth(s.handleGetAttachment))
	mux.HandleFunc("POST /v1/inboxes/{id}/token:rotate", s.withAuth(s.handleRotateToken))
	mux.HandleFunc("DELETE /v1/inboxes/{id}", s.withAuth(s.handleDeleteInbox))

	mux.HandleFunc("POST /v1/admin/domains", s.rateLimited(s.adminLimiter, adminKey, s.requireAdminKey(s.handleCreateDomain)))
	mux.HandleFunc("GET /v1/admin/domains", s.rateLimited(s.adminLimiter, adminKey, s.requireAdminKey(s.handleListDomains)))
	mux.HandleFunc("PUT /v1/admin/domains/{id}", s.rateLimited(s.adminLimiter, adminKey, s.requireAdminKey(s.handleUpdateDomain)))
	mux.HandleFunc("DELETE /v1/admin/domains/{id}", s.rateLimited(s.adminLimiter, adminKey, s.requireAdminKey(s.handleDeleteDomain)))
	mux.HandleFunc("POST /v1/admin/generate", s.rateLimited(s.adminLimiter, adminKey, s.requireAdminKey(s.handleAdminGenerate)))
	mux.HandleFunc("GET /v1/admin/export", s.rateLimited(s.adminLimiter, adminKey, s.requireAdminKey(s.handleAdminExport)))
	mux.HandleFunc("GET /v1/admin/stats", s.rateLimited(s.adminLimiter, adminKey, s.requireAdminKey(s.handleAdminStats)))

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
}

func adminKey(r *http.Request) string {
	return r.Header.Get("X-Admin-Key")
}

// Start binds the listener and begins serving in the background,
// returning once bound so callers can rely on the address being live.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpSrv.Addr)
	if err != nil {
		return fmt.Errorf("httpapi: listen %s: %w", s.httpSrv.Addr, err)
	}
	s.log.Printf("httpapi: listening on %s", ln.Addr().String())

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("httpapi: server error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
	}()
	return nil
}

func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(ctx)
}

// withAuth runs the §4.H request-path auth state machine, then checks
// the path's :id against the authenticated inbox id (step 6) before
// calling next.
func (s *Server) withAuth(next func(w http.ResponseWriter, r *http.Request, inboxID string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		inboxID, err := token.Authenticate(r.Context(), s.store, r.Header.Get("Authorization"))
		if err != nil {
			WriteError(w, err, s.cfg.Debug)
			return
		}
		if pathID := r.PathValue("id"); pathID != inboxID {
			WriteError(w, authErrMismatch, s.cfg.Debug)
			return
		}
		next(w, r, inboxID)
	}
}
