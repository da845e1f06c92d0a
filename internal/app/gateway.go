// Package app is the gateway's composition root (component "app" in
// §9): it owns the startup/shutdown lifecycle ordering of every other
// component and the background loops (token sweep, local-domain cache
// refresh) that don't belong inside a request handler.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/foxcpp/tempmailgw/internal/audit"
	"github.com/foxcpp/tempmailgw/internal/config"
	"github.com/foxcpp/tempmailgw/internal/crypto"
	"github.com/foxcpp/tempmailgw/internal/fetch"
	"github.com/foxcpp/tempmailgw/internal/httpapi"
	"github.com/foxcpp/tempmailgw/internal/logging"
	"github.com/foxcpp/tempmailgw/internal/metrics"
	"github.com/foxcpp/tempmailgw/internal/mimeparse"
	"github.com/foxcpp/tempmailgw/internal/pop3pool"
	"github.com/foxcpp/tempmailgw/internal/smtpd"
	"github.com/foxcpp/tempmailgw/internal/store"
	"github.com/foxcpp/tempmailgw/internal/token"
)

// Gateway wires every component together and owns the order they start
// and stop in: encryption key, DB pool, local-domain cache, POP3 pool,
// fetch worker, SMTP receiver, HTTP server. Shutdown closes the SMTP
// receiver, then the HTTP server, then the DB pool.
type Gateway struct {
	cfg *config.Config
	log logging.Logger

	store   *store.Store
	cipher  *crypto.Cipher
	metrics *metrics.Metrics
	domains *smtpd.LocalDomains

	pop3Pool *pop3pool.Pool
	fetcher  *fetch.Worker

	smtpBackend *smtpd.Backend
	smtpSrv     *smtpServer

	httpSrv *httpapi.Server

	cancelBackground context.CancelFunc
}

// smtpServer adapts *go-smtp.Server's ListenAndServe/Close pair to the
// Start(log)/Stop() shape every other component in Gateway exposes.
type smtpServer struct {
	srv interface {
		ListenAndServe() error
		Close() error
	}
}

func (s *smtpServer) Start(log logging.Logger) {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil {
			log.Error("smtpd: listener exited", err)
		}
	}()
}

func (s *smtpServer) Stop() error {
	return s.srv.Close()
}

// New builds every component but starts nothing.
func New(cfg *config.Config, log logging.Logger) (*Gateway, error) {
	ks, err := crypto.NewKeySource(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	cipher, err := crypto.New(ks)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	domains := smtpd.NewLocalDomains()

	pool := pop3pool.New(pop3pool.Config{
		MaxConcurrent:  cfg.Pool.MaxConcurrent,
		MaxRetries:     cfg.Pool.MaxRetries,
		BackoffBase:    cfg.Pool.BackoffBase,
		ThrottleWindow: cfg.Pool.ThrottleWindow,
		ConnectTimeout: cfg.Pool.ConnectTimeout,
		CommandTimeout: cfg.Pool.CommandTimeout,
	}, m, named(log, "pop3pool"))

	limits := mimeparse.Limits{
		MaxAttachmentBytes: cfg.Fetch.MaxAttachmentBytes,
		MaxHTMLBytes:       cfg.Fetch.MaxHTMLBytes,
	}

	fetcher := fetch.New(pool, st, cipher, fetch.Config{
		MaxFetch: cfg.Fetch.MaxFetch,
		Limits:   limits,
	}, m, named(log, "fetch"))

	var smtpSrv *smtpServer
	backend := smtpd.NewBackend(st, domains, smtpd.Config{
		Banner:         cfg.SMTP.Banner,
		MaxMessageSize: cfg.SMTP.MaxMessageSize,
		Limits:         limits,
	}, m, named(log, "smtpd"))
	if cfg.SMTP.Enabled {
		smtpSrv = &smtpServer{srv: smtpd.NewServer(backend, cfg.SMTP.ListenAddr)}
	}

	auditLog := audit.New(st, named(log, "audit"))

	httpSrv := httpapi.NewServer(st, fetcher, cipher, auditLog, reg, httpapi.Config{
		ListenAddr:        cfg.HTTP.ListenAddr,
		AdminKey:          cfg.HTTP.AdminKey,
		CreateInboxRPS:    cfg.HTTP.CreateInboxRPS,
		AdminRPS:          cfg.HTTP.AdminRPS,
		Debug:             cfg.Debug,
		TokenDefaultTTL:   cfg.Token.DefaultTTL,
		TokenMaxTTL:       cfg.Token.MaxTTL,
		DefaultFetchLimit: cfg.Fetch.MaxFetch,
	}, named(log, "httpapi"))

	return &Gateway{
		cfg: cfg, log: log,
		store: st, cipher: cipher, metrics: m, domains: domains,
		pop3Pool: pool, fetcher: fetcher,
		smtpBackend: backend, smtpSrv: smtpSrv,
		httpSrv: httpSrv,
	}, nil
}

// Start brings up the background loops and every network listener, in
// the order a cold start needs them available: the domain cache must
// be populated before SMTP starts accepting RCPT TO, and the token
// sweep can run from the very start since it only marks active tokens
// past their expiry as expired.
func (g *Gateway) Start(ctx context.Context) error {
	bgCtx, cancel := context.WithCancel(ctx)
	g.cancelBackground = cancel

	if err := g.refreshDomains(bgCtx); err != nil {
		cancel()
		return fmt.Errorf("app: initial domain cache load: %w", err)
	}
	go g.domainRefreshLoop(bgCtx)
	go token.Sweeper(bgCtx, g.store, g.cfg.Token.SweepInterval, func(n int64) {
		if n > 0 {
			g.metrics.TokenSweep.Add(float64(n))
			g.log.Printf("app: swept %d expired tokens", n)
		}
	})

	if g.smtpSrv != nil {
		g.smtpSrv.Start(g.log)
	}

	if err := g.httpSrv.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("app: starting http server: %w", err)
	}

	return nil
}

// Stop tears components down: SMTP receiver, HTTP server, background
// loops, then the DB pool.
func (g *Gateway) Stop() error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if g.smtpSrv != nil {
		record(g.smtpSrv.Stop())
	}
	record(g.httpSrv.Stop())
	if g.cancelBackground != nil {
		g.cancelBackground()
	}
	record(g.store.Close())

	return firstErr
}

func (g *Gateway) refreshDomains(ctx context.Context) error {
	names, err := g.store.ActiveLocalDomains(ctx)
	if err != nil {
		return err
	}
	g.domains.Set(names)
	return nil
}

func (g *Gateway) domainRefreshLoop(ctx context.Context) {
	interval := g.cfg.SMTP.LocalDomainRefresh
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := g.refreshDomains(ctx); err != nil {
				g.log.Error("app: failed to refresh local domain cache", err)
			}
		}
	}
}

// named returns a copy of l scoped to a child component name, joined
// with l's own name the way endpoint loggers elsewhere in the gateway
// nest (e.g. "smtp/tempmailgw" becomes "smtp/tempmailgw/fetch").
func named(l logging.Logger, name string) logging.Logger {
	if l.Name != "" {
		l.Name = l.Name + "/" + name
	} else {
		l.Name = name
	}
	return l
}
