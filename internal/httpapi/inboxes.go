package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/foxcpp/tempmailgw/internal/addrutil"
	"github.com/foxcpp/tempmailgw/internal/audit"
	"github.com/foxcpp/tempmailgw/internal/fetch"
	"github.com/foxcpp/tempmailgw/internal/gatewayerr"
	"github.com/foxcpp/tempmailgw/internal/store"
	"github.com/foxcpp/tempmailgw/internal/token"
)

// createInboxRequest is the body of POST /v1/inboxes. Mode selects
// which fields are required: "external" needs the real mailbox's POP3
// coordinates and credentials; "generated" needs only an optional
// domain id (the first active domain is picked when omitted).
type createInboxRequest struct {
	Mode       string `json:"mode"`
	Email      string `json:"email,omitempty"`
	POP3Host   string `json:"pop3_host,omitempty"`
	POP3Port   string `json:"pop3_port,omitempty"`
	POP3TLS    bool   `json:"pop3_tls,omitempty"`
	Username   string `json:"username,omitempty"`
	Password   string `json:"password,omitempty"`
	DomainID   string `json:"domain_id,omitempty"`
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
}

type createInboxResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Server) handleCreateInbox(w http.ResponseWriter, r *http.Request) {
	var req createInboxRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, gatewayerr.Validation("malformed request body"), s.cfg.Debug)
		return
	}

	ctx := r.Context()
	var inbox *store.Inbox
	var err error

	switch req.Mode {
	case "external":
		inbox, err = s.createExternalInbox(ctx, req, clientIP(r))
	case "generated":
		inbox, err = s.createGeneratedInbox(ctx, req, clientIP(r))
	default:
		err = gatewayerr.Validation("mode must be \"external\" or \"generated\"")
	}
	if err != nil {
		WriteError(w, err, s.cfg.Debug)
		return
	}

	ttl := token.ClampTTLWithBounds(time.Duration(req.TTLSeconds)*time.Second, s.cfg.TokenDefaultTTL, s.cfg.TokenMaxTTL)
	raw, expiresAt, err := token.Issue(ctx, s.store, inbox.ID, clientIP(r), ttl)
	if err != nil {
		WriteError(w, err, s.cfg.Debug)
		return
	}

	s.audit.Record(ctx, audit.InboxCreated, &inbox.ID, clientIP(r), map[string]interface{}{"mode": req.Mode, "email": inbox.Email})
	s.audit.Record(ctx, audit.TokenIssued, &inbox.ID, clientIP(r), nil)

	writeJSON(w, http.StatusCreated, createInboxResponse{ID: inbox.ID, Email: inbox.Email, Token: raw, ExpiresAt: expiresAt})
}

func (s *Server) createExternalInbox(ctx context.Context, req createInboxRequest, callerAddr string) (*store.Inbox, error) {
	if req.Email == "" || req.POP3Host == "" || req.Username == "" || req.Password == "" {
		return nil, gatewayerr.Validation("email, pop3_host, username and password are required for mode=external")
	}

	host, port, tls, err := resolvePOP3Endpoint(req)
	if err != nil {
		return nil, gatewayerr.Validation("pop3_host: %s", err)
	}

	// §8 S3: reject loopback/private POP3 hosts outside development. Runs
	// against the resolved host, not the raw pop3_host field, so a
	// pop3://127.0.0.1:995 URI can't slip past the string check a bare
	// "127.0.0.1" would be caught by.
	if !s.cfg.Debug && addrutil.IsLoopbackOrPrivate(host) {
		return nil, gatewayerr.Validation("pop3_host must not be a loopback or private address")
	}

	usernameEnc, err := s.cipher.Encrypt([]byte(req.Username))
	if err != nil {
		return nil, gatewayerr.Encryption("failed to encrypt username", err)
	}
	passwordEnc, err := s.cipher.Encrypt([]byte(req.Password))
	if err != nil {
		return nil, gatewayerr.Encryption("failed to encrypt password", err)
	}

	inbox, err := s.store.CreateInbox(ctx, store.NewInboxParams{
		Email:       req.Email,
		Type:        store.InboxExternal,
		POP3Host:    host,
		POP3Port:    port,
		POP3TLS:     tls,
		UsernameEnc: usernameEnc,
		PasswordEnc: passwordEnc,
		CreatorAddr: callerAddr,
		TTLSeconds:  req.TTLSeconds,
	})
	if err != nil {
		return nil, gatewayerr.Conflict("inbox with that email already exists")
	}
	return inbox, nil
}

// resolvePOP3Endpoint accepts pop3_host either as a bare host (paired
// with the separate pop3_port/pop3_tls fields, §8 S3's example form) or
// as a single "pop3[s]://host[:port]" URI that folds all three into one
// field. req.POP3TLS/POP3Port still take precedence when the host is
// bare, preserving the existing separate-fields contract.
func resolvePOP3Endpoint(req createInboxRequest) (host, port string, tls bool, err error) {
	if !strings.Contains(req.POP3Host, "://") {
		port = req.POP3Port
		if port == "" {
			port = "995"
		}
		return req.POP3Host, port, req.POP3TLS, nil
	}

	ep, err := addrutil.ParseEndpoint(req.POP3Host)
	if err != nil {
		return "", "", false, err
	}
	port = req.POP3Port
	if port == "" {
		port = ep.Port
	}
	return ep.Host, port, ep.TLS() || req.POP3TLS, nil
}

func (s *Server) createGeneratedInbox(ctx context.Context, req createInboxRequest, callerAddr string) (*store.Inbox, error) {
	var domain *store.Domain
	var err error

	if req.DomainID != "" {
		domain, err = s.store.GetDomain(ctx, req.DomainID)
		if err != nil {
			return nil, gatewayerr.NotFound("domain not found")
		}
	} else {
		domains, err2 := s.store.ListDomains(ctx)
		if err2 != nil {
			return nil, gatewayerr.Internal("failed to list domains", err2)
		}
		domain = pickActiveDomain(domains)
		if domain == nil {
			return nil, gatewayerr.Validation("no active domain available for a generated inbox")
		}
	}
	if !domain.Active {
		return nil, gatewayerr.Validation("domain is not active")
	}

	local, err := randomLocalPart()
	if err != nil {
		return nil, gatewayerr.Internal("failed to generate local part", err)
	}
	email := local + "@" + domain.FQDN

	usernameEnc, err := s.cipher.Encrypt([]byte(local))
	if err != nil {
		return nil, gatewayerr.Encryption("failed to encrypt username", err)
	}
	passwordEnc, err := s.cipher.Encrypt(nil)
	if err != nil {
		return nil, gatewayerr.Encryption("failed to encrypt password", err)
	}

	domainID := domain.ID
	inbox, err := s.store.CreateInbox(ctx, store.NewInboxParams{
		Email:       email,
		Type:        store.InboxGenerated,
		POP3Host:    domain.POP3Host,
		POP3Port:    domain.POP3Port,
		POP3TLS:     domain.POP3TLS,
		UsernameEnc: usernameEnc,
		PasswordEnc: passwordEnc,
		DomainID:    &domainID,
		CreatorAddr: callerAddr,
		TTLSeconds:  req.TTLSeconds,
	})
	if err != nil {
		return nil, gatewayerr.Conflict("failed to allocate a unique generated address")
	}
	return inbox, nil
}

func pickActiveDomain(domains []store.Domain) *store.Domain {
	for i := range domains {
		if domains[i].Active {
			return &domains[i]
		}
	}
	return nil
}

func randomLocalPart() (string, error) {
	buf := make([]byte, 10)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

type messageResponse struct {
	ID         string               `json:"id"`
	UID        string               `json:"uid"`
	MessageID  string               `json:"message_id,omitempty"`
	Sender     string               `json:"sender"`
	Subject    string               `json:"subject"`
	TextBody   string               `json:"text_body"`
	HTMLBody   string               `json:"html_body"`
	SizeBytes  int                  `json:"size_bytes"`
	ReceivedAt time.Time            `json:"received_at"`
	FetchedAt  time.Time            `json:"fetched_at"`
	Attachments []attachmentSummary `json:"attachments"`
}

type attachmentSummary struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	SizeBytes   int    `json:"size_bytes"`
}

// handleGetMessages implements GET /v1/inboxes/{id}/messages. A POP3
// failure while fetch_new=true never fails the request (§7 propagation
// policy): it is logged and the handler still returns whatever is
// already cached.
func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request, inboxID string) {
	ctx := r.Context()
	q := r.URL.Query()

	limit := s.cfg.DefaultFetchLimit
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	if q.Get("fetch_new") == "true" {
		if _, err := s.fetcher.Run(ctx, fetch.Job{InboxID: inboxID, SinceUID: q.Get("since_uid"), Limit: limit}); err != nil {
			s.log.Error("httpapi: fetch_new trigger failed, returning cached messages", err, "inbox_id", inboxID)
		}
	}

	messages, err := s.store.FetchSince(ctx, inboxID, q.Get("since_uid"), limit)
	if err != nil {
		WriteError(w, gatewayerr.Internal("failed to load messages", err), s.cfg.Debug)
		return
	}

	out := make([]messageResponse, 0, len(messages))
	for _, m := range messages {
		attachments := make([]attachmentSummary, 0, len(m.Attachments))
		for _, a := range m.Attachments {
			attachments = append(attachments, attachmentSummary{ID: a.ID, Filename: a.Filename, ContentType: a.ContentType, SizeBytes: a.SizeBytes})
		}
		out = append(out, messageResponse{
			ID: m.ID, UID: m.UID, MessageID: m.MessageID, Sender: m.SenderAddress,
			Subject: m.Subject, TextBody: m.TextBody, HTMLBody: m.HTMLBody,
			SizeBytes: m.SizeBytes, ReceivedAt: m.ReceivedAt, FetchedAt: m.FetchedAt,
			Attachments: attachments,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": out})
}

// handleGetAttachment implements the binary download endpoint. The
// route's {uid} segment is the provider-assigned uid (messageResponse.UID),
// not the internal message row id attachments are keyed by, so it must
// be resolved against the owning inbox first.
func (s *Server) handleGetAttachment(w http.ResponseWriter, r *http.Request, inboxID string) {
	uid := r.PathValue("uid")
	attachmentID := r.PathValue("attachmentId")

	msg, err := s.store.GetMessageByUID(r.Context(), inboxID, uid)
	if err != nil {
		WriteError(w, gatewayerr.NotFound("message not found"), s.cfg.Debug)
		return
	}

	a, err := s.store.GetAttachment(r.Context(), inboxID, msg.ID, attachmentID)
	if err != nil {
		WriteError(w, gatewayerr.NotFound("attachment not found"), s.cfg.Debug)
		return
	}

	w.Header().Set("Content-Type", a.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", a.Filename))
	w.Header().Set("X-Checksum-SHA256", a.ChecksumSHA256)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(a.Content)
}

type rotateTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Server) handleRotateToken(w http.ResponseWriter, r *http.Request, inboxID string) {
	ctx := r.Context()
	ttl := token.ClampTTLWithBounds(0, s.cfg.TokenDefaultTTL, s.cfg.TokenMaxTTL)

	raw, expiresAt, err := token.Rotate(ctx, s.store, inboxID, clientIP(r), ttl)
	if err != nil {
		WriteError(w, err, s.cfg.Debug)
		return
	}

	s.audit.Record(ctx, audit.TokenRotated, &inboxID, clientIP(r), nil)
	writeJSON(w, http.StatusOK, rotateTokenResponse{Token: raw, ExpiresAt: expiresAt})
}

func (s *Server) handleDeleteInbox(w http.ResponseWriter, r *http.Request, inboxID string) {
	ctx := r.Context()
	if err := s.store.DeleteInboxCascade(ctx, inboxID); err != nil {
		WriteError(w, gatewayerr.Internal("failed to delete inbox", err), s.cfg.Debug)
		return
	}
	s.audit.Record(ctx, audit.InboxDeleted, &inboxID, clientIP(r), nil)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
