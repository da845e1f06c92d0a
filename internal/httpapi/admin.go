package httpapi

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/foxcpp/tempmailgw/internal/audit"
	"github.com/foxcpp/tempmailgw/internal/gatewayerr"
	"github.com/foxcpp/tempmailgw/internal/store"
)

type createDomainRequest struct {
	FQDN     string `json:"fqdn"`
	POP3Host string `json:"pop3_host"`
	POP3Port string `json:"pop3_port"`
	POP3TLS  bool   `json:"pop3_tls"`
	IsLocal  bool   `json:"is_local"`
}

type domainResponse struct {
	ID       string `json:"id"`
	FQDN     string `json:"fqdn"`
	POP3Host string `json:"pop3_host,omitempty"`
	POP3Port string `json:"pop3_port,omitempty"`
	POP3TLS  bool   `json:"pop3_tls,omitempty"`
	IsLocal  bool   `json:"is_local"`
	Active   bool   `json:"active"`
}

func toDomainResponse(d *store.Domain) domainResponse {
	return domainResponse{
		ID: d.ID, FQDN: d.FQDN, POP3Host: d.POP3Host, POP3Port: d.POP3Port,
		POP3TLS: d.POP3TLS, IsLocal: d.IsLocal, Active: d.Active,
	}
}

func (s *Server) handleCreateDomain(w http.ResponseWriter, r *http.Request) {
	var req createDomainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, gatewayerr.Validation("malformed request body"), s.cfg.Debug)
		return
	}
	if req.FQDN == "" {
		WriteError(w, gatewayerr.Validation("fqdn is required"), s.cfg.Debug)
		return
	}

	domain, err := s.store.CreateDomain(r.Context(), store.NewDomainParams{
		FQDN: req.FQDN, POP3Host: req.POP3Host, POP3Port: req.POP3Port,
		POP3TLS: req.POP3TLS, IsLocal: req.IsLocal,
	})
	if err != nil {
		WriteError(w, gatewayerr.Conflict("domain already exists"), s.cfg.Debug)
		return
	}

	s.audit.Record(r.Context(), audit.DomainCreated, nil, adminKey(r), map[string]interface{}{"fqdn": domain.FQDN})
	writeJSON(w, http.StatusCreated, toDomainResponse(domain))
}

func (s *Server) handleListDomains(w http.ResponseWriter, r *http.Request) {
	domains, err := s.store.ListDomains(r.Context())
	if err != nil {
		WriteError(w, gatewayerr.Internal("failed to list domains", err), s.cfg.Debug)
		return
	}
	out := make([]domainResponse, 0, len(domains))
	for i := range domains {
		out = append(out, toDomainResponse(&domains[i]))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"domains": out})
}

type updateDomainRequest struct {
	Active bool `json:"active"`
}

func (s *Server) handleUpdateDomain(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req updateDomainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, gatewayerr.Validation("malformed request body"), s.cfg.Debug)
		return
	}
	if err := s.store.UpdateDomain(r.Context(), id, req.Active); err != nil {
		WriteError(w, gatewayerr.Internal("failed to update domain", err), s.cfg.Debug)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// handleDeleteDomain refuses to delete a domain with active inboxes
// still pointing at it (§3 Ownership policy).
func (s *Server) handleDeleteDomain(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx := r.Context()

	count, err := s.store.CountActiveInboxesForDomain(ctx, id)
	if err != nil {
		WriteError(w, gatewayerr.Internal("failed to check domain usage", err), s.cfg.Debug)
		return
	}
	if count > 0 {
		WriteError(w, gatewayerr.Conflict("domain has active inboxes and cannot be deleted"), s.cfg.Debug)
		return
	}

	if err := s.store.DeleteDomain(ctx, id); err != nil {
		WriteError(w, gatewayerr.Internal("failed to delete domain", err), s.cfg.Debug)
		return
	}
	s.audit.Record(ctx, audit.DomainDeleted, nil, adminKey(r), map[string]interface{}{"domain_id": id})
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type adminGenerateRequest struct {
	DomainID string `json:"domain_id"`
	Count    int    `json:"count"`
}

type adminGenerateResponse struct {
	Created int      `json:"created"`
	Emails  []string `json:"emails"`
}

// handleAdminGenerate bulk-creates generated inboxes against one
// domain, round-robin isn't needed here since the domain is explicit;
// each address gets its own random local part and an empty password.
func (s *Server) handleAdminGenerate(w http.ResponseWriter, r *http.Request) {
	var req adminGenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, gatewayerr.Validation("malformed request body"), s.cfg.Debug)
		return
	}
	if req.DomainID == "" || req.Count <= 0 {
		WriteError(w, gatewayerr.Validation("domain_id and a positive count are required"), s.cfg.Debug)
		return
	}

	ctx := r.Context()
	domain, err := s.store.GetDomain(ctx, req.DomainID)
	if err != nil {
		WriteError(w, gatewayerr.NotFound("domain not found"), s.cfg.Debug)
		return
	}
	if !domain.Active {
		WriteError(w, gatewayerr.Validation("domain is not active"), s.cfg.Debug)
		return
	}

	emails := make([]string, 0, req.Count)
	for i := 0; i < req.Count; i++ {
		local, err := randomLocalPart()
		if err != nil {
			break
		}
		email := local + "@" + domain.FQDN

		usernameEnc, err := s.cipher.Encrypt([]byte(local))
		if err != nil {
			break
		}
		passwordEnc, err := s.cipher.Encrypt(nil)
		if err != nil {
			break
		}

		domainID := domain.ID
		_, err = s.store.CreateInbox(ctx, store.NewInboxParams{
			Email: email, Type: store.InboxGenerated,
			POP3Host: domain.POP3Host, POP3Port: domain.POP3Port, POP3TLS: domain.POP3TLS,
			UsernameEnc: usernameEnc, PasswordEnc: passwordEnc,
			DomainID: &domainID, CreatorAddr: adminKey(r),
		})
		if err != nil {
			continue
		}
		emails = append(emails, email)
	}

	if _, err := s.store.CreateBulkGeneration(ctx, domain.ID, req.Count, len(emails), adminKey(r)); err != nil {
		s.log.Error("httpapi: failed to record bulk generation", err, "domain_id", domain.ID)
	}
	s.audit.Record(ctx, audit.AdminBulkGenerate, nil, adminKey(r), map[string]interface{}{"domain_id": domain.ID, "created": len(emails)})

	writeJSON(w, http.StatusCreated, adminGenerateResponse{Created: len(emails), Emails: emails})
}

// handleAdminExport dumps every generated inbox's email:password pair,
// decrypting the stored password with s.cipher. Format is one of
// text|json|csv, text by default.
func (s *Server) handleAdminExport(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "text"
	}

	inboxes, err := s.store.ListGeneratedInboxes(r.Context())
	if err != nil {
		WriteError(w, gatewayerr.Internal("failed to list generated inboxes", err), s.cfg.Debug)
		return
	}

	type pair struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	pairs := make([]pair, 0, len(inboxes))
	for _, inbox := range inboxes {
		password, err := s.cipher.Decrypt(inbox.PasswordEnc)
		if err != nil {
			s.log.Error("httpapi: failed to decrypt password for export", err, "inbox_id", inbox.ID)
			continue
		}
		pairs = append(pairs, pair{Email: inbox.Email, Password: string(password)})
	}

	switch format {
	case "json":
		writeJSON(w, http.StatusOK, map[string]interface{}{"inboxes": pairs})
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		cw := csv.NewWriter(w)
		_ = cw.Write([]string{"email", "password"})
		for _, p := range pairs {
			_ = cw.Write([]string{p.Email, p.Password})
		}
		cw.Flush()
	default:
		w.Header().Set("Content-Type", "text/plain")
		for _, p := range pairs {
			fmt.Fprintf(w, "%s:%s\n", p.Email, p.Password)
		}
	}
}

func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		WriteError(w, gatewayerr.Internal("failed to load stats", err), s.cfg.Debug)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
