package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/foxcpp/tempmailgw/internal/audit"
	"github.com/foxcpp/tempmailgw/internal/config"
	"github.com/foxcpp/tempmailgw/internal/crypto"
	"github.com/foxcpp/tempmailgw/internal/fetch"
	"github.com/foxcpp/tempmailgw/internal/logging"
	"github.com/foxcpp/tempmailgw/internal/store"
)

type fakeFetcher struct{}

func (fakeFetcher) Run(ctx context.Context, job fetch.Job) (fetch.Result, error) {
	return fetch.Result{}, nil
}

func newTestServer(t *testing.T, cfg Config) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open(config.Database{Driver: "sqlite", DSN: "file:" + t.Name() + "?mode=memory&cache=shared"})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ks, err := crypto.NewKeySource("test encryption passphrase")
	require.NoError(t, err)
	cipher, err := crypto.New(ks)
	require.NoError(t, err)

	auditLog := audit.New(st, logging.Logger{})

	if cfg.CreateInboxRPS == 0 {
		cfg.CreateInboxRPS = 100
	}
	if cfg.AdminRPS == 0 {
		cfg.AdminRPS = 100
	}
	if cfg.TokenDefaultTTL == 0 {
		cfg.TokenDefaultTTL = 600_000_000_000 // 10 minutes, in time.Duration nanoseconds
	}

	s := NewServer(st, fakeFetcher{}, cipher, auditLog, nil, cfg, logging.Logger{})
	return s, st
}

func doRequest(s *Server, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	mux := http.NewServeMux()
	s.routes(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndReady(t *testing.T) {
	s, _ := newTestServer(t, Config{})

	rec := doRequest(s, "GET", "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(s, "GET", "/ready", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateExternalInboxRejectsLoopbackHostInProduction(t *testing.T) {
	s, _ := newTestServer(t, Config{Debug: false})

	rec := doRequest(s, "POST", "/v1/inboxes", createInboxRequest{
		Mode: "external", Email: "user@example.org", POP3Host: "127.0.0.1", POP3Port: "995",
		Username: "user", Password: "pass",
	}, nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "VALIDATION_ERROR", body.Error.Code)
}

func TestCreateExternalInboxAllowsLoopbackHostInDebug(t *testing.T) {
	s, _ := newTestServer(t, Config{Debug: true})

	rec := doRequest(s, "POST", "/v1/inboxes", createInboxRequest{
		Mode: "external", Email: "user@example.org", POP3Host: "127.0.0.1", POP3Port: "995",
		Username: "user", Password: "pass",
	}, nil)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp createInboxResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	require.NotEmpty(t, resp.ID)
}

func TestCreateInboxRejectsUnknownMode(t *testing.T) {
	s, _ := newTestServer(t, Config{})

	rec := doRequest(s, "POST", "/v1/inboxes", createInboxRequest{Mode: "bogus"}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthenticatedEndpointRejectsMismatchedInboxID(t *testing.T) {
	s, _ := newTestServer(t, Config{Debug: true})

	createRec := doRequest(s, "POST", "/v1/inboxes", createInboxRequest{
		Mode: "external", Email: "victim@example.org", POP3Host: "127.0.0.1", POP3Port: "995",
		Username: "u", Password: "p",
	}, nil)
	require.Equal(t, http.StatusCreated, createRec.Code)
	var created createInboxResponse
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))

	rec := doRequest(s, "GET", "/v1/inboxes/some-other-inbox-id/messages", nil, map[string]string{
		"Authorization": "Bearer " + created.Token,
	})
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAuthenticatedEndpointAcceptsMatchingToken(t *testing.T) {
	s, _ := newTestServer(t, Config{Debug: true})

	createRec := doRequest(s, "POST", "/v1/inboxes", createInboxRequest{
		Mode: "external", Email: "owner@example.org", POP3Host: "127.0.0.1", POP3Port: "995",
		Username: "u", Password: "p",
	}, nil)
	require.Equal(t, http.StatusCreated, createRec.Code)
	var created createInboxResponse
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))

	rec := doRequest(s, "GET", "/v1/inboxes/"+created.ID+"/messages", nil, map[string]string{
		"Authorization": "Bearer " + created.Token,
	})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthenticatedEndpointRejectsMissingToken(t *testing.T) {
	s, _ := newTestServer(t, Config{Debug: true})

	rec := doRequest(s, "GET", "/v1/inboxes/some-id/messages", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateExternalInboxAcceptsPOP3URIHost(t *testing.T) {
	s, _ := newTestServer(t, Config{Debug: true})

	rec := doRequest(s, "POST", "/v1/inboxes", createInboxRequest{
		Mode: "external", Email: "uri@example.org", POP3Host: "pop3s://127.0.0.1:1995",
		Username: "user", Password: "pass",
	}, nil)

	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestGetAttachmentResolvesRouteUIDToMessage(t *testing.T) {
	s, st := newTestServer(t, Config{Debug: true})

	createRec := doRequest(s, "POST", "/v1/inboxes", createInboxRequest{
		Mode: "external", Email: "attach@example.org", POP3Host: "127.0.0.1", POP3Port: "995",
		Username: "u", Password: "p",
	}, nil)
	require.Equal(t, http.StatusCreated, createRec.Code)
	var created createInboxResponse
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))

	results, err := st.InsertMessages(context.Background(), []store.NewMessageParams{{
		InboxID: created.ID,
		UID:     "provider-uid-1",
		Subject: "hello",
		Attachments: []store.NewAttachmentParams{{
			Filename:    "notes.txt",
			ContentType: "text/plain",
			SizeBytes:   5,
			Checksum:    "deadbeef",
			Content:     []byte("hello"),
		}},
	}})
	require.NoError(t, err)
	require.True(t, results[0].Inserted)

	messages, err := st.FetchSince(context.Background(), created.ID, "", 10)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Len(t, messages[0].Attachments, 1)
	attachmentID := messages[0].Attachments[0].ID

	rec := doRequest(s, "GET", "/v1/inboxes/"+created.ID+"/messages/provider-uid-1/attachments/"+attachmentID, nil, map[string]string{
		"Authorization": "Bearer " + created.Token,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "hello", rec.Body.String())
}

func TestGetAttachmentRejectsUnknownUID(t *testing.T) {
	s, _ := newTestServer(t, Config{Debug: true})

	createRec := doRequest(s, "POST", "/v1/inboxes", createInboxRequest{
		Mode: "external", Email: "noattach@example.org", POP3Host: "127.0.0.1", POP3Port: "995",
		Username: "u", Password: "p",
	}, nil)
	require.Equal(t, http.StatusCreated, createRec.Code)
	var created createInboxResponse
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))

	rec := doRequest(s, "GET", "/v1/inboxes/"+created.ID+"/messages/does-not-exist/attachments/also-missing", nil, map[string]string{
		"Authorization": "Bearer " + created.Token,
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminEndpointRequiresKey(t *testing.T) {
	s, _ := newTestServer(t, Config{AdminKey: "supersecret"})

	rec := doRequest(s, "GET", "/v1/admin/domains", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(s, "GET", "/v1/admin/domains", nil, map[string]string{"X-Admin-Key": "supersecret"})
	require.Equal(t, http.StatusOK, rec.Code)
}
