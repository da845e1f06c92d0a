package smtpd

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/foxcpp/tempmailgw/internal/logging"
	"github.com/foxcpp/tempmailgw/internal/store"
)

type fakeStore struct {
	inboxes map[string]*store.Inbox
	inserts []store.NewMessageParams
	failIDs map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{inboxes: map[string]*store.Inbox{}, failIDs: map[string]bool{}}
}

func (f *fakeStore) GetInboxByEmail(ctx context.Context, email string) (*store.Inbox, error) {
	inbox, ok := f.inboxes[email]
	if !ok {
		return nil, errors.New("not found")
	}
	return inbox, nil
}

func (f *fakeStore) InsertMessage(ctx context.Context, p store.NewMessageParams) (string, bool, error) {
	if f.failIDs[p.InboxID] {
		return "", false, errors.New("insert failed")
	}
	f.inserts = append(f.inserts, p)
	return "msg-" + p.InboxID, true, nil
}

func newTestSession(st Store, domains []string) *Session {
	d := NewLocalDomains()
	d.Set(domains)
	b := NewBackend(st, d, Config{}, nil, logging.Logger{})
	return &Session{backend: b, log: logging.Logger{}}
}

func rawMessage(subject string) []byte {
	var buf bytes.Buffer
	buf.WriteString("From: sender@example.org\r\n")
	buf.WriteString("To: someone@example.org\r\n")
	buf.WriteString("Subject: " + subject + "\r\n")
	buf.WriteString("\r\n")
	buf.WriteString("hello there\r\n")
	return buf.Bytes()
}

func TestRcptRejectsUnknownDomain(t *testing.T) {
	st := newFakeStore()
	s := newTestSession(st, []string{"example.org"})

	err := s.Rcpt("user@not-local.org")
	require.Error(t, err)
	require.Contains(t, err.Error(), "Relay access denied")
}

func TestRcptRejectsUnknownMailbox(t *testing.T) {
	st := newFakeStore()
	s := newTestSession(st, []string{"example.org"})

	err := s.Rcpt("ghost@example.org")
	require.Error(t, err)
	require.Contains(t, err.Error(), "Unknown recipient")
}

func TestRcptAcceptsKnownMailboxCaseInsensitively(t *testing.T) {
	st := newFakeStore()
	st.inboxes["user@example.org"] = &store.Inbox{ID: "inbox-1"}
	s := newTestSession(st, []string{"example.org"})

	require.NoError(t, s.Rcpt("USER@EXAMPLE.ORG"))
	require.Len(t, s.rcpts, 1)
	require.Equal(t, "inbox-1", s.rcpts[0].inboxID)
}

func TestDataRejectsWithNoRecipients(t *testing.T) {
	st := newFakeStore()
	s := newTestSession(st, []string{"example.org"})

	err := s.Data(bytes.NewReader(rawMessage("hi")))
	require.Error(t, err)
	require.Contains(t, err.Error(), "No valid recipients")
}

func TestDataRejectsOversizeMessage(t *testing.T) {
	st := newFakeStore()
	st.inboxes["user@example.org"] = &store.Inbox{ID: "inbox-1"}
	s := newTestSession(st, []string{"example.org"})
	s.backend.cfg.MaxMessageSize = 10
	require.NoError(t, s.Rcpt("user@example.org"))

	err := s.Data(bytes.NewReader(rawMessage("this subject is way too long for the cap")))
	require.Error(t, err)
	require.Contains(t, err.Error(), "size exceeds limit")
}

func TestDataPersistsToEveryMatchedRecipient(t *testing.T) {
	st := newFakeStore()
	st.inboxes["a@example.org"] = &store.Inbox{ID: "inbox-a"}
	st.inboxes["b@example.org"] = &store.Inbox{ID: "inbox-b"}
	s := newTestSession(st, []string{"example.org"})

	require.NoError(t, s.Rcpt("a@example.org"))
	require.NoError(t, s.Rcpt("b@example.org"))

	require.NoError(t, s.Data(bytes.NewReader(rawMessage("shared message"))))
	require.Len(t, st.inserts, 2)
	require.ElementsMatch(t, []string{"inbox-a", "inbox-b"}, []string{st.inserts[0].InboxID, st.inserts[1].InboxID})
}

func TestDataSucceedsIfAtLeastOneRecipientInsertSucceeds(t *testing.T) {
	st := newFakeStore()
	st.inboxes["a@example.org"] = &store.Inbox{ID: "inbox-a"}
	st.inboxes["b@example.org"] = &store.Inbox{ID: "inbox-b"}
	st.failIDs["inbox-a"] = true
	s := newTestSession(st, []string{"example.org"})

	require.NoError(t, s.Rcpt("a@example.org"))
	require.NoError(t, s.Rcpt("b@example.org"))

	require.NoError(t, s.Data(bytes.NewReader(rawMessage("partial failure"))))
	require.Len(t, st.inserts, 1)
	require.Equal(t, "inbox-b", st.inserts[0].InboxID)
}

func TestDataFailsIfEveryRecipientInsertFails(t *testing.T) {
	st := newFakeStore()
	st.inboxes["a@example.org"] = &store.Inbox{ID: "inbox-a"}
	st.failIDs["inbox-a"] = true
	s := newTestSession(st, []string{"example.org"})

	require.NoError(t, s.Rcpt("a@example.org"))

	err := s.Data(bytes.NewReader(rawMessage("total failure")))
	require.Error(t, err)
	require.Contains(t, err.Error(), "Failed to store message")
}

func TestResetClearsMailStateBetweenTransactions(t *testing.T) {
	st := newFakeStore()
	st.inboxes["a@example.org"] = &store.Inbox{ID: "inbox-a"}
	s := newTestSession(st, []string{"example.org"})

	require.NoError(t, s.Mail("from@example.org", nil))
	require.NoError(t, s.Rcpt("a@example.org"))
	require.Len(t, s.rcpts, 1)

	s.Reset()
	require.Empty(t, s.mailFrom)
	require.Empty(t, s.rcpts)
}
