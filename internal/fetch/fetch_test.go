package fetch

import (
	"bufio"
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/foxcpp/tempmailgw/internal/crypto"
	"github.com/foxcpp/tempmailgw/internal/logging"
	"github.com/foxcpp/tempmailgw/internal/pop3pool"
	"github.com/foxcpp/tempmailgw/internal/store"
)

// fakePOP3Server speaks just enough RFC 1939 to drive Worker.Run: it
// lists two messages by UIDL and serves their raw bodies over RETR.
func fakePOP3Server(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				r := bufio.NewReader(conn)
				w := bufio.NewWriter(conn)
				write := func(s string) { w.WriteString(s + "\r\n"); w.Flush() }

				write("+OK fake pop3 ready")
				for {
					line, err := r.ReadString('\n')
					if err != nil {
						return
					}
					switch {
					case hasPrefix(line, "USER"), hasPrefix(line, "PASS"):
						write("+OK")
					case hasPrefix(line, "UIDL"):
						write("+OK")
						write("1 uid-1")
						write("2 uid-2")
						write(".")
					case hasPrefix(line, "RETR 1"):
						write("+OK")
						write("Subject: first")
						write("")
						write("body one")
						write(".")
					case hasPrefix(line, "RETR 2"):
						write("+OK")
						write("Subject: second")
						write("")
						write("body two")
						write(".")
					case hasPrefix(line, "QUIT"):
						write("+OK bye")
						return
					default:
						write("-ERR unknown command")
					}
				}
			}()
		}
	}()

	return ln.Addr().String()
}

func hasPrefix(line, cmd string) bool {
	return len(line) >= len(cmd) && line[:len(cmd)] == cmd
}

type fakeStore struct {
	inbox        *store.Inbox
	inserted     []store.NewMessageParams
	advancedTo   string
	batchFails   bool
	conflictUIDs map[string]bool
}

func (f *fakeStore) GetInbox(ctx context.Context, id string) (*store.Inbox, error) {
	if f.inbox == nil || f.inbox.ID != id {
		return nil, errors.New("not found")
	}
	return f.inbox, nil
}

func (f *fakeStore) InsertMessages(ctx context.Context, params []store.NewMessageParams) ([]store.MessageInsertResult, error) {
	if f.batchFails {
		return nil, errors.New("batch insert failed")
	}
	results := make([]store.MessageInsertResult, 0, len(params))
	for _, p := range params {
		if f.conflictUIDs[p.UID] {
			results = append(results, store.MessageInsertResult{UID: p.UID})
			continue
		}
		f.inserted = append(f.inserted, p)
		results = append(results, store.MessageInsertResult{UID: p.UID, ID: "msg-" + p.UID, Inserted: true})
	}
	return results, nil
}

func (f *fakeStore) AdvanceCursor(ctx context.Context, inboxID, uid string) error {
	f.advancedTo = uid
	return nil
}

func testCipher(t *testing.T) *crypto.Cipher {
	t.Helper()
	ks, err := crypto.NewKeySource("test passphrase")
	require.NoError(t, err)
	c, err := crypto.New(ks)
	require.NoError(t, err)
	return c
}

func mustEncrypt(t *testing.T, c *crypto.Cipher, plain string) string {
	t.Helper()
	enc, err := c.Encrypt([]byte(plain))
	require.NoError(t, err)
	return enc
}

func newTestWorker(t *testing.T, st Store, cipher *crypto.Cipher) *Worker {
	pool := pop3pool.New(pop3pool.Config{MaxConcurrent: 2, MaxRetries: 1}, nil, logging.Logger{})
	return New(pool, st, cipher, Config{MaxFetch: 50}, nil, logging.Logger{})
}

func TestRunFetchesAndInsertsNewMessages(t *testing.T) {
	addr := fakePOP3Server(t)
	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)

	cipher := testCipher(t)
	st := &fakeStore{
		inbox: &store.Inbox{
			ID: "inbox-1", Status: store.InboxActive,
			POP3Host: host, POP3Port: port,
			UsernameEnc: mustEncrypt(t, cipher, "user"),
			PasswordEnc: mustEncrypt(t, cipher, "pass"),
		},
	}
	w := newTestWorker(t, st, cipher)

	result, err := w.Run(context.Background(), Job{InboxID: "inbox-1"})
	require.NoError(t, err)
	require.Equal(t, 2, result.Fetched)
	require.Equal(t, 2, result.Inserted)
	require.Len(t, st.inserted, 2)
	require.Equal(t, "uid-2", st.advancedTo, "cursor advances to the last processed UID")
}

func TestRunSkipsAlreadySeenMessagesViaSinceUID(t *testing.T) {
	addr := fakePOP3Server(t)
	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)

	cipher := testCipher(t)
	lastSeen := "uid-1"
	st := &fakeStore{
		inbox: &store.Inbox{
			ID: "inbox-1", Status: store.InboxActive,
			POP3Host: host, POP3Port: port,
			UsernameEnc: mustEncrypt(t, cipher, "user"),
			PasswordEnc: mustEncrypt(t, cipher, "pass"),
			LastSeenUID: &lastSeen,
		},
	}
	w := newTestWorker(t, st, cipher)

	result, err := w.Run(context.Background(), Job{InboxID: "inbox-1"})
	require.NoError(t, err)
	require.Equal(t, 1, result.Fetched, "only the message after the stored cursor is new")
	require.Equal(t, 1, result.Inserted)
	require.Equal(t, "uid-2", st.inserted[0].UID)
}

func TestRunRejectsInactiveInbox(t *testing.T) {
	cipher := testCipher(t)
	st := &fakeStore{
		inbox: &store.Inbox{ID: "inbox-1", Status: store.InboxSuspended},
	}
	w := newTestWorker(t, st, cipher)

	_, err := w.Run(context.Background(), Job{InboxID: "inbox-1"})
	require.Error(t, err)
}

func TestRunReturnsNotFoundForUnknownInbox(t *testing.T) {
	cipher := testCipher(t)
	st := &fakeStore{}
	w := newTestWorker(t, st, cipher)

	_, err := w.Run(context.Background(), Job{InboxID: "does-not-exist"})
	require.Error(t, err)
}

// TestRunFailsWholeJobWhenBatchInsertFails proves the batch is
// all-or-nothing: a storage failure fails the whole job and the cursor
// must not move, rather than silently advancing past messages that
// were never actually persisted.
func TestRunFailsWholeJobWhenBatchInsertFails(t *testing.T) {
	addr := fakePOP3Server(t)
	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)

	cipher := testCipher(t)
	st := &fakeStore{
		inbox: &store.Inbox{
			ID: "inbox-1", Status: store.InboxActive,
			POP3Host: host, POP3Port: port,
			UsernameEnc: mustEncrypt(t, cipher, "user"),
			PasswordEnc: mustEncrypt(t, cipher, "pass"),
		},
		batchFails: true,
	}
	w := newTestWorker(t, st, cipher)

	_, err = w.Run(context.Background(), Job{InboxID: "inbox-1"})
	require.Error(t, err)
	require.Empty(t, st.advancedTo, "cursor must not advance when the batch insert fails")
}

// TestRunAdvancesCursorToLastFetchedUIDRegardlessOfConflicts proves the
// cursor advances to the UID of the last fetched message unconditionally
// (spec §4.E step 6), even when that last message (or any other in the
// batch) turned out to already exist and wasn't actually inserted. A
// prior version of this worker only advanced the cursor to the last
// successfully-inserted UID, which would get stuck short of the
// provider's listing if the last message were a duplicate.
func TestRunAdvancesCursorToLastFetchedUIDRegardlessOfConflicts(t *testing.T) {
	addr := fakePOP3Server(t)
	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)

	cipher := testCipher(t)
	st := &fakeStore{
		inbox: &store.Inbox{
			ID: "inbox-1", Status: store.InboxActive,
			POP3Host: host, POP3Port: port,
			UsernameEnc: mustEncrypt(t, cipher, "user"),
			PasswordEnc: mustEncrypt(t, cipher, "pass"),
		},
		conflictUIDs: map[string]bool{"uid-1": true, "uid-2": true},
	}
	w := newTestWorker(t, st, cipher)

	result, err := w.Run(context.Background(), Job{InboxID: "inbox-1"})
	require.NoError(t, err)
	require.Equal(t, 2, result.Fetched)
	require.Equal(t, 0, result.Inserted, "both messages already existed")
	require.Equal(t, "uid-2", st.advancedTo, "cursor still advances to the last fetched uid")
}
