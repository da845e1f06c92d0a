// Package fetch implements the POP3 polling worker (component E, §4.E):
// resolve an inbox's credentials, diff the provider's UIDL listing
// against the stored cursor, retrieve and parse the new messages, and
// commit them with a "bounded fan-out, join, then single transaction"
// shape: every message in a job is parsed concurrently, then inserted
// together in one transaction so a job's messages commit or fail as a
// unit.
package fetch

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/foxcpp/tempmailgw/internal/crypto"
	"github.com/foxcpp/tempmailgw/internal/gatewayerr"
	"github.com/foxcpp/tempmailgw/internal/logging"
	"github.com/foxcpp/tempmailgw/internal/mimeparse"
	"github.com/foxcpp/tempmailgw/internal/pop3"
	"github.com/foxcpp/tempmailgw/internal/pop3pool"
	"github.com/foxcpp/tempmailgw/internal/store"
)

// Store is the persistence surface the fetch worker needs.
type Store interface {
	GetInbox(ctx context.Context, id string) (*store.Inbox, error)
	InsertMessages(ctx context.Context, p []store.NewMessageParams) ([]store.MessageInsertResult, error)
	AdvanceCursor(ctx context.Context, inboxID, uid string) error
}

// Recorder receives worker-level metrics (component J).
type Recorder interface {
	IncFetchJob()
	IncFetchMessages(n int)
}

type noopRecorder struct{}

func (noopRecorder) IncFetchJob()         {}
func (noopRecorder) IncFetchMessages(int) {}

// Job describes one polling request. SinceUID and Limit are optional
// overrides of the inbox's stored cursor and the worker's default page
// size, used by the on-demand "check now" HTTP path; left zero, they
// keep the stored cursor and the default page size.
type Job struct {
	InboxID  string
	SinceUID string
	Limit    int
}

// Result summarizes what a job actually did, for the caller's audit
// record and HTTP response.
type Result struct {
	Fetched  int
	Inserted int
}

// Worker runs Jobs against the POP3 pool and the store.
type Worker struct {
	pool      *pop3pool.Pool
	store     Store
	cipher    *crypto.Cipher
	limits    mimeparse.Limits
	maxFetch  int
	parseGate *semaphore.Weighted
	keyed     *keyedMutex
	rec       Recorder
	log       logging.Logger
}

// Config bounds what a single job is allowed to pull and parse.
type Config struct {
	MaxFetch           int // §4.E default page size when Job.Limit is unset
	MaxParseConcurrent int // bound on simultaneously-parsing goroutines per job
	Limits             mimeparse.Limits
}

func (c Config) withDefaults() Config {
	if c.MaxFetch <= 0 {
		c.MaxFetch = 50
	}
	if c.MaxParseConcurrent <= 0 {
		c.MaxParseConcurrent = 4
	}
	return c
}

func New(pool *pop3pool.Pool, st Store, cipher *crypto.Cipher, cfg Config, rec Recorder, log logging.Logger) *Worker {
	cfg = cfg.withDefaults()
	if rec == nil {
		rec = noopRecorder{}
	}
	return &Worker{
		pool:      pool,
		store:     st,
		cipher:    cipher,
		limits:    cfg.Limits,
		maxFetch:  cfg.MaxFetch,
		parseGate: semaphore.NewWeighted(int64(cfg.MaxParseConcurrent)),
		keyed:     newKeyedMutex(),
		rec:       rec,
		log:       log,
	}
}

// rawMessage is one RETR result still tagged with its provider UID.
type rawMessage struct {
	uid string
	raw []byte
}

// Run executes job to completion. Only one Run per inbox ID is ever
// in flight at a time; a second call for the same inbox blocks on the
// first's keyed lock rather than opening a second POP3 session against
// the same mailbox.
func (w *Worker) Run(ctx context.Context, job Job) (Result, error) {
	unlock := w.keyed.lock(job.InboxID)
	defer unlock()

	w.rec.IncFetchJob()

	inbox, err := w.store.GetInbox(ctx, job.InboxID)
	if err != nil {
		return Result{}, gatewayerr.NotFound("inbox not found")
	}
	if inbox.Status != store.InboxActive {
		return Result{}, gatewayerr.Conflict("inbox is not active")
	}

	username, err := w.cipher.Decrypt(inbox.UsernameEnc)
	if err != nil {
		return Result{}, gatewayerr.Encryption("failed to decrypt inbox username", err)
	}
	password, err := w.cipher.Decrypt(inbox.PasswordEnc)
	if err != nil {
		return Result{}, gatewayerr.Encryption("failed to decrypt inbox password", err)
	}

	creds := pop3.Credentials{
		Host:     inbox.POP3Host,
		Port:     inbox.POP3Port,
		TLS:      inbox.POP3TLS,
		Username: string(username),
		Password: string(password),
	}

	sinceUID := inbox.LastSeenUID
	if job.SinceUID != "" {
		sinceUID = &job.SinceUID
	}
	limit := w.maxFetch
	if job.Limit > 0 && job.Limit < limit {
		limit = job.Limit
	}

	raws, err := pop3pool.Execute(ctx, w.pool, creds, func(c *pop3.Client) ([]rawMessage, error) {
		return w.retrieveNew(c, sinceUID, limit)
	})
	if err != nil {
		return Result{}, err
	}
	if len(raws) == 0 {
		return Result{}, nil
	}

	records := w.parseAll(ctx, raws)

	params := make([]store.NewMessageParams, 0, len(raws))
	for i, raw := range raws {
		rec, ok := records[i]
		if !ok {
			continue
		}
		params = append(params, toMessageParams(job.InboxID, raw.uid, rec))
	}

	// Every parsed message in this job commits or none do (§4.E step 5):
	// one BeginTxx/Commit covers the whole batch rather than one per
	// message, so a mid-batch storage failure can't leave the job's
	// messages half-persisted.
	inserted := 0
	if len(params) > 0 {
		results, err := w.store.InsertMessages(ctx, params)
		if err != nil {
			return Result{}, gatewayerr.Internal("failed to persist fetched messages", err)
		}
		for _, r := range results {
			if r.Inserted {
				inserted++
			}
		}
	}

	// The cursor always advances to the last raw message this job
	// retrieved, regardless of how many of them were new vs. already
	// seen — raws is itself already the new-since-cursor suffix, so its
	// last element is unconditionally where the next job should resume.
	lastUID := raws[len(raws)-1].uid
	if err := w.store.AdvanceCursor(ctx, job.InboxID, lastUID); err != nil {
		w.log.Error("fetch: failed to advance cursor", err, "inbox_id", job.InboxID)
	}

	w.rec.IncFetchMessages(inserted)
	return Result{Fetched: len(raws), Inserted: inserted}, nil
}

// retrieveNew runs inside a single pooled session: list, diff against
// sinceUID, and RETR each candidate. A RETR failure for one message is
// logged and skipped rather than failing the whole job (§4.E step 4).
func (w *Worker) retrieveNew(c *pop3.Client, sinceUID *string, limit int) ([]rawMessage, error) {
	entries, err := c.Uidl()
	if err != nil {
		return nil, gatewayerr.POP3("UIDL failed", err)
	}

	candidates := newCandidates(entries, sinceUID)
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	raws := make([]rawMessage, 0, len(candidates))
	for _, entry := range candidates {
		body, err := c.Retr(entry.Num)
		if err != nil {
			w.log.Debugf("fetch: RETR %d (uid %s) failed, skipping: %v", entry.Num, entry.UID, err)
			continue
		}
		raws = append(raws, rawMessage{uid: entry.UID, raw: body})
	}
	return raws, nil
}

// newCandidates returns the suffix of entries strictly after the
// message matching sinceUID in server order, or the entire listing
// when sinceUID is nil or not found — a provider dropping or reordering
// history is not distinguishable from "everything is new" (§4.E step 3,
// §9 Open Question: treated as first-run behavior).
func newCandidates(entries []pop3.UIDLEntry, sinceUID *string) []pop3.UIDLEntry {
	if sinceUID == nil || *sinceUID == "" {
		return entries
	}
	for i, e := range entries {
		if e.UID == *sinceUID {
			return entries[i+1:]
		}
	}
	return entries
}

// parseAll parses every raw message with at most Config.MaxParseConcurrent
// goroutines in flight, joining before returning — the bounded
// fan-out/join shape named in §4.E step 4. A message whose key is
// missing from the returned map failed to parse and was logged.
func (w *Worker) parseAll(ctx context.Context, raws []rawMessage) map[int]mimeparse.Record {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[int]mimeparse.Record, len(raws))
	)

	for i, raw := range raws {
		if err := w.parseGate.Acquire(ctx, 1); err != nil {
			// Context canceled: stop launching new parses, let the
			// ones already running finish via the WaitGroup below.
			break
		}
		wg.Add(1)
		go func(i int, raw rawMessage) {
			defer wg.Done()
			defer w.parseGate.Release(1)

			rec, err := mimeparse.Parse(raw.raw, raw.uid, w.limits, w.log)
			if err != nil {
				w.log.Error("fetch: failed to parse message", err, "uid", raw.uid)
				return
			}
			mu.Lock()
			results[i] = rec
			mu.Unlock()
		}(i, raw)
	}

	wg.Wait()
	return results
}

func toMessageParams(inboxID, uid string, rec mimeparse.Record) store.NewMessageParams {
	recipients := make([]store.RecipientJSON, 0, len(rec.Recipients))
	for _, a := range rec.Recipients {
		recipients = append(recipients, store.RecipientJSON{Address: a.Address, Name: a.Name})
	}

	attachments := make([]store.NewAttachmentParams, 0, len(rec.Attachments))
	for _, a := range rec.Attachments {
		attachments = append(attachments, store.NewAttachmentParams{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			SizeBytes:   a.SizeBytes,
			ContentID:   a.ContentID,
			Checksum:    a.Checksum,
			Content:     a.Content,
		})
	}

	return store.NewMessageParams{
		InboxID:       inboxID,
		UID:           uid,
		MessageID:     rec.MessageID,
		SenderAddress: rec.Sender.Address,
		SenderName:    rec.Sender.Name,
		Recipients:    recipients,
		Subject:       rec.Subject,
		TextBody:      rec.TextBody,
		HTMLBody:      rec.HTMLBody,
		Headers:       rec.Headers,
		SizeBytes:     rec.SizeBytes,
		ReceivedAt:    rec.ReceivedAt,
		Attachments:   attachments,
	}
}
