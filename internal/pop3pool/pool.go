// Package pop3pool wraps internal/pop3 with the concurrency cap, FIFO
// queueing, per-host throttling and exponential-backoff retry loop
// described for the POP3 session pool (§4.C). Everything above this
// package talks to providers exclusively through Pool.Execute; nothing
// else dials a raw POP3 connection.
package pop3pool

import (
	"context"
	"fmt"
	"time"

	"github.com/foxcpp/tempmailgw/internal/gatewayerr"
	"github.com/foxcpp/tempmailgw/internal/logging"
	"github.com/foxcpp/tempmailgw/internal/pop3"
)

// Recorder receives pool events for metrics export (component J). A nil
// Recorder is replaced by a no-op implementation, so callers that don't
// care about metrics can leave it unset.
type Recorder interface {
	SetInflight(n int)
	ObserveQueueWait(d time.Duration)
	IncThrottle()
	IncRetry()
}

type noopRecorder struct{}

func (noopRecorder) SetInflight(int)               {}
func (noopRecorder) ObserveQueueWait(time.Duration) {}
func (noopRecorder) IncThrottle()                   {}
func (noopRecorder) IncRetry()                      {}

// Config holds the pool's tunables. Zero values are replaced with the
// spec's defaults by New.
type Config struct {
	MaxConcurrent  int           // MAX_CONCURRENT
	MaxRetries     int           // MAX_RETRIES
	BackoffBase    time.Duration // base of base × 2^(attempt-1)
	ThrottleWindow time.Duration // default 30s
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 8
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.ThrottleWindow <= 0 {
		c.ThrottleWindow = 30 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = 30 * time.Second
	}
	return c
}

// Pool executes operations against POP3 providers under a concurrency
// cap, FIFO over-cap queueing and a per-host throttle.
type Pool struct {
	cfg      Config
	sem      semaphore
	throttle *hostThrottle
	rec      Recorder
	log      logging.Logger
}

func New(cfg Config, rec Recorder, log logging.Logger) *Pool {
	cfg = cfg.withDefaults()
	if rec == nil {
		rec = noopRecorder{}
	}
	return &Pool{
		cfg:      cfg,
		sem:      newSemaphore(cfg.MaxConcurrent),
		throttle: newHostThrottle(cfg.ThrottleWindow),
		rec:      rec,
		log:      log,
	}
}

// Execute borrows a pooled session authenticated with creds and runs op
// against it, retrying per §4.C. op's return value is threaded back to
// the caller unchanged; T is typically a fetch result or nothing
// (struct{}) for fire-and-forget operations such as SMTP-triggered
// checks.
func Execute[T any](ctx context.Context, p *Pool, creds pop3.Credentials, op func(*pop3.Client) (T, error)) (T, error) {
	var zero T

	host := creds.Host
	if remaining := p.throttle.check(host); remaining > 0 {
		p.rec.IncThrottle()
		return zero, gatewayerr.New(gatewayerr.KindPOP3, fmt.Sprintf("host %s is throttled for %s", host, remaining.Round(time.Second)))
	}

	waitStart := time.Now()
	if err := p.sem.TakeContext(ctx); err != nil {
		return zero, gatewayerr.Wrap(gatewayerr.KindPOP3, "timed out waiting for a pool slot", err)
	}
	p.rec.ObserveQueueWait(time.Since(waitStart))
	p.rec.SetInflight(len(p.sem.c))
	defer func() {
		p.sem.Release()
		p.rec.SetInflight(len(p.sem.c))
	}()

	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 1 {
			p.rec.IncRetry()
			backoff := p.cfg.BackoffBase * time.Duration(1<<uint(attempt-2))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}

		result, err := attemptOnce(ctx, p, creds, op)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if looksLikeThrottle(err) {
			p.throttle.trip(host)
			p.rec.IncThrottle()
			p.log.Debugf("pop3pool: host %s throttled, aborting remaining retries", host)
			break
		}
	}

	return zero, gatewayerr.Wrap(gatewayerr.KindPOP3, "all attempts against "+host+" failed", lastErr)
}

// attemptOnce opens one fresh connection, authenticates, runs op and
// issues QUIT. No socket is ever reused across attempts (§4.C). It is a
// plain function rather than a method because Go methods cannot declare
// their own type parameters.
func attemptOnce[T any](ctx context.Context, p *Pool, creds pop3.Credentials, op func(*pop3.Client) (T, error)) (T, error) {
	var zero T

	client, err := pop3.Dial(ctx, creds, p.cfg.ConnectTimeout, p.cfg.CommandTimeout)
	if err != nil {
		return zero, err
	}
	defer client.Close()

	result, opErr := op(client)

	// QUIT is best-effort: a failure here doesn't invalidate a
	// successful op result, but does invalidate a failed one (the
	// connection is suspect either way, so Close still runs via defer).
	if quitErr := client.Quit(); quitErr != nil && opErr == nil {
		p.log.Debugf("pop3pool: QUIT failed after successful op: %v", quitErr)
	}

	return result, opErr
}
