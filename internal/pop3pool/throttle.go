package pop3pool

import (
	"strings"
	"sync"
	"time"
)

// throttleSignals are substrings that, when found (case-insensitively) in
// an error message from the POP3 layer, are treated as the provider
// asking the gateway to back off rather than a one-off failure (§4.C).
var throttleSignals = []string{
	"too many connections",
	"login rate",
	"try again later",
	"too many login attempts",
	"temporarily unavailable",
}

// looksLikeThrottle reports whether err's message matches a known
// provider-throttle signal.
func looksLikeThrottle(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range throttleSignals {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// hostThrottle tracks, per host, the timestamp before which new attempts
// should fail fast instead of opening a connection. A zero/absent entry
// means the host is not throttled.
type hostThrottle struct {
	mu     sync.Mutex
	until  map[string]time.Time
	window time.Duration
}

func newHostThrottle(window time.Duration) *hostThrottle {
	if window <= 0 {
		window = 30 * time.Second
	}
	return &hostThrottle{until: make(map[string]time.Time), window: window}
}

// check returns the remaining throttle duration for host, or zero if the
// host is not currently throttled. It never consumes a pool slot and is
// meant to be called before the semaphore is taken.
func (t *hostThrottle) check(host string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	until, ok := t.until[host]
	if !ok {
		return 0
	}
	remaining := time.Until(until)
	if remaining <= 0 {
		delete(t.until, host)
		return 0
	}
	return remaining
}

// trip sets host's throttle window starting now.
func (t *hostThrottle) trip(host string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.until[host] = time.Now().Add(t.window)
}
