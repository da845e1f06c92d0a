package httpapi

import (
	"crypto/sha256"
	"crypto/subtle"
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/foxcpp/tempmailgw/internal/gatewayerr"
)

// keyedLimiter hands out one golang.org/x/time/rate.Limiter per caller
// key (IP for create-inbox, admin key for admin endpoints), per §6's
// "per caller IP/key" rate-limiting requirement.
type keyedLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

func newKeyedLimiter(rps float64, burst int) *keyedLimiter {
	return &keyedLimiter{limiters: make(map[string]*rate.Limiter), rps: rps, burst: burst}
}

func (k *keyedLimiter) allow(key string) bool {
	k.mu.Lock()
	l, ok := k.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Limit(k.rps), k.burst)
		k.limiters[key] = l
	}
	k.mu.Unlock()
	return l.Allow()
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// rateLimited wraps next with a rate limit per key(r) (the caller IP or
// the admin key, depending on the route), rejecting over-cap
// callers with RATE_LIMIT_EXCEEDED before next ever runs.
func (s *Server) rateLimited(limiter *keyedLimiter, key func(*http.Request) string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !limiter.allow(key(r)) {
			WriteError(w, gatewayerr.RateLimit("rate limit exceeded"), s.cfg.Debug)
			return
		}
		next(w, r)
	}
}

// requireAdminKey checks X-Admin-Key against the configured secret in
// constant time by comparing equal-length SHA-256 digests rather than
// the raw strings, so callers can't learn the key's length either.
func (s *Server) requireAdminKey(next http.HandlerFunc) http.HandlerFunc {
	want := sha256.Sum256([]byte(s.cfg.AdminKey))
	return func(w http.ResponseWriter, r *http.Request) {
		got := sha256.Sum256([]byte(r.Header.Get("X-Admin-Key")))
		if subtle.ConstantTimeCompare(want[:], got[:]) != 1 {
			WriteError(w, gatewayerr.Authentication("invalid admin key"), s.cfg.Debug)
			return
		}
		next(w, r)
	}
}
