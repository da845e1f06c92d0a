// Package token implements the bearer-token lifecycle (component H):
// TTL handling, the background expiry sweep, and the request-path auth
// state machine every authenticated HTTP handler runs before touching
// the store.
package token

import (
	"context"
	"time"

	"github.com/foxcpp/tempmailgw/internal/crypto"
	"github.com/foxcpp/tempmailgw/internal/gatewayerr"
	"github.com/foxcpp/tempmailgw/internal/store"
)

const (
	DefaultTTL = 600 * time.Second
	MaxTTL     = 7 * 24 * time.Hour
)

// Store is the persistence surface token depends on.
type Store interface {
	CreateToken(ctx context.Context, inboxID, tokenHash, issuerAddr string, expiresAt time.Time) (*store.Token, error)
	RotateToken(ctx context.Context, inboxID, newTokenHash, issuerAddr string, expiresAt time.Time) (*store.Token, error)
	LookupByHash(ctx context.Context, tokenHash string) (*store.TokenWithInbox, error)
	SweepExpiredTokens(ctx context.Context) (int64, error)
}

// ClampTTL enforces the default/max TTL policy from §4.H: zero means
// "use the default"; anything above the administrator-allowed ceiling
// is clamped down to it.
func ClampTTL(requested time.Duration) time.Duration {
	return ClampTTLWithBounds(requested, DefaultTTL, MaxTTL)
}

// ClampTTLWithBounds is ClampTTL parameterized by the operator-configured
// default/max instead of this package's own fallback constants — the
// httpapi layer calls this with config.Token's values.
func ClampTTLWithBounds(requested, defaultTTL, maxTTL time.Duration) time.Duration {
	if requested <= 0 {
		return defaultTTL
	}
	if requested > maxTTL {
		return maxTTL
	}
	return requested
}

// Issue mints a fresh raw token, persists only its hash, and returns
// the raw value — which the caller must hand to the client exactly once
// and never log or persist itself.
func Issue(ctx context.Context, st Store, inboxID, issuerAddr string, ttl time.Duration) (raw string, expiresAt time.Time, err error) {
	raw, err = crypto.NewToken()
	if err != nil {
		return "", time.Time{}, err
	}
	expiresAt = time.Now().Add(ClampTTL(ttl))
	if _, err := st.CreateToken(ctx, inboxID, crypto.HashToken(raw), issuerAddr, expiresAt); err != nil {
		return "", time.Time{}, gatewayerr.Internal("failed to persist token", err)
	}
	return raw, expiresAt, nil
}

// Rotate revokes every active token for inboxID and issues a new one in
// its place (§4.G Token operations: rotate = revoke-all + create).
func Rotate(ctx context.Context, st Store, inboxID, issuerAddr string, ttl time.Duration) (raw string, expiresAt time.Time, err error) {
	raw, err = crypto.NewToken()
	if err != nil {
		return "", time.Time{}, err
	}
	expiresAt = time.Now().Add(ClampTTL(ttl))
	if _, err := st.RotateToken(ctx, inboxID, crypto.HashToken(raw), issuerAddr, expiresAt); err != nil {
		return "", time.Time{}, gatewayerr.Internal("failed to rotate token", err)
	}
	return raw, expiresAt, nil
}

// Authenticate runs the §4.H / §8 property 10 state machine: extract →
// hash → lookup → status check → expiry check → inbox status check. It
// returns the authenticated inbox id or a gatewayerr.Kind-tagged
// rejection with no side effects on the store.
func Authenticate(ctx context.Context, st Store, rawHeader string) (inboxID string, err error) {
	raw, ok := bearerToken(rawHeader)
	if !ok {
		return "", gatewayerr.Authentication("missing or malformed Authorization header")
	}

	row, err := st.LookupByHash(ctx, crypto.HashToken(raw))
	if err != nil {
		return "", gatewayerr.Authentication("unknown token")
	}

	if row.Status == store.TokenRevoked {
		return "", gatewayerr.Authentication("token has been revoked")
	}
	if row.Status == store.TokenExpired || time.Now().After(row.ExpiresAt) {
		return "", gatewayerr.Authentication("token has expired")
	}
	if row.InboxStatus != store.InboxActive {
		return "", gatewayerr.Authorization("inbox is not active")
	}

	return row.InboxID, nil
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return "", false
	}
	return header[len(prefix):], true
}

// Sweeper runs the background expiry sweep every interval (§4.H: every
// 5 minutes) until ctx is canceled.
func Sweeper(ctx context.Context, st Store, interval time.Duration, onSwept func(n int64)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := st.SweepExpiredTokens(ctx)
			if err == nil && onSwept != nil {
				onSwept(n)
			}
		}
	}
}
