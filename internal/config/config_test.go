package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadRejectsMissingEncryptionKey(t *testing.T) {
	t.Setenv("TEMPMAILGW_HTTP_ADMIN_KEY", "admin-secret")

	_, err := Load("")
	require.Error(t, err)
	require.Contains(t, err.Error(), "encryption_key")
}

func TestLoadRejectsMissingAdminKey(t *testing.T) {
	t.Setenv("TEMPMAILGW_ENCRYPTION_KEY", "passphrase")

	_, err := Load("")
	require.Error(t, err)
	require.Contains(t, err.Error(), "admin_key")
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("TEMPMAILGW_ENCRYPTION_KEY", "passphrase")
	t.Setenv("TEMPMAILGW_HTTP_ADMIN_KEY", "admin-secret")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, 8, cfg.Pool.MaxConcurrent)
	require.Equal(t, 500*time.Millisecond, cfg.Pool.BackoffBase)
	require.Equal(t, ":2525", cfg.SMTP.ListenAddr)
	require.Equal(t, 10*time.Minute, cfg.Token.DefaultTTL)
	require.Equal(t, 168*time.Hour, cfg.Token.MaxTTL)
	require.False(t, cfg.Debug)
}

func TestLoadReadsEnvOverrides(t *testing.T) {
	t.Setenv("TEMPMAILGW_ENCRYPTION_KEY", "passphrase")
	t.Setenv("TEMPMAILGW_HTTP_ADMIN_KEY", "admin-secret")
	t.Setenv("TEMPMAILGW_DATABASE_DRIVER", "postgres")
	t.Setenv("TEMPMAILGW_DATABASE_DSN", "postgres://example")
	t.Setenv("TEMPMAILGW_POOL_MAX_CONCURRENT", "16")
	t.Setenv("TEMPMAILGW_DEBUG", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "postgres", cfg.Database.Driver)
	require.Equal(t, "postgres://example", cfg.Database.DSN)
	require.Equal(t, 16, cfg.Pool.MaxConcurrent)
	require.True(t, cfg.Debug)
}

func TestLoadRejectsUnsupportedDriver(t *testing.T) {
	t.Setenv("TEMPMAILGW_ENCRYPTION_KEY", "passphrase")
	t.Setenv("TEMPMAILGW_HTTP_ADMIN_KEY", "admin-secret")
	t.Setenv("TEMPMAILGW_DATABASE_DRIVER", "mysql")

	_, err := Load("")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported database driver")
}

func TestLoadRejectsDefaultTTLAboveMaxTTL(t *testing.T) {
	t.Setenv("TEMPMAILGW_ENCRYPTION_KEY", "passphrase")
	t.Setenv("TEMPMAILGW_HTTP_ADMIN_KEY", "admin-secret")
	t.Setenv("TEMPMAILGW_TOKEN_DEFAULT_TTL", "240h")
	t.Setenv("TEMPMAILGW_TOKEN_MAX_TTL", "168h")

	_, err := Load("")
	require.Error(t, err)
	require.Contains(t, err.Error(), "cannot exceed")
}
