package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/foxcpp/tempmailgw/internal/config"
	"github.com/foxcpp/tempmailgw/internal/logging"
)

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		EncryptionKey: "test passphrase",
		Database:      config.Database{Driver: "sqlite", DSN: "file:" + t.Name() + "?mode=memory&cache=shared"},
		Pool:          config.Pool{MaxConcurrent: 1, MaxRetries: 1},
		Fetch:         config.Fetch{MaxFetch: 10, MaxAttachmentBytes: 1024, MaxHTMLBytes: 1024},
		SMTP:          config.SMTP{Enabled: false, LocalDomainRefresh: 50 * time.Millisecond},
		HTTP:          config.HTTP{ListenAddr: "127.0.0.1:0", AdminKey: "admin-secret", CreateInboxRPS: 10, AdminRPS: 10},
		Token:         config.Token{DefaultTTL: 10 * time.Minute, MaxTTL: time.Hour, SweepInterval: time.Hour},
	}
}

func TestNewWiresEveryComponentWithoutStarting(t *testing.T) {
	g, err := New(testConfig(t), logging.Logger{})
	require.NoError(t, err)
	require.NotNil(t, g.store)
	require.NotNil(t, g.pop3Pool)
	require.NotNil(t, g.fetcher)
	require.NotNil(t, g.httpSrv)
	require.Nil(t, g.smtpSrv, "smtp receiver must not be built when SMTP.Enabled is false")

	require.NoError(t, g.store.Close())
}

func TestStartThenStopTearsDownCleanly(t *testing.T) {
	g, err := New(testConfig(t), logging.Logger{})
	require.NoError(t, err)

	require.NoError(t, g.Start(context.Background()))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, g.Stop())
}

func TestNewRejectsBadEncryptionKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.EncryptionKey = ""

	_, err := New(cfg, logging.Logger{})
	require.Error(t, err)
}

func TestNamedJoinsLoggerNamesWithSlash(t *testing.T) {
	base := logging.Logger{Name: "gw"}
	child := named(base, "smtpd")
	require.Equal(t, "gw/smtpd", child.Name)

	root := named(logging.Logger{}, "fetch")
	require.Equal(t, "fetch", root.Name)
}
