// Package config loads the gateway's configuration once at startup into
// an immutable Go value using spf13/viper, and hands typed
// substructures to each component. No component reads the environment
// directly: endpoints and targets are tied to config fields populated
// once at init rather than scattered os.Getenv calls.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Database configures the storage layer (component G).
type Database struct {
	Driver string // "postgres" or "sqlite"
	DSN    string
}

// Pool configures the POP3 connection pool (component C).
type Pool struct {
	MaxConcurrent  int
	MaxRetries     int
	BackoffBase    time.Duration
	ThrottleWindow time.Duration
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
}

// Fetch configures the fetch worker (component E).
type Fetch struct {
	MaxFetch           int
	MaxAttachmentBytes int
	MaxHTMLBytes       int
}

// SMTP configures the inbound receiver (component F).
type SMTP struct {
	Enabled            bool
	ListenAddr         string
	Banner             string
	MaxMessageSize     int
	LocalDomainRefresh time.Duration
}

// HTTP configures the admin/client-facing API (component httpapi).
type HTTP struct {
	ListenAddr     string
	AdminKey       string
	CreateInboxRPS float64
	AdminRPS       float64
}

// Token configures bearer-token lifecycle (component H).
type Token struct {
	DefaultTTL    time.Duration
	MaxTTL        time.Duration
	SweepInterval time.Duration
}

// Config is the complete, validated, immutable configuration for one
// gateway process.
type Config struct {
	EncryptionKey string
	Database      Database
	Pool          Pool
	Fetch         Fetch
	SMTP          SMTP
	HTTP          HTTP
	Token         Token
	Debug         bool
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "gateway.db")

	v.SetDefault("pool.max_concurrent", 8)
	v.SetDefault("pool.max_retries", 3)
	v.SetDefault("pool.backoff_base", "500ms")
	v.SetDefault("pool.throttle_window", "30s")
	v.SetDefault("pool.connect_timeout", "10s")
	v.SetDefault("pool.command_timeout", "30s")

	v.SetDefault("fetch.max_fetch", 200)
	v.SetDefault("fetch.max_attachment_bytes", 25*1024*1024)
	v.SetDefault("fetch.max_html_bytes", 5*1024*1024)

	v.SetDefault("smtp.enabled", true)
	v.SetDefault("smtp.listen_addr", ":2525")
	v.SetDefault("smtp.banner", "tempmailgw ESMTP")
	v.SetDefault("smtp.max_message_size", 25*1024*1024)
	v.SetDefault("smtp.local_domain_refresh", "60s")

	v.SetDefault("http.listen_addr", ":8080")
	v.SetDefault("http.create_inbox_rps", 2.0)
	v.SetDefault("http.admin_rps", 5.0)

	v.SetDefault("token.default_ttl", "600s")
	v.SetDefault("token.max_ttl", "168h")
	v.SetDefault("token.sweep_interval", "5m")

	v.SetDefault("debug", false)
}

// Load reads configuration from environment variables prefixed
// TEMPMAILGW_ (nested keys joined by underscores, e.g.
// TEMPMAILGW_POOL_MAX_CONCURRENT) and, if path is non-empty, from the
// config file at path, and returns a validated Config. A key set in the
// environment takes precedence over the same key in the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("tempmailgw")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	cfg := &Config{
		EncryptionKey: v.GetString("encryption_key"),
		Database: Database{
			Driver: v.GetString("database.driver"),
			DSN:    v.GetString("database.dsn"),
		},
		Pool: Pool{
			MaxConcurrent:  v.GetInt("pool.max_concurrent"),
			MaxRetries:     v.GetInt("pool.max_retries"),
			BackoffBase:    v.GetDuration("pool.backoff_base"),
			ThrottleWindow: v.GetDuration("pool.throttle_window"),
			ConnectTimeout: v.GetDuration("pool.connect_timeout"),
			CommandTimeout: v.GetDuration("pool.command_timeout"),
		},
		Fetch: Fetch{
			MaxFetch:           v.GetInt("fetch.max_fetch"),
			MaxAttachmentBytes: v.GetInt("fetch.max_attachment_bytes"),
			MaxHTMLBytes:       v.GetInt("fetch.max_html_bytes"),
		},
		SMTP: SMTP{
			Enabled:            v.GetBool("smtp.enabled"),
			ListenAddr:         v.GetString("smtp.listen_addr"),
			Banner:             v.GetString("smtp.banner"),
			MaxMessageSize:     v.GetInt("smtp.max_message_size"),
			LocalDomainRefresh: v.GetDuration("smtp.local_domain_refresh"),
		},
		HTTP: HTTP{
			ListenAddr:     v.GetString("http.listen_addr"),
			AdminKey:       v.GetString("http.admin_key"),
			CreateInboxRPS: v.GetFloat64("http.create_inbox_rps"),
			AdminRPS:       v.GetFloat64("http.admin_rps"),
		},
		Token: Token{
			DefaultTTL:    v.GetDuration("token.default_ttl"),
			MaxTTL:        v.GetDuration("token.max_ttl"),
			SweepInterval: v.GetDuration("token.sweep_interval"),
		},
		Debug: v.GetBool("debug"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.EncryptionKey == "" {
		return fmt.Errorf("config: encryption_key is required")
	}
	if c.HTTP.AdminKey == "" {
		return fmt.Errorf("config: http.admin_key is required")
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("config: unsupported database driver %q", c.Database.Driver)
	}
	if c.Token.DefaultTTL > c.Token.MaxTTL {
		return fmt.Errorf("config: token.default_ttl cannot exceed token.max_ttl")
	}
	return nil
}
