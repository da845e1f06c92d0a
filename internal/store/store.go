// Package store is the transactional boundary owner for the gateway's
// persisted state (component G): a sqlx-based DAO over two
// interchangeable drivers, lib/pq for production and modernc.org/sqlite
// for local/dev/test, both driven through the same parameterized SQL
// via sqlx's Rebind.
package store

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/foxcpp/tempmailgw/internal/config"
)

//go:embed schema.sql
var schemaSQL string

// Store wraps a sqlx.DB bound to one of the two supported drivers.
type Store struct {
	db     *sqlx.DB
	driver string
}

// driverName maps the gateway's config driver name to the one the
// database/sql registry knows.
func driverName(cfg config.Database) (string, error) {
	switch cfg.Driver {
	case "postgres":
		return "postgres", nil
	case "sqlite":
		return "sqlite", nil
	default:
		return "", fmt.Errorf("store: unsupported driver %q", cfg.Driver)
	}
}

// Open connects to the configured database and applies the schema
// idempotently (CREATE TABLE IF NOT EXISTS, safe to run on every
// startup).
func Open(cfg config.Database) (*Store, error) {
	driver, err := driverName(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("store: opening %s database: %w", driver, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: pinging %s database: %w", driver, err)
	}

	if driver == "sqlite" {
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: enabling foreign keys: %w", err)
		}
	}

	s := &Store{db: db, driver: driver}
	if err := s.applySchema(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// applySchema runs each statement in schema.sql individually — some
// drivers (notably modernc.org/sqlite through database/sql) reject a
// multi-statement Exec.
func (s *Store) applySchema() error {
	for _, stmt := range strings.Split(schemaSQL, ";\n") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("store: applying schema statement %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// rebind adapts a query written with ? placeholders to the active
// driver's placeholder syntax ($1, $2... for postgres).
func (s *Store) rebind(query string) string {
	return s.db.Rebind(query)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping is used by the HTTP /ready handler.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
