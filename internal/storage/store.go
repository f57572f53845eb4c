// Package storage defines the Store interface for Fundi's persisted
// state. The only thing Fundi persists is the audit trail; two backends
// are provided: SQLite (default, zero-config) and PostgreSQL.
package storage

import (
	"context"

	"github.com/jkaninda/fundi/internal/security"
)

// Store is the persistence interface for Fundi.
// Both SQLite and PostgreSQL backends implement this interface.
type Store interface {
	// Audit returns the append-only audit event store.
	Audit() security.AuditStore

	// QueryAudit returns recent audit events, newest first. If endpoint is
	// non-empty, filters to that endpoint. Limit defaults to 100.
	QueryAudit(ctx context.Context, endpoint string, limit int) ([]security.AuditEvent, error)

	// Lifecycle.
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error

	// Driver returns the storage driver name ("sqlite" or "postgres").
	Driver() string
}

// Config holds storage configuration for driver selection.
type Config struct {
	Driver   string         `json:"driver"` // "sqlite" (default) or "postgres"
	SQLite   SQLiteConfig   `json:"sqlite"`
	Postgres PostgresConfig `json:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path        string `json:"path,omitempty"` // Database file path. Default: derived from workspace.
	JournalMode string `json:"journal_mode"`   // "wal" (default), "delete", "truncate", etc.
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN              string `json:"dsn"`
	MaxOpenConns     int    `json:"max_open_conns"`
	MaxIdleConns     int    `json:"max_idle_conns"`
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s"`
}

// DefaultDriver is the default storage driver.
const DefaultDriver = "sqlite"

// DriverSQLite is the SQLite driver name.
const DriverSQLite = "sqlite"

// DriverPostgres is the PostgreSQL driver name.
const DriverPostgres = "postgres"
