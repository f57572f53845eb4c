// Package config handles loading and validating Fundi configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for Fundi.
type Config struct {
	Workspace     string               `json:"workspace,omitempty" yaml:"workspace,omitempty"` // Scratch root for inline code runs. Default: $TMPDIR/fundi. Override: FUNDI_WORKSPACE env var.
	Server        ServerConfig         `json:"server" yaml:"server"`
	Auth          AuthConfig           `json:"auth" yaml:"auth"`
	Exec          ExecConfig           `json:"exec" yaml:"exec"`
	Security      SecurityConfig       `json:"security" yaml:"security"`
	Logging       LoggingConfig        `json:"logging" yaml:"logging"`
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"`             // nil = file-only audit trail
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
	Monitor       *MonitorConfig       `json:"monitor,omitempty" yaml:"monitor,omitempty"`             // nil = monitor defaults
	Janitor       *JanitorConfig       `json:"janitor,omitempty" yaml:"janitor,omitempty"`             // nil = janitor disabled
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	ListenAddr          string          `json:"listen_addr" yaml:"listen_addr"` // Default: ":8000". Override: FUNDI_LISTEN_ADDR env var.
	EnableDocs          bool            `json:"enable_docs" yaml:"enable_docs"`
	MaxRequestSizeBytes int64           `json:"max_request_size_bytes" yaml:"max_request_size_bytes"`
	RateLimit           RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
}

// Addr returns the listen address with a default of ":8000".
func (s *ServerConfig) Addr() string {
	if s != nil && s.ListenAddr != "" {
		return s.ListenAddr
	}
	return ":8000"
}

// RateLimitConfig configures per-key request rate limiting.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"`
	BurstSize         int `json:"burst_size" yaml:"burst_size"`
}

// AuthConfig configures API key authentication.
// Keys can be set in the config file or via the API_KEY / FUNDI_API_KEY
// env vars. Environment variables take precedence.
type AuthConfig struct {
	APIKey  string   `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	APIKeys []string `json:"api_keys,omitempty" yaml:"api_keys,omitempty"`
}

// Keys returns every configured API key.
func (a *AuthConfig) Keys() []string {
	if a == nil {
		return nil
	}
	var keys []string
	if a.APIKey != "" {
		keys = append(keys, a.APIKey)
	}
	keys = append(keys, a.APIKeys...)
	return keys
}

// ExecConfig configures subprocess execution.
type ExecConfig struct {
	Shell          string `json:"shell" yaml:"shell"`                       // Default: "/bin/bash".
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`   // Foreground timeout. Default: 60.
	MaxConcurrent  int    `json:"max_concurrent" yaml:"max_concurrent"`     // Admission limit. Default: 4.
	MaxOutputBytes int64  `json:"max_output_bytes" yaml:"max_output_bytes"` // Per-stream cap. Default: 1 MiB.
	DisableSudo    bool   `json:"disable_sudo" yaml:"disable_sudo"`         // Ignore run_as_sudo requests. Default: false (honored).
}

// DefaultShell returns the shell executable with a default of /bin/bash.
func (e *ExecConfig) DefaultShell() string {
	if e != nil && e.Shell != "" {
		return e.Shell
	}
	return "/bin/bash"
}

// Timeout returns the foreground execution timeout with a default of 60s.
func (e *ExecConfig) Timeout() time.Duration {
	if e != nil && e.TimeoutSeconds > 0 {
		return time.Duration(e.TimeoutSeconds) * time.Second
	}
	return 60 * time.Second
}

// Concurrency returns the admission limit with a default of 4.
func (e *ExecConfig) Concurrency() int {
	if e != nil && e.MaxConcurrent > 0 {
		return e.MaxConcurrent
	}
	return 4
}

// OutputCap returns the per-stream output cap with a default of 1 MiB.
func (e *ExecConfig) OutputCap() int64 {
	if e != nil && e.MaxOutputBytes > 0 {
		return e.MaxOutputBytes
	}
	return 1 << 20
}

// SecurityConfig configures request validation and the audit trail.
type SecurityConfig struct {
	AuditLogPath      string   `json:"audit_log_path" yaml:"audit_log_path"`           // Default: audit.log. Override: AUDIT_LOG_PATH env var.
	MaxCommandLength  int      `json:"max_command_length" yaml:"max_command_length"`   // Default: 4096 chars.
	MaxContentBytes   int      `json:"max_content_bytes" yaml:"max_content_bytes"`     // Default: 102400 (100 KiB).
	MaxComponentBytes int      `json:"max_component_bytes" yaml:"max_component_bytes"` // Per path component. Default: 255.
	AllowedFlags      []string `json:"allowed_flags,omitempty" yaml:"allowed_flags,omitempty"`
}

// CommandLimit returns the max command length with a default of 4096.
func (s *SecurityConfig) CommandLimit() int {
	if s != nil && s.MaxCommandLength > 0 {
		return s.MaxCommandLength
	}
	return 4096
}

// ContentLimit returns the max inline content size with a default of 100 KiB.
func (s *SecurityConfig) ContentLimit() int {
	if s != nil && s.MaxContentBytes > 0 {
		return s.MaxContentBytes
	}
	return 100 * 1024
}

// ComponentLimit returns the max path component length with a default of 255.
func (s *SecurityConfig) ComponentLimit() int {
	if s != nil && s.MaxComponentBytes > 0 {
		return s.MaxComponentBytes
	}
	return 255
}

// LoggingConfig configures structured logging output.
type LoggingConfig struct {
	Level string         `json:"level" yaml:"level"` // "debug", "info", "warn", "error". Default: "info".
	File  *LogFileConfig `json:"file,omitempty" yaml:"file,omitempty"`
}

// LogFileConfig configures the optional rotating log file sink.
type LogFileConfig struct {
	Path       string `json:"path" yaml:"path"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`   // Default: 100.
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`   // Default: 3.
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"` // Default: 28.
	Compress   bool   `json:"compress" yaml:"compress"`
}

// MaxSize returns the rotation size with a default of 100 MB.
func (f *LogFileConfig) MaxSize() int {
	if f != nil && f.MaxSizeMB > 0 {
		return f.MaxSizeMB
	}
	return 100
}

// Backups returns the retained backup count with a default of 3.
func (f *LogFileConfig) Backups() int {
	if f != nil && f.MaxBackups > 0 {
		return f.MaxBackups
	}
	return 3
}

// MaxAge returns the retention age with a default of 28 days.
func (f *LogFileConfig) MaxAge() int {
	if f != nil && f.MaxAgeDays > 0 {
		return f.MaxAgeDays
	}
	return 28
}

// StorageConfig configures the optional relational audit store.
// When nil, audit events are written only to the JSONL file.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"` // "sqlite" or "postgres".
	SQLite   *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`
	Postgres *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"`
}

// StorageDriver returns the configured driver, defaulting to "sqlite".
func (s *StorageConfig) StorageDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "sqlite"
}

// SQLiteStorageConfig holds SQLite-specific settings.
type SQLiteStorageConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"` // Default: fundi.db next to the audit log.
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`     // "wal" (default), "delete", "truncate", etc.
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"` // Override: FUNDI_DB_DSN env var.
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 25
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 5
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min)
}

// ObservabilityConfig configures metrics, tracing and health checks.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "fundi"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// MonitorConfig configures the system monitoring endpoint.
type MonitorConfig struct {
	WSEnabled       bool `json:"ws_enabled" yaml:"ws_enabled"`             // Mount the live WebSocket stream.
	IntervalSeconds int  `json:"interval_seconds" yaml:"interval_seconds"` // Stream sample interval. Default: 2.
}

// StreamInterval returns the WebSocket sample interval with a default of 2s.
func (m *MonitorConfig) StreamInterval() time.Duration {
	if m != nil && m.IntervalSeconds > 0 {
		return time.Duration(m.IntervalSeconds) * time.Second
	}
	return 2 * time.Second
}

// JanitorConfig configures the scratch-directory sweeper.
type JanitorConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	Schedule      string `json:"schedule" yaml:"schedule"`               // Cron expression. Default: "*/10 * * * *".
	MaxAgeMinutes int    `json:"max_age_minutes" yaml:"max_age_minutes"` // Default: 60.
}

// CronSchedule returns the sweep schedule with a default of every 10 minutes.
func (j *JanitorConfig) CronSchedule() string {
	if j != nil && j.Schedule != "" {
		return j.Schedule
	}
	return "*/10 * * * *"
}

// MaxAge returns the scratch entry retention with a default of 1h.
func (j *JanitorConfig) MaxAge() time.Duration {
	if j != nil && j.MaxAgeMinutes > 0 {
		return time.Duration(j.MaxAgeMinutes) * time.Minute
	}
	return time.Hour
}

// DefaultConfigPath returns the default config file path (~/.fundi/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/fundi.yaml" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".fundi", "config.yaml")
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything
// else for JSON. A missing file is not an error — the server runs fine from
// environment variables alone — but an unreadable or malformed file is.
// Environment variables take precedence over config values.
func Load(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	var cfg Config
	data, err := os.ReadFile(resolved)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// Env-only configuration.
	case err != nil:
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	default:
		switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
		case ".yml", ".yaml":
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
			}
		default:
			if err := json.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
			}
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides layers environment variables over file values.
func applyEnvOverrides(cfg *Config) {
	// API_KEY is honored for drop-in compatibility with existing deployments;
	// FUNDI_API_KEY wins when both are set.
	if envKey := os.Getenv("API_KEY"); envKey != "" {
		cfg.Auth.APIKey = envKey
	}
	if envKey := os.Getenv("FUNDI_API_KEY"); envKey != "" {
		cfg.Auth.APIKey = envKey
	}

	if envAddr := os.Getenv("FUNDI_LISTEN_ADDR"); envAddr != "" {
		cfg.Server.ListenAddr = envAddr
	}

	if envWS := os.Getenv("FUNDI_WORKSPACE"); envWS != "" {
		cfg.Workspace = envWS
	}

	// AUDIT_LOG_PATH is the historical name; keep honoring it.
	if envAudit := os.Getenv("AUDIT_LOG_PATH"); envAudit != "" {
		cfg.Security.AuditLogPath = envAudit
	}
	if envAudit := os.Getenv("FUNDI_AUDIT_LOG_PATH"); envAudit != "" {
		cfg.Security.AuditLogPath = envAudit
	}

	if envDSN := os.Getenv("FUNDI_DB_DSN"); envDSN != "" {
		if cfg.Storage == nil {
			cfg.Storage = &StorageConfig{Driver: "postgres"}
		}
		if cfg.Storage.Postgres == nil {
			cfg.Storage.Postgres = &PostgresStorageConfig{}
		}
		cfg.Storage.Postgres.DSN = envDSN
	}
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// ResolvedWorkspace returns the scratch root, resolving ~ if needed.
func (c *Config) ResolvedWorkspace() string {
	if c.Workspace == "" {
		return filepath.Join(os.TempDir(), "fundi")
	}
	resolved, err := resolvePath(c.Workspace)
	if err != nil {
		return c.Workspace
	}
	return resolved
}

// AuditLogPath returns the audit log path with a default of "audit.log"
// in the working directory.
func (c *Config) AuditLogPath() string {
	if c.Security.AuditLogPath != "" {
		return c.Security.AuditLogPath
	}
	return "audit.log"
}

// SQLitePath returns the SQLite database path, defaulting to fundi.db
// alongside the audit log.
func (c *Config) SQLitePath() string {
	if c.Storage != nil && c.Storage.SQLite != nil && c.Storage.SQLite.Path != "" {
		return c.Storage.SQLite.Path
	}
	return filepath.Join(filepath.Dir(c.AuditLogPath()), "fundi.db")
}

// StorageDriverName returns the effective storage driver name, or "" when
// no relational store is configured.
func (c *Config) StorageDriverName() string {
	if c.Storage == nil {
		return ""
	}
	return c.Storage.StorageDriver()
}

// LogLevel returns the slog level for the configured name. Unknown names
// fall back to info.
func (c *Config) LogLevel() string {
	if c.Logging.Level != "" {
		return strings.ToLower(c.Logging.Level)
	}
	return "info"
}

func (c *Config) validate() error {
	if c.Exec.TimeoutSeconds < 0 {
		return fmt.Errorf("exec.timeout_seconds must not be negative")
	}
	if c.Exec.MaxConcurrent < 0 {
		return fmt.Errorf("exec.max_concurrent must not be negative")
	}
	if c.Exec.MaxOutputBytes < 0 {
		return fmt.Errorf("exec.max_output_bytes must not be negative")
	}
	if c.Security.MaxCommandLength < 0 {
		return fmt.Errorf("security.max_command_length must not be negative")
	}
	if c.Server.MaxRequestSizeBytes < 0 {
		return fmt.Errorf("server.max_request_size_bytes must not be negative")
	}
	if c.Storage != nil && c.Storage.Driver != "" {
		switch c.Storage.Driver {
		case "sqlite", "postgres":
			// valid
		default:
			return fmt.Errorf("storage.driver %q is not supported (use sqlite or postgres)", c.Storage.Driver)
		}
	}
	if c.Storage != nil && c.Storage.StorageDriver() == "postgres" {
		if c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for the postgres driver (set FUNDI_DB_DSN env var)")
		}
	}
	if c.Observability != nil && c.Observability.Tracing != nil && c.Observability.Tracing.Enabled {
		t := c.Observability.Tracing
		if t.Endpoint == "" {
			return fmt.Errorf("observability.tracing.endpoint is required when tracing is enabled")
		}
		if t.SampleRate < 0 || t.SampleRate > 1 {
			return fmt.Errorf("observability.tracing.sample_rate must be between 0 and 1")
		}
	}
	if c.Janitor != nil && c.Janitor.Enabled && c.Janitor.MaxAgeMinutes < 0 {
		return fmt.Errorf("janitor.max_age_minutes must not be negative")
	}
	switch c.LogLevel() {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return fmt.Errorf("logging.level %q is not supported (use debug, info, warn, or error)", c.Logging.Level)
	}
	return nil
}
