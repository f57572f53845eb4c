package security

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// maxAuditResultBytes caps the serialized result stored per event so a
// single large response cannot bloat the audit trail.
const maxAuditResultBytes = 500

// AuditEvent is one line of the audit trail: who called which endpoint,
// what they asked for, and what came back.
type AuditEvent struct {
	Timestamp time.Time `json:"timestamp"`
	ID        string    `json:"id"`
	Endpoint  string    `json:"endpoint"`
	Action    string    `json:"action"`
	IP        string    `json:"ip"`
	UserAgent string    `json:"user_agent"`
	APIKey    string    `json:"api_key"`
	Status    int       `json:"status"`
	Result    string    `json:"result"`
}

// Recorder appends audit events to a destination. There are no update or
// delete methods — the trail is append-only by construction.
type Recorder interface {
	Record(ctx context.Context, event AuditEvent) error
	Close() error
}

// MaskKey reduces an API key to its last four characters for audit
// storage. Short keys are fully masked.
func MaskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return "***" + key[len(key)-4:]
}

// TruncateResult bounds a serialized result for audit storage.
func TruncateResult(result string) string {
	if len(result) <= maxAuditResultBytes {
		return result
	}
	return result[:maxAuditResultBytes]
}

// AuditLogger appends events to a JSON-lines file. Lines are marshaled
// outside the lock; only the write itself is serialized.
type AuditLogger struct {
	mu     sync.Mutex
	file   *os.File
	logger *slog.Logger
}

// NewAuditLogger opens (or creates) the audit file in append mode.
func NewAuditLogger(path string, logger *slog.Logger) (*AuditLogger, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{file: f, logger: logger}, nil
}

// Record writes the event as one JSON line.
func (a *AuditLogger) Record(ctx context.Context, event AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	event.Result = TruncateResult(event.Result)

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	a.mu.Lock()
	_, err = a.file.Write(append(line, '\n'))
	a.mu.Unlock()
	if err != nil {
		return fmt.Errorf("write audit event: %w", err)
	}

	a.logger.InfoContext(ctx, "audit event recorded",
		"endpoint", event.Endpoint,
		"action", event.Action,
		"status", event.Status,
	)
	return nil
}

// Close closes the underlying file.
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.file.Close()
}

var _ Recorder = (*AuditLogger)(nil)
