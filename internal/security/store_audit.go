package security

import (
	"context"
	"log/slog"
)

// StoreRecorder adapts an AuditStore to the Recorder interface so events
// can be teed into a database alongside the JSONL file.
type StoreRecorder struct {
	store  AuditStore
	logger *slog.Logger
}

// NewStoreRecorder creates a store-backed audit recorder.
func NewStoreRecorder(store AuditStore, logger *slog.Logger) *StoreRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreRecorder{store: store, logger: logger}
}

// Record appends an audit event to the store.
func (s *StoreRecorder) Record(ctx context.Context, event AuditEvent) error {
	event.Result = TruncateResult(event.Result)
	if err := s.store.Append(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to store audit event",
			slog.String("endpoint", event.Endpoint),
			slog.String("action", event.Action),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}

// Close is a no-op for the store recorder. The database connection is
// managed by the storage layer and closed separately.
func (s *StoreRecorder) Close() error {
	return nil
}

// MultiRecorder fans one event out to several recorders. A failing sink
// does not stop the others; the first error is returned.
type MultiRecorder struct {
	recorders []Recorder
}

// NewMultiRecorder composes recorders into one.
func NewMultiRecorder(recorders ...Recorder) *MultiRecorder {
	return &MultiRecorder{recorders: recorders}
}

// Record sends the event to every recorder.
func (m *MultiRecorder) Record(ctx context.Context, event AuditEvent) error {
	var first error
	for _, r := range m.recorders {
		if err := r.Record(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Close closes every recorder.
func (m *MultiRecorder) Close() error {
	var first error
	for _, r := range m.recorders {
		if err := r.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

var (
	_ Recorder = (*StoreRecorder)(nil)
	_ Recorder = (*MultiRecorder)(nil)
)
