package observability

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/fundi/internal/sandbox"
	"github.com/jkaninda/fundi/internal/security"
)

// --- InstrumentedSandbox ---

// InstrumentedSandbox wraps a sandbox.Sandbox with metrics and tracing.
// Each execution style ("argv", "shell", "background") gets its own
// metric series.
type InstrumentedSandbox struct {
	inner   sandbox.Sandbox
	metrics *MetricsCollector
	tracer  trace.Tracer
}

// NewInstrumentedSandbox wraps a sandbox with observability.
func NewInstrumentedSandbox(inner sandbox.Sandbox, metrics *MetricsCollector, ts *TracerSetup) *InstrumentedSandbox {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedSandbox{
		inner:   inner,
		metrics: metrics,
		tracer:  tracer,
	}
}

// Run executes an argv-style command and records its outcome.
func (s *InstrumentedSandbox) Run(ctx context.Context, req sandbox.ExecutionRequest) (*sandbox.ExecutionResult, error) {
	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.Start(ctx, "sandbox.run",
			trace.WithAttributes(
				attribute.String("sandbox.type", "argv"),
			))
		defer span.End()
	}

	start := time.Now()
	result, err := s.inner.Run(ctx, req)
	s.record(ctx, "argv", result, err, time.Since(start).Seconds())
	return result, err
}

// RunShell executes a command line through the shell and records its outcome.
func (s *InstrumentedSandbox) RunShell(ctx context.Context, req sandbox.ShellRequest) (*sandbox.ExecutionResult, error) {
	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.Start(ctx, "sandbox.run_shell",
			trace.WithAttributes(
				attribute.String("sandbox.type", "shell"),
			))
		defer span.End()
	}

	start := time.Now()
	result, err := s.inner.RunShell(ctx, req)
	s.record(ctx, "shell", result, err, time.Since(start).Seconds())
	return result, err
}

// Start launches a background process. Duration is not meaningful here,
// only the launch outcome is counted.
func (s *InstrumentedSandbox) Start(req sandbox.ShellRequest) (int, error) {
	pid, err := s.inner.Start(req)

	if s.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		s.metrics.SandboxExecutionsTotal.WithLabelValues("background", status).Inc()
	}

	return pid, err
}

func (s *InstrumentedSandbox) record(ctx context.Context, typ string, result *sandbox.ExecutionResult, err error, duration float64) {
	status := "success"
	if err != nil {
		status = "error"
		if s.tracer != nil {
			span := trace.SpanFromContext(ctx)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	} else if result != nil && result.TimedOut {
		status = "timeout"
	} else if result != nil && result.ExitCode != 0 {
		status = "nonzero_exit"
		if s.tracer != nil {
			span := trace.SpanFromContext(ctx)
			span.SetAttributes(attribute.Int("sandbox.exit_code", result.ExitCode))
		}
	}

	if s.metrics != nil {
		s.metrics.SandboxExecutionsTotal.WithLabelValues(typ, status).Inc()
		s.metrics.SandboxExecutionDuration.WithLabelValues(typ).Observe(duration)
	}
}

// --- InstrumentedRecorder ---

// InstrumentedRecorder wraps a security.Recorder and counts recorded
// audit events per sink.
type InstrumentedRecorder struct {
	inner   security.Recorder
	sink    string // "file", "store", "multi"
	metrics *MetricsCollector
}

// NewInstrumentedRecorder wraps an audit recorder with metrics.
func NewInstrumentedRecorder(inner security.Recorder, sink string, metrics *MetricsCollector) *InstrumentedRecorder {
	return &InstrumentedRecorder{
		inner:   inner,
		sink:    sink,
		metrics: metrics,
	}
}

// Record forwards the event and counts the attempt.
func (r *InstrumentedRecorder) Record(ctx context.Context, event security.AuditEvent) error {
	err := r.inner.Record(ctx, event)

	if r.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		r.metrics.AuditEventsTotal.WithLabelValues(r.sink, status).Inc()
	}

	return err
}

// Close closes the underlying recorder.
func (r *InstrumentedRecorder) Close() error {
	return r.inner.Close()
}

// --- Compile-time interface checks ---

var (
	_ sandbox.Sandbox   = (*InstrumentedSandbox)(nil)
	_ security.Recorder = (*InstrumentedRecorder)(nil)
)

// statusCode returns the HTTP status code as a string for metric labels.
func statusCode(code int) string {
	return strconv.Itoa(code)
}
