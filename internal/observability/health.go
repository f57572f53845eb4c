package observability

import (
	"context"
	"log/slog"
	"time"
)

// readyTimeout bounds one full readiness pass; a hung dependency must not
// wedge the probe.
const readyTimeout = 3 * time.Second

// ReadyFunc probes one dependency (workspace directory, audit store, ...).
type ReadyFunc func(ctx context.Context) error

type namedCheck struct {
	name  string
	probe ReadyFunc
}

// HealthChecker backs the gateway's /healthz and /readyz endpoints:
// liveness is unconditional, readiness aggregates the registered probes.
type HealthChecker struct {
	checks []namedCheck
	logger *slog.Logger
}

// HealthStatus is the probe response body.
type HealthStatus struct {
	Status string                 `json:"status"` // "ok" or "degraded"
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult reports one dependency probe.
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// NewHealthChecker creates a checker with no probes registered.
func NewHealthChecker(logger *slog.Logger) *HealthChecker {
	return &HealthChecker{logger: logger}
}

// AddCheck registers a named readiness probe. Not safe for concurrent use
// with CheckReady; register everything during startup.
func (h *HealthChecker) AddCheck(name string, probe ReadyFunc) {
	h.checks = append(h.checks, namedCheck{name: name, probe: probe})
}

// CheckHealth answers liveness: the process is up, so it is "ok".
func (h *HealthChecker) CheckHealth() HealthStatus {
	return HealthStatus{Status: "ok"}
}

// CheckReady runs every registered probe; any failure degrades the
// aggregate, but all probes still run so the response names each one.
func (h *HealthChecker) CheckReady(ctx context.Context) HealthStatus {
	status := HealthStatus{Status: "ok"}
	if len(h.checks) == 0 {
		return status
	}

	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()

	status.Checks = make(map[string]CheckResult, len(h.checks))
	for _, c := range h.checks {
		err := c.probe(ctx)
		if err == nil {
			status.Checks[c.name] = CheckResult{Status: "ok"}
			continue
		}
		status.Status = "degraded"
		status.Checks[c.name] = CheckResult{Status: "fail", Message: err.Error()}
		if h.logger != nil {
			h.logger.Warn("readiness probe failed",
				slog.String("check", c.name),
				slog.String("error", err.Error()),
			)
		}
	}
	return status
}
