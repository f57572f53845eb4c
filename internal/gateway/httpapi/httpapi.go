// Package httpapi implements the HTTP API gateway for Fundi.
//
// Security:
//   - x-api-key authentication on every operation endpoint (constant-time comparison)
//   - Request body size limits (default 1 MB)
//   - Per-key rate limiting via token bucket
//   - All operation requests written to the audit trail
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/okapi"

	"github.com/jkaninda/fundi/internal/observability"
	"github.com/jkaninda/fundi/internal/ops"
	"github.com/jkaninda/fundi/internal/ops/batch"
	"github.com/jkaninda/fundi/internal/ops/code"
	"github.com/jkaninda/fundi/internal/ops/files"
	"github.com/jkaninda/fundi/internal/ops/gitops"
	"github.com/jkaninda/fundi/internal/ops/monitor"
	"github.com/jkaninda/fundi/internal/ops/pkgmgr"
	"github.com/jkaninda/fundi/internal/ops/refactor"
	"github.com/jkaninda/fundi/internal/ops/shell"
	"github.com/jkaninda/fundi/internal/ratelimit"
	"github.com/jkaninda/fundi/internal/security"
)

const defaultMaxRequestSize = 1 << 20 // 1 MB

// DetailInvalidKey is the rejection body for failed authentication.
const DetailInvalidKey = "Invalid API key"

// DetailBody is the hard-rejection response used in OpenAPI documentation.
type DetailBody struct {
	Detail string `json:"detail"`
}

// Config configures the HTTP API gateway.
type Config struct {
	ListenAddr     string // e.g., ":8000"
	EnableDocs     bool
	APIKeys        []string // Accepted x-api-key values. Keys from config/env.
	MaxRequestSize int64    // Maximum request body in bytes. 0 = 1 MB default.
	Version        string   // Reported by the banner endpoint.

	// Observability
	MetricsRegistry *prometheus.Registry            // Custom Prometheus registry for /metrics.
	MetricsPath     string                          // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Health checker for /readyz endpoint.
	Metrics         *observability.MetricsCollector // Metrics collector for HTTP middleware.
	Tracer          trace.Tracer                    // OTel tracer for HTTP middleware.
}

// Services bundles the operation services behind the gateway. Monitor may
// be nil; every other service is required.
type Services struct {
	Shell    *shell.Service
	Files    *files.Service
	Code     *code.Service
	Batch    *batch.Service
	Refactor *refactor.Service
	Git      *gitops.Service
	Package  *pkgmgr.Service
	Monitor  *monitor.Service
}

// Gateway is the HTTP API gateway.
type Gateway struct {
	config   Config
	svc      Services
	limiter  *ratelimit.Limiter
	recorder security.Recorder // nil = audit disabled
	logger   *slog.Logger
	server   *http.Server

	// Extra handlers mounted on the HTTP mux (e.g., the monitor WebSocket).
	extraRoutes []extraRoute

	okapi *okapi.Okapi
	group *okapi.Group
}

// extraRoute stores an additional handler to be mounted on the HTTP mux.
type extraRoute struct {
	pattern string
	handler http.Handler
}

// NewGateway creates an HTTP API gateway.
func NewGateway(cfg Config, svc Services, rl *ratelimit.Limiter, recorder security.Recorder, logger *slog.Logger) *Gateway {
	maxSize := cfg.MaxRequestSize
	if maxSize <= 0 {
		maxSize = defaultMaxRequestSize
	}
	return &Gateway{
		config:   cfg,
		svc:      svc,
		limiter:  rl,
		recorder: recorder,
		logger:   logger,
		okapi:    okapi.New(okapi.WithMaxMultipartMemory(maxSize)),
	}
}

// WithOpenAPIDocs enables the interactive OpenAPI documentation UI.
func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "Fundi",
			Version: g.config.Version,
		},
	)
	return g
}

// WithHandler mounts an additional handler on the HTTP mux at the given pattern.
// Used for the monitor WebSocket endpoint alongside the API routes.
func (g *Gateway) WithHandler(pattern string, handler http.Handler) *Gateway {
	g.extraRoutes = append(g.extraRoutes, extraRoute{pattern: pattern, handler: handler})
	return g
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	// Authenticated operation endpoints, with metrics/tracing middleware
	// when observability is enabled.
	middlewares := []okapi.Middleware{}
	if g.config.Metrics != nil || g.config.Tracer != nil {
		middlewares = append(middlewares, observability.HTTPMiddleware(g.config.Metrics, g.config.Tracer))
	}
	middlewares = append(middlewares, g.authenticate)
	g.group = g.okapi.Group("/", middlewares...)

	g.group.Post("/shell", g.handleShell,
		okapi.DocSummary("Execute a shell command"),
		okapi.DocTags("Operations"),
		okapi.DocRequestBody(shell.Request{}),
		okapi.DocResponse(map[string]any{}),
		okapi.DocResponse(http.StatusForbidden, DetailBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, map[string]any{}),
	)
	g.group.Post("/shell/", g.handleShell)

	g.group.Post("/files", g.handleFiles,
		okapi.DocSummary("Apply file operations"),
		okapi.DocTags("Operations"),
		okapi.DocRequestBody(files.Request{}),
		okapi.DocResponse(map[string]any{}),
		okapi.DocResponse(http.StatusForbidden, DetailBody{}),
	)
	g.group.Post("/files/", g.handleFiles)
	// Legacy alias kept for older clients.
	g.group.Post("/manageFiles", g.handleFiles,
		okapi.DocSummary("Apply file operations (alias)"),
		okapi.DocTags("Operations"),
		okapi.DocRequestBody(files.Request{}),
		okapi.DocResponse(map[string]any{}),
	)
	g.group.Post("/manageFiles/", g.handleFiles)

	g.group.Post("/code", g.handleCode,
		okapi.DocSummary("Run, inspect or format code"),
		okapi.DocTags("Operations"),
		okapi.DocRequestBody(code.Request{}),
		okapi.DocResponse(map[string]any{}),
		okapi.DocResponse(http.StatusForbidden, DetailBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, map[string]any{}),
	)
	g.group.Post("/code/", g.handleCode)

	g.group.Post("/batch", g.handleBatch,
		okapi.DocSummary("Dispatch a heterogeneous batch of operations"),
		okapi.DocTags("Operations"),
		okapi.DocRequestBody(batch.Request{}),
		okapi.DocResponse(map[string]any{}),
	)
	g.group.Post("/batch/", g.handleBatch)

	g.group.Post("/refactor", g.handleRefactor,
		okapi.DocSummary("Literal search/replace across files"),
		okapi.DocTags("Operations"),
		okapi.DocRequestBody(refactor.Request{}),
		okapi.DocResponse(map[string]any{}),
		okapi.DocResponse(http.StatusInternalServerError, map[string]any{}),
	)
	g.group.Post("/refactor/", g.handleRefactor)

	g.group.Post("/git", g.handleGit,
		okapi.DocSummary("Run a git operation in a repository"),
		okapi.DocTags("Operations"),
		okapi.DocRequestBody(gitops.Request{}),
		okapi.DocResponse(map[string]any{}),
	)
	g.group.Post("/git/", g.handleGit)

	g.group.Post("/package", g.handlePackage,
		okapi.DocSummary("Run a package manager action"),
		okapi.DocTags("Operations"),
		okapi.DocRequestBody(pkgmgr.Request{}),
		okapi.DocResponse(map[string]any{}),
		okapi.DocResponse(http.StatusBadRequest, DetailBody{}),
	)
	g.group.Post("/package/", g.handlePackage)

	if g.svc.Monitor != nil {
		g.group.Post("/monitor", g.handleMonitor,
			okapi.DocSummary("Read a host metric"),
			okapi.DocTags("Monitoring"),
			okapi.DocRequestBody(monitor.Request{}),
			okapi.DocResponse(map[string]any{}),
		)
		g.group.Post("/monitor/", g.handleMonitor)
		g.group.Get("/monitor", g.handleMonitorHealth,
			okapi.DocSummary("Monitor endpoint liveness"),
			okapi.DocTags("Monitoring"),
			okapi.DocResponse(map[string]any{}),
		)
		g.group.Get("/monitor/", g.handleMonitorHealth)
	}

	// Extra handlers (e.g., the monitor WebSocket endpoint).
	for _, er := range g.extraRoutes {
		g.okapi.HandleStd("GET", er.pattern, er.handler.ServeHTTP)
	}

	// Unauthenticated endpoints.
	g.okapi.Get("/", g.handleBanner)
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.WithOpenAPIDocs()
	}

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http api gateway starting", slog.String("addr", g.config.ListenAddr))

	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http api gateway stopping")
	return g.okapi.Shutdown(g.server)
}

// --- Authentication ---

// authenticate validates the x-api-key header with a constant-time
// comparison against every configured key, then applies the per-key rate
// limit. Rejections use the hard {"detail": ...} convention.
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		apiKey := c.Request().Header.Get("x-api-key")

		matched := false
		for _, key := range g.config.APIKeys {
			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
				matched = true
			}
		}
		if !matched {
			return c.JSON(http.StatusForbidden, ops.Detail(DetailInvalidKey))
		}

		if g.limiter != nil {
			if err := g.limiter.Allow(apiKey); err != nil {
				return c.AbortTooManyRequests("rate limit exceeded")
			}
		}

		c.Set("apiKey", security.MaskKey(apiKey))
		return next(c)
	}
}

// --- Meta endpoints ---

// handleBanner reports the service identity and its operation endpoints.
func (g *Gateway) handleBanner(c *okapi.Context) error {
	return c.OK(ops.Result(map[string]any{
		"name":    "fundi",
		"version": g.config.Version,
		"endpoints": []string{
			"/shell", "/files", "/code", "/batch", "/refactor",
			"/git", "/package", "/monitor",
		},
	}))
}

// HealthResponse is the JSON response for the probe endpoints.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleLiveness is the Kubernetes liveness probe.
func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}

	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}
