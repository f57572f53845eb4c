package httpapi

import (
	"encoding/json"
	"net"
	"strings"

	"github.com/google/uuid"
	"github.com/jkaninda/okapi"

	"github.com/jkaninda/fundi/internal/ops/batch"
	"github.com/jkaninda/fundi/internal/ops/code"
	"github.com/jkaninda/fundi/internal/ops/files"
	"github.com/jkaninda/fundi/internal/ops/gitops"
	"github.com/jkaninda/fundi/internal/ops/monitor"
	"github.com/jkaninda/fundi/internal/ops/pkgmgr"
	"github.com/jkaninda/fundi/internal/ops/refactor"
	"github.com/jkaninda/fundi/internal/ops/shell"
	"github.com/jkaninda/fundi/internal/security"
)

// audit writes one trail entry for an operation request. Failures are
// logged and swallowed; the audit trail never blocks a response.
func (g *Gateway) audit(c *okapi.Context, endpoint, action string, status int, body any) {
	if g.recorder == nil {
		return
	}

	result, err := json.Marshal(body)
	if err != nil {
		result = nil
	}

	r := c.Request()
	ip := r.RemoteAddr
	if host, _, splitErr := net.SplitHostPort(ip); splitErr == nil {
		ip = host
	}

	event := security.AuditEvent{
		ID:        uuid.New().String(),
		Endpoint:  endpoint,
		Action:    action,
		IP:        ip,
		UserAgent: r.UserAgent(),
		APIKey:    c.GetString("apiKey"),
		Status:    status,
		Result:    string(result),
	}
	if err := g.recorder.Record(c.Context(), event); err != nil {
		g.logger.Warn("audit record failed",
			"endpoint", endpoint,
			"error", err.Error(),
		)
	}
}

func (g *Gateway) handleShell(c *okapi.Context) error {
	var req shell.Request
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}

	body, status := g.svc.Shell.Execute(c.Context(), req)
	g.audit(c, "/shell", "shell", status, body)
	return c.JSON(status, body)
}

func (g *Gateway) handleFiles(c *okapi.Context) error {
	var req files.Request
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}

	action := req.Action
	if len(req.Operations) > 0 {
		action = "batch"
	}

	body, status := g.svc.Files.Execute(c.Context(), req)
	g.audit(c, "/files", action, status, body)
	return c.JSON(status, body)
}

func (g *Gateway) handleCode(c *okapi.Context) error {
	var req code.Request
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}

	action := req.Action
	if len(req.Actions) > 0 {
		action = strings.Join(req.Actions, ",")
	}

	body, status := g.svc.Code.Execute(c.Context(), req)
	g.audit(c, "/code", action, status, body)
	return c.JSON(status, body)
}

func (g *Gateway) handleBatch(c *okapi.Context) error {
	var req batch.Request
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}

	body, status := g.svc.Batch.Dispatch(c.Context(), req)
	g.audit(c, "/batch", "batch", status, body)
	return c.JSON(status, body)
}

func (g *Gateway) handleRefactor(c *okapi.Context) error {
	var req refactor.Request
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}

	body, status := g.svc.Refactor.Execute(c.Context(), req)
	g.audit(c, "/refactor", "refactor", status, body)
	return c.JSON(status, body)
}

func (g *Gateway) handleGit(c *okapi.Context) error {
	var req gitops.Request
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}

	body, status := g.svc.Git.Execute(c.Context(), req)
	g.audit(c, "/git", req.Action, status, body)
	return c.JSON(status, body)
}

func (g *Gateway) handlePackage(c *okapi.Context) error {
	// Body is optional here: the manager/action/package triple may arrive
	// as query parameters with an empty body instead.
	var req pkgmgr.Request
	_ = c.Bind(&req)

	q := c.Request().URL.Query()
	if req.Manager == "" {
		req.Manager = q.Get("manager")
	}
	if req.Action == "" {
		req.Action = q.Get("action")
	}
	if req.Package == "" {
		req.Package = q.Get("package")
	}

	body, status := g.svc.Package.Execute(c.Context(), req)
	g.audit(c, "/package", req.Action, status, body)
	return c.JSON(status, body)
}

func (g *Gateway) handleMonitor(c *okapi.Context) error {
	var req monitor.Request
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}

	body, status := g.svc.Monitor.Execute(c.Context(), req)
	g.audit(c, "/monitor", req.Type, status, body)
	return c.JSON(status, body)
}

// handleMonitorHealth answers the monitor liveness probe.
func (g *Gateway) handleMonitorHealth(c *okapi.Context) error {
	return c.OK(map[string]any{"result": monitor.HealthMessage})
}
