// Package pkgmgr implements the /package operation: a relay for a fixed
// set of package managers and actions.
//
// Unlike the graceful endpoints, an unsupported manager or action is a
// hard HTTP 400 with a plain-string {"detail": ...} body.
package pkgmgr

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jkaninda/fundi/internal/ops"
	"github.com/jkaninda/fundi/internal/sandbox"
)

// Rejection messages carried in the detail body.
const (
	DetailUnsupportedManager = "Unsupported package manager"
	DetailUnsupportedAction  = "Unsupported action"
)

// managers maps the accepted manager names to the binary they invoke.
var managers = map[string]string{
	"pip":    "pip",
	"npm":    "npm",
	"apt":    "apt-get",
	"pacman": "pacman",
	"brew":   "brew",
	"winget": "winget",
}

// packageActions take a package name; bareActions run without one.
var (
	packageActions = map[string]bool{"install": true, "remove": true}
	bareActions    = map[string]bool{"update": true, "upgrade": true, "list": true}
)

// Request is the /package request body.
type Request struct {
	Manager string `json:"manager"`
	Action  string `json:"action"`
	Package string `json:"package"`
}

// Options configures the package service.
type Options struct {
	// Timeout bounds each manager invocation. Default 300s; package
	// installs are slow.
	Timeout time.Duration
}

// Service relays package manager commands.
type Service struct {
	sandbox sandbox.Sandbox
	opts    Options
	logger  *slog.Logger
}

// NewService creates the package service.
func NewService(sbx sandbox.Sandbox, opts Options, logger *slog.Logger) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = 300 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{sandbox: sbx, opts: opts, logger: logger}
}

// Execute handles one /package request and returns the response body with
// its HTTP status. Success is the flat {stdout, stderr, exit_code} shape;
// a nonzero exit from the manager is still a success at the HTTP level.
func (s *Service) Execute(ctx context.Context, req Request) (map[string]any, int) {
	binary, ok := managers[req.Manager]
	if !ok {
		return ops.Detail(DetailUnsupportedManager), http.StatusBadRequest
	}

	argv, ok := s.buildCommand(binary, req)
	if !ok {
		return ops.Detail(DetailUnsupportedAction), http.StatusBadRequest
	}

	res, err := s.sandbox.Run(ctx, sandbox.ExecutionRequest{
		Command:    argv,
		InheritEnv: true,
		Timeout:    s.opts.Timeout,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "package command failed",
			slog.String("manager", req.Manager),
			slog.String("action", req.Action),
			slog.String("error", err.Error()),
		)
		return ops.Detail(err.Error()), http.StatusInternalServerError
	}
	if res.TimedOut {
		return ops.Detail("package command timed out"), http.StatusInternalServerError
	}

	return ops.ExecPayload(res), http.StatusOK
}

// buildCommand assembles the argv for a validated action, or reports an
// unsupported one.
func (s *Service) buildCommand(binary string, req Request) ([]string, bool) {
	switch {
	case packageActions[req.Action]:
		argv := []string{binary, req.Action}
		if name := strings.TrimSpace(req.Package); name != "" {
			argv = append(argv, name)
		}
		return argv, true
	case bareActions[req.Action]:
		return []string{binary, req.Action}, true
	default:
		return nil, false
	}
}
