// Package shell implements the /shell operation: arbitrary command lines
// executed through the configured shell inside the sandbox.
package shell

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jkaninda/fundi/internal/ops"
	"github.com/jkaninda/fundi/internal/ratelimit"
	"github.com/jkaninda/fundi/internal/sandbox"
	"github.com/jkaninda/fundi/internal/security"
)

// Error codes owned by this operation.
const (
	CodeMissingCommand = "missing_command"
	CodeCommandTooLong = "command_too_long"
)

// Request is the /shell request body.
type Request struct {
	Command    string `json:"command"`
	RunAsSudo  bool   `json:"run_as_sudo"`
	Background bool   `json:"background"`
	Shell      string `json:"shell"`
	Fault      string `json:"fault"`
}

// Options configures the shell service.
type Options struct {
	// MaxCommandLength caps the accepted command line. Default 4096.
	MaxCommandLength int
	// Timeout bounds foreground runs. Default 60s.
	Timeout time.Duration
	// DisableSudo ignores run_as_sudo instead of prefixing sudo.
	DisableSudo bool
}

// Service executes shell command lines.
type Service struct {
	sandbox   sandbox.Sandbox
	admission *ratelimit.Admission
	injector  security.Injector
	opts      Options
	logger    *slog.Logger
}

// NewService creates the shell service. All execution goes through the
// sandbox; the admission gate bounds concurrent foreground runs.
func NewService(sbx sandbox.Sandbox, admission *ratelimit.Admission, injector security.Injector, opts Options, logger *slog.Logger) *Service {
	if opts.MaxCommandLength <= 0 {
		opts.MaxCommandLength = 4096
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if injector == nil {
		injector = security.NopInjector{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		sandbox:   sbx,
		admission: admission,
		injector:  injector,
		opts:      opts,
		logger:    logger,
	}
}

// Execute runs one shell request and returns the response body with the
// HTTP status to send. Failures of the command itself are results, not
// errors: only admission rejection changes the HTTP status.
func (s *Service) Execute(ctx context.Context, req Request) (map[string]any, int) {
	if strings.TrimSpace(req.Command) == "" {
		return ops.Result(ops.ErrorBody(CodeMissingCommand, http.StatusBadRequest)), http.StatusOK
	}
	if len(req.Command) > s.opts.MaxCommandLength {
		return ops.Result(ops.ErrorBody(CodeCommandTooLong, http.StatusBadRequest)), http.StatusOK
	}

	if fault := s.injector.Inject(req.Fault); fault != nil {
		return ops.Result(ops.ErrorBody(fault.Code, fault.Status)), http.StatusOK
	}

	command := req.Command
	if req.RunAsSudo && !s.opts.DisableSudo {
		command = "sudo " + command
	}

	if req.Background {
		pid, err := s.sandbox.Start(sandbox.ShellRequest{
			Command: command,
			Shell:   req.Shell,
		})
		if err != nil {
			s.logger.ErrorContext(ctx, "background start failed",
				slog.String("error", err.Error()),
			)
			return ops.Result(ops.ErrorBody(ops.CodeExecutionError, http.StatusInternalServerError)), http.StatusOK
		}
		return ops.Result(map[string]any{"pid": pid, "exit_code": 0}), http.StatusOK
	}

	if s.admission != nil {
		if err := s.admission.TryAcquire(); err != nil {
			return ops.Result(ops.ErrorBody(ops.CodeConcurrentAccess, http.StatusTooManyRequests)), http.StatusTooManyRequests
		}
		defer s.admission.Release()
	}

	res, err := s.sandbox.RunShell(ctx, sandbox.ShellRequest{
		Command: command,
		Shell:   req.Shell,
		Timeout: s.opts.Timeout,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "shell execution failed",
			slog.String("error", err.Error()),
		)
		return ops.Result(ops.ErrorBody(ops.CodeExecutionError, http.StatusInternalServerError)), http.StatusOK
	}
	if res.TimedOut {
		return ops.Result(ops.ErrorBody(ops.CodeTimeout, http.StatusInternalServerError)), http.StatusOK
	}

	return ops.Result(ops.ExecPayload(res)), http.StatusOK
}
