// Package code implements the /code operation: running, testing, linting
// and describing snippets or files in the supported languages.
//
// Like /shell, this endpoint speaks the graceful error convention: failed
// validation and injected faults answer HTTP 200 with the error nested
// under "result" as {"result": {"error": {"code": ...}, "status": ...}}.
// Tool outcomes — including non-zero exits from missing linters — are
// plain results. Only admission rejection changes the transport status.
package code

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/jkaninda/fundi/internal/ops"
	"github.com/jkaninda/fundi/internal/ratelimit"
	"github.com/jkaninda/fundi/internal/sandbox"
	"github.com/jkaninda/fundi/internal/security"
	"github.com/jkaninda/fundi/internal/workspace"
)

// Error codes owned by this operation.
const (
	CodeInvalidAction        = "invalid_action"
	CodeUnsupportedLanguage  = "unsupported_language"
	CodeMissingPathOrContent = "missing_path_or_content"
	CodeUnsupportedContent   = "unsupported_content"
	CodeFileNotFound         = "file_not_found"
	CodeNoTestsFound         = "no_tests_found"
)

var allowedActions = map[string]bool{
	"run":     true,
	"explain": true,
	"test":    true,
	"lint":    true,
	"fix":     true,
	"format":  true,
}

// Request is the /code request body. Either a single action or a chain of
// actions, against either a path or inline content (never both).
type Request struct {
	Action   string   `json:"action"`
	Actions  []string `json:"actions"`
	Path     string   `json:"path"`
	Content  string   `json:"content"`
	Language string   `json:"language"`
	Args     string   `json:"args"`
	Fault    string   `json:"fault"`
}

// Options configures the code service.
type Options struct {
	// Timeout bounds each tool invocation. Default 60s.
	Timeout time.Duration
}

// Service validates and executes code actions.
type Service struct {
	sandbox   sandbox.Sandbox
	workspace *workspace.Workspace
	validator *security.Validator
	injector  security.Injector
	admission *ratelimit.Admission
	opts      Options
	logger    *slog.Logger
}

// NewService creates the code service.
func NewService(
	sbx sandbox.Sandbox,
	ws *workspace.Workspace,
	validator *security.Validator,
	injector security.Injector,
	admission *ratelimit.Admission,
	opts Options,
	logger *slog.Logger,
) *Service {
	if validator == nil {
		validator = security.NewValidator(security.ValidatorOptions{})
	}
	if injector == nil {
		injector = security.NopInjector{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		sandbox:   sbx,
		workspace: ws,
		validator: validator,
		injector:  injector,
		admission: admission,
		opts:      opts,
		logger:    logger,
	}
}

// Execute handles one /code request and returns the response body with its
// HTTP status.
func (s *Service) Execute(ctx context.Context, req Request) (map[string]any, int) {
	chained := len(req.Actions) > 0
	actions := req.Actions
	if !chained {
		action := req.Action
		if action == "" {
			action = "run"
		}
		actions = []string{action}
	}
	for _, action := range actions {
		if !allowedActions[action] {
			return fail(CodeInvalidAction, http.StatusBadRequest)
		}
	}

	requested := req.Language
	if requested == "" {
		requested = "python"
	}
	language, ok := security.CanonicalLanguage(requested)
	if !ok {
		return fail(CodeUnsupportedLanguage, http.StatusBadRequest)
	}

	hasPath := req.Path != ""
	hasContent := req.Content != ""
	if hasPath == hasContent {
		return fail(CodeMissingPathOrContent, http.StatusBadRequest)
	}
	if hasContent {
		for _, action := range actions {
			if action == "explain" {
				return fail(CodeUnsupportedContent, http.StatusBadRequest)
			}
		}
	}

	if fault := s.injector.Inject(req.Fault); fault != nil {
		return fail(fault.Code, fault.Status)
	}

	if req.Args != "" {
		if err := s.validator.ValidateArgs(req.Args); err != nil {
			return fail(security.AsValidation(err).Code, http.StatusBadRequest)
		}
	}

	target := req.Path
	if hasPath {
		if err := s.validator.ValidatePath(req.Path); err != nil {
			return fail(security.AsValidation(err).Code, http.StatusBadRequest)
		}
		if _, err := os.Stat(req.Path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fail(CodeFileNotFound, http.StatusNotFound)
			}
			return fail(ops.CodeExecutionError, http.StatusInternalServerError)
		}
		if err := s.validator.ValidateLanguageExtension(req.Path, language); err != nil {
			return fail(security.AsValidation(err).Code, http.StatusBadRequest)
		}
	} else {
		if err := s.validator.ValidateContent(req.Content, language); err != nil {
			return fail(security.AsValidation(err).Code, http.StatusBadRequest)
		}
		name := "snippet" + security.ExtensionForLanguage(language)
		path, cleanup, err := s.workspace.WriteScratchFile("code", name, []byte(req.Content))
		if err != nil {
			s.logger.ErrorContext(ctx, "scratch file write failed",
				slog.String("error", err.Error()),
			)
			return fail(ops.CodeExecutionError, http.StatusInternalServerError)
		}
		defer cleanup()
		target = path
	}

	if s.admission != nil {
		if err := s.admission.TryAcquire(); err != nil {
			return ops.Result(ops.ErrorBody(ops.CodeConcurrentAccess, http.StatusTooManyRequests)), http.StatusTooManyRequests
		}
		defer s.admission.Release()
	}

	results := make([]any, 0, len(actions))
	for _, action := range actions {
		payload, err := s.runAction(ctx, action, language, target, req.Args)
		if err != nil {
			s.logger.ErrorContext(ctx, "code action failed",
				slog.String("action", action),
				slog.String("error", err.Error()),
			)
			return fail(ops.CodeExecutionError, http.StatusInternalServerError)
		}
		results = append(results, payload)
	}

	if chained {
		return map[string]any{"chained": true, "results": results}, http.StatusOK
	}
	return ops.Result(results[0]), http.StatusOK
}

// fail wraps a rejection in the graceful convention: the error and its
// nominal status ride inside "result", the transport answers 200.
func fail(code string, status int) (map[string]any, int) {
	return ops.Result(ops.ErrorBody(code, status)), http.StatusOK
}

// runAction executes one validated action against the target file.
func (s *Service) runAction(ctx context.Context, action, language, target, args string) (map[string]any, error) {
	switch action {
	case "explain":
		source, err := os.ReadFile(target)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"code":        string(source),
			"explanation": explain(string(source), language),
		}, nil

	case "test":
		source, err := os.ReadFile(target)
		if err != nil {
			return nil, err
		}
		if !hasTests(string(source), language) {
			return ops.CodeError(CodeNoTestsFound), nil
		}
	}

	argv := commandFor(action, language, target)
	if action == "run" && args != "" {
		tokens, err := shellwords.Parse(args)
		if err != nil {
			return nil, err
		}
		argv = append(argv, tokens...)
	}

	res, err := s.sandbox.Run(ctx, sandbox.ExecutionRequest{
		Command:    argv,
		WorkingDir: filepath.Dir(target),
		Timeout:    s.opts.Timeout,
	})
	if err != nil {
		return nil, err
	}
	if res.TimedOut {
		return ops.ErrorBody(ops.CodeTimeout, http.StatusInternalServerError), nil
	}
	return ops.ExecPayload(res), nil
}
