// Package batch implements the /batch operation: a sequence of
// heterogeneous shell, files and code operations dispatched in order,
// each isolated from the others.
package batch

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/jkaninda/fundi/internal/ops"
	"github.com/jkaninda/fundi/internal/ops/code"
	"github.com/jkaninda/fundi/internal/ops/files"
	"github.com/jkaninda/fundi/internal/ops/shell"
)

// Error codes owned by this operation.
const (
	CodeInvalidBatch      = "invalid_batch"
	CodeInvalidOperation  = "invalid_operation"
	CodeMissingAction     = "missing_action"
	CodeUnsupportedAction = "unsupported_action"
)

// Request is the /batch request body. Operations stays untyped because
// entries are validated one by one — a malformed entry produces an error
// result in its slot instead of failing the whole request.
type Request struct {
	Operations []any `json:"operations"`
	DryRun     bool  `json:"dry_run"`
}

// entry is one batch operation with its parameters resolved. Parameters
// live under the "args" sub-mapping, but top-level keys are accepted as
// a shorthand and win when both are present.
type entry struct {
	op   map[string]any
	args map[string]any
}

func newEntry(op map[string]any) entry {
	args, _ := op["args"].(map[string]any)
	return entry{op: op, args: args}
}

func (e entry) str(key string) string {
	if v, ok := e.op[key].(string); ok && v != "" {
		return v
	}
	v, _ := e.args[key].(string)
	return v
}

func (e entry) flag(key string) bool {
	if v, ok := e.op[key].(bool); ok {
		return v
	}
	v, _ := e.args[key].(bool)
	return v
}

// Service dispatches batch entries to the per-operation services.
type Service struct {
	shell  *shell.Service
	files  *files.Service
	code   *code.Service
	logger *slog.Logger
}

// NewService creates the batch dispatcher.
func NewService(shellSvc *shell.Service, filesSvc *files.Service, codeSvc *code.Service, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{shell: shellSvc, files: filesSvc, code: codeSvc, logger: logger}
}

// Dispatch runs the batch sequentially and returns one result per entry,
// in input order. The response is always HTTP 200; per-entry failures are
// embedded.
func (s *Service) Dispatch(ctx context.Context, req Request) (map[string]any, int) {
	if req.Operations == nil {
		return ops.CodeError(CodeInvalidBatch), http.StatusOK
	}

	results := make([]any, 0, len(req.Operations))
	for _, raw := range req.Operations {
		results = append(results, s.dispatchOne(ctx, raw, req.DryRun))
	}
	return ops.Results(results), http.StatusOK
}

func (s *Service) dispatchOne(ctx context.Context, raw any, dryRun bool) (out map[string]any) {
	// A panicking entry stays in its slot as an error result; the rest of
	// the batch keeps going.
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "batch entry panicked", slog.Any("panic", r))
			out = map[string]any{
				"status": http.StatusInternalServerError,
				"error":  map[string]any{"code": ops.CodeInternalError},
			}
		}
	}()

	op, ok := raw.(map[string]any)
	if !ok {
		return map[string]any{
			"status": http.StatusBadRequest,
			"error":  map[string]any{"code": CodeInvalidOperation},
		}
	}
	e := newEntry(op)

	action, _ := op["action"].(string)
	if action == "" {
		return map[string]any{
			"status": http.StatusBadRequest,
			"error":  map[string]any{"code": CodeMissingAction},
		}
	}

	if dryRun || e.flag("dry_run") {
		return map[string]any{
			"action":  action,
			"dry_run": true,
			"status":  http.StatusOK,
		}
	}

	switch action {
	case "shell":
		return s.dispatchShell(ctx, e)
	case "files":
		return s.dispatchFiles(ctx, e)
	case "code":
		return s.dispatchCode(ctx, e)
	default:
		return map[string]any{
			"action": action,
			"status": http.StatusBadRequest,
			"error":  map[string]any{"code": CodeUnsupportedAction},
		}
	}
}

// dispatchShell flattens the shell result into the entry itself:
// {action, stdout, stderr, exit_code, status} on success, or
// {action, error, status} when the shell op rejected the request.
func (s *Service) dispatchShell(ctx context.Context, e entry) map[string]any {
	req := shell.Request{
		Command:    e.str("command"),
		RunAsSudo:  e.flag("run_as_sudo"),
		Background: e.flag("background"),
		Shell:      e.str("shell"),
		Fault:      e.str("fault"),
	}
	body, _ := s.shell.Execute(ctx, req)

	out := map[string]any{"action": "shell"}
	if result, ok := body["result"].(map[string]any); ok {
		for k, v := range result {
			out[k] = v
		}
	}
	if _, ok := out["status"]; !ok {
		out["status"] = http.StatusOK
	}
	return out
}

// dispatchFiles nests the file result under "result". The entry's own
// "action" names the dispatch target, so the file action comes from the
// args mapping (or the "file_action" shorthand).
func (s *Service) dispatchFiles(ctx context.Context, e entry) map[string]any {
	fileAction, _ := e.args["action"].(string)
	if fileAction == "" {
		fileAction = e.str("file_action")
	}
	fileOp := files.Operation{
		Action:     fileAction,
		Path:       e.str("path"),
		Content:    e.str("content"),
		TargetPath: e.str("target_path"),
		Fault:      e.str("fault"),
	}
	result := s.files.Apply(ctx, fileOp)
	return map[string]any{"action": "files", "result": result}
}

// dispatchCode nests the code outcome under "result" so one bad snippet
// cannot fail the batch. A run that exits nonzero is a failure of the
// entry itself and is reported as an execution_error result, unlike the
// standalone /code endpoint where the exit code is the caller's business.
func (s *Service) dispatchCode(ctx context.Context, e entry) map[string]any {
	codeAction, _ := e.args["action"].(string)
	if codeAction == "" {
		codeAction = e.str("code_action")
	}
	req := code.Request{
		Action:   codeAction,
		Path:     e.str("path"),
		Content:  e.str("content"),
		Language: e.str("language"),
		Args:     e.str("args"),
		Fault:    e.str("fault"),
	}
	body, _ := s.code.Execute(ctx, req)

	out := map[string]any{"action": "code"}
	result, ok := body["result"]
	if !ok {
		// Chained responses keep their shape inside the entry.
		out["result"] = body
		return out
	}
	if codeAction == "" || codeAction == "run" {
		if payload, ok := result.(map[string]any); ok {
			if exit, ok := payload["exit_code"].(int); ok && exit != 0 {
				failure := map[string]any{
					"error":  map[string]any{"code": ops.CodeExecutionError},
					"status": http.StatusInternalServerError,
				}
				if stderr, ok := payload["stderr"]; ok {
					failure["stderr"] = stderr
				}
				result = failure
			}
		}
	}
	out["result"] = result
	return out
}
