// Package files implements the /files operation: single and batched file
// management actions with the graceful in-result error convention.
package files

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"

	"github.com/jkaninda/fundi/internal/ops"
	"github.com/jkaninda/fundi/internal/security"
)

// Error codes owned by this operation.
const (
	CodeMissingField      = "missing_field"
	CodeNotFound          = "not_found"
	CodeNotADirectory     = "not_a_directory"
	CodeUnsupportedAction = "unsupported_action"
)

// Operation is one file action.
type Operation struct {
	Action     string `json:"action"`
	Path       string `json:"path"`
	Content    string `json:"content"`
	TargetPath string `json:"target_path"`
	Fault      string `json:"fault"`
}

// Request is the /files request body: either a single operation or a
// batch under "operations".
type Request struct {
	Operation
	Operations []Operation `json:"operations"`
}

// Service applies file operations.
type Service struct {
	validator *security.Validator
	injector  security.Injector
	logger    *slog.Logger
}

// NewService creates the files service.
func NewService(validator *security.Validator, injector security.Injector, logger *slog.Logger) *Service {
	if validator == nil {
		validator = security.NewValidator(security.ValidatorOptions{})
	}
	if injector == nil {
		injector = security.NopInjector{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{validator: validator, injector: injector, logger: logger}
}

// Execute handles a /files request. Batch requests return {"results": [...]},
// a single operation returns {"result": dict} — unless the operation is
// missing a required field, in which case the missing_field body is the
// whole response. Everything is HTTP 200; failures live inside the dicts.
func (s *Service) Execute(ctx context.Context, req Request) (map[string]any, int) {
	if req.Operations != nil {
		results := make([]any, 0, len(req.Operations))
		for _, op := range req.Operations {
			results = append(results, s.Apply(ctx, op))
		}
		return ops.Results(results), http.StatusOK
	}

	result := s.Apply(ctx, req.Operation)
	if isMissingField(result) {
		return result, http.StatusOK
	}
	return ops.Result(result), http.StatusOK
}

// Apply runs a single operation and returns its result dict. The dict
// carries an embedded status except in the missing-field case, which keeps
// the legacy bare-error shape.
func (s *Service) Apply(ctx context.Context, op Operation) map[string]any {
	if op.Action == "" || op.Path == "" {
		return ops.CodeError(CodeMissingField)
	}

	if fault := s.injector.Inject(op.Fault); fault != nil {
		return ops.ErrorBody(fault.Code, fault.Status)
	}

	if err := s.validator.ValidatePath(op.Path); err != nil {
		ve := security.AsValidation(err)
		return ops.ErrorBody(ve.Code, http.StatusBadRequest)
	}
	if op.TargetPath != "" {
		if err := s.validator.ValidatePath(op.TargetPath); err != nil {
			ve := security.AsValidation(err)
			return ops.ErrorBody(ve.Code, http.StatusBadRequest)
		}
	}

	switch op.Action {
	case "read":
		return s.read(op)
	case "write":
		return s.write(op)
	case "delete":
		return s.delete(op)
	case "stat":
		return s.stat(op)
	case "exists":
		return s.exists(op)
	case "list":
		return s.list(op)
	case "copy":
		return s.copy(ctx, op)
	case "move":
		return s.move(op)
	default:
		return ops.ErrorBody(CodeUnsupportedAction, http.StatusBadRequest)
	}
}

func (s *Service) read(op Operation) map[string]any {
	data, err := os.ReadFile(op.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ops.ErrorBody(CodeNotFound, http.StatusNotFound)
		}
		return ops.ErrorBody(security.CodeIOError, http.StatusInternalServerError)
	}
	return map[string]any{"content": string(data), "status": http.StatusOK}
}

func (s *Service) write(op Operation) map[string]any {
	// Parent directories are never created implicitly.
	if err := os.WriteFile(op.Path, []byte(op.Content), 0644); err != nil {
		return ops.ErrorBody(security.CodeIOError, http.StatusInternalServerError)
	}
	return map[string]any{"status": http.StatusOK}
}

func (s *Service) delete(op Operation) map[string]any {
	if err := os.Remove(op.Path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ops.ErrorBody(CodeNotFound, http.StatusNotFound)
		}
		return ops.ErrorBody(security.CodeIOError, http.StatusInternalServerError)
	}
	return map[string]any{"status": http.StatusOK}
}

func (s *Service) stat(op Operation) map[string]any {
	info, err := os.Stat(op.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ops.ErrorBody(CodeNotFound, http.StatusNotFound)
		}
		return ops.ErrorBody(security.CodeIOError, http.StatusInternalServerError)
	}
	mtime, ctime := fileTimes(info)
	return map[string]any{
		"size":   info.Size(),
		"mtime":  mtime,
		"ctime":  ctime,
		"status": http.StatusOK,
	}
}

func (s *Service) exists(op Operation) map[string]any {
	_, err := os.Stat(op.Path)
	return map[string]any{"exists": err == nil, "status": http.StatusOK}
}

func (s *Service) list(op Operation) map[string]any {
	entries, err := os.ReadDir(op.Path)
	if err != nil {
		return ops.ErrorBody(CodeNotADirectory, http.StatusBadRequest)
	}
	items := make([]string, 0, len(entries))
	for _, e := range entries {
		items = append(items, e.Name())
	}
	return map[string]any{"items": items, "status": http.StatusOK}
}

func (s *Service) copy(ctx context.Context, op Operation) map[string]any {
	if op.TargetPath == "" {
		return ops.CodeError(CodeMissingField)
	}
	data, err := os.ReadFile(op.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ops.ErrorBody(CodeNotFound, http.StatusNotFound)
		}
		return ops.ErrorBody(security.CodeIOError, http.StatusInternalServerError)
	}
	info, err := os.Stat(op.Path)
	if err != nil {
		return ops.ErrorBody(security.CodeIOError, http.StatusInternalServerError)
	}
	if err := os.WriteFile(op.TargetPath, data, info.Mode().Perm()); err != nil {
		s.logger.WarnContext(ctx, "copy failed",
			slog.String("source", op.Path),
			slog.String("target", op.TargetPath),
			slog.String("error", err.Error()),
		)
		return ops.ErrorBody(security.CodeIOError, http.StatusInternalServerError)
	}
	return map[string]any{"status": http.StatusOK}
}

func (s *Service) move(op Operation) map[string]any {
	if op.TargetPath == "" {
		return ops.CodeError(CodeMissingField)
	}
	if err := os.Rename(op.Path, op.TargetPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ops.ErrorBody(CodeNotFound, http.StatusNotFound)
		}
		return ops.ErrorBody(security.CodeIOError, http.StatusInternalServerError)
	}
	return map[string]any{"status": http.StatusOK}
}

func isMissingField(result map[string]any) bool {
	e, ok := result["error"].(map[string]any)
	if !ok {
		return false
	}
	_, hasStatus := result["status"]
	return !hasStatus && e["code"] == CodeMissingField
}
