// Package refactor implements the /refactor operation: a literal
// search/replace applied across a list of files, dry-run capable.
//
// The endpoint mixes both error conventions: a request missing search,
// replace or files is a hard HTTP 500 with a {"detail": ...} body, while
// an injected fault is a graceful 200 with the error at the top level.
package refactor

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/jkaninda/fundi/internal/ops"
	"github.com/jkaninda/fundi/internal/security"
)

// NoMatches is the scalar result returned when files were examined but
// none contained the search string.
const NoMatches = "No matches found."

// Request is the /refactor request body. Search and Replace are pointers
// so a missing key can be told apart from an empty string.
type Request struct {
	Search  *string  `json:"search"`
	Replace *string  `json:"replace"`
	Files   []string `json:"files"`
	DryRun  bool     `json:"dry_run"`
	Fault   string   `json:"fault"`
}

// Service applies search/replace refactors.
type Service struct {
	injector security.Injector
	logger   *slog.Logger
}

// NewService creates the refactor service.
func NewService(injector security.Injector, logger *slog.Logger) *Service {
	if injector == nil {
		injector = security.NopInjector{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{injector: injector, logger: logger}
}

// Execute handles one /refactor request and returns the response body
// with its HTTP status. The result is polymorphic: a list of changed-file
// entries, or the NoMatches string when files were read but untouched.
func (s *Service) Execute(ctx context.Context, req Request) (map[string]any, int) {
	if req.Search == nil || req.Replace == nil || req.Files == nil {
		return ops.Detail(ops.CodeError(ops.CodeInternalError)), http.StatusInternalServerError
	}

	if fault := s.injector.Inject(req.Fault); fault != nil {
		return ops.ErrorBody(fault.Code, fault.Status), http.StatusOK
	}

	changed := make([]any, 0, len(req.Files))
	examined := 0
	for _, file := range req.Files {
		info, err := os.Stat(file)
		if err != nil || info.IsDir() {
			// Nonexistent entries are silently skipped, not reported.
			continue
		}
		examined++

		entry, err := s.applyOne(file, *req.Search, *req.Replace, req.DryRun)
		if err != nil {
			s.logger.ErrorContext(ctx, "refactor failed",
				slog.String("file", file),
				slog.String("error", err.Error()),
			)
			return ops.Detail(ops.CodeError(ops.CodeInternalError)), http.StatusInternalServerError
		}
		if entry != nil {
			changed = append(changed, entry)
		}
	}

	if examined > 0 && len(changed) == 0 {
		return ops.Result(NoMatches), http.StatusOK
	}
	return ops.Result(changed), http.StatusOK
}

// applyOne rewrites a single file and returns its result entry, or nil
// when the replacement leaves the content as it was. An empty search
// keeps ReplaceAll's semantics: the replacement lands between every
// character and at both ends.
func (s *Service) applyOne(file, search, replace string, dryRun bool) (map[string]any, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	content := string(data)

	updated := strings.ReplaceAll(content, search, replace)
	if updated == content {
		return nil, nil
	}

	if !dryRun {
		info, err := os.Stat(file)
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(file, []byte(updated), info.Mode().Perm()); err != nil {
			return nil, err
		}
	}

	return map[string]any{"file": file, "changed": true}, nil
}
