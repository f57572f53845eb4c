// Package gitops implements the /git operation: a relay for a fixed set
// of git subcommands against a repository path, with repository-state
// validation and request metadata (latency, payload size) in every
// response.
//
// Everything answers HTTP 200; failures live inside the body with an
// embedded status, matching the graceful convention.
package gitops

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/jkaninda/fundi/internal/sandbox"
)

// Error codes owned by this operation.
const (
	CodeInvalidAction   = "invalid_action"
	CodeInvalidPath     = "invalid_path"
	CodeNotADirectory   = "not_a_directory"
	CodeNotAGitRepo     = "not_a_git_repo"
	CodeGitError        = "git_error"
	CodeMissingIdentity = "missing_identity"
	CodeInternalError   = "internal_error"
)

var allowedActions = []string{
	"init", "status", "add", "commit", "push", "pull", "clone", "log",
	"diff", "checkout", "branch", "merge", "reset", "remote", "fetch",
	"rebase", "tag", "config",
}

func actionAllowed(action string) bool {
	for _, a := range allowedActions {
		if a == action {
			return true
		}
	}
	return false
}

// Request is the /git request body.
type Request struct {
	Action string `json:"action"`
	Path   string `json:"path"`
	Args   string `json:"args"`
	Debug  bool   `json:"debug"`
}

// Options configures the git service.
type Options struct {
	// Timeout bounds each git invocation. Default 60s.
	Timeout time.Duration
}

// Service relays git commands.
type Service struct {
	sandbox sandbox.Sandbox
	opts    Options
	logger  *slog.Logger
}

// NewService creates the git service.
func NewService(sbx sandbox.Sandbox, opts Options, logger *slog.Logger) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{sandbox: sbx, opts: opts, logger: logger}
}

// run tracks one request's metadata and debug trace.
type run struct {
	start       time.Time
	payloadSize int
	debug       []string
	wantDebug   bool
}

func (r *run) note(format string, args ...any) {
	if r.wantDebug {
		r.debug = append(r.debug, fmt.Sprintf(format, args...))
	}
}

func (r *run) latencyMS() float64 {
	return math.Round(float64(time.Since(r.start).Microseconds())/10) / 100
}

// attach adds the debug trace to a response when the caller asked for it.
func (r *run) attach(body map[string]any) map[string]any {
	if r.wantDebug {
		body["debug"] = r.debug
	}
	return body
}

func errorResult(code, message string, status int) map[string]any {
	return map[string]any{
		"error":  map[string]any{"code": code, "message": message},
		"status": status,
	}
}

// Execute handles one /git request. The returned HTTP status is always
// 200; logical failures carry their status inside the body.
func (s *Service) Execute(ctx context.Context, req Request) (map[string]any, int) {
	r := &run{start: time.Now(), wantDebug: req.Debug}
	if raw, err := json.Marshal(req); err == nil {
		r.payloadSize = len(raw)
	}

	if req.Action == "" || !actionAllowed(req.Action) {
		return r.attach(errorResult(CodeInvalidAction,
			fmt.Sprintf("Action '%s' is not supported. Allowed: %v", req.Action, allowedActions),
			http.StatusBadRequest)), http.StatusOK
	}
	if req.Path == "" {
		return r.attach(errorResult(CodeInvalidPath,
			"A valid 'path' string is required.",
			http.StatusBadRequest)), http.StatusOK
	}

	repoPath, err := resolveRepoPath(req.Path)
	if err != nil {
		return r.attach(errorResult(CodeInvalidPath, err.Error(), http.StatusBadRequest)), http.StatusOK
	}

	if body := s.checkRepo(repoPath, req.Action, r); body != nil {
		return body, http.StatusOK
	}

	// Commit and push need an identity configured or git rejects them with
	// an opaque message, so check up front and answer with a clear code.
	if req.Action == "commit" || req.Action == "push" {
		if !s.hasIdentity(ctx, repoPath) {
			return r.attach(errorResult(CodeMissingIdentity,
				"Git user.name and user.email must be set for commit/push. "+
					"Use 'git config user.name' and 'git config user.email' in your repo.",
				http.StatusBadRequest)), http.StatusOK
		}
	}

	argv := []string{"git", "-C", repoPath, req.Action}
	if strings.TrimSpace(req.Args) != "" {
		extra, err := shellwords.Parse(req.Args)
		if err != nil {
			return r.attach(errorResult(CodeGitError,
				fmt.Sprintf("Could not parse args: %s", err),
				http.StatusBadRequest)), http.StatusOK
		}
		argv = append(argv, extra...)
	}
	r.note("Running command: %s", strings.Join(argv, " "))

	res, err := s.runGit(ctx, repoPath, argv)
	if err != nil {
		s.logger.ErrorContext(ctx, "git execution failed",
			slog.String("action", req.Action),
			slog.String("error", err.Error()),
		)
		return r.attach(errorResult(CodeInternalError,
			fmt.Sprintf("Internal error: %s", err),
			http.StatusInternalServerError)), http.StatusOK
	}

	// Shared and mounted checkouts often trip git's ownership check.
	// Register the directory as safe and retry once.
	if strings.Contains(res.Stderr, "dubious ownership") {
		r.note("Dubious ownership detected, adding safe.directory for %s", repoPath)
		safe := []string{"git", "config", "--global", "--add", "safe.directory", repoPath}
		if _, err := s.runGit(ctx, repoPath, safe); err == nil {
			if retried, err := s.runGit(ctx, repoPath, argv); err == nil {
				res = retried
			}
		}
	}

	if res.ExitCode != 0 {
		return r.attach(s.gitFailure(repoPath, res, r)), http.StatusOK
	}

	body := map[string]any{
		"stdout":       strings.TrimSpace(res.Stdout),
		"stderr":       strings.TrimSpace(res.Stderr),
		"exit_code":    res.ExitCode,
		"latency_ms":   r.latencyMS(),
		"payload_size": r.payloadSize,
		"status":       http.StatusOK,
	}
	return r.attach(body), http.StatusOK
}

// checkRepo validates the repository directory and returns an error body
// when the request cannot proceed, or nil when it can.
func (s *Service) checkRepo(repoPath, action string, r *run) map[string]any {
	info, err := os.Stat(repoPath)
	if err != nil {
		if action == "init" {
			if mkErr := os.MkdirAll(repoPath, 0750); mkErr != nil {
				return r.attach(errorResult(CodeInvalidPath,
					fmt.Sprintf("Could not create '%s': %s", repoPath, mkErr),
					http.StatusBadRequest))
			}
			r.note("Created directory: %s", repoPath)
			return nil
		}
		r.note("Path does not exist: %s", repoPath)
		return r.attach(errorResult(CodeInvalidPath,
			fmt.Sprintf("Repository path '%s' does not exist.", repoPath),
			http.StatusBadRequest))
	}
	if !info.IsDir() {
		r.note("Not a directory: %s", repoPath)
		return r.attach(errorResult(CodeNotADirectory,
			fmt.Sprintf("Repository path '%s' is not a directory. To create a new git repository, "+
				"use 'git init <directory>' or specify a valid repo path.", repoPath),
			http.StatusBadRequest))
	}

	gitDir, err := os.Stat(filepath.Join(repoPath, ".git"))
	hasGit := err == nil && gitDir.IsDir()
	if hasGit {
		return nil
	}
	if action == "init" {
		r.note("Allowing init on non-git directory: %s", repoPath)
		return nil
	}
	if _, err := os.Stat(filepath.Join(repoPath, ".gitignore")); err == nil {
		r.note(".gitignore exists in: %s", repoPath)
		return nil
	}

	entries, err := os.ReadDir(repoPath)
	if err != nil || len(entries) == 0 {
		r.note("Empty directory, not a git repo: %s", repoPath)
		return r.attach(errorResult(CodeNotAGitRepo,
			fmt.Sprintf("Target path '%s' is empty and not a git repo. Run 'git init' in this "+
				"directory to initialize a repository. For help, see 'git help init'.", repoPath),
			http.StatusBadRequest))
	}
	contents := make([]string, 0, len(entries))
	for _, e := range entries {
		contents = append(contents, e.Name())
	}
	r.note("Not a git repo, contents: %v", contents)
	body := errorResult(CodeNotAGitRepo,
		fmt.Sprintf("Target path '%s' is not a git repository. Run 'git init' in this "+
			"directory to initialize a repository. For help, see 'git help init'.", repoPath),
		http.StatusBadRequest)
	body["contents"] = contents
	return r.attach(body)
}

// gitFailure maps a nonzero git exit into the error body. The well-known
// "not a git repository" stderr gets its own code and guidance.
func (s *Service) gitFailure(repoPath string, res *sandbox.ExecutionResult, r *run) map[string]any {
	errMsg := strings.TrimSpace(res.Stderr)
	code := CodeGitError
	msg := errMsg
	switch {
	case strings.Contains(errMsg, "not a git repository"):
		code = CodeNotAGitRepo
		msg = fmt.Sprintf("Target path '%s' is not a git repository. Please initialize with "+
			"'git init' or specify a valid repo. For help, see 'git help init'.", repoPath)
	case strings.Contains(errMsg, "fatal"):
		lines := strings.Split(errMsg, "\n")
		msg = lines[len(lines)-1]
	}
	body := errorResult(code, msg, http.StatusBadRequest)
	body["exit_code"] = res.ExitCode
	body["latency_ms"] = r.latencyMS()
	body["payload_size"] = r.payloadSize
	return body
}

// runGit executes an argv in the repo with the parent environment, which
// git needs for global config, credentials and proxies. Prompts are
// disabled so a missing credential fails instead of hanging the request.
func (s *Service) runGit(ctx context.Context, repoPath string, argv []string) (*sandbox.ExecutionResult, error) {
	return s.sandbox.Run(ctx, sandbox.ExecutionRequest{
		Command:    argv,
		WorkingDir: repoPath,
		InheritEnv: true,
		Env:        map[string]string{"GIT_TERMINAL_PROMPT": "0"},
		Timeout:    s.opts.Timeout,
	})
}

// hasIdentity reports whether user.name and user.email resolve in the repo.
func (s *Service) hasIdentity(ctx context.Context, repoPath string) bool {
	for _, key := range []string{"user.name", "user.email"} {
		res, err := s.runGit(ctx, repoPath, []string{"git", "-C", repoPath, "config", "--get", key})
		if err != nil || res.ExitCode != 0 || strings.TrimSpace(res.Stdout) == "" {
			return false
		}
	}
	return true
}

// resolveRepoPath expands ~ and makes the path absolute.
func resolveRepoPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return abs, nil
}
