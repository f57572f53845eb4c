package code

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jkaninda/fundi/internal/ops"
	"github.com/jkaninda/fundi/internal/ratelimit"
	"github.com/jkaninda/fundi/internal/sandbox"
	"github.com/jkaninda/fundi/internal/security"
	"github.com/jkaninda/fundi/internal/workspace"
)

type mockSandbox struct {
	commands  [][]string
	runResult *sandbox.ExecutionResult
	runErr    error
}

func (m *mockSandbox) Run(_ context.Context, req sandbox.ExecutionRequest) (*sandbox.ExecutionResult, error) {
	m.commands = append(m.commands, req.Command)
	if m.runErr != nil {
		return nil, m.runErr
	}
	if m.runResult != nil {
		return m.runResult, nil
	}
	return &sandbox.ExecutionResult{Stdout: "ran\n"}, nil
}

func (m *mockSandbox) RunShell(_ context.Context, _ sandbox.ShellRequest) (*sandbox.ExecutionResult, error) {
	return nil, nil
}

func (m *mockSandbox) Start(_ sandbox.ShellRequest) (int, error) {
	return 0, nil
}

func newTestService(t *testing.T, sbx sandbox.Sandbox, admission *ratelimit.Admission) (*Service, *workspace.Workspace) {
	t.Helper()
	ws, err := workspace.New(t.TempDir())
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(sbx, ws, security.NewValidator(security.ValidatorOptions{}),
		security.NewLabelInjector(), admission, Options{}, logger)
	return svc, ws
}

// resultError digs the graceful error out of {"result": {"error": ...,
// "status": ...}} and returns its code with the embedded status.
func resultError(t *testing.T, body map[string]any) (string, int) {
	t.Helper()
	r, ok := body["result"].(map[string]any)
	if !ok {
		t.Fatalf("body has no result: %v", body)
	}
	e, ok := r["error"].(map[string]any)
	if !ok {
		t.Fatalf("result has no error: %v", r)
	}
	code, _ := e["code"].(string)
	status, _ := r["status"].(int)
	return code, status
}

func writeScript(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("fixture: %v", err)
	}
	return path
}

func TestExecuteContentModeDefaults(t *testing.T) {
	sbx := &mockSandbox{runResult: &sandbox.ExecutionResult{Stdout: "Hello\n"}}
	svc, _ := newTestService(t, sbx, nil)

	body, status := svc.Execute(context.Background(), Request{Content: "print('Hello')"})
	if status != http.StatusOK {
		t.Fatalf("HTTP status = %d, want 200", status)
	}
	r, ok := body["result"].(map[string]any)
	if !ok || r["stdout"] != "Hello\n" {
		t.Fatalf("body = %v", body)
	}

	if len(sbx.commands) != 1 {
		t.Fatalf("expected one execution, got %d", len(sbx.commands))
	}
	argv := sbx.commands[0]
	if argv[0] != "python3" {
		t.Errorf("default language should be python: %v", argv)
	}
	if !strings.HasSuffix(argv[len(argv)-1], ".py") {
		t.Errorf("scratch file should carry .py extension: %v", argv)
	}
}

func TestExecuteScratchFileCleanedUp(t *testing.T) {
	sbx := &mockSandbox{}
	svc, ws := newTestService(t, sbx, nil)

	svc.Execute(context.Background(), Request{Content: "print('x')"})

	entries, err := os.ReadDir(ws.ScratchDir())
	if err != nil {
		t.Fatalf("scratch dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("scratch entries left behind: %d", len(entries))
	}
}

func TestExecuteInvalidAction(t *testing.T) {
	sbx := &mockSandbox{}
	svc, _ := newTestService(t, sbx, nil)

	body, status := svc.Execute(context.Background(), Request{Action: "compile", Content: "print('x')"})
	if status != http.StatusOK {
		t.Fatalf("HTTP status = %d, want 200", status)
	}
	if code, embedded := resultError(t, body); code != CodeInvalidAction || embedded != http.StatusBadRequest {
		t.Fatalf("got (%s, %d)", code, embedded)
	}
	if len(sbx.commands) != 0 {
		t.Error("invalid action must not execute")
	}
}

func TestExecuteUnsupportedLanguage(t *testing.T) {
	svc, _ := newTestService(t, &mockSandbox{}, nil)

	body, status := svc.Execute(context.Background(), Request{Content: "puts 'x'", Language: "ruby"})
	if status != http.StatusOK {
		t.Fatalf("HTTP status = %d, want 200", status)
	}
	if code, embedded := resultError(t, body); code != CodeUnsupportedLanguage || embedded != http.StatusBadRequest {
		t.Fatalf("got (%s, %d)", code, embedded)
	}
}

func TestExecuteLanguageAliases(t *testing.T) {
	sbx := &mockSandbox{}
	svc, _ := newTestService(t, sbx, nil)

	if _, status := svc.Execute(context.Background(), Request{Content: "print('x')", Language: "python3"}); status != http.StatusOK {
		t.Fatalf("python3 alias rejected: %d", status)
	}
	if _, status := svc.Execute(context.Background(), Request{Content: "console.log(1)", Language: "javascript"}); status != http.StatusOK {
		t.Fatalf("javascript alias rejected: %d", status)
	}
	if argv := sbx.commands[len(sbx.commands)-1]; argv[0] != "node" {
		t.Errorf("javascript should resolve to node: %v", argv)
	}
}

func TestExecutePathXorContent(t *testing.T) {
	svc, _ := newTestService(t, &mockSandbox{}, nil)
	script := writeScript(t, "job.py", "print('x')")

	body, status := svc.Execute(context.Background(), Request{})
	if status != http.StatusOK {
		t.Fatalf("neither: HTTP %d", status)
	}
	if code, _ := resultError(t, body); code != CodeMissingPathOrContent {
		t.Fatalf("neither: code %s", code)
	}

	body, status = svc.Execute(context.Background(), Request{Path: script, Content: "print('y')"})
	if status != http.StatusOK {
		t.Fatalf("both: HTTP %d", status)
	}
	if code, _ := resultError(t, body); code != CodeMissingPathOrContent {
		t.Fatalf("both: code %s", code)
	}
}

func TestExecuteExplainRejectsContent(t *testing.T) {
	svc, _ := newTestService(t, &mockSandbox{}, nil)

	body, status := svc.Execute(context.Background(), Request{Action: "explain", Content: "print('x')"})
	if status != http.StatusOK {
		t.Fatalf("HTTP status = %d, want 200", status)
	}
	if code, _ := resultError(t, body); code != CodeUnsupportedContent {
		t.Fatalf("code = %s", code)
	}
}

func TestExecuteFileNotFound(t *testing.T) {
	svc, _ := newTestService(t, &mockSandbox{}, nil)

	body, status := svc.Execute(context.Background(), Request{Path: filepath.Join(t.TempDir(), "ghost.py")})
	if status != http.StatusOK {
		t.Fatalf("HTTP status = %d, want 200", status)
	}
	if code, embedded := resultError(t, body); code != CodeFileNotFound || embedded != http.StatusNotFound {
		t.Fatalf("got (%s, %d)", code, embedded)
	}
}

func TestExecutePathValidation(t *testing.T) {
	svc, _ := newTestService(t, &mockSandbox{}, nil)

	body, status := svc.Execute(context.Background(), Request{Path: "../../../etc/passwd.py"})
	if status != http.StatusOK {
		t.Fatalf("HTTP status = %d", status)
	}
	if code, _ := resultError(t, body); code != security.CodeInvalidPath {
		t.Fatalf("code = %s", code)
	}

	body, status = svc.Execute(context.Background(), Request{Path: strings.Repeat("a", 300) + ".py"})
	if status != http.StatusOK {
		t.Fatalf("HTTP status = %d", status)
	}
	if code, _ := resultError(t, body); code != security.CodePathTooLong {
		t.Fatalf("code = %s", code)
	}
}

func TestExecuteLanguageMismatch(t *testing.T) {
	svc, _ := newTestService(t, &mockSandbox{}, nil)
	script := writeScript(t, "job.py", "print('x')")

	body, status := svc.Execute(context.Background(), Request{Path: script, Language: "bash"})
	if status != http.StatusOK {
		t.Fatalf("HTTP status = %d", status)
	}
	if code, _ := resultError(t, body); code != security.CodeLanguageMismatch {
		t.Fatalf("code = %s", code)
	}
}

func TestExecuteInvalidArgs(t *testing.T) {
	svc, _ := newTestService(t, &mockSandbox{}, nil)

	for _, args := range []string{"; rm -rf /", "--bogus-flag"} {
		body, status := svc.Execute(context.Background(), Request{Content: "print('x')", Args: args})
		if status != http.StatusOK {
			t.Fatalf("args %q: HTTP %d", args, status)
		}
		if code, _ := resultError(t, body); code != security.CodeInvalidArgs {
			t.Fatalf("args %q: code %s", args, code)
		}
	}
}

func TestExecuteRunAppendsArgs(t *testing.T) {
	sbx := &mockSandbox{}
	svc, _ := newTestService(t, sbx, nil)

	svc.Execute(context.Background(), Request{Content: "print('x')", Args: "input.txt output.txt"})
	argv := sbx.commands[0]
	if argv[len(argv)-2] != "input.txt" || argv[len(argv)-1] != "output.txt" {
		t.Errorf("args not appended: %v", argv)
	}
}

func TestExecuteInvalidContent(t *testing.T) {
	svc, _ := newTestService(t, &mockSandbox{}, nil)

	body, status := svc.Execute(context.Background(), Request{Content: "def hello(\n    print('x')"})
	if status != http.StatusOK {
		t.Fatalf("HTTP status = %d", status)
	}
	if code, _ := resultError(t, body); code != security.CodeInvalidContent {
		t.Fatalf("code = %s", code)
	}

	body, status = svc.Execute(context.Background(), Request{Content: "print('" + strings.Repeat("x", 102400) + "')"})
	if status != http.StatusOK {
		t.Fatalf("oversized content: HTTP %d", status)
	}
	if code, _ := resultError(t, body); code != security.CodeInvalidContent {
		t.Fatalf("oversized content: code %s", code)
	}
}

func TestExecuteExplain(t *testing.T) {
	sbx := &mockSandbox{}
	svc, _ := newTestService(t, sbx, nil)
	script := writeScript(t, "job.py", "import os\n\ndef greet():\n    print('hi')\n")

	body, status := svc.Execute(context.Background(), Request{Action: "explain", Path: script})
	if status != http.StatusOK {
		t.Fatalf("HTTP status = %d", status)
	}
	r := body["result"].(map[string]any)
	if !strings.Contains(r["code"].(string), "def greet") {
		t.Errorf("code field missing source: %v", r["code"])
	}
	explanation := r["explanation"].(string)
	if !strings.Contains(explanation, "function") {
		t.Errorf("explanation = %q", explanation)
	}
	if len(sbx.commands) != 0 {
		t.Error("explain must not execute anything")
	}
}

func TestExecuteTestWithoutMarkers(t *testing.T) {
	sbx := &mockSandbox{}
	svc, _ := newTestService(t, sbx, nil)
	script := writeScript(t, "plain.py", "print('no tests here')")

	body, status := svc.Execute(context.Background(), Request{Action: "test", Path: script})
	if status != http.StatusOK {
		t.Fatalf("HTTP status = %d, want 200", status)
	}
	r := body["result"].(map[string]any)
	e, ok := r["error"].(map[string]any)
	if !ok || e["code"] != CodeNoTestsFound {
		t.Fatalf("result = %v", r)
	}
	if len(sbx.commands) != 0 {
		t.Error("marker-less test action must not execute")
	}
}

func TestExecuteTestWithMarkers(t *testing.T) {
	sbx := &mockSandbox{}
	svc, _ := newTestService(t, sbx, nil)
	script := writeScript(t, "test_math.py", "def test_add():\n    assert 1 + 1 == 2\n")

	_, status := svc.Execute(context.Background(), Request{Action: "test", Path: script})
	if status != http.StatusOK {
		t.Fatalf("HTTP status = %d", status)
	}
	if len(sbx.commands) != 1 {
		t.Fatalf("expected one execution, got %d", len(sbx.commands))
	}
	argv := sbx.commands[0]
	if argv[0] != "python3" || argv[2] != "pytest" {
		t.Errorf("test command = %v", argv)
	}
}

func TestExecuteLintUsesSyntaxChecker(t *testing.T) {
	sbx := &mockSandbox{}
	svc, _ := newTestService(t, sbx, nil)
	script := writeScript(t, "check.sh", "echo ok\n")

	_, status := svc.Execute(context.Background(), Request{Action: "lint", Path: script, Language: "bash"})
	if status != http.StatusOK {
		t.Fatalf("HTTP status = %d", status)
	}
	argv := sbx.commands[0]
	if argv[0] != "bash" || argv[1] != "-n" {
		t.Errorf("lint command = %v", argv)
	}
}

func TestExecuteChained(t *testing.T) {
	sbx := &mockSandbox{}
	svc, _ := newTestService(t, sbx, nil)
	script := writeScript(t, "job.py", "print('x')")

	body, status := svc.Execute(context.Background(), Request{
		Actions: []string{"lint", "run"},
		Path:    script,
	})
	if status != http.StatusOK {
		t.Fatalf("HTTP status = %d", status)
	}
	if body["chained"] != true {
		t.Fatalf("chained flag missing: %v", body)
	}
	results, ok := body["results"].([]any)
	if !ok || len(results) != 2 {
		t.Fatalf("results = %v", body["results"])
	}
	if len(sbx.commands) != 2 {
		t.Fatalf("expected 2 executions, got %d", len(sbx.commands))
	}
}

func TestExecuteChainedRejectsUnknownAction(t *testing.T) {
	sbx := &mockSandbox{}
	svc, _ := newTestService(t, sbx, nil)
	script := writeScript(t, "job.py", "print('x')")

	body, status := svc.Execute(context.Background(), Request{
		Actions: []string{"run", "obliterate"},
		Path:    script,
	})
	if status != http.StatusOK {
		t.Fatalf("HTTP status = %d", status)
	}
	if code, _ := resultError(t, body); code != CodeInvalidAction {
		t.Fatalf("code = %s", code)
	}
	if len(sbx.commands) != 0 {
		t.Error("chain with an unknown action must not run at all")
	}
}

func TestExecuteFaults(t *testing.T) {
	sbx := &mockSandbox{}
	svc, _ := newTestService(t, sbx, nil)

	tests := []struct {
		label        string
		wantCode     string
		wantEmbedded int
	}{
		{"syntax", security.CodeSyntaxError, http.StatusBadRequest},
		{"io", security.CodeIOError, http.StatusInternalServerError},
		{"permission", security.CodePermissionDenied, http.StatusForbidden},
	}
	for _, tt := range tests {
		body, status := svc.Execute(context.Background(), Request{
			Content: "print('x')",
			Fault:   tt.label,
		})
		if status != http.StatusOK {
			t.Fatalf("fault %s: HTTP %d, want 200", tt.label, status)
		}
		if code, embedded := resultError(t, body); code != tt.wantCode || embedded != tt.wantEmbedded {
			t.Fatalf("fault %s: got (%s, %d)", tt.label, code, embedded)
		}
	}
	if len(sbx.commands) != 0 {
		t.Error("faulted requests must not execute")
	}
}

func TestExecuteAdmissionSaturated(t *testing.T) {
	gate := ratelimit.NewAdmission(1)
	if err := gate.TryAcquire(); err != nil {
		t.Fatalf("prefill: %v", err)
	}
	svc, _ := newTestService(t, &mockSandbox{}, gate)

	body, status := svc.Execute(context.Background(), Request{Content: "print('x')"})
	if status != http.StatusTooManyRequests {
		t.Fatalf("HTTP status = %d, want 429", status)
	}
	r, ok := body["result"].(map[string]any)
	if !ok {
		t.Fatalf("body = %v", body)
	}
	e := r["error"].(map[string]any)
	if e["code"] != ops.CodeConcurrentAccess {
		t.Fatalf("code = %v", e["code"])
	}
}

func TestExecuteTimeoutIsResult(t *testing.T) {
	sbx := &mockSandbox{runResult: &sandbox.ExecutionResult{TimedOut: true, ExitCode: -1}}
	svc, _ := newTestService(t, sbx, nil)

	body, status := svc.Execute(context.Background(), Request{Content: "while True: pass"})
	if status != http.StatusOK {
		t.Fatalf("HTTP status = %d, want 200", status)
	}
	r := body["result"].(map[string]any)
	e := r["error"].(map[string]any)
	if e["code"] != ops.CodeTimeout {
		t.Fatalf("code = %v", e["code"])
	}
}
