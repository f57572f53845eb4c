package shell

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jkaninda/fundi/internal/ops"
	"github.com/jkaninda/fundi/internal/ratelimit"
	"github.com/jkaninda/fundi/internal/sandbox"
	"github.com/jkaninda/fundi/internal/security"
)

type mockSandbox struct {
	lastShell  sandbox.ShellRequest
	runResult  *sandbox.ExecutionResult
	runErr     error
	startPID   int
	startErr   error
	startCalls int
	runCalls   int
}

func (m *mockSandbox) Run(_ context.Context, _ sandbox.ExecutionRequest) (*sandbox.ExecutionResult, error) {
	return nil, errors.New("argv execution not expected here")
}

func (m *mockSandbox) RunShell(_ context.Context, req sandbox.ShellRequest) (*sandbox.ExecutionResult, error) {
	m.runCalls++
	m.lastShell = req
	if m.runErr != nil {
		return nil, m.runErr
	}
	if m.runResult != nil {
		return m.runResult, nil
	}
	return &sandbox.ExecutionResult{Stdout: "ok\n"}, nil
}

func (m *mockSandbox) Start(req sandbox.ShellRequest) (int, error) {
	m.startCalls++
	m.lastShell = req
	if m.startErr != nil {
		return 0, m.startErr
	}
	if m.startPID == 0 {
		return 4242, nil
	}
	return m.startPID, nil
}

func newTestService(sbx sandbox.Sandbox, opts Options) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(sbx, nil, security.NewLabelInjector(), opts, logger)
}

func resultOf(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	r, ok := body["result"].(map[string]any)
	if !ok {
		t.Fatalf("body has no result object: %v", body)
	}
	return r
}

func resultErrorCode(t *testing.T, body map[string]any) (string, int) {
	t.Helper()
	r := resultOf(t, body)
	e, ok := r["error"].(map[string]any)
	if !ok {
		t.Fatalf("result has no error object: %v", r)
	}
	code, _ := e["code"].(string)
	status, _ := r["status"].(int)
	return code, status
}

func TestExecuteMissingCommand(t *testing.T) {
	svc := newTestService(&mockSandbox{}, Options{})

	for _, command := range []string{"", "   ", "\t\n"} {
		body, status := svc.Execute(context.Background(), Request{Command: command})
		if status != http.StatusOK {
			t.Fatalf("expected HTTP 200, got %d", status)
		}
		code, embedded := resultErrorCode(t, body)
		if code != CodeMissingCommand || embedded != http.StatusBadRequest {
			t.Fatalf("command %q: got (%s, %d)", command, code, embedded)
		}
	}
}

func TestExecuteCommandTooLong(t *testing.T) {
	svc := newTestService(&mockSandbox{}, Options{MaxCommandLength: 16})

	body, status := svc.Execute(context.Background(), Request{Command: strings.Repeat("x", 17)})
	if status != http.StatusOK {
		t.Fatalf("expected HTTP 200, got %d", status)
	}
	code, embedded := resultErrorCode(t, body)
	if code != CodeCommandTooLong || embedded != http.StatusBadRequest {
		t.Fatalf("got (%s, %d)", code, embedded)
	}
}

func TestExecuteSuccessPassesOutputThrough(t *testing.T) {
	sbx := &mockSandbox{runResult: &sandbox.ExecutionResult{
		Stdout:   "  spaced  \n",
		Stderr:   "warning\n",
		ExitCode: 0,
	}}
	svc := newTestService(sbx, Options{})

	body, status := svc.Execute(context.Background(), Request{Command: "echo hi"})
	if status != http.StatusOK {
		t.Fatalf("expected HTTP 200, got %d", status)
	}
	r := resultOf(t, body)
	if r["stdout"] != "  spaced  \n" {
		t.Errorf("stdout was altered: %q", r["stdout"])
	}
	if r["stderr"] != "warning\n" {
		t.Errorf("stderr was altered: %q", r["stderr"])
	}
	if r["exit_code"] != 0 {
		t.Errorf("exit_code = %v", r["exit_code"])
	}
}

func TestExecuteNonZeroExitIsResult(t *testing.T) {
	sbx := &mockSandbox{runResult: &sandbox.ExecutionResult{
		Stderr:   "not found\n",
		ExitCode: 127,
	}}
	svc := newTestService(sbx, Options{})

	body, status := svc.Execute(context.Background(), Request{Command: "nonexistent_cmd"})
	if status != http.StatusOK {
		t.Fatalf("expected HTTP 200, got %d", status)
	}
	r := resultOf(t, body)
	if r["exit_code"] != 127 {
		t.Errorf("exit_code = %v, want 127", r["exit_code"])
	}
}

func TestExecuteSudoPrefix(t *testing.T) {
	sbx := &mockSandbox{}
	svc := newTestService(sbx, Options{})

	svc.Execute(context.Background(), Request{Command: "whoami", RunAsSudo: true})
	if sbx.lastShell.Command != "sudo whoami" {
		t.Errorf("command = %q, want sudo prefix", sbx.lastShell.Command)
	}
}

func TestExecuteSudoDisabled(t *testing.T) {
	sbx := &mockSandbox{}
	svc := newTestService(sbx, Options{DisableSudo: true})

	svc.Execute(context.Background(), Request{Command: "whoami", RunAsSudo: true})
	if sbx.lastShell.Command != "whoami" {
		t.Errorf("command = %q, sudo should be ignored", sbx.lastShell.Command)
	}
}

func TestExecuteCustomShell(t *testing.T) {
	sbx := &mockSandbox{}
	svc := newTestService(sbx, Options{})

	svc.Execute(context.Background(), Request{Command: "echo $0", Shell: "/bin/zsh"})
	if sbx.lastShell.Shell != "/bin/zsh" {
		t.Errorf("shell = %q, want /bin/zsh", sbx.lastShell.Shell)
	}
}

func TestExecuteBackground(t *testing.T) {
	sbx := &mockSandbox{startPID: 555}
	svc := newTestService(sbx, Options{})

	body, status := svc.Execute(context.Background(), Request{Command: "sleep 60", Background: true})
	if status != http.StatusOK {
		t.Fatalf("expected HTTP 200, got %d", status)
	}
	r := resultOf(t, body)
	if r["pid"] != 555 {
		t.Errorf("pid = %v, want 555", r["pid"])
	}
	if r["exit_code"] != 0 {
		t.Errorf("exit_code = %v, want 0", r["exit_code"])
	}
	if sbx.startCalls != 1 || sbx.runCalls != 0 {
		t.Errorf("background request should start, not run (start=%d run=%d)", sbx.startCalls, sbx.runCalls)
	}
}

func TestExecuteTimeout(t *testing.T) {
	sbx := &mockSandbox{runResult: &sandbox.ExecutionResult{TimedOut: true, ExitCode: -1}}
	svc := newTestService(sbx, Options{Timeout: time.Second})

	body, status := svc.Execute(context.Background(), Request{Command: "sleep 999"})
	if status != http.StatusOK {
		t.Fatalf("expected HTTP 200, got %d", status)
	}
	code, embedded := resultErrorCode(t, body)
	if code != ops.CodeTimeout || embedded != http.StatusInternalServerError {
		t.Fatalf("got (%s, %d), want (timeout, 500)", code, embedded)
	}
}

func TestExecuteFaultInjection(t *testing.T) {
	sbx := &mockSandbox{}
	svc := newTestService(sbx, Options{})

	tests := []struct {
		label      string
		wantCode   string
		wantStatus int
	}{
		{"permission", security.CodePermissionDenied, http.StatusForbidden},
		{"io", security.CodeIOError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		body, status := svc.Execute(context.Background(), Request{
			Command: "echo hi",
			Fault:   tt.label,
		})
		if status != http.StatusOK {
			t.Fatalf("fault %s: expected HTTP 200, got %d", tt.label, status)
		}
		code, embedded := resultErrorCode(t, body)
		if code != tt.wantCode || embedded != tt.wantStatus {
			t.Fatalf("fault %s: got (%s, %d)", tt.label, code, embedded)
		}
	}
	if sbx.runCalls != 0 {
		t.Errorf("faulted requests must not execute, got %d runs", sbx.runCalls)
	}
}

func TestExecuteAdmissionSaturated(t *testing.T) {
	gate := ratelimit.NewAdmission(1)
	if err := gate.TryAcquire(); err != nil {
		t.Fatalf("prefill: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(&mockSandbox{}, gate, security.NopInjector{}, Options{}, logger)

	body, status := svc.Execute(context.Background(), Request{Command: "echo hi"})
	if status != http.StatusTooManyRequests {
		t.Fatalf("expected HTTP 429, got %d", status)
	}
	code, embedded := resultErrorCode(t, body)
	if code != ops.CodeConcurrentAccess || embedded != http.StatusTooManyRequests {
		t.Fatalf("got (%s, %d)", code, embedded)
	}

	gate.Release()
	if _, status := svc.Execute(context.Background(), Request{Command: "echo hi"}); status != http.StatusOK {
		t.Fatalf("expected success after release, got %d", status)
	}
	if gate.InUse() != 0 {
		t.Errorf("slot leaked: %d in use", gate.InUse())
	}
}

func TestExecuteBackgroundSkipsAdmission(t *testing.T) {
	gate := ratelimit.NewAdmission(1)
	if err := gate.TryAcquire(); err != nil {
		t.Fatalf("prefill: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(&mockSandbox{}, gate, security.NopInjector{}, Options{}, logger)

	_, status := svc.Execute(context.Background(), Request{Command: "sleep 1", Background: true})
	if status != http.StatusOK {
		t.Fatalf("background run should bypass the foreground gate, got %d", status)
	}
}
