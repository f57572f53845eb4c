package refactor

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/jkaninda/fundi/internal/security"
)

func newTestService() *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(security.NewLabelInjector(), logger)
}

func strptr(s string) *string { return &s }

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("fixture: %v", err)
	}
	return path
}

func readBack(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	return string(data)
}

func TestExecuteMissingFieldsIsHardFailure(t *testing.T) {
	svc := newTestService()

	requests := []Request{
		{Replace: strptr("bar"), Files: []string{}},
		{Search: strptr("foo"), Files: []string{}},
		{Search: strptr("foo"), Replace: strptr("bar")},
	}
	for i, req := range requests {
		body, status := svc.Execute(context.Background(), req)
		if status != http.StatusInternalServerError {
			t.Fatalf("request %d: HTTP status = %d, want 500", i, status)
		}
		detail, ok := body["detail"].(map[string]any)
		if !ok {
			t.Fatalf("request %d: body = %v", i, body)
		}
		e, _ := detail["error"].(map[string]any)
		if e["code"] != "internal_error" {
			t.Fatalf("request %d: detail = %v", i, detail)
		}
	}
}

func TestExecuteReplacesAcrossFiles(t *testing.T) {
	svc := newTestService()
	first := writeTemp(t, "first.txt", "foo baz foo")
	second := writeTemp(t, "second.txt", "nothing here")

	body, status := svc.Execute(context.Background(), Request{
		Search:  strptr("foo"),
		Replace: strptr("bar"),
		Files:   []string{first, second},
	})
	if status != http.StatusOK {
		t.Fatalf("HTTP status = %d", status)
	}

	result, ok := body["result"].([]any)
	if !ok {
		t.Fatalf("result = %v", body["result"])
	}
	if len(result) != 1 {
		t.Fatalf("expected one changed entry, got %v", result)
	}
	entry := result[0].(map[string]any)
	if entry["file"] != first || entry["changed"] != true {
		t.Fatalf("entry = %v", entry)
	}

	if got := readBack(t, first); got != "bar baz bar" {
		t.Errorf("first file = %q", got)
	}
	if got := readBack(t, second); got != "nothing here" {
		t.Errorf("unmatched file was touched: %q", got)
	}
}

func TestExecuteEmptySearchInsertsEverywhere(t *testing.T) {
	svc := newTestService()
	path := writeTemp(t, "pair.txt", "ab")

	body, status := svc.Execute(context.Background(), Request{
		Search:  strptr(""),
		Replace: strptr("x"),
		Files:   []string{path},
	})
	if status != http.StatusOK {
		t.Fatalf("HTTP status = %d", status)
	}
	result, ok := body["result"].([]any)
	if !ok || len(result) != 1 {
		t.Fatalf("result = %v, want one entry", body["result"])
	}
	entry := result[0].(map[string]any)
	if entry["file"] != path || entry["changed"] != true {
		t.Fatalf("entry = %v", entry)
	}
	if got := readBack(t, path); got != "xaxbx" {
		t.Errorf("file = %q, want %q", got, "xaxbx")
	}
}

func TestExecuteIdentityReplaceIsNoMatch(t *testing.T) {
	svc := newTestService()
	path := writeTemp(t, "same.txt", "foo baz")

	body, status := svc.Execute(context.Background(), Request{
		Search:  strptr("foo"),
		Replace: strptr("foo"),
		Files:   []string{path},
	})
	if status != http.StatusOK {
		t.Fatalf("HTTP status = %d", status)
	}
	if body["result"] != NoMatches {
		t.Fatalf("result = %v, want %q", body["result"], NoMatches)
	}
}

func TestExecuteNoMatchesScalar(t *testing.T) {
	svc := newTestService()
	path := writeTemp(t, "clean.txt", "nothing to see")

	body, status := svc.Execute(context.Background(), Request{
		Search:  strptr("absent"),
		Replace: strptr("x"),
		Files:   []string{path},
	})
	if status != http.StatusOK {
		t.Fatalf("HTTP status = %d", status)
	}
	if body["result"] != NoMatches {
		t.Fatalf("result = %v, want %q", body["result"], NoMatches)
	}
}

func TestExecuteEmptyFiles(t *testing.T) {
	svc := newTestService()

	body, status := svc.Execute(context.Background(), Request{
		Search:  strptr("foo"),
		Replace: strptr("bar"),
		Files:   []string{},
	})
	if status != http.StatusOK {
		t.Fatalf("HTTP status = %d", status)
	}
	result, ok := body["result"].([]any)
	if !ok || len(result) != 0 {
		t.Fatalf("result = %v, want empty list", body["result"])
	}
}

func TestExecuteNonexistentFilesSkipped(t *testing.T) {
	svc := newTestService()
	existing := writeTemp(t, "real.txt", "foo")

	body, _ := svc.Execute(context.Background(), Request{
		Search:  strptr("foo"),
		Replace: strptr("bar"),
		Files:   []string{"/no/such/file.txt", existing},
	})
	result, ok := body["result"].([]any)
	if !ok || len(result) != 1 {
		t.Fatalf("result = %v, want one entry", body["result"])
	}
	entry := result[0].(map[string]any)
	if entry["file"] != existing {
		t.Fatalf("entry = %v", entry)
	}
}

func TestExecuteAllFilesMissing(t *testing.T) {
	svc := newTestService()

	body, status := svc.Execute(context.Background(), Request{
		Search:  strptr("foo"),
		Replace: strptr("bar"),
		Files:   []string{"/no/such/a.txt", "/no/such/b.txt"},
	})
	if status != http.StatusOK {
		t.Fatalf("HTTP status = %d", status)
	}
	result, ok := body["result"].([]any)
	if !ok || len(result) != 0 {
		t.Fatalf("result = %v, want empty list", body["result"])
	}
}

func TestExecuteDryRunLeavesFilesUntouched(t *testing.T) {
	svc := newTestService()
	path := writeTemp(t, "keep.txt", "foo baz")

	body, status := svc.Execute(context.Background(), Request{
		Search:  strptr("foo"),
		Replace: strptr("bar"),
		Files:   []string{path},
		DryRun:  true,
	})
	if status != http.StatusOK {
		t.Fatalf("HTTP status = %d", status)
	}
	result, ok := body["result"].([]any)
	if !ok || len(result) != 1 {
		t.Fatalf("result = %v", body["result"])
	}
	entry := result[0].(map[string]any)
	if entry["changed"] != true {
		t.Fatalf("entry = %v", entry)
	}
	if got := readBack(t, path); got != "foo baz" {
		t.Errorf("dry run modified the file: %q", got)
	}
}

func TestExecuteFaultShortCircuits(t *testing.T) {
	svc := newTestService()
	path := writeTemp(t, "target.txt", "foo")

	body, status := svc.Execute(context.Background(), Request{
		Search:  strptr("foo"),
		Replace: strptr("bar"),
		Files:   []string{path},
		Fault:   "io",
	})
	if status != http.StatusOK {
		t.Fatalf("HTTP status = %d, want 200", status)
	}
	e, ok := body["error"].(map[string]any)
	if !ok || e["code"] != security.CodeIOError {
		t.Fatalf("body = %v", body)
	}
	if body["status"] != http.StatusInternalServerError {
		t.Fatalf("embedded status = %v", body["status"])
	}
	if got := readBack(t, path); got != "foo" {
		t.Errorf("faulted request touched the file: %q", got)
	}
}
