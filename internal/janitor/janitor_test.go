package janitor

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jkaninda/fundi/internal/workspace"
)

func newTestJanitor(t *testing.T, opts Options) (*Janitor, *workspace.Workspace) {
	t.Helper()
	ws, err := workspace.New(t.TempDir())
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	j, err := New(ws, opts, NewMetrics(prometheus.NewRegistry()), logger)
	if err != nil {
		t.Fatalf("janitor: %v", err)
	}
	return j, ws
}

func TestNewRejectsInvalidSchedule(t *testing.T) {
	ws, err := workspace.New(t.TempDir())
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	if _, err := New(ws, Options{Schedule: "not a cron line"}, nil, nil); err == nil {
		t.Fatal("expected an error for a bad schedule")
	}
}

func TestSweepRemovesOnlyStaleEntries(t *testing.T) {
	j, ws := newTestJanitor(t, Options{MaxAge: time.Hour})

	stale := filepath.Join(ws.ScratchDir(), "code-stale")
	fresh := filepath.Join(ws.ScratchDir(), "code-fresh")
	for _, dir := range []string{stale, fresh} {
		if err := os.MkdirAll(dir, 0750); err != nil {
			t.Fatalf("fixture: %v", err)
		}
	}
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	j.Sweep(context.Background())

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale entry should be gone")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("fresh entry should survive")
	}
}

func TestSweepEmptyWorkspace(t *testing.T) {
	j, _ := newTestJanitor(t, Options{})

	// No scratch dir at all. Must not error or log noise.
	j.Sweep(context.Background())
}

func TestStartStops(t *testing.T) {
	j, _ := newTestJanitor(t, Options{Schedule: "* * * * *"})

	cancel := j.Start(context.Background())
	cancel()
	// Give the goroutine a beat to observe cancellation.
	time.Sleep(20 * time.Millisecond)
}
