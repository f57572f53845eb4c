package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	tmp := t.TempDir()
	root := filepath.Join(tmp, "workspace")

	ws, err := New(root)
	if err != nil {
		t.Fatalf("New(%q): %v", root, err)
	}
	if ws.Root != root {
		t.Errorf("Root = %q, want %q", ws.Root, root)
	}

	// Root directory should exist.
	if _, err := os.Stat(root); err != nil {
		t.Errorf("root dir not created: %v", err)
	}
}

func TestScratchDir(t *testing.T) {
	ws, err := New(filepath.Join(t.TempDir(), "ws"))
	if err != nil {
		t.Fatal(err)
	}

	got := ws.ScratchDir()
	want := filepath.Join(ws.Root, "scratch")
	if got != want {
		t.Errorf("ScratchDir() = %q, want %q", got, want)
	}
	if _, err := os.Stat(got); err != nil {
		t.Errorf("scratch dir not created: %v", err)
	}
}

func TestNewScratch(t *testing.T) {
	ws, err := New(filepath.Join(t.TempDir(), "ws"))
	if err != nil {
		t.Fatal(err)
	}

	dir, cleanup, err := ws.NewScratch("run")
	if err != nil {
		t.Fatalf("NewScratch: %v", err)
	}
	if !strings.HasPrefix(filepath.Base(dir), "run-") {
		t.Errorf("scratch dir name = %q, want run- prefix", filepath.Base(dir))
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("scratch dir not created: %v", err)
	}

	cleanup()
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("scratch dir still exists after cleanup")
	}
}

func TestNewScratchUniqueNames(t *testing.T) {
	ws, err := New(filepath.Join(t.TempDir(), "ws"))
	if err != nil {
		t.Fatal(err)
	}

	a, cleanupA, err := ws.NewScratch("run")
	if err != nil {
		t.Fatal(err)
	}
	defer cleanupA()
	b, cleanupB, err := ws.NewScratch("run")
	if err != nil {
		t.Fatal(err)
	}
	defer cleanupB()

	if a == b {
		t.Errorf("two scratch dirs share a path: %q", a)
	}
}

func TestWriteScratchFile(t *testing.T) {
	ws, err := New(filepath.Join(t.TempDir(), "ws"))
	if err != nil {
		t.Fatal(err)
	}

	path, cleanup, err := ws.WriteScratchFile("code", "snippet.py", []byte("print('hi')\n"))
	if err != nil {
		t.Fatalf("WriteScratchFile: %v", err)
	}
	defer cleanup()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading scratch file: %v", err)
	}
	if string(data) != "print('hi')\n" {
		t.Errorf("scratch file content = %q", data)
	}
	if filepath.Base(path) != "snippet.py" {
		t.Errorf("scratch file name = %q, want snippet.py", filepath.Base(path))
	}
}

func TestSweep(t *testing.T) {
	ws, err := New(filepath.Join(t.TempDir(), "ws"))
	if err != nil {
		t.Fatal(err)
	}

	oldDir, _, err := ws.NewScratch("old")
	if err != nil {
		t.Fatal(err)
	}
	freshDir, cleanup, err := ws.NewScratch("fresh")
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup()

	// Age the first entry past the cutoff.
	past := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(oldDir, past, past); err != nil {
		t.Fatal(err)
	}

	removed, err := ws.Sweep(time.Hour)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 1 {
		t.Errorf("Sweep removed %d entries, want 1", removed)
	}
	if _, err := os.Stat(oldDir); !os.IsNotExist(err) {
		t.Error("aged scratch dir survived the sweep")
	}
	if _, err := os.Stat(freshDir); err != nil {
		t.Errorf("fresh scratch dir removed: %v", err)
	}
}

func TestSweepMissingDirIsNoop(t *testing.T) {
	ws, err := New(filepath.Join(t.TempDir(), "ws"))
	if err != nil {
		t.Fatal(err)
	}
	os.RemoveAll(filepath.Join(ws.Root, "scratch"))

	removed, err := ws.Sweep(time.Minute)
	if err != nil {
		t.Fatalf("Sweep on missing dir: %v", err)
	}
	if removed != 0 {
		t.Errorf("Sweep removed %d entries, want 0", removed)
	}
}

func TestClean(t *testing.T) {
	ws, err := New(filepath.Join(t.TempDir(), "ws"))
	if err != nil {
		t.Fatal(err)
	}

	dir := ws.ScratchDir()
	os.MkdirAll(filepath.Join(dir, "run-1"), 0750)
	os.MkdirAll(filepath.Join(dir, "run-2"), 0750)
	os.WriteFile(filepath.Join(dir, "run-1", "output.txt"), []byte("hello"), 0644)

	if err := ws.Clean(); err != nil {
		t.Fatalf("Clean: %v", err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("scratch dir not empty after clean: %d entries", len(entries))
	}
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		input, want string
	}{
		{"normal", "normal"},
		{"a/b", "a_b"},
		{"a\\b", "a_b"},
		{"../etc/passwd", "__etc_passwd"},
		{"", "_"},
	}
	for _, tc := range tests {
		got := sanitizeName(tc.input)
		if got != tc.want {
			t.Errorf("sanitizeName(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestResolveTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	got, err := resolvePath("~/test")
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(home, "test")
	if got != want {
		t.Errorf("resolvePath(~/test) = %q, want %q", got, want)
	}
}
