// Package workspace manages the Fundi scratch directory structure.
// Inline code submissions are materialized as files under per-run scratch
// directories so the runner only ever deals with paths; the janitor sweeps
// abandoned runs on a schedule.
//
// Default root: $TMPDIR/fundi (configurable via config or FUNDI_WORKSPACE env var).
package workspace

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Workspace manages the Fundi scratch root and derived paths.
type Workspace struct {
	Root string

	mu      sync.Mutex
	created map[string]bool // tracks which directories have been ensured
}

// New creates a Workspace rooted at the given path.
// It resolves ~ to the user's home directory and creates the root directory
// with appropriate permissions if it does not exist.
func New(root string) (*Workspace, error) {
	resolved, err := resolvePath(root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root %q: %w", root, err)
	}

	w := &Workspace{
		Root:    resolved,
		created: make(map[string]bool),
	}

	if err := w.ensureDir(resolved, 0750); err != nil {
		return nil, fmt.Errorf("creating workspace root: %w", err)
	}

	return w, nil
}

// Default creates a Workspace at $TMPDIR/fundi.
func Default() (*Workspace, error) {
	return New(filepath.Join(os.TempDir(), "fundi"))
}

// ScratchDir returns <root>/scratch/. Per-run directories for inline code.
func (w *Workspace) ScratchDir() string {
	return w.dir("scratch")
}

// NewScratch creates a fresh per-run directory under the scratch root and
// returns its path along with a cleanup function that removes it.
func (w *Workspace) NewScratch(prefix string) (string, func(), error) {
	name := sanitizeName(prefix) + "-" + runID()
	dir := filepath.Join(w.ScratchDir(), name)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", nil, fmt.Errorf("creating scratch dir %s: %w", dir, err)
	}
	return dir, func() { _ = os.RemoveAll(dir) }, nil
}

// WriteScratchFile writes content into a fresh scratch directory under the
// given file name and returns the file path plus a cleanup function.
func (w *Workspace) WriteScratchFile(prefix, name string, content []byte) (string, func(), error) {
	dir, cleanup, err := w.NewScratch(prefix)
	if err != nil {
		return "", nil, err
	}
	path := filepath.Join(dir, sanitizeName(name))
	if err := os.WriteFile(path, content, 0600); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("writing scratch file %s: %w", path, err)
	}
	return path, cleanup, nil
}

// Sweep removes scratch entries whose modification time is older than maxAge.
// Returns the number of entries removed.
func (w *Workspace) Sweep(maxAge time.Duration) (int, error) {
	dir := filepath.Join(w.Root, "scratch")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading scratch dir: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return removed, fmt.Errorf("removing scratch entry %s: %w", entry.Name(), err)
		}
		removed++
	}
	return removed, nil
}

// Clean removes all contents of the scratch directory.
func (w *Workspace) Clean() error {
	dir := filepath.Join(w.Root, "scratch")
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading scratch dir: %w", err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return fmt.Errorf("removing scratch entry %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// dir returns an absolute path under the workspace root and ensures the directory exists.
func (w *Workspace) dir(name string) string {
	p := filepath.Join(w.Root, name)
	_ = w.ensureDir(p, 0750)
	return p
}

// ensureDir creates a directory if it doesn't already exist.
// Uses a cache to avoid redundant stat/mkdir calls.
func (w *Workspace) ensureDir(path string, perm os.FileMode) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.created[path] {
		return nil
	}

	if err := os.MkdirAll(path, perm); err != nil {
		return fmt.Errorf("creating directory %s: %w", path, err)
	}
	w.created[path] = true
	return nil
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// sanitizeName replaces path separator characters to prevent directory traversal.
func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" {
		name = "_"
	}
	return name
}

// runID returns a short random hex identifier for scratch directory names.
func runID() string {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
