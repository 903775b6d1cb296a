// Package testutil provides fixtures shared by tuitest's package tests.
package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// Workspace is a throwaway directory tree for one test. TUITEST_HOME points
// at Home for the test's lifetime, so config and history never touch the
// real user directory.
type Workspace struct {
	T    testing.TB
	Dir  string
	Home string
}

// NewWorkspace creates the tree and sets TUITEST_HOME. Tests using it cannot
// run in parallel.
func NewWorkspace(t testing.TB) *Workspace {
	t.Helper()
	dir := t.TempDir()
	w := &Workspace{T: t, Dir: dir, Home: filepath.Join(dir, "home")}
	if err := os.MkdirAll(w.Home, 0700); err != nil {
		t.Fatalf("create home: %v", err)
	}
	t.Setenv("TUITEST_HOME", w.Home)
	return w
}

// Path joins rel onto the workspace directory.
func (w *Workspace) Path(rel string) string {
	return filepath.Join(w.Dir, rel)
}

// SubDir creates and returns a directory inside the workspace.
func (w *Workspace) SubDir(name string) string {
	w.T.Helper()
	dir := w.Path(name)
	if err := os.MkdirAll(dir, 0700); err != nil {
		w.T.Fatalf("create subdir %s: %v", name, err)
	}
	return dir
}

// WriteFile writes content at rel, creating parent directories.
func (w *Workspace) WriteFile(rel, content string) string {
	w.T.Helper()
	full := w.Path(rel)
	if err := os.MkdirAll(filepath.Dir(full), 0700); err != nil {
		w.T.Fatalf("create dir for %s: %v", rel, err)
	}
	if err := os.WriteFile(full, []byte(content), 0600); err != nil {
		w.T.Fatalf("write %s: %v", rel, err)
	}
	return full
}

// WriteScenario writes a scenario file named name.yaml under scenarios/.
func (w *Workspace) WriteScenario(name, yaml string) string {
	w.T.Helper()
	return w.WriteFile(filepath.Join("scenarios", name+".yaml"), yaml)
}

// FileContains reports whether the file at path contains substr, failing the
// test if it cannot be read.
func (w *Workspace) FileContains(path, substr string) bool {
	w.T.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		w.T.Fatalf("read %s: %v", path, err)
	}
	return strings.Contains(string(data), substr)
}

// RequireTools skips the test unless every named program is on PATH.
func RequireTools(t testing.TB, names ...string) {
	t.Helper()
	for _, name := range names {
		if _, err := exec.LookPath(name); err != nil {
			t.Skipf("%s not available: %v", name, err)
		}
	}
}
