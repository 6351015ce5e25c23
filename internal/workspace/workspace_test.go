package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewCreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "workspace")

	ws, err := New(root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if ws.Root != root {
		t.Errorf("Root = %q, want %q", ws.Root, root)
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		t.Errorf("root not created: %v", err)
	}
}

func TestEnsureAll(t *testing.T) {
	ws, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := ws.EnsureAll(); err != nil {
		t.Fatalf("EnsureAll: %v", err)
	}

	for _, dir := range []string{ws.FilesDir(), ws.SandboxDir(), ws.LogsDir()} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Errorf("directory %s missing: %v", dir, err)
		}
	}
	if got := ws.ConfigPath(); got != filepath.Join(ws.Root, "config.yaml") {
		t.Errorf("ConfigPath = %q", got)
	}
}

func TestCleanSandbox(t *testing.T) {
	ws, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	stale := filepath.Join(ws.SandboxDir(), "nsbox-exec-stale")
	if err := os.MkdirAll(stale, 0750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(stale, "leftover"), []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	if err := ws.CleanSandbox(); err != nil {
		t.Fatalf("CleanSandbox: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale sandbox dir survived CleanSandbox")
	}
	// The sandbox dir itself stays.
	if _, err := os.Stat(ws.SandboxDir()); err != nil {
		t.Errorf("sandbox dir removed: %v", err)
	}
}

func TestCleanSandboxMissingDir(t *testing.T) {
	ws := &Workspace{Root: filepath.Join(t.TempDir(), "never-created"), created: map[string]bool{}}
	if err := ws.CleanSandbox(); err != nil {
		t.Errorf("CleanSandbox(missing) = %v, want nil", err)
	}
}
