package workspace

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestEnsureCreatesLayout(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root)

	if err := m.Ensure(); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	for _, dir := range []string{m.Path(), m.MediaDir()} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("stat %s: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("%s is not a directory", dir)
		}
	}
	if got := m.RecordsPath(); filepath.Dir(got) != m.Path() {
		t.Errorf("records path %s not under cache root", got)
	}

	// Ensure is idempotent.
	if err := m.Ensure(); err != nil {
		t.Fatalf("second ensure: %v", err)
	}
}

func TestScratchDirUnderCacheRoot(t *testing.T) {
	m := NewManager(t.TempDir())
	if err := m.Ensure(); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	dir := m.ScratchDir()
	if filepath.Dir(dir) != m.Path() {
		t.Fatalf("scratch %s not under cache root %s", dir, m.Path())
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Fatalf("scratch dir not created: %v", err)
	}
}

func TestClean(t *testing.T) {
	m := NewManager(t.TempDir())
	if err := m.Ensure(); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := m.Clean(); err != nil {
		t.Fatalf("clean: %v", err)
	}
	if _, err := os.Stat(m.Path()); !os.IsNotExist(err) {
		t.Fatalf("expected cache removed, got %v", err)
	}
}

func TestPruneRemovesOnlyOldEntries(t *testing.T) {
	m := NewManager(t.TempDir())
	if err := m.Ensure(); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	old := filepath.Join(m.MediaDir(), "old.svg")
	fresh := filepath.Join(m.MediaDir(), "fresh.svg")
	for _, p := range []string{old, fresh} {
		if err := os.WriteFile(p, []byte("<svg/>"), 0o644); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}
	past := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	removed, err := m.Prune(24 * time.Hour)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removal, got %d", removed)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatal("old entry should be gone")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatal("fresh entry should remain")
	}
}
