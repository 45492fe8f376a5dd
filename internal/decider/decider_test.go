package decider

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"git.home.luguber.info/inful/docpress/internal/builders"
	"git.home.luguber.info/inful/docpress/internal/hasher"
)

func newTestDecider(t *testing.T) (*Decider, *SQLiteStore) {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store).WithLogger(quiet), store
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestNeedsBuildNoRecord(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.txt")
	dst := filepath.Join(dir, "b.txt")
	writeFile(t, src, "hello")

	d, _ := newTestDecider(t)
	node := builders.NewCopy(src, dst)

	needs, err := d.NeedsBuild(hasher.NewSession(), node)
	if err != nil {
		t.Fatalf("needs build: %v", err)
	}
	if !needs {
		t.Fatal("expected rebuild with no record")
	}
}

func TestCommitThenUpToDate(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.txt")
	dst := filepath.Join(dir, "b.txt")
	writeFile(t, src, "hello")
	writeFile(t, dst, "hello")

	d, _ := newTestDecider(t)
	node := builders.NewCopy(src, dst)

	if err := d.Commit(hasher.NewSession(), node); err != nil {
		t.Fatalf("commit: %v", err)
	}

	needs, err := d.NeedsBuild(hasher.NewSession(), node)
	if err != nil {
		t.Fatalf("needs build: %v", err)
	}
	if needs {
		t.Fatal("expected up to date after commit")
	}
}

func TestContentChangeTriggersRebuildButTouchDoesNot(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.txt")
	dst := filepath.Join(dir, "b.txt")
	writeFile(t, src, "hello")
	writeFile(t, dst, "hello")

	d, _ := newTestDecider(t)
	node := builders.NewCopy(src, dst)
	if err := d.Commit(hasher.NewSession(), node); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// Touch mtime without changing bytes: still up to date.
	future := time.Now().Add(2 * time.Hour)
	if err := os.Chtimes(src, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	needs, err := d.NeedsBuild(hasher.NewSession(), node)
	if err != nil {
		t.Fatalf("needs build after touch: %v", err)
	}
	if needs {
		t.Fatal("mtime-only change must not trigger rebuild")
	}

	// Change one byte: rebuild.
	writeFile(t, src, "hellp")
	needs, err = d.NeedsBuild(hasher.NewSession(), node)
	if err != nil {
		t.Fatalf("needs build after edit: %v", err)
	}
	if !needs {
		t.Fatal("content change must trigger rebuild")
	}
}

func TestMissingOutputTriggersRebuild(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.txt")
	dst := filepath.Join(dir, "b.txt")
	writeFile(t, src, "hello")
	writeFile(t, dst, "hello")

	d, _ := newTestDecider(t)
	node := builders.NewCopy(src, dst)
	if err := d.Commit(hasher.NewSession(), node); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if err := os.Remove(dst); err != nil {
		t.Fatalf("remove output: %v", err)
	}
	needs, err := d.NeedsBuild(hasher.NewSession(), node)
	if err != nil {
		t.Fatalf("needs build: %v", err)
	}
	if !needs {
		t.Fatal("missing output must trigger rebuild")
	}
}

func TestTamperedOutputTriggersRebuild(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.txt")
	dst := filepath.Join(dir, "b.txt")
	writeFile(t, src, "hello")
	writeFile(t, dst, "hello")

	d, _ := newTestDecider(t)
	node := builders.NewCopy(src, dst)
	if err := d.Commit(hasher.NewSession(), node); err != nil {
		t.Fatalf("commit: %v", err)
	}

	writeFile(t, dst, "altered behind the cache's back")
	needs, err := d.NeedsBuild(hasher.NewSession(), node)
	if err != nil {
		t.Fatalf("needs build: %v", err)
	}
	if !needs {
		t.Fatal("tampered output must trigger rebuild")
	}
}

func TestMissingInputIsAHardError(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "never-written.txt")
	dst := filepath.Join(dir, "b.txt")

	d, _ := newTestDecider(t)
	node := builders.NewCopy(src, dst)

	_, err := d.NeedsBuild(hasher.NewSession(), node)
	if !errors.Is(err, hasher.ErrDependencyMissing) {
		t.Fatalf("expected ErrDependencyMissing, got %v", err)
	}
}

func TestCorruptRecordMeansRebuild(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.txt")
	dst := filepath.Join(dir, "b.txt")
	writeFile(t, src, "hello")
	writeFile(t, dst, "hello")

	d, store := newTestDecider(t)
	node := builders.NewCopy(src, dst)

	// Plant a corrupt row under the node's identity.
	_, err := store.db.Exec(
		"INSERT INTO cache_records (key, input_digest, output_digest, built_at) VALUES (?, '', '', 0)",
		builders.Identity(node))
	if err != nil {
		t.Fatalf("plant corrupt record: %v", err)
	}

	needs, err := d.NeedsBuild(hasher.NewSession(), node)
	if err != nil {
		t.Fatalf("corrupt record must not be fatal: %v", err)
	}
	if !needs {
		t.Fatal("corrupt record must trigger rebuild")
	}
}

func TestCommitRefusesMissingOutput(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.txt")
	dst := filepath.Join(dir, "never-produced.txt")
	writeFile(t, src, "hello")

	d, store := newTestDecider(t)
	node := builders.NewCopy(src, dst)

	if err := d.Commit(hasher.NewSession(), node); err == nil {
		t.Fatal("expected commit to refuse a missing output")
	}
	n, err := store.Len()
	if err != nil {
		t.Fatalf("len: %v", err)
	}
	if n != 0 {
		t.Errorf("refused commit must not leave a record, got %d", n)
	}
}

func TestCommitObservesFreshOutputBytes(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.txt")
	dst := filepath.Join(dir, "b.txt")
	writeFile(t, src, "hello")
	writeFile(t, dst, "stale")

	d, _ := newTestDecider(t)
	node := builders.NewCopy(src, dst)

	// Warm the session memo with the stale output bytes, then rewrite the
	// output as a build would. Commit must record the fresh bytes.
	session := hasher.NewSession()
	if _, err := session.File(dst); err != nil {
		t.Fatalf("warm memo: %v", err)
	}
	writeFile(t, dst, "fresh")

	if err := d.Commit(session, node); err != nil {
		t.Fatalf("commit: %v", err)
	}

	needs, err := d.NeedsBuild(hasher.NewSession(), node)
	if err != nil {
		t.Fatalf("needs build: %v", err)
	}
	if needs {
		t.Fatal("commit recorded stale output digest")
	}
}

func TestInvalidate(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.txt")
	dst := filepath.Join(dir, "b.txt")
	writeFile(t, src, "hello")
	writeFile(t, dst, "hello")

	d, _ := newTestDecider(t)
	node := builders.NewCopy(src, dst)
	if err := d.Commit(hasher.NewSession(), node); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := d.Invalidate(node); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	needs, err := d.NeedsBuild(hasher.NewSession(), node)
	if err != nil {
		t.Fatalf("needs build: %v", err)
	}
	if !needs {
		t.Fatal("expected rebuild after invalidation")
	}
}
