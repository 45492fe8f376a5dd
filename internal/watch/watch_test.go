package watch

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/docpress/internal/environment"
	"git.home.luguber.info/inful/docpress/internal/testutil"
)

func newWatchEnv(t *testing.T) (*environment.Environment, string, *testutil.FakeRunner) {
	t.Helper()
	root := t.TempDir()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	runner := testutil.NewFakeRunner()
	env, err := environment.New(root, environment.WithRunner(runner), environment.WithLogger(quiet))
	if err != nil {
		t.Fatalf("new environment: %v", err)
	}
	t.Cleanup(func() { _ = env.Close() })
	return env, root, runner
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestRelevantFiltersNoise(t *testing.T) {
	env, root, _ := newWatchEnv(t)
	w := New(env, root, Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})

	cases := []struct {
		name string
		ev   fsnotify.Event
		want bool
	}{
		{"source write", fsnotify.Event{Name: filepath.Join(root, "guide.md"), Op: fsnotify.Write}, true},
		{"chmod only", fsnotify.Event{Name: filepath.Join(root, "guide.md"), Op: fsnotify.Chmod}, false},
		{"cache churn", fsnotify.Event{Name: filepath.Join(root, ".docpress", "media", "a.svg"), Op: fsnotify.Create}, false},
		{"output churn", fsnotify.Event{Name: filepath.Join(root, "out", "html", "guide.html"), Op: fsnotify.Write}, false},
		{"editor backup", fsnotify.Event{Name: filepath.Join(root, "guide.md~"), Op: fsnotify.Write}, false},
		{"hidden file", fsnotify.Event{Name: filepath.Join(root, ".guide.md.swp"), Op: fsnotify.Write}, false},
		{"asset write", fsnotify.Event{Name: filepath.Join(root, "sub", "diagram.asy"), Op: fsnotify.Write}, true},
	}
	for _, tc := range cases {
		if got := w.relevant(tc.ev); got != tc.want {
			t.Errorf("%s: relevant = %v, want %v", tc.name, got, tc.want)
		}
	}
}

// The initial pass builds everything; a source edit triggers exactly one
// more debounced pass.
func TestRunRebuildsOnChange(t *testing.T) {
	env, root, runner := newWatchEnv(t)
	doc := filepath.Join(root, "guide.md")
	writeFile(t, filepath.Join(root, "diagram.asy"), "draw(unitcircle);")
	writeFile(t, doc, "![diagram](diagram.asy)\n")

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := New(env, root, Options{Debounce: 50 * time.Millisecond, Logger: quiet})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	waitFor(t, 5*time.Second, func() bool { return runner.Count("asy") == 1 })

	writeFile(t, filepath.Join(root, "diagram.asy"), "draw(unitsquare);")
	waitFor(t, 5*time.Second, func() bool { return runner.Count("asy") == 2 })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop on cancel")
	}
}

// Output written during a pass must not feed back into the watcher.
func TestRunIgnoresItsOwnOutput(t *testing.T) {
	env, root, runner := newWatchEnv(t)
	writeFile(t, filepath.Join(root, "guide.md"), "plain body\n")

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := New(env, root, Options{Debounce: 50 * time.Millisecond, Logger: quiet})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Let the initial pass and any feedback-triggered passes settle.
	time.Sleep(500 * time.Millisecond)
	if n := runner.Count(""); n != 0 {
		t.Fatalf("html-only project invoked %d tools", n)
	}

	cancel()
	<-done
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
