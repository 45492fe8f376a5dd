// Package testutil provides test doubles for the build pipeline, chiefly a
// fake tool runner so conversions can be exercised and counted without any
// external tools installed.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Call records one tool invocation.
type Call struct {
	Tool string
	Args []string
	Dir  string
}

// FakeRunner satisfies builders.Runner. By default every tool exists and
// every invocation succeeds, creating placeholder files for the output-like
// arguments it receives. Content is a deterministic function of the argv, so
// repeated runs are byte-identical.
type FakeRunner struct {
	mu    sync.Mutex
	calls []Call

	// Missing marks tools LookPath reports as not installed.
	Missing map[string]bool
	// Failing maps tools to the stderr text of a nonzero exit.
	Failing map[string]string
	// Delay stalls named tools, for timeout and cancellation tests.
	Delay map[string]time.Duration
	// OnRun, when set, intercepts the invocation after recording.
	OnRun func(ctx context.Context, tool string, args []string, dir string) ([]byte, error)
}

// NewFakeRunner returns an empty, always-succeeding runner.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{
		Missing: make(map[string]bool),
		Failing: make(map[string]string),
		Delay:   make(map[string]time.Duration),
	}
}

func (r *FakeRunner) LookPath(tool string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Missing[tool] {
		return "", fmt.Errorf("%s: executable file not found in $PATH", tool)
	}
	return "/usr/bin/" + tool, nil
}

func (r *FakeRunner) Run(ctx context.Context, tool string, args []string, dir string) ([]byte, error) {
	r.mu.Lock()
	r.calls = append(r.calls, Call{Tool: tool, Args: append([]string(nil), args...), Dir: dir})
	delay := r.Delay[tool]
	stderr, failing := r.Failing[tool]
	onRun := r.OnRun
	r.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if onRun != nil {
		return onRun(ctx, tool, args, dir)
	}
	if failing {
		return []byte(stderr), errors.New("exit status 1")
	}

	// Create placeholder outputs: any absolute path argument with an
	// extension that does not exist yet is treated as an output.
	for _, a := range args {
		if !filepath.IsAbs(a) || filepath.Ext(a) == "" {
			continue
		}
		if _, err := os.Stat(a); err == nil {
			continue
		}
		if err := writePlaceholder(tool, a); err != nil {
			return nil, err
		}
	}

	// TeX compilers name their output implicitly from the source stem and
	// the -output-directory flag.
	if out := implicitTeXOutput(args); out != "" {
		if _, err := os.Stat(out); err != nil {
			if err := writePlaceholder(tool, out); err != nil {
				return nil, err
			}
		}
	}
	return nil, nil
}

func writePlaceholder(tool, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	content := fmt.Sprintf("%s(%s)", tool, filepath.Base(path))
	return os.WriteFile(path, []byte(content), 0o644)
}

func implicitTeXOutput(args []string) string {
	outDir := ""
	src := ""
	for i, a := range args {
		switch {
		case a == "-output-directory" && i+1 < len(args):
			outDir = args[i+1]
		case strings.HasPrefix(a, "-output-directory="):
			outDir = strings.TrimPrefix(a, "-output-directory=")
		case strings.HasSuffix(a, ".tex"):
			src = a
		}
	}
	if outDir == "" || src == "" {
		return ""
	}
	stem := strings.TrimSuffix(filepath.Base(src), ".tex")
	return filepath.Join(outDir, stem+".pdf")
}

// Calls returns a copy of the recorded invocations.
func (r *FakeRunner) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Count returns how many times tool was invoked, or the total for "".
func (r *FakeRunner) Count(tool string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tool == "" {
		return len(r.calls)
	}
	n := 0
	for _, c := range r.calls {
		if c.Tool == tool {
			n++
		}
	}
	return n
}

// Reset clears the recorded invocations.
func (r *FakeRunner) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}
