package builders

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"git.home.luguber.info/inful/docpress/internal/attributes"
	"git.home.luguber.info/inful/docpress/internal/hasher"
)

// Runner abstracts external tool invocation so tests can count and fake
// conversions without the tools installed.
type Runner interface {
	// LookPath resolves a tool name to an executable path.
	LookPath(tool string) (string, error)
	// Run executes the tool and returns captured stderr.
	Run(ctx context.Context, tool string, args []string, dir string) (stderr []byte, err error)
}

// SystemRunner runs tools via os/exec.
type SystemRunner struct{}

func (SystemRunner) LookPath(tool string) (string, error) {
	return exec.LookPath(tool)
}

func (SystemRunner) Run(ctx context.Context, tool string, args []string, dir string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, tool, args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stdout = &stderr
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stderr.Bytes(), err
}

// ExecBuilder is an atomic builder wrapping one external tool invocation.
// The argv is fully rendered at construction; Build only runs it.
type ExecBuilder struct {
	Base
	runner  Runner
	tool    string
	args    []string
	dir     string
	timeout time.Duration
}

// NewExecBuilder constructs an exec-backed node. dir is the working
// directory for the invocation ("" for inherit).
func NewExecBuilder(kind string, runner Runner, tool string, args []string, inputs, outputs []string, params attributes.Set, timeout time.Duration) *ExecBuilder {
	b := &ExecBuilder{
		Base:    NewBase(kind, inputs, outputs, params),
		runner:  runner,
		tool:    tool,
		args:    args,
		timeout: timeout,
	}
	b.setTools(tool)
	return b
}

// WithDir sets the working directory for the invocation.
func (b *ExecBuilder) WithDir(dir string) *ExecBuilder {
	b.dir = dir
	return b
}

// Build runs the tool. Classified failures come back as *BuildError wrapping
// the taxonomy sentinels.
func (b *ExecBuilder) Build(ctx context.Context) error {
	if _, err := b.runner.LookPath(b.tool); err != nil {
		return &BuildError{
			Kind: b.Kind(), Inputs: b.Inputs(), Outputs: b.Outputs(),
			Err: fmt.Errorf("%s: %w", b.tool, ErrToolMissing),
		}
	}
	if err := requireInputs(b); err != nil {
		return err
	}
	if err := ensureOutputDirs(b.Outputs()); err != nil {
		return failf(b, err)
	}

	runCtx := ctx
	if b.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	stderr, err := b.runner.Run(runCtx, b.tool, b.args, b.dir)
	if err != nil {
		if ctx.Err() != nil {
			return failf(b, ctx.Err())
		}
		cause := ErrConversionFailed
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			cause = ErrTimeout
		}
		return &BuildError{
			Kind: b.Kind(), Inputs: b.Inputs(), Outputs: b.Outputs(),
			Stderr: stderrTail(stderr),
			Err:    fmt.Errorf("%s: %w", b.tool, cause),
		}
	}
	if err := requireOutputs(b, stderr); err != nil {
		return err
	}
	return nil
}

// requireInputs verifies every declared input exists before invoking a tool.
func requireInputs(b Atomic) error {
	for _, in := range b.Inputs() {
		if _, err := os.Stat(in); err != nil {
			return &BuildError{
				Kind: b.Kind(), Inputs: b.Inputs(), Outputs: b.Outputs(),
				Err: fmt.Errorf("%s: %w", in, hasher.ErrDependencyMissing),
			}
		}
	}
	return nil
}

// requireOutputs verifies the tool produced every declared output.
func requireOutputs(b Atomic, stderr []byte) error {
	for _, out := range b.Outputs() {
		if _, err := os.Stat(out); err != nil {
			return &BuildError{
				Kind: b.Kind(), Inputs: b.Inputs(), Outputs: b.Outputs(),
				Stderr: stderrTail(stderr),
				Err:    fmt.Errorf("missing output %s: %w", out, ErrConversionFailed),
			}
		}
	}
	return nil
}

func ensureOutputDirs(outputs []string) error {
	for _, out := range outputs {
		if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	return nil
}
