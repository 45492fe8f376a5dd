package builders

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel failure classes for atomic builds. Wrapped by BuildError; test
// with errors.Is.
var (
	// ErrToolMissing marks a converter whose executable is not installed.
	ErrToolMissing = errors.New("tool missing")
	// ErrUnsupportedConversion marks a format pair with no catalog entry.
	ErrUnsupportedConversion = errors.New("unsupported conversion")
	// ErrConversionFailed marks a tool that ran and failed, or produced no
	// output.
	ErrConversionFailed = errors.New("conversion failed")
	// ErrTimeout marks a conversion terminated by its time budget.
	ErrTimeout = errors.New("conversion timed out")
)

// BuildError is the structured failure attached to a node's result. It
// carries enough context to report which conversion failed and why without
// consulting the node again.
type BuildError struct {
	Kind    string
	Inputs  []string
	Outputs []string
	// Stderr holds the tail of the tool's captured stderr, empty for
	// in-process builders.
	Stderr string
	Err    error
}

func (e *BuildError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %v", e.Kind, e.Err)
	if len(e.Inputs) > 0 {
		fmt.Fprintf(&b, " (inputs: %s)", strings.Join(e.Inputs, ", "))
	}
	if e.Stderr != "" {
		fmt.Fprintf(&b, ": %s", e.Stderr)
	}
	return b.String()
}

func (e *BuildError) Unwrap() error { return e.Err }

// failf wraps err into a BuildError for the given builder.
func failf(b Builder, err error) *BuildError {
	var be *BuildError
	if errors.As(err, &be) {
		return be
	}
	return &BuildError{
		Kind:    b.Kind(),
		Inputs:  b.Inputs(),
		Outputs: b.Outputs(),
		Err:     err,
	}
}

// stderrTail trims captured stderr to its most useful suffix for reports.
const stderrTailLimit = 2048

func stderrTail(stderr []byte) string {
	s := strings.TrimSpace(string(stderr))
	if len(s) > stderrTailLimit {
		s = "..." + s[len(s)-stderrTailLimit:]
	}
	return s
}
