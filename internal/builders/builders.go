// Package builders defines the build node contract: atomic builders wrapping
// one conversion each, composite builders imposing order, and the fixed
// converter catalog that assembles them.
package builders

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"

	"git.home.luguber.info/inful/docpress/internal/attributes"
	"git.home.luguber.info/inful/docpress/internal/hasher"
)

// Status is a build node's lifecycle state.
type Status int32

const (
	// StatusInactive is the initial state, before inputs are confirmed ready.
	StatusInactive Status = iota
	// StatusPending means inputs are ready and a build is needed.
	StatusPending
	// StatusBuilding is set for the duration of the conversion.
	StatusBuilding
	// StatusDone means outputs are verified and the cache record committed.
	StatusDone
	// StatusFailed is terminal for the node, not necessarily for the graph.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusInactive:
		return "inactive"
	case StatusPending:
		return "pending"
	case StatusBuilding:
		return "building"
	case StatusDone:
		return "done"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is final.
func (s Status) Terminal() bool { return s == StatusDone || s == StatusFailed }

// Builder is the common contract of build graph nodes, atomic or composite.
type Builder interface {
	// Kind names the converter, e.g. "asy2pdf". Part of the cache identity.
	Kind() string
	// Inputs returns declared input paths in declaration order.
	Inputs() []string
	// Outputs returns declared output paths in declaration order.
	Outputs() []string
	// Params returns the parameter set folded into the cache identity.
	Params() attributes.Set
	// Status returns the node's current lifecycle state.
	Status() Status
}

// Atomic is a leaf builder: one tool invocation or in-process transform.
type Atomic interface {
	Builder
	// Tools lists required executables; empty means in-process.
	Tools() []string
	// AddInputs declares further inputs (scanned sub-references) before the
	// node runs.
	AddInputs(paths ...string)
	// Build performs the conversion. It must only create or overwrite the
	// declared output paths.
	Build(ctx context.Context) error
	// MarkPending, MarkBuilding and Done advance the lifecycle. Terminal
	// states are sticky.
	MarkPending()
	MarkBuilding()
	Done()
	// Fail records err and moves the node to StatusFailed. The first error
	// wins.
	Fail(err error)
	// Err returns the recorded failure, nil unless StatusFailed.
	Err() error
}

// Composite groups child builders. Composites carry no work of their own;
// their status derives from their children.
type Composite interface {
	Builder
	Children() []Builder
	// Ordered reports whether children form a strict chain.
	Ordered() bool
}

// Identity returns the stable identity of a node: converter kind, canonical
// input and output paths, and the canonical parameter set. Equal identities
// denote the same unit of work; the executor runs at most one build per
// identity at a time and the decider keys cache records by it.
func Identity(b Builder) string {
	parts := make([]string, 0, len(b.Inputs())+len(b.Outputs())+5)
	parts = append(parts, "kind", b.Kind(), "in")
	parts = append(parts, b.Inputs()...)
	parts = append(parts, "out")
	parts = append(parts, b.Outputs()...)
	parts = append(parts, "params", b.Params().Canonical())
	return string(hasher.Strings(parts...))
}

// Base carries the declared fields and lifecycle state shared by atomic
// builders. Embed by pointer-receiver types.
type Base struct {
	kind    string
	inputs  []string
	outputs []string
	tools   []string
	params  attributes.Set

	status atomic.Int32
	mu     sync.Mutex
	err    error
}

// NewBase constructs the shared node core. Paths are cleaned so equivalent
// spellings canonicalize to one identity.
func NewBase(kind string, inputs, outputs []string, params attributes.Set) Base {
	return Base{
		kind:    kind,
		inputs:  cleanPaths(inputs),
		outputs: cleanPaths(outputs),
		params:  params,
	}
}

func cleanPaths(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = filepath.Clean(p)
	}
	return out
}

func (b *Base) Kind() string { return b.kind }

func (b *Base) Inputs() []string { return b.inputs }

// AddInputs declares further inputs after construction. Used for scanned
// sub-references of an asset (a TeX figure's included image): they join the
// node's identity and hash, so editing one invalidates the cached result.
// Must be called before the node is handed to an executor.
func (b *Base) AddInputs(paths ...string) {
	b.inputs = append(b.inputs, cleanPaths(paths)...)
}

func (b *Base) Outputs() []string { return b.outputs }

func (b *Base) Params() attributes.Set { return b.params }

func (b *Base) Tools() []string { return b.tools }

func (b *Base) setTools(tools ...string) { b.tools = tools }

func (b *Base) Status() Status { return Status(b.status.Load()) }

// advance moves the node to s unless it already reached a terminal state.
func (b *Base) advance(s Status) {
	for {
		cur := Status(b.status.Load())
		if cur.Terminal() {
			return
		}
		if b.status.CompareAndSwap(int32(cur), int32(s)) {
			return
		}
	}
}

func (b *Base) MarkPending()  { b.advance(StatusPending) }
func (b *Base) MarkBuilding() { b.advance(StatusBuilding) }
func (b *Base) Done()         { b.advance(StatusDone) }

// Fail records the first error and moves the node to StatusFailed.
func (b *Base) Fail(err error) {
	b.mu.Lock()
	if b.err == nil {
		b.err = err
	}
	b.mu.Unlock()
	b.advance(StatusFailed)
}

// Err returns the recorded failure.
func (b *Base) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Leaves flattens a builder tree to its atomic nodes in declaration order.
func Leaves(b Builder) []Atomic {
	switch n := b.(type) {
	case Composite:
		var out []Atomic
		for _, c := range n.Children() {
			out = append(out, Leaves(c)...)
		}
		return out
	case Atomic:
		return []Atomic{n}
	default:
		return nil
	}
}
