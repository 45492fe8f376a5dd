package builders

import (
	"git.home.luguber.info/inful/docpress/internal/attributes"
)

// Sequential is a composite whose children form a strict chain: stage i+1
// consumes stage i's outputs. The catalog wires the paths when it assembles
// the chain; Sequential itself only fixes the order.
//
// A failed stage short-circuits the chain: later stages are never started.
// Outputs of already-done stages stay on disk for reuse by a future retry.
type Sequential struct {
	kind     string
	children []Builder
}

// NewSequential groups children into an ordered chain.
func NewSequential(kind string, children ...Builder) *Sequential {
	return &Sequential{kind: kind, children: children}
}

func (s *Sequential) Kind() string { return s.kind }

// Inputs are the first stage's inputs.
func (s *Sequential) Inputs() []string {
	if len(s.children) == 0 {
		return nil
	}
	return s.children[0].Inputs()
}

// Outputs are the last stage's outputs.
func (s *Sequential) Outputs() []string {
	if len(s.children) == 0 {
		return nil
	}
	return s.children[len(s.children)-1].Outputs()
}

func (s *Sequential) Params() attributes.Set { return attributes.Set{} }

func (s *Sequential) Children() []Builder { return s.children }

func (s *Sequential) Ordered() bool { return true }

func (s *Sequential) Status() Status { return deriveStatus(s.children) }

// Err returns the first failed stage's error in chain order.
func (s *Sequential) Err() error {
	errs := CollectErrors(s)
	if len(errs) == 0 {
		return nil
	}
	return errs[0]
}

// Parallel is a composite whose children are independent and may run
// concurrently. A child's failure never cancels running siblings; the
// composite reports Failed only once every child is terminal, and failures
// surface in declaration order for deterministic diagnostics.
type Parallel struct {
	kind     string
	children []Builder
}

// NewParallel groups independent children.
func NewParallel(kind string, children ...Builder) *Parallel {
	return &Parallel{kind: kind, children: children}
}

func (p *Parallel) Kind() string { return p.kind }

func (p *Parallel) Inputs() []string {
	var in []string
	for _, c := range p.children {
		in = append(in, c.Inputs()...)
	}
	return in
}

func (p *Parallel) Outputs() []string {
	var out []string
	for _, c := range p.children {
		out = append(out, c.Outputs()...)
	}
	return out
}

func (p *Parallel) Params() attributes.Set { return attributes.Set{} }

func (p *Parallel) Children() []Builder { return p.children }

func (p *Parallel) Ordered() bool { return false }

func (p *Parallel) Status() Status { return deriveStatus(p.children) }

// Errors returns every failed child's error in declaration order.
func (p *Parallel) Errors() []error { return CollectErrors(p) }

// deriveStatus aggregates child states. Failure dominates, then progress.
func deriveStatus(children []Builder) Status {
	if len(children) == 0 {
		return StatusDone
	}
	done := 0
	building := false
	pending := false
	for _, c := range children {
		switch c.Status() {
		case StatusFailed:
			return StatusFailed
		case StatusDone:
			done++
		case StatusBuilding:
			building = true
		case StatusPending:
			pending = true
		}
	}
	switch {
	case done == len(children):
		return StatusDone
	case building:
		return StatusBuilding
	case pending:
		return StatusPending
	default:
		return StatusInactive
	}
}

// CollectErrors walks a builder tree in declaration order and gathers the
// errors of failed atomic nodes.
func CollectErrors(b Builder) []error {
	var errs []error
	for _, leaf := range Leaves(b) {
		if leaf.Status() == StatusFailed {
			if err := leaf.Err(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errs
}
