package executor

import (
	"sync"
	"sync/atomic"
	"time"

	"git.home.luguber.info/inful/docpress/internal/builders"
)

// node is one schedulable unit: an atomic builder plus its position in the
// dependency graph. index preserves declaration order for deterministic
// error reporting.
type node struct {
	atomic     builders.Atomic
	index      int
	dependents []*node
	depCount   atomic.Int32

	settleOnce sync.Once
	ran        bool
	err        error
	duration   time.Duration
}

type graph struct {
	nodes []*node
}

// newGraph flattens a builder tree into nodes and edges. Sequential
// composites chain their children: every entry node of stage i+1 waits on
// every exit node of stage i. Parallel composites add no edges between
// siblings.
func newGraph(root builders.Builder) *graph {
	g := &graph{}
	g.add(root)
	return g
}

// add returns the subtree's entry and exit node sets.
func (g *graph) add(b builders.Builder) (first, last []*node) {
	switch v := b.(type) {
	case builders.Composite:
		children := v.Children()
		if v.Ordered() {
			var prev []*node
			for _, c := range children {
				f, l := g.add(c)
				if len(f) == 0 {
					continue
				}
				if first == nil {
					first = f
				}
				for _, entry := range f {
					for _, exit := range prev {
						exit.dependents = append(exit.dependents, entry)
						entry.depCount.Add(1)
					}
				}
				prev = l
			}
			return first, prev
		}
		for _, c := range children {
			f, l := g.add(c)
			first = append(first, f...)
			last = append(last, l...)
		}
		return first, last
	case builders.Atomic:
		n := &node{atomic: v, index: len(g.nodes)}
		g.nodes = append(g.nodes, n)
		return []*node{n}, []*node{n}
	default:
		return nil, nil
	}
}

func (g *graph) roots() []*node {
	var roots []*node
	for _, n := range g.nodes {
		if n.depCount.Load() == 0 {
			roots = append(roots, n)
		}
	}
	return roots
}
