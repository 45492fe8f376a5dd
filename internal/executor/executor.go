// Package executor schedules builder graphs onto bounded worker slots.
// Process-backed nodes and in-process nodes draw from independent pools, so
// cheap copies never queue behind long conversions. At most one build runs
// per node identity at a time; concurrent requests for the same identity
// share the single result.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"git.home.luguber.info/inful/docpress/internal/builders"
	"git.home.luguber.info/inful/docpress/internal/decider"
	"git.home.luguber.info/inful/docpress/internal/hasher"
	"git.home.luguber.info/inful/docpress/internal/metrics"
)

// ErrSkipped marks nodes that never ran because an upstream stage failed.
var ErrSkipped = errors.New("skipped after upstream failure")

const (
	DefaultProcessSlots = 4
	DefaultLightSlots   = 16
)

// Executor runs builder graphs. One Executor is shared by every target in an
// environment so slot limits and identity dedup hold across concurrent
// target builds.
type Executor struct {
	decider *decider.Decider
	runner  builders.Runner
	logger  *slog.Logger
	metrics metrics.Recorder

	procSlots chan struct{}
	liteSlots chan struct{}
	flights   *registry
	active    atomic.Int64
}

// Option configures an Executor.
type Option func(*Executor)

// WithProcessSlots bounds concurrent external tool invocations.
func WithProcessSlots(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.procSlots = make(chan struct{}, n)
		}
	}
}

// WithLightSlots bounds concurrent in-process nodes (copies, writes).
func WithLightSlots(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.liteSlots = make(chan struct{}, n)
		}
	}
}

// WithLogger sets the logger for scheduling diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m metrics.Recorder) Option {
	return func(e *Executor) {
		if m != nil {
			e.metrics = m
		}
	}
}

// New builds an Executor around a decider and a tool runner.
func New(d *decider.Decider, runner builders.Runner, opts ...Option) *Executor {
	e := &Executor{
		decider:   d,
		runner:    runner,
		logger:    slog.Default(),
		metrics:   metrics.NoopRecorder{},
		procSlots: make(chan struct{}, DefaultProcessSlots),
		liteSlots: make(chan struct{}, DefaultLightSlots),
		flights:   newRegistry(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NodeResult is the outcome of one graph node, in declaration order.
type NodeResult struct {
	Kind     string
	Outputs  []string
	Status   builders.Status
	Ran      bool
	Err      error
	Duration time.Duration
}

// Result aggregates one run. Errors holds real failure causes in declaration
// order; nodes dropped by short-circuit or cancellation count as Skipped and
// do not add noise there.
type Result struct {
	Built    int
	UpToDate int
	Failed   int
	Skipped  int
	Errors   []error
	Nodes    []NodeResult
}

// HasFailures reports whether the run produced any real failure.
func (r Result) HasFailures() bool { return len(r.Errors) > 0 }

// Run executes the builder tree rooted at root. The session carries the
// pass-wide digest memo; every node's decider check and commit go through
// it. Run blocks until every node is terminal.
func (e *Executor) Run(ctx context.Context, session *hasher.Session, root builders.Builder) Result {
	if root == nil {
		return Result{}
	}
	if session == nil {
		session = hasher.NewSession()
	}
	g := newGraph(root)
	if len(g.nodes) == 0 {
		return Result{}
	}

	r := &run{exec: e, ctx: ctx, session: session, g: g}
	r.wg.Add(len(g.nodes))
	for _, n := range g.roots() {
		r.dispatch(n)
	}
	r.wg.Wait()
	return r.collect()
}

// run is the per-invocation state of one graph execution.
type run struct {
	exec    *Executor
	ctx     context.Context
	session *hasher.Session
	g       *graph
	wg      sync.WaitGroup
}

// dispatch moves a ready node toward execution. Tool availability is checked
// here so a missing tool fails the node immediately instead of queueing it
// behind running builds.
func (r *run) dispatch(n *node) {
	if err := r.ctx.Err(); err != nil {
		r.settle(n, false, err)
		return
	}
	if err := r.missingTool(n); err != nil {
		r.settle(n, false, err)
		return
	}
	n.atomic.MarkPending()
	go r.process(n)
}

func (r *run) missingTool(n *node) error {
	for _, tool := range n.atomic.Tools() {
		if _, err := r.exec.runner.LookPath(tool); err != nil {
			return &builders.BuildError{
				Kind:    n.atomic.Kind(),
				Inputs:  n.atomic.Inputs(),
				Outputs: n.atomic.Outputs(),
				Err:     fmt.Errorf("%s: %w", tool, builders.ErrToolMissing),
			}
		}
	}
	return nil
}

// process resolves the node against the in-flight registry. The first
// requester of an identity leads and builds; later requesters wait and adopt
// the published result. A leader that gets canceled before starting hands
// leadership back so a live follower can take over.
func (r *run) process(n *node) {
	id := builders.Identity(n.atomic)
	for {
		f, leader := r.exec.flights.acquire(id)
		if leader {
			ran, err, aborted := r.build(n, id)
			r.exec.flights.complete(f, id, ran, err, aborted)
			r.settle(n, ran, err)
			return
		}

		r.exec.logger.Debug("waiting on identical in-flight build",
			"kind", n.atomic.Kind(), "outputs", n.atomic.Outputs())
		select {
		case <-f.done:
			if f.aborted {
				continue
			}
			r.settle(n, f.ran, f.err)
			return
		case <-r.ctx.Done():
			r.exec.flights.release(f)
			r.settle(n, false, r.ctx.Err())
			return
		}
	}
}

// build runs one node as flight leader: acquire a slot, consult the decider,
// invoke, commit. aborted reports cancellation before any work started.
func (r *run) build(n *node, id string) (ran bool, err error, aborted bool) {
	sem := r.exec.liteSlots
	if len(n.atomic.Tools()) > 0 {
		sem = r.exec.procSlots
	}
	select {
	case sem <- struct{}{}:
	case <-r.ctx.Done():
		return false, r.ctx.Err(), true
	}
	defer func() { <-sem }()

	needs, err := r.exec.decider.NeedsBuild(r.session, n.atomic)
	if err != nil {
		// Missing input: a hard failure, not a rebuild signal.
		return false, err, false
	}
	r.exec.metrics.IncCacheEvent(!needs)
	if !needs {
		r.exec.logger.Debug("node up to date", "kind", n.atomic.Kind(), "outputs", n.atomic.Outputs())
		return false, nil, false
	}

	n.atomic.MarkBuilding()
	r.exec.metrics.SetActiveBuilds(int(r.exec.active.Add(1)))
	start := time.Now()
	// A started node runs to completion even if the pass is canceled;
	// per-kind timeouts still bound the invocation.
	buildErr := n.atomic.Build(context.WithoutCancel(r.ctx))
	n.duration = time.Since(start)
	r.exec.metrics.SetActiveBuilds(int(r.exec.active.Add(-1)))
	r.exec.metrics.ObserveNodeDuration(n.atomic.Kind(), n.duration)

	if buildErr != nil {
		return true, buildErr, false
	}
	if r.ctx.Err() != nil && !r.exec.flights.othersInterested(id) {
		// Canceled mid-build with nobody else waiting on this identity:
		// leave the result uncommitted so the next pass redoes it.
		return true, r.ctx.Err(), false
	}
	if err := r.exec.decider.Commit(r.session, n.atomic); err != nil {
		return true, err, false
	}
	return true, nil, false
}

// settle finalizes a node exactly once: record the outcome, advance the
// state machine, and either unlock dependents or short-circuit them.
func (r *run) settle(n *node, ran bool, err error) {
	n.settleOnce.Do(func() {
		n.ran = ran
		n.err = err
		if err != nil {
			n.atomic.Fail(err)
			r.exec.metrics.IncNodeResult(n.atomic.Kind(), resultLabel(err))
			r.skipDependents(n)
		} else {
			n.atomic.Done()
			r.exec.metrics.IncNodeResult(n.atomic.Kind(), metrics.ResultSuccess)
			r.unlock(n)
		}
		r.wg.Done()
	})
}

// skipDependents fails everything downstream of n. Independent siblings are
// untouched; a failure never cancels them.
func (r *run) skipDependents(n *node) {
	for _, d := range n.dependents {
		r.settle(d, false, fmt.Errorf("%w: %s", ErrSkipped, n.atomic.Kind()))
	}
}

func (r *run) unlock(n *node) {
	for _, d := range n.dependents {
		if d.depCount.Add(-1) == 0 {
			r.dispatch(d)
		}
	}
}

func (r *run) collect() Result {
	res := Result{Nodes: make([]NodeResult, 0, len(r.g.nodes))}
	for _, n := range r.g.nodes {
		res.Nodes = append(res.Nodes, NodeResult{
			Kind:     n.atomic.Kind(),
			Outputs:  n.atomic.Outputs(),
			Status:   n.atomic.Status(),
			Ran:      n.ran,
			Err:      n.err,
			Duration: n.duration,
		})
		switch {
		case n.err == nil && n.ran:
			res.Built++
		case n.err == nil:
			res.UpToDate++
		case errors.Is(n.err, ErrSkipped),
			errors.Is(n.err, context.Canceled),
			errors.Is(n.err, context.DeadlineExceeded):
			res.Skipped++
		default:
			res.Failed++
			res.Errors = append(res.Errors, n.err)
		}
	}
	if err := r.ctx.Err(); err != nil {
		res.Errors = append(res.Errors, err)
	}
	return res
}

func resultLabel(err error) metrics.ResultLabel {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return metrics.ResultCanceled
	case errors.Is(err, ErrSkipped):
		return metrics.ResultSkipped
	default:
		return metrics.ResultFailed
	}
}
