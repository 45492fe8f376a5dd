// Package target orchestrates one (document, output format) build: it scans
// the document's dependencies, assembles the build graph from the converter
// catalog plus the format's final-assembly nodes, and runs it through the
// executor.
package target

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"git.home.luguber.info/inful/docpress/internal/builders"
	"git.home.luguber.info/inful/docpress/internal/decider"
	"git.home.luguber.info/inful/docpress/internal/document"
	"git.home.luguber.info/inful/docpress/internal/executor"
	"git.home.luguber.info/inful/docpress/internal/hasher"
	"git.home.luguber.info/inful/docpress/internal/metrics"
	"git.home.luguber.info/inful/docpress/internal/report"
	"git.home.luguber.info/inful/docpress/internal/templates"
)

// Format names the supported output formats.
var formats = []string{"html", "tex", "pdf", "epub", "txt"}

// Formats returns the supported output format names.
func Formats() []string { return append([]string(nil), formats...) }

// Supported reports whether name is a known output format.
func Supported(name string) bool {
	for _, f := range formats {
		if f == name {
			return true
		}
	}
	return false
}

// Status is the outcome of one target build.
type Status int

const (
	// StatusUpToDate means every node's cached result was still valid; no
	// converter ran.
	StatusUpToDate Status = iota
	// StatusBuilt means at least one node ran and everything succeeded.
	StatusBuilt
	// StatusFailed means at least one node or assembly step failed.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusUpToDate:
		return "up-to-date"
	case StatusBuilt:
		return "built"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the outcome a target build reports to its caller.
type Result struct {
	Status Status
	// Artifacts lists produced files, the format's main artifact first.
	Artifacts []string
	// Errors carries every independent failure: per-dependency unsupported
	// conversions plus graph and assembly failures, in declaration order.
	Errors []error
	Report *report.Report
}

// Deps are the collaborators a Builder needs. All fields are required except
// Logger and Metrics.
type Deps struct {
	Catalog   *builders.Catalog
	Executor  *executor.Executor
	Decider   *decider.Decider
	Templates *templates.Loader
	// OutDir is the output root; artifacts land under <OutDir>/<format>/.
	OutDir string
	// ScratchDir is the root for compiler aux droppings. Defaults to the
	// scratch directory beside the catalog's media cache.
	ScratchDir string
	Logger     *slog.Logger
	Metrics    metrics.Recorder
}

func (d *Deps) fill() {
	if d.ScratchDir == "" && d.Catalog != nil {
		d.ScratchDir = filepath.Join(filepath.Dir(d.Catalog.MediaDir()), "scratch")
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.NoopRecorder{}
	}
}

// Builder builds one document for one output format. The document is
// reloaded and rescanned on every Build call, so edits between calls are
// always observed; incremental reuse comes from the decider's records, not
// from holding state here.
type Builder struct {
	docPath string
	root    string
	format  string
	deps    Deps
}

// New returns a builder for the document at docPath (source root root) and
// the given output format.
func New(docPath, root, format string, deps Deps) (*Builder, error) {
	if !Supported(format) {
		return nil, fmt.Errorf("unknown target format %q", format)
	}
	deps.fill()
	return &Builder{docPath: docPath, root: root, format: format, deps: deps}, nil
}

// Format returns the builder's output format name.
func (b *Builder) Format() string { return b.format }

// Document returns the builder's source path.
func (b *Builder) Document() string { return b.docPath }

// Build ensures the target is up to date. When the decider finds every node
// current, it returns StatusUpToDate without touching the executor. A failed
// dependency never rolls back siblings' finished work; every independent
// failure lands in Result.Errors.
func (b *Builder) Build(ctx context.Context) Result {
	rep := report.New(b.docPath, b.format)
	rep.Stamp(b.root)
	start := time.Now()

	doc, err := document.Load(b.docPath, b.root)
	if err != nil {
		return b.failed(rep, err)
	}
	asm, err := b.assemble(doc)
	if err != nil {
		return b.failed(rep, err)
	}

	session := hasher.NewSession()
	stale, err := b.stale(session, asm.graph)
	if err != nil {
		return b.failed(rep, append(asm.errs, err)...)
	}
	if stale == 0 && len(asm.errs) == 0 {
		rep.UpToDate = countLeaves(asm.graph)
		rep.Artifacts = asm.artifacts
		rep.Finish(StatusUpToDate.String())
		b.observe(StatusUpToDate, start)
		return Result{Status: StatusUpToDate, Artifacts: asm.artifacts, Report: rep}
	}

	res := b.deps.Executor.Run(ctx, session, asm.graph)
	errs := append(append([]error(nil), asm.errs...), res.Errors...)

	status := StatusBuilt
	if len(errs) > 0 {
		status = StatusFailed
	}
	fillReport(rep, res, asm.artifacts, errs)
	rep.Finish(status.String())
	b.observe(status, start)

	b.deps.Logger.Info("target build finished",
		"document", doc.Name, "target", b.format, "status", status.String(),
		"built", res.Built, "up_to_date", res.UpToDate, "failed", res.Failed)
	return Result{Status: status, Artifacts: asm.artifacts, Errors: errs, Report: rep}
}

// Check runs the decider fast path only: it reports how many nodes would
// build, without invoking any converter.
func (b *Builder) Check(ctx context.Context) (stale int, errs []error, err error) {
	_ = ctx
	doc, err := document.Load(b.docPath, b.root)
	if err != nil {
		return 0, nil, err
	}
	asm, err := b.assemble(doc)
	if err != nil {
		return 0, nil, err
	}
	stale, err = b.stale(hasher.NewSession(), asm.graph)
	if err != nil {
		return 0, asm.errs, err
	}
	return stale, asm.errs, nil
}

// stale counts nodes the decider would rebuild. A missing input is a hard
// error only when nothing in the graph produces it; inputs produced by an
// earlier stage are simply not there yet and count as stale.
func (b *Builder) stale(session *hasher.Session, graph builders.Builder) (int, error) {
	leaves := builders.Leaves(graph)
	produced := make(map[string]bool)
	for _, leaf := range leaves {
		for _, out := range leaf.Outputs() {
			produced[out] = true
		}
	}

	stale := 0
	for _, leaf := range leaves {
		needs, err := b.deps.Decider.NeedsBuild(session, leaf)
		if err != nil {
			if errors.Is(err, hasher.ErrDependencyMissing) && missingIsProduced(leaf, produced) {
				stale++
				continue
			}
			return 0, err
		}
		if needs {
			stale++
		}
	}
	return stale, nil
}

func missingIsProduced(leaf builders.Atomic, produced map[string]bool) bool {
	for _, in := range leaf.Inputs() {
		if _, err := os.Stat(in); err != nil && !produced[in] {
			return false
		}
	}
	return true
}

func (b *Builder) failed(rep *report.Report, errs ...error) Result {
	for _, err := range errs {
		rep.AddError(err)
	}
	rep.Finish(StatusFailed.String())
	b.deps.Metrics.IncTargetOutcome("failed")
	return Result{Status: StatusFailed, Errors: errs, Report: rep}
}

func (b *Builder) observe(status Status, start time.Time) {
	outcome := map[Status]string{
		StatusUpToDate: "up_to_date",
		StatusBuilt:    "built",
		StatusFailed:   "failed",
	}[status]
	b.deps.Metrics.IncTargetOutcome(outcome)
	b.deps.Metrics.ObserveTargetDuration(b.format, time.Since(start))
}

func countLeaves(graph builders.Builder) int { return len(builders.Leaves(graph)) }

func fillReport(rep *report.Report, res executor.Result, artifacts []string, errs []error) {
	rep.Built = res.Built
	rep.UpToDate = res.UpToDate
	rep.Failed = res.Failed
	rep.Skipped = res.Skipped
	rep.Artifacts = artifacts
	for _, n := range res.Nodes {
		node := report.Node{
			Kind:     n.Kind,
			Outputs:  n.Outputs,
			Status:   n.Status.String(),
			Ran:      n.Ran,
			Duration: n.Duration,
		}
		if n.Err != nil {
			node.Error = n.Err.Error()
		}
		rep.Nodes = append(rep.Nodes, node)
	}
	for _, err := range errs {
		rep.AddError(err)
	}
}
