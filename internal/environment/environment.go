// Package environment wires the build pipeline together for one project: it
// owns the cache workspace, the record store and decider, the shared
// executor, the converter catalog, and the registry of target builders.
//
// The environment is an explicit value passed to callers; there is no
// process-wide singleton. Everything it owns is shared by every target build
// it serves, which is what makes cross-target dedup and the shared cache
// work.
package environment

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"git.home.luguber.info/inful/docpress/internal/builders"
	"git.home.luguber.info/inful/docpress/internal/decider"
	"git.home.luguber.info/inful/docpress/internal/document"
	"git.home.luguber.info/inful/docpress/internal/executor"
	"git.home.luguber.info/inful/docpress/internal/metrics"
	"git.home.luguber.info/inful/docpress/internal/target"
	"git.home.luguber.info/inful/docpress/internal/templates"
	"git.home.luguber.info/inful/docpress/internal/workspace"
)

type options struct {
	runner      builders.Runner
	logger      *slog.Logger
	metrics     metrics.Recorder
	sourceDir   string
	outDir      string
	timeouts    builders.Timeouts
	procSlots   int
	lightSlots  int
	latexEngine string
	targets     []string
}

// Option configures an Environment.
type Option func(*options)

// WithRunner substitutes the tool runner (tests use a fake).
func WithRunner(r builders.Runner) Option {
	return func(o *options) { o.runner = r }
}

// WithLogger sets the logger for the whole pipeline.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder for the whole pipeline.
func WithMetrics(m metrics.Recorder) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithSourceDir sets the document source root (default: the project root).
func WithSourceDir(dir string) Option {
	return func(o *options) { o.sourceDir = dir }
}

// WithOutDir sets the output root (default: <project>/out).
func WithOutDir(dir string) Option {
	return func(o *options) { o.outDir = dir }
}

// WithTimeouts overrides the per-converter-kind time budgets.
func WithTimeouts(t builders.Timeouts) Option {
	return func(o *options) { o.timeouts = t }
}

// WithPoolSizes bounds the executor's process and in-process worker pools.
func WithPoolSizes(process, light int) Option {
	return func(o *options) {
		o.procSlots = process
		o.lightSlots = light
	}
}

// WithLaTeXEngine selects the TeX compiler ("pdflatex" or "latexmk").
func WithLaTeXEngine(engine string) Option {
	return func(o *options) { o.latexEngine = engine }
}

// WithDefaultTargets sets the targets built for documents whose frontmatter
// names none.
func WithDefaultTargets(targets []string) Option {
	return func(o *options) { o.targets = targets }
}

type regKey struct {
	doc    string
	format string
}

// Environment is the per-project build context.
type Environment struct {
	root      string
	sourceDir string
	outDir    string
	targets   []string

	ws      *workspace.Manager
	store   *decider.SQLiteStore
	decider *decider.Decider
	exec    *executor.Executor
	catalog *builders.Catalog
	tmpl    *templates.Loader
	logger  *slog.Logger
	metrics metrics.Recorder

	mu       sync.Mutex
	registry map[regKey]*target.Builder
}

// New opens the environment for the project at root, creating the cache
// workspace and record store as needed.
func New(root string, opts ...Option) (*Environment, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}
	o := &options{
		runner:   builders.SystemRunner{},
		logger:   slog.Default(),
		metrics:  metrics.NoopRecorder{},
		timeouts: builders.DefaultTimeouts(),
		targets:  []string{"html"},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.sourceDir == "" {
		o.sourceDir = abs
	}
	if o.outDir == "" {
		o.outDir = filepath.Join(abs, "out")
	}

	ws := workspace.NewManager(abs).WithLogger(o.logger)
	if err := ws.Ensure(); err != nil {
		return nil, err
	}
	store, err := decider.NewSQLiteStore(ws.RecordsPath())
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}
	dec := decider.New(store).WithLogger(o.logger)

	catalogOpts := []builders.CatalogOption{builders.WithTimeouts(o.timeouts)}
	if o.latexEngine != "" {
		catalogOpts = append(catalogOpts, builders.WithLaTeXEngine(o.latexEngine))
	}

	execOpts := []executor.Option{
		executor.WithLogger(o.logger),
		executor.WithMetrics(o.metrics),
	}
	if o.procSlots > 0 {
		execOpts = append(execOpts, executor.WithProcessSlots(o.procSlots))
	}
	if o.lightSlots > 0 {
		execOpts = append(execOpts, executor.WithLightSlots(o.lightSlots))
	}

	return &Environment{
		root:      abs,
		sourceDir: o.sourceDir,
		outDir:    o.outDir,
		targets:   o.targets,
		ws:        ws,
		store:     store,
		decider:   dec,
		exec:      executor.New(dec, o.runner, execOpts...),
		catalog:   builders.NewCatalog(o.runner, ws.MediaDir(), catalogOpts...),
		tmpl:      templates.NewLoader(abs),
		logger:    o.logger,
		metrics:   o.metrics,
		registry:  make(map[regKey]*target.Builder),
	}, nil
}

// Close releases the record store.
func (e *Environment) Close() error { return e.store.Close() }

// Workspace exposes the cache workspace, for pruning and cleaning.
func (e *Environment) Workspace() *workspace.Manager { return e.ws }

// OutDir returns the output root.
func (e *Environment) OutDir() string { return e.outDir }

// DefaultTargets returns the targets built when a document names none.
func (e *Environment) DefaultTargets() []string {
	return append([]string(nil), e.targets...)
}

// builder returns the registered target builder for (docPath, format),
// creating it on first use. Builders reload their document on every build,
// so registry entries stay valid across edits.
func (e *Environment) builder(docPath, format string) (*target.Builder, error) {
	abs, err := filepath.Abs(docPath)
	if err != nil {
		return nil, fmt.Errorf("resolve document path: %w", err)
	}
	key := regKey{doc: abs, format: format}

	e.mu.Lock()
	defer e.mu.Unlock()
	if tb, ok := e.registry[key]; ok {
		return tb, nil
	}
	tb, err := target.New(abs, e.sourceDir, format, target.Deps{
		Catalog:    e.catalog,
		Executor:   e.exec,
		Decider:    e.decider,
		Templates:  e.tmpl,
		OutDir:     e.outDir,
		ScratchDir: e.ws.ScratchDir(),
		Logger:     e.logger,
		Metrics:    e.metrics,
	})
	if err != nil {
		return nil, err
	}
	e.registry[key] = tb
	return tb, nil
}

// EnsureBuilt brings one (document, target) pair up to date and returns the
// build result.
func (e *Environment) EnsureBuilt(ctx context.Context, docPath, format string) (target.Result, error) {
	tb, err := e.builder(docPath, format)
	if err != nil {
		return target.Result{}, err
	}
	return tb.Build(ctx), nil
}

// Check runs the decider fast path for one (document, target) pair: how many
// nodes are stale, plus any structural errors, with zero conversions.
func (e *Environment) Check(ctx context.Context, docPath, format string) (stale int, errs []error, err error) {
	tb, err := e.builder(docPath, format)
	if err != nil {
		return 0, nil, err
	}
	return tb.Check(ctx)
}

// TargetsFor resolves the effective target list for a document: its
// frontmatter list when present, the environment default otherwise.
func (e *Environment) TargetsFor(docPath string) ([]string, error) {
	doc, err := document.Load(docPath, e.sourceDir)
	if err != nil {
		return nil, err
	}
	return doc.Targets(e.targets), nil
}

// Documents walks the source tree and returns every source document,
// sorted. The cache and output directories are skipped.
func (e *Environment) Documents() ([]string, error) {
	var docs []string
	err := filepath.WalkDir(e.sourceDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path == e.ws.Path() || path == e.outDir || strings.HasPrefix(d.Name(), ".") && path != e.sourceDir {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), document.Extension) {
			docs = append(docs, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk source tree: %w", err)
	}
	sort.Strings(docs)
	return docs, nil
}

// Prune removes cache entries older than maxAge.
func (e *Environment) Prune(maxAge time.Duration) (int, error) {
	return e.ws.Prune(maxAge)
}
