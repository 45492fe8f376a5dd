// Package watch rebuilds documents when their sources change. Filesystem
// events are debounced into build passes; the decider keeps passes cheap, so
// a pass simply re-ensures every document and only stale work runs.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/docpress/internal/environment"
	"git.home.luguber.info/inful/docpress/internal/notify"
	"git.home.luguber.info/inful/docpress/internal/target"
)

// Options tune a Watcher. Zero values fall back to sensible defaults.
type Options struct {
	// Debounce coalesces event bursts (editor save storms, git checkout)
	// into one rebuild pass.
	Debounce time.Duration
	// PruneEvery schedules cache pruning; zero disables the job.
	PruneEvery time.Duration
	// PruneMaxAge is the age beyond which cached media is dropped.
	PruneMaxAge time.Duration
	// Publisher, when set, receives every build report.
	Publisher *notify.Publisher
	Logger    *slog.Logger
}

// Watcher drives watch mode for one environment.
type Watcher struct {
	env       *environment.Environment
	sourceDir string
	opts      Options
	logger    *slog.Logger
}

// New builds a watcher over env's source tree.
func New(env *environment.Environment, sourceDir string, opts Options) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = 300 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{env: env, sourceDir: sourceDir, opts: opts, logger: logger}
}

// Run blocks until ctx is canceled. It performs one full pass up front, then
// rebuilds on debounced filesystem changes. Cache pruning runs on its own
// schedule when configured.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()
	if err := w.addTree(fw, w.sourceDir); err != nil {
		return err
	}

	scheduler, err := w.startPruneJob()
	if err != nil {
		return err
	}
	if scheduler != nil {
		defer func() { _ = scheduler.Shutdown() }()
	}

	w.logger.Info("watching for changes", "source", w.sourceDir, "debounce", w.opts.Debounce)
	w.rebuild(ctx)

	// The timer is parked until the first relevant event arrives.
	debounce := time.NewTimer(w.opts.Debounce)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}
			if ev.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = w.addTree(fw, ev.Name)
				}
			}
			w.logger.Debug("source changed", "path", ev.Name, "op", ev.Op.String())
			debounce.Reset(w.opts.Debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		case <-debounce.C:
			w.rebuild(ctx)
		}
	}
}

// rebuild ensures every document's targets. Failures are logged and
// published; the watch loop keeps running.
func (w *Watcher) rebuild(ctx context.Context) {
	docs, err := w.env.Documents()
	if err != nil {
		w.logger.Error("discover documents", "error", err)
		return
	}
	for _, doc := range docs {
		if ctx.Err() != nil {
			return
		}
		targets, err := w.env.TargetsFor(doc)
		if err != nil {
			w.logger.Error("resolve targets", "document", doc, "error", err)
			continue
		}
		for _, tgt := range targets {
			res, err := w.env.EnsureBuilt(ctx, doc, tgt)
			if err != nil {
				w.logger.Error("build failed", "document", doc, "target", tgt, "error", err)
				continue
			}
			if res.Report != nil {
				w.opts.Publisher.Publish(res.Report)
				if res.Status != target.StatusUpToDate {
					w.logger.Info(res.Report.Summary())
				}
			}
		}
	}
}

// relevant filters out events from the cache and output trees and from
// editor temp files.
func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	path := ev.Name
	for _, skip := range []string{w.env.Workspace().Path(), w.env.OutDir()} {
		if skip != "" && strings.HasPrefix(path, skip+string(filepath.Separator)) {
			return false
		}
	}
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return false
	}
	return true
}

// addTree watches dir and every directory below it, skipping the cache and
// output trees.
func (w *Watcher) addTree(fw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path == w.env.Workspace().Path() || path == w.env.OutDir() {
			return filepath.SkipDir
		}
		if strings.HasPrefix(d.Name(), ".") && path != dir {
			return filepath.SkipDir
		}
		if err := fw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

// startPruneJob schedules periodic cache pruning via gocron.
func (w *Watcher) startPruneJob() (gocron.Scheduler, error) {
	if w.opts.PruneEvery <= 0 {
		return nil, nil
	}
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create prune scheduler: %w", err)
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(w.opts.PruneEvery),
		gocron.NewTask(func() {
			removed, err := w.env.Prune(w.opts.PruneMaxAge)
			if err != nil {
				w.logger.Warn("cache prune failed", "error", err)
				return
			}
			if removed > 0 {
				w.logger.Info("cache pruned", "removed", removed)
			}
		}),
		gocron.WithName("cache-prune"),
	)
	if err != nil {
		return nil, fmt.Errorf("schedule prune job: %w", err)
	}
	scheduler.Start()
	return scheduler, nil
}
