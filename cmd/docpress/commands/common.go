package commands

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/docpress/internal/config"
	"git.home.luguber.info/inful/docpress/internal/document"
	"git.home.luguber.info/inful/docpress/internal/environment"
	"git.home.luguber.info/inful/docpress/internal/metrics"
)

// Global carries state shared across subcommands.
type Global struct {
	Logger *slog.Logger
}

// CLI is the root command definition and global flags.
type CLI struct {
	Config    string           `short:"c" help:"Configuration file path" default:"docpress.yaml"`
	LogLevel  string           `name:"log-level" help:"Log level" enum:"debug,info,warn,error" default:"info"`
	LogFormat string           `name:"log-format" help:"Log format" enum:"text,json" default:"text"`
	Version   kong.VersionFlag `name:"version" help:"Show version and exit"`

	Build  BuildCmd  `cmd:"" help:"Build documents into their output targets"`
	Status StatusCmd `cmd:"" help:"Report which documents are stale, without converting anything"`
	Clean  CleanCmd  `cmd:"" help:"Remove the build cache and/or output directories"`
	Init   InitCmd   `cmd:"" help:"Initialize a new project"`
	Watch  WatchCmd  `cmd:"" help:"Rebuild on source changes until interrupted"`
}

// AfterApply runs after flag parsing; set up logging once.
func (c *CLI) AfterApply() error {
	var level slog.Level
	switch c.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if c.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

// newEnvironment opens the environment described by the loaded config.
func newEnvironment(cfg *config.Config, recorder metrics.Recorder) (*environment.Environment, error) {
	opts := []environment.Option{
		environment.WithSourceDir(cfg.AbsSourceDir()),
		environment.WithOutDir(cfg.AbsOutputDir()),
		environment.WithDefaultTargets(cfg.Targets),
		environment.WithLaTeXEngine(cfg.LaTeXEngine),
		environment.WithTimeouts(cfg.Timeouts.Builders()),
		environment.WithPoolSizes(cfg.ProcessSlots, cfg.LightSlots),
	}
	if recorder != nil {
		opts = append(opts, environment.WithMetrics(recorder))
	}
	return environment.New(cfg.Root, opts...)
}

// resolveDocuments expands CLI path arguments into source documents. No
// arguments means the whole source tree.
func resolveDocuments(env *environment.Environment, paths []string) ([]string, error) {
	if len(paths) == 0 {
		return env.Documents()
	}
	var docs []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", p, err)
		}
		if !info.IsDir() {
			docs = append(docs, p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() && strings.HasPrefix(d.Name(), ".") && path != p {
				return filepath.SkipDir
			}
			if !d.IsDir() && strings.EqualFold(filepath.Ext(path), document.Extension) {
				docs = append(docs, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", p, err)
		}
	}
	return docs, nil
}

// targetsFor picks the target list for one document: the CLI override when
// given, the document's own (or configured default) otherwise.
func targetsFor(env *environment.Environment, doc string, override []string) ([]string, error) {
	if len(override) > 0 {
		return override, nil
	}
	return env.TargetsFor(doc)
}
