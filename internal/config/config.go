// Package config loads the project configuration: docpress.yaml at the
// project root, overridden by DOCPRESS_* environment variables (a .env file
// next to the config is honored).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/docpress/internal/builders"
	"git.home.luguber.info/inful/docpress/internal/target"
)

// FileName is the project configuration file.
const FileName = "docpress.yaml"

// Config is the project configuration.
type Config struct {
	// SourceDir is the document tree root, relative to the project root.
	SourceDir string `yaml:"source_dir"`
	// OutputDir receives per-format artifact trees.
	OutputDir string `yaml:"output_dir"`
	// Targets is the default target list for documents that name none.
	Targets []string `yaml:"targets"`

	// LaTeXEngine selects the TeX compiler: pdflatex (default) or latexmk.
	LaTeXEngine string `yaml:"latex_engine"`

	// Timeouts bound converter invocations. Keys are converter kinds
	// (pdflatex, asy2pdf, ...); Default applies to kinds not listed.
	Timeouts TimeoutConfig `yaml:"timeouts"`

	// ProcessSlots and LightSlots bound the executor pools. Zero keeps the
	// built-in defaults.
	ProcessSlots int `yaml:"process_slots"`
	LightSlots   int `yaml:"light_slots"`

	Watch   WatchConfig   `yaml:"watch"`
	NATS    NATSConfig    `yaml:"nats"`
	Metrics MetricsConfig `yaml:"metrics"`

	Logging LoggingConfig `yaml:"logging"`

	// Root is the directory the config was loaded from. Not serialized.
	Root string `yaml:"-"`
}

// TimeoutConfig is the converter time budget table.
type TimeoutConfig struct {
	Default time.Duration            `yaml:"default"`
	PerKind map[string]time.Duration `yaml:"per_kind"`
}

// Builders converts the table to the catalog's form, starting from the
// built-in per-kind budgets and overlaying configured ones.
func (t TimeoutConfig) Builders() builders.Timeouts {
	out := builders.DefaultTimeouts()
	if t.Default > 0 {
		out.Default = t.Default
	}
	for kind, d := range t.PerKind {
		out.PerKind[kind] = d
	}
	return out
}

// WatchConfig tunes watch mode.
type WatchConfig struct {
	// Debounce coalesces bursts of filesystem events into one rebuild.
	Debounce time.Duration `yaml:"debounce"`
	// PruneEvery schedules cache pruning; zero disables it.
	PruneEvery time.Duration `yaml:"prune_every"`
	// PruneMaxAge is the age beyond which cached media is dropped.
	PruneMaxAge time.Duration `yaml:"prune_max_age"`
}

// NATSConfig configures the optional build-event publisher.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// Enabled reports whether event publishing is configured.
func (n NATSConfig) Enabled() bool { return n.URL != "" }

// MetricsConfig configures the optional Prometheus listener.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// Enabled reports whether the metrics listener is configured.
func (m MetricsConfig) Enabled() bool { return m.Listen != "" }

// LoggingConfig selects log level and format.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // text|json
}

// Default returns the configuration with every default applied, rooted at
// root.
func Default(root string) *Config {
	cfg := &Config{Root: root}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.SourceDir == "" {
		c.SourceDir = "."
	}
	if c.OutputDir == "" {
		c.OutputDir = "out"
	}
	if len(c.Targets) == 0 {
		c.Targets = []string{"html"}
	}
	if c.LaTeXEngine == "" {
		c.LaTeXEngine = "pdflatex"
	}
	if c.Timeouts.Default == 0 {
		c.Timeouts.Default = 30 * time.Second
	}
	if c.Watch.Debounce == 0 {
		c.Watch.Debounce = 300 * time.Millisecond
	}
	if c.Watch.PruneEvery == 0 {
		c.Watch.PruneEvery = time.Hour
	}
	if c.Watch.PruneMaxAge == 0 {
		c.Watch.PruneMaxAge = 14 * 24 * time.Hour
	}
	if c.NATS.Subject == "" {
		c.NATS.Subject = "docpress.builds"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	for _, t := range c.Targets {
		if !target.Supported(t) {
			return fmt.Errorf("unknown target %q (known: %v)", t, target.Formats())
		}
	}
	switch c.LaTeXEngine {
	case "pdflatex", "latexmk":
	default:
		return fmt.Errorf("unknown latex_engine %q (pdflatex or latexmk)", c.LaTeXEngine)
	}
	if c.ProcessSlots < 0 || c.LightSlots < 0 {
		return fmt.Errorf("pool sizes must not be negative")
	}
	return nil
}

// Load reads the configuration at path. A missing file yields the defaults
// rooted at the path's directory; environment overrides apply either way.
func Load(path string) (*Config, error) {
	root, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	cfg := &Config{Root: root}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Defaults only.
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := applyEnv(cfg, root); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// AbsSourceDir resolves the source directory against the project root.
func (c *Config) AbsSourceDir() string { return c.resolve(c.SourceDir) }

// AbsOutputDir resolves the output directory against the project root.
func (c *Config) AbsOutputDir() string { return c.resolve(c.OutputDir) }

func (c *Config) resolve(dir string) string {
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(c.Root, dir)
}
