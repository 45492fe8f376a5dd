// Package workspace manages a project's on-disk cache directory: converted
// media shared across targets, ephemeral scratch space for compilers that
// spray auxiliary files, and the build record database.
package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// DirName is the cache directory created under the project root.
const DirName = ".docpress"

const (
	mediaDirName   = "media"
	scratchDirName = "scratch"
	recordsName    = "records.db"
)

// Manager owns the cache workspace of one project.
type Manager struct {
	root   string
	base   string
	logger *slog.Logger
}

// NewManager returns a manager for the cache under projectRoot.
func NewManager(projectRoot string) *Manager {
	return &Manager{
		root:   projectRoot,
		base:   filepath.Join(projectRoot, DirName),
		logger: slog.Default(),
	}
}

// WithLogger sets the logger for workspace operations.
func (m *Manager) WithLogger(logger *slog.Logger) *Manager {
	m.logger = logger
	return m
}

// Ensure creates the cache layout if it does not exist yet.
func (m *Manager) Ensure() error {
	for _, dir := range []string{m.base, m.MediaDir(), m.ScratchDir()} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create cache directory %s: %w", dir, err)
		}
	}
	return nil
}

// Path returns the cache root (<project>/.docpress).
func (m *Manager) Path() string { return m.base }

// MediaDir returns the shared converted-media directory. Intermediates land
// here under content-addressed names, so identical conversions for different
// targets coincide.
func (m *Manager) MediaDir() string { return filepath.Join(m.base, mediaDirName) }

// RecordsPath returns the build record database location.
func (m *Manager) RecordsPath() string { return filepath.Join(m.base, recordsName) }

// ScratchDir is the root for compiler droppings (TeX .aux/.log files).
// Builds compile under per-label subdirectories; Prune reclaims stale ones
// by age.
func (m *Manager) ScratchDir() string { return filepath.Join(m.base, scratchDirName) }

// Clean removes the entire cache directory.
func (m *Manager) Clean() error {
	if err := os.RemoveAll(m.base); err != nil {
		return fmt.Errorf("remove cache: %w", err)
	}
	m.logger.Info("cache removed", "path", m.base)
	return nil
}

// Prune deletes cached media and scratch leftovers older than maxAge and
// reports how many entries went away. The record database is left alone;
// stale records simply miss on their next check.
func (m *Manager) Prune(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, dir := range []string{m.MediaDir(), m.ScratchDir()} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return removed, fmt.Errorf("read cache directory %s: %w", dir, err)
		}
		for _, entry := range entries {
			info, err := entry.Info()
			if err != nil {
				continue
			}
			if info.ModTime().After(cutoff) {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			if err := os.RemoveAll(path); err != nil {
				m.logger.Warn("prune failed", "path", path, "error", err)
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		m.logger.Info("cache pruned", "removed", removed, "max_age", maxAge)
	}
	return removed, nil
}
