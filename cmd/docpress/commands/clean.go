package commands

import (
	"fmt"
	"log/slog"
	"os"

	"git.home.luguber.info/inful/docpress/internal/config"
	"git.home.luguber.info/inful/docpress/internal/workspace"
)

// CleanCmd implements the 'clean' command.
type CleanCmd struct {
	Cache   bool `help:"Remove the build cache (record store and converted media)"`
	Outputs bool `help:"Remove the output directory"`
}

func (c *CleanCmd) Run(_ *Global, root *CLI) error {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	// Bare 'clean' clears the cache; outputs go only when asked.
	if !c.Cache && !c.Outputs {
		c.Cache = true
	}

	if c.Cache {
		if err := workspace.NewManager(cfg.Root).Clean(); err != nil {
			return err
		}
	}
	if c.Outputs {
		out := cfg.AbsOutputDir()
		if err := os.RemoveAll(out); err != nil {
			return fmt.Errorf("remove outputs: %w", err)
		}
		slog.Info("outputs removed", "path", out)
	}
	return nil
}
