package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"git.home.luguber.info/inful/docpress/internal/config"
)

// InitCmd implements the 'init' command.
type InitCmd struct {
	Dir   string `arg:"" optional:"" help:"Project directory (default: current directory)" default:"."`
	Force bool   `help:"Overwrite an existing configuration file"`
}

const starterConfig = `# docpress project configuration.
source_dir: .
output_dir: out
targets: [html]

# latex_engine: pdflatex
# timeouts:
#   default: 30s
#   per_kind:
#     pdflatex: 90s
# watch:
#   debounce: 300ms
# nats:
#   url: nats://localhost:4222
# metrics:
#   listen: :9477
`

const starterDocument = `---
title: Welcome
targets: [html]
---

# Welcome

Write Markdown here. Reference images and diagrams and docpress converts
them per target:

` + "```" + `asy {scale=2}
size(3cm);
draw(unitcircle);
` + "```" + `
`

func (i *InitCmd) Run(_ *Global, _ *CLI) error {
	dir, err := filepath.Abs(i.Dir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create project directory: %w", err)
	}

	cfgPath := filepath.Join(dir, config.FileName)
	if _, err := os.Stat(cfgPath); err == nil && !i.Force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
	}
	if err := os.WriteFile(cfgPath, []byte(starterConfig), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	docPath := filepath.Join(dir, "index.md")
	if _, err := os.Stat(docPath); os.IsNotExist(err) {
		if err := os.WriteFile(docPath, []byte(starterDocument), 0o644); err != nil {
			return fmt.Errorf("write starter document: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Join(dir, "templates"), 0o755); err != nil {
		return fmt.Errorf("create templates directory: %w", err)
	}

	slog.Info("project initialized", "dir", dir)
	fmt.Printf("Initialized docpress project in %s\n", dir)
	fmt.Println("Next: docpress build")
	return nil
}
