package commands

import (
	"context"
	"fmt"

	"git.home.luguber.info/inful/docpress/internal/config"
)

// StatusCmd implements the 'status' command: the decider fast path only,
// zero conversions.
type StatusCmd struct {
	Paths   []string `arg:"" optional:"" help:"Documents or directories to check (default: whole source tree)"`
	Targets []string `short:"t" name:"target" help:"Override the target list"`
}

func (s *StatusCmd) Run(_ *Global, root *CLI) error {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	env, err := newEnvironment(cfg, nil)
	if err != nil {
		return err
	}
	defer env.Close()

	docs, err := resolveDocuments(env, s.Paths)
	if err != nil {
		return err
	}
	ctx := context.Background()

	for _, doc := range docs {
		targets, err := targetsFor(env, doc, s.Targets)
		if err != nil {
			return err
		}
		for _, tgt := range targets {
			stale, errs, err := env.Check(ctx, doc, tgt)
			switch {
			case err != nil:
				fmt.Printf("%s -> %s: error: %v\n", doc, tgt, err)
			case stale == 0 && len(errs) == 0:
				fmt.Printf("%s -> %s: up-to-date\n", doc, tgt)
			default:
				fmt.Printf("%s -> %s: stale (%d node(s) to build", doc, tgt, stale)
				if len(errs) > 0 {
					fmt.Printf(", %d unbuildable dependency(ies)", len(errs))
				}
				fmt.Println(")")
			}
		}
	}
	return nil
}
