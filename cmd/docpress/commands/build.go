package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"git.home.luguber.info/inful/docpress/internal/config"
	"git.home.luguber.info/inful/docpress/internal/target"
)

// BuildCmd implements the 'build' command.
type BuildCmd struct {
	Paths   []string `arg:"" optional:"" help:"Documents or directories to build (default: whole source tree)"`
	Targets []string `short:"t" name:"target" help:"Override the target list (html,tex,pdf,epub,txt)"`
}

func (b *BuildCmd) Run(_ *Global, root *CLI) error {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	for _, t := range b.Targets {
		if !target.Supported(t) {
			return fmt.Errorf("unknown target %q (known: %v)", t, target.Formats())
		}
	}

	env, err := newEnvironment(cfg, nil)
	if err != nil {
		return err
	}
	defer env.Close()

	docs, err := resolveDocuments(env, b.Paths)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	failures := 0
	for _, doc := range docs {
		targets, err := targetsFor(env, doc, b.Targets)
		if err != nil {
			return err
		}
		for _, tgt := range targets {
			res, err := env.EnsureBuilt(ctx, doc, tgt)
			if err != nil {
				return err
			}
			fmt.Println(res.Report.Summary())
			if res.Status == target.StatusFailed {
				failures++
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	if failures > 0 {
		return fmt.Errorf("%d target build(s) failed", failures)
	}
	return nil
}
