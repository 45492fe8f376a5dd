package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/docpress/internal/config"
	"git.home.luguber.info/inful/docpress/internal/metrics"
	"git.home.luguber.info/inful/docpress/internal/notify"
	"git.home.luguber.info/inful/docpress/internal/watch"
)

// WatchCmd implements the 'watch' command.
type WatchCmd struct{}

func (w *WatchCmd) Run(_ *Global, root *CLI) error {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var recorder metrics.Recorder
	if cfg.Metrics.Enabled() {
		reg := prom.NewRegistry()
		recorder = metrics.NewPrometheusRecorder(reg)
		go func() {
			slog.Info("metrics listener started", "addr", cfg.Metrics.Listen)
			server := &http.Server{Addr: cfg.Metrics.Listen, Handler: metrics.HTTPHandler(reg)}
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics listener failed", "error", err)
			}
		}()
	}

	env, err := newEnvironment(cfg, recorder)
	if err != nil {
		return err
	}
	defer env.Close()

	var publisher *notify.Publisher
	if cfg.NATS.Enabled() {
		publisher, err = notify.Connect(cfg.NATS.URL, cfg.NATS.Subject, slog.Default())
		if err != nil {
			return err
		}
		defer publisher.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	watcher := watch.New(env, cfg.AbsSourceDir(), watch.Options{
		Debounce:    cfg.Watch.Debounce,
		PruneEvery:  cfg.Watch.PruneEvery,
		PruneMaxAge: cfg.Watch.PruneMaxAge,
		Publisher:   publisher,
	})
	err = watcher.Run(ctx)
	slog.Info("watch mode stopped")
	return err
}
