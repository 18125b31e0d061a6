package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"git.home.luguber.info/inful/rtdbuild/internal/daemon"
	"git.home.luguber.info/inful/rtdbuild/internal/orchestrator"
	"git.home.luguber.info/inful/rtdbuild/internal/serve"
	"git.home.luguber.info/inful/rtdbuild/internal/server"
)

// ServeCmd implements the 'serve' command.
type ServeCmd struct {
	Addr    string `help:"Listen address; overrides http.addr"`
	Workers int    `help:"Build workers; overrides queue.workers"`
	NoWatch bool   `name:"no-watch" help:"Do not reload the configuration file on change"`
}

func (s *ServeCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.loadConfig(g)
	if err != nil {
		return err
	}
	if s.Addr != "" {
		cfg.HTTP.Addr = s.Addr
	}
	if s.Workers > 0 {
		cfg.Queue.Workers = s.Workers
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.close()

	queue := orchestrator.NewQueue(cfg.Queue.Size, cfg.Queue.Workers, a.orch)
	queue.SetRecorder(a.recorder)

	srv := server.New(server.Deps{
		HTTP:     cfg.HTTP,
		Store:    a.store,
		Trigger:  orchestrator.NewTrigger(a.store, queue),
		Jobs:     queue,
		Resolver: serve.NewResolver(a.store, a.layout, a.recorder),
		Hosts:    serve.NewHosts(cfg.HTTP.PublicDomain, a.store, a.redis, cfg.Redis.CacheTTL, a.recorder),
		Gatherer: a.registry,
		Logger:   g.Logger,
	})

	opts := daemon.Options{
		Config:     cfg,
		Projects:   a.store,
		Maintainer: a.orch,
		Queue:      queue,
		Server:     srv,
	}
	if !s.NoWatch {
		opts.ConfigPath = root.Config
	}
	d, err := daemon.New(opts)
	if err != nil {
		return err
	}

	slog.Info("Starting rtdbuild", slog.String("addr", cfg.HTTP.Addr), slog.Int("workers", cfg.Queue.Workers))
	errChan := make(chan error, 1)
	go func() {
		errChan <- d.Start(ctx)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("daemon error: %w", err)
		}
	case <-ctx.Done():
		slog.Info("Shutdown signal received, stopping daemon...")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := d.Stop(stopCtx); err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}
	slog.Info("Daemon stopped successfully")
	return nil
}
