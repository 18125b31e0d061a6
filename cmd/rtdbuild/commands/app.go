package commands

import (
	"context"
	stderrors "errors"
	"log/slog"

	prom "github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"git.home.luguber.info/inful/rtdbuild/internal/builders"
	"git.home.luguber.info/inful/rtdbuild/internal/config"
	"git.home.luguber.info/inful/rtdbuild/internal/events"
	"git.home.luguber.info/inful/rtdbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/rtdbuild/internal/lock"
	"git.home.luguber.info/inful/rtdbuild/internal/logfields"
	"git.home.luguber.info/inful/rtdbuild/internal/metrics"
	"git.home.luguber.info/inful/rtdbuild/internal/orchestrator"
	"git.home.luguber.info/inful/rtdbuild/internal/runner"
	"git.home.luguber.info/inful/rtdbuild/internal/store"
	"git.home.luguber.info/inful/rtdbuild/internal/syncer"
	"git.home.luguber.info/inful/rtdbuild/internal/workspace"
)

// app holds the collaborators shared by every command. close releases
// them in reverse order of creation.
type app struct {
	cfg      *config.Config
	store    *store.Store
	redis    *goredis.Client
	registry *prom.Registry
	recorder metrics.Recorder
	layout   workspace.Layout
	orch     *orchestrator.Orchestrator
	closers  []func() error
}

// newApp opens the store and wires the orchestrator. withMetrics
// registers Prometheus collectors; one-shot commands skip them.
func newApp(ctx context.Context, cfg *config.Config, withMetrics bool) (*app, error) {
	a := &app{cfg: cfg, recorder: metrics.NoopRecorder{}, layout: workspace.NewLayout(cfg.Paths)}
	fail := func(err error) (*app, error) {
		a.close()
		return nil, err
	}

	if withMetrics {
		a.registry = prom.NewRegistry()
		a.recorder = metrics.NewPrometheusRecorder(a.registry)
	}

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	a.store = st
	a.closers = append(a.closers, a.store.Close)

	if cfg.Redis.Addr != "" {
		a.redis = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, a.redis.Close)
		if perr := a.redis.Ping(ctx).Err(); perr != nil {
			slog.Warn("Redis is not reachable; continuing", logfields.Error(perr))
		}
	}

	locker, err := lock.New(cfg.Lock, a.redis, a.recorder)
	if err != nil {
		return fail(err)
	}

	artifacts, err := syncer.New(ctx, cfg.Storage, a.layout)
	if err != nil {
		return fail(err)
	}

	var publisher events.Publisher = events.Noop{}
	if cfg.NATS.URL != "" {
		n, nerr := events.Connect(ctx, cfg.NATS)
		if nerr != nil {
			return fail(nerr)
		}
		publisher = n
		a.closers = append(a.closers, n.Close)
	}

	var buildRunner runner.Runner
	if cfg.Docker.Enabled {
		d, derr := runner.NewDocker(cfg.Docker.Image, cfg.Paths.CheckoutRoot, cfg.Docker.Timeout)
		if derr != nil {
			return fail(errors.WrapError(derr, errors.CategoryConfig, "failed to set up the docker build runner").Build())
		}
		buildRunner = d
		a.closers = append(a.closers, d.Close)
	}

	registry, err := builders.FromConfig(cfg.Builders)
	if err != nil {
		return fail(err)
	}

	a.orch, err = orchestrator.New(orchestrator.Deps{
		Config:      cfg,
		Store:       a.store,
		Builders:    registry,
		Locker:      locker,
		Syncer:      artifacts,
		Events:      publisher,
		Runner:      runner.NewLocal(),
		BuildRunner: buildRunner,
		Metrics:     a.recorder,
	})
	if err != nil {
		return fail(err)
	}
	return a, nil
}

func (a *app) close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if err := stderrors.Join(errs...); err != nil {
		slog.Warn("Failed to release resources", logfields.Error(err))
	}
}
