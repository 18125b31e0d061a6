// Package daemon runs the long lived build service: the build queue, the
// HTTP surface, periodic maintenance and configuration reloads.
package daemon

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"git.home.luguber.info/inful/rtdbuild/internal/builders"
	"git.home.luguber.info/inful/rtdbuild/internal/config"
	"git.home.luguber.info/inful/rtdbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/rtdbuild/internal/lock"
	"git.home.luguber.info/inful/rtdbuild/internal/logfields"
	"git.home.luguber.info/inful/rtdbuild/internal/models"
	"git.home.luguber.info/inful/rtdbuild/internal/reconcile"
)

// Status represents the current state of the daemon
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
)

// Maintainer is the orchestration surface the daemon schedules.
type Maintainer interface {
	CleanupStale(ctx context.Context, olderThan time.Duration) ([]string, error)
	SyncVersions(ctx context.Context, slug string) (reconcile.Result, error)
	SetBuilders(r *builders.Registry)
	SetConfig(cfg *config.Config)
}

// ProjectLister lists the projects the version sync walks.
type ProjectLister interface {
	ListProjects(ctx context.Context) ([]*models.Project, error)
}

// Queue is the build queue lifecycle.
type Queue interface {
	Start(ctx context.Context)
	Stop(ctx context.Context)
	ConfigureRetry(rc config.RetryConfig)
}

// Server is a component started with the daemon, typically HTTP.
type Server interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Options wires a Daemon. ConfigPath enables reloads; Server is optional.
type Options struct {
	Config     *config.Config
	ConfigPath string
	Projects   ProjectLister
	Maintainer Maintainer
	Queue      Queue
	Server     Server
}

// Daemon represents the main daemon service
type Daemon struct {
	opts      Options
	status    atomic.Value
	startTime time.Time
	stopChan  chan struct{}
	mu        sync.RWMutex

	cfg       atomic.Pointer[config.Config]
	scheduler *Scheduler
	watcher   *config.Watcher
}

// New validates opts and prepares the scheduler.
func New(opts Options) (*Daemon, error) {
	if opts.Config == nil {
		return nil, errors.ConfigError("configuration is required").Build()
	}
	if opts.Maintainer == nil || opts.Queue == nil || opts.Projects == nil {
		return nil, errors.InternalError("daemon requires a maintainer, a queue and a project lister").Build()
	}
	s, err := NewScheduler()
	if err != nil {
		return nil, err
	}
	d := &Daemon{opts: opts, stopChan: make(chan struct{}), scheduler: s}
	d.cfg.Store(opts.Config)
	d.status.Store(StatusStopped)
	return d, nil
}

// Start starts every component and blocks until ctx ends or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.Status() != StatusStopped {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not in stopped state: %s", d.Status())
	}
	d.status.Store(StatusStarting)
	d.startTime = time.Now()
	cfg := d.cfg.Load()

	d.opts.Queue.ConfigureRetry(cfg.Queue.Retry)
	d.opts.Queue.Start(ctx)

	if err := d.schedule(ctx, cfg.Schedule); err != nil {
		d.status.Store(StatusError)
		d.mu.Unlock()
		return err
	}
	d.scheduler.Start()

	if d.opts.ConfigPath != "" {
		w, err := config.NewWatcher(d.opts.ConfigPath, d.reload)
		if err == nil {
			err = w.Start(ctx)
		}
		if err != nil {
			slog.Error("Failed to start config watcher", logfields.Error(err))
		} else {
			d.watcher = w
		}
	}

	if d.opts.Server != nil {
		if err := d.opts.Server.Start(ctx); err != nil {
			d.status.Store(StatusError)
			d.mu.Unlock()
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}

	d.status.Store(StatusRunning)
	slog.Info("rtdbuild daemon started",
		slog.Int("workers", cfg.Queue.Workers),
		slog.String("http_addr", cfg.HTTP.Addr),
		slog.String("lock_backend", cfg.Lock.Backend),
		slog.String("storage_backend", cfg.Storage.Backend))
	d.mu.Unlock()

	select {
	case <-ctx.Done():
		slog.Info("Daemon stopped by context cancellation")
	case <-d.stopChan:
		slog.Info("Daemon stopped by stop signal")
	}
	return nil
}

// Stop shuts the components down in reverse start order.
func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.Status() {
	case StatusStopped, StatusStopping:
		return nil
	}
	d.status.Store(StatusStopping)
	slog.Info("Stopping rtdbuild daemon")

	select {
	case <-d.stopChan:
	default:
		close(d.stopChan)
	}

	if d.opts.Server != nil {
		if err := d.opts.Server.Stop(ctx); err != nil {
			slog.Error("Failed to stop HTTP server", logfields.Error(err))
		}
	}
	if d.watcher != nil {
		d.watcher.Stop()
	}
	if err := d.scheduler.Stop(); err != nil {
		slog.Error("Failed to stop scheduler", logfields.Error(err))
	}
	d.opts.Queue.Stop(ctx)

	d.status.Store(StatusStopped)
	slog.Info("rtdbuild daemon stopped", slog.Duration("uptime", time.Since(d.startTime)))
	return nil
}

// Status returns the current daemon status
func (d *Daemon) Status() Status {
	status, ok := d.status.Load().(Status)
	if !ok {
		return StatusError
	}
	return status
}

// StartTime returns when the daemon last started.
func (d *Daemon) StartTime() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.startTime
}

// Config returns the configuration currently in effect.
func (d *Daemon) Config() *config.Config { return d.cfg.Load() }

func (d *Daemon) schedule(ctx context.Context, sc config.ScheduleConfig) error {
	if sc.StaleBuildCleanup > 0 {
		if _, err := d.scheduler.Every(ctx, "stale-build-cleanup", sc.StaleBuildCleanup, d.cleanupStale); err != nil {
			return err
		}
	}
	if sc.VersionSync > 0 {
		if _, err := d.scheduler.Every(ctx, "version-sync", sc.VersionSync, d.syncAllVersions); err != nil {
			return err
		}
	}
	return nil
}

func (d *Daemon) cleanupStale(ctx context.Context) error {
	closed, err := d.opts.Maintainer.CleanupStale(ctx, d.cfg.Load().Schedule.StaleAfter)
	if err != nil {
		return err
	}
	if len(closed) > 0 {
		slog.Info("Stale builds closed", slog.Int("count", len(closed)))
	}
	return nil
}

// syncAllVersions reconciles every project's versions. Projects whose lock
// is held are skipped until the next run since a build is syncing them.
// Other failures are collected and the remaining projects still sync.
func (d *Daemon) syncAllVersions(ctx context.Context) error {
	projects, err := d.opts.Projects.ListProjects(ctx)
	if err != nil {
		return fmt.Errorf("list projects: %w", err)
	}
	var failed []error
	for _, p := range projects {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if p.Skip {
			continue
		}
		_, err := d.opts.Maintainer.SyncVersions(ctx, p.Slug)
		switch {
		case err == nil:
		case lock.IsTimeout(err):
			slog.Debug("Version sync skipped, project busy", logfields.Project(p.Slug))
		default:
			slog.Warn("Version sync failed", logfields.Project(p.Slug), logfields.Error(err))
			failed = append(failed, fmt.Errorf("%s: %w", p.Slug, err))
		}
	}
	return stderrors.Join(failed...)
}

// reload applies a changed configuration file. Builder, search and format
// settings take effect for the next build; retry settings for the next
// retry. Changed sections read only at startup are logged.
func (d *Daemon) reload(_ context.Context, cfg *config.Config) error {
	registry, err := builders.FromConfig(cfg.Builders)
	if err != nil {
		return err
	}
	if keys := config.RestartRequired(d.cfg.Load(), cfg); len(keys) > 0 {
		slog.Warn("Configuration changes need a restart", slog.Any("keys", keys))
	}
	d.opts.Maintainer.SetBuilders(registry)
	d.opts.Maintainer.SetConfig(cfg)
	d.opts.Queue.ConfigureRetry(cfg.Queue.Retry)
	d.cfg.Store(cfg)
	slog.Info("Configuration reloaded", slog.Int("builder_types", len(registry.Types())))
	return nil
}
