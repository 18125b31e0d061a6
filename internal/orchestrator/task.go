// Package orchestrator runs documentation builds: it checks out a project
// version under the project's lock, reconciles the stored versions with
// the repository, sets up the build environment, runs the builders and
// publishes what they produce.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/rtdbuild/internal/builders"
	"git.home.luguber.info/inful/rtdbuild/internal/config"
	"git.home.luguber.info/inful/rtdbuild/internal/events"
	"git.home.luguber.info/inful/rtdbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/rtdbuild/internal/lock"
	"git.home.luguber.info/inful/rtdbuild/internal/logfields"
	"git.home.luguber.info/inful/rtdbuild/internal/metrics"
	"git.home.luguber.info/inful/rtdbuild/internal/models"
	"git.home.luguber.info/inful/rtdbuild/internal/reconcile"
	"git.home.luguber.info/inful/rtdbuild/internal/runner"
	"git.home.luguber.info/inful/rtdbuild/internal/syncer"
	"git.home.luguber.info/inful/rtdbuild/internal/vcs"
	"git.home.luguber.info/inful/rtdbuild/internal/versioning"
	"git.home.luguber.info/inful/rtdbuild/internal/workspace"
)

// Store is the persistence the orchestrator needs.
type Store interface {
	reconcile.VersionStore
	GetProjectBySlug(ctx context.Context, slug string) (*models.Project, error)
	FindProjectsByRepo(ctx context.Context, fragment string) ([]*models.Project, error)
	ListTranslations(ctx context.Context, parentSlug string) ([]*models.Project, error)
	GetVersionBySlug(ctx context.Context, projectID int64, slug string) (*models.Version, error)
	VersionsForBranch(ctx context.Context, projectID int64, branch string) ([]*models.Version, error)
	CreateBuild(ctx context.Context, b *models.Build) error
	UpdateBuild(ctx context.Context, b *models.Build) error
	GetBuild(ctx context.Context, id string) (*models.Build, error)
	ListUnfinishedBuilds(ctx context.Context, cutoff time.Time) ([]*models.Build, error)
	AppendBuildEvent(ctx context.Context, buildID string, state models.BuildState, message string) error
}

// Deps are the collaborators of an Orchestrator. Runner executes VCS
// commands; BuildRunner, when set, executes environment and builder
// commands.
type Deps struct {
	Config      *config.Config
	Store       Store
	VCS         *vcs.Registry
	Builders    *builders.Registry
	Locker      lock.Locker
	Syncer      syncer.Syncer
	Events      events.Publisher
	Runner      runner.Runner
	BuildRunner runner.Runner
	Metrics     metrics.Recorder
}

// Orchestrator runs builds. It is safe for concurrent use; builds of the
// same project serialize on the project lock.
type Orchestrator struct {
	cfg         atomic.Pointer[config.Config]
	store       Store
	vcs         *vcs.Registry
	builders    atomic.Pointer[builders.Registry]
	locker      lock.Locker
	syncer      syncer.Syncer
	events      events.Publisher
	runner      runner.Runner
	buildRunner runner.Runner
	layout      workspace.Layout
	reconciler  *reconcile.Reconciler
	recorder    metrics.Recorder
	hostname    string
	now         func() time.Time
}

// New wires an Orchestrator. Missing optional collaborators get local or
// no-op defaults.
func New(d Deps) (*Orchestrator, error) {
	if d.Store == nil {
		return nil, errors.ConfigError("orchestrator requires a store").Build()
	}
	if d.Config == nil {
		d.Config = config.Default()
	}
	if d.VCS == nil {
		d.VCS = vcs.NewRegistry()
	}
	if d.Builders == nil {
		reg, err := builders.FromConfig(d.Config.Builders)
		if err != nil {
			return nil, err
		}
		d.Builders = reg
	}
	if d.Metrics == nil {
		d.Metrics = metrics.NoopRecorder{}
	}
	if d.Locker == nil {
		opts := lock.OptionsFromConfig(d.Config.Lock)
		opts.Metrics = d.Metrics
		d.Locker = lock.NewLocal(opts)
	}
	layout := workspace.NewLayout(d.Config.Paths)
	if d.Syncer == nil {
		d.Syncer = syncer.NewLocal(syncer.RootsFor(layout), "")
	}
	if d.Events == nil {
		d.Events = events.Noop{}
	}
	if d.Runner == nil {
		d.Runner = runner.NewLocal()
	}
	if d.BuildRunner == nil {
		d.BuildRunner = d.Runner
	}
	host, _ := os.Hostname()

	o := &Orchestrator{
		store:       d.Store,
		vcs:         d.VCS,
		locker:      d.Locker,
		syncer:      d.Syncer,
		events:      d.Events,
		runner:      d.Runner,
		buildRunner: d.BuildRunner,
		layout:      layout,
		reconciler:  reconcile.New(d.Store),
		recorder:    d.Metrics,
		hostname:    host,
		now:         time.Now,
	}
	o.cfg.Store(d.Config)
	o.builders.Store(d.Builders)
	return o, nil
}

// SetConfig swaps the configuration read by builds. Search, format and
// package settings apply from the next build. The layout, locker and
// syncer keep the values they were wired with.
func (o *Orchestrator) SetConfig(cfg *config.Config) {
	if cfg != nil {
		o.cfg.Store(cfg)
	}
}

// Config returns the configuration builds currently read.
func (o *Orchestrator) Config() *config.Config { return o.cfg.Load() }

// SetBuilders swaps the builder registry. Builds already running keep the
// registry they started with.
func (o *Orchestrator) SetBuilders(r *builders.Registry) {
	if r != nil {
		o.builders.Store(r)
	}
}

// Builders returns the current builder registry.
func (o *Orchestrator) Builders() *builders.Registry { return o.builders.Load() }

// Request asks for one (project, version) build. An empty Version builds
// latest. BuildID is kept across retries so a re-enqueued request updates
// the same Build record.
type Request struct {
	Project string `json:"project"`
	Version string `json:"version,omitempty"`
	Force   bool   `json:"force,omitempty"`
	BuildID string `json:"build_id,omitempty"`
}

// buildRun carries the state of one UpdateDocs call.
type buildRun struct {
	project *models.Project
	version *models.Version
	build   *models.Build
	started time.Time
	outcome string
}

// UpdateDocs runs one build to completion. Builder failures are recorded
// on the returned Build and are not errors. Errors are returned for a
// failed import, for lock contention (retryable, see lock.IsTimeout) and
// for infrastructure failures.
func (o *Orchestrator) UpdateDocs(ctx context.Context, req Request) (*models.Build, error) {
	p, err := o.store.GetProjectBySlug(ctx, req.Project)
	if err != nil {
		return nil, err
	}
	if p.Skip {
		slog.Info("Skipping build of skipped project", logfields.Project(p.Slug))
		return nil, nil
	}
	v, err := o.resolveVersion(ctx, p, req.Version)
	if err != nil {
		return nil, err
	}
	b, err := o.startBuild(ctx, req, p, v)
	if err != nil {
		return nil, err
	}
	run := &buildRun{project: p, version: v, build: b, started: o.now()}
	slog.Info("Build started",
		logfields.BuildID(b.ID),
		logfields.Project(p.Slug),
		logfields.Version(v.Slug),
		logfields.DocType(p.DocumentationType),
		slog.Bool("force", req.Force))

	key := lock.Key(p.Slug)
	lease, err := o.locker.Acquire(ctx, key)
	if err != nil {
		if lock.IsTimeout(err) {
			b.ExitCode = models.ExitLockContention
			b.Error = "A build for this project is already running. This build will be retried."
			run.outcome = "lock_contention"
		} else {
			b.Error = err.Error()
			run.outcome = "failed"
		}
		o.finish(ctx, run)
		return b, err
	}
	defer func() {
		if rerr := lease.Release(context.WithoutCancel(ctx)); rerr != nil {
			slog.Warn("Failed to release project lock", logfields.LockKey(key), logfields.Error(rerr))
		}
	}()

	backend, err := o.checkout(ctx, run)
	if err != nil {
		if vcs.IsImportFailure(err) {
			b.ExitCode = models.ExitImportFailed
			run.outcome = "import_failed"
		} else {
			run.outcome = "failed"
		}
		b.Error = err.Error()
		o.finish(ctx, run)
		return b, err
	}
	b.Commit = backend.Commit(ctx)

	env, err := o.env(ctx, run)
	if err != nil {
		b.Error = err.Error()
		run.outcome = "failed"
		o.finish(ctx, run)
		return b, err
	}

	o.transition(ctx, run, models.BuildInstalling, "")
	setup := builders.SetupEnvironment(ctx, env, o.cfg.Load().Builders.Packages)
	b.Setup = setup.Stdout
	if !setup.OK() {
		b.SetupError = setup.Stderr
		b.ExitCode = setup.ExitCode
		b.Error = "Environment setup failed"
		run.outcome = "failed"
		o.finish(ctx, run)
		return b, nil
	}

	o.transition(ctx, run, models.BuildBuilding, p.DocumentationType)
	registry := o.Builders()
	builder, err := registry.New(p.DocumentationType, env)
	if err != nil {
		b.Error = err.Error()
		b.ExitCode = 1
		run.outcome = "failed"
		o.finish(ctx, run)
		return b, nil
	}
	b.Builder = builder.Type()
	out, moveErr := builders.Run(ctx, builder, o.recorder)
	b.Output = out.Stdout
	b.Error = out.Stderr
	b.ExitCode = out.ExitCode
	b.Success = out.OK() && moveErr == nil
	if moveErr != nil {
		b.Error = joinLines(b.Error, "Failed to publish build output: "+moveErr.Error())
		if b.ExitCode == 0 {
			b.ExitCode = 1
		}
	}

	if b.Success {
		o.secondaryBuilds(ctx, run, registry, env)
		o.finishBuild(ctx, run)
		run.outcome = "success"
	} else {
		run.outcome = "failed"
	}
	o.finish(ctx, run)
	return b, nil
}

// resolveVersion loads the requested version. A missing latest is created
// on the fly so a freshly imported project can build.
func (o *Orchestrator) resolveVersion(ctx context.Context, p *models.Project, slugName string) (*models.Version, error) {
	if slugName == "" {
		slugName = models.LatestSlug
	}
	v, err := o.store.GetVersionBySlug(ctx, p.ID, slugName)
	if err == nil || slugName != models.LatestSlug || !errors.HasCategory(err, errors.CategoryNotFound) {
		return v, err
	}
	v, err = o.reconciler.EnsureLatest(ctx, p, p.DefaultBranch)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return o.store.GetVersionBySlug(ctx, p.ID, slugName)
	}
	return v, nil
}

// startBuild reuses the Build of a retried request or creates a new one.
func (o *Orchestrator) startBuild(ctx context.Context, req Request, p *models.Project, v *models.Version) (*models.Build, error) {
	if req.BuildID != "" {
		if b, err := o.store.GetBuild(ctx, req.BuildID); err == nil {
			*b = models.Build{
				ID:        b.ID,
				ProjectID: b.ProjectID,
				VersionID: b.VersionID,
				Type:      b.Type,
				State:     models.BuildTriggered,
				Builder:   o.hostname,
				Date:      o.now(),
			}
			if err := o.store.UpdateBuild(ctx, b); err != nil {
				return nil, err
			}
			o.event(ctx, b, models.BuildTriggered, "retry")
			return b, nil
		}
	}
	id := req.BuildID
	if id == "" {
		id = uuid.NewString()
	}
	b := &models.Build{
		ID:        id,
		ProjectID: p.ID,
		VersionID: v.ID,
		Type:      "html",
		State:     models.BuildTriggered,
		Builder:   o.hostname,
		Date:      o.now(),
	}
	if err := o.store.CreateBuild(ctx, b); err != nil {
		return nil, err
	}
	o.event(ctx, b, models.BuildTriggered, "")
	return b, nil
}

// checkout updates the working copy, reconciles versions and checks out
// the identifier of the version being built.
func (o *Orchestrator) checkout(ctx context.Context, run *buildRun) (vcs.Backend, error) {
	p := run.project
	o.transition(ctx, run, models.BuildCloning, p.RepoURL)

	dir, err := o.layout.PrepareCheckout(p.Slug, run.version.Slug)
	if err != nil {
		return nil, errors.FileSystemError("failed to prepare checkout").
			WithCause(err).
			WithContext("project", p.Slug).
			Build()
	}
	backend, err := o.backend(p, dir)
	if err != nil {
		return nil, err
	}
	if err := backend.Update(ctx); err != nil {
		return nil, err
	}

	if _, err := o.reconcileVersions(ctx, p, backend, false); err != nil {
		return nil, err
	}
	v, err := o.store.GetVersionBySlug(ctx, p.ID, run.version.Slug)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryNotFound, "version disappeared during reconciliation").
			WithContext("version", run.version.Slug).
			Build()
	}
	run.version = v

	if err := backend.Checkout(ctx, v.Identifier); err != nil {
		return nil, err
	}
	return backend, nil
}

// backend constructs the VCS backend of p working in dir. An unknown
// repository type is a validation error.
func (o *Orchestrator) backend(p *models.Project, dir string) (vcs.Backend, error) {
	backend, ok := o.vcs.New(p.RepoType, vcs.Options{
		Runner:        o.runner,
		WorkingDir:    dir,
		RepoURL:       p.RepoURL,
		DefaultBranch: p.DefaultBranch,
		Metrics:       o.recorder,
	})
	if !ok {
		return nil, errors.ValidationError(fmt.Sprintf("no version control backend for repository type %q", p.RepoType)).
			WithContext("repo_type", string(p.RepoType)).
			Build()
	}
	return backend, nil
}

// reconcileVersions syncs tags and branches and keeps latest on the
// default branch. Unless strict, a listing failure is logged and skips
// the sync.
func (o *Orchestrator) reconcileVersions(ctx context.Context, p *models.Project, backend vcs.Backend, strict bool) (reconcile.Result, error) {
	var (
		res            reconcile.Result
		tags, branches []vcs.Version
		err            error
	)
	if backend.SupportsTags() {
		tags, err = backend.Tags(ctx)
	}
	if err == nil && backend.SupportsBranches() {
		branches, err = backend.Branches(ctx)
	}
	switch {
	case err != nil && strict:
		return res, err
	case err != nil:
		slog.Warn("Skipping version sync", logfields.Project(p.Slug), logfields.Error(err))
	default:
		if res, err = o.reconciler.Sync(ctx, p, tags, branches); err != nil {
			return res, err
		}
		if len(res.Added)+len(res.Deleted) > 0 {
			slog.Info("Versions synced", logfields.Project(p.Slug),
				slog.Any("added", res.Added), slog.Any("deleted", res.Deleted))
		}
	}

	latest := p.DefaultBranch
	if latest == "" {
		latest = backend.FallbackBranch()
	}
	_, err = o.reconciler.EnsureLatest(ctx, p, latest)
	return res, err
}

// env assembles the builder environment for the checked out version.
func (o *Orchestrator) env(ctx context.Context, run *buildRun) (builders.Env, error) {
	p, v := run.project, run.version
	all, err := o.store.ListVersions(ctx, p.ID)
	if err != nil {
		return builders.Env{}, err
	}
	active := make([]*models.Version, 0, len(all))
	for _, cand := range all {
		if cand.Active {
			active = append(active, cand)
		}
	}
	return builders.Env{
		Project:  p,
		Version:  v,
		Checkout: o.layout.Checkout(p.Slug, v.Slug),
		Layout:   o.layout,
		Runner:   o.buildRunner,
		Settings: builders.SettingsFor(o.cfg.Load(), p.Slug),
		Versions: versioning.Window(active, versioning.PolicyFor(p)),
		Commit:   run.build.Commit,
	}, nil
}

// transition moves the build to state and records the event.
func (o *Orchestrator) transition(ctx context.Context, run *buildRun, state models.BuildState, msg string) {
	b := run.build
	b.State = state
	if err := o.store.UpdateBuild(ctx, b); err != nil {
		slog.Error("Failed to record build state", logfields.BuildID(b.ID), logfields.BuildState(string(state)), logfields.Error(err))
	}
	o.event(ctx, b, state, msg)
	slog.Info("Build state changed",
		logfields.BuildID(b.ID),
		logfields.Project(run.project.Slug),
		logfields.BuildState(string(state)))
}

func (o *Orchestrator) event(ctx context.Context, b *models.Build, state models.BuildState, msg string) {
	if err := o.store.AppendBuildEvent(ctx, b.ID, state, msg); err != nil {
		slog.Warn("Failed to append build event", logfields.BuildID(b.ID), logfields.Error(err))
	}
}

// finish records the terminal state, metrics and the notification.
func (o *Orchestrator) finish(ctx context.Context, run *buildRun) {
	b, p := run.build, run.project
	b.State = models.BuildFinished
	b.Length = o.now().Sub(run.started)
	// The record must land even when the build context was cancelled.
	ctx = context.WithoutCancel(ctx)
	if err := o.store.UpdateBuild(ctx, b); err != nil {
		slog.Error("Failed to record build result", logfields.BuildID(b.ID), logfields.Error(err))
	}
	o.event(ctx, b, models.BuildFinished, run.outcome)

	o.recorder.ObserveBuildDuration(p.DocumentationType, b.Length)
	o.recorder.IncBuildOutcome(run.outcome)

	level := slog.LevelInfo
	if !b.Success {
		level = slog.LevelWarn
	}
	slog.Log(ctx, level, "Build finished",
		logfields.BuildID(b.ID),
		logfields.Project(p.Slug),
		logfields.Version(run.version.Slug),
		logfields.ExitCode(b.ExitCode),
		slog.String("outcome", run.outcome),
		logfields.DurationMS(float64(b.Length.Milliseconds())))

	if b.ExitCode == models.ExitLockContention {
		return
	}
	n := events.NotificationFor(b, p.Slug, run.version.Slug)
	if err := o.events.BuildFinished(ctx, n); err != nil {
		slog.Warn("Failed to publish build notification", logfields.BuildID(b.ID), logfields.Error(err))
	}
}

func joinLines(a, b string) string {
	a = strings.TrimRight(a, "\n")
	if a == "" {
		return b
	}
	return a + "\n" + b
}
