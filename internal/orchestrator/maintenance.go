package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/rtdbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/rtdbuild/internal/lock"
	"git.home.luguber.info/inful/rtdbuild/internal/logfields"
	"git.home.luguber.info/inful/rtdbuild/internal/models"
	"git.home.luguber.info/inful/rtdbuild/internal/reconcile"
)

// staleMessage is recorded on builds whose worker disappeared.
const staleMessage = "Build did not finish in time. The worker was likely killed."

// CleanupStale finishes builds started more than olderThan ago that never
// reached the finished state. It returns the IDs it closed.
func (o *Orchestrator) CleanupStale(ctx context.Context, olderThan time.Duration) ([]string, error) {
	builds, err := o.store.ListUnfinishedBuilds(ctx, o.now().Add(-olderThan))
	if err != nil {
		return nil, err
	}
	closed := make([]string, 0, len(builds))
	for _, b := range builds {
		prev := b.State
		b.State = models.BuildFinished
		b.Success = false
		b.ExitCode = models.ExitStale
		b.Error = joinLines(b.Error, staleMessage)
		if b.Length == 0 {
			b.Length = o.now().Sub(b.Date)
		}
		if err := o.store.UpdateBuild(ctx, b); err != nil {
			return closed, err
		}
		o.event(ctx, b, models.BuildFinished, fmt.Sprintf("stale in state %s", prev))
		o.recorder.IncBuildOutcome("stale")
		closed = append(closed, b.ID)
		slog.Warn("Closed stale build", logfields.BuildID(b.ID), logfields.BuildState(string(prev)))
	}
	return closed, nil
}

// SyncVersions updates a project's checkout and reconciles its versions
// without building. It runs under the project lock.
func (o *Orchestrator) SyncVersions(ctx context.Context, slugName string) (reconcile.Result, error) {
	var res reconcile.Result
	p, err := o.store.GetProjectBySlug(ctx, slugName)
	if err != nil {
		return res, err
	}
	key := lock.Key(p.Slug)
	lease, err := o.locker.Acquire(ctx, key)
	if err != nil {
		return res, err
	}
	defer func() {
		if rerr := lease.Release(context.WithoutCancel(ctx)); rerr != nil {
			slog.Warn("Failed to release project lock", logfields.LockKey(key), logfields.Error(rerr))
		}
	}()

	dir, err := o.layout.PrepareCheckout(p.Slug, models.LatestSlug)
	if err != nil {
		return res, errors.FileSystemError("failed to prepare checkout").WithCause(err).Build()
	}
	backend, err := o.backend(p, dir)
	if err != nil {
		return res, err
	}
	if err := backend.Update(ctx); err != nil {
		return res, err
	}
	if res, err = o.reconcileVersions(ctx, p, backend, true); err != nil {
		return res, err
	}
	slog.Info("Versions synced", logfields.Project(p.Slug),
		slog.Any("added", res.Added), slog.Any("deleted", res.Deleted), slog.String("stable", res.Stable))
	return res, nil
}
