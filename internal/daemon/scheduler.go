package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"git.home.luguber.info/inful/rtdbuild/internal/logfields"
)

// MaintenanceFunc is a periodic job such as stale build cleanup or
// version sync. A returned error is logged; the job keeps its schedule.
type MaintenanceFunc func(context.Context) error

// Scheduler runs maintenance jobs on fixed intervals.
type Scheduler struct {
	cron gocron.Scheduler
}

func NewScheduler() (*Scheduler, error) {
	cron, err := gocron.NewScheduler(gocron.WithGlobalJobOptions(
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithEventListeners(
			gocron.AfterJobRunsWithError(func(_ uuid.UUID, name string, err error) {
				slog.Warn("Maintenance job failed", logfields.ScheduleName(name), logfields.Error(err))
			}),
			gocron.AfterJobRunsWithPanic(func(_ uuid.UUID, name string, recovered any) {
				slog.Error("Maintenance job panicked", logfields.ScheduleName(name), slog.Any("panic", recovered))
			}),
		),
	))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Scheduler{cron: cron}, nil
}

func (s *Scheduler) Start() {
	slog.Info("Starting scheduler", slog.Int("jobs", len(s.cron.Jobs())))
	s.cron.Start()
}

// Stop waits for running jobs to return.
func (s *Scheduler) Stop() error {
	return s.cron.Shutdown()
}

// Every runs fn each interval with ctx. A run still going when the next is
// due pushes it back instead of overlapping.
func (s *Scheduler) Every(ctx context.Context, name string, interval time.Duration, fn MaintenanceFunc) (string, error) {
	job, err := s.cron.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() error {
			start := time.Now()
			err := fn(ctx)
			slog.Debug("Maintenance job ran", logfields.ScheduleName(name),
				logfields.DurationMS(float64(time.Since(start).Milliseconds())))
			return err
		}),
		gocron.WithName(name),
	)
	if err != nil {
		return "", fmt.Errorf("schedule %s every %s: %w", name, interval, err)
	}
	slog.Info("Scheduled maintenance job", logfields.ScheduleName(name), slog.Duration("interval", interval))
	return job.ID().String(), nil
}
