package orchestrator

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/rtdbuild/internal/config"
	"git.home.luguber.info/inful/rtdbuild/internal/lock"
	"git.home.luguber.info/inful/rtdbuild/internal/logfields"
	"git.home.luguber.info/inful/rtdbuild/internal/metrics"
	"git.home.luguber.info/inful/rtdbuild/internal/models"
	"git.home.luguber.info/inful/rtdbuild/internal/retry"
)

// JobStatus is the queue-side state of a build request.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobRetrying  JobStatus = "retrying"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// ErrQueueFull is returned by Enqueue when the queue has no free slot.
var ErrQueueFull = stdErrors.New("build queue is full")

// ErrQueueStopped is returned by Enqueue after Stop.
var ErrQueueStopped = stdErrors.New("build queue is stopped")

// Job is one queued build request.
type Job struct {
	ID          string        `json:"id"`
	Request     Request       `json:"request"`
	Status      JobStatus     `json:"status"`
	Attempt     int           `json:"attempt"`
	CreatedAt   time.Time     `json:"created_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
	Success     bool          `json:"success"`
	Error       string        `json:"error,omitempty"`
}

type retryEntry struct {
	job   *Job
	timer *time.Timer
}

// Task executes one build request.
type Task interface {
	UpdateDocs(ctx context.Context, req Request) (*models.Build, error)
}

// Queue runs build requests on a fixed pool of workers. A request that
// hits lock contention is put back after the retry policy's delay instead
// of blocking a worker.
type Queue struct {
	jobs        chan *Job
	workers     int
	maxSize     int
	mu          sync.RWMutex
	active      map[string]*Job
	pending     map[string]*retryEntry
	history     []*Job
	historySize int
	stopChan    chan struct{}
	stopped     bool
	wg          sync.WaitGroup
	task        Task

	retryPolicy retry.Policy
	recorder    metrics.Recorder
}

// NewQueue creates a queue with the given capacity and worker count.
func NewQueue(maxSize, workers int, task Task) *Queue {
	if maxSize <= 0 {
		maxSize = 100
	}
	if workers <= 0 {
		workers = 2
	}
	if task == nil {
		panic("NewQueue: task is required")
	}
	return &Queue{
		jobs:        make(chan *Job, maxSize),
		workers:     workers,
		maxSize:     maxSize,
		active:      make(map[string]*Job),
		pending:     make(map[string]*retryEntry),
		historySize: 50,
		stopChan:    make(chan struct{}),
		task:        task,
		retryPolicy: retry.DefaultPolicy(),
		recorder:    metrics.NoopRecorder{},
	}
}

// ConfigureRetry sets the re-enqueue policy for lock contention.
func (q *Queue) ConfigureRetry(cfg config.RetryConfig) {
	policy := retry.FromConfig(cfg)
	q.mu.Lock()
	q.retryPolicy = policy
	q.mu.Unlock()
}

func (q *Queue) policy() retry.Policy {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.retryPolicy
}

// SetRecorder injects a metrics recorder for queue depth.
func (q *Queue) SetRecorder(r metrics.Recorder) {
	if r == nil {
		r = metrics.NoopRecorder{}
	}
	q.recorder = r
}

// Start launches the workers.
func (q *Queue) Start(ctx context.Context) {
	slog.Info("Starting build queue", slog.Int("workers", q.workers), slog.Int("max_size", q.maxSize))
	for i := range q.workers {
		q.wg.Add(1)
		go q.worker(ctx, fmt.Sprintf("worker-%d", i))
	}
}

// Stop stops the workers and drops pending retries. Running builds finish.
func (q *Queue) Stop(_ context.Context) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	for id, e := range q.pending {
		e.timer.Stop()
		delete(q.pending, id)
	}
	close(q.stopChan)
	q.mu.Unlock()

	q.wg.Wait()
}

// Length returns the number of jobs waiting for a worker.
func (q *Queue) Length() int {
	return len(q.jobs)
}

// Active returns copies of the running jobs.
func (q *Queue) Active() []*Job {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]*Job, 0, len(q.active))
	for _, j := range q.active {
		cp := *j
		out = append(out, &cp)
	}
	return out
}

// Enqueue queues req and returns its job. The build ID is assigned here so
// callers can poll the Build record right away.
func (q *Queue) Enqueue(req Request) (*Job, error) {
	if req.Project == "" {
		return nil, stdErrors.New("project is required")
	}
	if req.BuildID == "" {
		req.BuildID = uuid.NewString()
	}
	job := &Job{ID: uuid.NewString(), Request: req, Status: JobQueued, CreatedAt: time.Now()}
	if err := q.push(job); err != nil {
		return nil, err
	}
	slog.Info("Build queued", logfields.JobID(job.ID), logfields.Project(req.Project), logfields.Version(req.Version))
	cp := *job
	return &cp, nil
}

func (q *Queue) push(job *Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.stopped {
		return ErrQueueStopped
	}
	select {
	case q.jobs <- job:
		q.recorder.SetQueueDepth(len(q.jobs))
		return nil
	default:
		return ErrQueueFull
	}
}

// JobSnapshot returns a copy of a job (active, then pending retry, then
// history).
func (q *Queue) JobSnapshot(id string) (*Job, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if j, ok := q.active[id]; ok {
		cp := *j
		return &cp, true
	}
	if e, ok := q.pending[id]; ok {
		cp := *e.job
		return &cp, true
	}
	for i := len(q.history) - 1; i >= 0; i-- {
		if j := q.history[i]; j.ID == id {
			cp := *j
			return &cp, true
		}
	}
	return nil, false
}

func (q *Queue) worker(ctx context.Context, workerID string) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopChan:
			return
		case job := <-q.jobs:
			if job != nil {
				q.recorder.SetQueueDepth(len(q.jobs))
				q.processJob(ctx, job, workerID)
			}
		}
	}
}

func (q *Queue) processJob(ctx context.Context, job *Job, workerID string) {
	start := time.Now()
	q.mu.Lock()
	job.StartedAt = &start
	job.Status = JobRunning
	job.Attempt++
	q.active[job.ID] = job
	q.mu.Unlock()

	slog.Debug("Build job picked up", logfields.JobID(job.ID), logfields.Worker(workerID), slog.Int("attempt", job.Attempt))
	b, err := q.task.UpdateDocs(ctx, job.Request)

	if err != nil && lock.IsTimeout(err) {
		if delay, ok := q.policy().Next(job.Attempt); ok {
			q.scheduleRetry(job, delay)
			return
		}
	}
	q.markJobCompleted(job, b, err)
}

// scheduleRetry puts job back on the queue after the policy delay.
func (q *Queue) scheduleRetry(job *Job, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.active, job.ID)
	if q.stopped {
		return
	}
	job.Status = JobRetrying
	slog.Warn("Project locked, retrying build later",
		logfields.JobID(job.ID),
		logfields.Project(job.Request.Project),
		slog.Int("attempt", job.Attempt),
		slog.Int("max_retries", q.retryPolicy.MaxRetries),
		slog.Duration("delay", delay))
	q.pending[job.ID] = &retryEntry{job: job, timer: time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.pending, job.ID)
		job.Status = JobQueued
		q.mu.Unlock()
		if err := q.push(job); err != nil {
			q.markJobCompleted(job, nil, err)
		}
	})}
}

func (q *Queue) markJobCompleted(job *Job, b *models.Build, err error) {
	end := time.Now()
	q.mu.Lock()
	defer q.mu.Unlock()
	job.CompletedAt = &end
	if job.StartedAt != nil {
		job.Duration = end.Sub(*job.StartedAt)
	}
	delete(q.active, job.ID)
	switch {
	case err != nil:
		job.Status = JobFailed
		job.Error = err.Error()
	case b != nil && !b.Success:
		job.Status = JobFailed
		job.Error = b.Error
	default:
		job.Status = JobCompleted
		job.Success = b != nil
	}
	q.addToHistory(job)
}

func (q *Queue) addToHistory(job *Job) {
	q.history = append(q.history, job)
	if len(q.history) > q.historySize {
		copy(q.history, q.history[len(q.history)-q.historySize:])
		q.history = q.history[:q.historySize]
	}
}
