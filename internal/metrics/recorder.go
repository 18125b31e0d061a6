package metrics

import "time"

// ResultLabel enumerates stage result categories for counters.
type ResultLabel string

const (
	ResultSuccess ResultLabel = "success"
	ResultFailed  ResultLabel = "failed"
	ResultSkipped ResultLabel = "skipped"
)

// Recorder defines observability hooks for builds, VCS commands, locks and
// serving. NoopRecorder is the default so callers never nil-check.
type Recorder interface {
	ObserveStageDuration(builder, stage string, d time.Duration)
	IncStageResult(builder, stage string, result ResultLabel)
	ObserveBuildDuration(docType string, d time.Duration)
	IncBuildOutcome(outcome string) // success|failed|import_failed|lock_contention
	ObserveVCSCommand(repoType, op string, d time.Duration, success bool)
	IncLockAcquire(result string) // acquired|timeout|error
	SetQueueDepth(n int)
	IncCacheLookup(cache string, hit bool)
	IncResolve(kind string)
}

// NoopRecorder is a Recorder that does nothing.
type NoopRecorder struct{}

func (NoopRecorder) ObserveStageDuration(string, string, time.Duration)    {}
func (NoopRecorder) IncStageResult(string, string, ResultLabel)            {}
func (NoopRecorder) ObserveBuildDuration(string, time.Duration)            {}
func (NoopRecorder) IncBuildOutcome(string)                                {}
func (NoopRecorder) ObserveVCSCommand(string, string, time.Duration, bool) {}
func (NoopRecorder) IncLockAcquire(string)                                 {}
func (NoopRecorder) SetQueueDepth(int)                                     {}
func (NoopRecorder) IncCacheLookup(string, bool)                           {}
func (NoopRecorder) IncResolve(string)                                     {}
