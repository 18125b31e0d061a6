package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "rtdbuild"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	stageDuration *prom.HistogramVec
	stageResults  *prom.CounterVec
	buildDuration *prom.HistogramVec
	buildOutcome  *prom.CounterVec
	vcsDuration   *prom.HistogramVec
	lockAcquire   *prom.CounterVec
	queueDepth    prom.Gauge
	cacheLookups  *prom.CounterVec
	resolves      *prom.CounterVec
}

// NewPrometheusRecorder constructs the collectors and registers them on reg.
func NewPrometheusRecorder(reg prom.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		stageDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "builder_stage_duration_seconds",
			Help:      "Duration of builder clean/build/move stages",
			Buckets:   prom.DefBuckets,
		}, []string{"builder", "stage"}),
		stageResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "builder_stage_results_total",
			Help:      "Builder stage results by outcome",
		}, []string{"builder", "stage", "result"}),
		buildDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Total build duration by documentation type",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"doc_type"}),
		buildOutcome: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "build_outcomes_total",
			Help:      "Build outcomes by final status",
		}, []string{"outcome"}),
		vcsDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "vcs_command_duration_seconds",
			Help:      "Duration of VCS operations",
			Buckets:   prom.DefBuckets,
		}, []string{"repo_type", "op", "result"}),
		lockAcquire: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "project_lock_acquire_total",
			Help:      "Per-project checkout lock acquisition attempts",
		}, []string{"result"}),
		queueDepth: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "build_queue_depth",
			Help:      "Builds waiting in the queue",
		}),
		cacheLookups: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by cache and result",
		}, []string{"cache", "result"}),
		resolves: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "serve_resolutions_total",
			Help:      "Serving resolutions by result kind",
		}, []string{"kind"}),
	}
	reg.MustRegister(pr.stageDuration, pr.stageResults, pr.buildDuration, pr.buildOutcome,
		pr.vcsDuration, pr.lockAcquire, pr.queueDepth, pr.cacheLookups, pr.resolves)
	return pr
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "failed"
}

func (p *PrometheusRecorder) ObserveStageDuration(builder, stage string, d time.Duration) {
	p.stageDuration.WithLabelValues(builder, stage).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncStageResult(builder, stage string, r ResultLabel) {
	p.stageResults.WithLabelValues(builder, stage, string(r)).Inc()
}

func (p *PrometheusRecorder) ObserveBuildDuration(docType string, d time.Duration) {
	p.buildDuration.WithLabelValues(docType).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncBuildOutcome(outcome string) {
	p.buildOutcome.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) ObserveVCSCommand(repoType, op string, d time.Duration, success bool) {
	p.vcsDuration.WithLabelValues(repoType, op, result(success)).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncLockAcquire(r string) {
	p.lockAcquire.WithLabelValues(r).Inc()
}

func (p *PrometheusRecorder) SetQueueDepth(n int) {
	p.queueDepth.Set(float64(n))
}

func (p *PrometheusRecorder) IncCacheLookup(cache string, hit bool) {
	r := "miss"
	if hit {
		r = "hit"
	}
	p.cacheLookups.WithLabelValues(cache, r).Inc()
}

func (p *PrometheusRecorder) IncResolve(kind string) {
	p.resolves.WithLabelValues(kind).Inc()
}
