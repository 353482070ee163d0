package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "skiff"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	cycleDuration    *prom.HistogramVec
	cycles           *prom.CounterVec
	pipelineDuration *prom.HistogramVec
	pipelines        *prom.CounterVec
	hookDuration     *prom.HistogramVec
	watchEvents      *prom.CounterVec
}

// NewPrometheusRecorder constructs the collectors and registers them on reg.
func NewPrometheusRecorder(reg prom.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}

	pr := &PrometheusRecorder{
		cycleDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of build cycles",
			Buckets:   prom.DefBuckets,
		}, []string{"outcome"}),
		cycles: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Build cycles by outcome",
		}, []string{"outcome"}),
		pipelineDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Duration of asset pipelines by kind",
			Buckets:   prom.DefBuckets,
		}, []string{"kind", "outcome"}),
		pipelines: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "pipelines_total",
			Help:      "Asset pipeline runs by kind and outcome",
		}, []string{"kind", "outcome"}),
		hookDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "hook_duration_seconds",
			Help:      "Duration of build hooks by stage",
			Buckets:   prom.DefBuckets,
		}, []string{"stage", "outcome"}),
		watchEvents: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "watch_events_total",
			Help:      "Filesystem events seen by the watch loop",
		}, []string{"result"}),
	}

	reg.MustRegister(pr.cycleDuration, pr.cycles, pr.pipelineDuration, pr.pipelines, pr.hookDuration, pr.watchEvents)

	return pr
}

func (p *PrometheusRecorder) ObserveCycle(outcome Outcome, d time.Duration) {
	if p == nil {
		return
	}
	p.cycleDuration.WithLabelValues(string(outcome)).Observe(d.Seconds())
	p.cycles.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusRecorder) ObservePipeline(kind string, outcome Outcome, d time.Duration) {
	if p == nil {
		return
	}
	p.pipelineDuration.WithLabelValues(kind, string(outcome)).Observe(d.Seconds())
	p.pipelines.WithLabelValues(kind, string(outcome)).Inc()
}

func (p *PrometheusRecorder) ObserveHook(stage string, outcome Outcome, d time.Duration) {
	if p == nil {
		return
	}
	p.hookDuration.WithLabelValues(stage, string(outcome)).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncWatchEvents(accepted bool) {
	if p == nil {
		return
	}
	result := "ignored"
	if accepted {
		result = "accepted"
	}
	p.watchEvents.WithLabelValues(result).Inc()
}

// HTTPHandler returns an http.Handler that serves the metrics of g.
func HTTPHandler(g prom.Gatherer) http.Handler {
	if g == nil {
		g = prom.DefaultGatherer
	}

	return promhttp.HandlerFor(g, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
