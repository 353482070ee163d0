// Package metrics defines observability hooks for build cycles, pipelines,
// hooks and watch events, with a Prometheus-backed implementation.
package metrics

import "time"

// Outcome labels a cycle, pipeline or hook result.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeFailed   Outcome = "failed"
	OutcomeCanceled Outcome = "canceled"
)

// Recorder receives observations. Implementations must be safe for
// concurrent use since pipelines report in parallel.
type Recorder interface {
	ObserveCycle(outcome Outcome, d time.Duration)
	ObservePipeline(kind string, outcome Outcome, d time.Duration)
	ObserveHook(stage string, outcome Outcome, d time.Duration)
	IncWatchEvents(accepted bool)
}

// NopRecorder is a Recorder that does nothing (default when metrics are not
// configured).
type NopRecorder struct{}

func (NopRecorder) ObserveCycle(Outcome, time.Duration) {}
func (NopRecorder) ObservePipeline(string, Outcome, time.Duration) {}
func (NopRecorder) ObserveHook(string, Outcome, time.Duration) {}
func (NopRecorder) IncWatchEvents(bool) {}
