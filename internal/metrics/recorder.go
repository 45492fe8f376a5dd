// Package metrics defines observability hooks for build activity. The
// default NoopRecorder makes metrics strictly optional; the Prometheus
// recorder is wired in when a listener is configured.
package metrics

import "time"

// ResultLabel enumerates node result categories for counters.
type ResultLabel string

const (
	ResultSuccess  ResultLabel = "success"
	ResultFailed   ResultLabel = "failed"
	ResultCanceled ResultLabel = "canceled"
	ResultSkipped  ResultLabel = "skipped"
)

// Recorder defines observability hooks for node and target metrics.
// Implementations must tolerate concurrent calls.
type Recorder interface {
	ObserveNodeDuration(kind string, d time.Duration)
	ObserveTargetDuration(target string, d time.Duration)
	IncNodeResult(kind string, result ResultLabel)
	IncTargetOutcome(outcome string) // outcome: built|up_to_date|failed
	IncCacheEvent(hit bool)
	SetActiveBuilds(n int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics are not
// configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveNodeDuration(string, time.Duration)   {}
func (NoopRecorder) ObserveTargetDuration(string, time.Duration) {}
func (NoopRecorder) IncNodeResult(string, ResultLabel)           {}
func (NoopRecorder) IncTargetOutcome(string)                     {}
func (NoopRecorder) IncCacheEvent(bool)                          {}
func (NoopRecorder) SetActiveBuilds(int)                         {}
