package metrics

import (
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.ObserveNodeDuration("asy2pdf", 150*time.Millisecond)
	pr.ObserveTargetDuration("html", 500*time.Millisecond)
	pr.IncNodeResult("asy2pdf", ResultSuccess)
	pr.IncTargetOutcome("built")
	pr.IncCacheEvent(true)
	pr.SetActiveBuilds(2)
	// Basic scrape to ensure metrics encode without panic
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(mfs) == 0 {
		t.Fatalf("expected metrics, got none")
	}
}

func TestNoopRecorderIsSafe(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.ObserveNodeDuration("copy", time.Second)
	r.ObserveTargetDuration("pdf", time.Second)
	r.IncNodeResult("copy", ResultFailed)
	r.IncTargetOutcome("failed")
	r.IncCacheEvent(false)
	r.SetActiveBuilds(0)
}
