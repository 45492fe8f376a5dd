package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	nodeDuration   *prom.HistogramVec
	targetDuration *prom.HistogramVec
	nodeResults    *prom.CounterVec
	targetOutcome  *prom.CounterVec
	cacheEvents    *prom.CounterVec
	activeBuilds   prom.Gauge
}

// NewPrometheusRecorder constructs and registers Prometheus metrics on reg.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		nodeDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "docpress",
			Name:      "node_duration_seconds",
			Help:      "Duration of individual conversion nodes",
			Buckets:   prom.DefBuckets,
		}, []string{"kind"}),
		targetDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "docpress",
			Name:      "target_duration_seconds",
			Help:      "Duration of whole target builds",
			Buckets:   prom.DefBuckets,
		}, []string{"target"}),
		nodeResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "docpress",
			Name:      "node_results_total",
			Help:      "Node result counts by kind and outcome",
		}, []string{"kind", "result"}),
		targetOutcome: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "docpress",
			Name:      "target_outcomes_total",
			Help:      "Target build outcomes by final status",
		}, []string{"outcome"}),
		cacheEvents: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "docpress",
			Name:      "cache_events_total",
			Help:      "Cache decisions by hit/miss",
		}, []string{"result"}),
		activeBuilds: prom.NewGauge(prom.GaugeOpts{
			Namespace: "docpress",
			Name:      "active_builds",
			Help:      "Nodes currently building",
		}),
	}
	reg.MustRegister(
		pr.nodeDuration, pr.targetDuration, pr.nodeResults,
		pr.targetOutcome, pr.cacheEvents, pr.activeBuilds,
	)
	return pr
}

func (p *PrometheusRecorder) ObserveNodeDuration(kind string, d time.Duration) {
	if p == nil || p.nodeDuration == nil {
		return
	}
	p.nodeDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveTargetDuration(target string, d time.Duration) {
	if p == nil || p.targetDuration == nil {
		return
	}
	p.targetDuration.WithLabelValues(target).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncNodeResult(kind string, result ResultLabel) {
	if p == nil || p.nodeResults == nil {
		return
	}
	p.nodeResults.WithLabelValues(kind, string(result)).Inc()
}

func (p *PrometheusRecorder) IncTargetOutcome(outcome string) {
	if p == nil || p.targetOutcome == nil {
		return
	}
	p.targetOutcome.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) IncCacheEvent(hit bool) {
	if p == nil || p.cacheEvents == nil {
		return
	}
	res := "miss"
	if hit {
		res = "hit"
	}
	p.cacheEvents.WithLabelValues(res).Inc()
}

func (p *PrometheusRecorder) SetActiveBuilds(n int) {
	if p == nil || p.activeBuilds == nil {
		return
	}
	p.activeBuilds.Set(float64(n))
}

// HTTPHandler returns an http.Handler that serves Prometheus metrics for the
// provided registry.
func HTTPHandler(reg *prom.Registry) http.Handler {
	if reg == nil {
		reg = prom.DefaultRegisterer.(*prom.Registry)
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
