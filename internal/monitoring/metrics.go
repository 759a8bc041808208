// Package monitoring exposes Prometheus collectors for batch execution,
// collaborator calls and reference resolution.
package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "entity_resolver"

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	batchItems        *prometheus.CounterVec
	batchDuration     *prometheus.HistogramVec
	batchWindows      *prometheus.CounterVec
	collaboratorCalls *prometheus.HistogramVec
	itemRetries       *prometheus.CounterVec
	resolutions       *prometheus.CounterVec
	resolutionScore   prometheus.Histogram
}

// NewMetrics registers every collector on a fresh registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		batchItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "items_total",
			Help:      "Batch items processed, by operation type and outcome.",
		}, []string{"mode", "type", "outcome"}),
		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "duration_seconds",
			Help:      "Wall time spent executing a batch.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode"}),
		batchWindows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "windows_total",
			Help:      "Concurrency windows dispatched in bounded mode.",
		}, []string{"mode"}),
		collaboratorCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "collaborator",
			Name:      "call_duration_seconds",
			Help:      "Latency of collaborator calls, by operation type and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type", "status"}),
		itemRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "item_retries_total",
			Help:      "Extra attempts spent on batch items.",
		}, []string{"type"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "resolutions_total",
			Help:      "Reference resolutions, by status.",
		}, []string{"status"}),
		resolutionScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "confidence",
			Help:      "Confidence of resolved candidates.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
	}

	reg.MustRegister(
		m.batchItems,
		m.batchDuration,
		m.batchWindows,
		m.collaboratorCalls,
		m.itemRetries,
		m.resolutions,
		m.resolutionScore,
	)
	return m
}

// Registry returns the registry backing the collectors
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the collectors in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordItem counts one batch item outcome
func (m *Metrics) RecordItem(mode, opType, outcome string) {
	if m == nil {
		return
	}
	m.batchItems.WithLabelValues(mode, opType, outcome).Inc()
}

// ObserveBatch records the duration of a whole batch
func (m *Metrics) ObserveBatch(mode string, d time.Duration) {
	if m == nil {
		return
	}
	m.batchDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// RecordWindow counts a dispatched window
func (m *Metrics) RecordWindow(mode string) {
	if m == nil {
		return
	}
	m.batchWindows.WithLabelValues(mode).Inc()
}

// ObserveCollaboratorCall records the latency of one collaborator call
func (m *Metrics) ObserveCollaboratorCall(opType, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.collaboratorCalls.WithLabelValues(opType, status).Observe(d.Seconds())
}

// RecordRetries counts extra attempts spent on an item
func (m *Metrics) RecordRetries(opType string, extra int) {
	if m == nil || extra <= 0 {
		return
	}
	m.itemRetries.WithLabelValues(opType).Add(float64(extra))
}

// RecordResolution counts a resolution outcome and, when a candidate was
// scored, its confidence
func (m *Metrics) RecordResolution(status string, confidence float64, scored bool) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(status).Inc()
	if scored {
		m.resolutionScore.Observe(confidence)
	}
}
