// Package metrics provides Prometheus instrumentation for the dispatch
// engine, following the teacher's <namespace>_<subsystem>_<metric>_<unit>
// taxonomy (pkg/metrics/business.go in the teacher repo).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// TimersMetrics implements timers.Metrics with Prometheus counters,
// histograms, and a gauge.
type TimersMetrics struct {
	dispatchedTotal *prometheus.CounterVec
	tickDuration    prometheus.Histogram
	lastBatchSize   prometheus.Gauge
}

// NewTimersMetrics registers the engine's instruments under namespace
// (typically "redis_timers") and returns a TimersMetrics ready to pass to
// timers.NewEngine.
func NewTimersMetrics(namespace string) *TimersMetrics {
	return &TimersMetrics{
		dispatchedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "dispatched_total",
			Help:      "Total timers processed by the dispatch engine, by topic and outcome.",
		}, []string{"topic", "outcome"}),

		tickDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "tick_duration_seconds",
			Help:      "Duration of one HandleReadyTimers drain pass.",
			Buckets:   prometheus.DefBuckets,
		}),

		lastBatchSize: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "ready_timers_total",
			Help:      "Number of due timers read in the most recent tick.",
		}),
	}
}

// ObserveTickDuration implements timers.Metrics.
func (m *TimersMetrics) ObserveTickDuration(d time.Duration) {
	m.tickDuration.Observe(d.Seconds())
}

// IncDispatched implements timers.Metrics.
func (m *TimersMetrics) IncDispatched(topic, outcome string) {
	m.dispatchedTotal.WithLabelValues(topic, outcome).Inc()
}

// SetLastBatchSize implements timers.Metrics.
func (m *TimersMetrics) SetLastBatchSize(n int) {
	m.lastBatchSize.Set(float64(n))
}
