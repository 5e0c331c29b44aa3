package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects engine-level Prometheus metrics, namespaced
// "workrail_", generalizing the teacher's PrometheusMetrics
// (graph/metrics.go) from per-node graph execution to per-session append
// operations.
//
//  1. append_latency_ms (histogram): wall time of one committed
//     sessionstore append, start to fsync.
//  2. lock_wait_ms (histogram): SESSION_LOCK_BUSY retry hint observed on a
//     contended append.
//  3. blockers_total (counter): blocking reasons recorded, by code.
//  4. projection_rebuild_total (counter): full BuildAll folds performed.
//  5. corruption_detected_total (counter): CORRUPTION_DETECTED outcomes
//     observed on append (engine.go appendPlan); the location label is
//     always "tail".
type Metrics struct {
	appendLatency      prometheus.Histogram
	lockWait           prometheus.Histogram
	blockers           *prometheus.CounterVec
	projectionRebuilds prometheus.Counter
	corruptionDetected *prometheus.CounterVec
	enabled            bool
}

// NewMetrics registers workrail_* metrics against registry. Pass
// prometheus.DefaultRegisterer for the global registry, or a fresh
// *prometheus.Registry for isolation in tests.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		enabled: true,
		appendLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "workrail",
			Name:      "append_latency_ms",
			Help:      "Duration of one committed sessionstore append, in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000},
		}),
		lockWait: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "workrail",
			Name:      "lock_wait_ms",
			Help:      "Retry-after hint observed on a SESSION_LOCK_BUSY append, in milliseconds",
			Buckets:   []float64{10, 50, 100, 250, 500, 1000},
		}),
		blockers: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workrail",
			Name:      "blockers_total",
			Help:      "Blocking reasons recorded by continue_workflow, by code",
		}, []string{"code"}),
		projectionRebuilds: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "workrail",
			Name:      "projection_rebuild_total",
			Help:      "Full projection.BuildAll folds performed",
		}),
		corruptionDetected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workrail",
			Name:      "corruption_detected_total",
			Help:      "CORRUPTION_DETECTED outcomes observed, by location",
		}, []string{"location"}),
	}
}

// NewNoopMetrics returns a Metrics that records nothing and registers
// nothing, for callers (tests, the default Engine) that don't want a
// Prometheus registry dependency.
func NewNoopMetrics() *Metrics {
	return &Metrics{enabled: false}
}

func (m *Metrics) ObserveAppend(latencyMs float64) {
	if !m.enabled {
		return
	}
	m.appendLatency.Observe(latencyMs)
}

func (m *Metrics) ObserveLockWait(retryMs int) {
	if !m.enabled {
		return
	}
	m.lockWait.Observe(float64(retryMs))
}

func (m *Metrics) ObserveBlocker(code string) {
	if !m.enabled {
		return
	}
	m.blockers.WithLabelValues(code).Inc()
}

func (m *Metrics) ObserveProjectionRebuild() {
	if !m.enabled {
		return
	}
	m.projectionRebuilds.Inc()
}

func (m *Metrics) ObserveCorruption() {
	if !m.enabled {
		return
	}
	m.corruptionDetected.WithLabelValues("tail").Inc()
}
