// Package metrics provides Prometheus metrics for report generation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "callstats"

// Generation results.
const (
	ResultGenerated = "generated"
	ResultExisting  = "existing"
	ResultFailed    = "failed"
)

// PrometheusMetrics holds the collectors exported on /metrics. A nil
// *PrometheusMetrics is valid and records nothing.
type PrometheusMetrics struct {
	GenerationCounter  *prometheus.CounterVec
	GenerationAttempts prometheus.Counter
	GenerationDuration prometheus.Histogram
	MetricFailures     *prometheus.CounterVec
	SchedulerRuns      *prometheus.CounterVec
	ArchiveFailures    prometheus.Counter
}

// NewPrometheusMetrics creates the collectors and registers them with reg.
func NewPrometheusMetrics(reg prometheus.Registerer) (*PrometheusMetrics, error) {
	m := &PrometheusMetrics{
		GenerationCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_generations_total",
			Help:      "Daily report generations by result.",
		}, []string{"result"}),
		GenerationAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_generation_attempts_total",
			Help:      "Assembly attempts made while generating reports.",
		}),
		GenerationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "report_generation_duration_seconds",
			Help:      "Wall time to generate one report, retries included.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 180, 300, 600},
		}),
		MetricFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metric_failures_total",
			Help:      "Warehouse metric queries that failed during assembly.",
		}, []string{"metric"}),
		SchedulerRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_runs_total",
			Help:      "Scheduler batch runs by kind and status.",
		}, []string{"run_kind", "status"}),
		ArchiveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_archive_failures_total",
			Help:      "Reports that could not be copied to the archive bucket.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.GenerationCounter,
		m.GenerationAttempts,
		m.GenerationDuration,
		m.MetricFailures,
		m.SchedulerRuns,
		m.ArchiveFailures,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordGeneration counts a finished generation.
func (m *PrometheusMetrics) RecordGeneration(result string, seconds float64) {
	if m == nil {
		return
	}
	m.GenerationCounter.WithLabelValues(result).Inc()
	if result != ResultExisting {
		m.GenerationDuration.Observe(seconds)
	}
}

// RecordAttempt counts one assembly attempt.
func (m *PrometheusMetrics) RecordAttempt() {
	if m == nil {
		return
	}
	m.GenerationAttempts.Inc()
}

// RecordMetricFailure counts a failed warehouse metric.
func (m *PrometheusMetrics) RecordMetricFailure(metric string) {
	if m == nil {
		return
	}
	m.MetricFailures.WithLabelValues(metric).Inc()
}

// RecordSchedulerRun counts a logged scheduler run.
func (m *PrometheusMetrics) RecordSchedulerRun(kind, status string) {
	if m == nil {
		return
	}
	m.SchedulerRuns.WithLabelValues(kind, status).Inc()
}

// RecordArchiveFailure counts a failed archive upload.
func (m *PrometheusMetrics) RecordArchiveFailure() {
	if m == nil {
		return
	}
	m.ArchiveFailures.Inc()
}
