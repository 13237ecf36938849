package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestPrometheus_GenerationCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewPrometheusMetrics(reg)
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	t.Run("increments generated counter", func(t *testing.T) {
		m.RecordGeneration(ResultGenerated, 12)
		m.RecordGeneration(ResultGenerated, 30)

		if val := getCounterValue(t, m.GenerationCounter, ResultGenerated); val != 2 {
			t.Errorf("expected 2, got %f", val)
		}
	})

	t.Run("existing reports skip the duration histogram", func(t *testing.T) {
		m.RecordGeneration(ResultExisting, 0.01)

		if val := getCounterValue(t, m.GenerationCounter, ResultExisting); val != 1 {
			t.Errorf("expected 1, got %f", val)
		}
		count, sum := getHistogramValues(t, m.GenerationDuration)
		if count != 2 {
			t.Errorf("expected 2 observations, got %d", count)
		}
		if sum != 42 {
			t.Errorf("expected sum 42, got %f", sum)
		}
	})

	t.Run("failed is tracked separately", func(t *testing.T) {
		m.RecordGeneration(ResultFailed, 180)

		if val := getCounterValue(t, m.GenerationCounter, ResultFailed); val != 1 {
			t.Errorf("expected 1, got %f", val)
		}
	})
}

func TestPrometheus_AttemptsAndFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewPrometheusMetrics(reg)
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	m.RecordAttempt()
	m.RecordAttempt()
	m.RecordAttempt()
	if val := testutil.ToFloat64(m.GenerationAttempts); val != 3 {
		t.Errorf("expected 3 attempts, got %f", val)
	}

	m.RecordMetricFailure("call_stage")
	m.RecordMetricFailure("call_stage")
	m.RecordMetricFailure("load_status")
	if val := getCounterValue(t, m.MetricFailures, "call_stage"); val != 2 {
		t.Errorf("expected 2 call_stage failures, got %f", val)
	}

	m.RecordSchedulerRun("daily", "partial")
	if val := testutil.ToFloat64(m.SchedulerRuns.WithLabelValues("daily", "partial")); val != 1 {
		t.Errorf("expected 1 partial daily run, got %f", val)
	}

	m.RecordArchiveFailure()
	if val := testutil.ToFloat64(m.ArchiveFailures); val != 1 {
		t.Errorf("expected 1 archive failure, got %f", val)
	}
}

func TestPrometheus_NilIsNoop(t *testing.T) {
	var m *PrometheusMetrics
	m.RecordGeneration(ResultGenerated, 1)
	m.RecordAttempt()
	m.RecordMetricFailure("call_stage")
	m.RecordSchedulerRun("daily", "success")
	m.RecordArchiveFailure()
}

func TestPrometheus_Registration(t *testing.T) {
	t.Run("creates metrics successfully", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		m, err := NewPrometheusMetrics(reg)
		if err != nil {
			t.Fatalf("failed to create metrics: %v", err)
		}
		if m == nil {
			t.Fatal("expected non-nil metrics")
		}
		if m.GenerationCounter == nil {
			t.Error("GenerationCounter should not be nil")
		}
		if m.MetricFailures == nil {
			t.Error("MetricFailures should not be nil")
		}
	})

	t.Run("fails on duplicate registration", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		_, err := NewPrometheusMetrics(reg)
		if err != nil {
			t.Fatalf("first registration failed: %v", err)
		}
		_, err = NewPrometheusMetrics(reg)
		if err == nil {
			t.Fatal("expected error on duplicate registration")
		}
	})
}

// Helper functions for extracting Prometheus metric values.

func getCounterValue(t *testing.T, counter *prometheus.CounterVec, label string) float64 {
	t.Helper()
	var m dto.Metric
	if err := counter.WithLabelValues(label).(prometheus.Metric).Write(&m); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func getHistogramValues(t *testing.T, hist prometheus.Histogram) (uint64, float64) {
	t.Helper()
	var m dto.Metric
	if err := hist.Write(&m); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return m.GetHistogram().GetSampleCount(), m.GetHistogram().GetSampleSum()
}
