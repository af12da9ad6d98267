package requestopt

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsNilCollectorSafe(t *testing.T) {
	var mc *MetricsCollector

	// Every record method must be callable on a nil collector.
	mc.RecordRequest("tasks", KindSelect, "ok", time.Millisecond)
	mc.RecordRequestStart("tasks", KindSelect)
	mc.RecordRequestEnd("tasks", KindSelect)
	mc.RecordRetry("tasks", KindSelect, 2)
	mc.RecordDeduplicationHit("tasks")
	mc.RecordBatched("tasks")
	mc.RecordBatchFlush("size")
	mc.RecordCircuitBreakerState("default", StateOpen)
	mc.RecordRateLimiterTokens("default", 3)
	mc.RecordRetryBudgetExceeded()
	mc.RecordQueueDepth(4)
	mc.RecordError(ErrorTypeServer, "tasks", KindSelect)
}

func TestMetricsRecordRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	mc := NewMetricsCollectorWithRegisterer(reg)

	mc.RecordRequest("tasks", KindSelect, "ok", 10*time.Millisecond)
	mc.RecordRequest("tasks", KindSelect, "ok", 20*time.Millisecond)
	mc.RecordRequest("tasks", KindInsert, "error", 5*time.Millisecond)

	got := testutil.ToFloat64(mc.requestsTotal.WithLabelValues("tasks", "select", "ok"))
	if got != 2 {
		t.Errorf("requests_total{select,ok} = %v, want 2", got)
	}
	got = testutil.ToFloat64(mc.requestsTotal.WithLabelValues("tasks", "insert", "error"))
	if got != 1 {
		t.Errorf("requests_total{insert,error} = %v, want 1", got)
	}
}

func TestMetricsInFlightGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	mc := NewMetricsCollectorWithRegisterer(reg)

	mc.RecordRequestStart("tasks", KindSelect)
	mc.RecordRequestStart("tasks", KindSelect)
	mc.RecordRequestEnd("tasks", KindSelect)

	got := testutil.ToFloat64(mc.requestsInFlight.WithLabelValues("tasks", "select"))
	if got != 1 {
		t.Errorf("requests_in_flight = %v, want 1", got)
	}
}

func TestMetricsBreakerStateGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	mc := NewMetricsCollectorWithRegisterer(reg)

	mc.RecordCircuitBreakerState("default", StateHalfOpen)

	got := testutil.ToFloat64(mc.circuitBreakerState.WithLabelValues("default"))
	if got != float64(StateHalfOpen) {
		t.Errorf("circuit_breaker_state = %v, want %v", got, float64(StateHalfOpen))
	}
}

func TestMetricsBatchFlushTriggers(t *testing.T) {
	reg := prometheus.NewRegistry()
	mc := NewMetricsCollectorWithRegisterer(reg)

	mc.RecordBatchFlush("size")
	mc.RecordBatchFlush("size")
	mc.RecordBatchFlush("timeout")

	if got := testutil.ToFloat64(mc.batchFlushes.WithLabelValues("size")); got != 2 {
		t.Errorf("batch_flushes{size} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(mc.batchFlushes.WithLabelValues("timeout")); got != 1 {
		t.Errorf("batch_flushes{timeout} = %v, want 1", got)
	}
}

func TestMetricsWiredThroughOptimizer(t *testing.T) {
	reg := prometheus.NewRegistry()
	mc := NewMetricsCollectorWithRegisterer(reg)

	exec := func(ctx context.Context, cfg *RequestConfig) (*Response, error) {
		return nil, &StatusError{Status: 500}
	}

	o := NewOptimizer(OptimizerConfig{Backoff: fastBackoff(), Metrics: mc})
	defer o.Cleanup()

	o.OptimizeRequest(context.Background(), &RequestConfig{Table: "tasks", Op: Insert{}}, exec)

	if got := testutil.ToFloat64(mc.errorsTotal.WithLabelValues("server", "tasks", "insert")); got != 3 {
		t.Errorf("errors_total = %v, want 3 (one per attempt)", got)
	}
	if got := testutil.ToFloat64(mc.requestsTotal.WithLabelValues("tasks", "insert", "error")); got != 1 {
		t.Errorf("requests_total{error} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(mc.retriesTotal.WithLabelValues("tasks", "insert", "2")); got != 1 {
		t.Errorf("retries_total{attempt=2} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(mc.requestsInFlight.WithLabelValues("tasks", "insert")); got != 0 {
		t.Errorf("requests_in_flight = %v, want 0 after completion", got)
	}
}
