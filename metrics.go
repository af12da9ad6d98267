package requestopt

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector provides Prometheus metrics for the request lifecycle
// and reliability layers. All record methods are nil-safe so call sites
// never have to guard.
type MetricsCollector struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec

	retriesTotal        *prometheus.CounterVec
	deduplicationHits   *prometheus.CounterVec
	batchedTotal        *prometheus.CounterVec
	batchFlushes        *prometheus.CounterVec
	circuitBreakerState *prometheus.GaugeVec
	rateLimiterTokens   *prometheus.GaugeVec
	retryBudgetExceeded prometheus.Counter
	queueDepth          prometheus.Gauge
	errorsTotal         *prometheus.CounterVec

	registerer prometheus.Registerer
}

// NewMetricsCollector creates a collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegisterer(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegisterer creates a collector using the supplied
// registerer; pass a fresh prometheus.NewRegistry() in tests.
func NewMetricsCollectorWithRegisterer(reg prometheus.Registerer) *MetricsCollector {
	return &MetricsCollector{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "requestopt_requests_total",
				Help: "Total number of backend operations executed",
			},
			[]string{"table", "operation", "status"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "requestopt_request_duration_seconds",
				Help:    "Duration of backend operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"table", "operation"},
		),
		requestsInFlight: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "requestopt_requests_in_flight",
				Help: "Number of backend operations currently in flight",
			},
			[]string{"table", "operation"},
		),
		retriesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "requestopt_retries_total",
				Help: "Total number of retry attempts",
			},
			[]string{"table", "operation", "attempt"},
		),
		deduplicationHits: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "requestopt_deduplication_hits_total",
				Help: "Total number of requests coalesced into an in-flight duplicate",
			},
			[]string{"table"},
		),
		batchedTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "requestopt_batched_requests_total",
				Help: "Total number of requests dispatched through a batch",
			},
			[]string{"table"},
		),
		batchFlushes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "requestopt_batch_flushes_total",
				Help: "Total number of batch flushes by trigger",
			},
			[]string{"trigger"},
		),
		circuitBreakerState: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "requestopt_circuit_breaker_state",
				Help: "Current state of circuit breaker (0=closed, 1=open, 2=half-open)",
			},
			[]string{"name"},
		),
		rateLimiterTokens: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "requestopt_rate_limiter_tokens",
				Help: "Current number of available rate limiter tokens",
			},
			[]string{"name"},
		),
		retryBudgetExceeded: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "requestopt_retry_budget_exceeded_total",
				Help: "Total number of times the retry budget was exhausted",
			},
		),
		queueDepth: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "requestopt_queue_depth",
				Help: "Number of requests waiting in the priority queue",
			},
		),
		errorsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "requestopt_errors_total",
				Help: "Total number of typed errors surfaced to callers",
			},
			[]string{"type", "table", "operation"},
		),
		registerer: reg,
	}
}

// RecordRequest records one completed operation and its duration.
func (mc *MetricsCollector) RecordRequest(table string, op OpKind, status string, duration time.Duration) {
	if mc == nil {
		return
	}
	mc.requestsTotal.WithLabelValues(table, string(op), status).Inc()
	mc.requestDuration.WithLabelValues(table, string(op)).Observe(duration.Seconds())
}

// RecordRequestStart increments the in-flight gauge.
func (mc *MetricsCollector) RecordRequestStart(table string, op OpKind) {
	if mc == nil {
		return
	}
	mc.requestsInFlight.WithLabelValues(table, string(op)).Inc()
}

// RecordRequestEnd decrements the in-flight gauge.
func (mc *MetricsCollector) RecordRequestEnd(table string, op OpKind) {
	if mc == nil {
		return
	}
	mc.requestsInFlight.WithLabelValues(table, string(op)).Dec()
}

// RecordRetry increments the retry counter for an attempt.
func (mc *MetricsCollector) RecordRetry(table string, op OpKind, attempt int) {
	if mc == nil {
		return
	}
	mc.retriesTotal.WithLabelValues(table, string(op), strconv.Itoa(attempt)).Inc()
}

// RecordDeduplicationHit increments the coalesced-request counter.
func (mc *MetricsCollector) RecordDeduplicationHit(table string) {
	if mc == nil {
		return
	}
	mc.deduplicationHits.WithLabelValues(table).Inc()
}

// RecordBatched counts a request dispatched through a batch.
func (mc *MetricsCollector) RecordBatched(table string) {
	if mc == nil {
		return
	}
	mc.batchedTotal.WithLabelValues(table).Inc()
}

// RecordBatchFlush counts a flush by trigger ("size" or "timeout").
func (mc *MetricsCollector) RecordBatchFlush(trigger string) {
	if mc == nil {
		return
	}
	mc.batchFlushes.WithLabelValues(trigger).Inc()
}

// RecordCircuitBreakerState sets the breaker state gauge.
func (mc *MetricsCollector) RecordCircuitBreakerState(name string, state CircuitState) {
	if mc == nil {
		return
	}
	mc.circuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordRateLimiterTokens sets the available token gauge.
func (mc *MetricsCollector) RecordRateLimiterTokens(name string, tokens int) {
	if mc == nil {
		return
	}
	mc.rateLimiterTokens.WithLabelValues(name).Set(float64(tokens))
}

// RecordRetryBudgetExceeded counts an exhausted retry budget.
func (mc *MetricsCollector) RecordRetryBudgetExceeded() {
	if mc == nil {
		return
	}
	mc.retryBudgetExceeded.Inc()
}

// RecordQueueDepth sets the priority queue depth gauge.
func (mc *MetricsCollector) RecordQueueDepth(depth int) {
	if mc == nil {
		return
	}
	mc.queueDepth.Set(float64(depth))
}

// RecordError increments the error counter by taxonomy type.
func (mc *MetricsCollector) RecordError(errType ErrorType, table string, op OpKind) {
	if mc == nil {
		return
	}
	mc.errorsTotal.WithLabelValues(string(errType), table, string(op)).Inc()
}
