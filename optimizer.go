package requestopt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// OptimizerConfig configures an Optimizer. The zero value gives the
// documented defaults; optional layers (rate limiter, retry budget,
// logger, metrics) stay off until supplied.
type OptimizerConfig struct {
	// MaxRetries is the maximum number of executor invocations per request.
	// Zero means the default of 3; negative disables retries.
	MaxRetries int

	// DedupTTL bounds how long an in-flight entry may be joined before it
	// is considered stuck and replaced. Zero means 5s.
	DedupTTL time.Duration
	// DisableDedup turns off read deduplication entirely.
	DisableDedup bool
	// KeyFunc overrides the deduplication key derivation.
	KeyFunc KeyFunc

	// EnableBatching groups reads per table into dispatch waves.
	EnableBatching bool
	// BatchSize flushes a batch once it holds this many members. Zero
	// means 10.
	BatchSize int
	// BatchTimeout flushes a partial batch this long after it opened.
	// Zero means 50ms.
	BatchTimeout time.Duration

	// MaxConcurrent bounds in-flight calls dispatched by the priority
	// queue and batch fan-out. Zero means 6.
	MaxConcurrent int

	Backoff    BackoffPolicy
	Classifier *Classifier
	Breaker    *CircuitBreaker

	RateLimiter *RateLimiter
	RetryBudget *RetryBudget

	Logger  *slog.Logger
	Metrics *MetricsCollector
}

// OptimizerStats is a snapshot of the optimizer's running counters and the
// rates derived from them for health reporting.
type OptimizerStats struct {
	Total        uint64
	Deduplicated uint64
	Batched      uint64
	Retried      uint64
	Failed       uint64

	SuccessRate       float64
	DeduplicationRate float64
	BatchingRate      float64
}

// Optimizer sits between application code and the backend executor and
// provides deduplication, batching, classification-driven retries, circuit
// breaking and bounded-concurrency priority scheduling. All mutable state
// is owned by the instance; nothing is shared across optimizers.
type Optimizer struct {
	maxRetries   int
	dedupTTL     time.Duration
	dedupEnabled bool
	keyFunc      KeyFunc
	batchEnabled bool

	backoff    BackoffPolicy
	classifier *Classifier
	breaker    *CircuitBreaker
	limiter    *RateLimiter
	budget     *RetryBudget
	logger     *slog.Logger
	metrics    *MetricsCollector

	dedup   *dedupTracker
	batches *batcher
	queue   *priorityQueue

	total        atomic.Uint64
	deduplicated atomic.Uint64
	batched      atomic.Uint64
	retried      atomic.Uint64
	failed       atomic.Uint64

	closed    atomic.Bool
	closedCh  chan struct{}
	closeOnce sync.Once
}

// NewOptimizer creates an optimizer, filling config defaults.
func NewOptimizer(cfg OptimizerConfig) *Optimizer {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 1
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 50 * time.Millisecond
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 6
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = DefaultKeyFunc
	}
	if cfg.Backoff == nil {
		cfg.Backoff = NewExponentialBackoff()
	}
	if cfg.Classifier == nil {
		cfg.Classifier = NewClassifier()
	}
	if cfg.Breaker == nil {
		cfg.Breaker = NewCircuitBreaker(BreakerConfig{})
	}

	o := &Optimizer{
		maxRetries:   cfg.MaxRetries,
		dedupTTL:     cfg.DedupTTL,
		dedupEnabled: !cfg.DisableDedup,
		keyFunc:      cfg.KeyFunc,
		batchEnabled: cfg.EnableBatching,
		backoff:      cfg.Backoff,
		classifier:   cfg.Classifier,
		breaker:      cfg.Breaker,
		limiter:      cfg.RateLimiter,
		budget:       cfg.RetryBudget,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		dedup:        newDedupTracker(),
		closedCh:     make(chan struct{}),
	}
	o.batches = newBatcher(cfg.BatchSize, cfg.BatchTimeout, int64(cfg.MaxConcurrent), o.doWithRetry)
	o.batches.onFlush = o.metrics.RecordBatchFlush
	o.queue = newPriorityQueue(int64(cfg.MaxConcurrent), o.process)
	return o
}

// OptimizeRequest runs one request through deduplication, batching and the
// retry-wrapped executor. Terminal failures are always *Error values.
func (o *Optimizer) OptimizeRequest(ctx context.Context, cfg *RequestConfig, exec Executor) (*Response, error) {
	if o.closed.Load() {
		return nil, closedError()
	}
	o.total.Add(1)
	return o.process(ctx, cfg, exec)
}

// QueueRequest submits a request with a numeric priority; lower values are
// dispatched first, FIFO among equals, with at most MaxConcurrent in
// flight. The queued request still passes through deduplication, batching
// and retries when dispatched.
func (o *Optimizer) QueueRequest(ctx context.Context, cfg *RequestConfig, exec Executor, priority int) (*Response, error) {
	if o.closed.Load() {
		return nil, closedError()
	}
	o.total.Add(1)

	item := o.queue.enqueue(ctx, cfg, exec, priority)
	o.metrics.RecordQueueDepth(o.queue.depth())

	resp, err := item.wait(ctx)
	if err != nil {
		return resp, o.classifier.Classify(err)
	}
	return resp, nil
}

// process is steps 1-3: dedup, batch, retry.
func (o *Optimizer) process(ctx context.Context, cfg *RequestConfig, exec Executor) (*Response, error) {
	if !o.dedupEligible(cfg) {
		return o.dispatch(ctx, cfg, exec)
	}

	key := o.keyFunc(cfg)
	entry, owner := o.dedup.getOrCreate(key, o.dedupTTL)
	if !owner {
		o.deduplicated.Add(1)
		o.metrics.RecordDeduplicationHit(cfg.Table)
		o.logDebug("joining in-flight duplicate", "table", cfg.Table, "key", key)
		resp, err := entry.wait(ctx)
		if err != nil {
			return resp, o.classifier.Classify(err)
		}
		return resp, nil
	}

	resp, err := o.dispatch(ctx, cfg, exec)
	o.dedup.complete(key, entry, resp, err)
	return resp, err
}

// dispatch routes eligible reads through the batcher, everything else
// straight to the retry loop.
func (o *Optimizer) dispatch(ctx context.Context, cfg *RequestConfig, exec Executor) (*Response, error) {
	if o.batchEnabled && cfg.Op.Kind() == KindSelect {
		o.batched.Add(1)
		o.metrics.RecordBatched(cfg.Table)
		member := o.batches.add(ctx, batchKey(cfg), cfg, exec)
		resp, err := member.wait(ctx)
		if err != nil {
			return resp, o.classifier.Classify(err)
		}
		return resp, nil
	}
	return o.doWithRetry(ctx, cfg, exec)
}

// dedupEligible: only idempotent reads, unless the caller opted out.
func (o *Optimizer) dedupEligible(cfg *RequestConfig) bool {
	return o.dedupEnabled && !cfg.SkipCache && cfg.Op.Kind() == KindSelect
}

func batchKey(cfg *RequestConfig) string {
	return cfg.Table + ":" + string(cfg.Op.Kind())
}

// doWithRetry wraps a single executor call with the rate limiter, circuit
// breaker, classification and backoff. Attempts are 1-indexed; maxRetries
// counts executor invocations.
func (o *Optimizer) doWithRetry(ctx context.Context, cfg *RequestConfig, exec Executor) (*Response, error) {
	table, kind := cfg.Table, cfg.Op.Kind()

	maxAttempts := o.maxRetries
	if cfg.RetryCount > 0 {
		maxAttempts = cfg.RetryCount
	}

	var requestID string
	if o.logger != nil {
		requestID = uuid.NewString()
	}

	o.metrics.RecordRequestStart(table, kind)
	defer o.metrics.RecordRequestEnd(table, kind)
	start := time.Now()

	for attempt := 1; ; attempt++ {
		if o.limiter != nil {
			o.metrics.RecordRateLimiterTokens("default", o.limiter.Tokens())
			if !o.limiter.Allow() {
				o.failed.Add(1)
				o.metrics.RecordError(ErrorTypeRateLimit, table, kind)
				o.logWarn("rate limit exceeded", "requestID", requestID, "table", table)
				return nil, newError(ErrorTypeRateLimit, "rate limit exceeded", ErrRateLimited)
			}
		}

		if rejection := o.breaker.Allow(); rejection != nil {
			o.failed.Add(1)
			o.metrics.RecordError(rejection.Type, table, kind)
			o.logWarn("circuit breaker open", "requestID", requestID, "table", table, "retryAfter", rejection.RetryAfter)
			return nil, rejection.withAttempt(attempt, maxAttempts)
		}

		if attempt > 1 {
			o.retried.Add(1)
			o.metrics.RecordRetry(table, kind, attempt)
		}

		resp, err := o.invoke(ctx, cfg, exec)
		if err == nil {
			o.breaker.RecordSuccess()
			o.metrics.RecordCircuitBreakerState("default", o.breaker.State())
			o.metrics.RecordRequest(table, kind, "ok", time.Since(start))
			return resp, nil
		}

		classified := o.classifier.Classify(err)
		o.breaker.RecordFailure()
		o.metrics.RecordCircuitBreakerState("default", o.breaker.State())
		o.metrics.RecordError(classified.Type, table, kind)

		if !classified.Retryable || attempt >= maxAttempts {
			o.failed.Add(1)
			o.metrics.RecordRequest(table, kind, "error", time.Since(start))
			return nil, classified.withAttempt(attempt, maxAttempts)
		}

		if o.budget != nil && !o.budget.Allow() {
			o.failed.Add(1)
			o.metrics.RecordRetryBudgetExceeded()
			o.logWarn("retry budget exceeded", "requestID", requestID, "table", table)
			return nil, newError(ErrorTypeRateLimit, "retry budget exceeded", ErrRetryBudgetExceeded)
		}

		delay := o.backoff.Delay(classified, attempt)
		o.logDebug("scheduling retry", "requestID", requestID, "table", table,
			"attempt", attempt+1, "max", maxAttempts, "backoff", delay, "errorType", classified.Type)

		if err := o.sleep(ctx, delay); err != nil {
			o.failed.Add(1)
			return nil, err
		}
	}
}

// invoke runs the executor, racing it against the per-request timeout when
// one is set. A timer win classifies as timeout; the executor goroutine is
// not force-aborted, its eventual result is discarded.
func (o *Optimizer) invoke(ctx context.Context, cfg *RequestConfig, exec Executor) (*Response, error) {
	if cfg.Timeout <= 0 {
		return exec(ctx, cfg)
	}

	type result struct {
		resp *Response
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		resp, err := exec(ctx, cfg)
		ch <- result{resp, err}
	}()

	timer := time.NewTimer(cfg.Timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		return r.resp, r.err
	case <-timer.C:
		return nil, newError(ErrorTypeTimeout, fmt.Sprintf("request exceeded %v", cfg.Timeout), nil)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// sleep waits for the backoff delay, giving up early on context
// cancellation or optimizer shutdown.
func (o *Optimizer) sleep(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return o.classifier.Classify(ctx.Err())
	case <-o.closedCh:
		return closedError()
	}
}

// Stats returns a snapshot of the running counters and derived rates.
func (o *Optimizer) Stats() OptimizerStats {
	s := OptimizerStats{
		Total:        o.total.Load(),
		Deduplicated: o.deduplicated.Load(),
		Batched:      o.batched.Load(),
		Retried:      o.retried.Load(),
		Failed:       o.failed.Load(),
	}
	if s.Total > 0 {
		s.SuccessRate = float64(s.Total-s.Failed) / float64(s.Total)
		s.DeduplicationRate = float64(s.Deduplicated) / float64(s.Total)
		s.BatchingRate = float64(s.Batched) / float64(s.Total)
	}
	return s
}

// Cleanup synchronously rejects all pending, batched and queued work with a
// terminal shutdown error and stops every timer. Safe to call more than
// once; the optimizer accepts no work afterwards.
func (o *Optimizer) Cleanup() {
	o.closeOnce.Do(func() {
		o.closed.Store(true)
		close(o.closedCh)

		err := closedError()
		o.dedup.reject(err)
		o.batches.reject(err)
		o.queue.reject(err)

		o.logDebug("optimizer cleaned up")
	})
}

func closedError() *Error {
	return newError(ErrorTypeUnknown, "optimizer shutting down", ErrOptimizerClosed)
}

func (o *Optimizer) logDebug(msg string, args ...any) {
	if o.logger != nil {
		o.logger.Debug(msg, args...)
	}
}

func (o *Optimizer) logWarn(msg string, args ...any) {
	if o.logger != nil {
		o.logger.Warn(msg, args...)
	}
}
