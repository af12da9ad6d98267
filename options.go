package requestopt

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// WithMaxRetries sets the maximum number of executor invocations per
// request. Negative disables retries.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.optCfg.MaxRetries = n
	}
}

// WithBackoffPolicy sets the retry delay policy.
func WithBackoffPolicy(p BackoffPolicy) Option {
	return func(c *Client) {
		c.optCfg.Backoff = p
	}
}

// WithBackoff sets the default exponential policy's parameters.
func WithBackoff(base, cap time.Duration, multiplier, jitter float64) Option {
	return func(c *Client) {
		p := NewExponentialBackoff()
		p.Base = base
		p.Cap = cap
		p.Multiplier = multiplier
		p.Jitter = jitter
		c.optCfg.Backoff = p
	}
}

// WithCircuitBreaker sets the circuit breaker configuration.
func WithCircuitBreaker(config BreakerConfig) Option {
	return func(c *Client) {
		c.optCfg.Breaker = NewCircuitBreaker(config)
	}
}

// WithClassifier sets a custom error classifier.
func WithClassifier(cl *Classifier) Option {
	return func(c *Client) {
		c.optCfg.Classifier = cl
	}
}

// WithRateLimiter enables token bucket admission control.
func WithRateLimiter(maxTokens int, refillRate time.Duration) Option {
	return func(c *Client) {
		c.optCfg.RateLimiter = NewRateLimiter(maxTokens, refillRate)
	}
}

// WithRetryBudget caps retries across all requests per window.
func WithRetryBudget(maxRetries int, perWindow time.Duration) Option {
	return func(c *Client) {
		c.optCfg.RetryBudget = NewRetryBudget(maxRetries, perWindow)
	}
}

// WithDedupTTL bounds how long an in-flight read may be joined.
func WithDedupTTL(ttl time.Duration) Option {
	return func(c *Client) {
		c.optCfg.DedupTTL = ttl
	}
}

// WithoutDeduplication disables read deduplication.
func WithoutDeduplication() Option {
	return func(c *Client) {
		c.optCfg.DisableDedup = true
	}
}

// WithKeyFunc overrides the deduplication key derivation.
func WithKeyFunc(fn KeyFunc) Option {
	return func(c *Client) {
		c.optCfg.KeyFunc = fn
	}
}

// WithBatching groups same-table reads into dispatch waves of up to size
// members, flushing a partial batch after timeout.
func WithBatching(size int, timeout time.Duration) Option {
	return func(c *Client) {
		c.optCfg.EnableBatching = true
		c.optCfg.BatchSize = size
		c.optCfg.BatchTimeout = timeout
	}
}

// WithMaxConcurrent bounds in-flight calls for queued and batched work.
func WithMaxConcurrent(n int) Option {
	return func(c *Client) {
		c.optCfg.MaxConcurrent = n
	}
}

// WithLogger enables structured debug logging.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.optCfg.Logger = logger
	}
}

// WithMetrics enables Prometheus metrics on the default registerer.
func WithMetrics() Option {
	return func(c *Client) {
		c.optCfg.Metrics = NewMetricsCollector()
	}
}

// WithMetricsCollector sets a custom metrics collector.
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(c *Client) {
		c.optCfg.Metrics = collector
	}
}

// WithOptimizer injects a fully constructed optimizer, ignoring the other
// optimizer-facing options.
func WithOptimizer(o *Optimizer) Option {
	return func(c *Client) {
		c.optimizer = o
	}
}

// WithRequestInterceptor registers a request interceptor at construction.
func WithRequestInterceptor(ri RequestInterceptor) Option {
	return func(c *Client) {
		c.reqInterceptors = append(c.reqInterceptors, ri)
	}
}

// WithResponseInterceptor registers a response interceptor at construction.
func WithResponseInterceptor(ri ResponseInterceptor) Option {
	return func(c *Client) {
		c.respInterceptors = append(c.respInterceptors, ri)
	}
}

// validate checks the assembled client and returns a validation typed
// error listing every problem found.
func (c *Client) validate() error {
	var problems []string

	if c.exec == nil {
		problems = append(problems, "executor cannot be nil")
	}
	if c.optimizer == nil {
		problems = append(problems, "optimizer cannot be nil")
	}

	if cfg := c.optCfg; cfg != nil {
		if cfg.BatchSize < 0 {
			problems = append(problems, "batch size must be non-negative")
		}
		if cfg.EnableBatching && cfg.BatchSize == 1 {
			problems = append(problems, "batch size of 1 defeats batching")
		}
		if cfg.BatchTimeout < 0 {
			problems = append(problems, "batch timeout must be non-negative")
		}
		if cfg.DedupTTL < 0 {
			problems = append(problems, "dedup TTL must be non-negative")
		}
		if cfg.MaxConcurrent < 0 {
			problems = append(problems, "max concurrent must be non-negative")
		}
		if cfg.MaxRetries > 100 {
			problems = append(problems, "maxRetries > 100 may cause excessive resource usage")
		}
		if cfg.RateLimiter != nil && cfg.RateLimiter.maxTokens <= 0 {
			problems = append(problems, "rate limiter maxTokens must be positive")
		}
	}

	if len(problems) > 0 {
		return &Error{
			Type:    ErrorTypeValidation,
			Message: "configuration validation failed",
			Cause:   fmt.Errorf("validation errors: %s", strings.Join(problems, "; ")),
		}
	}

	return nil
}
