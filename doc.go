// Package requestopt provides a request optimization and resilience layer
// for tabular data backends, with composable reliability primitives:
//
//   - De‑duplication of concurrent identical reads (merges in‑flight calls;
//     a TTL bounds how long a stuck call may be joined)
//   - Opportunistic batching of same‑table reads (size or timer triggered)
//   - Classification‑driven retries with exponential backoff + jitter
//   - Circuit breaker (open / half‑open / closed states)
//   - Bounded‑concurrency priority scheduling
//   - Token bucket rate limiting and a global retry budget
//   - Prometheus metrics and structured slog logging
//
// Design goals:
//   - Small surface area – functional options configure everything
//   - The backend stays opaque: callers supply an Executor that turns a
//     RequestConfig into a Response envelope
//   - No raw errors cross the boundary – every failure is normalized into
//     the closed *Error taxonomy
//   - Safe concurrent use of a single *Client / *Optimizer instance
//
// Typical usage:
//
//	client := requestopt.New(exec,
//	    requestopt.WithMaxRetries(3),
//	    requestopt.WithBatching(10, 50*time.Millisecond),
//	    requestopt.WithCircuitBreaker(requestopt.BreakerConfig{}),
//	    requestopt.WithMetrics(),
//	)
//	resp, err := client.Select(ctx, "tasks", requestopt.Eq("status", "open"))
//
// Only idempotent reads are de‑duplicated and batched by default; writes go
// straight through the retry/breaker path. Call Client.Close (or
// Optimizer.Cleanup) on shutdown to reject pending work and stop timers.
package requestopt
