package requestopt

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Client is the ergonomic front door of the optimization layer. It builds
// RequestConfig values from CRUD-style verbs, runs them through the
// interceptor pipelines and the Optimizer, and aggregates runtime metrics.
// It is safe for concurrent use.
type Client struct {
	exec      Executor
	optimizer *Optimizer

	mu               sync.RWMutex
	reqInterceptors  []RequestInterceptor
	respInterceptors []ResponseInterceptor

	requests atomic.Uint64
	failures atomic.Uint64

	// optCfg stages optimizer configuration until New finishes applying
	// options; nil afterwards.
	optCfg          *OptimizerConfig
	validationError error
}

// New constructs a Client around the given backend executor using the
// provided functional options. A best effort validation is performed; call
// IsValid / ValidationError for errors.
func New(exec Executor, options ...Option) *Client {
	client := &Client{
		exec:   exec,
		optCfg: &OptimizerConfig{},
	}

	for _, option := range options {
		option(client)
	}

	if client.optimizer == nil {
		client.optimizer = NewOptimizer(*client.optCfg)
	}
	client.validationError = client.validate()
	client.optCfg = nil

	return client
}

// Select reads rows from table matching the filters.
func (c *Client) Select(ctx context.Context, table string, filters ...Filter) (*Response, error) {
	return c.Do(ctx, &RequestConfig{Table: table, Op: Select{Filters: filters}})
}

// SelectSingle reads exactly one row from table matching the filters.
func (c *Client) SelectSingle(ctx context.Context, table string, filters ...Filter) (*Response, error) {
	return c.Do(ctx, &RequestConfig{Table: table, Op: Select{Filters: filters, Single: true}})
}

// Query reads rows with full control over projection, ordering and paging.
func (c *Client) Query(ctx context.Context, table string, op Select) (*Response, error) {
	return c.Do(ctx, &RequestConfig{Table: table, Op: op})
}

// Insert appends rows to table.
func (c *Client) Insert(ctx context.Context, table string, rows ...map[string]any) (*Response, error) {
	return c.Do(ctx, &RequestConfig{Table: table, Op: Insert{Rows: rows}})
}

// Update mutates rows matching the filters.
func (c *Client) Update(ctx context.Context, table string, values map[string]any, filters ...Filter) (*Response, error) {
	return c.Do(ctx, &RequestConfig{Table: table, Op: Update{Values: values, Filters: filters}})
}

// Delete removes rows matching the filters.
func (c *Client) Delete(ctx context.Context, table string, filters ...Filter) (*Response, error) {
	return c.Do(ctx, &RequestConfig{Table: table, Op: Delete{Filters: filters}})
}

// Upsert inserts rows, updating on conflict with the onConflict columns.
func (c *Client) Upsert(ctx context.Context, table string, onConflict string, rows ...map[string]any) (*Response, error) {
	return c.Do(ctx, &RequestConfig{Table: table, Op: Upsert{Rows: rows, OnConflict: onConflict}})
}

// Batch executes several configs concurrently, each settling on its own.
// The returned slice is positional; per-call failures are mirrored into
// each Response envelope rather than failing siblings.
func (c *Client) Batch(ctx context.Context, cfgs ...*RequestConfig) []*Response {
	responses := make([]*Response, len(cfgs))

	var wg sync.WaitGroup
	for i, cfg := range cfgs {
		wg.Add(1)
		go func(i int, cfg *RequestConfig) {
			defer wg.Done()
			resp, err := c.Do(ctx, cfg)
			if resp == nil {
				resp = envelope(nil, c.asTyped(err))
			}
			responses[i] = resp
		}(i, cfg)
	}
	wg.Wait()

	return responses
}

// PriorityQuery submits a read through the priority queue; lower priority
// values dispatch first.
func (c *Client) PriorityQuery(ctx context.Context, table string, priority int, op Select) (*Response, error) {
	cfg := &RequestConfig{Table: table, Op: op}

	c.requests.Add(1)
	cfg, ierr := c.applyRequestInterceptors(ctx, cfg)
	if ierr != nil {
		c.failures.Add(1)
		return envelope(nil, ierr), ierr
	}

	resp, err := c.optimizer.QueueRequest(ctx, cfg, c.exec, priority)
	return c.finish(ctx, resp, err)
}

// Do runs an arbitrary prepared config through the full pipeline.
func (c *Client) Do(ctx context.Context, cfg *RequestConfig) (*Response, error) {
	c.requests.Add(1)

	cfg, ierr := c.applyRequestInterceptors(ctx, cfg)
	if ierr != nil {
		c.failures.Add(1)
		return envelope(nil, ierr), ierr
	}

	resp, err := c.optimizer.OptimizeRequest(ctx, cfg, c.exec)
	return c.finish(ctx, resp, err)
}

// finish applies response interceptors and normalizes the result into the
// dual (envelope, error) surface.
func (c *Client) finish(ctx context.Context, resp *Response, err error) (*Response, error) {
	if err != nil {
		c.failures.Add(1)
		translated := c.applyResponseErrorInterceptors(ctx, err)
		typed := c.asTyped(translated)
		return envelope(resp, typed), typed
	}

	resp, ierr := c.applyResponseInterceptors(ctx, resp)
	if ierr != nil {
		c.failures.Add(1)
		return envelope(nil, ierr), ierr
	}
	if resp != nil && resp.Timestamp.IsZero() {
		resp.Timestamp = time.Now()
	}
	return resp, nil
}

// AddRequestInterceptor appends an interceptor applied, in registration
// order, to every config before execution.
func (c *Client) AddRequestInterceptor(ri RequestInterceptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reqInterceptors = append(c.reqInterceptors, ri)
}

// AddResponseInterceptor appends an interceptor applied, in registration
// order, to every response (or error) after execution.
func (c *Client) AddResponseInterceptor(ri ResponseInterceptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.respInterceptors = append(c.respInterceptors, ri)
}

// applyRequestInterceptors runs the request pipeline. An interceptor error
// aborts the pipeline; the remaining OnRequestError hooks may translate it.
func (c *Client) applyRequestInterceptors(ctx context.Context, cfg *RequestConfig) (*RequestConfig, *Error) {
	c.mu.RLock()
	interceptors := c.reqInterceptors
	c.mu.RUnlock()

	for _, ri := range interceptors {
		if ri.OnRequest == nil {
			continue
		}
		next, err := ri.OnRequest(ctx, cfg)
		if err != nil {
			for _, rj := range interceptors {
				if rj.OnRequestError != nil {
					err = rj.OnRequestError(ctx, err)
				}
			}
			return nil, c.asTyped(err)
		}
		if next != nil {
			cfg = next
		}
	}
	return cfg, nil
}

func (c *Client) applyResponseInterceptors(ctx context.Context, resp *Response) (*Response, *Error) {
	c.mu.RLock()
	interceptors := c.respInterceptors
	c.mu.RUnlock()

	for _, ri := range interceptors {
		if ri.OnResponse == nil {
			continue
		}
		next, err := ri.OnResponse(ctx, resp)
		if err != nil {
			return nil, c.asTyped(err)
		}
		if next != nil {
			resp = next
		}
	}
	return resp, nil
}

func (c *Client) applyResponseErrorInterceptors(ctx context.Context, err error) error {
	c.mu.RLock()
	interceptors := c.respInterceptors
	c.mu.RUnlock()

	for _, ri := range interceptors {
		if ri.OnResponseError != nil {
			err = ri.OnResponseError(ctx, err)
		}
	}
	return err
}

// asTyped guarantees an *Error crosses the client boundary.
func (c *Client) asTyped(err error) *Error {
	if err == nil {
		return nil
	}
	return c.optimizer.classifier.Classify(err)
}

// envelope builds a terminal Response mirroring the typed error, so both
// caller surfaces are always populated.
func envelope(resp *Response, err *Error) *Response {
	if resp == nil {
		resp = &Response{}
	}
	if resp.Timestamp.IsZero() {
		resp.Timestamp = time.Now()
	}
	resp.Err = err
	return resp
}

// ClientMetrics summarizes client health. Rates are fractions in [0, 1];
// EfficiencyScore is a 0-100 composite.
type ClientMetrics struct {
	Requests uint64
	Failures uint64
	Retries  uint64

	FailureRate       float64
	DeduplicationRate float64
	BatchingRate      float64
	RetryRate         float64

	EfficiencyScore float64
}

// Metrics derives the efficiency score from the running counters: start at
// 100, subtract 2 per failure percent and 0.5 per retry percent, add 0.5
// per dedup percent and 0.3 per batching percent, clamped to [0, 100].
func (c *Client) Metrics() ClientMetrics {
	stats := c.optimizer.Stats()

	m := ClientMetrics{
		Requests:          c.requests.Load(),
		Failures:          c.failures.Load(),
		Retries:           stats.Retried,
		DeduplicationRate: stats.DeduplicationRate,
		BatchingRate:      stats.BatchingRate,
	}
	if m.Requests > 0 {
		m.FailureRate = float64(m.Failures) / float64(m.Requests)
		m.RetryRate = float64(m.Retries) / float64(m.Requests)
	}

	score := 100.0
	score -= 2.0 * m.FailureRate * 100
	score += 0.5*m.DeduplicationRate*100 + 0.3*m.BatchingRate*100
	score -= 0.5 * m.RetryRate * 100
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	m.EfficiencyScore = score

	return m
}

// Stats exposes the underlying optimizer counters.
func (c *Client) Stats() OptimizerStats {
	return c.optimizer.Stats()
}

// Close rejects all pending work and stops the optimizer's timers.
func (c *Client) Close() {
	c.optimizer.Cleanup()
}

// IsValid reports whether configuration validation passed at construction.
func (c *Client) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (c *Client) ValidationError() error {
	return c.validationError
}
