package requestopt

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// batchMember is one pending request inside a batch. Members settle
// independently: a sibling's failure never fails the others.
type batchMember struct {
	ctx  context.Context
	cfg  *RequestConfig
	exec Executor

	mu      sync.Mutex
	resp    *Response
	err     error
	settled bool
	done    chan struct{}
}

func (m *batchMember) settle(resp *Response, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settled {
		return
	}
	m.resp = resp
	m.err = err
	m.settled = true
	close(m.done)
}

func (m *batchMember) wait(ctx context.Context) (*Response, error) {
	select {
	case <-m.done:
		m.mu.Lock()
		resp, err := m.resp, m.err
		m.mu.Unlock()
		return resp, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// requestBatch collects same-table reads issued within a short window.
// Exactly one open batch exists per key at any time.
type requestBatch struct {
	key     string
	members []*batchMember
	timer   *time.Timer
}

// runFunc executes one batch member through the retry pipeline.
type runFunc func(ctx context.Context, cfg *RequestConfig, exec Executor) (*Response, error)

// batcher groups reads per table:operation and flushes each batch when it
// reaches size members or when its timer fires, whichever first. Flushing
// dispatches every member in parallel, bounded by the shared semaphore.
type batcher struct {
	size    int
	timeout time.Duration
	run     runFunc
	sem     *semaphore.Weighted
	// onFlush observes each flush with its trigger ("size" or "timeout").
	onFlush func(trigger string)

	mu      sync.Mutex
	batches map[string]*requestBatch
}

func newBatcher(size int, timeout time.Duration, maxParallel int64, run runFunc) *batcher {
	return &batcher{
		size:    size,
		timeout: timeout,
		run:     run,
		sem:     semaphore.NewWeighted(maxParallel),
		batches: make(map[string]*requestBatch),
	}
}

// add appends the request to the open batch for its key, creating one (and
// arming its timer) if needed. Check and append happen under one lock.
func (b *batcher) add(ctx context.Context, key string, cfg *RequestConfig, exec Executor) *batchMember {
	member := &batchMember{
		ctx:  ctx,
		cfg:  cfg,
		exec: exec,
		done: make(chan struct{}),
	}

	b.mu.Lock()
	batch, ok := b.batches[key]
	if !ok {
		batch = &requestBatch{key: key}
		batch.timer = time.AfterFunc(b.timeout, func() {
			b.flushKey(key, batch)
		})
		b.batches[key] = batch
	}
	batch.members = append(batch.members, member)

	full := len(batch.members) >= b.size
	if full {
		batch.timer.Stop()
		delete(b.batches, key)
	}
	b.mu.Unlock()

	if full {
		if b.onFlush != nil {
			b.onFlush("size")
		}
		go b.dispatch(batch)
	}

	return member
}

// flushKey is the timer path: it flushes the batch only if it is still the
// open one, so a size-triggered flush racing the timer wins cleanly.
func (b *batcher) flushKey(key string, batch *requestBatch) {
	b.mu.Lock()
	if b.batches[key] != batch {
		b.mu.Unlock()
		return
	}
	delete(b.batches, key)
	b.mu.Unlock()

	if b.onFlush != nil {
		b.onFlush("timeout")
	}
	b.dispatch(batch)
}

// dispatch executes every member of a flushed batch in parallel. This is
// logical batching of intent, not a backend-level join: each member keeps
// its own config and settles on its own.
func (b *batcher) dispatch(batch *requestBatch) {
	var wg sync.WaitGroup
	for _, member := range batch.members {
		wg.Add(1)
		go func(m *batchMember) {
			defer wg.Done()
			if err := b.sem.Acquire(m.ctx, 1); err != nil {
				m.settle(nil, err)
				return
			}
			defer b.sem.Release(1)

			resp, err := b.run(m.ctx, m.cfg, m.exec)
			m.settle(resp, err)
		}(member)
	}
	wg.Wait()
}

// reject settles every queued member with the given terminal error, stops
// all batch timers and clears the map. Used by Cleanup.
func (b *batcher) reject(err error) {
	b.mu.Lock()
	batches := b.batches
	b.batches = make(map[string]*requestBatch)
	b.mu.Unlock()

	for _, batch := range batches {
		batch.timer.Stop()
		for _, member := range batch.members {
			member.settle(nil, err)
		}
	}
}

func (b *batcher) pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, batch := range b.batches {
		n += len(batch.members)
	}
	return n
}
