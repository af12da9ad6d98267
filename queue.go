package requestopt

import (
	"container/heap"
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// queueItem is one prioritized request awaiting dispatch. Lower priority
// values are served first; ties dispatch in arrival order.
type queueItem struct {
	ctx      context.Context
	cfg      *RequestConfig
	exec     Executor
	priority int
	seq      uint64

	mu      sync.Mutex
	resp    *Response
	err     error
	settled bool
	done    chan struct{}
}

func (it *queueItem) settle(resp *Response, err error) {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.settled {
		return
	}
	it.resp = resp
	it.err = err
	it.settled = true
	close(it.done)
}

func (it *queueItem) wait(ctx context.Context) (*Response, error) {
	select {
	case <-it.done:
		it.mu.Lock()
		resp, err := it.resp, it.err
		it.mu.Unlock()
		return resp, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// itemHeap orders by priority ascending, FIFO among equal priorities.
type itemHeap []*queueItem

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h itemHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *itemHeap) Push(x any) { *h = append(*h, x.(*queueItem)) }
func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// priorityQueue dispatches queued requests in priority order while at most
// maxConcurrent calls are in flight. The scheduler goroutine starts lazily
// on the first enqueue and exits when the heap drains; only dispatch order
// is guaranteed, not completion order.
type priorityQueue struct {
	run runFunc
	sem *semaphore.Weighted

	mu      sync.Mutex
	items   itemHeap
	seq     uint64
	running bool
	closed  bool

	schedCtx    context.Context
	schedCancel context.CancelFunc
}

func newPriorityQueue(maxConcurrent int64, run runFunc) *priorityQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &priorityQueue{
		run:         run,
		sem:         semaphore.NewWeighted(maxConcurrent),
		schedCtx:    ctx,
		schedCancel: cancel,
	}
}

// enqueue adds a request and wakes the scheduler if it is not running.
func (q *priorityQueue) enqueue(ctx context.Context, cfg *RequestConfig, exec Executor, priority int) *queueItem {
	item := &queueItem{
		ctx:      ctx,
		cfg:      cfg,
		exec:     exec,
		priority: priority,
		done:     make(chan struct{}),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		item.settle(nil, closedError())
		return item
	}
	item.seq = q.seq
	q.seq++
	heap.Push(&q.items, item)
	start := !q.running
	if start {
		q.running = true
	}
	q.mu.Unlock()

	if start {
		go q.loop()
	}

	return item
}

// loop reserves a dispatch slot, then pops the lowest-priority item. The
// slot must come first: items stay in the heap while every slot is busy, so
// a higher-priority arrival can still overtake anything not yet dispatched.
// The loop terminates when the heap empties and is restarted by the next
// enqueue.
func (q *priorityQueue) loop() {
	for {
		if err := q.sem.Acquire(q.schedCtx, 1); err != nil {
			q.drain()
			return
		}

		q.mu.Lock()
		if q.closed {
			items := q.items
			q.items = nil
			q.running = false
			q.mu.Unlock()
			q.sem.Release(1)
			for _, it := range items {
				it.settle(nil, closedError())
			}
			return
		}
		if q.items.Len() == 0 {
			q.running = false
			q.mu.Unlock()
			q.sem.Release(1)
			return
		}
		item := heap.Pop(&q.items).(*queueItem)
		q.mu.Unlock()

		go func(it *queueItem) {
			defer q.sem.Release(1)
			resp, err := q.run(it.ctx, it.cfg, it.exec)
			it.settle(resp, err)
		}(item)
	}
}

// drain settles whatever is left after the scheduler context is cancelled.
func (q *priorityQueue) drain() {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.running = false
	q.mu.Unlock()

	for _, it := range items {
		it.settle(nil, closedError())
	}
}

// reject marks the queue closed, unblocks the scheduler and settles every
// queued item with the given terminal error.
func (q *priorityQueue) reject(err error) {
	q.mu.Lock()
	q.closed = true
	items := q.items
	q.items = nil
	q.mu.Unlock()

	q.schedCancel()

	for _, it := range items {
		it.settle(nil, err)
	}
}

func (q *priorityQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}
