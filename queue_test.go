package requestopt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// orderingRun records the priority of every non-blocker dispatch and parks
// the blocker until released, so tests control exactly when the single
// dispatch slot frees up.
func orderingRun(order *[]int, mu *sync.Mutex, started, release chan struct{}) runFunc {
	return func(ctx context.Context, cfg *RequestConfig, exec Executor) (*Response, error) {
		if cfg.Table == "blocker" {
			close(started)
			<-release
			return &Response{Status: 200}, nil
		}
		mu.Lock()
		*order = append(*order, cfg.RetryCount) // priority smuggled in RetryCount for the test
		mu.Unlock()
		return &Response{Status: 200}, nil
	}
}

func TestPriorityQueueOrdering(t *testing.T) {
	var mu sync.Mutex
	var order []int
	started := make(chan struct{})
	release := make(chan struct{})

	// One slot: the blocker occupies it while the rest pile up in the heap.
	q := newPriorityQueue(1, orderingRun(&order, &mu, started, release))
	ctx := context.Background()

	blocker := q.enqueue(ctx, &RequestConfig{Table: "blocker", Op: Select{}}, nil, 0)
	<-started

	var items []*queueItem
	for _, p := range []int{5, 1, 3} {
		items = append(items, q.enqueue(ctx, &RequestConfig{Table: "t", Op: Select{}, RetryCount: p}, nil, p))
	}

	close(release)
	blocker.wait(ctx)
	for _, it := range items {
		if _, err := it.wait(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	want := []int{1, 3, 5}
	if len(order) != len(want) {
		t.Fatalf("dispatched %d items, want %d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("dispatch order = %v, want %v", order, want)
			break
		}
	}
}

func TestPriorityQueueLateArrivalOvertakes(t *testing.T) {
	var mu sync.Mutex
	var order []int
	started := make(chan struct{})
	release := make(chan struct{})

	q := newPriorityQueue(1, orderingRun(&order, &mu, started, release))
	ctx := context.Background()

	blocker := q.enqueue(ctx, &RequestConfig{Table: "blocker", Op: Select{}}, nil, 0)
	<-started

	// A low-priority item waits in the heap while the slot is busy; a
	// higher-priority item arriving later must still dispatch first.
	low := q.enqueue(ctx, &RequestConfig{Table: "t", Op: Select{}, RetryCount: 5}, nil, 5)
	time.Sleep(10 * time.Millisecond)
	high := q.enqueue(ctx, &RequestConfig{Table: "t", Op: Select{}, RetryCount: 1}, nil, 1)

	close(release)
	blocker.wait(ctx)
	low.wait(ctx)
	high.wait(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != 1 || order[1] != 5 {
		t.Errorf("dispatch order = %v, want [1 5]", order)
	}
}

func TestPriorityQueueFIFOAmongEqual(t *testing.T) {
	var h itemHeap
	a := &queueItem{priority: 2, seq: 1}
	b := &queueItem{priority: 2, seq: 2}
	h = itemHeap{b, a}

	if !h.Less(1, 0) {
		t.Error("equal priorities must dispatch in arrival order")
	}
}

func TestPriorityQueueSchedulerRestarts(t *testing.T) {
	run := func(ctx context.Context, cfg *RequestConfig, exec Executor) (*Response, error) {
		return &Response{Status: 200}, nil
	}
	q := newPriorityQueue(2, run)
	ctx := context.Background()

	// Drain once, let the scheduler exit, then enqueue again.
	first := q.enqueue(ctx, &RequestConfig{Table: "t", Op: Select{}}, nil, 1)
	if _, err := first.wait(ctx); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	second := q.enqueue(ctx, &RequestConfig{Table: "t", Op: Select{}}, nil, 1)
	if _, err := second.wait(ctx); err != nil {
		t.Fatalf("second pass after idle: %v", err)
	}
}

func TestPriorityQueueRejectSettlesAll(t *testing.T) {
	release := make(chan struct{})
	run := func(ctx context.Context, cfg *RequestConfig, exec Executor) (*Response, error) {
		<-release
		return &Response{Status: 200}, nil
	}
	q := newPriorityQueue(1, run)
	ctx := context.Background()

	blocker := q.enqueue(ctx, &RequestConfig{Table: "blocker", Op: Select{}}, nil, 0)
	time.Sleep(20 * time.Millisecond)
	queued := q.enqueue(ctx, &RequestConfig{Table: "t", Op: Select{}}, nil, 1)

	q.reject(closedError())

	if _, err := queued.wait(ctx); !errors.Is(err, ErrOptimizerClosed) {
		t.Errorf("queued item error = %v, want ErrOptimizerClosed", err)
	}

	// Already-dispatched work still completes normally.
	close(release)
	if resp, err := blocker.wait(ctx); err != nil || resp.Status != 200 {
		t.Errorf("in-flight item: resp=%v err=%v", resp, err)
	}
}

func TestPriorityQueueEnqueueAfterReject(t *testing.T) {
	q := newPriorityQueue(1, func(ctx context.Context, cfg *RequestConfig, exec Executor) (*Response, error) {
		return &Response{Status: 200}, nil
	})
	q.reject(closedError())

	item := q.enqueue(context.Background(), &RequestConfig{Table: "t", Op: Select{}}, nil, 1)
	if _, err := item.wait(context.Background()); !errors.Is(err, ErrOptimizerClosed) {
		t.Errorf("err = %v, want ErrOptimizerClosed", err)
	}
	if q.depth() != 0 {
		t.Errorf("depth = %d after closed enqueue, want 0", q.depth())
	}
}
