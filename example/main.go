// Command example demonstrates the request optimization layer against an
// in-memory table store standing in for a real backend.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"sync"
	"time"

	requestopt "github.com/ganatejadragneel/selfpm-sub002"
)

// memStore is a toy backend: a map of tables to rows, with artificial
// latency and a configurable failure rate.
type memStore struct {
	mu       sync.RWMutex
	tables   map[string][]map[string]any
	failRate float64
}

func (s *memStore) execute(ctx context.Context, cfg *requestopt.RequestConfig) (*requestopt.Response, error) {
	time.Sleep(20 * time.Millisecond)

	if rand.Float64() < s.failRate {
		return nil, &requestopt.StatusError{Status: 503, StatusText: "backend overloaded"}
	}

	switch op := cfg.Op.(type) {
	case requestopt.Select:
		s.mu.RLock()
		var out []map[string]any
		for _, row := range s.tables[cfg.Table] {
			if matches(row, op.Filters) {
				out = append(out, row)
			}
		}
		s.mu.RUnlock()
		return &requestopt.Response{Data: out, Count: len(out), Status: 200, Timestamp: time.Now()}, nil
	case requestopt.Insert:
		s.mu.Lock()
		s.tables[cfg.Table] = append(s.tables[cfg.Table], op.Rows...)
		s.mu.Unlock()
		return &requestopt.Response{Data: op.Rows, Count: len(op.Rows), Status: 201, Timestamp: time.Now()}, nil
	case requestopt.Update, requestopt.Delete, requestopt.Upsert:
		return &requestopt.Response{Status: 200, Timestamp: time.Now()}, nil
	default:
		return nil, &requestopt.StatusError{Status: 400, StatusText: "unsupported operation"}
	}
}

func matches(row map[string]any, filters []requestopt.Filter) bool {
	for _, f := range filters {
		if f.Op == requestopt.FilterEq && row[f.Column] != f.Value {
			return false
		}
	}
	return true
}

func main() {
	store := &memStore{
		tables: map[string][]map[string]any{
			"tasks": {
				{"id": 1, "title": "write report", "status": "open"},
				{"id": 2, "title": "review PR", "status": "done"},
			},
		},
		failRate: 0.2,
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

	client := requestopt.New(store.execute,
		requestopt.WithMaxRetries(3),
		requestopt.WithBackoff(50*time.Millisecond, 2*time.Second, 2.0, 0.1),
		requestopt.WithBatching(5, 30*time.Millisecond),
		requestopt.WithCircuitBreaker(requestopt.BreakerConfig{FailureThreshold: 10}),
		requestopt.WithLogger(logger),
	)
	defer client.Close()

	ctx := context.Background()

	// Ten identical concurrent reads collapse into a single backend call.
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if resp, err := client.Select(ctx, "tasks", requestopt.Eq("status", "open")); err != nil {
				fmt.Println("select failed:", err)
			} else {
				fmt.Println("rows:", resp.Count)
			}
		}()
	}
	wg.Wait()

	if _, err := client.Insert(ctx, "tasks", map[string]any{"id": 3, "title": "ship release", "status": "open"}); err != nil {
		fmt.Println("insert failed:", err)
	}

	// A low-priority background read via the bounded-concurrency queue.
	if resp, err := client.PriorityQuery(ctx, "tasks", 5, requestopt.Select{Columns: []string{"id", "title"}}); err != nil {
		fmt.Println("priority query failed:", err)
	} else {
		fmt.Println("queued query rows:", resp.Count)
	}

	m := client.Metrics()
	fmt.Printf("requests=%d failures=%d dedup=%.0f%% batched=%.0f%% efficiency=%.1f\n",
		m.Requests, m.Failures, m.DeduplicationRate*100, m.BatchingRate*100, m.EfficiencyScore)
}
