package requestopt

import (
	"context"
	"crypto/sha256"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"
)

// dedupEntry represents an in-flight request shared between callers. The
// owner executes; joiners wait on done and observe the same settlement.
type dedupEntry struct {
	mu      sync.Mutex
	resp    *Response
	err     error
	done    chan struct{}
	settled bool
	created time.Time
	waiters int
}

// settle publishes the result exactly once and releases waiters.
func (e *dedupEntry) settle(resp *Response, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.settled {
		return
	}
	e.resp = resp
	e.err = err
	e.settled = true
	close(e.done)
}

// wait blocks until the owning request settles or the context cancels.
func (e *dedupEntry) wait(ctx context.Context) (*Response, error) {
	select {
	case <-e.done:
		e.mu.Lock()
		resp, err := e.resp, e.err
		e.mu.Unlock()
		return resp, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// dedupTracker coalesces concurrent identical requests. Entries older than
// the TTL are treated as stuck and replaced rather than joined.
type dedupTracker struct {
	mu      sync.Mutex
	entries map[string]*dedupEntry
}

func newDedupTracker() *dedupTracker {
	return &dedupTracker{entries: make(map[string]*dedupEntry)}
}

// getOrCreate returns an existing fresh entry (owner=false) or installs a
// new one (owner=true). The check and the map update happen under one lock
// so two callers can never both believe they created the entry.
func (dt *dedupTracker) getOrCreate(key string, ttl time.Duration) (*dedupEntry, bool) {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	if entry, ok := dt.entries[key]; ok && time.Since(entry.created) < ttl {
		entry.mu.Lock()
		entry.waiters++
		entry.mu.Unlock()
		return entry, false
	}

	entry := &dedupEntry{
		done:    make(chan struct{}),
		created: time.Now(),
		waiters: 1,
	}
	dt.entries[key] = entry
	return entry, true
}

// complete settles the entry and removes it from the map, unless a stale
// replacement already took the slot.
func (dt *dedupTracker) complete(key string, entry *dedupEntry, resp *Response, err error) {
	entry.settle(resp, err)

	dt.mu.Lock()
	if dt.entries[key] == entry {
		delete(dt.entries, key)
	}
	dt.mu.Unlock()
}

// reject settles every tracked entry with the given terminal error and
// clears the map. Used by Cleanup.
func (dt *dedupTracker) reject(err error) {
	dt.mu.Lock()
	entries := dt.entries
	dt.entries = make(map[string]*dedupEntry)
	dt.mu.Unlock()

	for _, entry := range entries {
		entry.settle(nil, err)
	}
}

func (dt *dedupTracker) len() int {
	dt.mu.Lock()
	defer dt.mu.Unlock()
	return len(dt.entries)
}

// KeyFunc builds the deduplication key for a config.
type KeyFunc func(cfg *RequestConfig) string

// DefaultKeyFunc derives a deterministic key from table, operation kind,
// projection, filters and write payload. An explicit CacheKey wins.
func DefaultKeyFunc(cfg *RequestConfig) string {
	if cfg.CacheKey != "" {
		return cfg.CacheKey
	}

	h := fnv.New64a()
	h.Write([]byte(cfg.Table))
	h.Write([]byte{':'})
	h.Write([]byte(cfg.Op.Kind()))

	var payload string
	switch op := cfg.Op.(type) {
	case Select:
		payload = canonicalSelect(op)
	case Insert:
		payload = canonicalRows(op.Rows)
	case Update:
		payload = canonicalMap(op.Values) + "|" + canonicalFilters(op.Filters)
	case Delete:
		payload = canonicalFilters(op.Filters)
	case Upsert:
		payload = canonicalRows(op.Rows) + "|" + op.OnConflict
	}

	// Large payloads are digested so keys stay bounded.
	sum := sha256.Sum256([]byte(payload))
	h.Write(sum[:])

	return fmt.Sprintf("%x", h.Sum64())
}

func canonicalSelect(op Select) string {
	var b strings.Builder
	b.WriteString(strings.Join(op.Columns, ","))
	b.WriteByte('|')
	b.WriteString(canonicalFilters(op.Filters))
	b.WriteByte('|')
	for _, o := range op.OrderBy {
		fmt.Fprintf(&b, "%s.%t;", o.Column, o.Descending)
	}
	fmt.Fprintf(&b, "|%d", op.Limit)
	if op.Range != nil {
		fmt.Fprintf(&b, "|%d-%d", op.Range.From, op.Range.To)
	}
	if op.Single {
		b.WriteString("|single")
	}
	return b.String()
}

func canonicalFilters(filters []Filter) string {
	parts := make([]string, len(filters))
	for i, f := range filters {
		parts[i] = fmt.Sprintf("%s.%s.%v", f.Column, f.Op, f.Value)
	}
	sort.Strings(parts)
	return strings.Join(parts, ";")
}

func canonicalMap(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%v;", k, m[k])
	}
	return b.String()
}

func canonicalRows(rows []map[string]any) string {
	parts := make([]string, len(rows))
	for i, row := range rows {
		parts[i] = canonicalMap(row)
	}
	return strings.Join(parts, "&")
}
