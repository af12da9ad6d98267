package requestopt

import (
	"context"
	"time"
)

// OpKind identifies the operation variant carried by a RequestConfig.
type OpKind string

const (
	KindSelect OpKind = "select"
	KindInsert OpKind = "insert"
	KindUpdate OpKind = "update"
	KindDelete OpKind = "delete"
	KindUpsert OpKind = "upsert"
)

// Operation is the sealed union of backend operations. Executors
// type-switch over the concrete variants; the marker method keeps the
// set closed so an unhandled variant is a local bug, not a remote one.
type Operation interface {
	Kind() OpKind
	isOperation()
}

// FilterOp is a predicate operator applied to a column.
type FilterOp string

const (
	FilterEq  FilterOp = "eq"
	FilterNeq FilterOp = "neq"
	FilterGt  FilterOp = "gt"
	FilterGte FilterOp = "gte"
	FilterLt  FilterOp = "lt"
	FilterLte FilterOp = "lte"
	FilterIn  FilterOp = "in"
)

// Filter is a single column predicate (equality, range or set membership).
type Filter struct {
	Column string
	Op     FilterOp
	Value  any
}

// Eq builds an equality filter.
func Eq(column string, value any) Filter { return Filter{Column: column, Op: FilterEq, Value: value} }

// Neq builds an inequality filter.
func Neq(column string, value any) Filter {
	return Filter{Column: column, Op: FilterNeq, Value: value}
}

// Gt builds a greater-than filter.
func Gt(column string, value any) Filter { return Filter{Column: column, Op: FilterGt, Value: value} }

// Gte builds a greater-or-equal filter.
func Gte(column string, value any) Filter {
	return Filter{Column: column, Op: FilterGte, Value: value}
}

// Lt builds a less-than filter.
func Lt(column string, value any) Filter { return Filter{Column: column, Op: FilterLt, Value: value} }

// Lte builds a less-or-equal filter.
func Lte(column string, value any) Filter {
	return Filter{Column: column, Op: FilterLte, Value: value}
}

// In builds a set membership filter.
func In(column string, values ...any) Filter {
	return Filter{Column: column, Op: FilterIn, Value: values}
}

// OrderBy describes one sort key of a select.
type OrderBy struct {
	Column     string
	Descending bool
}

// Range is a pagination window (inclusive offsets).
type Range struct {
	From int
	To   int
}

// Select reads rows from a table.
type Select struct {
	Filters []Filter
	Columns []string
	OrderBy []OrderBy
	Limit   int
	Range   *Range
	// Single asks the executor for exactly one row.
	Single bool
}

// Insert appends rows to a table.
type Insert struct {
	Rows []map[string]any
}

// Update mutates rows matching Filters.
type Update struct {
	Values  map[string]any
	Filters []Filter
}

// Delete removes rows matching Filters.
type Delete struct {
	Filters []Filter
}

// Upsert inserts rows, updating on conflict with OnConflict columns.
type Upsert struct {
	Rows       []map[string]any
	OnConflict string
}

func (Select) Kind() OpKind { return KindSelect }
func (Insert) Kind() OpKind { return KindInsert }
func (Update) Kind() OpKind { return KindUpdate }
func (Delete) Kind() OpKind { return KindDelete }
func (Upsert) Kind() OpKind { return KindUpsert }

func (Select) isOperation() {}
func (Insert) isOperation() {}
func (Update) isOperation() {}
func (Delete) isOperation() {}
func (Upsert) isOperation() {}

// RequestConfig describes one logical backend operation plus its execution
// hints. A config is immutable once submitted; build a new one per call.
type RequestConfig struct {
	Table string
	Op    Operation

	// CacheKey overrides the derived deduplication key.
	CacheKey string
	// CacheTTL bounds reuse of a settled result; zero means the default.
	CacheTTL time.Duration
	// SkipCache bypasses deduplication entirely for this call.
	SkipCache bool
	// RetryCount overrides the optimizer's max retries; negative means default.
	RetryCount int
	// Timeout races the executor against a timer; zero disables the race.
	Timeout time.Duration
}

// Response is the uniform result envelope. Exactly one of Data/Err is
// meaningful; both fields are always present for caller convenience.
type Response struct {
	Data       any
	Err        *Error
	Count      int
	Status     int
	StatusText string
	Cached     bool
	Timestamp  time.Time
}

// Executor performs a backend operation for a RequestConfig. It is the only
// external contract of this package: collaborators translate the config into
// a concrete backend call and the raw result into a Response.
type Executor func(ctx context.Context, cfg *RequestConfig) (*Response, error)

// RequestInterceptor transforms or rejects a config before execution.
// A nil field is skipped.
type RequestInterceptor struct {
	OnRequest      func(ctx context.Context, cfg *RequestConfig) (*RequestConfig, error)
	OnRequestError func(ctx context.Context, err error) error
}

// ResponseInterceptor transforms a response or translates errors after
// execution. A nil field is skipped.
type ResponseInterceptor struct {
	OnResponse      func(ctx context.Context, resp *Response) (*Response, error)
	OnResponseError func(ctx context.Context, err error) error
}

// Option configures a Client.
type Option func(*Client)
