package perf

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Default per-kind duration budgets. A statement running past its budget is
// flagged as slow; it is never failed on that account.
const (
	DefaultReadBudget   = 100 * time.Millisecond
	DefaultWriteBudget  = 200 * time.Millisecond
	DefaultSearchBudget = 300 * time.Millisecond
	DefaultBatchBudget  = 1000 * time.Millisecond
)

var (
	// queryDuration observes statement wall-clock time by kind.
	queryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Duration of database statements in seconds.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .2, .3, .5, 1, 2.5},
		},
		[]string{"type"},
	)

	// slowQueries counts budget violations by kind and table.
	slowQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_queries_total",
			Help: "Total number of statements that exceeded their duration budget.",
		},
		[]string{"type", "table"},
	)
)

func init() {
	prometheus.MustRegister(queryDuration, slowQueries)
}

// Metric is one executed statement's outcome. DurationMs always reflects
// wall-clock time from dispatch to completion or error.
type Metric struct {
	QueryHash  string
	QueryType  QueryType
	Table      string
	DurationMs int64
	Rows       int64
	CacheHit   bool
	Success    bool
	Timestamp  time.Time
}

// Config carries budget overrides keyed by statement kind; kinds not present
// keep their defaults.
type Config struct {
	Budgets map[QueryType]time.Duration
}

// Recorder persists Metric rows to the query_metrics table and emits a
// structured warning for budget violations. All methods are safe for
// concurrent use; the only mutable state is the write handle.
type Recorder struct {
	db      *sql.DB
	budgets map[QueryType]time.Duration
	log     zerolog.Logger
}

// NewRecorder builds a Recorder writing to db. The handle should be the same
// single writer the middleware wraps; metric inserts bypass the caching and
// recovery layers to avoid recursion.
func NewRecorder(db *sql.DB, cfg Config, log zerolog.Logger) *Recorder {
	budgets := map[QueryType]time.Duration{
		TypeRead:    DefaultReadBudget,
		TypeWrite:   DefaultWriteBudget,
		TypeSearch:  DefaultSearchBudget,
		TypeBatch:   DefaultBatchBudget,
		TypeUnknown: DefaultWriteBudget,
	}
	for k, v := range cfg.Budgets {
		if v > 0 {
			budgets[k] = v
		}
	}
	return &Recorder{db: db, budgets: budgets, log: log}
}

// BudgetFor returns the duration budget for a statement kind.
func (r *Recorder) BudgetFor(qt QueryType) time.Duration {
	if b, ok := r.budgets[qt]; ok {
		return b
	}
	return r.budgets[TypeUnknown]
}

// IsOverBudget reports whether the metric's duration exceeds its kind's
// budget.
func (r *Recorder) IsOverBudget(m Metric) bool {
	return time.Duration(m.DurationMs)*time.Millisecond > r.BudgetFor(m.QueryType)
}

// Record persists the metric and updates the Prometheus collectors. Insert
// failures are logged and swallowed: telemetry must never fail the caller's
// operation.
func (r *Recorder) Record(ctx context.Context, m Metric) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}

	queryDuration.WithLabelValues(string(m.QueryType)).
		Observe(float64(m.DurationMs) / 1000)

	if r.IsOverBudget(m) {
		slowQueries.WithLabelValues(string(m.QueryType), m.Table).Inc()
		r.log.Warn().
			Str("query_hash", m.QueryHash).
			Str("query_type", string(m.QueryType)).
			Str("table", m.Table).
			Int64("duration_ms", m.DurationMs).
			Int64("budget_ms", r.BudgetFor(m.QueryType).Milliseconds()).
			Msg("statement exceeded duration budget")
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO query_metrics
		   (id, query_hash, query_type, table_name, duration_ms, rows_returned, cache_hit, success, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), m.QueryHash, string(m.QueryType), m.Table,
		m.DurationMs, m.Rows, m.CacheHit, m.Success, m.Timestamp)
	if err != nil {
		r.log.Warn().Err(err).Msg("failed to persist query metric")
	}
}
