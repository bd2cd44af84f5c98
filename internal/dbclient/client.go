// Package dbclient is the execution surface the rest of the application
// uses to talk to SQLite. Every statement is routed through the resilience
// middleware: the circuit breaker guards the call, the query cache serves
// eligible reads, the performance recorder logs timing against budgets, and
// failures run through classification and recovery with at most one
// transparent retry.
//
// The client never converts a failed statement into a silent success: a
// caller receives either a successful result or the original error
// unchanged. Diagnostic detail (category, severity, recovery outcome) is
// available only through the observability accessors.
package dbclient

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/mwestcott/skyfolio/internal/breaker"
	"github.com/mwestcott/skyfolio/internal/dberr"
	"github.com/mwestcott/skyfolio/internal/perf"
	"github.com/mwestcott/skyfolio/internal/querycache"
)

var cacheRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "db_cache_requests_total",
		Help: "Query cache lookups by outcome.",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(cacheRequests)
}

// Statement is one parameterized statement of a transaction.
type Statement struct {
	SQL    string
	Params []any
}

// Options controls per-call middleware behavior.
type Options struct {
	UseCache    bool          // serve/populate the query cache (reads only)
	CacheTTL    time.Duration // TTL for a populated entry; 0 means cache default
	SkipLogging bool          // suppress the performance metric for this call
}

// Result is the outcome of an executed statement. Rows is populated for
// reads, RowsAffected/LastInsertID for writes. Cached Results are shared
// between callers and must be treated as read-only.
type Result struct {
	Rows         []map[string]any `json:"rows,omitempty"`
	RowsAffected int64            `json:"rows_affected"`
	LastInsertID int64            `json:"last_insert_id"`
	FromCache    bool             `json:"from_cache"`
}

// Client wires the middleware components around a single writer handle.
// All components are injected: the client owns no global state and one
// instance serves one logical database.
type Client struct {
	db       *sql.DB
	cache    *querycache.Cache
	recorder *perf.Recorder
	recovery *dberr.Engine
	breaker  *breaker.Breaker[*Result]
	log      zerolog.Logger
}

// New assembles a Client from explicitly constructed components.
func New(
	db *sql.DB,
	cache *querycache.Cache,
	recorder *perf.Recorder,
	recovery *dberr.Engine,
	br *breaker.Breaker[*Result],
	log zerolog.Logger,
) *Client {
	return &Client{
		db:       db,
		cache:    cache,
		recorder: recorder,
		recovery: recovery,
		breaker:  br,
		log:      log,
	}
}

// Run executes one parameterized statement through the full middleware
// chain: breaker -> cache-aware execute -> recorder -> classification and
// recovery with at most one transparent retry.
func (c *Client) Run(ctx context.Context, query string, params []any, opts Options) (*Result, error) {
	return c.breaker.Execute(func() (*Result, error) {
		return c.cacheAwareExecute(ctx, query, params, opts)
	})
}

// RunTransaction executes the statements atomically on the single writer:
// begin, each statement in order, commit; any failure rolls the whole batch
// back. The batch is recorded as one metric of kind batch. Like Run, a
// recovered retryable failure earns the batch one transparent retry.
func (c *Client) RunTransaction(ctx context.Context, stmts []Statement) error {
	if len(stmts) == 0 {
		return nil
	}
	_, err := c.breaker.Execute(func() (*Result, error) {
		res, err := c.runTxOnce(ctx, stmts)
		if err == nil {
			return res, nil
		}

		outcome := c.recovery.Handle(ctx, err, "transaction")
		if outcome.Recovered && outcome.Retryable {
			if res, rerr := c.runTxOnce(ctx, stmts); rerr == nil {
				return res, nil
			}
		}
		return nil, err
	})
	return err
}

// HandleError exposes classification + recovery + retry-gate evaluation for
// callers that want manual control. It never fails.
func (c *Client) HandleError(ctx context.Context, err error, callContext string) dberr.Outcome {
	return c.recovery.Handle(ctx, err, callContext)
}

// Observability accessors used by the HTTP layer, the maintenance runner,
// and the analytics aggregator.

// Cache returns the shared query cache.
func (c *Client) Cache() *querycache.Cache { return c.cache }

// Recovery returns the error classification and recovery engine.
func (c *Client) Recovery() *dberr.Engine { return c.recovery }

// Breaker returns the circuit breaker guarding this client.
func (c *Client) Breaker() *breaker.Breaker[*Result] { return c.breaker }

// Recorder returns the performance recorder.
func (c *Client) Recorder() *perf.Recorder { return c.recorder }

// DB returns the raw handle for administrative statements (maintenance,
// analytics reads). It bypasses the middleware on purpose.
func (c *Client) DB() *sql.DB { return c.db }

// cacheAwareExecute checks the cache for eligible reads, executes on miss,
// records telemetry, and drives recovery on failure.
func (c *Client) cacheAwareExecute(ctx context.Context, query string, params []any, opts Options) (*Result, error) {
	queryType, table := perf.Parse(query)
	key := querycache.Key(query, params)
	cacheable := opts.UseCache && (queryType == perf.TypeRead || queryType == perf.TypeSearch)

	if cacheable {
		if v, ok := c.cache.Get(key); ok {
			cacheRequests.WithLabelValues("hit").Inc()
			cached := v.(*Result)
			hit := *cached
			hit.FromCache = true
			if !opts.SkipLogging {
				c.recorder.Record(ctx, perf.Metric{
					QueryHash: key,
					QueryType: queryType,
					Table:     table,
					Rows:      int64(len(cached.Rows)),
					CacheHit:  true,
					Success:   true,
				})
			}
			return &hit, nil
		}
		cacheRequests.WithLabelValues("miss").Inc()
	}

	res, err := c.timedExecute(ctx, query, params, key, queryType, table, opts)
	if err == nil {
		c.afterSuccess(res, query, params, key, queryType, table, opts, cacheable)
		return res, nil
	}

	outcome := c.recovery.Handle(ctx, err, fmt.Sprintf("%s %s", queryType, table))
	if outcome.Recovered && outcome.Retryable {
		if res, rerr := c.timedExecute(ctx, query, params, key, queryType, table, opts); rerr == nil {
			c.afterSuccess(res, query, params, key, queryType, table, opts, cacheable)
			return res, nil
		}
		c.log.Debug().
			Str("table", table).
			Str("category", string(outcome.Classified.Category)).
			Msg("statement failed again after recovery retry")
	}
	// Second failure, non-retryable, or unrecovered: the caller gets the
	// original error unchanged in shape.
	return nil, err
}

// afterSuccess maintains cache coherence: successful writes invalidate
// every cached read tagged with the mutated table, successful cacheable
// reads populate the cache.
func (c *Client) afterSuccess(res *Result, query string, params []any, key string, queryType perf.QueryType, table string, opts Options, cacheable bool) {
	switch {
	case queryType == perf.TypeWrite && table != "unknown":
		if n := c.cache.Invalidate(table); n > 0 {
			c.log.Debug().Str("table", table).Int("entries", n).Msg("cache invalidated after write")
		}
	case cacheable:
		c.cache.Set(key, res, opts.CacheTTL, table)
	}
}

// timedExecute runs the statement and records one metric reflecting
// wall-clock time from dispatch to completion or error.
func (c *Client) timedExecute(ctx context.Context, query string, params []any, key string, queryType perf.QueryType, table string, opts Options) (*Result, error) {
	start := time.Now()
	res, err := c.execute(ctx, query, params, queryType)
	elapsed := time.Since(start)

	if !opts.SkipLogging {
		m := perf.Metric{
			QueryHash:  key,
			QueryType:  queryType,
			Table:      table,
			DurationMs: elapsed.Milliseconds(),
			Success:    err == nil,
		}
		if res != nil {
			m.Rows = int64(len(res.Rows))
			if queryType == perf.TypeWrite {
				m.Rows = res.RowsAffected
			}
		}
		c.recorder.Record(ctx, m)
	}
	return res, err
}

// execute dispatches to Query or Exec depending on the statement kind.
func (c *Client) execute(ctx context.Context, query string, params []any, queryType perf.QueryType) (*Result, error) {
	if queryType == perf.TypeWrite {
		out, err := c.db.ExecContext(ctx, query, params...)
		if err != nil {
			return nil, err
		}
		res := &Result{}
		res.RowsAffected, _ = out.RowsAffected()
		res.LastInsertID, _ = out.LastInsertId()
		return res, nil
	}

	rows, err := c.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

// runTxOnce is a single all-or-nothing pass over the batch.
func (c *Client) runTxOnce(ctx context.Context, stmts []Statement) (*Result, error) {
	start := time.Now()
	affected, err := c.execTx(ctx, stmts)
	elapsed := time.Since(start)

	c.recorder.Record(ctx, perf.Metric{
		QueryHash:  querycache.Key(stmts[0].SQL, stmts[0].Params),
		QueryType:  perf.TypeBatch,
		Table:      "transaction",
		DurationMs: elapsed.Milliseconds(),
		Rows:       affected,
		Success:    err == nil,
	})
	if err != nil {
		return nil, err
	}

	// Writers in the batch invalidate their tables' cached reads.
	for _, s := range stmts {
		if qt, table := perf.Parse(s.SQL); qt == perf.TypeWrite && table != "unknown" {
			c.cache.Invalidate(table)
		}
	}
	return &Result{RowsAffected: affected}, nil
}

func (c *Client) execTx(ctx context.Context, stmts []Statement) (int64, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}

	var affected int64
	for _, s := range stmts {
		out, err := tx.ExecContext(ctx, s.SQL, s.Params...)
		if err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		if n, aerr := out.RowsAffected(); aerr == nil {
			affected += n
		}
	}
	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	return affected, nil
}

// scanRows materializes a generic row set. []byte cells are copied to
// strings so the result stays valid after the rows are closed (and can sit
// in the cache).
func scanRows(rows *sql.Rows) (*Result, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	res := &Result{}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = vals[i]
			}
		}
		res.Rows = append(res.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	res.RowsAffected = int64(len(res.Rows))
	return res, nil
}
