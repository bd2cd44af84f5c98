package dberr

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// maxErrorLog bounds the in-memory classified error log; older entries are
// trimmed as new failures arrive.
const maxErrorLog = 500

// retryBudget caps transparent retries for the retryable categories.
const retryBudget = 3

var (
	dbErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_errors_total",
			Help: "Total classified database errors by category and severity.",
		},
		[]string{"category", "severity"},
	)

	dbRecoveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_recovery_attempts_total",
			Help: "Total recovery strategy attempts by strategy and outcome.",
		},
		[]string{"strategy", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(dbErrors, dbRecoveries)
}

// Strategy is a named, bounded remediation for one or more error
// categories. Attempt may suspend the calling goroutine for its backoff
// delay, but must not block other callers of the engine.
type Strategy interface {
	Name() string
	CanRecover(e *ClassifiedError) bool
	MaxAttempts() int
	Attempt(ctx context.Context, e *ClassifiedError) error
}

// Outcome is the result of one Handle call.
type Outcome struct {
	Recovered  bool
	Retryable  bool
	Classified *ClassifiedError
}

// RecoveryStat aggregates handled errors for one category.
type RecoveryStat struct {
	Total     int `json:"total"`
	Recovered int `json:"recovered"`
}

// Engine classifies failures, runs recovery strategies in declaration
// order, and keeps a bounded log of everything it has seen. Safe for
// concurrent use; strategy backoffs sleep outside the engine lock.
type Engine struct {
	strategies []Strategy
	log        zerolog.Logger

	mu     sync.Mutex
	errors []*ClassifiedError
}

// NewEngine builds an Engine with the built-in strategy set bound to the
// given raw handle. The order matters: it is the declaration order the
// spec of each category expects.
func NewEngine(db *sql.DB, log zerolog.Logger) *Engine {
	sleep := time.Sleep
	return NewEngineWithStrategies(log,
		&connectionRetry{db: db, sleep: sleep},
		&timeoutRetry{db: db, sleep: sleep},
		&lockWait{sleep: sleep},
		&spaceCleanup{db: db},
		&corruptionRecovery{db: db},
	)
}

// NewEngineWithStrategies builds an Engine with an explicit strategy list,
// mainly for tests and for callers that extend the built-in set.
func NewEngineWithStrategies(log zerolog.Logger, strategies ...Strategy) *Engine {
	return &Engine{strategies: strategies, log: log}
}

// Handle classifies err, records it, runs applicable recovery strategies,
// and evaluates the retry gate. It never fails: panics inside a strategy
// are treated as that strategy failing. Calling Handle again with the
// outcome's Classified error continues recovery bookkeeping on the same
// error object instead of re-classifying.
func (en *Engine) Handle(ctx context.Context, err error, callContext string) Outcome {
	if err == nil {
		return Outcome{}
	}

	e, ok := err.(*ClassifiedError)
	if !ok {
		e = Classify(err, callContext)
		en.append(e)
		dbErrors.WithLabelValues(string(e.Category), string(e.Severity)).Inc()
		if e.Severity == SeverityCritical {
			en.alert(e)
		}
	}
	e.handleCount++

	en.recover(ctx, e)

	return Outcome{
		Recovered:  e.Resolved,
		Retryable:  en.isRetryable(e),
		Classified: e,
	}
}

// recover walks the strategy table in declaration order. Each attempt
// increments the error's counter exactly once, success or not, and the
// counter never exceeds the smallest MaxAttempts among the applicable
// strategies.
func (en *Engine) recover(ctx context.Context, e *ClassifiedError) {
	if e.Resolved {
		return
	}

	applicable := make([]Strategy, 0, len(en.strategies))
	minMax := 0
	for _, s := range en.strategies {
		if s.CanRecover(e) {
			applicable = append(applicable, s)
			if minMax == 0 || s.MaxAttempts() < minMax {
				minMax = s.MaxAttempts()
			}
		}
	}

	for _, s := range applicable {
		if e.RecoveryAttempts >= minMax || e.RecoveryAttempts >= s.MaxAttempts() {
			continue
		}
		e.RecoveryAttempts++

		if aerr := en.attempt(ctx, s, e); aerr != nil {
			dbRecoveries.WithLabelValues(s.Name(), "failure").Inc()
			en.log.Warn().
				Str("strategy", s.Name()).
				Str("category", string(e.Category)).
				Int("attempt", e.RecoveryAttempts).
				Err(aerr).
				Msg("recovery strategy failed")
			continue
		}

		dbRecoveries.WithLabelValues(s.Name(), "success").Inc()
		en.log.Info().
			Str("strategy", s.Name()).
			Str("category", string(e.Category)).
			Int("attempt", e.RecoveryAttempts).
			Msg("recovery strategy succeeded")
		e.Resolved = true
		return
	}
}

// attempt shields the engine from panicking strategies.
func (en *Engine) attempt(ctx context.Context, s Strategy, e *ClassifiedError) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("strategy %s panicked: %v", s.Name(), r)
		}
	}()
	return s.Attempt(ctx, e)
}

// isRetryable implements the retry gate. Connection, timeout, and lock
// failures may be retried while their attempt counter is under budget;
// unknown failures get exactly one retry; syntax, constraint, permission,
// corruption, and space failures indicate a caller or data defect and are
// never retried, applicable strategies notwithstanding.
func (en *Engine) isRetryable(e *ClassifiedError) bool {
	switch e.Category {
	case CategoryConnection, CategoryTimeout, CategoryLock:
		return e.RecoveryAttempts < retryBudget
	case CategoryUnknown:
		return e.handleCount <= 1
	default:
		return false
	}
}

// alert is the out-of-band side effect for critical failures. It is
// independent of the retry outcome.
func (en *Engine) alert(e *ClassifiedError) {
	en.log.Error().
		Str("error_id", e.ID).
		Str("category", string(e.Category)).
		Str("context", e.Context).
		Str("message", e.Message).
		Msg("critical database error")
}

func (en *Engine) append(e *ClassifiedError) {
	en.mu.Lock()
	defer en.mu.Unlock()
	en.errors = append(en.errors, e)
	if len(en.errors) > maxErrorLog {
		en.errors = en.errors[len(en.errors)-maxErrorLog:]
	}
}

// Errors returns a snapshot of the bounded error log, newest last.
func (en *Engine) Errors() []ClassifiedError {
	en.mu.Lock()
	defer en.mu.Unlock()
	out := make([]ClassifiedError, len(en.errors))
	for i, e := range en.errors {
		out[i] = *e
	}
	return out
}

// CriticalErrors returns the critical entries of the error log.
func (en *Engine) CriticalErrors() []ClassifiedError {
	en.mu.Lock()
	defer en.mu.Unlock()
	var out []ClassifiedError
	for _, e := range en.errors {
		if e.Severity == SeverityCritical {
			out = append(out, *e)
		}
	}
	return out
}

// Stats aggregates the error log by category with recovery rates, for the
// analytics layer.
func (en *Engine) Stats() map[Category]RecoveryStat {
	en.mu.Lock()
	defer en.mu.Unlock()
	out := make(map[Category]RecoveryStat)
	for _, e := range en.errors {
		st := out[e.Category]
		st.Total++
		if e.Resolved {
			st.Recovered++
		}
		out[e.Category] = st
	}
	return out
}

// --- built-in strategies ---

// connectionRetry backs off linearly (1s * attempt) and probes the handle
// with a trivial statement.
type connectionRetry struct {
	db    *sql.DB
	sleep func(time.Duration)
}

func (s *connectionRetry) Name() string { return "connection_retry" }
func (s *connectionRetry) MaxAttempts() int { return 3 }
func (s *connectionRetry) CanRecover(e *ClassifiedError) bool { return e.Category == CategoryConnection }

func (s *connectionRetry) Attempt(ctx context.Context, e *ClassifiedError) error {
	s.sleep(time.Duration(e.RecoveryAttempts) * time.Second)
	return probe(ctx, s.db)
}

// timeoutRetry backs off linearly (500ms * attempt) and runs a lightweight
// liveness probe.
type timeoutRetry struct {
	db    *sql.DB
	sleep func(time.Duration)
}

func (s *timeoutRetry) Name() string { return "timeout_retry" }
func (s *timeoutRetry) MaxAttempts() int { return 2 }
func (s *timeoutRetry) CanRecover(e *ClassifiedError) bool { return e.Category == CategoryTimeout }

func (s *timeoutRetry) Attempt(ctx context.Context, e *ClassifiedError) error {
	s.sleep(time.Duration(e.RecoveryAttempts) * 500 * time.Millisecond)
	return probe(ctx, s.db)
}

// lockWait backs off exponentially (200ms * 2^attempt) and assumes the
// lock has cleared; there is no probe because the very next statement is
// the real test.
type lockWait struct {
	sleep func(time.Duration)
}

func (s *lockWait) Name() string { return "lock_wait" }
func (s *lockWait) MaxAttempts() int { return 3 }
func (s *lockWait) CanRecover(e *ClassifiedError) bool { return e.Category == CategoryLock }

func (s *lockWait) Attempt(ctx context.Context, e *ClassifiedError) error {
	s.sleep(time.Duration(200<<uint(e.RecoveryAttempts)) * time.Millisecond)
	return nil
}

// spaceCleanup reclaims space once: prune the oldest telemetry rows, then
// checkpoint and shrink the WAL.
type spaceCleanup struct {
	db *sql.DB
}

func (s *spaceCleanup) Name() string { return "space_cleanup" }
func (s *spaceCleanup) MaxAttempts() int { return 1 }
func (s *spaceCleanup) CanRecover(e *ClassifiedError) bool { return e.Category == CategorySpace }

func (s *spaceCleanup) Attempt(ctx context.Context, e *ClassifiedError) error {
	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	if _, err := s.db.ExecContext(ctx, `DELETE FROM query_metrics WHERE created_at < ?`, cutoff); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`)
	return err
}

// corruptionRecovery runs an integrity check and, when it reports a
// problem, attempts an index rebuild. One shot only.
type corruptionRecovery struct {
	db *sql.DB
}

func (s *corruptionRecovery) Name() string { return "corruption_recovery" }
func (s *corruptionRecovery) MaxAttempts() int { return 1 }
func (s *corruptionRecovery) CanRecover(e *ClassifiedError) bool { return e.Category == CategoryCorruption }

func (s *corruptionRecovery) Attempt(ctx context.Context, e *ClassifiedError) error {
	var verdict string
	if err := s.db.QueryRowContext(ctx, `PRAGMA integrity_check`).Scan(&verdict); err != nil {
		return err
	}
	if strings.EqualFold(verdict, "ok") {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `REINDEX`)
	return err
}

// probe issues the cheapest possible statement to confirm the handle is
// usable again.
func probe(ctx context.Context, db *sql.DB) error {
	var one int
	return db.QueryRowContext(ctx, `SELECT 1`).Scan(&one)
}
