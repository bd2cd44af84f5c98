package dberr

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// stubStrategy is a scriptable strategy for engine tests.
type stubStrategy struct {
	name     string
	category Category
	max      int
	results  []error // consumed per attempt; nil slice means always succeed
	attempts int
}

func (s *stubStrategy) Name() string                       { return s.name }
func (s *stubStrategy) MaxAttempts() int                   { return s.max }
func (s *stubStrategy) CanRecover(e *ClassifiedError) bool { return e.Category == s.category }

func (s *stubStrategy) Attempt(ctx context.Context, e *ClassifiedError) error {
	s.attempts++
	if len(s.results) == 0 {
		return nil
	}
	res := s.results[0]
	s.results = s.results[1:]
	return res
}

func newRawDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("dberr_test_%d.db", time.Now().UnixNano()))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db, err := gdb.DB()
	if err != nil {
		t.Fatalf("raw handle: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestHandle_NilError(t *testing.T) {
	en := NewEngineWithStrategies(zerolog.Nop())
	out := en.Handle(context.Background(), nil, "noop")
	if out.Recovered || out.Retryable || out.Classified != nil {
		t.Fatalf("nil error must yield the zero outcome, got %+v", out)
	}
}

func TestHandle_RecoverySuccess(t *testing.T) {
	st := &stubStrategy{name: "lock_wait", category: CategoryLock, max: 3}
	en := NewEngineWithStrategies(zerolog.Nop(), st)

	out := en.Handle(context.Background(), errors.New("database table is locked"), "update posts")
	if !out.Recovered || !out.Retryable {
		t.Fatalf("expected recovered+retryable, got %+v", out)
	}
	if out.Classified.RecoveryAttempts != 1 || !out.Classified.Resolved {
		t.Fatalf("expected one successful attempt, got %+v", out.Classified)
	}
	if st.attempts != 1 {
		t.Fatalf("strategy should have been invoked once, got %d", st.attempts)
	}
}

func TestHandle_AttemptBound(t *testing.T) {
	fail := errors.New("still locked")
	st := &stubStrategy{
		name: "lock_wait", category: CategoryLock, max: 3,
		results: []error{fail, fail, fail, fail, fail},
	}
	en := NewEngineWithStrategies(zerolog.Nop(), st)

	out := en.Handle(context.Background(), errors.New("deadlock detected"), "tx")
	// Re-handling the same error object keeps the attempt counter bounded.
	for i := 0; i < 5; i++ {
		out = en.Handle(context.Background(), out.Classified, "tx")
	}
	if got := out.Classified.RecoveryAttempts; got != 3 {
		t.Fatalf("attempts must be capped at maxAttempts=3, got %d", got)
	}
	if out.Recovered {
		t.Fatalf("all attempts failed, must not be recovered")
	}
	if out.Retryable {
		t.Fatalf("lock errors stop being retryable once the attempt budget is spent")
	}
}

func TestHandle_MinOfApplicableMaxAttempts(t *testing.T) {
	fail := errors.New("no")
	wide := &stubStrategy{name: "wide", category: CategoryTimeout, max: 3, results: []error{fail, fail, fail}}
	narrow := &stubStrategy{name: "narrow", category: CategoryTimeout, max: 2, results: []error{fail, fail}}
	en := NewEngineWithStrategies(zerolog.Nop(), wide, narrow)

	out := en.Handle(context.Background(), errors.New("database is busy"), "read")
	for i := 0; i < 4; i++ {
		out = en.Handle(context.Background(), out.Classified, "read")
	}
	if got := out.Classified.RecoveryAttempts; got > 2 {
		t.Fatalf("attempts must not exceed the minimum applicable maxAttempts (2), got %d", got)
	}
}

func TestHandle_FirstSuccessStopsChain(t *testing.T) {
	first := &stubStrategy{name: "first", category: CategoryConnection, max: 3}
	second := &stubStrategy{name: "second", category: CategoryConnection, max: 3}
	en := NewEngineWithStrategies(zerolog.Nop(), first, second)

	out := en.Handle(context.Background(), errors.New("connection refused"), "dial")
	if !out.Recovered {
		t.Fatalf("expected recovery")
	}
	if first.attempts != 1 || second.attempts != 0 {
		t.Fatalf("later strategies must not run after a success: first=%d second=%d",
			first.attempts, second.attempts)
	}
}

func TestHandle_SyntaxNeverRecoversNorRetries(t *testing.T) {
	st := &stubStrategy{name: "anything", category: CategoryLock, max: 3}
	en := NewEngineWithStrategies(zerolog.Nop(), st)

	cause := errors.New(`near "SELEC": syntax error`)
	out := en.Handle(context.Background(), cause, "bad sql")
	if out.Recovered || out.Retryable {
		t.Fatalf("syntax errors are never recovered or retried: %+v", out)
	}
	if st.attempts != 0 {
		t.Fatalf("no strategy applies to syntax errors, got %d attempts", st.attempts)
	}
	if !errors.Is(out.Classified, cause) {
		t.Fatalf("original error must propagate unchanged")
	}
}

func TestHandle_ConstraintAndPermissionNotRetryable(t *testing.T) {
	en := NewEngineWithStrategies(zerolog.Nop())
	for _, msg := range []string{
		"UNIQUE constraint failed: posts.slug",
		"attempt to write a readonly database",
		"database disk image is malformed",
		"database or disk is full",
	} {
		out := en.Handle(context.Background(), errors.New(msg), "op")
		if out.Retryable {
			t.Fatalf("%q must not be retryable", msg)
		}
	}
}

func TestHandle_UnknownRetryableExactlyOnce(t *testing.T) {
	en := NewEngineWithStrategies(zerolog.Nop())

	out := en.Handle(context.Background(), errors.New("mystery failure"), "op")
	if out.Classified.Category != CategoryUnknown {
		t.Fatalf("expected unknown category, got %s", out.Classified.Category)
	}
	if !out.Retryable {
		t.Fatalf("unknown errors are retryable on first handling")
	}
	out = en.Handle(context.Background(), out.Classified, "op")
	if out.Retryable {
		t.Fatalf("unknown errors are retryable once only")
	}
}

func TestHandle_PanickingStrategyIsFailure(t *testing.T) {
	panicky := &panicStrategy{}
	fallback := &stubStrategy{name: "fallback", category: CategoryConnection, max: 3}
	en := NewEngineWithStrategies(zerolog.Nop(), panicky, fallback)

	out := en.Handle(context.Background(), errors.New("connection reset"), "dial")
	if !out.Recovered {
		t.Fatalf("fallback should have recovered after the panic: %+v", out)
	}
	if fallback.attempts != 1 {
		t.Fatalf("fallback should have run once, got %d", fallback.attempts)
	}
}

type panicStrategy struct{}

func (panicStrategy) Name() string                       { return "panics" }
func (panicStrategy) MaxAttempts() int                   { return 3 }
func (panicStrategy) CanRecover(e *ClassifiedError) bool { return e.Category == CategoryConnection }
func (panicStrategy) Attempt(ctx context.Context, e *ClassifiedError) error {
	panic("boom")
}

func TestErrorLog_BoundedAndQueryable(t *testing.T) {
	en := NewEngineWithStrategies(zerolog.Nop())
	for i := 0; i < maxErrorLog+25; i++ {
		en.Handle(context.Background(), fmt.Errorf("mystery %d", i), "op")
	}
	en.Handle(context.Background(), errors.New("database disk image is malformed"), "read")

	all := en.Errors()
	if len(all) != maxErrorLog {
		t.Fatalf("log must trim to %d entries, got %d", maxErrorLog, len(all))
	}
	crit := en.CriticalErrors()
	if len(crit) != 1 || crit[0].Category != CategoryCorruption {
		t.Fatalf("expected exactly one critical corruption entry, got %+v", crit)
	}
}

func TestStats_RecoveryRates(t *testing.T) {
	ok := &stubStrategy{name: "lock_wait", category: CategoryLock, max: 3}
	en := NewEngineWithStrategies(zerolog.Nop(), ok)

	en.Handle(context.Background(), errors.New("database table is locked"), "a")
	en.Handle(context.Background(), errors.New("deadlock detected"), "b")
	en.Handle(context.Background(), errors.New("mystery"), "c")

	stats := en.Stats()
	if st := stats[CategoryLock]; st.Total != 2 || st.Recovered != 2 {
		t.Fatalf("unexpected lock stats: %+v", st)
	}
	if st := stats[CategoryUnknown]; st.Total != 1 || st.Recovered != 0 {
		t.Fatalf("unexpected unknown stats: %+v", st)
	}
}

func TestBuiltinStrategies_AgainstSQLite(t *testing.T) {
	db := newRawDB(t)
	if _, err := db.Exec(`CREATE TABLE query_metrics (
		id TEXT PRIMARY KEY, query_hash TEXT, query_type TEXT, table_name TEXT,
		duration_ms INTEGER, rows_returned INTEGER, cache_hit BOOLEAN,
		success BOOLEAN, created_at DATETIME
	)`); err != nil {
		t.Fatalf("create table: %v", err)
	}

	noSleep := func(time.Duration) {}
	ctx := context.Background()

	conn := &connectionRetry{db: db, sleep: noSleep}
	e := Classify(errors.New("connection refused"), "t")
	e.RecoveryAttempts = 1
	if err := conn.Attempt(ctx, e); err != nil {
		t.Fatalf("connection probe should succeed on a healthy handle: %v", err)
	}

	to := &timeoutRetry{db: db, sleep: noSleep}
	if err := to.Attempt(ctx, e); err != nil {
		t.Fatalf("timeout probe should succeed: %v", err)
	}

	lw := &lockWait{sleep: noSleep}
	if err := lw.Attempt(ctx, e); err != nil {
		t.Fatalf("lock_wait never fails: %v", err)
	}

	sc := &spaceCleanup{db: db}
	if err := sc.Attempt(ctx, e); err != nil {
		t.Fatalf("space cleanup on a healthy database: %v", err)
	}

	cr := &corruptionRecovery{db: db}
	if err := cr.Attempt(ctx, e); err != nil {
		t.Fatalf("integrity check on a healthy database reports ok: %v", err)
	}
}

func TestBackoff_UsesAttemptNumber(t *testing.T) {
	var slept []time.Duration
	record := func(d time.Duration) { slept = append(slept, d) }

	e := &ClassifiedError{Category: CategoryLock}
	lw := &lockWait{sleep: record}
	for i := 1; i <= 3; i++ {
		e.RecoveryAttempts = i
		if err := lw.Attempt(context.Background(), e); err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	want := []time.Duration{400 * time.Millisecond, 800 * time.Millisecond, 1600 * time.Millisecond}
	for i, d := range want {
		if slept[i] != d {
			t.Fatalf("lock_wait backoff[%d] = %v, want %v", i, slept[i], d)
		}
	}
}
