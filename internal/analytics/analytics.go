// Package analytics is the read-only reporting layer over the telemetry the
// middleware produces: the query_metrics table, the cache counters, the
// classified error log, and the breaker state. It writes nothing.
package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/mwestcott/skyfolio/internal/dberr"
	"github.com/mwestcott/skyfolio/internal/perf"
	"github.com/mwestcott/skyfolio/internal/querycache"
)

// Default reporting knobs.
const (
	DefaultWindowHours = 24
	DefaultTopN        = 10

	// Alert thresholds.
	slowAverageMs   = 200
	minCacheHitRate = 0.7
	maxErrorRate    = 0.05
)

// Overview summarizes traffic over the reporting window.
type Overview struct {
	WindowHours   int     `json:"window_hours"`
	TotalQueries  int64   `json:"total_queries"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
	SlowQueries   int64   `json:"slow_queries"`
	CacheHitRate  float64 `json:"cache_hit_rate"`
	ErrorRate     float64 `json:"error_rate"`
}

// SlowQuery is one statement group ranked by average duration. Statements are
// grouped by their normalized hash, so formatting variants of the same SQL
// collapse into one row.
type SlowQuery struct {
	QueryHash     string  `json:"query_hash"`
	QueryType     string  `json:"query_type"`
	Table         string  `json:"table"`
	Count         int64   `json:"count"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
	MaxDurationMs int64   `json:"max_duration_ms"`
}

// TableVolume is per-table statement volume over the window.
type TableVolume struct {
	Table         string  `json:"table"`
	Count         int64   `json:"count"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
}

// ErrorBreakdown is one error category with its recovery rate.
type ErrorBreakdown struct {
	Category     dberr.Category `json:"category"`
	Total        int            `json:"total"`
	Recovered    int            `json:"recovered"`
	RecoveryRate float64        `json:"recovery_rate"`
}

// Dashboard is the full performance report the admin surface serves.
type Dashboard struct {
	GeneratedAt  time.Time        `json:"generated_at"`
	Overview     Overview         `json:"overview"`
	TopSlow      []SlowQuery      `json:"top_slow_queries"`
	CacheStats   querycache.Stats `json:"cache_stats"`
	CacheByTable map[string]int   `json:"cache_by_table"`
	TableVolumes []TableVolume    `json:"table_volumes"`
	Errors       []ErrorBreakdown `json:"errors"`
	BreakerState string           `json:"breaker_state"`
}

// Alert is one tripped threshold.
type Alert struct {
	Name     string         `json:"name"`
	Message  string         `json:"message"`
	Severity dberr.Severity `json:"severity"`
}

// AlertReport carries all tripped alerts and the worst severity among them.
type AlertReport struct {
	GeneratedAt     time.Time      `json:"generated_at"`
	Alerts          []Alert        `json:"alerts"`
	OverallSeverity dberr.Severity `json:"overall_severity"` // empty when no alerts
}

// Aggregator reads the telemetry sources. The breaker state is injected as a
// function so this package does not depend on the client's result type.
type Aggregator struct {
	db           *sql.DB
	cache        *querycache.Cache
	recorder     *perf.Recorder
	engine       *dberr.Engine
	breakerState func() string
	log          zerolog.Logger
}

// New wires an Aggregator. breakerState may be nil when no breaker guards
// the handle.
func New(
	db *sql.DB,
	cache *querycache.Cache,
	recorder *perf.Recorder,
	engine *dberr.Engine,
	breakerState func() string,
	log zerolog.Logger,
) *Aggregator {
	if breakerState == nil {
		breakerState = func() string { return "closed" }
	}
	return &Aggregator{
		db:           db,
		cache:        cache,
		recorder:     recorder,
		engine:       engine,
		breakerState: breakerState,
		log:          log,
	}
}

// Dashboard builds the windowed performance report. windowHours <= 0 falls
// back to the default 24h window.
func (a *Aggregator) Dashboard(ctx context.Context, windowHours int) (Dashboard, error) {
	if windowHours <= 0 {
		windowHours = DefaultWindowHours
	}
	cutoff := time.Now().UTC().Add(-time.Duration(windowHours) * time.Hour)

	d := Dashboard{
		GeneratedAt:  time.Now().UTC(),
		CacheStats:   a.cache.Stats(),
		CacheByTable: a.cache.TagBreakdown(),
		Errors:       a.errorBreakdown(),
		BreakerState: a.breakerState(),
	}

	ov, err := a.overview(ctx, cutoff, windowHours)
	if err != nil {
		return d, fmt.Errorf("overview: %w", err)
	}
	d.Overview = ov

	if d.TopSlow, err = a.topSlow(ctx, cutoff, DefaultTopN); err != nil {
		return d, fmt.Errorf("top slow queries: %w", err)
	}
	if d.TableVolumes, err = a.tableVolumes(ctx, cutoff); err != nil {
		return d, fmt.Errorf("table volumes: %w", err)
	}
	return d, nil
}

// CheckAlerts evaluates the alert thresholds over the default window. The
// report's overall severity is the maximum severity among tripped alerts.
func (a *Aggregator) CheckAlerts(ctx context.Context) (AlertReport, error) {
	rep := AlertReport{GeneratedAt: time.Now().UTC(), Alerts: []Alert{}}

	cutoff := time.Now().UTC().Add(-DefaultWindowHours * time.Hour)
	ov, err := a.overview(ctx, cutoff, DefaultWindowHours)
	if err != nil {
		return rep, fmt.Errorf("overview: %w", err)
	}

	if ov.TotalQueries > 0 && ov.AvgDurationMs > slowAverageMs {
		rep.Alerts = append(rep.Alerts, Alert{
			Name:     "slow_average",
			Message:  fmt.Sprintf("average query time %.0fms exceeds %dms", ov.AvgDurationMs, slowAverageMs),
			Severity: dberr.SeverityMedium,
		})
	}
	if stats := a.cache.Stats(); stats.Hits+stats.Misses > 0 && stats.HitRate < minCacheHitRate {
		rep.Alerts = append(rep.Alerts, Alert{
			Name:     "low_cache_hit_rate",
			Message:  fmt.Sprintf("cache hit rate %.0f%% below %.0f%%", stats.HitRate*100, minCacheHitRate*100),
			Severity: dberr.SeverityLow,
		})
	}
	if ov.TotalQueries > 0 && ov.ErrorRate > maxErrorRate {
		rep.Alerts = append(rep.Alerts, Alert{
			Name:     "elevated_error_rate",
			Message:  fmt.Sprintf("error rate %.1f%% exceeds %.0f%%", ov.ErrorRate*100, maxErrorRate*100),
			Severity: dberr.SeverityHigh,
		})
	}
	if state := a.breakerState(); state != "closed" {
		rep.Alerts = append(rep.Alerts, Alert{
			Name:     "breaker_not_closed",
			Message:  fmt.Sprintf("circuit breaker is %s", state),
			Severity: dberr.SeverityCritical,
		})
	}

	rep.OverallSeverity = maxSeverity(rep.Alerts)
	return rep, nil
}

// CriticalErrors returns the critical entries of the classified error log.
func (a *Aggregator) CriticalErrors() []dberr.ClassifiedError {
	return a.engine.CriticalErrors()
}

func (a *Aggregator) overview(ctx context.Context, cutoff time.Time, windowHours int) (Overview, error) {
	ov := Overview{WindowHours: windowHours}

	// Cache hits are excluded from timing aggregates: a hit's near-zero
	// duration says nothing about statement performance.
	row := a.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(AVG(CASE WHEN cache_hit = 0 THEN duration_ms END), 0),
		        COALESCE(SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN cache_hit = 1 THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN cache_hit = 0 AND (
		            (query_type = 'read'   AND duration_ms > ?) OR
		            (query_type = 'write'  AND duration_ms > ?) OR
		            (query_type = 'search' AND duration_ms > ?) OR
		            (query_type = 'batch'  AND duration_ms > ?) OR
		            (query_type NOT IN ('read','write','search','batch') AND duration_ms > ?)
		        ) THEN 1 ELSE 0 END), 0)
		 FROM query_metrics WHERE created_at >= ?`,
		a.recorder.BudgetFor(perf.TypeRead).Milliseconds(),
		a.recorder.BudgetFor(perf.TypeWrite).Milliseconds(),
		a.recorder.BudgetFor(perf.TypeSearch).Milliseconds(),
		a.recorder.BudgetFor(perf.TypeBatch).Milliseconds(),
		a.recorder.BudgetFor(perf.TypeUnknown).Milliseconds(),
		cutoff)

	var hits, failures int64
	if err := row.Scan(&ov.TotalQueries, &ov.AvgDurationMs, &failures, &hits, &ov.SlowQueries); err != nil {
		return ov, err
	}

	if ov.TotalQueries > 0 {
		ov.CacheHitRate = float64(hits) / float64(ov.TotalQueries)
		ov.ErrorRate = float64(failures) / float64(ov.TotalQueries)
	}
	return ov, nil
}

func (a *Aggregator) topSlow(ctx context.Context, cutoff time.Time, n int) ([]SlowQuery, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT query_hash, query_type, table_name,
		        COUNT(*), AVG(duration_ms), MAX(duration_ms)
		 FROM query_metrics
		 WHERE created_at >= ? AND cache_hit = 0 AND query_hash != ''
		 GROUP BY query_hash, query_type, table_name
		 ORDER BY AVG(duration_ms) DESC
		 LIMIT ?`, cutoff, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SlowQuery
	for rows.Next() {
		var q SlowQuery
		if err := rows.Scan(&q.QueryHash, &q.QueryType, &q.Table, &q.Count, &q.AvgDurationMs, &q.MaxDurationMs); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (a *Aggregator) tableVolumes(ctx context.Context, cutoff time.Time) ([]TableVolume, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT table_name, COUNT(*), AVG(duration_ms)
		 FROM query_metrics
		 WHERE created_at >= ? AND table_name != ''
		 GROUP BY table_name
		 ORDER BY COUNT(*) DESC`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TableVolume
	for rows.Next() {
		var v TableVolume
		if err := rows.Scan(&v.Table, &v.Count, &v.AvgDurationMs); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (a *Aggregator) errorBreakdown() []ErrorBreakdown {
	stats := a.engine.Stats()
	out := make([]ErrorBreakdown, 0, len(stats))
	for cat, st := range stats {
		b := ErrorBreakdown{Category: cat, Total: st.Total, Recovered: st.Recovered}
		if st.Total > 0 {
			b.RecoveryRate = float64(st.Recovered) / float64(st.Total)
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Total > out[j].Total })
	return out
}

var severityRank = map[dberr.Severity]int{
	dberr.SeverityLow:      1,
	dberr.SeverityMedium:   2,
	dberr.SeverityHigh:     3,
	dberr.SeverityCritical: 4,
}

func maxSeverity(alerts []Alert) dberr.Severity {
	var max dberr.Severity
	for _, a := range alerts {
		if severityRank[a.Severity] > severityRank[max] {
			max = a.Severity
		}
	}
	return max
}
