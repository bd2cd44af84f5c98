// Package maintenance runs tiered cleanup and optimization jobs against the
// raw SQLite handle, and produces point-in-time health reports.
//
// Tiers are additive: weekly re-runs everything daily does plus its own
// tasks, monthly re-runs weekly plus its own. Tasks within a tier run
// sequentially to keep load off the single writer, and independently: a
// failed task is recorded and the remaining tasks still run.
package maintenance

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/mwestcott/skyfolio/internal/perf"
	"github.com/mwestcott/skyfolio/internal/querycache"
)

// Default retention and compaction settings.
const (
	DefaultPerfRetention   = 7 * 24 * time.Hour
	DefaultEventRetention  = 90 * 24 * time.Hour
	DefaultVacuumThreshold = 100 * 1024 * 1024 // bytes
)

// Health verdicts, ordered from best to worst.
const (
	HealthHealthy  = "healthy"
	HealthWarning  = "warning"
	HealthCritical = "critical"
)

var (
	dbSizeBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "db_size_bytes",
		Help: "Current database size in bytes.",
	})

	maintenanceTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_maintenance_tasks_total",
			Help: "Completed maintenance tasks by tier, task and status.",
		},
		[]string{"tier", "task", "status"},
	)
)

func init() {
	prometheus.MustRegister(dbSizeBytes, maintenanceTasks)
}

// Config controls retention windows and the conditional-compaction threshold.
type Config struct {
	PerfRetention   time.Duration // query_metrics rows older than this are pruned
	EventRetention  time.Duration // site_events rows older than this are pruned
	VacuumThreshold int64         // bytes; daily VACUUM runs only above this size

	// SlowQueryThreshold marks a statement as slow for health reporting.
	// Should match the largest single-statement budget the recorder warns
	// at, so the health report and the dashboard agree on what "slow" means.
	SlowQueryThreshold time.Duration
}

// Result is the outcome of one maintenance task.
type Result struct {
	Task            string `json:"task"`
	Success         bool   `json:"success"`
	DurationMs      int64  `json:"duration_ms"`
	RecordsAffected int64  `json:"records_affected"`
	SizeBefore      int64  `json:"size_before"`
	SizeAfter       int64  `json:"size_after"`
	Error           string `json:"error,omitempty"`
}

// Summary aggregates one tier run.
type Summary struct {
	Tier         string    `json:"tier"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Results      []Result  `json:"results"`
	SuccessRatio float64   `json:"success_ratio"`
}

// HealthMetrics are the raw measurements a HealthReport is judged on.
type HealthMetrics struct {
	SizeBytes      int64   `json:"size_bytes"`
	TableCount     int     `json:"table_count"`
	IndexCount     int     `json:"index_count"`
	AvgQueryTimeMs float64 `json:"avg_query_time_ms"`
	SlowQueryCount int64   `json:"slow_query_count"`
	CacheHitRate   float64 `json:"cache_hit_rate"`
}

// HealthReport is a point-in-time system health snapshot. OverallHealth is
// healthy with no issues, warning with one or two, critical with more - or
// when the report itself could not be generated (fail-safe default).
type HealthReport struct {
	Timestamp       time.Time     `json:"timestamp"`
	OverallHealth   string        `json:"overall_health"`
	Issues          []string      `json:"issues"`
	Recommendations []string      `json:"recommendations"`
	Metrics         HealthMetrics `json:"metrics"`
}

type task struct {
	name string
	run  func(ctx context.Context) (int64, error)
}

// Runner executes the maintenance tiers. It operates on the raw handle on
// purpose: administrative statements must not be cached, recorded as domain
// traffic, or counted against the circuit breaker.
type Runner struct {
	db    *sql.DB
	cache *querycache.Cache
	cfg   Config
	log   zerolog.Logger

	// now is a seam so retention cutoffs are deterministic in tests.
	now func() time.Time
}

// NewRunner builds a Runner with defaults applied for unset config fields.
// cache may be nil; health reports then omit the hit-rate signal.
func NewRunner(db *sql.DB, cache *querycache.Cache, cfg Config, log zerolog.Logger) *Runner {
	if cfg.PerfRetention <= 0 {
		cfg.PerfRetention = DefaultPerfRetention
	}
	if cfg.EventRetention <= 0 {
		cfg.EventRetention = DefaultEventRetention
	}
	if cfg.VacuumThreshold <= 0 {
		cfg.VacuumThreshold = DefaultVacuumThreshold
	}
	if cfg.SlowQueryThreshold <= 0 {
		cfg.SlowQueryThreshold = perf.DefaultSearchBudget
	}
	return &Runner{db: db, cache: cache, cfg: cfg, log: log, now: time.Now}
}

// RunDaily executes the daily tier.
func (r *Runner) RunDaily(ctx context.Context) Summary {
	return r.runTier(ctx, "daily", r.dailyTasks())
}

// RunWeekly executes the daily tier plus the weekly additions.
func (r *Runner) RunWeekly(ctx context.Context) Summary {
	return r.runTier(ctx, "weekly", append(r.dailyTasks(), r.weeklyTasks()...))
}

// RunMonthly executes the weekly tier plus the monthly additions.
func (r *Runner) RunMonthly(ctx context.Context) Summary {
	tasks := append(r.dailyTasks(), r.weeklyTasks()...)
	return r.runTier(ctx, "monthly", append(tasks, r.monthlyTasks()...))
}

func (r *Runner) dailyTasks() []task {
	return []task{
		{"purge_expired_sessions", r.purgeExpiredSessions},
		{"purge_performance_logs", r.purgePerformanceLogs},
		{"purge_event_logs", r.purgeEventLogs},
		{"purge_orphaned_post_tags", r.purgeOrphanedPostTags},
		{"refresh_statistics", r.refreshStatistics},
		{"conditional_vacuum", r.conditionalVacuum},
	}
}

func (r *Runner) weeklyTasks() []task {
	return []task{
		{"rebuild_search_index", r.rebuildSearchIndex},
		{"rebuild_indexes", r.rebuildIndexes},
		{"per_table_statistics", r.perTableStatistics},
		{"integrity_check", r.integrityCheck},
	}
}

func (r *Runner) monthlyTasks() []task {
	return []task{
		{"full_vacuum", r.fullVacuum},
		{"purge_unused_tags", r.purgeUnusedTags},
		{"purge_unreferenced_media", r.purgeUnreferencedMedia},
		{"archive_old_content", r.archiveOldContent},
	}
}

// runTier executes the tasks sequentially, collecting every result even when
// some fail.
func (r *Runner) runTier(ctx context.Context, tier string, tasks []task) Summary {
	sum := Summary{Tier: tier, StartedAt: r.now().UTC()}
	succeeded := 0

	for _, t := range tasks {
		res := r.runTask(ctx, tier, t)
		sum.Results = append(sum.Results, res)
		if res.Success {
			succeeded++
		}
	}

	sum.FinishedAt = r.now().UTC()
	if len(tasks) > 0 {
		sum.SuccessRatio = float64(succeeded) / float64(len(tasks))
	}
	r.log.Info().
		Str("tier", tier).
		Int("tasks", len(tasks)).
		Int("succeeded", succeeded).
		Msg("maintenance tier finished")
	return sum
}

func (r *Runner) runTask(ctx context.Context, tier string, t task) Result {
	res := Result{Task: t.name, SizeBefore: r.dbSize(ctx)}
	start := time.Now()

	affected, err := t.run(ctx)
	res.DurationMs = time.Since(start).Milliseconds()
	res.RecordsAffected = affected
	res.SizeAfter = r.dbSize(ctx)
	dbSizeBytes.Set(float64(res.SizeAfter))

	status := "success"
	if err != nil {
		status = "failure"
		res.Error = err.Error()
		r.log.Error().Err(err).Str("task", t.name).Str("tier", tier).Msg("maintenance task failed")
	} else {
		res.Success = true
	}
	maintenanceTasks.WithLabelValues(tier, t.name, status).Inc()
	return res
}

// GenerateHealthReport inspects the database and the recent telemetry. Any
// failure while gathering metrics degrades the verdict to critical rather
// than reporting an optimistic default.
func (r *Runner) GenerateHealthReport(ctx context.Context) HealthReport {
	rep := HealthReport{
		Timestamp:       r.now().UTC(),
		Issues:          []string{},
		Recommendations: []string{},
	}

	m, err := r.collectHealthMetrics(ctx)
	if err != nil {
		r.log.Error().Err(err).Msg("health report generation failed")
		rep.OverallHealth = HealthCritical
		rep.Issues = append(rep.Issues, fmt.Sprintf("health inspection failed: %v", err))
		return rep
	}
	rep.Metrics = m
	dbSizeBytes.Set(float64(m.SizeBytes))

	if m.SizeBytes > r.cfg.VacuumThreshold {
		rep.Issues = append(rep.Issues, "database size exceeds compaction threshold")
		rep.Recommendations = append(rep.Recommendations, "run the monthly tier to compact storage")
	}
	if m.AvgQueryTimeMs > 200 {
		rep.Issues = append(rep.Issues, "average query time above 200ms")
		rep.Recommendations = append(rep.Recommendations, "inspect the slow query dashboard for hot statements")
	}
	if m.SlowQueryCount > 10 {
		rep.Issues = append(rep.Issues, "elevated slow query count in the last 24h")
		rep.Recommendations = append(rep.Recommendations, "review indexes for the tables with the highest volume")
	}
	if r.cache != nil {
		stats := r.cache.Stats()
		if stats.Hits+stats.Misses > 0 && stats.HitRate < 0.7 {
			rep.Issues = append(rep.Issues, "cache hit rate below 70%")
			rep.Recommendations = append(rep.Recommendations, "raise TTLs or cache capacity for read-heavy endpoints")
		}
	}

	switch {
	case len(rep.Issues) == 0:
		rep.OverallHealth = HealthHealthy
	case len(rep.Issues) <= 2:
		rep.OverallHealth = HealthWarning
	default:
		rep.OverallHealth = HealthCritical
	}
	return rep
}

func (r *Runner) collectHealthMetrics(ctx context.Context) (HealthMetrics, error) {
	m := HealthMetrics{SizeBytes: r.dbSize(ctx)}

	row := r.db.QueryRowContext(ctx,
		`SELECT
		   COUNT(CASE WHEN type = 'table' THEN 1 END),
		   COUNT(CASE WHEN type = 'index' THEN 1 END)
		 FROM sqlite_master`)
	if err := row.Scan(&m.TableCount, &m.IndexCount); err != nil {
		return m, fmt.Errorf("inspect schema: %w", err)
	}

	cutoff := r.now().UTC().Add(-24 * time.Hour)
	row = r.db.QueryRowContext(ctx,
		`SELECT COALESCE(AVG(duration_ms), 0),
		        COALESCE(SUM(CASE WHEN duration_ms > ? THEN 1 ELSE 0 END), 0)
		 FROM query_metrics WHERE created_at >= ? AND cache_hit = 0`,
		r.cfg.SlowQueryThreshold.Milliseconds(), cutoff)
	if err := row.Scan(&m.AvgQueryTimeMs, &m.SlowQueryCount); err != nil {
		return m, fmt.Errorf("inspect query metrics: %w", err)
	}

	if r.cache != nil {
		m.CacheHitRate = r.cache.Stats().HitRate
	}
	return m, nil
}

// dbSize reports page_count * page_size; 0 when the pragma fails.
func (r *Runner) dbSize(ctx context.Context) int64 {
	var pages, pageSize int64
	if err := r.db.QueryRowContext(ctx, `PRAGMA page_count`).Scan(&pages); err != nil {
		return 0
	}
	if err := r.db.QueryRowContext(ctx, `PRAGMA page_size`).Scan(&pageSize); err != nil {
		return 0
	}
	return pages * pageSize
}

// Daily tasks.

func (r *Runner) purgeExpiredSessions(ctx context.Context) (int64, error) {
	return r.exec(ctx, `DELETE FROM sessions WHERE expires_at < ?`, r.now().UTC())
}

func (r *Runner) purgePerformanceLogs(ctx context.Context) (int64, error) {
	cutoff := r.now().UTC().Add(-r.cfg.PerfRetention)
	return r.exec(ctx, `DELETE FROM query_metrics WHERE created_at < ?`, cutoff)
}

func (r *Runner) purgeEventLogs(ctx context.Context) (int64, error) {
	cutoff := r.now().UTC().Add(-r.cfg.EventRetention)
	return r.exec(ctx, `DELETE FROM site_events WHERE created_at < ?`, cutoff)
}

func (r *Runner) purgeOrphanedPostTags(ctx context.Context) (int64, error) {
	return r.exec(ctx, `DELETE FROM post_tags
		WHERE post_id NOT IN (SELECT id FROM posts)
		   OR tag_id NOT IN (SELECT id FROM tags)`)
}

func (r *Runner) refreshStatistics(ctx context.Context) (int64, error) {
	_, err := r.db.ExecContext(ctx, `ANALYZE`)
	return 0, err
}

func (r *Runner) conditionalVacuum(ctx context.Context) (int64, error) {
	if r.dbSize(ctx) <= r.cfg.VacuumThreshold {
		return 0, nil
	}
	_, err := r.db.ExecContext(ctx, `VACUUM`)
	return 0, err
}

// Weekly tasks.

func (r *Runner) rebuildSearchIndex(ctx context.Context) (int64, error) {
	_, err := r.db.ExecContext(ctx, `INSERT INTO posts_fts(posts_fts) VALUES('rebuild')`)
	return 0, err
}

func (r *Runner) rebuildIndexes(ctx context.Context) (int64, error) {
	_, err := r.db.ExecContext(ctx, `REINDEX`)
	return 0, err
}

func (r *Runner) perTableStatistics(ctx context.Context) (int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return 0, err
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	var analyzed int64
	for _, name := range tables {
		if _, err := r.db.ExecContext(ctx, fmt.Sprintf(`ANALYZE %q`, name)); err != nil {
			return analyzed, fmt.Errorf("analyze %s: %w", name, err)
		}
		analyzed++
	}
	return analyzed, nil
}

func (r *Runner) integrityCheck(ctx context.Context) (int64, error) {
	var verdict string
	if err := r.db.QueryRowContext(ctx, `PRAGMA integrity_check`).Scan(&verdict); err != nil {
		return 0, err
	}
	if verdict != "ok" {
		return 0, fmt.Errorf("integrity check: %s", verdict)
	}

	rows, err := r.db.QueryContext(ctx, `PRAGMA foreign_key_check`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	if rows.Next() {
		return 0, fmt.Errorf("foreign key check found inconsistent rows")
	}
	return 0, rows.Err()
}

// Monthly tasks.

func (r *Runner) fullVacuum(ctx context.Context) (int64, error) {
	_, err := r.db.ExecContext(ctx, `VACUUM`)
	return 0, err
}

func (r *Runner) purgeUnusedTags(ctx context.Context) (int64, error) {
	return r.exec(ctx, `DELETE FROM tags WHERE id NOT IN (SELECT tag_id FROM post_tags)`)
}

func (r *Runner) purgeUnreferencedMedia(ctx context.Context) (int64, error) {
	cutoff := r.now().UTC().Add(-30 * 24 * time.Hour)
	return r.exec(ctx, `DELETE FROM media
		WHERE (post_id IS NULL OR post_id NOT IN (SELECT id FROM posts))
		  AND created_at < ?`, cutoff)
}

// archiveOldContent is a placeholder for exporting old content to cold
// storage before deletion. Archival is not wired to a destination yet.
func (r *Runner) archiveOldContent(ctx context.Context) (int64, error) {
	return 0, nil
}

func (r *Runner) exec(ctx context.Context, query string, args ...any) (int64, error) {
	out, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, _ := out.RowsAffected()
	return n, nil
}
