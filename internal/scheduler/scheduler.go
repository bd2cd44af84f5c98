// Package scheduler runs the maintenance tiers on an in-process cron.
//
// The three tiers map to three standard 5-field cron expressions from the
// configuration. Runs overlap-guard per tier: if yesterday's monthly VACUUM
// is somehow still going when the daily fires, the daily is skipped and
// counted rather than queued behind the writer lock.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/mwestcott/skyfolio/internal/config"
	"github.com/mwestcott/skyfolio/internal/maintenance"
)

var schedulerRuns = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "db_scheduler_runs_total",
		Help: "Scheduled maintenance runs by tier and outcome.",
	},
	[]string{"tier", "outcome"},
)

func init() {
	prometheus.MustRegister(schedulerRuns)
}

// tierTimeout bounds one scheduled tier run. Monthly includes a full VACUUM,
// which rewrites the database file, so the bound is generous.
const tierTimeout = 30 * time.Minute

// Scheduler owns the cron engine and the per-tier overlap guards.
type Scheduler struct {
	cron   *cron.Cron
	runner *maintenance.Runner
	log    zerolog.Logger

	mu      sync.Mutex
	running map[string]bool
}

// New builds a Scheduler and registers the three tiers against the given
// cron expressions. Invalid expressions fail construction so a bad deploy
// is caught at startup, not at 3am.
func New(runner *maintenance.Runner, cfg config.MaintenanceConfig, log zerolog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:    cron.New(),
		runner:  runner,
		log:     log.With().Str("component", "scheduler").Logger(),
		running: make(map[string]bool),
	}

	tiers := []struct {
		name string
		spec string
		run  func(context.Context) maintenance.Summary
	}{
		{"daily", cfg.DailyCron, runner.RunDaily},
		{"weekly", cfg.WeeklyCron, runner.RunWeekly},
		{"monthly", cfg.MonthlyCron, runner.RunMonthly},
	}
	for _, tier := range tiers {
		tier := tier
		if _, err := cron.ParseStandard(tier.spec); err != nil {
			return nil, fmt.Errorf("scheduler: invalid %s cron %q: %w", tier.name, tier.spec, err)
		}
		if _, err := s.cron.AddFunc(tier.spec, func() { s.runTier(tier.name, tier.run) }); err != nil {
			return nil, fmt.Errorf("scheduler: register %s: %w", tier.name, err)
		}
	}
	return s, nil
}

// Start begins firing the registered tiers. Safe to call once.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("maintenance scheduler started")
}

// Stop halts scheduling and waits for any in-flight tier to finish, up to
// the deadline on ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	cronCtx := s.cron.Stop()
	select {
	case <-cronCtx.Done():
		s.log.Info().Msg("maintenance scheduler stopped")
		return nil
	case <-ctx.Done():
		s.log.Warn().Msg("scheduler shutdown timeout; a maintenance tier may still be running")
		return ctx.Err()
	}
}

// runTier executes one tier with the overlap guard and outcome accounting.
func (s *Scheduler) runTier(tier string, run func(context.Context) maintenance.Summary) {
	s.mu.Lock()
	if s.running[tier] {
		s.mu.Unlock()
		s.log.Warn().Str("tier", tier).Msg("previous run still in progress; skipping")
		schedulerRuns.WithLabelValues(tier, "skipped").Inc()
		return
	}
	s.running[tier] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running[tier] = false
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), tierTimeout)
	defer cancel()

	start := time.Now()
	summary := run(ctx)

	outcome := "success"
	if summary.SuccessRatio < 1 {
		outcome = "partial"
	}
	schedulerRuns.WithLabelValues(tier, outcome).Inc()

	s.log.Info().
		Str("tier", tier).
		Int("tasks", len(summary.Results)).
		Float64("success_ratio", summary.SuccessRatio).
		Dur("elapsed", time.Since(start)).
		Msg("scheduled maintenance run complete")
}
