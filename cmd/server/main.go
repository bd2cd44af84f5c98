// Command server runs the skyfolio backend: the public blog/portfolio/flight
// log API plus the authenticated admin and database-operations surface.
//
// Startup order matters: configuration, logging, tracing, storage, then the
// resilience middleware stack around the database, and finally the HTTP
// server and the in-process maintenance scheduler. Shutdown reverses it.
//
// @title       Skyfolio API
// @version     1.0
// @description Personal site backend: blog, portfolio, flight log, and database operations surface.
// @BasePath    /api/v1
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mwestcott/skyfolio/internal/analytics"
	"github.com/mwestcott/skyfolio/internal/breaker"
	"github.com/mwestcott/skyfolio/internal/config"
	"github.com/mwestcott/skyfolio/internal/dbclient"
	"github.com/mwestcott/skyfolio/internal/dberr"
	httpapi "github.com/mwestcott/skyfolio/internal/http"
	"github.com/mwestcott/skyfolio/internal/maintenance"
	"github.com/mwestcott/skyfolio/internal/observability"
	"github.com/mwestcott/skyfolio/internal/perf"
	"github.com/mwestcott/skyfolio/internal/querycache"
	"github.com/mwestcott/skyfolio/internal/repo"
	"github.com/mwestcott/skyfolio/internal/scheduler"
	"github.com/mwestcott/skyfolio/internal/sysutil"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	// Logging: level from config, pretty console output for local runs.
	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	logger := log.With().Str("service", cfg.OTEL.ServiceName).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Tracing (no-op unless OTEL_ENABLED).
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		logger.Fatal().Err(err).Msg("otel setup")
	}

	// Storage: single-writer SQLite with the FTS shadow table.
	gdb, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database")
	}
	if err := repo.AutoMigrate(gdb); err != nil {
		logger.Fatal().Err(err).Msg("migrate database")
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		logger.Fatal().Err(err).Msg("raw database handle")
	}
	defer func() { _ = sqlDB.Close() }()

	// Resilience middleware stack around the database.
	cache := querycache.New(querycache.Config{
		Capacity:   cfg.Cache.Capacity,
		DefaultTTL: cfg.Cache.DefaultTTL,
	})
	recorder := perf.NewRecorder(sqlDB, perf.Config{
		Budgets: map[perf.QueryType]time.Duration{
			perf.TypeRead:   cfg.Budgets.Read,
			perf.TypeWrite:  cfg.Budgets.Write,
			perf.TypeSearch: cfg.Budgets.Search,
			perf.TypeBatch:  cfg.Budgets.Batch,
		},
	}, logger)
	engine := dberr.NewEngine(sqlDB, logger)
	br := breaker.New[*dbclient.Result](breaker.Config{
		Name:             "sqlite",
		FailureThreshold: uint32(cfg.Breaker.FailureThreshold),
		OpenDuration:     cfg.Breaker.OpenDuration,
		ProbeDelay:       cfg.Breaker.ProbeDelay,
	}, logger)
	client := dbclient.New(sqlDB, cache, recorder, engine, br, logger)

	// Maintenance, analytics, and the in-process cron.
	runner := maintenance.NewRunner(sqlDB, cache, maintenance.Config{
		PerfRetention:      cfg.Maintenance.PerfRetention,
		EventRetention:     cfg.Maintenance.EventRetention,
		VacuumThreshold:    cfg.Maintenance.VacuumThreshold,
		SlowQueryThreshold: cfg.Budgets.Search,
	}, logger)
	aggregator := analytics.New(sqlDB, cache, recorder, engine, br.State, logger)

	var sched *scheduler.Scheduler
	if cfg.Maintenance.CronEnabled {
		sched, err = scheduler.New(runner, cfg.Maintenance, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("maintenance scheduler")
		}
		sched.Start()
	}

	// HTTP transport.
	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		DB:        client,
		Analytics: aggregator,
		Maint:     runner,
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Str("version", version).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	if sched != nil {
		if err := sched.Stop(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("scheduler shutdown")
		}
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("otel shutdown")
	}
	logger.Info().Msg("bye")
}
