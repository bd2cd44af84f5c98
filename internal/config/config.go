// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database paths and middleware tuning
// (cache, breaker, budgets, retention), rate limiting, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "skyfolio")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// CacheConfig tunes the query result cache.
type CacheConfig struct {
	Capacity   int           // CACHE_CAPACITY: maximum live entries
	DefaultTTL time.Duration // CACHE_DEFAULT_TTL: TTL when callers pass none
}

// BreakerConfig tunes the database circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           // BREAKER_FAILURE_THRESHOLD: consecutive failures before opening
	OpenDuration     time.Duration // BREAKER_OPEN_DURATION: closed-state counter reset interval
	ProbeDelay       time.Duration // BREAKER_PROBE_DELAY: wait before the half-open trial
}

// BudgetConfig carries the per-kind statement duration budgets.
type BudgetConfig struct {
	Read   time.Duration // BUDGET_READ
	Write  time.Duration // BUDGET_WRITE
	Search time.Duration // BUDGET_SEARCH
	Batch  time.Duration // BUDGET_BATCH
}

// MaintenanceConfig tunes retention windows, compaction, and the in-process
// cron schedule.
type MaintenanceConfig struct {
	PerfRetention   time.Duration // MAINT_PERF_RETENTION: query_metrics retention
	EventRetention  time.Duration // MAINT_EVENT_RETENTION: site_events retention
	VacuumThreshold int64         // MAINT_VACUUM_THRESHOLD_BYTES
	CronEnabled     bool          // MAINT_CRON_ENABLED: run the in-process scheduler
	DailyCron       string        // MAINT_DAILY_CRON
	WeeklyCron      string        // MAINT_WEEKLY_CRON
	MonthlyCron     string        // MAINT_MONTHLY_CRON
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // trace|debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// App
	DBPath     string // SQLite path
	AdminToken string // bearer token for the admin/observability API

	// Database middleware
	Cache       CacheConfig
	Breaker     BreakerConfig
	Budgets     BudgetConfig
	Maintenance MaintenanceConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// App
		DBPath:     getenv("DB_PATH", "site.db"),
		AdminToken: getenv("ADMIN_TOKEN", ""),

		// Database middleware
		Cache: CacheConfig{
			Capacity:   getint("CACHE_CAPACITY", 1000),
			DefaultTTL: getdur("CACHE_DEFAULT_TTL", 5*time.Minute),
		},
		Breaker: BreakerConfig{
			FailureThreshold: getint("BREAKER_FAILURE_THRESHOLD", 5),
			OpenDuration:     getdur("BREAKER_OPEN_DURATION", 60*time.Second),
			ProbeDelay:       getdur("BREAKER_PROBE_DELAY", 30*time.Second),
		},
		Budgets: BudgetConfig{
			Read:   getdur("BUDGET_READ", 100*time.Millisecond),
			Write:  getdur("BUDGET_WRITE", 200*time.Millisecond),
			Search: getdur("BUDGET_SEARCH", 300*time.Millisecond),
			Batch:  getdur("BUDGET_BATCH", 1000*time.Millisecond),
		},
		Maintenance: MaintenanceConfig{
			PerfRetention:   getdur("MAINT_PERF_RETENTION", 7*24*time.Hour),
			EventRetention:  getdur("MAINT_EVENT_RETENTION", 90*24*time.Hour),
			VacuumThreshold: int64(getint("MAINT_VACUUM_THRESHOLD_BYTES", 100*1024*1024)),
			CronEnabled:     getbool("MAINT_CRON_ENABLED", true),
			DailyCron:       getenv("MAINT_DAILY_CRON", "0 3 * * *"),
			WeeklyCron:      getenv("MAINT_WEEKLY_CRON", "0 4 * * 1"),
			MonthlyCron:     getenv("MAINT_MONTHLY_CRON", "0 5 1 * *"),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "skyfolio"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: trace, debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.Cache.Capacity < 1 {
		return cfg, errors.New("CACHE_CAPACITY must be >= 1")
	}
	if cfg.Cache.DefaultTTL <= 0 {
		return cfg, errors.New("CACHE_DEFAULT_TTL must be > 0")
	}
	if cfg.Breaker.FailureThreshold < 1 {
		return cfg, errors.New("BREAKER_FAILURE_THRESHOLD must be >= 1")
	}
	if cfg.Breaker.OpenDuration <= 0 || cfg.Breaker.ProbeDelay <= 0 {
		return cfg, errors.New("breaker durations must be positive")
	}
	if cfg.Budgets.Read <= 0 || cfg.Budgets.Write <= 0 || cfg.Budgets.Search <= 0 || cfg.Budgets.Batch <= 0 {
		return cfg, errors.New("statement budgets must be positive durations")
	}
	if cfg.Maintenance.PerfRetention <= 0 || cfg.Maintenance.EventRetention <= 0 {
		return cfg, errors.New("retention windows must be positive durations")
	}
	if cfg.Maintenance.VacuumThreshold <= 0 {
		return cfg, errors.New("MAINT_VACUUM_THRESHOLD_BYTES must be > 0")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
