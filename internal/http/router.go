// Package httpapi wires the HTTP transport (Gin) to the repositories,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging, panic recovery, metrics, CORS,
// security headers, rate limiting, and admin authentication.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	_ "github.com/mwestcott/skyfolio/docs" // swagger spec, registered on import
	"github.com/mwestcott/skyfolio/internal/analytics"
	"github.com/mwestcott/skyfolio/internal/config"
	"github.com/mwestcott/skyfolio/internal/dbclient"
	"github.com/mwestcott/skyfolio/internal/http/handlers"
	"github.com/mwestcott/skyfolio/internal/http/middleware"
	"github.com/mwestcott/skyfolio/internal/maintenance"
	"github.com/mwestcott/skyfolio/internal/repo"
)

// Deps bundles the injected application dependencies for route registration.
type Deps struct {
	DB        *dbclient.Client
	Analytics *analytics.Aggregator
	Maint     *maintenance.Runner
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), rate limiting, CORS
// and security headers, health and metrics endpoints, and then mounts the
// versioned public API and the authenticated admin group.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Logger: structured access logs
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics (with scrape/probe rate-limit bypass)
//  7. Rate limiter (per user/IP)
//  8. CORS and security headers
//  9. gzip compression for public reads
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured access logging
	r.Use(middleware.Logger())

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint; probes and scrapes are
	// exempt from rate limiting so monitoring never starves.
	r.Use(middleware.Metrics())
	r.Use(func(c *gin.Context) {
		switch c.Request.URL.Path {
		case "/health", "/metrics":
			middleware.MarkRateBypass(c)
		}
		c.Next()
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Token-bucket rate limiter per user/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	// 8) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderSessionToken},
			ExposeHeaders:    []string{"X-Request-ID", "ETag", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderSessionToken},
			ExposeHeaders:    []string{"X-Request-ID", "ETag", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// 9) Compress public responses (markdown bodies compress well)
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Swagger UI (opt-in; keep off in production unless needed)
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	h := handlers.New(deps.DB, deps.Analytics, deps.Maint, cfg.AdminToken)

	// Public API
	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	api := groupWithPrefix(r, apiBase)
	{
		// Posts
		api.GET("/posts", h.ListPosts)
		api.GET("/posts/:slug", h.GetPost)
		api.GET("/posts/:slug/tags", h.GetPostTags)

		// Projects
		api.GET("/projects", h.ListProjects)
		api.GET("/projects/:slug", h.GetProject)

		// Flight log
		api.GET("/flights", h.ListFlights)
		api.GET("/flights/stats", h.FlightStats)

		// Search and events
		api.GET("/search", h.Search)
		api.POST("/events", h.RecordEvent)
	}

	// Admin API: session login plus token-guarded content and operations
	// endpoints. Session validation reads through the same resilient client
	// as everything else.
	api.POST("/admin/login", h.Login)
	admin := api.Group("/admin", middleware.AdminAuth(
		func(ctx context.Context, token string) (bool, error) {
			return repo.ValidSession(ctx, deps.DB, token)
		},
	))
	{
		// Content management
		admin.POST("/posts", h.CreatePost)
		admin.PUT("/posts/:id", h.UpdatePost)
		admin.POST("/posts/:id/publish", h.PublishPost)
		admin.DELETE("/posts/:id", h.DeletePost)
		admin.POST("/posts/:id/tags", h.TagPost)
		admin.POST("/projects", h.CreateProject)
		admin.PUT("/projects/:slug", h.UpdateProject)
		admin.POST("/flights", h.CreateFlight)

		// Database operations
		admin.GET("/db/health", h.DBHealth)
		admin.GET("/db/dashboard", h.DBDashboard)
		admin.GET("/db/alerts", h.DBAlerts)
		admin.GET("/db/errors", h.DBCriticalErrors)
		admin.GET("/db/cache", h.DBCacheStats)
		admin.DELETE("/db/cache", h.DBCacheClear)
		admin.POST("/db/maintenance/:tier", h.RunMaintenance)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
