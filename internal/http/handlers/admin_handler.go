// Admin and operations HTTP handlers.
//
// This file covers the token login flow plus the database operations surface:
// health reports, the performance dashboard, alert checks, the critical error
// log, cache introspection, and manual maintenance triggers. All endpoints in
// this group (except login) sit behind the admin auth middleware.
package handlers

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mwestcott/skyfolio/internal/http/middleware"
	"github.com/mwestcott/skyfolio/internal/repo"
	"github.com/mwestcott/skyfolio/internal/utils"
)

// LoginRequest carries the shared admin secret.
type LoginRequest struct {
	Token string `json:"token" binding:"required"`
}

// LoginResponse returns the session token the client must present (via the
// X-Session-Token header) on subsequent admin requests.
type LoginResponse struct {
	SessionToken string `json:"session_token"`
	ExpiresAt    string `json:"expires_at"`
}

// CacheStatsResponse combines occupancy counters with the per-tag breakdown.
type CacheStatsResponse struct {
	Stats map[string]any `json:"stats"`
	Tags  map[string]int `json:"tags"`
}

// Login godoc
// @ID          adminLogin
// @Summary     Exchange the admin token for a session
// @Description Issues a short-lived session on a constant-time token match. Sessions are purged by daily maintenance after expiry.
// @Tags        Admin
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.LoginRequest  true  "Admin token"
//
// @Success     200  {object} handlers.LoginResponse
// @Failure     401  {object} handlers.ErrorResponse "Invalid token"
// @Router      /admin/login [post]
func (h *Handlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if h.adminToken == "" ||
		subtle.ConstantTimeCompare([]byte(req.Token), []byte(h.adminToken)) != 1 {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid admin token")
		return
	}

	sessionToken := uuid.NewString()
	expires, err := repo.CreateSession(c.Request.Context(), h.db, sessionToken, repo.DefaultSessionTTL)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, LoginResponse{
		SessionToken: sessionToken,
		ExpiresAt:    expires.UTC().Format("2006-01-02T15:04:05Z"),
	})
}

// DBHealth godoc
// @ID          dbHealth
// @Summary     Database health report
// @Description Snapshot of size, performance, cache, and breaker state with a healthy/warning/critical verdict. Collection failures report critical, never healthy.
// @Tags        Admin
// @Produce     json
//
// @Success     200  {object} maintenance.HealthReport
// @Router      /admin/db/health [get]
func (h *Handlers) DBHealth(c *gin.Context) {
	ok(c, http.StatusOK, h.maint.GenerateHealthReport(c.Request.Context()))
}

// DBDashboard godoc
// @ID          dbDashboard
// @Summary     Performance dashboard
// @Description Windowed query statistics: overview, slowest statements, per-table volume, and the error breakdown.
// @Tags        Admin
// @Produce     json
//
// @Param       window_hours  query  int  false "Window in hours" default(24)
//
// @Success     200  {object} analytics.Dashboard
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /admin/db/dashboard [get]
func (h *Handlers) DBDashboard(c *gin.Context) {
	window := utils.AtoiDefault(c.Query("window_hours"), 0)
	d, err := h.stats.Dashboard(c.Request.Context(), window)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, d)
}

// DBAlerts godoc
// @ID          dbAlerts
// @Summary     Threshold alert check
// @Tags        Admin
// @Produce     json
//
// @Success     200  {object} analytics.AlertReport
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /admin/db/alerts [get]
func (h *Handlers) DBAlerts(c *gin.Context) {
	rep, err := h.stats.CheckAlerts(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, rep)
}

// DBCriticalErrors returns the critical entries from the bounded in-memory
// error log, newest last.
func (h *Handlers) DBCriticalErrors(c *gin.Context) {
	ok(c, http.StatusOK, gin.H{"errors": h.stats.CriticalErrors()})
}

// DBCacheStats returns cache occupancy, hit-rate counters, and the live
// per-tag entry breakdown.
func (h *Handlers) DBCacheStats(c *gin.Context) {
	s := h.db.Cache().Stats()
	ok(c, http.StatusOK, CacheStatsResponse{
		Stats: map[string]any{
			"size":      s.Size,
			"capacity":  s.Capacity,
			"hits":      s.Hits,
			"misses":    s.Misses,
			"evictions": s.Evictions,
			"hit_rate":  s.HitRate,
		},
		Tags: h.db.Cache().TagBreakdown(),
	})
}

// DBCacheClear drops every cached entry. Counters survive so hit-rate history
// is not erased by an operator flush.
func (h *Handlers) DBCacheClear(c *gin.Context) {
	h.db.Cache().Clear()
	middleware.LoggerFrom(c).Info().Msg("query cache cleared by operator")
	noContent(c)
}

// RunMaintenance godoc
// @ID          runMaintenance
// @Summary     Trigger a maintenance tier
// @Description Runs the daily, weekly, or monthly tier synchronously and returns the per-task results. Tiers are additive: weekly includes daily, monthly includes both.
// @Tags        Admin
// @Produce     json
//
// @Param       tier  path  string  true  "daily | weekly | monthly"
//
// @Success     200  {object} maintenance.Summary
// @Failure     400  {object} handlers.ErrorResponse "Unknown tier"
// @Router      /admin/db/maintenance/{tier} [post]
func (h *Handlers) RunMaintenance(c *gin.Context) {
	ctx := c.Request.Context()
	switch c.Param("tier") {
	case "daily":
		ok(c, http.StatusOK, h.maint.RunDaily(ctx))
	case "weekly":
		ok(c, http.StatusOK, h.maint.RunWeekly(ctx))
	case "monthly":
		ok(c, http.StatusOK, h.maint.RunMonthly(ctx))
	default:
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "tier must be daily, weekly, or monthly")
	}
}
