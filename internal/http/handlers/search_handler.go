// Search and site-event HTTP handlers.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mwestcott/skyfolio/internal/http/middleware"
	"github.com/mwestcott/skyfolio/internal/repo"
	"github.com/mwestcott/skyfolio/internal/utils"
)

// SearchResponse wraps full-text search hits for a query.
type SearchResponse struct {
	Query string           `json:"query"`
	Hits  []repo.SearchHit `json:"hits"`
}

// RecordEventRequest is the JSON payload for the lightweight analytics
// endpoint. Kind is constrained to a small vocabulary to keep the event
// table queryable.
type RecordEventRequest struct {
	Kind     string `json:"kind" binding:"required" example:"page_view"`
	Path     string `json:"path" example:"/posts/first-solo"`
	Referrer string `json:"referrer"`
}

// eventKinds is the accepted vocabulary for site events.
var eventKinds = map[string]bool{
	"page_view": true,
	"search":    true,
	"download":  true,
	"outbound":  true,
}

// Search godoc
// @ID          searchPosts
// @Summary     Full-text search over published posts
// @Description Matches title and body with prefix semantics; results are ranked by relevance and include highlighted snippets.
// @Tags        Search
// @Produce     json
//
// @Param       q      query  string  true  "Search terms" example(crosswind landing)
// @Param       limit  query  int     false "Max hits (1-50)" default(20)
//
// @Success     200  {object} handlers.SearchResponse
// @Failure     400  {object} handlers.ErrorResponse "Missing query"
// @Failure     500  {object} handlers.ErrorResponse "Search failed"
// @Router      /search [get]
func (h *Handlers) Search(c *gin.Context) {
	ctx := c.Request.Context()
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "query parameter q is required")
		return
	}
	limit := utils.AtoiDefault(c.Query("limit"), 0)

	hits, err := repo.SearchPosts(ctx, h.db, q, limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeSearchFailed, err.Error())
		return
	}

	// Searches are themselves site events; recording is best effort and must
	// never fail the response.
	if err := repo.RecordEvent(ctx, h.db, "search", "/search", c.Request.Referer()); err != nil {
		middleware.LoggerFrom(c).Warn().Err(err).Msg("record search event")
	}

	ok(c, http.StatusOK, SearchResponse{Query: q, Hits: hits})
}

// RecordEvent godoc
// @ID          recordEvent
// @Summary     Record a site event
// @Description Appends one row to the analytics log (page views, downloads, outbound clicks). Returns 202 regardless of storage latency.
// @Tags        Events
// @Accept      json
//
// @Param       body  body  handlers.RecordEventRequest  true  "Event payload"
//
// @Success     202  {string} string "Accepted"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Router      /events [post]
func (h *Handlers) RecordEvent(c *gin.Context) {
	var req RecordEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if !eventKinds[req.Kind] {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown event kind")
		return
	}
	if err := repo.RecordEvent(c.Request.Context(), h.db, req.Kind, req.Path, req.Referrer); err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	c.Status(http.StatusAccepted)
}
