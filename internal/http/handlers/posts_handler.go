// Blog post HTTP handlers.
//
// Public endpoints serve published posts only; the admin group (mounted behind
// token auth by the router) exposes the full draft/publish lifecycle. Handlers
// are transport-thin: they validate input, call repository functions through
// the resilient database client, and translate results into HTTP responses
// (including conditional responses via weak ETags).
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mwestcott/skyfolio/internal/analytics"
	"github.com/mwestcott/skyfolio/internal/dbclient"
	"github.com/mwestcott/skyfolio/internal/maintenance"
	"github.com/mwestcott/skyfolio/internal/repo"
	"github.com/mwestcott/skyfolio/internal/utils"
)

//
// Handler wiring
//

// Handlers groups the HTTP endpoints for posts, projects, the flight log,
// search, and the admin/operations surface. All database access goes through
// the shared resilient client so every request benefits from caching,
// performance recording, error recovery, and the circuit breaker.
type Handlers struct {
	db         *dbclient.Client
	stats      *analytics.Aggregator
	maint      *maintenance.Runner
	adminToken string
}

// New constructs a Handlers instance bound to the given dependencies.
// adminToken is the shared secret accepted by the /admin/login endpoint;
// when empty, login always fails and the admin API is effectively disabled.
func New(db *dbclient.Client, stats *analytics.Aggregator, maint *maintenance.Runner, adminToken string) *Handlers {
	return &Handlers{db: db, stats: stats, maint: maint, adminToken: adminToken}
}

//
// DTOs
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// CreatePostRequest is the JSON payload for creating a post.
type CreatePostRequest struct {
	Slug      string `json:"slug" binding:"required,min=1,max=160" example:"first-solo"`
	Title     string `json:"title" example:"First Solo"`
	Summary   string `json:"summary" example:"Twelve minutes in the circuit, alone."`
	Body      string `json:"body" binding:"required" example:"The tower cleared me..."`
	Published bool   `json:"published"`
}

// UpdatePostRequest is the JSON payload for updating a post's content.
type UpdatePostRequest struct {
	Title   string `json:"title" binding:"required,min=1,max=255"`
	Summary string `json:"summary"`
	Body    string `json:"body" binding:"required"`
}

// TagPostRequest attaches a tag (created on first use) to a post.
type TagPostRequest struct {
	Name string `json:"name" binding:"required,min=1,max=64" example:"aviation"`
}

// ListPostsResponse wraps a page of posts and pagination information.
type ListPostsResponse struct {
	Posts      []postSummary `json:"posts"`
	Pagination Pagination    `json:"pagination"`
}

// postSummary is the list-view projection of a post (no body).
type postSummary struct {
	Slug        string `json:"slug"`
	Title       string `json:"title"`
	Summary     string `json:"summary"`
	PublishedAt string `json:"published_at,omitempty"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// paginationFor computes the response metadata for one page.
func paginationFor(page, pageSize int, total int64) Pagination {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// validSlug enforces the URL-safe slug alphabet used across resources.
func validSlug(s string) bool {
	if s == "" || len(s) > 160 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
		default:
			return false
		}
	}
	return true
}

//
// Public handlers
//

// ListPosts godoc
// @ID          listPosts
// @Summary     List published posts (paginated)
// @Description Returns a page of published posts, newest first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Posts
// @Produce     json
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       page           query   int     false "Page number"    minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page" minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListPostsResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /posts [get]
func (h *Handlers) ListPosts(c *gin.Context) {
	ctx := c.Request.Context()
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort): derived from count + latest update.
	count, maxTS, err := repo.PostsStats(ctx, h.db)
	if err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.Unix()
		}
		etag := fmt.Sprintf(`W/"posts:%d:%d"`, count, ts)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	items, err := repo.ListPosts(ctx, h.db, (page-1)*pageSize, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	total, err := repo.CountPosts(ctx, h.db)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	out := make([]postSummary, 0, len(items))
	for _, p := range items {
		s := postSummary{Slug: p.Slug, Title: p.Title, Summary: p.Summary}
		if p.PublishedAt != nil {
			s.PublishedAt = p.PublishedAt.UTC().Format("2006-01-02")
		}
		out = append(out, s)
	}
	ok(c, http.StatusOK, ListPostsResponse{Posts: out, Pagination: paginationFor(page, pageSize, total)})
}

// GetPost godoc
// @ID          getPost
// @Summary     Fetch one published post by slug
// @Tags        Posts
// @Produce     json
//
// @Param       slug  path  string  true  "Post slug" example(first-solo)
//
// @Success     200  {object} domain.Post
// @Failure     404  {object} handlers.ErrorResponse "Post not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /posts/{slug} [get]
func (h *Handlers) GetPost(c *gin.Context) {
	slug := c.Param("slug")
	if !validSlug(slug) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid slug")
		return
	}

	p, err := repo.GetPostBySlug(c.Request.Context(), h.db, slug)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "post not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, p)
}

// GetPostTags godoc
// @ID          getPostTags
// @Summary     List the tags attached to a published post
// @Tags        Posts
// @Produce     json
//
// @Param       slug  path  string  true  "Post slug"
//
// @Success     200  {array}  domain.Tag
// @Failure     404  {object} handlers.ErrorResponse "Post not found"
// @Router      /posts/{slug}/tags [get]
func (h *Handlers) GetPostTags(c *gin.Context) {
	ctx := c.Request.Context()
	slug := c.Param("slug")
	if !validSlug(slug) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid slug")
		return
	}

	p, err := repo.GetPostBySlug(ctx, h.db, slug)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "post not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	tags, err := repo.ListPostTags(ctx, h.db, p.ID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, tags)
}

//
// Admin handlers
//

// CreatePost godoc
// @ID          createPost
// @Summary     Create a post (admin)
// @Tags        Admin
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.CreatePostRequest  true  "Create post payload"
//
// @Success     201  {object} domain.Post
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     409  {object} handlers.ErrorResponse "Slug already exists"
// @Router      /admin/posts [post]
func (h *Handlers) CreatePost(c *gin.Context) {
	var req CreatePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	slug := strings.TrimSpace(req.Slug)
	if !validSlug(slug) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "slug must be lowercase letters, digits, and dashes")
		return
	}

	p, err := repo.CreatePost(c.Request.Context(), h.db, slug, req.Title, req.Summary, req.Body, req.Published)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			fail(c, http.StatusConflict, ErrCodeConflict, "slug already exists")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		return
	}
	ok(c, http.StatusCreated, p)
}

// UpdatePost replaces the title, summary, and body of a post by id.
func (h *Handlers) UpdatePost(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "post id must be a UUID")
		return
	}
	var req UpdatePostRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "title and body required")
		return
	}

	if err := h.updatePostErr(c, repo.UpdatePost(c.Request.Context(), h.db, id, req.Title, req.Summary, req.Body)); err != nil {
		return
	}
	noContent(c)
}

// PublishPost marks a draft as published and stamps published_at.
func (h *Handlers) PublishPost(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "post id must be a UUID")
		return
	}
	if err := h.updatePostErr(c, repo.PublishPost(c.Request.Context(), h.db, id)); err != nil {
		return
	}
	noContent(c)
}

// DeletePost soft-deletes a post. The row (and its FTS entry) survives until
// maintenance reaps it; public queries exclude it immediately.
func (h *Handlers) DeletePost(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "post id must be a UUID")
		return
	}
	if err := h.updatePostErr(c, repo.DeletePost(c.Request.Context(), h.db, id)); err != nil {
		return
	}
	noContent(c)
}

// TagPost attaches a tag to a post, creating the tag on first use.
func (h *Handlers) TagPost(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "post id must be a UUID")
		return
	}
	var req TagPostRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "tag name required")
		return
	}
	if err := repo.TagPost(c.Request.Context(), h.db, id, strings.TrimSpace(req.Name)); err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	noContent(c)
}

// updatePostErr maps repo errors from post mutations to HTTP responses and
// reports whether an error response was written.
func (h *Handlers) updatePostErr(c *gin.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "post not found")
		return err
	}
	fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	return err
}
