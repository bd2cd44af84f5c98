// Portfolio project HTTP handlers.
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mwestcott/skyfolio/internal/domain"
	"github.com/mwestcott/skyfolio/internal/repo"
)

// ProjectRequest is the JSON payload for creating or updating a project.
type ProjectRequest struct {
	Slug        string `json:"slug" binding:"required,min=1,max=160" example:"skyfolio"`
	Name        string `json:"name" binding:"required,min=1,max=255"`
	Description string `json:"description"`
	URL         string `json:"url"`
	RepoURL     string `json:"repo_url"`
	Featured    bool   `json:"featured"`
	SortOrder   int    `json:"sort_order"`
}

// ListProjects godoc
// @ID          listProjects
// @Summary     List portfolio projects
// @Description Returns all projects, featured first, then by manual sort order.
// @Tags        Projects
// @Produce     json
//
// @Success     200  {array}  domain.Project
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /projects [get]
func (h *Handlers) ListProjects(c *gin.Context) {
	items, err := repo.ListProjects(c.Request.Context(), h.db)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, items)
}

// GetProject godoc
// @ID          getProject
// @Summary     Fetch one project by slug
// @Tags        Projects
// @Produce     json
//
// @Param       slug  path  string  true  "Project slug"
//
// @Success     200  {object} domain.Project
// @Failure     404  {object} handlers.ErrorResponse "Project not found"
// @Router      /projects/{slug} [get]
func (h *Handlers) GetProject(c *gin.Context) {
	slug := c.Param("slug")
	if !validSlug(slug) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid slug")
		return
	}
	p, err := repo.GetProjectBySlug(c.Request.Context(), h.db, slug)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "project not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, p)
}

// CreateProject creates a portfolio entry (admin).
func (h *Handlers) CreateProject(c *gin.Context) {
	var req ProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	slug := strings.TrimSpace(req.Slug)
	if !validSlug(slug) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "slug must be lowercase letters, digits, and dashes")
		return
	}

	p, err := repo.CreateProject(c.Request.Context(), h.db, &domain.Project{
		Slug:        slug,
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		URL:         req.URL,
		RepoURL:     req.RepoURL,
		Featured:    req.Featured,
		SortOrder:   req.SortOrder,
	})
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

// UpdateProject replaces the mutable fields of a project by slug (admin).
func (h *Handlers) UpdateProject(c *gin.Context) {
	slug := c.Param("slug")
	if !validSlug(slug) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid slug")
		return
	}
	var req ProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "name required")
		return
	}

	err := repo.UpdateProject(c.Request.Context(), h.db, slug, &domain.Project{
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		URL:         req.URL,
		RepoURL:     req.RepoURL,
		Featured:    req.Featured,
		SortOrder:   req.SortOrder,
	})
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "project not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	noContent(c)
}
