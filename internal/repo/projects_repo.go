// Package repo: repository functions for the Project model. Reads are cached
// under the "projects" tag; writes invalidate them through the middleware.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mwestcott/skyfolio/internal/dbclient"
	"github.com/mwestcott/skyfolio/internal/domain"
)

// ProjectReadTTL bounds staleness of cached project reads. The portfolio
// changes rarely, so it tolerates a longer TTL than posts.
const ProjectReadTTL = 15 * time.Minute

// ListProjects returns all live projects: featured first, then by manual
// sort order, then newest first.
func ListProjects(ctx context.Context, c *dbclient.Client) ([]domain.Project, error) {
	res, err := c.Run(ctx,
		`SELECT id, slug, name, description, url, repo_url, featured, sort_order, created_at, updated_at
		 FROM projects
		 WHERE deleted_at IS NULL
		 ORDER BY featured DESC, sort_order ASC, created_at DESC`,
		nil,
		dbclient.Options{UseCache: true, CacheTTL: ProjectReadTTL})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Project, 0, len(res.Rows))
	for _, row := range res.Rows {
		out = append(out, rowToProject(row))
	}
	return out, nil
}

// GetProjectBySlug fetches a single project, or ErrNotFound.
func GetProjectBySlug(ctx context.Context, c *dbclient.Client, slug string) (*domain.Project, error) {
	res, err := c.Run(ctx,
		`SELECT id, slug, name, description, url, repo_url, featured, sort_order, created_at, updated_at
		 FROM projects
		 WHERE slug = ? AND deleted_at IS NULL`,
		[]any{slug},
		dbclient.Options{UseCache: true, CacheTTL: ProjectReadTTL})
	if err != nil {
		return nil, err
	}
	if len(res.Rows) == 0 {
		return nil, ErrNotFound
	}
	p := rowToProject(res.Rows[0])
	return &p, nil
}

// CreateProject inserts a new project.
func CreateProject(ctx context.Context, c *dbclient.Client, p *domain.Project) (*domain.Project, error) {
	now := time.Now().UTC()
	p.ID = uuid.NewString()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := c.Run(ctx,
		`INSERT INTO projects (id, slug, name, description, url, repo_url, featured, sort_order, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		[]any{p.ID, p.Slug, p.Name, p.Description, p.URL, p.RepoURL, p.Featured, p.SortOrder, p.CreatedAt, p.UpdatedAt},
		dbclient.Options{})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// UpdateProject rewrites the mutable fields of a project. Returns ErrNotFound
// when no live row matches the slug.
func UpdateProject(ctx context.Context, c *dbclient.Client, slug string, p *domain.Project) error {
	res, err := c.Run(ctx,
		`UPDATE projects
		 SET name = ?, description = ?, url = ?, repo_url = ?, featured = ?, sort_order = ?, updated_at = ?
		 WHERE slug = ? AND deleted_at IS NULL`,
		[]any{p.Name, p.Description, p.URL, p.RepoURL, p.Featured, p.SortOrder, time.Now().UTC(), slug},
		dbclient.Options{})
	if err != nil {
		return err
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func rowToProject(row map[string]any) domain.Project {
	return domain.Project{
		ID:          colString(row, "id"),
		Slug:        colString(row, "slug"),
		Name:        colString(row, "name"),
		Description: colString(row, "description"),
		URL:         colString(row, "url"),
		RepoURL:     colString(row, "repo_url"),
		Featured:    colBool(row, "featured"),
		SortOrder:   int(colInt64(row, "sort_order")),
		CreatedAt:   colTime(row, "created_at"),
		UpdatedAt:   colTime(row, "updated_at"),
	}
}
