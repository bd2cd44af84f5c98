// Package repo implements the data persistence layer for the site. This file
// provides repository functions for the Post model and its tags.
//
// All functions are context-aware and execute through the dbclient middleware,
// so every read is cache-eligible, every statement is timed against its
// budget, and failures run through classification and recovery. They follow
// the "thin repository" approach: no business logic, only statement
// composition and row mapping.
//
// Error semantics:
//   - When a post is not found, functions return ErrNotFound.
//   - On DB errors the original driver error is propagated unchanged (the
//     middleware guarantees this shape).
//
// Cached reads are tagged "posts" (and "tags" where tag rows are involved),
// so any write through the same client transparently invalidates them.
package repo

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/mwestcott/skyfolio/internal/dbclient"
	"github.com/mwestcott/skyfolio/internal/domain"
)

// PostReadTTL bounds staleness of cached post reads.
const PostReadTTL = 5 * time.Minute

// ListPosts returns a page of published posts, newest first. Results are
// served from the query cache when warm.
func ListPosts(ctx context.Context, c *dbclient.Client, offset, limit int) ([]domain.Post, error) {
	res, err := c.Run(ctx,
		`SELECT id, slug, title, summary, body, published, published_at, created_at, updated_at
		 FROM posts
		 WHERE published = 1 AND deleted_at IS NULL
		 ORDER BY published_at DESC
		 LIMIT ? OFFSET ?`,
		[]any{limit, offset},
		dbclient.Options{UseCache: true, CacheTTL: PostReadTTL})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Post, 0, len(res.Rows))
	for _, row := range res.Rows {
		out = append(out, rowToPost(row))
	}
	return out, nil
}

// CountPosts returns the number of published posts, for pagination metadata.
func CountPosts(ctx context.Context, c *dbclient.Client) (int64, error) {
	res, err := c.Run(ctx,
		`SELECT COUNT(*) AS n FROM posts WHERE published = 1 AND deleted_at IS NULL`,
		nil,
		dbclient.Options{UseCache: true, CacheTTL: PostReadTTL})
	if err != nil {
		return 0, err
	}
	if len(res.Rows) == 0 {
		return 0, nil
	}
	return colInt64(res.Rows[0], "n"), nil
}

// GetPostBySlug fetches a single published post, or ErrNotFound.
func GetPostBySlug(ctx context.Context, c *dbclient.Client, slug string) (*domain.Post, error) {
	res, err := c.Run(ctx,
		`SELECT id, slug, title, summary, body, published, published_at, created_at, updated_at
		 FROM posts
		 WHERE slug = ? AND published = 1 AND deleted_at IS NULL`,
		[]any{slug},
		dbclient.Options{UseCache: true, CacheTTL: PostReadTTL})
	if err != nil {
		return nil, err
	}
	if len(res.Rows) == 0 {
		return nil, ErrNotFound
	}
	p := rowToPost(res.Rows[0])
	return &p, nil
}

// CreatePost inserts a new post. When title is empty it is derived from the
// slug ("flying-the-north-sea" becomes "Flying The North Sea"). Publishing at
// creation time stamps PublishedAt.
func CreatePost(ctx context.Context, c *dbclient.Client, slug, title, summary, body string, published bool) (*domain.Post, error) {
	now := time.Now().UTC()
	if title == "" {
		title = cases.Title(language.English).String(strings.ReplaceAll(slug, "-", " "))
	}

	p := &domain.Post{
		ID:        uuid.NewString(),
		Slug:      slug,
		Title:     title,
		Summary:   summary,
		Body:      body,
		Published: published,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if published {
		p.PublishedAt = &now
	}

	_, err := c.Run(ctx,
		`INSERT INTO posts (id, slug, title, summary, body, published, published_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		[]any{p.ID, p.Slug, p.Title, p.Summary, p.Body, p.Published, p.PublishedAt, p.CreatedAt, p.UpdatedAt},
		dbclient.Options{})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// UpdatePost rewrites the content fields of a post. Returns ErrNotFound when
// no live row matches id.
func UpdatePost(ctx context.Context, c *dbclient.Client, id, title, summary, body string) error {
	res, err := c.Run(ctx,
		`UPDATE posts SET title = ?, summary = ?, body = ?, updated_at = ?
		 WHERE id = ? AND deleted_at IS NULL`,
		[]any{title, summary, body, time.Now().UTC(), id},
		dbclient.Options{})
	if err != nil {
		return err
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// PublishPost flips a draft to published and stamps PublishedAt.
func PublishPost(ctx context.Context, c *dbclient.Client, id string) error {
	now := time.Now().UTC()
	res, err := c.Run(ctx,
		`UPDATE posts SET published = 1, published_at = ?, updated_at = ?
		 WHERE id = ? AND published = 0 AND deleted_at IS NULL`,
		[]any{now, now, id},
		dbclient.Options{})
	if err != nil {
		return err
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeletePost soft-deletes a post. The row is retained; the public queries
// filter on deleted_at.
func DeletePost(ctx context.Context, c *dbclient.Client, id string) error {
	res, err := c.Run(ctx,
		`UPDATE posts SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		[]any{time.Now().UTC(), id},
		dbclient.Options{})
	if err != nil {
		return err
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// TagPost attaches a tag to a post, creating the tag on first use. Both
// writes commit atomically.
func TagPost(ctx context.Context, c *dbclient.Client, postID, tagName string) error {
	tagID, err := findTagID(ctx, c, tagName)
	if err != nil {
		return err
	}

	stmts := []dbclient.Statement{
		{
			SQL:    `INSERT OR IGNORE INTO post_tags (post_id, tag_id) VALUES (?, ?)`,
			Params: []any{postID, tagID},
		},
	}
	if tagID == "" {
		tagID = uuid.NewString()
		stmts = []dbclient.Statement{
			{
				SQL:    `INSERT INTO tags (id, name, created_at) VALUES (?, ?, ?)`,
				Params: []any{tagID, tagName, time.Now().UTC()},
			},
			{
				SQL:    `INSERT OR IGNORE INTO post_tags (post_id, tag_id) VALUES (?, ?)`,
				Params: []any{postID, tagID},
			},
		}
	}
	return c.RunTransaction(ctx, stmts)
}

// ListPostTags returns the tags attached to a post, alphabetically.
func ListPostTags(ctx context.Context, c *dbclient.Client, postID string) ([]domain.Tag, error) {
	res, err := c.Run(ctx,
		`SELECT t.id, t.name, t.created_at
		 FROM tags t
		 JOIN post_tags pt ON pt.tag_id = t.id
		 WHERE pt.post_id = ?
		 ORDER BY t.name`,
		[]any{postID},
		dbclient.Options{UseCache: true, CacheTTL: PostReadTTL})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Tag, 0, len(res.Rows))
	for _, row := range res.Rows {
		out = append(out, domain.Tag{
			ID:        colString(row, "id"),
			Name:      colString(row, "name"),
			CreatedAt: colTime(row, "created_at"),
		})
	}
	return out, nil
}

func findTagID(ctx context.Context, c *dbclient.Client, name string) (string, error) {
	res, err := c.Run(ctx,
		`SELECT id FROM tags WHERE name = ?`, []any{name}, dbclient.Options{})
	if err != nil {
		return "", err
	}
	if len(res.Rows) == 0 {
		return "", nil
	}
	return colString(res.Rows[0], "id"), nil
}

func rowToPost(row map[string]any) domain.Post {
	return domain.Post{
		ID:          colString(row, "id"),
		Slug:        colString(row, "slug"),
		Title:       colString(row, "title"),
		Summary:     colString(row, "summary"),
		Body:        colString(row, "body"),
		Published:   colBool(row, "published"),
		PublishedAt: colTimePtr(row, "published_at"),
		CreatedAt:   colTime(row, "created_at"),
		UpdatedAt:   colTime(row, "updated_at"),
	}
}
