// Package repo: full-text search over posts through the FTS5 shadow table.
// These statements carry the search budget class (300ms) in the performance
// recorder, and their cache entries are tagged "posts_fts".
package repo

import (
	"context"
	"strings"
	"time"

	"github.com/mwestcott/skyfolio/internal/dbclient"
)

// SearchTTL bounds staleness of cached search results. Kept short: search
// results embed ranking, which shifts with every content change.
const SearchTTL = time.Minute

// SearchHit is one ranked search result.
type SearchHit struct {
	Slug    string  `json:"slug"`
	Title   string  `json:"title"`
	Snippet string  `json:"snippet"`
	Rank    float64 `json:"rank"`
}

// SearchPosts runs a ranked full-text query over published posts. The query
// is sanitized into a prefix-match expression so raw user input cannot break
// the FTS syntax.
func SearchPosts(ctx context.Context, c *dbclient.Client, query string, limit int) ([]SearchHit, error) {
	match := buildMatchExpr(query)
	if match == "" {
		return []SearchHit{}, nil
	}
	if limit <= 0 || limit > 50 {
		limit = 20
	}

	res, err := c.Run(ctx,
		`SELECT p.slug AS slug, p.title AS title,
		        snippet(posts_fts, 2, '<mark>', '</mark>', '…', 16) AS snip,
		        bm25(posts_fts) AS rank
		 FROM posts_fts
		 JOIN posts p ON p.rowid = posts_fts.rowid
		 WHERE posts_fts MATCH ? AND p.published = 1 AND p.deleted_at IS NULL
		 ORDER BY rank
		 LIMIT ?`,
		[]any{match, limit},
		dbclient.Options{UseCache: true, CacheTTL: SearchTTL})
	if err != nil {
		return nil, err
	}

	out := make([]SearchHit, 0, len(res.Rows))
	for _, row := range res.Rows {
		out = append(out, SearchHit{
			Slug:    colString(row, "slug"),
			Title:   colString(row, "title"),
			Snippet: colString(row, "snip"),
			Rank:    colFloat64(row, "rank"),
		})
	}
	return out, nil
}

// buildMatchExpr turns free-form input into a conjunction of quoted prefix
// terms: `north sea` becomes `"north"* "sea"*`. Everything except letters and
// digits is treated as a separator.
func buildMatchExpr(query string) string {
	terms := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	if len(terms) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		quoted = append(quoted, `"`+t+`"*`)
	}
	return strings.Join(quoted, " ")
}
