// Package repo: small aggregate/statistics queries used primarily for
// conditional responses (ETag generation) in the HTTP layer. Each function is
// context-aware and executes through the dbclient middleware.
package repo

import (
	"context"
	"time"

	"github.com/mwestcott/skyfolio/internal/dbclient"
)

// PostsStats returns aggregate metadata for the published posts: the total
// number of rows and the maximum UpdatedAt timestamp among them. When there
// are no posts, the returned count is 0 and maxUpdatedAt is nil.
func PostsStats(ctx context.Context, c *dbclient.Client) (count int64, maxUpdatedAt *time.Time, err error) {
	res, err := c.Run(ctx,
		`SELECT COUNT(*) AS n, MAX(updated_at) AS latest
		 FROM posts WHERE published = 1 AND deleted_at IS NULL`,
		nil,
		dbclient.Options{UseCache: true, CacheTTL: PostReadTTL})
	if err != nil {
		return 0, nil, err
	}
	if len(res.Rows) == 0 {
		return 0, nil, nil
	}
	row := res.Rows[0]
	count = colInt64(row, "n")
	if count == 0 {
		return 0, nil, nil
	}
	return count, colTimePtr(row, "latest"), nil
}

// FlightsStats returns the logbook row count and the latest UpdatedAt.
func FlightsStats(ctx context.Context, c *dbclient.Client) (count int64, maxUpdatedAt *time.Time, err error) {
	res, err := c.Run(ctx,
		`SELECT COUNT(*) AS n, MAX(updated_at) AS latest
		 FROM flights WHERE deleted_at IS NULL`,
		nil,
		dbclient.Options{UseCache: true, CacheTTL: FlightReadTTL})
	if err != nil {
		return 0, nil, err
	}
	if len(res.Rows) == 0 {
		return 0, nil, nil
	}
	row := res.Rows[0]
	count = colInt64(row, "n")
	if count == 0 {
		return 0, nil, nil
	}
	return count, colTimePtr(row, "latest"), nil
}
