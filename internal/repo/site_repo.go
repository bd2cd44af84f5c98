// Package repo: operational rows - the analytics event log and admin
// sessions. Event inserts skip the performance log so that recording a page
// view does not itself generate telemetry rows.
package repo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/mwestcott/skyfolio/internal/dbclient"
)

// DefaultSessionTTL is how long an admin session stays valid. Expired rows
// are purged by the daily maintenance tier, not at logout.
const DefaultSessionTTL = 24 * time.Hour

// RecordEvent appends one row to the site analytics log. Failures are the
// caller's to ignore; losing an event is preferable to failing a page view.
func RecordEvent(ctx context.Context, c *dbclient.Client, kind, path, referrer string) error {
	_, err := c.Run(ctx,
		`INSERT INTO site_events (id, kind, path, referrer, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		[]any{uuid.NewString(), kind, path, referrer, time.Now().UTC()},
		dbclient.Options{SkipLogging: true})
	return err
}

// CreateSession stores a new admin session for the given bearer token and
// returns its expiry. Only the token's hash is persisted.
func CreateSession(ctx context.Context, c *dbclient.Client, token string, ttl time.Duration) (time.Time, error) {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	expires := time.Now().UTC().Add(ttl)
	_, err := c.Run(ctx,
		`INSERT INTO sessions (id, token_hash, expires_at, created_at)
		 VALUES (?, ?, ?, ?)`,
		[]any{uuid.NewString(), hashToken(token), expires, time.Now().UTC()},
		dbclient.Options{})
	return expires, err
}

// ValidSession reports whether an unexpired session exists for the token.
func ValidSession(ctx context.Context, c *dbclient.Client, token string) (bool, error) {
	res, err := c.Run(ctx,
		`SELECT COUNT(*) AS n FROM sessions WHERE token_hash = ? AND expires_at > ?`,
		[]any{hashToken(token), time.Now().UTC()},
		dbclient.Options{})
	if err != nil {
		return false, err
	}
	return len(res.Rows) > 0 && colInt64(res.Rows[0], "n") > 0, nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
