// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file guards the admin route group. Authentication is session based:
// clients first exchange the shared admin token for a session at
// /admin/login, then present the issued token via the X-Session-Token header.
// Session validation is injected as a function so this package stays free of
// storage dependencies.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// HeaderSessionToken is the request header carrying the admin session token.
const HeaderSessionToken = "X-Session-Token"

// SessionValidator reports whether the presented session token is known and
// unexpired. Errors are treated as "not valid" (fail closed).
type SessionValidator func(ctx context.Context, token string) (bool, error)

// AdminAuth rejects requests that do not carry a valid admin session.
//
// Responses use the same JSON envelope as handler errors so clients see a
// consistent shape:
//
//	{ "request_id": "...", "code": "unauthorized", "message": "..." }
func AdminAuth(valid SessionValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimSpace(c.GetHeader(HeaderSessionToken))
		if token == "" {
			abortUnauthorized(c, "missing session token")
			return
		}
		okSession, err := valid(c.Request.Context(), token)
		if err != nil {
			LoggerFrom(c).Error().Err(err).Msg("session validation failed")
			abortUnauthorized(c, "session validation failed")
			return
		}
		if !okSession {
			abortUnauthorized(c, "invalid or expired session")
			return
		}
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, msg string) {
	rid, _ := c.Get(requestIDKey)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"request_id": asString(rid),
		"code":       "unauthorized",
		"message":    msg,
	})
}
