// Package middleware implements gin middleware for the REST surface:
// API-key authentication (spec.md §6) and CORS, grounded on the
// teacher's internal/middleware package (RequireAuth extracting a
// credential from query/header/cookie, gin.AbortWithStatusJSON on
// failure) generalized from a bearer JWT to a single static API key.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/scitix/netpulse/internal/logging"
)

// RequireAPIKey rejects any request that doesn't carry apiKey via the
// configured header name, or a query parameter or cookie named after the
// header in lower case (spec.md §6: "authenticated by API key in query/header/cookie;
// missing/wrong key → 403"). An empty configured apiKey disables auth
// entirely, matching local/dev deployments.
func RequireAPIKey(apiKey, headerName string, log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			c.Next()
			return
		}
		if extractAPIKey(c, headerName) == apiKey {
			c.Next()
			return
		}
		log.Warn("rejected request: missing or invalid API key", "path", c.Request.URL.Path)
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"code": -1, "message": "missing or invalid API key"})
	}
}

func extractAPIKey(c *gin.Context, headerName string) string {
	if v := c.GetHeader(headerName); v != "" {
		return v
	}
	if v := c.Query(strings.ToLower(headerName)); v != "" {
		return v
	}
	if v, err := c.Cookie(strings.ToLower(headerName)); err == nil && v != "" {
		return v
	}
	return ""
}
