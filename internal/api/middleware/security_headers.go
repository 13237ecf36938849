package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// SecurityHeaders returns a middleware that sets security-related HTTP
// response headers. Report routes may be framed by embedOrigins; every other
// route refuses framing.
func SecurityHeaders(embedOrigins []string) gin.HandlerFunc {
	frameAncestors := "'none'"
	if len(embedOrigins) > 0 {
		frameAncestors = strings.Join(embedOrigins, " ")
	}
	embedCSP := "default-src 'none'; frame-ancestors " + frameAncestors

	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Permissions-Policy", "geolocation=(), microphone=(), camera=()")

		if c.Request.TLS != nil {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		if isEmbeddableRoute(c.Request.URL.Path) && len(embedOrigins) > 0 {
			c.Header("Content-Security-Policy", embedCSP)
		} else {
			c.Header("X-Frame-Options", "DENY")
			c.Header("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		}

		c.Next()
	}
}

// isEmbeddableRoute returns true for the report views dashboards frame.
func isEmbeddableRoute(path string) bool {
	return strings.HasPrefix(path, "/api/reports") ||
		strings.HasPrefix(path, "/api/daily-report")
}
