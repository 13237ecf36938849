package middleware

import (
	"net/http"
	"strings"

	"github.com/brokerwire/callstats/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Dashboards read reports and the rate-limit budget; only operators' tools
// generate, backfill or edit organizations.
const (
	corsReadMethods  = "GET, OPTIONS"
	corsAllMethods   = "GET, POST, PATCH, OPTIONS"
	corsAllowHeaders = "Content-Type, X-Requested-With"
	corsExposeHeader = "X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset"
	corsMaxAge       = "86400"
)

// CORS lets the dashboard origins that embed report views call the API.
// Listed origins may use every method. With no list, any origin may read
// reports but not trigger generation, and production refuses to start.
func CORS(allowedOrigins []string, env config.Environment, logger zerolog.Logger) gin.HandlerFunc {
	if len(allowedOrigins) == 0 {
		if env == config.EnvProduction {
			panic("ALLOWED_EMBED_ORIGINS must be set in production; refusing to start with open CORS policy")
		}
		logger.Warn().Str("component", "cors").Msg("ALLOWED_EMBED_ORIGINS is empty, any origin may read reports")
	}

	originSet := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		originSet[normalizeOrigin(origin)] = struct{}{}
	}
	openReads := len(allowedOrigins) == 0

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			c.Next()
			return
		}
		c.Header("Vary", "Origin")

		_, listed := originSet[normalizeOrigin(origin)]
		preflight := c.Request.Method == http.MethodOptions && c.Request.Header.Get("Access-Control-Request-Method") != ""

		switch {
		case listed:
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", corsAllMethods)
		case openReads:
			c.Header("Access-Control-Allow-Origin", "*")
			c.Header("Access-Control-Allow-Methods", corsReadMethods)
		default:
			if preflight {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			c.Next()
			return
		}
		c.Header("Access-Control-Expose-Headers", corsExposeHeader)

		if preflight {
			c.Header("Access-Control-Allow-Headers", corsAllowHeaders)
			c.Header("Access-Control-Max-Age", corsMaxAge)
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func normalizeOrigin(origin string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(origin), "/"))
}
