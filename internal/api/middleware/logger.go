package middleware

import (
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// reportFields are request parameters logged as their own fields. They are
// dropped from the logged query so dashboards can filter on them.
var reportFields = []string{"org_id", "date", "start_date", "end_date", "tz"}

// sensitiveParams are redacted wherever they appear in a logged query.
var sensitiveParams = map[string]bool{
	"token":    true,
	"key":      true,
	"api_key":  true,
	"secret":   true,
	"password": true,
}

// pollRoutes are hit by load balancers and scrapers. Successful requests to
// them log at debug.
var pollRoutes = map[string]bool{
	"/health":           true,
	"/health/db":        true,
	"/health/warehouse": true,
	"/metrics":          true,
}

// requestFields splits a raw query into report fields and the remainder,
// with sensitive values redacted.
func requestFields(rawQuery string) (map[string]string, string) {
	if rawQuery == "" {
		return nil, ""
	}
	params, err := url.ParseQuery(rawQuery)
	if err != nil {
		return nil, "[unparseable]"
	}

	fields := make(map[string]string)
	for _, name := range reportFields {
		if v := strings.TrimSpace(params.Get(name)); v != "" {
			fields[name] = v
		}
		params.Del(name)
	}
	for name, values := range params {
		if sensitiveParams[strings.ToLower(name)] {
			for i := range values {
				values[i] = "[REDACTED]"
			}
		}
	}
	return fields, params.Encode()
}

// RequestLogger returns a middleware that logs one line per API request.
// Report parameters such as org_id and the :date path segment become fields.
// 4xx responses log at warn and 5xx at error.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	log := logger.With().Str("component", "http").Logger()

	return func(c *gin.Context) {
		start := time.Now()
		fields, query := requestFields(c.Request.URL.RawQuery)

		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()

		event := log.Info()
		switch {
		case status >= 500:
			event = log.Error()
		case status >= 400:
			event = log.Warn()
		case pollRoutes[route]:
			event = log.Debug()
		}

		if route == "" {
			route = "unmatched"
		}
		event = event.
			Str("method", c.Request.Method).
			Str("route", route).
			Str("path", c.Request.URL.Path)
		if query != "" {
			event = event.Str("query", query)
		}
		for _, name := range reportFields {
			if v, ok := fields[name]; ok {
				event = event.Str(name, v)
			}
		}
		if date := c.Param("date"); date != "" {
			event = event.Str("report_date", date)
		}
		if len(c.Errors) > 0 {
			event = event.Str("errors", c.Errors.String())
		}

		event.
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Int("body_size", c.Writer.Size()).
			Msg("request")
	}
}
