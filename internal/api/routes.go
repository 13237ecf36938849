// Package api provides the HTTP API for the callstats server.
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/brokerwire/callstats/internal/api/handlers"
	"github.com/brokerwire/callstats/internal/api/middleware"
	"github.com/brokerwire/callstats/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/ulule/limiter/v3"
)

// Config holds configuration for the API router.
type Config struct {
	Environment config.Environment
	// AllowedOrigins may call the API and frame report views. Empty allows
	// every origin outside production.
	AllowedOrigins []string
	// RateLimitRequests per RateLimitPeriod and client IP on /api. Zero
	// disables rate limiting.
	RateLimitRequests int64
	RateLimitPeriod   time.Duration
	// RateLimitStore shares counters between replicas. Nil keeps them in memory.
	RateLimitStore limiter.Store
	MaxBodyBytes   int64
	// DefaultOrgID is used by report routes when a request omits org_id.
	DefaultOrgID string
	ClientName   string
	Version      string
}

// DefaultConfig returns a Config with sensible defaults for development.
func DefaultConfig() Config {
	return Config{
		Environment:       config.EnvDevelopment,
		AllowedOrigins:    []string{},
		RateLimitRequests: 100,
		RateLimitPeriod:   time.Minute,
		MaxBodyBytes:      middleware.DefaultMaxBodyBytes,
		Version:           "dev",
	}
}

// Store is the persistence the API reads and writes.
type Store interface {
	handlers.OrganizationStore
	handlers.ReportStore
	handlers.DatabaseHealthChecker
}

// ReportScheduler runs manual generation and reports scheduler state.
type ReportScheduler interface {
	handlers.ReportTrigger
	handlers.SchedulerInspector
}

// Dependencies are the services the routes are wired to.
type Dependencies struct {
	Store     Store
	Scheduler ReportScheduler
	Assembler handlers.PayloadAssembler
	// Stats is optional; nil leaves the live stats routes unregistered.
	Stats handlers.StatsCollector
	// Warehouse is optional; nil reports the warehouse as unconfigured.
	Warehouse handlers.WarehouseHealthChecker
	Gatherer  prometheus.Gatherer
}

// Router wraps a Gin engine with configured middleware and routes.
type Router struct {
	Engine *gin.Engine
	logger zerolog.Logger
}

// NewRouter creates a new Router with the given dependencies.
func NewRouter(cfg Config, deps Dependencies, logger zerolog.Logger) (*Router, error) {
	r := &Router{
		Engine: gin.New(),
		logger: logger.With().Str("component", "router").Logger(),
	}

	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = middleware.DefaultMaxBodyBytes
	}

	// Global middleware
	r.Engine.Use(gin.Recovery())
	r.Engine.Use(middleware.RequestLogger(logger))
	r.Engine.Use(middleware.SecurityHeaders(cfg.AllowedOrigins))
	r.Engine.Use(middleware.CORS(cfg.AllowedOrigins, cfg.Environment, logger))
	r.Engine.Use(middleware.BodyLimitMiddleware(cfg.MaxBodyBytes))

	// Public endpoints
	r.Engine.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": fmt.Sprintf("Welcome to %s Analytics API", clientName(cfg.ClientName)),
			"version": cfg.Version,
		})
	})

	handlers.NewHealthHandler(deps.Store, deps.Warehouse, cfg.Version, logger).RegisterPublicRoutes(r.Engine)

	if deps.Gatherer != nil {
		handlers.NewMetricsHandler(deps.Gatherer).RegisterPublicRoutes(r.Engine)
	}

	// API routes
	apiGroup := r.Engine.Group("/api")
	if cfg.RateLimitRequests > 0 {
		rateLimiter, err := middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitPeriod, cfg.RateLimitStore, logger)
		if err != nil {
			return nil, err
		}
		apiGroup.Use(rateLimiter)
	}

	handlers.NewOrganizationsHandler(deps.Store, logger).RegisterRoutes(apiGroup)
	handlers.NewReportsHandler(deps.Store, deps.Scheduler, deps.Assembler, cfg.DefaultOrgID, logger).RegisterRoutes(apiGroup)
	handlers.NewSchedulerHandler(deps.Scheduler, logger).RegisterRoutes(apiGroup)
	if deps.Stats != nil {
		handlers.NewStatsHandler(deps.Store, deps.Stats, cfg.DefaultOrgID, logger).RegisterRoutes(apiGroup)
	}

	r.logger.Debug().Int("routes", len(r.Engine.Routes())).Msg("api routes registered")
	return r, nil
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.Engine.ServeHTTP(w, req)
}

func clientName(name string) string {
	if name == "" {
		return "Callstats"
	}
	return name
}
