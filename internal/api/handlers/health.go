package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

const healthCheckTimeout = 5 * time.Second

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheckResult represents the result of a health check.
type HealthCheckResult struct {
	Status   HealthStatus   `json:"status"`
	Duration string         `json:"duration,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// HealthResponse is the response for health check endpoints.
type HealthResponse struct {
	Status  HealthStatus                  `json:"status"`
	Version string                        `json:"version,omitempty"`
	Checks  map[string]*HealthCheckResult `json:"checks,omitempty"`
	Host    map[string]any                `json:"host,omitempty"`
	Error   string                        `json:"error,omitempty"`
}

// DatabaseHealthChecker defines the interface for report store health checking.
type DatabaseHealthChecker interface {
	Ping(ctx context.Context) error
	Health(ctx context.Context) (map[string]any, error)
}

// WarehouseHealthChecker checks that the analytics warehouse answers.
type WarehouseHealthChecker interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health-related HTTP endpoints.
type HealthHandler struct {
	db        DatabaseHealthChecker
	warehouse WarehouseHealthChecker
	version   string
	hostStats func(ctx context.Context) map[string]any
	logger    zerolog.Logger
}

// NewHealthHandler creates a new HealthHandler. warehouse may be nil when no
// warehouse is configured.
func NewHealthHandler(db DatabaseHealthChecker, warehouse WarehouseHealthChecker, version string, logger zerolog.Logger) *HealthHandler {
	return &HealthHandler{
		db:        db,
		warehouse: warehouse,
		version:   version,
		hostStats: collectHostStats,
		logger:    logger.With().Str("component", "health_handler").Logger(),
	}
}

// RegisterPublicRoutes registers health check routes.
func (h *HealthHandler) RegisterPublicRoutes(r *gin.Engine) {
	health := r.Group("/health")
	{
		health.GET("", h.Overall)
		health.GET("/db", h.Database)
		health.GET("/warehouse", h.Warehouse)
	}
}

// Overall returns the overall server health status. Host stats are
// informational and never make the server unhealthy.
// GET /health
func (h *HealthHandler) Overall(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	response := &HealthResponse{
		Status:  HealthStatusHealthy,
		Version: h.version,
		Checks: map[string]*HealthCheckResult{
			"database":  h.checkDatabase(ctx),
			"warehouse": h.checkWarehouse(ctx),
		},
		Host: h.hostStats(ctx),
	}

	for _, result := range response.Checks {
		if result.Status == HealthStatusUnhealthy {
			response.Status = HealthStatusUnhealthy
		}
	}

	if response.Status == HealthStatusUnhealthy {
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}
	c.JSON(http.StatusOK, response)
}

// Database returns the report store health status.
// GET /health/db
func (h *HealthHandler) Database(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()
	h.single(c, "database", h.checkDatabase(ctx))
}

// Warehouse returns the analytics warehouse health status.
// GET /health/warehouse
func (h *HealthHandler) Warehouse(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()
	h.single(c, "warehouse", h.checkWarehouse(ctx))
}

func (h *HealthHandler) single(c *gin.Context, name string, result *HealthCheckResult) {
	response := &HealthResponse{
		Status: result.Status,
		Checks: map[string]*HealthCheckResult{name: result},
	}

	if result.Status == HealthStatusUnhealthy {
		response.Error = result.Error
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}
	c.JSON(http.StatusOK, response)
}

// checkDatabase performs a report store health check.
func (h *HealthHandler) checkDatabase(ctx context.Context) *HealthCheckResult {
	start := time.Now()
	result := &HealthCheckResult{Status: HealthStatusHealthy}

	if h.db == nil {
		result.Status = HealthStatusUnhealthy
		result.Error = "database not configured"
		result.Duration = time.Since(start).String()
		return result
	}

	err := h.db.Ping(ctx)
	result.Duration = time.Since(start).String()
	if err != nil {
		result.Status = HealthStatusUnhealthy
		result.Error = "database ping failed"
		h.logger.Warn().Err(err).Msg("database health check failed")
		return result
	}

	details, err := h.db.Health(ctx)
	result.Duration = time.Since(start).String()
	if err != nil {
		result.Status = HealthStatusUnhealthy
		result.Error = "report tables unreadable"
		h.logger.Warn().Err(err).Msg("database health query failed")
		return result
	}
	result.Details = details
	return result
}

// checkWarehouse performs a warehouse health check. A missing warehouse
// is reported but not unhealthy; stored reports can still be served.
func (h *HealthHandler) checkWarehouse(ctx context.Context) *HealthCheckResult {
	start := time.Now()
	result := &HealthCheckResult{Status: HealthStatusHealthy}

	if h.warehouse == nil {
		result.Details = map[string]any{"configured": false}
		result.Duration = time.Since(start).String()
		return result
	}

	err := h.warehouse.Ping(ctx)
	result.Duration = time.Since(start).String()
	if err != nil {
		result.Status = HealthStatusUnhealthy
		result.Error = "warehouse unreachable"
		h.logger.Warn().Err(err).Msg("warehouse health check failed")
		return result
	}

	result.Details = map[string]any{"configured": true}
	return result
}

// collectHostStats reports memory, disk and CPU figures for the server
// host. Readings that fail are omitted.
func collectHostStats(ctx context.Context) map[string]any {
	stats := make(map[string]any)

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats["memory_used_percent"] = vm.UsedPercent
		stats["memory_available_bytes"] = vm.Available
	}

	if du, err := disk.UsageWithContext(ctx, "/"); err == nil {
		stats["disk_used_percent"] = du.UsedPercent
		stats["disk_free_bytes"] = du.Free
	}

	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		stats["cpu_count"] = n
	}

	return stats
}
