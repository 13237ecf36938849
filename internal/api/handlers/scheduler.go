package handlers

import (
	"context"
	"net/http"

	"github.com/brokerwire/callstats/internal/reports"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// SchedulerInspector exposes scheduler state. Implemented by *reports.Scheduler.
type SchedulerInspector interface {
	Status(ctx context.Context) (*reports.Status, error)
	Health(ctx context.Context) (*reports.Health, error)
}

// SchedulerHandler serves the scheduler's read-only endpoints.
type SchedulerHandler struct {
	scheduler SchedulerInspector
	logger    zerolog.Logger
}

// NewSchedulerHandler creates a new SchedulerHandler.
func NewSchedulerHandler(scheduler SchedulerInspector, logger zerolog.Logger) *SchedulerHandler {
	return &SchedulerHandler{
		scheduler: scheduler,
		logger:    logger.With().Str("component", "scheduler_handler").Logger(),
	}
}

// RegisterRoutes registers scheduler routes on the given router group.
func (h *SchedulerHandler) RegisterRoutes(r *gin.RouterGroup) {
	sched := r.Group("/scheduler")
	{
		sched.GET("/status", h.Status)
		sched.GET("/health", h.Health)
	}
}

// Status returns the schedule, next run and recent runs.
// GET /api/scheduler/status
func (h *SchedulerHandler) Status(c *gin.Context) {
	status, err := h.scheduler.Status(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err, "failed to get scheduler status")
		return
	}
	c.JSON(http.StatusOK, status)
}

// Health returns the scheduler verdict with store statistics. An unhealthy
// scheduler is still a 200; callers read the healthy flag.
// GET /api/scheduler/health
func (h *SchedulerHandler) Health(c *gin.Context) {
	health, err := h.scheduler.Health(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err, "failed to get scheduler health")
		return
	}
	c.JSON(http.StatusOK, health)
}
