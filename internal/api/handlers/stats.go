package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/brokerwire/callstats/internal/db"
	"github.com/brokerwire/callstats/internal/models"
	"github.com/brokerwire/callstats/internal/reports"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// OrganizationGetter looks up one organization.
type OrganizationGetter interface {
	GetOrganization(ctx context.Context, orgID string) (*models.Organization, error)
}

// StatsCollector runs live statistics over a date window. Implemented by
// *reports.StatsCollector.
type StatsCollector interface {
	Collect(ctx context.Context, org *models.Organization, start, end string, names ...string) (*reports.StatsResult, error)
	StatNames() []string
}

// StatsHandler serves live statistics straight from the warehouse.
type StatsHandler struct {
	orgs         OrganizationGetter
	collector    StatsCollector
	defaultOrgID string
	logger       zerolog.Logger
}

// NewStatsHandler creates a new StatsHandler.
func NewStatsHandler(orgs OrganizationGetter, collector StatsCollector, defaultOrgID string, logger zerolog.Logger) *StatsHandler {
	return &StatsHandler{
		orgs:         orgs,
		collector:    collector,
		defaultOrgID: defaultOrgID,
		logger:       logger.With().Str("component", "stats_handler").Logger(),
	}
}

// RegisterRoutes registers stats routes on the given router group.
func (h *StatsHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/all-stats", h.All)
	r.GET("/stats", h.Names)
	r.GET("/stats/:metric", h.One)
}

// All runs the whole statistics battery. Failed metrics are null and named
// in errors.
// GET /api/all-stats?org_id=&start_date=&end_date=
func (h *StatsHandler) All(c *gin.Context) {
	org, ok := h.organization(c)
	if !ok {
		return
	}

	res, err := h.collector.Collect(c.Request.Context(), org, c.Query("start_date"), c.Query("end_date"))
	if err != nil {
		h.respond(c, org.OrgID, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Names lists the statistics available by name.
// GET /api/stats
func (h *StatsHandler) Names(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"metrics": h.collector.StatNames()})
}

// One runs a single statistic.
// GET /api/stats/:metric?org_id=&start_date=&end_date=
func (h *StatsHandler) One(c *gin.Context) {
	org, ok := h.organization(c)
	if !ok {
		return
	}

	name := c.Param("metric")
	res, err := h.collector.Collect(c.Request.Context(), org, c.Query("start_date"), c.Query("end_date"), name)
	if err != nil {
		h.respond(c, org.OrgID, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"metric":     name,
		"value":      res.Value(name),
		"date_range": res.DateRange,
	})
}

func (h *StatsHandler) organization(c *gin.Context) (*models.Organization, bool) {
	orgID, ok := orgIDParam(c, h.defaultOrgID)
	if !ok {
		return nil, false
	}
	org, err := h.orgs.GetOrganization(c.Request.Context(), orgID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("organization %s not found", orgID)})
			return nil, false
		}
		respondError(c, h.logger, err, "failed to get organization")
		return nil, false
	}
	return org, true
}

func (h *StatsHandler) respond(c *gin.Context, orgID string, err error) {
	switch {
	case errors.Is(err, reports.ErrUnknownMetric):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, reports.ErrProviderUnavailable):
		h.logger.Warn().Err(err).Str("org_id", orgID).Msg("stats unavailable")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "metrics provider unavailable"})
	default:
		respondError(c, h.logger, err, "failed to collect stats")
	}
}
