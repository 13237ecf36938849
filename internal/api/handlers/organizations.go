package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/brokerwire/callstats/internal/db"
	"github.com/brokerwire/callstats/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// OrganizationStore defines the interface for organization persistence.
type OrganizationStore interface {
	ListOrganizations(ctx context.Context, activeOnly bool) ([]*models.Organization, error)
	GetOrganization(ctx context.Context, orgID string) (*models.Organization, error)
	CreateOrganization(ctx context.Context, org *models.Organization) error
	UpdateOrganization(ctx context.Context, org *models.Organization) error
}

// OrganizationsHandler handles organization HTTP endpoints.
type OrganizationsHandler struct {
	store  OrganizationStore
	logger zerolog.Logger
}

// NewOrganizationsHandler creates a new OrganizationsHandler.
func NewOrganizationsHandler(store OrganizationStore, logger zerolog.Logger) *OrganizationsHandler {
	return &OrganizationsHandler{
		store:  store,
		logger: logger.With().Str("component", "organizations_handler").Logger(),
	}
}

// RegisterRoutes registers organization routes on the given router group.
func (h *OrganizationsHandler) RegisterRoutes(r *gin.RouterGroup) {
	orgs := r.Group("/orgs")
	{
		orgs.GET("", h.List)
		orgs.POST("", h.Create)
		orgs.GET("/:org_id", h.Get)
		orgs.PATCH("/:org_id", h.Update)
	}
}

// CreateOrganizationRequest is the body of POST /api/orgs.
type CreateOrganizationRequest struct {
	OrgID        string `json:"org_id" binding:"required"`
	Name         string `json:"name" binding:"required"`
	SourceNodeID string `json:"node_persistent_id" binding:"required"`
	Timezone     string `json:"timezone"`
}

// List returns organizations. Only active ones unless active_only=false.
// GET /api/orgs
func (h *OrganizationsHandler) List(c *gin.Context) {
	activeOnly := c.DefaultQuery("active_only", "true") != "false"

	orgs, err := h.store.ListOrganizations(c.Request.Context(), activeOnly)
	if err != nil {
		respondError(c, h.logger, err, "failed to list organizations")
		return
	}
	if orgs == nil {
		orgs = []*models.Organization{}
	}

	c.JSON(http.StatusOK, gin.H{"organizations": orgs})
}

// Get returns one organization.
// GET /api/orgs/:org_id
func (h *OrganizationsHandler) Get(c *gin.Context) {
	orgID := c.Param("org_id")

	org, err := h.store.GetOrganization(c.Request.Context(), orgID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("organization %s not found", orgID)})
			return
		}
		respondError(c, h.logger, err, "failed to get organization")
		return
	}

	c.JSON(http.StatusOK, org)
}

// Create registers a new organization.
// POST /api/orgs
func (h *OrganizationsHandler) Create(c *gin.Context) {
	var req CreateOrganizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req.OrgID = strings.TrimSpace(req.OrgID)
	if req.OrgID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "org_id must not be blank"})
		return
	}
	if req.Timezone == "" {
		req.Timezone = models.DefaultTimezone
	}
	if _, err := time.LoadLocation(req.Timezone); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown timezone %q", req.Timezone)})
		return
	}

	org := models.NewOrganization(req.OrgID, req.Name, req.SourceNodeID, req.Timezone)
	if err := h.store.CreateOrganization(c.Request.Context(), org); err != nil {
		if errors.Is(err, db.ErrConflict) {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("organization %s already exists", req.OrgID)})
			return
		}
		respondError(c, h.logger, err, "failed to create organization")
		return
	}

	h.logger.Info().Str("org_id", org.OrgID).Msg("organization created")
	c.JSON(http.StatusCreated, org)
}

// Update changes the mutable fields of an organization.
// PATCH /api/orgs/:org_id
func (h *OrganizationsHandler) Update(c *gin.Context) {
	orgID := c.Param("org_id")

	var req models.OrganizationUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Empty() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no fields to update"})
		return
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name must not be blank"})
		return
	}
	if req.SourceNodeID != nil && strings.TrimSpace(*req.SourceNodeID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "node_persistent_id must not be blank"})
		return
	}
	if req.Timezone != nil {
		if _, err := time.LoadLocation(*req.Timezone); err != nil || *req.Timezone == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown timezone %q", *req.Timezone)})
			return
		}
	}

	ctx := c.Request.Context()
	org, err := h.store.GetOrganization(ctx, orgID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("organization %s not found", orgID)})
			return
		}
		respondError(c, h.logger, err, "failed to get organization")
		return
	}

	req.Apply(org)
	if err := h.store.UpdateOrganization(ctx, org); err != nil {
		respondError(c, h.logger, err, "failed to update organization")
		return
	}

	h.logger.Info().Str("org_id", org.OrgID).Msg("organization updated")
	c.JSON(http.StatusOK, org)
}
