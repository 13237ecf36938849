package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/brokerwire/callstats/internal/db"
	"github.com/brokerwire/callstats/internal/models"
	"github.com/brokerwire/callstats/internal/reports"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	defaultReportListLimit = 30
	maxReportListLimit     = 366
)

// ReportStore defines the report reads the handler needs.
type ReportStore interface {
	GetReport(ctx context.Context, orgID, reportDate string) (*models.DailyReport, error)
	GetLatestReport(ctx context.Context, orgID string) (*models.DailyReport, error)
	ListReportDates(ctx context.Context, orgID string) ([]string, error)
	GetReportsInRange(ctx context.Context, orgID, start, end string) ([]*models.DailyReport, error)
	GetRecentReports(ctx context.Context, orgID string, limit int) ([]*models.DailyReport, error)
	GetOrganization(ctx context.Context, orgID string) (*models.Organization, error)
}

// ReportTrigger runs manual generation. Implemented by *reports.Scheduler.
type ReportTrigger interface {
	TriggerSingle(ctx context.Context, orgID string, date *string) (*reports.TriggerResult, error)
	TriggerAll(ctx context.Context, date *string) (*reports.TriggerAllResult, error)
	Backfill(ctx context.Context, orgID, start, end string) (*reports.BackfillResult, error)
}

// PayloadAssembler builds a report payload without storing it.
type PayloadAssembler interface {
	Assemble(ctx context.Context, org *models.Organization, date string) (*models.ReportPayload, error)
}

// ReportsHandler serves stored reports, live reports and manual generation.
type ReportsHandler struct {
	store        ReportStore
	trigger      ReportTrigger
	assembler    PayloadAssembler
	defaultOrgID string
	logger       zerolog.Logger
	now          func() time.Time
}

// NewReportsHandler creates a new ReportsHandler. defaultOrgID is used when a
// request omits org_id; it may be empty.
func NewReportsHandler(store ReportStore, trigger ReportTrigger, assembler PayloadAssembler, defaultOrgID string, logger zerolog.Logger) *ReportsHandler {
	return &ReportsHandler{
		store:        store,
		trigger:      trigger,
		assembler:    assembler,
		defaultOrgID: defaultOrgID,
		logger:       logger.With().Str("component", "reports_handler").Logger(),
		now:          time.Now,
	}
}

// RegisterRoutes registers report routes on the given router group.
func (h *ReportsHandler) RegisterRoutes(r *gin.RouterGroup) {
	rpts := r.Group("/reports")
	{
		rpts.GET("", h.List)
		rpts.GET("/dates", h.Dates)
		rpts.GET("/latest", h.Latest)
		rpts.GET("/:date", h.Get)

		rpts.POST("/generate", h.Generate)
		rpts.POST("/backfill", h.Backfill)
	}

	r.GET("/daily-report", h.Live)
}

// ReportSummary is one row of the report list.
type ReportSummary struct {
	ID                    uuid.UUID `json:"id"`
	ReportDate            string    `json:"report_date"`
	CreatedAt             time.Time `json:"created_at"`
	TotalCalls            int64     `json:"total_calls"`
	SuccessRatePercent    *float64  `json:"success_rate_percent"`
	NonConvertiblePercent *float64  `json:"non_convertible_percent"`
}

func summarize(r *models.DailyReport) ReportSummary {
	s := ReportSummary{ID: r.ID, ReportDate: r.ReportDate, CreatedAt: r.CreatedAt}
	if r.Payload == nil {
		return s
	}
	kpis := r.Payload.KPIs
	s.TotalCalls = kpis.TotalCalls
	s.SuccessRatePercent = kpis.SuccessRatePercent
	if nc := kpis.NonConvertibleWithCNQ; nc != nil {
		pct := nc.Percentage
		s.NonConvertiblePercent = &pct
	}
	return s
}

// ReportResponse is a stored report as served by the API.
type ReportResponse struct {
	ID         uuid.UUID             `json:"id"`
	OrgID      string                `json:"org_id"`
	ReportDate string                `json:"report_date"`
	CreatedAt  time.Time             `json:"created_at"`
	Data       *models.ReportPayload `json:"data"`
}

func toResponse(r *models.DailyReport) ReportResponse {
	return ReportResponse{ID: r.ID, OrgID: r.OrgID, ReportDate: r.ReportDate, CreatedAt: r.CreatedAt, Data: r.Payload}
}

// List returns stored reports newest first, or a date range oldest first.
// GET /api/reports?org_id=&limit=&start_date=&end_date=
func (h *ReportsHandler) List(c *gin.Context) {
	orgID, ok := orgIDParam(c, h.defaultOrgID)
	if !ok {
		return
	}

	start, end := c.Query("start_date"), c.Query("end_date")
	if (start == "") != (end == "") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start_date and end_date must be given together"})
		return
	}

	ctx := c.Request.Context()
	var (
		list []*models.DailyReport
		err  error
	)
	if start != "" {
		if !validDate(start) || !validDate(end) || start > end {
			c.JSON(http.StatusBadRequest, gin.H{"error": "start_date and end_date must be YYYY-MM-DD with start_date <= end_date"})
			return
		}
		list, err = h.store.GetReportsInRange(ctx, orgID, start, end)
	} else {
		limit := defaultReportListLimit
		if raw := c.Query("limit"); raw != "" {
			limit, err = strconv.Atoi(raw)
			if err != nil || limit < 1 || limit > maxReportListLimit {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("limit must be between 1 and %d", maxReportListLimit)})
				return
			}
		}
		list, err = h.store.GetRecentReports(ctx, orgID, limit)
	}
	if err != nil {
		respondError(c, h.logger, err, "failed to list reports")
		return
	}

	var orgName *string
	if org, err := h.store.GetOrganization(ctx, orgID); err == nil {
		orgName = &org.Name
	} else if !errors.Is(err, db.ErrNotFound) {
		respondError(c, h.logger, err, "failed to get organization")
		return
	}

	summaries := make([]ReportSummary, 0, len(list))
	for _, r := range list {
		summaries = append(summaries, summarize(r))
	}

	c.JSON(http.StatusOK, gin.H{
		"org_id":   orgID,
		"org_name": orgName,
		"count":    len(summaries),
		"reports":  summaries,
	})
}

// DateRange bounds the stored dates of an organization.
type DateRange struct {
	Earliest string `json:"earliest"`
	Latest   string `json:"latest"`
}

// Dates returns every date that has a stored report, newest first.
// GET /api/reports/dates?org_id=
func (h *ReportsHandler) Dates(c *gin.Context) {
	orgID, ok := orgIDParam(c, h.defaultOrgID)
	if !ok {
		return
	}

	dates, err := h.store.ListReportDates(c.Request.Context(), orgID)
	if err != nil {
		respondError(c, h.logger, err, "failed to list report dates")
		return
	}
	if dates == nil {
		dates = []string{}
	}

	var dr *DateRange
	if len(dates) > 0 {
		dr = &DateRange{Earliest: dates[len(dates)-1], Latest: dates[0]}
	}

	c.JSON(http.StatusOK, gin.H{
		"org_id":     orgID,
		"count":      len(dates),
		"date_range": dr,
		"dates":      dates,
	})
}

// Latest returns the most recent stored report.
// GET /api/reports/latest?org_id=
func (h *ReportsHandler) Latest(c *gin.Context) {
	orgID, ok := orgIDParam(c, h.defaultOrgID)
	if !ok {
		return
	}

	report, err := h.store.GetLatestReport(c.Request.Context(), orgID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no reports found"})
			return
		}
		respondError(c, h.logger, err, "failed to get latest report")
		return
	}

	c.JSON(http.StatusOK, toResponse(report))
}

// Get returns the stored report for one date.
// GET /api/reports/:date?org_id=
func (h *ReportsHandler) Get(c *gin.Context) {
	orgID, ok := orgIDParam(c, h.defaultOrgID)
	if !ok {
		return
	}

	date := c.Param("date")
	if !validDate(date) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid date %q, expected YYYY-MM-DD", date)})
		return
	}

	report, err := h.store.GetReport(c.Request.Context(), orgID, date)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("no report found for %s", date)})
			return
		}
		respondError(c, h.logger, err, "failed to get report")
		return
	}

	c.JSON(http.StatusOK, toResponse(report))
}

// GenerateRequest is the body of POST /api/reports/generate.
type GenerateRequest struct {
	OrgID *string `json:"org_id"`
	Date  *string `json:"date"`
}

// Generate runs manual generation for one organization, or for every
// active organization when org_id is omitted. date defaults to yesterday.
// POST /api/reports/generate
func (h *ReportsHandler) Generate(c *gin.Context) {
	var req GenerateRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.Date != nil && !validDate(*req.Date) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid date %q, expected YYYY-MM-DD", *req.Date)})
		return
	}

	// Generation outlives a dropped client connection.
	ctx := context.WithoutCancel(c.Request.Context())

	if req.OrgID != nil && strings.TrimSpace(*req.OrgID) != "" {
		result, err := h.trigger.TriggerSingle(ctx, strings.TrimSpace(*req.OrgID), req.Date)
		if err != nil {
			respondError(c, h.logger, err, "failed to generate report")
			return
		}
		c.JSON(http.StatusOK, result)
		return
	}

	result, err := h.trigger.TriggerAll(ctx, req.Date)
	if err != nil {
		respondError(c, h.logger, err, "failed to generate reports")
		return
	}
	c.JSON(http.StatusOK, result)
}

// BackfillRequest is the body of POST /api/reports/backfill.
type BackfillRequest struct {
	OrgID     string `json:"org_id" binding:"required"`
	StartDate string `json:"start_date" binding:"required"`
	EndDate   string `json:"end_date" binding:"required"`
}

// Backfill generates every missing date in an inclusive range.
// POST /api/reports/backfill
func (h *ReportsHandler) Backfill(c *gin.Context) {
	var req BackfillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.trigger.Backfill(context.WithoutCancel(c.Request.Context()), req.OrgID, req.StartDate, req.EndDate)
	if err != nil {
		respondError(c, h.logger, err, "failed to backfill reports")
		return
	}
	c.JSON(http.StatusOK, result)
}

// Live assembles a report on demand without storing it. date defaults to
// yesterday in tz, and tz defaults to the organization's timezone.
// GET /api/daily-report?org_id=&date=&tz=
func (h *ReportsHandler) Live(c *gin.Context) {
	orgID, ok := orgIDParam(c, h.defaultOrgID)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	stored, err := h.store.GetOrganization(ctx, orgID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("organization %s not found", orgID)})
			return
		}
		respondError(c, h.logger, err, "failed to get organization")
		return
	}
	org := *stored

	if tz := c.Query("tz"); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown timezone %q", tz)})
			return
		}
		org.Timezone = tz
	}

	date := c.Query("date")
	if date == "" {
		loc, err := org.Location()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("organization timezone %q: %v", org.Timezone, err)})
			return
		}
		date = h.now().In(loc).AddDate(0, 0, -1).Format(models.DateLayout)
	} else if !validDate(date) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid date %q, expected YYYY-MM-DD", date)})
		return
	}

	payload, err := h.assembler.Assemble(ctx, &org, date)
	if err != nil {
		if errors.Is(err, reports.ErrProviderUnavailable) {
			h.logger.Warn().Err(err).Str("org_id", orgID).Str("report_date", date).Msg("live report unavailable")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "metrics provider unavailable"})
			return
		}
		respondError(c, h.logger, err, "failed to assemble report")
		return
	}

	c.JSON(http.StatusOK, payload)
}
