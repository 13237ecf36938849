package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/brokerwire/callstats/internal/db"
	"github.com/brokerwire/callstats/internal/models"
	"github.com/brokerwire/callstats/internal/reports"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// respondError maps domain errors to HTTP statuses. Unknown errors are
// logged and reported as 500 with msg.
func respondError(c *gin.Context, logger zerolog.Logger, err error, msg string) {
	switch {
	case errors.Is(err, reports.ErrOrganizationNotFound), errors.Is(err, db.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, reports.ErrInvalidDateRange):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		logger.Error().Err(err).Str("path", c.FullPath()).Msg(msg)
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}

// orgIDParam returns the org_id query parameter, or fallback when absent.
func orgIDParam(c *gin.Context, fallback string) (string, bool) {
	orgID := strings.TrimSpace(c.Query("org_id"))
	if orgID == "" {
		orgID = fallback
	}
	if orgID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "org_id is required"})
		return "", false
	}
	return orgID, true
}

func validDate(s string) bool {
	_, err := time.Parse(models.DateLayout, s)
	return err == nil
}
