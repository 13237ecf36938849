package db

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/brokerwire/callstats/internal/models"
	"github.com/rs/zerolog"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when an insert collides with a unique key.
	ErrConflict = errors.New("already exists")
)

// Store is the persistence contract for reports, the scheduler run log and
// organizations. One implementation exists per backend.
type Store interface {
	// GetReport returns ErrNotFound when no report exists for the pair.
	GetReport(ctx context.Context, orgID, reportDate string) (*models.DailyReport, error)
	// UpsertReport inserts or replaces the report for (OrgID, ReportDate)
	// and returns the stored row.
	UpsertReport(ctx context.Context, report *models.DailyReport) (*models.DailyReport, error)
	// ListReportDates returns stored dates for an org, newest first.
	ListReportDates(ctx context.Context, orgID string) ([]string, error)
	GetLatestReport(ctx context.Context, orgID string) (*models.DailyReport, error)
	// GetReportsInRange returns reports with start <= date <= end, oldest first.
	GetReportsInRange(ctx context.Context, orgID, start, end string) ([]*models.DailyReport, error)
	GetRecentReports(ctx context.Context, orgID string, limit int) ([]*models.DailyReport, error)
	GetReportStats(ctx context.Context) (*models.ReportStats, error)

	AppendRunLog(ctx context.Context, run *models.SchedulerRun) error
	// GetLastSuccessfulRun returns ErrNotFound when no run succeeded yet.
	GetLastSuccessfulRun(ctx context.Context) (*models.SchedulerRun, error)
	GetRecentRuns(ctx context.Context, limit int) ([]*models.SchedulerRun, error)

	// ListOrganizations returns organizations ordered by name.
	ListOrganizations(ctx context.Context, activeOnly bool) ([]*models.Organization, error)
	GetOrganization(ctx context.Context, orgID string) (*models.Organization, error)
	CreateOrganization(ctx context.Context, org *models.Organization) error
	UpdateOrganization(ctx context.Context, org *models.Organization) error
	// EnsureOrganization creates org unless its OrgID already exists. It
	// reports whether a row was created.
	EnsureOrganization(ctx context.Context, org *models.Organization) (bool, error)

	Ping(ctx context.Context) error
	// Health returns backend details and report table statistics.
	Health(ctx context.Context) (map[string]any, error)
	Backend() string
	Close()
}

// Backend names.
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// DefaultSQLitePath is used when no DATABASE_URL is configured.
const DefaultSQLitePath = "./data/callstats.db"

// ParseURL resolves a DATABASE_URL into a backend name and its target: a
// connection string for Postgres or a file path for SQLite.
func ParseURL(databaseURL string) (backend, target string, err error) {
	raw := strings.TrimSpace(databaseURL)
	if raw == "" {
		return BackendSQLite, DefaultSQLitePath, nil
	}

	switch {
	case strings.HasPrefix(raw, "postgres://"), strings.HasPrefix(raw, "postgresql://"):
		return BackendPostgres, raw, nil
	case strings.HasPrefix(raw, "sqlite://"):
		path := strings.TrimPrefix(raw, "sqlite://")
		if path == "" {
			return "", "", fmt.Errorf("sqlite URL %q has no path", databaseURL)
		}
		return BackendSQLite, filepath.Clean(path), nil
	case strings.HasPrefix(raw, "file:"):
		u, err := url.Parse(raw)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite URL: %w", err)
		}
		path := u.Opaque
		if path == "" {
			path = u.Path
		}
		if path == "" {
			return "", "", fmt.Errorf("sqlite URL %q has no path", databaseURL)
		}
		return BackendSQLite, filepath.Clean(path), nil
	default:
		return "", "", fmt.Errorf("unsupported DATABASE_URL scheme: %q", databaseURL)
	}
}

// Open selects the backend from databaseURL, connects, and applies the
// schema. It is called once at startup.
func Open(ctx context.Context, databaseURL string, logger zerolog.Logger) (Store, error) {
	backend, target, err := ParseURL(databaseURL)
	if err != nil {
		return nil, err
	}

	switch backend {
	case BackendPostgres:
		database, err := New(ctx, target, logger)
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(ctx); err != nil {
			database.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		return database, nil
	case BackendSQLite:
		return NewSQLiteStore(ctx, target, logger)
	}
	return nil, errors.New("no storage backend selected")
}

// healthDetails flattens report statistics into the /health/db details.
func healthDetails(backend, target string, stats *models.ReportStats) map[string]any {
	return map[string]any{
		"backend":            backend,
		"target":             target,
		"total_reports":      stats.TotalReports,
		"organizations":      stats.OrganizationCount,
		"latest_report_date": stats.LatestDate,
	}
}
