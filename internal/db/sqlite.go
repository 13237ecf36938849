package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/brokerwire/callstats/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the Store for single-node deployments backed by a local
// SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger zerolog.Logger
}

// NewSQLiteStore opens (creating if needed) the database at path and applies
// the schema.
func NewSQLiteStore(ctx context.Context, path string, logger zerolog.Logger) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single writer avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{
		db:     db,
		path:   path,
		logger: logger.With().Str("component", "db").Str("backend", BackendSQLite).Logger(),
	}

	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	store.logger.Info().Str("path", path).Msg("report database initialized")
	return store, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS organizations (
			id TEXT PRIMARY KEY,
			org_id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			node_persistent_id TEXT NOT NULL,
			timezone TEXT NOT NULL DEFAULT 'UTC',
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS daily_reports (
			id TEXT PRIMARY KEY,
			org_id TEXT NOT NULL,
			report_date TEXT NOT NULL,
			report_data TEXT NOT NULL,
			created_at TEXT NOT NULL,
			UNIQUE (org_id, report_date)
		);

		CREATE INDEX IF NOT EXISTS idx_daily_reports_org_date ON daily_reports(org_id, report_date DESC);

		CREATE TABLE IF NOT EXISTS scheduler_runs (
			id TEXT PRIMARY KEY,
			run_type TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at TEXT NOT NULL,
			completed_at TEXT NOT NULL,
			reports_generated INTEGER NOT NULL DEFAULT 0,
			error_message TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_scheduler_runs_started ON scheduler_runs(started_at DESC);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Backend returns the backend name.
func (s *SQLiteStore) Backend() string {
	return BackendSQLite
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() {
	if err := s.db.Close(); err != nil {
		s.logger.Error().Err(err).Msg("failed to close database")
		return
	}
	s.logger.Info().Msg("report database closed")
}

// Health returns the database path and report table statistics.
func (s *SQLiteStore) Health(ctx context.Context) (map[string]any, error) {
	stats, err := s.GetReportStats(ctx)
	if err != nil {
		return nil, err
	}
	details := healthDetails(BackendSQLite, s.path, stats)
	details["open_connections"] = s.db.Stats().OpenConnections
	return details, nil
}

// Fixed-width so timestamps order correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanReport(row rowScanner) (*models.DailyReport, error) {
	var r models.DailyReport
	var id, payload, createdAt string
	if err := row.Scan(&id, &r.OrgID, &r.ReportDate, &payload, &createdAt); err != nil {
		return nil, err
	}

	var err error
	if r.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse report id: %w", err)
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if r.Payload, err = unmarshalPayload([]byte(payload)); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *SQLiteStore) queryReports(ctx context.Context, query string, args ...any) ([]*models.DailyReport, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []*models.DailyReport
	for rows.Next() {
		r, err := s.scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

const sqliteReportColumns = `id, org_id, report_date, report_data, created_at`

// GetReport returns the report for an organization and date.
func (s *SQLiteStore) GetReport(ctx context.Context, orgID, reportDate string) (*models.DailyReport, error) {
	r, err := s.scanReport(s.db.QueryRowContext(ctx, `
		SELECT `+sqliteReportColumns+`
		FROM daily_reports
		WHERE org_id = ? AND report_date = ?
	`, orgID, reportDate))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}
	return r, nil
}

// UpsertReport inserts a report or replaces the payload of the existing
// report for the same organization and date.
func (s *SQLiteStore) UpsertReport(ctx context.Context, report *models.DailyReport) (*models.DailyReport, error) {
	payload, err := marshalPayload(report.Payload)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO daily_reports (id, org_id, report_date, report_data, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (org_id, report_date)
		DO UPDATE SET report_data = excluded.report_data, created_at = excluded.created_at
	`, report.ID.String(), report.OrgID, report.ReportDate, string(payload), formatTime(report.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("upsert report: %w", err)
	}

	stored, err := s.GetReport(ctx, report.OrgID, report.ReportDate)
	if err != nil {
		return nil, fmt.Errorf("read back report: %w", err)
	}

	s.logger.Debug().
		Str("org_id", stored.OrgID).
		Str("report_date", stored.ReportDate).
		Msg("report saved")
	return stored, nil
}

// ListReportDates returns every stored report date for an organization,
// newest first.
func (s *SQLiteStore) ListReportDates(ctx context.Context, orgID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT report_date FROM daily_reports
		WHERE org_id = ?
		ORDER BY report_date DESC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list report dates: %w", err)
	}
	defer rows.Close()

	var dates []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan report date: %w", err)
		}
		dates = append(dates, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate report dates: %w", err)
	}
	return dates, nil
}

// GetLatestReport returns the most recent report for an organization.
func (s *SQLiteStore) GetLatestReport(ctx context.Context, orgID string) (*models.DailyReport, error) {
	r, err := s.scanReport(s.db.QueryRowContext(ctx, `
		SELECT `+sqliteReportColumns+`
		FROM daily_reports
		WHERE org_id = ?
		ORDER BY report_date DESC
		LIMIT 1
	`, orgID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get latest report: %w", err)
	}
	return r, nil
}

// GetReportsInRange returns reports between start and end inclusive.
func (s *SQLiteStore) GetReportsInRange(ctx context.Context, orgID, start, end string) ([]*models.DailyReport, error) {
	reports, err := s.queryReports(ctx, `
		SELECT `+sqliteReportColumns+`
		FROM daily_reports
		WHERE org_id = ? AND report_date >= ? AND report_date <= ?
		ORDER BY report_date ASC
	`, orgID, start, end)
	if err != nil {
		return nil, fmt.Errorf("get reports in range: %w", err)
	}
	return reports, nil
}

// GetRecentReports returns up to limit reports, newest first.
func (s *SQLiteStore) GetRecentReports(ctx context.Context, orgID string, limit int) ([]*models.DailyReport, error) {
	reports, err := s.queryReports(ctx, `
		SELECT `+sqliteReportColumns+`
		FROM daily_reports
		WHERE org_id = ?
		ORDER BY report_date DESC
		LIMIT ?
	`, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("get recent reports: %w", err)
	}
	return reports, nil
}

// GetReportStats summarizes stored reports across all organizations.
func (s *SQLiteStore) GetReportStats(ctx context.Context) (*models.ReportStats, error) {
	var stats models.ReportStats
	var earliest, latest sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(report_date), MAX(report_date) FROM daily_reports
	`).Scan(&stats.TotalReports, &earliest, &latest)
	if err != nil {
		return nil, fmt.Errorf("get report stats: %w", err)
	}
	if earliest.Valid {
		stats.EarliestDate = &earliest.String
	}
	if latest.Valid {
		stats.LatestDate = &latest.String
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM organizations`).Scan(&stats.OrganizationCount); err != nil {
		return nil, fmt.Errorf("count organizations: %w", err)
	}
	return &stats, nil
}

func (s *SQLiteStore) scanRun(row rowScanner) (*models.SchedulerRun, error) {
	var r models.SchedulerRun
	var id, kind, status, startedAt, completedAt string
	var errMsg sql.NullString
	if err := row.Scan(&id, &kind, &status, &startedAt, &completedAt, &r.ReportsGenerated, &errMsg); err != nil {
		return nil, err
	}

	var err error
	if r.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse run id: %w", err)
	}
	if r.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if r.CompletedAt, err = parseTime(completedAt); err != nil {
		return nil, err
	}
	r.RunKind = models.RunKind(kind)
	r.Status = models.RunStatus(status)
	if errMsg.Valid {
		r.ErrorMessage = &errMsg.String
	}
	return &r, nil
}

// AppendRunLog records a completed scheduler run.
func (s *SQLiteStore) AppendRunLog(ctx context.Context, run *models.SchedulerRun) error {
	var errMsg sql.NullString
	if run.ErrorMessage != nil {
		errMsg = sql.NullString{String: *run.ErrorMessage, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduler_runs (id, run_type, status, started_at, completed_at, reports_generated, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.ID.String(), string(run.RunKind), string(run.Status),
		formatTime(run.StartedAt), formatTime(run.CompletedAt), run.ReportsGenerated, errMsg)
	if err != nil {
		return fmt.Errorf("append scheduler run: %w", err)
	}
	return nil
}

// GetLastSuccessfulRun returns the most recent run with success status.
func (s *SQLiteStore) GetLastSuccessfulRun(ctx context.Context) (*models.SchedulerRun, error) {
	r, err := s.scanRun(s.db.QueryRowContext(ctx, `
		SELECT `+runColumns+`
		FROM scheduler_runs
		WHERE status = ?
		ORDER BY completed_at DESC
		LIMIT 1
	`, string(models.RunStatusSuccess)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get last successful run: %w", err)
	}
	return r, nil
}

// GetRecentRuns returns up to limit runs, newest first.
func (s *SQLiteStore) GetRecentRuns(ctx context.Context, limit int) ([]*models.SchedulerRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM scheduler_runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("get recent runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.SchedulerRun
	for rows.Next() {
		r, err := s.scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scheduler run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scheduler runs: %w", err)
	}
	return runs, nil
}

func (s *SQLiteStore) scanOrganization(row rowScanner) (*models.Organization, error) {
	var o models.Organization
	var id, createdAt string
	if err := row.Scan(&id, &o.OrgID, &o.Name, &o.SourceNodeID, &o.Timezone, &o.IsActive, &createdAt); err != nil {
		return nil, err
	}

	var err error
	if o.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse organization id: %w", err)
	}
	if o.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &o, nil
}

// ListOrganizations returns organizations ordered by name.
func (s *SQLiteStore) ListOrganizations(ctx context.Context, activeOnly bool) ([]*models.Organization, error) {
	query := `SELECT ` + organizationColumns + ` FROM organizations`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	defer rows.Close()

	var orgs []*models.Organization
	for rows.Next() {
		o, err := s.scanOrganization(rows)
		if err != nil {
			return nil, fmt.Errorf("scan organization: %w", err)
		}
		orgs = append(orgs, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate organizations: %w", err)
	}
	return orgs, nil
}

// GetOrganization returns an organization by its external org_id.
func (s *SQLiteStore) GetOrganization(ctx context.Context, orgID string) (*models.Organization, error) {
	o, err := s.scanOrganization(s.db.QueryRowContext(ctx, `
		SELECT `+organizationColumns+`
		FROM organizations
		WHERE org_id = ?
	`, orgID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get organization: %w", err)
	}
	return o, nil
}

// CreateOrganization inserts a new organization.
func (s *SQLiteStore) CreateOrganization(ctx context.Context, org *models.Organization) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO organizations (id, org_id, name, node_persistent_id, timezone, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, org.ID.String(), org.OrgID, org.Name, org.SourceNodeID, org.Timezone, org.IsActive, formatTime(org.CreatedAt))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("create organization %s: %w", org.OrgID, ErrConflict)
		}
		return fmt.Errorf("create organization: %w", err)
	}
	return nil
}

// UpdateOrganization writes the mutable fields of an organization.
func (s *SQLiteStore) UpdateOrganization(ctx context.Context, org *models.Organization) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE organizations
		SET name = ?, node_persistent_id = ?, timezone = ?, is_active = ?
		WHERE org_id = ?
	`, org.Name, org.SourceNodeID, org.Timezone, org.IsActive, org.OrgID)
	if err != nil {
		return fmt.Errorf("update organization: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update organization: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// EnsureOrganization inserts org if no organization with its org_id exists.
func (s *SQLiteStore) EnsureOrganization(ctx context.Context, org *models.Organization) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO organizations (id, org_id, name, node_persistent_id, timezone, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (org_id) DO NOTHING
	`, org.ID.String(), org.OrgID, org.Name, org.SourceNodeID, org.Timezone, org.IsActive, formatTime(org.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("ensure organization: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ensure organization: %w", err)
	}
	return n > 0, nil
}
