package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/brokerwire/callstats/internal/models"
	"github.com/jackc/pgx/v5"
)

// scanner is an interface for row scanning (pgx.Rows, etc.)
type scanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func marshalPayload(p *models.ReportPayload) ([]byte, error) {
	if p == nil {
		return nil, errors.New("report payload is nil")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal report payload: %w", err)
	}
	return data, nil
}

func unmarshalPayload(data []byte) (*models.ReportPayload, error) {
	var p models.ReportPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal report payload: %w", err)
	}
	return &p, nil
}

const reportColumns = `id, org_id, report_date::text, report_data, created_at`

func scanReport(row pgx.Row) (*models.DailyReport, error) {
	var r models.DailyReport
	var payload []byte
	if err := row.Scan(&r.ID, &r.OrgID, &r.ReportDate, &payload, &r.CreatedAt); err != nil {
		return nil, err
	}
	p, err := unmarshalPayload(payload)
	if err != nil {
		return nil, err
	}
	r.Payload = p
	return &r, nil
}

func scanReports(rows scanner) ([]*models.DailyReport, error) {
	var reports []*models.DailyReport
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reports: %w", err)
	}
	return reports, nil
}

// GetReport returns the report for an organization and date.
func (db *DB) GetReport(ctx context.Context, orgID, reportDate string) (*models.DailyReport, error) {
	r, err := scanReport(db.Pool.QueryRow(ctx, `
		SELECT `+reportColumns+`
		FROM daily_reports
		WHERE org_id = $1 AND report_date = $2::date
	`, orgID, reportDate))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}
	return r, nil
}

// UpsertReport inserts a report or replaces the payload of the existing
// report for the same organization and date.
func (db *DB) UpsertReport(ctx context.Context, report *models.DailyReport) (*models.DailyReport, error) {
	payload, err := marshalPayload(report.Payload)
	if err != nil {
		return nil, err
	}

	stored, err := scanReport(db.Pool.QueryRow(ctx, `
		INSERT INTO daily_reports (id, org_id, report_date, report_data, created_at)
		VALUES ($1, $2, $3::date, $4, $5)
		ON CONFLICT (org_id, report_date)
		DO UPDATE SET report_data = EXCLUDED.report_data, created_at = EXCLUDED.created_at
		RETURNING `+reportColumns,
		report.ID, report.OrgID, report.ReportDate, payload, report.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("upsert report: %w", err)
	}

	db.logger.Debug().
		Str("org_id", stored.OrgID).
		Str("report_date", stored.ReportDate).
		Msg("report saved")
	return stored, nil
}

// ListReportDates returns every stored report date for an organization,
// newest first.
func (db *DB) ListReportDates(ctx context.Context, orgID string) ([]string, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT report_date::text
		FROM daily_reports
		WHERE org_id = $1
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
func (db *DB) GetLatestReport(ctx context.Context, orgID string) (*models.DailyReport, error) {
	r, err := scanReport(db.Pool.QueryRow(ctx, `
		SELECT `+reportColumns+`
		FROM daily_reports
		WHERE org_id = $1
		ORDER BY report_date DESC
		LIMIT 1
	`, orgID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get latest report: %w", err)
	}
	return r, nil
}

// GetReportsInRange returns reports between start and end inclusive.
func (db *DB) GetReportsInRange(ctx context.Context, orgID, start, end string) ([]*models.DailyReport, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+reportColumns+`
		FROM daily_reports
		WHERE org_id = $1 AND report_date >= $2::date AND report_date <= $3::date
		ORDER BY report_date ASC
	`, orgID, start, end)
	if err != nil {
		return nil, fmt.Errorf("get reports in range: %w", err)
	}
	defer rows.Close()
	return scanReports(rows)
}

// GetRecentReports returns up to limit reports, newest first.
func (db *DB) GetRecentReports(ctx context.Context, orgID string, limit int) ([]*models.DailyReport, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+reportColumns+`
		FROM daily_reports
		WHERE org_id = $1
		ORDER BY report_date DESC
		LIMIT $2
	`, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("get recent reports: %w", err)
	}
	defer rows.Close()
	return scanReports(rows)
}

// GetReportStats summarizes stored reports across all organizations.
func (db *DB) GetReportStats(ctx context.Context) (*models.ReportStats, error) {
	var stats models.ReportStats
	err := db.Pool.QueryRow(ctx, `
		SELECT COUNT(*), MIN(report_date)::text, MAX(report_date)::text
		FROM daily_reports
	`).Scan(&stats.TotalReports, &stats.EarliestDate, &stats.LatestDate)
	if err != nil {
		return nil, fmt.Errorf("get report stats: %w", err)
	}

	err = db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM organizations`).Scan(&stats.OrganizationCount)
	if err != nil {
		return nil, fmt.Errorf("count organizations: %w", err)
	}
	return &stats, nil
}
