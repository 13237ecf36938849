package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/brokerwire/callstats/internal/models"
	"github.com/jackc/pgx/v5"
)

const runColumns = `id, run_type, status, started_at, completed_at, reports_generated, error_message`

func scanRun(row pgx.Row) (*models.SchedulerRun, error) {
	var r models.SchedulerRun
	var kind, status string
	err := row.Scan(&r.ID, &kind, &status, &r.StartedAt, &r.CompletedAt, &r.ReportsGenerated, &r.ErrorMessage)
	if err != nil {
		return nil, err
	}
	r.RunKind = models.RunKind(kind)
	r.Status = models.RunStatus(status)
	return &r, nil
}

// AppendRunLog records a completed scheduler run.
func (db *DB) AppendRunLog(ctx context.Context, run *models.SchedulerRun) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO scheduler_runs (id, run_type, status, started_at, completed_at, reports_generated, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, run.ID, string(run.RunKind), string(run.Status), run.StartedAt, run.CompletedAt,
		run.ReportsGenerated, run.ErrorMessage)
	if err != nil {
		return fmt.Errorf("append scheduler run: %w", err)
	}
	return nil
}

// GetLastSuccessfulRun returns the most recent run with success status.
func (db *DB) GetLastSuccessfulRun(ctx context.Context) (*models.SchedulerRun, error) {
	r, err := scanRun(db.Pool.QueryRow(ctx, `
		SELECT `+runColumns+`
		FROM scheduler_runs
		WHERE status = $1
		ORDER BY completed_at DESC
		LIMIT 1
	`, string(models.RunStatusSuccess)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get last successful run: %w", err)
	}
	return r, nil
}

// GetRecentRuns returns up to limit runs, newest first.
func (db *DB) GetRecentRuns(ctx context.Context, limit int) ([]*models.SchedulerRun, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+runColumns+`
		FROM scheduler_runs
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("get recent runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.SchedulerRun
	for rows.Next() {
		r, err := scanRun(rows)
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
