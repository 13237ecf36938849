package models

import (
	"time"

	"github.com/google/uuid"
)

// RunKind identifies what triggered a scheduler run.
type RunKind string

const (
	RunKindDaily        RunKind = "daily"
	RunKindCatchup      RunKind = "catchup"
	RunKindManualSingle RunKind = "manual_single"
	RunKindManualAll    RunKind = "manual_all"
	RunKindBackfill     RunKind = "backfill"
)

// RunStatus is the aggregate outcome of a scheduler run.
type RunStatus string

const (
	RunStatusSuccess RunStatus = "success"
	RunStatusPartial RunStatus = "partial"
	RunStatusError   RunStatus = "error"
)

// SchedulerRun is an append-only audit record of one generation batch.
type SchedulerRun struct {
	ID               uuid.UUID `json:"id"`
	RunKind          RunKind   `json:"run_type"`
	Status           RunStatus `json:"status"`
	StartedAt        time.Time `json:"started_at"`
	CompletedAt      time.Time `json:"completed_at"`
	ReportsGenerated int       `json:"reports_generated"`
	ErrorMessage     *string   `json:"error_message"`
}

// NewSchedulerRun creates a completed run record.
func NewSchedulerRun(kind RunKind, status RunStatus, startedAt time.Time, generated int, errMsg string) *SchedulerRun {
	run := &SchedulerRun{
		ID:               uuid.New(),
		RunKind:          kind,
		Status:           status,
		StartedAt:        startedAt.UTC(),
		CompletedAt:      time.Now().UTC(),
		ReportsGenerated: generated,
	}
	if errMsg != "" {
		run.ErrorMessage = &errMsg
	}
	return run
}

// ReportStats summarizes stored reports.
type ReportStats struct {
	TotalReports      int     `json:"total_reports"`
	EarliestDate      *string `json:"earliest_date"`
	LatestDate        *string `json:"latest_date"`
	OrganizationCount int     `json:"organization_count"`
}
