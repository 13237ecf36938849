package db

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/brokerwire/callstats/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func float64Ptr(v float64) *float64 { return &v }

// samplePayload mixes populated and null KPIs with nested breakdown lists.
func samplePayload(orgID, date string) *models.ReportPayload {
	return &models.ReportPayload{
		DateRange: models.DateRange{
			Timezone:  "America/Los_Angeles",
			StartDate: date + "T00:00:00-08:00",
			EndDate:   date + "T00:00:00-08:00",
		},
		KPIs: models.ReportKPIs{
			TotalCalls:         120,
			ClassifiedCalls:    100,
			TotalDurationHours: 7.25,
			AvgMinutesPerCall:  3.63,
			SuccessRatePercent: float64Ptr(33.33),
			NonConvertibleWithCNQ: &models.CountRatio{
				Count: 40, TotalCalls: 100, Percentage: 40,
			},
			NonConvertibleWithoutCNQ: nil,
			CarrierNotQualified:      &models.CountRatio{Count: 0, TotalCalls: 0, Percentage: 0},
			CarrierTransferOverTransferAttempts: &models.CarrierTransferOverTransferAttempts{
				CarrierAskedCount: 3, TotalTransferAttempts: 9, CarrierAskedPercentage: 33.33,
			},
		},
		Breakdowns: models.Breakdowns{
			CallStage: []models.CallStageRow{
				{CallStage: "RATE_NEGOTIATION", Count: 70, Percentage: 58.33},
				{CallStage: "GREETING", Count: 50, Percentage: 41.67},
			},
			CallClassification: []models.CallClassificationRow{
				{CallClassification: "success", Count: 33, Percentage: 33},
			},
			LoadStatus:      []models.LoadStatusRow{{LoadStatus: "NOT_FOUND", Count: 5, TotalCalls: 100, LoadStatusPercentage: 5}},
			PricingNotes:    []models.PricingNotesRow{},
			CarrierEndState: []models.CarrierEndStateRow{},
		},
		Metadata: models.ReportMetadata{
			OrgID:       orgID,
			OrgName:     "Acme Freight",
			GeneratedAt: "2025-01-05T06:00:01-08:00",
		},
	}
}

func newReport(orgID, date string) *models.DailyReport {
	return models.NewDailyReport(orgID, date, samplePayload(orgID, date))
}

// runStoreContract exercises the Store behaviour every backend must share.
// newStore must return an empty store.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("GetReportNotFound", func(t *testing.T) {
		store := newStore(t)
		_, err := store.GetReport(ctx, "org-missing", "2025-01-01")
		assert.True(t, errors.Is(err, ErrNotFound), "expected ErrNotFound, got %v", err)
	})

	t.Run("PayloadRoundTrip", func(t *testing.T) {
		store := newStore(t)
		want := samplePayload("org-1", "2025-01-04")

		saved, err := store.UpsertReport(ctx, models.NewDailyReport("org-1", "2025-01-04", want))
		require.NoError(t, err)
		assert.Equal(t, "2025-01-04", saved.ReportDate)

		got, err := store.GetReport(ctx, "org-1", "2025-01-04")
		require.NoError(t, err)
		assert.Equal(t, want, got.Payload)

		wantJSON, err := json.Marshal(want)
		require.NoError(t, err)
		gotJSON, err := json.Marshal(got.Payload)
		require.NoError(t, err)
		assert.JSONEq(t, string(wantJSON), string(gotJSON))
	})

	t.Run("UpsertKeepsOneRowPerDate", func(t *testing.T) {
		store := newStore(t)

		first, err := store.UpsertReport(ctx, models.NewDailyReport("org-1", "2025-01-04", samplePayload("org-1", "2025-01-04")))
		require.NoError(t, err)

		replacement := samplePayload("org-1", "2025-01-04")
		replacement.KPIs.TotalCalls = 999
		second, err := store.UpsertReport(ctx, models.NewDailyReport("org-1", "2025-01-04", replacement))
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID, "upsert must keep the original row identity")
		assert.Equal(t, int64(999), second.Payload.KPIs.TotalCalls)

		dates, err := store.ListReportDates(ctx, "org-1")
		require.NoError(t, err)
		assert.Equal(t, []string{"2025-01-04"}, dates)
	})

	t.Run("DateQueries", func(t *testing.T) {
		store := newStore(t)
		for _, d := range []string{"2025-01-01", "2025-01-03", "2025-01-02"} {
			_, err := store.UpsertReport(ctx, models.NewDailyReport("org-1", d, samplePayload("org-1", d)))
			require.NoError(t, err)
		}
		_, err := store.UpsertReport(ctx, models.NewDailyReport("org-2", "2025-02-01", samplePayload("org-2", "2025-02-01")))
		require.NoError(t, err)

		dates, err := store.ListReportDates(ctx, "org-1")
		require.NoError(t, err)
		assert.Equal(t, []string{"2025-01-03", "2025-01-02", "2025-01-01"}, dates)

		latest, err := store.GetLatestReport(ctx, "org-1")
		require.NoError(t, err)
		assert.Equal(t, "2025-01-03", latest.ReportDate)

		inRange, err := store.GetReportsInRange(ctx, "org-1", "2025-01-02", "2025-01-03")
		require.NoError(t, err)
		require.Len(t, inRange, 2)
		assert.Equal(t, "2025-01-02", inRange[0].ReportDate)
		assert.Equal(t, "2025-01-03", inRange[1].ReportDate)

		recent, err := store.GetRecentReports(ctx, "org-1", 2)
		require.NoError(t, err)
		require.Len(t, recent, 2)
		assert.Equal(t, "2025-01-03", recent[0].ReportDate)

		stats, err := store.GetReportStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 4, stats.TotalReports)
		require.NotNil(t, stats.EarliestDate)
		require.NotNil(t, stats.LatestDate)
		assert.Equal(t, "2025-01-01", *stats.EarliestDate)
		assert.Equal(t, "2025-02-01", *stats.LatestDate)

		_, err = store.GetLatestReport(ctx, "org-none")
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("EmptyReportStats", func(t *testing.T) {
		store := newStore(t)
		stats, err := store.GetReportStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, stats.TotalReports)
		assert.Nil(t, stats.EarliestDate)
		assert.Nil(t, stats.LatestDate)
	})

	t.Run("RunLog", func(t *testing.T) {
		store := newStore(t)

		_, err := store.GetLastSuccessfulRun(ctx)
		assert.True(t, errors.Is(err, ErrNotFound))

		base := time.Date(2025, 1, 5, 14, 0, 0, 0, time.UTC)
		success := models.NewSchedulerRun(models.RunKindDaily, models.RunStatusSuccess, base, 3, "")
		success.CompletedAt = base.Add(time.Minute)
		partial := models.NewSchedulerRun(models.RunKindCatchup, models.RunStatusPartial, base.Add(time.Hour), 1, "2 failed")
		partial.CompletedAt = base.Add(time.Hour + time.Minute)

		require.NoError(t, store.AppendRunLog(ctx, success))
		require.NoError(t, store.AppendRunLog(ctx, partial))

		last, err := store.GetLastSuccessfulRun(ctx)
		require.NoError(t, err)
		assert.Equal(t, success.ID, last.ID)
		assert.Equal(t, models.RunKindDaily, last.RunKind)
		assert.Equal(t, 3, last.ReportsGenerated)
		assert.Nil(t, last.ErrorMessage)

		recent, err := store.GetRecentRuns(ctx, 5)
		require.NoError(t, err)
		require.Len(t, recent, 2)
		assert.Equal(t, partial.ID, recent[0].ID)
		require.NotNil(t, recent[0].ErrorMessage)
		assert.Equal(t, "2 failed", *recent[0].ErrorMessage)
		assert.True(t, recent[0].StartedAt.Equal(partial.StartedAt))
	})

	t.Run("Organizations", func(t *testing.T) {
		store := newStore(t)

		zulu := models.NewOrganization("org-z", "Zulu Logistics", "node-z", "America/Chicago")
		alpha := models.NewOrganization("org-a", "Alpha Freight", "node-a", "")
		require.NoError(t, store.CreateOrganization(ctx, zulu))
		require.NoError(t, store.CreateOrganization(ctx, alpha))

		err := store.CreateOrganization(ctx, models.NewOrganization("org-a", "Dup", "node", ""))
		assert.True(t, errors.Is(err, ErrConflict), "expected ErrConflict, got %v", err)

		orgs, err := store.ListOrganizations(ctx, false)
		require.NoError(t, err)
		require.Len(t, orgs, 2)
		assert.Equal(t, "Alpha Freight", orgs[0].Name)
		assert.Equal(t, "UTC", orgs[0].Timezone)

		zulu.IsActive = false
		zulu.Timezone = "America/Denver"
		require.NoError(t, store.UpdateOrganization(ctx, zulu))

		got, err := store.GetOrganization(ctx, "org-z")
		require.NoError(t, err)
		assert.False(t, got.IsActive)
		assert.Equal(t, "America/Denver", got.Timezone)
		assert.Equal(t, zulu.ID, got.ID)

		active, err := store.ListOrganizations(ctx, true)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "org-a", active[0].OrgID)

		_, err = store.GetOrganization(ctx, "org-missing")
		assert.True(t, errors.Is(err, ErrNotFound))

		err = store.UpdateOrganization(ctx, models.NewOrganization("org-missing", "x", "y", ""))
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("EnsureOrganization", func(t *testing.T) {
		store := newStore(t)
		org := models.NewOrganization("org-seed", "Seeded", "node-1", "UTC")

		created, err := store.EnsureOrganization(ctx, org)
		require.NoError(t, err)
		assert.True(t, created)

		again := models.NewOrganization("org-seed", "Renamed", "node-2", "UTC")
		created, err = store.EnsureOrganization(ctx, again)
		require.NoError(t, err)
		assert.False(t, created)

		got, err := store.GetOrganization(ctx, "org-seed")
		require.NoError(t, err)
		assert.Equal(t, "Seeded", got.Name)
	})
}
