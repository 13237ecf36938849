package handlers

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/brokerwire/callstats/internal/models"
	"github.com/brokerwire/callstats/internal/reports"
	"github.com/rs/zerolog"
)

type mockInspector struct {
	status *reports.Status
	health *reports.Health
	err    error
}

func (m *mockInspector) Status(_ context.Context) (*reports.Status, error) {
	return m.status, m.err
}

func (m *mockInspector) Health(_ context.Context) (*reports.Health, error) {
	return m.health, m.err
}

func TestScheduler_Status(t *testing.T) {
	inspector := &mockInspector{status: &reports.Status{
		Enabled:       true,
		Running:       true,
		ScheduledTime: "06:00",
		Timezone:      "America/Los_Angeles",
		Jobs:          []reports.JobInfo{},
		CatchupDays:   7,
		RecentRuns:    []*models.SchedulerRun{},
	}}
	r := newAPIRouter(NewSchedulerHandler(inspector, zerolog.Nop()).RegisterRoutes)

	w := doRequest(t, r, "GET", "/api/scheduler/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var resp reports.Status
	decodeJSON(t, w, &resp)
	if !resp.Running || resp.ScheduledTime != "06:00" || resp.CatchupDays != 7 {
		t.Errorf("unexpected status %+v", resp)
	}
}

func TestScheduler_Health(t *testing.T) {
	t.Run("unhealthy is still 200", func(t *testing.T) {
		inspector := &mockInspector{health: &reports.Health{
			Healthy:  false,
			Issues:   []string{"scheduler enabled but not running"},
			Database: &models.ReportStats{TotalReports: 4, OrganizationCount: 2},
		}}
		r := newAPIRouter(NewSchedulerHandler(inspector, zerolog.Nop()).RegisterRoutes)

		w := doRequest(t, r, "GET", "/api/scheduler/health", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", w.Code)
		}
		var resp reports.Health
		decodeJSON(t, w, &resp)
		if resp.Healthy || len(resp.Issues) != 1 || resp.Database.TotalReports != 4 {
			t.Errorf("unexpected health %+v", resp)
		}
	})

	t.Run("store error", func(t *testing.T) {
		r := newAPIRouter(NewSchedulerHandler(&mockInspector{err: errors.New("db down")}, zerolog.Nop()).RegisterRoutes)
		for _, path := range []string{"/api/scheduler/status", "/api/scheduler/health"} {
			w := doRequest(t, r, "GET", path, nil)
			if w.Code != http.StatusInternalServerError {
				t.Errorf("%s: expected status 500, got %d", path, w.Code)
			}
		}
	})
}
