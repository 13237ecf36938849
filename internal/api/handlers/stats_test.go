package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/brokerwire/callstats/internal/models"
	"github.com/brokerwire/callstats/internal/reports"
	"github.com/rs/zerolog"
)

type mockCollector struct {
	org        models.Organization
	start, end string
	names      []string
	err        error
}

func (m *mockCollector) Collect(_ context.Context, org *models.Organization, start, end string, names ...string) (*reports.StatsResult, error) {
	m.org, m.start, m.end, m.names = *org, start, end, names
	if m.err != nil {
		return nil, m.err
	}
	res := &reports.StatsResult{
		DateRange: models.DateRange{Timezone: org.Timezone, StartDate: "2025-01-01T00:00:00-08:00", EndDate: "2025-01-05T00:00:00-08:00"},
		Errors:    map[string]string{"carrier_qualification": "unavailable"},
		Values:    map[string]any{},
	}
	res.Stats.LoadNotFound = &models.CountRatio{Count: 1, TotalCalls: 10, Percentage: 10}
	res.Values["load_not_found"] = res.Stats.LoadNotFound
	return res, nil
}

func (m *mockCollector) StatNames() []string {
	return []string{"load_not_found", "list_of_unique_loads"}
}

func newStatsFixture() (*mockStore, *mockCollector, *StatsHandler) {
	store := newMockStore(testOrg("acme", "America/Los_Angeles"))
	collector := &mockCollector{}
	return store, collector, NewStatsHandler(store, collector, "", zerolog.Nop())
}

func TestStats_All(t *testing.T) {
	_, collector, h := newStatsFixture()
	r := newAPIRouter(h.RegisterRoutes)

	w := doRequest(t, r, "GET", "/api/all-stats?org_id=acme&start_date=2025-01-01&end_date=2025-01-04", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if collector.org.OrgID != "acme" || collector.start != "2025-01-01" || collector.end != "2025-01-04" {
		t.Errorf("unexpected collect call %+v", collector)
	}
	if len(collector.names) != 0 {
		t.Errorf("all-stats must run the whole batch, got %v", collector.names)
	}

	body := w.Body.String()
	for _, want := range []string{
		`"load_not_found":{"count":1`,
		`"carrier_qualification":null`,
		`"errors":{"carrier_qualification":"unavailable"}`,
		`"date_range":{"tz":"America/Los_Angeles"`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %s in %s", want, body)
		}
	}
}

func TestStats_One(t *testing.T) {
	_, collector, h := newStatsFixture()
	r := newAPIRouter(h.RegisterRoutes)

	w := doRequest(t, r, "GET", "/api/stats/load_not_found?org_id=acme", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(collector.names) != 1 || collector.names[0] != "load_not_found" {
		t.Errorf("unexpected names %v", collector.names)
	}

	var resp struct {
		Metric string             `json:"metric"`
		Value  *models.CountRatio `json:"value"`
	}
	decodeJSON(t, w, &resp)
	if resp.Metric != "load_not_found" || resp.Value == nil || resp.Value.Percentage != 10 {
		t.Errorf("unexpected response %s", w.Body.String())
	}

	w = doRequest(t, r, "GET", "/api/stats", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "list_of_unique_loads") {
		t.Errorf("unexpected names response %d: %s", w.Code, w.Body.String())
	}
}

func TestStats_Errors(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		err        error
		wantStatus int
	}{
		{"missing org", "/api/all-stats", nil, http.StatusBadRequest},
		{"unknown org", "/api/all-stats?org_id=nobody", nil, http.StatusNotFound},
		{"invalid range", "/api/all-stats?org_id=acme&start_date=2025-01-04&end_date=2025-01-01",
			fmt.Errorf("%w: start date after end date", reports.ErrInvalidDateRange), http.StatusBadRequest},
		{"unknown metric", "/api/stats/nonsense?org_id=acme",
			fmt.Errorf("%w: nonsense", reports.ErrUnknownMetric), http.StatusNotFound},
		{"provider down", "/api/all-stats?org_id=acme",
			fmt.Errorf("%w: all 15 metrics failed", reports.ErrProviderUnavailable), http.StatusServiceUnavailable},
		{"unexpected", "/api/all-stats?org_id=acme", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, collector, h := newStatsFixture()
			collector.err = tt.err
			r := newAPIRouter(h.RegisterRoutes)

			w := doRequest(t, r, "GET", tt.path, nil)
			if w.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
		})
	}
}
