package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/brokerwire/callstats/internal/db"
	"github.com/brokerwire/callstats/internal/models"
	"github.com/gin-gonic/gin"
)

// mockStore serves organizations and reports from memory.
type mockStore struct {
	mu sync.Mutex

	orgs    map[string]*models.Organization
	reports []*models.DailyReport

	err       error
	createErr error
	updated   *models.Organization
}

func newMockStore(orgs ...*models.Organization) *mockStore {
	m := &mockStore{orgs: make(map[string]*models.Organization)}
	for _, o := range orgs {
		m.orgs[o.OrgID] = o
	}
	return m
}

func (m *mockStore) addReport(orgID, date string, totalCalls int64) *models.DailyReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	payload := &models.ReportPayload{Breakdowns: models.EmptyBreakdowns()}
	payload.KPIs.TotalCalls = totalCalls
	r := models.NewDailyReport(orgID, date, payload)
	m.reports = append(m.reports, r)
	return r
}

// orgReports returns orgID's reports sorted by date, newest first.
func (m *mockStore) orgReports(orgID string) []*models.DailyReport {
	var out []*models.DailyReport
	for _, r := range m.reports {
		if r.OrgID == orgID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReportDate > out[j].ReportDate })
	return out
}

func (m *mockStore) ListOrganizations(_ context.Context, activeOnly bool) ([]*models.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []*models.Organization
	for _, o := range m.orgs {
		if !activeOnly || o.IsActive {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *mockStore) GetOrganization(_ context.Context, orgID string) (*models.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	o, ok := m.orgs[orgID]
	if !ok {
		return nil, db.ErrNotFound
	}
	c := *o
	return &c, nil
}

func (m *mockStore) CreateOrganization(_ context.Context, org *models.Organization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if _, ok := m.orgs[org.OrgID]; ok {
		return db.ErrConflict
	}
	m.orgs[org.OrgID] = org
	return nil
}

func (m *mockStore) UpdateOrganization(_ context.Context, org *models.Organization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.orgs[org.OrgID] = org
	m.updated = org
	return nil
}

func (m *mockStore) GetReport(_ context.Context, orgID, date string) (*models.DailyReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	for _, r := range m.reports {
		if r.OrgID == orgID && r.ReportDate == date {
			return r, nil
		}
	}
	return nil, db.ErrNotFound
}

func (m *mockStore) GetLatestReport(_ context.Context, orgID string) (*models.DailyReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	list := m.orgReports(orgID)
	if len(list) == 0 {
		return nil, db.ErrNotFound
	}
	return list[0], nil
}

func (m *mockStore) ListReportDates(_ context.Context, orgID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var dates []string
	for _, r := range m.orgReports(orgID) {
		dates = append(dates, r.ReportDate)
	}
	return dates, nil
}

func (m *mockStore) GetReportsInRange(_ context.Context, orgID, start, end string) ([]*models.DailyReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []*models.DailyReport
	list := m.orgReports(orgID)
	for i := len(list) - 1; i >= 0; i-- {
		if d := list[i].ReportDate; d >= start && d <= end {
			out = append(out, list[i])
		}
	}
	return out, nil
}

func (m *mockStore) GetRecentReports(_ context.Context, orgID string, limit int) ([]*models.DailyReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	list := m.orgReports(orgID)
	if len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func testOrg(orgID, tz string) *models.Organization {
	o := models.NewOrganization(orgID, "Org "+orgID, "node-"+orgID, tz)
	o.CreatedAt = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return o
}

// doRequest serves one request against r. body is JSON-encoded unless it
// is nil or already a string.
func doRequest(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return doRequestContext(t, context.Background(), r, method, path, body)
}

func doRequestContext(t *testing.T, ctx context.Context, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to unmarshal %q: %v", w.Body.String(), err)
	}
}

func newAPIRouter(register func(g *gin.RouterGroup)) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	register(r.Group("/api"))
	return r
}
