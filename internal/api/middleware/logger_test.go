package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func loggedRequest(t *testing.T, r *gin.Engine, buf *bytes.Buffer, path string) (map[string]any, int) {
	t.Helper()
	buf.Reset()
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", path, nil)
	r.ServeHTTP(w, req)

	if buf.Len() == 0 {
		return nil, w.Code
	}
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log line %q: %v", buf.String(), err)
	}
	return entry, w.Code
}

func newLoggedRouter(buf *bytes.Buffer, level zerolog.Level) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogger(zerolog.New(buf).Level(level)))
	r.GET("/api/reports/:date", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	r.GET("/api/daily-report", func(c *gin.Context) { c.JSON(http.StatusBadRequest, gin.H{"error": "bad"}) })
	r.GET("/api/all-stats", func(c *gin.Context) { c.JSON(http.StatusServiceUnavailable, gin.H{"error": "down"}) })
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "healthy"}) })
	return r
}

func TestRequestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	r := newLoggedRouter(&buf, zerolog.DebugLevel)

	tests := []struct {
		path      string
		wantLevel string
	}{
		{"/api/reports/2025-01-04?org_id=acme", "info"},
		{"/api/daily-report?org_id=acme&date=bad", "warn"},
		{"/api/all-stats?org_id=acme", "error"},
		{"/health", "debug"},
		{"/nowhere", "warn"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			entry, code := loggedRequest(t, r, &buf, tt.path)
			if entry["level"] != tt.wantLevel {
				t.Errorf("level = %v, want %s", entry["level"], tt.wantLevel)
			}
			if entry["component"] != "http" || entry["message"] != "request" {
				t.Errorf("unexpected log entry %v", entry)
			}
			if int(entry["status"].(float64)) != code {
				t.Errorf("logged status %v, response %d", entry["status"], code)
			}
		})
	}
}

func TestRequestLogger_ReportFields(t *testing.T) {
	var buf bytes.Buffer
	r := newLoggedRouter(&buf, zerolog.InfoLevel)

	entry, _ := loggedRequest(t, r, &buf, "/api/reports/2025-01-04?org_id=acme&token=abc123&limit=5")
	if entry["org_id"] != "acme" || entry["report_date"] != "2025-01-04" {
		t.Errorf("report fields missing: %v", entry)
	}
	if entry["route"] != "/api/reports/:date" {
		t.Errorf("route = %v", entry["route"])
	}
	query, _ := entry["query"].(string)
	if strings.Contains(query, "org_id") || strings.Contains(query, "abc123") {
		t.Errorf("query must drop org_id and redact secrets, got %q", query)
	}
	if !strings.Contains(query, "limit=5") || !strings.Contains(query, "token=%5BREDACTED%5D") {
		t.Errorf("unexpected query %q", query)
	}

	entry, _ = loggedRequest(t, r, &buf, "/api/daily-report?org_id=acme&start_date=2025-01-01&end_date=2025-01-04")
	if entry["start_date"] != "2025-01-01" || entry["end_date"] != "2025-01-04" {
		t.Errorf("date window fields missing: %v", entry)
	}
	if _, ok := entry["query"]; ok {
		t.Errorf("query should be omitted once every parameter is a field: %v", entry)
	}

	if entry, _ := loggedRequest(t, r, &buf, "/health"); entry != nil {
		t.Errorf("successful health checks must not log at info: %v", entry)
	}

	entry, _ = loggedRequest(t, r, &buf, "/nowhere")
	if entry["route"] != "unmatched" {
		t.Errorf("route = %v, want unmatched", entry["route"])
	}
}

func TestRequestFields(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantOrg   string
		wantQuery string
		absent    string
	}{
		{name: "empty", query: ""},
		{name: "org only", query: "org_id=acme", wantOrg: "acme"},
		{name: "blank org", query: "org_id=%20&limit=3", wantQuery: "limit=3"},
		{name: "secret", query: "org_id=acme&API_KEY=1&Secret=s3cr3t", wantOrg: "acme", absent: "s3cr3t"},
		{name: "unparseable", query: "org_id=%zz", wantQuery: "[unparseable]", absent: "org_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields, got := requestFields(tt.query)
			if fields["org_id"] != tt.wantOrg {
				t.Errorf("org_id = %q, want %q", fields["org_id"], tt.wantOrg)
			}
			if tt.wantQuery != "" && got != tt.wantQuery {
				t.Errorf("query = %q, want %q", got, tt.wantQuery)
			}
			if tt.absent != "" && strings.Contains(got, tt.absent) {
				t.Errorf("query %q still contains %q", got, tt.absent)
			}
		})
	}
}
