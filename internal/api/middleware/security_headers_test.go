package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestSecurityHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)

	newRouter := func(origins []string) *gin.Engine {
		r := gin.New()
		r.Use(SecurityHeaders(origins))
		ok := func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) }
		r.GET("/api/reports/latest", ok)
		r.GET("/api/scheduler/status", ok)
		return r
	}

	tests := []struct {
		name      string
		origins   []string
		path      string
		wantCSP   string
		wantFrame string
	}{
		{
			name:      "report route with embed origins",
			origins:   []string{"https://dash.broker.example"},
			path:      "/api/reports/latest",
			wantCSP:   "default-src 'none'; frame-ancestors https://dash.broker.example",
			wantFrame: "",
		},
		{
			name:      "report route without embed origins",
			path:      "/api/reports/latest",
			wantCSP:   "default-src 'none'; frame-ancestors 'none'",
			wantFrame: "DENY",
		},
		{
			name:      "non report route",
			origins:   []string{"https://dash.broker.example"},
			path:      "/api/scheduler/status",
			wantCSP:   "default-src 'none'; frame-ancestors 'none'",
			wantFrame: "DENY",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req, _ := http.NewRequest("GET", tt.path, nil)
			newRouter(tt.origins).ServeHTTP(w, req)

			if got := w.Header().Get("Content-Security-Policy"); got != tt.wantCSP {
				t.Errorf("Content-Security-Policy = %q, want %q", got, tt.wantCSP)
			}
			if got := w.Header().Get("X-Frame-Options"); got != tt.wantFrame {
				t.Errorf("X-Frame-Options = %q, want %q", got, tt.wantFrame)
			}
			if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
				t.Errorf("X-Content-Type-Options = %q", got)
			}
		})
	}
}
