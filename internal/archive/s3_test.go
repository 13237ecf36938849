package archive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/brokerwire/callstats/internal/models"
	"github.com/rs/zerolog"
)

type mockS3 struct {
	mu    sync.Mutex
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (m *mockS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.input = in
	m.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

func testReport() *models.DailyReport {
	payload := &models.ReportPayload{
		Breakdowns: models.EmptyBreakdowns(),
		Metadata:   models.ReportMetadata{OrgID: "acme", OrgName: "Acme"},
	}
	payload.KPIs.TotalCalls = 42
	return models.NewDailyReport("acme", "2025-01-04", payload)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "bucket only", cfg: Config{Bucket: "b"}},
		{name: "static credentials", cfg: Config{Bucket: "b", AccessKeyID: "id", SecretAccessKey: "secret"}},
		{name: "missing bucket", cfg: Config{}, wantErr: true},
		{name: "half credentials", cfg: Config{Bucket: "b", AccessKeyID: "id"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestObjectKey(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"reports", "reports/acme/2025-01-04.json"},
		{"/reports/daily/", "reports/daily/acme/2025-01-04.json"},
		{"", "acme/2025-01-04.json"},
	}
	for _, tt := range tests {
		if got := ObjectKey(tt.prefix, "acme", "2025-01-04"); got != tt.want {
			t.Errorf("ObjectKey(%q) = %s, want %s", tt.prefix, got, tt.want)
		}
	}
}

func TestS3Archiver_Archive(t *testing.T) {
	client := &mockS3{}
	a := NewWithClient(client, Config{Bucket: "callstats", Prefix: "reports"}, zerolog.Nop())

	if err := a.Archive(context.Background(), testReport()); err != nil {
		t.Fatalf("Archive() error: %v", err)
	}

	if got := aws.ToString(client.input.Bucket); got != "callstats" {
		t.Errorf("bucket = %s", got)
	}
	if got := aws.ToString(client.input.Key); got != "reports/acme/2025-01-04.json" {
		t.Errorf("key = %s", got)
	}
	if got := aws.ToString(client.input.ContentType); got != "application/json" {
		t.Errorf("content type = %s", got)
	}
	if client.input.Metadata["report-date"] != "2025-01-04" {
		t.Errorf("unexpected metadata %v", client.input.Metadata)
	}

	var stored models.DailyReport
	if err := json.Unmarshal(client.body, &stored); err != nil {
		t.Fatalf("archived body is not a report: %v", err)
	}
	if stored.OrgID != "acme" || stored.Payload.KPIs.TotalCalls != 42 {
		t.Errorf("unexpected archived report %+v", stored)
	}
}

func TestS3Archiver_ArchiveError(t *testing.T) {
	client := &mockS3{err: errors.New("AccessDenied")}
	a := NewWithClient(client, Config{Bucket: "callstats"}, zerolog.Nop())

	err := a.Archive(context.Background(), testReport())
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, client.err) {
		t.Errorf("expected wrapped client error, got %v", err)
	}
}

func TestNew_CustomEndpoint(t *testing.T) {
	var (
		mu     sync.Mutex
		method string
		reqURL string
		body   string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		method, reqURL, body = r.Method, r.URL.Path, string(b)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	a, err := New(context.Background(), Config{
		Bucket:          "callstats",
		Prefix:          "reports",
		Region:          "us-west-2",
		Endpoint:        server.URL,
		AccessKeyID:     "minioadmin",
		SecretAccessKey: "minioadmin",
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if err := a.Archive(context.Background(), testReport()); err != nil {
		t.Fatalf("Archive() error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if method != http.MethodPut {
		t.Errorf("method = %s, want PUT", method)
	}
	if reqURL != "/callstats/reports/acme/2025-01-04.json" {
		t.Errorf("path = %s", reqURL)
	}
	if !strings.Contains(body, `"org_id":"acme"`) {
		t.Errorf("body does not contain the report: %s", body)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	if _, err := New(context.Background(), Config{}, zerolog.Nop()); err == nil {
		t.Error("expected error for missing bucket")
	}
}
