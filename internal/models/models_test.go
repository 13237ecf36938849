package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

// --- Constructor Tests ---

func TestNewOrganization(t *testing.T) {
	org := NewOrganization("acme", "Acme Freight", "node-1", "America/Chicago")

	if org.ID == uuid.Nil {
		t.Error("expected ID to be set")
	}
	if org.OrgID != "acme" || org.Name != "Acme Freight" || org.SourceNodeID != "node-1" {
		t.Errorf("unexpected organization %+v", org)
	}
	if !org.IsActive {
		t.Error("expected new organization to be active")
	}
	if org.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
}

func TestNewOrganization_DefaultTimezone(t *testing.T) {
	org := NewOrganization("acme", "Acme", "node-1", "")
	if org.Timezone != DefaultTimezone {
		t.Errorf("expected timezone %s, got %s", DefaultTimezone, org.Timezone)
	}
}

func TestOrganization_Location(t *testing.T) {
	org := NewOrganization("acme", "Acme", "node-1", "Asia/Tokyo")
	loc, err := org.Location()
	if err != nil {
		t.Fatalf("Location() error: %v", err)
	}
	if loc.String() != "Asia/Tokyo" {
		t.Errorf("expected Asia/Tokyo, got %s", loc)
	}

	org.Timezone = "Mars/Olympus_Mons"
	if _, err := org.Location(); err == nil {
		t.Error("expected error for unknown timezone")
	}

	org.Timezone = ""
	if loc, err := org.Location(); err != nil || loc != time.UTC {
		t.Errorf("empty timezone should resolve to UTC, got %v, %v", loc, err)
	}
}

func TestOrganizationUpdate(t *testing.T) {
	org := NewOrganization("acme", "Acme", "node-1", "UTC")

	if !(OrganizationUpdate{}).Empty() {
		t.Error("zero update should be empty")
	}

	name := "Acme Logistics"
	inactive := false
	u := OrganizationUpdate{Name: &name, IsActive: &inactive}
	if u.Empty() {
		t.Fatal("update with fields should not be empty")
	}
	u.Apply(org)

	if org.Name != name || org.IsActive {
		t.Errorf("update not applied: %+v", org)
	}
	if org.SourceNodeID != "node-1" || org.Timezone != "UTC" || org.OrgID != "acme" {
		t.Errorf("unset fields changed: %+v", org)
	}
}

func TestNewDailyReport(t *testing.T) {
	payload := &ReportPayload{Breakdowns: EmptyBreakdowns()}
	r := NewDailyReport("acme", "2025-01-04", payload)

	if r.ID == uuid.Nil {
		t.Error("expected ID to be set")
	}
	if r.OrgID != "acme" || r.ReportDate != "2025-01-04" || r.Payload != payload {
		t.Errorf("unexpected report %+v", r)
	}
	if r.CreatedAt.Location() != time.UTC {
		t.Error("expected CreatedAt in UTC")
	}
}

func TestNewSchedulerRun(t *testing.T) {
	started := time.Date(2025, 1, 5, 6, 0, 0, 0, time.FixedZone("PST", -8*3600))

	run := NewSchedulerRun(RunKindDaily, RunStatusSuccess, started, 3, "")
	if run.ErrorMessage != nil {
		t.Error("expected no error message")
	}
	if run.StartedAt.Location() != time.UTC || !run.StartedAt.Equal(started) {
		t.Errorf("expected StartedAt normalized to UTC, got %v", run.StartedAt)
	}

	run = NewSchedulerRun(RunKindBackfill, RunStatusPartial, started, 1, "Failed: 2025-01-02")
	if run.ErrorMessage == nil || *run.ErrorMessage != "Failed: 2025-01-02" {
		t.Errorf("unexpected error message %v", run.ErrorMessage)
	}
}

// --- JSON Tests ---

func TestReportPayload_JSONShape(t *testing.T) {
	payload := &ReportPayload{
		DateRange:  DateRange{Timezone: "UTC", StartDate: "2025-01-04", EndDate: "2025-01-05"},
		Breakdowns: EmptyBreakdowns(),
	}
	payload.KPIs.TotalCalls = 7

	data, err := json.Marshal(NewDailyReport("acme", "2025-01-04", payload))
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	s := string(data)

	for _, want := range []string{
		`"report_data":{`,
		`"date_range":{"tz":"UTC","start_date":"2025-01-04","end_date":"2025-01-05"}`,
		`"total_calls":7`,
		`"success_rate_percent":null`,
		`"carrier_not_qualified":null`,
		`"call_stage":[]`,
		`"carrier_end_state":[]`,
	} {
		if !strings.Contains(s, want) {
			t.Errorf("expected %s in %s", want, s)
		}
	}
}

func TestSchedulerRun_JSONNullError(t *testing.T) {
	run := NewSchedulerRun(RunKindCatchup, RunStatusSuccess, time.Now(), 0, "")
	data, err := json.Marshal(run)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"error_message":null`) {
		t.Errorf("error_message should be null: %s", data)
	}
	if !strings.Contains(string(data), `"run_type":"catchup"`) {
		t.Errorf("expected run_type in %s", data)
	}

	run = NewSchedulerRun(RunKindDaily, RunStatusPartial, time.Now(), 1, "1 failed: acme")
	data, err = json.Marshal(run)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"error_message":"1 failed: acme"`) {
		t.Errorf("expected error_message in %s", data)
	}
}
