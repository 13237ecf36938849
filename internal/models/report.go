package models

import (
	"time"

	"github.com/google/uuid"
)

// DateLayout is the wire and storage format for report dates.
const DateLayout = "2006-01-02"

// DailyReport is one frozen analytics snapshot for an organization and a
// calendar day. There is at most one per (OrgID, ReportDate).
type DailyReport struct {
	ID         uuid.UUID      `json:"id"`
	OrgID      string         `json:"org_id"`
	ReportDate string         `json:"report_date"`
	Payload    *ReportPayload `json:"report_data"`
	CreatedAt  time.Time      `json:"created_at"`
}

// NewDailyReport creates a new report for the given organization and date.
func NewDailyReport(orgID, reportDate string, payload *ReportPayload) *DailyReport {
	return &DailyReport{
		ID:         uuid.New(),
		OrgID:      orgID,
		ReportDate: reportDate,
		Payload:    payload,
		CreatedAt:  time.Now().UTC(),
	}
}

// ReportPayload is the nested KPI and breakdown structure of a report.
type ReportPayload struct {
	DateRange  DateRange      `json:"date_range"`
	KPIs       ReportKPIs     `json:"kpis"`
	Breakdowns Breakdowns     `json:"breakdowns"`
	Metadata   ReportMetadata `json:"metadata"`
}

// DateRange is the half-open interval a report covers, in the org timezone.
type DateRange struct {
	Timezone  string `json:"tz"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// ReportKPIs holds scalar and ratio metrics. Composite KPIs are nil when
// their source metric was unavailable.
type ReportKPIs struct {
	TotalCalls         int64    `json:"total_calls"`
	ClassifiedCalls    int64    `json:"classified_calls"`
	TotalDurationHours float64  `json:"total_duration_hours"`
	AvgMinutesPerCall  float64  `json:"avg_minutes_per_call"`
	SuccessRatePercent *float64 `json:"success_rate_percent"`

	NonConvertibleWithCNQ    *CountRatio `json:"non_convertible_calls_with_carrier_not_qualified"`
	NonConvertibleWithoutCNQ *CountRatio `json:"non_convertible_calls_without_carrier_not_qualified"`
	CarrierNotQualified      *CountRatio `json:"carrier_not_qualified"`

	CarrierTransferOverTransferAttempts *CarrierTransferOverTransferAttempts `json:"carrier_transfer_over_total_transfer_attempts"`
	CarrierTransferOverCallAttempts     *CarrierTransferOverCallAttempts     `json:"carrier_transfer_over_total_call_attempts"`
	SuccessfullyTransferredForBooking   *SuccessfullyTransferredForBooking   `json:"successfully_transferred_for_booking"`
}

// CountRatio is a count over a total with its percentage.
type CountRatio struct {
	Count      int64   `json:"count"`
	TotalCalls int64   `json:"total_calls"`
	Percentage float64 `json:"percentage"`
}

// CarrierTransferOverTransferAttempts is the share of transfer attempts the
// carrier asked for.
type CarrierTransferOverTransferAttempts struct {
	CarrierAskedCount      int64   `json:"carrier_asked_count"`
	TotalTransferAttempts  int64   `json:"total_transfer_attempts"`
	CarrierAskedPercentage float64 `json:"carrier_asked_percentage"`
}

// CarrierTransferOverCallAttempts is the share of calls with a transfer
// reason where the carrier asked for the transfer.
type CarrierTransferOverCallAttempts struct {
	CarrierAskedCount      int64   `json:"carrier_asked_count"`
	TotalCallAttempts      int64   `json:"total_call_attempts"`
	CarrierAskedPercentage float64 `json:"carrier_asked_percentage"`
}

// SuccessfullyTransferredForBooking counts calls transferred after a rate
// agreement.
type SuccessfullyTransferredForBooking struct {
	Count      int64   `json:"successfully_transferred_for_booking_count"`
	TotalCalls int64   `json:"total_calls"`
	Percentage float64 `json:"successfully_transferred_for_booking_percentage"`
}

// Breakdowns holds the category distributions of a report. Lists are never
// nil once assembled.
type Breakdowns struct {
	CallStage          []CallStageRow          `json:"call_stage"`
	CallClassification []CallClassificationRow `json:"call_classification"`
	LoadStatus         []LoadStatusRow         `json:"load_status"`
	PricingNotes       []PricingNotesRow       `json:"pricing_notes"`
	CarrierEndState    []CarrierEndStateRow    `json:"carrier_end_state"`
}

// EmptyBreakdowns returns breakdowns with every list allocated.
func EmptyBreakdowns() Breakdowns {
	return Breakdowns{
		CallStage:          []CallStageRow{},
		CallClassification: []CallClassificationRow{},
		LoadStatus:         []LoadStatusRow{},
		PricingNotes:       []PricingNotesRow{},
		CarrierEndState:    []CarrierEndStateRow{},
	}
}

// CallStageRow is the call count for one call stage.
type CallStageRow struct {
	CallStage  string  `json:"call_stage"`
	Count      int64   `json:"count"`
	Percentage float64 `json:"percentage"`
}

// CallClassificationRow is the call count for one classification.
type CallClassificationRow struct {
	CallClassification string  `json:"call_classification"`
	Count              int64   `json:"count"`
	Percentage         float64 `json:"percentage"`
}

// LoadStatusRow counts calls by load status against the day's total.
type LoadStatusRow struct {
	LoadStatus           string  `json:"load_status"`
	Count                int64   `json:"count"`
	TotalCalls           int64   `json:"total_calls"`
	LoadStatusPercentage float64 `json:"load_status_percentage"`
}

// PricingNotesRow is the call count for one pricing note.
type PricingNotesRow struct {
	PricingNotes string  `json:"pricing_notes"`
	Count        int64   `json:"count"`
	Percentage   float64 `json:"percentage"`
}

// CarrierEndStateRow is the call count for one carrier end state.
type CarrierEndStateRow struct {
	CarrierEndState string  `json:"carrier_end_state"`
	Count           int64   `json:"count"`
	Percentage      float64 `json:"percentage"`
}

// ReportMetadata identifies who a report is for and when it was built.
type ReportMetadata struct {
	OrgID       string `json:"org_id"`
	OrgName     string `json:"org_name"`
	GeneratedAt string `json:"generated_at"`
}
