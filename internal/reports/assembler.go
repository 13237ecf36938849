package reports

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brokerwire/callstats/internal/metrics"
	"github.com/brokerwire/callstats/internal/models"
	"github.com/brokerwire/callstats/internal/warehouse"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ErrProviderUnavailable means no metric in the battery could be fetched.
var ErrProviderUnavailable = errors.New("metrics provider unavailable")

// MetricsProvider is the warehouse capability the assembler consumes.
type MetricsProvider interface {
	CallStageCounts(ctx context.Context, s warehouse.Scope) ([]warehouse.CategoryCount, error)
	CallClassificationCounts(ctx context.Context, s warehouse.Scope) ([]warehouse.CategoryCount, error)
	LoadStatusCounts(ctx context.Context, s warehouse.Scope) ([]warehouse.CategoryCount, error)
	PricingNotesCounts(ctx context.Context, s warehouse.Scope) ([]warehouse.CategoryCount, error)
	CarrierEndStateCounts(ctx context.Context, s warehouse.Scope) ([]warehouse.CategoryCount, error)
	CarrierAskedOverTransferAttempts(ctx context.Context, s warehouse.Scope) (*warehouse.Ratio, error)
	CarrierAskedOverCallAttempts(ctx context.Context, s warehouse.Scope) (*warehouse.Ratio, error)
	TransferredForBooking(ctx context.Context, s warehouse.Scope) (*warehouse.Ratio, error)
	NonConvertibleWithCNQ(ctx context.Context, s warehouse.Scope) (*warehouse.Ratio, error)
	NonConvertibleWithoutCNQ(ctx context.Context, s warehouse.Scope) (*warehouse.Ratio, error)
	CarrierNotQualified(ctx context.Context, s warehouse.Scope) (*warehouse.Ratio, error)
	CallTotals(ctx context.Context, s warehouse.Scope) (*warehouse.CallTotals, error)
}

// Assembler builds report payloads from a MetricsProvider.
type Assembler struct {
	provider MetricsProvider
	metrics  *metrics.PrometheusMetrics
	logger   zerolog.Logger
	now      func() time.Time
}

// NewAssembler creates a new report assembler. m may be nil.
func NewAssembler(provider MetricsProvider, m *metrics.PrometheusMetrics, logger zerolog.Logger) *Assembler {
	return &Assembler{
		provider: provider,
		metrics:  m,
		logger:   logger.With().Str("component", "report_assembler").Logger(),
		now:      time.Now,
	}
}

// DayWindow returns local midnight of date in loc and the following local
// midnight.
func DayWindow(date string, loc *time.Location) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation(models.DateLayout, date, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse report date %q: %w", date, err)
	}
	return start, start.AddDate(0, 0, 1), nil
}

// metricStep fetches one metric and writes it into the payload.
type metricStep struct {
	name string
	run  func(ctx context.Context, s warehouse.Scope, p *models.ReportPayload) error
}

// Assemble computes the payload for org on date. Individual metric failures
// leave their slot empty. Only when every metric fails does Assemble return
// an error, which wraps ErrProviderUnavailable.
func (a *Assembler) Assemble(ctx context.Context, org *models.Organization, date string) (*models.ReportPayload, error) {
	loc, err := org.Location()
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", org.Timezone, err)
	}
	start, end, err := DayWindow(date, loc)
	if err != nil {
		return nil, err
	}

	scope := warehouse.Scope{
		OrgID:        org.OrgID,
		SourceNodeID: org.SourceNodeID,
		Timezone:     org.Timezone,
		Start:        start,
		End:          end,
	}

	payload := &models.ReportPayload{
		DateRange: models.DateRange{
			Timezone:  org.Timezone,
			StartDate: start.Format(time.RFC3339),
			EndDate:   end.Format(time.RFC3339),
		},
		Breakdowns: models.EmptyBreakdowns(),
	}

	logger := a.logger.With().
		Str("org_id", org.OrgID).
		Str("report_date", date).
		Logger()

	steps := a.battery()
	failed := 0
	var lastErr error
	for _, step := range steps {
		if err := step.run(ctx, scope, payload); err != nil {
			failed++
			lastErr = err
			a.metrics.RecordMetricFailure(step.name)
			logger.Warn().Err(err).Str("metric", step.name).Msg("metric failed, leaving it empty")
		}
	}

	if failed == len(steps) {
		return nil, fmt.Errorf("%w: all %d metrics failed: %v", ErrProviderUnavailable, failed, lastErr)
	}

	payload.Metadata = models.ReportMetadata{
		OrgID:       org.OrgID,
		OrgName:     org.Name,
		GeneratedAt: a.now().In(loc).Format(time.RFC3339),
	}

	logger.Debug().Int("failed_metrics", failed).Msg("report assembled")
	return payload, nil
}

func (a *Assembler) battery() []metricStep {
	return []metricStep{
		{"call_stage", a.callStage},
		{"call_classification", a.callClassification},
		{"load_status", a.loadStatus},
		{"pricing_notes", a.pricingNotes},
		{"carrier_end_state", a.carrierEndState},
		{"carrier_asked_transfer_over_total_transfer_attempts", a.transferOverTransferAttempts},
		{"carrier_asked_transfer_over_total_call_attempts", a.transferOverCallAttempts},
		{"successfully_transferred_for_booking", a.transferredForBooking},
		{"non_convertible_calls_with_carrier_not_qualified", a.nonConvertibleWithCNQ},
		{"non_convertible_calls_without_carrier_not_qualified", a.nonConvertibleWithoutCNQ},
		{"carrier_not_qualified", a.carrierNotQualified},
		{"total_calls_and_duration", a.callTotals},
	}
}

func sumCounts(counts []warehouse.CategoryCount) int64 {
	var total int64
	for _, c := range counts {
		total += c.Count
	}
	return total
}

func (a *Assembler) callStage(ctx context.Context, s warehouse.Scope, p *models.ReportPayload) error {
	counts, err := a.provider.CallStageCounts(ctx, s)
	if err != nil {
		return err
	}
	total := sumCounts(counts)
	for _, c := range counts {
		p.Breakdowns.CallStage = append(p.Breakdowns.CallStage, models.CallStageRow{
			CallStage: c.Category, Count: c.Count, Percentage: Percentage(c.Count, total),
		})
	}
	return nil
}

func (a *Assembler) callClassification(ctx context.Context, s warehouse.Scope, p *models.ReportPayload) error {
	counts, err := a.provider.CallClassificationCounts(ctx, s)
	if err != nil {
		return err
	}
	total := sumCounts(counts)
	var success int64
	for _, c := range counts {
		if c.Category == warehouse.ClassificationSuccess {
			success += c.Count
		}
		p.Breakdowns.CallClassification = append(p.Breakdowns.CallClassification, models.CallClassificationRow{
			CallClassification: c.Category, Count: c.Count, Percentage: Percentage(c.Count, total),
		})
	}
	rate := Percentage(success, total)
	p.KPIs.SuccessRatePercent = &rate
	return nil
}

func (a *Assembler) loadStatus(ctx context.Context, s warehouse.Scope, p *models.ReportPayload) error {
	counts, err := a.provider.LoadStatusCounts(ctx, s)
	if err != nil {
		return err
	}
	total := sumCounts(counts)
	for _, c := range counts {
		p.Breakdowns.LoadStatus = append(p.Breakdowns.LoadStatus, models.LoadStatusRow{
			LoadStatus: c.Category, Count: c.Count, TotalCalls: total, LoadStatusPercentage: Percentage(c.Count, total),
		})
	}
	return nil
}

func (a *Assembler) pricingNotes(ctx context.Context, s warehouse.Scope, p *models.ReportPayload) error {
	counts, err := a.provider.PricingNotesCounts(ctx, s)
	if err != nil {
		return err
	}
	total := sumCounts(counts)
	for _, c := range counts {
		p.Breakdowns.PricingNotes = append(p.Breakdowns.PricingNotes, models.PricingNotesRow{
			PricingNotes: c.Category, Count: c.Count, Percentage: Percentage(c.Count, total),
		})
	}
	return nil
}

func (a *Assembler) carrierEndState(ctx context.Context, s warehouse.Scope, p *models.ReportPayload) error {
	counts, err := a.provider.CarrierEndStateCounts(ctx, s)
	if err != nil {
		return err
	}
	total := sumCounts(counts)
	for _, c := range counts {
		p.Breakdowns.CarrierEndState = append(p.Breakdowns.CarrierEndState, models.CarrierEndStateRow{
			CarrierEndState: c.Category, Count: c.Count, Percentage: Percentage(c.Count, total),
		})
	}
	return nil
}

func (a *Assembler) transferOverTransferAttempts(ctx context.Context, s warehouse.Scope, p *models.ReportPayload) error {
	r, err := a.provider.CarrierAskedOverTransferAttempts(ctx, s)
	if err != nil || r == nil {
		return err
	}
	p.KPIs.CarrierTransferOverTransferAttempts = &models.CarrierTransferOverTransferAttempts{
		CarrierAskedCount:      r.Count,
		TotalTransferAttempts:  r.Total,
		CarrierAskedPercentage: Percentage(r.Count, r.Total),
	}
	return nil
}

func (a *Assembler) transferOverCallAttempts(ctx context.Context, s warehouse.Scope, p *models.ReportPayload) error {
	r, err := a.provider.CarrierAskedOverCallAttempts(ctx, s)
	if err != nil || r == nil {
		return err
	}
	p.KPIs.CarrierTransferOverCallAttempts = &models.CarrierTransferOverCallAttempts{
		CarrierAskedCount:      r.Count,
		TotalCallAttempts:      r.Total,
		CarrierAskedPercentage: Percentage(r.Count, r.Total),
	}
	return nil
}

func (a *Assembler) transferredForBooking(ctx context.Context, s warehouse.Scope, p *models.ReportPayload) error {
	r, err := a.provider.TransferredForBooking(ctx, s)
	if err != nil || r == nil {
		return err
	}
	p.KPIs.SuccessfullyTransferredForBooking = &models.SuccessfullyTransferredForBooking{
		Count:      r.Count,
		TotalCalls: r.Total,
		Percentage: Percentage(r.Count, r.Total),
	}
	return nil
}

func countRatio(r *warehouse.Ratio) *models.CountRatio {
	return &models.CountRatio{Count: r.Count, TotalCalls: r.Total, Percentage: Percentage(r.Count, r.Total)}
}

func (a *Assembler) nonConvertibleWithCNQ(ctx context.Context, s warehouse.Scope, p *models.ReportPayload) error {
	r, err := a.provider.NonConvertibleWithCNQ(ctx, s)
	if err != nil || r == nil {
		return err
	}
	p.KPIs.NonConvertibleWithCNQ = countRatio(r)
	p.KPIs.ClassifiedCalls = r.Total
	return nil
}

func (a *Assembler) nonConvertibleWithoutCNQ(ctx context.Context, s warehouse.Scope, p *models.ReportPayload) error {
	r, err := a.provider.NonConvertibleWithoutCNQ(ctx, s)
	if err != nil || r == nil {
		return err
	}
	p.KPIs.NonConvertibleWithoutCNQ = countRatio(r)
	return nil
}

func (a *Assembler) carrierNotQualified(ctx context.Context, s warehouse.Scope, p *models.ReportPayload) error {
	r, err := a.provider.CarrierNotQualified(ctx, s)
	if err != nil || r == nil {
		return err
	}
	p.KPIs.CarrierNotQualified = countRatio(r)
	return nil
}

func (a *Assembler) callTotals(ctx context.Context, s warehouse.Scope, p *models.ReportPayload) error {
	t, err := a.provider.CallTotals(ctx, s)
	if err != nil || t == nil {
		return err
	}
	seconds := decimal.NewFromInt(t.TotalDurationSeconds)
	p.KPIs.TotalCalls = t.TotalCalls
	p.KPIs.TotalDurationHours = Quotient(seconds, decimal.NewFromInt(3600))
	p.KPIs.AvgMinutesPerCall = Quotient(seconds, decimal.NewFromInt(t.TotalCalls*60))
	return nil
}
