package reports

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/brokerwire/callstats/internal/metrics"
	"github.com/brokerwire/callstats/internal/models"
	"github.com/brokerwire/callstats/internal/warehouse"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ErrUnknownMetric is returned when a requested statistic does not exist.
var ErrUnknownMetric = errors.New("unknown metric")

const (
	// DefaultStatsDays is the window used when no start date is given.
	DefaultStatsDays = 30
	// MaxStatsDays bounds a single stats window.
	MaxStatsDays = 366
)

// StatsProvider is the warehouse capability the stats collector consumes.
type StatsProvider interface {
	MetricsProvider
	CarrierQualificationCounts(ctx context.Context, s warehouse.Scope) ([]warehouse.CategoryCount, error)
	LoadNotFound(ctx context.Context, s warehouse.Scope) (*warehouse.Ratio, error)
	NonConvertibleCalls(ctx context.Context, s warehouse.Scope) (*warehouse.Ratio, error)
	UniqueLoads(ctx context.Context, s warehouse.Scope) (*warehouse.UniqueLoads, error)
	UniqueLoadIDs(ctx context.Context, s warehouse.Scope) ([]string, error)
	DurationsWithoutTransferRequest(ctx context.Context, s warehouse.Scope) ([]warehouse.ClassificationDuration, error)
	DurationsWithTransferRequest(ctx context.Context, s warehouse.Scope) ([]warehouse.ClassificationDuration, error)
}

// CarrierQualificationRow is one carrier qualification outcome.
type CarrierQualificationRow struct {
	CarrierQualification string  `json:"carrier_qualification"`
	Count                int64   `json:"count"`
	Percentage           float64 `json:"percentage"`
}

// UniqueLoadStats counts distinct loads against the calls that named one.
type UniqueLoadStats struct {
	NumberOfUniqueLoads int64   `json:"number_of_unique_loads"`
	TotalCalls          int64   `json:"total_calls"`
	CallsPerUniqueLoad  float64 `json:"calls_per_unique_load"`
}

// CallVolume is call count and talk time for a window.
type CallVolume struct {
	TotalCalls         int64   `json:"total_calls"`
	TotalDurationHours float64 `json:"total_duration_hours"`
	AvgMinutesPerCall  float64 `json:"avg_minutes_per_call"`
}

// CallBucket is the share of calls and talk time in one outcome group.
type CallBucket struct {
	Count              int64   `json:"count"`
	DurationHours      float64 `json:"duration_hours"`
	Percentage         float64 `json:"percentage"`
	DurationPercentage float64 `json:"duration_percentage"`
}

// NoTransferBreakdown groups calls where the carrier never asked for a
// transfer by outcome.
type NoTransferBreakdown struct {
	TotalCalls         int64            `json:"total_calls"`
	TotalDurationHours float64          `json:"total_duration_hours"`
	NonConvertible     CallBucket       `json:"non_convertible"`
	RateTooHigh        CallBucket       `json:"rate_too_high"`
	Success            CallBucket       `json:"success"`
	Other              CallBucket       `json:"other"`
	ByClassification   map[string]int64 `json:"by_classification"`
}

// AllStats is the live statistics battery for a date window. A nil field
// means that metric could not be fetched.
type AllStats struct {
	CallStage                        []models.CallStageRow                       `json:"call_stage_stats"`
	CarrierAskedOverTransferAttempts *models.CarrierTransferOverTransferAttempts `json:"carrier_asked_transfer_over_total_transfer_attempts"`
	CarrierAskedOverCallAttempts     *models.CarrierTransferOverCallAttempts     `json:"carrier_asked_transfer_over_total_call_attempts"`
	LoadNotFound                     *models.CountRatio                          `json:"load_not_found"`
	LoadStatus                       []models.LoadStatusRow                      `json:"load_status"`
	TransferredForBooking            *models.SuccessfullyTransferredForBooking   `json:"successfully_transferred_for_booking"`
	CallClassification               []models.CallClassificationRow              `json:"call_classification"`
	CarrierQualification             []CarrierQualificationRow                   `json:"carrier_qualification"`
	Pricing                          []models.PricingNotesRow                    `json:"pricing"`
	CarrierEndState                  []models.CarrierEndStateRow                 `json:"carrier_end_state"`
	NonConvertibleCalls              *models.CountRatio                          `json:"percent_non_convertible_calls"`
	UniqueLoads                      *UniqueLoadStats                            `json:"number_of_unique_loads"`
	CallVolume                       *CallVolume                                 `json:"total_calls_and_duration"`
	CallsWithoutTransferRequest      *NoTransferBreakdown                        `json:"calls_without_carrier_asked_for_transfer"`
	TransferRequestDuration          *CallVolume                                 `json:"duration_carrier_asked_for_transfer"`
}

// StatsResult is what Collect returns. Errors names the metrics that failed
// and Values holds each fetched metric by name.
type StatsResult struct {
	Stats     AllStats          `json:"stats"`
	DateRange models.DateRange  `json:"date_range"`
	Errors    map[string]string `json:"errors,omitempty"`
	Values    map[string]any    `json:"-"`
}

// Value returns the named metric, or nil if it failed or was not requested.
func (r *StatsResult) Value(name string) any {
	return r.Values[name]
}

// statStep fetches one statistic. Steps not in the batch only run when
// requested by name.
type statStep struct {
	name  string
	batch bool
	run   func(ctx context.Context, s warehouse.Scope, st *AllStats) (any, error)
}

// StatsCollector runs the statistics battery over arbitrary date windows.
type StatsCollector struct {
	provider  StatsProvider
	assembler *Assembler
	metrics   *metrics.PrometheusMetrics
	logger    zerolog.Logger
	now       func() time.Time
}

// NewStatsCollector creates a stats collector. m may be nil.
func NewStatsCollector(provider StatsProvider, m *metrics.PrometheusMetrics, logger zerolog.Logger) *StatsCollector {
	return &StatsCollector{
		provider:  provider,
		assembler: NewAssembler(provider, m, logger),
		metrics:   m,
		logger:    logger.With().Str("component", "stats_collector").Logger(),
		now:       time.Now,
	}
}

// StatNames lists every statistic Collect can fetch by name.
func (c *StatsCollector) StatNames() []string {
	steps := c.steps()
	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = s.name
	}
	return names
}

// StatsWindow resolves inclusive YYYY-MM-DD dates to a half-open window of
// local midnights in loc. An empty end means yesterday and an empty start
// means DefaultStatsDays days ending at end.
func StatsWindow(start, end string, loc *time.Location, now time.Time) (time.Time, time.Time, error) {
	today := now.In(loc)
	todayStart := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, loc)

	last := todayStart.AddDate(0, 0, -1)
	if end != "" {
		t, err := time.ParseInLocation(models.DateLayout, end, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: end date %q is not YYYY-MM-DD", ErrInvalidDateRange, end)
		}
		if t.After(todayStart) {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: end date %s is in the future", ErrInvalidDateRange, end)
		}
		last = t
	}

	first := last.AddDate(0, 0, 1-DefaultStatsDays)
	if start != "" {
		t, err := time.ParseInLocation(models.DateLayout, start, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: start date %q is not YYYY-MM-DD", ErrInvalidDateRange, start)
		}
		first = t
	}

	if first.After(last) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: start date %s is after end date %s",
			ErrInvalidDateRange, first.Format(models.DateLayout), last.Format(models.DateLayout))
	}
	if first.AddDate(0, 0, MaxStatsDays).Before(last.AddDate(0, 0, 1)) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: window exceeds %d days", ErrInvalidDateRange, MaxStatsDays)
	}
	return first, last.AddDate(0, 0, 1), nil
}

// Collect fetches statistics for org between the inclusive dates start and
// end. With no names it runs the whole batch. A failing metric is left nil
// and named in Errors. Only when every requested metric fails does Collect
// return an error, which wraps ErrProviderUnavailable.
func (c *StatsCollector) Collect(ctx context.Context, org *models.Organization, start, end string, names ...string) (*StatsResult, error) {
	steps, err := c.selectSteps(names)
	if err != nil {
		return nil, err
	}

	loc, err := org.Location()
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", org.Timezone, err)
	}
	from, to, err := StatsWindow(start, end, loc, c.now())
	if err != nil {
		return nil, err
	}

	scope := warehouse.Scope{
		OrgID:        org.OrgID,
		SourceNodeID: org.SourceNodeID,
		Timezone:     org.Timezone,
		Start:        from,
		End:          to,
	}
	result := &StatsResult{
		DateRange: models.DateRange{
			Timezone:  org.Timezone,
			StartDate: from.Format(time.RFC3339),
			EndDate:   to.Format(time.RFC3339),
		},
		Values: make(map[string]any, len(steps)),
	}

	logger := c.logger.With().Str("org_id", org.OrgID).
		Str("start_date", from.Format(models.DateLayout)).
		Str("end_date", to.AddDate(0, 0, -1).Format(models.DateLayout)).
		Logger()

	var lastErr error
	for _, step := range steps {
		v, err := step.run(ctx, scope, &result.Stats)
		if err != nil {
			lastErr = err
			if result.Errors == nil {
				result.Errors = make(map[string]string)
			}
			result.Errors[step.name] = "unavailable"
			c.metrics.RecordMetricFailure(step.name)
			logger.Warn().Err(err).Str("metric", step.name).Msg("stat failed, leaving it null")
			continue
		}
		result.Values[step.name] = v
	}

	if len(result.Errors) == len(steps) {
		return nil, fmt.Errorf("%w: all %d metrics failed: %v", ErrProviderUnavailable, len(steps), lastErr)
	}
	logger.Debug().Int("metrics", len(steps)).Int("failed_metrics", len(result.Errors)).Msg("stats collected")
	return result, nil
}

func (c *StatsCollector) selectSteps(names []string) ([]statStep, error) {
	all := c.steps()
	if len(names) == 0 {
		var batch []statStep
		for _, s := range all {
			if s.batch {
				batch = append(batch, s)
			}
		}
		return batch, nil
	}

	out := make([]statStep, 0, len(names))
	for _, name := range names {
		i := slices.IndexFunc(all, func(s statStep) bool { return s.name == name })
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrUnknownMetric, name)
		}
		out = append(out, all[i])
	}
	return out, nil
}

func (c *StatsCollector) steps() []statStep {
	return []statStep{
		{"call_stage_stats", true, c.callStage},
		{"carrier_asked_transfer_over_total_transfer_attempts", true, c.transferOverTransferAttempts},
		{"carrier_asked_transfer_over_total_call_attempts", true, c.transferOverCallAttempts},
		{"load_not_found", true, c.loadNotFound},
		{"load_status", true, c.loadStatus},
		{"successfully_transferred_for_booking", true, c.transferredForBooking},
		{"call_classification", true, c.callClassification},
		{"carrier_qualification", true, c.carrierQualification},
		{"pricing", true, c.pricing},
		{"carrier_end_state", true, c.carrierEndState},
		{"percent_non_convertible_calls", true, c.nonConvertibleCalls},
		{"number_of_unique_loads", true, c.uniqueLoads},
		{"total_calls_and_duration", true, c.callVolume},
		{"calls_without_carrier_asked_for_transfer", true, c.withoutTransferRequest},
		{"duration_carrier_asked_for_transfer", true, c.transferRequestDuration},
		{"list_of_unique_loads", false, c.uniqueLoadIDs},
	}
}

// payloadStep runs one report assembler step against a scratch payload.
func payloadStep(ctx context.Context, s warehouse.Scope, run func(context.Context, warehouse.Scope, *models.ReportPayload) error) (*models.ReportPayload, error) {
	p := &models.ReportPayload{Breakdowns: models.EmptyBreakdowns()}
	if err := run(ctx, s, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (c *StatsCollector) callStage(ctx context.Context, s warehouse.Scope, st *AllStats) (any, error) {
	p, err := payloadStep(ctx, s, c.assembler.callStage)
	if err != nil {
		return nil, err
	}
	st.CallStage = p.Breakdowns.CallStage
	return st.CallStage, nil
}

func (c *StatsCollector) transferOverTransferAttempts(ctx context.Context, s warehouse.Scope, st *AllStats) (any, error) {
	p, err := payloadStep(ctx, s, c.assembler.transferOverTransferAttempts)
	if err != nil {
		return nil, err
	}
	st.CarrierAskedOverTransferAttempts = p.KPIs.CarrierTransferOverTransferAttempts
	return st.CarrierAskedOverTransferAttempts, nil
}

func (c *StatsCollector) transferOverCallAttempts(ctx context.Context, s warehouse.Scope, st *AllStats) (any, error) {
	p, err := payloadStep(ctx, s, c.assembler.transferOverCallAttempts)
	if err != nil {
		return nil, err
	}
	st.CarrierAskedOverCallAttempts = p.KPIs.CarrierTransferOverCallAttempts
	return st.CarrierAskedOverCallAttempts, nil
}

func (c *StatsCollector) loadNotFound(ctx context.Context, s warehouse.Scope, st *AllStats) (any, error) {
	r, err := c.provider.LoadNotFound(ctx, s)
	if err != nil {
		return nil, err
	}
	if r != nil {
		st.LoadNotFound = countRatio(r)
	}
	return st.LoadNotFound, nil
}

func (c *StatsCollector) loadStatus(ctx context.Context, s warehouse.Scope, st *AllStats) (any, error) {
	p, err := payloadStep(ctx, s, c.assembler.loadStatus)
	if err != nil {
		return nil, err
	}
	st.LoadStatus = p.Breakdowns.LoadStatus
	return st.LoadStatus, nil
}

func (c *StatsCollector) transferredForBooking(ctx context.Context, s warehouse.Scope, st *AllStats) (any, error) {
	p, err := payloadStep(ctx, s, c.assembler.transferredForBooking)
	if err != nil {
		return nil, err
	}
	st.TransferredForBooking = p.KPIs.SuccessfullyTransferredForBooking
	return st.TransferredForBooking, nil
}

func (c *StatsCollector) callClassification(ctx context.Context, s warehouse.Scope, st *AllStats) (any, error) {
	p, err := payloadStep(ctx, s, c.assembler.callClassification)
	if err != nil {
		return nil, err
	}
	st.CallClassification = p.Breakdowns.CallClassification
	return st.CallClassification, nil
}

func (c *StatsCollector) carrierQualification(ctx context.Context, s warehouse.Scope, st *AllStats) (any, error) {
	counts, err := c.provider.CarrierQualificationCounts(ctx, s)
	if err != nil {
		return nil, err
	}
	total := sumCounts(counts)
	rows := []CarrierQualificationRow{}
	for _, cc := range counts {
		rows = append(rows, CarrierQualificationRow{
			CarrierQualification: cc.Category, Count: cc.Count, Percentage: Percentage(cc.Count, total),
		})
	}
	st.CarrierQualification = rows
	return rows, nil
}

func (c *StatsCollector) pricing(ctx context.Context, s warehouse.Scope, st *AllStats) (any, error) {
	p, err := payloadStep(ctx, s, c.assembler.pricingNotes)
	if err != nil {
		return nil, err
	}
	st.Pricing = p.Breakdowns.PricingNotes
	return st.Pricing, nil
}

func (c *StatsCollector) carrierEndState(ctx context.Context, s warehouse.Scope, st *AllStats) (any, error) {
	p, err := payloadStep(ctx, s, c.assembler.carrierEndState)
	if err != nil {
		return nil, err
	}
	st.CarrierEndState = p.Breakdowns.CarrierEndState
	return st.CarrierEndState, nil
}

func (c *StatsCollector) nonConvertibleCalls(ctx context.Context, s warehouse.Scope, st *AllStats) (any, error) {
	r, err := c.provider.NonConvertibleCalls(ctx, s)
	if err != nil {
		return nil, err
	}
	if r != nil {
		st.NonConvertibleCalls = countRatio(r)
	}
	return st.NonConvertibleCalls, nil
}

func (c *StatsCollector) uniqueLoads(ctx context.Context, s warehouse.Scope, st *AllStats) (any, error) {
	u, err := c.provider.UniqueLoads(ctx, s)
	if err != nil || u == nil {
		return nil, err
	}
	st.UniqueLoads = &UniqueLoadStats{
		NumberOfUniqueLoads: u.Loads,
		TotalCalls:          u.Calls,
		CallsPerUniqueLoad:  Quotient(decimal.NewFromInt(u.Calls), decimal.NewFromInt(u.Loads)),
	}
	return st.UniqueLoads, nil
}

func (c *StatsCollector) callVolume(ctx context.Context, s warehouse.Scope, st *AllStats) (any, error) {
	t, err := c.provider.CallTotals(ctx, s)
	if err != nil || t == nil {
		return nil, err
	}
	st.CallVolume = callVolume(t.TotalCalls, t.TotalDurationSeconds)
	return st.CallVolume, nil
}

func callVolume(calls, seconds int64) *CallVolume {
	d := decimal.NewFromInt(seconds)
	return &CallVolume{
		TotalCalls:         calls,
		TotalDurationHours: Quotient(d, decimal.NewFromInt(3600)),
		AvgMinutesPerCall:  Quotient(d, decimal.NewFromInt(calls*60)),
	}
}

func (c *StatsCollector) withoutTransferRequest(ctx context.Context, s warehouse.Scope, st *AllStats) (any, error) {
	rows, err := c.provider.DurationsWithoutTransferRequest(ctx, s)
	if err != nil {
		return nil, err
	}
	st.CallsWithoutTransferRequest = bucketByOutcome(rows)
	return st.CallsWithoutTransferRequest, nil
}

// bucketByOutcome folds per-classification call counts and durations into
// non-convertible, rate-too-high, success and other buckets.
func bucketByOutcome(rows []warehouse.ClassificationDuration) *NoTransferBreakdown {
	type acc struct{ calls, seconds int64 }
	var nonConvertible, rateTooHigh, success, other acc
	var calls, seconds int64
	by := make(map[string]int64, len(rows))

	for _, r := range rows {
		calls += r.Calls
		seconds += r.DurationSeconds
		by[r.Classification] += r.Calls

		bucket := &other
		switch {
		case slices.Contains(warehouse.NonConvertibleClassifications, r.Classification):
			bucket = &nonConvertible
		case r.Classification == warehouse.ClassificationRateTooHigh:
			bucket = &rateTooHigh
		case r.Classification == warehouse.ClassificationSuccess:
			bucket = &success
		}
		bucket.calls += r.Calls
		bucket.seconds += r.DurationSeconds
	}

	hours := decimal.NewFromInt(3600)
	toBucket := func(a acc) CallBucket {
		return CallBucket{
			Count:              a.calls,
			DurationHours:      Quotient(decimal.NewFromInt(a.seconds), hours),
			Percentage:         Percentage(a.calls, calls),
			DurationPercentage: Percentage(a.seconds, seconds),
		}
	}
	return &NoTransferBreakdown{
		TotalCalls:         calls,
		TotalDurationHours: Quotient(decimal.NewFromInt(seconds), hours),
		NonConvertible:     toBucket(nonConvertible),
		RateTooHigh:        toBucket(rateTooHigh),
		Success:            toBucket(success),
		Other:              toBucket(other),
		ByClassification:   by,
	}
}

func (c *StatsCollector) transferRequestDuration(ctx context.Context, s warehouse.Scope, st *AllStats) (any, error) {
	rows, err := c.provider.DurationsWithTransferRequest(ctx, s)
	if err != nil {
		return nil, err
	}
	var calls, seconds int64
	for _, r := range rows {
		calls += r.Calls
		seconds += r.DurationSeconds
	}
	st.TransferRequestDuration = callVolume(calls, seconds)
	return st.TransferRequestDuration, nil
}

func (c *StatsCollector) uniqueLoadIDs(ctx context.Context, s warehouse.Scope, _ *AllStats) (any, error) {
	ids, err := c.provider.UniqueLoadIDs(ctx, s)
	if err != nil {
		return nil, err
	}
	return ids, nil
}
