package warehouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// CategoryCount is one value of a categorical field and how often it occurred.
type CategoryCount struct {
	Category string
	Count    int64
}

// Ratio is a matched count over a population. A nil *Ratio means the
// population was empty for the window.
type Ratio struct {
	Count int64
	Total int64
}

// CallTotals are the call volume figures for a window.
type CallTotals struct {
	TotalCalls           int64
	TotalDurationSeconds int64
}

// ClassificationDuration is the call count and summed session duration for
// one call classification.
type ClassificationDuration struct {
	Classification  string
	Calls           int64
	DurationSeconds int64
}

// UniqueLoads counts distinct load IDs against the calls that carried one.
type UniqueLoads struct {
	Loads int64
	Calls int64
}

// CallStageCounts returns how far calls progressed.
func (c *Client) CallStageCounts(ctx context.Context, s Scope) ([]CategoryCount, error) {
	return c.categoryCounts(ctx, "call_stage", PathCallStage, s)
}

// CallClassificationCounts returns the outcome classification of calls.
func (c *Client) CallClassificationCounts(ctx context.Context, s Scope) ([]CategoryCount, error) {
	return c.categoryCounts(ctx, "call_classification", PathCallClassification, s)
}

// LoadStatusCounts returns the status of the loads callers asked about.
func (c *Client) LoadStatusCounts(ctx context.Context, s Scope) ([]CategoryCount, error) {
	return c.categoryCounts(ctx, "load_status", PathLoadStatus, s)
}

// PricingNotesCounts returns rate negotiation outcomes.
func (c *Client) PricingNotesCounts(ctx context.Context, s Scope) ([]CategoryCount, error) {
	return c.categoryCounts(ctx, "pricing_notes", PathPricingNotes, s)
}

// CarrierEndStateCounts returns how carrier conversations ended.
func (c *Client) CarrierEndStateCounts(ctx context.Context, s Scope) ([]CategoryCount, error) {
	return c.categoryCounts(ctx, "carrier_end_state", PathCarrierEndState, s)
}

// CarrierQualificationCounts returns carrier qualification outcomes.
func (c *Client) CarrierQualificationCounts(ctx context.Context, s Scope) ([]CategoryCount, error) {
	return c.categoryCounts(ctx, "carrier_qualification", PathCarrierQualification, s)
}

// LoadNotFound returns calls whose load lookup failed over calls with any
// load status.
func (c *Client) LoadNotFound(ctx context.Context, s Scope) (*Ratio, error) {
	return c.ratio(ctx, "load_not_found", loadNotFound, s)
}

// NonConvertibleCalls returns non-convertible calls over every call reaching
// the broker node, classified or not.
func (c *Client) NonConvertibleCalls(ctx context.Context, s Scope) (*Ratio, error) {
	return c.ratio(ctx, "percent_non_convertible_calls", nonConvertibleOverAllCalls, s)
}

// CarrierAskedOverTransferAttempts returns carrier-requested transfers over
// all attempted transfers.
func (c *Client) CarrierAskedOverTransferAttempts(ctx context.Context, s Scope) (*Ratio, error) {
	return c.ratio(ctx, "carrier_asked_transfer_over_total_transfer_attempts", carrierAskedOverTransferAttempts, s)
}

// CarrierAskedOverCallAttempts returns carrier-requested transfers over all
// calls with a transfer reason.
func (c *Client) CarrierAskedOverCallAttempts(ctx context.Context, s Scope) (*Ratio, error) {
	return c.ratio(ctx, "carrier_asked_transfer_over_total_call_attempts", carrierAskedOverCallAttempts, s)
}

// TransferredForBooking returns calls transferred with an agreed rate.
func (c *Client) TransferredForBooking(ctx context.Context, s Scope) (*Ratio, error) {
	return c.ratio(ctx, "successfully_transferred_for_booking", transferredForBooking, s)
}

// NonConvertibleWithCNQ returns non-convertible calls over classified calls,
// counting carrier-not-qualified as non-convertible.
func (c *Client) NonConvertibleWithCNQ(ctx context.Context, s Scope) (*Ratio, error) {
	return c.ratio(ctx, "non_convertible_calls_with_carrier_not_qualified", nonConvertibleWithCNQ, s)
}

// NonConvertibleWithoutCNQ is NonConvertibleWithCNQ without the
// carrier-not-qualified classification.
func (c *Client) NonConvertibleWithoutCNQ(ctx context.Context, s Scope) (*Ratio, error) {
	return c.ratio(ctx, "non_convertible_calls_without_carrier_not_qualified", nonConvertibleWithoutCNQ, s)
}

// CarrierNotQualified returns calls classified as carrier-not-qualified.
func (c *Client) CarrierNotQualified(ctx context.Context, s Scope) (*Ratio, error) {
	return c.ratio(ctx, "carrier_not_qualified", carrierNotQualified, s)
}

// CallTotals returns the number of calls reaching the broker node and their
// summed session duration.
func (c *Client) CallTotals(ctx context.Context, s Scope) (*CallTotals, error) {
	rows, err := c.query(ctx, "total_calls_and_duration", buildCallTotalsQuery(len(c.excluded) > 0), c.args(s))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var totals CallTotals
	if rows.Next() {
		if err := rows.Scan(&totals.TotalCalls, &totals.TotalDurationSeconds); err != nil {
			return nil, fmt.Errorf("scan total_calls_and_duration: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read total_calls_and_duration: %w", err)
	}
	return &totals, nil
}

// UniqueLoads returns how many distinct loads callers asked about.
func (c *Client) UniqueLoads(ctx context.Context, s Scope) (*UniqueLoads, error) {
	rows, err := c.query(ctx, "number_of_unique_loads", buildUniqueLoadsQuery(len(c.excluded) > 0), c.args(s))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var u UniqueLoads
	if rows.Next() {
		if err := rows.Scan(&u.Loads, &u.Calls); err != nil {
			return nil, fmt.Errorf("scan number_of_unique_loads: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read number_of_unique_loads: %w", err)
	}
	return &u, nil
}

// UniqueLoadIDs returns the distinct load IDs in ascending order.
func (c *Client) UniqueLoadIDs(ctx context.Context, s Scope) ([]string, error) {
	rows, err := c.query(ctx, "list_of_unique_loads", buildUniqueLoadIDsQuery(len(c.excluded) > 0), c.args(s))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan list_of_unique_loads: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read list_of_unique_loads: %w", err)
	}
	return ids, nil
}

// DurationsWithoutTransferRequest groups calls where the carrier did not ask
// for a transfer by classification.
func (c *Client) DurationsWithoutTransferRequest(ctx context.Context, s Scope) ([]ClassificationDuration, error) {
	return c.classificationDurations(ctx, "calls_without_carrier_asked_for_transfer", false, s)
}

// DurationsWithTransferRequest groups calls where the carrier asked for a
// transfer by classification.
func (c *Client) DurationsWithTransferRequest(ctx context.Context, s Scope) ([]ClassificationDuration, error) {
	return c.classificationDurations(ctx, "duration_carrier_asked_for_transfer", true, s)
}

func (c *Client) classificationDurations(ctx context.Context, metric string, carrierAsked bool, s Scope) ([]ClassificationDuration, error) {
	rows, err := c.query(ctx, metric, buildClassificationDurationQuery(carrierAsked, len(c.excluded) > 0), c.args(s))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ClassificationDuration{}
	for rows.Next() {
		var d ClassificationDuration
		if err := rows.Scan(&d.Classification, &d.Calls, &d.DurationSeconds); err != nil {
			return nil, fmt.Errorf("scan %s: %w", metric, err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", metric, err)
	}
	return out, nil
}

func (c *Client) categoryCounts(ctx context.Context, metric, path string, s Scope) ([]CategoryCount, error) {
	rows, err := c.query(ctx, metric, buildCategoryQuery(len(c.excluded) > 0),
		c.args(s, clickhouse.Named("path", path)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := []CategoryCount{}
	for rows.Next() {
		var cc CategoryCount
		if err := rows.Scan(&cc.Category, &cc.Count); err != nil {
			return nil, fmt.Errorf("scan %s: %w", metric, err)
		}
		counts = append(counts, cc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", metric, err)
	}
	return counts, nil
}

func (c *Client) ratio(ctx context.Context, metric string, spec ratioSpec, s Scope) (*Ratio, error) {
	rows, err := c.query(ctx, metric, buildRatioQuery(spec, len(c.excluded) > 0), c.args(s))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("read %s: %w", metric, err)
		}
		return nil, nil
	}

	var r Ratio
	if err := rows.Scan(&r.Count, &r.Total); err != nil {
		return nil, fmt.Errorf("scan %s: %w", metric, err)
	}
	if r.Total == 0 {
		return nil, nil
	}
	return &r, nil
}
