package warehouse

import (
	"fmt"
	"strings"
)

// JSON keys inside public_node_outputs.flat_data.
const (
	PathCallStage            = "result.call.call_stage"
	PathCallClassification   = "result.call.call_classification"
	PathLoadStatus           = "result.load.load_status"
	PathTransferReason       = "result.transfer.transfer_reason"
	PathTransferAttempt      = "result.transfer.transfer_attempt"
	PathTransferSuccess      = "result.transfer.transfer_success"
	PathPricingNotes         = "result.pricing.pricing_notes"
	PathAgreedUponRate       = "result.pricing.agreed_upon_rate"
	PathCarrierEndState      = "result.carrier.carrier_end_state"
	PathCarrierQualification = "result.carrier.carrier_qualification"
	PathCustomLoadID         = "result.load.custom_load_id"
)

const (
	ReasonCarrierAskedForTransfer = "CARRIER_ASKED_FOR_TRANSFER"
	ReasonNoTransferInvolved      = "NO_TRANSFER_INVOLVED"
	ClassificationNotQualified    = "carrier_not_qualified"
	ClassificationRateTooHigh     = "rate_too_high"
	ClassificationSuccess         = "success"
	LoadStatusNotFound            = "NOT_FOUND"
)

// BookingPricingNotes are the pricing outcomes that count as an agreed rate.
var BookingPricingNotes = []string{
	"AGREEMENT_REACHED_WITH_NEGOTIATION",
	"AGREEMENT_REACHED_WITHOUT_NEGOTIATION",
}

// NonConvertibleClassifications are call classifications for calls that
// could never have turned into a booking.
var NonConvertibleClassifications = []string{
	"alternate_equipment",
	"caller_hung_up_no_explanation",
	"load_not_ready",
	"load_past_due",
	"covered",
	ClassificationNotQualified,
	"alternate_date_or_time",
	"user_declined_load",
	"checking_with_driver",
	"carrier_cannot_see_reference_number",
	"caller_put_on_hold_assistant_hung_up",
}

// nonConvertibleExcluding returns NonConvertibleClassifications without skip.
func nonConvertibleExcluding(skip string) []string {
	out := make([]string, 0, len(NonConvertibleClassifications))
	for _, c := range NonConvertibleClassifications {
		if c != skip {
			out = append(out, c)
		}
	}
	return out
}

// runsCTE selects the runs inside the scope window, minus excluded callers.
func runsCTE(excludeNumbers bool) string {
	filter := ""
	if excludeNumbers {
		filter = "\n\t\t\t  AND NOT has(@excluded, user_number)"
	}
	return `recent_runs AS (
			SELECT id AS run_id
			FROM public_runs
			WHERE timestamp >= parseDateTime64BestEffort(@start)
			  AND timestamp < parseDateTime64BestEffort(@end)` + filter + `
		)`
}

// nodeOutputs is the FROM clause shared by every metric over the broker
// node's extracted output.
const nodeOutputs = `FROM public_node_outputs AS no
			INNER JOIN recent_runs AS rr ON no.run_id = rr.run_id
			INNER JOIN public_nodes AS n ON no.node_id = n.id
			WHERE n.org_id = @org_id
			  AND no.node_persistent_id = @node_id`

func present(col string) string {
	return fmt.Sprintf("%s NOT IN ('', 'null')", col)
}

func stringList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = "'" + strings.ReplaceAll(v, "'", "''") + "'"
	}
	return "(" + strings.Join(quoted, ", ") + ")"
}

func buildCategoryQuery(excludeNumbers bool) string {
	return fmt.Sprintf(`
		WITH %s
		SELECT category, toInt64(count()) AS cnt
		FROM (
			SELECT JSONExtractString(no.flat_data, @path) AS category
			%s
		)
		WHERE %s
		GROUP BY category
		ORDER BY cnt DESC, category ASC`,
		runsCTE(excludeNumbers), nodeOutputs, present("category"))
}

// ratioSpec describes a matched-over-population count. columns are the
// extracted expressions; population and match are predicates over them.
type ratioSpec struct {
	columns    string
	population string
	match      string
}

func buildRatioQuery(spec ratioSpec, excludeNumbers bool) string {
	return fmt.Sprintf(`
		WITH %s
		SELECT toInt64(countIf(%s)) AS matched, toInt64(count()) AS total
		FROM (
			SELECT %s
			%s
		)
		WHERE %s`,
		runsCTE(excludeNumbers), spec.match, spec.columns, nodeOutputs, spec.population)
}

var (
	transferColumns = fmt.Sprintf(`JSONExtractString(no.flat_data, '%s') AS reason,
				upper(JSONExtractString(no.flat_data, '%s')) AS attempt`,
		PathTransferReason, PathTransferAttempt)

	carrierAskedOverTransferAttempts = ratioSpec{
		columns: transferColumns,
		population: fmt.Sprintf("%s AND upper(reason) != '%s' AND attempt = 'YES'",
			present("reason"), ReasonNoTransferInvolved),
		match: fmt.Sprintf("reason = '%s'", ReasonCarrierAskedForTransfer),
	}

	carrierAskedOverCallAttempts = ratioSpec{
		columns:    transferColumns,
		population: present("reason"),
		match:      fmt.Sprintf("reason = '%s'", ReasonCarrierAskedForTransfer),
	}

	transferredForBooking = ratioSpec{
		columns: fmt.Sprintf(`JSONHas(no.flat_data, '%[1]s') AND JSONHas(no.flat_data, '%[2]s')
				AND JSONHas(no.flat_data, '%[3]s') AND JSONHas(no.flat_data, '%[4]s') AS has_all,
				upper(JSONExtractString(no.flat_data, '%[1]s')) AS attempt,
				upper(JSONExtractString(no.flat_data, '%[2]s')) AS success,
				JSONExtractString(no.flat_data, '%[3]s') AS rate,
				JSONExtractString(no.flat_data, '%[4]s') AS notes`,
			PathTransferAttempt, PathTransferSuccess, PathAgreedUponRate, PathPricingNotes),
		population: "has_all",
		match: fmt.Sprintf("attempt = 'YES' AND success = 'YES' AND %s AND notes IN %s",
			present("rate"), stringList(BookingPricingNotes)),
	}

	classificationColumns = fmt.Sprintf(`JSONExtractString(no.flat_data, '%s') AS classification`,
		PathCallClassification)

	nonConvertibleWithCNQ = ratioSpec{
		columns:    classificationColumns,
		population: present("classification"),
		match:      "classification IN " + stringList(NonConvertibleClassifications),
	}

	nonConvertibleWithoutCNQ = ratioSpec{
		columns:    classificationColumns,
		population: present("classification"),
		match:      "classification IN " + stringList(nonConvertibleExcluding(ClassificationNotQualified)),
	}

	// nonConvertibleOverAllCalls counts unclassified calls in the
	// population, as the legacy dashboard figure did.
	nonConvertibleOverAllCalls = ratioSpec{
		columns:    classificationColumns,
		population: "1",
		match:      "classification IN " + stringList(NonConvertibleClassifications),
	}

	loadNotFound = ratioSpec{
		columns:    fmt.Sprintf(`upper(JSONExtractString(no.flat_data, '%s')) AS status`, PathLoadStatus),
		population: present("status"),
		match:      fmt.Sprintf("status = '%s'", LoadStatusNotFound),
	}

	carrierNotQualified = ratioSpec{
		columns:    classificationColumns,
		population: present("classification"),
		match:      fmt.Sprintf("classification = '%s'", ClassificationNotQualified),
	}
)

// buildCallTotalsQuery counts distinct runs that reached the broker node and
// sums their session durations.
func buildCallTotalsQuery(excludeNumbers bool) string {
	return fmt.Sprintf(`
		WITH %s,
		broker_runs AS (
			SELECT DISTINCT no.run_id AS run_id
			%s
		)
		SELECT toInt64(count()) AS total_calls,
		       toInt64(round(ifNull(sum(duration), 0))) AS total_duration
		FROM (
			SELECT br.run_id, any(s.duration) AS duration
			FROM broker_runs AS br
			INNER JOIN public_sessions AS s ON s.run_id = br.run_id
			WHERE s.org_id = @org_id%s
			GROUP BY br.run_id
		)`,
		runsCTE(excludeNumbers), nodeOutputs, sessionFilter(excludeNumbers))
}

func sessionFilter(excludeNumbers bool) string {
	if excludeNumbers {
		return "\n\t\t\t  AND NOT has(@excluded, s.user_number)"
	}
	return ""
}

// buildClassificationDurationQuery groups broker-node runs by call
// classification, counting runs and summing session duration. carrierAsked
// selects runs whose transfer reason is or is not a carrier request.
func buildClassificationDurationQuery(carrierAsked, excludeNumbers bool) string {
	op := "!="
	if carrierAsked {
		op = "="
	}
	return fmt.Sprintf(`
		WITH %s,
		broker_runs AS (
			SELECT no.run_id AS run_id,
			       any(JSONExtractString(no.flat_data, '%s')) AS classification
			%s
			  AND upper(JSONExtractString(no.flat_data, '%s')) %s '%s'
			GROUP BY no.run_id
		)
		SELECT classification, toInt64(count()) AS calls,
		       toInt64(round(ifNull(sum(duration), 0))) AS duration
		FROM (
			SELECT br.run_id, any(br.classification) AS classification, any(s.duration) AS duration
			FROM broker_runs AS br
			INNER JOIN public_sessions AS s ON s.run_id = br.run_id
			WHERE s.org_id = @org_id%s
			GROUP BY br.run_id
		)
		GROUP BY classification
		ORDER BY calls DESC, classification ASC`,
		runsCTE(excludeNumbers), PathCallClassification, nodeOutputs,
		PathTransferReason, op, ReasonCarrierAskedForTransfer, sessionFilter(excludeNumbers))
}

// buildUniqueLoadsQuery counts distinct load IDs against calls carrying any
// load ID.
func buildUniqueLoadsQuery(excludeNumbers bool) string {
	return fmt.Sprintf(`
		WITH %s
		SELECT toInt64(uniqExact(load_id)) AS loads, toInt64(count()) AS calls
		FROM (
			SELECT JSONExtractString(no.flat_data, '%s') AS load_id
			%s
		)
		WHERE %s`,
		runsCTE(excludeNumbers), PathCustomLoadID, nodeOutputs, present("load_id"))
}

func buildUniqueLoadIDsQuery(excludeNumbers bool) string {
	return fmt.Sprintf(`
		WITH %s
		SELECT DISTINCT load_id
		FROM (
			SELECT JSONExtractString(no.flat_data, '%s') AS load_id
			%s
		)
		WHERE %s
		ORDER BY load_id`,
		runsCTE(excludeNumbers), PathCustomLoadID, nodeOutputs, present("load_id"))
}
