package reports

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/brokerwire/callstats/internal/models"
)

// ReportDateLister lists the dates an organization already has reports for.
type ReportDateLister interface {
	ListReportDates(ctx context.Context, orgID string) ([]string, error)
}

// GapDetector finds completed days without a stored report.
type GapDetector struct {
	store ReportDateLister
	now   func() time.Time
}

// NewGapDetector creates a new gap detector.
func NewGapDetector(store ReportDateLister) *GapDetector {
	return &GapDetector{store: store, now: time.Now}
}

// MissingDates returns the dates in [today-lookbackDays, today-1] that have no
// report, ascending. Today is taken in the organization's timezone.
func (d *GapDetector) MissingDates(ctx context.Context, org *models.Organization, lookbackDays int) ([]string, error) {
	if lookbackDays <= 0 {
		return []string{}, nil
	}

	loc, err := org.Location()
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", org.Timezone, err)
	}

	existing, err := d.store.ListReportDates(ctx, org.OrgID)
	if err != nil {
		return nil, fmt.Errorf("list report dates for %s: %w", org.OrgID, err)
	}

	return missingDates(d.now().In(loc), lookbackDays, existing), nil
}

func missingDates(today time.Time, lookbackDays int, existing []string) []string {
	have := make(map[string]struct{}, len(existing))
	for _, date := range existing {
		have[date] = struct{}{}
	}

	missing := []string{}
	for i := 1; i <= lookbackDays; i++ {
		date := today.AddDate(0, 0, -i).Format(models.DateLayout)
		if _, ok := have[date]; !ok {
			missing = append(missing, date)
		}
	}
	sort.Strings(missing)
	return missing
}

// DatesBetween returns every date from start to end inclusive, ascending.
func DatesBetween(start, end string) ([]string, error) {
	s, err := time.Parse(models.DateLayout, start)
	if err != nil {
		return nil, fmt.Errorf("%w: start date %q is not YYYY-MM-DD", ErrInvalidDateRange, start)
	}
	e, err := time.Parse(models.DateLayout, end)
	if err != nil {
		return nil, fmt.Errorf("%w: end date %q is not YYYY-MM-DD", ErrInvalidDateRange, end)
	}
	if s.After(e) {
		return nil, fmt.Errorf("%w: start date %s is after end date %s", ErrInvalidDateRange, start, end)
	}

	var dates []string
	for d := s; !d.After(e); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d.Format(models.DateLayout))
	}
	return dates, nil
}
