package reports

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brokerwire/callstats/internal/db"
	"github.com/brokerwire/callstats/internal/metrics"
	"github.com/brokerwire/callstats/internal/models"
	"github.com/rs/zerolog"
)

var (
	// ErrOrganizationNotFound is returned for an unknown org_id.
	ErrOrganizationNotFound = errors.New("organization not found")
	// ErrInvalidDateRange is returned for malformed dates or reversed ranges.
	ErrInvalidDateRange = errors.New("invalid date range")
	// ErrGenerationFailed is returned once every assembly attempt has failed.
	ErrGenerationFailed = errors.New("report generation failed")
)

// ReportStore defines the report persistence the generator needs.
type ReportStore interface {
	GetReport(ctx context.Context, orgID, reportDate string) (*models.DailyReport, error)
	UpsertReport(ctx context.Context, report *models.DailyReport) (*models.DailyReport, error)
}

// PayloadAssembler builds the payload for one organization and date.
type PayloadAssembler interface {
	Assemble(ctx context.Context, org *models.Organization, date string) (*models.ReportPayload, error)
}

// Archiver keeps a copy of every stored report outside the report store.
type Archiver interface {
	Archive(ctx context.Context, report *models.DailyReport) error
}

// GeneratorConfig holds retry settings for the generator.
type GeneratorConfig struct {
	MaxAttempts int
	RetryDelay  time.Duration
}

// DefaultGeneratorConfig returns default generator configuration.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		MaxAttempts: 3,
		RetryDelay:  60 * time.Second,
	}
}

// GeneratorOption customizes a Generator.
type GeneratorOption func(*Generator)

// WithLocker replaces the default in-process locker.
func WithLocker(l Locker) GeneratorOption {
	return func(g *Generator) { g.locker = l }
}

// WithArchiver copies each newly stored report to a.
func WithArchiver(a Archiver) GeneratorOption {
	return func(g *Generator) { g.archiver = a }
}

// WithMetrics records generation metrics to m.
func WithMetrics(m *metrics.PrometheusMetrics) GeneratorOption {
	return func(g *Generator) { g.metrics = m }
}

// Generator produces and persists daily reports, at most one per
// organization and date.
type Generator struct {
	store     ReportStore
	assembler PayloadAssembler
	locker    Locker
	archiver  Archiver
	metrics   *metrics.PrometheusMetrics
	config    GeneratorConfig
	logger    zerolog.Logger
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewGenerator creates a new report generator.
func NewGenerator(store ReportStore, assembler PayloadAssembler, config GeneratorConfig, logger zerolog.Logger, opts ...GeneratorOption) *Generator {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	g := &Generator{
		store:     store,
		assembler: assembler,
		locker:    NewKeyedMutex(),
		config:    config,
		logger:    logger.With().Str("component", "report_generator").Logger(),
		now:       time.Now,
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// TargetDate resolves the report date for org. A nil target means yesterday
// in the organization's timezone. An explicit target must be a day that has
// already ended there.
func (g *Generator) TargetDate(org *models.Organization, target *string) (string, error) {
	loc, err := org.Location()
	if err != nil {
		return "", fmt.Errorf("load timezone %q: %w", org.Timezone, err)
	}
	if target != nil {
		if err := closedDay(*target, loc, g.now()); err != nil {
			return "", err
		}
		return *target, nil
	}
	return g.now().In(loc).AddDate(0, 0, -1).Format(models.DateLayout), nil
}

// closedDay checks that date is YYYY-MM-DD and falls before today in loc.
// Reports for the current day would be partial and never replaced.
func closedDay(date string, loc *time.Location, now time.Time) error {
	if _, err := time.ParseInLocation(models.DateLayout, date, loc); err != nil {
		return fmt.Errorf("%w: %q is not YYYY-MM-DD", ErrInvalidDateRange, date)
	}
	today := now.In(loc).Format(models.DateLayout)
	if date >= today {
		return fmt.Errorf("%w: %s has not ended in %s (today is %s)", ErrInvalidDateRange, date, loc, today)
	}
	return nil
}

// GenerateForOrg returns the report for org on target, generating and storing
// it when none exists. Assembly is attempted up to MaxAttempts times with
// RetryDelay between attempts; store errors are returned immediately.
func (g *Generator) GenerateForOrg(ctx context.Context, org *models.Organization, target *string) (*models.DailyReport, error) {
	if _, err := org.Location(); err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", org.Timezone, err)
	}
	date, err := g.TargetDate(org, target)
	if err != nil {
		return nil, err
	}

	logger := g.logger.With().
		Str("org_id", org.OrgID).
		Str("report_date", date).
		Logger()

	started := g.now()
	var lastErr error
	for attempt := 1; attempt <= g.config.MaxAttempts; attempt++ {
		report, existed, retryable, err := g.attempt(ctx, org, date, logger.With().Int("attempt", attempt).Logger())
		if err == nil {
			if existed {
				g.metrics.RecordGeneration(metrics.ResultExisting, 0)
			} else {
				g.metrics.RecordGeneration(metrics.ResultGenerated, g.now().Sub(started).Seconds())
			}
			return report, nil
		}
		if !retryable {
			return nil, err
		}

		lastErr = err
		if attempt == g.config.MaxAttempts {
			break
		}

		logger.Warn().Err(err).
			Int("attempt", attempt).
			Dur("retry_in", g.config.RetryDelay).
			Msg("report generation failed, retrying")

		if err := g.sleep(ctx, g.config.RetryDelay); err != nil {
			g.metrics.RecordGeneration(metrics.ResultFailed, g.now().Sub(started).Seconds())
			return nil, fmt.Errorf("wait to retry report %s/%s: %w", org.OrgID, date, err)
		}
	}

	g.metrics.RecordGeneration(metrics.ResultFailed, g.now().Sub(started).Seconds())
	logger.Error().Err(lastErr).
		Int("attempts", g.config.MaxAttempts).
		Msg("report generation failed after all attempts")
	return nil, fmt.Errorf("%w: %s on %s after %d attempts: %v",
		ErrGenerationFailed, org.OrgID, date, g.config.MaxAttempts, lastErr)
}

// attempt runs one locked check-assemble-store cycle. retryable is true only
// for assembly failures.
func (g *Generator) attempt(ctx context.Context, org *models.Organization, date string, logger zerolog.Logger) (report *models.DailyReport, existed, retryable bool, err error) {
	unlock, err := g.locker.Lock(ctx, LockKey(org.OrgID, date))
	if err != nil {
		return nil, false, false, fmt.Errorf("lock report %s/%s: %w", org.OrgID, date, err)
	}
	defer unlock()

	existing, err := g.store.GetReport(ctx, org.OrgID, date)
	if err == nil {
		logger.Info().Msg("report already exists, skipping")
		return existing, true, false, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, false, false, fmt.Errorf("get report %s/%s: %w", org.OrgID, date, err)
	}

	logger.Info().Msg("generating daily report")
	g.metrics.RecordAttempt()

	payload, err := g.assembler.Assemble(ctx, org, date)
	if err != nil {
		return nil, false, true, fmt.Errorf("assemble report: %w", err)
	}

	saved, err := g.store.UpsertReport(ctx, models.NewDailyReport(org.OrgID, date, payload))
	if err != nil {
		return nil, false, false, fmt.Errorf("save report %s/%s: %w", org.OrgID, date, err)
	}

	if g.archiver != nil {
		if err := g.archiver.Archive(ctx, saved); err != nil {
			g.metrics.RecordArchiveFailure()
			logger.Warn().Err(err).Msg("failed to archive report")
		}
	}

	logger.Info().Str("report_id", saved.ID.String()).Msg("daily report saved")
	return saved, false, false, nil
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
