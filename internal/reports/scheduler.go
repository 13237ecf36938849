package reports

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/brokerwire/callstats/internal/db"
	"github.com/brokerwire/callstats/internal/metrics"
	"github.com/brokerwire/callstats/internal/models"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	recentRunsInStatus = 5
	recentRunsInHealth = 3
	// healthFailureThreshold is how many of the last recentRunsInHealth runs
	// may end in error before the scheduler reports itself unhealthy.
	healthFailureThreshold = 2
)

// SchedulerStore defines the interface for scheduler persistence.
type SchedulerStore interface {
	ReportDateLister

	ListOrganizations(ctx context.Context, activeOnly bool) ([]*models.Organization, error)
	GetOrganization(ctx context.Context, orgID string) (*models.Organization, error)
	AppendRunLog(ctx context.Context, run *models.SchedulerRun) error
	GetLastSuccessfulRun(ctx context.Context) (*models.SchedulerRun, error)
	GetRecentRuns(ctx context.Context, limit int) ([]*models.SchedulerRun, error)
	GetReportStats(ctx context.Context) (*models.ReportStats, error)
}

// ReportGenerator generates one report.
type ReportGenerator interface {
	GenerateForOrg(ctx context.Context, org *models.Organization, target *string) (*models.DailyReport, error)
}

// SchedulerConfig holds configuration for the report scheduler.
type SchedulerConfig struct {
	Enabled     bool
	Hour        int
	Minute      int
	Timezone    string
	CatchupDays int
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Enabled:     true,
		Hour:        6,
		Minute:      0,
		Timezone:    "America/Los_Angeles",
		CatchupDays: 7,
	}
}

// CronSpec returns the six-field cron expression for the daily run.
func (c SchedulerConfig) CronSpec() string {
	return fmt.Sprintf("CRON_TZ=%s 0 %d %d * * *", c.Timezone, c.Minute, c.Hour)
}

// Scheduler runs daily report generation on a cron schedule and exposes the
// manual entry points. All batches share one worker, so generation within a
// process is sequential.
type Scheduler struct {
	store     SchedulerStore
	generator ReportGenerator
	gaps      *GapDetector
	config    SchedulerConfig
	cron      *cron.Cron
	metrics   *metrics.PrometheusMetrics
	logger    zerolog.Logger
	now       func() time.Time

	mu          sync.RWMutex
	running     bool
	entryID     cron.EntryID
	cancel      context.CancelFunc
	catchupDone chan struct{}

	worker sync.Mutex
}

// NewScheduler creates a new report scheduler. m may be nil.
func NewScheduler(store SchedulerStore, generator ReportGenerator, config SchedulerConfig, m *metrics.PrometheusMetrics, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		store:     store,
		generator: generator,
		gaps:      NewGapDetector(store),
		config:    config,
		cron:      cron.New(cron.WithSeconds()),
		metrics:   m,
		logger:    logger.With().Str("component", "report_scheduler").Logger(),
		now:       time.Now,
	}
}

// Start registers the daily job and launches the startup catch-up in the
// background. It is a no-op when already running or disabled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if !s.config.Enabled {
		s.logger.Info().Msg("report scheduler disabled")
		return nil
	}

	if _, err := time.LoadLocation(s.config.Timezone); err != nil {
		return fmt.Errorf("load scheduler timezone %q: %w", s.config.Timezone, err)
	}

	runCtx, cancel := context.WithCancel(ctx)

	cronLogger := s.logger.With().Str("source", "cron").Logger()
	job := cron.NewChain(cron.SkipIfStillRunning(cron.PrintfLogger(&cronLogger))).
		Then(cron.FuncJob(func() { s.dailyJob(runCtx) }))

	entryID, err := s.cron.AddJob(s.config.CronSpec(), job)
	if err != nil {
		cancel()
		return fmt.Errorf("schedule daily reports: %w", err)
	}

	s.entryID = entryID
	s.cancel = cancel
	s.running = true
	s.catchupDone = make(chan struct{})
	s.cron.Start()

	s.logger.Info().
		Str("cron", s.config.CronSpec()).
		Int("catchup_days", s.config.CatchupDays).
		Msg("report scheduler started")

	go func(done chan struct{}) {
		defer close(done)
		if _, err := s.RunCatchup(runCtx); err != nil {
			s.logger.Error().Err(err).Msg("startup catch-up failed")
		}
	}(s.catchupDone)

	return nil
}

// Stop stops the scheduler and cancels in-flight retry waits. The returned
// context is done once running cron jobs and the startup catch-up have
// returned.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}

	s.running = false
	s.logger.Info().Msg("stopping report scheduler")
	s.cancel()
	s.cron.Remove(s.entryID)
	cronDone := s.cron.Stop()
	catchupDone := s.catchupDone

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-cronDone.Done()
		<-catchupDone
		cancel()
	}()
	return ctx
}

// Running reports whether the scheduler has been started.
func (s *Scheduler) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) dailyJob(ctx context.Context) {
	if _, err := s.RunDaily(ctx); err != nil {
		s.logger.Error().Err(err).Msg("daily report run failed")
	}
}

// BatchResult summarizes a daily or catch-up run.
type BatchResult struct {
	RunKind   models.RunKind   `json:"run_type"`
	Status    models.RunStatus `json:"status"`
	Generated int              `json:"reports_generated"`
	Failed    int              `json:"failed"`
	Logged    bool             `json:"logged"`
}

// RunDaily generates yesterday's report for every active organization.
func (s *Scheduler) RunDaily(ctx context.Context) (*BatchResult, error) {
	s.worker.Lock()
	defer s.worker.Unlock()

	started := s.now()
	result := &BatchResult{RunKind: models.RunKindDaily}
	logger := s.logger.With().Str("run_kind", string(models.RunKindDaily)).Logger()

	orgs, err := s.store.ListOrganizations(ctx, true)
	if err != nil {
		result.Status = models.RunStatusError
		result.Logged = true
		s.logRun(ctx, models.RunKindDaily, models.RunStatusError, started, 0, err.Error())
		return result, fmt.Errorf("list organizations: %w", err)
	}

	logger.Info().Int("organizations", len(orgs)).Msg("starting daily report run")

	var failedOrgs []string
	for _, org := range orgs {
		if ctx.Err() != nil {
			failedOrgs = append(failedOrgs, org.OrgID)
			continue
		}
		if _, err := s.generator.GenerateForOrg(ctx, org, nil); err != nil {
			logger.Error().Err(err).Str("org_id", org.OrgID).Msg("failed to generate daily report")
			failedOrgs = append(failedOrgs, org.OrgID)
			continue
		}
		result.Generated++
	}

	result.Failed = len(failedOrgs)
	result.Status = batchStatus(result.Failed)
	result.Logged = true
	s.logRun(ctx, models.RunKindDaily, result.Status, started, result.Generated, failureMessage(failedOrgs))

	logger.Info().
		Int("generated", result.Generated).
		Int("failed", result.Failed).
		Msg("daily report run completed")
	return result, nil
}

// RunCatchup generates every missing day within CatchupDays for every
// active organization. A run entry is only logged when something was
// generated or listing organizations failed.
func (s *Scheduler) RunCatchup(ctx context.Context) (*BatchResult, error) {
	s.worker.Lock()
	defer s.worker.Unlock()

	started := s.now()
	result := &BatchResult{RunKind: models.RunKindCatchup}
	logger := s.logger.With().Str("run_kind", string(models.RunKindCatchup)).Logger()

	orgs, err := s.store.ListOrganizations(ctx, true)
	if err != nil {
		result.Status = models.RunStatusError
		result.Logged = true
		s.logRun(ctx, models.RunKindCatchup, models.RunStatusError, started, 0, err.Error())
		return result, fmt.Errorf("list organizations: %w", err)
	}

	var failures []string
	for _, org := range orgs {
		missing, err := s.gaps.MissingDates(ctx, org, s.config.CatchupDays)
		if err != nil {
			logger.Error().Err(err).Str("org_id", org.OrgID).Msg("failed to detect missing reports")
			failures = append(failures, org.OrgID)
			continue
		}
		if len(missing) > 0 {
			logger.Info().Str("org_id", org.OrgID).Strs("dates", missing).Msg("catching up missing reports")
		}

		for _, date := range missing {
			if ctx.Err() != nil {
				failures = append(failures, org.OrgID+"/"+date)
				continue
			}
			if _, err := s.generator.GenerateForOrg(ctx, org, &date); err != nil {
				logger.Error().Err(err).
					Str("org_id", org.OrgID).
					Str("report_date", date).
					Msg("failed to generate catch-up report")
				failures = append(failures, org.OrgID+"/"+date)
				continue
			}
			result.Generated++
		}
	}

	result.Failed = len(failures)
	result.Status = batchStatus(result.Failed)
	if result.Generated > 0 {
		result.Logged = true
		s.logRun(ctx, models.RunKindCatchup, result.Status, started, result.Generated, failureMessage(failures))
	}

	logger.Info().
		Int("generated", result.Generated).
		Int("failed", result.Failed).
		Msg("catch-up completed")
	return result, nil
}

// TriggerResult is the outcome of a manual single-organization run.
type TriggerResult struct {
	OrgID      string              `json:"org_id"`
	OrgName    string              `json:"org_name"`
	ReportDate string              `json:"report_date"`
	Success    bool                `json:"success"`
	Error      string              `json:"error,omitempty"`
	Report     *models.DailyReport `json:"report,omitempty"`
}

// TriggerSingle generates one organization's report for date, or yesterday
// when date is nil. Generation failures are reported in the result.
func (s *Scheduler) TriggerSingle(ctx context.Context, orgID string, date *string) (*TriggerResult, error) {
	org, err := s.lookupOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if date != nil {
		if err := s.checkClosedDay(org, *date); err != nil {
			return nil, err
		}
	}

	s.worker.Lock()
	defer s.worker.Unlock()

	started := s.now()
	result := &TriggerResult{OrgID: org.OrgID, OrgName: org.Name}

	report, err := s.generator.GenerateForOrg(ctx, org, date)
	if err != nil {
		result.Error = err.Error()
		s.logRun(ctx, models.RunKindManualSingle, models.RunStatusError, started, 0, err.Error())
		s.logger.Error().Err(err).Str("org_id", org.OrgID).Msg("manual report generation failed")
		if date != nil {
			result.ReportDate = *date
		}
		return result, nil
	}

	result.Success = true
	result.ReportDate = report.ReportDate
	result.Report = report
	s.logRun(ctx, models.RunKindManualSingle, models.RunStatusSuccess, started, 1, "")
	return result, nil
}

// OrgResult is one organization's outcome within a manual-all run.
type OrgResult struct {
	OrgID   string `json:"org_id"`
	OrgName string `json:"org_name"`
	Success bool   `json:"success"`
}

// TriggerAllResult is the outcome of a manual run over all organizations.
type TriggerAllResult struct {
	Status    models.RunStatus `json:"status"`
	Generated int              `json:"reports_generated"`
	Failed    int              `json:"failed"`
	Results   []OrgResult      `json:"results"`
}

// TriggerAll generates date, or yesterday, for every active organization.
// An explicit date that has not ended in an organization's timezone fails
// for that organization only.
func (s *Scheduler) TriggerAll(ctx context.Context, date *string) (*TriggerAllResult, error) {
	if err := validateDate(date); err != nil {
		return nil, err
	}

	s.worker.Lock()
	defer s.worker.Unlock()

	started := s.now()
	orgs, err := s.store.ListOrganizations(ctx, true)
	if err != nil {
		s.logRun(ctx, models.RunKindManualAll, models.RunStatusError, started, 0, err.Error())
		return nil, fmt.Errorf("list organizations: %w", err)
	}

	result := &TriggerAllResult{Results: make([]OrgResult, 0, len(orgs))}
	var failedOrgs []string
	for _, org := range orgs {
		_, err := s.generator.GenerateForOrg(ctx, org, date)
		if err != nil {
			s.logger.Error().Err(err).Str("org_id", org.OrgID).Msg("manual report generation failed")
			failedOrgs = append(failedOrgs, org.OrgID)
		} else {
			result.Generated++
		}
		result.Results = append(result.Results, OrgResult{OrgID: org.OrgID, OrgName: org.Name, Success: err == nil})
	}

	result.Failed = len(failedOrgs)
	result.Status = batchStatus(result.Failed)
	s.logRun(ctx, models.RunKindManualAll, result.Status, started, result.Generated, failureMessage(failedOrgs))
	return result, nil
}

// DateResult is one day's outcome within a backfill.
type DateResult struct {
	Date    string `json:"date"`
	Success bool   `json:"success"`
}

// BackfillResult is the outcome of a backfill.
type BackfillResult struct {
	OrgID      string       `json:"org_id"`
	StartDate  string       `json:"start_date"`
	EndDate    string       `json:"end_date"`
	TotalDays  int          `json:"total_days"`
	Successful int          `json:"successful"`
	Failed     int          `json:"failed"`
	Results    []DateResult `json:"results"`
}

// MaxBackfillDays bounds a single backfill request.
const MaxBackfillDays = 366

// Backfill generates every date from start to end inclusive for one
// organization. Dates that already have a report are returned unchanged.
// end must be before today in the organization's timezone.
func (s *Scheduler) Backfill(ctx context.Context, orgID, start, end string) (*BackfillResult, error) {
	org, err := s.lookupOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	dates, err := DatesBetween(start, end)
	if err != nil {
		return nil, err
	}
	if len(dates) > MaxBackfillDays {
		return nil, fmt.Errorf("%w: %d days exceeds the limit of %d", ErrInvalidDateRange, len(dates), MaxBackfillDays)
	}
	if err := s.checkClosedDay(org, end); err != nil {
		return nil, err
	}

	s.worker.Lock()
	defer s.worker.Unlock()

	started := s.now()
	result := &BackfillResult{
		OrgID:     org.OrgID,
		StartDate: start,
		EndDate:   end,
		TotalDays: len(dates),
		Results:   make([]DateResult, 0, len(dates)),
	}

	var failedDates []string
	for _, date := range dates {
		_, err := s.generator.GenerateForOrg(ctx, org, &date)
		if err != nil {
			s.logger.Error().Err(err).
				Str("org_id", org.OrgID).
				Str("report_date", date).
				Msg("backfill report generation failed")
			failedDates = append(failedDates, date)
		} else {
			result.Successful++
		}
		result.Results = append(result.Results, DateResult{Date: date, Success: err == nil})
	}

	result.Failed = len(failedDates)
	s.logRun(ctx, models.RunKindBackfill, batchStatus(result.Failed), started, result.Successful, failureMessage(failedDates))
	return result, nil
}

// Status is the scheduler's externally visible state.
type Status struct {
	Enabled           bool                   `json:"enabled"`
	Running           bool                   `json:"running"`
	ScheduledTime     string                 `json:"scheduled_time"`
	Timezone          string                 `json:"timezone"`
	NextRun           *time.Time             `json:"next_run"`
	Jobs              []JobInfo              `json:"jobs"`
	CatchupDays       int                    `json:"catchup_days"`
	LastSuccessfulRun *models.SchedulerRun   `json:"last_successful_run"`
	RecentRuns        []*models.SchedulerRun `json:"recent_runs"`
}

// JobInfo describes one registered cron job.
type JobInfo struct {
	ID      string     `json:"id"`
	Name    string     `json:"name"`
	NextRun *time.Time `json:"next_run"`
}

// Status reports configuration, the next run and recent run history.
func (s *Scheduler) Status(ctx context.Context) (*Status, error) {
	s.mu.RLock()
	running := s.running
	entryID := s.entryID
	s.mu.RUnlock()

	status := &Status{
		Enabled:       s.config.Enabled,
		Running:       running,
		ScheduledTime: fmt.Sprintf("%02d:%02d", s.config.Hour, s.config.Minute),
		Timezone:      s.config.Timezone,
		Jobs:          []JobInfo{},
		CatchupDays:   s.config.CatchupDays,
	}

	if running {
		entry := s.cron.Entry(entryID)
		if entry.Valid() && !entry.Next.IsZero() {
			next := entry.Next
			status.NextRun = &next
			status.Jobs = append(status.Jobs, JobInfo{ID: "daily_report_generation", Name: "Daily Report Generation", NextRun: &next})
		}
	}

	last, err := s.store.GetLastSuccessfulRun(ctx)
	switch {
	case err == nil:
		status.LastSuccessfulRun = last
	case !errors.Is(err, db.ErrNotFound):
		return nil, fmt.Errorf("get last successful run: %w", err)
	}

	runs, err := s.store.GetRecentRuns(ctx, recentRunsInStatus)
	if err != nil {
		return nil, fmt.Errorf("get recent runs: %w", err)
	}
	if runs == nil {
		runs = []*models.SchedulerRun{}
	}
	status.RecentRuns = runs
	return status, nil
}

// Health is Status plus an overall verdict and store statistics.
type Health struct {
	Healthy   bool                `json:"healthy"`
	Issues    []string            `json:"issues"`
	Scheduler *Status             `json:"scheduler"`
	Database  *models.ReportStats `json:"database"`
}

// Health reports whether the scheduler is running as configured and
// whether recent runs have been failing.
func (s *Scheduler) Health(ctx context.Context) (*Health, error) {
	status, err := s.Status(ctx)
	if err != nil {
		return nil, err
	}
	stats, err := s.store.GetReportStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("get report stats: %w", err)
	}

	health := &Health{Healthy: true, Issues: []string{}, Scheduler: status, Database: stats}

	if status.Enabled && !status.Running {
		health.Healthy = false
		health.Issues = append(health.Issues, "scheduler enabled but not running")
	}

	recent := status.RecentRuns
	if len(recent) > recentRunsInHealth {
		recent = recent[:recentRunsInHealth]
	}
	failures := 0
	for _, run := range recent {
		if run.Status == models.RunStatusError {
			failures++
		}
	}
	if failures >= healthFailureThreshold {
		health.Healthy = false
		health.Issues = append(health.Issues, fmt.Sprintf("%d recent scheduler failures", failures))
	}

	return health, nil
}

func (s *Scheduler) lookupOrganization(ctx context.Context, orgID string) (*models.Organization, error) {
	org, err := s.store.GetOrganization(ctx, orgID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrOrganizationNotFound, orgID)
	}
	if err != nil {
		return nil, fmt.Errorf("get organization %s: %w", orgID, err)
	}
	return org, nil
}

func (s *Scheduler) checkClosedDay(org *models.Organization, date string) error {
	loc, err := org.Location()
	if err != nil {
		return fmt.Errorf("load timezone %q: %w", org.Timezone, err)
	}
	return closedDay(date, loc, s.now())
}

// logRun appends a run log entry. Failures are logged, never returned.
func (s *Scheduler) logRun(ctx context.Context, kind models.RunKind, status models.RunStatus, started time.Time, generated int, errMsg string) {
	run := models.NewSchedulerRun(kind, status, started, generated, errMsg)
	run.CompletedAt = s.now().UTC()
	// Record the run even when shutdown cancelled the batch.
	if err := s.store.AppendRunLog(context.WithoutCancel(ctx), run); err != nil {
		s.logger.Error().Err(err).Str("run_kind", string(kind)).Msg("failed to append scheduler run")
	}
	s.metrics.RecordSchedulerRun(string(kind), string(status))
}

func validateDate(date *string) error {
	if date == nil {
		return nil
	}
	if _, err := time.Parse(models.DateLayout, *date); err != nil {
		return fmt.Errorf("%w: %q is not YYYY-MM-DD", ErrInvalidDateRange, *date)
	}
	return nil
}

func batchStatus(failed int) models.RunStatus {
	if failed == 0 {
		return models.RunStatusSuccess
	}
	return models.RunStatusPartial
}

func failureMessage(failed []string) string {
	if len(failed) == 0 {
		return ""
	}
	return fmt.Sprintf("%d failed: %s", len(failed), strings.Join(failed, ", "))
}
