// Package scheduler drives the periodic jobs: real-time gap collection,
// coverage analysis, the daily backfill report, metrics retention and a job
// health check. Failed runs are retried with capped exponential backoff; a
// job that exhausts its retries is quarantined until the next scheduled fire.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"gridscan/internal/clock"
	"gridscan/internal/collector"
	"gridscan/internal/config"
	"gridscan/internal/models"
	"gridscan/internal/telemetry"

	"github.com/robfig/cron"
)

// Job names, also the job_id values in the persistent registry.
const (
	JobRealTimeCollection    = "real_time_collection"
	JobGapAnalysis           = "gap_analysis"
	JobDailyBackfillAnalysis = "daily_backfill_analysis"
	JobMetricsRetention      = "metrics_retention"
	JobHealthCheck           = "health_check"
)

// ConfigurationError reports an unusable scheduler setup, including a failed
// database preflight.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("scheduler configuration: %s: %s", e.Field, e.Reason)
}

// CollectionRunner is the real-time engine surface the scheduler drives.
type CollectionRunner interface {
	CollectAllGaps(ctx context.Context) ([]models.CollectionResult, error)
}

// CoverageAnalyzer is the backfill engine surface used by the analysis jobs.
type CoverageAnalyzer interface {
	AnalyzeCoverage(ctx context.Context, areas []string, endpoints []collector.Endpoint, yearsBack int) ([]models.CoverageAnalysis, error)
	ListResumableBackfills(ctx context.Context) ([]models.BackfillProgress, error)
}

// MetricsJanitor deletes collection metrics past their retention window.
type MetricsJanitor interface {
	CleanupOldMetrics(ctx context.Context) (int64, error)
}

// Pinger is the database preflight.
type Pinger interface {
	Ping(ctx context.Context) error
}

// JobStore persists job registry rows. Optional.
type JobStore interface {
	UpsertSchedulerJob(ctx context.Context, s *models.SchedulerJobState) error
	GetSchedulerJobs(ctx context.Context) ([]models.SchedulerJobState, error)
}

type jobState struct {
	name         string
	enabled      bool
	failureCount int
	lastSuccess  *time.Time
	retryTimer   *time.Timer
}

type Scheduler struct {
	cfg       config.SchedulerConfig
	collector CollectionRunner
	analyzer  CoverageAnalyzer
	janitor   MetricsJanitor
	db        Pinger
	jobStore  JobStore
	clock     clock.Clock

	cron *cron.Cron
	rng  *rand.Rand

	mu      sync.Mutex
	running bool
	jobs    map[string]*jobState
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(cfg config.SchedulerConfig, col CollectionRunner, analyzer CoverageAnalyzer, janitor MetricsJanitor, db Pinger, jobStore JobStore, c clock.Clock) *Scheduler {
	if c == nil {
		c = clock.UTC{}
	}
	return &Scheduler{
		cfg:       cfg,
		collector: col,
		analyzer:  analyzer,
		janitor:   janitor,
		db:        db,
		jobStore:  jobStore,
		clock:     c,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		jobs:      make(map[string]*jobState),
	}
}

// Start registers the jobs and begins dispatching. Idempotent: a second call
// while running logs and returns nil.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		log.Printf("[scheduler] already running, ignoring start")
		return nil
	}
	s.mu.Unlock()

	if err := s.db.Ping(ctx); err != nil {
		return &ConfigurationError{Field: "database_connection", Reason: err.Error()}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cron = cron.New()

	specs := []struct {
		name string
		spec string
		fn   func(context.Context) error
	}{
		{JobRealTimeCollection, fmt.Sprintf("@every %dm", s.cfg.RealTimeCollectionIntervalMinutes), s.runRealTimeCollection},
		{JobGapAnalysis, fmt.Sprintf("@every %dh", s.cfg.GapAnalysisIntervalHours), s.runGapAnalysis},
		{JobDailyBackfillAnalysis, fmt.Sprintf("0 %d %d * * *", s.cfg.DailyBackfillAnalysisMinute, s.cfg.DailyBackfillAnalysisHour), s.runDailyBackfillAnalysis},
		{JobMetricsRetention, "@every 24h", s.runMetricsRetention},
		{JobHealthCheck, fmt.Sprintf("@every %dm", s.cfg.JobHealthCheckIntervalMinutes), s.runHealthCheck},
	}
	for _, j := range specs {
		j := j
		s.jobs[j.name] = &jobState{name: j.name, enabled: true}
		if err := s.cron.AddJob(j.spec, namedJob{name: j.name, run: func() { s.runJob(j.name, j.fn) }}); err != nil {
			return &ConfigurationError{Field: j.name, Reason: fmt.Sprintf("bad schedule %q: %v", j.spec, err)}
		}
	}

	if s.cfg.UsePersistentJobStore && s.jobStore != nil {
		s.restoreJobStates(ctx)
	}

	s.cron.Start()
	s.running = true
	log.Printf("[scheduler] started %d jobs", len(s.jobs))
	return nil
}

// Stop halts dispatch, cancels pending retries and waits for in-flight runs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cron.Stop()
	s.cancel()
	for _, js := range s.jobs {
		if js.retryTimer != nil {
			js.retryTimer.Stop()
			js.retryTimer = nil
		}
	}
	s.mu.Unlock()

	s.wg.Wait()
	log.Printf("[scheduler] stopped")
}

// Running reports whether the scheduler is dispatching.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// namedJob labels a cron entry so its next fire time can be matched back to
// the registry. cron's Entries() reorders entries while running, so the name
// travels with the job.
type namedJob struct {
	name string
	run  func()
}

func (j namedJob) Run() { j.run() }

// nextRunTimes maps job names to their next scheduled fire. Entries that have
// not fired yet report the schedule's projection from now.
func nextRunTimes(c *cron.Cron) map[string]time.Time {
	out := make(map[string]time.Time)
	if c == nil {
		return out
	}
	now := time.Now()
	for _, e := range c.Entries() {
		nj, ok := e.Job.(namedJob)
		if !ok {
			continue
		}
		next := e.Next
		if next.IsZero() {
			next = e.Schedule.Next(now)
		}
		out[nj.name] = next
	}
	return out
}

// State snapshots the job registry for the ops API.
func (s *Scheduler) State() []models.SchedulerJobState {
	s.mu.Lock()
	c := s.cron
	s.mu.Unlock()
	next := nextRunTimes(c)

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.SchedulerJobState, 0, len(s.jobs))
	for _, name := range []string{JobRealTimeCollection, JobGapAnalysis, JobDailyBackfillAnalysis, JobMetricsRetention, JobHealthCheck} {
		js, ok := s.jobs[name]
		if !ok {
			continue
		}
		st := models.SchedulerJobState{
			JobID:             js.name,
			Enabled:           js.enabled,
			FailureCount:      js.failureCount,
			LastSuccessfulRun: js.lastSuccess,
		}
		if t, ok := next[name]; ok {
			t := t
			st.NextRunTime = &t
		}
		out = append(out, st)
	}
	return out
}

func (s *Scheduler) runJob(name string, fn func(context.Context) error) {
	s.mu.Lock()
	js, ok := s.jobs[name]
	if !ok || !s.running {
		s.mu.Unlock()
		return
	}
	// A scheduled fire lifts quarantine: the job runs again at its regular
	// cadence and only backoff retries stay suppressed. The failure streak
	// survives until a success, so the health check keeps reporting it.
	js.enabled = true
	ctx := s.ctx
	s.mu.Unlock()

	s.execute(ctx, name, fn)
}

func (s *Scheduler) execute(ctx context.Context, name string, fn func(context.Context) error) {
	s.wg.Add(1)
	defer s.wg.Done()

	err := fn(ctx)
	if err == nil {
		s.recordSuccess(ctx, name)
		return
	}
	if ctx.Err() != nil {
		return
	}
	log.Printf("[scheduler] job %s failed: %v", name, err)
	s.recordFailure(ctx, name, fn)
}

func (s *Scheduler) recordSuccess(ctx context.Context, name string) {
	s.mu.Lock()
	js := s.jobs[name]
	js.failureCount = 0
	now := s.clock.Now()
	js.lastSuccess = &now
	s.mu.Unlock()

	telemetry.SchedulerJobRunsTotal.WithLabelValues(name, "success").Inc()
	s.persistJob(ctx, name)
}

func (s *Scheduler) recordFailure(ctx context.Context, name string, fn func(context.Context) error) {
	s.mu.Lock()
	js := s.jobs[name]
	js.failureCount++
	fc := js.failureCount

	if fc >= s.cfg.MaxRetryAttempts {
		js.enabled = false
		s.mu.Unlock()
		telemetry.SchedulerJobRunsTotal.WithLabelValues(name, "quarantined").Inc()
		log.Printf("[scheduler] job %s quarantined after %d failures, waiting for next scheduled run", name, fc)
		s.persistJob(ctx, name)
		return
	}

	delay := backoffDelay(fc, s.cfg.RetryBackoffBaseSeconds, s.cfg.RetryBackoffMaxSeconds, s.rng)
	js.retryTimer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		running := s.running
		rctx := s.ctx
		s.mu.Unlock()
		if !running {
			return
		}
		s.execute(rctx, name, fn)
	})
	s.mu.Unlock()

	telemetry.SchedulerJobRunsTotal.WithLabelValues(name, "failure").Inc()
	log.Printf("[scheduler] job %s retry %d/%d in %s", name, fc, s.cfg.MaxRetryAttempts, delay.Round(time.Millisecond))
	s.persistJob(ctx, name)
}

func (s *Scheduler) persistJob(ctx context.Context, name string) {
	if !s.cfg.UsePersistentJobStore || s.jobStore == nil {
		return
	}
	s.mu.Lock()
	c := s.cron
	js := s.jobs[name]
	st := models.SchedulerJobState{
		JobID:             js.name,
		Enabled:           js.enabled,
		FailureCount:      js.failureCount,
		LastSuccessfulRun: js.lastSuccess,
	}
	s.mu.Unlock()
	if t, ok := nextRunTimes(c)[name]; ok {
		st.NextRunTime = &t
	}

	if err := s.jobStore.UpsertSchedulerJob(ctx, &st); err != nil {
		log.Printf("[scheduler] persisting job %s failed: %v", name, err)
	}
}

func (s *Scheduler) restoreJobStates(ctx context.Context) {
	states, err := s.jobStore.GetSchedulerJobs(ctx)
	if err != nil {
		log.Printf("[scheduler] restoring job registry failed: %v", err)
		return
	}
	for _, st := range states {
		if js, ok := s.jobs[st.JobID]; ok {
			js.failureCount = st.FailureCount
			js.lastSuccess = st.LastSuccessfulRun
		}
	}
}

func (s *Scheduler) runRealTimeCollection(ctx context.Context) error {
	results, err := s.collector.CollectAllGaps(ctx)
	if err != nil {
		return err
	}
	var stored, failed int
	for _, r := range results {
		stored += r.StoredCount
		if !r.Success {
			failed++
		}
	}
	log.Printf("[scheduler] real-time collection: %d results, %d points, %d failures", len(results), stored, failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d collections failed", failed, len(results))
	}
	return nil
}

func (s *Scheduler) runGapAnalysis(ctx context.Context) error {
	analyses, err := s.analyzer.AnalyzeCoverage(ctx, nil, nil, 0)
	if err != nil {
		return err
	}
	var flagged int
	for _, a := range analyses {
		if a.NeedsBackfill {
			flagged++
			log.Printf("[scheduler] gap analysis: %s/%s at %.2f%% coverage", a.AreaCode, a.EndpointName, a.CoveragePercentage)
		}
	}
	log.Printf("[scheduler] gap analysis: %d of %d pairs need backfill", flagged, len(analyses))
	return nil
}

// runDailyBackfillAnalysis reports candidates; it does not launch backfills.
// Operators start them deliberately through the API or tools.
func (s *Scheduler) runDailyBackfillAnalysis(ctx context.Context) error {
	analyses, err := s.analyzer.AnalyzeCoverage(ctx, nil, nil, 0)
	if err != nil {
		return err
	}
	for _, a := range analyses {
		if a.NeedsBackfill {
			log.Printf("[scheduler] backfill candidate: %s/%s %.2f%% (%d/%d points)",
				a.AreaCode, a.EndpointName, a.CoveragePercentage, a.ActualPoints, a.ExpectedPoints)
		}
	}
	resumable, err := s.analyzer.ListResumableBackfills(ctx)
	if err != nil {
		return err
	}
	for _, p := range resumable {
		log.Printf("[scheduler] resumable backfill %d: %s/%s at %.2f%%", p.ID, p.AreaCode, p.EndpointName, p.ProgressPercentage)
	}
	return nil
}

func (s *Scheduler) runMetricsRetention(ctx context.Context) error {
	if s.janitor == nil {
		return nil
	}
	deleted, err := s.janitor.CleanupOldMetrics(ctx)
	if err != nil {
		return fmt.Errorf("metrics retention: %w", err)
	}
	log.Printf("[scheduler] metrics retention: deleted %d old rows", deleted)
	return nil
}

func (s *Scheduler) runHealthCheck(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("database health: %w", err)
	}
	s.mu.Lock()
	threshold := s.cfg.FailedJobNotificationThreshold
	for _, js := range s.jobs {
		if js.failureCount >= threshold && threshold > 0 {
			log.Printf("[scheduler] health: job %s has %d consecutive failures", js.name, js.failureCount)
		}
	}
	s.mu.Unlock()
	return nil
}
