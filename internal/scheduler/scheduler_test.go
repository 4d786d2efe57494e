package scheduler

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"gridscan/internal/clock"
	"gridscan/internal/collector"
	"gridscan/internal/config"
	"gridscan/internal/models"
)

type fakeRunner struct {
	err   error
	calls int
}

func (r *fakeRunner) CollectAllGaps(context.Context) ([]models.CollectionResult, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return []models.CollectionResult{{AreaCode: "DE", Success: true}}, nil
}

type fakeAnalyzer struct{}

func (fakeAnalyzer) AnalyzeCoverage(context.Context, []string, []collector.Endpoint, int) ([]models.CoverageAnalysis, error) {
	return nil, nil
}

func (fakeAnalyzer) ListResumableBackfills(context.Context) ([]models.BackfillProgress, error) {
	return nil, nil
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func testConfig() config.SchedulerConfig {
	return config.SchedulerConfig{
		Enabled:                           true,
		RealTimeCollectionIntervalMinutes: 5,
		GapAnalysisIntervalHours:          6,
		DailyBackfillAnalysisHour:         2,
		JobHealthCheckIntervalMinutes:     15,
		MaxRetryAttempts:                  3,
		RetryBackoffBaseSeconds:           30,
		RetryBackoffMaxSeconds:            600,
	}
}

func TestBackoffDelayBounds(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(1))
	base, max := 30.0, 600.0

	for fc := 1; fc <= 8; fc++ {
		raw := base * math.Pow(2, float64(fc-1))
		capped := math.Min(raw, max)
		lo := time.Duration((capped + 0.1*raw) * float64(time.Second))
		hi := time.Duration((capped + 0.3*raw) * float64(time.Second))

		for i := 0; i < 50; i++ {
			d := backoffDelay(fc, base, max, rng)
			if d < lo || d > hi {
				t.Fatalf("failureCount=%d: delay %v outside [%v, %v]", fc, d, lo, hi)
			}
		}
	}
}

func TestBackoffDelayCapApplies(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(2))
	// 30 * 2^9 is far past the cap; the capped part must not exceed max.
	d := backoffDelay(10, 30, 600, rng)
	raw := 30 * math.Pow(2, 9)
	hi := time.Duration((600 + 0.3*raw) * float64(time.Second))
	if d > hi {
		t.Errorf("delay %v exceeds cap+jitter bound %v", d, hi)
	}
	if d < 600*time.Second {
		t.Errorf("delay %v below the cap floor", d)
	}
}

func TestStartFailsWithoutDatabase(t *testing.T) {
	t.Parallel()

	s := New(testConfig(), &fakeRunner{}, fakeAnalyzer{}, nil, fakePinger{err: errors.New("connection refused")}, nil, clock.NewFake(time.Now()))
	err := s.Start(context.Background())

	var cerr *ConfigurationError
	if !errors.As(err, &cerr) {
		t.Fatalf("err = %v, want ConfigurationError", err)
	}
	if cerr.Field != "database_connection" {
		t.Errorf("field = %q, want database_connection", cerr.Field)
	}
	if s.Running() {
		t.Error("scheduler must not be running after a failed start")
	}
}

func TestStartIsIdempotent(t *testing.T) {
	t.Parallel()

	s := New(testConfig(), &fakeRunner{}, fakeAnalyzer{}, nil, fakePinger{}, nil, clock.NewFake(time.Now()))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("first start: %v", err)
	}
	defer s.Stop()

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("second start should be a no-op, got %v", err)
	}
	if !s.Running() {
		t.Error("scheduler should be running")
	}

	if got := len(s.State()); got != 5 {
		t.Errorf("registered %d jobs, want 5", got)
	}
}

func TestStateReportsNextRunTimes(t *testing.T) {
	t.Parallel()

	s := New(testConfig(), &fakeRunner{}, fakeAnalyzer{}, nil, fakePinger{}, nil, clock.NewFake(time.Now()))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	for _, st := range s.State() {
		if st.NextRunTime == nil {
			t.Errorf("job %s: NextRunTime not populated", st.JobID)
			continue
		}
		if !st.NextRunTime.After(time.Now().Add(-time.Second)) {
			t.Errorf("job %s: NextRunTime %v is in the past", st.JobID, st.NextRunTime)
		}
	}
}

func TestFailureCountingAndQuarantine(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	s := New(cfg, &fakeRunner{}, fakeAnalyzer{}, nil, fakePinger{}, nil, clock.NewFake(time.Now()))
	s.jobs[JobRealTimeCollection] = &jobState{name: JobRealTimeCollection, enabled: true}

	failing := func(context.Context) error { return errors.New("boom") }
	ctx := context.Background()

	// Two failures schedule retries; the third quarantines.
	for i := 1; i < cfg.MaxRetryAttempts; i++ {
		s.recordFailure(ctx, JobRealTimeCollection, failing)
		js := s.jobs[JobRealTimeCollection]
		if js.failureCount != i {
			t.Fatalf("after failure %d: count = %d", i, js.failureCount)
		}
		if !js.enabled {
			t.Fatalf("after failure %d: job should not be quarantined yet", i)
		}
		if js.retryTimer == nil {
			t.Fatalf("after failure %d: no retry scheduled", i)
		}
		js.retryTimer.Stop()
		js.retryTimer = nil
	}

	s.recordFailure(ctx, JobRealTimeCollection, failing)
	js := s.jobs[JobRealTimeCollection]
	if js.enabled {
		t.Error("job should be quarantined at the retry cap")
	}
	if js.retryTimer != nil {
		t.Error("quarantine must not schedule another retry")
	}
	if js.failureCount != cfg.MaxRetryAttempts {
		t.Errorf("failure count = %d, want %d", js.failureCount, cfg.MaxRetryAttempts)
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := New(testConfig(), &fakeRunner{}, fakeAnalyzer{}, nil, fakePinger{}, nil, clock.NewFake(now))
	s.jobs[JobGapAnalysis] = &jobState{name: JobGapAnalysis, enabled: true, failureCount: 2}

	s.recordSuccess(context.Background(), JobGapAnalysis)

	js := s.jobs[JobGapAnalysis]
	if js.failureCount != 0 {
		t.Errorf("failure count = %d, want 0 after success", js.failureCount)
	}
	if js.lastSuccess == nil || !js.lastSuccess.Equal(now) {
		t.Errorf("last success = %v, want %v", js.lastSuccess, now)
	}
}

func TestQuarantineLiftedByScheduledFire(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := New(testConfig(), &fakeRunner{}, fakeAnalyzer{}, nil, fakePinger{}, nil, clock.NewFake(now))
	s.mu.Lock()
	s.running = true
	s.ctx = context.Background()
	s.jobs[JobRealTimeCollection] = &jobState{name: JobRealTimeCollection, enabled: false, failureCount: 3}
	s.mu.Unlock()

	s.runJob(JobRealTimeCollection, func(context.Context) error { return nil })

	s.mu.Lock()
	js := s.jobs[JobRealTimeCollection]
	enabled, failures := js.enabled, js.failureCount
	s.mu.Unlock()
	if !enabled {
		t.Error("scheduled fire should lift quarantine")
	}
	if failures != 0 {
		t.Errorf("failure count = %d, want 0 after the successful run", failures)
	}
}

type fakeJanitor struct {
	deleted int64
	err     error
	calls   int
}

func (j *fakeJanitor) CleanupOldMetrics(context.Context) (int64, error) {
	j.calls++
	return j.deleted, j.err
}

func TestMetricsRetentionJob(t *testing.T) {
	t.Parallel()

	janitor := &fakeJanitor{deleted: 42}
	s := New(testConfig(), &fakeRunner{}, fakeAnalyzer{}, janitor, fakePinger{}, nil, clock.NewFake(time.Now()))
	if err := s.runMetricsRetention(context.Background()); err != nil {
		t.Fatalf("runMetricsRetention: %v", err)
	}
	if janitor.calls != 1 {
		t.Errorf("janitor calls = %d, want 1", janitor.calls)
	}

	janitor.err = errors.New("db down")
	if err := s.runMetricsRetention(context.Background()); err == nil {
		t.Error("cleanup error should propagate to the retry machinery")
	}

	// Without a janitor the job is a no-op.
	bare := New(testConfig(), &fakeRunner{}, fakeAnalyzer{}, nil, fakePinger{}, nil, clock.NewFake(time.Now()))
	if err := bare.runMetricsRetention(context.Background()); err != nil {
		t.Errorf("nil janitor: %v", err)
	}
}

func TestRealTimeCollectionJobReportsFailures(t *testing.T) {
	t.Parallel()

	s := New(testConfig(), &fakeRunner{err: errors.New("upstream down")}, fakeAnalyzer{}, nil, fakePinger{}, nil, clock.NewFake(time.Now()))
	if err := s.runRealTimeCollection(context.Background()); err == nil {
		t.Error("collection error should propagate to the retry machinery")
	}
}
