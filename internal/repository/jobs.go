package repository

import (
	"context"
	"time"

	"gridscan/internal/models"
)

// UpsertSchedulerJob persists one job's registry row. Called after every run
// when the persistent job store is enabled.
func (r *Repository) UpsertSchedulerJob(ctx context.Context, s *models.SchedulerJobState) error {
	now := time.Now().UTC()
	_, err := r.db.Exec(ctx, `
		INSERT INTO scheduler_jobs (job_id, enabled, failure_count, last_successful_run, next_run_time, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (job_id) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			failure_count = EXCLUDED.failure_count,
			last_successful_run = EXCLUDED.last_successful_run,
			next_run_time = EXCLUDED.next_run_time,
			updated_at = EXCLUDED.updated_at`,
		s.JobID, s.Enabled, s.FailureCount, s.LastSuccessfulRun, s.NextRunTime, now,
	)
	if err != nil {
		return &StoreError{Model: "scheduler_job", Op: "upsert", Err: err}
	}
	s.UpdatedAt = now
	return nil
}

// GetSchedulerJobs lists the persisted job registry.
func (r *Repository) GetSchedulerJobs(ctx context.Context) ([]models.SchedulerJobState, error) {
	rows, err := r.db.Query(ctx, `
		SELECT job_id, enabled, failure_count, last_successful_run, next_run_time, updated_at
		FROM scheduler_jobs
		ORDER BY job_id`)
	if err != nil {
		return nil, &StoreError{Model: "scheduler_job", Op: "list", Err: err}
	}
	defer rows.Close()

	var out []models.SchedulerJobState
	for rows.Next() {
		var s models.SchedulerJobState
		if err := rows.Scan(&s.JobID, &s.Enabled, &s.FailureCount, &s.LastSuccessfulRun, &s.NextRunTime, &s.UpdatedAt); err != nil {
			return nil, &StoreError{Model: "scheduler_job", Op: "list", Err: err}
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Model: "scheduler_job", Op: "list", Err: err}
	}
	return out, nil
}
