package repository

import (
	"context"
	"time"

	"gridscan/internal/models"

	"github.com/jackc/pgx/v5"
)

const progressColumns = `id, area_code, endpoint_name, period_start, period_end, status,
	total_chunks, completed_chunks, failed_chunks, total_data_points, progress_percentage,
	current_chunk_start, current_chunk_end, started_at, completed_at, estimated_completion,
	chunk_size_days, rate_limit_delay, last_error, created_at, updated_at`

// CreateBackfillProgress inserts a new progress record and fills in its
// assigned ID and timestamps.
func (r *Repository) CreateBackfillProgress(ctx context.Context, p *models.BackfillProgress) error {
	now := time.Now().UTC()
	err := r.db.QueryRow(ctx, `
		INSERT INTO backfill_progress (
			area_code, endpoint_name, period_start, period_end, status,
			total_chunks, completed_chunks, failed_chunks, total_data_points, progress_percentage,
			chunk_size_days, rate_limit_delay, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
		RETURNING id`,
		p.AreaCode, p.EndpointName, p.PeriodStart, p.PeriodEnd, p.Status,
		p.TotalChunks, p.CompletedChunks, p.FailedChunks, p.TotalDataPoints, p.ProgressPercentage,
		p.ChunkSizeDays, p.RateLimitDelay, now,
	).Scan(&p.ID)
	if err != nil {
		return &StoreError{Model: "backfill_progress", Op: "create", Err: err}
	}
	p.CreatedAt = now
	p.UpdatedAt = now
	return nil
}

// GetBackfillProgress fetches one record by ID. Missing records return
// (nil, nil).
func (r *Repository) GetBackfillProgress(ctx context.Context, id int64) (*models.BackfillProgress, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+progressColumns+`
		FROM backfill_progress
		WHERE id = $1`, id)
	p, err := scanProgress(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &StoreError{Model: "backfill_progress", Op: "get", Err: err}
	}
	return p, nil
}

// UpdateBackfillProgress writes all mutable columns of an existing record.
func (r *Repository) UpdateBackfillProgress(ctx context.Context, p *models.BackfillProgress) error {
	now := time.Now().UTC()
	tag, err := r.db.Exec(ctx, `
		UPDATE backfill_progress SET
			status = $2,
			total_chunks = $3,
			completed_chunks = $4,
			failed_chunks = $5,
			total_data_points = $6,
			progress_percentage = $7,
			current_chunk_start = $8,
			current_chunk_end = $9,
			started_at = $10,
			completed_at = $11,
			estimated_completion = $12,
			last_error = $13,
			updated_at = $14
		WHERE id = $1`,
		p.ID, p.Status, p.TotalChunks, p.CompletedChunks, p.FailedChunks,
		p.TotalDataPoints, p.ProgressPercentage, p.CurrentChunkStart, p.CurrentChunkEnd,
		p.StartedAt, p.CompletedAt, p.EstimatedCompletion, nullIfEmpty(p.LastError), now,
	)
	if err != nil {
		return &StoreError{Model: "backfill_progress", Op: "update", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return &StoreError{Model: "backfill_progress", Op: "update", Err: pgx.ErrNoRows}
	}
	p.UpdatedAt = now
	return nil
}

// UpdateBackfillProgressFields applies fn to the current row under a
// SELECT ... FOR UPDATE lock, recomputes the derived percentage, writes the
// result back and returns the fresh record. This is the only safe way for
// concurrent workers to bump chunk counters.
func (r *Repository) UpdateBackfillProgressFields(ctx context.Context, id int64, fn func(*models.BackfillProgress)) (*models.BackfillProgress, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, &StoreError{Model: "backfill_progress", Op: "update_fields", Err: err}
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT `+progressColumns+`
		FROM backfill_progress
		WHERE id = $1
		FOR UPDATE`, id)
	p, err := scanProgress(row)
	if err != nil {
		return nil, &StoreError{Model: "backfill_progress", Op: "update_fields", Err: err}
	}

	fn(p)
	p.RecalcPercentage()
	now := time.Now().UTC()

	_, err = tx.Exec(ctx, `
		UPDATE backfill_progress SET
			status = $2,
			total_chunks = $3,
			completed_chunks = $4,
			failed_chunks = $5,
			total_data_points = $6,
			progress_percentage = $7,
			current_chunk_start = $8,
			current_chunk_end = $9,
			started_at = $10,
			completed_at = $11,
			estimated_completion = $12,
			last_error = $13,
			updated_at = $14
		WHERE id = $1`,
		p.ID, p.Status, p.TotalChunks, p.CompletedChunks, p.FailedChunks,
		p.TotalDataPoints, p.ProgressPercentage, p.CurrentChunkStart, p.CurrentChunkEnd,
		p.StartedAt, p.CompletedAt, p.EstimatedCompletion, nullIfEmpty(p.LastError), now,
	)
	if err != nil {
		return nil, &StoreError{Model: "backfill_progress", Op: "update_fields", Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, &StoreError{Model: "backfill_progress", Op: "update_fields", Err: err}
	}
	p.UpdatedAt = now
	return p, nil
}

// GetActiveBackfills lists pending and in-progress operations, newest first.
func (r *Repository) GetActiveBackfills(ctx context.Context) ([]models.BackfillProgress, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+progressColumns+`
		FROM backfill_progress
		WHERE status IN ($1, $2)
		ORDER BY created_at DESC`,
		models.BackfillPending, models.BackfillInProgress)
	if err != nil {
		return nil, &StoreError{Model: "backfill_progress", Op: "get_active", Err: err}
	}
	defer rows.Close()
	return scanProgressRows(rows)
}

// GetResumableBackfills lists failed or pending operations that already
// completed at least one chunk, newest first.
func (r *Repository) GetResumableBackfills(ctx context.Context) ([]models.BackfillProgress, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+progressColumns+`
		FROM backfill_progress
		WHERE status IN ($1, $2) AND completed_chunks > 0
		ORDER BY created_at DESC`,
		models.BackfillFailed, models.BackfillPending)
	if err != nil {
		return nil, &StoreError{Model: "backfill_progress", Op: "get_resumable", Err: err}
	}
	defer rows.Close()
	return scanProgressRows(rows)
}

// GetBackfillsByAreaEndpoint lists all operations for one (area, endpoint)
// pair, newest first.
func (r *Repository) GetBackfillsByAreaEndpoint(ctx context.Context, area, endpoint string) ([]models.BackfillProgress, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+progressColumns+`
		FROM backfill_progress
		WHERE area_code = $1 AND endpoint_name = $2
		ORDER BY created_at DESC`, area, endpoint)
	if err != nil {
		return nil, &StoreError{Model: "backfill_progress", Op: "get_by_area_endpoint", Err: err}
	}
	defer rows.Close()
	return scanProgressRows(rows)
}

func scanProgress(row pgx.Row) (*models.BackfillProgress, error) {
	var p models.BackfillProgress
	var lastError *string
	err := row.Scan(
		&p.ID, &p.AreaCode, &p.EndpointName, &p.PeriodStart, &p.PeriodEnd, &p.Status,
		&p.TotalChunks, &p.CompletedChunks, &p.FailedChunks, &p.TotalDataPoints, &p.ProgressPercentage,
		&p.CurrentChunkStart, &p.CurrentChunkEnd, &p.StartedAt, &p.CompletedAt, &p.EstimatedCompletion,
		&p.ChunkSizeDays, &p.RateLimitDelay, &lastError, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.LastError = deref(lastError)
	return &p, nil
}

func scanProgressRows(rows pgx.Rows) ([]models.BackfillProgress, error) {
	var out []models.BackfillProgress
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}
