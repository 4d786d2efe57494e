package repository

import (
	"context"
	"time"

	"gridscan/internal/models"

	"github.com/jackc/pgx/v5"
)

const metricsColumns = `id, job_id, area_code, data_type, collection_start, collection_end,
	points_collected, success, error_message, api_response_time_ms, processing_time_ms, created_at`

// InsertCollectionMetric records one collection attempt.
func (r *Repository) InsertCollectionMetric(ctx context.Context, m *models.CollectionMetrics) error {
	now := time.Now().UTC()
	err := r.db.QueryRow(ctx, `
		INSERT INTO collection_metrics (
			job_id, area_code, data_type, collection_start, collection_end,
			points_collected, success, error_message, api_response_time_ms, processing_time_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		m.JobID, m.AreaCode, m.DataType, m.CollectionStart, m.CollectionEnd,
		m.PointsCollected, m.Success, nullIfEmpty(m.ErrorMessage),
		m.APIResponseTimeMS, m.ProcessingTimeMS, now,
	).Scan(&m.ID)
	if err != nil {
		return &StoreError{Model: "collection_metrics", Op: "insert", Err: err}
	}
	m.CreatedAt = now
	return nil
}

// InsertCollectionMetrics records a batch in one transaction.
func (r *Repository) InsertCollectionMetrics(ctx context.Context, metrics []models.CollectionMetrics) error {
	if len(metrics) == 0 {
		return nil
	}
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return &StoreError{Model: "collection_metrics", Op: "insert_batch", BatchSize: len(metrics), Err: err}
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	for i := range metrics {
		m := &metrics[i]
		err := tx.QueryRow(ctx, `
			INSERT INTO collection_metrics (
				job_id, area_code, data_type, collection_start, collection_end,
				points_collected, success, error_message, api_response_time_ms, processing_time_ms, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING id`,
			m.JobID, m.AreaCode, m.DataType, m.CollectionStart, m.CollectionEnd,
			m.PointsCollected, m.Success, nullIfEmpty(m.ErrorMessage),
			m.APIResponseTimeMS, m.ProcessingTimeMS, now,
		).Scan(&m.ID)
		if err != nil {
			return &StoreError{Model: "collection_metrics", Op: "insert_batch", BatchSize: len(metrics), Err: err}
		}
		m.CreatedAt = now
	}
	if err := tx.Commit(ctx); err != nil {
		return &StoreError{Model: "collection_metrics", Op: "insert_batch", BatchSize: len(metrics), Err: err}
	}
	return nil
}

// GetMetricsByTimeRange returns metrics whose collection started in
// [start, end), ascending.
func (r *Repository) GetMetricsByTimeRange(ctx context.Context, start, end time.Time) ([]models.CollectionMetrics, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+metricsColumns+`
		FROM collection_metrics
		WHERE collection_start >= $1 AND collection_start < $2
		ORDER BY collection_start ASC`, start, end)
	if err != nil {
		return nil, &StoreError{Model: "collection_metrics", Op: "get_by_time_range", Err: err}
	}
	defer rows.Close()
	return scanMetricsRows(rows)
}

// GetRecentMetrics returns metrics collected since the cutoff, newest first.
func (r *Repository) GetRecentMetrics(ctx context.Context, since time.Time) ([]models.CollectionMetrics, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+metricsColumns+`
		FROM collection_metrics
		WHERE collection_start >= $1
		ORDER BY collection_start DESC`, since)
	if err != nil {
		return nil, &StoreError{Model: "collection_metrics", Op: "get_recent", Err: err}
	}
	defer rows.Close()
	return scanMetricsRows(rows)
}

// GetMetricsByJobID returns every attempt logged under a job, ascending.
func (r *Repository) GetMetricsByJobID(ctx context.Context, jobID string) ([]models.CollectionMetrics, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+metricsColumns+`
		FROM collection_metrics
		WHERE job_id = $1
		ORDER BY collection_start ASC`, jobID)
	if err != nil {
		return nil, &StoreError{Model: "collection_metrics", Op: "get_by_job", Err: err}
	}
	defer rows.Close()
	return scanMetricsRows(rows)
}

// GetPerformanceMetrics aggregates timings over successful attempts since the
// cutoff. The COALESCEs keep an empty window at zero instead of NULL.
func (r *Repository) GetPerformanceMetrics(ctx context.Context, since time.Time) (*models.PerformanceAggregates, error) {
	var agg models.PerformanceAggregates
	err := r.db.QueryRow(ctx, `
		SELECT
			COALESCE(AVG(api_response_time_ms), 0),
			COALESCE(MIN(api_response_time_ms), 0),
			COALESCE(MAX(api_response_time_ms), 0),
			COALESCE(AVG(processing_time_ms), 0),
			COALESCE(MIN(processing_time_ms), 0),
			COALESCE(MAX(processing_time_ms), 0)
		FROM collection_metrics
		WHERE collection_start >= $1 AND success`, since).Scan(
		&agg.AvgAPIResponseTimeMS, &agg.MinAPIResponseTimeMS, &agg.MaxAPIResponseTimeMS,
		&agg.AvgProcessingTimeMS, &agg.MinProcessingTimeMS, &agg.MaxProcessingTimeMS,
	)
	if err != nil {
		return nil, &StoreError{Model: "collection_metrics", Op: "get_performance", Err: err}
	}
	return &agg, nil
}

// CleanupOldMetrics deletes metrics older than the cutoff and reports how
// many rows went.
func (r *Repository) CleanupOldMetrics(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM collection_metrics
		WHERE collection_start < $1`, olderThan)
	if err != nil {
		return 0, &StoreError{Model: "collection_metrics", Op: "cleanup", Err: err}
	}
	return tag.RowsAffected(), nil
}

func scanMetricsRows(rows pgx.Rows) ([]models.CollectionMetrics, error) {
	var out []models.CollectionMetrics
	for rows.Next() {
		var m models.CollectionMetrics
		var errMsg *string
		err := rows.Scan(
			&m.ID, &m.JobID, &m.AreaCode, &m.DataType, &m.CollectionStart, &m.CollectionEnd,
			&m.PointsCollected, &m.Success, &errMsg, &m.APIResponseTimeMS, &m.ProcessingTimeMS, &m.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		m.ErrorMessage = deref(errMsg)
		out = append(out, m)
	}
	return out, rows.Err()
}
