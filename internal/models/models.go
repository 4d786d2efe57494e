package models

import (
	"fmt"
	"math"
	"time"
)

// EnergyDataType classifies a stored point by the forecast horizon of its
// source document.
type EnergyDataType string

const (
	DataTypeActual         EnergyDataType = "actual"
	DataTypeDayAhead       EnergyDataType = "day_ahead"
	DataTypeWeekAhead      EnergyDataType = "week_ahead"
	DataTypeMonthAhead     EnergyDataType = "month_ahead"
	DataTypeYearAhead      EnergyDataType = "year_ahead"
	DataTypeForecastMargin EnergyDataType = "forecast_margin"
)

// PointKey is the composite primary key shared by both time-series tables.
type PointKey struct {
	Timestamp    time.Time      `json:"timestamp"`
	AreaCode     string         `json:"area_code"`
	DataType     EnergyDataType `json:"data_type"`
	BusinessType string         `json:"business_type"`
}

func (k PointKey) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", k.Timestamp.UTC().Format(time.RFC3339), k.AreaCode, k.DataType, k.BusinessType)
}

// EnergyDataPoint represents the 'energy_data_points' hypertable.
type EnergyDataPoint struct {
	Timestamp    time.Time      `json:"timestamp"`
	AreaCode     string         `json:"area_code"`
	DataType     EnergyDataType `json:"data_type"`
	BusinessType string         `json:"business_type"`

	Quantity   float64 `json:"quantity"`
	Unit       string  `json:"unit"`
	DataSource string  `json:"data_source"`

	// Provenance
	DocumentMRID      string    `json:"document_mrid"`
	RevisionNumber    *int      `json:"revision_number,omitempty"`
	DocumentCreatedAt time.Time `json:"document_created_at"`
	TimeSeriesMRID    string    `json:"time_series_mrid"`
	Resolution        string    `json:"resolution"`
	CurveType         string    `json:"curve_type,omitempty"`
	ObjectAggregation string    `json:"object_aggregation,omitempty"`
	Position          int       `json:"position"`
	PeriodStart       time.Time `json:"period_start"`
	PeriodEnd         time.Time `json:"period_end"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p EnergyDataPoint) Key() PointKey {
	return PointKey{Timestamp: p.Timestamp, AreaCode: p.AreaCode, DataType: p.DataType, BusinessType: p.BusinessType}
}

// EnergyPricePoint represents the 'energy_price_points' hypertable.
type EnergyPricePoint struct {
	Timestamp    time.Time      `json:"timestamp"`
	AreaCode     string         `json:"area_code"`
	DataType     EnergyDataType `json:"data_type"`
	BusinessType string         `json:"business_type"`

	PriceAmount                 float64 `json:"price_amount"`
	CurrencyUnitName            string  `json:"currency_unit_name"`
	PriceMeasureUnitName        string  `json:"price_measure_unit_name"`
	AuctionType                 string  `json:"auction_type,omitempty"`
	ContractMarketAgreementType string  `json:"contract_market_agreement_type,omitempty"`
	DataSource                  string  `json:"data_source"`

	// Provenance
	DocumentMRID      string    `json:"document_mrid"`
	RevisionNumber    *int      `json:"revision_number,omitempty"`
	DocumentCreatedAt time.Time `json:"document_created_at"`
	TimeSeriesMRID    string    `json:"time_series_mrid"`
	Resolution        string    `json:"resolution"`
	CurveType         string    `json:"curve_type,omitempty"`
	Position          int       `json:"position"`
	PeriodStart       time.Time `json:"period_start"`
	PeriodEnd         time.Time `json:"period_end"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p EnergyPricePoint) Key() PointKey {
	return PointKey{Timestamp: p.Timestamp, AreaCode: p.AreaCode, DataType: p.DataType, BusinessType: p.BusinessType}
}

// BackfillStatus is the lifecycle state of a backfill operation.
type BackfillStatus string

const (
	BackfillPending    BackfillStatus = "pending"
	BackfillInProgress BackfillStatus = "in_progress"
	BackfillCompleted  BackfillStatus = "completed"
	BackfillFailed     BackfillStatus = "failed"
	BackfillCancelled  BackfillStatus = "cancelled"
)

// Terminal reports whether the status permits no further transitions
// (other than an explicit resume of a failed operation).
func (s BackfillStatus) Terminal() bool {
	return s == BackfillCompleted || s == BackfillFailed || s == BackfillCancelled
}

// BackfillProgress represents the 'backfill_progress' table.
type BackfillProgress struct {
	ID           int64          `json:"id"`
	AreaCode     string         `json:"area_code"`
	EndpointName string         `json:"endpoint_name"`
	PeriodStart  time.Time      `json:"period_start"`
	PeriodEnd    time.Time      `json:"period_end"`
	Status       BackfillStatus `json:"status"`

	TotalChunks        int     `json:"total_chunks"`
	CompletedChunks    int     `json:"completed_chunks"`
	FailedChunks       int     `json:"failed_chunks"`
	TotalDataPoints    int64   `json:"total_data_points"`
	ProgressPercentage float64 `json:"progress_percentage"`

	CurrentChunkStart *time.Time `json:"current_chunk_start,omitempty"`
	CurrentChunkEnd   *time.Time `json:"current_chunk_end,omitempty"`

	StartedAt           *time.Time `json:"started_at,omitempty"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	EstimatedCompletion *time.Time `json:"estimated_completion,omitempty"`

	// Config snapshot taken when the operation was created.
	ChunkSizeDays  int     `json:"chunk_size_days"`
	RateLimitDelay float64 `json:"rate_limit_delay"` // seconds

	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RecalcPercentage refreshes ProgressPercentage from the chunk counters,
// rounded to two decimals.
func (p *BackfillProgress) RecalcPercentage() {
	if p.TotalChunks <= 0 {
		p.ProgressPercentage = 0
		return
	}
	pct := 100 * float64(p.CompletedChunks) / float64(p.TotalChunks)
	p.ProgressPercentage = math.Round(pct*100) / 100
}

// RemainingChunks never goes negative even if counters drift.
func (p *BackfillProgress) RemainingChunks() int {
	if r := p.TotalChunks - p.CompletedChunks; r > 0 {
		return r
	}
	return 0
}

// CollectionMetrics represents the 'collection_metrics' table. One row is
// written per collection attempt, successful or not.
type CollectionMetrics struct {
	ID       int64          `json:"id"`
	JobID    string         `json:"job_id"`
	AreaCode string         `json:"area_code"`
	DataType EnergyDataType `json:"data_type"`

	CollectionStart time.Time `json:"collection_start"`
	CollectionEnd   time.Time `json:"collection_end"`

	PointsCollected int    `json:"points_collected"`
	Success         bool   `json:"success"`
	ErrorMessage    string `json:"error_message,omitempty"`

	APIResponseTimeMS int64 `json:"api_response_time_ms"`
	ProcessingTimeMS  int64 `json:"processing_time_ms"`

	CreatedAt time.Time `json:"created_at"`
}

// CollectionResult is the structured outcome of one gap collection for an
// (area, endpoint) pair. Failures are reported here, not as errors, so that
// sibling endpoints keep running.
type CollectionResult struct {
	AreaCode        string         `json:"area_code"`
	DataType        EnergyDataType `json:"data_type"`
	StoredCount     int            `json:"stored_count"`
	Success         bool           `json:"success"`
	NoDataAvailable bool           `json:"no_data_available"`
	NoDataReason    string         `json:"no_data_reason,omitempty"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	StartTime       time.Time      `json:"start_time"`
	EndTime         time.Time      `json:"end_time"`
}

// BackfillResult is the structured outcome of a whole backfill run.
type BackfillResult struct {
	BackfillID      int64    `json:"backfill_id"`
	AreaCode        string   `json:"area_code"`
	EndpointName    string   `json:"endpoint_name"`
	Success         bool     `json:"success"`
	TotalChunks     int      `json:"total_chunks"`
	CompletedChunks int      `json:"completed_chunks"`
	FailedChunks    int      `json:"failed_chunks"`
	TotalDataPoints int64    `json:"total_data_points"`
	ErrorMessages   []string `json:"error_messages,omitempty"`
	DurationSeconds float64  `json:"duration_seconds"`
}

// CoverageAnalysis reports observed vs expected point counts for one
// (area, endpoint) pair over a period.
type CoverageAnalysis struct {
	AreaCode           string    `json:"area_code"`
	EndpointName       string    `json:"endpoint_name"`
	PeriodStart        time.Time `json:"period_start"`
	PeriodEnd          time.Time `json:"period_end"`
	ExpectedPoints     int64     `json:"expected_points"`
	ActualPoints       int64     `json:"actual_points"`
	CoveragePercentage float64   `json:"coverage_percentage"`
	NeedsBackfill      bool      `json:"needs_backfill"`
}

// PerformanceAggregates holds avg/min/max timing aggregates over a window of
// collection metrics. Values are milliseconds.
type PerformanceAggregates struct {
	AvgAPIResponseTimeMS float64 `json:"avg_api_response_time_ms"`
	MinAPIResponseTimeMS float64 `json:"min_api_response_time_ms"`
	MaxAPIResponseTimeMS float64 `json:"max_api_response_time_ms"`
	AvgProcessingTimeMS  float64 `json:"avg_processing_time_ms"`
	MinProcessingTimeMS  float64 `json:"min_processing_time_ms"`
	MaxProcessingTimeMS  float64 `json:"max_processing_time_ms"`
}

// SchedulerJobState represents the 'scheduler_jobs' table backing the
// persistent job registry.
type SchedulerJobState struct {
	JobID             string     `json:"job_id"`
	Enabled           bool       `json:"enabled"`
	FailureCount      int        `json:"failure_count"`
	LastSuccessfulRun *time.Time `json:"last_successful_run,omitempty"`
	NextRunTime       *time.Time `json:"next_run_time,omitempty"`
	UpdatedAt         time.Time  `json:"updated_at"`
}
