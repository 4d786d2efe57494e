// Package monitoring derives operational insight from the collection metrics
// log: success rates, latency aggregates, anomaly detection, trends and
// failure-pattern analysis.
package monitoring

import (
	"context"
	"fmt"
	"time"

	"gridscan/internal/clock"
	"gridscan/internal/collector"
	"gridscan/internal/config"
	"gridscan/internal/models"
)

// MonitoringError reports an invalid input or a failed analysis step.
type MonitoringError struct {
	Op     string
	Reason string
}

func (e *MonitoringError) Error() string {
	return fmt.Sprintf("monitoring: %s: %s", e.Op, e.Reason)
}

// MetricsStore is the slice of the repository the engine consumes.
type MetricsStore interface {
	InsertCollectionMetric(ctx context.Context, m *models.CollectionMetrics) error
	GetRecentMetrics(ctx context.Context, since time.Time) ([]models.CollectionMetrics, error)
	GetMetricsByTimeRange(ctx context.Context, start, end time.Time) ([]models.CollectionMetrics, error)
	GetPerformanceMetrics(ctx context.Context, since time.Time) (*models.PerformanceAggregates, error)
	CleanupOldMetrics(ctx context.Context, olderThan time.Time) (int64, error)
}

type Engine struct {
	store MetricsStore
	cfg   config.MonitoringConfig
	areas []string
	clock clock.Clock
}

// NewEngine builds the engine. areas lists the collected area codes; anomaly
// detection reports expected series with no activity in the window, so an
// empty list disables that check.
func NewEngine(store MetricsStore, cfg config.MonitoringConfig, areas []string, c clock.Clock) *Engine {
	if c == nil {
		c = clock.UTC{}
	}
	return &Engine{store: store, cfg: cfg, areas: areas, clock: c}
}

// TrackCollectionResult validates and records one collection attempt.
func (e *Engine) TrackCollectionResult(ctx context.Context, m *models.CollectionMetrics) error {
	switch {
	case m == nil:
		return &MonitoringError{Op: "track", Reason: "nil metrics"}
	case m.JobID == "":
		return &MonitoringError{Op: "track", Reason: "missing job ID"}
	case m.AreaCode == "":
		return &MonitoringError{Op: "track", Reason: "missing area code"}
	case m.CollectionEnd.Before(m.CollectionStart):
		return &MonitoringError{Op: "track", Reason: "collection end precedes start"}
	}
	return e.store.InsertCollectionMetric(ctx, m)
}

// CalculateSuccessRates computes per-series success ratios over the trailing
// window, keyed "area/data_type".
func (e *Engine) CalculateSuccessRates(ctx context.Context, window time.Duration) (map[string]float64, error) {
	metrics, err := e.store.GetRecentMetrics(ctx, e.clock.Now().Add(-window))
	if err != nil {
		return nil, err
	}

	totals := make(map[string]int)
	successes := make(map[string]int)
	for _, m := range metrics {
		key := m.AreaCode + "/" + string(m.DataType)
		totals[key]++
		if m.Success {
			successes[key]++
		}
	}

	rates := make(map[string]float64, len(totals))
	for key, total := range totals {
		rates[key] = float64(successes[key]) / float64(total)
	}
	return rates, nil
}

// PerformanceReport combines timing aggregates with attempt counts over a
// window.
type PerformanceReport struct {
	PeriodStart time.Time                    `json:"period_start"`
	PeriodEnd   time.Time                    `json:"period_end"`
	Aggregates  models.PerformanceAggregates `json:"aggregates"`

	TotalCollections      int     `json:"total_collections"`
	SuccessfulCollections int     `json:"successful_collections"`
	FailedCollections     int     `json:"failed_collections"`
	OverallSuccessRate    float64 `json:"overall_success_rate"`
	TotalPointsCollected  int64   `json:"total_points_collected"`
}

// GetPerformanceMetrics builds the performance report for the trailing window.
func (e *Engine) GetPerformanceMetrics(ctx context.Context, window time.Duration) (*PerformanceReport, error) {
	now := e.clock.Now()
	since := now.Add(-window)

	agg, err := e.store.GetPerformanceMetrics(ctx, since)
	if err != nil {
		return nil, err
	}
	metrics, err := e.store.GetRecentMetrics(ctx, since)
	if err != nil {
		return nil, err
	}

	report := PerformanceReport{
		PeriodStart: since,
		PeriodEnd:   now,
		Aggregates:  *agg,
	}
	for _, m := range metrics {
		report.TotalCollections++
		report.TotalPointsCollected += int64(m.PointsCollected)
		if m.Success {
			report.SuccessfulCollections++
		} else {
			report.FailedCollections++
		}
	}
	if report.TotalCollections > 0 {
		report.OverallSuccessRate = float64(report.SuccessfulCollections) / float64(report.TotalCollections)
	}
	return &report, nil
}

// GetRecentMetrics exposes the raw attempt log for the ops API.
func (e *Engine) GetRecentMetrics(ctx context.Context, window time.Duration) ([]models.CollectionMetrics, error) {
	return e.store.GetRecentMetrics(ctx, e.clock.Now().Add(-window))
}

// Anomaly severities and types.
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"

	AnomalyLowSuccessRate   = "low_success_rate"
	AnomalyHighResponseTime = "high_response_time"
	AnomalyNoDataCollection = "no_data_collection"
)

// Anomaly is one detected deviation from the configured thresholds.
type Anomaly struct {
	Type        string  `json:"type"`
	Severity    string  `json:"severity"`
	AreaCode    string  `json:"area_code,omitempty"`
	DataType    string  `json:"data_type,omitempty"`
	Description string  `json:"description"`
	Value       float64 `json:"value"`
}

// DetectAnomalies scans the trailing window for series below the success-rate
// threshold, latency above the performance threshold, and expected series
// with no collection operations at all. Disabled detection returns an empty
// slice.
func (e *Engine) DetectAnomalies(ctx context.Context, window time.Duration) ([]Anomaly, error) {
	if !e.cfg.AnomalyDetectionEnabled {
		return nil, nil
	}

	metrics, err := e.store.GetRecentMetrics(ctx, e.clock.Now().Add(-window))
	if err != nil {
		return nil, err
	}

	type seriesStats struct {
		total, successes int
		points           int64
		apiMSSum         int64
	}
	bySeries := make(map[string]*seriesStats)
	for _, m := range metrics {
		key := m.AreaCode + "/" + string(m.DataType)
		st := bySeries[key]
		if st == nil {
			st = &seriesStats{}
			bySeries[key] = st
		}
		st.total++
		if m.Success {
			st.successes++
		}
		st.points += int64(m.PointsCollected)
		st.apiMSSum += m.APIResponseTimeMS
	}

	var anomalies []Anomaly
	for key, st := range bySeries {
		area, dataType := splitSeriesKey(key)

		rate := float64(st.successes) / float64(st.total)
		if rate < e.cfg.SuccessRateThreshold {
			severity := SeverityMedium
			if rate < 0.8 {
				severity = SeverityHigh
			}
			anomalies = append(anomalies, Anomaly{
				Type:        AnomalyLowSuccessRate,
				Severity:    severity,
				AreaCode:    area,
				DataType:    dataType,
				Description: fmt.Sprintf("success rate %.1f%% below threshold %.1f%%", 100*rate, 100*e.cfg.SuccessRateThreshold),
				Value:       rate,
			})
		}

		avgMS := float64(st.apiMSSum) / float64(st.total)
		if avgMS > e.cfg.PerformanceThresholdMS {
			anomalies = append(anomalies, Anomaly{
				Type:        AnomalyHighResponseTime,
				Severity:    SeverityMedium,
				AreaCode:    area,
				DataType:    dataType,
				Description: fmt.Sprintf("average API response %.0fms above threshold %.0fms", avgMS, e.cfg.PerformanceThresholdMS),
				Value:       avgMS,
			})
		}

	}

	// A series the collector should be producing with zero attempts in the
	// window means collection has stopped for it.
	for _, area := range e.areas {
		for _, dt := range expectedDataTypes() {
			key := area + "/" + string(dt)
			if _, ok := bySeries[key]; ok {
				continue
			}
			anomalies = append(anomalies, Anomaly{
				Type:        AnomalyNoDataCollection,
				Severity:    SeverityMedium,
				AreaCode:    area,
				DataType:    string(dt),
				Description: fmt.Sprintf("no collection operations in the last %s", window),
				Value:       0,
			})
		}
	}
	return anomalies, nil
}

// expectedDataTypes lists the distinct data types across the collector's
// endpoints, in endpoint order.
func expectedDataTypes() []models.EnergyDataType {
	var out []models.EnergyDataType
	seen := make(map[models.EnergyDataType]bool)
	for _, ep := range collector.Endpoints() {
		cfg, ok := collector.Config(ep)
		if !ok || seen[cfg.DataType] {
			continue
		}
		seen[cfg.DataType] = true
		out = append(out, cfg.DataType)
	}
	return out
}

// CleanupOldMetrics applies the configured retention.
func (e *Engine) CleanupOldMetrics(ctx context.Context) (int64, error) {
	cutoff := e.clock.Now().AddDate(0, 0, -e.cfg.MetricsRetentionDays)
	return e.store.CleanupOldMetrics(ctx, cutoff)
}

func splitSeriesKey(key string) (area, dataType string) {
	for i := 0; i < len(key); i++ {
		if key[i] == '/' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}
