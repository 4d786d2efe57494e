package monitoring

import (
	"context"
	"testing"
	"time"

	"gridscan/internal/clock"
	"gridscan/internal/config"
	"gridscan/internal/models"
)

type fakeMetricsStore struct {
	metrics  []models.CollectionMetrics
	inserted []models.CollectionMetrics
	cleaned  *time.Time
}

func (s *fakeMetricsStore) InsertCollectionMetric(_ context.Context, m *models.CollectionMetrics) error {
	s.inserted = append(s.inserted, *m)
	return nil
}

func (s *fakeMetricsStore) GetRecentMetrics(_ context.Context, since time.Time) ([]models.CollectionMetrics, error) {
	var out []models.CollectionMetrics
	for _, m := range s.metrics {
		if !m.CollectionStart.Before(since) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeMetricsStore) GetMetricsByTimeRange(_ context.Context, start, end time.Time) ([]models.CollectionMetrics, error) {
	var out []models.CollectionMetrics
	for _, m := range s.metrics {
		if !m.CollectionStart.Before(start) && m.CollectionStart.Before(end) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeMetricsStore) GetPerformanceMetrics(ctx context.Context, since time.Time) (*models.PerformanceAggregates, error) {
	metrics, _ := s.GetRecentMetrics(ctx, since)
	agg := &models.PerformanceAggregates{}
	var n int64
	for _, m := range metrics {
		if !m.Success {
			continue
		}
		n++
		agg.AvgAPIResponseTimeMS += float64(m.APIResponseTimeMS)
	}
	if n > 0 {
		agg.AvgAPIResponseTimeMS /= float64(n)
	}
	return agg, nil
}

func (s *fakeMetricsStore) CleanupOldMetrics(_ context.Context, olderThan time.Time) (int64, error) {
	s.cleaned = &olderThan
	var removed int64
	for _, m := range s.metrics {
		if m.CollectionStart.Before(olderThan) {
			removed++
		}
	}
	return removed, nil
}

func testMonitoringConfig() config.MonitoringConfig {
	return config.MonitoringConfig{
		MetricsRetentionDays:    30,
		PerformanceThresholdMS:  5000,
		SuccessRateThreshold:    0.95,
		AnomalyDetectionEnabled: true,
	}
}

func metric(start time.Time, area string, dt models.EnergyDataType, success bool, points int, apiMS int64, errMsg string) models.CollectionMetrics {
	return models.CollectionMetrics{
		JobID:             "job-1",
		AreaCode:          area,
		DataType:          dt,
		CollectionStart:   start,
		CollectionEnd:     start.Add(time.Second),
		PointsCollected:   points,
		Success:           success,
		ErrorMessage:      errMsg,
		APIResponseTimeMS: apiMS,
	}
}

func TestTrackCollectionResultValidation(t *testing.T) {
	t.Parallel()

	store := &fakeMetricsStore{}
	eng := NewEngine(store, testMonitoringConfig(), nil, clock.NewFake(time.Now()))
	ctx := context.Background()

	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		m       *models.CollectionMetrics
		wantErr bool
	}{
		{"nil", nil, true},
		{"missing job id", &models.CollectionMetrics{AreaCode: "DE", CollectionStart: now, CollectionEnd: now}, true},
		{"missing area", &models.CollectionMetrics{JobID: "j", CollectionStart: now, CollectionEnd: now}, true},
		{"end before start", &models.CollectionMetrics{JobID: "j", AreaCode: "DE", CollectionStart: now, CollectionEnd: now.Add(-time.Second)}, true},
		{"valid", &models.CollectionMetrics{JobID: "j", AreaCode: "DE", CollectionStart: now, CollectionEnd: now.Add(time.Second)}, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := eng.TrackCollectionResult(ctx, tt.m)
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
	if len(store.inserted) != 1 {
		t.Errorf("stored %d rows, want only the valid one", len(store.inserted))
	}
}

func TestCalculateSuccessRates(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	base := now.Add(-time.Hour)
	store := &fakeMetricsStore{metrics: []models.CollectionMetrics{
		metric(base, "DE", models.DataTypeActual, true, 10, 200, ""),
		metric(base.Add(time.Minute), "DE", models.DataTypeActual, true, 10, 200, ""),
		metric(base.Add(2*time.Minute), "DE", models.DataTypeActual, false, 0, 200, "timeout"),
		metric(base.Add(3*time.Minute), "FR", models.DataTypeDayAhead, true, 4, 150, ""),
	}}

	eng := NewEngine(store, testMonitoringConfig(), nil, clock.NewFake(now))
	rates, err := eng.CalculateSuccessRates(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("CalculateSuccessRates: %v", err)
	}

	if got := rates["DE/actual"]; got < 0.66 || got > 0.67 {
		t.Errorf("DE/actual rate = %v, want 2/3", got)
	}
	if got := rates["FR/day_ahead"]; got != 1.0 {
		t.Errorf("FR/day_ahead rate = %v, want 1.0", got)
	}
}

func TestDetectAnomaliesDisabled(t *testing.T) {
	t.Parallel()

	cfg := testMonitoringConfig()
	cfg.AnomalyDetectionEnabled = false
	store := &fakeMetricsStore{metrics: []models.CollectionMetrics{
		metric(time.Now(), "DE", models.DataTypeActual, false, 0, 99999, "boom"),
	}}
	eng := NewEngine(store, cfg, nil, clock.NewFake(time.Now()))

	anomalies, err := eng.DetectAnomalies(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("DetectAnomalies: %v", err)
	}
	if len(anomalies) != 0 {
		t.Errorf("got %d anomalies with detection disabled", len(anomalies))
	}
}

func TestDetectAnomaliesClassification(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	base := now.Add(-time.Hour)
	var ms []models.CollectionMetrics
	// DE/actual: 1 success in 10 -> low success rate, high severity (<0.8).
	for i := 0; i < 10; i++ {
		ms = append(ms, metric(base.Add(time.Duration(i)*time.Minute), "DE", models.DataTypeActual, i == 0, 5, 100, "HTTP 503"))
	}
	// FR/actual: slow but reliable -> high response time.
	for i := 0; i < 4; i++ {
		ms = append(ms, metric(base.Add(time.Duration(i)*time.Minute), "FR", models.DataTypeActual, true, 5, 9000, ""))
	}
	// NL/day_ahead: succeeding with zero points. Empty upstream periods are
	// normal, so this must not be flagged.
	for i := 0; i < 4; i++ {
		ms = append(ms, metric(base.Add(time.Duration(i)*time.Minute), "NL", models.DataTypeDayAhead, true, 0, 100, ""))
	}

	eng := NewEngine(&fakeMetricsStore{metrics: ms}, testMonitoringConfig(), nil, clock.NewFake(now))
	anomalies, err := eng.DetectAnomalies(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("DetectAnomalies: %v", err)
	}

	byType := map[string]Anomaly{}
	for _, a := range anomalies {
		byType[a.Type+"/"+a.AreaCode] = a
	}

	low, ok := byType[AnomalyLowSuccessRate+"/DE"]
	if !ok {
		t.Fatal("missing low_success_rate anomaly for DE")
	}
	if low.Severity != SeverityHigh {
		t.Errorf("low success severity = %q, want high for rate below 0.8", low.Severity)
	}
	if slow, ok := byType[AnomalyHighResponseTime+"/FR"]; !ok || slow.Severity != SeverityMedium {
		t.Errorf("high_response_time for FR = %+v", slow)
	}
	if _, ok := byType[AnomalyNoDataCollection+"/NL"]; ok {
		t.Error("zero-point successes must not be flagged as no_data_collection")
	}
}

func TestDetectAnomaliesAbsentSeries(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	base := now.Add(-time.Hour)
	// Only DE/actual saw any collection activity in the window.
	ms := []models.CollectionMetrics{
		metric(base, "DE", models.DataTypeActual, true, 10, 200, ""),
	}

	eng := NewEngine(&fakeMetricsStore{metrics: ms}, testMonitoringConfig(), []string{"DE"}, clock.NewFake(now))
	anomalies, err := eng.DetectAnomalies(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("DetectAnomalies: %v", err)
	}

	absent := map[string]bool{}
	for _, a := range anomalies {
		if a.Type != AnomalyNoDataCollection {
			t.Errorf("unexpected anomaly %+v", a)
			continue
		}
		if a.Severity != SeverityMedium {
			t.Errorf("absent series severity = %q, want medium", a.Severity)
		}
		absent[a.AreaCode+"/"+a.DataType] = true
	}

	if absent["DE/actual"] {
		t.Error("active series flagged as absent")
	}
	for _, key := range []string{"DE/day_ahead", "DE/week_ahead", "DE/month_ahead", "DE/year_ahead", "DE/forecast_margin"} {
		if !absent[key] {
			t.Errorf("expected absent-series anomaly for %s", key)
		}
	}
}

func TestGetCollectionTrendsDirection(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	var ms []models.CollectionMetrics
	// Nine days of growing volume.
	for day := 0; day < 9; day++ {
		start := now.AddDate(0, 0, -9+day).Add(6 * time.Hour)
		ms = append(ms, metric(start, "DE", models.DataTypeActual, true, (day+1)*100, 100, ""))
	}

	eng := NewEngine(&fakeMetricsStore{metrics: ms}, testMonitoringConfig(), nil, clock.NewFake(now))
	trends, err := eng.GetCollectionTrends(context.Background(), 10)
	if err != nil {
		t.Fatalf("GetCollectionTrends: %v", err)
	}

	if len(trends.Days) != 9 {
		t.Fatalf("got %d day buckets, want 9", len(trends.Days))
	}
	if trends.VolumeDirection != TrendIncreasing {
		t.Errorf("direction = %q, want increasing", trends.VolumeDirection)
	}
	for i := 1; i < len(trends.Days); i++ {
		if trends.Days[i].Date <= trends.Days[i-1].Date {
			t.Error("day buckets not sorted ascending")
		}
	}
}

func TestGetCollectionTrendsInsufficientData(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	ms := []models.CollectionMetrics{
		metric(now.AddDate(0, 0, -1), "DE", models.DataTypeActual, true, 100, 100, ""),
		metric(now.AddDate(0, 0, -2), "DE", models.DataTypeActual, true, 100, 100, ""),
	}
	eng := NewEngine(&fakeMetricsStore{metrics: ms}, testMonitoringConfig(), nil, clock.NewFake(now))

	trends, err := eng.GetCollectionTrends(context.Background(), 10)
	if err != nil {
		t.Fatalf("GetCollectionTrends: %v", err)
	}
	if trends.VolumeDirection != TrendInsufficientData {
		t.Errorf("direction = %q, want insufficient_data", trends.VolumeDirection)
	}
}

func TestGetSystemHealthSummary(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	base := now.Add(-time.Hour)

	t.Run("healthy", func(t *testing.T) {
		t.Parallel()
		store := &fakeMetricsStore{metrics: []models.CollectionMetrics{
			metric(base, "DE", models.DataTypeActual, true, 10, 200, ""),
			metric(base.Add(time.Minute), "DE", models.DataTypeActual, true, 10, 200, ""),
		}}
		eng := NewEngine(store, testMonitoringConfig(), nil, clock.NewFake(now))
		health, err := eng.GetSystemHealthSummary(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if health.Status != HealthHealthy || len(health.StatusReasons) != 0 {
			t.Errorf("health = %+v, want healthy with no reasons", health)
		}
	})

	t.Run("no data is unknown", func(t *testing.T) {
		t.Parallel()
		eng := NewEngine(&fakeMetricsStore{}, testMonitoringConfig(), nil, clock.NewFake(now))
		health, err := eng.GetSystemHealthSummary(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if health.Status != HealthUnknown {
			t.Errorf("status = %q, want unknown", health.Status)
		}
	})

	t.Run("low success rate is critical", func(t *testing.T) {
		t.Parallel()
		var ms []models.CollectionMetrics
		for i := 0; i < 10; i++ {
			ms = append(ms, metric(base.Add(time.Duration(i)*time.Minute), "DE", models.DataTypeActual, i < 5, 10, 200, "boom"))
		}
		eng := NewEngine(&fakeMetricsStore{metrics: ms}, testMonitoringConfig(), nil, clock.NewFake(now))
		health, err := eng.GetSystemHealthSummary(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if health.Availability != HealthCritical {
			t.Errorf("availability = %q, want critical at 50%% success", health.Availability)
		}
		if health.Status != HealthCritical {
			t.Errorf("overall status = %q, want worst of sub-statuses", health.Status)
		}
		if len(health.StatusReasons) == 0 {
			t.Error("degraded health should carry reasons")
		}
	})
}

func TestAnalyzeFailurePatterns(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	base := now.Add(-time.Hour)
	store := &fakeMetricsStore{metrics: []models.CollectionMetrics{
		metric(base, "DE", models.DataTypeActual, false, 0, 100, "timeout waiting for upstream"),
		metric(base.Add(time.Minute), "DE", models.DataTypeActual, false, 0, 100, "timeout after 30s"),
		metric(base.Add(2*time.Minute), "DE", models.DataTypeDayAhead, false, 0, 100, "timeout again"),
		metric(base.Add(3*time.Minute), "FR", models.DataTypeActual, false, 0, 100, "parse: bad document"),
		metric(base.Add(4*time.Minute), "FR", models.DataTypeActual, true, 5, 100, ""),
	}}

	eng := NewEngine(store, testMonitoringConfig(), nil, clock.NewFake(now))
	analysis, err := eng.AnalyzeFailurePatterns(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("AnalyzeFailurePatterns: %v", err)
	}

	if analysis.TotalFailures != 4 {
		t.Errorf("total failures = %d, want 4", analysis.TotalFailures)
	}
	if analysis.ByArea["DE"] != 3 || analysis.ByArea["FR"] != 1 {
		t.Errorf("by area = %v", analysis.ByArea)
	}
	if analysis.ByErrorPattern["timeout"] != 3 {
		t.Errorf("by pattern = %v, want timeout x3", analysis.ByErrorPattern)
	}
	if len(analysis.TopPatterns) == 0 || analysis.TopPatterns[0] != "timeout" {
		t.Errorf("top patterns = %v, want timeout first", analysis.TopPatterns)
	}
	// DE and the timeout pattern each account for >= half the failures.
	if len(analysis.Recommendations) < 2 {
		t.Errorf("recommendations = %v, want concentration callouts", analysis.Recommendations)
	}
}

func TestCleanupOldMetricsUsesRetention(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeMetricsStore{metrics: []models.CollectionMetrics{
		metric(now.AddDate(0, 0, -40), "DE", models.DataTypeActual, true, 1, 100, ""),
		metric(now.AddDate(0, 0, -5), "DE", models.DataTypeActual, true, 1, 100, ""),
	}}
	eng := NewEngine(store, testMonitoringConfig(), nil, clock.NewFake(now))

	removed, err := eng.CleanupOldMetrics(context.Background())
	if err != nil {
		t.Fatalf("CleanupOldMetrics: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	wantCutoff := now.AddDate(0, 0, -30)
	if store.cleaned == nil || !store.cleaned.Equal(wantCutoff) {
		t.Errorf("cutoff = %v, want %v", store.cleaned, wantCutoff)
	}
}
