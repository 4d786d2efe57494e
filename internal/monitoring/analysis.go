package monitoring

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Trend directions.
const (
	TrendIncreasing       = "increasing"
	TrendDecreasing       = "decreasing"
	TrendStable           = "stable"
	TrendInsufficientData = "insufficient_data"
)

// DailyStats aggregates one calendar day of collection attempts.
type DailyStats struct {
	Date            string  `json:"date"`
	Collections     int     `json:"collections"`
	Successes       int     `json:"successes"`
	PointsCollected int64   `json:"points_collected"`
	SuccessRate     float64 `json:"success_rate"`
}

// CollectionTrends summarizes per-day activity and its direction.
type CollectionTrends struct {
	Days       []DailyStats `json:"days"`
	VolumeDirection string  `json:"volume_direction"`
}

// GetCollectionTrends aggregates the trailing days of metrics into daily
// buckets and classifies the point-volume direction by comparing the first
// and last three days. Fewer than six days of data is insufficient.
func (e *Engine) GetCollectionTrends(ctx context.Context, days int) (*CollectionTrends, error) {
	if days <= 0 {
		return nil, &MonitoringError{Op: "trends", Reason: "days must be positive"}
	}

	end := e.clock.Now()
	start := end.AddDate(0, 0, -days)
	metrics, err := e.store.GetMetricsByTimeRange(ctx, start, end)
	if err != nil {
		return nil, err
	}

	byDay := make(map[string]*DailyStats)
	for _, m := range metrics {
		day := m.CollectionStart.UTC().Format("2006-01-02")
		st := byDay[day]
		if st == nil {
			st = &DailyStats{Date: day}
			byDay[day] = st
		}
		st.Collections++
		st.PointsCollected += int64(m.PointsCollected)
		if m.Success {
			st.Successes++
		}
	}

	out := &CollectionTrends{}
	for _, st := range byDay {
		if st.Collections > 0 {
			st.SuccessRate = float64(st.Successes) / float64(st.Collections)
		}
		out.Days = append(out.Days, *st)
	}
	sort.Slice(out.Days, func(i, j int) bool { return out.Days[i].Date < out.Days[j].Date })

	out.VolumeDirection = volumeDirection(out.Days)
	return out, nil
}

// volumeDirection compares mean daily point volume of the first three days
// against the last three. A 10% band counts as stable.
func volumeDirection(days []DailyStats) string {
	if len(days) < 6 {
		return TrendInsufficientData
	}
	var first, last float64
	for i := 0; i < 3; i++ {
		first += float64(days[i].PointsCollected)
		last += float64(days[len(days)-3+i].PointsCollected)
	}
	first /= 3
	last /= 3

	switch {
	case first == 0 && last == 0:
		return TrendStable
	case last > first*1.1:
		return TrendIncreasing
	case last < first*0.9:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

// Health statuses.
const (
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
	HealthCritical = "critical"
	HealthUnknown  = "unknown"
)

// SystemHealth is the rollup served at /api/monitoring/health.
type SystemHealth struct {
	Status        string   `json:"status"`
	Performance   string   `json:"performance"`
	Availability  string   `json:"availability"`
	DataQuality   string   `json:"data_quality"`
	StatusReasons []string `json:"status_reasons,omitempty"`
	CheckedAt     time.Time `json:"checked_at"`
}

// GetSystemHealthSummary classifies the last 24 hours into performance,
// availability and data-quality sub-statuses; the overall status is the worst
// of the three.
func (e *Engine) GetSystemHealthSummary(ctx context.Context) (*SystemHealth, error) {
	now := e.clock.Now()
	report, err := e.GetPerformanceMetrics(ctx, 24*time.Hour)
	if err != nil {
		return nil, err
	}

	health := &SystemHealth{
		Status:       HealthHealthy,
		Performance:  HealthHealthy,
		Availability: HealthHealthy,
		DataQuality:  HealthHealthy,
		CheckedAt:    now,
	}

	if report.TotalCollections == 0 {
		health.Status = HealthUnknown
		health.Performance = HealthUnknown
		health.Availability = HealthUnknown
		health.DataQuality = HealthUnknown
		health.StatusReasons = append(health.StatusReasons, "no collections in the last 24 hours")
		return health, nil
	}

	if avg := report.Aggregates.AvgAPIResponseTimeMS; avg > e.cfg.PerformanceThresholdMS {
		health.Performance = HealthDegraded
		health.StatusReasons = append(health.StatusReasons,
			fmt.Sprintf("average API response %.0fms above threshold %.0fms", avg, e.cfg.PerformanceThresholdMS))
		if avg > 2*e.cfg.PerformanceThresholdMS {
			health.Performance = HealthCritical
		}
	}

	if rate := report.OverallSuccessRate; rate < e.cfg.SuccessRateThreshold {
		health.Availability = HealthDegraded
		health.StatusReasons = append(health.StatusReasons,
			fmt.Sprintf("success rate %.1f%% below threshold %.1f%%", 100*rate, 100*e.cfg.SuccessRateThreshold))
		if rate < 0.8 {
			health.Availability = HealthCritical
		}
	}

	if report.TotalPointsCollected == 0 {
		health.DataQuality = HealthDegraded
		health.StatusReasons = append(health.StatusReasons, "no data points stored in the last 24 hours")
	}

	health.Status = worst(health.Performance, health.Availability, health.DataQuality)
	return health, nil
}

func worst(statuses ...string) string {
	rank := map[string]int{HealthHealthy: 0, HealthUnknown: 1, HealthDegraded: 2, HealthCritical: 3}
	out := HealthHealthy
	for _, s := range statuses {
		if rank[s] > rank[out] {
			out = s
		}
	}
	return out
}

// FailureAnalysis breaks recent failures down by area, data type and the
// leading token of their error messages.
type FailureAnalysis struct {
	TotalFailures   int            `json:"total_failures"`
	ByArea          map[string]int `json:"by_area"`
	ByDataType      map[string]int `json:"by_data_type"`
	ByErrorPattern  map[string]int `json:"by_error_pattern"`
	TopPatterns     []string       `json:"top_patterns"`
	Recommendations []string       `json:"recommendations,omitempty"`
}

// AnalyzeFailurePatterns inspects failed attempts over the trailing window.
// When one area, type or pattern accounts for at least half of the failures,
// a targeted recommendation is emitted.
func (e *Engine) AnalyzeFailurePatterns(ctx context.Context, window time.Duration) (*FailureAnalysis, error) {
	metrics, err := e.store.GetRecentMetrics(ctx, e.clock.Now().Add(-window))
	if err != nil {
		return nil, err
	}

	out := &FailureAnalysis{
		ByArea:         make(map[string]int),
		ByDataType:     make(map[string]int),
		ByErrorPattern: make(map[string]int),
	}
	for _, m := range metrics {
		if m.Success {
			continue
		}
		out.TotalFailures++
		out.ByArea[m.AreaCode]++
		out.ByDataType[string(m.DataType)]++
		out.ByErrorPattern[errorPattern(m.ErrorMessage)]++
	}
	if out.TotalFailures == 0 {
		return out, nil
	}

	out.TopPatterns = topKeys(out.ByErrorPattern, 5)

	half := (out.TotalFailures + 1) / 2
	for area, n := range out.ByArea {
		if n >= half {
			out.Recommendations = append(out.Recommendations,
				fmt.Sprintf("failures concentrate in area %s (%d of %d); check its upstream availability", area, n, out.TotalFailures))
		}
	}
	for dt, n := range out.ByDataType {
		if n >= half {
			out.Recommendations = append(out.Recommendations,
				fmt.Sprintf("failures concentrate in data type %s (%d of %d); review its endpoint configuration", dt, n, out.TotalFailures))
		}
	}
	for pat, n := range out.ByErrorPattern {
		if n >= half {
			out.Recommendations = append(out.Recommendations,
				fmt.Sprintf("dominant error pattern %q (%d of %d)", pat, n, out.TotalFailures))
		}
	}
	sort.Strings(out.Recommendations)
	return out, nil
}

// errorPattern buckets an error message by its first token so that
// parameterized messages group together.
func errorPattern(msg string) string {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return "unknown"
	}
	if i := strings.IndexAny(msg, " \t"); i > 0 {
		return msg[:i]
	}
	return msg
}

func topKeys(counts map[string]int, n int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}
