// Package collection implements gap-aware real-time ingestion: it derives the
// uncollected interval per (area, endpoint) from the newest stored point,
// chunks it, and drives fetch-transform-store over the collector adapter.
package collection

import (
	"context"
	"fmt"
	"log"
	"time"

	"gridscan/internal/clock"
	"gridscan/internal/collector"
	"gridscan/internal/eventbus"
	"gridscan/internal/models"
	"gridscan/internal/telemetry"
	"gridscan/internal/transform"
)

// lookbackOnEmpty is how far back the first collection reaches when the store
// holds nothing for a backward-looking (area, data type) pair.
const lookbackOnEmpty = 7 * 24 * time.Hour

// Store is the slice of the repository the engine writes to and reads its
// gap anchors from.
type Store interface {
	UpsertLoadPoints(ctx context.Context, points []models.EnergyDataPoint) error
	UpsertPricePoints(ctx context.Context, points []models.EnergyPricePoint) error
	GetLatestForAreaAndType(ctx context.Context, area string, dataType models.EnergyDataType) (*models.EnergyDataPoint, error)
	GetLatestPriceForAreaAndType(ctx context.Context, area string, dataType models.EnergyDataType) (*models.EnergyPricePoint, error)
}

// Collector is the upstream fetch surface.
type Collector interface {
	Fetch(ctx context.Context, ep collector.Endpoint, area string, start, end time.Time) (*collector.Fetched, error)
}

// MetricsSink records one row per collection attempt.
type MetricsSink interface {
	InsertCollectionMetric(ctx context.Context, m *models.CollectionMetrics) error
}

// Engine runs gap collection for the configured areas. Bus is optional; when
// set, every result is broadcast to subscribers.
type Engine struct {
	store     Store
	collector Collector
	metrics   MetricsSink
	clock     clock.Clock
	bus       *eventbus.Bus

	areas      []string
	chunkDelay time.Duration
}

type Options struct {
	Areas                 []string
	RateLimitDelaySeconds float64
	Clock                 clock.Clock
	Bus                   *eventbus.Bus
}

func NewEngine(store Store, col Collector, metrics MetricsSink, opts Options) *Engine {
	c := opts.Clock
	if c == nil {
		c = clock.UTC{}
	}
	return &Engine{
		store:      store,
		collector:  col,
		metrics:    metrics,
		clock:      c,
		bus:        opts.Bus,
		areas:      opts.Areas,
		chunkDelay: time.Duration(opts.RateLimitDelaySeconds * float64(time.Second)),
	}
}

// CollectAllGaps runs gap collection for every configured area and endpoint
// under one job ID. Per-pair failures are isolated into their results.
func (e *Engine) CollectAllGaps(ctx context.Context) ([]models.CollectionResult, error) {
	jobID := fmt.Sprintf("rt_all_%d", e.clock.Now().Unix())
	var results []models.CollectionResult
	for _, area := range e.areas {
		res, err := e.collectArea(ctx, jobID, area)
		if err != nil {
			return results, err
		}
		results = append(results, res...)
	}
	return results, nil
}

// CollectGapsForArea runs gap collection for every endpoint of one area.
func (e *Engine) CollectGapsForArea(ctx context.Context, area string) ([]models.CollectionResult, error) {
	jobID := fmt.Sprintf("rt_%s_%d", area, e.clock.Now().Unix())
	return e.collectArea(ctx, jobID, area)
}

func (e *Engine) collectArea(ctx context.Context, jobID, area string) ([]models.CollectionResult, error) {
	var results []models.CollectionResult
	for _, ep := range collector.Endpoints() {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res := e.collectEndpoint(ctx, jobID, area, ep)
		results = append(results, res)
	}
	return results, nil
}

// CollectGapsForEndpoint runs gap collection for one (area, endpoint) pair.
func (e *Engine) CollectGapsForEndpoint(ctx context.Context, area string, ep collector.Endpoint) (models.CollectionResult, error) {
	jobID := fmt.Sprintf("rt_%s_%s_%d", area, ep, e.clock.Now().Unix())
	return e.collectEndpoint(ctx, jobID, area, ep), nil
}

// ShouldCollectNow reports whether the pair is due for collection: true when
// no point is stored yet, or when the newest point is at least one expected
// interval old. Forward-looking endpoints use the same rule, so a fresh
// forecast horizon does not keep re-triggering.
func (e *Engine) ShouldCollectNow(ctx context.Context, area string, ep collector.Endpoint) (bool, error) {
	cfg, ok := collector.Config(ep)
	if !ok {
		return false, fmt.Errorf("unknown endpoint %q", ep)
	}
	latest, err := e.latestTimestamp(ctx, area, cfg)
	if err != nil {
		return false, err
	}
	if latest == nil {
		return true, nil
	}
	return !e.clock.Now().Before(latest.Add(cfg.ExpectedInterval)), nil
}

func (e *Engine) collectEndpoint(ctx context.Context, jobID, area string, ep collector.Endpoint) models.CollectionResult {
	start := e.clock.Now()
	cfg, ok := collector.Config(ep)
	if !ok {
		return e.finish(ctx, jobID, area, "", models.CollectionResult{
			AreaCode:     area,
			ErrorMessage: fmt.Sprintf("unknown endpoint %q", ep),
			StartTime:    start,
		}, 0, 0)
	}

	result := models.CollectionResult{
		AreaCode:  area,
		DataType:  cfg.DataType,
		StartTime: start,
	}

	gapStart, gapEnd, err := e.detectGap(ctx, area, cfg)
	if err != nil {
		result.ErrorMessage = fmt.Sprintf("gap detection: %v", err)
		return e.finish(ctx, jobID, area, ep, result, 0, 0)
	}
	if !gapStart.Before(gapEnd) {
		result.Success = true
		return e.finish(ctx, jobID, area, ep, result, 0, 0)
	}

	chunks := splitChunks(gapStart, gapEnd, cfg.MaxChunkDays)
	log.Printf("[collection] %s/%s: gap %s..%s in %d chunk(s)", area, ep, gapStart.Format(time.RFC3339), gapEnd.Format(time.RFC3339), len(chunks))

	var (
		apiMS, procMS int64
		noDataChunks  int
		failedChunks  int
	)
	for i, chunk := range chunks {
		if i > 0 && e.chunkDelay > 0 {
			e.clock.Sleep(ctx, e.chunkDelay)
		}
		if err := ctx.Err(); err != nil {
			result.ErrorMessage = err.Error()
			failedChunks++
			break
		}

		fetchStart := e.clock.Now()
		fetched, err := e.collector.Fetch(ctx, ep, area, chunk.start, chunk.end)
		apiMS += e.clock.Now().Sub(fetchStart).Milliseconds()
		telemetry.UpstreamRequestDuration.WithLabelValues(string(ep)).Observe(e.clock.Now().Sub(fetchStart).Seconds())
		if err != nil {
			failedChunks++
			result.ErrorMessage = err.Error()
			log.Printf("[collection] %s/%s: chunk %d/%d failed: %v", area, ep, i+1, len(chunks), err)
			continue
		}
		if fetched.NoData {
			noDataChunks++
			continue
		}

		procStart := e.clock.Now()
		stored, err := e.storeFetched(ctx, fetched)
		procMS += e.clock.Now().Sub(procStart).Milliseconds()
		if err != nil {
			failedChunks++
			result.ErrorMessage = err.Error()
			log.Printf("[collection] %s/%s: chunk %d/%d store failed: %v", area, ep, i+1, len(chunks), err)
			continue
		}
		result.StoredCount += stored
	}

	result.Success = failedChunks == 0
	if noDataChunks > 0 {
		result.NoDataReason = fmt.Sprintf("%d/%d chunks returned no data", noDataChunks, len(chunks))
		// Any no-data chunk marks the result, even when other chunks
		// stored points; chunk errors take precedence.
		result.NoDataAvailable = failedChunks == 0
	}
	return e.finish(ctx, jobID, area, ep, result, apiMS, procMS)
}

// finish stamps the end time, writes the metrics row, bumps counters and
// publishes the result.
func (e *Engine) finish(ctx context.Context, jobID, area string, ep collector.Endpoint, result models.CollectionResult, apiMS, procMS int64) models.CollectionResult {
	result.EndTime = e.clock.Now()

	outcome := "error"
	switch {
	case result.NoDataAvailable && result.StoredCount == 0:
		outcome = "no_data"
	case result.Success:
		outcome = "success"
	}
	telemetry.CollectionsTotal.WithLabelValues(area, string(result.DataType), outcome).Inc()
	if result.StoredCount > 0 {
		telemetry.PointsStoredTotal.WithLabelValues(area, string(result.DataType)).Add(float64(result.StoredCount))
	}

	if e.metrics != nil {
		m := models.CollectionMetrics{
			JobID:             jobID,
			AreaCode:          area,
			DataType:          result.DataType,
			CollectionStart:   result.StartTime,
			CollectionEnd:     result.EndTime,
			PointsCollected:   result.StoredCount,
			Success:           result.Success,
			ErrorMessage:      result.ErrorMessage,
			APIResponseTimeMS: apiMS,
			ProcessingTimeMS:  procMS,
		}
		if err := e.metrics.InsertCollectionMetric(ctx, &m); err != nil {
			log.Printf("[collection] %s/%s: metrics insert failed: %v", area, ep, err)
		}
	}

	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: eventbus.TypeCollectionResult, Area: area, Data: result})
	}
	return result
}

// detectGap computes the half-open uncollected interval for the pair.
// Backward-looking endpoints trail the present; forward-looking ones reach
// out to their forecast horizon.
func (e *Engine) detectGap(ctx context.Context, area string, cfg collector.EndpointConfig) (time.Time, time.Time, error) {
	now := e.clock.Now()

	latest, err := e.latestTimestamp(ctx, area, cfg)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}

	var start, end time.Time
	if cfg.IsForwardLooking {
		end = now.Add(cfg.ForecastHorizon)
		if latest == nil {
			start = now
		} else {
			start = latest.Add(cfg.ExpectedInterval)
		}
	} else {
		end = now
		if latest == nil {
			start = now.Add(-lookbackOnEmpty)
		} else {
			start = latest.Add(cfg.ExpectedInterval)
		}
	}
	return start, end, nil
}

func (e *Engine) latestTimestamp(ctx context.Context, area string, cfg collector.EndpointConfig) (*time.Time, error) {
	if cfg.IsPrice {
		p, err := e.store.GetLatestPriceForAreaAndType(ctx, area, cfg.DataType)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, nil
		}
		return &p.Timestamp, nil
	}
	p, err := e.store.GetLatestForAreaAndType(ctx, area, cfg.DataType)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, nil
	}
	return &p.Timestamp, nil
}

func (e *Engine) storeFetched(ctx context.Context, fetched *collector.Fetched) (int, error) {
	switch {
	case fetched.Load != nil:
		points, err := transform.LoadDocument(fetched.Load)
		if err != nil {
			return 0, err
		}
		if err := e.store.UpsertLoadPoints(ctx, points); err != nil {
			return 0, err
		}
		return len(points), nil
	case fetched.Prices != nil:
		points, err := transform.PriceDocument(fetched.Prices)
		if err != nil {
			return 0, err
		}
		if err := e.store.UpsertPricePoints(ctx, points); err != nil {
			return 0, err
		}
		return len(points), nil
	}
	return 0, nil
}

type chunk struct {
	start, end time.Time
}

// splitChunks cuts [start, end) into consecutive half-open spans of at most
// maxDays each.
func splitChunks(start, end time.Time, maxDays int) []chunk {
	if maxDays <= 0 {
		return []chunk{{start: start, end: end}}
	}
	span := time.Duration(maxDays) * 24 * time.Hour
	var out []chunk
	for cur := start; cur.Before(end); cur = cur.Add(span) {
		ce := cur.Add(span)
		if ce.After(end) {
			ce = end
		}
		out = append(out, chunk{start: cur, end: ce})
	}
	return out
}
