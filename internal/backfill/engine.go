// Package backfill implements resumable chunked historical collection. An
// operation owns one (area, endpoint, period) and persists its position after
// every chunk so an interrupted run can pick up where it stopped.
package backfill

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"gridscan/internal/clock"
	"gridscan/internal/collector"
	"gridscan/internal/eventbus"
	"gridscan/internal/models"
	"gridscan/internal/telemetry"
	"gridscan/internal/transform"
)

// Store is the point-write surface the engine needs.
type Store interface {
	UpsertLoadPoints(ctx context.Context, points []models.EnergyDataPoint) error
	UpsertPricePoints(ctx context.Context, points []models.EnergyPricePoint) error
}

// ProgressStore persists operation state.
type ProgressStore interface {
	CreateBackfillProgress(ctx context.Context, p *models.BackfillProgress) error
	GetBackfillProgress(ctx context.Context, id int64) (*models.BackfillProgress, error)
	UpdateBackfillProgressFields(ctx context.Context, id int64, fn func(*models.BackfillProgress)) (*models.BackfillProgress, error)
	GetActiveBackfills(ctx context.Context) ([]models.BackfillProgress, error)
	GetResumableBackfills(ctx context.Context) ([]models.BackfillProgress, error)
}

// PointCounter supplies stored-point counts for coverage analysis.
type PointCounter interface {
	CountLoadPoints(ctx context.Context, area string, dataType models.EnergyDataType, start, end time.Time) (int64, error)
	CountPricePoints(ctx context.Context, area string, dataType models.EnergyDataType, start, end time.Time) (int64, error)
}

// Collector is the upstream fetch surface.
type Collector interface {
	Fetch(ctx context.Context, ep collector.Endpoint, area string, start, end time.Time) (*collector.Fetched, error)
}

type Engine struct {
	store     Store
	progress  ProgressStore
	counter   PointCounter
	collector Collector
	clock     clock.Clock
	bus       *eventbus.Bus

	areas           []string
	historicalYears int
	chunkSizeDays   int
	chunkDelay      float64 // seconds, snapshotted into each operation
	maxConcurrent   int

	mu       sync.Mutex
	inFlight int
	active   map[string]int64 // "{area}_{endpoint}" -> backfill ID
}

type Options struct {
	Areas                 []string
	HistoricalYears       int
	ChunkSizeDays         int
	RateLimitDelaySeconds float64
	MaxConcurrent         int
	Clock                 clock.Clock
	Bus                   *eventbus.Bus
}

func NewEngine(store Store, progress ProgressStore, counter PointCounter, col Collector, opts Options) *Engine {
	c := opts.Clock
	if c == nil {
		c = clock.UTC{}
	}
	if opts.ChunkSizeDays <= 0 {
		opts.ChunkSizeDays = 30
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 3
	}
	if opts.HistoricalYears <= 0 {
		opts.HistoricalYears = 2
	}
	return &Engine{
		store:           store,
		progress:        progress,
		counter:         counter,
		collector:       col,
		clock:           c,
		bus:             opts.Bus,
		areas:           opts.Areas,
		historicalYears: opts.HistoricalYears,
		chunkSizeDays:   opts.ChunkSizeDays,
		chunkDelay:      opts.RateLimitDelaySeconds,
		maxConcurrent:   opts.MaxConcurrent,
	}
}

// StartBackfill creates and runs a new operation over [start, end). The
// concurrency check happens before any record is created, so a rejected
// start leaves no trace. chunkSizeDays overrides the configured chunk size
// for this operation; zero or negative keeps the default. The effective size
// is snapshotted into the progress record so a resume reuses it.
func (e *Engine) StartBackfill(ctx context.Context, area string, ep collector.Endpoint, start, end time.Time, chunkSizeDays int) (*models.BackfillResult, error) {
	cfg, ok := collector.Config(ep)
	if !ok {
		return nil, fmt.Errorf("unknown endpoint %q", ep)
	}
	if !start.Before(end) {
		return nil, fmt.Errorf("backfill period start %v must precede end %v", start, end)
	}
	if chunkSizeDays <= 0 {
		chunkSizeDays = e.chunkSizeDays
	}

	key := area + "_" + string(ep)
	if err := e.acquireSlot(key); err != nil {
		return nil, err
	}
	defer e.releaseSlot(key)

	prog := &models.BackfillProgress{
		AreaCode:       area,
		EndpointName:   string(ep),
		PeriodStart:    start,
		PeriodEnd:      end,
		Status:         models.BackfillPending,
		TotalChunks:    countChunks(start, end, chunkSizeDays),
		ChunkSizeDays:  chunkSizeDays,
		RateLimitDelay: e.chunkDelay,
	}
	if err := e.progress.CreateBackfillProgress(ctx, prog); err != nil {
		return nil, err
	}
	e.trackOperation(key, prog.ID)

	log.Printf("[backfill] %s/%s: starting operation %d, %d chunk(s) over %s..%s",
		area, ep, prog.ID, prog.TotalChunks, start.Format("2006-01-02"), end.Format("2006-01-02"))
	return e.run(ctx, prog, cfg, 0)
}

// ResumeBackfill continues a failed or pending operation that already made
// progress, skipping its completed chunks.
func (e *Engine) ResumeBackfill(ctx context.Context, id int64) (*models.BackfillResult, error) {
	prog, err := e.progress.GetBackfillProgress(ctx, id)
	if err != nil {
		return nil, err
	}
	if prog == nil {
		return nil, &ProgressError{BackfillID: id, Reason: "not found"}
	}
	if prog.Status != models.BackfillFailed && prog.Status != models.BackfillPending {
		return nil, &ProgressError{BackfillID: id, Reason: fmt.Sprintf("status %q is not resumable", prog.Status)}
	}
	if prog.CompletedChunks == 0 {
		return nil, &ProgressError{BackfillID: id, Reason: "no completed chunks to resume from"}
	}

	ep := collector.Endpoint(prog.EndpointName)
	cfg, ok := collector.Config(ep)
	if !ok {
		return nil, &ProgressError{BackfillID: id, Reason: fmt.Sprintf("unknown endpoint %q", prog.EndpointName)}
	}

	key := prog.AreaCode + "_" + prog.EndpointName
	if err := e.acquireSlot(key); err != nil {
		return nil, err
	}
	defer e.releaseSlot(key)
	e.trackOperation(key, prog.ID)

	// Failed chunks are retried on resume, so only the completed counter
	// carries over.
	skip := prog.CompletedChunks
	prog, err = e.progress.UpdateBackfillProgressFields(ctx, id, func(p *models.BackfillProgress) {
		p.Status = models.BackfillPending
		p.FailedChunks = 0
		p.LastError = ""
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[backfill] %s/%s: resuming operation %d at chunk %d/%d",
		prog.AreaCode, prog.EndpointName, id, skip+1, prog.TotalChunks)
	return e.run(ctx, prog, cfg, skip)
}

// GetBackfillStatus returns the persisted state of one operation.
func (e *Engine) GetBackfillStatus(ctx context.Context, id int64) (*models.BackfillProgress, error) {
	prog, err := e.progress.GetBackfillProgress(ctx, id)
	if err != nil {
		return nil, err
	}
	if prog == nil {
		return nil, &ProgressError{BackfillID: id, Reason: "not found"}
	}
	return prog, nil
}

// ListActiveBackfills lists pending and in-progress operations.
func (e *Engine) ListActiveBackfills(ctx context.Context) ([]models.BackfillProgress, error) {
	return e.progress.GetActiveBackfills(ctx)
}

// ListResumableBackfills lists interrupted operations that can be resumed.
func (e *Engine) ListResumableBackfills(ctx context.Context) ([]models.BackfillProgress, error) {
	return e.progress.GetResumableBackfills(ctx)
}

func (e *Engine) run(ctx context.Context, prog *models.BackfillProgress, cfg collector.EndpointConfig, skip int) (*models.BackfillResult, error) {
	runStart := e.clock.Now()
	chunks := chunkList(prog.PeriodStart, prog.PeriodEnd, prog.ChunkSizeDays)
	delay := time.Duration(prog.RateLimitDelay * float64(time.Second))

	prog, err := e.progress.UpdateBackfillProgressFields(ctx, prog.ID, func(p *models.BackfillProgress) {
		p.Status = models.BackfillInProgress
		now := runStart
		p.StartedAt = &now
		p.TotalChunks = len(chunks)
	})
	if err != nil {
		return nil, err
	}

	// Progress writes outlive the run context: when the run is cancelled the
	// record must still end up failed with the cancellation as last_error,
	// not stuck in_progress.
	pctx := context.WithoutCancel(ctx)

	var errMessages []string
	for i := skip; i < len(chunks); i++ {
		ck := chunks[i]
		if i > skip && delay > 0 {
			e.clock.Sleep(ctx, delay)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			errMessages = append(errMessages, ctxErr.Error())
			updated, uerr := e.progress.UpdateBackfillProgressFields(pctx, prog.ID, func(p *models.BackfillProgress) {
				p.FailedChunks++
				p.LastError = ctxErr.Error()
			})
			if uerr != nil {
				log.Printf("[backfill] %s/%s: operation %d progress update after cancellation failed: %v",
					prog.AreaCode, prog.EndpointName, prog.ID, uerr)
				errMessages = append(errMessages, uerr.Error())
			} else {
				prog = updated
			}
			break
		}

		prog, err = e.progress.UpdateBackfillProgressFields(pctx, prog.ID, func(p *models.BackfillProgress) {
			cs, ce := ck.start, ck.end
			p.CurrentChunkStart = &cs
			p.CurrentChunkEnd = &ce
		})
		if err != nil {
			return nil, err
		}

		stored, chunkErr := e.processChunk(ctx, prog.AreaCode, cfg, ck)
		outcome := "completed"
		if chunkErr != nil {
			outcome = "failed"
			errMessages = append(errMessages, chunkErr.Error())
			log.Printf("[backfill] %s/%s: operation %d chunk %d/%d failed: %v",
				prog.AreaCode, prog.EndpointName, prog.ID, i+1, len(chunks), chunkErr)
		}
		telemetry.BackfillChunksTotal.WithLabelValues(prog.AreaCode, prog.EndpointName, outcome).Inc()

		done := i + 1
		remaining := len(chunks) - done
		eta := e.estimateCompletion(runStart, done-skip, remaining)
		prog, err = e.progress.UpdateBackfillProgressFields(pctx, prog.ID, func(p *models.BackfillProgress) {
			if chunkErr != nil {
				p.FailedChunks++
				p.LastError = chunkErr.Error()
			} else {
				p.CompletedChunks++
				p.TotalDataPoints += int64(stored)
			}
			p.EstimatedCompletion = eta
		})
		if err != nil {
			return nil, err
		}

		if e.bus != nil {
			e.bus.Publish(eventbus.Event{Type: eventbus.TypeBackfillProgress, Area: prog.AreaCode, Data: *prog})
		}
	}

	finished := e.clock.Now()
	final := models.BackfillCompleted
	if prog.FailedChunks > 0 || len(errMessages) > 0 {
		final = models.BackfillFailed
	}
	prog, err = e.progress.UpdateBackfillProgressFields(pctx, prog.ID, func(p *models.BackfillProgress) {
		p.Status = final
		now := finished
		p.CompletedAt = &now
		p.CurrentChunkStart = nil
		p.CurrentChunkEnd = nil
		p.EstimatedCompletion = nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[backfill] %s/%s: operation %d %s: %d/%d chunks, %d points",
		prog.AreaCode, prog.EndpointName, prog.ID, final, prog.CompletedChunks, prog.TotalChunks, prog.TotalDataPoints)

	return &models.BackfillResult{
		BackfillID:      prog.ID,
		AreaCode:        prog.AreaCode,
		EndpointName:    prog.EndpointName,
		Success:         final == models.BackfillCompleted,
		TotalChunks:     prog.TotalChunks,
		CompletedChunks: prog.CompletedChunks,
		FailedChunks:    prog.FailedChunks,
		TotalDataPoints: prog.TotalDataPoints,
		ErrorMessages:   errMessages,
		DurationSeconds: finished.Sub(runStart).Seconds(),
	}, nil
}

// processChunk fetches, transforms and stores one chunk. A no-data
// acknowledgement counts as a clean zero-point chunk.
func (e *Engine) processChunk(ctx context.Context, area string, cfg collector.EndpointConfig, ck chunk) (int, error) {
	fetchStart := e.clock.Now()
	fetched, err := e.collector.Fetch(ctx, cfg.Name, area, ck.start, ck.end)
	telemetry.UpstreamRequestDuration.WithLabelValues(string(cfg.Name)).Observe(e.clock.Now().Sub(fetchStart).Seconds())
	if err != nil {
		return 0, err
	}
	if fetched.NoData {
		return 0, nil
	}

	if fetched.Prices != nil {
		points, err := transform.PriceDocument(fetched.Prices)
		if err != nil {
			return 0, err
		}
		if err := e.store.UpsertPricePoints(ctx, points); err != nil {
			return 0, err
		}
		return len(points), nil
	}
	points, err := transform.LoadDocument(fetched.Load)
	if err != nil {
		return 0, err
	}
	if err := e.store.UpsertLoadPoints(ctx, points); err != nil {
		return 0, err
	}
	telemetry.PointsStoredTotal.WithLabelValues(area, string(cfg.DataType)).Add(float64(len(points)))
	return len(points), nil
}

// estimateCompletion projects the finish time from the observed per-chunk
// pace of this run.
func (e *Engine) estimateCompletion(runStart time.Time, processed, remaining int) *time.Time {
	if processed <= 0 || remaining <= 0 {
		return nil
	}
	elapsed := e.clock.Now().Sub(runStart)
	perChunk := elapsed / time.Duration(processed)
	eta := e.clock.Now().Add(perChunk * time.Duration(remaining))
	return &eta
}

// acquireSlot reserves capacity under the concurrency cap. The check and the
// reservation are a single critical section.
func (e *Engine) acquireSlot(key string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if id, busy := e.active[key]; busy {
		return &ProgressError{BackfillID: id, Reason: "operation already running for this area and endpoint"}
	}
	if e.inFlight >= e.maxConcurrent {
		return &ResourceError{Limit: e.maxConcurrent, Current: e.inFlight}
	}
	e.inFlight++
	return nil
}

func (e *Engine) trackOperation(key string, id int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		e.active = make(map[string]int64)
	}
	e.active[key] = id
}

func (e *Engine) releaseSlot(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inFlight--
	delete(e.active, key)
}

type chunk struct {
	start, end time.Time
}

// chunkList cuts [start, end) into consecutive half-open spans of sizeDays.
func chunkList(start, end time.Time, sizeDays int) []chunk {
	if sizeDays <= 0 {
		return []chunk{{start: start, end: end}}
	}
	span := time.Duration(sizeDays) * 24 * time.Hour
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

func countChunks(start, end time.Time, sizeDays int) int {
	n := len(chunkList(start, end, sizeDays))
	if n < 1 {
		n = 1
	}
	return n
}
