// Command start_backfill launches one backfill operation for an (area,
// endpoint) pair and blocks until it finishes.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"gridscan/internal/backfill"
	"gridscan/internal/collector"
	"gridscan/internal/config"
	"gridscan/internal/entsoe"
	"gridscan/internal/repository"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	area := flag.String("area", "", "area code, e.g. DE")
	endpoint := flag.String("endpoint", "", "endpoint name, e.g. actual_load")
	startStr := flag.String("start", "", "period start (RFC3339 or 2006-01-02)")
	endStr := flag.String("end", "", "period end (RFC3339 or 2006-01-02)")
	chunkDays := flag.Int("chunk-days", 0, "chunk size in days (0 uses the configured default)")
	flag.Parse()

	if *area == "" || *endpoint == "" || *startStr == "" || *endStr == "" {
		log.Fatalf("[start_backfill] -area, -endpoint, -start and -end are required")
	}
	start, err := parseDay(*startStr)
	if err != nil {
		log.Fatalf("[start_backfill] bad -start: %v", err)
	}
	end, err := parseDay(*endStr)
	if err != nil {
		log.Fatalf("[start_backfill] bad -end: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[start_backfill] load config: %v", err)
	}
	repo, err := repository.NewRepository(cfg.Database.URL)
	if err != nil {
		log.Fatalf("[start_backfill] connect database: %v", err)
	}
	defer repo.Close()

	engine := newEngine(cfg, repo)

	log.Printf("[start_backfill] %s/%s over %s..%s", *area, *endpoint, start.Format("2006-01-02"), end.Format("2006-01-02"))
	result, err := engine.StartBackfill(context.Background(), *area, collector.Endpoint(*endpoint), start, end, *chunkDays)
	if err != nil {
		log.Fatalf("[start_backfill] %v", err)
	}

	log.Printf("[start_backfill] operation %d finished: success=%v chunks=%d/%d points=%d in %.1fs",
		result.BackfillID, result.Success, result.CompletedChunks, result.TotalChunks,
		result.TotalDataPoints, result.DurationSeconds)
	for _, msg := range result.ErrorMessages {
		log.Printf("[start_backfill] error: %s", msg)
	}
}

func newEngine(cfg *config.Config, repo *repository.Repository) *backfill.Engine {
	client := entsoe.NewClient(entsoe.ClientOptions{
		BaseURL:           cfg.ENTSOE.BaseURL,
		SecurityToken:     cfg.ENTSOE.SecurityToken,
		RequestTimeout:    time.Duration(cfg.ENTSOE.RequestTimeoutSeconds) * time.Second,
		RequestsPerSecond: cfg.ENTSOE.RequestsPerSecond,
		Burst:             cfg.ENTSOE.RequestBurst,
	})
	return backfill.NewEngine(repo, repo, repo, collector.NewAdapter(client, nil), backfill.Options{
		Areas:                 cfg.Collection.Areas,
		HistoricalYears:       cfg.Backfill.HistoricalYears,
		ChunkSizeDays:         cfg.Backfill.ChunkSizeDays(),
		RateLimitDelaySeconds: cfg.Backfill.RateLimitDelaySeconds,
		MaxConcurrent:         cfg.Backfill.MaxConcurrentAreas,
	})
}

func parseDay(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse("2006-01-02", s)
}
