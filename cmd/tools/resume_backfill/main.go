// Command resume_backfill continues an interrupted backfill operation from
// its last completed chunk.
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
	id := flag.Int64("id", 0, "backfill operation ID (omit to list resumable operations)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[resume_backfill] load config: %v", err)
	}
	repo, err := repository.NewRepository(cfg.Database.URL)
	if err != nil {
		log.Fatalf("[resume_backfill] connect database: %v", err)
	}
	defer repo.Close()

	client := entsoe.NewClient(entsoe.ClientOptions{
		BaseURL:           cfg.ENTSOE.BaseURL,
		SecurityToken:     cfg.ENTSOE.SecurityToken,
		RequestTimeout:    time.Duration(cfg.ENTSOE.RequestTimeoutSeconds) * time.Second,
		RequestsPerSecond: cfg.ENTSOE.RequestsPerSecond,
		Burst:             cfg.ENTSOE.RequestBurst,
	})
	engine := backfill.NewEngine(repo, repo, repo, collector.NewAdapter(client, nil), backfill.Options{
		Areas:                 cfg.Collection.Areas,
		HistoricalYears:       cfg.Backfill.HistoricalYears,
		ChunkSizeDays:         cfg.Backfill.ChunkSizeDays(),
		RateLimitDelaySeconds: cfg.Backfill.RateLimitDelaySeconds,
		MaxConcurrent:         cfg.Backfill.MaxConcurrentAreas,
	})
	ctx := context.Background()

	if *id == 0 {
		resumable, err := engine.ListResumableBackfills(ctx)
		if err != nil {
			log.Fatalf("[resume_backfill] list: %v", err)
		}
		if len(resumable) == 0 {
			log.Printf("[resume_backfill] no resumable operations")
			return
		}
		for _, p := range resumable {
			log.Printf("[resume_backfill] %d: %s/%s %s %d/%d chunks (%.2f%%) last error: %s",
				p.ID, p.AreaCode, p.EndpointName, p.Status, p.CompletedChunks, p.TotalChunks,
				p.ProgressPercentage, p.LastError)
		}
		return
	}

	result, err := engine.ResumeBackfill(ctx, *id)
	if err != nil {
		log.Fatalf("[resume_backfill] %v", err)
	}
	log.Printf("[resume_backfill] operation %d finished: success=%v chunks=%d/%d points=%d",
		result.BackfillID, result.Success, result.CompletedChunks, result.TotalChunks, result.TotalDataPoints)
}
