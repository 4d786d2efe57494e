// Command backfill_status prints the state of one backfill operation, or all
// active operations when no ID is given.
package main

import (
	"context"
	"flag"
	"log"

	"gridscan/internal/config"
	"gridscan/internal/models"
	"gridscan/internal/repository"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	id := flag.Int64("id", 0, "backfill operation ID (omit for all active)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[backfill_status] load config: %v", err)
	}
	repo, err := repository.NewRepository(cfg.Database.URL)
	if err != nil {
		log.Fatalf("[backfill_status] connect database: %v", err)
	}
	defer repo.Close()
	ctx := context.Background()

	if *id != 0 {
		prog, err := repo.GetBackfillProgress(ctx, *id)
		if err != nil {
			log.Fatalf("[backfill_status] %v", err)
		}
		if prog == nil {
			log.Fatalf("[backfill_status] operation %d not found", *id)
		}
		printProgress(prog)
		return
	}

	active, err := repo.GetActiveBackfills(ctx)
	if err != nil {
		log.Fatalf("[backfill_status] %v", err)
	}
	if len(active) == 0 {
		log.Printf("[backfill_status] no active operations")
		return
	}
	for i := range active {
		printProgress(&active[i])
	}
}

func printProgress(p *models.BackfillProgress) {
	log.Printf("[backfill_status] %d: %s/%s %s", p.ID, p.AreaCode, p.EndpointName, p.Status)
	log.Printf("[backfill_status]   period %s .. %s, chunk size %d days",
		p.PeriodStart.Format("2006-01-02"), p.PeriodEnd.Format("2006-01-02"), p.ChunkSizeDays)
	log.Printf("[backfill_status]   progress %.2f%% (%d/%d chunks, %d failed, %d points)",
		p.ProgressPercentage, p.CompletedChunks, p.TotalChunks, p.FailedChunks, p.TotalDataPoints)
	if p.CurrentChunkStart != nil && p.CurrentChunkEnd != nil {
		log.Printf("[backfill_status]   current chunk %s .. %s",
			p.CurrentChunkStart.Format("2006-01-02"), p.CurrentChunkEnd.Format("2006-01-02"))
	}
	if p.EstimatedCompletion != nil {
		log.Printf("[backfill_status]   estimated completion %s", p.EstimatedCompletion.Format("2006-01-02 15:04"))
	}
	if p.LastError != "" {
		log.Printf("[backfill_status]   last error: %s", p.LastError)
	}
}
