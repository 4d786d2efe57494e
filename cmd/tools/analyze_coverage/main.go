// Command analyze_coverage reports stored-vs-expected point counts per
// (area, endpoint) pair and flags the pairs that need backfill.
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
	area := flag.String("area", "", "restrict to one area code")
	endpoint := flag.String("endpoint", "", "restrict to one endpoint")
	years := flag.Int("years", 0, "years back to analyze (default from config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[analyze_coverage] load config: %v", err)
	}
	repo, err := repository.NewRepository(cfg.Database.URL)
	if err != nil {
		log.Fatalf("[analyze_coverage] connect database: %v", err)
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
		Areas:           cfg.Collection.Areas,
		HistoricalYears: cfg.Backfill.HistoricalYears,
		ChunkSizeDays:   cfg.Backfill.ChunkSizeDays(),
	})

	var areas []string
	if *area != "" {
		areas = []string{*area}
	}
	var endpoints []collector.Endpoint
	if *endpoint != "" {
		endpoints = []collector.Endpoint{collector.Endpoint(*endpoint)}
	}

	analyses, err := engine.AnalyzeCoverage(context.Background(), areas, endpoints, *years)
	if err != nil {
		log.Fatalf("[analyze_coverage] %v", err)
	}

	var flagged int
	for _, a := range analyses {
		marker := " "
		if a.NeedsBackfill {
			marker = "!"
			flagged++
		}
		log.Printf("[analyze_coverage] %s %-6s %-22s %8.2f%% (%d/%d points)",
			marker, a.AreaCode, a.EndpointName, a.CoveragePercentage, a.ActualPoints, a.ExpectedPoints)
	}
	log.Printf("[analyze_coverage] %d of %d pairs need backfill", flagged, len(analyses))
}
