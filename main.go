package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gridscan/internal/api"
	"gridscan/internal/backfill"
	"gridscan/internal/clock"
	"gridscan/internal/collection"
	"gridscan/internal/collector"
	"gridscan/internal/config"
	"gridscan/internal/entsoe"
	"gridscan/internal/eventbus"
	"gridscan/internal/monitoring"
	"gridscan/internal/repository"
	"gridscan/internal/scheduler"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[main] load config: %v", err)
	}

	repo, err := repository.NewRepository(cfg.Database.URL)
	if err != nil {
		log.Fatalf("[main] connect database: %v", err)
	}
	defer repo.Close()

	if os.Getenv("SKIP_MIGRATION") == "" {
		if err := repo.Migrate(cfg.Database.SchemaPath); err != nil {
			log.Fatalf("[main] migrate: %v", err)
		}
		log.Printf("[main] schema applied from %s", cfg.Database.SchemaPath)
	}

	client := entsoe.NewClient(entsoe.ClientOptions{
		BaseURL:           cfg.ENTSOE.BaseURL,
		SecurityToken:     cfg.ENTSOE.SecurityToken,
		RequestTimeout:    time.Duration(cfg.ENTSOE.RequestTimeoutSeconds) * time.Second,
		RequestsPerSecond: cfg.ENTSOE.RequestsPerSecond,
		Burst:             cfg.ENTSOE.RequestBurst,
	})
	adapter := collector.NewAdapter(client, nil)

	bus := eventbus.New()
	clk := clock.UTC{}

	collectionEngine := collection.NewEngine(repo, adapter, repo, collection.Options{
		Areas:                 cfg.Collection.Areas,
		RateLimitDelaySeconds: cfg.Collection.RateLimitDelaySeconds,
		Clock:                 clk,
		Bus:                   bus,
	})

	backfillEngine := backfill.NewEngine(repo, repo, repo, adapter, backfill.Options{
		Areas:                 cfg.Collection.Areas,
		HistoricalYears:       cfg.Backfill.HistoricalYears,
		ChunkSizeDays:         cfg.Backfill.ChunkSizeDays(),
		RateLimitDelaySeconds: cfg.Backfill.RateLimitDelaySeconds,
		MaxConcurrent:         cfg.Backfill.MaxConcurrentAreas,
		Clock:                 clk,
		Bus:                   bus,
	})

	monitoringEngine := monitoring.NewEngine(repo, cfg.Monitoring, cfg.Collection.Areas, clk)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := scheduler.New(cfg.Scheduler, collectionEngine, backfillEngine, monitoringEngine, repo, repo, clk)
	if cfg.Scheduler.Enabled {
		if err := sched.Start(ctx); err != nil {
			log.Fatalf("[main] start scheduler: %v", err)
		}
		defer sched.Stop()
	} else {
		log.Printf("[main] scheduler disabled by config")
	}

	server := api.NewServer(cfg.API, backfillEngine, monitoringEngine, sched, bus)

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		s := <-sig
		log.Printf("[main] received %s, shutting down", s)
		cancel()
	}()

	if err := server.Start(ctx); err != nil {
		log.Fatalf("[main] api server: %v", err)
	}
	log.Printf("[main] shutdown complete")
}
