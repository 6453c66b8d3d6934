package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/referlut/referlut-api/internal/archive"
	"github.com/referlut/referlut-api/internal/bankdata"
	"github.com/referlut/referlut-api/internal/classify"
	"github.com/referlut/referlut-api/internal/config"
	"github.com/referlut/referlut-api/internal/export"
	"github.com/referlut/referlut-api/internal/ingest"
	"github.com/referlut/referlut-api/internal/logger"
	"github.com/referlut/referlut-api/internal/oracle"
	"github.com/referlut/referlut-api/internal/ratelimit"
	"github.com/referlut/referlut-api/internal/store"
	"github.com/referlut/referlut-api/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("worker", "info")
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := logger.New("worker", cfg.Log.Level)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Database.Path).Msg("Failed to open store")
	}
	defer st.Close()

	client := bankdata.NewClient(cfg.BankData.BaseURL, cfg.BankData.SecretID, cfg.BankData.SecretKey)
	limiter := ratelimit.New(st, log)

	var classifierOracle oracle.Oracle
	if cfg.Oracle.APIKey != "" {
		classifierOracle, err = oracle.NewGemini(ctx, cfg.Oracle.APIKey, cfg.Oracle.Model)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create oracle client")
		}
	} else {
		log.Warn().Msg("No oracle API key configured - outflows will be classified as 'other'")
		classifierOracle = oracle.Unavailable{}
	}
	classifier := classify.New(classifierOracle, st, log)

	var feedArchiver ingest.FeedArchiver
	if cfg.Archive.Bucket != "" {
		gcsArchiver, err := archive.NewGCSArchiver(ctx, cfg.Archive.Bucket, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create feed archiver")
		}
		defer gcsArchiver.Close()
		feedArchiver = gcsArchiver
	} else {
		log.Warn().Msg("No archive bucket configured - raw feeds will not be archived")
	}

	ingestor := ingest.NewTransactionIngestor(client, st, limiter, classifier, feedArchiver, cfg.Ingest.WindowDays, log)

	// Nightly snapshot export to the analytics dataset
	var scheduler *cron.Cron
	if cfg.Export.Project != "" {
		exporter, err := export.NewBigQueryExporter(ctx, cfg.Export.Project, cfg.Export.Dataset, cfg.Export.Table, st, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create snapshot exporter")
		}
		defer exporter.Close()

		scheduler = cron.New()
		if err := exporter.Schedule(scheduler, cfg.Export.Schedule); err != nil {
			log.Fatal().Err(err).Msg("Failed to schedule snapshot export")
		}
		scheduler.Start()
		log.Info().Str("schedule", cfg.Export.Schedule).Msg("Snapshot export scheduled")
	} else {
		log.Warn().Msg("No export project configured - snapshot export disabled")
	}

	w := worker.New(
		st,
		ingestor,
		time.Duration(cfg.Worker.PollIntervalSeconds)*time.Second,
		cfg.Worker.BatchSize,
		time.Duration(cfg.Worker.MaxBackoffMinutes)*time.Minute,
	)

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker...")
	cancel()

	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Worker stopped with error")
	}

	if scheduler != nil {
		stopCtx := scheduler.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(30 * time.Second):
			log.Warn().Msg("Timed out waiting for a running export")
		}
	}

	log.Info().Msg("Worker stopped")
}
