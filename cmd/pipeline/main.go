package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"trial-hand/config"
	"trial-hand/services"
	"trial-hand/storage"
)

// Batch-Einstieg: führt genau einen Pipeline-Lauf aus und beendet sich.
// Gedacht für Cron-Jobs und CI; ohne Datenbank, die flachen Cache-Dateien
// sind das einzige Ergebnis. Exit-Code 1 bei jedem Erhebungsfehler.
func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}

	tables, err := config.LoadTables(cfg.TopicsFile)
	if err != nil {
		logging.Fatal("Tabellen-Konfiguration fehlerhaft", zap.Error(err))
	}

	svc := services.NewFetchService(cfg, tables, nil, newS3ClientIfConfigured(cfg, logging), logging)

	result, err := svc.Run(context.Background(), services.RunOptions{Force: cfg.ForceRefresh})
	if err != nil {
		logging.Error("Pipeline-Lauf fehlgeschlagen", zap.Error(err))
		os.Exit(1)
	}

	logging.Info("Pipeline-Lauf abgeschlossen",
		zap.String("run_id", result.RunID),
		zap.Int("raw_rows", result.RawRows),
		zap.Int("studies", result.Studies),
		zap.Bool("from_cache", result.FromCache),
		zap.Duration("duration", result.Duration))
}

func newS3ClientIfConfigured(cfg *config.Config, logger *zap.Logger) *s3.Client {
	if !cfg.S3Enabled() {
		return nil
	}
	client, err := storage.NewS3Client(cfg)
	if err != nil {
		logger.Warn("S3 client creation failed", zap.Error(err))
		return nil
	}
	return client
}
