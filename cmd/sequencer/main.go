package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/helltractor/trading-exchange-system/internal/infrastructure/config"
	"github.com/helltractor/trading-exchange-system/internal/sequencer"
	"github.com/helltractor/trading-exchange-system/internal/store"
	"github.com/helltractor/trading-exchange-system/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zapLogger, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	db, err := openDatabase(cfg.Database)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}

	eventStore := store.New(db, zapLogger)
	if err := eventStore.AutoMigrate(); err != nil {
		zapLogger.Fatal("Failed to migrate database schema", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc := sequencer.NewService(sequencer.NewHandler(eventStore, zapLogger), cfg.Kafka, zapLogger)
	if err := svc.Run(ctx); err != nil && ctx.Err() == nil {
		zapLogger.Fatal("Sequencer stopped unexpectedly", zap.Error(err))
	}
	zapLogger.Info("sequencer shut down")
}

func openDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	switch cfg.Driver {
	case "sqlite":
		return gorm.Open(sqlite.Open(cfg.DSN), &gorm.Config{})
	default:
		return gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{})
	}
}
