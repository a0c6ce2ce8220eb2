package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/helltractor/trading-exchange-system/internal/infrastructure/config"
	"github.com/helltractor/trading-exchange-system/internal/infrastructure/messaging"
	"github.com/helltractor/trading-exchange-system/internal/redis"
	"github.com/helltractor/trading-exchange-system/internal/store"
	"github.com/helltractor/trading-exchange-system/internal/trading/engine"
	"github.com/helltractor/trading-exchange-system/pkg/logger"
)

const consumerGroupID = "trading-engine-group"

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

	redisClient, err := redis.NewClient(cfg.Redis, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to connect to redis", zap.Error(err))
	}
	defer redisClient.Close()

	tickProducer := messaging.NewProducer(cfg.Kafka, messaging.TopicTick, zapLogger)
	defer tickProducer.Close()

	feeRate, err := decimal.NewFromString(cfg.Engine.FeeRate)
	if err != nil {
		zapLogger.Fatal("Invalid fee rate", zap.String("feeRate", cfg.Engine.FeeRate), zap.Error(err))
	}

	svc := engine.NewService(engine.Config{
		OrderBookDepth: cfg.Engine.OrderBookDepth,
		DebugMode:      cfg.Engine.DebugMode,
		FeeRate:        feeRate,
	}, eventStore, tickProducer, redisClient, zapLogger)

	if err := svc.Recover(); err != nil {
		zapLogger.Fatal("Failed to recover engine state", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc.Start(ctx)

	consumer := messaging.NewBatchConsumer(cfg.Kafka, messaging.TopicTrade, consumerGroupID, zapLogger)
	defer consumer.Close()

	zapLogger.Info("trading engine started",
		zap.Int64("lastSequenceID", svc.LastSequenceID()),
		zap.Bool("debugMode", cfg.Engine.DebugMode))

	if err := svc.RunConsumer(ctx, consumer); err != nil && ctx.Err() == nil {
		zapLogger.Fatal("Consumer stopped unexpectedly", zap.Error(err))
	}
	zapLogger.Info("trading engine shut down")
}

func openDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	switch cfg.Driver {
	case "sqlite":
		return gorm.Open(sqlite.Open(cfg.DSN), &gorm.Config{})
	default:
		return gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{})
	}
}
