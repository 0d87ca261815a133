package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"gwi.com/messaging-loadtest/internal/config"
	"gwi.com/messaging-loadtest/internal/logging"
	"gwi.com/messaging-loadtest/internal/seed"
	"gwi.com/messaging-loadtest/internal/store"
)

func main() {
	config.LoadConfig()
	cfg := config.AppConfig

	seedCfg := seed.DefaultConfig()
	flag.IntVar(&seedCfg.Users, "users", seedCfg.Users, "number of users to create")
	flag.IntVar(&seedCfg.Conversations, "conversations", seedCfg.Conversations, "number of conversations to create")
	flag.IntVar(&seedCfg.Messages, "messages", seedCfg.Messages, "number of messages to create")
	flag.IntVar(&seedCfg.MessageBatch, "batch", seedCfg.MessageBatch, "messages per insert batch")
	flag.Uint64Var(&seedCfg.Seed, "rand-seed", seedCfg.Seed, "random seed for reproducible data")
	driver := flag.String("driver", cfg.DatabaseDriver, "database driver (sqlite3 or postgres)")
	dsn := flag.String("db", cfg.DatabaseURL, "database connection string or file")
	flag.Parse()

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbStore, err := store.Open(ctx, *driver, *dsn, cfg.DBMaxConns)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.String("driver", *driver), zap.Error(err))
	}
	defer dbStore.Close()

	seeder, err := seed.NewSeeder(dbStore, seed.NewSource(seedCfg.Seed), seedCfg, logger)
	if err != nil {
		logger.Fatal("failed to create seeder", zap.Error(err))
	}

	if _, err := seeder.Run(ctx); err != nil {
		logger.Error("seeding failed", zap.Error(err))
		dbStore.Close()
		os.Exit(1)
	}
}
