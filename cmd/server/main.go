package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gwi.com/messaging-loadtest/internal/api"
	"gwi.com/messaging-loadtest/internal/chaos"
	"gwi.com/messaging-loadtest/internal/config"
	"gwi.com/messaging-loadtest/internal/core"
	"gwi.com/messaging-loadtest/internal/logging"
	"gwi.com/messaging-loadtest/internal/metrics"
	"gwi.com/messaging-loadtest/internal/store"
)

func main() {
	// Load configuration
	config.LoadConfig()
	cfg := config.AppConfig

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Initialize database store
	dbStore, err := store.Open(context.Background(), cfg.DatabaseDriver, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.String("driver", cfg.DatabaseDriver), zap.Error(err))
	}
	defer dbStore.Close()

	messagingService := core.NewMessagingService(dbStore, logger,
		time.Duration(cfg.ReadLatencyMs)*time.Millisecond,
		time.Duration(cfg.WriteLatencyMs)*time.Millisecond)

	recorder := metrics.NewRecorder()
	injector := chaos.NewInjector(cfg.ChaosFaultRate, chaos.WithEnabled(cfg.ChaosEnabled))

	// Initialize API Handler and Router
	apiHandler := api.NewAPIHandler(messagingService, recorder, injector, logger, cfg.ServerID)
	router := api.NewRouter(apiHandler)

	// Start HTTP server
	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)

	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		logger.Info("starting server",
			zap.String("addr", serverAddr),
			zap.String("server_id", cfg.ServerID),
			zap.String("driver", cfg.DatabaseDriver),
			zap.Bool("chaos_enabled", injector.Enabled()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("could not listen", zap.String("addr", serverAddr), zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	// Give in-flight requests time to finish.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exiting gracefully",
		zap.Uint64("total_requests", recorder.TotalRequests()),
		zap.Uint64("errors", recorder.Errors()))
}
