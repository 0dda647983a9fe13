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

	"github.com/gin-gonic/gin"

	"github.com/quantflow-ai/quantflow/internal/api"
	"github.com/quantflow-ai/quantflow/internal/config"
	"github.com/quantflow-ai/quantflow/internal/dataset"
	"github.com/quantflow-ai/quantflow/internal/database"
	"github.com/quantflow-ai/quantflow/internal/forecast"
	"github.com/quantflow-ai/quantflow/internal/ledger"
	"github.com/quantflow-ai/quantflow/internal/logging"
	"github.com/quantflow-ai/quantflow/internal/market"
	"github.com/quantflow-ai/quantflow/internal/oracle"
	"github.com/quantflow-ai/quantflow/internal/services"
	qsignal "github.com/quantflow-ai/quantflow/internal/signal"
	"github.com/quantflow-ai/quantflow/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.NewStandardLogger(cfg.LogLevel, cfg.Environment)
	logger.Info("Starting quantflow server",
		"environment", cfg.Environment,
		"strategy_version", cfg.Strategy.Version,
	)

	db, err := database.NewPostgresConnection(cfg.Database, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	redisClient, err := database.NewRedisConnection(cfg.Redis, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redisClient.Close()

	indicators := store.NewIndicatorStore(db.Pool, logger)
	if err := indicators.Migrate(context.Background()); err != nil {
		logger.WithError(err).Fatal("Failed to migrate indicator schema")
	}

	kv := store.NewRedisKV(redisClient.Client)

	builder := dataset.NewBuilder(indicators, logger)
	forecasts := forecast.NewCache(builder, forecast.NewClient(cfg.Forecast), kv, cfg.Forecast, logger)
	tracker := forecast.NewTracker(kv, logger)

	positions := ledger.New(kv, oracle.NewClient(cfg.Oracle, logger), cfg.Strategy, cfg.Oracle, logger)

	engine := services.NewEngine(
		market.NewClient(cfg.Market),
		market.NewDeriver(),
		indicators,
		forecasts,
		tracker,
		qsignal.NewEngine(cfg.Strategy, logger),
		positions,
		services.NewNotifier(cfg.Telegram, logger),
		services.NewRetryPolicy(cfg.Market, logger),
		cfg.Forecast,
		cfg.Strategy,
		logger,
	)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	api.SetupRoutes(router, api.NewHandlers(indicators, kv, positions, engine, logger), db, redisClient)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Server listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Fatal("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
