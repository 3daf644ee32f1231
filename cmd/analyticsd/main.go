package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/openairlab/airq-analytics/internal/adapter/http"
	kafkaadapter "github.com/openairlab/airq-analytics/internal/adapter/kafka"
	"github.com/openairlab/airq-analytics/internal/config"
	"github.com/openairlab/airq-analytics/internal/domain"
	"github.com/openairlab/airq-analytics/internal/forecast"
	"github.com/openairlab/airq-analytics/internal/ingest"
	"github.com/openairlab/airq-analytics/internal/observability"
	"github.com/openairlab/airq-analytics/internal/policy"
	"github.com/openairlab/airq-analytics/internal/seasonal"
	"github.com/openairlab/airq-analytics/internal/store"
)

// publishHorizonDays is the horizon of the forecasts pushed to the sink topic
// after each retrain pass. Ad-hoc horizons go through the HTTP API instead.
const publishHorizonDays = 7

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	st := store.New()
	profiles := seasonal.NewCached(seasonal.New(seasonal.Config{}), cfg.ProfileCacheSize)

	engine := forecast.NewEngine(forecast.Config{}, profiles)
	models := forecast.NewModelStore()
	forecasts := forecast.NewService(st, engine, models, logger, metrics, cfg.FitWorkers)

	evaluator := policy.NewEvaluator(policy.DefaultConfig(), st, profiles)

	reader := kafkaadapter.NewReader(cfg, logger)
	writer := kafkaadapter.NewWriter(cfg, logger)

	p := ingest.New(reader, st, logger, metrics, cfg.BatchSize)

	srv := httpadapter.NewServer(cfg.HTTPAddr, httpadapter.Deps{
		Ready:     p,
		Forecasts: forecasts,
		Impacts:   evaluator,
		Series:    st,
		Metrics:   metrics,
		Logger:    logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start ingest pipeline.
	go func() {
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	// Periodically refit every model and publish fresh forecasts.
	go retrainLoop(ctx, cfg.RetrainInterval, forecasts, writer, logger)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}

	logger.Info("shutdown complete")
}

func retrainLoop(ctx context.Context, interval time.Duration, forecasts *forecast.Service, writer *kafkaadapter.Writer, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		results := forecasts.RetrainAll(ctx)

		published := make([]*domain.ForecastResult, 0, len(results))
		for _, r := range results {
			if r.Err != nil {
				continue
			}
			fc, err := forecasts.Forecast(ctx, r.Unit.City, r.Unit.Pollutant, publishHorizonDays)
			if err != nil {
				logger.Warn("forecast after retrain failed",
					"city", r.Unit.City, "pollutant", r.Unit.Pollutant, "error", err)
				continue
			}
			published = append(published, fc)
		}
		if len(published) == 0 {
			continue
		}
		if err := writer.PublishBatch(ctx, published); err != nil {
			logger.Error("forecast publish failed", "count", len(published), "error", err)
		}
	}
}
