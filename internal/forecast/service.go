package forecast

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/openairlab/airq-analytics/internal/batch"
	"github.com/openairlab/airq-analytics/internal/domain"
	"github.com/openairlab/airq-analytics/internal/observability"
)

// DataSource is the store surface the service reads training data from.
type DataSource interface {
	FullSeries(city string, pollutant domain.Pollutant) domain.Series
	LatestDate(city string, pollutant domain.Pollutant) (time.Time, bool)
	Cities() []string
	Pollutants(city string) []domain.Pollutant
}

// Service serves forecasts from the model store, refitting a pair's model
// whenever new data has arrived since it was trained. Models are never
// silently reused past their data version.
type Service struct {
	data    DataSource
	engine  *Engine
	models  *ModelStore
	logger  *slog.Logger
	metrics *observability.Metrics
	workers int
}

// NewService wires the forecast service.
func NewService(data DataSource, engine *Engine, models *ModelStore, logger *slog.Logger, metrics *observability.Metrics, workers int) *Service {
	if workers < 1 {
		workers = 1
	}
	return &Service{
		data:    data,
		engine:  engine,
		models:  models,
		logger:  logger,
		metrics: metrics,
		workers: workers,
	}
}

// Forecast returns a horizon-day forecast for the pair, fitting or
// refreshing the model first when needed.
func (s *Service) Forecast(_ context.Context, city string, pollutant domain.Pollutant, horizonDays int) (*domain.ForecastResult, error) {
	latest, ok := s.data.LatestDate(city, pollutant)
	if !ok {
		return nil, fmt.Errorf("forecast %s/%s: no observations: %w", city, pollutant, domain.ErrInsufficientData)
	}

	model, ok := s.models.Fresh(city, pollutant, latest)
	if !ok {
		fitted, err := s.fit(city, pollutant)
		if err != nil {
			return nil, err
		}
		model = fitted
	}

	result, err := s.engine.Predict(model, horizonDays)
	if err != nil {
		return nil, err
	}
	s.metrics.ForecastsProduced.Inc()
	return result, nil
}

// RetrainAll refits every pair in the store over a bounded worker pool and
// returns the per-pair outcomes. Failures are isolated per pair.
func (s *Service) RetrainAll(ctx context.Context) []batch.Result[*Model] {
	units := batch.AllUnits(s.data)
	results := batch.Run(ctx, units, s.workers, func(_ context.Context, u batch.Unit) (*Model, error) {
		return s.fit(u.City, u.Pollutant)
	})

	fitted := 0
	for _, r := range results {
		if r.Err != nil {
			s.logger.Warn("model fit failed",
				"city", r.Unit.City, "pollutant", r.Unit.Pollutant, "error", r.Err)
			continue
		}
		fitted++
	}
	s.logger.Info("retrain pass complete", "pairs", len(units), "fitted", fitted)
	return results
}

func (s *Service) fit(city string, pollutant domain.Pollutant) (*Model, error) {
	start := time.Now()
	model, err := s.engine.Fit(s.data.FullSeries(city, pollutant))
	s.metrics.FitDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.ModelFits.WithLabelValues("error").Inc()
		return nil, err
	}
	s.metrics.ModelFits.WithLabelValues("success").Inc()
	if !model.Degenerate {
		s.metrics.BacktestCoverage.Observe(model.Backtest.Coverage)
	}
	s.models.Put(model)
	return model, nil
}
