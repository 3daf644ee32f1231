package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// ingestion pipeline and the model lifecycle.
type Metrics struct {
	RowsIngested    prometheus.Counter
	RowsRejected    prometheus.Counter
	PipelineRunning prometheus.Gauge

	// Batch processing metrics.
	BatchSize               prometheus.Histogram
	BatchProcessingDuration prometheus.Histogram

	// Model lifecycle metrics.
	ModelFits         *prometheus.CounterVec // labels: outcome={success,error}
	FitDuration       prometheus.Histogram
	BacktestCoverage  prometheus.Histogram
	ForecastsProduced prometheus.Counter
	Evaluations       *prometheus.CounterVec // labels: classification={effective,inconclusive,ineffective,error}
}

// NewMetrics creates and registers all service metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		RowsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "airq",
			Name:      "rows_ingested_total",
			Help:      "Total observation rows accepted into the store.",
		}),
		RowsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "airq",
			Name:      "rows_rejected_total",
			Help:      "Total observation rows rejected by validation.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "airq",
			Name:      "pipeline_running",
			Help:      "1 when the ingestion pipeline is active, 0 when shut down.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "airq",
			Name:      "batch_size",
			Help:      "Number of messages per batch extracted from the source topic.",
			Buckets:   []float64{1, 5, 10, 20, 30, 40, 50, 75, 100},
		}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "airq",
			Name:      "batch_processing_duration_seconds",
			Help:      "Duration of a complete batch extract-parse-load cycle.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
		ModelFits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "airq",
			Name:      "model_fits_total",
			Help:      "Model fit attempts by outcome.",
		}, []string{"outcome"}),
		FitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "airq",
			Name:      "fit_duration_seconds",
			Help:      "Duration of a single model fit including backtest calibration.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		BacktestCoverage: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "airq",
			Name:      "backtest_coverage",
			Help:      "Empirical holdout coverage of fitted models at the nominal band.",
			Buckets:   []float64{0.5, 0.7, 0.8, 0.85, 0.88, 0.9, 0.95, 1},
		}),
		ForecastsProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "airq",
			Name:      "forecasts_produced_total",
			Help:      "Total forecasts produced and published.",
		}),
		Evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "airq",
			Name:      "policy_evaluations_total",
			Help:      "Policy impact evaluations by resulting classification.",
		}, []string{"classification"}),
	}

	prometheus.MustRegister(
		m.RowsIngested,
		m.RowsRejected,
		m.PipelineRunning,
		m.BatchSize,
		m.BatchProcessingDuration,
		m.ModelFits,
		m.FitDuration,
		m.BacktestCoverage,
		m.ForecastsProduced,
		m.Evaluations,
	)

	return m
}

// NewMetricsForTesting creates Metrics with unregistered collectors to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		RowsIngested:            prometheus.NewCounter(prometheus.CounterOpts{Namespace: "airq", Name: "rows_ingested_total"}),
		RowsRejected:            prometheus.NewCounter(prometheus.CounterOpts{Namespace: "airq", Name: "rows_rejected_total"}),
		PipelineRunning:         prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "airq", Name: "pipeline_running"}),
		BatchSize:               prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "airq", Name: "batch_size"}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "airq", Name: "batch_processing_duration_seconds"}),
		ModelFits:               prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "airq", Name: "model_fits_total"}, []string{"outcome"}),
		FitDuration:             prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "airq", Name: "fit_duration_seconds"}),
		BacktestCoverage:        prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "airq", Name: "backtest_coverage"}),
		ForecastsProduced:       prometheus.NewCounter(prometheus.CounterOpts{Namespace: "airq", Name: "forecasts_produced_total"}),
		Evaluations:             prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "airq", Name: "policy_evaluations_total"}, []string{"classification"}),
	}
}
