// Package http exposes health, metrics, and the v1 analytics API: forecasts,
// policy impact evaluation, and health cost estimates.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openairlab/airq-analytics/internal/domain"
	"github.com/openairlab/airq-analytics/internal/health"
	"github.com/openairlab/airq-analytics/internal/observability"
)

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// Forecaster produces forecasts on demand.
type Forecaster interface {
	Forecast(ctx context.Context, city string, pollutant domain.Pollutant, horizonDays int) (*domain.ForecastResult, error)
}

// ImpactEvaluator scores interventions.
type ImpactEvaluator interface {
	Evaluate(iv domain.Intervention) (*domain.ImpactResult, error)
}

// SeriesSource supplies series for cost estimation.
type SeriesSource interface {
	Series(city string, pollutant domain.Pollutant, from, to time.Time) domain.Series
	FullSeries(city string, pollutant domain.Pollutant) domain.Series
}

// Deps bundles the server's collaborators.
type Deps struct {
	Ready     ReadinessChecker
	Forecasts Forecaster
	Impacts   ImpactEvaluator
	Series    SeriesSource
	Metrics   *observability.Metrics
	Logger    *slog.Logger
}

// Server exposes the HTTP API.
type Server struct {
	httpServer *http.Server
	deps       Deps
	logger     *slog.Logger
}

// NewServer creates an HTTP server with health, metrics, and v1 API routes.
func NewServer(addr string, deps Deps) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		deps:   deps,
		logger: deps.Logger,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", handleReady(deps.Ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /v1/forecast", s.handleForecast)
	mux.HandleFunc("POST /v1/impact", s.handleImpact)
	mux.HandleFunc("POST /v1/cost", s.handleCost)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func handleReady(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := checker.CheckReadiness(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	city := q.Get("city")
	if city == "" {
		writeError(w, http.StatusBadRequest, "city is required")
		return
	}
	pollutant, ok := domain.ParsePollutant(q.Get("pollutant"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown pollutant")
		return
	}
	horizon, err := strconv.Atoi(q.Get("horizon"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "horizon must be an integer")
		return
	}

	result, err := s.deps.Forecasts.Forecast(r.Context(), city, pollutant, horizon)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleImpact(w http.ResponseWriter, r *http.Request) {
	var iv domain.Intervention
	if err := json.NewDecoder(r.Body).Decode(&iv); err != nil {
		writeError(w, http.StatusBadRequest, "invalid intervention body: "+err.Error())
		return
	}

	result, err := s.deps.Impacts.Evaluate(iv)
	if err != nil {
		s.deps.Metrics.Evaluations.WithLabelValues("error").Inc()
		s.writeDomainError(w, err)
		return
	}
	s.deps.Metrics.Evaluations.WithLabelValues(string(result.Classification)).Inc()
	writeJSON(w, http.StatusOK, result)
}

// costRequest selects a series slice and the pricing inputs. Bands default
// to the CPCB table when omitted; From/To default to the full series.
type costRequest struct {
	City       string        `json:"city"`
	Pollutant  string        `json:"pollutant"`
	From       string        `json:"from,omitempty"`
	To         string        `json:"to,omitempty"`
	Bands      []health.Band `json:"bands,omitempty"`
	Population int64         `json:"population"`
}

func (s *Server) handleCost(w http.ResponseWriter, r *http.Request) {
	var req costRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid cost body: "+err.Error())
		return
	}
	pollutant, ok := domain.ParsePollutant(req.Pollutant)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown pollutant")
		return
	}

	var series domain.Series
	if req.From == "" && req.To == "" {
		series = s.deps.Series.FullSeries(req.City, pollutant)
	} else {
		from, err := time.Parse(domain.DateLayout, req.From)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from date")
			return
		}
		to, err := time.Parse(domain.DateLayout, req.To)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid to date")
			return
		}
		series = s.deps.Series.Series(req.City, pollutant, from, to)
	}

	bands := req.Bands
	if len(bands) == 0 {
		bands = health.DefaultBands()
	}

	estimate, err := health.EstimateCost(series, bands, req.Population)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, estimate)
}

// writeDomainError maps sentinel errors onto HTTP statuses: caller mistakes
// are 400, data problems 422, key conflicts 409, everything else 500.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidHorizon), errors.Is(err, domain.ErrInvalidIntervention):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrInsufficientData), errors.Is(err, domain.ErrInsufficientWindow):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
