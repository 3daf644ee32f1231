// Package forecast fits per-(city, pollutant) models on top of seasonal
// profiles and produces bounded daily forecasts. Fitting validates itself
// with a holdout backtest and adjusts its uncertainty band in both
// directions: widened until empirical coverage clears the configured floor,
// narrowed back while it sits above the ceiling.
package forecast

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/openairlab/airq-analytics/internal/domain"
	"github.com/openairlab/airq-analytics/internal/seasonal"
)

// Config tunes model fitting and prediction.
type Config struct {
	// MinTrainingDays is the minimum number of valid observations before a
	// model can be fit at all.
	MinTrainingDays int

	// HoldoutDays is the tail of the series withheld for the backtest.
	HoldoutDays int

	// TrendWindow is how many of the most recent trend points feed the
	// linear extrapolation.
	TrendWindow int

	// MaxHorizonDays bounds Predict's horizon.
	MaxHorizonDays int

	// ZScore is the band multiplier for the nominal interval (1.645 for a
	// two-sided 90% band under a normal residual assumption).
	ZScore float64

	// CoverageFloor is the minimum acceptable empirical holdout coverage.
	// Fitting widens the residual spread until the backtest clears it.
	CoverageFloor float64

	// CoverageCeiling is the coverage above which the band counts as
	// over-wide. Fitting narrows the spread back toward it, never past the
	// floor.
	CoverageCeiling float64

	// WidenStep is the multiplicative step applied to the residual spread on
	// each calibration round.
	WidenStep float64
}

// DefaultConfig returns the standard fitting settings.
func DefaultConfig() Config {
	return Config{
		MinTrainingDays: 180,
		HoldoutDays:     30,
		TrendWindow:     90,
		MaxHorizonDays:  30,
		ZScore:          1.645,
		CoverageFloor:   0.88,
		CoverageCeiling: 0.97,
		WidenStep:       1.1,
	}
}

// maxWidenRounds caps band calibration so a pathological holdout cannot spin
// the fit forever.
const maxWidenRounds = 30

// Backtest records how the model performed on its holdout window.
type Backtest struct {
	HoldoutDays int     `json:"holdout_days"`
	MAE         float64 `json:"mae"`
	Coverage    float64 `json:"coverage"`
	WidenFactor float64 `json:"widen_factor"`
}

// Model is a fitted, immutable forecast model for one (city, pollutant).
// TrainedThrough is the last training date and doubles as the model's data
// version for freshness checks. The struct is JSON-encodable so callers can
// persist it as an opaque blob.
type Model struct {
	City      string           `json:"city"`
	Pollutant domain.Pollutant `json:"pollutant"`

	TrainedThrough time.Time `json:"trained_through"`

	Profile *domain.SeasonalProfile `json:"profile"`

	// Level and Slope describe the linear trend extrapolation anchored at
	// TrainedThrough: trend(h) = Level + Slope*h for h days ahead.
	Level float64 `json:"level"`
	Slope float64 `json:"slope"`

	// ResidualStd is the calibrated residual spread used for bands. It is
	// the profile's residual spread times the backtest widen factor.
	ResidualStd float64 `json:"residual_std"`

	// Degenerate marks a zero-variance training series. Such models forecast
	// the constant level with zero-width bounds.
	Degenerate bool `json:"degenerate"`

	Backtest Backtest `json:"backtest"`
}

// Engine fits models and produces forecasts.
type Engine struct {
	cfg      Config
	profiles seasonal.ProfileSource
}

// NewEngine creates an Engine. Zero-valued config fields take defaults.
func NewEngine(cfg Config, profiles seasonal.ProfileSource) *Engine {
	def := DefaultConfig()
	if cfg.MinTrainingDays <= 0 {
		cfg.MinTrainingDays = def.MinTrainingDays
	}
	if cfg.HoldoutDays <= 0 {
		cfg.HoldoutDays = def.HoldoutDays
	}
	if cfg.TrendWindow <= 0 {
		cfg.TrendWindow = def.TrendWindow
	}
	if cfg.MaxHorizonDays <= 0 {
		cfg.MaxHorizonDays = def.MaxHorizonDays
	}
	if cfg.ZScore <= 0 {
		cfg.ZScore = def.ZScore
	}
	if cfg.CoverageFloor <= 0 {
		cfg.CoverageFloor = def.CoverageFloor
	}
	if cfg.CoverageCeiling <= cfg.CoverageFloor {
		cfg.CoverageCeiling = def.CoverageCeiling
	}
	if cfg.WidenStep <= 1 {
		cfg.WidenStep = def.WidenStep
	}
	return &Engine{cfg: cfg, profiles: profiles}
}

// Fit trains a model on the series: backtest on a holdout tail, adjust the
// band until empirical coverage lands between floor and ceiling, then refit
// on everything.
// Series with fewer than MinTrainingDays valid observations fail with
// domain.ErrInsufficientData.
func (e *Engine) Fit(series domain.Series) (*Model, error) {
	valid := series.ValidCount()
	if valid < e.cfg.MinTrainingDays {
		return nil, fmt.Errorf("fit %s/%s: %d valid days, need %d: %w",
			series.City, series.Pollutant, valid, e.cfg.MinTrainingDays, domain.ErrInsufficientData)
	}

	if constant, level := constantLevel(series.Values); constant {
		return &Model{
			City:           series.City,
			Pollutant:      series.Pollutant,
			TrainedThrough: series.End(),
			Level:          level,
			Degenerate:     true,
			Backtest:       Backtest{WidenFactor: 1, Coverage: 1},
		}, nil
	}

	// Backtest fit on everything except the holdout tail. The head must
	// clear MinTrainingDays on its own valid days, gaps excluded, or the
	// candidate would train on less history than a fresh fit requires.
	holdoutStart := series.Len() - e.cfg.HoldoutDays
	train := series
	if holdoutStart > 0 {
		head := series.Slice(series.Start, series.DateAt(holdoutStart-1).AddDate(0, 0, 1))
		if head.ValidCount() >= e.cfg.MinTrainingDays {
			train = head
		} else {
			holdoutStart = series.Len()
		}
	} else {
		holdoutStart = series.Len()
	}

	widen := 1.0
	if holdoutStart < series.Len() {
		candidate, err := e.fitOn(train)
		if err != nil {
			return nil, err
		}
		mae, coverage := e.backtest(candidate, series, holdoutStart)
		for round := 0; coverage < e.cfg.CoverageFloor && round < maxWidenRounds; round++ {
			widen *= e.cfg.WidenStep
			candidate.ResidualStd = candidate.Profile.ResidualStd * widen
			_, coverage = e.backtest(candidate, series, holdoutStart)
		}
		// An over-wide band narrows back toward the ceiling. A step that
		// would drop coverage below the floor is rolled back instead.
		for round := 0; coverage > e.cfg.CoverageCeiling && round < maxWidenRounds; round++ {
			trial := widen / e.cfg.WidenStep
			candidate.ResidualStd = candidate.Profile.ResidualStd * trial
			_, trialCoverage := e.backtest(candidate, series, holdoutStart)
			if trialCoverage < e.cfg.CoverageFloor {
				candidate.ResidualStd = candidate.Profile.ResidualStd * widen
				break
			}
			widen, coverage = trial, trialCoverage
		}
		candidate.Backtest = Backtest{
			HoldoutDays: series.Len() - holdoutStart,
			MAE:         mae,
			Coverage:    coverage,
			WidenFactor: widen,
		}
		// Refit on the full series and carry the calibration over.
		model, err := e.fitOn(series)
		if err != nil {
			return nil, err
		}
		model.ResidualStd = model.Profile.ResidualStd * widen
		model.Backtest = candidate.Backtest
		return model, nil
	}

	// Not enough data to withhold a holdout: fit on everything, uncalibrated.
	model, err := e.fitOn(series)
	if err != nil {
		return nil, err
	}
	// HoldoutDays of zero marks the metrics as absent rather than measured.
	model.Backtest = Backtest{WidenFactor: 1}
	return model, nil
}

// fitOn decomposes the series and fits the trend extrapolation line over the
// last TrendWindow trend points.
func (e *Engine) fitOn(series domain.Series) (*Model, error) {
	profile, err := e.profiles.Decompose(series)
	if err != nil {
		return nil, err
	}

	n := len(profile.Trend)
	window := e.cfg.TrendWindow
	if window > n {
		window = n
	}

	// Regress trend on day index, x anchored so x=0 is the last training day.
	xs := make([]float64, 0, window)
	ys := make([]float64, 0, window)
	for i := n - window; i < n; i++ {
		if math.IsNaN(profile.Trend[i]) {
			continue
		}
		xs = append(xs, float64(i-(n-1)))
		ys = append(ys, profile.Trend[i])
	}
	if len(xs) < 2 {
		return nil, fmt.Errorf("fit %s/%s: trend window has %d usable points: %w",
			series.City, series.Pollutant, len(xs), domain.ErrInsufficientData)
	}
	level, slope := stat.LinearRegression(xs, ys, nil, false)

	return &Model{
		City:           series.City,
		Pollutant:      series.Pollutant,
		TrainedThrough: series.End(),
		Profile:        profile,
		Level:          level,
		Slope:          slope,
		ResidualStd:    profile.ResidualStd,
	}, nil
}

// backtest scores the candidate against the withheld tail of the full
// series, returning mean absolute error and empirical band coverage over the
// holdout days that have observations.
func (e *Engine) backtest(candidate *Model, series domain.Series, holdoutStart int) (mae, coverage float64) {
	var absErr float64
	var scored, covered int
	for i := holdoutStart; i < series.Len(); i++ {
		actual := series.Values[i]
		if math.IsNaN(actual) {
			continue
		}
		h := i - holdoutStart + 1
		date := series.DateAt(i)
		point, lower, upper := candidate.at(date, h, e.cfg.ZScore)
		absErr += math.Abs(actual - point)
		if actual >= lower && actual <= upper {
			covered++
		}
		scored++
	}
	// Nothing to score keeps the model encodable and the calibration loop idle.
	if scored == 0 {
		return 0, 1
	}
	return absErr / float64(scored), float64(covered) / float64(scored)
}

// Predict produces a forecast for 1..MaxHorizonDays days past the model's
// training end. Out-of-range horizons fail with domain.ErrInvalidHorizon.
func (e *Engine) Predict(model *Model, horizonDays int) (*domain.ForecastResult, error) {
	if horizonDays < 1 || horizonDays > e.cfg.MaxHorizonDays {
		return nil, fmt.Errorf("predict %s/%s: horizon %d outside [1, %d]: %w",
			model.City, model.Pollutant, horizonDays, e.cfg.MaxHorizonDays, domain.ErrInvalidHorizon)
	}

	points := make([]domain.ForecastPoint, horizonDays)
	for h := 1; h <= horizonDays; h++ {
		date := model.TrainedThrough.AddDate(0, 0, h)
		point, lower, upper := model.at(date, h, e.cfg.ZScore)
		points[h-1] = domain.ForecastPoint{Date: date, Point: point, Lower: lower, Upper: upper}
	}

	return &domain.ForecastResult{
		City:        model.City,
		Pollutant:   model.Pollutant,
		HorizonDays: horizonDays,
		ProducedAt:  domain.Now(),
		Points:      points,
	}, nil
}

// at evaluates the model h days past TrainedThrough: extrapolated trend
// times seasonal and event factors, with a z·std·√h band on each side. When
// the lower bound would go negative the band shifts up instead of shrinking,
// keeping its width monotone in the horizon.
func (m *Model) at(date time.Time, h int, z float64) (point, lower, upper float64) {
	trend := m.Level + m.Slope*float64(h)
	if trend < 0 {
		trend = 0
	}
	point = trend
	if m.Profile != nil {
		point = trend * m.Profile.SeasonalFactor(date) * m.Profile.EventFactor(date)
	}
	if point < 0 {
		point = 0
	}
	if m.Degenerate {
		return point, point, point
	}

	half := z * m.ResidualStd * math.Sqrt(float64(h))
	lower = point - half
	if lower < 0 {
		lower = 0
	}
	return point, lower, lower + 2*half
}

// constantLevel reports whether every valid value in the series is the same,
// and that value.
func constantLevel(values []float64) (bool, float64) {
	level := math.NaN()
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		if math.IsNaN(level) {
			level = v
			continue
		}
		if v != level {
			return false, 0
		}
	}
	return !math.IsNaN(level), level
}
