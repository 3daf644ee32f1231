// Package seasonal extracts trend, weekly, and annual components plus
// irregular event effects from a single city/pollutant series. The output
// profile is used both to de-trend before forecasting and to de-seasonalize
// policy-evaluation windows.
//
// The decomposition is multiplicative: observed = trend * weekly * annual *
// events * noise, with the weekly and annual factors normalized to mean 1.0.
// Given identical input and configuration the output is deterministic.
package seasonal

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/openairlab/airq-analytics/internal/domain"
)

// Config tunes the decomposition.
type Config struct {
	// TrendWindow is the centered moving-average window in days. It shrinks
	// automatically for series shorter than the window.
	TrendWindow int

	// MinAnnualDays is the minimum number of valid days required before an
	// annual factor is estimated. Shorter series fall back to weekly-only
	// decomposition with AnnualReliable=false instead of fabricating one.
	MinAnnualDays int

	// MinDays is the minimum series length for any decomposition at all.
	MinDays int

	// AnnualSmoothWindow is the circular moving-average window (in days of
	// year) applied to the raw per-day annual factors.
	AnnualSmoothWindow int

	// EventZScore is the rolling z-score threshold above which a residual
	// marks an event day.
	EventZScore float64

	// EventWindow is the rolling window used for the local residual mean and
	// deviation in event detection.
	EventWindow int

	// EventMinRelDelta is the minimum residual magnitude, as a fraction of
	// the fitted level, for a day to qualify as an event. Keeps near-perfect
	// fits from flagging numerically tiny deviations.
	EventMinRelDelta float64
}

// DefaultConfig returns the standard decomposition settings.
func DefaultConfig() Config {
	return Config{
		TrendWindow:        365,
		MinAnnualDays:      400,
		MinDays:            28,
		AnnualSmoothWindow: 15,
		EventZScore:        3,
		EventWindow:        30,
		EventMinRelDelta:   0.10,
	}
}

// Decomposer turns a Series into a SeasonalProfile.
type Decomposer struct {
	cfg Config
}

// New creates a Decomposer. Zero-valued config fields take defaults.
func New(cfg Config) *Decomposer {
	def := DefaultConfig()
	if cfg.TrendWindow <= 0 {
		cfg.TrendWindow = def.TrendWindow
	}
	if cfg.MinAnnualDays <= 0 {
		cfg.MinAnnualDays = def.MinAnnualDays
	}
	if cfg.MinDays <= 0 {
		cfg.MinDays = def.MinDays
	}
	if cfg.AnnualSmoothWindow <= 0 {
		cfg.AnnualSmoothWindow = def.AnnualSmoothWindow
	}
	if cfg.EventZScore <= 0 {
		cfg.EventZScore = def.EventZScore
	}
	if cfg.EventWindow <= 0 {
		cfg.EventWindow = def.EventWindow
	}
	if cfg.EventMinRelDelta <= 0 {
		cfg.EventMinRelDelta = def.EventMinRelDelta
	}
	return &Decomposer{cfg: cfg}
}

// Decompose extracts the seasonal profile from a series. It fails with
// domain.ErrInsufficientData for series shorter than MinDays of valid data.
func (d *Decomposer) Decompose(series domain.Series) (*domain.SeasonalProfile, error) {
	valid := series.ValidCount()
	if valid < d.cfg.MinDays {
		return nil, fmt.Errorf("decompose %s/%s: %d valid days: %w",
			series.City, series.Pollutant, valid, domain.ErrInsufficientData)
	}

	values := series.Values

	// Pass 1: factors from the full series, used only to locate event days.
	trend := centeredTrend(values, d.cfg.TrendWindow)
	weekly, annual, reliable := d.factors(series, values, trend)
	fitted := compose(series, trend, weekly, annual)
	events := d.detectEvents(series, values, fitted)

	// Pass 2: recompute the recurring factors with event days masked out, so
	// one-off spikes do not contaminate the seasonal estimate.
	masked := maskEvents(series, values, events)
	trend = centeredTrend(masked, d.cfg.TrendWindow)
	weekly, annual, reliable = d.factors(series, masked, trend)
	fitted = compose(series, trend, weekly, annual)

	residuals := make([]float64, 0, len(values))
	for i, v := range masked {
		if math.IsNaN(v) || math.IsNaN(fitted[i]) {
			continue
		}
		residuals = append(residuals, v-fitted[i])
	}

	profile := &domain.SeasonalProfile{
		City:           series.City,
		Pollutant:      series.Pollutant,
		TrendStart:     series.Start,
		Trend:          trend,
		Weekly:         weekly,
		Annual:         annual,
		AnnualReliable: reliable,
		Events:         events,
	}
	if len(residuals) > 1 {
		profile.ResidualStd = stat.StdDev(residuals, nil)
	}
	return profile, nil
}

// factors estimates the weekly and annual factors from detrended ratios.
func (d *Decomposer) factors(series domain.Series, values, trend []float64) ([7]float64, [366]float64, bool) {
	n := len(values)
	ratio := make([]float64, n)
	for i := range ratio {
		if math.IsNaN(values[i]) || math.IsNaN(trend[i]) || trend[i] <= 0 {
			ratio[i] = math.NaN()
			continue
		}
		ratio[i] = values[i] / trend[i]
	}

	weekly := weeklyFactor(series, ratio)

	// Remove the weekly effect before estimating the annual shape.
	deweek := make([]float64, n)
	for i := range deweek {
		if math.IsNaN(ratio[i]) {
			deweek[i] = math.NaN()
			continue
		}
		deweek[i] = ratio[i] / weekly[int(series.DateAt(i).Weekday())]
	}

	var annual [366]float64
	for i := range annual {
		annual[i] = 1
	}
	reliable := countValid(values) >= d.cfg.MinAnnualDays
	if reliable {
		annual = annualFactor(series, deweek, d.cfg.AnnualSmoothWindow)
	}
	return weekly, annual, reliable
}

// detectEvents flags days whose residual exceeds the rolling z-score
// threshold and merges consecutive flagged days into date-range effects.
func (d *Decomposer) detectEvents(series domain.Series, values, fitted []float64) []domain.EventEffect {
	n := len(values)
	resid := make([]float64, n)
	for i := range resid {
		if math.IsNaN(values[i]) || math.IsNaN(fitted[i]) {
			resid[i] = math.NaN()
			continue
		}
		resid[i] = values[i] - fitted[i]
	}

	flagged := make([]bool, n)
	half := d.cfg.EventWindow / 2
	for i := range resid {
		if math.IsNaN(resid[i]) {
			continue
		}
		lo, hi := i-half, i+half+1
		if lo < 0 {
			lo = 0
		}
		if hi > n {
			hi = n
		}
		// Local spread excluding the candidate itself, so a lone spike does
		// not inflate its own baseline.
		window := make([]float64, 0, hi-lo)
		for j := lo; j < hi; j++ {
			if j == i || math.IsNaN(resid[j]) {
				continue
			}
			window = append(window, resid[j])
		}
		if len(window) < 5 {
			continue
		}
		mean, std := stat.MeanStdDev(window, nil)
		if std <= 0 {
			continue
		}
		if math.Abs(resid[i]-mean)/std <= d.cfg.EventZScore {
			continue
		}
		if math.Abs(resid[i]) <= d.cfg.EventMinRelDelta*math.Abs(fitted[i]) {
			continue
		}
		flagged[i] = true
	}

	var events []domain.EventEffect
	for i := 0; i < n; {
		if !flagged[i] {
			i++
			continue
		}
		j := i
		for j+1 < n && flagged[j+1] {
			j++
		}
		// Multiplicative magnitude of the range relative to the fit.
		var sum float64
		var count int
		for k := i; k <= j; k++ {
			if math.IsNaN(values[k]) || math.IsNaN(fitted[k]) || fitted[k] <= 0 {
				continue
			}
			sum += values[k] / fitted[k]
			count++
		}
		if count > 0 {
			events = append(events, domain.EventEffect{
				Start:  series.DateAt(i),
				End:    series.DateAt(j),
				Factor: sum / float64(count),
			})
		}
		i = j + 1
	}
	return events
}

// maskEvents returns a copy of values with event days set to NaN.
func maskEvents(series domain.Series, values []float64, events []domain.EventEffect) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	for _, e := range events {
		for i := series.IndexOf(e.Start); i <= series.IndexOf(e.End); i++ {
			if i >= 0 && i < len(out) {
				out[i] = math.NaN()
			}
		}
	}
	return out
}

// centeredTrend computes a NaN-aware centered moving average. The window
// shrinks at the series edges so the trend is defined everywhere.
func centeredTrend(values []float64, window int) []float64 {
	n := len(values)
	if window > n {
		window = n
	}
	if window%2 == 0 {
		window--
	}
	if window < 1 {
		window = 1
	}
	half := window / 2

	trend := make([]float64, n)
	for i := range trend {
		lo, hi := i-half, i+half+1
		if lo < 0 {
			lo = 0
		}
		if hi > n {
			hi = n
		}
		var sum float64
		var count int
		for j := lo; j < hi; j++ {
			if math.IsNaN(values[j]) {
				continue
			}
			sum += values[j]
			count++
		}
		if count == 0 {
			trend[i] = math.NaN()
			continue
		}
		trend[i] = sum / float64(count)
	}
	return trend
}

// weeklyFactor averages the detrended ratio per weekday and normalizes the
// seven factors to mean 1.0. Weekdays with no data stay at 1.0.
func weeklyFactor(series domain.Series, ratio []float64) [7]float64 {
	var sums [7]float64
	var counts [7]int
	for i, r := range ratio {
		if math.IsNaN(r) {
			continue
		}
		wd := int(series.DateAt(i).Weekday())
		sums[wd] += r
		counts[wd]++
	}

	var weekly [7]float64
	for i := range weekly {
		if counts[i] > 0 {
			weekly[i] = sums[i] / float64(counts[i])
		} else {
			weekly[i] = 1
		}
	}

	var mean float64
	for _, w := range weekly {
		mean += w
	}
	mean /= 7
	if mean > 0 {
		for i := range weekly {
			weekly[i] /= mean
		}
	}
	return weekly
}

// annualFactor averages the weekly-adjusted ratio per day of year, smooths
// the 366 slots with a circular moving average, and normalizes to mean 1.0.
func annualFactor(series domain.Series, deweek []float64, smoothWindow int) [366]float64 {
	var sums [366]float64
	var counts [366]int
	for i, r := range deweek {
		if math.IsNaN(r) {
			continue
		}
		doy := series.DateAt(i).YearDay() - 1
		sums[doy] += r
		counts[doy]++
	}

	raw := make([]float64, 366)
	for i := range raw {
		if counts[i] > 0 {
			raw[i] = sums[i] / float64(counts[i])
		} else {
			raw[i] = math.NaN()
		}
	}

	// Circular smoothing over observed slots only; slots with no observed
	// neighbors anywhere in the window fall back to 1.0.
	if smoothWindow%2 == 0 {
		smoothWindow++
	}
	half := smoothWindow / 2
	var annual [366]float64
	for i := range annual {
		var sum float64
		var count int
		for off := -half; off <= half; off++ {
			j := ((i+off)%366 + 366) % 366
			if math.IsNaN(raw[j]) {
				continue
			}
			sum += raw[j]
			count++
		}
		if count == 0 {
			annual[i] = 1
			continue
		}
		annual[i] = sum / float64(count)
	}

	var mean float64
	for _, a := range annual {
		mean += a
	}
	mean /= 366
	if mean > 0 {
		for i := range annual {
			annual[i] /= mean
		}
	}
	return annual
}

// compose multiplies trend and seasonal factors back into a fitted series.
func compose(series domain.Series, trend []float64, weekly [7]float64, annual [366]float64) []float64 {
	fitted := make([]float64, len(trend))
	for i := range fitted {
		if math.IsNaN(trend[i]) {
			fitted[i] = math.NaN()
			continue
		}
		date := series.DateAt(i)
		fitted[i] = trend[i] * weekly[int(date.Weekday())] * annual[date.YearDay()-1]
	}
	return fitted
}

// countValid returns the number of non-NaN entries.
func countValid(values []float64) int {
	n := 0
	for _, v := range values {
		if !math.IsNaN(v) {
			n++
		}
	}
	return n
}

// profileVersion keys a cached profile to its underlying data: the series
// end date and valid-day count change whenever the series changes.
func profileVersion(series domain.Series) string {
	end := "empty"
	if !series.IsEmpty() {
		end = series.End().Format(domain.DateLayout)
	}
	return fmt.Sprintf("%s|%s|%s|%d", series.City, series.Pollutant, end, series.ValidCount())
}
