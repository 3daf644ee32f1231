package forecast

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openairlab/airq-analytics/internal/domain"
	"github.com/openairlab/airq-analytics/internal/seasonal"
)

// noisySeries builds a level-100 series with a weekly cycle and seeded
// Gaussian noise, deterministic for a given seed.
func noisySeries(days int, noiseStd float64, seed int64) domain.Series {
	r := rand.New(rand.NewSource(seed))
	start := domain.Date(2023, time.January, 2)
	weekly := []float64{0.95, 1.00, 1.05, 1.10, 1.05, 0.95, 0.90}
	values := make([]float64, days)
	for i := range values {
		date := start.AddDate(0, 0, i)
		values[i] = 100*weekly[int(date.Weekday())] + noiseStd*r.NormFloat64()
	}
	return domain.NewSeries("Delhi", domain.PollutantAQI, start, values)
}

func newEngine() *Engine {
	return NewEngine(Config{}, seasonal.New(seasonal.Config{}))
}

func TestFit_InsufficientData(t *testing.T) {
	series := noisySeries(50, 5, 1)
	_, err := newEngine().Fit(series)
	require.ErrorIs(t, err, domain.ErrInsufficientData)
	assert.Contains(t, err.Error(), "Delhi")
}

func TestFit_BacktestCalibratesCoverage(t *testing.T) {
	engine := newEngine()
	model, err := engine.Fit(noisySeries(365, 10, 2))
	require.NoError(t, err)

	assert.Equal(t, 30, model.Backtest.HoldoutDays)
	assert.GreaterOrEqual(t, model.Backtest.Coverage, 0.85)
	assert.LessOrEqual(t, model.Backtest.Coverage, 0.97)
	assert.Greater(t, model.Backtest.WidenFactor, 0.0)
	assert.Greater(t, model.Backtest.MAE, 0.0)
	assert.False(t, model.Degenerate)
	assert.Equal(t, domain.Date(2023, time.January, 2).AddDate(0, 0, 364), model.TrainedThrough)
}

func TestFit_PooledCoverageNearNominal(t *testing.T) {
	// Pooled over repeated noisy series, holdout coverage of the 90% band
	// must sit near nominal: calibration pushes under-covered fits up past
	// the floor and trims over-wide ones back under the ceiling.
	var coverageSum float64
	const seeds = 12
	for seed := int64(20); seed < 20+seeds; seed++ {
		model, err := newEngine().Fit(noisySeries(365, 8, seed))
		require.NoError(t, err, "seed %d", seed)
		require.Equal(t, 30, model.Backtest.HoldoutDays, "seed %d", seed)
		assert.GreaterOrEqual(t, model.Backtest.Coverage, 0.85, "seed %d", seed)
		coverageSum += model.Backtest.Coverage
	}
	pooled := coverageSum / seeds
	assert.GreaterOrEqual(t, pooled, 0.85)
	assert.LessOrEqual(t, pooled, 0.97)
}

func TestPredict_HorizonValidation(t *testing.T) {
	engine := newEngine()
	model, err := engine.Fit(noisySeries(365, 5, 3))
	require.NoError(t, err)

	for _, horizon := range []int{0, -1, 31, 100} {
		_, err := engine.Predict(model, horizon)
		assert.ErrorIs(t, err, domain.ErrInvalidHorizon, "horizon %d", horizon)
	}
}

func TestPredict_PointAndBandShape(t *testing.T) {
	engine := newEngine()
	model, err := engine.Fit(noisySeries(365, 10, 4))
	require.NoError(t, err)

	result, err := engine.Predict(model, 14)
	require.NoError(t, err)

	require.Len(t, result.Points, 14)
	assert.Equal(t, 14, result.HorizonDays)

	prevWidth := 0.0
	for i, p := range result.Points {
		expected := model.TrainedThrough.AddDate(0, 0, i+1)
		assert.Equal(t, expected, p.Date, "point %d", i)
		assert.LessOrEqual(t, p.Lower, p.Point, "point %d", i)
		assert.LessOrEqual(t, p.Point, p.Upper, "point %d", i)
		assert.GreaterOrEqual(t, p.Lower, 0.0, "point %d", i)

		width := p.Upper - p.Lower
		assert.GreaterOrEqual(t, width, prevWidth, "band must not narrow with horizon")
		prevWidth = width
	}
}

func TestPredict_BandWidthMonotoneWhenLowerClamps(t *testing.T) {
	// A low-level series with noise larger than the level pushes the lower
	// bound onto the zero clamp. The band shifts up there rather than
	// shrinking, so its width still never narrows with the horizon.
	r := rand.New(rand.NewSource(9))
	start := domain.Date(2023, time.January, 2)
	weekly := []float64{0.8, 1.0, 1.2, 1.2, 1.0, 0.9, 0.8}
	values := make([]float64, 365)
	for i := range values {
		date := start.AddDate(0, 0, i)
		v := 10*weekly[int(date.Weekday())] + 8*r.NormFloat64()
		if v < 0 {
			v = 0
		}
		values[i] = v
	}
	series := domain.NewSeries("Delhi", domain.PollutantPM25, start, values)

	engine := newEngine()
	model, err := engine.Fit(series)
	require.NoError(t, err)

	result, err := engine.Predict(model, 14)
	require.NoError(t, err)

	clamped := false
	prevWidth := 0.0
	for i, p := range result.Points {
		require.LessOrEqual(t, p.Lower, p.Point, "point %d", i)
		require.LessOrEqual(t, p.Point, p.Upper, "point %d", i)
		if p.Lower == 0 {
			clamped = true
		}
		width := p.Upper - p.Lower
		assert.GreaterOrEqual(t, width, prevWidth, "band must not narrow with horizon")
		prevWidth = width
	}
	assert.True(t, clamped, "noise this large must drive the lower bound to zero")
}

func TestPredict_StampsProducedAt(t *testing.T) {
	frozen := time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)
	domain.SetClock(clockwork.NewFakeClockAt(frozen))
	t.Cleanup(func() { domain.SetClock(nil) })

	engine := newEngine()
	model, err := engine.Fit(noisySeries(365, 5, 5))
	require.NoError(t, err)

	result, err := engine.Predict(model, 1)
	require.NoError(t, err)
	assert.Equal(t, frozen, result.ProducedAt)
}

func TestFit_DegenerateSeriesForecastsConstant(t *testing.T) {
	start := domain.Date(2023, time.March, 1)
	values := make([]float64, 200)
	for i := range values {
		values[i] = 50
	}
	series := domain.NewSeries("Delhi", domain.PollutantPM25, start, values)

	engine := newEngine()
	model, err := engine.Fit(series)
	require.NoError(t, err)
	assert.True(t, model.Degenerate)

	result, err := engine.Predict(model, 7)
	require.NoError(t, err)
	for _, p := range result.Points {
		assert.Equal(t, 50.0, p.Point)
		assert.Equal(t, 50.0, p.Lower)
		assert.Equal(t, 50.0, p.Upper)
	}
}

func TestPredict_TracksWeeklyCycle(t *testing.T) {
	engine := newEngine()
	model, err := engine.Fit(noisySeries(365, 2, 6))
	require.NoError(t, err)

	result, err := engine.Predict(model, 14)
	require.NoError(t, err)

	// The built-in cycle peaks on Wednesdays and bottoms on Saturdays.
	byWeekday := map[time.Weekday]float64{}
	for _, p := range result.Points {
		byWeekday[p.Date.Weekday()] = p.Point
	}
	assert.Greater(t, byWeekday[time.Wednesday], byWeekday[time.Saturday])
}

func TestFit_HandlesGapsInHoldout(t *testing.T) {
	series := noisySeries(365, 5, 7)
	for i := 340; i < 350; i++ {
		series.Values[i] = math.NaN()
	}

	model, err := newEngine().Fit(series)
	require.NoError(t, err)
	assert.False(t, math.IsNaN(model.Backtest.Coverage))
}

func TestFit_GapHeavyHistorySkipsHoldout(t *testing.T) {
	// 360 calendar days but only 195 valid ones. Withholding the 30-day tail
	// would leave 165 valid training days, below the fitting minimum, so the
	// split must be decided on valid days and no holdout taken at all.
	series := noisySeries(360, 5, 11)
	for i := 1; i < 330; i += 2 {
		series.Values[i] = math.NaN()
	}

	model, err := newEngine().Fit(series)
	require.NoError(t, err)
	assert.Equal(t, 0, model.Backtest.HoldoutDays)
	assert.Equal(t, 1.0, model.Backtest.WidenFactor)
	assert.Zero(t, model.Backtest.Coverage)
}

func TestModelStore_Freshness(t *testing.T) {
	store := NewModelStore()
	trained := domain.Date(2024, time.May, 10)
	store.Put(&Model{City: "Delhi", Pollutant: domain.PollutantAQI, TrainedThrough: trained})

	_, ok := store.Get("Mumbai", domain.PollutantAQI)
	assert.False(t, ok)

	m, ok := store.Fresh("Delhi", domain.PollutantAQI, trained)
	require.True(t, ok)
	assert.Equal(t, trained, m.TrainedThrough)

	// New data past the training end makes the model stale.
	_, ok = store.Fresh("Delhi", domain.PollutantAQI, trained.AddDate(0, 0, 1))
	assert.False(t, ok)
}

func TestModelStore_EncodeDecodeRoundTrip(t *testing.T) {
	engine := newEngine()
	model, err := engine.Fit(noisySeries(365, 5, 8))
	require.NoError(t, err)

	store := NewModelStore()
	store.Put(model)

	blob, err := store.Encode("Delhi", domain.PollutantAQI)
	require.NoError(t, err)

	restoredStore := NewModelStore()
	restored, err := restoredStore.Decode(blob)
	require.NoError(t, err)

	// Restored models must forecast identically to the original.
	want, err := engine.Predict(model, 7)
	require.NoError(t, err)
	got, err := engine.Predict(restored, 7)
	require.NoError(t, err)
	for i := range want.Points {
		assert.InDelta(t, want.Points[i].Point, got.Points[i].Point, 1e-9)
		assert.InDelta(t, want.Points[i].Lower, got.Points[i].Lower, 1e-9)
		assert.InDelta(t, want.Points[i].Upper, got.Points[i].Upper, 1e-9)
	}

	_, err = store.Encode("Atlantis", domain.PollutantAQI)
	require.Error(t, err)

	_, err = restoredStore.Decode([]byte(`{"city":""}`))
	require.Error(t, err)
}
