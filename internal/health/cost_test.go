package health_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openairlab/airq-analytics/internal/domain"
	"github.com/openairlab/airq-analytics/internal/health"
)

func series(values ...float64) domain.Series {
	return domain.NewSeries("Delhi", domain.PollutantAQI, domain.Date(2024, time.January, 1), values)
}

func TestEstimateCost_SingleBandScenario(t *testing.T) {
	// Ten days at AQI 250 above a 200 threshold costing 5 per person per day,
	// for a million people: 10 * 5 * 1,000,000.
	values := make([]float64, 10)
	for i := range values {
		values[i] = 250
	}
	bands := []health.Band{{Name: "unhealthy", Threshold: 200, DailyCostPerCapita: 5}}

	est, err := health.EstimateCost(series(values...), bands, 1_000_000)
	require.NoError(t, err)

	assert.Equal(t, 50_000_000.0, est.TotalCost)
	assert.Equal(t, 10, est.ExceedanceDays)
	require.Len(t, est.Bands, 1)
	assert.Equal(t, 10, est.Bands[0].Days)
}

func TestEstimateCost_DaysFallInHighestExceededBand(t *testing.T) {
	est, err := health.EstimateCost(
		series(150, 250, 350, 450, math.NaN()),
		health.DefaultBands(), 1000)
	require.NoError(t, err)

	assert.Equal(t, 3, est.ExceedanceDays)
	assert.Equal(t, 1, est.Bands[0].Days, "poor")
	assert.Equal(t, 1, est.Bands[1].Days, "very_poor")
	assert.Equal(t, 1, est.Bands[2].Days, "severe")

	// 1*250 + 1*500 + 1*1000 per capita, times 1000 people.
	assert.Equal(t, 1_750_000.0, est.TotalCost)
}

func TestEstimateCost_ThresholdIsExclusive(t *testing.T) {
	bands := []health.Band{{Name: "x", Threshold: 200, DailyCostPerCapita: 1}}
	est, err := health.EstimateCost(series(200), bands, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, est.ExceedanceDays)
	assert.Zero(t, est.TotalCost)
}

func TestEstimateCost_MalformedTables(t *testing.T) {
	tests := []struct {
		name  string
		bands []health.Band
	}{
		{name: "empty", bands: nil},
		{name: "equal thresholds", bands: []health.Band{
			{Threshold: 200, DailyCostPerCapita: 1},
			{Threshold: 200, DailyCostPerCapita: 2},
		}},
		{name: "decreasing thresholds", bands: []health.Band{
			{Threshold: 300, DailyCostPerCapita: 1},
			{Threshold: 200, DailyCostPerCapita: 2},
		}},
		{name: "negative cost", bands: []health.Band{{Threshold: 200, DailyCostPerCapita: -1}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := health.EstimateCost(series(250), tc.bands, 100)
			require.Error(t, err)
		})
	}
}

func TestEstimateForecastCost(t *testing.T) {
	forecast := &domain.ForecastResult{
		City:      "Delhi",
		Pollutant: domain.PollutantAQI,
		Points: []domain.ForecastPoint{
			{Date: domain.Date(2024, time.June, 1), Point: 250},
			{Date: domain.Date(2024, time.June, 2), Point: 150},
			{Date: domain.Date(2024, time.June, 3), Point: 420},
		},
	}

	est, err := health.EstimateForecastCost(forecast, health.DefaultBands(), 100)
	require.NoError(t, err)
	assert.Equal(t, 2, est.ExceedanceDays)
	assert.Equal(t, (250.0+1000.0)*100, est.TotalCost)
}
