// Package health prices threshold-exceedance days. A pure function over a
// series and a cost table: no state, deterministic, errors only on malformed
// tables.
package health

import (
	"fmt"
	"math"

	"github.com/openairlab/airq-analytics/internal/domain"
)

// Band is one cost tier: days whose value exceeds Threshold (and no higher
// band's threshold) cost DailyCostPerCapita per person per day.
type Band struct {
	Name               string  `json:"name"`
	Threshold          float64 `json:"threshold"`
	DailyCostPerCapita float64 `json:"daily_cost_per_capita"`
}

// DefaultBands is the CPCB-category cost table in INR: Poor, Very Poor and
// Severe days priced per person per day.
func DefaultBands() []Band {
	return []Band{
		{Name: "poor", Threshold: 200, DailyCostPerCapita: 250},
		{Name: "very_poor", Threshold: 300, DailyCostPerCapita: 500},
		{Name: "severe", Threshold: 400, DailyCostPerCapita: 1000},
	}
}

// BandCost is the per-band slice of an estimate.
type BandCost struct {
	Band Band    `json:"band"`
	Days int     `json:"days"`
	Cost float64 `json:"cost"`
}

// Estimate is the aggregate cost breakdown for one series.
type Estimate struct {
	City       string           `json:"city"`
	Pollutant  domain.Pollutant `json:"pollutant"`
	Population int64            `json:"population"`

	// ExceedanceDays counts days above the lowest band threshold; days below
	// every threshold cost nothing.
	ExceedanceDays int        `json:"exceedance_days"`
	Bands          []BandCost `json:"bands"`
	TotalCost      float64    `json:"total_cost"`
}

// EstimateCost prices a series against a band table: each valid day falls in
// the highest band whose threshold it exceeds, and the aggregate is the sum
// of days times per-capita cost times population. The series may be
// historical values or forecast point estimates.
func EstimateCost(series domain.Series, bands []Band, population int64) (*Estimate, error) {
	if err := validateBands(bands); err != nil {
		return nil, err
	}
	if population < 0 {
		return nil, fmt.Errorf("estimate cost: negative population %d", population)
	}

	days := make([]int, len(bands))
	exceedance := 0
	for _, v := range series.Values {
		if math.IsNaN(v) {
			continue
		}
		band := -1
		for i := range bands {
			if v > bands[i].Threshold {
				band = i
			}
		}
		if band >= 0 {
			days[band]++
			exceedance++
		}
	}

	est := &Estimate{
		City:           series.City,
		Pollutant:      series.Pollutant,
		Population:     population,
		ExceedanceDays: exceedance,
		Bands:          make([]BandCost, len(bands)),
	}
	for i, b := range bands {
		cost := float64(days[i]) * b.DailyCostPerCapita * float64(population)
		est.Bands[i] = BandCost{Band: b, Days: days[i], Cost: cost}
		est.TotalCost += cost
	}
	return est, nil
}

// EstimateForecastCost prices a forecast's point estimates.
func EstimateForecastCost(forecast *domain.ForecastResult, bands []Band, population int64) (*Estimate, error) {
	values := make([]float64, len(forecast.Points))
	for i, p := range forecast.Points {
		values[i] = p.Point
	}
	series := domain.Series{City: forecast.City, Pollutant: forecast.Pollutant, Values: values}
	if len(forecast.Points) > 0 {
		series.Start = forecast.Points[0].Date
	}
	return EstimateCost(series, bands, population)
}

// validateBands requires a non-empty table with strictly increasing
// thresholds and non-negative costs.
func validateBands(bands []Band) error {
	if len(bands) == 0 {
		return fmt.Errorf("estimate cost: empty band table")
	}
	for i, b := range bands {
		if b.DailyCostPerCapita < 0 {
			return fmt.Errorf("estimate cost: band %d (%s): negative cost", i, b.Name)
		}
		if i > 0 && b.Threshold <= bands[i-1].Threshold {
			return fmt.Errorf("estimate cost: band %d (%s): threshold %.1f not above %.1f",
				i, b.Name, b.Threshold, bands[i-1].Threshold)
		}
	}
	return nil
}
