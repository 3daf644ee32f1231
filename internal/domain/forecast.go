package domain

import "time"

// ForecastPoint is a single future day's estimate with its symmetric
// uncertainty band. Lower <= Point <= Upper always holds.
type ForecastPoint struct {
	Date  time.Time `json:"date"`
	Point float64   `json:"point"`
	Lower float64   `json:"lower"`
	Upper float64   `json:"upper"`
}

// ForecastResult is the immutable output of a prediction. It is owned by the
// caller; the core does not retain it.
type ForecastResult struct {
	City        string          `json:"city"`
	Pollutant   Pollutant       `json:"pollutant"`
	HorizonDays int             `json:"horizon_days"`
	ProducedAt  time.Time       `json:"produced_at"`
	Points      []ForecastPoint `json:"points"`
}
