package domain

import "time"

// EventEffect is a detected irregular effect over a date range, kept out of
// the recurring seasonal factors so one-off spikes do not contaminate them.
// Factor is multiplicative: 1.0 means no effect.
type EventEffect struct {
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"` // inclusive
	Factor float64   `json:"factor"`
}

// ActiveOn reports whether the effect covers the given day.
func (e EventEffect) ActiveOn(date time.Time) bool {
	d := Midnight(date)
	return !d.Before(e.Start) && !d.After(e.End)
}

// SeasonalProfile is the read-only decomposition artifact for one
// (city, pollutant): a trend value per training date, multiplicative weekly
// and annual factors normalized to mean 1.0, detected event effects, and the
// residual spread left after removing all of them.
type SeasonalProfile struct {
	City      string    `json:"city"`
	Pollutant Pollutant `json:"pollutant"`

	TrendStart time.Time `json:"trend_start"`
	Trend      []float64 `json:"trend"` // one value per day from TrendStart

	Weekly [7]float64 `json:"weekly"` // indexed by time.Weekday

	Annual         [366]float64 `json:"annual"` // indexed by day-of-year - 1
	AnnualReliable bool         `json:"annual_reliable"`

	Events []EventEffect `json:"events,omitempty"`

	// ResidualStd is the standard deviation of the residuals (observed minus
	// composed trend/seasonal/event fit) in the series' own units.
	ResidualStd float64 `json:"residual_std"`
}

// WeeklyFactor returns the factor for date's weekday.
func (p *SeasonalProfile) WeeklyFactor(date time.Time) float64 {
	return p.Weekly[int(date.Weekday())]
}

// AnnualFactor returns the factor for date's day of year. Unreliable annual
// factors are stored as 1.0, so this is always safe to multiply by.
func (p *SeasonalProfile) AnnualFactor(date time.Time) float64 {
	return p.Annual[date.YearDay()-1]
}

// SeasonalFactor returns the combined weekly and annual factor for date.
func (p *SeasonalProfile) SeasonalFactor(date time.Time) float64 {
	return p.WeeklyFactor(date) * p.AnnualFactor(date)
}

// EventFactor returns the product of all event effects active on date.
func (p *SeasonalProfile) EventFactor(date time.Time) float64 {
	f := 1.0
	for _, e := range p.Events {
		if e.ActiveOn(date) {
			f *= e.Factor
		}
	}
	return f
}
