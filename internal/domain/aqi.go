package domain

import (
	"fmt"
	"math"
)

// aqiBreakpoint maps a concentration range onto an AQI sub-index range,
// following the CPCB national AQI methodology (linear interpolation inside
// each band, composite AQI = maximum sub-index).
type aqiBreakpoint struct {
	cLow, cHigh float64
	iLow, iHigh float64
}

// aqiBreakpoints holds the CPCB bands per pollutant. Concentrations are
// ug/m3 except CO, which is mg/m3.
var aqiBreakpoints = map[Pollutant][]aqiBreakpoint{
	PollutantPM25: {
		{0, 30, 0, 50}, {31, 60, 51, 100}, {61, 90, 101, 200},
		{91, 120, 201, 300}, {121, 250, 301, 400}, {251, 500, 401, 500},
	},
	PollutantPM10: {
		{0, 50, 0, 50}, {51, 100, 51, 100}, {101, 250, 101, 200},
		{251, 350, 201, 300}, {351, 430, 301, 400}, {431, 600, 401, 500},
	},
	PollutantNO2: {
		{0, 40, 0, 50}, {41, 80, 51, 100}, {81, 180, 101, 200},
		{181, 280, 201, 300}, {281, 400, 301, 400}, {401, 1000, 401, 500},
	},
	PollutantSO2: {
		{0, 40, 0, 50}, {41, 80, 51, 100}, {81, 380, 101, 200},
		{381, 800, 201, 300}, {801, 1600, 301, 400}, {1601, 2400, 401, 500},
	},
	PollutantCO: {
		{0, 1.0, 0, 50}, {1.1, 2.0, 51, 100}, {2.1, 10, 101, 200},
		{10.1, 17, 201, 300}, {17.1, 34, 301, 400}, {34.1, 50, 401, 500},
	},
	PollutantO3: {
		{0, 50, 0, 50}, {51, 100, 51, 100}, {101, 168, 101, 200},
		{169, 208, 201, 300}, {209, 748, 301, 400}, {749, 1000, 401, 500},
	},
}

// SubIndex converts a pollutant concentration to its AQI sub-index.
// Concentrations above the top band saturate at 500. The second return is
// false for unknown pollutants, negative concentrations, or AQI itself.
func SubIndex(pollutant Pollutant, concentration float64) (float64, bool) {
	bands, ok := aqiBreakpoints[pollutant]
	if !ok || concentration < 0 || math.IsNaN(concentration) {
		return 0, false
	}
	for _, b := range bands {
		if concentration >= b.cLow && concentration <= b.cHigh {
			sub := (b.iHigh-b.iLow)/(b.cHigh-b.cLow)*(concentration-b.cLow) + b.iLow
			return math.Round(sub), true
		}
	}
	if concentration > bands[len(bands)-1].cHigh {
		return 500, true
	}
	// Falls between bands due to the integer band edges; interpolate against
	// the next band up.
	for _, b := range bands {
		if concentration < b.cLow {
			return b.iLow, true
		}
	}
	return 0, false
}

// AQISummary is the composite index derived from one day's concentrations.
type AQISummary struct {
	Value    float64   `json:"value"`
	Dominant Pollutant `json:"dominant"`
	Category string    `json:"category"`
}

// ComputeAQI derives the composite AQI from pollutant concentrations:
// the maximum sub-index, with the pollutant that produced it.
func ComputeAQI(concentrations map[Pollutant]float64) (AQISummary, error) {
	var best AQISummary
	found := false
	for _, p := range Pollutants {
		c, ok := concentrations[p]
		if !ok {
			continue
		}
		sub, ok := SubIndex(p, c)
		if !ok {
			continue
		}
		if !found || sub > best.Value {
			best = AQISummary{Value: sub, Dominant: p}
			found = true
		}
	}
	if !found {
		return AQISummary{}, fmt.Errorf("compute aqi: no usable pollutant concentrations")
	}
	best.Category = AQICategory(best.Value)
	return best, nil
}

// AQICategory maps an AQI value to its CPCB category label.
func AQICategory(aqi float64) string {
	switch {
	case aqi <= 50:
		return "Good"
	case aqi <= 100:
		return "Satisfactory"
	case aqi <= 200:
		return "Moderate"
	case aqi <= 300:
		return "Poor"
	case aqi <= 400:
		return "Very Poor"
	default:
		return "Severe"
	}
}
