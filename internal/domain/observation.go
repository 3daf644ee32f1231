package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// Pollutant identifies a measured quantity. AQI is the derived composite
// index; the rest are raw concentrations.
type Pollutant string

const (
	PollutantPM25 Pollutant = "PM2.5"
	PollutantPM10 Pollutant = "PM10"
	PollutantNO2  Pollutant = "NO2"
	PollutantSO2  Pollutant = "SO2"
	PollutantCO   Pollutant = "CO"
	PollutantO3   Pollutant = "O3"
	PollutantAQI  Pollutant = "AQI"
)

// Pollutants lists every supported pollutant in canonical order.
var Pollutants = []Pollutant{
	PollutantPM25, PollutantPM10, PollutantNO2,
	PollutantSO2, PollutantCO, PollutantO3, PollutantAQI,
}

// ParsePollutant normalizes a pollutant name. The second return is false for
// unknown names.
func ParsePollutant(s string) (Pollutant, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PM2.5", "PM25":
		return PollutantPM25, true
	case "PM10":
		return PollutantPM10, true
	case "NO2":
		return PollutantNO2, true
	case "SO2":
		return PollutantSO2, true
	case "CO":
		return PollutantCO, true
	case "O3":
		return PollutantO3, true
	case "AQI":
		return PollutantAQI, true
	default:
		return "", false
	}
}

// DateLayout is the wire format for observation dates.
const DateLayout = "2006-01-02"

// Date builds a UTC-midnight timestamp for a calendar day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Midnight truncates a timestamp to UTC midnight.
func Midnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the number of whole days from a to b (negative when b
// precedes a). Both are truncated to UTC midnight first.
func DaysBetween(a, b time.Time) int {
	return int(Midnight(b).Sub(Midnight(a)) / (24 * time.Hour))
}

// Observation is a single daily reading for one city and pollutant.
type Observation struct {
	City      string    `json:"city"`
	Pollutant Pollutant `json:"pollutant"`
	Date      time.Time `json:"date"`
	Value     float64   `json:"value"`
}

// Validate checks the Observation invariants: non-empty city, known
// pollutant, non-zero date, finite non-negative value.
func (o Observation) Validate() *ValidationError {
	fail := func(reason string) *ValidationError {
		return &ValidationError{
			City:      o.City,
			Pollutant: string(o.Pollutant),
			Date:      o.Date.Format(DateLayout),
			Reason:    reason,
		}
	}
	if strings.TrimSpace(o.City) == "" {
		return fail("empty city")
	}
	if _, ok := ParsePollutant(string(o.Pollutant)); !ok {
		return fail("unknown pollutant")
	}
	if o.Date.IsZero() {
		return fail("zero date")
	}
	if math.IsNaN(o.Value) || math.IsInf(o.Value, 0) {
		return fail("value is not finite")
	}
	if o.Value < 0 {
		return fail("negative value")
	}
	return nil
}

// RawRow is the flat JSON structure supplied by ingestion collaborators
// (live API clients or the synthetic generator).
type RawRow struct {
	City      string  `json:"city"`
	Pollutant string  `json:"pollutant"`
	Date      string  `json:"date"` // YYYY-MM-DD
	Value     float64 `json:"value"`
}

// RawEvent is an unprocessed message from the ingestion transport.
type RawEvent struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// ParseRawRow deserializes and validates a RawEvent's value into an
// Observation. Malformed rows are rejected, never coerced.
func ParseRawRow(raw RawEvent) (Observation, error) {
	var row RawRow
	if err := json.Unmarshal(raw.Value, &row); err != nil {
		return Observation{}, fmt.Errorf("parse raw row: %w", err)
	}

	pollutant, ok := ParsePollutant(row.Pollutant)
	if !ok {
		return Observation{}, &ValidationError{
			City: row.City, Pollutant: row.Pollutant, Date: row.Date,
			Reason: "unknown pollutant",
		}
	}

	date, err := time.Parse(DateLayout, strings.TrimSpace(row.Date))
	if err != nil {
		return Observation{}, &ValidationError{
			City: row.City, Pollutant: row.Pollutant, Date: row.Date,
			Reason: "unparseable date",
		}
	}

	obs := Observation{
		City:      strings.TrimSpace(row.City),
		Pollutant: pollutant,
		Date:      date,
		Value:     row.Value,
	}
	if verr := obs.Validate(); verr != nil {
		return Observation{}, verr
	}
	return obs, nil
}
