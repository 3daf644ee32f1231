package domain

import (
	"math"
	"time"
)

// Series is the dense daily calendar for one (city, pollutant). Values are
// indexed by day offset from Start; missing days hold NaN. A Series is
// immutable once handed out by the store: consumers receive copies.
type Series struct {
	City      string
	Pollutant Pollutant
	Start     time.Time // UTC midnight of the first day; zero when empty
	Values    []float64
}

// NewSeries builds a Series. The values slice is used as-is; callers that
// retain it must not mutate it afterwards.
func NewSeries(city string, pollutant Pollutant, start time.Time, values []float64) Series {
	return Series{City: city, Pollutant: pollutant, Start: Midnight(start), Values: values}
}

// Len returns the calendar length in days, including NaN gaps.
func (s Series) Len() int { return len(s.Values) }

// IsEmpty reports whether the series holds no days at all.
func (s Series) IsEmpty() bool { return len(s.Values) == 0 }

// End returns the date of the last day, or the zero time for an empty series.
func (s Series) End() time.Time {
	if s.IsEmpty() {
		return time.Time{}
	}
	return s.Start.AddDate(0, 0, len(s.Values)-1)
}

// DateAt returns the calendar date of index i.
func (s Series) DateAt(i int) time.Time {
	return s.Start.AddDate(0, 0, i)
}

// IndexOf returns the index of date, which may be out of [0, Len).
func (s Series) IndexOf(date time.Time) int {
	return DaysBetween(s.Start, date)
}

// At returns the value on date. The second return is false for dates outside
// the calendar or explicit gaps.
func (s Series) At(date time.Time) (float64, bool) {
	i := s.IndexOf(date)
	if i < 0 || i >= len(s.Values) {
		return math.NaN(), false
	}
	v := s.Values[i]
	if math.IsNaN(v) {
		return math.NaN(), false
	}
	return v, true
}

// ValidCount returns the number of non-missing days.
func (s Series) ValidCount() int {
	n := 0
	for _, v := range s.Values {
		if !math.IsNaN(v) {
			n++
		}
	}
	return n
}

// ValidValues returns the non-missing values in date order.
func (s Series) ValidValues() []float64 {
	out := make([]float64, 0, len(s.Values))
	for _, v := range s.Values {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

// Slice returns the half-open window [from, to) as a new Series. Windows
// extending past the calendar are truncated; a window with no overlap yields
// an empty Series.
func (s Series) Slice(from, to time.Time) Series {
	if s.IsEmpty() {
		return Series{City: s.City, Pollutant: s.Pollutant}
	}
	lo := s.IndexOf(from)
	hi := s.IndexOf(to)
	if lo < 0 {
		lo = 0
	}
	if hi > len(s.Values) {
		hi = len(s.Values)
	}
	if lo >= hi {
		return Series{City: s.City, Pollutant: s.Pollutant}
	}
	values := make([]float64, hi-lo)
	copy(values, s.Values[lo:hi])
	return Series{
		City:      s.City,
		Pollutant: s.Pollutant,
		Start:     s.DateAt(lo),
		Values:    values,
	}
}

// Observations expands the series back into per-day observations, skipping
// gaps.
func (s Series) Observations() []Observation {
	out := make([]Observation, 0, len(s.Values))
	for i, v := range s.Values {
		if math.IsNaN(v) {
			continue
		}
		out = append(out, Observation{
			City:      s.City,
			Pollutant: s.Pollutant,
			Date:      s.DateAt(i),
			Value:     v,
		})
	}
	return out
}
