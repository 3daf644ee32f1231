// Package store implements the in-memory time-series table that feeds every
// analytical component: validated, date-indexed daily observations per
// (city, pollutant) partition.
//
// Writes to a partition are serialized by that partition's lock; reads of
// committed data run concurrently. Consumers always receive copies, so a
// Series handed out is immutable from the store's point of view.
package store

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/openairlab/airq-analytics/internal/domain"
)

// RowError pairs a rejected row's position with the validation failure.
type RowError struct {
	Row int
	Err *domain.ValidationError
}

// Report summarizes one Load call: how many rows were accepted and which
// were rejected, so the caller can act per row instead of losing the batch.
type Report struct {
	Accepted int
	Rejected []RowError
}

// Ok reports whether every row was accepted.
func (r Report) Ok() bool { return len(r.Rejected) == 0 }

type partitionKey struct {
	city      string
	pollutant domain.Pollutant
}

// partition holds one (city, pollutant) series as a date-sorted slice.
// Binary search keeps range reads at O(log n).
type partition struct {
	mu    sync.RWMutex
	dates []time.Time // UTC midnights, strictly increasing
	vals  []float64
}

// Store is the mutable shared state of the system. All other components are
// pure functions over the series it hands out.
type Store struct {
	mu         sync.RWMutex // guards the partition map, not partition contents
	partitions map[partitionKey]*partition
}

// New creates an empty Store.
func New() *Store {
	return &Store{partitions: make(map[partitionKey]*partition)}
}

func (s *Store) partition(city string, pollutant domain.Pollutant, create bool) *partition {
	key := partitionKey{city: city, pollutant: pollutant}

	s.mu.RLock()
	p, ok := s.partitions[key]
	s.mu.RUnlock()
	if ok || !create {
		return p
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok = s.partitions[key]; ok {
		return p
	}
	p = &partition{}
	s.partitions[key] = p
	return p
}

// Load validates and inserts a batch of observations. Invalid rows and
// duplicate keys are rejected individually; valid rows are committed even
// when others fail.
func (s *Store) Load(rows []domain.Observation) Report {
	var report Report
	for i, obs := range rows {
		if err := s.Append(obs, false); err != nil {
			verr, ok := err.(*domain.ValidationError)
			if !ok {
				verr = &domain.ValidationError{
					City:      obs.City,
					Pollutant: string(obs.Pollutant),
					Date:      obs.Date.Format(domain.DateLayout),
					Reason:    err.Error(),
				}
			}
			report.Rejected = append(report.Rejected, RowError{Row: i, Err: verr})
			continue
		}
		report.Accepted++
	}
	return report
}

// Append inserts one observation, preserving date order. Without overwrite
// it fails with domain.ErrConflict when the key already exists.
func (s *Store) Append(obs domain.Observation, overwrite bool) error {
	if verr := obs.Validate(); verr != nil {
		return verr
	}
	date := domain.Midnight(obs.Date)

	p := s.partition(obs.City, obs.Pollutant, true)
	p.mu.Lock()
	defer p.mu.Unlock()

	i := sort.Search(len(p.dates), func(i int) bool { return !p.dates[i].Before(date) })
	if i < len(p.dates) && p.dates[i].Equal(date) {
		if !overwrite {
			return fmt.Errorf("append %s/%s %s: %w",
				obs.City, obs.Pollutant, date.Format(domain.DateLayout), domain.ErrConflict)
		}
		p.vals[i] = obs.Value
		return nil
	}

	p.dates = append(p.dates, time.Time{})
	p.vals = append(p.vals, 0)
	copy(p.dates[i+1:], p.dates[i:])
	copy(p.vals[i+1:], p.vals[i:])
	p.dates[i] = date
	p.vals[i] = obs.Value
	return nil
}

// Series returns the dense daily series for the half-open range [from, to).
// Days without data inside the range are explicit NaN gaps. A range with no
// data yields an empty series, not an error.
func (s *Store) Series(city string, pollutant domain.Pollutant, from, to time.Time) domain.Series {
	p := s.partition(city, pollutant, false)
	if p == nil {
		return domain.Series{City: city, Pollutant: pollutant}
	}

	from = domain.Midnight(from)
	to = domain.Midnight(to)

	p.mu.RLock()
	defer p.mu.RUnlock()

	lo := sort.Search(len(p.dates), func(i int) bool { return !p.dates[i].Before(from) })
	hi := sort.Search(len(p.dates), func(i int) bool { return !p.dates[i].Before(to) })
	if lo >= hi {
		return domain.Series{City: city, Pollutant: pollutant}
	}

	start := p.dates[lo]
	n := domain.DaysBetween(start, p.dates[hi-1]) + 1
	values := make([]float64, n)
	for i := range values {
		values[i] = math.NaN()
	}
	for i := lo; i < hi; i++ {
		values[domain.DaysBetween(start, p.dates[i])] = p.vals[i]
	}
	return domain.NewSeries(city, pollutant, start, values)
}

// FullSeries returns the whole recorded calendar for one partition.
func (s *Store) FullSeries(city string, pollutant domain.Pollutant) domain.Series {
	p := s.partition(city, pollutant, false)
	if p == nil {
		return domain.Series{City: city, Pollutant: pollutant}
	}
	p.mu.RLock()
	empty := len(p.dates) == 0
	var from, to time.Time
	if !empty {
		from = p.dates[0]
		to = p.dates[len(p.dates)-1].AddDate(0, 0, 1)
	}
	p.mu.RUnlock()
	if empty {
		return domain.Series{City: city, Pollutant: pollutant}
	}
	return s.Series(city, pollutant, from, to)
}

// LatestDate returns the most recent observation date for a partition. It is
// the training-data version used for model freshness checks. The second
// return is false when the partition holds no data.
func (s *Store) LatestDate(city string, pollutant domain.Pollutant) (time.Time, bool) {
	p := s.partition(city, pollutant, false)
	if p == nil {
		return time.Time{}, false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.dates) == 0 {
		return time.Time{}, false
	}
	return p.dates[len(p.dates)-1], true
}

// Range returns the first and last observation dates for a partition.
func (s *Store) Range(city string, pollutant domain.Pollutant) (first, last time.Time, ok bool) {
	p := s.partition(city, pollutant, false)
	if p == nil {
		return time.Time{}, time.Time{}, false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.dates) == 0 {
		return time.Time{}, time.Time{}, false
	}
	return p.dates[0], p.dates[len(p.dates)-1], true
}

// Cities lists every city with at least one observation, sorted.
func (s *Store) Cities() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	for key := range s.partitions {
		seen[key.city] = struct{}{}
	}
	cities := make([]string, 0, len(seen))
	for city := range seen {
		cities = append(cities, city)
	}
	sort.Strings(cities)
	return cities
}

// Pollutants lists the pollutants recorded for a city, in canonical order.
func (s *Store) Pollutants(city string) []domain.Pollutant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Pollutant
	for _, p := range domain.Pollutants {
		if _, ok := s.partitions[partitionKey{city: city, pollutant: p}]; ok {
			out = append(out, p)
		}
	}
	return out
}

// ObservationCount returns the total number of stored observations.
func (s *Store) ObservationCount() int {
	s.mu.RLock()
	parts := make([]*partition, 0, len(s.partitions))
	for _, p := range s.partitions {
		parts = append(parts, p)
	}
	s.mu.RUnlock()

	total := 0
	for _, p := range parts {
		p.mu.RLock()
		total += len(p.dates)
		p.mu.RUnlock()
	}
	return total
}
