// Package batch runs per-(city, pollutant) work units over a bounded worker
// pool. One unit's failure never aborts the rest; cancellation is honored
// between units, not mid-unit.
package batch

import (
	"context"
	"sync"

	"github.com/openairlab/airq-analytics/internal/domain"
)

// Unit identifies one partition's worth of work.
type Unit struct {
	City      string
	Pollutant domain.Pollutant
}

// Result pairs a unit with its outcome. Err is set when the unit failed or
// was skipped by cancellation.
type Result[T any] struct {
	Unit  Unit
	Value T
	Err   error
}

// Enumerator is the store surface needed to list all units.
type Enumerator interface {
	Cities() []string
	Pollutants(city string) []domain.Pollutant
}

// AllUnits lists every (city, pollutant) pair the store holds, in the
// store's stable order.
func AllUnits(e Enumerator) []Unit {
	var units []Unit
	for _, city := range e.Cities() {
		for _, pollutant := range e.Pollutants(city) {
			units = append(units, Unit{City: city, Pollutant: pollutant})
		}
	}
	return units
}

// Run executes fn for every unit with at most workers goroutines. Results
// are returned in unit order. Units not yet dispatched when the context is
// canceled carry the context error.
func Run[T any](ctx context.Context, units []Unit, workers int, fn func(context.Context, Unit) (T, error)) []Result[T] {
	if workers < 1 {
		workers = 1
	}
	results := make([]Result[T], len(units))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				value, err := fn(ctx, units[i])
				results[i] = Result[T]{Unit: units[i], Value: value, Err: err}
			}
		}()
	}

	for i := range units {
		if err := ctx.Err(); err != nil {
			results[i] = Result[T]{Unit: units[i], Err: err}
			continue
		}
		select {
		case <-ctx.Done():
			results[i] = Result[T]{Unit: units[i], Err: ctx.Err()}
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()
	return results
}
