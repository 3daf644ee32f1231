// Package policy evaluates intervention impact: pre/post window comparison on
// de-seasonalized values, optionally netted against a control city, with
// significance from the shared hypothesis-test selection.
//
// The seasonal profile is always estimated from data strictly before the
// intervention start. A profile trained across the post window would absorb
// the very effect being measured and de-seasonalize it away.
package policy

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/openairlab/airq-analytics/internal/domain"
	"github.com/openairlab/airq-analytics/internal/seasonal"
	"github.com/openairlab/airq-analytics/internal/stats"
)

// SeriesSource is the read side of the store the evaluator needs.
type SeriesSource interface {
	Series(city string, pollutant domain.Pollutant, from, to time.Time) domain.Series
	Range(city string, pollutant domain.Pollutant) (first, last time.Time, ok bool)
}

// Config tunes the evaluation.
type Config struct {
	// WindowDays is the length of both the pre and post windows.
	WindowDays int

	// MinSampleDays is the minimum number of valid days per window for a
	// p-value to be reported at all. Below it the verdict is inconclusive
	// with a NaN p-value, never a confident number from thin data.
	MinSampleDays int

	// Alpha is the significance level.
	Alpha float64

	// EffectThreshold is the minimum relative improvement (as a positive
	// fraction) for a significant drop to count as effective.
	EffectThreshold float64

	// ExceedanceThreshold is the level above which a day counts as an
	// exceedance day in the reported shares.
	ExceedanceThreshold float64

	// Workers bounds EvaluateAll's concurrency.
	Workers int
}

// DefaultConfig returns the standard evaluation settings.
func DefaultConfig() Config {
	return Config{
		WindowDays:          30,
		MinSampleDays:       10,
		Alpha:               0.05,
		EffectThreshold:     0.05,
		ExceedanceThreshold: 200,
		Workers:             4,
	}
}

// Evaluator computes impact results over a store.
type Evaluator struct {
	cfg      Config
	source   SeriesSource
	profiles seasonal.ProfileSource
}

// NewEvaluator creates an Evaluator. Zero-valued config fields take defaults.
func NewEvaluator(cfg Config, source SeriesSource, profiles seasonal.ProfileSource) *Evaluator {
	def := DefaultConfig()
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = def.WindowDays
	}
	if cfg.MinSampleDays <= 0 {
		cfg.MinSampleDays = def.MinSampleDays
	}
	if cfg.Alpha <= 0 {
		cfg.Alpha = def.Alpha
	}
	if cfg.EffectThreshold <= 0 {
		cfg.EffectThreshold = def.EffectThreshold
	}
	if cfg.ExceedanceThreshold <= 0 {
		cfg.ExceedanceThreshold = def.ExceedanceThreshold
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	return &Evaluator{cfg: cfg, source: source, profiles: profiles}
}

// window is one side of the comparison: raw and de-seasonalized values per
// dated day, NaN gaps already dropped.
type window struct {
	dates []time.Time
	raw   []float64
	adj   []float64
}

// Evaluate scores one intervention. Results are recomputed from the store on
// every call and are bit-identical for identical inputs.
func (e *Evaluator) Evaluate(iv domain.Intervention) (*domain.ImpactResult, error) {
	if err := validateIntervention(iv); err != nil {
		return nil, err
	}
	first, last, ok := e.source.Range(iv.City, iv.Pollutant)
	start := domain.Midnight(iv.Start)
	if !ok || start.Before(first) || start.After(last) {
		return nil, fmt.Errorf("evaluate %q: start %s outside data range: %w",
			iv.Label, start.Format(domain.DateLayout), domain.ErrInvalidIntervention)
	}

	profile := e.baselineProfile(iv.City, iv.Pollutant, start)
	pre, post, err := e.windows(iv, iv.City, profile)
	if err != nil {
		return nil, err
	}

	result := &domain.ImpactResult{
		Intervention:        iv,
		PreDays:             len(pre.adj),
		PostDays:            len(post.adj),
		PreMean:             mean(pre.adj),
		PostMean:            mean(post.adj),
		PreExceedanceShare:  exceedanceShare(pre.raw, e.cfg.ExceedanceThreshold),
		PostExceedanceShare: exceedanceShare(post.raw, e.cfg.ExceedanceThreshold),
	}

	// The samples the hypothesis test compares: plain de-seasonalized values,
	// or per-day treated minus control deltas when a control city nets out
	// concurrent regional change.
	preSample, postSample := pre.adj, post.adj
	if iv.ControlCity != "" {
		controlProfile := e.baselineProfile(iv.ControlCity, iv.Pollutant, start)
		controlPre, controlPost, err := e.windows(iv, iv.ControlCity, controlProfile)
		if err != nil {
			return nil, fmt.Errorf("control city %s: %w", iv.ControlCity, err)
		}
		preSample = matchedDeltas(pre, controlPre)
		postSample = matchedDeltas(post, controlPost)
		result.PreDays = len(preSample)
		result.PostDays = len(postSample)
		result.AbsoluteDelta = mean(postSample) - mean(preSample)
	} else {
		result.AbsoluteDelta = result.PostMean - result.PreMean
	}

	if result.PreMean != 0 {
		result.RelativeDelta = result.AbsoluteDelta / result.PreMean
	} else {
		result.RelativeDelta = math.NaN()
	}

	if len(preSample) < e.cfg.MinSampleDays || len(postSample) < e.cfg.MinSampleDays {
		result.PValue = math.NaN()
		result.Classification = domain.ClassInconclusive
		return result, nil
	}

	test, err := stats.CompareMeans(preSample, postSample)
	if err != nil {
		return nil, fmt.Errorf("evaluate %q: %w", iv.Label, err)
	}
	result.PValue = test.PValue
	result.TestMethod = test.Method
	result.Significant = test.PValue < e.cfg.Alpha
	result.Classification = classify(result.Significant, result.RelativeDelta, e.cfg.EffectThreshold)
	return result, nil
}

// Outcome is one item of a batch evaluation; exactly one of Result and Err
// is set.
type Outcome struct {
	Intervention domain.Intervention
	Result       *domain.ImpactResult
	Err          error
}

// EvaluateAll scores a catalog of interventions concurrently. One failing
// item never aborts the rest; cancellation stops picking up new items.
func (e *Evaluator) EvaluateAll(ctx context.Context, catalog []domain.Intervention) []Outcome {
	outcomes := make([]Outcome, len(catalog))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < e.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				result, err := e.Evaluate(catalog[i])
				outcomes[i] = Outcome{Intervention: catalog[i], Result: result, Err: err}
			}
		}()
	}

	for i := range catalog {
		if err := ctx.Err(); err != nil {
			outcomes[i] = Outcome{Intervention: catalog[i], Err: err}
			continue
		}
		select {
		case <-ctx.Done():
			outcomes[i] = Outcome{Intervention: catalog[i], Err: ctx.Err()}
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()
	return outcomes
}

// baselineProfile decomposes the series strictly before the intervention
// start. Too little pre-history means neutral factors, not a failure.
func (e *Evaluator) baselineProfile(city string, pollutant domain.Pollutant, start time.Time) *domain.SeasonalProfile {
	first, _, ok := e.source.Range(city, pollutant)
	if !ok {
		return nil
	}
	baseline := e.source.Series(city, pollutant, first, start)
	profile, err := e.profiles.Decompose(baseline)
	if err != nil {
		return nil
	}
	return profile
}

// windows extracts the pre and post comparison windows for a city. An empty
// window (zero valid days) fails with domain.ErrInsufficientWindow.
func (e *Evaluator) windows(iv domain.Intervention, city string, profile *domain.SeasonalProfile) (pre, post window, err error) {
	start := domain.Midnight(iv.Start)
	w := e.cfg.WindowDays

	pre = e.collect(city, iv.Pollutant, start.AddDate(0, 0, -w), start, profile, &iv)
	post = e.collect(city, iv.Pollutant, start, start.AddDate(0, 0, w), profile, nil)

	if len(pre.adj) == 0 || len(post.adj) == 0 {
		return window{}, window{}, fmt.Errorf("evaluate %q for %s: empty pre or post window around %s: %w",
			iv.Label, city, start.Format(domain.DateLayout), domain.ErrInsufficientWindow)
	}
	return pre, post, nil
}

// collect gathers the valid days of [from, to), de-seasonalized by the
// profile's recurring factors. When exclude is set, days inside that
// intervention's own range are skipped.
func (e *Evaluator) collect(city string, pollutant domain.Pollutant, from, to time.Time, profile *domain.SeasonalProfile, exclude *domain.Intervention) window {
	series := e.source.Series(city, pollutant, from, to)
	var out window
	for i := 0; i < series.Len(); i++ {
		v := series.Values[i]
		if math.IsNaN(v) {
			continue
		}
		date := series.DateAt(i)
		if exclude != nil && withinIntervention(*exclude, date) {
			continue
		}
		adj := v
		if profile != nil {
			if f := profile.SeasonalFactor(date); f > 0 {
				adj = v / f
			}
		}
		out.dates = append(out.dates, date)
		out.raw = append(out.raw, v)
		out.adj = append(out.adj, adj)
	}
	return out
}

// matchedDeltas pairs treated and control windows on concurrent days and
// returns the per-day treated minus control differences.
func matchedDeltas(treated, control window) []float64 {
	byDate := make(map[time.Time]float64, len(control.dates))
	for i, d := range control.dates {
		byDate[d] = control.adj[i]
	}
	var deltas []float64
	for i, d := range treated.dates {
		c, ok := byDate[d]
		if !ok {
			continue
		}
		deltas = append(deltas, treated.adj[i]-c)
	}
	return deltas
}

func withinIntervention(iv domain.Intervention, date time.Time) bool {
	start := domain.Midnight(iv.Start)
	if date.Before(start) {
		return false
	}
	if iv.End == nil {
		return true
	}
	return !date.After(domain.Midnight(*iv.End))
}

func validateIntervention(iv domain.Intervention) error {
	switch {
	case iv.City == "":
		return fmt.Errorf("intervention %q: empty city: %w", iv.Label, domain.ErrInvalidIntervention)
	case iv.Pollutant == "":
		return fmt.Errorf("intervention %q: empty pollutant: %w", iv.Label, domain.ErrInvalidIntervention)
	case iv.Start.IsZero():
		return fmt.Errorf("intervention %q: zero start date: %w", iv.Label, domain.ErrInvalidIntervention)
	case iv.End != nil && iv.End.Before(iv.Start):
		return fmt.Errorf("intervention %q: end before start: %w", iv.Label, domain.ErrInvalidIntervention)
	}
	return nil
}

func classify(significant bool, relativeDelta, effectThreshold float64) domain.Classification {
	switch {
	case significant && relativeDelta <= -effectThreshold:
		return domain.ClassEffective
	case significant && relativeDelta >= 0:
		return domain.ClassIneffective
	default:
		return domain.ClassInconclusive
	}
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func exceedanceShare(values []float64, threshold float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	n := 0
	for _, v := range values {
		if v > threshold {
			n++
		}
	}
	return float64(n) / float64(len(values))
}
