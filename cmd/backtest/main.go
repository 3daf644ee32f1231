// Command backtest replays a historical fixture through the full analytics
// stack: it loads the rows into the in-memory store, fits a model for every
// (city, pollutant) pair, prints the holdout accuracy table, sanity-checks
// forecasts, and optionally evaluates an intervention catalog. It exits
// non-zero when any phase fails, so it doubles as an offline regression gate.
//
// Usage:
//
//	go run ./cmd/backtest \
//	  -fixture data/fixtures/airq_history.json \
//	  -interventions data/fixtures/interventions.json
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"
	"time"

	"github.com/openairlab/airq-analytics/internal/domain"
	"github.com/openairlab/airq-analytics/internal/forecast"
	"github.com/openairlab/airq-analytics/internal/observability"
	"github.com/openairlab/airq-analytics/internal/policy"
	"github.com/openairlab/airq-analytics/internal/seasonal"
	"github.com/openairlab/airq-analytics/internal/store"
)

const sanityHorizonDays = 7

// phase tracks pass/fail for one backtest phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	fixture := flag.String("fixture", "", "path to the JSON observation fixture")
	interventions := flag.String("interventions", "", "optional path to a JSON intervention catalog")
	workers := flag.Int("workers", 4, "fit worker pool size")
	flag.Parse()

	if *fixture == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*fixture, *interventions, *workers); code != 0 {
		os.Exit(code)
	}
}

func run(fixturePath, interventionsPath string, workers int) int {
	fmt.Println("=== Air Quality Backtest ===")
	fmt.Println()

	rows, err := loadJSON[domain.RawRow](fixturePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load fixture: %v\n", err)
		return 1
	}

	var catalog []domain.Intervention
	if interventionsPath != "" {
		catalog, err = loadJSON[domain.Intervention](interventionsPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: load interventions: %v\n", err)
			return 1
		}
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	metrics := observability.NewMetricsForTesting()

	st := store.New()
	loadPhase := loadFixture(st, rows)

	profiles := seasonal.NewCached(seasonal.New(seasonal.Config{}), 256)
	engine := forecast.NewEngine(forecast.Config{}, profiles)
	models := forecast.NewModelStore()
	svc := forecast.NewService(st, engine, models, logger, metrics, workers)

	fitPhase, fitted := fitModels(svc)
	forecastPhase := checkForecasts(svc, fitted)

	phases := []*phase{loadPhase, fitPhase, forecastPhase}
	if len(catalog) > 0 {
		evaluator := policy.NewEvaluator(policy.DefaultConfig(), st, profiles)
		phases = append(phases, evaluateCatalog(evaluator, catalog))
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll phases passed.")
		return 0
	}
	fmt.Println("\nBacktest FAILED.")
	return 1
}

// ── Phase 1: Data Load ──

func loadFixture(st *store.Store, rows []domain.RawRow) *phase {
	p := &phase{name: "Phase 1: Data Load"}

	obs := make([]domain.Observation, 0, len(rows))
	for i, row := range rows {
		pollutant, ok := domain.ParsePollutant(row.Pollutant)
		if !ok {
			p.errorf("row %d: unknown pollutant %q", i, row.Pollutant)
			continue
		}
		date, err := time.Parse(domain.DateLayout, row.Date)
		if err != nil {
			p.errorf("row %d: unparseable date %q", i, row.Date)
			continue
		}
		obs = append(obs, domain.Observation{
			City: row.City, Pollutant: pollutant, Date: date, Value: row.Value,
		})
	}

	report := st.Load(obs)
	for _, rej := range report.Rejected {
		p.errorf("rejected %s/%s %s: %s", rej.Err.City, rej.Err.Pollutant, rej.Err.Date, rej.Err.Reason)
	}

	fmt.Printf("Loaded %d observations across %d cities\n", st.ObservationCount(), len(st.Cities()))
	return p
}

// ── Phase 2: Model Fitting ──

func fitModels(svc *forecast.Service) (*phase, []*forecast.Model) {
	p := &phase{name: "Phase 2: Model Fitting (holdout backtest)"}

	results := svc.RetrainAll(context.Background())
	floor := forecast.DefaultConfig().CoverageFloor

	var fitted []*forecast.Model
	for _, r := range results {
		if r.Err != nil {
			p.errorf("%s/%s: fit failed: %v", r.Unit.City, r.Unit.Pollutant, r.Err)
			continue
		}
		fitted = append(fitted, r.Value)
	}

	sort.Slice(fitted, func(i, j int) bool {
		if fitted[i].City != fitted[j].City {
			return fitted[i].City < fitted[j].City
		}
		return fitted[i].Pollutant < fitted[j].Pollutant
	})

	fmt.Println()
	fmt.Printf("%-14s %-8s %10s %10s %8s\n", "CITY", "POLL", "MAE", "COVERAGE", "WIDEN")
	for _, m := range fitted {
		bt := m.Backtest
		if m.Degenerate {
			fmt.Printf("%-14s %-8s %10s %10s %8s\n", m.City, m.Pollutant, "-", "const", "-")
			continue
		}
		if bt.HoldoutDays == 0 {
			fmt.Printf("%-14s %-8s %10s %10s %8.2f\n", m.City, m.Pollutant, "-", "n/a", bt.WidenFactor)
			continue
		}
		fmt.Printf("%-14s %-8s %10.2f %10.2f %8.2f\n", m.City, m.Pollutant, bt.MAE, bt.Coverage, bt.WidenFactor)
		if bt.Coverage < floor {
			p.errorf("%s/%s: holdout coverage %.2f below floor %.2f", m.City, m.Pollutant, bt.Coverage, floor)
		}
	}
	return p, fitted
}

// ── Phase 3: Forecast Sanity ──

func checkForecasts(svc *forecast.Service, fitted []*forecast.Model) *phase {
	p := &phase{name: "Phase 3: Forecast Sanity"}

	for _, m := range fitted {
		fc, err := svc.Forecast(context.Background(), m.City, m.Pollutant, sanityHorizonDays)
		if err != nil {
			p.errorf("%s/%s: forecast failed: %v", m.City, m.Pollutant, err)
			continue
		}
		if len(fc.Points) != sanityHorizonDays {
			p.errorf("%s/%s: expected %d points, got %d", m.City, m.Pollutant, sanityHorizonDays, len(fc.Points))
			continue
		}
		for i, pt := range fc.Points {
			if math.IsNaN(pt.Point) || pt.Point < 0 {
				p.errorf("%s/%s day %d: bad point %g", m.City, m.Pollutant, i+1, pt.Point)
			}
			if pt.Lower > pt.Point || pt.Point > pt.Upper {
				p.errorf("%s/%s day %d: bounds out of order [%g, %g, %g]", m.City, m.Pollutant, i+1, pt.Lower, pt.Point, pt.Upper)
			}
		}
	}
	return p
}

// ── Phase 4: Policy Evaluation ──

func evaluateCatalog(evaluator *policy.Evaluator, catalog []domain.Intervention) *phase {
	p := &phase{name: "Phase 4: Policy Evaluation"}

	outcomes := evaluator.EvaluateAll(context.Background(), catalog)

	fmt.Println()
	fmt.Printf("%-20s %-14s %-8s %10s %10s  %s\n", "LABEL", "CITY", "POLL", "DELTA", "P", "VERDICT")
	for _, o := range outcomes {
		iv := o.Intervention
		if o.Err != nil {
			p.errorf("%s (%s/%s): %v", iv.Label, iv.City, iv.Pollutant, o.Err)
			continue
		}
		r := o.Result
		fmt.Printf("%-20s %-14s %-8s %9.1f%% %10.4f  %s\n",
			iv.Label, iv.City, iv.Pollutant, r.RelativeDelta*100, r.PValue, r.Classification)
	}
	return p
}

// ── Helpers ──

func loadJSON[T any](path string) ([]T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	return items, nil
}
