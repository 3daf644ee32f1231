// Package domain defines the core data model for the air-quality analytics
// service: daily pollutant observations, derived series, seasonal profiles,
// forecast and policy-impact results, and the composite AQI computation.
//
// Everything here is a plain value type with no I/O. The invariants the rest
// of the system relies on:
//
//   - An Observation is unique per (city, pollutant, date) and its value is
//     never negative. Rows violating this are rejected at ingestion with a
//     ValidationError, not coerced.
//   - A Series is a dense daily calendar: missing days are explicit NaN
//     entries, never silently skipped, so index arithmetic on dates is safe.
//   - SeasonalProfile, ForecastResult, and ImpactResult are read-only
//     artifacts. They are recomputed, never mutated in place.
//
// Error kinds callers are expected to match with errors.Is are declared in
// errors.go.
package domain
