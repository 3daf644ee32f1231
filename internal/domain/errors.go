package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for caller contract violations and data-quality failures.
// They are wrapped with city/pollutant/date context at the point of failure;
// callers match them with errors.Is.
var (
	// ErrConflict is returned by append operations when an observation for
	// the same (city, pollutant, date) already exists and overwrite was not
	// requested.
	ErrConflict = errors.New("observation already exists")

	// ErrInvalidHorizon is returned when a forecast horizon is outside the
	// supported 1-30 day range.
	ErrInvalidHorizon = errors.New("forecast horizon out of range")

	// ErrInsufficientData is returned when a series has too few valid days
	// to fit a statistically meaningful model.
	ErrInsufficientData = errors.New("insufficient training data")

	// ErrInsufficientWindow is returned when a policy evaluation window
	// contains no usable observations.
	ErrInsufficientWindow = errors.New("no observations in evaluation window")

	// ErrInvalidIntervention is returned when an intervention's start date
	// falls outside the store's data range.
	ErrInvalidIntervention = errors.New("intervention outside data range")
)

// ValidationError describes a single rejected ingestion row with enough
// context to act on it. It never aborts the batch it belongs to.
type ValidationError struct {
	City      string
	Pollutant string
	Date      string
	Reason    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid observation city=%q pollutant=%q date=%q: %s",
		e.City, e.Pollutant, e.Date, e.Reason)
}
