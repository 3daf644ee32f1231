package domain

import (
	"encoding/json"
	"math"
	"time"
)

// Intervention is a labeled policy action supplied by an external catalog.
// End is nil for ongoing interventions. ControlCity, when set, names a city
// whose concurrent change nets out seasonal and regional confounders.
type Intervention struct {
	City        string     `json:"city"`
	Pollutant   Pollutant  `json:"pollutant"`
	Label       string     `json:"label"`
	Start       time.Time  `json:"start"`
	End         *time.Time `json:"end,omitempty"`
	ControlCity string     `json:"control_city,omitempty"`
}

// Classification is the verdict on an intervention.
type Classification string

const (
	ClassEffective    Classification = "effective"
	ClassInconclusive Classification = "inconclusive"
	ClassIneffective  Classification = "ineffective"
)

// ImpactResult is the derived, immutable outcome of a policy evaluation.
// It is recomputed on demand and never cached across data updates.
//
// PValue is NaN when either window holds fewer than the configured minimum
// of valid days; in that case Classification is always inconclusive.
type ImpactResult struct {
	Intervention Intervention `json:"intervention"`

	PreMean       float64 `json:"pre_mean"`
	PostMean      float64 `json:"post_mean"`
	AbsoluteDelta float64 `json:"absolute_delta"`
	RelativeDelta float64 `json:"relative_delta"` // fraction, e.g. -0.30 for a 30% drop

	PValue      float64 `json:"p_value"`
	Significant bool    `json:"significant"`
	TestMethod  string  `json:"test_method"`

	PreDays  int `json:"pre_days"`
	PostDays int `json:"post_days"`

	// Exceedance-day share above the configured threshold, reported alongside
	// the mean comparison for threshold-triggered policies.
	PreExceedanceShare  float64 `json:"pre_exceedance_share"`
	PostExceedanceShare float64 `json:"post_exceedance_share"`

	Classification Classification `json:"classification"`
}

// MarshalJSON renders NaN statistics as null so results stay encodable.
func (r ImpactResult) MarshalJSON() ([]byte, error) {
	type plain ImpactResult
	return json.Marshal(struct {
		plain
		RelativeDelta *float64 `json:"relative_delta"`
		PValue        *float64 `json:"p_value"`
	}{
		plain:         plain(r),
		RelativeDelta: nanToNull(r.RelativeDelta),
		PValue:        nanToNull(r.PValue),
	})
}

// UnmarshalJSON restores null statistics back to NaN.
func (r *ImpactResult) UnmarshalJSON(data []byte) error {
	type plain ImpactResult
	var aux struct {
		plain
		RelativeDelta *float64 `json:"relative_delta"`
		PValue        *float64 `json:"p_value"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = ImpactResult(aux.plain)
	r.RelativeDelta = nullToNaN(aux.RelativeDelta)
	r.PValue = nullToNaN(aux.PValue)
	return nil
}

func nanToNull(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}

func nullToNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}
