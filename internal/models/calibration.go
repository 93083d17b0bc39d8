package models

import (
	"fmt"
	"math"
)

// CalibrationModel holds the four parameters of the Rodbard
// (four-parameter logistic) curve relating activity to grey value.
type CalibrationModel struct {
	Min   float64 `json:"min"`
	Slope float64 `json:"slope"`
	ED50  float64 `json:"ED50"`
	Max   float64 `json:"max"`
}

// GreyBound is the upper bound of the Min and Max parameters.
const GreyBound = 1 << 16

// Validate checks that a fitted model is finite and within bounds.
func (m CalibrationModel) Validate() error {
	for name, v := range map[string]float64{"min": m.Min, "slope": m.Slope, "ED50": m.ED50, "max": m.Max} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("parameter %s is not finite: %v", name, v)
		}
	}
	if m.Min < 0 || m.Min > GreyBound {
		return fmt.Errorf("min %g outside [0, %d]", m.Min, GreyBound)
	}
	if m.Max < 0 || m.Max > GreyBound {
		return fmt.Errorf("max %g outside [0, %d]", m.Max, GreyBound)
	}
	if m.ED50 < 0 {
		return fmt.Errorf("ED50 %g is negative", m.ED50)
	}
	return nil
}

// StandardObservation is one measured calibration standard.
type StandardObservation struct {
	// Stem is the filename stem of the standard image
	Stem string `json:"fname"`

	// Grey is the decoded grey image; not serialised
	Grey *GreyImage `json:"-"`

	// Value is the representative (median or mean) inverted grey value
	Value float64 `json:"grey"`

	// Activity is the known activity in uCi/g paired with this image
	Activity float64 `json:"radioactivity"`

	// Background is set when the locator found no standard in the image
	Background bool `json:"background"`
}
