// Package calibration fits the Rodbard (four-parameter logistic) curve that
// relates known standard activities to measured grey values, and runs the
// per-subject calibration of standard images.
package calibration

import (
	"math"

	"qarprep/internal/models"
)

// Forward evaluates the Rodbard curve at activity x:
//
//	y = max + (min - max) / (1 + (x/ED50)^slope)
func Forward(x float64, m models.CalibrationModel) float64 {
	f, _ := evaluate(x, m)
	return f
}

// Inverse returns the activity whose grey value is y. The result is NaN
// where the inverse is undefined: y equal to max, or a negative base under
// a fractional power.
func Inverse(y float64, m models.CalibrationModel) float64 {
	if y == m.Max {
		return math.NaN()
	}
	base := (m.Min-m.Max)/(y-m.Max) - 1
	return m.ED50 * math.Pow(base, 1/m.Slope)
}

// evaluate returns the curve value and its gradient with respect to
// (min, slope, ED50, max).
func evaluate(x float64, m models.CalibrationModel) (float64, [4]float64) {
	ratio := x / m.ED50
	u := math.Pow(ratio, m.Slope)
	if math.IsInf(u, 1) {
		return m.Max, [4]float64{0, 0, 0, 1}
	}

	d := 1 + u
	span := m.Min - m.Max
	f := m.Max + span/d

	var grad [4]float64
	grad[0] = 1 / d
	if ratio > 0 {
		grad[1] = -span * u * math.Log(ratio) / (d * d)
	}
	grad[2] = span * u * m.Slope / (m.ED50 * d * d)
	grad[3] = u / d
	return f, grad
}
