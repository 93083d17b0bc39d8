package calibration

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

	"qarprep/internal/models"
	"qarprep/pkg/config"
)

var testModels = []models.CalibrationModel{
	{Min: 2000, Slope: 1.2, ED50: 60, Max: 40000},
	{Min: 500, Slope: 0.7, ED50: 1500, Max: 65000},
	{Min: 50000, Slope: -1.5, ED50: 10, Max: 3000},
}

func TestInverseRoundTrip(t *testing.T) {
	xs := []float64{0.5, 1, 7, 60, 333, 1000, 5000}

	for _, m := range testModels {
		for _, x := range xs {
			y := Forward(x, m)
			got := Inverse(y, m)
			if math.Abs(got-x) > 1e-6*x {
				t.Errorf("model %+v: Expected inverse(forward(%g)) = %g, got %g", m, x, x, got)
			}
		}
	}
}

func TestForwardMonotonicAndBounded(t *testing.T) {
	for _, m := range testModels {
		increasing := (m.Slope > 0) == (m.Max > m.Min)
		lo, hi := math.Min(m.Min, m.Max), math.Max(m.Min, m.Max)

		prev := Forward(0.01, m)
		for x := 0.02; x < 1e5; x *= 1.5 {
			y := Forward(x, m)
			if increasing && y < prev || !increasing && y > prev {
				t.Fatalf("model %+v: Expected monotonic forward at x=%g (%g after %g)", m, x, y, prev)
			}
			if y < lo || y > hi {
				t.Fatalf("model %+v: Expected forward(%g) within [%g, %g], got %g", m, x, lo, hi, y)
			}
			prev = y
		}
	}
}

func TestInverseUndefined(t *testing.T) {
	m := testModels[0]

	if v := Inverse(m.Max, m); !math.IsNaN(v) {
		t.Errorf("Expected NaN at y == max, got %g", v)
	}

	// below min the base of the fractional power is negative
	if v := Inverse(m.Min-100, m); !math.IsNaN(v) {
		t.Errorf("Expected NaN below min, got %g", v)
	}
}

func TestFitRecoversParameters(t *testing.T) {
	truth := testModels[0]
	activities := []float64{1, 3, 10, 30, 100, 300, 1000}
	measured := make([]float64, len(activities))
	for i, a := range activities {
		measured[i] = Forward(a, truth)
	}

	got, err := Fit(activities, measured, config.FitParams{MaxEvaluations: 5000, Tolerance: 1e-10})
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	check := func(name string, got, want float64) {
		if math.Abs(got-want) > 1e-3*math.Abs(want) {
			t.Errorf("Expected %s %g, got %g", name, want, got)
		}
	}
	check("min", got.Min, truth.Min)
	check("slope", got.Slope, truth.Slope)
	check("ED50", got.ED50, truth.ED50)
	check("max", got.Max, truth.Max)
}

func TestFitStaysInBounds(t *testing.T) {
	// the unconstrained optimum has max far above the grey range
	activities := []float64{1, 10, 100, 1000}
	measured := []float64{1000, 20000, 50000, 65500}

	got, err := Fit(activities, measured, config.FitParams{MaxEvaluations: 5000, Tolerance: 1e-8})
	if err != nil {
		if !errors.Is(err, ErrFitDidNotConverge) {
			t.Fatalf("Expected ErrFitDidNotConverge, got %v", err)
		}
		return
	}
	if err := got.Validate(); err != nil {
		t.Errorf("Expected parameters within bounds: %v", err)
	}
}

func TestFitMaxNearGreyBound(t *testing.T) {
	// with 2% noise the best max sits on the grey bound while slope and
	// ED50 still have to move
	truth := models.CalibrationModel{Min: 1200, Slope: 1.05, ED50: 60, Max: 65000}
	rng := rand.New(rand.NewSource(7))
	var activities, measured []float64
	for i := 1; i <= 10; i++ {
		a := 12 * float64(i)
		activities = append(activities, a)
		measured = append(measured, Forward(a, truth)*(1+0.02*rng.NormFloat64()))
	}

	got, err := Fit(activities, measured, config.FitParams{MaxEvaluations: 5000, Tolerance: 1e-8})
	if err != nil {
		if !errors.Is(err, ErrFitDidNotConverge) {
			t.Fatalf("Expected ErrFitDidNotConverge, got %v", err)
		}
		return
	}
	if err := got.Validate(); err != nil {
		t.Fatalf("Expected parameters within bounds: %v", err)
	}

	f := &problem{x: activities, y: measured, budget: 1}
	jac, res := f.jacobian(got)
	var grad mat.VecDense
	grad.MulVec(jac.T(), res)
	free := freeParams(got, &grad)
	if !stationary(jac, res, &grad, free) {
		t.Errorf("Expected a stationary point over free parameters %v, got %+v with gradient %v",
			free, got, mat.Formatted(grad.T()))
	}

	start := InitialGuess(activities, measured)
	if c0, c1 := sse(activities, measured, start), sse(activities, measured, got); c1 > c0 {
		t.Errorf("Expected fit to improve on the initial guess, got SSE %g from %g", c1, c0)
	}
}

func TestFreeParams(t *testing.T) {
	m := models.CalibrationModel{Min: 0, Slope: 1, ED50: 5, Max: models.GreyBound}

	tests := []struct {
		grad []float64
		want []int
	}{
		// descent pushes min below 0 and max above the bound
		{[]float64{3, 1, 1, -2}, []int{1, 2}},
		// descent moves both back inside
		{[]float64{-3, 1, 1, 2}, []int{0, 1, 2, 3}},
	}
	for _, tt := range tests {
		got := freeParams(m, mat.NewVecDense(4, tt.grad))
		if len(got) != len(tt.want) {
			t.Errorf("grad %v: Expected free %v, got %v", tt.grad, tt.want, got)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("grad %v: Expected free %v, got %v", tt.grad, tt.want, got)
				break
			}
		}
	}
}

func TestSolveDampedFrozen(t *testing.T) {
	jtj := mat.NewDense(4, 4, []float64{
		4, 1, 0, 1,
		1, 3, 1, 0,
		0, 1, 2, 1,
		1, 0, 1, 5,
	})
	grad := mat.NewVecDense(4, []float64{1, -2, 3, -4})

	step, ok := solveDamped(jtj, grad, []int{1, 2}, 0)
	if !ok {
		t.Fatal("Expected a step")
	}
	if step[0] != 0 || step[3] != 0 {
		t.Errorf("Expected frozen parameters to stay put, got %v", step)
	}
	// [3 1; 1 2] d = [2 -3]
	if math.Abs(step[1]-1.4) > 1e-12 || math.Abs(step[2]+2.2) > 1e-12 {
		t.Errorf("Expected step [1.4 -2.2] on free parameters, got %v", step)
	}

	if _, ok := solveDamped(jtj, grad, nil, 0); ok {
		t.Error("Expected no step with every parameter frozen")
	}
}

func sse(x, y []float64, m models.CalibrationModel) float64 {
	var s float64
	for i := range x {
		r := Forward(x[i], m) - y[i]
		s += r * r
	}
	return s
}

func TestFitBudgetExhausted(t *testing.T) {
	activities := []float64{1, 3, 10, 30, 100}
	measured := []float64{2300, 3400, 8000, 19000, 31000}

	_, err := Fit(activities, measured, config.FitParams{MaxEvaluations: 1, Tolerance: 1e-8})
	if !errors.Is(err, ErrFitDidNotConverge) {
		t.Errorf("Expected ErrFitDidNotConverge, got %v", err)
	}
}

func TestFitRejectsBadInput(t *testing.T) {
	if _, err := Fit([]float64{1, 2}, []float64{1}, config.FitParams{}); err == nil {
		t.Error("Expected error for length mismatch")
	}
	if _, err := Fit(nil, nil, config.FitParams{}); err == nil {
		t.Error("Expected error for empty input")
	}
}

func TestInitialGuess(t *testing.T) {
	m := InitialGuess([]float64{1, 2, 6}, []float64{300, 100, 70000})
	want := models.CalibrationModel{Min: 100, Slope: 1, ED50: 3, Max: models.GreyBound}
	if m != want {
		t.Errorf("Expected %+v, got %+v", want, m)
	}
}
