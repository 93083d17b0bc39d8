package calibration

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"qarprep/internal/models"
	"qarprep/pkg/config"
)

// ErrFitDidNotConverge is returned when the curve fit exhausts its
// evaluation budget, stalls away from a minimum or ends outside the
// parameter bounds.
var ErrFitDidNotConverge = errors.New("calibration fit did not converge")

const (
	// ED50 is kept strictly positive so x/ED50 stays finite
	ed50Floor = 1e-12

	initialDamping = 1e-3
	maxDamping     = 1e20

	// largest cosine between the residual and a free Jacobian column
	// accepted as a minimum
	stationaryTol = 1e-3
)

var (
	lowerBound = [4]float64{0, math.Inf(-1), ed50Floor, 0}
	upperBound = [4]float64{models.GreyBound, math.Inf(1), math.Inf(1), models.GreyBound}
)

// InitialGuess is the starting point of the fit: the measured extremes,
// unit slope and the mean activity as ED50.
func InitialGuess(activities, measured []float64) models.CalibrationModel {
	return project(models.CalibrationModel{
		Min:   floats.Min(measured),
		Slope: 1,
		ED50:  stat.Mean(activities, nil),
		Max:   floats.Max(measured),
	})
}

// Fit fits the Rodbard curve to (activity, measured grey) pairs by bounded
// Levenberg-Marquardt least squares. Parameters pinned on a bound by the
// gradient are frozen and the damped system is solved for the rest; every
// trial point is projected onto the parameter box and the damping is
// scaled by the diagonal of JᵀJ. The fit ends when the residual is
// negligible or orthogonal to every free Jacobian column.
func Fit(activities, measured []float64, opts config.FitParams) (models.CalibrationModel, error) {
	if len(activities) != len(measured) {
		return models.CalibrationModel{}, fmt.Errorf("%d activities for %d measurements", len(activities), len(measured))
	}
	if len(activities) == 0 {
		return models.CalibrationModel{}, errors.New("no calibration points")
	}

	budget := opts.MaxEvaluations
	if budget <= 0 {
		budget = 5000
	}
	tol := opts.Tolerance
	if tol <= 0 {
		tol = 1e-8
	}

	f := &problem{x: activities, y: measured, budget: budget}
	p := InitialGuess(activities, measured)
	cost, err := f.cost(p)
	if err != nil {
		return p, err
	}

	lambda := initialDamping
	for cost > 0 {
		jac, res := f.jacobian(p)

		var jtj mat.Dense
		jtj.Mul(jac.T(), jac)
		var grad mat.VecDense
		grad.MulVec(jac.T(), res)

		free := freeParams(p, &grad)
		if f.exact(res, tol) || stationary(jac, res, &grad, free) {
			return f.finish(p)
		}

		improved := false
		for !improved {
			if lambda > maxDamping {
				return p, fmt.Errorf("%w: no descent from %+v (cost %g)", ErrFitDidNotConverge, p, cost)
			}

			step, ok := solveDamped(&jtj, &grad, free, lambda)
			if !ok {
				lambda *= 10
				continue
			}

			next := project(models.CalibrationModel{
				Min:   p.Min + step[0],
				Slope: p.Slope + step[1],
				ED50:  p.ED50 + step[2],
				Max:   p.Max + step[3],
			})
			nextCost, err := f.cost(next)
			if err != nil {
				return next, err
			}

			if nextCost < cost {
				improved = true
				p, cost = next, nextCost
				lambda = math.Max(lambda/10, 1e-12)
			} else {
				lambda *= 10
			}
		}
	}

	return f.finish(p)
}

// problem holds the data and the evaluation budget of one fit.
type problem struct {
	x, y   []float64
	budget int
	evals  int
}

func (f *problem) cost(m models.CalibrationModel) (float64, error) {
	f.evals++
	if f.evals > f.budget {
		return math.Inf(1), fmt.Errorf("%w: %d evaluations exceeded", ErrFitDidNotConverge, f.budget)
	}

	var sum float64
	for i, x := range f.x {
		r := Forward(x, m) - f.y[i]
		sum += r * r
	}
	if math.IsNaN(sum) {
		return math.Inf(1), nil
	}
	return sum / 2, nil
}

// jacobian returns J (n x 4) and the residual vector at m.
func (f *problem) jacobian(m models.CalibrationModel) (*mat.Dense, *mat.VecDense) {
	n := len(f.x)
	jac := mat.NewDense(n, 4, nil)
	res := mat.NewVecDense(n, nil)
	for i, x := range f.x {
		v, grad := evaluate(x, m)
		res.SetVec(i, v-f.y[i])
		jac.SetRow(i, grad[:])
	}
	return jac, res
}

// exact reports whether the residual is negligible against the data.
func (f *problem) exact(res *mat.VecDense, tol float64) bool {
	return mat.Norm(res, 2) <= tol*floats.Norm(f.y, 2)
}

func (f *problem) finish(m models.CalibrationModel) (models.CalibrationModel, error) {
	if err := m.Validate(); err != nil {
		return m, fmt.Errorf("%w: %v", ErrFitDidNotConverge, err)
	}
	return m, nil
}

// solveDamped solves (JᵀJ + λ·diag(JᵀJ)) δ = -Jᵀr over the free
// parameters; frozen parameters get a zero step.
func solveDamped(jtj *mat.Dense, grad *mat.VecDense, free []int, lambda float64) ([4]float64, bool) {
	var step [4]float64
	k := len(free)
	if k == 0 {
		return step, false
	}

	a := mat.NewDense(k, k, nil)
	b := mat.NewVecDense(k, nil)
	for i, fi := range free {
		for j, fj := range free {
			a.Set(i, j, jtj.At(fi, fj))
		}
		d := jtj.At(fi, fi)
		if d < 1e-12 {
			d = 1e-12
		}
		a.Set(i, i, d*(1+lambda))
		b.SetVec(i, -grad.AtVec(fi))
	}

	var qr mat.QR
	qr.Factorize(a)
	var delta mat.VecDense
	if err := qr.SolveVecTo(&delta, false, b); err != nil {
		// an ill-conditioned solve still yields a usable step
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return step, false
		}
	}

	for i, fi := range free {
		step[fi] = delta.AtVec(i)
		if math.IsNaN(step[fi]) || math.IsInf(step[fi], 0) {
			return step, false
		}
	}
	return step, true
}

// freeParams returns the indices of the parameters the next step may move.
// A parameter sitting on a bound is frozen while the descent direction -g
// points out of the box.
func freeParams(m models.CalibrationModel, grad *mat.VecDense) []int {
	v := [4]float64{m.Min, m.Slope, m.ED50, m.Max}
	free := make([]int, 0, 4)
	for i := range v {
		g := grad.AtVec(i)
		if v[i] <= lowerBound[i] && g > 0 {
			continue
		}
		if v[i] >= upperBound[i] && g < 0 {
			continue
		}
		free = append(free, i)
	}
	return free
}

// stationary reports whether the residual is orthogonal to every free
// Jacobian column within stationaryTol, measured as the cosine of the angle
// between column and residual.
func stationary(jac *mat.Dense, res *mat.VecDense, grad *mat.VecDense, free []int) bool {
	rn := mat.Norm(res, 2)
	for _, i := range free {
		cn := mat.Norm(jac.ColView(i), 2)
		if cn == 0 {
			continue
		}
		// written so a NaN gradient never counts as stationary
		if !(math.Abs(grad.AtVec(i)) <= stationaryTol*cn*rn) {
			return false
		}
	}
	return true
}

func project(m models.CalibrationModel) models.CalibrationModel {
	v := [4]float64{m.Min, m.Slope, m.ED50, m.Max}
	for i := range v {
		v[i] = math.Max(lowerBound[i], math.Min(upperBound[i], v[i]))
	}
	return models.CalibrationModel{Min: v[0], Slope: v[1], ED50: v[2], Max: v[3]}
}
