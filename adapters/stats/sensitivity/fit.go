package sensitivity

import (
	"fmt"
	"math"
	"slices"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"echoloc/domain/core"
)

// CurveResolution is the spacing of interpolated curve points
const CurveResolution = 0.1

// MeanDistances are the distances PerDistanceMean reports
var MeanDistances = []int{1, 2, 3, 4}

const (
	maxFitIterations = 100
	fitTolerance     = 1e-10
)

// Model evaluates a curve at x for parameters p
type Model func(x float64, p []float64) float64

// LogModel is y = a + b*ln(x) with p = [a, b]
func LogModel(x float64, p []float64) float64 {
	return p[0] + p[1]*math.Log(x)
}

// LinearModel is y = m*x + b with p = [m, b]
func LinearModel(x float64, p []float64) float64 {
	return p[1] + p[0]*x
}

// Curve is a fitted model sampled across the observed distance range
type Curve struct {
	Params []float64
	X      []float64
	Y      []float64
}

// DistanceMean is the mean d-prime at one distance; NaN when unobserved
type DistanceMean struct {
	Distance int
	Mean     float64
	Count    int
}

// LogFit fits y = a + b*ln(distance)
func LogFit(s InterstimSensitivities) (Curve, error) {
	return fitCurve(LogModel, s)
}

// LinearFit fits y = m*distance + b
func LinearFit(s InterstimSensitivities) (Curve, error) {
	return fitCurve(LinearModel, s)
}

func fitCurve(model Model, s InterstimSensitivities) (Curve, error) {
	params, err := CurveFit(model, s.Distances(), s.Values(), []float64{1, 1})
	if err != nil {
		return Curve{}, err
	}
	x := Linspace(s, CurveResolution)
	y := make([]float64, len(x))
	for i, v := range x {
		y[i] = model(v, params)
	}
	return Curve{Params: params, X: x, Y: y}, nil
}

// Linspace spans the observed distance range at delta resolution, endpoints included
func Linspace(s InterstimSensitivities, delta float64) []float64 {
	if len(s) == 0 {
		return nil
	}
	d := s.Distances()
	lo, hi := floats.Min(d), floats.Max(d)
	n := 1 + int(math.Round((hi-lo)/delta))
	if n < 2 {
		return []float64{lo}
	}
	return floats.Span(make([]float64, n), lo, hi)
}

// CurveFit estimates model parameters by Gauss-Newton nonlinear least squares
// starting from p0
func CurveFit(model Model, x, y, p0 []float64) ([]float64, error) {
	m, n := len(x), len(p0)
	if len(y) != m {
		return nil, fmt.Errorf("%w: %d x values, %d y values", core.ErrInsufficientData, m, len(y))
	}
	if m < n {
		return nil, fmt.Errorf("%w: %d observations for %d parameters", core.ErrInsufficientData, m, n)
	}

	predict := func(dst, p []float64) {
		for i, xi := range x {
			dst[i] = model(xi, p)
		}
	}

	p := slices.Clone(p0)
	pred := make([]float64, m)
	resid := make([]float64, m)
	jac := mat.NewDense(m, n, nil)
	settings := &fd.JacobianSettings{Formula: fd.Central}

	for iter := 0; iter < maxFitIterations; iter++ {
		fd.Jacobian(jac, predict, p, settings)
		predict(pred, p)
		floats.SubTo(resid, y, pred)

		var step mat.VecDense
		if err := step.SolveVec(jac, mat.NewVecDense(m, resid)); err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrSingularDesign, err)
		}
		delta := step.RawVector().Data
		floats.Add(p, delta)
		if slices.ContainsFunc(p, func(v float64) bool { return math.IsNaN(v) || math.IsInf(v, 0) }) {
			return nil, core.ErrFitDidNotConverge
		}
		if floats.Norm(delta, 2) <= fitTolerance*(floats.Norm(p, 2)+fitTolerance) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w after %d iterations", core.ErrFitDidNotConverge, maxFitIterations)
}

// PerDistanceMean averages d-prime at each of MeanDistances
func PerDistanceMean(s InterstimSensitivities) []DistanceMean {
	out := make([]DistanceMean, len(MeanDistances))
	for i, d := range MeanDistances {
		var values []float64
		for _, v := range s {
			if v.Distance == d {
				values = append(values, v.DPrime)
			}
		}
		mean, err := stats.Mean(values)
		if err != nil {
			mean = math.NaN()
		}
		out[i] = DistanceMean{Distance: d, Mean: mean, Count: len(values)}
	}
	return out
}
