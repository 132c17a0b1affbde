package battery

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"echoloc/adapters/stats/sensitivity"
	"echoloc/domain/core"
)

// RMCorrResult is a repeated-measures correlation between distance and
// d-prime, with one fixed effect per unit
type RMCorrResult struct {
	Slope  float64
	R      float64
	PValue float64
	DF     int
	CI95   [2]float64
	N      int
	Units  int
}

// PooledSlope regresses d-prime on distance over every unit's pairs as if
// independent, returning the slope and r-squared
func PooledSlope(units []sensitivity.InterstimSensitivities) (slope, r2 float64, err error) {
	pooled := sensitivity.Pool(units...)
	if len(pooled) < 2 {
		return 0, 0, fmt.Errorf("%w: %d observations", core.ErrInsufficientData, len(pooled))
	}
	x, y := pooled.Distances(), pooled.Values()
	_, beta := stat.LinearRegression(x, y, nil, false)
	r := stat.Correlation(x, y, nil)
	return beta, r * r, nil
}

// RepeatedMeasuresCorrelation fits dprime ~ unit + distance by least squares.
// The shared distance coefficient is the within-unit slope; r is signed by it.
func RepeatedMeasuresCorrelation(units []sensitivity.InterstimSensitivities) (RMCorrResult, error) {
	var present []sensitivity.InterstimSensitivities
	n := 0
	for _, u := range units {
		if len(u) > 0 {
			present = append(present, u)
			n += len(u)
		}
	}
	k := len(present)
	cols := k + 1
	if k == 0 || n <= cols {
		return RMCorrResult{}, fmt.Errorf("%w: %d observations across %d units", core.ErrInsufficientData, n, k)
	}

	// columns: intercept, k-1 unit indicators, distance
	design := mat.NewDense(n, cols, nil)
	y := mat.NewVecDense(n, nil)
	ssWithin, ssDistance := 0.0, 0.0
	row := 0
	for ui, u := range present {
		unitMean := stat.Mean(u.Values(), nil)
		distanceMean := stat.Mean(u.Distances(), nil)
		for _, s := range u {
			design.Set(row, 0, 1)
			if ui > 0 {
				design.Set(row, ui, 1)
			}
			design.Set(row, cols-1, float64(s.Distance))
			y.SetVec(row, s.DPrime)
			ssWithin += (s.DPrime - unitMean) * (s.DPrime - unitMean)
			ssDistance += (float64(s.Distance) - distanceMean) * (float64(s.Distance) - distanceMean)
			row++
		}
	}
	if ssDistance == 0 {
		return RMCorrResult{}, fmt.Errorf("%w: distance is constant within every unit", core.ErrSingularDesign)
	}

	var beta mat.VecDense
	if err := beta.SolveVec(design, y); err != nil {
		return RMCorrResult{}, fmt.Errorf("%w: %v", core.ErrSingularDesign, err)
	}
	slope := beta.AtVec(cols - 1)

	var fitted, resid mat.VecDense
	fitted.MulVec(design, &beta)
	resid.SubVec(y, &fitted)
	ssResid := mat.Dot(&resid, &resid)

	df := n - k - 1
	result := RMCorrResult{Slope: slope, DF: df, N: n, Units: k}

	if ssWithin == 0 {
		result.R, result.PValue = math.NaN(), math.NaN()
		result.CI95 = [2]float64{math.NaN(), math.NaN()}
		return result, nil
	}
	ssEffect := max(ssWithin-ssResid, 0)
	r := math.Sqrt(ssEffect / (ssEffect + ssResid))
	if slope < 0 {
		r = -r
	}
	result.R = r
	result.PValue = correlationPValue(r, df)
	result.CI95 = fisherInterval(r, df)
	return result, nil
}

func correlationPValue(r float64, df int) float64 {
	if math.Abs(r) >= 1 {
		return 0
	}
	t := r * math.Sqrt(float64(df)/(1-r*r))
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(df)}
	return 2 * (1 - dist.CDF(math.Abs(t)))
}

// fisherInterval is the 95% interval of r from the z-transform, taking the
// residual degrees of freedom as the sample size: se = 1/sqrt(df-3)
func fisherInterval(r float64, df int) [2]float64 {
	if df <= 3 || math.Abs(r) >= 1 {
		return [2]float64{math.NaN(), math.NaN()}
	}
	z := math.Atanh(r)
	se := 1 / math.Sqrt(float64(df-3))
	crit := distuv.UnitNormal.Quantile(0.975)
	return [2]float64{math.Tanh(z - crit*se), math.Tanh(z + crit*se)}
}
