package battery

import (
	"fmt"
	"slices"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"

	"echoloc/domain/core"
)

// Percentile pairs used by the published analysis. 0.025/99.975 is an
// extremely wide interval (min/max for realistic iteration counts), kept
// for reproducing the reported numbers; Conventional95 is the 95% interval.
const (
	LiteralLowerPercentile = 0.025
	LiteralUpperPercentile = 100 - 0.025
)

// Conventional95 is the conventional 2.5/97.5 percentile pair
var Conventional95 = [2]float64{2.5, 97.5}

// Interval summarizes a resampled distribution
type Interval struct {
	Lower  float64
	Median float64
	Upper  float64
}

// PercentileInterval reduces dist to (lower percentile, median, upper percentile).
// Bounds are empirical order statistics; percentiles are on a 0-100 scale.
func PercentileInterval(dist []float64, lowerPct, upperPct float64) (Interval, error) {
	if len(dist) == 0 {
		return Interval{}, core.ErrEmptyDistribution
	}
	for _, p := range []float64{lowerPct, upperPct} {
		if !(p >= 0 && p <= 100) {
			return Interval{}, fmt.Errorf("%w: got %v", core.ErrInvalidPercentile, p)
		}
	}
	sorted := slices.Clone(dist)
	slices.Sort(sorted)

	median, err := stats.Median(sorted)
	if err != nil {
		return Interval{}, fmt.Errorf("%w: %v", core.ErrEmptyDistribution, err)
	}
	return Interval{
		Lower:  stat.Quantile(lowerPct/100, stat.Empirical, sorted, nil),
		Median: median,
		Upper:  stat.Quantile(upperPct/100, stat.Empirical, sorted, nil),
	}, nil
}
