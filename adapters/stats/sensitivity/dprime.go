package sensitivity

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"echoloc/adapters/stats/confusion"
	"echoloc/domain/core"
	"echoloc/domain/trial"
)

// DefaultEpsilon clips probabilities away from 0 and 1 before the z-transform
const DefaultEpsilon = 0.001

// DegreesPerPosition converts choice-index distance to degrees
const DegreesPerPosition = 10

// Sensitivity is the d-prime between two stimuli Distance choice positions apart
type Sensitivity struct {
	Distance int
	DPrime   float64
}

// InterstimSensitivities is sorted ascending by distance; a distance may repeat
type InterstimSensitivities []Sensitivity

// Distances returns the distance column as floats
func (s InterstimSensitivities) Distances() []float64 {
	out := make([]float64, len(s))
	for i, v := range s {
		out[i] = float64(v.Distance)
	}
	return out
}

// Values returns the d-prime column
func (s InterstimSensitivities) Values() []float64 {
	out := make([]float64, len(s))
	for i, v := range s {
		out[i] = v.DPrime
	}
	return out
}

// DistanceDegrees reports a distance in degrees
func (v Sensitivity) DistanceDegrees() int {
	return v.Distance * DegreesPerPosition
}

// Compute converts a confusion matrix into pairwise d-prime values. Row i of
// the row-normalized matrix is taken as the response distribution for stimulus
// i; entries are clipped to [epsilon, 1-epsilon] and
// d'(i,j) = z(hit_i) - z(fa_ij) for every i != j.
func Compute(cm *confusion.Matrix, epsilon float64) (InterstimSensitivities, error) {
	if !(epsilon > 0 && epsilon < 0.5) {
		return nil, fmt.Errorf("%w: got %v", core.ErrInvalidEpsilon, epsilon)
	}
	n := cm.Size()
	if n == 0 {
		return InterstimSensitivities{}, nil
	}

	clipped := mat.NewDense(n, n, nil)
	clipped.Apply(func(_, _ int, v float64) float64 {
		return min(max(v, epsilon), 1-epsilon)
	}, cm.RowNormalized())

	z := mat.NewDense(n, n, nil)
	z.Apply(func(_, _ int, v float64) float64 {
		return distuv.UnitNormal.Quantile(v)
	}, clipped)

	out := make(InterstimSensitivities, 0, n*(n-1))
	for i := 0; i < n; i++ {
		hit := z.At(i, i)
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			out = append(out, Sensitivity{Distance: abs(j - i), DPrime: hit - z.At(i, j)})
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Distance < out[b].Distance })
	return out, nil
}

// PerParticipant reduces each participant's index-space matrix for the sector
// to its own sensitivities, in participant order
func PerParticipant(participants []*trial.Participant, sector trial.Sector, epsilon float64) ([]InterstimSensitivities, error) {
	out := make([]InterstimSensitivities, len(participants))
	for i, p := range participants {
		cm, err := confusion.OfIndices(p.Responses(sector))
		if err != nil {
			return nil, fmt.Errorf("participant %s: %w", p.ProlificPID, err)
		}
		if out[i], err = Compute(cm, epsilon); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ForParticipants pools per-participant sensitivities into one sequence, keeping
// each participant's values as separate observations at their distance
func ForParticipants(participants []*trial.Participant, sector trial.Sector, epsilon float64) (InterstimSensitivities, error) {
	each, err := PerParticipant(participants, sector, epsilon)
	if err != nil {
		return nil, err
	}
	return Pool(each...), nil
}

// Pool concatenates sequences and restores distance order
func Pool(each ...InterstimSensitivities) InterstimSensitivities {
	var all InterstimSensitivities
	for _, s := range each {
		all = append(all, s...)
	}
	sort.SliceStable(all, func(a, b int) bool { return all[a].Distance < all[b].Distance })
	return all
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
