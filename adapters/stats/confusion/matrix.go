package confusion

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"echoloc/domain/core"
	"echoloc/domain/trial"
)

// AzimuthStep is the spacing of azimuth-space labels in degrees
const AzimuthStep = 10

// Pair is one (true, reported) observation
type Pair struct {
	True     int
	Reported int
}

// Matrix is a square count matrix of true (rows) vs reported (columns) labels
type Matrix struct {
	counts *mat.Dense
	labels []int
	index  map[int]int
}

// New wraps explicit counts. Labels default to 0..n-1 when nil.
func New(counts [][]float64, labels []int) (*Matrix, error) {
	n := len(counts)
	if labels == nil {
		labels = make([]int, n)
		for i := range labels {
			labels[i] = i
		}
	}
	if len(labels) != n {
		return nil, fmt.Errorf("%w: %d labels for %d rows", core.ErrInvalidMatrix, len(labels), n)
	}
	m, err := empty(labels)
	if err != nil {
		return nil, err
	}
	for i, row := range counts {
		if len(row) != n {
			return nil, fmt.Errorf("%w: row %d has %d columns, want %d", core.ErrInvalidMatrix, i, len(row), n)
		}
		for j, v := range row {
			if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: count at (%d,%d) is %v", core.ErrInvalidMatrix, i, j, v)
			}
			m.counts.Set(i, j, v)
		}
	}
	return m, nil
}

func empty(labels []int) (*Matrix, error) {
	index := make(map[int]int, len(labels))
	for i, l := range labels {
		if _, dup := index[l]; dup {
			return nil, fmt.Errorf("%w: duplicate label %d", core.ErrInvalidMatrix, l)
		}
		index[l] = i
	}
	m := &Matrix{counts: &mat.Dense{}, labels: slices.Clone(labels), index: index}
	if n := len(labels); n > 0 {
		m.counts = mat.NewDense(n, n, nil)
	}
	return m, nil
}

// FromPairs tallies pairs. With nil labels the label set is the sorted union
// of every value observed.
func FromPairs(pairs []Pair, labels []int) (*Matrix, error) {
	if labels == nil {
		seen := make(map[int]struct{})
		for _, p := range pairs {
			seen[p.True] = struct{}{}
			seen[p.Reported] = struct{}{}
		}
		labels = make([]int, 0, len(seen))
		for l := range seen {
			labels = append(labels, l)
		}
		slices.Sort(labels)
	}
	m, err := empty(labels)
	if err != nil {
		return nil, err
	}
	for _, p := range pairs {
		i, err := m.LabelIndex(p.True)
		if err != nil {
			return nil, err
		}
		j, err := m.LabelIndex(p.Reported)
		if err != nil {
			return nil, err
		}
		m.counts.Set(i, j, m.counts.At(i, j)+1)
	}
	return m, nil
}

// OfAzimuths builds an azimuth-space matrix labelled every AzimuthStep degrees
// from the smallest to the largest azimuth observed
func OfAzimuths(responses []trial.Response) (*Matrix, error) {
	if len(responses) == 0 {
		return FromPairs(nil, []int{})
	}
	lo, hi := math.MaxInt, math.MinInt
	pairs := make([]Pair, len(responses))
	for i, r := range responses {
		pairs[i] = Pair{True: r.TrueAzimuth(), Reported: r.ResponseAzimuth()}
		lo = min(lo, pairs[i].True, pairs[i].Reported)
		hi = max(hi, pairs[i].True, pairs[i].Reported)
	}
	var labels []int
	for az := lo; az < hi+AzimuthStep; az += AzimuthStep {
		labels = append(labels, az)
	}
	return FromPairs(pairs, labels)
}

// OfIndices builds a choice-index-space matrix, where label k is the k-th
// offered choice regardless of its absolute azimuth. Labels run contiguously
// from 0 to the highest index observed, so an index nobody chose still keeps
// its neighbours at their true distance.
func OfIndices(responses []trial.Response) (*Matrix, error) {
	if len(responses) == 0 {
		return FromPairs(nil, []int{})
	}
	hi := 0
	pairs := make([]Pair, len(responses))
	for i, r := range responses {
		ti, err := r.TrueIndex()
		if err != nil {
			return nil, err
		}
		ri, err := r.ResponseIndex()
		if err != nil {
			return nil, err
		}
		pairs[i] = Pair{True: ti, Reported: ri}
		hi = max(hi, ti, ri)
	}
	labels := make([]int, hi+1)
	for k := range labels {
		labels[k] = k
	}
	return FromPairs(pairs, labels)
}

// Size is the number of labels
func (m *Matrix) Size() int {
	return len(m.labels)
}

// Labels returns the label sequence, index to label value
func (m *Matrix) Labels() []int {
	return slices.Clone(m.labels)
}

// LabelIndex returns the row/column of label
func (m *Matrix) LabelIndex(label int) (int, error) {
	i, ok := m.index[label]
	if !ok {
		return 0, fmt.Errorf("%w: %d", core.ErrUnknownLabel, label)
	}
	return i, nil
}

// Totals returns a copy of the raw counts
func (m *Matrix) Totals() *mat.Dense {
	if m.Size() == 0 {
		return &mat.Dense{}
	}
	return mat.DenseCopyOf(m.counts)
}

// At returns the count for (true index, reported index)
func (m *Matrix) At(i, j int) float64 {
	return m.counts.At(i, j)
}

// Total is the number of observations
func (m *Matrix) Total() float64 {
	if m.Size() == 0 {
		return 0
	}
	return mat.Sum(m.counts)
}

// RowSums counts observations per true label
func (m *Matrix) RowSums() []float64 {
	sums := make([]float64, m.Size())
	for i := range sums {
		sums[i] = floats.Sum(m.counts.RawRowView(i))
	}
	return sums
}

// RowNormalized divides each row by its total, so row i is the distribution of
// reported labels given true label i. Rows with no observations stay zero.
func (m *Matrix) RowNormalized() *mat.Dense {
	if m.Size() == 0 {
		return &mat.Dense{}
	}
	sums := m.RowSums()
	out := mat.NewDense(m.Size(), m.Size(), nil)
	out.Apply(func(i, j int, v float64) float64 {
		if sums[i] == 0 {
			return 0
		}
		return v / sums[i]
	}, m.counts)
	return out
}
