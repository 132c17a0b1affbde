package confusion

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"echoloc/domain/core"
	"echoloc/domain/trial"
)

func response(t *testing.T, choices []int, truth, reported int) trial.Response {
	t.Helper()
	r, err := trial.NewResponse(truth, reported, choices, 100, "")
	require.NoError(t, err)
	return r
}

func TestFromPairs_InferredLabels(t *testing.T) {
	pairs := []Pair{{True: 10, Reported: 0}, {True: 0, Reported: 0}, {True: 20, Reported: 10}, {True: 10, Reported: 10}}

	m, err := FromPairs(pairs, nil)
	require.NoError(t, err)

	assert.Equal(t, []int{0, 10, 20}, m.Labels())
	assert.Equal(t, 3, m.Size())
	assert.Equal(t, 1.0, m.At(0, 0))
	assert.Equal(t, 1.0, m.At(1, 0))
	assert.Equal(t, 1.0, m.At(1, 1))
	assert.Equal(t, 1.0, m.At(2, 1))
	assert.Equal(t, 0.0, m.At(2, 2))
	assert.Equal(t, 4.0, m.Total())
}

func TestFromPairs_ExplicitLabels(t *testing.T) {
	m, err := FromPairs([]Pair{{True: 2, Reported: 0}}, []int{2, 1, 0})
	require.NoError(t, err)
	assert.Equal(t, 1.0, m.At(0, 2))

	_, err = FromPairs([]Pair{{True: 3, Reported: 0}}, []int{0, 1, 2})
	assert.ErrorIs(t, err, core.ErrUnknownLabel)

	_, err = FromPairs(nil, []int{0, 0})
	assert.ErrorIs(t, err, core.ErrInvalidMatrix)
}

// Row sums equal per-true-label counts and the grand total equals the number of pairs
func TestFromPairs_CountInvariants(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	for trialN := 0; trialN < 20; trialN++ {
		n := 1 + rnd.Intn(200)
		pairs := make([]Pair, n)
		perTrue := map[int]float64{}
		for i := range pairs {
			pairs[i] = Pair{True: rnd.Intn(6), Reported: rnd.Intn(6)}
			perTrue[pairs[i].True]++
		}

		m, err := FromPairs(pairs, nil)
		require.NoError(t, err)
		assert.Equal(t, float64(n), m.Total())

		sums := m.RowSums()
		for i, label := range m.Labels() {
			assert.Equal(t, perTrue[label], sums[i], "label %d", label)
		}
	}
}

func TestRowNormalized(t *testing.T) {
	m, err := New([][]float64{
		{3, 1, 0},
		{0, 0, 0},
		{2, 2, 4},
	}, nil)
	require.NoError(t, err)

	norm := m.RowNormalized()
	assert.InDeltaSlice(t, []float64{0.75, 0.25, 0}, norm.RawRowView(0), 1e-12)
	assert.Equal(t, []float64{0, 0, 0}, norm.RawRowView(1))
	assert.InDeltaSlice(t, []float64{0.25, 0.25, 0.5}, norm.RawRowView(2), 1e-12)

	// the source counts are untouched
	assert.Equal(t, 3.0, m.At(0, 0))
}

func TestRowNormalized_RowsSumToOne(t *testing.T) {
	rnd := rand.New(rand.NewSource(11))
	for trialN := 0; trialN < 20; trialN++ {
		size := 2 + rnd.Intn(6)
		counts := make([][]float64, size)
		for i := range counts {
			counts[i] = make([]float64, size)
			if rnd.Intn(4) == 0 {
				continue
			}
			for j := range counts[i] {
				counts[i][j] = float64(rnd.Intn(30))
			}
		}
		m, err := New(counts, nil)
		require.NoError(t, err)

		norm := m.RowNormalized()
		sums := m.RowSums()
		for i := 0; i < size; i++ {
			got := floats.Sum(norm.RawRowView(i))
			if sums[i] == 0 {
				assert.Equal(t, 0.0, got)
			} else {
				assert.InDelta(t, 1.0, got, 1e-9)
			}
		}
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New([][]float64{{1, 2}, {3}}, nil)
	assert.ErrorIs(t, err, core.ErrInvalidMatrix)

	_, err = New([][]float64{{1, -2}, {3, 4}}, nil)
	assert.ErrorIs(t, err, core.ErrInvalidMatrix)

	_, err = New([][]float64{{1}}, []int{0, 1})
	assert.ErrorIs(t, err, core.ErrInvalidMatrix)
}

func TestOfAzimuths(t *testing.T) {
	choices := []int{-20, -10, 0, 10, 20, 180}
	responses := []trial.Response{
		response(t, choices, -20, -10),
		response(t, choices, 10, 20),
		response(t, choices, 10, 10),
	}

	m, err := OfAzimuths(responses)
	require.NoError(t, err)
	assert.Equal(t, []int{-20, -10, 0, 10, 20}, m.Labels())
	assert.Equal(t, 1.0, m.At(0, 1))
	assert.Equal(t, 1.0, m.At(3, 4))
	assert.Equal(t, 1.0, m.At(3, 3))
}

// Two trials offering different absolute azimuths land on the same index cell
func TestOfIndices_SharesCellsAcrossSectors(t *testing.T) {
	left := []int{-80, -70, -60, -50, -40, 120}
	right := []int{40, 50, 60, 70, 80, 240}
	responses := []trial.Response{
		response(t, left, -70, -60),
		response(t, right, 50, 60),
		response(t, right, 80, 80),
	}

	m, err := OfIndices(responses)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, m.Labels())
	assert.Equal(t, 2.0, m.At(1, 2))
	assert.Equal(t, 1.0, m.At(4, 4))
	assert.Equal(t, 3.0, m.Total())
}

func TestOfIndices_KeepsUnobservedIndices(t *testing.T) {
	choices := []int{-20, -10, 0, 10, 20, 180}
	m, err := OfIndices([]trial.Response{
		response(t, choices, -20, -20),
		response(t, choices, 0, 10),
		response(t, choices, 10, 10),
	})
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1, 2, 3}, m.Labels())
	i, err := m.LabelIndex(2)
	require.NoError(t, err)
	j, err := m.LabelIndex(0)
	require.NoError(t, err)
	assert.Equal(t, 2, i-j)
	assert.Equal(t, []float64{1, 0, 1, 1}, m.RowSums())
}

func TestOfIndices_NotOffered(t *testing.T) {
	choices := []int{-20, -10, 0, 10, 20, 180}
	_, err := OfIndices([]trial.Response{response(t, choices, 5, 0)})
	assert.ErrorIs(t, err, core.ErrAzimuthNotOffered)
}

func TestEmpty(t *testing.T) {
	m, err := OfIndices(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Size())
	assert.Equal(t, 0.0, m.Total())
	r, c := m.RowNormalized().Dims()
	assert.Equal(t, 0, r+c)

	m, err = OfAzimuths(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Size())
}
