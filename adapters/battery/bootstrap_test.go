package battery

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"echoloc/adapters/rng"
	"echoloc/adapters/stats/confusion"
	"echoloc/domain/core"
	"echoloc/internal/testkit"
)

var studyMatrices = [][][]float64{
	{
		{39, 4, 1, 0, 0},
		{135, 107, 26, 3, 0},
		{24, 87, 146, 108, 15},
		{1, 2, 27, 81, 98},
		{0, 0, 0, 8, 87},
	},
	{
		{7, 4, 0, 0, 0},
		{50, 32, 13, 3, 0},
		{37, 58, 70, 55, 8},
		{1, 2, 12, 36, 43},
		{0, 0, 1, 5, 45},
	},
	{
		{19, 9, 2, 2, 0},
		{81, 50, 20, 3, 0},
		{4, 45, 77, 71, 17},
		{0, 0, 5, 25, 52},
		{0, 0, 0, 0, 34},
	},
}

func matrices(t *testing.T) []*confusion.Matrix {
	t.Helper()
	var out []*confusion.Matrix
	for _, counts := range studyMatrices {
		m, err := confusion.New(counts, nil)
		require.NoError(t, err)
		out = append(out, m)
	}
	return out
}

func smallOptions(strategy Strategy) Options {
	opts := DefaultOptions()
	opts.Iterations = 200
	opts.Strategy = strategy
	return opts
}

type mockRNG struct {
	mock.Mock
}

func (m *mockRNG) SeededStream(ctx context.Context, name string, seed int64) (*rand.Rand, error) {
	args := m.Called(ctx, name, seed)
	r, _ := args.Get(0).(*rand.Rand)
	return r, args.Error(1)
}

func TestBootstrapper_Deterministic(t *testing.T) {
	ctx := context.Background()
	for _, strategy := range []Strategy{StrategyPooled, StrategyRepeatedMeasures} {
		t.Run(string(strategy), func(t *testing.T) {
			first, err := NewBootstrapper(rng.NewSeededAdapter(), smallOptions(strategy)).Run(ctx, matrices(t))
			require.NoError(t, err)
			second, err := NewBootstrapper(rng.NewSeededAdapter(), smallOptions(strategy)).Run(ctx, matrices(t))
			require.NoError(t, err)

			assert.Equal(t, first.Slopes, second.Slopes)
			assert.Equal(t, first.Coefficients, second.Coefficients)
			assert.Equal(t, first.Estimate, second.Estimate)
		})
	}
}

func TestBootstrapper_WorkerCountDoesNotChangeResult(t *testing.T) {
	ctx := context.Background()
	serial, err := NewBootstrapper(rng.NewSeededAdapter(), smallOptions(StrategyPooled)).Run(ctx, matrices(t))
	require.NoError(t, err)

	opts := smallOptions(StrategyPooled)
	opts.Workers = 4
	parallel, err := NewBootstrapper(rng.NewSeededAdapter(), opts).Run(ctx, matrices(t))
	require.NoError(t, err)

	assert.Equal(t, serial.Slopes, parallel.Slopes)
	assert.Equal(t, serial.Coefficients, parallel.Coefficients)
}

func TestBootstrapper_SeedChangesSamples(t *testing.T) {
	ctx := context.Background()
	a, err := NewBootstrapper(rng.NewSeededAdapter(), smallOptions(StrategyPooled)).Run(ctx, matrices(t))
	require.NoError(t, err)

	opts := smallOptions(StrategyPooled)
	opts.Seed = 1
	b, err := NewBootstrapper(rng.NewSeededAdapter(), opts).Run(ctx, matrices(t))
	require.NoError(t, err)

	assert.NotEqual(t, a.Slopes, b.Slopes)
	assert.Equal(t, a.Estimate, b.Estimate)
}

func TestBootstrapper_ResultShape(t *testing.T) {
	kit, err := testkit.NewTestKit(t.TempDir())
	require.NoError(t, err)
	result, err := NewBootstrapper(kit.RNGAdapter(), smallOptions(StrategyPooled)).Run(context.Background(), matrices(t))
	require.NoError(t, err)

	assert.Equal(t, StrategyPooled, result.Strategy)
	assert.Equal(t, int64(DefaultSeed), result.Seed)
	assert.Equal(t, 3, result.Units)
	assert.Len(t, result.Slopes, 200)
	assert.Len(t, result.Coefficients, 200)
	assert.True(t, sort.Float64sAreSorted(result.Slopes))
	assert.True(t, sort.Float64sAreSorted(result.Coefficients))

	// d-prime rises with distance for these matrices
	assert.Greater(t, result.Estimate.Slope, 0.0)
	for _, r2 := range result.Coefficients {
		assert.GreaterOrEqual(t, r2, 0.0)
		assert.LessOrEqual(t, r2, 1.0)
	}

	interval, err := result.SlopeInterval(Conventional95[0], Conventional95[1])
	require.NoError(t, err)
	assert.LessOrEqual(t, interval.Lower, interval.Median)
	assert.LessOrEqual(t, interval.Median, interval.Upper)

	literal, err := result.SlopeInterval(LiteralLowerPercentile, LiteralUpperPercentile)
	require.NoError(t, err)
	assert.Equal(t, result.Slopes[0], literal.Lower)
	assert.Equal(t, result.Slopes[len(result.Slopes)-1], literal.Upper)
}

func TestBootstrapper_RepeatedMeasuresCoefficients(t *testing.T) {
	result, err := NewBootstrapper(rng.NewSeededAdapter(), smallOptions(StrategyRepeatedMeasures)).Run(context.Background(), matrices(t))
	require.NoError(t, err)

	for _, r := range result.Coefficients {
		assert.GreaterOrEqual(t, r, -1.0)
		assert.LessOrEqual(t, r, 1.0)
	}
	interval, err := result.CoefficientInterval(Conventional95[0], Conventional95[1])
	require.NoError(t, err)
	assert.Greater(t, interval.Median, 0.0)
}

func TestBootstrapper_InvalidInput(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		mutate  func(*Options)
		wantErr error
	}{
		{"zero iterations", func(o *Options) { o.Iterations = 0 }, core.ErrInvalidBootstrapSize},
		{"zero sample", func(o *Options) { o.SampleSize = 0 }, core.ErrInvalidBootstrapSize},
		{"unknown strategy", func(o *Options) { o.Strategy = "median" }, core.ErrUnknownStrategy},
		{"bad epsilon", func(o *Options) { o.Epsilon = 0.6 }, core.ErrInvalidEpsilon},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := smallOptions(StrategyPooled)
			tt.mutate(&opts)
			_, err := NewBootstrapper(rng.NewSeededAdapter(), opts).Run(ctx, matrices(t))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err := NewBootstrapper(rng.NewSeededAdapter(), smallOptions(StrategyPooled)).Run(ctx, nil)
	assert.ErrorIs(t, err, core.ErrInsufficientData)
}

func TestBootstrapper_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewBootstrapper(rng.NewSeededAdapter(), smallOptions(StrategyPooled)).Run(ctx, matrices(t))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBootstrapper_UsesConfiguredSeed(t *testing.T) {
	port := &mockRNG{}
	port.On("SeededStream", mock.Anything, "bootstrap", int64(77)).Return(rand.New(rand.NewSource(77)), nil).Once()

	opts := smallOptions(StrategyPooled)
	opts.Seed = 77
	result, err := NewBootstrapper(port, opts).Run(context.Background(), matrices(t))
	require.NoError(t, err)
	assert.Equal(t, int64(77), result.Seed)
	port.AssertExpectations(t)
}

func TestBootstrapper_StreamError(t *testing.T) {
	streamErr := errors.New("entropy unavailable")
	port := &mockRNG{}
	port.On("SeededStream", mock.Anything, "bootstrap", mock.AnythingOfType("int64")).Return(nil, streamErr)

	_, err := NewBootstrapper(port, smallOptions(StrategyPooled)).Run(context.Background(), matrices(t))
	assert.ErrorIs(t, err, streamErr)
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("rmcorr")
	require.NoError(t, err)
	assert.Equal(t, StrategyRepeatedMeasures, s)

	_, err = ParseStrategy("Pooled")
	assert.ErrorIs(t, err, core.ErrUnknownStrategy)
}
