package battery

import (
	"context"
	"fmt"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"echoloc/adapters/stats/confusion"
	"echoloc/adapters/stats/sensitivity"
	"echoloc/domain/core"
	"echoloc/internal"
	"echoloc/ports"
)

// Strategy selects the per-sample slope estimator
type Strategy string

const (
	// StrategyPooled regresses over all resampled pairs as if independent
	StrategyPooled Strategy = "pooled"
	// StrategyRepeatedMeasures uses the repeated-measures correlation
	StrategyRepeatedMeasures Strategy = "rmcorr"
)

// ParseStrategy accepts "pooled" or "rmcorr"
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyPooled, StrategyRepeatedMeasures:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("%w: %q", core.ErrUnknownStrategy, s)
}

const (
	DefaultIterations = 10000
	DefaultSampleSize = 12
	DefaultSeed       = 8675309
)

// Options configure a bootstrap run
type Options struct {
	Iterations int
	SampleSize int
	Seed       int64
	Strategy   Strategy
	Epsilon    float64
	Workers    int
}

// DefaultOptions returns the options of the published analysis
func DefaultOptions() Options {
	return Options{
		Iterations: DefaultIterations,
		SampleSize: DefaultSampleSize,
		Seed:       DefaultSeed,
		Strategy:   StrategyPooled,
		Epsilon:    sensitivity.DefaultEpsilon,
		Workers:    1,
	}
}

func (o Options) validate() error {
	if o.Iterations < 1 {
		return fmt.Errorf("%w: iterations %d", core.ErrInvalidBootstrapSize, o.Iterations)
	}
	if o.SampleSize < 1 {
		return fmt.Errorf("%w: sample size %d", core.ErrInvalidBootstrapSize, o.SampleSize)
	}
	if _, err := ParseStrategy(string(o.Strategy)); err != nil {
		return err
	}
	return nil
}

// Estimate is a slope and its accompanying coefficient: r-squared for the
// pooled strategy, r for repeated measures
type Estimate struct {
	Slope       float64
	Coefficient float64
}

// Result holds the point estimate and the sorted resampled distributions
type Result struct {
	Strategy     Strategy
	Seed         int64
	Iterations   int
	SampleSize   int
	Units        int
	Estimate     Estimate
	Slopes       []float64
	Coefficients []float64
}

// SlopeInterval summarizes the slope distribution
func (r *Result) SlopeInterval(lowerPct, upperPct float64) (Interval, error) {
	return PercentileInterval(r.Slopes, lowerPct, upperPct)
}

// CoefficientInterval summarizes the coefficient distribution
func (r *Result) CoefficientInterval(lowerPct, upperPct float64) (Interval, error) {
	return PercentileInterval(r.Coefficients, lowerPct, upperPct)
}

// Bootstrapper resamples units with replacement and recomputes the
// sensitivity-vs-distance slope for every sample
type Bootstrapper struct {
	rngPort ports.RNGPort
	opts    Options
	logger  *internal.Logger
}

// NewBootstrapper creates a bootstrapper; a Workers value below 1 runs serially
func NewBootstrapper(rngPort ports.RNGPort, opts Options) *Bootstrapper {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Epsilon == 0 {
		opts.Epsilon = sensitivity.DefaultEpsilon
	}
	return &Bootstrapper{
		rngPort: rngPort,
		opts:    opts,
		logger:  internal.DefaultLogger.WithComponent("bootstrap"),
	}
}

// Options returns the effective options
func (b *Bootstrapper) Options() Options {
	return b.opts
}

// Run reduces each confusion matrix to its sensitivities and bootstraps over them
func (b *Bootstrapper) Run(ctx context.Context, matrices []*confusion.Matrix) (*Result, error) {
	units := make([]sensitivity.InterstimSensitivities, 0, len(matrices))
	for i, m := range matrices {
		s, err := sensitivity.Compute(m, b.opts.Epsilon)
		if err != nil {
			return nil, fmt.Errorf("matrix %d: %w", i, err)
		}
		units = append(units, s)
	}
	return b.RunSensitivities(ctx, units)
}

// RunSensitivities bootstraps over already-reduced units. Sample indices are
// drawn up front from a single seeded stream, so results do not depend on
// the worker count.
func (b *Bootstrapper) RunSensitivities(ctx context.Context, units []sensitivity.InterstimSensitivities) (*Result, error) {
	if err := b.opts.validate(); err != nil {
		return nil, err
	}
	if len(units) == 0 {
		return nil, fmt.Errorf("%w: no units to resample", core.ErrInsufficientData)
	}
	estimate := b.estimator()

	point, err := estimate(units)
	if err != nil {
		return nil, fmt.Errorf("point estimate: %w", err)
	}

	rnd, err := b.rngPort.SeededStream(ctx, "bootstrap", b.opts.Seed)
	if err != nil {
		return nil, fmt.Errorf("seeding bootstrap stream: %w", err)
	}
	iters, size := b.opts.Iterations, b.opts.SampleSize
	indices := make([]int, iters*size)
	for i := range indices {
		indices[i] = rnd.Intn(len(units))
	}

	b.logger.Info("resampling %d units: strategy=%s iterations=%d sample=%d seed=%d workers=%d",
		len(units), b.opts.Strategy, iters, size, b.opts.Seed, b.opts.Workers)
	start := time.Now()

	slopes := make([]float64, iters)
	coefficients := make([]float64, iters)
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < b.opts.Workers; w++ {
		g.Go(func() error {
			sample := make([]sensitivity.InterstimSensitivities, size)
			for i := w; i < iters; i += b.opts.Workers {
				if err := gctx.Err(); err != nil {
					return err
				}
				for j, idx := range indices[i*size : (i+1)*size] {
					sample[j] = units[idx]
				}
				e, err := estimate(sample)
				if err != nil {
					return fmt.Errorf("iteration %d: %w", i, err)
				}
				slopes[i], coefficients[i] = e.Slope, e.Coefficient
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slices.Sort(slopes)
	slices.Sort(coefficients)
	b.logger.Debug("bootstrap finished in %s", time.Since(start))

	return &Result{
		Strategy:     b.opts.Strategy,
		Seed:         b.opts.Seed,
		Iterations:   iters,
		SampleSize:   size,
		Units:        len(units),
		Estimate:     point,
		Slopes:       slopes,
		Coefficients: coefficients,
	}, nil
}

func (b *Bootstrapper) estimator() func([]sensitivity.InterstimSensitivities) (Estimate, error) {
	if b.opts.Strategy == StrategyRepeatedMeasures {
		return func(units []sensitivity.InterstimSensitivities) (Estimate, error) {
			rm, err := RepeatedMeasuresCorrelation(units)
			if err != nil {
				return Estimate{}, err
			}
			return Estimate{Slope: rm.Slope, Coefficient: rm.R}, nil
		}
	}
	return func(units []sensitivity.InterstimSensitivities) (Estimate, error) {
		slope, r2, err := PooledSlope(units)
		if err != nil {
			return Estimate{}, err
		}
		return Estimate{Slope: slope, Coefficient: r2}, nil
	}
}
