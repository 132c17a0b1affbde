package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"echoloc/adapters/battery"
	"echoloc/adapters/rng"
	"echoloc/adapters/stats/confusion"
	"echoloc/adapters/stats/sensitivity"
	"echoloc/domain/core"
	"echoloc/domain/trial"
	"echoloc/internal"
	"echoloc/internal/config"
	apperrors "echoloc/internal/errors"
	"echoloc/internal/study"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "echoloc",
		Short:         "Echolocation localization analysis over trial logs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(
		newSummaryCmd(),
		newSensitivityCmd(),
		newBootstrapCmd(),
	)
	return rootCmd
}

// queryFlags select the participant condition analysed by a command
type queryFlags struct {
	slowdown     int
	compensation int
	descriptor   string
	model        string
	version      string
	keyset       string
	sector       string
	unflagged    bool
}

func (q *queryFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&q.slowdown, "slowdown", 0, "Slowdown factor (0 matches any)")
	cmd.Flags().IntVar(&q.compensation, "compensation", 0, "Compensation factor (0 matches any)")
	cmd.Flags().StringVar(&q.descriptor, "descriptor", "", "Compensation descriptor: 1, half or full")
	cmd.Flags().StringVar(&q.model, "model", "", "Acoustic model (default from configuration)")
	cmd.Flags().StringVar(&q.version, "version", "", "Experiment version (default from configuration)")
	cmd.Flags().StringVar(&q.keyset, "keyset", "", "Response key layout")
	cmd.Flags().StringVar(&q.sector, "sector", "", "Sector: left, center or right (empty for all)")
	cmd.Flags().BoolVar(&q.unflagged, "unflagged", false, "Drop participants with a flagged block")
}

func (q *queryFlags) filters() []study.Filter {
	var filters []study.Filter
	if q.version != "" {
		filters = append(filters, study.WithVersion(q.version))
	}
	if q.model != "" {
		filters = append(filters, study.WithModelName(q.model))
	}
	if q.slowdown != 0 {
		filters = append(filters, study.WithSlowdown(q.slowdown))
	}
	if q.compensation != 0 {
		filters = append(filters, study.WithCompensation(q.compensation))
	}
	if q.descriptor != "" {
		filters = append(filters, study.WithCompensationDescriptor(q.descriptor))
	}
	if q.keyset != "" {
		filters = append(filters, study.WithKeyset(q.keyset))
	}
	return filters
}

// condition loads the study and applies the query flags
func (q *queryFlags) condition(ctx context.Context, cfg *config.Config) (*study.Condition, trial.Sector, error) {
	sector, err := trial.ParseSector(q.sector)
	if err != nil {
		return nil, "", apperrors.WithCode(apperrors.CodeUsageError, err)
	}
	s, err := loadStudy(ctx, cfg)
	if err != nil {
		return nil, "", err
	}
	c, err := s.Query(q.filters()...)
	if err != nil {
		return nil, "", apperrors.WithCode(apperrors.CodeUsageError, err)
	}
	if q.unflagged {
		c = c.Unflagged()
	}
	return c, sector, nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	internal.DefaultLogger = internal.NewLogger(internal.ParseLogLevel(cfg.LogLevel))
	return cfg, nil
}

func loadStudy(ctx context.Context, cfg *config.Config) (*study.Study, error) {
	return study.Load(ctx, cfg.Data.LogDirs, study.Options{
		DefaultVersion: cfg.Query.DefaultVersion,
		DefaultModel:   cfg.Query.DefaultModel,
		Logger:         internal.DefaultLogger.WithComponent("study"),
	})
}

func newSummaryCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Report accepted and rejected trial logs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			s, err := loadStudy(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), s, verbose)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "List every rejected log")

	return cmd
}

func printSummary(w io.Writer, s *study.Study, verbose bool) {
	summary := s.Summary()
	fmt.Fprintf(w, "Accepted participants: %d\n", summary.Accepted)
	fmt.Fprintf(w, "Rejected logs: %d\n", summary.Rejected)
	for _, reason := range []trial.Reason{trial.ReasonMarkedInvalid, trial.ReasonNoVersion, trial.ReasonMissingData} {
		if n := summary.ByReason[reason]; n > 0 {
			fmt.Fprintf(w, "  %s: %d\n", reason, n)
		}
	}
	flagged := 0
	for _, p := range s.Participants() {
		if p.IsFlagged() {
			flagged++
		}
	}
	fmt.Fprintf(w, "Flagged participants: %d\n", flagged)

	if verbose {
		for _, e := range s.Exceptions() {
			fmt.Fprintf(w, "  %s\n", e.Error())
		}
	}
}

func newSensitivityCmd() *cobra.Command {
	var q queryFlags

	cmd := &cobra.Command{
		Use:   "sensitivity",
		Short: "Pooled per-participant d-prime by interstimulus distance",
		Long: `Compute per-participant d-prime in choice-index space, pool the values
and report the per-distance means with logarithmic and linear fits.

Example: echoloc sensitivity --slowdown 20 --descriptor full --sector left`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			c, sector, err := q.condition(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			pooled, err := sensitivity.ForParticipants(c.Participants(), sector, cfg.Sensitivity.Epsilon)
			if err != nil {
				return err
			}
			printSensitivity(cmd.OutOrStdout(), c, sector, pooled)
			return nil
		},
	}

	q.register(cmd)

	return cmd
}

func printSensitivity(w io.Writer, c *study.Condition, sector trial.Sector, pooled sensitivity.InterstimSensitivities) {
	fmt.Fprintf(w, "Condition: %s (sector %s, cohort %s)\n", c.Label(), sector, c.Cohort().Short())
	fmt.Fprintf(w, "Participants: %d, pairs: %d\n", c.Count(), len(pooled))
	for _, m := range sensitivity.PerDistanceMean(pooled) {
		fmt.Fprintf(w, "  distance %d (%d deg): mean d' %.4f over %d\n",
			m.Distance, m.Distance*sensitivity.DegreesPerPosition, m.Mean, m.Count)
	}

	logCurve, err := sensitivity.LogFit(pooled)
	if err != nil {
		fmt.Fprintf(w, "Log fit: %s\n", fitFailure(err))
	} else {
		fmt.Fprintf(w, "Log fit: d' = %.4f + %.4f ln(distance)\n", logCurve.Params[0], logCurve.Params[1])
	}
	linCurve, err := sensitivity.LinearFit(pooled)
	if err != nil {
		fmt.Fprintf(w, "Linear fit: %s\n", fitFailure(err))
	} else {
		fmt.Fprintf(w, "Linear fit: d' = %.4f distance + %.4f\n", linCurve.Params[0], linCurve.Params[1])
	}
}

func fitFailure(err error) string {
	if core.IsInsufficientData(err) {
		return "not enough data (" + err.Error() + ")"
	}
	return err.Error()
}

func newBootstrapCmd() *cobra.Command {
	var q queryFlags
	var strategy string
	var iterations, sampleSize, workers int
	var seed int64
	var conventional bool

	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Bootstrap the slope of d-prime against distance",
		Long: `Resample participants with replacement and recompute the slope of
d-prime against interstimulus distance for every sample.

Strategies:
- pooled: ordinary least squares over all resampled pairs (reports r-squared)
- rmcorr: repeated-measures correlation with one fixed effect per participant (reports r)

Example: echoloc bootstrap --slowdown 20 --descriptor full --strategy rmcorr --seed 8675309`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			opts, err := bootstrapOptions(cmd, cfg, strategy, iterations, sampleSize, workers, seed)
			if err != nil {
				return err
			}
			c, sector, err := q.condition(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			result, err := runBootstrap(cmd.Context(), c, sector, opts)
			if err != nil {
				return err
			}

			lower, upper := cfg.Bootstrap.LowerPercentile, cfg.Bootstrap.UpperPercentile
			if conventional {
				lower, upper = battery.Conventional95[0], battery.Conventional95[1]
			}
			return printBootstrap(cmd.OutOrStdout(), c, result, lower, upper)
		},
	}

	q.register(cmd)
	cmd.Flags().StringVar(&strategy, "strategy", "", "Slope estimator: pooled or rmcorr (default from configuration)")
	cmd.Flags().IntVar(&iterations, "iterations", 0, "Bootstrap iterations (default from configuration)")
	cmd.Flags().IntVar(&sampleSize, "sample-size", 0, "Participants drawn per iteration (default from configuration)")
	cmd.Flags().IntVar(&workers, "workers", 0, "Parallel workers (default from configuration)")
	cmd.Flags().Int64Var(&seed, "seed", 0, "Random seed for deterministic resampling (default from configuration)")
	cmd.Flags().BoolVar(&conventional, "conventional", false, "Report 2.5/97.5 percentile intervals")

	return cmd
}

func bootstrapOptions(cmd *cobra.Command, cfg *config.Config, strategy string, iterations, sampleSize, workers int, seed int64) (battery.Options, error) {
	opts := battery.Options{
		Iterations: cfg.Bootstrap.Iterations,
		SampleSize: cfg.Bootstrap.SampleSize,
		Seed:       cfg.Bootstrap.Seed,
		Strategy:   battery.Strategy(cfg.Bootstrap.Strategy),
		Epsilon:    cfg.Sensitivity.Epsilon,
		Workers:    cfg.Bootstrap.Workers,
	}
	if iterations < 0 || sampleSize < 0 || workers < 0 {
		return opts, apperrors.UsageError("--iterations, --sample-size and --workers must not be negative")
	}
	if strategy != "" {
		s, err := battery.ParseStrategy(strategy)
		if err != nil {
			return opts, apperrors.WithCode(apperrors.CodeUsageError, err)
		}
		opts.Strategy = s
	}
	if iterations > 0 {
		opts.Iterations = iterations
	}
	if sampleSize > 0 {
		opts.SampleSize = sampleSize
	}
	if workers > 0 {
		opts.Workers = workers
	}
	if cmd.Flags().Changed("seed") {
		opts.Seed = seed
	}
	return opts, nil
}

// runBootstrap resamples one choice-index confusion matrix per participant
func runBootstrap(ctx context.Context, c *study.Condition, sector trial.Sector, opts battery.Options) (*battery.Result, error) {
	if c.Count() == 0 {
		return nil, apperrors.InvalidInput("no participants match " + c.Label())
	}
	matrices := make([]*confusion.Matrix, 0, c.Count())
	for _, p := range c.Participants() {
		m, err := confusion.OfIndices(p.Responses(sector))
		if err != nil {
			return nil, apperrors.Wrapf(err, "confusion matrix for %s", p.ProlificPID)
		}
		matrices = append(matrices, m)
	}
	return battery.NewBootstrapper(rng.NewSeededAdapter(), opts).Run(ctx, matrices)
}

func printBootstrap(w io.Writer, c *study.Condition, result *battery.Result, lower, upper float64) error {
	slopes, err := result.SlopeInterval(lower, upper)
	if err != nil {
		return err
	}
	coefficients, err := result.CoefficientInterval(lower, upper)
	if err != nil {
		return err
	}
	coefficient := "r^2"
	if result.Strategy == battery.StrategyRepeatedMeasures {
		coefficient = "r"
	}

	fmt.Fprintf(w, "Condition: %s (cohort %s)\n", c.Label(), c.Cohort().Short())
	fmt.Fprintf(w, "Participants: %d, strategy: %s, iterations: %d, sample size: %d, seed: %d\n",
		result.Units, result.Strategy, result.Iterations, result.SampleSize, result.Seed)
	fmt.Fprintf(w, "Point estimate: slope %.4f, %s %.4f\n", result.Estimate.Slope, coefficient, result.Estimate.Coefficient)
	fmt.Fprintf(w, "Slope [%g, 50, %g]: %.4f %.4f %.4f\n", lower, upper, slopes.Lower, slopes.Median, slopes.Upper)
	fmt.Fprintf(w, "%s [%g, 50, %g]: %.4f %.4f %.4f\n", coefficient, lower, upper, coefficients.Lower, coefficients.Median, coefficients.Upper)
	return nil
}
