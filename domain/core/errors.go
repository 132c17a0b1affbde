package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Usage errors indicate a programming or configuration mistake
	ErrUsage                = errors.New("invalid usage")
	ErrConflictingFilters   = fmt.Errorf("%w: cannot query on both compensation and compensation_descriptor", ErrUsage)
	ErrMissingVersion       = fmt.Errorf("%w: refusing to run a query without an experiment version", ErrUsage)
	ErrInvalidEpsilon       = fmt.Errorf("%w: epsilon must lie in (0, 0.5)", ErrUsage)
	ErrInvalidPercentile    = fmt.Errorf("%w: percentile must lie in [0, 100]", ErrUsage)
	ErrUnknownStrategy      = fmt.Errorf("%w: unknown slope strategy", ErrUsage)
	ErrUnknownSector        = fmt.Errorf("%w: unknown sector", ErrUsage)
	ErrUnknownDescriptor    = fmt.Errorf("%w: unknown compensation descriptor", ErrUsage)
	ErrInvalidBootstrapSize = fmt.Errorf("%w: iterations and sample size must be positive", ErrUsage)

	// Record construction errors
	ErrInvalidRecord     = errors.New("invalid record")
	ErrAzimuthNotOffered = fmt.Errorf("%w: azimuth not among offered choices", ErrInvalidRecord)
	ErrTooFewChoices     = fmt.Errorf("%w: too few azimuth choices", ErrInvalidRecord)
	ErrNegativeDelay     = fmt.Errorf("%w: negative response delay", ErrInvalidRecord)
	ErrBlockSize         = fmt.Errorf("%w: wrong number of responses in block", ErrInvalidRecord)
	ErrSessionSize       = fmt.Errorf("%w: wrong number of blocks in session", ErrInvalidRecord)

	// Numerical errors
	ErrInvalidMatrix     = errors.New("invalid confusion matrix")
	ErrUnknownLabel      = fmt.Errorf("%w: label not in label set", ErrInvalidMatrix)
	ErrInsufficientData  = errors.New("insufficient data for analysis")
	ErrEmptyDistribution = fmt.Errorf("%w: empty distribution", ErrInsufficientData)
	ErrSingularDesign    = fmt.Errorf("%w: singular design matrix", ErrInsufficientData)
	ErrFitDidNotConverge = errors.New("curve fit did not converge")
)

// NewValidationError reports a field-level validation failure
func NewValidationError(field string, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidRecord, field, reason)
}

// IsUsageError reports whether err is a caller mistake rather than a data problem
func IsUsageError(err error) bool {
	return errors.Is(err, ErrUsage)
}

// IsRecordError reports whether err came from record construction
func IsRecordError(err error) bool {
	return errors.Is(err, ErrInvalidRecord)
}

func IsInsufficientData(err error) bool {
	return errors.Is(err, ErrInsufficientData)
}
