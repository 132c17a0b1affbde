// Package study aggregates parsed trial logs into a queryable collection of
// participants and the rejections encountered while loading them.
package study

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"echoloc/adapters/csvlog"
	"echoloc/domain/core"
	"echoloc/domain/trial"
	"echoloc/internal"
	apperrors "echoloc/internal/errors"
)

// Canonical experiment build and acoustic model assumed by queries
const (
	DefaultVersion = "v1-up-stims"
	DefaultModel   = "spherical"
)

// Options configure query defaults and logging
type Options struct {
	// DefaultVersion must be non-empty unless every query names a version
	DefaultVersion string
	// DefaultModel is skipped when empty
	DefaultModel string
	Logger       *internal.Logger
}

// DefaultOptions returns the canonical query defaults
func DefaultOptions() Options {
	return Options{DefaultVersion: DefaultVersion, DefaultModel: DefaultModel}
}

func (o Options) logger() *internal.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return internal.DefaultLogger.WithComponent("study")
}

// Study is the immutable result of loading a set of trial logs
type Study struct {
	*Condition
	exceptions []*trial.ParticipantException
}

// Summary counts accepted and rejected logs
type Summary struct {
	Accepted int
	Rejected int
	ByReason map[trial.Reason]int
}

// New builds a study from already parsed participants and rejections
func New(participants []*trial.Participant, exceptions []*trial.ParticipantException, opts Options) *Study {
	root := &Condition{
		opts:         opts,
		all:          participants,
		participants: participants,
	}
	return &Study{Condition: root, exceptions: exceptions}
}

// Load parses every *.csv file in dirs. Directories are visited in the given
// order and files in name order. Rejected logs are collected; read failures
// abort the load.
func Load(ctx context.Context, dirs []string, opts Options) (*Study, error) {
	logger := opts.logger()
	var participants []*trial.Participant
	var exceptions []*trial.ParticipantException

	for _, dir := range dirs {
		paths, err := logFiles(dir)
		if err != nil {
			return nil, err
		}
		logger.Debug("found %d logs in %s", len(paths), dir)

		for _, path := range paths {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			p, err := csvlog.ParseFile(path)
			if err != nil {
				pe, ok := trial.AsParticipantException(err)
				if !ok {
					return nil, apperrors.IOError(path, err)
				}
				logger.Debug("rejected %s", pe.Error())
				exceptions = append(exceptions, pe)
				continue
			}
			participants = append(participants, p)
		}
	}

	s := New(participants, exceptions, opts)
	summary := s.Summary()
	logger.Info("loaded %d participants, rejected %d logs %s", summary.Accepted, summary.Rejected, summary.reasons())
	return s, nil
}

func logFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, apperrors.IOError(dir, err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// Exceptions returns the rejections in load order
func (s *Study) Exceptions() []*trial.ParticipantException {
	return slices.Clone(s.exceptions)
}

// Summary tallies the load outcome
func (s *Study) Summary() Summary {
	summary := Summary{
		Accepted: len(s.all),
		Rejected: len(s.exceptions),
		ByReason: make(map[trial.Reason]int),
	}
	for _, e := range s.exceptions {
		summary.ByReason[e.Reason]++
	}
	return summary
}

func (s Summary) reasons() string {
	if len(s.ByReason) == 0 {
		return ""
	}
	reasons := make([]string, 0, len(s.ByReason))
	for reason, n := range s.ByReason {
		reasons = append(reasons, fmt.Sprintf("%s=%d", reason, n))
	}
	sort.Strings(reasons)
	return "(" + strings.Join(reasons, ", ") + ")"
}

// Condition is a filtered view of a study. It remembers the filters that
// produced it so that further queries and labels compose.
type Condition struct {
	opts           Options
	all            []*trial.Participant
	participants   []*trial.Participant
	applied        filterSet
	excludeFlagged bool
}

// Query narrows the condition. The query defaults, this condition's filters
// and the new filters are merged with later filters winning, and the merged
// set is matched against this condition's participants, so a chain never
// gains participants. Overriding a field along a chain therefore keeps only
// participants that satisfy both values.
func (c *Condition) Query(filters ...Filter) (*Condition, error) {
	var effective filterSet
	if c.opts.DefaultVersion != "" {
		effective.put(WithVersion(c.opts.DefaultVersion))
	}
	if c.opts.DefaultModel != "" {
		effective.put(WithModelName(c.opts.DefaultModel))
	}
	for _, f := range c.applied.ordered() {
		effective.put(f)
	}
	for _, f := range filters {
		if f.field < 0 || f.field >= fieldCount {
			return nil, fmt.Errorf("%w: unknown filter field %d", core.ErrUsage, int(f.field))
		}
		effective.put(f)
	}

	if _, ok := effective.get(FieldCompensation); ok {
		if _, ok := effective.get(FieldCompensationDescriptor); ok {
			return nil, core.ErrConflictingFilters
		}
	}
	if v, ok := effective.get(FieldVersion); !ok || v.text == "" {
		return nil, core.ErrMissingVersion
	}
	if d, ok := effective.get(FieldCompensationDescriptor); ok {
		if _, err := trial.CompensationFor(1, d.text); err != nil {
			return nil, err
		}
	}

	matched := make([]*trial.Participant, 0, len(c.participants))
	for _, p := range c.participants {
		if effective.matches(p) {
			matched = append(matched, p)
		}
	}
	return &Condition{
		opts:           c.opts,
		all:            c.all,
		participants:   matched,
		applied:        effective,
		excludeFlagged: c.excludeFlagged,
	}, nil
}

// Subsect queries once per combination of the given alternatives. The first
// axis varies slowest.
func (c *Condition) Subsect(axes ...[]Filter) ([]*Condition, error) {
	combos := [][]Filter{nil}
	for _, axis := range axes {
		if len(axis) == 0 {
			continue
		}
		next := make([][]Filter, 0, len(combos)*len(axis))
		for _, combo := range combos {
			for _, f := range axis {
				extended := append(append([]Filter(nil), combo...), f)
				next = append(next, extended)
			}
		}
		combos = next
	}

	out := make([]*Condition, 0, len(combos))
	for _, combo := range combos {
		sub, err := c.Query(combo...)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, nil
}

// Unflagged drops participants with a flagged block, here and in later queries
func (c *Condition) Unflagged() *Condition {
	kept := make([]*trial.Participant, 0, len(c.participants))
	for _, p := range c.participants {
		if !p.IsFlagged() {
			kept = append(kept, p)
		}
	}
	return &Condition{
		opts:           c.opts,
		all:            c.all,
		participants:   kept,
		applied:        c.applied,
		excludeFlagged: true,
	}
}

// Participants returns the matching participants in load order
func (c *Condition) Participants() []*trial.Participant {
	return slices.Clone(c.participants)
}

func (c *Condition) Count() int {
	return len(c.participants)
}

// Values returns the applied filters in field order
func (c *Condition) Values() []Filter {
	return c.applied.ordered()
}

// Value returns the applied filter for field, if any
func (c *Condition) Value(field Field) (Filter, bool) {
	return c.applied.get(field)
}

// Cohort fingerprints the matching participants and applied filters
func (c *Condition) Cohort() core.CohortHash {
	ids := make([]string, len(c.participants))
	for i, p := range c.participants {
		ids[i] = p.ProlificPID
	}
	filters := make(map[string]string)
	for _, f := range c.applied.ordered() {
		filters[f.field.String()] = f.Value()
	}
	if c.excludeFlagged {
		filters["unflagged"] = "true"
	}
	return core.ComputeCohortHash(ids, filters)
}

// Responses flattens the responses of every matching participant
func (c *Condition) Responses(sector trial.Sector) []trial.Response {
	var out []trial.Response
	for _, p := range c.participants {
		out = append(out, p.Responses(sector)...)
	}
	return out
}

// Label renders the applied filters for the given fields, or all of them,
// as "slowdown=20, compensation_descriptor=full"
func (c *Condition) Label(fields ...Field) string {
	var parts []string
	if len(fields) == 0 {
		for _, f := range c.applied.ordered() {
			parts = append(parts, f.String())
		}
	}
	for _, field := range fields {
		if f, ok := c.applied.get(field); ok {
			parts = append(parts, f.String())
		}
	}
	return strings.Join(parts, ", ")
}
