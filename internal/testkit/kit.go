package testkit

import (
	"encoding/csv"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"echoloc/adapters/rng"
	"echoloc/ports"
)

// TestKit provides testing utilities and fixtures
type TestKit struct {
	dir string
}

// NewTestKit creates a test kit that writes logs under dir
func NewTestKit(dir string) (*TestKit, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create test kit directory: %w", err)
	}
	return &TestKit{dir: dir}, nil
}

// RNGAdapter returns an RNG adapter
func (t *TestKit) RNGAdapter() ports.RNGPort {
	return rng.NewSeededAdapter()
}

// WriteLog renders spec as CSV into the kit directory and returns the file path
func (t *TestKit) WriteLog(name string, spec SessionSpec) (string, error) {
	path := filepath.Join(t.dir, name)
	if err := os.WriteFile(path, []byte(spec.CSV()), 0o644); err != nil {
		return "", fmt.Errorf("failed to write log %s: %w", name, err)
	}
	return path, nil
}

// LogColumns is the header of a rendered log. version is last so a truncated
// row loses it.
var LogColumns = []string{
	"prolificPid", "trial_type", "chosenKeyset", "choices", "slowdown",
	"compensation", "compensationDescriptor", "azimuth", "responseAzimuth",
	"responseDelay", "userAgent", "modelName", "filename", "version",
}

// ResponseFunc picks the reported choice index for a trial
type ResponseFunc func(rnd *rand.Rand, block, trial, trueIndex int) int

// SessionSpec configures a synthetic trial log
type SessionSpec struct {
	ProlificPID  string
	Version      string
	ModelName    string
	Keyset       string
	Slowdown     int
	Compensation string
	Descriptor   string
	UserAgent    string
	Centers      []int
	// Blocks caps the number of completed blocks written; zero writes one per center
	Blocks int
	// TrialsPerBlock defaults to 20
	TrialsPerBlock int
	// OmitVersionColumn drops the version column from the header
	OmitVersionColumn bool
	// TruncateRow drops the trailing version field of the given data row (1-based)
	TruncateRow int
	Respond     ResponseFunc
	Seed        int64
}

// DefaultSession returns a complete, well-formed six-block session
func DefaultSession(pid string) SessionSpec {
	return SessionSpec{
		ProlificPID:  pid,
		Version:      "v1-up-stims",
		ModelName:    "spherical",
		Keyset:       "asdfg",
		Slowdown:     20,
		Compensation: "20",
		Descriptor:   "full",
		UserAgent:    "Mozilla/5.0",
		Centers:      []int{-60, 0, 60, -60, 0, 60},
		Respond:      NeighborConfusion(0.7),
		Seed:         42,
	}
}

// ChoicesFor returns the five positional choices around center plus the catch choice
func ChoicesFor(center int) []int {
	return []int{center - 20, center - 10, center, center + 10, center + 20, center + 180}
}

// NeighborConfusion answers correctly with probability pCorrect, otherwise an adjacent position
func NeighborConfusion(pCorrect float64) ResponseFunc {
	return func(rnd *rand.Rand, block, trial, trueIndex int) int {
		if rnd.Float64() < pCorrect {
			return trueIndex
		}
		if trueIndex == 0 || (trueIndex < 4 && rnd.Intn(2) == 0) {
			return trueIndex + 1
		}
		return trueIndex - 1
	}
}

// Constant always reports the same choice index
func Constant(index int) ResponseFunc {
	return func(*rand.Rand, int, int, int) int { return index }
}

// Rows renders the log as header plus data rows
func (s SessionSpec) Rows() [][]string {
	header := LogColumns
	if s.OmitVersionColumn {
		header = LogColumns[:len(LogColumns)-1]
	}
	rows := [][]string{header}
	trials := s.TrialsPerBlock
	if trials == 0 {
		trials = 20
	}
	blocks := len(s.Centers)
	if s.Blocks > 0 && s.Blocks < blocks {
		blocks = s.Blocks
	}
	rnd := rand.New(rand.NewSource(s.Seed))

	row := func(trialType string) []string {
		r := make([]string, len(header))
		r[0] = s.ProlificPID
		r[1] = trialType
		if !s.OmitVersionColumn {
			r[len(r)-1] = s.Version
		}
		return r
	}

	ks := row("keyset-select")
	ks[2] = s.Keyset
	rows = append(rows, ks, row("block-bookend"))

	for b := 0; b < blocks; b++ {
		choices := ChoicesFor(s.Centers[b])
		for i := 0; i < trials; i++ {
			trueIndex := rnd.Intn(5)
			respIndex := s.Respond(rnd, b, i, trueIndex)
			r := row("echo-presentation")
			r[3] = joinInts(choices)
			r[4] = strconv.Itoa(s.Slowdown)
			r[5] = s.Compensation
			r[6] = s.Descriptor
			r[7] = strconv.Itoa(choices[trueIndex])
			r[8] = strconv.Itoa(choices[respIndex])
			r[9] = strconv.Itoa(400 + rnd.Intn(1200))
			r[10] = s.UserAgent
			r[11] = s.ModelName
			r[12] = fmt.Sprintf("stim_%d_%d.wav", s.Centers[b], choices[trueIndex])
			rows = append(rows, r)
		}
		rows = append(rows, row("block-bookend"))
	}
	rows = append(rows, row("survey"))

	if s.TruncateRow > 0 && s.TruncateRow < len(rows) {
		r := rows[s.TruncateRow]
		rows[s.TruncateRow] = r[:len(r)-1]
	}
	return rows
}

// CSV renders the log as CSV text
func (s SessionSpec) CSV() string {
	var sb strings.Builder
	w := csv.NewWriter(&sb)
	_ = w.WriteAll(s.Rows())
	return sb.String()
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}
