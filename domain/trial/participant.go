package trial

import (
	"fmt"
	"math"
	"slices"

	"github.com/montanaflynn/stats"

	"echoloc/domain/core"
)

// Sector selects blocks by the sign of their center azimuth
type Sector string

const (
	SectorAll    Sector = ""
	SectorLeft   Sector = "left"
	SectorCenter Sector = "center"
	SectorRight  Sector = "right"
)

// Sectors lists the spatial sectors in display order
var Sectors = []Sector{SectorLeft, SectorCenter, SectorRight}

// ParseSector accepts left, center, right, and all (or empty)
func ParseSector(s string) (Sector, error) {
	switch s {
	case "", "all":
		return SectorAll, nil
	case "left":
		return SectorLeft, nil
	case "center":
		return SectorCenter, nil
	case "right":
		return SectorRight, nil
	}
	return SectorAll, fmt.Errorf("%w: %q", core.ErrUnknownSector, s)
}

// Contains reports whether a block centered on centerAzimuth belongs to the sector
func (s Sector) Contains(centerAzimuth int) bool {
	switch s {
	case SectorLeft:
		return centerAzimuth < 0
	case SectorRight:
		return centerAzimuth > 0
	case SectorCenter:
		return centerAzimuth == 0
	}
	return true
}

func (s Sector) String() string {
	if s == SectorAll {
		return "all"
	}
	return string(s)
}

// Compensation descriptors
const (
	DescriptorOne  = "1"
	DescriptorHalf = "half"
	DescriptorFull = "full"
)

// CompensationFor derives the compensation factor from slowdown and descriptor
func CompensationFor(slowdown int, descriptor string) (int, error) {
	switch descriptor {
	case DescriptorOne:
		return 1, nil
	case DescriptorHalf:
		return slowdown / 2, nil
	case DescriptorFull:
		return slowdown, nil
	}
	return 0, fmt.Errorf("%w: %q", core.ErrUnknownDescriptor, descriptor)
}

// Session holds the identity and condition attributes of a participant's run
type Session struct {
	ProlificPID            string
	Version                string
	UserAgent              string
	ModelName              string
	Keyset                 string
	Compensation           int
	CompensationDescriptor string
	Slowdown               int
}

// Participant is one completed experimental session
type Participant struct {
	Session
	blocks  []*Block
	flagged bool
}

// NewParticipant requires exactly BlocksPerSession blocks
func NewParticipant(session Session, blocks []*Block) (*Participant, error) {
	if len(blocks) != BlocksPerSession {
		return nil, fmt.Errorf("%w: got %d, need %d", core.ErrSessionSize, len(blocks), BlocksPerSession)
	}
	p := &Participant{
		Session: session,
		blocks:  slices.Clone(blocks),
	}
	p.flagged = slices.ContainsFunc(p.blocks, (*Block).IsFlagged)
	return p, nil
}

// Blocks returns the blocks in the sector, in session order
func (p *Participant) Blocks(sector Sector) []*Block {
	var out []*Block
	for _, b := range p.blocks {
		if sector.Contains(b.centerAzimuth) {
			out = append(out, b)
		}
	}
	return out
}

// Responses flattens the sector's blocks to responses
func (p *Participant) Responses(sector Sector) []Response {
	var out []Response
	for _, b := range p.Blocks(sector) {
		out = append(out, b.responses...)
	}
	return out
}

// FractionCorrectResponses is NaN when the sector has no blocks
func (p *Participant) FractionCorrectResponses(sector Sector) float64 {
	total, correct := 0, 0
	for _, b := range p.Blocks(sector) {
		total += b.NumResponses()
		correct += b.NumCorrectResponses()
	}
	if total == 0 {
		return math.NaN()
	}
	return float64(correct) / float64(total)
}

// AverageError is the signed mean error over the sector's responses
func (p *Participant) AverageError(sector Sector) float64 {
	responses := p.Responses(sector)
	errs := make([]float64, len(responses))
	for i, r := range responses {
		errs[i] = float64(r.Error())
	}
	mean, err := stats.Mean(errs)
	if err != nil {
		return math.NaN()
	}
	return mean
}

// ErrorDistribution merges the sector's block distributions
func (p *Participant) ErrorDistribution(sector Sector) map[int]int {
	blocks := p.Blocks(sector)
	dists := make([]map[int]int, len(blocks))
	for i, b := range blocks {
		dists[i] = b.ErrorDistribution()
	}
	return MergeDistributions(dists...)
}

// IsFlagged reports whether any block is flagged
func (p *Participant) IsFlagged() bool {
	return p.flagged
}

// UsedSemicircle reports whether any response picked the catch choice
func (p *Participant) UsedSemicircle() bool {
	for _, b := range p.blocks {
		if slices.ContainsFunc(b.responses, Response.UsedSemicircle) {
			return true
		}
	}
	return false
}

// ExpectedErrorKeys are always present in a merged distribution
var ExpectedErrorKeys = []int{-40, -30, -20, -10, 0, 10, 20, 30, 40}

// MergeDistributions sums error distributions, seeding ExpectedErrorKeys with zero
func MergeDistributions(dists ...map[int]int) map[int]int {
	totals := make(map[int]int, len(ExpectedErrorKeys))
	for _, k := range ExpectedErrorKeys {
		totals[k] = 0
	}
	for _, d := range dists {
		for k, v := range d {
			totals[k] += v
		}
	}
	return totals
}
