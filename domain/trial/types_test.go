package trial

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"echoloc/domain/core"
)

var testChoices = []int{-20, -10, 0, 10, 20, 180}

func mustResponse(t *testing.T, truth, reported int) Response {
	t.Helper()
	r, err := NewResponse(truth, reported, testChoices, 500, "stim.wav")
	require.NoError(t, err)
	return r
}

// blockFromReports builds a block whose truth is always 0 and whose reports
// follow the given sequence
func blockFromReports(t *testing.T, center int, reports []int) *Block {
	t.Helper()
	responses := make([]Response, len(reports))
	for i, rep := range reports {
		responses[i] = mustResponse(t, 0, rep)
	}
	b, err := NewBlock(center, responses)
	require.NoError(t, err)
	return b
}

// alternating yields a report sequence with no repeats, then overwrites runs
func alternating(runs ...[2]int) []int {
	reports := make([]int, BlockSize)
	for i := range reports {
		reports[i] = []int{-10, 10}[i%2]
	}
	for _, run := range runs {
		start, length := run[0], run[1]
		for i := start; i < start+length; i++ {
			reports[i] = 20
		}
	}
	return reports
}

func TestNewResponse_Validation(t *testing.T) {
	_, err := NewResponse(0, 0, []int{-10, 0, 10, 20}, 100, "")
	assert.ErrorIs(t, err, core.ErrTooFewChoices)

	_, err = NewResponse(0, 0, testChoices, -1, "")
	assert.ErrorIs(t, err, core.ErrNegativeDelay)
	assert.True(t, core.IsRecordError(err))
	assert.False(t, core.IsUsageError(err))
}

func TestResponse_Derived(t *testing.T) {
	r := mustResponse(t, -10, 20)

	assert.False(t, r.IsCorrect())
	assert.Equal(t, 30, r.Error())

	ti, err := r.TrueIndex()
	require.NoError(t, err)
	assert.Equal(t, 1, ti)

	ri, err := r.ResponseIndex()
	require.NoError(t, err)
	assert.Equal(t, 4, ri)

	assert.Equal(t, 180, r.SemicircleChoice())
	assert.False(t, r.UsedSemicircle())
	assert.True(t, mustResponse(t, 0, 180).UsedSemicircle())
}

func TestResponse_IndexNotOffered(t *testing.T) {
	r := mustResponse(t, 5, 0)
	_, err := r.TrueIndex()
	assert.ErrorIs(t, err, core.ErrAzimuthNotOffered)
}

func TestResponse_ChoicesAreCopied(t *testing.T) {
	choices := []int{-20, -10, 0, 10, 20}
	r, err := NewResponse(0, 0, choices, 0, "")
	require.NoError(t, err)

	choices[0] = 99
	got := r.AzimuthChoices()
	got[1] = 99
	assert.Equal(t, []int{-20, -10, 0, 10, 20}, r.AzimuthChoices())
}

func TestNewBlock_RequiresTwentyResponses(t *testing.T) {
	_, err := NewBlock(0, make([]Response, BlockSize-1))
	assert.ErrorIs(t, err, core.ErrBlockSize)
}

func TestBlock_Statistics(t *testing.T) {
	reports := alternating()
	reports[0], reports[1] = 0, 0
	b := blockFromReports(t, -60, reports)

	assert.Equal(t, -60, b.CenterAzimuth())
	assert.Equal(t, 2, b.NumCorrectResponses())
	assert.InDelta(t, 0.1, b.FractionCorrectResponses(), 1e-12)
	// 18 responses with |error| = 10, 2 with 0
	assert.InDelta(t, 9.0, b.AverageAbsoluteError(), 1e-12)
	assert.Equal(t, map[int]int{0: 2, -10: 9, 10: 9}, b.ErrorDistribution())
}

func TestBlock_IsFlagged(t *testing.T) {
	tests := []struct {
		name    string
		reports []int
		flagged bool
		longest int
	}{
		{name: "no repeats", reports: alternating(), flagged: false, longest: 1},
		{name: "exactly seven consecutive", reports: alternating([2]int{3, 7}), flagged: false, longest: 7},
		{name: "exactly eight consecutive", reports: alternating([2]int{3, 8}), flagged: true, longest: 8},
		{name: "seven twice, interrupted", reports: alternating([2]int{0, 7}, [2]int{8, 7}), flagged: false, longest: 7},
		{name: "eight at the end", reports: alternating([2]int{12, 8}), flagged: true, longest: 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := blockFromReports(t, 0, tt.reports)
			assert.Equal(t, tt.flagged, b.IsFlagged())
			assert.Equal(t, tt.longest, b.LongestRepeatRun())
		})
	}
}

func sixBlocks(t *testing.T, centers []int, flaggedIndex int) []*Block {
	t.Helper()
	blocks := make([]*Block, len(centers))
	for i, c := range centers {
		reports := alternating()
		if i == flaggedIndex {
			reports = alternating([2]int{0, 10})
		}
		blocks[i] = blockFromReports(t, c, reports)
	}
	return blocks
}

func TestNewParticipant_RequiresSixBlocks(t *testing.T) {
	_, err := NewParticipant(Session{}, sixBlocks(t, []int{0, 0, 0, 0, 0}, -1))
	assert.ErrorIs(t, err, core.ErrSessionSize)
}

func TestParticipant_Sectors(t *testing.T) {
	p, err := NewParticipant(Session{ProlificPID: "p"}, sixBlocks(t, []int{-60, 0, 60, -60, 0, 60}, -1))
	require.NoError(t, err)

	assert.Len(t, p.Blocks(SectorAll), 6)
	for _, s := range Sectors {
		assert.Len(t, p.Blocks(s), 2, "sector %s", s)
		assert.Len(t, p.Responses(s), 2*BlockSize, "sector %s", s)
	}
	for _, b := range p.Blocks(SectorLeft) {
		assert.Less(t, b.CenterAzimuth(), 0)
	}
	assert.False(t, p.IsFlagged())
	assert.False(t, p.UsedSemicircle())
}

func TestParticipant_Aggregates(t *testing.T) {
	p, err := NewParticipant(Session{}, sixBlocks(t, []int{-60, -60, 0, 0, 0, 0}, -1))
	require.NoError(t, err)

	assert.InDelta(t, 0.0, p.FractionCorrectResponses(SectorAll), 1e-12)
	// alternating -10/+10 errors cancel
	assert.InDelta(t, 0.0, p.AverageError(SectorLeft), 1e-12)
	assert.True(t, math.IsNaN(p.FractionCorrectResponses(SectorRight)))
	assert.True(t, math.IsNaN(p.AverageError(SectorRight)))

	dist := p.ErrorDistribution(SectorLeft)
	assert.Equal(t, 20, dist[-10])
	assert.Equal(t, 20, dist[10])
	assert.Equal(t, 0, dist[40])
	assert.Len(t, dist, len(ExpectedErrorKeys))
}

func TestParticipant_FlaggedWhenAnyBlockFlagged(t *testing.T) {
	p, err := NewParticipant(Session{}, sixBlocks(t, []int{0, 0, 0, 0, 0, 0}, 4))
	require.NoError(t, err)
	assert.True(t, p.IsFlagged())
}

func TestMergeDistributions(t *testing.T) {
	merged := MergeDistributions(map[int]int{10: 2, 70: 1}, map[int]int{10: 3})
	assert.Equal(t, 5, merged[10])
	assert.Equal(t, 1, merged[70])
	assert.Equal(t, 0, merged[-40])
	assert.Len(t, merged, len(ExpectedErrorKeys)+1)
}

func TestCompensationFor(t *testing.T) {
	tests := []struct {
		descriptor string
		want       int
	}{
		{DescriptorOne, 1},
		{DescriptorHalf, 10},
		{DescriptorFull, 20},
	}
	for _, tt := range tests {
		got, err := CompensationFor(20, tt.descriptor)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.descriptor)
	}

	_, err := CompensationFor(20, "double")
	assert.ErrorIs(t, err, core.ErrUnknownDescriptor)
}

func TestParseSector(t *testing.T) {
	for _, s := range []string{"", "all"} {
		got, err := ParseSector(s)
		require.NoError(t, err)
		assert.Equal(t, SectorAll, got)
	}
	got, err := ParseSector("right")
	require.NoError(t, err)
	assert.Equal(t, SectorRight, got)

	_, err = ParseSector("up")
	assert.ErrorIs(t, err, core.ErrUnknownSector)
}
