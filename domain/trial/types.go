package trial

import (
	"fmt"
	"math"
	"slices"

	"github.com/montanaflynn/stats"

	"echoloc/domain/core"
)

const (
	// BlockSize is the number of responses in a completed block
	BlockSize = 20
	// BlocksPerSession is the number of blocks in a completed session
	BlocksPerSession = 6
	// MinChoices is the smallest azimuth choice list a trial may offer
	MinChoices = 5
	// MaxRepeatRun is the longest run of one reported azimuth a block may contain unflagged
	MaxRepeatRun = 7
)

// Response is one trial. Values are immutable once constructed.
type Response struct {
	trueAzimuth     int
	responseAzimuth int
	azimuthChoices  []int
	responseDelayMs int
	sourceFilename  string
}

// NewResponse validates and builds a response, copying the choice list
func NewResponse(trueAzimuth, responseAzimuth int, choices []int, responseDelayMs int, sourceFilename string) (Response, error) {
	if len(choices) < MinChoices {
		return Response{}, fmt.Errorf("%w: got %d, need %d", core.ErrTooFewChoices, len(choices), MinChoices)
	}
	if responseDelayMs < 0 {
		return Response{}, fmt.Errorf("%w: %d", core.ErrNegativeDelay, responseDelayMs)
	}
	return Response{
		trueAzimuth:     trueAzimuth,
		responseAzimuth: responseAzimuth,
		azimuthChoices:  slices.Clone(choices),
		responseDelayMs: responseDelayMs,
		sourceFilename:  sourceFilename,
	}, nil
}

func (r Response) TrueAzimuth() int     { return r.trueAzimuth }
func (r Response) ResponseAzimuth() int { return r.responseAzimuth }
func (r Response) ResponseDelayMs() int { return r.responseDelayMs }
func (r Response) SourceFilename() string {
	return r.sourceFilename
}

// AzimuthChoices returns a copy of the offered choices
func (r Response) AzimuthChoices() []int {
	return slices.Clone(r.azimuthChoices)
}

// IsCorrect reports whether the reported azimuth equals the true azimuth
func (r Response) IsCorrect() bool {
	return r.responseAzimuth == r.trueAzimuth
}

// Error is the signed error in degrees
func (r Response) Error() int {
	return r.responseAzimuth - r.trueAzimuth
}

// TrueIndex is the ordinal of the true azimuth among the offered choices
func (r Response) TrueIndex() (int, error) {
	return r.indexOf(r.trueAzimuth)
}

// ResponseIndex is the ordinal of the reported azimuth among the offered choices
func (r Response) ResponseIndex() (int, error) {
	return r.indexOf(r.responseAzimuth)
}

func (r Response) indexOf(azimuth int) (int, error) {
	idx := slices.Index(r.azimuthChoices, azimuth)
	if idx < 0 {
		return 0, fmt.Errorf("%w: %d not in %v", core.ErrAzimuthNotOffered, azimuth, r.azimuthChoices)
	}
	return idx, nil
}

// SemicircleChoice is the distinguished catch choice, always offered last
func (r Response) SemicircleChoice() int {
	return r.azimuthChoices[len(r.azimuthChoices)-1]
}

// UsedSemicircle reports whether the participant picked the catch choice
func (r Response) UsedSemicircle() bool {
	return r.responseAzimuth == r.SemicircleChoice()
}

// Block is a group of BlockSize responses sharing a sector center
type Block struct {
	centerAzimuth int
	responses     []Response
	longestRun    int
}

// NewBlock builds a block; the response count must be exactly BlockSize
func NewBlock(centerAzimuth int, responses []Response) (*Block, error) {
	if len(responses) != BlockSize {
		return nil, fmt.Errorf("%w: got %d, need %d", core.ErrBlockSize, len(responses), BlockSize)
	}
	b := &Block{
		centerAzimuth: centerAzimuth,
		responses:     slices.Clone(responses),
	}
	b.longestRun = longestRepeatRun(b.responses)
	return b, nil
}

func (b *Block) CenterAzimuth() int { return b.centerAzimuth }

// Responses returns a copy of the block's responses in trial order
func (b *Block) Responses() []Response {
	return slices.Clone(b.responses)
}

func (b *Block) NumResponses() int {
	return len(b.responses)
}

func (b *Block) NumCorrectResponses() int {
	n := 0
	for _, r := range b.responses {
		if r.IsCorrect() {
			n++
		}
	}
	return n
}

func (b *Block) FractionCorrectResponses() float64 {
	return float64(b.NumCorrectResponses()) / float64(len(b.responses))
}

// AverageAbsoluteError is the mean of |error| across the block
func (b *Block) AverageAbsoluteError() float64 {
	errs := make([]float64, len(b.responses))
	for i, r := range b.responses {
		errs[i] = math.Abs(float64(r.Error()))
	}
	mean, err := stats.Mean(errs)
	if err != nil {
		return math.NaN()
	}
	return mean
}

// ErrorDistribution counts occurrences of each signed error value
func (b *Block) ErrorDistribution() map[int]int {
	dist := make(map[int]int)
	for _, r := range b.responses {
		dist[r.Error()]++
	}
	return dist
}

// LongestRepeatRun is the longest run of consecutive identical reported azimuths
func (b *Block) LongestRepeatRun() int {
	return b.longestRun
}

// IsFlagged reports a stuck or inattentive block: one reported azimuth repeated
// on more than MaxRepeatRun consecutive trials
func (b *Block) IsFlagged() bool {
	return b.longestRun > MaxRepeatRun
}

func longestRepeatRun(responses []Response) int {
	longest, run := 0, 0
	for i, r := range responses {
		if i > 0 && r.responseAzimuth == responses[i-1].responseAzimuth {
			run++
		} else {
			run = 1
		}
		longest = max(longest, run)
	}
	return longest
}
