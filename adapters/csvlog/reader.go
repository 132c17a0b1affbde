package csvlog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"echoloc/domain/core"
	"echoloc/domain/trial"
)

// Column names of a trial log
const (
	ColProlificPID  = "prolificPid"
	ColVersion      = "version"
	ColTrialType    = "trial_type"
	ColKeyset       = "chosenKeyset"
	ColChoices      = "choices"
	ColSlowdown     = "slowdown"
	ColCompensation = "compensation"
	ColDescriptor   = "compensationDescriptor"
	ColAzimuth      = "azimuth"
	ColResponse     = "responseAzimuth"
	ColDelay        = "responseDelay"
	ColUserAgent    = "userAgent"
	ColModelName    = "modelName"
	ColFilename     = "filename"
)

// Trial types that drive parsing; all others are ignored
const (
	TrialKeysetSelect     = "keyset-select"
	TrialBlockBookend     = "block-bookend"
	TrialEchoPresentation = "echo-presentation"
)

// NaNCompensation is the literal the experiment writes when no compensation applied
const NaNCompensation = "NaN"

// record gives header-keyed access to one CSV row. A field is absent when the
// header lacks the column or the row is too short to reach it.
type record struct {
	index  map[string]int
	fields []string
}

func (r record) lookup(col string) (string, bool) {
	i, ok := r.index[col]
	if !ok || i >= len(r.fields) {
		return "", false
	}
	return r.fields[i], true
}

func (r record) get(col string) string {
	v, _ := r.lookup(col)
	return v
}

// parser accumulates session state across rows
type parser struct {
	session      trial.Session
	haveComp     bool
	blocks       []*trial.Block
	pending      []trial.Response
	currentBlock int
}

// Parse converts one trial log into a participant, or fails with a
// *trial.ParticipantException
func Parse(r io.Reader) (*trial.Participant, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = false

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &trial.ParticipantException{Reason: trial.ReasonMissingData, Cause: errors.New("empty log")}
		}
		return nil, &trial.ParticipantException{Reason: trial.ReasonMissingData, Cause: err}
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(name)] = i
	}

	p := &parser{}
	for line := 2; ; line++ {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, p.reject(trial.ReasonMissingData, err)
		}
		if err := p.row(record{index: index, fields: fields}); err != nil {
			if pe, ok := trial.AsParticipantException(err); ok {
				return nil, pe
			}
			return nil, p.reject(trial.ReasonMissingData, fmt.Errorf("line %d: %w", line, err))
		}
	}
	return p.finish()
}

// ParseFile parses the log at path; exceptions carry the path as their source
func ParseFile(path string) (*trial.Participant, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	participant, err := Parse(f)
	if pe, ok := trial.AsParticipantException(err); ok {
		pe.Source = path
		return nil, pe
	}
	return participant, err
}

func (p *parser) reject(reason trial.Reason, cause error) *trial.ParticipantException {
	return &trial.ParticipantException{ProlificPID: p.session.ProlificPID, Reason: reason, Cause: cause}
}

func (p *parser) row(rec record) error {
	p.session.ProlificPID = rec.get(ColProlificPID)
	if _, bad := IsDenylisted(p.session.ProlificPID); bad {
		return p.reject(trial.ReasonMarkedInvalid, nil)
	}
	if _, ok := rec.lookup(ColVersion); !ok {
		return p.reject(trial.ReasonNoVersion, nil)
	}

	switch rec.get(ColTrialType) {
	case TrialKeysetSelect:
		p.session.Keyset = rec.get(ColKeyset)
	case TrialBlockBookend:
		if len(p.pending) == trial.BlockSize {
			block, err := trial.NewBlock(p.currentBlock, p.pending)
			if err != nil {
				return err
			}
			p.blocks = append(p.blocks, block)
			p.pending = nil
		}
	case TrialEchoPresentation:
		return p.presentation(rec)
	}
	return nil
}

func (p *parser) presentation(rec record) error {
	choices, err := parseChoices(rec.get(ColChoices))
	if err != nil {
		return err
	}
	if len(choices) < 3 {
		return fmt.Errorf("%w: %d choices", core.ErrTooFewChoices, len(choices))
	}
	p.currentBlock = choices[2]

	if p.session.Slowdown, err = parseInt(ColSlowdown, rec.get(ColSlowdown)); err != nil {
		return err
	}
	compensation := rec.get(ColCompensation)
	if compensation == NaNCompensation {
		p.session.Compensation = 0
	} else if p.session.Compensation, err = parseInt(ColCompensation, compensation); err != nil {
		return err
	}
	p.haveComp = true
	p.session.CompensationDescriptor = rec.get(ColDescriptor)
	p.session.UserAgent = rec.get(ColUserAgent)
	p.session.Version = rec.get(ColVersion)
	p.session.ModelName = rec.get(ColModelName)

	trueAz, respAz := rec.get(ColAzimuth), rec.get(ColResponse)
	if trueAz == "" || respAz == "" {
		return nil
	}
	t, err := parseInt(ColAzimuth, trueAz)
	if err != nil {
		return err
	}
	r, err := parseInt(ColResponse, respAz)
	if err != nil {
		return err
	}
	delay, err := parseInt(ColDelay, rec.get(ColDelay))
	if err != nil {
		return err
	}
	response, err := trial.NewResponse(t, r, choices, delay, rec.get(ColFilename))
	if err != nil {
		return err
	}
	if _, err := response.TrueIndex(); err != nil {
		return err
	}
	if _, err := response.ResponseIndex(); err != nil {
		return err
	}
	p.pending = append(p.pending, response)
	return nil
}

func (p *parser) finish() (*trial.Participant, error) {
	s := p.session
	complete := len(p.blocks) == trial.BlocksPerSession &&
		s.Slowdown != 0 &&
		p.haveComp &&
		s.CompensationDescriptor != "" &&
		s.Version != "" &&
		s.ProlificPID != ""
	if !complete {
		return nil, p.reject(trial.ReasonMissingData,
			fmt.Errorf("%d completed blocks, slowdown=%d descriptor=%q version=%q", len(p.blocks), s.Slowdown, s.CompensationDescriptor, s.Version))
	}
	participant, err := trial.NewParticipant(s, p.blocks)
	if err != nil {
		return nil, p.reject(trial.ReasonMissingData, err)
	}
	return participant, nil
}

func parseChoices(raw string) ([]int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, core.NewValidationError(ColChoices, "empty")
	}
	parts := strings.Split(raw, ",")
	choices := make([]int, len(parts))
	for i, part := range parts {
		v, err := parseInt(ColChoices, part)
		if err != nil {
			return nil, err
		}
		choices[i] = v
	}
	return choices, nil
}

func parseInt(field, raw string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, core.NewValidationError(field, fmt.Sprintf("not an integer: %q", raw))
	}
	return v, nil
}
