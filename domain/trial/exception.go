package trial

import (
	"errors"
	"fmt"
)

// Reason categorizes why a log was rejected
type Reason string

const (
	ReasonMarkedInvalid Reason = "marked-invalid"
	ReasonNoVersion     Reason = "no-version"
	ReasonMissingData   Reason = "missing-data"
)

// ParticipantException rejects a whole log. ProlificPID may be empty when the
// log never named a participant.
type ParticipantException struct {
	ProlificPID string
	Reason      Reason
	Source      string
	Cause       error
}

func (e *ParticipantException) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.ProlificPID, e.Reason)
	if e.Source != "" {
		msg += " (" + e.Source + ")"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ParticipantException) Unwrap() error {
	return e.Cause
}

// AsParticipantException extracts a ParticipantException from err
func AsParticipantException(err error) (*ParticipantException, bool) {
	var pe *ParticipantException
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
