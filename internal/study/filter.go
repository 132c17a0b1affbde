package study

import (
	"fmt"
	"strconv"

	"echoloc/domain/trial"
)

// Field names a participant attribute a Condition can be narrowed by
type Field int

const (
	FieldVersion Field = iota
	FieldModelName
	FieldSlowdown
	FieldCompensation
	FieldCompensationDescriptor
	FieldKeyset

	fieldCount
)

var fieldNames = [fieldCount]string{
	FieldVersion:                "version",
	FieldModelName:              "model_name",
	FieldSlowdown:               "slowdown",
	FieldCompensation:           "compensation",
	FieldCompensationDescriptor: "compensation_descriptor",
	FieldKeyset:                 "keyset",
}

func (f Field) String() string {
	if f < 0 || f >= fieldCount {
		return fmt.Sprintf("field(%d)", int(f))
	}
	return fieldNames[f]
}

// Filter is an exact-match predicate on one participant attribute
type Filter struct {
	field Field
	text  string
	num   int
}

func WithVersion(version string) Filter {
	return Filter{field: FieldVersion, text: version}
}

func WithModelName(model string) Filter {
	return Filter{field: FieldModelName, text: model}
}

func WithSlowdown(slowdown int) Filter {
	return Filter{field: FieldSlowdown, num: slowdown}
}

func WithCompensation(compensation int) Filter {
	return Filter{field: FieldCompensation, num: compensation}
}

// WithCompensationDescriptor matches "1", "half" or "full"
func WithCompensationDescriptor(descriptor string) Filter {
	return Filter{field: FieldCompensationDescriptor, text: descriptor}
}

func WithKeyset(keyset string) Filter {
	return Filter{field: FieldKeyset, text: keyset}
}

// Field returns the attribute the filter constrains
func (f Filter) Field() Field {
	return f.field
}

// Value renders the matched value
func (f Filter) Value() string {
	switch f.field {
	case FieldSlowdown, FieldCompensation:
		return strconv.Itoa(f.num)
	}
	return f.text
}

func (f Filter) String() string {
	return f.field.String() + "=" + f.Value()
}

// Matches reports whether p carries the filtered value
func (f Filter) Matches(p *trial.Participant) bool {
	switch f.field {
	case FieldVersion:
		return p.Version == f.text
	case FieldModelName:
		return p.ModelName == f.text
	case FieldSlowdown:
		return p.Slowdown == f.num
	case FieldCompensation:
		return p.Compensation == f.num
	case FieldCompensationDescriptor:
		return p.CompensationDescriptor == f.text
	case FieldKeyset:
		return p.Keyset == f.text
	}
	return false
}

// filterSet holds at most one filter per field
type filterSet struct {
	set     [fieldCount]bool
	filters [fieldCount]Filter
}

func (s *filterSet) put(f Filter) {
	s.set[f.field] = true
	s.filters[f.field] = f
}

func (s *filterSet) get(field Field) (Filter, bool) {
	if field < 0 || field >= fieldCount {
		return Filter{}, false
	}
	return s.filters[field], s.set[field]
}

// ordered lists the applied filters in field order
func (s *filterSet) ordered() []Filter {
	var out []Filter
	for field := Field(0); field < fieldCount; field++ {
		if s.set[field] {
			out = append(out, s.filters[field])
		}
	}
	return out
}

func (s *filterSet) matches(p *trial.Participant) bool {
	for field := Field(0); field < fieldCount; field++ {
		if s.set[field] && !s.filters[field].Matches(p) {
			return false
		}
	}
	return true
}
