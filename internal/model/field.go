package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// FieldKind tells the validators how to treat an extracted field.
type FieldKind string

const (
	FieldKindText     FieldKind = "text"
	FieldKindDatetime FieldKind = "datetime"
	FieldKindAddress  FieldKind = "address"
)

// FieldSpec maps an output column name to its extraction-prompt fragment.
type FieldSpec struct {
	Name   string    `json:"name" yaml:"name"`
	Prompt string    `json:"prompt" yaml:"prompt"`
	Kind   FieldKind `json:"kind,omitempty" yaml:"kind,omitempty"`
}

// FieldSchema is the ordered set of fields the extractor must return. Order
// defines both the prompt and the output column order.
type FieldSchema struct {
	Fields []FieldSpec
}

// NewFieldSchema validates specs and builds a schema. Names must be unique and
// non-empty; at most one address field is allowed.
func NewFieldSchema(specs []FieldSpec) (*FieldSchema, error) {
	if len(specs) == 0 {
		return nil, eris.New("schema: no fields")
	}
	seen := make(map[string]bool, len(specs))
	addresses := 0
	out := make([]FieldSpec, len(specs))
	for i, s := range specs {
		s.Name = strings.TrimSpace(s.Name)
		s.Prompt = strings.TrimSpace(s.Prompt)
		if s.Name == "" {
			return nil, eris.Errorf("schema: field %d has no name", i)
		}
		if seen[s.Name] {
			return nil, eris.Errorf("schema: duplicate field %q", s.Name)
		}
		seen[s.Name] = true
		switch s.Kind {
		case "":
			s.Kind = FieldKindText
		case FieldKindText, FieldKindDatetime:
		case FieldKindAddress:
			addresses++
		default:
			return nil, eris.Errorf("schema: field %q has unknown kind %q", s.Name, s.Kind)
		}
		if s.Prompt == "" {
			s.Prompt = s.Name
		}
		out[i] = s
	}
	if addresses > 1 {
		return nil, eris.New("schema: more than one address field")
	}
	return &FieldSchema{Fields: out}, nil
}

// DefaultFieldSchema returns the event schema used when no schema file is given.
func DefaultFieldSchema() *FieldSchema {
	return &FieldSchema{Fields: []FieldSpec{
		{Name: "Event Name", Prompt: "The name of the event", Kind: FieldKindText},
		{Name: "Start", Prompt: "The start datetime of the event in the following format: Month Day, Year, Hour:Minute AM/PM", Kind: FieldKindDatetime},
		{Name: "End", Prompt: "The end datetime of the event in the following format: Month Day, Year, Hour:Minute AM/PM", Kind: FieldKindDatetime},
		{Name: "Location", Prompt: "The full address of the event", Kind: FieldKindAddress},
		{Name: "Description", Prompt: "A description of the event", Kind: FieldKindText},
		{Name: "Organizer", Prompt: "The organizer of the event", Kind: FieldKindText},
	}}
}

// Len is the number of fields the extractor must return.
func (s *FieldSchema) Len() int { return len(s.Fields) }

// Names returns the column names in order.
func (s *FieldSchema) Names() []string {
	out := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		out[i] = f.Name
	}
	return out
}

// Prompts returns the prompt fragments in order.
func (s *FieldSchema) Prompts() []string {
	out := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		out[i] = f.Prompt
	}
	return out
}

// DatetimeIndexes returns the positions of datetime fields.
func (s *FieldSchema) DatetimeIndexes() []int {
	var out []int
	for i, f := range s.Fields {
		if f.Kind == FieldKindDatetime {
			out = append(out, i)
		}
	}
	return out
}

// AddressIndex returns the position of the address field, or -1.
func (s *FieldSchema) AddressIndex() int {
	for i, f := range s.Fields {
		if f.Kind == FieldKindAddress {
			return i
		}
	}
	return -1
}
