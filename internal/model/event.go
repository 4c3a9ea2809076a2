package model

import (
	"strings"
	"time"
)

// Markers written into the leading field of records that did not extract cleanly.
const (
	ErrorMarker   = "ERROR"
	HandOffMarker = "BS to GPT: "
)

// Passthrough columns appended to every loaded row.
const (
	ColumnCity      = "City"
	ColumnSourceCSV = "Source CSV"
)

// URLRecord is one loaded input row: the canonical URL plus its provenance
// and passthrough columns. Extra is index-aligned with the loader's header
// and ends with the City and Source CSV values.
type URLRecord struct {
	URL        string   `json:"url"`
	SourceFile string   `json:"source_file"`
	Tag        string   `json:"tag"`
	Extra      []string `json:"extra,omitempty"`
}

// Outcome is the terminal result of processing a single URL.
type Outcome string

const (
	OutcomeExtracted      Outcome = "extracted"
	OutcomeParseFailure   Outcome = "parse_failure"
	OutcomePastDate       Outcome = "past_date"
	OutcomeAddressInvalid Outcome = "address_invalid"
	OutcomeNetworkFailure Outcome = "network_failure"
	OutcomeLLMFailure     Outcome = "llm_failure"
)

// Source records which extraction path produced a record.
type Source string

const (
	SourceNone Source = ""
	SourceSite Source = "site"
	SourceLLM  Source = "llm"
)

// EventRecord is the structured result for one URL. Fields follow the
// FieldSchema order; extra model output is kept at the tail.
type EventRecord struct {
	Fields    []string  `json:"fields"`
	SourceURL string    `json:"source_url"`
	Relevance string    `json:"relevance,omitempty"`
	Outcome   Outcome   `json:"outcome"`
	Source    Source    `json:"source,omitempty"`
	HandOff   bool      `json:"hand_off,omitempty"`
	Origin    URLRecord `json:"origin"`
}

// OK reports whether the record extracted successfully.
func (r *EventRecord) OK() bool { return r.Outcome == OutcomeExtracted }

// Primary returns the leading field, used as the relevance input.
func (r *EventRecord) Primary() string {
	if len(r.Fields) == 0 {
		return ""
	}
	return r.Fields[0]
}

// MarkError tags the leading field so the cleaning pass drops the row.
// Hand-off failures keep the hand-off marker instead.
func (r *EventRecord) MarkError() {
	first := r.Primary()
	if r.HandOff {
		first = HandOffMarker + first
	} else {
		first = ErrorMarker + " " + first
	}
	if len(r.Fields) == 0 {
		r.Fields = []string{first}
		return
	}
	r.Fields[0] = first
}

// IsErrorMarked reports whether a leading field carries a failure marker:
// the bare error marker, the marker followed by a space, or the hand-off
// marker. Names that merely start with the marker's letters are not marked.
func IsErrorMarked(first string) bool {
	return first == ErrorMarker ||
		strings.HasPrefix(first, ErrorMarker+" ") ||
		strings.HasPrefix(first, HandOffMarker)
}

// ErrorLogEntry is one line of the append-only error audit trail.
type ErrorLogEntry struct {
	Kind      string    `json:"kind"`
	Context   string    `json:"context"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"ts"`
}
