package model

import "time"

// RunStatus represents the current state of an extraction run.
type RunStatus string

const (
	RunStatusQueued      RunStatus = "queued"
	RunStatusExtracting  RunStatus = "extracting"
	RunStatusClassifying RunStatus = "classifying"
	RunStatusWriting     RunStatus = "writing"
	RunStatusComplete    RunStatus = "complete"
	RunStatusFailed      RunStatus = "failed"
	RunStatusCancelled   RunStatus = "cancelled"
)

// Terminal reports whether no further transitions are expected.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusComplete, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// RunInput describes what a run was asked to process.
type RunInput struct {
	Tag        string   `json:"tag"`
	Files      []string `json:"files"`
	RowLimits  []string `json:"row_limits,omitempty"`
	SchemaPath string   `json:"schema_path,omitempty"`
}

// Run represents a single extraction run over one or more URL lists.
type Run struct {
	ID        string      `json:"id"`
	Input     RunInput    `json:"input"`
	Status    RunStatus   `json:"status"`
	Summary   *RunSummary `json:"summary,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// RunSummary holds the final outcome of a run.
type RunSummary struct {
	URLsTotal     int             `json:"urls_total"`
	URLsProcessed int             `json:"urls_processed"`
	Outcomes      map[Outcome]int `json:"outcomes"`
	HandOffs      int             `json:"hand_offs"`
	RawPath       string          `json:"raw_path,omitempty"`
	CleanedPath   string          `json:"cleaned_path,omitempty"`
	CleanedRows   int             `json:"cleaned_rows"`
	TotalTokens   int64           `json:"total_tokens"`
	Cancelled     bool            `json:"cancelled,omitempty"`
	DurationMs    int64           `json:"duration_ms"`
	Error         string          `json:"error,omitempty"`
}
