// Package store persists run history, error entries and extracted event URLs.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/event-extractor/internal/model"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = eris.New("not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Tag    string          `json:"tag,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for extraction runs.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, input model.RunInput) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	FinishRun(ctx context.Context, runID string, status model.RunStatus, summary *model.RunSummary) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Error side-channel
	AddErrorEntry(ctx context.Context, runID string, e model.ErrorLogEntry) error
	ListErrorEntries(ctx context.Context, runID string) ([]model.ErrorLogEntry, error)

	// Extracted event URLs
	RecordEventURLs(ctx context.Context, runID string, urls []string) error
	KnownEventURLs(ctx context.Context, urls []string) (map[string]bool, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// knownChunk bounds the number of URLs per lookup query.
const knownChunk = 500

func chunks(urls []string, size int) [][]string {
	var out [][]string
	for start := 0; start < len(urls); start += size {
		out = append(out, urls[start:min(start+size, len(urls))])
	}
	return out
}
