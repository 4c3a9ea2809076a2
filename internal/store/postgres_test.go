package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/event-extractor/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

var runColumns = []string{"id", "input", "status", "summary", "created_at", "updated_at"}

func TestPostgresStore_CreateRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(pgxmock.AnyArg(), "austin", pgxmock.AnyArg(), "queued", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.CreateRun(context.Background(), model.RunInput{Tag: "austin", Files: []string{"a_austin.csv"}})
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusQueued, run.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()
	input, _ := json.Marshal(model.RunInput{Tag: "nyc", Files: []string{"events_nyc.csv"}})

	mock.ExpectQuery(`SELECT id, input, status, summary, created_at, updated_at FROM runs WHERE id = \$1`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows(runColumns).AddRow("run-1", input, "extracting", nil, now, now))

	run, err := s.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "nyc", run.Input.Tag)
	assert.Equal(t, model.RunStatusExtracting, run.Status)
	assert.Nil(t, run.Summary)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, input, status, summary, created_at, updated_at FROM runs WHERE id = \$1`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "nonexistent-run")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateRunStatus_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET status`).
		WithArgs("failed", pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateRunStatus(context.Background(), "missing", model.RunStatusFailed)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FinishRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET summary = \$1, status = \$2`).
		WithArgs(pgxmock.AnyArg(), "complete", pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.FinishRun(context.Background(), "run-1", model.RunStatusComplete, &model.RunSummary{URLsTotal: 3})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns_Filters(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()
	input, _ := json.Marshal(model.RunInput{Tag: "denver"})

	mock.ExpectQuery(`SELECT .+ FROM runs WHERE true AND status = \$1 AND tag = \$2 ORDER BY created_at DESC LIMIT \$3 OFFSET \$4`).
		WithArgs("complete", "denver", 5, 10).
		WillReturnRows(pgxmock.NewRows(runColumns).
			AddRow("a", input, "complete", nil, now, now).
			AddRow("b", input, "complete", nil, now, now))

	runs, err := s.ListRuns(context.Background(), RunFilter{Status: model.RunStatusComplete, Tag: "denver", Limit: 5, Offset: 10})
	require.NoError(t, err)
	assert.Len(t, runs, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ErrorEntries(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO error_entries`).
		WithArgs("run-1", "past_date", "https://x.com/e", "event in the past", ts).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`SELECT kind, context, message, created_at FROM error_entries WHERE run_id = \$1`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"kind", "context", "message", "created_at"}).
			AddRow("past_date", "https://x.com/e", "event in the past", ts))

	entry := model.ErrorLogEntry{Kind: "past_date", Context: "https://x.com/e", Message: "event in the past", Timestamp: ts}
	require.NoError(t, s.AddErrorEntry(context.Background(), "run-1", entry))

	got, err := s.ListErrorEntries(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, []model.ErrorLogEntry{entry}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_EventURLs(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO event_urls .+ ON CONFLICT \(url\)`).
		WithArgs("https://x.com/1", "run-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`SELECT url FROM event_urls WHERE url = ANY\(\$1\)`).
		WithArgs([]string{"https://x.com/1", "https://x.com/2"}).
		WillReturnRows(pgxmock.NewRows([]string{"url"}).AddRow("https://x.com/1"))

	require.NoError(t, s.RecordEventURLs(context.Background(), "run-1", []string{"https://x.com/1"}))

	known, err := s.KnownEventURLs(context.Background(), []string{"https://x.com/1", "https://x.com/2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"https://x.com/1": true}, known)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS runs`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
