package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/event-extractor/internal/model"
	"github.com/sells-group/event-extractor/internal/store"
)

// blockingRunner records runs in the store and keeps them running until
// their context is cancelled or release is closed.
type blockingRunner struct {
	store   store.Store
	started chan string
	release chan struct{}
}

func (b *blockingRunner) Create(ctx context.Context, input model.RunInput) (*model.Run, error) {
	return b.store.CreateRun(ctx, input)
}

func (b *blockingRunner) Execute(ctx context.Context, run *model.Run) (*model.RunSummary, error) {
	b.started <- run.ID
	summary := &model.RunSummary{}
	status := model.RunStatusComplete
	select {
	case <-ctx.Done():
		status = model.RunStatusCancelled
		summary.Cancelled = true
	case <-b.release:
	}
	return summary, b.store.FinishRun(context.WithoutCancel(ctx), run.ID, status, summary)
}

func newTestServer(t *testing.T) (*server, *blockingRunner, http.Handler) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "serve.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	runner := &blockingRunner{store: st, started: make(chan string, 4), release: make(chan struct{})}
	s := newServer(context.Background(), st, runner, prometheus.NewRegistry())
	t.Cleanup(s.wait)
	return s, runner, s.routes()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func waitForStatus(t *testing.T, st store.Store, id string, want model.RunStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		run, err := st.GetRun(context.Background(), id)
		return err == nil && run.Status == want
	}, 5*time.Second, 10*time.Millisecond)
}

func TestHealthEndpoint(t *testing.T) {
	_, _, h := newTestServer(t)

	rr := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestCreateRun_Validation(t *testing.T) {
	_, _, h := newTestServer(t)

	rr := do(t, h, http.MethodPost, "/runs", "not json")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodPost, "/runs", `{"tag":"austin"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "files is required")
}

func TestCreateRun_RunsInBackground(t *testing.T) {
	s, runner, h := newTestServer(t)

	rr := do(t, h, http.MethodPost, "/runs", `{"tag":"austin","files":["events_austin.csv"]}`)
	require.Equal(t, http.StatusAccepted, rr.Code)

	var run model.Run
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &run))
	assert.Equal(t, "austin", run.Input.Tag)
	assert.Equal(t, run.ID, <-runner.started)

	rr = do(t, h, http.MethodGet, "/runs/"+run.ID, "")
	require.Equal(t, http.StatusOK, rr.Code)

	close(runner.release)
	waitForStatus(t, s.store, run.ID, model.RunStatusComplete)
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		_, active := s.active[run.ID]
		return !active
	}, 5*time.Second, 10*time.Millisecond)

	rr = do(t, h, http.MethodDelete, "/runs/"+run.ID, "")
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, rr.Body.String(), "complete")
}

func TestCancelRun(t *testing.T) {
	s, runner, h := newTestServer(t)

	rr := do(t, h, http.MethodPost, "/runs", `{"files":["events_denver.csv"]}`)
	require.Equal(t, http.StatusAccepted, rr.Code)
	id := <-runner.started

	rr = do(t, h, http.MethodDelete, "/runs/"+id, "")
	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Contains(t, rr.Body.String(), "cancelling")

	waitForStatus(t, s.store, id, model.RunStatusCancelled)
}

func TestGetRun_NotFound(t *testing.T) {
	_, _, h := newTestServer(t)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/runs/missing", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodDelete, "/runs/missing", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/runs/missing/errors", "").Code)
}

func TestListRuns(t *testing.T) {
	s, _, h := newTestServer(t)
	ctx := context.Background()
	for _, tag := range []string{"austin", "denver"} {
		_, err := s.store.CreateRun(ctx, model.RunInput{Tag: tag, Files: []string{tag + ".csv"}})
		require.NoError(t, err)
	}

	rr := do(t, h, http.MethodGet, "/runs?tag=denver", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var runs []model.Run
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "denver", runs[0].Input.Tag)

	rr = do(t, h, http.MethodGet, "/runs?status=failed", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rr.Body.String()))

	rr = do(t, h, http.MethodGet, "/runs?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRunErrors(t *testing.T) {
	s, _, h := newTestServer(t)
	ctx := context.Background()
	run, err := s.store.CreateRun(ctx, model.RunInput{Tag: "austin", Files: []string{"a.csv"}})
	require.NoError(t, err)
	require.NoError(t, s.store.AddErrorEntry(ctx, run.ID, model.ErrorLogEntry{
		Kind: "network_failure", Context: "https://a.com/e/1", Message: "timeout", Timestamp: time.Now().UTC(),
	}))

	rr := do(t, h, http.MethodGet, "/runs/"+run.ID+"/errors", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var entries []model.ErrorLogEntry
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "network_failure", entries[0].Kind)
}

func TestMetricsEndpoint(t *testing.T) {
	_, _, h := newTestServer(t)

	rr := do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestCORSPreflight(t *testing.T) {
	_, _, h := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/runs", nil)
	req.Header.Set("Origin", "https://dashboard.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}
