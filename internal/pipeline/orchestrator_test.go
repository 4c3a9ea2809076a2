package pipeline

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/event-extractor/internal/errlog"
	"github.com/sells-group/event-extractor/internal/model"
	"github.com/sells-group/event-extractor/internal/resilience"
	"github.com/sells-group/event-extractor/internal/scrape"
)

type fakeFetcher struct {
	calls atomic.Int32
	fn    func(url string) (*scrape.Page, error)
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (*scrape.Page, error) {
	f.calls.Add(1)
	if f.fn != nil {
		return f.fn(url)
	}
	return &scrape.Page{URL: url, StatusCode: 200, Text: "Jazz Night at the park"}, nil
}

type fakeCapability struct {
	domain string
	calls  int
	fields []string
	err    error
}

func (c *fakeCapability) Domain() string { return c.domain }

func (c *fakeCapability) Extract(context.Context, string) ([]string, error) {
	c.calls++
	return c.fields, c.err
}

type mockExtractor struct {
	mock.Mock
}

func (m *mockExtractor) Extract(ctx context.Context, text string, schema *model.FieldSchema) ([]string, error) {
	args := m.Called(ctx, text, schema)
	var fields []string
	if v := args.Get(0); v != nil {
		fields = append([]string{}, v.([]string)...)
	}
	return fields, args.Error(1)
}

type validatorFunc func(fields []string, schema *model.FieldSchema) error

func (f validatorFunc) Validate(fields []string, schema *model.FieldSchema) error {
	return f(fields, schema)
}

func acceptAll(_ []string, _ *model.FieldSchema) error { return nil }

var goodFields = []string{"Jazz Night", "May 01, 2099, 07:00 PM", "May 01, 2099, 10:00 PM", "1 Main St Austin TX 78701", "Live jazz", "Jazz Club"}

func testOptions() Options {
	return Options{FetchAttempts: 10, ScrapeAttempts: 3, ExtractAttempts: 10}
}

func newErrlog(t *testing.T) (*errlog.Log, string) {
	t.Helper()
	dir := t.TempDir()
	l, err := errlog.Open(dir, "test.csv", "run-1", nil)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() }) //nolint:errcheck
	_, rowPath := errlog.Paths(dir, "test.csv")
	return l, rowPath
}

func dumpedRows(t *testing.T, l *errlog.Log, path string) []string {
	t.Helper()
	require.NoError(t, l.Close())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	s := strings.TrimRight(string(data), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func urlRecord(u string) model.URLRecord {
	return model.URLRecord{URL: u, Tag: "austin", SourceFile: "events_austin.csv"}
}

func TestProcess_FetchExhausted(t *testing.T) {
	fetcher := &fakeFetcher{fn: func(string) (*scrape.Page, error) {
		return nil, errors.New("connection refused")
	}}
	ext := new(mockExtractor)
	errs, rowPath := newErrlog(t)

	o := NewOrchestrator(fetcher, nil, ext, validatorFunc(acceptAll), model.DefaultFieldSchema(), testOptions(), errs, nil)
	rec := o.Process(context.Background(), urlRecord("https://x.com/e/1"))

	assert.Equal(t, model.OutcomeNetworkFailure, rec.Outcome)
	assert.Equal(t, []string{"ERROR"}, rec.Fields)
	assert.Equal(t, "https://x.com/e/1", rec.SourceURL)
	assert.Equal(t, int32(10), fetcher.calls.Load())
	assert.Equal(t, 10, errs.Counts()[resilience.KindNetwork])
	ext.AssertNotCalled(t, "Extract", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, []string{"ERROR"}, dumpedRows(t, errs, rowPath))
}

func TestProcess_SiteScraperSuccess(t *testing.T) {
	capability := &fakeCapability{domain: "eventbrite", fields: goodFields}
	reg, err := scrape.NewRegistry(capability)
	require.NoError(t, err)
	ext := new(mockExtractor)

	o := NewOrchestrator(&fakeFetcher{}, reg, ext, validatorFunc(acceptAll), model.DefaultFieldSchema(), testOptions(), nil, nil)
	rec := o.Process(context.Background(), urlRecord("https://www.eventbrite.com/e/1"))

	assert.True(t, rec.OK())
	assert.Equal(t, model.SourceSite, rec.Source)
	assert.False(t, rec.HandOff)
	assert.Equal(t, goodFields, rec.Fields)
	assert.Equal(t, 1, capability.calls)
	ext.AssertNotCalled(t, "Extract", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcess_ScraperFailureHandsOffToLLM(t *testing.T) {
	capability := &fakeCapability{domain: "eventbrite", err: errors.New("missing h1")}
	reg, err := scrape.NewRegistry(capability)
	require.NoError(t, err)
	ext := new(mockExtractor)
	ext.On("Extract", mock.Anything, "Jazz Night at the park", mock.Anything).Return(goodFields, nil).Once()
	errs, rowPath := newErrlog(t)

	o := NewOrchestrator(&fakeFetcher{}, reg, ext, validatorFunc(acceptAll), model.DefaultFieldSchema(), testOptions(), errs, nil)
	rec := o.Process(context.Background(), urlRecord("https://www.eventbrite.com/e/1"))

	assert.True(t, rec.OK())
	assert.True(t, rec.HandOff)
	assert.Equal(t, model.SourceLLM, rec.Source)
	assert.Equal(t, 3, capability.calls)
	assert.Equal(t, 3, errs.Counts()[resilience.KindSiteScrape])
	assert.Equal(t, []string{"BS to GPT: Jazz Night"}, dumpedRows(t, errs, rowPath))
	ext.AssertExpectations(t)
}

func TestProcess_HandOffAndExtractionFailure(t *testing.T) {
	capability := &fakeCapability{domain: "eventbrite", err: errors.New("layout changed")}
	reg, err := scrape.NewRegistry(capability)
	require.NoError(t, err)
	ext := new(mockExtractor)
	ext.On("Extract", mock.Anything, mock.Anything, mock.Anything).Return([]string{"Expo", "x"},
		resilience.Tag(resilience.KindFieldCount, errors.New("got 2 fields, want 6")))

	o := NewOrchestrator(&fakeFetcher{}, reg, ext, validatorFunc(acceptAll), model.DefaultFieldSchema(), testOptions(), nil, nil)
	rec := o.Process(context.Background(), urlRecord("https://www.eventbrite.com/e/1"))

	assert.Equal(t, model.OutcomeParseFailure, rec.Outcome)
	assert.Equal(t, "BS to GPT: Expo", rec.Fields[0])
	assert.True(t, model.IsErrorMarked(rec.Primary()))
}

func TestProcess_PastDateAbortsImmediately(t *testing.T) {
	ext := new(mockExtractor)
	ext.On("Extract", mock.Anything, mock.Anything, mock.Anything).Return(goodFields, nil)
	past := validatorFunc(func([]string, *model.FieldSchema) error {
		return resilience.Tag(resilience.KindPastDate, errors.New("event starts in the past"))
	})
	errs, rowPath := newErrlog(t)

	o := NewOrchestrator(&fakeFetcher{}, nil, ext, past, model.DefaultFieldSchema(), testOptions(), errs, nil)
	rec := o.Process(context.Background(), urlRecord("https://x.com/e/1"))

	assert.Equal(t, model.OutcomePastDate, rec.Outcome)
	assert.Equal(t, "ERROR Jazz Night", rec.Fields[0])
	ext.AssertNumberOfCalls(t, "Extract", 1)

	rows := dumpedRows(t, errs, rowPath)
	require.Len(t, rows, 1)
	assert.True(t, strings.HasPrefix(rows[0], "ERROR Jazz Night,"))
	assert.True(t, strings.HasSuffix(rows[0], ",https://x.com/e/1"))
}

func TestProcess_FieldCountExhaustsAttempts(t *testing.T) {
	ext := new(mockExtractor)
	ext.On("Extract", mock.Anything, mock.Anything, mock.Anything).Return([]string{"Only", "three", "fields"},
		resilience.Tag(resilience.KindFieldCount, errors.New("got 3 fields, want 6")))

	o := NewOrchestrator(&fakeFetcher{}, nil, ext, validatorFunc(acceptAll), model.DefaultFieldSchema(), testOptions(), nil, nil)
	rec := o.Process(context.Background(), urlRecord("https://x.com/e/1"))

	assert.Equal(t, model.OutcomeParseFailure, rec.Outcome)
	assert.Equal(t, []string{"ERROR Only", "three", "fields"}, rec.Fields)
	ext.AssertNumberOfCalls(t, "Extract", 10)
}

func TestProcess_EmptyPartialMarksBareError(t *testing.T) {
	ext := new(mockExtractor)
	ext.On("Extract", mock.Anything, mock.Anything, mock.Anything).Return(nil,
		resilience.Tag(resilience.KindLLMTransport, errors.New("overloaded")))

	opts := testOptions()
	opts.ExtractAttempts = 2
	o := NewOrchestrator(&fakeFetcher{}, nil, ext, validatorFunc(acceptAll), model.DefaultFieldSchema(), opts, nil, nil)
	rec := o.Process(context.Background(), urlRecord("https://x.com/e/1"))

	assert.Equal(t, model.OutcomeLLMFailure, rec.Outcome)
	assert.Equal(t, []string{"ERROR "}, rec.Fields)
	ext.AssertNumberOfCalls(t, "Extract", 2)
}

func TestProcess_ValidationFailureReentersExtraction(t *testing.T) {
	ext := new(mockExtractor)
	ext.On("Extract", mock.Anything, mock.Anything, mock.Anything).Return(goodFields, nil)
	calls := 0
	flaky := validatorFunc(func([]string, *model.FieldSchema) error {
		calls++
		if calls == 1 {
			return resilience.Tag(resilience.KindAddress, errors.New("address too short"))
		}
		return nil
	})

	o := NewOrchestrator(&fakeFetcher{}, nil, ext, flaky, model.DefaultFieldSchema(), testOptions(), nil, nil)
	rec := o.Process(context.Background(), urlRecord("https://x.com/e/1"))

	assert.True(t, rec.OK())
	assert.Equal(t, model.SourceLLM, rec.Source)
	ext.AssertNumberOfCalls(t, "Extract", 2)
}

func TestProcessAll_KeepsOrderAndReportsProgress(t *testing.T) {
	ext := new(mockExtractor)
	ext.On("Extract", mock.Anything, mock.Anything, mock.Anything).Return(goodFields, nil)
	o := NewOrchestrator(&fakeFetcher{}, nil, ext, validatorFunc(acceptAll), model.DefaultFieldSchema(), testOptions(), nil, nil)

	recs := []model.URLRecord{urlRecord("https://x.com/1"), urlRecord("https://x.com/2"), urlRecord("https://x.com/3")}
	var progress []Progress
	out, cancelled := o.ProcessAll(context.Background(), recs, func(p Progress) { progress = append(progress, p) })

	assert.False(t, cancelled)
	require.Len(t, out, 3)
	for i, r := range out {
		assert.Equal(t, recs[i].URL, r.SourceURL)
		assert.Equal(t, recs[i], r.Origin)
	}
	require.Len(t, progress, 3)
	assert.Equal(t, 3, progress[2].Done)
	assert.Equal(t, 3, progress[2].Total)
	assert.Zero(t, progress[2].ETA)
}

func TestProcessAll_CancelStopsAtURLBoundary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ext := new(mockExtractor)
	ext.On("Extract", mock.Anything, mock.Anything, mock.Anything).Return(goodFields, nil)
	o := NewOrchestrator(&fakeFetcher{}, nil, ext, validatorFunc(acceptAll), model.DefaultFieldSchema(), testOptions(), nil, nil)

	recs := []model.URLRecord{urlRecord("https://x.com/1"), urlRecord("https://x.com/2"), urlRecord("https://x.com/3")}
	out, cancelled := o.ProcessAll(ctx, recs, func(p Progress) {
		if p.Done == 1 {
			cancel()
		}
	})

	assert.True(t, cancelled)
	require.Len(t, out, 1)
	assert.True(t, out[0].OK())
	ext.AssertNumberOfCalls(t, "Extract", 1)
}

func TestProcessAll_InFlightURLIgnoresCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fetcher := &fakeFetcher{}
	fetcher.fn = func(url string) (*scrape.Page, error) {
		cancel()
		return &scrape.Page{URL: url, Text: "page"}, nil
	}
	ext := new(mockExtractor)
	ext.On("Extract", mock.MatchedBy(func(c context.Context) bool { return c.Err() == nil }), mock.Anything, mock.Anything).
		Return(goodFields, nil)
	o := NewOrchestrator(fetcher, nil, ext, validatorFunc(acceptAll), model.DefaultFieldSchema(), testOptions(), nil, nil)

	out, cancelled := o.ProcessAll(ctx, []model.URLRecord{urlRecord("https://x.com/1"), urlRecord("https://x.com/2")}, nil)
	assert.True(t, cancelled)
	require.Len(t, out, 1)
	assert.True(t, out[0].OK())
}

func TestOutcomeFor(t *testing.T) {
	assert.Equal(t, model.OutcomePastDate, outcomeFor(resilience.Tag(resilience.KindPastDate, errors.New("x"))))
	assert.Equal(t, model.OutcomeAddressInvalid, outcomeFor(resilience.Tag(resilience.KindAddress, errors.New("x"))))
	assert.Equal(t, model.OutcomeLLMFailure, outcomeFor(resilience.Tag(resilience.KindLLMTransport, errors.New("x"))))
	assert.Equal(t, model.OutcomeParseFailure, outcomeFor(resilience.Tag(resilience.KindDateParse, errors.New("x"))))
	assert.Equal(t, model.OutcomeParseFailure, outcomeFor(errors.New("x")))
}

func TestDefaultOptions(t *testing.T) {
	o := DefaultOptions()
	assert.Equal(t, 10, o.FetchAttempts)
	assert.Equal(t, 3, o.ScrapeAttempts)
	assert.Equal(t, 10, o.ExtractAttempts)
}
