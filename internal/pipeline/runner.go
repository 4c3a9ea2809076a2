package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/event-extractor/internal/config"
	"github.com/sells-group/event-extractor/internal/errlog"
	"github.com/sells-group/event-extractor/internal/extract"
	"github.com/sells-group/event-extractor/internal/metrics"
	"github.com/sells-group/event-extractor/internal/model"
	"github.com/sells-group/event-extractor/internal/output"
	"github.com/sells-group/event-extractor/internal/relevance"
	"github.com/sells-group/event-extractor/internal/resilience"
	"github.com/sells-group/event-extractor/internal/scrape"
	"github.com/sells-group/event-extractor/internal/source"
	"github.com/sells-group/event-extractor/internal/store"
	"github.com/sells-group/event-extractor/internal/validate"
	"github.com/sells-group/event-extractor/pkg/anthropic"
)

// Runner executes whole runs: load, extract, rate, write.
type Runner struct {
	cfg      *config.Config
	store    store.Store
	fetcher  scrape.Fetcher
	registry *scrape.Registry
	client   anthropic.Client
	terms    []string
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewRunner creates a Runner with all dependencies. registry and m may be nil.
func NewRunner(
	cfg *config.Config,
	st store.Store,
	fetcher scrape.Fetcher,
	registry *scrape.Registry,
	client anthropic.Client,
	terms []string,
	m *metrics.Metrics,
) *Runner {
	return &Runner{
		cfg:      cfg,
		store:    st,
		fetcher:  fetcher,
		registry: registry,
		client:   client,
		terms:    terms,
		metrics:  m,
		now:      time.Now,
	}
}

// Create records a queued run.
func (r *Runner) Create(ctx context.Context, input model.RunInput) (*model.Run, error) {
	if len(input.Files) == 0 {
		return nil, eris.New("pipeline: no input files")
	}
	if input.Tag == "" {
		input.Tag = source.RegionTag(input.Files[0])
	}
	run, err := r.store.CreateRun(ctx, input)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}
	return run, nil
}

// Execute runs a created run to a terminal status and stores its summary.
// Cancelling ctx stops extraction at the next URL boundary; the records
// already extracted are still rated and written and the run ends cancelled.
// Relevance batch exhaustion fails the run without writing output.
func (r *Runner) Execute(ctx context.Context, run *model.Run) (*model.RunSummary, error) {
	start := r.now()
	log := zap.L().With(zap.String("run_id", run.ID), zap.String("tag", run.Input.Tag))
	log.Info("pipeline: starting run", zap.Strings("files", run.Input.Files))

	summary := &model.RunSummary{Outcomes: make(map[model.Outcome]int)}
	cancelled, err := r.execute(ctx, run, summary, log)

	status := model.RunStatusComplete
	switch {
	case err != nil:
		status = model.RunStatusFailed
		summary.Error = err.Error()
	case cancelled:
		status = model.RunStatusCancelled
		summary.Cancelled = true
	}
	summary.DurationMs = r.now().Sub(start).Milliseconds()

	if ferr := r.store.FinishRun(context.WithoutCancel(ctx), run.ID, status, summary); ferr != nil {
		log.Warn("pipeline: failed to store run summary", zap.Error(ferr))
	}
	r.metrics.RunFinished(status)
	log.Info("pipeline: run finished",
		zap.String("status", string(status)),
		zap.Int("urls", summary.URLsProcessed),
		zap.Int("cleaned_rows", summary.CleanedRows),
		zap.Int64("tokens", summary.TotalTokens),
		zap.Int64("duration_ms", summary.DurationMs),
	)
	return summary, err
}

func (r *Runner) execute(ctx context.Context, run *model.Run, summary *model.RunSummary, log *zap.Logger) (bool, error) {
	setStatus := func(status model.RunStatus) {
		if err := r.store.UpdateRunStatus(context.WithoutCancel(ctx), run.ID, status); err != nil {
			log.Warn("pipeline: failed to update status", zap.Error(err))
		}
	}

	schemaPath := run.Input.SchemaPath
	if schemaPath == "" {
		schemaPath = r.cfg.Source.SchemaPath
	}
	schema, err := source.LoadSchema(schemaPath)
	if err != nil {
		return false, err
	}
	limits, err := source.ParseRowLimits(run.Input.RowLimits, len(run.Input.Files))
	if err != nil {
		return false, err
	}
	loc, err := r.cfg.Validation.Location()
	if err != nil {
		return false, err
	}

	name := output.FileName(run.Input.Tag, r.now())
	rawPath := filepath.Join(r.cfg.Output.Dir, name)
	errs, err := errlog.Open(r.cfg.Output.ErrorsDir, name, run.ID, r.store)
	if err != nil {
		return false, err
	}
	defer func() {
		if cerr := errs.Close(); cerr != nil {
			log.Warn("pipeline: close error log", zap.Error(cerr))
		}
	}()

	var known source.KnownURLs
	if r.cfg.Source.SkipKnown {
		known = r.store
	}
	loaded, err := source.NewLoader(known).Load(ctx, run.Input.Files, limits)
	if err != nil {
		return false, err
	}
	for _, s := range loaded.Skipped {
		errs.Record(ctx, s.Path, s.Err)
	}
	summary.URLsTotal = len(loaded.Records)

	usage := func(stage string) func(anthropic.TokenUsage) {
		return func(u anthropic.TokenUsage) {
			summary.TotalTokens += u.Total()
			r.metrics.Tokens(stage, u.Total())
		}
	}

	sites, skippedSites := r.registry.ForFields(schema.Names())
	for _, domain := range skippedSites {
		log.Info("pipeline: scraper disabled for this schema", zap.String("domain", domain))
	}

	// Extraction
	setStatus(model.RunStatusExtracting)
	orch := NewOrchestrator(
		r.fetcher,
		sites,
		extract.New(r.client, extract.Options{
			Model:        r.cfg.Anthropic.Model,
			MaxTokens:    int64(r.cfg.Anthropic.MaxTokens),
			MaxPageChars: r.cfg.Anthropic.MaxPageChars,
		}, usage("extract")),
		validate.New(validate.NewDateValidator(loc)),
		schema,
		r.orchestratorOptions(),
		errs,
		r.metrics,
	)
	records, cancelled := orch.ProcessAll(ctx, loaded.Records, nil)
	summary.URLsProcessed = len(records)
	for _, rec := range records {
		summary.Outcomes[rec.Outcome]++
		if rec.HandOff {
			summary.HandOffs++
		}
	}

	// Later stages finish even if the run was cancelled during extraction.
	ctx = context.WithoutCancel(ctx)

	// Relevance
	setStatus(model.RunStatusClassifying)
	inputs := make([]string, len(records))
	for i := range records {
		inputs[i] = records[i].Primary()
	}
	relOpts := relevance.Options{
		Model:     r.cfg.Anthropic.Model,
		MaxTokens: int64(r.cfg.Anthropic.MaxTokens),
		BatchSize: r.cfg.Relevance.BatchSize,
		Attempts:  r.cfg.Relevance.Attempts,
		Delay:     time.Duration(r.cfg.Relevance.DelaySecs) * time.Second,
	}
	classifier := relevance.New(r.client, r.terms, relOpts, usage("relevance"), func(batch int, err error) {
		errs.Record(ctx, fmt.Sprintf("relevance batch %d", batch+1), err)
		r.metrics.Failure("relevance", resilience.KindOf(err))
	})
	ratings, err := classifier.Classify(ctx, inputs)
	if err != nil {
		r.metrics.Batch("failed")
		return cancelled, eris.Wrap(err, "pipeline: relevance pass aborted, no output written")
	}
	for i := range records {
		records[i].Relevance = ratings[i]
	}

	// Output
	setStatus(model.RunStatusWriting)
	table := output.Assemble(schema, records, loaded.Header)
	rated := r.cfg.Output.RatedSources
	if len(rated) == 0 {
		rated = r.registry.Domains()
	}
	output.ApplyRatedSources(table, rated)
	if err := output.WriteCSV(rawPath, table); err != nil {
		return cancelled, err
	}
	summary.RawPath = rawPath

	cleaned := output.Clean(table, r.cfg.Output.MinRelevance)
	cleanedPath := output.CleanedPath(rawPath)
	if err := output.WriteCSV(cleanedPath, cleaned); err != nil {
		return cancelled, err
	}
	summary.CleanedPath = cleanedPath
	summary.CleanedRows = len(cleaned.Rows)
	log.Info("pipeline: wrote output", zap.String("raw", rawPath), zap.String("cleaned", cleanedPath))

	var extracted []string
	for _, rec := range records {
		if rec.OK() {
			extracted = append(extracted, rec.SourceURL)
		}
	}
	if err := r.store.RecordEventURLs(ctx, run.ID, extracted); err != nil {
		log.Warn("pipeline: failed to record extracted urls", zap.Error(err))
	}
	return cancelled, nil
}

func (r *Runner) orchestratorOptions() Options {
	p := r.cfg.Pipeline
	return Options{
		FetchAttempts:   p.FetchAttempts,
		FetchDelay:      time.Duration(p.FetchDelaySecs) * time.Second,
		ScrapeAttempts:  p.ScrapeAttempts,
		ExtractAttempts: p.ExtractAttempts,
		LLMBackoff:      time.Duration(p.LLMBackoffSecs) * time.Second,
	}
}
