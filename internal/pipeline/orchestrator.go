// Package pipeline runs URLs through fetch, site scraping or LLM
// extraction, and validation, then rates and writes the results.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/event-extractor/internal/errlog"
	"github.com/sells-group/event-extractor/internal/metrics"
	"github.com/sells-group/event-extractor/internal/model"
	"github.com/sells-group/event-extractor/internal/resilience"
	"github.com/sells-group/event-extractor/internal/scrape"
)

// Extractor turns page text into schema-ordered fields. On a field-count
// mismatch it returns the partial fields together with the error.
type Extractor interface {
	Extract(ctx context.Context, text string, schema *model.FieldSchema) ([]string, error)
}

// FieldValidator checks extracted fields, rewriting them in place on success.
type FieldValidator interface {
	Validate(fields []string, schema *model.FieldSchema) error
}

// Options sets the per-stage attempt counts and delays.
type Options struct {
	FetchAttempts   int
	FetchDelay      time.Duration
	ScrapeAttempts  int
	ExtractAttempts int
	LLMBackoff      time.Duration
}

// DefaultOptions returns 10 fetch attempts 5s apart, 3 scraper attempts and
// 10 extraction attempts with a 30s backoff on LLM transport errors.
func DefaultOptions() Options {
	return Options{
		FetchAttempts:   10,
		FetchDelay:      5 * time.Second,
		ScrapeAttempts:  3,
		ExtractAttempts: 10,
		LLMBackoff:      30 * time.Second,
	}
}

// Orchestrator drives each URL through its state machine. It is used by a
// single worker and holds no per-URL state between calls.
type Orchestrator struct {
	fetcher   scrape.Fetcher
	registry  *scrape.Registry
	extractor Extractor
	validator FieldValidator
	schema    *model.FieldSchema
	opts      Options
	errs      *errlog.Log
	metrics   *metrics.Metrics
}

// NewOrchestrator wires an Orchestrator. registry, errs and m may be nil.
func NewOrchestrator(
	fetcher scrape.Fetcher,
	registry *scrape.Registry,
	extractor Extractor,
	validator FieldValidator,
	schema *model.FieldSchema,
	opts Options,
	errs *errlog.Log,
	m *metrics.Metrics,
) *Orchestrator {
	return &Orchestrator{
		fetcher:   fetcher,
		registry:  registry,
		extractor: extractor,
		validator: validator,
		schema:    schema,
		opts:      opts,
		errs:      errs,
		metrics:   m,
	}
}

// Process handles one URL and always yields a record. Failures are logged,
// dumped and marked on the record; they never stop the caller.
func (o *Orchestrator) Process(ctx context.Context, rec model.URLRecord) model.EventRecord {
	out := model.EventRecord{SourceURL: rec.URL, Origin: rec}
	log := zap.L().With(zap.String("url", rec.URL))

	page, err := o.fetch(ctx, rec.URL)
	if err != nil {
		log.Warn("pipeline: fetch failed, skipping url", zap.Error(err))
		o.errs.Record(ctx, rec.URL, err)
		out.Fields = []string{model.ErrorMarker}
		out.Outcome = model.OutcomeNetworkFailure
		o.errs.DumpRow(out.Fields...)
		return out
	}

	if sc, ok := o.registry.Lookup(rec.URL); ok {
		fields, err := o.scrape(ctx, sc, rec.URL)
		if err == nil {
			out.Fields = fields
			out.Outcome = model.OutcomeExtracted
			out.Source = model.SourceSite
			return out
		}
		log.Warn("pipeline: site scraper failed, handing off to llm",
			zap.String("domain", sc.Domain()),
			zap.Error(err),
		)
		o.errs.Record(ctx, rec.URL, err)
		out.HandOff = true
	}

	fields, err := o.extract(ctx, rec.URL, page.Text)
	out.Fields = fields
	if out.HandOff {
		o.errs.DumpRow(model.HandOffMarker + out.Primary())
	}
	if err != nil {
		log.Warn("pipeline: extraction failed", zap.String("kind", string(resilience.KindOf(err))), zap.Error(err))
		o.errs.Record(ctx, rec.URL, err)
		out.Outcome = outcomeFor(err)
		out.MarkError()
		o.errs.DumpRow(append(append([]string{}, out.Fields...), rec.URL)...)
		return out
	}

	out.Outcome = model.OutcomeExtracted
	out.Source = model.SourceLLM
	return out
}

func (o *Orchestrator) fetch(ctx context.Context, url string) (*scrape.Page, error) {
	cfg := resilience.Fixed(o.opts.FetchAttempts, o.opts.FetchDelay)
	cfg.OnRetry = o.onRetry(ctx, "fetch", url)

	page, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (*scrape.Page, error) {
		p, err := o.fetcher.Fetch(ctx, url)
		if err != nil {
			return nil, resilience.Tag(resilience.KindNetwork, err)
		}
		return p, nil
	})
	if err != nil {
		o.metrics.Failure("fetch", resilience.KindOf(err))
		return nil, eris.Wrapf(err, "pipeline: fetch failed after %d attempts", o.opts.FetchAttempts)
	}
	if page.Block != scrape.BlockNone {
		zap.L().Debug("pipeline: page looks blocked", zap.String("url", url), zap.String("block", string(page.Block)))
	}
	return page, nil
}

func (o *Orchestrator) scrape(ctx context.Context, sc scrape.Capability, url string) ([]string, error) {
	cfg := resilience.Fixed(o.opts.ScrapeAttempts, 0)
	cfg.OnRetry = o.onRetry(ctx, "scrape", url)

	fields, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]string, error) {
		f, err := sc.Extract(ctx, url)
		if err != nil {
			return nil, resilience.Tag(resilience.KindSiteScrape, err)
		}
		return f, nil
	})
	if err != nil {
		o.metrics.Failure("scrape", resilience.KindOf(err))
		return nil, eris.Wrapf(err, "pipeline: site scraper failed after %d attempts", o.opts.ScrapeAttempts)
	}
	return fields, nil
}

// extract runs extraction and validation as one retried unit. On failure it
// returns the last partial fields seen.
func (o *Orchestrator) extract(ctx context.Context, url, text string) ([]string, error) {
	cfg := resilience.RetryConfig{
		MaxAttempts: o.opts.ExtractAttempts,
		Policies:    resilience.ExtractionPolicies(o.opts.LLMBackoff),
		OnRetry:     o.onRetry(ctx, "extract", url),
	}

	var partial []string
	fields, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]string, error) {
		f, err := o.extractor.Extract(ctx, text, o.schema)
		if f != nil {
			partial = f
		}
		if err != nil {
			return nil, err
		}
		if err := o.validator.Validate(f, o.schema); err != nil {
			return nil, err
		}
		return f, nil
	})
	if err != nil {
		o.metrics.Failure("extract", resilience.KindOf(err))
		return partial, err
	}
	return fields, nil
}

// onRetry logs and records every failed attempt that will be retried.
func (o *Orchestrator) onRetry(ctx context.Context, stage, url string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Info("pipeline: attempt failed, retrying",
			zap.String("stage", stage),
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.String("kind", string(resilience.KindOf(err))),
			zap.Error(err),
		)
		o.errs.Record(ctx, url, err)
		o.metrics.Failure(stage, resilience.KindOf(err))
	}
}

func outcomeFor(err error) model.Outcome {
	switch resilience.KindOf(err) {
	case resilience.KindPastDate:
		return model.OutcomePastDate
	case resilience.KindAddress:
		return model.OutcomeAddressInvalid
	case resilience.KindLLMTransport:
		return model.OutcomeLLMFailure
	case resilience.KindNetwork:
		return model.OutcomeNetworkFailure
	default:
		return model.OutcomeParseFailure
	}
}

// Progress reports one finished URL.
type Progress struct {
	Done    int
	Total   int
	Elapsed time.Duration
	ETA     time.Duration
	Outcome model.Outcome
}

// ProcessAll processes records strictly in order. Cancellation of ctx is
// observed only between URLs: the URL in flight runs to completion and
// records already produced are returned with cancelled set.
func (o *Orchestrator) ProcessAll(ctx context.Context, recs []model.URLRecord, onProgress func(Progress)) (out []model.EventRecord, cancelled bool) {
	work := context.WithoutCancel(ctx)
	start := time.Now()
	total := len(recs)

	for i, rec := range recs {
		if ctx.Err() != nil {
			zap.L().Info("pipeline: cancelled, stopping before next url",
				zap.Int("processed", i),
				zap.Int("total", total),
			)
			return out, true
		}

		urlStart := time.Now()
		r := o.Process(work, rec)
		out = append(out, r)
		o.metrics.ObserveURL(r.Outcome, time.Since(urlStart))

		done := i + 1
		elapsed := time.Since(start)
		eta := elapsed / time.Duration(done) * time.Duration(total-done)
		o.metrics.Progress(done, total, eta)
		zap.L().Info("pipeline: url done",
			zap.Int("n", done),
			zap.Int("total", total),
			zap.String("outcome", string(r.Outcome)),
			zap.Duration("elapsed", elapsed.Round(time.Second)),
			zap.Duration("eta", eta.Round(time.Second)),
		)
		if onProgress != nil {
			onProgress(Progress{Done: done, Total: total, Elapsed: elapsed, ETA: eta, Outcome: r.Outcome})
		}
	}
	return out, false
}
