package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/event-extractor/internal/config"
	"github.com/sells-group/event-extractor/internal/metrics"
	"github.com/sells-group/event-extractor/internal/pipeline"
	"github.com/sells-group/event-extractor/internal/relevance"
	"github.com/sells-group/event-extractor/internal/resilience"
	"github.com/sells-group/event-extractor/internal/scrape"
	"github.com/sells-group/event-extractor/internal/store"
	anthropicpkg "github.com/sells-group/event-extractor/pkg/anthropic"
)

// runEnv holds the store, metrics registry and runner needed by the run and
// serve commands.
type runEnv struct {
	Store    store.Store
	Runner   *pipeline.Runner
	Registry *prometheus.Registry
}

// Close releases resources held by the environment.
func (e *runEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the configured store. Callers run Migrate.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "events.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		retry := resilience.DefaultRetryConfig()
		retry.OnRetry = resilience.RetryLogger("postgres", "connect")
		return resilience.DoVal(ctx, retry, func(ctx context.Context) (store.Store, error) {
			st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
				MaxConns: cfg.Store.MaxConns,
				MinConns: cfg.Store.MinConns,
			})
			if err != nil {
				return nil, err
			}
			return st, nil
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// loadTerms returns the relevance terms: the terms file if set, then the
// configured list, then the built-in defaults.
func loadTerms(rc config.RelevanceConfig) ([]string, error) {
	if rc.TermsFile != "" {
		terms, err := relevance.LoadTerms(rc.TermsFile)
		if err != nil {
			return nil, err
		}
		return terms, nil
	}
	if len(rc.Terms) > 0 {
		return rc.Terms, nil
	}
	return config.DefaultRelevanceTerms, nil
}

// initRunEnv validates config for mode, opens and migrates the store and
// builds the runner. Callers should defer env.Close().
func initRunEnv(ctx context.Context, mode string) (*runEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	terms, err := loadTerms(cfg.Relevance)
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	fetcher := scrape.NewHTTPFetcher(scrape.FetchOptions{
		UserAgent:    cfg.Fetch.UserAgent,
		Timeout:      cfg.Fetch.Timeout(),
		TextMode:     cfg.Fetch.TextMode,
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
	})
	sites, err := scrape.NewRegistry(scrape.NewEventbrite(fetcher))
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	client := anthropicpkg.NewRateLimited(
		anthropicpkg.NewClient(cfg.Anthropic.APIKey()),
		cfg.Anthropic.RequestsPerMinute,
	)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	zap.L().Info("run environment ready",
		zap.String("store", cfg.Store.Driver),
		zap.Strings("site_scrapers", sites.Domains()),
		zap.Int("relevance_terms", len(terms)),
	)

	return &runEnv{
		Store:    st,
		Runner:   pipeline.NewRunner(cfg, st, fetcher, sites, client, terms, m),
		Registry: reg,
	}, nil
}
