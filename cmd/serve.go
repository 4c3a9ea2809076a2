package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/event-extractor/internal/model"
	"github.com/sells-group/event-extractor/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for submitting and tracking runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initRunEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		srvState := newServer(ctx, env.Store, env.Runner, env.Registry)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           srvState.routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown: in-flight runs stop at their next URL and still
		// write output before the process exits.
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		srvState.wait()
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// runExecutor creates and executes runs. *pipeline.Runner implements it.
type runExecutor interface {
	Create(ctx context.Context, input model.RunInput) (*model.Run, error)
	Execute(ctx context.Context, run *model.Run) (*model.RunSummary, error)
}

// server tracks runs started over HTTP so they can be cancelled.
type server struct {
	store    store.Store
	runner   runExecutor
	gatherer prometheus.Gatherer
	base     context.Context

	mu     sync.Mutex
	active map[string]context.CancelFunc
	wg     sync.WaitGroup
}

func newServer(base context.Context, st store.Store, runner runExecutor, g prometheus.Gatherer) *server {
	return &server{
		store:    st,
		runner:   runner,
		gatherer: g,
		base:     context.WithoutCancel(base),
		active:   make(map[string]context.CancelFunc),
	}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/runs", func(r chi.Router) {
		r.Post("/", s.handleCreateRun)
		r.Get("/", s.handleListRuns)
		r.Get("/{id}", s.handleGetRun)
		r.Get("/{id}/errors", s.handleRunErrors)
		r.Delete("/{id}", s.handleCancelRun)
	})
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (s *server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var input model.RunInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(input.Files) == 0 {
		writeError(w, http.StatusBadRequest, "files is required")
		return
	}

	run, err := s.runner.Create(r.Context(), input)
	if err != nil {
		zap.L().Error("create run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "create run failed")
		return
	}
	s.start(run)
	writeJSON(w, http.StatusAccepted, run)
}

// start executes run on a background goroutine with its own cancel func.
func (s *server) start(run *model.Run) {
	ctx, cancel := context.WithCancel(s.base)
	s.mu.Lock()
	s.active[run.ID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.active, run.ID)
			s.mu.Unlock()
			cancel()
		}()

		summary, err := s.runner.Execute(ctx, run)
		if err != nil {
			zap.L().Error("run failed", zap.String("run_id", run.ID), zap.Error(err))
			return
		}
		zap.L().Info("run complete",
			zap.String("run_id", run.ID),
			zap.Int("cleaned_rows", summary.CleanedRows),
		)
	}()
}

// cancelAll cancels every active run.
func (s *server) cancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cancel := range s.active {
		cancel()
	}
}

// wait cancels active runs and blocks until they have finished.
func (s *server) wait() {
	s.cancelAll()
	s.wg.Wait()
}

func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RunFilter{
		Status: model.RunStatus(q.Get("status")),
		Tag:    q.Get("tag"),
		Limit:  50,
	}
	for key, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, key+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	runs, err := s.store.ListRuns(r.Context(), filter)
	if err != nil {
		zap.L().Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list runs failed")
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *server) handleRunErrors(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	entries, err := s.store.ListErrorEntries(r.Context(), run.ID)
	if err != nil {
		zap.L().Error("list error entries failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list error entries failed")
		return
	}
	if entries == nil {
		entries = []model.ErrorLogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	cancel, ok := s.active[id]
	s.mu.Unlock()
	if ok {
		cancel()
		writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "cancelling"})
		return
	}

	run, found := s.lookupRun(w, r)
	if !found {
		return
	}
	writeJSON(w, http.StatusConflict, map[string]string{
		"error":  "run is not active",
		"status": string(run.Status),
	})
}

// lookupRun loads the {id} run, writing 404 or 500 when it cannot.
func (s *server) lookupRun(w http.ResponseWriter, r *http.Request) (*model.Run, bool) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return nil, false
	}
	if err != nil {
		zap.L().Error("get run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "get run failed")
		return nil, false
	}
	return run, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
