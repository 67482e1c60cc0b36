package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/spf13/pflag"

	"github.com/animus-labs/edm-harvester/internal/domain"
	"github.com/animus-labs/edm-harvester/internal/harvest"
	"github.com/animus-labs/edm-harvester/internal/platform/auth"
	"github.com/animus-labs/edm-harvester/internal/platform/httpserver"
)

const serviceName = "harvester"

type batchRunner interface {
	Run(ctx context.Context, opts harvest.Options) (*domain.BatchReport, error)
}

// scheduler runs at most one batch at a time and keeps the latest report.
type scheduler struct {
	runner batchRunner
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	latest  *domain.BatchReport
	wg      sync.WaitGroup
}

func newScheduler(runner batchRunner, logger *slog.Logger) *scheduler {
	return &scheduler{runner: runner, logger: logger}
}

// trigger starts a batch in the background. It returns false when one is
// already running.
func (s *scheduler) trigger(ctx context.Context, opts harvest.Options) bool {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return false
	}
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		report, err := s.runner.Run(ctx, opts)
		if err != nil {
			s.logger.Error("scheduled batch failed", "error", err)
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		s.running = false
		if report != nil {
			s.latest = report
		}
	}()
	return true
}

func (s *scheduler) status() (bool, *domain.BatchReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running, s.latest
}

// wait blocks until the running batch, if any, has finished.
func (s *scheduler) wait() {
	s.wg.Wait()
}

func (s *scheduler) register(ctx context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /runs/latest", func(w http.ResponseWriter, r *http.Request) {
		running, latest := s.status()
		if latest == nil {
			httpserver.WriteJSON(w, http.StatusNotFound, map[string]any{
				"error":   "no_runs",
				"running": running,
			})
			return
		}
		httpserver.WriteJSON(w, http.StatusOK, map[string]any{
			"running": running,
			"report":  latest,
		})
	})
	mux.HandleFunc("POST /runs", func(w http.ResponseWriter, r *http.Request) {
		identity, _ := auth.IdentityFromContext(r.Context())
		opts := harvest.Options{
			Datasets: r.URL.Query()["dataset"],
			DryRun:   r.URL.Query().Get("dry_run") == "true",
		}
		// The batch outlives the request.
		if !s.trigger(ctx, opts) {
			httpserver.WriteError(w, r, http.StatusConflict, "batch_running")
			return
		}
		requestID, _ := httpserver.RequestIDFromContext(r.Context())
		s.logger.Info("batch triggered", "request_id", requestID, "subject", identity.Subject, "datasets", len(opts.Datasets), "dry_run", opts.DryRun)
		httpserver.WriteJSON(w, http.StatusAccepted, map[string]any{"status": "started"})
	})
}

func serve(ctx context.Context, cfg Config, logger *slog.Logger, args []string, stderr io.Writer) int {
	flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	runNow := flags.Bool("run-now", false, "start a batch immediately instead of waiting for the schedule")
	if err := flags.Parse(args); err != nil {
		return 2
	}
	if err := cfg.ValidateServe(); err != nil {
		logger.Error("invalid configuration", "error", err)
		return 2
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return exitCode(logger, err)
	}
	defer a.Close()

	sched := newScheduler(a.orchestrator, logger)
	c := cron.New()
	if _, err := c.AddFunc(cfg.Schedule, func() {
		if !sched.trigger(ctx, harvest.Options{}) {
			logger.Warn("scheduled batch skipped, previous batch still running")
		}
	}); err != nil {
		logger.Error("invalid schedule", "error", err)
		return 2
	}
	c.Start()
	defer func() {
		<-c.Stop().Done()
		sched.wait()
	}()
	if *runNow {
		sched.trigger(ctx, harvest.Options{})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz(serviceName))
	mux.HandleFunc("/readyz", httpserver.Readyz(serviceName, a.readinessChecks()...))
	sched.register(ctx, mux)

	var handler http.Handler = mux
	if cfg.API.Enabled() {
		authn, err := auth.NewTokenAuthenticator(cfg.API)
		if err != nil {
			logger.Error("invalid api auth config", "error", err)
			return 2
		}
		handler = auth.Middleware{
			Logger:        logger,
			Authenticator: authn,
			Authorize:     auth.MethodRoleAuthorizer(),
			SkipPrefixes:  []string{"/healthz", "/readyz"},
		}.Wrap(mux)
	} else {
		logger.Warn("HARVEST_API_TOKEN not set, /runs is unauthenticated")
	}

	srvCfg := httpserver.Config{
		Service:         serviceName,
		Addr:            cfg.HTTPAddr,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}
	logger.Info("serving", "addr", cfg.HTTPAddr, "schedule", cfg.Schedule)
	if err := httpserver.Run(ctx, logger, srvCfg, httpserver.Wrap(logger, handler)); err != nil {
		logger.Error("server failed", "error", err)
		return 1
	}
	return 0
}
