package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	cmdinternal "github.com/scalemind/autoscalr/cmd/internal"
	"github.com/scalemind/autoscalr/internal"
	"github.com/scalemind/autoscalr/internal/metrics"
	"github.com/scalemind/autoscalr/internal/tracing"
)

// Google Cloud Run entry point. An HTTP server responds to Cloud Scheduler
// triggers on /scale, serves Prometheus counters on /metrics, and keeps one
// engine alive for the lifetime of the instance so that the cooldown state
// survives between invocations.

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	tp := tracing.InitStdoutTracer(logger)
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Error("error shutting down tracer provider", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	hooks := metrics.NewHooks(registry)

	engine, cfg, err := cmdinternal.Setup(ctx, logger, &internal.CooldownState{}, hooks)
	if err != nil {
		logger.Error("could not set up engine", "error", err)
		os.Exit(1)
	}

	key, id := cfg.GroupKeyAndID()
	logger = logger.With(key, id)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	mux := http.NewServeMux()

	// Scale endpoint, triggered by Cloud Scheduler.
	mux.HandleFunc("/scale", func(w http.ResponseWriter, r *http.Request) {
		handleScale(w, r, logger, engine)
	})

	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, logger, http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, logger, http.StatusOK, map[string]string{
			"service": "autoscalr",
		})
	})

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting Cloud Run HTTP server", "port", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case <-ctx.Done():
		logger.Info("shutdown signal received, starting graceful shutdown")
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown due to timeout", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to encode response", "error", err)
	}
}

func handleScale(w http.ResponseWriter, r *http.Request, logger *slog.Logger, engine *internal.Engine) {
	// Cloud Scheduler sends POST requests.
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeJSON(w, logger, http.StatusMethodNotAllowed, map[string]string{
			"error": "method not allowed, only POST requests are accepted",
		})
		return
	}

	startTime := time.Now()

	if traceID := r.Header.Get("X-Cloud-Trace-Context"); traceID != "" {
		logger = logger.With("trace_id", traceID)
	}

	outcome := engine.RunCycle(r.Context())
	cmdinternal.LogOutcome(logger, outcome)

	if outcome.Status == internal.CycleFailed {
		writeJSON(w, logger, http.StatusInternalServerError, map[string]string{
			"error": "autoscaling failed, see logs for details",
		})
		return
	}

	body := map[string]any{
		"status":   string(outcome.Status),
		"duration": time.Since(startTime).String(),
	}
	if outcome.Status == internal.CycleSkipped {
		body["skip_reason"] = string(outcome.SkipReason)
	}

	writeJSON(w, logger, http.StatusOK, body)
}
