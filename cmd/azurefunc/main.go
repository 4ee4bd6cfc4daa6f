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

	cmdinternal "github.com/scalemind/autoscalr/cmd/internal"
	"github.com/scalemind/autoscalr/internal"
	"github.com/scalemind/autoscalr/internal/tracing"
)

// Azure Functions custom handler. The Functions host expects an HTTP server
// listening on the port given by FUNCTIONS_CUSTOMHANDLER_PORT; timer
// triggers arrive as POST requests to /{functionName}. The host keeps the
// process alive between invocations, so one engine is built at startup and
// the cooldown state survives across timer ticks.

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

	// Building the engine at startup also fails the instance fast on
	// misconfiguration, instead of failing every invocation.
	engine, cfg, err := cmdinternal.Setup(ctx, logger, &internal.CooldownState{}, nil)
	if err != nil {
		logger.Error("could not set up engine", "error", err)
		os.Exit(1)
	}

	key, id := cfg.GroupKeyAndID()
	logger = logger.With(key, id)

	port := os.Getenv("FUNCTIONS_CUSTOMHANDLER_PORT")
	if port == "" {
		port = "8080"
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/AutoscalerTimer", func(w http.ResponseWriter, r *http.Request) {
		handleTimer(w, r, logger, engine)
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("autoscalr Azure Function"))
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
		logger.Info("starting Azure Functions custom handler", "port", port)
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

func handleTimer(w http.ResponseWriter, r *http.Request, logger *slog.Logger, engine *internal.Engine) {
	startTime := time.Now()

	if invocationID := r.Header.Get("x-azure-functions-invocationid"); invocationID != "" {
		logger = logger.With("invocation_id", invocationID)
	}

	logger.Info("autoscaler invoked")

	outcome := engine.RunCycle(r.Context())
	cmdinternal.LogOutcome(logger, outcome)

	if outcome.Status == internal.CycleFailed {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{
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

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(body)
}
