package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	cmdinternal "github.com/scalemind/autoscalr/cmd/internal"
	"github.com/scalemind/autoscalr/internal"
	"github.com/scalemind/autoscalr/internal/tracing"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	ctx := context.Background()

	var tp *sdktrace.TracerProvider
	if os.Getenv("TRACING_XRAY") != "" {
		tp = tracing.InitOtelXrayTracer(ctx, logger, false)
	} else {
		tp = tracing.InitStdoutTracer(logger)
	}
	defer func(ctx context.Context) {
		err := tp.Shutdown(ctx)
		if err != nil {
			logger.Error("error shutting down tracer provider", "error", err)
		}
	}(ctx)

	interval, err := runInterval()
	if err != nil {
		logger.Error("could not parse RUN_INTERVAL", "error", err)
		os.Exit(1)
	}

	if interval <= 0 {
		if err := runOnce(ctx, logger); err != nil {
			os.Exit(1)
		}

		return
	}

	loopCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runLoop(loopCtx, logger, interval)
}

func runOnce(ctx context.Context, logger *slog.Logger) error {
	t := otel.Tracer("local")
	ctx, span := t.Start(ctx, "autoscaling")
	defer span.End()

	if err := cmdinternal.Handle(ctx, logger); err != nil {
		logger.With("msg", err.Error()).Error("could not handle request")
		span.RecordError(err)
		span.SetStatus(codes.Error, "")

		return err
	}

	return nil
}

// runLoop keeps one engine, and therefore one cooldown state, alive across
// cycles. A cycle that scales suppresses the following ones until the
// cooldown window has passed.
func runLoop(ctx context.Context, logger *slog.Logger, interval time.Duration) {
	engine, cfg, err := cmdinternal.Setup(ctx, logger, &internal.CooldownState{}, nil)
	if err != nil {
		logger.Error("could not set up engine", "error", err)
		os.Exit(1)
	}

	key, id := cfg.GroupKeyAndID()
	logger = logger.With(key, id)

	logger.Info("starting autoscaling loop", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	t := otel.Tracer("local")

	for {
		func() {
			cycleCtx, span := t.Start(ctx, "autoscaling")
			defer span.End()

			outcome := engine.RunCycle(cycleCtx)
			cmdinternal.LogOutcome(logger, outcome)

			if outcome.Status == internal.CycleFailed {
				span.RecordError(outcome.Err)
				span.SetStatus(codes.Error, "")
			}
		}()

		select {
		case <-ctx.Done():
			logger.Info("shutdown signal received, stopping loop")
			return
		case <-ticker.C:
		}
	}
}

func runInterval() (time.Duration, error) {
	raw := os.Getenv("RUN_INTERVAL")
	if raw == "" {
		return 0, nil
	}

	return time.ParseDuration(raw)
}
