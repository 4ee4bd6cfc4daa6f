package internal

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/scalemind/autoscalr/internal"
)

// Setup parses the environment, detects the target platform, and wires up a
// ready-to-run engine. The cooldown state is owned by the caller: one-shot
// entrypoints pass a fresh one, the loop entrypoint keeps one alive across
// cycles.
func Setup(ctx context.Context, logger *slog.Logger, cooldown *internal.CooldownState, hooks internal.Hooks) (*internal.Engine, *internal.RuntimeConfig, error) {
	platform := detectPlatform()

	var cfg internal.RuntimeConfig
	if err := cfg.Parse(platform); err != nil {
		return nil, nil, fmt.Errorf("could not parse environment variables: %w", err)
	}

	var (
		backend internal.ComputeBackend
		metrics internal.MetricsSource
		token   string
	)

	switch platform {
	case internal.PlatformAzure:
		azure, azureToken, azureErr := internal.NewAzureBackend(ctx, &cfg)
		if azureErr != nil {
			return nil, nil, fmt.Errorf("could not create Azure backend: %w", azureErr)
		}
		backend, metrics, token = azure, azure, azureToken
		logger.Info("using Azure VMSS backend", "vmss", cfg.AzureVMSSResourceID)

	case internal.PlatformGCP:
		gcp, gcpToken, gcpErr := internal.NewGCPBackend(ctx, &cfg)
		if gcpErr != nil {
			return nil, nil, fmt.Errorf("could not create GCP backend: %w", gcpErr)
		}
		backend, metrics, token = gcp, gcp, gcpToken
		logger.Info("using GCP IGM backend", "igm", cfg.GCPIGMSelfLink)

	default:
		aws, awsToken, awsErr := internal.NewAWSBackend(ctx, &cfg)
		if awsErr != nil {
			return nil, nil, fmt.Errorf("could not create AWS backend: %w", awsErr)
		}
		backend, metrics, token = aws, aws, awsToken
		logger.Info("using AWS ASG backend", "asg", cfg.AutoscalingGroupARN)
	}

	recommender := &internal.FallbackRecommender{
		Transport:      internal.NewLLMClient(cfg.LLMEndpoint, token),
		PrimaryModel:   cfg.PrimaryModel,
		FallbackModel:  cfg.FallbackModel,
		CallTimeout:    cfg.LLMTimeout,
		RetryCount:     cfg.RetryCount,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryCapDelay:  cfg.RetryCapDelay,
		Logger:         logger,
	}

	engine := internal.NewEngine(
		backend,
		metrics,
		internal.NewPromptBuilder(cfg.PromptTemplatePath),
		recommender,
		cooldown,
		cfg.EngineConfig(),
		hooks,
		logger,
		newTracer(),
	)

	return engine, &cfg, nil
}

// Handle runs a single decision cycle end to end. Skips are normal and log
// at info level; only a failed cycle comes back as an error so that the
// hosting runtime can surface it.
func Handle(ctx context.Context, logger *slog.Logger) error {
	engine, cfg, err := Setup(ctx, logger, &internal.CooldownState{}, nil)
	if err != nil {
		return err
	}

	key, id := cfg.GroupKeyAndID()
	outcome := engine.RunCycle(ctx)

	LogOutcome(logger.With(key, id), outcome)

	if outcome.Status == internal.CycleFailed {
		return outcome.Err
	}

	return nil
}

// LogOutcome writes one structured summary line for a finished cycle.
func LogOutcome(logger *slog.Logger, outcome internal.CycleOutcome) {
	logger = logger.With("cycle_id", outcome.CycleID, "status", string(outcome.Status))

	switch outcome.Status {
	case internal.CycleSkipped:
		logger.Info("cycle skipped", "reason", string(outcome.SkipReason))
	case internal.CycleSucceeded:
		logger.Info("cycle succeeded",
			"target", outcome.Decision.Target,
			"model", outcome.Model,
			"used_fallback", outcome.UsedFallback,
			"attempts", outcome.Attempts,
			"reasoning", outcome.Decision.Recommendation.Reasoning)
	case internal.CycleFailed:
		logger.Error("cycle failed", "error", outcome.Err, "attempts", outcome.Attempts)
	}
}

// detectPlatform picks the provider from whichever resource identifier is
// configured. Azure resource IDs and GCP self-links have unmistakable
// shapes; anything else is treated as AWS.
func detectPlatform() internal.Platform {
	if id := envAzureResourceID(); id != "" {
		return internal.PlatformAzure
	}

	if link := envGCPSelfLink(); link != "" {
		return internal.PlatformGCP
	}

	return internal.PlatformAWS
}

func envAzureResourceID() string {
	id := os.Getenv("AZURE_VMSS_RESOURCE_ID")
	if strings.HasPrefix(id, "/subscriptions/") &&
		strings.Contains(id, "/providers/Microsoft.Compute/virtualMachineScaleSets/") {
		return id
	}

	return ""
}

func envGCPSelfLink() string {
	link := os.Getenv("GCP_IGM_SELF_LINK")
	if strings.Contains(link, "/instanceGroupManagers/") {
		return link
	}

	return ""
}

func newTracer() trace.Tracer {
	return otel.Tracer("github.com/scalemind/autoscalr/internal/engine")
}
