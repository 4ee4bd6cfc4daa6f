package internal

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SkipReason explains why a cycle ended without a scaling action. Skips are
// expected terminal outcomes under normal operation, not failures.
type SkipReason string

const (
	SkipInCooldown        SkipReason = "in_cooldown"
	SkipNoMetrics         SkipReason = "no_metrics"
	SkipNoRecommendation  SkipReason = "no_recommendation"
	SkipLowConfidence     SkipReason = "low_confidence"
	SkipNoChangeNeeded    SkipReason = "no_change_needed"
	SkipAlreadyInProgress SkipReason = "already_in_progress"
)

// CycleStatus is the terminal state of one decision cycle.
type CycleStatus string

const (
	CycleSkipped   CycleStatus = "skipped"
	CycleSucceeded CycleStatus = "succeeded"
	CycleFailed    CycleStatus = "failed"
)

// ScalingDecision records what the engine decided and, once the backend
// confirmed it, when it was applied. It lives for one cycle only.
type ScalingDecision struct {
	Target         uint32
	Recommendation Recommendation
	AppliedAt      *time.Time
}

// CycleOutcome is everything a caller needs to log a cycle meaningfully.
type CycleOutcome struct {
	CycleID string
	Status  CycleStatus

	// Set when Status is CycleSkipped.
	SkipReason SkipReason

	// Set when Status is CycleFailed.
	Err error

	// Set once a recommendation was obtained, whatever happened after.
	Recommendation *Recommendation
	Model          string
	UsedFallback   bool

	// Set when Status is CycleSucceeded.
	Decision *ScalingDecision

	// Execution attempts made against the compute backend.
	Attempts int
}

// CooldownState is the only state that survives across cycles. A zero
// LastScaling means no scaling has happened yet. It is owned by whoever runs
// the engine: the process in loop mode, nobody in one-shot mode (where
// external scheduling provides the cadence and a fresh state is fine).
type CooldownState struct {
	LastScaling time.Time
}

// Hooks receives side-effect notifications about cycle outcomes. Exporting
// them (or not) is the caller's business; the engine only emits.
type Hooks interface {
	CycleFinished(outcome CycleOutcome)
	ScalingExecuted(from, to uint32)
}

// NopHooks discards all notifications.
type NopHooks struct{}

func (NopHooks) CycleFinished(CycleOutcome)     {}
func (NopHooks) ScalingExecuted(uint32, uint32) {}

// EngineConfig is the policy surface of the decision engine, already parsed
// and validated. Compare RuntimeConfig, which is the raw env surface. The
// capacity bounds are not here: backends report them through Topology.
type EngineConfig struct {
	CooldownDuration    time.Duration
	ConfidenceThreshold float64
	RetryCount          int
	RetryBaseDelay      time.Duration
	RetryCapDelay       time.Duration
	MetricsLookback     time.Duration
	MetricsInterval     time.Duration
	DryRun              bool
}

// Engine drives one decision cycle: sanitize, decide, validate, gate,
// execute, record. It is provider-agnostic; everything cloud-specific hides
// behind the ComputeBackend and MetricsSource collaborators.
type Engine struct {
	backend     ComputeBackend
	metrics     MetricsSource
	prompts     *PromptBuilder
	recommender *FallbackRecommender
	cooldown    *CooldownState
	cfg         EngineConfig

	hooks  Hooks
	logger *slog.Logger
	tracer trace.Tracer

	// now is swappable in tests; wall-clock otherwise.
	now func() time.Time

	// inProgress guarantees at most one concurrent cycle. In one-shot
	// deployments this is pure defense, in loop mode it is load-bearing.
	inProgress atomic.Bool
}

func NewEngine(
	backend ComputeBackend,
	metrics MetricsSource,
	prompts *PromptBuilder,
	recommender *FallbackRecommender,
	cooldown *CooldownState,
	cfg EngineConfig,
	hooks Hooks,
	logger *slog.Logger,
	tracer trace.Tracer,
) *Engine {
	if hooks == nil {
		hooks = NopHooks{}
	}

	return &Engine{
		backend:     backend,
		metrics:     metrics,
		prompts:     prompts,
		recommender: recommender,
		cooldown:    cooldown,
		cfg:         cfg,
		hooks:       hooks,
		logger:      logger,
		tracer:      tracer,
		now:         time.Now,
	}
}

// RunCycle executes one full decision cycle and returns its terminal
// outcome. Nothing escapes as a panic or a bare error: every stage-local
// problem is folded into the outcome so that callers can log skips at low
// severity and reserve alerts for failed executions.
func (e *Engine) RunCycle(ctx context.Context) CycleOutcome {
	outcome := CycleOutcome{CycleID: uuid.NewString()}

	if !e.inProgress.CompareAndSwap(false, true) {
		outcome.Status = CycleSkipped
		outcome.SkipReason = SkipAlreadyInProgress
		e.hooks.CycleFinished(outcome)
		return outcome
	}
	defer e.inProgress.Store(false)

	ctx, span := e.tracer.Start(ctx, "engine.cycle")
	defer span.End()

	span.SetAttributes(attribute.String("cycle_id", outcome.CycleID))

	logger := e.logger.With("cycle_id", outcome.CycleID)

	e.runStages(ctx, logger, &outcome)

	span.SetAttributes(attribute.String("outcome", string(outcome.Status)))
	if outcome.SkipReason != "" {
		span.SetAttributes(attribute.String("skip_reason", string(outcome.SkipReason)))
	}
	if outcome.Err != nil {
		span.RecordError(outcome.Err)
	}

	e.hooks.CycleFinished(outcome)

	return outcome
}

func (e *Engine) runStages(ctx context.Context, logger *slog.Logger, outcome *CycleOutcome) {
	now := e.now()

	// Cooldown check. Wall-clock based: a recent successful scaling action,
	// real or dry-run, blocks further changes until the window passes.
	if !e.cooldown.LastScaling.IsZero() {
		if elapsed := now.Sub(e.cooldown.LastScaling); elapsed < e.cfg.CooldownDuration {
			logger.Info("cooldown active, skipping cycle",
				"elapsed", elapsed,
				"cooldown", e.cfg.CooldownDuration)

			outcome.Status = CycleSkipped
			outcome.SkipReason = SkipInCooldown
			return
		}
	}

	// Metrics check.
	series, err := e.metrics.FetchMetrics(ctx, e.cfg.MetricsLookback, e.cfg.MetricsInterval)
	if err != nil {
		outcome.Status = CycleFailed
		outcome.Err = fmt.Errorf("could not fetch metrics: %w", err)
		return
	}

	if !hasSamples(series) {
		logger.Info("no metrics available for this cycle, skipping")

		outcome.Status = CycleSkipped
		outcome.SkipReason = SkipNoMetrics
		return
	}

	topology, err := e.backend.GetTopology(ctx)
	if err != nil {
		outcome.Status = CycleFailed
		outcome.Err = fmt.Errorf("could not get scale set topology: %w", err)
		return
	}

	logger = logger.With("identity", topology.Identity, "current_capacity", topology.CurrentCapacity)

	digests := make(map[Dimension]MetricDigest, len(series))
	for dimension, s := range series {
		digests[dimension] = Summarize(s)
	}

	prompt, warning := e.prompts.Build(topology, digests)
	if warning != "" {
		logger.Warn(warning)
	}

	// Recommending. Exhausting both models is an expected skip, not a
	// failure: the infrastructure is untouched and the next cycle retries.
	result, err := e.recommender.Recommend(ctx, prompt)
	if err != nil {
		logger.Warn("no usable recommendation this cycle", "error", err)

		outcome.Status = CycleSkipped
		outcome.SkipReason = SkipNoRecommendation
		outcome.Err = err
		return
	}

	recommendation := result.Recommendation
	outcome.Recommendation = recommendation
	outcome.Model = result.Model
	outcome.UsedFallback = result.UsedFallback

	logger = logger.With(
		"model", result.Model,
		"used_fallback", result.UsedFallback,
		"recommended_instances", recommendation.RecommendedInstances,
	)

	// Confidence gate. A model that reports no confidence is taken at full
	// confidence; only an explicit low value blocks the action.
	effectiveConfidence := 1.0
	if recommendation.Confidence != nil {
		effectiveConfidence = *recommendation.Confidence
	}

	if effectiveConfidence < e.cfg.ConfidenceThreshold {
		logger.Info("recommendation below confidence threshold, skipping",
			"confidence", effectiveConfidence,
			"threshold", e.cfg.ConfidenceThreshold,
			"reasoning", recommendation.Reasoning)

		outcome.Status = CycleSkipped
		outcome.SkipReason = SkipLowConfidence
		return
	}

	// Clamping. The recommendation is advisory; the topology bounds are
	// authoritative no matter what the model asked for. Backends seed them
	// from the configured range, intersected with any limits the provider
	// itself enforces, so clamping here is what keeps SetCapacity in range.
	target := clamp(recommendation.RecommendedInstances, topology.MinInstances, topology.MaxInstances)

	if target != uint32(recommendation.RecommendedInstances) {
		logger.Info("recommendation clamped to allowed bounds",
			"target", target,
			"min_instances", topology.MinInstances,
			"max_instances", topology.MaxInstances)
	}

	if target == topology.CurrentCapacity {
		logger.Info("scale set already at recommended capacity")

		outcome.Status = CycleSkipped
		outcome.SkipReason = SkipNoChangeNeeded
		return
	}

	// Executing.
	attempts, err := e.execute(ctx, logger, target)
	outcome.Attempts = attempts

	if err != nil {
		outcome.Status = CycleFailed
		outcome.Err = fmt.Errorf("could not scale %s to %d after %d attempts: %w",
			topology.Identity, target, attempts, err)

		// Deliberate asymmetry: a failed execution does not start a
		// cooldown, so the next cycle may retry sooner.
		return
	}

	// Recording.
	appliedAt := e.now()
	e.cooldown.LastScaling = appliedAt

	outcome.Status = CycleSucceeded
	outcome.Decision = &ScalingDecision{
		Target:         target,
		Recommendation: *recommendation,
		AppliedAt:      &appliedAt,
	}

	e.hooks.ScalingExecuted(topology.CurrentCapacity, target)

	logger.Info("scale set capacity changed",
		"target", target,
		"dry_run", e.cfg.DryRun,
		"reasoning", recommendation.Reasoning)
}

// execute drives the backend mutation with bounded retry. In dry-run mode no
// backend call is made and success is simulated, so that a dry run is a
// faithful rehearsal of the full decision trace, cooldown update included.
func (e *Engine) execute(ctx context.Context, logger *slog.Logger, target uint32) (attempts int, err error) {
	if e.cfg.DryRun {
		logger.Info("dry run, not calling the compute backend", "target", target)
		return 0, nil
	}

	ctx, span := e.tracer.Start(ctx, "engine.execute")
	defer span.End()

	span.SetAttributes(attribute.Int("target", int(target)))

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.cfg.RetryBaseDelay
	policy.MaxInterval = e.cfg.RetryCapDelay
	policy.RandomizationFactor = 0

	retries := e.cfg.RetryCount
	if retries < 1 {
		retries = 1
	}

	operation := func() error {
		attempts++

		if err := e.backend.SetCapacity(ctx, target); err != nil {
			logger.Warn("scaling attempt failed", "attempt", attempts, "error", err)
			return err
		}

		return nil
	}

	err = backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(retries-1)), ctx))

	return attempts, err
}

// clamp forces the recommended count into the configured closed range.
// Clamping an already-clamped value is a no-op.
func clamp(recommended int32, minInstances, maxInstances uint32) uint32 {
	if recommended < 0 {
		recommended = 0
	}

	target := uint32(recommended)

	if target < minInstances {
		return minInstances
	}

	if target > maxInstances {
		return maxInstances
	}

	return target
}

func hasSamples(series map[Dimension]MetricSeries) bool {
	for _, s := range series {
		if len(s) > 0 {
			return true
		}
	}

	return false
}
