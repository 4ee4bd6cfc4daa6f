package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Recommender is the transport to the model endpoint. It returns raw,
// untrusted text; parsing and validation happen in the caller.
type Recommender interface {
	Complete(ctx context.Context, prompt, system, model string, timeout time.Duration) (string, error)
}

// ErrBothModelsFailed means neither the primary nor the fallback model
// produced a usable recommendation after all transport retries.
var ErrBothModelsFailed = errors.New("both primary and fallback models failed to produce a usable recommendation")

// FallbackRecommender wraps a primary/fallback model pair with uniform
// failure semantics. Two distinct retry layers are at work: each model call
// is retried with backoff against transient transport errors, and a primary
// whose output fails parsing or transport entirely is substituted once, and
// only once, with the fallback model.
type FallbackRecommender struct {
	Transport     Recommender
	PrimaryModel  string
	FallbackModel string

	CallTimeout    time.Duration
	RetryCount     int
	RetryBaseDelay time.Duration
	RetryCapDelay  time.Duration

	Logger *slog.Logger
}

// RecommendResult carries the parsed recommendation plus which model
// ultimately produced it, for diagnostics.
type RecommendResult struct {
	Recommendation *Recommendation
	Model          string
	UsedFallback   bool
}

// Recommend sends the prompt to the primary model and, if that fails to
// yield a valid recommendation, to the fallback model with the identical
// prompt. When primary and fallback are the same model the second attempt is
// skipped as redundant.
func (r *FallbackRecommender) Recommend(ctx context.Context, prompt string) (*RecommendResult, error) {
	recommendation, primaryErr := r.tryModel(ctx, prompt, r.PrimaryModel)
	if primaryErr == nil {
		return &RecommendResult{Recommendation: recommendation, Model: r.PrimaryModel}, nil
	}

	if r.FallbackModel == "" || r.FallbackModel == r.PrimaryModel {
		return nil, fmt.Errorf("%w: %v", ErrBothModelsFailed, primaryErr)
	}

	r.Logger.Warn("primary model failed, retrying with fallback model",
		"primary_model", r.PrimaryModel,
		"fallback_model", r.FallbackModel,
		"error", primaryErr)

	recommendation, fallbackErr := r.tryModel(ctx, prompt, r.FallbackModel)
	if fallbackErr != nil {
		return nil, fmt.Errorf("%w: primary: %v; fallback: %v", ErrBothModelsFailed, primaryErr, fallbackErr)
	}

	return &RecommendResult{Recommendation: recommendation, Model: r.FallbackModel, UsedFallback: true}, nil
}

// tryModel performs one logical call against a single model: transport with
// bounded retry, then parsing. A parse failure counts as a model failure and
// is not retried at this layer; retrying the identical prompt against the
// identical model rarely fixes malformed output, switching models sometimes
// does.
func (r *FallbackRecommender) tryModel(ctx context.Context, prompt, model string) (*Recommendation, error) {
	var rawText string

	operation := func() error {
		var err error
		rawText, err = r.Transport.Complete(ctx, prompt, systemPrompt, model, r.CallTimeout)
		return err
	}

	if err := backoff.Retry(operation, r.transportBackoff(ctx)); err != nil {
		return nil, fmt.Errorf("could not reach model %s: %w", model, err)
	}

	recommendation, err := ParseRecommendation(rawText)
	if err != nil {
		r.Logger.Warn("could not parse model output",
			"model", model,
			"error", err,
			"raw_output", truncateForLog(rawText))

		return nil, fmt.Errorf("could not parse output of model %s: %w", model, err)
	}

	return recommendation, nil
}

func (r *FallbackRecommender) transportBackoff(ctx context.Context) backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.RetryBaseDelay
	policy.MaxInterval = r.RetryCapDelay
	policy.RandomizationFactor = 0

	retries := r.RetryCount
	if retries < 1 {
		retries = 1
	}

	return backoff.WithContext(backoff.WithMaxRetries(policy, uint64(retries-1)), ctx)
}

// truncateForLog bounds raw model output in diagnostics. Responses can run
// to thousands of characters and logs are line-oriented.
func truncateForLog(text string) string {
	const limit = 512

	if len(text) <= limit {
		return text
	}

	return text[:limit] + "…(truncated)"
}
