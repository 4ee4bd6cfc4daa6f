package internal_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/scalemind/autoscalr/internal"
)

const validRecommendationJSON = `{"recommended_instances": 5, "confidence": 0.9, "reasoning": "load rising"}`

type MockTransport struct {
	mock.Mock
}

func (m *MockTransport) Complete(ctx context.Context, prompt, system, model string, timeout time.Duration) (string, error) {
	args := m.Called(ctx, prompt, system, model, timeout)
	return args.String(0), args.Error(1)
}

func newTestRecommender(transport internal.Recommender) *internal.FallbackRecommender {
	var buf bytes.Buffer

	return &internal.FallbackRecommender{
		Transport:      transport,
		PrimaryModel:   "primary-model",
		FallbackModel:  "fallback-model",
		CallTimeout:    time.Second,
		RetryCount:     1,
		RetryBaseDelay: time.Millisecond,
		RetryCapDelay:  time.Millisecond,
		Logger:         slog.New(slog.NewTextHandler(&buf, nil)),
	}
}

func TestRecommenderPrimarySucceeds(t *testing.T) {
	transport := new(MockTransport)
	defer transport.AssertExpectations(t)

	transport.On("Complete", mock.Anything, "the prompt", mock.Anything, "primary-model", mock.Anything).
		Return(validRecommendationJSON, nil).Once()

	result, err := newTestRecommender(transport).Recommend(t.Context(), "the prompt")

	require.NoError(t, err)
	require.Equal(t, "primary-model", result.Model)
	require.False(t, result.UsedFallback)
	require.Equal(t, int32(5), result.Recommendation.RecommendedInstances)
}

func TestRecommenderFallsBackOnTransportFailure(t *testing.T) {
	transport := new(MockTransport)
	defer transport.AssertExpectations(t)

	transport.On("Complete", mock.Anything, mock.Anything, mock.Anything, "primary-model", mock.Anything).
		Return("", errors.New("connection refused")).Once()
	transport.On("Complete", mock.Anything, mock.Anything, mock.Anything, "fallback-model", mock.Anything).
		Return(validRecommendationJSON, nil).Once()

	result, err := newTestRecommender(transport).Recommend(t.Context(), "the prompt")

	require.NoError(t, err)
	require.Equal(t, "fallback-model", result.Model)
	require.True(t, result.UsedFallback)
}

func TestRecommenderFallsBackOnUnparseableOutput(t *testing.T) {
	transport := new(MockTransport)
	defer transport.AssertExpectations(t)

	transport.On("Complete", mock.Anything, mock.Anything, mock.Anything, "primary-model", mock.Anything).
		Return("I would rather not say.", nil).Once()
	transport.On("Complete", mock.Anything, mock.Anything, mock.Anything, "fallback-model", mock.Anything).
		Return(validRecommendationJSON, nil).Once()

	result, err := newTestRecommender(transport).Recommend(t.Context(), "the prompt")

	require.NoError(t, err)
	require.True(t, result.UsedFallback)
}

func TestRecommenderBothModelsFail(t *testing.T) {
	transport := new(MockTransport)
	defer transport.AssertExpectations(t)

	transport.On("Complete", mock.Anything, mock.Anything, mock.Anything, "primary-model", mock.Anything).
		Return("", errors.New("connection refused")).Once()
	transport.On("Complete", mock.Anything, mock.Anything, mock.Anything, "fallback-model", mock.Anything).
		Return("garbage", nil).Once()

	result, err := newTestRecommender(transport).Recommend(t.Context(), "the prompt")

	require.Nil(t, result)
	require.ErrorIs(t, err, internal.ErrBothModelsFailed)
}

func TestRecommenderSkipsIdenticalFallbackModel(t *testing.T) {
	transport := new(MockTransport)
	defer transport.AssertExpectations(t)

	transport.On("Complete", mock.Anything, mock.Anything, mock.Anything, "primary-model", mock.Anything).
		Return("", errors.New("connection refused")).Once()

	recommender := newTestRecommender(transport)
	recommender.FallbackModel = "primary-model"

	_, err := recommender.Recommend(t.Context(), "the prompt")

	require.ErrorIs(t, err, internal.ErrBothModelsFailed)
	transport.AssertNumberOfCalls(t, "Complete", 1)
}

func TestRecommenderNoFallbackConfigured(t *testing.T) {
	transport := new(MockTransport)
	defer transport.AssertExpectations(t)

	transport.On("Complete", mock.Anything, mock.Anything, mock.Anything, "primary-model", mock.Anything).
		Return("", errors.New("connection refused")).Once()

	recommender := newTestRecommender(transport)
	recommender.FallbackModel = ""

	_, err := recommender.Recommend(t.Context(), "the prompt")

	require.ErrorIs(t, err, internal.ErrBothModelsFailed)
	transport.AssertNumberOfCalls(t, "Complete", 1)
}

func TestRecommenderRetriesTransportErrors(t *testing.T) {
	transport := new(MockTransport)
	defer transport.AssertExpectations(t)

	transport.On("Complete", mock.Anything, mock.Anything, mock.Anything, "primary-model", mock.Anything).
		Return("", errors.New("transient")).Twice()
	transport.On("Complete", mock.Anything, mock.Anything, mock.Anything, "primary-model", mock.Anything).
		Return(validRecommendationJSON, nil).Once()

	recommender := newTestRecommender(transport)
	recommender.RetryCount = 3

	result, err := recommender.Recommend(t.Context(), "the prompt")

	require.NoError(t, err)
	require.False(t, result.UsedFallback)
	transport.AssertNumberOfCalls(t, "Complete", 3)
}

func TestRecommenderDoesNotRetryParseFailures(t *testing.T) {
	transport := new(MockTransport)
	defer transport.AssertExpectations(t)

	// The transport succeeds, the content is garbage. Only one call per
	// model: malformed output is not a transient condition.
	transport.On("Complete", mock.Anything, mock.Anything, mock.Anything, "primary-model", mock.Anything).
		Return("garbage", nil).Once()
	transport.On("Complete", mock.Anything, mock.Anything, mock.Anything, "fallback-model", mock.Anything).
		Return("more garbage", nil).Once()

	recommender := newTestRecommender(transport)
	recommender.RetryCount = 3

	_, err := recommender.Recommend(t.Context(), "the prompt")

	require.ErrorIs(t, err, internal.ErrBothModelsFailed)
	transport.AssertNumberOfCalls(t, "Complete", 2)
}
