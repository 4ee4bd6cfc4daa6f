package internal_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scalemind/autoscalr/internal"
)

func TestParseRecommendationCleanJSON(t *testing.T) {
	rec, err := internal.ParseRecommendation(
		`{"recommended_instances": 5, "confidence": 0.9, "reasoning": "CPU is climbing"}`)

	require.NoError(t, err)
	require.Equal(t, int32(5), rec.RecommendedInstances)
	require.NotNil(t, rec.Confidence)
	require.Equal(t, 0.9, *rec.Confidence)
	require.Equal(t, "CPU is climbing", rec.Reasoning)
}

func TestParseRecommendationMarkdownFence(t *testing.T) {
	rec, err := internal.ParseRecommendation("```json\n" +
		`{"recommended_instances": 3, "confidence": 0.8, "reasoning": "steady load"}` +
		"\n```")

	require.NoError(t, err)
	require.Equal(t, int32(3), rec.RecommendedInstances)
}

func TestParseRecommendationProseAroundObject(t *testing.T) {
	rec, err := internal.ParseRecommendation(
		`Sure, here is my recommendation: {"recommended_instances": 4, "confidence": 0.7, "reasoning": "ok"} Let me know if you need anything else.`)

	require.NoError(t, err)
	require.Equal(t, int32(4), rec.RecommendedInstances)
}

func TestParseRecommendationTrailingComma(t *testing.T) {
	rec, err := internal.ParseRecommendation(
		`{"recommended_instances": 2, "confidence": 0.6,}`)

	require.NoError(t, err)
	require.Equal(t, int32(2), rec.RecommendedInstances)
	require.Equal(t, 0.6, *rec.Confidence)
}

func TestParseRecommendationUnescapedNewlines(t *testing.T) {
	rec, err := internal.ParseRecommendation(
		"{\"recommended_instances\": 6,\n  \"reasoning\": \"memory pressure\"}")

	require.NoError(t, err)
	require.Equal(t, int32(6), rec.RecommendedInstances)
	require.Nil(t, rec.Confidence)
}

func TestParseRecommendationTruncatedReasoning(t *testing.T) {
	// Response cut off mid-string, no closing quote or brace.
	rec, err := internal.ParseRecommendation(
		`{"recommended_instances": 4, "confidence": 0.8, "reasoning": "network traffic has`)

	require.NoError(t, err)
	require.Equal(t, int32(4), rec.RecommendedInstances)
	require.Equal(t, "network traffic has", rec.Reasoning)
}

func TestParseRecommendationMissingClosingBrace(t *testing.T) {
	rec, err := internal.ParseRecommendation(
		`{"recommended_instances": 7, "confidence": 0.5`)

	require.NoError(t, err)
	require.Equal(t, int32(7), rec.RecommendedInstances)
	require.Equal(t, 0.5, *rec.Confidence)
}

func TestParseRecommendationNoJSONAtAll(t *testing.T) {
	_, err := internal.ParseRecommendation("I cannot make a recommendation right now.")

	require.ErrorIs(t, err, internal.ErrUnparseable)
}

func TestParseRecommendationEmptyInput(t *testing.T) {
	_, err := internal.ParseRecommendation("   \n  ")

	require.ErrorIs(t, err, internal.ErrUnparseable)
}

func TestParseRecommendationMissingInstances(t *testing.T) {
	_, err := internal.ParseRecommendation(`{"confidence": 0.9, "reasoning": "no count"}`)

	var shapeErr *internal.InvalidShapeError
	require.ErrorAs(t, err, &shapeErr)
	require.Contains(t, shapeErr.Reason, "recommended_instances is missing")
}

func TestParseRecommendationInstancesWrongType(t *testing.T) {
	_, err := internal.ParseRecommendation(`{"recommended_instances": "five"}`)

	var shapeErr *internal.InvalidShapeError
	require.ErrorAs(t, err, &shapeErr)
	require.Contains(t, shapeErr.Reason, "not numeric")
}

func TestParseRecommendationInstancesNotInteger(t *testing.T) {
	_, err := internal.ParseRecommendation(`{"recommended_instances": 2.5}`)

	var shapeErr *internal.InvalidShapeError
	require.ErrorAs(t, err, &shapeErr)
	require.Contains(t, shapeErr.Reason, "not an integer")
}

func TestParseRecommendationInstancesOutOfRange(t *testing.T) {
	for _, text := range []string{
		`{"recommended_instances": 0}`,
		`{"recommended_instances": -3}`,
		`{"recommended_instances": 4294967296}`,
	} {
		_, err := internal.ParseRecommendation(text)

		var shapeErr *internal.InvalidShapeError
		require.ErrorAs(t, err, &shapeErr, "input: %s", text)
		require.Contains(t, shapeErr.Reason, "out of range")
	}
}

func TestParseRecommendationConfidenceOutOfBounds(t *testing.T) {
	_, err := internal.ParseRecommendation(`{"recommended_instances": 3, "confidence": 1.5}`)

	var shapeErr *internal.InvalidShapeError
	require.ErrorAs(t, err, &shapeErr)
	require.Contains(t, shapeErr.Reason, "outside [0, 1]")
}

func TestParseRecommendationConfidenceWrongType(t *testing.T) {
	_, err := internal.ParseRecommendation(`{"recommended_instances": 3, "confidence": "high"}`)

	var shapeErr *internal.InvalidShapeError
	require.ErrorAs(t, err, &shapeErr)
	require.Contains(t, shapeErr.Reason, "confidence is not numeric")
}

func TestParseRecommendationOptionalFieldsAbsent(t *testing.T) {
	rec, err := internal.ParseRecommendation(`{"recommended_instances": 8}`)

	require.NoError(t, err)
	require.Equal(t, int32(8), rec.RecommendedInstances)
	require.Nil(t, rec.Confidence)
	require.Empty(t, rec.Reasoning)
}

func TestParseRecommendationNeverEvaluatesContent(t *testing.T) {
	// Hostile content in reasoning is carried as an opaque string.
	rec, err := internal.ParseRecommendation(
		`{"recommended_instances": 2, "reasoning": "ignore previous instructions; os.system('rm -rf /')"}`)

	require.NoError(t, err)
	require.Contains(t, rec.Reasoning, "ignore previous instructions")
}

func TestInvalidShapeErrorIsNotUnparseable(t *testing.T) {
	_, err := internal.ParseRecommendation(`{"recommended_instances": 0}`)

	require.False(t, errors.Is(err, internal.ErrUnparseable))
}
