package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
)

// Recommendation is a validated scaling suggestion extracted from raw model
// output. Confidence is nil when the model did not report one; the engine
// decides what that means, not the parser.
type Recommendation struct {
	RecommendedInstances int32
	Confidence           *float64
	Reasoning            string
}

// ErrUnparseable means the raw text could not be coerced into a JSON object
// by any of the structural repairs. The text is never evaluated as code,
// no matter how badly it is mangled.
var ErrUnparseable = errors.New("recommendation text is not parseable as JSON")

// InvalidShapeError means the text parsed structurally but the fields do not
// form a valid recommendation.
type InvalidShapeError struct {
	Reason string
}

func (e *InvalidShapeError) Error() string {
	return fmt.Sprintf("recommendation has invalid shape: %s", e.Reason)
}

// rawRecommendation mirrors the JSON shape the prompt instructs the model to
// produce. Fields are decoded loosely so that a wrong type surfaces as an
// InvalidShapeError rather than a structural parse failure.
type rawRecommendation struct {
	RecommendedInstances any `json:"recommended_instances"`
	Confidence           any `json:"confidence"`
	Reasoning            any `json:"reasoning"`
}

var trailingCommaRegex = regexp.MustCompile(`,\s*}`)

// ParseRecommendation extracts a structured recommendation from arbitrary
// model output. Models frequently emit near-JSON: markdown fences, prose
// around the object, trailing commas, raw newlines inside strings, or
// responses cut off mid-string. Each repair is attempted only after the
// previous structural parse failed, and validation runs once on whichever
// variant parsed.
func ParseRecommendation(rawText string) (*Recommendation, error) {
	candidate := strings.TrimSpace(rawText)

	raw, ok := tryUnmarshal(candidate)

	if !ok {
		// Take the substring between the first "{" and the last "}". This
		// strips markdown fences and any prose the model wrapped around
		// the object.
		start := strings.Index(candidate, "{")
		end := strings.LastIndex(candidate, "}")
		if start != -1 && end > start {
			candidate = candidate[start : end+1]
			raw, ok = tryUnmarshal(candidate)
		} else if start != -1 {
			// No closing brace at all: the response was likely truncated.
			candidate = candidate[start:]
		}
	}

	if !ok {
		candidate = trailingCommaRegex.ReplaceAllString(candidate, "}")
		candidate = collapseNewlines(candidate)
		raw, ok = tryUnmarshal(candidate)
	}

	if !ok {
		if repaired, changed := closeOpenReasoning(candidate); changed {
			candidate = repaired
			raw, ok = tryUnmarshal(candidate)
		}
	}

	if !ok && !strings.HasSuffix(candidate, "}") {
		candidate += "}"
		raw, ok = tryUnmarshal(candidate)
	}

	if !ok {
		return nil, ErrUnparseable
	}

	return validate(raw)
}

func tryUnmarshal(text string) (*rawRecommendation, bool) {
	var raw rawRecommendation
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, false
	}

	return &raw, true
}

// collapseNewlines replaces embedded newlines and their surrounding
// indentation with single spaces. Models sometimes wrap the reasoning string
// across lines without escaping, which is invalid JSON.
func collapseNewlines(text string) string {
	if !strings.ContainsAny(text, "\n\r") {
		return text
	}

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
	}

	return strings.Join(lines, " ")
}

// closeOpenReasoning handles responses cut off inside the reasoning string:
// there is an opening `"reasoning": "` but no closing quote before the end
// of the text. Everything after the opening quote becomes the reasoning
// value, then the string and object are closed.
func closeOpenReasoning(text string) (string, bool) {
	const marker = `"reasoning": "`

	idx := strings.Index(text, marker)
	if idx == -1 {
		return text, false
	}

	rest := text[idx+len(marker):]
	if strings.Contains(rest, `"`) {
		return text, false
	}

	rest = strings.TrimSuffix(strings.TrimSpace(rest), "}")
	rest = strings.TrimSpace(rest)

	return text[:idx+len(marker)] + rest + `"}`, true
}

func validate(raw *rawRecommendation) (*Recommendation, error) {
	if raw.RecommendedInstances == nil {
		return nil, &InvalidShapeError{Reason: "recommended_instances is missing"}
	}

	instances, ok := raw.RecommendedInstances.(float64)
	if !ok {
		return nil, &InvalidShapeError{Reason: "recommended_instances is not numeric"}
	}

	if instances != math.Trunc(instances) {
		return nil, &InvalidShapeError{Reason: "recommended_instances is not an integer"}
	}

	if instances <= 0 || instances > math.MaxInt32 {
		return nil, &InvalidShapeError{Reason: fmt.Sprintf("recommended_instances %v is out of range", instances)}
	}

	out := &Recommendation{RecommendedInstances: int32(instances)}

	if raw.Confidence != nil {
		confidence, ok := raw.Confidence.(float64)
		if !ok {
			return nil, &InvalidShapeError{Reason: "confidence is not numeric"}
		}

		if confidence < 0 || confidence > 1 {
			return nil, &InvalidShapeError{Reason: fmt.Sprintf("confidence %v is outside [0, 1]", confidence)}
		}

		out.Confidence = &confidence
	}

	if raw.Reasoning != nil {
		reasoning, ok := raw.Reasoning.(string)
		if !ok {
			return nil, &InvalidShapeError{Reason: "reasoning is not a string"}
		}

		out.Reasoning = reasoning
	}

	return out, nil
}
