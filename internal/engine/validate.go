package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/Veraticus/budget-autocat/internal/model"
)

const noReasoning = "No reasoning provided"

var (
	errMissingKey        = errors.New("categoryKey missing or not a string")
	errMissingConfidence = errors.New("confidence missing or not numeric")
)

// invalidOutputError reports a provider result that parsed as JSON but does
// not carry a usable categorization.
type invalidOutputError struct {
	Err   error
	Model string
}

func (e *invalidOutputError) Error() string {
	return fmt.Sprintf("invalid categorization from %s: %v", e.Model, e.Err)
}

func (e *invalidOutputError) Unwrap() error {
	return e.Err
}

// Validation outcomes, used as metric labels.
const (
	outcomeAccepted        = "accepted"
	outcomeLowConfidence   = "low_confidence"
	outcomeInvalidCategory = "invalid_category"
	outcomeEmpty           = "empty"
	outcomeUnavailable     = "unavailable"
)

// normalize checks a raw provider object field by field and applies the
// acceptance rules. known is the key set the result is checked against.
func normalize(raw map[string]any, known []string) (model.CategorizationResult, string, error) {
	keyValue, ok := raw["categoryKey"].(string)
	if !ok {
		return model.CategorizationResult{}, "", errMissingKey
	}
	key := strings.ToLower(strings.TrimSpace(keyValue))

	confidence, ok := parseConfidence(raw["confidence"])
	if !ok {
		return model.CategorizationResult{}, "", errMissingConfidence
	}
	confidence = clamp(confidence)

	reasoning, _ := raw["reasoning"].(string)
	reasoning = strings.TrimSpace(reasoning)
	if reasoning == "" {
		reasoning = noReasoning
	}

	switch {
	case confidence < model.AcceptanceThreshold:
		return model.CategorizationResult{
			CategoryKey: model.CategoryKeyOther,
			Confidence:  confidence,
			Reasoning:   fmt.Sprintf("Low confidence (%.2f): %s", confidence, reasoning),
		}, outcomeLowConfidence, nil
	case !containsKey(known, key):
		return model.CategorizationResult{
			CategoryKey: model.CategoryKeyOther,
			Confidence:  confidence,
			Reasoning:   fmt.Sprintf("Invalid category %q returned: %s", key, reasoning),
		}, outcomeInvalidCategory, nil
	default:
		return model.CategorizationResult{
			CategoryKey: key,
			Confidence:  confidence,
			Reasoning:   reasoning,
		}, outcomeAccepted, nil
	}
}

// parseConfidence accepts a JSON number or a numeric string. Non-finite values
// are rejected.
func parseConfidence(v any) (float64, bool) {
	var f float64

	switch n := v.(type) {
	case float64:
		f = n
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// clamp limits confidence to [0,1]. Negative values become 0.
func clamp(confidence float64) float64 {
	return math.Max(0, math.Min(1, confidence))
}

func containsKey(keys []string, key string) bool {
	return key == model.CategoryKeyOther || slices.Contains(keys, key)
}
