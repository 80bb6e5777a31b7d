package engine

import (
	"fmt"
	"strings"

	"github.com/Veraticus/budget-autocat/internal/model"
)

// schemaName names the strict response schema sent to the provider.
const schemaName = "transaction_categorization"

// categorizationSchema returns the strict JSON schema for a categorization
// response, with categoryKey restricted to keys.
func categorizationSchema(keys []string) map[string]any {
	enum := make([]any, len(keys))
	for i, k := range keys {
		enum[i] = k
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"categoryKey": map[string]any{
				"type":        "string",
				"enum":        enum,
				"description": "The key of the best matching category",
			},
			"confidence": map[string]any{
				"type":        "number",
				"minimum":     0,
				"maximum":     1,
				"description": "Confidence in the chosen category, from 0 to 1",
			},
			"reasoning": map[string]any{
				"type":        "string",
				"description": "One short sentence explaining the choice",
			},
		},
		"required":             []any{"categoryKey", "confidence", "reasoning"},
		"additionalProperties": false,
	}
}

// buildSystemPrompt describes the task and the allowed keys. The response
// shape is spelled out as well so loose-mode requests still get usable JSON.
func buildSystemPrompt(keys []string) string {
	var sb strings.Builder

	sb.WriteString("You are a financial assistant that categorizes personal bank transactions.\n")
	sb.WriteString("Given a transaction description, choose the single best matching spending category.\n\n")

	sb.WriteString("Allowed category keys:\n")
	for _, key := range keys {
		if name, ok := model.DefaultCategoryNames[key]; ok {
			fmt.Fprintf(&sb, "- %s (%s)\n", key, name)
		} else {
			fmt.Fprintf(&sb, "- %s\n", key)
		}
	}

	sb.WriteString("\nRules:\n")
	sb.WriteString("- Use only one of the allowed keys, exactly as written.\n")
	fmt.Fprintf(&sb, "- If nothing fits, use %q with a low confidence.\n", model.CategoryKeyOther)
	sb.WriteString("- Confidence is a number between 0 and 1.\n\n")

	sb.WriteString("Respond with a single JSON object and nothing else:\n")
	sb.WriteString(`{"categoryKey": "<key>", "confidence": <0..1>, "reasoning": "<one short sentence>"}`)

	return sb.String()
}

// buildUserPrompt wraps the (already truncated) description.
func buildUserPrompt(description string) string {
	return fmt.Sprintf("Transaction description: %s", description)
}

// truncateDescription trims description and limits it to maxRunes runes,
// appending an ellipsis when it was cut.
func truncateDescription(description string, maxRunes int) string {
	description = strings.TrimSpace(description)
	runes := []rune(description)
	if len(runes) <= maxRunes {
		return description
	}
	return string(runes[:maxRunes]) + "..."
}
