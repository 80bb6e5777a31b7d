package llm

import (
	"context"
	"encoding/json"
	"strings"
	"unicode"
)

// RequestStructuredCompletion performs one completion with c and decodes the
// message content into T. It does not retry and does not fall back to other models.
func RequestStructuredCompletion[T any](ctx context.Context, c Completer, req Request) (T, error) {
	var zero T

	completion, err := c.Complete(ctx, req)
	if err != nil {
		return zero, err
	}

	return decodeStructured[T](completion)
}

// decodeStructured parses completion content as JSON into T, distinguishing
// truncated output from otherwise malformed output.
func decodeStructured[T any](completion Completion) (T, error) {
	var out T

	content := cleanMarkdownWrapper(completion.Content)
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		var zero T
		if looksTruncated(content) || completion.FinishReason == "length" {
			return zero, &TruncatedResponseError{Model: completion.Model, Content: content, Err: err}
		}
		return zero, &MalformedJSONError{Model: completion.Model, Content: content, Err: err}
	}

	return out, nil
}

// cleanMarkdownWrapper strips a surrounding ``` or ```json fence, which some
// models emit even in JSON mode. The fence may span lines or sit on one line.
func cleanMarkdownWrapper(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}

	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")

	// Drop the language tag, e.g. "json", with or without a newline after it.
	if idx := strings.IndexAny(content, "{["); idx > 0 {
		if isLanguageTag(strings.TrimSpace(content[:idx])) {
			content = content[idx:]
		}
	} else if idx := strings.IndexByte(content, '\n'); idx >= 0 && isLanguageTag(strings.TrimSpace(content[:idx])) {
		content = content[idx+1:]
	}

	return strings.TrimSpace(content)
}

func isLanguageTag(tag string) bool {
	for _, r := range tag {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

// looksTruncated reports whether text appears to have been cut off: a dangling
// separator or opener at the end, or JSON that opens a brace or bracket and
// never returns to a balanced close.
func looksTruncated(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}

	switch trimmed[len(trimmed)-1] {
	case ',', '{', '[', ':':
		return true
	}

	if !strings.ContainsAny(trimmed, "{[") {
		return false
	}

	depth := 0
	inString := false
	escaped := false
	for _, r := range trimmed {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}

		switch r {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
		}
	}

	return inString || depth > 0
}
