package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const maxErrorSnippet = 200

// TransportError reports a network-level failure: dial, timeout, or body read.
type TransportError struct {
	Err   error
	Model string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error calling %s: %v", e.Model, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// APIStatusError reports a non-success HTTP status from the provider.
type APIStatusError struct {
	Model      string
	Body       string
	StatusCode int
}

func (e *APIStatusError) Error() string {
	return fmt.Sprintf("provider returned status %d for %s: %s", e.StatusCode, e.Model, snippet(e.Body))
}

// ProviderError reports an explicit error object in an otherwise successful response.
type ProviderError struct {
	Model   string
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider error for %s (code %s): %s", e.Model, e.Code, e.Message)
	}
	return fmt.Sprintf("provider error for %s: %s", e.Model, e.Message)
}

// StructureError reports a success payload without the expected choices/message envelope.
type StructureError struct {
	Model  string
	Reason string
}

func (e *StructureError) Error() string {
	return fmt.Sprintf("unexpected response structure from %s: %s", e.Model, e.Reason)
}

// TruncatedResponseError reports message content that was cut off mid-JSON.
type TruncatedResponseError struct {
	Err     error
	Model   string
	Content string
}

func (e *TruncatedResponseError) Error() string {
	return fmt.Sprintf("truncated JSON response from %s: %v", e.Model, e.Err)
}

func (e *TruncatedResponseError) Unwrap() error {
	return e.Err
}

// MalformedJSONError reports message content that is not valid JSON for the requested shape.
type MalformedJSONError struct {
	Err     error
	Model   string
	Content string
}

func (e *MalformedJSONError) Error() string {
	return fmt.Sprintf("malformed JSON response from %s: %v", e.Model, e.Err)
}

func (e *MalformedJSONError) Unwrap() error {
	return e.Err
}

// Error kinds, used as log fields and metric labels.
const (
	KindOK        = "ok"
	KindTransport = "transport"
	KindStatus    = "status"
	KindProvider  = "provider"
	KindStructure = "structure"
	KindTruncated = "truncated"
	KindMalformed = "malformed"
	KindUnknown   = "unknown"
)

// ErrorKind classifies err into one of the Kind constants.
func ErrorKind(err error) string {
	var (
		transportErr *TransportError
		statusErr    *APIStatusError
		providerErr  *ProviderError
		structureErr *StructureError
		truncatedErr *TruncatedResponseError
		malformedErr *MalformedJSONError
	)

	switch {
	case err == nil:
		return KindOK
	case errors.As(err, &transportErr):
		return KindTransport
	case errors.As(err, &statusErr):
		return KindStatus
	case errors.As(err, &providerErr):
		return KindProvider
	case errors.As(err, &structureErr):
		return KindStructure
	case errors.As(err, &truncatedErr):
		return KindTruncated
	case errors.As(err, &malformedErr):
		return KindMalformed
	default:
		return KindUnknown
	}
}

var (
	schemaFeatureMarkers = []string{
		"response_format",
		"response format",
		"json_schema",
		"json schema",
		"structured output",
		"structured_output",
	}
	unsupportedMarkers = []string{
		"not supported",
		"unsupported",
		"does not support",
		"doesn't support",
		"not available",
	}
)

// IsSchemaUnsupported reports whether err means the model rejected strict
// (JSON schema) mode, so the same model may be retried in loose mode.
func IsSchemaUnsupported(err error) bool {
	var statusErr *APIStatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
			return mentionsUnsupportedSchema(statusErr.Body)
		}
		return false
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return mentionsUnsupportedSchema(providerErr.Message)
	}

	return false
}

func mentionsUnsupportedSchema(msg string) bool {
	lower := strings.ToLower(msg)

	// Router wording when no upstream endpoint accepts the requested parameters.
	if strings.Contains(lower, "no endpoints found") && strings.Contains(lower, "requested parameters") {
		return true
	}

	return containsAny(lower, schemaFeatureMarkers) && containsAny(lower, unsupportedMarkers)
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxErrorSnippet {
		return s
	}
	return s[:maxErrorSnippet] + "..."
}
