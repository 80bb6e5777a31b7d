// Package llm provides the completion client used for transaction categorization.
// It speaks the OpenAI-compatible chat completions protocol, enforces a strict
// (JSON schema) or loose (JSON object) response contract, and reports every
// failure as a distinct, inspectable error type. Rate limiting and per-model
// circuit breaking are layered on as decorators; retry and model fallback are
// deliberately left to callers.
package llm
