// Package engine implements the categorization policy: prompt construction,
// the ordered model fallback chain, and validation of provider output.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Veraticus/budget-autocat/internal/llm"
	"github.com/Veraticus/budget-autocat/internal/metrics"
	"github.com/Veraticus/budget-autocat/internal/model"
)

// MaxDescriptionRunes bounds the description length sent to the provider.
const MaxDescriptionRunes = 500

// FreeModels are the low-cost models tried after the configured primary model.
var FreeModels = []string{
	"meta-llama/llama-3.3-70b-instruct:free",
	"google/gemini-2.0-flash-exp:free",
	"mistralai/mistral-7b-instruct:free",
}

// PaidModels are tried last.
var PaidModels = []string{
	"openai/gpt-4o-mini",
	"anthropic/claude-3.5-haiku",
}

// Config holds configuration for the engine.
type Config struct {
	PrimaryModel string
	Temperature  float64
	MaxTokens    int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Temperature: 0.1,
		MaxTokens:   300,
	}
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics records attempt and outcome metrics into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithModels replaces the fixed low-cost and paid model lists. The configured
// primary model, if any, still goes first.
func WithModels(models ...string) Option {
	return func(e *Engine) { e.fixed = models }
}

// Engine categorizes transaction descriptions. It is safe for concurrent use;
// nothing is mutated after New returns.
type Engine struct {
	client  llm.Completer
	keys    KeySource
	logger  *slog.Logger
	metrics *metrics.Metrics
	fixed   []string
	models  []string
	cfg     Config
}

// New creates an engine that calls client and validates loose-mode results
// against keys. keys may be nil, in which case the fixed key set is used.
func New(client llm.Completer, keys KeySource, cfg Config, opts ...Option) *Engine {
	defaults := DefaultConfig()
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	if cfg.Temperature < 0 {
		cfg.Temperature = defaults.Temperature
	}

	e := &Engine{
		client: client,
		keys:   keys,
		cfg:    cfg,
		fixed:  append(append([]string{}, FreeModels...), PaidModels...),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}

	e.models = buildModelChain(cfg.PrimaryModel, e.fixed)
	return e
}

// Models returns a copy of the fallback chain in the order it is tried.
func (e *Engine) Models() []string {
	return append([]string(nil), e.models...)
}

// buildModelChain puts primary first, then the fixed models, dropping blanks
// and duplicates while preserving order.
func buildModelChain(primary string, fixed []string) []string {
	seen := make(map[string]bool)
	chain := make([]string, 0, len(fixed)+1)

	for _, m := range append([]string{primary}, fixed...) {
		m = strings.TrimSpace(m)
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		chain = append(chain, m)
	}
	return chain
}

// attemptFailure records why one model in the chain was skipped.
type attemptFailure struct {
	Err   error
	Model string
}

// Categorize classifies description. It never returns an error: every
// failure resolves to the "other" category with zero confidence.
func (e *Engine) Categorize(ctx context.Context, description string) model.CategorizationResult {
	if strings.TrimSpace(description) == "" {
		e.metrics.ObserveCategorization(outcomeEmpty)
		return model.CategorizationResult{
			CategoryKey: model.CategoryKeyOther,
			Confidence:  0,
			Reasoning:   "No description provided",
		}
	}

	description = truncateDescription(description, MaxDescriptionRunes)

	var failures []attemptFailure
	for _, modelID := range e.models {
		if ctx.Err() != nil {
			e.logger.Warn("categorization canceled",
				"attempted", len(failures),
				"remaining", len(e.models)-len(failures),
				"error", ctx.Err())
			break
		}

		result, outcome, err := e.tryModel(ctx, modelID, description)
		if err == nil {
			e.logger.Debug("categorization succeeded",
				"model", modelID,
				"category", result.CategoryKey,
				"confidence", result.Confidence,
				"outcome", outcome)
			e.metrics.ObserveCategorization(outcome)
			return result
		}

		failures = append(failures, attemptFailure{Model: modelID, Err: err})
		e.logger.Warn("model attempt failed, trying next model",
			"model", modelID,
			"kind", errorKind(err),
			"error", err)
	}

	e.logger.Error("all models failed to categorize transaction",
		"attempts", len(failures),
		"errors", summarize(failures))
	e.metrics.ObserveCategorization(outcomeUnavailable)

	return model.CategorizationResult{
		CategoryKey: model.CategoryKeyOther,
		Confidence:  0,
		Reasoning:   fmt.Sprintf("AI categorization unavailable. Tried %d model(s).", len(failures)),
	}
}

// tryModel performs the strict attempt for one model and, if the model
// rejects schema mode, a single loose attempt.
func (e *Engine) tryModel(ctx context.Context, modelID, description string) (model.CategorizationResult, string, error) {
	strictKeys := model.DefaultCategoryKeys
	req := llm.Request{
		Model:        modelID,
		SystemPrompt: buildSystemPrompt(strictKeys),
		UserPrompt:   buildUserPrompt(description),
		Contract:     llm.Strict{Name: schemaName, Schema: categorizationSchema(strictKeys)},
		Temperature:  e.cfg.Temperature,
		MaxTokens:    e.cfg.MaxTokens,
	}

	raw, err := llm.RequestStructuredCompletion[map[string]any](ctx, e.client, req)
	if err == nil {
		return e.validate(modelID, llm.ModeStrict, raw, strictKeys)
	}
	e.metrics.ObserveAttempt(modelID, llm.ModeStrict, llm.ErrorKind(err))

	if !llm.IsSchemaUnsupported(err) {
		return model.CategorizationResult{}, "", err
	}

	e.logger.Info("model rejected strict mode, retrying in loose mode", "model", modelID)

	looseKeys := e.liveKeys(ctx)
	req.Contract = llm.Loose{}
	req.SystemPrompt = buildSystemPrompt(looseKeys)

	raw, err = llm.RequestStructuredCompletion[map[string]any](ctx, e.client, req)
	if err != nil {
		e.metrics.ObserveAttempt(modelID, llm.ModeLoose, llm.ErrorKind(err))
		return model.CategorizationResult{}, "", err
	}
	return e.validate(modelID, llm.ModeLoose, raw, looseKeys)
}

func (e *Engine) validate(modelID, mode string, raw map[string]any, known []string) (model.CategorizationResult, string, error) {
	result, outcome, err := normalize(raw, known)
	if err != nil {
		e.metrics.ObserveAttempt(modelID, mode, "invalid_output")
		return model.CategorizationResult{}, "", &invalidOutputError{Model: modelID, Err: err}
	}
	e.metrics.ObserveAttempt(modelID, mode, llm.KindOK)
	return result, outcome, nil
}

// liveKeys reads the repository key set, falling back to the fixed enumeration.
func (e *Engine) liveKeys(ctx context.Context) []string {
	if e.keys == nil {
		return model.DefaultCategoryKeys
	}

	keys, err := e.keys.CategoryKeys(ctx)
	if err != nil {
		e.logger.Warn("failed to load category keys, using defaults", "error", err)
		return model.DefaultCategoryKeys
	}
	if len(keys) == 0 {
		return model.DefaultCategoryKeys
	}
	return keys
}

func errorKind(err error) string {
	var invalid *invalidOutputError
	if errors.As(err, &invalid) {
		return "invalid_output"
	}
	return llm.ErrorKind(err)
}

func summarize(failures []attemptFailure) []string {
	out := make([]string, len(failures))
	for i, f := range failures {
		out[i] = f.Model + ": " + f.Err.Error()
	}
	return out
}
