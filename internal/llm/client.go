package llm

import (
	"context"
	"time"
)

// Completer performs a single chat completion call against one model.
type Completer interface {
	Complete(ctx context.Context, req Request) (Completion, error)
}

// Request describes one structured completion call.
type Request struct {
	Contract     ResponseContract
	Model        string
	SystemPrompt string
	UserPrompt   string
	Temperature  float64
	MaxTokens    int
}

// Completion is the validated text body returned by the provider.
type Completion struct {
	Model        string
	Content      string
	FinishReason string
}

// Message is a single chat message sent to the provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Contract modes, used for logging and metrics labels.
const (
	ModeStrict = "strict"
	ModeLoose  = "loose"
)

// ResponseContract is the requested response shape: Strict or Loose.
type ResponseContract interface {
	Mode() string
	format() responseFormat
}

// Strict asks the provider to conform exactly to a named JSON schema.
type Strict struct {
	Schema map[string]any
	Name   string
}

// Mode implements ResponseContract.
func (Strict) Mode() string { return ModeStrict }

func (s Strict) format() responseFormat {
	return responseFormat{
		Type: "json_schema",
		JSONSchema: &jsonSchemaFormat{
			Name:   s.Name,
			Strict: true,
			Schema: s.Schema,
		},
	}
}

// Loose only asks the provider to return a JSON object.
type Loose struct{}

// Mode implements ResponseContract.
func (Loose) Mode() string { return ModeLoose }

func (Loose) format() responseFormat {
	return responseFormat{Type: "json_object"}
}

// Config holds configuration for the completion client.
type Config struct {
	BaseURL   string
	APIKey    string
	AppName   string // sent as X-Title for provider attribution
	AppURL    string // sent as HTTP-Referer
	Breaker   BreakerConfig
	Timeout   time.Duration
	RateLimit int // requests per minute; 0 disables limiting
}

// BreakerConfig configures the per-model circuit breaker.
type BreakerConfig struct {
	OpenTimeout      time.Duration
	FailureRatio     float64
	MinRequests      uint32
	HalfOpenMaxCalls uint32
	Enabled          bool
}

// DefaultBaseURL is the OpenAI-compatible endpoint used when none is configured.
const DefaultBaseURL = "https://openrouter.ai/api/v1"
