package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Veraticus/budget-autocat/internal/metrics"
)

// openAIClient implements Completer against an OpenAI-compatible chat completions API.
type openAIClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
	endpoint   string
	apiKey     string
	appName    string
	appURL     string
}

// newOpenAIClient creates a new chat completions client.
func newOpenAIClient(cfg Config, httpClient *http.Client, logger *slog.Logger, m *metrics.Metrics) (*openAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("LLM API key is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &openAIClient{
		httpClient: httpClient,
		logger:     logger,
		metrics:    m,
		endpoint:   strings.TrimRight(baseURL, "/") + "/chat/completions",
		apiKey:     cfg.APIKey,
		appName:    cfg.AppName,
		appURL:     cfg.AppURL,
	}, nil
}

// chatRequest is the wire request body.
type chatRequest struct {
	ResponseFormat responseFormat `json:"response_format"`
	Model          string         `json:"model"`
	Messages       []Message      `json:"messages"`
	Temperature    float64        `json:"temperature"`
	MaxTokens      int            `json:"max_tokens"`
}

type responseFormat struct {
	JSONSchema *jsonSchemaFormat `json:"json_schema,omitempty"`
	Type       string            `json:"type"`
}

type jsonSchemaFormat struct {
	Schema map[string]any `json:"schema"`
	Name   string         `json:"name"`
	Strict bool           `json:"strict"`
}

// chatResponse represents the chat completions response envelope.
type chatResponse struct {
	Error   *providerErrorBody `json:"error"`
	ID      string             `json:"id"`
	Model   string             `json:"model"`
	Choices []struct {
		Message *struct {
			Content *string `json:"content"`
			Role    string  `json:"role"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
		Index        int    `json:"index"`
	} `json:"choices"`
}

type providerErrorBody struct {
	Code    any    `json:"code"`
	Message string `json:"message"`
}

// Complete sends one chat completion request and validates the response envelope.
func (c *openAIClient) Complete(ctx context.Context, req Request) (Completion, error) {
	start := time.Now()
	completion, err := c.complete(ctx, req)
	c.metrics.ObserveCompletion(req.Model, ErrorKind(err), time.Since(start))
	return completion, err
}

func (c *openAIClient) complete(ctx context.Context, req Request) (Completion, error) {
	contract := req.Contract
	if contract == nil {
		contract = Loose{}
	}

	body := chatRequest{
		Model: req.Model,
		Messages: []Message{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: req.UserPrompt},
		},
		ResponseFormat: contract.format(),
		Temperature:    req.Temperature,
		MaxTokens:      req.MaxTokens,
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return Completion{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return Completion{}, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if c.appURL != "" {
		httpReq.Header.Set("HTTP-Referer", c.appURL)
	}
	if c.appName != "" {
		httpReq.Header.Set("X-Title", c.appName)
	}

	c.logger.Debug("sending completion request",
		"model", req.Model,
		"mode", contract.Mode(),
		"max_tokens", req.MaxTokens)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Completion{}, &TransportError{Model: req.Model, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Completion{}, &TransportError{Model: req.Model, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Completion{}, &APIStatusError{Model: req.Model, StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var response chatResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return Completion{}, &StructureError{Model: req.Model, Reason: fmt.Sprintf("response body is not JSON: %v", err)}
	}

	if response.Error != nil {
		return Completion{}, &ProviderError{
			Model:   req.Model,
			Code:    providerCode(response.Error.Code),
			Message: response.Error.Message,
		}
	}

	if len(response.Choices) == 0 {
		return Completion{}, &StructureError{Model: req.Model, Reason: "no completion choices returned"}
	}

	choice := response.Choices[0]
	if choice.Message == nil {
		return Completion{}, &StructureError{Model: req.Model, Reason: "choice has no message"}
	}
	if choice.Message.Content == nil || strings.TrimSpace(*choice.Message.Content) == "" {
		return Completion{}, &StructureError{Model: req.Model, Reason: "message has no content"}
	}

	return Completion{
		Model:        req.Model,
		Content:      *choice.Message.Content,
		FinishReason: choice.FinishReason,
	}, nil
}

func providerCode(code any) string {
	switch v := code.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return fmt.Sprintf("%d", int(v))
	default:
		return fmt.Sprintf("%v", v)
	}
}
