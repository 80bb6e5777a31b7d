package llm

import (
	"log/slog"
	"net/http"

	"github.com/Veraticus/budget-autocat/internal/metrics"
)

// Option customizes client construction.
type Option func(*options)

type options struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// WithHTTPClient overrides the HTTP client used for provider calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithLogger sets the logger used by the client and its decorators.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records request and breaker metrics into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// NewClient creates a Completer from configuration. The returned client is
// wrapped, outermost first, in a per-model circuit breaker (if enabled) and a
// rate limiter (if RateLimit > 0).
func NewClient(cfg Config, opts ...Option) (Completer, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	base, err := newOpenAIClient(cfg, o.httpClient, o.logger, o.metrics)
	if err != nil {
		return nil, err
	}

	var client Completer = base
	if cfg.RateLimit > 0 {
		client = newRateLimitedCompleter(client, cfg.RateLimit)
	}
	if cfg.Breaker.Enabled {
		client = newBreakerCompleter(client, cfg.Breaker, o.logger, o.metrics)
	}

	return client, nil
}
