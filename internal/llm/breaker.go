package llm

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/Veraticus/budget-autocat/internal/metrics"
)

// breakerCompleter keeps one circuit breaker per model so a model that keeps
// failing is skipped quickly while other models stay available.
type breakerCompleter struct {
	next     Completer
	logger   *slog.Logger
	metrics  *metrics.Metrics
	breakers map[string]*gobreaker.CircuitBreaker[Completion]
	cfg      BreakerConfig
	mu       sync.Mutex
}

func newBreakerCompleter(next Completer, cfg BreakerConfig, logger *slog.Logger, m *metrics.Metrics) *breakerCompleter {
	if cfg.MinRequests == 0 {
		cfg.MinRequests = 5
	}
	if cfg.FailureRatio <= 0 {
		cfg.FailureRatio = 0.6
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = time.Minute
	}
	if cfg.HalfOpenMaxCalls == 0 {
		cfg.HalfOpenMaxCalls = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &breakerCompleter{
		next:     next,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		breakers: make(map[string]*gobreaker.CircuitBreaker[Completion]),
	}
}

// Complete implements Completer. An open breaker fails fast with a TransportError.
func (b *breakerCompleter) Complete(ctx context.Context, req Request) (Completion, error) {
	cb := b.breaker(req.Model)

	completion, err := cb.Execute(func() (Completion, error) {
		return b.next.Complete(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Completion{}, &TransportError{Model: req.Model, Err: err}
	}

	return completion, err
}

func (b *breakerCompleter) breaker(model string) *gobreaker.CircuitBreaker[Completion] {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cb, ok := b.breakers[model]; ok {
		return cb
	}

	settings := gobreaker.Settings{
		Name:        model,
		MaxRequests: b.cfg.HalfOpenMaxCalls,
		Timeout:     b.cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < b.cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= b.cfg.FailureRatio
		},
		IsSuccessful: countsAsHealthy,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			b.logger.Warn("circuit breaker state change",
				"model", name,
				"from", from.String(),
				"to", to.String())
			b.metrics.SetBreakerState(name, to.String())
		},
	}

	cb := gobreaker.NewCircuitBreaker[Completion](settings)
	b.breakers[model] = cb
	return cb
}

// countsAsHealthy decides which errors do not count against a model's breaker.
// Client-side 4xx rejections (such as strict mode being unsupported) and caller
// cancellations say nothing about the model's availability.
func countsAsHealthy(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}

	var statusErr *APIStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 400 && statusErr.StatusCode < 500 &&
			statusErr.StatusCode != http.StatusTooManyRequests
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return IsSchemaUnsupported(err)
	}

	return false
}
