package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// rateLimitedCompleter waits for a token before each call to the wrapped Completer.
type rateLimitedCompleter struct {
	next    Completer
	limiter *rate.Limiter
}

// newRateLimitedCompleter limits next to requestsPerMinute, allowing short bursts.
func newRateLimitedCompleter(next Completer, requestsPerMinute int) *rateLimitedCompleter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}

	burst := requestsPerMinute / 10
	if burst < 1 {
		burst = 1
	}

	return &rateLimitedCompleter{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), burst),
	}
}

// Complete implements Completer.
func (r *rateLimitedCompleter) Complete(ctx context.Context, req Request) (Completion, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return Completion{}, &TransportError{Model: req.Model, Err: fmt.Errorf("rate limiter canceled: %w", err)}
	}
	return r.next.Complete(ctx, req)
}
