// Package worker runs categorization in the background, detached from the
// code path that created the transaction.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Veraticus/budget-autocat/internal/common"
	"github.com/Veraticus/budget-autocat/internal/metrics"
	"github.com/Veraticus/budget-autocat/internal/model"
)

// Categorizer turns a description into a categorization result. Implementations
// are expected to be total, but the dispatcher recovers from panics anyway.
type Categorizer interface {
	Categorize(ctx context.Context, description string) model.CategorizationResult
}

// CategoryLookup resolves a category key to its entity. It returns an error
// wrapping common.ErrNotFound when the key is unknown.
type CategoryLookup interface {
	GetCategoryByKey(ctx context.Context, key string) (*model.Category, error)
}

// TransactionStore persists the categorization outcome, scoped by transaction and owner.
type TransactionStore interface {
	UpdateCategorization(ctx context.Context, transactionID, ownerID string, update model.CategorizationUpdate) error
	MarkCategorizationCompleted(ctx context.Context, transactionID, ownerID string) error
}

// Job outcomes, used as metric labels.
const (
	OutcomeCategorized = "categorized"
	OutcomeForced      = "forced"
	OutcomeFailed      = "failed"
)

// Outcome describes how one scheduled categorization ended.
type Outcome struct {
	Err           error
	TransactionID string
	Result        model.CategorizationResult
	Forced        bool
}

// Label returns the metric label for o.
func (o Outcome) Label() string {
	switch {
	case !o.Forced:
		return OutcomeCategorized
	case o.Err != nil && errors.Is(o.Err, errForceFailed):
		return OutcomeFailed
	default:
		return OutcomeForced
	}
}

var errForceFailed = errors.New("forced completion failed")

// Config holds dispatcher settings.
type Config struct {
	// MaxInFlight bounds concurrently running jobs; 0 means unbounded.
	MaxInFlight       int
	CompletionRetries int
	RetryDelay        time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MaxInFlight:       8,
		CompletionRetries: 3,
		RetryDelay:        200 * time.Millisecond,
	}
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher's logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithMetrics records job metrics into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithOnFinished registers a hook called once per job after it ends.
// The hook runs on the job's goroutine.
func WithOnFinished(fn func(Outcome)) Option {
	return func(d *Dispatcher) { d.onFinished = fn }
}

// Dispatcher schedules categorization jobs and guarantees each targeted
// transaction leaves the pending state.
type Dispatcher struct {
	ctx          context.Context
	categorizer  Categorizer
	categories   CategoryLookup
	transactions TransactionStore
	logger       *slog.Logger
	metrics      *metrics.Metrics
	sem          *semaphore.Weighted
	onFinished   func(Outcome)
	cancel       context.CancelFunc
	retry        common.RetryOptions
	wg           sync.WaitGroup
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(categorizer Categorizer, categories CategoryLookup, transactions TransactionStore, cfg Config, opts ...Option) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())

	d := &Dispatcher{
		ctx:          ctx,
		cancel:       cancel,
		categorizer:  categorizer,
		categories:   categories,
		transactions: transactions,
		retry: common.RetryOptions{
			MaxAttempts:  cfg.CompletionRetries,
			InitialDelay: cfg.RetryDelay,
			MaxDelay:     5 * time.Second,
			Multiplier:   2.0,
		},
	}
	if cfg.MaxInFlight > 0 {
		d.sem = semaphore.NewWeighted(int64(cfg.MaxInFlight))
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

// ScheduleCategorization starts a detached job for the transaction and
// returns immediately.
func (d *Dispatcher) ScheduleCategorization(transactionID, description, ownerID string) {
	d.wg.Add(1)
	d.metrics.JobStarted()

	go d.run(transactionID, description, ownerID)
}

// Wait blocks until every scheduled job has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Shutdown waits for in-flight jobs until ctx expires. On expiry, running jobs
// are canceled so they fall through to forced completion, and ctx's error is
// returned once they have drained.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.logger.Warn("shutdown deadline reached, canceling in-flight categorizations")
		d.cancel()
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) run(transactionID, description, ownerID string) {
	defer d.wg.Done()

	start := time.Now()
	outcome := Outcome{TransactionID: transactionID}
	defer func() {
		d.metrics.JobFinished(outcome.Label(), time.Since(start))
		d.notify(outcome)
	}()

	logger := d.logger.With("transaction_id", transactionID, "owner_id", ownerID)

	var err error
	if d.sem != nil {
		if err = d.sem.Acquire(d.ctx, 1); err == nil {
			defer d.sem.Release(1)
		} else {
			err = fmt.Errorf("waiting for worker slot: %w", err)
		}
	}
	if err == nil {
		outcome.Result, err = d.process(d.ctx, transactionID, description, ownerID)
	}
	if err == nil {
		logger.Info("transaction categorized",
			"category", outcome.Result.CategoryKey,
			"confidence", outcome.Result.Confidence,
			"elapsed", time.Since(start))
		return
	}

	logger.Error("categorization failed, forcing completion", "error", err)
	outcome.Forced = true
	outcome.Err = fmt.Errorf("%w: %w", common.ErrCategorizationFailed, err)

	if forceErr := d.forceCompletion(transactionID, ownerID); forceErr != nil {
		logger.Error("failed to force categorization completion", "error", forceErr)
		outcome.Err = errors.Join(outcome.Err, fmt.Errorf("%w: %w", errForceFailed, forceErr))
	}
}

// process runs the categorize, lookup and update steps. Any panic along the
// way is converted into an error.
func (d *Dispatcher) process(ctx context.Context, transactionID, description, ownerID string) (result model.CategorizationResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic during categorization",
				"transaction_id", transactionID,
				"panic", r,
				"stack", string(debug.Stack()))
			err = fmt.Errorf("panic during categorization: %v", r)
		}
	}()

	result = d.categorizer.Categorize(ctx, description)

	category, err := d.categories.GetCategoryByKey(ctx, result.CategoryKey)
	if err != nil {
		return result, fmt.Errorf("failed to look up category %q: %w", result.CategoryKey, err)
	}
	if category == nil {
		return result, fmt.Errorf("category %q: %w", result.CategoryKey, common.ErrNotFound)
	}

	categoryID := category.ID
	update := model.CategorizationUpdate{
		CategoryID:      &categoryID,
		IsAICategorized: result.IsAICategorized(),
		Status:          model.CategorizationCompleted,
	}
	if err := d.transactions.UpdateCategorization(ctx, transactionID, ownerID, update); err != nil {
		return result, fmt.Errorf("failed to update categorization: %w", err)
	}

	return result, nil
}

// forceCompletion marks the transaction completed without touching its
// category. It runs on a context that outlives shutdown cancellation.
func (d *Dispatcher) forceCompletion(transactionID, ownerID string) error {
	ctx := context.WithoutCancel(d.ctx)

	return common.WithRetry(ctx, func() error {
		err := d.markCompleted(ctx, transactionID, ownerID)
		if errors.Is(err, common.ErrNotFound) {
			return &common.RetryableError{Err: err, Retryable: false}
		}
		return err
	}, d.retry)
}

func (d *Dispatcher) markCompleted(ctx context.Context, transactionID, ownerID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while marking completion: %v", r)
		}
	}()
	return d.transactions.MarkCategorizationCompleted(ctx, transactionID, ownerID)
}

// notify runs the OnFinished hook. A panicking hook is logged, not propagated.
func (d *Dispatcher) notify(outcome Outcome) {
	if d.onFinished == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic in OnFinished hook",
				"transaction_id", outcome.TransactionID,
				"panic", r)
		}
	}()
	d.onFinished(outcome)
}
