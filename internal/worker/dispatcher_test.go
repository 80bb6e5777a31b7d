package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/budget-autocat/internal/common"
	"github.com/Veraticus/budget-autocat/internal/engine"
	"github.com/Veraticus/budget-autocat/internal/llm"
	"github.com/Veraticus/budget-autocat/internal/model"
)

type categorizerFunc func(ctx context.Context, description string) model.CategorizationResult

func (f categorizerFunc) Categorize(ctx context.Context, description string) model.CategorizationResult {
	return f(ctx, description)
}

func fixed(result model.CategorizationResult) categorizerFunc {
	return func(context.Context, string) model.CategorizationResult { return result }
}

type fakeLookup struct {
	err        error
	categories map[string]*model.Category
}

func newFakeLookup() *fakeLookup {
	l := &fakeLookup{categories: make(map[string]*model.Category)}
	for i, key := range model.DefaultCategoryKeys {
		l.categories[key] = &model.Category{ID: i + 1, Key: key, Name: model.DefaultCategoryNames[key]}
	}
	return l
}

func (l *fakeLookup) GetCategoryByKey(_ context.Context, key string) (*model.Category, error) {
	if l.err != nil {
		return nil, l.err
	}
	c, ok := l.categories[key]
	if !ok {
		return nil, fmt.Errorf("category %q: %w", key, common.ErrNotFound)
	}
	return c, nil
}

type fakeStore struct {
	updateErr    error
	markErr      error
	updates      map[string]model.CategorizationUpdate
	status       map[string]model.CategorizationStatus
	markFailures int
	markCalls    int
	mu           sync.Mutex
}

func newFakeStore(ids ...string) *fakeStore {
	s := &fakeStore{
		updates: make(map[string]model.CategorizationUpdate),
		status:  make(map[string]model.CategorizationStatus),
	}
	for _, id := range ids {
		s.status[id] = model.CategorizationPending
	}
	return s
}

func (s *fakeStore) UpdateCategorization(_ context.Context, transactionID, _ string, update model.CategorizationUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.updateErr != nil {
		return s.updateErr
	}
	s.updates[transactionID] = update
	s.status[transactionID] = update.Status
	return nil
}

func (s *fakeStore) MarkCategorizationCompleted(_ context.Context, transactionID, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.markCalls++
	if s.markErr != nil {
		return s.markErr
	}
	if s.markFailures > 0 {
		s.markFailures--
		return errors.New("database is locked")
	}
	s.status[transactionID] = model.CategorizationCompleted
	return nil
}

func (s *fakeStore) snapshot(id string) (model.CategorizationStatus, model.CategorizationUpdate, bool, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	update, ok := s.updates[id]
	return s.status[id], update, ok, s.markCalls
}

func testConfig() Config {
	return Config{MaxInFlight: 4, CompletionRetries: 3, RetryDelay: time.Millisecond}
}

// collect returns an OnFinished option and a function returning the outcomes seen so far.
func collect() (Option, func() []Outcome) {
	var mu sync.Mutex
	var outcomes []Outcome

	record := func(o Outcome) {
		mu.Lock()
		defer mu.Unlock()
		outcomes = append(outcomes, o)
	}
	seen := func() []Outcome {
		mu.Lock()
		defer mu.Unlock()
		return append([]Outcome(nil), outcomes...)
	}
	return WithOnFinished(record), seen
}

func TestDispatcher_Categorizes(t *testing.T) {
	store := newFakeStore("tx-1")
	onFinished, outcomes := collect()
	d := NewDispatcher(
		fixed(model.CategorizationResult{CategoryKey: "dining", Confidence: 0.95, Reasoning: "Coffee purchase"}),
		newFakeLookup(), store, testConfig(), onFinished)

	d.ScheduleCategorization("tx-1", "Coffee at Starbucks", "owner-1")
	d.Wait()

	status, update, ok, marks := store.snapshot("tx-1")
	require.True(t, ok)
	assert.Equal(t, model.CategorizationCompleted, status)
	require.NotNil(t, update.CategoryID)
	assert.Equal(t, 2, *update.CategoryID)
	assert.True(t, update.IsAICategorized)
	assert.Zero(t, marks)

	got := outcomes()
	require.Len(t, got, 1)
	assert.False(t, got[0].Forced)
	assert.NoError(t, got[0].Err)
	assert.Equal(t, OutcomeCategorized, got[0].Label())
	assert.Equal(t, "dining", got[0].Result.CategoryKey)
}

func TestDispatcher_LowConfidenceOtherIsNotAICategorized(t *testing.T) {
	store := newFakeStore("tx-1")
	d := NewDispatcher(
		fixed(model.CategorizationResult{CategoryKey: "other", Confidence: 0.3, Reasoning: "Low confidence (0.30): x"}),
		newFakeLookup(), store, testConfig())

	d.ScheduleCategorization("tx-1", "???", "owner-1")
	d.Wait()

	status, update, ok, _ := store.snapshot("tx-1")
	require.True(t, ok)
	assert.Equal(t, model.CategorizationCompleted, status)
	assert.False(t, update.IsAICategorized)
}

func TestDispatcher_ForcesCompletion(t *testing.T) {
	tests := []struct {
		setup       func(l *fakeLookup, s *fakeStore)
		categorizer Categorizer
		wantErrIs   error
		name        string
		wantErr     string
	}{
		{
			name: "engine panics",
			categorizer: categorizerFunc(func(context.Context, string) model.CategorizationResult {
				panic("boom")
			}),
			wantErr: "panic during categorization: boom",
		},
		{
			name:        "category not found",
			categorizer: fixed(model.CategorizationResult{CategoryKey: "dining", Confidence: 0.9}),
			setup: func(l *fakeLookup, _ *fakeStore) {
				delete(l.categories, "dining")
			},
			wantErrIs: common.ErrNotFound,
		},
		{
			name:        "lookup fails",
			categorizer: fixed(model.CategorizationResult{CategoryKey: "dining", Confidence: 0.9}),
			setup: func(l *fakeLookup, _ *fakeStore) {
				l.err = errors.New("connection reset")
			},
			wantErr: "connection reset",
		},
		{
			name:        "update fails",
			categorizer: fixed(model.CategorizationResult{CategoryKey: "dining", Confidence: 0.9}),
			setup: func(_ *fakeLookup, s *fakeStore) {
				s.updateErr = errors.New("disk full")
			},
			wantErr: "failed to update categorization: disk full",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lookup := newFakeLookup()
			store := newFakeStore("tx-1")
			if tt.setup != nil {
				tt.setup(lookup, store)
			}
			onFinished, outcomes := collect()
			d := NewDispatcher(tt.categorizer, lookup, store, testConfig(), onFinished)

			d.ScheduleCategorization("tx-1", "Coffee", "owner-1")
			d.Wait()

			status, _, updated, marks := store.snapshot("tx-1")
			assert.Equal(t, model.CategorizationCompleted, status)
			assert.False(t, updated, "forced completion must not change the category")
			assert.Equal(t, 1, marks)

			got := outcomes()
			require.Len(t, got, 1)
			assert.True(t, got[0].Forced)
			assert.Equal(t, OutcomeForced, got[0].Label())
			require.Error(t, got[0].Err)
			assert.ErrorIs(t, got[0].Err, common.ErrCategorizationFailed)
			if tt.wantErr != "" {
				assert.Contains(t, got[0].Err.Error(), tt.wantErr)
			}
			if tt.wantErrIs != nil {
				assert.ErrorIs(t, got[0].Err, tt.wantErrIs)
			}
		})
	}
}

func TestDispatcher_ForcedCompletionRetries(t *testing.T) {
	t.Run("transient failures are retried", func(t *testing.T) {
		store := newFakeStore("tx-1")
		store.updateErr = errors.New("database is locked")
		store.markFailures = 2

		d := NewDispatcher(fixed(model.CategorizationResult{CategoryKey: "dining", Confidence: 0.9}),
			newFakeLookup(), store, testConfig())
		d.ScheduleCategorization("tx-1", "Coffee", "owner-1")
		d.Wait()

		status, _, _, marks := store.snapshot("tx-1")
		assert.Equal(t, model.CategorizationCompleted, status)
		assert.Equal(t, 3, marks)
	})

	t.Run("gives up after the configured attempts", func(t *testing.T) {
		store := newFakeStore("tx-1")
		store.updateErr = errors.New("read-only database")
		store.markErr = errors.New("read-only database")
		onFinished, outcomes := collect()

		d := NewDispatcher(fixed(model.CategorizationResult{CategoryKey: "dining", Confidence: 0.9}),
			newFakeLookup(), store, testConfig(), onFinished)
		d.ScheduleCategorization("tx-1", "Coffee", "owner-1")
		d.Wait()

		_, _, _, marks := store.snapshot("tx-1")
		assert.Equal(t, 3, marks)

		got := outcomes()
		require.Len(t, got, 1)
		assert.Equal(t, OutcomeFailed, got[0].Label())
		assert.ErrorIs(t, got[0].Err, common.ErrMaxRetries)
	})

	t.Run("missing transaction is not retried", func(t *testing.T) {
		store := newFakeStore()
		store.updateErr = common.ErrNotFound
		store.markErr = fmt.Errorf("transaction tx-9: %w", common.ErrNotFound)

		d := NewDispatcher(fixed(model.CategorizationResult{CategoryKey: "dining", Confidence: 0.9}),
			newFakeLookup(), store, testConfig())
		d.ScheduleCategorization("tx-9", "Coffee", "owner-1")
		d.Wait()

		_, _, _, marks := store.snapshot("tx-9")
		assert.Equal(t, 1, marks)
	})
}

func TestDispatcher_ScheduleDoesNotBlock(t *testing.T) {
	release := make(chan struct{})
	store := newFakeStore("tx-1")
	d := NewDispatcher(categorizerFunc(func(context.Context, string) model.CategorizationResult {
		<-release
		return model.CategorizationResult{CategoryKey: "dining", Confidence: 0.9}
	}), newFakeLookup(), store, Config{MaxInFlight: 1, RetryDelay: time.Millisecond})

	returned := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			d.ScheduleCategorization(fmt.Sprintf("tx-%d", i), "Coffee", "owner-1")
		}
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("ScheduleCategorization blocked on in-flight work")
	}

	close(release)
	d.Wait()
}

func TestDispatcher_BoundsInFlight(t *testing.T) {
	var current, peak atomic.Int32
	categorizer := categorizerFunc(func(context.Context, string) model.CategorizationResult {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		current.Add(-1)
		return model.CategorizationResult{CategoryKey: "dining", Confidence: 0.9}
	})

	ids := make([]string, 12)
	for i := range ids {
		ids[i] = fmt.Sprintf("tx-%d", i)
	}
	store := newFakeStore(ids...)
	d := NewDispatcher(categorizer, newFakeLookup(), store, Config{MaxInFlight: 2, RetryDelay: time.Millisecond})

	for _, id := range ids {
		d.ScheduleCategorization(id, "Coffee", "owner-1")
	}
	d.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(2))
	for _, id := range ids {
		status, _, _, _ := store.snapshot(id)
		assert.Equal(t, model.CategorizationCompleted, status, id)
	}
}

func TestDispatcher_ShutdownDeadline(t *testing.T) {
	store := newFakeStore("tx-1")
	d := NewDispatcher(categorizerFunc(func(ctx context.Context, _ string) model.CategorizationResult {
		<-ctx.Done()
		return model.CategorizationResult{CategoryKey: "other", Reasoning: "AI categorization unavailable. Tried 1 model(s)."}
	}), newFakeLookup(), store, testConfig())

	d.ScheduleCategorization("tx-1", "Coffee", "owner-1")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := d.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	status, _, _, _ := store.snapshot("tx-1")
	assert.Equal(t, model.CategorizationCompleted, status)
}

func TestDispatcher_WithEngine(t *testing.T) {
	mock := engine.NewMockCompleter(func(llm.Request) (string, error) {
		return "", &llm.TransportError{Err: errors.New("no route to host")}
	})
	eng := engine.New(mock, nil, engine.DefaultConfig(), engine.WithModels("model-a", "model-b"))

	store := newFakeStore("tx-1")
	d := NewDispatcher(eng, newFakeLookup(), store, testConfig())

	d.ScheduleCategorization("tx-1", "Coffee at Starbucks", "owner-1")
	d.Wait()

	status, update, ok, marks := store.snapshot("tx-1")
	require.True(t, ok)
	assert.Equal(t, model.CategorizationCompleted, status)
	assert.False(t, update.IsAICategorized)
	require.NotNil(t, update.CategoryID)
	assert.Equal(t, len(model.DefaultCategoryKeys), *update.CategoryID, "uncategorized transactions land in other")
	assert.Zero(t, marks)
	assert.Equal(t, 2, mock.CallCount())
}

func TestDispatcher_PanickingHookIsContained(t *testing.T) {
	store := newFakeStore("tx-1", "tx-2")
	hook := WithOnFinished(func(Outcome) { panic("hook exploded") })
	d := NewDispatcher(fixed(model.CategorizationResult{CategoryKey: "dining", Confidence: 0.9}),
		newFakeLookup(), store, testConfig(), hook)

	d.ScheduleCategorization("tx-1", "Coffee", "owner-1")
	d.ScheduleCategorization("tx-2", "Lunch", "owner-1")
	d.Wait()

	for _, id := range []string{"tx-1", "tx-2"} {
		status, _, updated, _ := store.snapshot(id)
		assert.Equal(t, model.CategorizationCompleted, status)
		assert.True(t, updated)
	}
}
