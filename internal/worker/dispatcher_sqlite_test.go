package worker

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/budget-autocat/internal/engine"
	"github.com/Veraticus/budget-autocat/internal/llm"
	"github.com/Veraticus/budget-autocat/internal/model"
	"github.com/Veraticus/budget-autocat/internal/testutil"
)

func TestDispatcher_SQLiteEndToEnd(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t)

	mock := engine.NewMockCompleter(func(req llm.Request) (string, error) {
		switch {
		case strings.Contains(req.UserPrompt, "Starbucks"):
			return `{"categoryKey":"dining","confidence":0.95,"reasoning":"Coffee purchase"}`, nil
		case strings.Contains(req.UserPrompt, "Mystery"):
			return `{"categoryKey":"shopping","confidence":0.2,"reasoning":"Unclear"}`, nil
		default:
			return "", &llm.TransportError{Err: errors.New("connection refused")}
		}
	})
	eng := engine.New(mock, db, engine.DefaultConfig(), engine.WithModels("model-a"))
	d := NewDispatcher(eng, db, db, testConfig())

	coffee := testutil.CreatePendingTransaction(t, db)
	mystery := testutil.CreatePendingTransaction(t, db, testutil.WithDescription("Mystery charge"))
	offline := testutil.CreatePendingTransaction(t, db, testutil.WithDescription("Hardware store"), testutil.WithOwner("owner-2"))

	for _, txn := range []model.Transaction{coffee, mystery, offline} {
		d.ScheduleCategorization(txn.ID, txn.Description, txn.OwnerID)
	}
	d.Wait()

	dining, err := db.GetCategoryByKey(ctx, "dining")
	require.NoError(t, err)
	other, err := db.GetCategoryByKey(ctx, "other")
	require.NoError(t, err)

	got, err := db.GetTransaction(ctx, coffee.ID, coffee.OwnerID)
	require.NoError(t, err)
	assert.Equal(t, model.CategorizationCompleted, got.CategorizationStatus)
	require.NotNil(t, got.CategoryID)
	assert.Equal(t, dining.ID, *got.CategoryID)
	assert.True(t, got.IsAICategorized)

	got, err = db.GetTransaction(ctx, mystery.ID, mystery.OwnerID)
	require.NoError(t, err)
	assert.Equal(t, model.CategorizationCompleted, got.CategorizationStatus)
	require.NotNil(t, got.CategoryID)
	assert.Equal(t, other.ID, *got.CategoryID)
	assert.False(t, got.IsAICategorized, "other below the threshold is not an AI categorization")

	got, err = db.GetTransaction(ctx, offline.ID, offline.OwnerID)
	require.NoError(t, err)
	assert.Equal(t, model.CategorizationCompleted, got.CategorizationStatus)
	assert.False(t, got.IsAICategorized)

	pending, err := db.GetPendingTransactions(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
