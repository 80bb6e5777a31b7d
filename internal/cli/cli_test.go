package cli

import (
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Veraticus/budget-autocat/internal/model"
)

func TestRenderResult(t *testing.T) {
	out := RenderResult("Coffee at Starbucks", model.CategorizationResult{
		CategoryKey: "dining",
		Confidence:  0.95,
		Reasoning:   "Coffee purchase",
	})

	assert.Contains(t, out, "Coffee at Starbucks")
	assert.Contains(t, out, "dining")
	assert.Contains(t, out, "0.95")
	assert.Contains(t, out, "AI categorized")

	out = RenderResult("???", model.CategorizationResult{
		CategoryKey: "other",
		Reasoning:   "AI categorization unavailable. Tried 5 model(s).",
	})
	assert.Contains(t, out, "Tried 5 model(s)")
	assert.NotContains(t, out, "AI categorized")
}

func TestRenderTransaction(t *testing.T) {
	id := 3
	txn := model.Transaction{
		ID:                   "tx-1",
		Description:          "Uber",
		Amount:               -18.5,
		Date:                 time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		CategoryID:           &id,
		CategorizationStatus: model.CategorizationCompleted,
		IsAICategorized:      true,
	}

	out := RenderTransaction(txn, &model.Category{ID: 3, Key: "transport", Name: "Transport"})
	assert.Contains(t, out, "Transport (transport)")
	assert.Contains(t, out, "2025-03-01")
	assert.Contains(t, out, "completed")

	out = RenderTransaction(model.Transaction{CategorizationStatus: model.CategorizationPending}, nil)
	assert.Contains(t, out, "uncategorized")
}

func TestRenderCategories(t *testing.T) {
	assert.Contains(t, RenderCategories(nil), "No categories found")

	out := RenderCategories([]model.Category{{Key: "dining", Name: "Dining Out"}, {Key: "other", Name: "Other"}})
	assert.Contains(t, out, "Categories (2)")
	assert.Contains(t, out, "Dining Out")
}

func TestTally(t *testing.T) {
	tally := NewTally(NewProgressBar(io.Discard, 30, "Categorizing"))

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			switch i % 3 {
			case 0:
				tally.Record("categorized")
			case 1:
				tally.Record("forced")
			default:
				tally.Record("failed")
			}
		}(i)
	}
	wg.Wait()

	categorized, forced, failed := tally.Counts()
	assert.Equal(t, 10, categorized)
	assert.Equal(t, 10, forced)
	assert.Equal(t, 10, failed)
	assert.Contains(t, tally.Summary(), fmt.Sprintf("%d categorized", 10))
}
