// Package testutil provides shared helpers for tests that need a real database.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/budget-autocat/internal/model"
	"github.com/Veraticus/budget-autocat/internal/storage"
)

// SetupTestDB creates a migrated in-memory database seeded with the default
// categories. It is closed automatically when the test ends.
func SetupTestDB(t *testing.T) *storage.SQLiteStorage {
	t.Helper()

	db, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

// TransactionOption customizes a transaction created by CreatePendingTransaction.
type TransactionOption func(*model.Transaction)

// WithDescription sets the transaction description.
func WithDescription(description string) TransactionOption {
	return func(txn *model.Transaction) { txn.Description = description }
}

// WithOwner sets the owning user.
func WithOwner(ownerID string) TransactionOption {
	return func(txn *model.Transaction) { txn.OwnerID = ownerID }
}

// WithAmount sets the transaction amount.
func WithAmount(amount float64) TransactionOption {
	return func(txn *model.Transaction) { txn.Amount = amount }
}

// CreatePendingTransaction stores a pending transaction with a fresh ID and
// returns it.
func CreatePendingTransaction(t *testing.T, db *storage.SQLiteStorage, opts ...TransactionOption) model.Transaction {
	t.Helper()

	txn := model.Transaction{
		ID:          uuid.NewString(),
		OwnerID:     "owner-1",
		Description: "Coffee at Starbucks",
		Amount:      -4.75,
		Date:        time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC),
	}
	for _, opt := range opts {
		opt(&txn)
	}

	if err := db.CreateTransaction(context.Background(), &txn); err != nil {
		t.Fatalf("failed to create transaction: %v", err)
	}
	return txn
}
