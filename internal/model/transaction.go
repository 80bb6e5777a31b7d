package model

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// Transaction represents a single financial transaction owned by one user.
type Transaction struct {
	Date                 time.Time
	CreatedAt            time.Time
	CategoryID           *int // nil until categorization assigns one
	ID                   string
	OwnerID              string
	Description          string // Free-text description used for categorization
	CategorizationStatus CategorizationStatus
	Amount               float64
	IsAICategorized      bool
}

// GenerateHash creates a unique hash for duplicate detection within an owner's ledger.
func (t *Transaction) GenerateHash() string {
	data := fmt.Sprintf("%s:%s:%.2f:%s",
		t.OwnerID,
		t.Date.Format("2006-01-02"),
		t.Amount,
		t.Description)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}
