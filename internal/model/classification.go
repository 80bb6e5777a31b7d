// Package model defines the core domain models used throughout the application.
package model

// CategorizationStatus tracks whether background AI categorization has finished
// for a transaction. The only transition is pending -> completed.
type CategorizationStatus string

// Categorization status constants.
const (
	CategorizationPending   CategorizationStatus = "pending"
	CategorizationCompleted CategorizationStatus = "completed"
)

// IsValid reports whether s is a known categorization status.
func (s CategorizationStatus) IsValid() bool {
	return s == CategorizationPending || s == CategorizationCompleted
}

// AcceptanceThreshold is the minimum confidence at which a proposed category is kept.
const AcceptanceThreshold = 0.5

// CategorizationResult is the outcome of categorizing a single description.
// It is an intermediate value and is never persisted directly.
type CategorizationResult struct {
	CategoryKey string  `json:"categoryKey"`
	Reasoning   string  `json:"reasoning"`
	Confidence  float64 `json:"confidence"`
}

// IsAICategorized reports whether the result should be recorded as an AI
// categorization on the transaction.
func (r CategorizationResult) IsAICategorized() bool {
	return r.Confidence > 0 && (r.CategoryKey != CategoryKeyOther || r.Confidence >= AcceptanceThreshold)
}

// CategorizationUpdate carries the fields written to a transaction when
// categorization finishes.
type CategorizationUpdate struct {
	CategoryID      *int
	Status          CategorizationStatus
	IsAICategorized bool
}
