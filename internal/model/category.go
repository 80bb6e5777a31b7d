package model

import (
	"slices"
	"time"
)

// CategoryKeyOther is the fallback key used whenever no confident, valid category exists.
const CategoryKeyOther = "other"

// DefaultCategoryKeys is the fixed set of category keys the AI contract may return.
// It always contains CategoryKeyOther.
var DefaultCategoryKeys = []string{
	"groceries",
	"dining",
	"transport",
	"housing",
	"utilities",
	"health",
	"entertainment",
	"shopping",
	"travel",
	"education",
	"subscriptions",
	"personal_care",
	"gifts",
	"income",
	CategoryKeyOther,
}

// DefaultCategoryNames maps each default key to its display label.
var DefaultCategoryNames = map[string]string{
	"groceries":      "Groceries",
	"dining":         "Dining Out",
	"transport":      "Transport",
	"housing":        "Housing",
	"utilities":      "Utilities",
	"health":         "Health",
	"entertainment":  "Entertainment",
	"shopping":       "Shopping",
	"travel":         "Travel",
	"education":      "Education",
	"subscriptions":  "Subscriptions",
	"personal_care":  "Personal Care",
	"gifts":          "Gifts & Donations",
	"income":         "Income",
	CategoryKeyOther: "Other",
}

// IsDefaultCategoryKey reports whether key belongs to the fixed category enumeration.
func IsDefaultCategoryKey(key string) bool {
	return slices.Contains(DefaultCategoryKeys, key)
}

// Category represents a spending category. Key is the stable identifier used by
// the AI contract; Name is a display label.
type Category struct {
	CreatedAt time.Time
	Key       string
	Name      string
	ID        int
}
