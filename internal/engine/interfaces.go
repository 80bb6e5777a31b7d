package engine

import "context"

// KeySource provides the live set of category keys from the category repository.
// It is consulted when validating loose-mode results.
type KeySource interface {
	CategoryKeys(ctx context.Context) ([]string, error)
}

// StaticKeys is a KeySource backed by a fixed slice.
type StaticKeys []string

// CategoryKeys implements KeySource.
func (s StaticKeys) CategoryKeys(_ context.Context) ([]string, error) {
	return s, nil
}
