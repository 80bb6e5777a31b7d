package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/Veraticus/budget-autocat/internal/common"
	"github.com/Veraticus/budget-autocat/internal/model"
)

// GetCategories returns all categories ordered by key.
func (s *SQLiteStorage) GetCategories(ctx context.Context) ([]model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, key, name, created_at
		FROM categories
		ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var categories []model.Category
	for rows.Next() {
		var cat model.Category
		if err := rows.Scan(&cat.ID, &cat.Key, &cat.Name, &cat.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, cat)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating categories: %w", err)
	}

	slog.Debug("retrieved categories", "count", len(categories))
	return categories, nil
}

// GetCategoryByKey returns the category with key. The error wraps
// common.ErrNotFound when no such category exists.
func (s *SQLiteStorage) GetCategoryByKey(ctx context.Context, key string) (*model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(key, "key"); err != nil {
		return nil, err
	}

	var cat model.Category
	err := s.db.QueryRowContext(ctx, `
		SELECT id, key, name, created_at
		FROM categories
		WHERE key = ?`, key).Scan(&cat.ID, &cat.Key, &cat.Name, &cat.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("category %q: %w", key, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query category: %w", err)
	}

	return &cat, nil
}

// CategoryKeys returns the key of every category.
func (s *SQLiteStorage) CategoryKeys(ctx context.Context) ([]string, error) {
	categories, err := s.GetCategories(ctx)
	if err != nil {
		return nil, err
	}

	keys := make([]string, len(categories))
	for i, cat := range categories {
		keys[i] = cat.Key
	}
	return keys, nil
}

// CreateCategory adds a category. Keys are normalized to lower case; an
// existing key yields common.ErrDuplicateEntry.
func (s *SQLiteStorage) CreateCategory(ctx context.Context, key, name string) (*model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	key = strings.ToLower(strings.TrimSpace(key))
	if err := validateString(key, "key"); err != nil {
		return nil, err
	}
	if err := validateString(name, "name"); err != nil {
		return nil, err
	}

	now := time.Now()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO categories (key, name, created_at) VALUES (?, ?, ?)`,
		key, name, now)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("category %q: %w", key, common.ErrDuplicateEntry)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create category: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get category ID: %w", err)
	}

	slog.Info("created new category", "key", key, "id", id)
	return &model.Category{ID: int(id), Key: key, Name: name, CreatedAt: now}, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
