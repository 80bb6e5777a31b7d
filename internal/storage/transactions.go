package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/budget-autocat/internal/common"
	"github.com/Veraticus/budget-autocat/internal/model"
)

const transactionColumns = `id, owner_id, description, amount, date, category_id,
	is_ai_categorized, categorization_status, created_at`

// CreateTransaction stores txn with status pending. A transaction with the
// same owner, date, amount and description yields common.ErrDuplicateEntry.
func (s *SQLiteStorage) CreateTransaction(ctx context.Context, txn *model.Transaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateTransaction(txn); err != nil {
		return err
	}

	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now()
	}
	txn.CategorizationStatus = model.CategorizationPending

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (id, owner_id, hash, description, amount, date,
			category_id, is_ai_categorized, categorization_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID, txn.OwnerID, txn.GenerateHash(), txn.Description, txn.Amount, txn.Date,
		txn.CategoryID, txn.IsAICategorized, txn.CategorizationStatus, txn.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("transaction %s: %w", txn.ID, common.ErrDuplicateEntry)
	}
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}

	return nil
}

// SaveTransactions stores each transaction as pending, skipping duplicates.
// It returns the transactions that were actually inserted.
func (s *SQLiteStorage) SaveTransactions(ctx context.Context, transactions []model.Transaction) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	inserted := make([]model.Transaction, 0, len(transactions))
	for i := range transactions {
		txn := transactions[i]
		err := s.CreateTransaction(ctx, &txn)
		if errors.Is(err, common.ErrDuplicateEntry) {
			slog.Debug("skipping duplicate transaction", "id", txn.ID)
			continue
		}
		if err != nil {
			return inserted, fmt.Errorf("transaction at index %d: %w", i, err)
		}
		inserted = append(inserted, txn)
	}

	return inserted, nil
}

// GetTransaction returns the transaction with id belonging to ownerID.
func (s *SQLiteStorage) GetTransaction(ctx context.Context, transactionID, ownerID string) (*model.Transaction, error) {
	if err := validateScope(ctx, transactionID, ownerID); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = ? AND owner_id = ?`,
		transactionID, ownerID)

	txn, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transaction %s: %w", transactionID, common.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// UpdateCategorization writes the categorization outcome. It only applies to
// a pending transaction; an already completed one yields
// common.ErrStatusNotPending and a missing one common.ErrNotFound.
func (s *SQLiteStorage) UpdateCategorization(ctx context.Context, transactionID, ownerID string, update model.CategorizationUpdate) error {
	if err := validateScope(ctx, transactionID, ownerID); err != nil {
		return err
	}
	if !update.Status.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, update.Status)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET category_id = ?, is_ai_categorized = ?, categorization_status = ?
		WHERE id = ? AND owner_id = ? AND categorization_status = ?`,
		update.CategoryID, update.IsAICategorized, update.Status,
		transactionID, ownerID, model.CategorizationPending)
	if err != nil {
		return fmt.Errorf("failed to update categorization: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return s.explainMiss(ctx, transactionID, ownerID)
	}

	return nil
}

// MarkCategorizationCompleted sets the status to completed without touching
// the category. Marking an already completed transaction is a no-op.
func (s *SQLiteStorage) MarkCategorizationCompleted(ctx context.Context, transactionID, ownerID string) error {
	if err := validateScope(ctx, transactionID, ownerID); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET categorization_status = ?
		WHERE id = ? AND owner_id = ? AND categorization_status = ?`,
		model.CategorizationCompleted, transactionID, ownerID, model.CategorizationPending)
	if err != nil {
		return fmt.Errorf("failed to mark categorization completed: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		if missErr := s.explainMiss(ctx, transactionID, ownerID); !errors.Is(missErr, common.ErrStatusNotPending) {
			return missErr
		}
	}

	return nil
}

// GetPendingTransactions returns up to limit transactions still awaiting
// categorization, oldest first. limit <= 0 returns all of them.
func (s *SQLiteStorage) GetPendingTransactions(ctx context.Context, limit int) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		WHERE categorization_status = ?
		ORDER BY created_at, id
		LIMIT ?`,
		model.CategorizationPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var transactions []model.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *txn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return transactions, nil
}

// explainMiss distinguishes a missing transaction from a completed one after
// an update matched no rows.
func (s *SQLiteStorage) explainMiss(ctx context.Context, transactionID, ownerID string) error {
	var status model.CategorizationStatus
	err := s.db.QueryRowContext(ctx,
		`SELECT categorization_status FROM transactions WHERE id = ? AND owner_id = ?`,
		transactionID, ownerID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("transaction %s: %w", transactionID, common.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to check transaction status: %w", err)
	}
	return fmt.Errorf("transaction %s: %w", transactionID, common.ErrStatusNotPending)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*model.Transaction, error) {
	var (
		txn        model.Transaction
		categoryID sql.NullInt64
		status     string
	)

	err := row.Scan(&txn.ID, &txn.OwnerID, &txn.Description, &txn.Amount, &txn.Date,
		&categoryID, &txn.IsAICategorized, &status, &txn.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}

	if categoryID.Valid {
		id := int(categoryID.Int64)
		txn.CategoryID = &id
	}
	txn.CategorizationStatus = model.CategorizationStatus(status)

	return &txn, nil
}
