package repository

import (
	"context"
	"fmt"

	"solduel/database"
	"solduel/models"
)

// BalanceTransactionRepository implements the BalanceTransactionRepository interface
type BalanceTransactionRepository struct {
	q queryable
}

// NewBalanceTransactionRepository creates a new balance transaction repository
func NewBalanceTransactionRepository(db *database.DB) *BalanceTransactionRepository {
	return &BalanceTransactionRepository{q: db.Pool}
}

// newBalanceTransactionRepositoryWithTx creates a new balance transaction repository with a transaction
func newBalanceTransactionRepositoryWithTx(tx queryable) *BalanceTransactionRepository {
	return &BalanceTransactionRepository{q: tx}
}

// Record appends a new balance transaction entry
func (r *BalanceTransactionRepository) Record(ctx context.Context, txn *models.BalanceTransaction) error {
	query := `
		INSERT INTO balance_transactions (address, type, amount, match_id, signature)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	err := r.q.QueryRow(ctx, query,
		txn.Address,
		txn.Type,
		txn.Amount,
		txn.MatchID,
		txn.Signature,
	).Scan(&txn.ID, &txn.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to record balance transaction for %s: %w", txn.Address, err)
	}

	return nil
}

// GetByAccount returns the newest transactions for an account. beforeID is a
// cursor from a previous page; pass 0 for the first page.
func (r *BalanceTransactionRepository) GetByAccount(ctx context.Context, address string, limit int, beforeID int64) ([]*models.BalanceTransaction, error) {
	if limit <= 0 {
		limit = models.DefaultTransactionPageSize
	}

	query := `
		SELECT id, address, type, amount, match_id, signature, created_at
		FROM balance_transactions
		WHERE address = $1 AND ($2 = 0 OR id < $2)
		ORDER BY id DESC
		LIMIT $3
	`

	rows, err := r.q.Query(ctx, query, address, beforeID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance transactions for %s: %w", address, err)
	}
	defer rows.Close()

	var txns []*models.BalanceTransaction
	for rows.Next() {
		var t models.BalanceTransaction
		err := rows.Scan(&t.ID, &t.Address, &t.Type, &t.Amount, &t.MatchID, &t.Signature, &t.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan balance transaction: %w", err)
		}
		txns = append(txns, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate balance transactions: %w", err)
	}

	return txns, nil
}
