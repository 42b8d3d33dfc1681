package repository

import (
	"context"
	"fmt"

	"solduel/database"
	"solduel/models"
)

// DepositClaimRepository implements the DepositClaimRepository interface
type DepositClaimRepository struct {
	q queryable
}

// NewDepositClaimRepository creates a new deposit claim repository
func NewDepositClaimRepository(db *database.DB) *DepositClaimRepository {
	return &DepositClaimRepository{q: db.Pool}
}

// newDepositClaimRepositoryWithTx creates a new deposit claim repository with a transaction
func newDepositClaimRepositoryWithTx(tx queryable) *DepositClaimRepository {
	return &DepositClaimRepository{q: tx}
}

// TryCreate atomically claims a deposit signature. Returns false if the
// signature was already claimed, by this call racing another or by an
// earlier deposit. This is the linearization point for deposit crediting.
func (r *DepositClaimRepository) TryCreate(ctx context.Context, claim *models.DepositClaim) (bool, error) {
	query := `
		INSERT INTO deposit_claims (signature, address, amount)
		VALUES ($1, $2, $3)
		ON CONFLICT (signature) DO NOTHING
	`

	result, err := r.q.Exec(ctx, query, claim.Signature, claim.Address, claim.Amount)
	if err != nil {
		return false, fmt.Errorf("failed to create deposit claim %s: %w", claim.Signature, err)
	}

	return result.RowsAffected() > 0, nil
}

// Exists reports whether the signature has already been claimed
func (r *DepositClaimRepository) Exists(ctx context.Context, signature string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM deposit_claims WHERE signature = $1)`

	var exists bool
	if err := r.q.QueryRow(ctx, query, signature).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check deposit claim %s: %w", signature, err)
	}

	return exists, nil
}
