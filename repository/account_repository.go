package repository

import (
	"context"
	"errors"
	"fmt"

	"solduel/database"
	"solduel/models"
	"solduel/service"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const accountColumns = `
	address, balance, frozen_balance, total_deposited, total_withdrawn,
	wins, losses, ties, total_pnl, current_streak, best_streak, trade_count,
	version, created_at, updated_at`

// AccountRepository implements the AccountRepository interface
type AccountRepository struct {
	q queryable
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(db *database.DB) *AccountRepository {
	return &AccountRepository{q: db.Pool}
}

// newAccountRepositoryWithTx creates a new account repository with a transaction
func newAccountRepositoryWithTx(tx queryable) *AccountRepository {
	return &AccountRepository{q: tx}
}

func scanAccount(row pgx.Row) (*models.Account, error) {
	var a models.Account
	err := row.Scan(
		&a.Address,
		&a.Balance,
		&a.FrozenBalance,
		&a.TotalDeposited,
		&a.TotalWithdrawn,
		&a.Wins,
		&a.Losses,
		&a.Ties,
		&a.TotalPnl,
		&a.CurrentStreak,
		&a.BestStreak,
		&a.TradeCount,
		&a.Version,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Get retrieves an account by address, or nil if it does not exist
func (r *AccountRepository) Get(ctx context.Context, address string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE address = $1`

	account, err := scanAccount(r.q.QueryRow(ctx, query, address))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account %s: %w", address, err)
	}

	return account, nil
}

// Create inserts a new account. A concurrent insert of the same address
// surfaces as ErrVersionConflict so callers can re-read and retry.
func (r *AccountRepository) Create(ctx context.Context, account *models.Account) error {
	query := `
		INSERT INTO accounts (address, balance, frozen_balance, total_deposited, total_withdrawn)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING version, created_at, updated_at
	`

	err := r.q.QueryRow(ctx, query,
		account.Address,
		account.Balance,
		account.FrozenBalance,
		account.TotalDeposited,
		account.TotalWithdrawn,
	).Scan(&account.Version, &account.CreatedAt, &account.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return service.ErrVersionConflict
		}
		return fmt.Errorf("failed to create account %s: %w", account.Address, err)
	}

	return nil
}

// CompareAndSwap writes the full account state conditionally on the version
// read. Returns ErrVersionConflict if a concurrent writer got there first;
// the caller re-reads and retries.
func (r *AccountRepository) CompareAndSwap(ctx context.Context, account *models.Account) error {
	query := `
		UPDATE accounts
		SET balance = $1, frozen_balance = $2, total_deposited = $3, total_withdrawn = $4,
		    wins = $5, losses = $6, ties = $7, total_pnl = $8,
		    current_streak = $9, best_streak = $10, trade_count = $11,
		    version = version + 1, updated_at = NOW()
		WHERE address = $12 AND version = $13
	`

	result, err := r.q.Exec(ctx, query,
		account.Balance,
		account.FrozenBalance,
		account.TotalDeposited,
		account.TotalWithdrawn,
		account.Wins,
		account.Losses,
		account.Ties,
		account.TotalPnl,
		account.CurrentStreak,
		account.BestStreak,
		account.TradeCount,
		account.Address,
		account.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update account %s: %w", account.Address, err)
	}

	if result.RowsAffected() == 0 {
		return service.ErrVersionConflict
	}

	account.Version++
	return nil
}

// GetAddressesWithFrozen returns every address currently holding frozen funds.
// Used by the reconciliation sweep.
func (r *AccountRepository) GetAddressesWithFrozen(ctx context.Context) ([]string, error) {
	query := `SELECT address FROM accounts WHERE frozen_balance > 0`

	rows, err := r.q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get addresses with frozen balance: %w", err)
	}
	defer rows.Close()

	var addresses []string
	for rows.Next() {
		var address string
		if err := rows.Scan(&address); err != nil {
			return nil, fmt.Errorf("failed to scan address: %w", err)
		}
		addresses = append(addresses, address)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate addresses: %w", err)
	}

	return addresses, nil
}

// GetTop returns the leaderboard ordered by wins, then total pnl
func (r *AccountRepository) GetTop(ctx context.Context, limit int) ([]*models.Account, error) {
	query := `SELECT ` + accountColumns + `
		FROM accounts
		WHERE wins + losses + ties > 0
		ORDER BY wins DESC, total_pnl DESC
		LIMIT $1`

	rows, err := r.q.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get top accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, account)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate accounts: %w", err)
	}

	return accounts, nil
}
