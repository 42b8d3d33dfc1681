package repository

import (
	"context"
	"fmt"
	"time"

	"solduel/database"
	"solduel/models"

	"github.com/jackc/pgx/v5"
)

const challengeColumns = `id, challenger, opponent, bet_amount, duration_seconds, status, expires_at, created_at`

// ChallengeRepository implements the ChallengeRepository interface
type ChallengeRepository struct {
	q queryable
}

// NewChallengeRepository creates a new challenge repository
func NewChallengeRepository(db *database.DB) *ChallengeRepository {
	return &ChallengeRepository{q: db.Pool}
}

// newChallengeRepositoryWithTx creates a new challenge repository with a transaction
func newChallengeRepositoryWithTx(tx queryable) *ChallengeRepository {
	return &ChallengeRepository{q: tx}
}

func scanChallenge(row pgx.Row) (*models.Challenge, error) {
	var c models.Challenge
	err := row.Scan(
		&c.ID,
		&c.Challenger,
		&c.Opponent,
		&c.BetAmount,
		&c.DurationSeconds,
		&c.Status,
		&c.ExpiresAt,
		&c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Create creates a new challenge
func (r *ChallengeRepository) Create(ctx context.Context, challenge *models.Challenge) error {
	query := `
		INSERT INTO challenges (id, challenger, opponent, bet_amount, duration_seconds, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`

	err := r.q.QueryRow(ctx, query,
		challenge.ID,
		challenge.Challenger,
		challenge.Opponent,
		challenge.BetAmount,
		challenge.DurationSeconds,
		challenge.Status,
		challenge.ExpiresAt,
	).Scan(&challenge.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create challenge %s: %w", challenge.ID, err)
	}

	return nil
}

// GetByID retrieves a challenge by its ID, or nil if it does not exist
func (r *ChallengeRepository) GetByID(ctx context.Context, id string) (*models.Challenge, error) {
	query := `SELECT ` + challengeColumns + ` FROM challenges WHERE id = $1`

	challenge, err := scanChallenge(r.q.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get challenge %s: %w", id, err)
	}

	return challenge, nil
}

// TransitionStatus moves a challenge from one status to another. Returns
// false when the challenge was not in the expected status, which guards the
// race between acceptance, decline and sweep expiry.
func (r *ChallengeRepository) TransitionStatus(ctx context.Context, id string, from, to models.ChallengeStatus) (bool, error) {
	query := `UPDATE challenges SET status = $1 WHERE id = $2 AND status = $3`

	result, err := r.q.Exec(ctx, query, to, id, from)
	if err != nil {
		return false, fmt.Errorf("failed to transition challenge %s to %s: %w", id, to, err)
	}

	return result.RowsAffected() > 0, nil
}

// GetExpiredPending returns pending challenges past their expiry time
func (r *ChallengeRepository) GetExpiredPending(ctx context.Context, now time.Time) ([]*models.Challenge, error) {
	query := `SELECT ` + challengeColumns + ` FROM challenges WHERE status = 'pending' AND expires_at <= $1`

	rows, err := r.q.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to get expired challenges: %w", err)
	}
	defer rows.Close()

	var challenges []*models.Challenge
	for rows.Next() {
		challenge, err := scanChallenge(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan challenge: %w", err)
		}
		challenges = append(challenges, challenge)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate challenges: %w", err)
	}

	return challenges, nil
}

// SumPendingBets returns the total amount an address has frozen behind
// pending challenges it proposed. Ground truth for reconciliation.
func (r *ChallengeRepository) SumPendingBets(ctx context.Context, address string) (int64, error) {
	query := `
		SELECT COALESCE(SUM(bet_amount), 0) FROM challenges
		WHERE status = 'pending' AND challenger = $1
	`

	var total int64
	if err := r.q.QueryRow(ctx, query, address).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum pending challenge bets for %s: %w", address, err)
	}

	return total, nil
}
