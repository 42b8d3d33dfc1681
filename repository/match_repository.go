package repository

import (
	"context"
	"fmt"
	"time"

	"solduel/database"
	"solduel/models"

	"github.com/jackc/pgx/v5"
)

const matchColumns = `
	id, player1, player2, bet_amount, duration_seconds, status, winner,
	player1_roi, player2_roi, start_time, end_time, settled_at,
	balances_settled, player1_settled, player2_settled, created_at`

// MatchRepository implements the MatchRepository interface
type MatchRepository struct {
	q queryable
}

// NewMatchRepository creates a new match repository
func NewMatchRepository(db *database.DB) *MatchRepository {
	return &MatchRepository{q: db.Pool}
}

// newMatchRepositoryWithTx creates a new match repository with a transaction
func newMatchRepositoryWithTx(tx queryable) *MatchRepository {
	return &MatchRepository{q: tx}
}

func scanMatch(row pgx.Row) (*models.Match, error) {
	var m models.Match
	err := row.Scan(
		&m.ID,
		&m.Player1,
		&m.Player2,
		&m.BetAmount,
		&m.DurationSeconds,
		&m.Status,
		&m.Winner,
		&m.Player1Roi,
		&m.Player2Roi,
		&m.StartTime,
		&m.EndTime,
		&m.SettledAt,
		&m.BalancesSettled,
		&m.Player1Settled,
		&m.Player2Settled,
		&m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *MatchRepository) scanMatches(rows pgx.Rows) ([]*models.Match, error) {
	defer rows.Close()

	var matches []*models.Match
	for rows.Next() {
		match, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		matches = append(matches, match)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate matches: %w", err)
	}

	return matches, nil
}

// Create creates a new match record
func (r *MatchRepository) Create(ctx context.Context, match *models.Match) error {
	query := `
		INSERT INTO matches (id, player1, player2, bet_amount, duration_seconds, status, start_time, end_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`

	err := r.q.QueryRow(ctx, query,
		match.ID,
		match.Player1,
		match.Player2,
		match.BetAmount,
		match.DurationSeconds,
		match.Status,
		match.StartTime,
		match.EndTime,
	).Scan(&match.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create match %s: %w", match.ID, err)
	}

	return nil
}

// GetByID retrieves a match by its ID, or nil if it does not exist
func (r *MatchRepository) GetByID(ctx context.Context, id string) (*models.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE id = $1`

	match, err := scanMatch(r.q.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get match %s: %w", id, err)
	}

	return match, nil
}

// HasActiveMatch reports whether the player is inside an unfinished match
func (r *MatchRepository) HasActiveMatch(ctx context.Context, address string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM matches
			WHERE status = 'active' AND (player1 = $1 OR player2 = $1)
		)
	`

	var exists bool
	if err := r.q.QueryRow(ctx, query, address).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check active match for %s: %w", address, err)
	}

	return exists, nil
}

// GetActivePastEnd returns active matches whose end time has passed
func (r *MatchRepository) GetActivePastEnd(ctx context.Context, now time.Time) ([]*models.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE status = 'active' AND end_time <= $1`

	rows, err := r.q.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to get expired active matches: %w", err)
	}

	return r.scanMatches(rows)
}

// GetUnsettled returns terminal matches whose balance settlement has not
// completed. These are the crash-recovery candidates; cancelled matches are
// included because their stake refunds can also be interrupted.
func (r *MatchRepository) GetUnsettled(ctx context.Context) ([]*models.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches
		WHERE status IN ('completed', 'tied', 'forfeited', 'cancelled') AND balances_settled = FALSE`

	rows, err := r.q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get unsettled matches: %w", err)
	}

	return r.scanMatches(rows)
}

// UpdateResult writes the match outcome fields. Only transitions an active
// match; terminal statuses never change again.
func (r *MatchRepository) UpdateResult(ctx context.Context, match *models.Match) error {
	query := `
		UPDATE matches
		SET status = $1, winner = $2, player1_roi = $3, player2_roi = $4, settled_at = $5
		WHERE id = $6 AND status = 'active'
	`

	result, err := r.q.Exec(ctx, query,
		match.Status,
		match.Winner,
		match.Player1Roi,
		match.Player2Roi,
		match.SettledAt,
		match.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update match result %s: %w", match.ID, err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("match %s is not active", match.ID)
	}

	return nil
}

// SetPlayerSettled durably marks one player's balance settlement as applied.
// slot is 1 or 2.
func (r *MatchRepository) SetPlayerSettled(ctx context.Context, matchID string, slot int) error {
	var query string
	switch slot {
	case 1:
		query = `UPDATE matches SET player1_settled = TRUE WHERE id = $1`
	case 2:
		query = `UPDATE matches SET player2_settled = TRUE WHERE id = $1`
	default:
		return fmt.Errorf("invalid player slot %d", slot)
	}

	if _, err := r.q.Exec(ctx, query, matchID); err != nil {
		return fmt.Errorf("failed to mark player %d settled for match %s: %w", slot, matchID, err)
	}

	return nil
}

// SetBalancesSettled marks the whole match settlement as done
func (r *MatchRepository) SetBalancesSettled(ctx context.Context, matchID string) error {
	query := `UPDATE matches SET balances_settled = TRUE WHERE id = $1`

	if _, err := r.q.Exec(ctx, query, matchID); err != nil {
		return fmt.Errorf("failed to mark balances settled for match %s: %w", matchID, err)
	}

	return nil
}

// SumActiveBets returns the total amount the player has at risk in active
// matches. Ground truth for frozen balance reconciliation.
func (r *MatchRepository) SumActiveBets(ctx context.Context, address string) (int64, error) {
	query := `
		SELECT COALESCE(SUM(bet_amount), 0) FROM matches
		WHERE status = 'active' AND (player1 = $1 OR player2 = $1)
	`

	var total int64
	if err := r.q.QueryRow(ctx, query, address).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum active bets for %s: %w", address, err)
	}

	return total, nil
}
