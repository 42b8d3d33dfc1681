package repository

import (
	"context"
	"fmt"

	"solduel/database"
	"solduel/models"
)

// PositionRepository implements the PositionRepository interface
type PositionRepository struct {
	q queryable
}

// NewPositionRepository creates a new position repository
func NewPositionRepository(db *database.DB) *PositionRepository {
	return &PositionRepository{q: db.Pool}
}

// newPositionRepositoryWithTx creates a new position repository with a transaction
func newPositionRepositoryWithTx(tx queryable) *PositionRepository {
	return &PositionRepository{q: tx}
}

// Create opens a new position
func (r *PositionRepository) Create(ctx context.Context, position *models.Position) error {
	query := `
		INSERT INTO positions (match_id, player, asset, direction, entry_price, size, leverage, stop_loss, take_profit, opened_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`

	err := r.q.QueryRow(ctx, query,
		position.MatchID,
		position.Player,
		position.Asset,
		position.Direction,
		position.EntryPrice,
		position.Size,
		position.Leverage,
		position.StopLoss,
		position.TakeProfit,
		position.OpenedAt,
	).Scan(&position.ID)

	if err != nil {
		return fmt.Errorf("failed to create position: %w", err)
	}

	return nil
}

// GetByMatch returns all positions opened during a match
func (r *PositionRepository) GetByMatch(ctx context.Context, matchID string) ([]*models.Position, error) {
	query := `
		SELECT id, match_id, player, asset, direction, entry_price, exit_price,
		       size, leverage, stop_loss, take_profit, pnl, opened_at, closed_at, close_reason
		FROM positions
		WHERE match_id = $1
		ORDER BY opened_at
	`

	rows, err := r.q.Query(ctx, query, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to get positions for match %s: %w", matchID, err)
	}
	defer rows.Close()

	var positions []*models.Position
	for rows.Next() {
		var p models.Position
		err := rows.Scan(
			&p.ID,
			&p.MatchID,
			&p.Player,
			&p.Asset,
			&p.Direction,
			&p.EntryPrice,
			&p.ExitPrice,
			&p.Size,
			&p.Leverage,
			&p.StopLoss,
			&p.TakeProfit,
			&p.Pnl,
			&p.OpenedAt,
			&p.ClosedAt,
			&p.CloseReason,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate positions: %w", err)
	}

	return positions, nil
}

// Close writes the closing fields of a position. Only an open position can
// be closed; closed positions are immutable.
func (r *PositionRepository) Close(ctx context.Context, position *models.Position) error {
	query := `
		UPDATE positions
		SET exit_price = $1, pnl = $2, closed_at = $3, close_reason = $4
		WHERE id = $5 AND closed_at IS NULL
	`

	result, err := r.q.Exec(ctx, query,
		position.ExitPrice,
		position.Pnl,
		position.ClosedAt,
		position.CloseReason,
		position.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to close position %d: %w", position.ID, err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("position %d is already closed", position.ID)
	}

	return nil
}

// UpdatePnl persists a recomputed pnl for a closed position
func (r *PositionRepository) UpdatePnl(ctx context.Context, id int64, pnl float64) error {
	query := `UPDATE positions SET pnl = $1 WHERE id = $2`

	if _, err := r.q.Exec(ctx, query, pnl, id); err != nil {
		return fmt.Errorf("failed to update pnl for position %d: %w", id, err)
	}

	return nil
}
