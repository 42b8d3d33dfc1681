package models

import (
	"time"
)

// PositionDirection is the side of a virtual trade
type PositionDirection string

const (
	PositionLong  PositionDirection = "long"
	PositionShort PositionDirection = "short"
)

// CloseReason records why a position was closed
type CloseReason string

const (
	CloseReasonManual     CloseReason = "manual"
	CloseReasonStopLoss   CloseReason = "stop_loss"
	CloseReasonTakeProfit CloseReason = "take_profit"
	CloseReasonMatchEnd   CloseReason = "match_end"
)

// Position is a virtual trade opened by a player during a match. Prices are
// quote-asset floats; Size is the virtual notional committed. Immutable once
// closed.
type Position struct {
	ID          int64             `db:"id"`
	MatchID     string            `db:"match_id"`
	Player      string            `db:"player"`
	Asset       string            `db:"asset"`
	Direction   PositionDirection `db:"direction"`
	EntryPrice  float64           `db:"entry_price"`
	ExitPrice   *float64          `db:"exit_price"`
	Size        float64           `db:"size"`
	Leverage    float64           `db:"leverage"`
	StopLoss    *float64          `db:"stop_loss"`
	TakeProfit  *float64          `db:"take_profit"`
	Pnl         float64           `db:"pnl"`
	OpenedAt    time.Time         `db:"opened_at"`
	ClosedAt    *time.Time        `db:"closed_at"`
	CloseReason *CloseReason      `db:"close_reason"`
}

// IsOpen reports whether the position has not been closed yet
func (p *Position) IsOpen() bool {
	return p.ClosedAt == nil
}

// ComputePnl recalculates profit from entry/exit/size/leverage/direction.
// Stored pnl values are never trusted at settlement since they may be stale
// from a partial write.
func (p *Position) ComputePnl(exitPrice float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	move := (exitPrice - p.EntryPrice) / p.EntryPrice
	if p.Direction == PositionShort {
		move = -move
	}
	return move * p.Size * p.Leverage
}
