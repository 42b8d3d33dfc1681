package models

import (
	"time"
)

// Account represents a player wallet on the platform. Balances are held in
// base units of the settlement asset (USDC, 6 decimals). An account is
// created on first confirmed deposit and never deleted.
type Account struct {
	Address        string    `db:"address"`
	Balance        int64     `db:"balance"`
	FrozenBalance  int64     `db:"frozen_balance"`
	TotalDeposited int64     `db:"total_deposited"`
	TotalWithdrawn int64     `db:"total_withdrawn"`
	Wins           int       `db:"wins"`
	Losses         int       `db:"losses"`
	Ties           int       `db:"ties"`
	TotalPnl       float64   `db:"total_pnl"`
	CurrentStreak  int       `db:"current_streak"`
	BestStreak     int       `db:"best_streak"`
	TradeCount     int       `db:"trade_count"`
	Version        int64     `db:"version"` // optimistic concurrency token
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// Available returns the balance usable for new wagers or withdrawal.
func (a *Account) Available() int64 {
	return a.Balance - a.FrozenBalance
}

// BalanceSummary is the read-model returned by balance queries.
type BalanceSummary struct {
	Balance   int64
	Frozen    int64
	Available int64
}
