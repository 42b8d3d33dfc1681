package models

import (
	"time"
)

// TransactionType represents the type of balance change
type TransactionType string

const (
	TransactionTypeDeposit          TransactionType = "deposit"
	TransactionTypeWithdrawal       TransactionType = "withdrawal"
	TransactionTypeMatchWin         TransactionType = "match_win"
	TransactionTypeMatchLoss        TransactionType = "match_loss"
	TransactionTypeMatchTieRefund   TransactionType = "match_tie_refund"
	TransactionTypeChallengeRefund  TransactionType = "challenge_refund"
	TransactionTypeWithdrawalRefund TransactionType = "withdrawal_refund"
)

// BalanceTransaction is one entry of the append-only per-account audit trail.
// Read newest-first, paginated.
type BalanceTransaction struct {
	ID        int64           `db:"id"`
	Address   string          `db:"address"`
	Type      TransactionType `db:"type"`
	Amount    int64           `db:"amount"`
	MatchID   *string         `db:"match_id"`
	Signature *string         `db:"signature"`
	CreatedAt time.Time       `db:"created_at"`
}

// DefaultTransactionPageSize is the page size used when none is given.
const DefaultTransactionPageSize = 50
