package models

import (
	"time"
)

// ChallengeStatus represents the lifecycle state of a direct challenge
type ChallengeStatus string

const (
	ChallengeStatusPending  ChallengeStatus = "pending"
	ChallengeStatusAccepted ChallengeStatus = "accepted"
	ChallengeStatusDeclined ChallengeStatus = "declined"
	ChallengeStatusExpired  ChallengeStatus = "expired"
	ChallengeStatusCanceled ChallengeStatus = "canceled"
)

// Challenge is a direct head-to-head match proposal. The challenger's bet is
// frozen while the challenge is pending; stale pending challenges are expired
// by the settlement sweep, which unfreezes the bet.
type Challenge struct {
	ID              string          `db:"id"`
	Challenger      string          `db:"challenger"`
	Opponent        string          `db:"opponent"`
	BetAmount       int64           `db:"bet_amount"`
	DurationSeconds int             `db:"duration_seconds"`
	Status          ChallengeStatus `db:"status"`
	ExpiresAt       time.Time       `db:"expires_at"`
	CreatedAt       time.Time       `db:"created_at"`
}
