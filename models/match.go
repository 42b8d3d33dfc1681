package models

import (
	"time"
)

// MatchStatus represents the lifecycle state of a match
type MatchStatus string

const (
	MatchStatusActive    MatchStatus = "active"
	MatchStatusCompleted MatchStatus = "completed"
	MatchStatusTied      MatchStatus = "tied"
	MatchStatusForfeited MatchStatus = "forfeited"
	MatchStatusCancelled MatchStatus = "cancelled"
)

// IsTerminal reports whether the status permits no further transitions.
func (s MatchStatus) IsTerminal() bool {
	return s != MatchStatusActive
}

// Match represents a head-to-head wagered trading match between two players.
// The per-player settled flags are durable idempotency markers: once a
// player's flag is set their balance mutation has been applied and must
// never be re-applied.
type Match struct {
	ID              string      `db:"id"`
	Player1         string      `db:"player1"`
	Player2         string      `db:"player2"`
	BetAmount       int64       `db:"bet_amount"`
	DurationSeconds int         `db:"duration_seconds"`
	Status          MatchStatus `db:"status"`
	Winner          *string     `db:"winner"`
	Player1Roi      float64     `db:"player1_roi"`
	Player2Roi      float64     `db:"player2_roi"`
	StartTime       time.Time   `db:"start_time"`
	EndTime         time.Time   `db:"end_time"`
	SettledAt       *time.Time  `db:"settled_at"`
	BalancesSettled bool        `db:"balances_settled"`
	Player1Settled  bool        `db:"player1_settled"`
	Player2Settled  bool        `db:"player2_settled"`
	CreatedAt       time.Time   `db:"created_at"`
}

// IsParticipant checks if the given address is one of the two players
func (m *Match) IsParticipant(address string) bool {
	return m.Player1 == address || m.Player2 == address
}

// Opponent returns the other player's address, or "" if address is not a participant
func (m *Match) Opponent(address string) string {
	switch address {
	case m.Player1:
		return m.Player2
	case m.Player2:
		return m.Player1
	}
	return ""
}

// MatchResult captures the outcome of a settled match for broadcasting.
type MatchResult struct {
	MatchID    string
	Winner     *string
	IsTie      bool
	IsForfeit  bool
	Player1    string
	Player2    string
	Player1Roi float64
	Player2Roi float64
	BetAmount  int64
	Payout     int64
}
