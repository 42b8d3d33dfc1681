package testutil

import (
	"time"

	"solduel/models"

	"github.com/google/uuid"
)

// CreateTestAccount builds an account with a funded balance
func CreateTestAccount(address string, balance int64) *models.Account {
	return &models.Account{
		Address: address,
		Balance: balance,
	}
}

// CreateTestMatch builds an active match between the two players
func CreateTestMatch(player1, player2 string, bet int64) *models.Match {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.Match{
		ID:              uuid.NewString(),
		Player1:         player1,
		Player2:         player2,
		BetAmount:       bet,
		DurationSeconds: 300,
		Status:          models.MatchStatusActive,
		StartTime:       now,
		EndTime:         now.Add(5 * time.Minute),
	}
}

// CreateExpiredTestMatch builds an active match whose end time has passed
func CreateExpiredTestMatch(player1, player2 string, bet int64) *models.Match {
	match := CreateTestMatch(player1, player2, bet)
	match.StartTime = match.StartTime.Add(-10 * time.Minute)
	match.EndTime = match.EndTime.Add(-10 * time.Minute)
	return match
}

// CreateTestChallenge builds a pending challenge
func CreateTestChallenge(challenger, opponent string, bet int64, ttl time.Duration) *models.Challenge {
	return &models.Challenge{
		ID:              uuid.NewString(),
		Challenger:      challenger,
		Opponent:        opponent,
		BetAmount:       bet,
		DurationSeconds: 300,
		Status:          models.ChallengeStatusPending,
		ExpiresAt:       time.Now().UTC().Add(ttl),
	}
}

// CreateTestPosition builds an open long position
func CreateTestPosition(matchID, player string, entry float64) *models.Position {
	return &models.Position{
		MatchID:    matchID,
		Player:     player,
		Asset:      "SOL",
		Direction:  models.PositionLong,
		EntryPrice: entry,
		Size:       1000,
		Leverage:   1,
		OpenedAt:   time.Now().UTC(),
	}
}
