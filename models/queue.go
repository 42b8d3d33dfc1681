package models

import (
	"time"
)

// QueueKey identifies a matchmaking bucket. Players are only paired against
// opponents who picked the same duration and bet.
type QueueKey struct {
	DurationSeconds int
	BetAmount       int64
}

// QueueEntry is a player waiting in a matchmaking bucket. Entries live in
// memory only; a crash loses them and the frozen balance reconciler heals
// the leftover freeze.
type QueueEntry struct {
	Address  string
	JoinedAt time.Time
}

// LeaderboardEntry is one row of the career leaderboard.
type LeaderboardEntry struct {
	Rank       int
	Address    string
	Wins       int
	Losses     int
	Ties       int
	TotalPnl   float64
	BestStreak int
}
