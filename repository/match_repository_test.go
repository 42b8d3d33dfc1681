package repository

import (
	"context"
	"testing"
	"time"

	"solduel/models"
	"solduel/repository/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchRepository_Lifecycle(t *testing.T) {
	testDB := testutil.SetupTestDatabase(t)
	repo := NewMatchRepository(testDB.DB)
	ctx := context.Background()

	match := testutil.CreateTestMatch(addr1, addr2, 1_000_000)
	require.NoError(t, repo.Create(ctx, match))
	assert.False(t, match.CreatedAt.IsZero())

	t.Run("get by id", func(t *testing.T) {
		got, err := repo.GetByID(ctx, match.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, models.MatchStatusActive, got.Status)
		assert.Nil(t, got.Winner)
		assert.False(t, got.BalancesSettled)
	})

	t.Run("unknown id returns nil", func(t *testing.T) {
		got, err := repo.GetByID(ctx, "00000000-0000-0000-0000-000000000000")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("has active match for both players", func(t *testing.T) {
		for _, address := range []string{addr1, addr2} {
			active, err := repo.HasActiveMatch(ctx, address)
			require.NoError(t, err)
			assert.True(t, active)
		}

		active, err := repo.HasActiveMatch(ctx, "uninvolved")
		require.NoError(t, err)
		assert.False(t, active)
	})

	t.Run("update result transitions active to terminal", func(t *testing.T) {
		winner := addr1
		now := time.Now().UTC()
		match.Status = models.MatchStatusCompleted
		match.Winner = &winner
		match.Player1Roi = 0.05
		match.Player2Roi = -0.02
		match.SettledAt = &now
		require.NoError(t, repo.UpdateResult(ctx, match))

		got, err := repo.GetByID(ctx, match.ID)
		require.NoError(t, err)
		assert.Equal(t, models.MatchStatusCompleted, got.Status)
		require.NotNil(t, got.Winner)
		assert.Equal(t, addr1, *got.Winner)
		assert.InDelta(t, 0.05, got.Player1Roi, 1e-9)

		// A second writer cannot change a terminal match
		match.Status = models.MatchStatusTied
		err = repo.UpdateResult(ctx, match)
		assert.Error(t, err)

		got, err = repo.GetByID(ctx, match.ID)
		require.NoError(t, err)
		assert.Equal(t, models.MatchStatusCompleted, got.Status)
	})

	t.Run("settled flags", func(t *testing.T) {
		require.NoError(t, repo.SetPlayerSettled(ctx, match.ID, 1))

		got, err := repo.GetByID(ctx, match.ID)
		require.NoError(t, err)
		assert.True(t, got.Player1Settled)
		assert.False(t, got.Player2Settled)
		assert.False(t, got.BalancesSettled)

		require.NoError(t, repo.SetPlayerSettled(ctx, match.ID, 2))
		require.NoError(t, repo.SetBalancesSettled(ctx, match.ID))

		got, err = repo.GetByID(ctx, match.ID)
		require.NoError(t, err)
		assert.True(t, got.Player2Settled)
		assert.True(t, got.BalancesSettled)

		err = repo.SetPlayerSettled(ctx, match.ID, 3)
		assert.Error(t, err)
	})
}

func TestMatchRepository_SweepQueries(t *testing.T) {
	testDB := testutil.SetupTestDatabase(t)
	repo := NewMatchRepository(testDB.DB)
	ctx := context.Background()

	expired := testutil.CreateExpiredTestMatch(addr1, addr2, 2_000_000)
	require.NoError(t, repo.Create(ctx, expired))

	running := testutil.CreateTestMatch("p3", "p4", 500_000)
	require.NoError(t, repo.Create(ctx, running))

	t.Run("active past end", func(t *testing.T) {
		due, err := repo.GetActivePastEnd(ctx, time.Now().UTC())
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, expired.ID, due[0].ID)
	})

	t.Run("unsettled terminal matches", func(t *testing.T) {
		winner := addr2
		now := time.Now().UTC()
		expired.Status = models.MatchStatusCompleted
		expired.Winner = &winner
		expired.SettledAt = &now
		require.NoError(t, repo.UpdateResult(ctx, expired))

		unsettled, err := repo.GetUnsettled(ctx)
		require.NoError(t, err)
		require.Len(t, unsettled, 1)
		assert.Equal(t, expired.ID, unsettled[0].ID)

		require.NoError(t, repo.SetBalancesSettled(ctx, expired.ID))

		unsettled, err = repo.GetUnsettled(ctx)
		require.NoError(t, err)
		assert.Empty(t, unsettled)
	})

	t.Run("cancelled matches are recovered too", func(t *testing.T) {
		cancelled := testutil.CreateExpiredTestMatch("p5", "p6", 750_000)
		require.NoError(t, repo.Create(ctx, cancelled))

		now := time.Now().UTC()
		cancelled.Status = models.MatchStatusCancelled
		cancelled.SettledAt = &now
		require.NoError(t, repo.UpdateResult(ctx, cancelled))

		// A crash before the stake refunds must be found by the sweep
		unsettled, err := repo.GetUnsettled(ctx)
		require.NoError(t, err)
		require.Len(t, unsettled, 1)
		assert.Equal(t, cancelled.ID, unsettled[0].ID)

		require.NoError(t, repo.SetBalancesSettled(ctx, cancelled.ID))

		unsettled, err = repo.GetUnsettled(ctx)
		require.NoError(t, err)
		assert.Empty(t, unsettled)
	})

	t.Run("sum active bets", func(t *testing.T) {
		total, err := repo.SumActiveBets(ctx, "p3")
		require.NoError(t, err)
		assert.Equal(t, int64(500_000), total)

		// Terminal matches no longer count
		total, err = repo.SumActiveBets(ctx, addr1)
		require.NoError(t, err)
		assert.Equal(t, int64(0), total)
	})
}

func TestPositionRepository_CloseOnce(t *testing.T) {
	testDB := testutil.SetupTestDatabase(t)
	matches := NewMatchRepository(testDB.DB)
	repo := NewPositionRepository(testDB.DB)
	ctx := context.Background()

	match := testutil.CreateTestMatch(addr1, addr2, 1_000_000)
	require.NoError(t, matches.Create(ctx, match))

	position := testutil.CreateTestPosition(match.ID, addr1, 100.0)
	require.NoError(t, repo.Create(ctx, position))
	assert.NotZero(t, position.ID)

	now := time.Now().UTC()
	exit := 110.0
	pnl := position.ComputePnl(exit)
	reason := models.CloseReasonManual
	position.ExitPrice = &exit
	position.Pnl = pnl
	position.ClosedAt = &now
	position.CloseReason = &reason
	require.NoError(t, repo.Close(ctx, position))

	// Closed positions are immutable through Close
	err := repo.Close(ctx, position)
	assert.Error(t, err)

	t.Run("get by match and recompute pnl", func(t *testing.T) {
		positions, err := repo.GetByMatch(ctx, match.ID)
		require.NoError(t, err)
		require.Len(t, positions, 1)
		assert.InDelta(t, pnl, positions[0].Pnl, 1e-9)

		require.NoError(t, repo.UpdatePnl(ctx, position.ID, 42.0))

		positions, err = repo.GetByMatch(ctx, match.ID)
		require.NoError(t, err)
		assert.InDelta(t, 42.0, positions[0].Pnl, 1e-9)
	})
}
