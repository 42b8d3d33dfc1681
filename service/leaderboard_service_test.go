package service

import (
	"context"
	"testing"

	"solduel/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLeaderboardFixture() (*leaderboardService, *MockUnitOfWork, *MockAccountRepository) {
	mockUoW := new(MockUnitOfWork)
	mockFactory := new(MockUnitOfWorkFactory)
	mockAccounts := new(MockAccountRepository)

	mockUoW.SetRepositories(mockAccounts, nil, nil, nil, nil, nil, nil)
	mockFactory.On("Create").Return(mockUoW)

	svc := NewLeaderboardService(mockFactory).(*leaderboardService)
	return svc, mockUoW, mockAccounts
}

func TestLeaderboardService_GetLeaderboard(t *testing.T) {
	ctx := context.Background()
	svc, mockUoW, mockAccounts := newLeaderboardFixture()

	mockUoW.On("Begin", ctx).Return(nil)
	mockUoW.On("Rollback").Return(nil)
	mockAccounts.On("GetTop", ctx, 2).Return([]*models.Account{
		{Address: testAddress, Wins: 5, Losses: 1, TotalPnl: 250, BestStreak: 4},
		{Address: testOpponent, Wins: 3, Ties: 2, TotalPnl: -10, BestStreak: 2},
	}, nil)

	entries, err := svc.GetLeaderboard(ctx, 2)

	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 1, entries[0].Rank)
	assert.Equal(t, testAddress, entries[0].Address)
	assert.Equal(t, 5, entries[0].Wins)
	assert.Equal(t, 2, entries[1].Rank)
	assert.Equal(t, testOpponent, entries[1].Address)
	assert.InDelta(t, -10, entries[1].TotalPnl, 1e-9)
}

func TestLeaderboardService_GetLeaderboard_ClampsLimit(t *testing.T) {
	ctx := context.Background()
	svc, mockUoW, mockAccounts := newLeaderboardFixture()

	mockUoW.On("Begin", ctx).Return(nil)
	mockUoW.On("Rollback").Return(nil)
	// Zero and oversized limits both fall back to the default page
	mockAccounts.On("GetTop", ctx, defaultLeaderboardSize).Return([]*models.Account{}, nil).Twice()

	_, err := svc.GetLeaderboard(ctx, 0)
	require.NoError(t, err)
	_, err = svc.GetLeaderboard(ctx, 500)
	require.NoError(t, err)

	mockAccounts.AssertExpectations(t)
}

func TestLeaderboardService_GetCareerStats(t *testing.T) {
	ctx := context.Background()
	svc, mockUoW, mockAccounts := newLeaderboardFixture()

	mockUoW.On("Begin", ctx).Return(nil)
	mockUoW.On("Rollback").Return(nil)
	mockAccounts.On("Get", ctx, testAddress).
		Return(&models.Account{Address: testAddress, Wins: 7, TradeCount: 42}, nil)

	account, err := svc.GetCareerStats(ctx, testAddress)

	require.NoError(t, err)
	assert.Equal(t, 7, account.Wins)
	assert.Equal(t, 42, account.TradeCount)
}

func TestLeaderboardService_GetCareerStats_UnknownAccount(t *testing.T) {
	ctx := context.Background()
	svc, mockUoW, mockAccounts := newLeaderboardFixture()

	mockUoW.On("Begin", ctx).Return(nil)
	mockUoW.On("Rollback").Return(nil)
	mockAccounts.On("Get", ctx, testAddress).Return(nil, nil)

	_, err := svc.GetCareerStats(ctx, testAddress)

	assert.ErrorIs(t, err, ErrAccountNotFound)
}
