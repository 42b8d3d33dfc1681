package service

import (
	"context"
	"fmt"

	"solduel/models"
)

const defaultLeaderboardSize = 20

// leaderboardService implements the LeaderboardService interface
type leaderboardService struct {
	uowFactory UnitOfWorkFactory
}

// NewLeaderboardService creates a new leaderboard service
func NewLeaderboardService(uowFactory UnitOfWorkFactory) LeaderboardService {
	return &leaderboardService{uowFactory: uowFactory}
}

// GetLeaderboard returns the top accounts by wins, then total pnl
func (s *leaderboardService) GetLeaderboard(ctx context.Context, limit int) ([]*models.LeaderboardEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = defaultLeaderboardSize
	}

	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	accounts, err := uow.AccountRepository().GetTop(ctx, limit)
	if err != nil {
		return nil, err
	}

	entries := make([]*models.LeaderboardEntry, 0, len(accounts))
	for i, account := range accounts {
		entries = append(entries, &models.LeaderboardEntry{
			Rank:       i + 1,
			Address:    account.Address,
			Wins:       account.Wins,
			Losses:     account.Losses,
			Ties:       account.Ties,
			TotalPnl:   account.TotalPnl,
			BestStreak: account.BestStreak,
		})
	}

	return entries, nil
}

// GetCareerStats returns one account's career record
func (s *leaderboardService) GetCareerStats(ctx context.Context, address string) (*models.Account, error) {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	account, err := uow.AccountRepository().Get(ctx, address)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrAccountNotFound
	}

	return account, nil
}
