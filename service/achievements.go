package service

import (
	"context"

	"solduel/models"
)

// noopAchievements is the default AchievementEvaluator: no rule list is
// configured, so nothing ever unlocks.
type noopAchievements struct{}

// NewNoopAchievements creates an evaluator that never unlocks anything
func NewNoopAchievements() AchievementEvaluator {
	return noopAchievements{}
}

func (noopAchievements) Evaluate(ctx context.Context, account *models.Account) []string {
	return nil
}
