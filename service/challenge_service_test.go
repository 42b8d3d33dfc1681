package service

import (
	"context"
	"testing"
	"time"

	"solduel/events"
	"solduel/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newChallengeFixture() (*challengeService, *MockUnitOfWork, *MockMatchRepository, *MockChallengeRepository, *MockLedgerService, *MockEventPublisher) {
	mockUoW := new(MockUnitOfWork)
	mockFactory := new(MockUnitOfWorkFactory)
	mockMatches := new(MockMatchRepository)
	mockChallenges := new(MockChallengeRepository)
	mockLedger := new(MockLedgerService)
	publisher := new(MockEventPublisher)

	mockUoW.SetRepositories(nil, mockMatches, nil, nil, nil, mockChallenges, publisher)
	mockFactory.On("Create").Return(mockUoW)

	svc := NewChallengeService(mockFactory, mockLedger).(*challengeService)
	return svc, mockUoW, mockMatches, mockChallenges, mockLedger, publisher
}

func pendingChallenge(id string) *models.Challenge {
	return &models.Challenge{
		ID:              id,
		Challenger:      testAddress,
		Opponent:        testOpponent,
		BetAmount:       1_000_000,
		DurationSeconds: 300,
		Status:          models.ChallengeStatusPending,
		ExpiresAt:       time.Now().Add(10 * time.Minute),
	}
}

func TestChallengeService_Propose(t *testing.T) {
	ctx := context.Background()
	svc, mockUoW, mockMatches, mockChallenges, mockLedger, _ := newChallengeFixture()

	mockUoW.On("Begin", ctx).Return(nil)
	mockUoW.On("Commit").Return(nil)
	mockUoW.On("Rollback").Return(nil)
	mockMatches.On("HasActiveMatch", ctx, testAddress).Return(false, nil)
	mockLedger.On("Freeze", ctx, testAddress, int64(1_000_000)).Return(nil)
	mockChallenges.On("Create", ctx, mock.MatchedBy(func(c *models.Challenge) bool {
		return c.Challenger == testAddress && c.Opponent == testOpponent &&
			c.Status == models.ChallengeStatusPending && c.ExpiresAt.After(time.Now())
	})).Return(nil)

	challenge, err := svc.Propose(ctx, testAddress, testOpponent, 300, 1_000_000)

	require.NoError(t, err)
	assert.NotEmpty(t, challenge.ID)
	mockLedger.AssertExpectations(t)
}

func TestChallengeService_Propose_SelfChallenge(t *testing.T) {
	svc, _, _, _, mockLedger, _ := newChallengeFixture()

	_, err := svc.Propose(context.Background(), testAddress, testAddress, 300, 1_000_000)

	assert.Error(t, err)
	mockLedger.AssertNotCalled(t, "Freeze", mock.Anything, mock.Anything, mock.Anything)
}

func TestChallengeService_Propose_UnfreezesOnCreateFailure(t *testing.T) {
	ctx := context.Background()
	svc, mockUoW, mockMatches, mockChallenges, mockLedger, _ := newChallengeFixture()

	mockUoW.On("Begin", ctx).Return(nil)
	mockUoW.On("Rollback").Return(nil)
	mockMatches.On("HasActiveMatch", ctx, testAddress).Return(false, nil)
	mockLedger.On("Freeze", ctx, testAddress, int64(1_000_000)).Return(nil)
	mockLedger.On("Unfreeze", ctx, testAddress, int64(1_000_000)).Return(nil)
	mockChallenges.On("Create", ctx, mock.Anything).Return(assert.AnError)

	_, err := svc.Propose(ctx, testAddress, testOpponent, 300, 1_000_000)

	assert.Error(t, err)
	mockLedger.AssertCalled(t, "Unfreeze", ctx, testAddress, int64(1_000_000))
}

func TestChallengeService_Accept_CreatesMatch(t *testing.T) {
	ctx := context.Background()
	svc, mockUoW, mockMatches, mockChallenges, mockLedger, publisher := newChallengeFixture()

	challenge := pendingChallenge("c-1")

	mockUoW.On("Begin", ctx).Return(nil)
	mockUoW.On("Commit").Return(nil)
	mockUoW.On("Rollback").Return(nil)
	mockChallenges.On("GetByID", ctx, "c-1").Return(challenge, nil)
	mockLedger.On("Freeze", ctx, testOpponent, int64(1_000_000)).Return(nil)
	mockMatches.On("HasActiveMatch", ctx, mock.Anything).Return(false, nil)
	mockChallenges.On("TransitionStatus", ctx, "c-1",
		models.ChallengeStatusPending, models.ChallengeStatusAccepted).Return(true, nil)
	mockMatches.On("Create", ctx, mock.MatchedBy(func(m *models.Match) bool {
		return m.Player1 == testAddress && m.Player2 == testOpponent &&
			m.Status == models.MatchStatusActive && m.BetAmount == 1_000_000
	})).Return(nil)

	match, err := svc.Accept(ctx, "c-1", testOpponent)

	require.NoError(t, err)
	assert.NotEmpty(t, match.ID)

	found := publisher.Published()
	require.Len(t, found, 1)
	assert.Equal(t, events.EventTypeMatchFound, found[0].Type())
}

func TestChallengeService_Accept_WrongPlayer(t *testing.T) {
	ctx := context.Background()
	svc, mockUoW, _, mockChallenges, mockLedger, _ := newChallengeFixture()

	mockUoW.On("Begin", ctx).Return(nil)
	mockUoW.On("Rollback").Return(nil)
	mockChallenges.On("GetByID", ctx, "c-1").Return(pendingChallenge("c-1"), nil)

	_, err := svc.Accept(ctx, "c-1", "somebody-else")

	assert.Error(t, err)
	mockLedger.AssertNotCalled(t, "Freeze", mock.Anything, mock.Anything, mock.Anything)
}

func TestChallengeService_Accept_LosesTransitionRace(t *testing.T) {
	ctx := context.Background()
	svc, mockUoW, mockMatches, mockChallenges, mockLedger, _ := newChallengeFixture()

	challenge := pendingChallenge("c-1")

	mockUoW.On("Begin", ctx).Return(nil)
	mockUoW.On("Rollback").Return(nil)
	mockChallenges.On("GetByID", ctx, "c-1").Return(challenge, nil)
	mockLedger.On("Freeze", ctx, testOpponent, int64(1_000_000)).Return(nil)
	mockLedger.On("Unfreeze", ctx, testOpponent, int64(1_000_000)).Return(nil)
	mockMatches.On("HasActiveMatch", ctx, mock.Anything).Return(false, nil)
	// The sweep expired it between the read and the transition
	mockChallenges.On("TransitionStatus", ctx, "c-1",
		models.ChallengeStatusPending, models.ChallengeStatusAccepted).Return(false, nil)

	_, err := svc.Accept(ctx, "c-1", testOpponent)

	assert.Error(t, err)
	mockLedger.AssertCalled(t, "Unfreeze", ctx, testOpponent, int64(1_000_000))
	mockMatches.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestChallengeService_Decline_UnfreezesChallenger(t *testing.T) {
	ctx := context.Background()
	svc, mockUoW, _, mockChallenges, mockLedger, _ := newChallengeFixture()

	mockUoW.On("Begin", ctx).Return(nil)
	mockUoW.On("Commit").Return(nil)
	mockUoW.On("Rollback").Return(nil)
	mockChallenges.On("GetByID", ctx, "c-1").Return(pendingChallenge("c-1"), nil)
	mockChallenges.On("TransitionStatus", ctx, "c-1",
		models.ChallengeStatusPending, models.ChallengeStatusDeclined).Return(true, nil)
	mockLedger.On("Unfreeze", ctx, testAddress, int64(1_000_000)).Return(nil)

	err := svc.Decline(ctx, "c-1", testOpponent)

	require.NoError(t, err)
	mockLedger.AssertExpectations(t)
}

func TestChallengeService_Cancel_OnlyChallenger(t *testing.T) {
	ctx := context.Background()
	svc, mockUoW, _, mockChallenges, mockLedger, _ := newChallengeFixture()

	mockUoW.On("Begin", ctx).Return(nil)
	mockUoW.On("Rollback").Return(nil)
	mockChallenges.On("GetByID", ctx, "c-1").Return(pendingChallenge("c-1"), nil)

	err := svc.Cancel(ctx, "c-1", testOpponent)

	assert.Error(t, err)
	mockLedger.AssertNotCalled(t, "Unfreeze", mock.Anything, mock.Anything, mock.Anything)
}

func TestChallengeService_ExpireStale(t *testing.T) {
	ctx := context.Background()
	svc, mockUoW, _, mockChallenges, mockLedger, publisher := newChallengeFixture()

	stale := pendingChallenge("c-old")
	stale.ExpiresAt = time.Now().Add(-time.Minute)

	mockUoW.On("Begin", ctx).Return(nil)
	mockUoW.On("Commit").Return(nil)
	mockUoW.On("Rollback").Return(nil)
	mockChallenges.On("GetExpiredPending", ctx, mock.Anything).Return([]*models.Challenge{stale}, nil)
	mockChallenges.On("TransitionStatus", ctx, "c-old",
		models.ChallengeStatusPending, models.ChallengeStatusExpired).Return(true, nil)
	mockLedger.On("Unfreeze", ctx, testAddress, int64(1_000_000)).Return(nil)

	err := svc.ExpireStale(ctx)

	require.NoError(t, err)
	mockLedger.AssertExpectations(t)

	found := publisher.Published()
	require.Len(t, found, 1)
	assert.Equal(t, events.EventTypeChallengeExpired, found[0].Type())
}

func TestChallengeService_ExpireStale_AcceptedInFlightSkipped(t *testing.T) {
	ctx := context.Background()
	svc, mockUoW, _, mockChallenges, mockLedger, _ := newChallengeFixture()

	stale := pendingChallenge("c-raced")
	stale.ExpiresAt = time.Now().Add(-time.Minute)

	mockUoW.On("Begin", ctx).Return(nil)
	mockUoW.On("Rollback").Return(nil)
	mockChallenges.On("GetExpiredPending", ctx, mock.Anything).Return([]*models.Challenge{stale}, nil)
	// Accepted between listing and expiry: transition loses, money stays frozen
	mockChallenges.On("TransitionStatus", ctx, "c-raced",
		models.ChallengeStatusPending, models.ChallengeStatusExpired).Return(false, nil)

	err := svc.ExpireStale(ctx)

	require.NoError(t, err)
	mockLedger.AssertNotCalled(t, "Unfreeze", mock.Anything, mock.Anything, mock.Anything)
}
