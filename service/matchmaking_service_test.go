package service

import (
	"context"
	"testing"

	"solduel/events"
	"solduel/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newMatchmakingFixture() (*matchmakingService, *MockUnitOfWork, *MockMatchRepository, *MockLedgerService, *MemoryPresence, *MockEventPublisher) {
	mockUoW := new(MockUnitOfWork)
	mockFactory := new(MockUnitOfWorkFactory)
	mockMatches := new(MockMatchRepository)
	mockLedger := new(MockLedgerService)
	presence := NewMemoryPresence()
	publisher := new(MockEventPublisher)

	mockUoW.SetRepositories(nil, mockMatches, nil, nil, nil, nil, publisher)
	mockFactory.On("Create").Return(mockUoW)

	svc := NewMatchmakingService(mockFactory, mockLedger, presence).(*matchmakingService)
	return svc, mockUoW, mockMatches, mockLedger, presence, publisher
}

func TestMatchmakingService_JoinQueue_FreezesBet(t *testing.T) {
	ctx := context.Background()
	svc, mockUoW, mockMatches, mockLedger, _, _ := newMatchmakingFixture()

	mockUoW.On("Begin", ctx).Return(nil)
	mockUoW.On("Rollback").Return(nil)
	mockMatches.On("HasActiveMatch", ctx, testAddress).Return(false, nil)
	mockLedger.On("Freeze", ctx, testAddress, int64(1_000_000)).Return(nil)

	err := svc.JoinQueue(ctx, testAddress, 300, 1_000_000)

	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), svc.QueuedBetTotal(testAddress))
	mockLedger.AssertExpectations(t)
}

func TestMatchmakingService_JoinQueue_RejectsDoubleJoin(t *testing.T) {
	ctx := context.Background()
	svc, mockUoW, mockMatches, mockLedger, _, _ := newMatchmakingFixture()

	mockUoW.On("Begin", ctx).Return(nil)
	mockUoW.On("Rollback").Return(nil)
	mockMatches.On("HasActiveMatch", ctx, testAddress).Return(false, nil)
	mockLedger.On("Freeze", ctx, testAddress, int64(1_000_000)).Return(nil)

	require.NoError(t, svc.JoinQueue(ctx, testAddress, 300, 1_000_000))

	err := svc.JoinQueue(ctx, testAddress, 300, 1_000_000)
	assert.Error(t, err)

	// Only the first join froze funds
	mockLedger.AssertNumberOfCalls(t, "Freeze", 1)
}

func TestMatchmakingService_JoinQueue_RejectsDuringActiveMatch(t *testing.T) {
	ctx := context.Background()
	svc, mockUoW, mockMatches, mockLedger, _, _ := newMatchmakingFixture()

	mockUoW.On("Begin", ctx).Return(nil)
	mockUoW.On("Rollback").Return(nil)
	mockMatches.On("HasActiveMatch", ctx, testAddress).Return(true, nil)

	err := svc.JoinQueue(ctx, testAddress, 300, 1_000_000)

	assert.Error(t, err)
	mockLedger.AssertNotCalled(t, "Freeze", mock.Anything, mock.Anything, mock.Anything)
}

func TestMatchmakingService_LeaveQueue_UnfreezesBet(t *testing.T) {
	ctx := context.Background()
	svc, mockUoW, mockMatches, mockLedger, _, _ := newMatchmakingFixture()

	mockUoW.On("Begin", ctx).Return(nil)
	mockUoW.On("Rollback").Return(nil)
	mockMatches.On("HasActiveMatch", ctx, testAddress).Return(false, nil)
	mockLedger.On("Freeze", ctx, testAddress, int64(1_000_000)).Return(nil)
	mockLedger.On("Unfreeze", ctx, testAddress, int64(1_000_000)).Return(nil)

	require.NoError(t, svc.JoinQueue(ctx, testAddress, 300, 1_000_000))
	require.NoError(t, svc.LeaveQueue(ctx, testAddress, 300, 1_000_000))

	assert.Equal(t, int64(0), svc.QueuedBetTotal(testAddress))
	mockLedger.AssertExpectations(t)
}

func TestMatchmakingService_LeaveQueue_NotQueuedIsError(t *testing.T) {
	svc, _, _, mockLedger, _, _ := newMatchmakingFixture()

	err := svc.LeaveQueue(context.Background(), testAddress, 300, 1_000_000)

	assert.Error(t, err)
	mockLedger.AssertNotCalled(t, "Unfreeze", mock.Anything, mock.Anything, mock.Anything)
}

func TestMatchmakingService_MatchAll_PairsFIFO(t *testing.T) {
	ctx := context.Background()
	svc, mockUoW, mockMatches, mockLedger, presence, publisher := newMatchmakingFixture()

	third := "7S3P4HxJpyyigGzodYwHtCxZyUQe9JiBMHyRWXArAaKv"

	mockUoW.On("Begin", ctx).Return(nil)
	mockUoW.On("Commit").Return(nil)
	mockUoW.On("Rollback").Return(nil)
	mockMatches.On("HasActiveMatch", ctx, mock.Anything).Return(false, nil)
	mockLedger.On("Freeze", ctx, mock.Anything, int64(1_000_000)).Return(nil)

	for _, addr := range []string{testAddress, testOpponent, third} {
		presence.Connect(addr)
		require.NoError(t, svc.JoinQueue(ctx, addr, 300, 1_000_000))
	}

	var created *models.Match
	mockMatches.On("Create", ctx, mock.MatchedBy(func(m *models.Match) bool {
		created = m
		return m.Status == models.MatchStatusActive && m.BetAmount == 1_000_000
	})).Return(nil).Once()

	svc.matchAll(ctx)

	require.NotNil(t, created)
	// First two joiners are paired, third keeps waiting
	assert.Equal(t, testAddress, created.Player1)
	assert.Equal(t, testOpponent, created.Player2)
	assert.Equal(t, int64(1_000_000), svc.QueuedBetTotal(third))
	assert.Equal(t, int64(0), svc.QueuedBetTotal(testAddress))

	found := publisher.Published()
	require.Len(t, found, 1)
	assert.Equal(t, events.EventTypeMatchFound, found[0].Type())
}

func TestMatchmakingService_MatchAll_EvictsDisconnected(t *testing.T) {
	ctx := context.Background()
	svc, mockUoW, mockMatches, mockLedger, presence, _ := newMatchmakingFixture()

	mockUoW.On("Begin", ctx).Return(nil)
	mockUoW.On("Rollback").Return(nil)
	mockMatches.On("HasActiveMatch", ctx, mock.Anything).Return(false, nil)
	mockLedger.On("Freeze", ctx, mock.Anything, int64(1_000_000)).Return(nil)

	presence.Connect(testAddress)
	presence.Connect(testOpponent)
	require.NoError(t, svc.JoinQueue(ctx, testAddress, 300, 1_000_000))
	require.NoError(t, svc.JoinQueue(ctx, testOpponent, 300, 1_000_000))

	// First joiner drops before the tick pairs them
	presence.Disconnect(testAddress)
	mockLedger.On("Unfreeze", ctx, testAddress, int64(1_000_000)).Return(nil)

	svc.matchAll(ctx)

	mockMatches.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	mockLedger.AssertCalled(t, "Unfreeze", ctx, testAddress, int64(1_000_000))
	// The live player is requeued for the next tick
	assert.Equal(t, int64(1_000_000), svc.QueuedBetTotal(testOpponent))
}

func TestMatchmakingService_MatchAll_AbortsStaleActiveMatchEntry(t *testing.T) {
	ctx := context.Background()
	svc, mockUoW, mockMatches, mockLedger, presence, _ := newMatchmakingFixture()

	third := "7S3P4HxJpyyigGzodYwHtCxZyUQe9JiBMHyRWXArAaKv"
	fourth := "2AQdpHJ2JpcEgPiATUXjQxA8QmafFegfQwSLWSprPicm"

	mockUoW.On("Begin", ctx).Return(nil)
	mockUoW.On("Commit").Return(nil)
	mockUoW.On("Rollback").Return(nil)
	mockMatches.On("HasActiveMatch", ctx, testAddress).Return(false, nil).Once()
	mockMatches.On("HasActiveMatch", ctx, testOpponent).Return(false, nil)
	mockMatches.On("HasActiveMatch", ctx, third).Return(false, nil)
	mockLedger.On("Freeze", ctx, mock.Anything, int64(1_000_000)).Return(nil)

	for _, addr := range []string{testAddress, testOpponent, third} {
		presence.Connect(addr)
		require.NoError(t, svc.JoinQueue(ctx, addr, 300, 1_000_000))
	}

	// The head player got into a match through a challenge between queueing
	// and pairing; the pair can never succeed
	mockMatches.On("HasActiveMatch", ctx, testAddress).Return(true, nil)
	mockLedger.On("Unfreeze", ctx, testAddress, int64(1_000_000)).Return(nil)
	mockLedger.On("Unfreeze", ctx, testOpponent, int64(1_000_000)).Return(nil)

	svc.matchAll(ctx)

	mockMatches.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	mockLedger.AssertCalled(t, "Unfreeze", ctx, testAddress, int64(1_000_000))
	mockLedger.AssertCalled(t, "Unfreeze", ctx, testOpponent, int64(1_000_000))

	// Both dropped from the queue; the third player is now the bucket head
	assert.Equal(t, int64(0), svc.QueuedBetTotal(testAddress))
	assert.Equal(t, int64(0), svc.QueuedBetTotal(testOpponent))
	assert.Equal(t, int64(1_000_000), svc.QueuedBetTotal(third))

	// The bucket is not jammed: a fresh joiner pairs with the third player
	mockMatches.On("HasActiveMatch", ctx, fourth).Return(false, nil)
	presence.Connect(fourth)
	require.NoError(t, svc.JoinQueue(ctx, fourth, 300, 1_000_000))

	var created *models.Match
	mockMatches.On("Create", ctx, mock.MatchedBy(func(m *models.Match) bool {
		created = m
		return true
	})).Return(nil).Once()

	svc.matchAll(ctx)

	require.NotNil(t, created)
	assert.Equal(t, third, created.Player1)
	assert.Equal(t, fourth, created.Player2)
}

func TestMatchmakingService_MatchAll_RequeuesOnCreateFailure(t *testing.T) {
	ctx := context.Background()
	svc, mockUoW, mockMatches, mockLedger, presence, _ := newMatchmakingFixture()

	mockUoW.On("Begin", ctx).Return(nil)
	mockUoW.On("Rollback").Return(nil)
	mockMatches.On("HasActiveMatch", ctx, mock.Anything).Return(false, nil)
	mockLedger.On("Freeze", ctx, mock.Anything, int64(1_000_000)).Return(nil)

	presence.Connect(testAddress)
	presence.Connect(testOpponent)
	require.NoError(t, svc.JoinQueue(ctx, testAddress, 300, 1_000_000))
	require.NoError(t, svc.JoinQueue(ctx, testOpponent, 300, 1_000_000))

	mockMatches.On("Create", ctx, mock.Anything).Return(assert.AnError)

	svc.matchAll(ctx)

	// Both stay queued in their original order; no funds were released
	assert.Equal(t, int64(1_000_000), svc.QueuedBetTotal(testAddress))
	assert.Equal(t, int64(1_000_000), svc.QueuedBetTotal(testOpponent))
	mockLedger.AssertNotCalled(t, "Unfreeze", mock.Anything, mock.Anything, mock.Anything)
}

func TestMatchmakingService_RemoveFromAllQueues(t *testing.T) {
	ctx := context.Background()
	svc, mockUoW, mockMatches, mockLedger, _, _ := newMatchmakingFixture()

	mockUoW.On("Begin", ctx).Return(nil)
	mockUoW.On("Rollback").Return(nil)
	mockMatches.On("HasActiveMatch", ctx, testAddress).Return(false, nil)
	mockLedger.On("Freeze", ctx, testAddress, int64(1_000_000)).Return(nil)
	mockLedger.On("Unfreeze", ctx, testAddress, int64(1_000_000)).Return(nil)

	require.NoError(t, svc.JoinQueue(ctx, testAddress, 300, 1_000_000))
	require.NoError(t, svc.RemoveFromAllQueues(ctx, testAddress))

	assert.Equal(t, int64(0), svc.QueuedBetTotal(testAddress))

	// Removing an unqueued player is a no-op, not a double unfreeze
	require.NoError(t, svc.RemoveFromAllQueues(ctx, testAddress))
	mockLedger.AssertNumberOfCalls(t, "Unfreeze", 1)
}
