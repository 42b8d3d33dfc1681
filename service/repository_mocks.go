package service

import (
	"context"
	"sync"
	"time"

	"solduel/events"
	"solduel/models"

	"github.com/stretchr/testify/mock"
)

// MockAccountRepository is a mock implementation of AccountRepository
type MockAccountRepository struct {
	mock.Mock
}

func (m *MockAccountRepository) Get(ctx context.Context, address string) (*models.Account, error) {
	args := m.Called(ctx, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Account), args.Error(1)
}

func (m *MockAccountRepository) Create(ctx context.Context, account *models.Account) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *MockAccountRepository) CompareAndSwap(ctx context.Context, account *models.Account) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *MockAccountRepository) GetAddressesWithFrozen(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockAccountRepository) GetTop(ctx context.Context, limit int) ([]*models.Account, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Account), args.Error(1)
}

// MockMatchRepository is a mock implementation of MatchRepository
type MockMatchRepository struct {
	mock.Mock
}

func (m *MockMatchRepository) Create(ctx context.Context, match *models.Match) error {
	args := m.Called(ctx, match)
	return args.Error(0)
}

func (m *MockMatchRepository) GetByID(ctx context.Context, id string) (*models.Match, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Match), args.Error(1)
}

func (m *MockMatchRepository) HasActiveMatch(ctx context.Context, address string) (bool, error) {
	args := m.Called(ctx, address)
	return args.Bool(0), args.Error(1)
}

func (m *MockMatchRepository) GetActivePastEnd(ctx context.Context, now time.Time) ([]*models.Match, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Match), args.Error(1)
}

func (m *MockMatchRepository) GetUnsettled(ctx context.Context) ([]*models.Match, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Match), args.Error(1)
}

func (m *MockMatchRepository) UpdateResult(ctx context.Context, match *models.Match) error {
	args := m.Called(ctx, match)
	return args.Error(0)
}

func (m *MockMatchRepository) SetPlayerSettled(ctx context.Context, matchID string, slot int) error {
	args := m.Called(ctx, matchID, slot)
	return args.Error(0)
}

func (m *MockMatchRepository) SetBalancesSettled(ctx context.Context, matchID string) error {
	args := m.Called(ctx, matchID)
	return args.Error(0)
}

func (m *MockMatchRepository) SumActiveBets(ctx context.Context, address string) (int64, error) {
	args := m.Called(ctx, address)
	return args.Get(0).(int64), args.Error(1)
}

// MockPositionRepository is a mock implementation of PositionRepository
type MockPositionRepository struct {
	mock.Mock
}

func (m *MockPositionRepository) Create(ctx context.Context, position *models.Position) error {
	args := m.Called(ctx, position)
	return args.Error(0)
}

func (m *MockPositionRepository) GetByMatch(ctx context.Context, matchID string) ([]*models.Position, error) {
	args := m.Called(ctx, matchID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Position), args.Error(1)
}

func (m *MockPositionRepository) Close(ctx context.Context, position *models.Position) error {
	args := m.Called(ctx, position)
	return args.Error(0)
}

func (m *MockPositionRepository) UpdatePnl(ctx context.Context, id int64, pnl float64) error {
	args := m.Called(ctx, id, pnl)
	return args.Error(0)
}

// MockDepositClaimRepository is a mock implementation of DepositClaimRepository
type MockDepositClaimRepository struct {
	mock.Mock
}

func (m *MockDepositClaimRepository) TryCreate(ctx context.Context, claim *models.DepositClaim) (bool, error) {
	args := m.Called(ctx, claim)
	return args.Bool(0), args.Error(1)
}

func (m *MockDepositClaimRepository) Exists(ctx context.Context, signature string) (bool, error) {
	args := m.Called(ctx, signature)
	return args.Bool(0), args.Error(1)
}

// MockBalanceTransactionRepository is a mock implementation of BalanceTransactionRepository
type MockBalanceTransactionRepository struct {
	mock.Mock
}

func (m *MockBalanceTransactionRepository) Record(ctx context.Context, txn *models.BalanceTransaction) error {
	args := m.Called(ctx, txn)
	return args.Error(0)
}

func (m *MockBalanceTransactionRepository) GetByAccount(ctx context.Context, address string, limit int, beforeID int64) ([]*models.BalanceTransaction, error) {
	args := m.Called(ctx, address, limit, beforeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.BalanceTransaction), args.Error(1)
}

// MockChallengeRepository is a mock implementation of ChallengeRepository
type MockChallengeRepository struct {
	mock.Mock
}

func (m *MockChallengeRepository) Create(ctx context.Context, challenge *models.Challenge) error {
	args := m.Called(ctx, challenge)
	return args.Error(0)
}

func (m *MockChallengeRepository) GetByID(ctx context.Context, id string) (*models.Challenge, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Challenge), args.Error(1)
}

func (m *MockChallengeRepository) TransitionStatus(ctx context.Context, id string, from, to models.ChallengeStatus) (bool, error) {
	args := m.Called(ctx, id, from, to)
	return args.Bool(0), args.Error(1)
}

func (m *MockChallengeRepository) GetExpiredPending(ctx context.Context, now time.Time) ([]*models.Challenge, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Challenge), args.Error(1)
}

func (m *MockChallengeRepository) SumPendingBets(ctx context.Context, address string) (int64, error) {
	args := m.Called(ctx, address)
	return args.Get(0).(int64), args.Error(1)
}

// MockEventPublisher records published events for assertions
type MockEventPublisher struct {
	mu     sync.Mutex
	Events []events.Event
}

func (m *MockEventPublisher) Publish(event events.Event) {
	m.mu.Lock()
	m.Events = append(m.Events, event)
	m.mu.Unlock()
}

func (m *MockEventPublisher) Published() []events.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]events.Event, len(m.Events))
	copy(out, m.Events)
	return out
}

// MockUnitOfWork is a mock implementation of UnitOfWork. Repositories are
// injected with SetRepositories rather than mocked per-getter.
type MockUnitOfWork struct {
	mock.Mock
	accountRepo    AccountRepository
	matchRepo      MatchRepository
	positionRepo   PositionRepository
	claimRepo      DepositClaimRepository
	balanceTxnRepo BalanceTransactionRepository
	challengeRepo  ChallengeRepository
	eventBus       EventPublisher
}

// SetRepositories wires the repositories returned by the getters; nil slots
// are allowed for repositories the test never touches
func (m *MockUnitOfWork) SetRepositories(
	accounts AccountRepository,
	matches MatchRepository,
	positions PositionRepository,
	claims DepositClaimRepository,
	balanceTxns BalanceTransactionRepository,
	challenges ChallengeRepository,
	eventBus EventPublisher,
) {
	m.accountRepo = accounts
	m.matchRepo = matches
	m.positionRepo = positions
	m.claimRepo = claims
	m.balanceTxnRepo = balanceTxns
	m.challengeRepo = challenges
	m.eventBus = eventBus
}

func (m *MockUnitOfWork) Begin(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockUnitOfWork) Commit() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockUnitOfWork) Rollback() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockUnitOfWork) AccountRepository() AccountRepository { return m.accountRepo }
func (m *MockUnitOfWork) MatchRepository() MatchRepository     { return m.matchRepo }
func (m *MockUnitOfWork) PositionRepository() PositionRepository {
	return m.positionRepo
}
func (m *MockUnitOfWork) DepositClaimRepository() DepositClaimRepository {
	return m.claimRepo
}
func (m *MockUnitOfWork) BalanceTransactionRepository() BalanceTransactionRepository {
	return m.balanceTxnRepo
}
func (m *MockUnitOfWork) ChallengeRepository() ChallengeRepository {
	return m.challengeRepo
}
func (m *MockUnitOfWork) EventBus() EventPublisher { return m.eventBus }

// MockUnitOfWorkFactory is a mock implementation of UnitOfWorkFactory
type MockUnitOfWorkFactory struct {
	mock.Mock
}

func (m *MockUnitOfWorkFactory) Create() UnitOfWork {
	args := m.Called()
	return args.Get(0).(UnitOfWork)
}

// MockDepositVerifier is a mock implementation of DepositVerifier
type MockDepositVerifier struct {
	mock.Mock
}

func (m *MockDepositVerifier) VerifyDeposit(ctx context.Context, depositor, signature string) (int64, error) {
	args := m.Called(ctx, depositor, signature)
	return args.Get(0).(int64), args.Error(1)
}

// MockPayoutSender is a mock implementation of PayoutSender
type MockPayoutSender struct {
	mock.Mock
}

func (m *MockPayoutSender) SendPayout(ctx context.Context, recipient string, amount int64) (string, error) {
	args := m.Called(ctx, recipient, amount)
	return args.String(0), args.Error(1)
}

func (m *MockPayoutSender) ConfirmLanded(ctx context.Context, signature string) (bool, error) {
	args := m.Called(ctx, signature)
	return args.Bool(0), args.Error(1)
}

// MockLedgerService is a mock implementation of LedgerService
type MockLedgerService struct {
	mock.Mock
}

func (m *MockLedgerService) GetBalance(ctx context.Context, address string) (*models.BalanceSummary, error) {
	args := m.Called(ctx, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.BalanceSummary), args.Error(1)
}

func (m *MockLedgerService) Freeze(ctx context.Context, address string, amount int64) error {
	args := m.Called(ctx, address, amount)
	return args.Error(0)
}

func (m *MockLedgerService) Unfreeze(ctx context.Context, address string, amount int64) error {
	args := m.Called(ctx, address, amount)
	return args.Error(0)
}

func (m *MockLedgerService) SettleMatchBalances(ctx context.Context, matchID string, winner *string, player1, player2 string, bet int64, isTie bool) error {
	args := m.Called(ctx, matchID, winner, player1, player2, bet, isTie)
	return args.Error(0)
}

func (m *MockLedgerService) ReconcileFrozenBalance(ctx context.Context, address string) error {
	args := m.Called(ctx, address)
	return args.Error(0)
}

func (m *MockLedgerService) ReconcileAllFrozen(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockLedgerService) SetQueuedBetSource(fn func(address string) int64) {
	m.Called(fn)
}

func (m *MockLedgerService) ConfirmDeposit(ctx context.Context, address, signature string) (int64, error) {
	args := m.Called(ctx, address, signature)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockLedgerService) ProcessWithdrawal(ctx context.Context, address string, amount int64) (string, error) {
	args := m.Called(ctx, address, amount)
	return args.String(0), args.Error(1)
}

func (m *MockLedgerService) GetTransactions(ctx context.Context, address string, limit int, beforeID int64) ([]*models.BalanceTransaction, error) {
	args := m.Called(ctx, address, limit, beforeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.BalanceTransaction), args.Error(1)
}

// MockChallengeService is a mock implementation of ChallengeService
type MockChallengeService struct {
	mock.Mock
}

func (m *MockChallengeService) Propose(ctx context.Context, challenger, opponent string, durationSeconds int, bet int64) (*models.Challenge, error) {
	args := m.Called(ctx, challenger, opponent, durationSeconds, bet)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Challenge), args.Error(1)
}

func (m *MockChallengeService) Accept(ctx context.Context, challengeID, accepter string) (*models.Match, error) {
	args := m.Called(ctx, challengeID, accepter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Match), args.Error(1)
}

func (m *MockChallengeService) Decline(ctx context.Context, challengeID, decliner string) error {
	args := m.Called(ctx, challengeID, decliner)
	return args.Error(0)
}

func (m *MockChallengeService) Cancel(ctx context.Context, challengeID, challenger string) error {
	args := m.Called(ctx, challengeID, challenger)
	return args.Error(0)
}

func (m *MockChallengeService) ExpireStale(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
