package service

import (
	"context"
	"time"

	"solduel/events"
	"solduel/models"
)

// AccountRepository defines the interface for account data access
type AccountRepository interface {
	// Get retrieves an account by address, or nil if it does not exist
	Get(ctx context.Context, address string) (*models.Account, error)

	// Create inserts a new account; returns ErrVersionConflict when racing
	// another creator of the same address
	Create(ctx context.Context, account *models.Account) error

	// CompareAndSwap conditionally writes the account against the version it
	// was read at, returning ErrVersionConflict when a concurrent writer won
	CompareAndSwap(ctx context.Context, account *models.Account) error

	// GetAddressesWithFrozen returns addresses currently holding frozen funds
	GetAddressesWithFrozen(ctx context.Context) ([]string, error)

	// GetTop returns the leaderboard ordered by wins, then total pnl
	GetTop(ctx context.Context, limit int) ([]*models.Account, error)
}

// MatchRepository defines the interface for match data access
type MatchRepository interface {
	// Create creates a new match record
	Create(ctx context.Context, match *models.Match) error

	// GetByID retrieves a match by its ID, or nil if it does not exist
	GetByID(ctx context.Context, id string) (*models.Match, error)

	// HasActiveMatch reports whether the player is inside an unfinished match
	HasActiveMatch(ctx context.Context, address string) (bool, error)

	// GetActivePastEnd returns active matches whose end time has passed
	GetActivePastEnd(ctx context.Context, now time.Time) ([]*models.Match, error)

	// GetUnsettled returns terminal matches with balances_settled still false
	GetUnsettled(ctx context.Context) ([]*models.Match, error)

	// UpdateResult writes the outcome fields of an active match
	UpdateResult(ctx context.Context, match *models.Match) error

	// SetPlayerSettled durably marks one player's settlement as applied
	SetPlayerSettled(ctx context.Context, matchID string, slot int) error

	// SetBalancesSettled marks the whole match settlement as done
	SetBalancesSettled(ctx context.Context, matchID string) error

	// SumActiveBets totals the player's at-risk amount across active matches
	SumActiveBets(ctx context.Context, address string) (int64, error)
}

// PositionRepository defines the interface for position data access
type PositionRepository interface {
	// Create opens a new position
	Create(ctx context.Context, position *models.Position) error

	// GetByMatch returns all positions opened during a match
	GetByMatch(ctx context.Context, matchID string) ([]*models.Position, error)

	// Close writes the closing fields of an open position
	Close(ctx context.Context, position *models.Position) error

	// UpdatePnl persists a recomputed pnl for a closed position
	UpdatePnl(ctx context.Context, id int64, pnl float64) error
}

// DepositClaimRepository defines the interface for the deposit replay guard
type DepositClaimRepository interface {
	// TryCreate atomically claims a signature; false means already claimed
	TryCreate(ctx context.Context, claim *models.DepositClaim) (bool, error)

	// Exists reports whether the signature has already been claimed
	Exists(ctx context.Context, signature string) (bool, error)
}

// BalanceTransactionRepository defines the interface for the audit trail
type BalanceTransactionRepository interface {
	// Record appends a new balance transaction entry
	Record(ctx context.Context, txn *models.BalanceTransaction) error

	// GetByAccount returns the newest entries first; beforeID is a cursor,
	// 0 for the first page
	GetByAccount(ctx context.Context, address string, limit int, beforeID int64) ([]*models.BalanceTransaction, error)
}

// ChallengeRepository defines the interface for challenge data access
type ChallengeRepository interface {
	// Create creates a new challenge
	Create(ctx context.Context, challenge *models.Challenge) error

	// GetByID retrieves a challenge by its ID, or nil if it does not exist
	GetByID(ctx context.Context, id string) (*models.Challenge, error)

	// TransitionStatus conditionally moves a challenge between statuses;
	// false means it was no longer in the expected status
	TransitionStatus(ctx context.Context, id string, from, to models.ChallengeStatus) (bool, error)

	// GetExpiredPending returns pending challenges past their expiry time
	GetExpiredPending(ctx context.Context, now time.Time) ([]*models.Challenge, error)

	// SumPendingBets totals the address's frozen pending-challenge bets
	SumPendingBets(ctx context.Context, address string) (int64, error)
}

// LedgerService defines the interface for balance ledger operations
type LedgerService interface {
	// GetBalance returns the account's balance summary, self-healing a
	// corrupted negative balance on read
	GetBalance(ctx context.Context, address string) (*models.BalanceSummary, error)

	// Freeze reserves amount out of the available balance
	Freeze(ctx context.Context, address string, amount int64) error

	// Unfreeze releases up to amount of frozen balance
	Unfreeze(ctx context.Context, address string, amount int64) error

	// SettleMatchBalances applies the financial outcome of a match. Idempotent:
	// per-player settled flags are checked before each side is touched.
	SettleMatchBalances(ctx context.Context, matchID string, winner *string, player1, player2 string, bet int64, isTie bool) error

	// ReconcileFrozenBalance recomputes the expected frozen total from ground
	// truth and overwrites the stored value when it drifted
	ReconcileFrozenBalance(ctx context.Context, address string) error

	// ReconcileAllFrozen reconciles every account holding frozen funds
	ReconcileAllFrozen(ctx context.Context) error

	// SetQueuedBetSource wires the in-memory queue total into reconciliation;
	// set once at startup, after the queue service is constructed
	SetQueuedBetSource(fn func(address string) int64)

	// ConfirmDeposit verifies an external deposit transaction and credits the
	// account exactly once, returning the new balance
	ConfirmDeposit(ctx context.Context, address, signature string) (int64, error)

	// ProcessWithdrawal debits the account and issues the external payout,
	// returning the payout signature
	ProcessWithdrawal(ctx context.Context, address string, amount int64) (string, error)

	// GetTransactions pages through the account's audit trail, newest first
	GetTransactions(ctx context.Context, address string, limit int, beforeID int64) ([]*models.BalanceTransaction, error)
}

// MatchmakingService defines the interface for the matchmaking queue
type MatchmakingService interface {
	// JoinQueue freezes the bet and enters the player into the bucket
	JoinQueue(ctx context.Context, address string, durationSeconds int, bet int64) error

	// LeaveQueue removes the player from one bucket and unfreezes their bet
	LeaveQueue(ctx context.Context, address string, durationSeconds int, bet int64) error

	// RemoveFromAllQueues removes the player from every bucket, unfreezing
	// each bet; used on disconnect
	RemoveFromAllQueues(ctx context.Context, address string) error

	// QueuedBetTotal totals the bets the address currently has queued
	QueuedBetTotal(address string) int64

	// Run drives the matching tick until the context is cancelled
	Run(ctx context.Context)
}

// SettlementService defines the interface for the settlement engine
type SettlementService interface {
	// SettleMatch ends an active match: closes positions, computes the
	// outcome and settles balances and stats
	SettleMatch(ctx context.Context, matchID string) error

	// SettleByForfeit settles a match against a disconnected player
	SettleByForfeit(ctx context.Context, matchID, disconnectedPlayer string) error

	// Run drives the settlement sweep until the context is cancelled
	Run(ctx context.Context)
}

// ChallengeService defines the interface for direct challenge operations
type ChallengeService interface {
	// Propose creates a pending challenge, freezing the challenger's bet
	Propose(ctx context.Context, challenger, opponent string, durationSeconds int, bet int64) (*models.Challenge, error)

	// Accept freezes the opponent's bet and creates the match
	Accept(ctx context.Context, challengeID, accepter string) (*models.Match, error)

	// Decline rejects a pending challenge and unfreezes the challenger's bet
	Decline(ctx context.Context, challengeID, decliner string) error

	// Cancel withdraws a pending challenge; only the challenger may cancel
	Cancel(ctx context.Context, challengeID, challenger string) error

	// ExpireStale expires pending challenges past their TTL, unfreezing bets.
	// Called from the settlement sweep.
	ExpireStale(ctx context.Context) error
}

// LeaderboardService defines the interface for career statistics queries
type LeaderboardService interface {
	// GetLeaderboard returns the top accounts by wins, then total pnl
	GetLeaderboard(ctx context.Context, limit int) ([]*models.LeaderboardEntry, error)

	// GetCareerStats returns one account's career record
	GetCareerStats(ctx context.Context, address string) (*models.Account, error)
}

// DepositVerifier validates a claimed deposit against the external network
type DepositVerifier interface {
	// VerifyDeposit fetches and inspects the transaction, returning the
	// transferred amount in base units. Errors: ErrDepositNotFound,
	// ErrDepositFailed, ErrNoMatchingTransfer.
	VerifyDeposit(ctx context.Context, depositor, signature string) (int64, error)
}

// PayoutSender issues withdrawal transfers on the external network
type PayoutSender interface {
	// SendPayout transfers amount to the recipient, returning the signature
	SendPayout(ctx context.Context, recipient string, amount int64) (string, error)

	// ConfirmLanded queries the network for the signature's authoritative
	// status; true means the transfer is on-chain despite any local error
	ConfirmLanded(ctx context.Context, signature string) (bool, error)
}

// PresenceChecker reports player connectivity; backed by the realtime layer
type PresenceChecker interface {
	IsConnected(ctx context.Context, address string) (bool, error)
}

// PriceSnapshots holds the last prices actually shown to a match's viewers.
// Settlement force-closes open positions at exactly these prices.
type PriceSnapshots interface {
	// Set replaces the snapshot for a match
	Set(matchID string, prices map[string]float64)

	// Get returns the snapshot for a match, or nil if none was recorded
	Get(matchID string) map[string]float64

	// Discard drops the snapshot after settlement
	Discard(matchID string)
}

// AchievementEvaluator evaluates achievement rules against updated career
// stats; the rule list itself lives outside this service
type AchievementEvaluator interface {
	Evaluate(ctx context.Context, account *models.Account) []string
}

// EventPublisher defines the interface for publishing events
type EventPublisher interface {
	Publish(event events.Event)
}

// UnitOfWork defines the interface for transactional repository operations
type UnitOfWork interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) error

	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Repository getters
	AccountRepository() AccountRepository
	MatchRepository() MatchRepository
	PositionRepository() PositionRepository
	DepositClaimRepository() DepositClaimRepository
	BalanceTransactionRepository() BalanceTransactionRepository
	ChallengeRepository() ChallengeRepository
	EventBus() EventPublisher
}

// UnitOfWorkFactory defines the interface for creating UnitOfWork instances
type UnitOfWorkFactory interface {
	// Create creates a new UnitOfWork instance
	Create() UnitOfWork
}
