package service

import (
	"context"
	"errors"
	"fmt"

	"solduel/config"
	"solduel/events"
	"solduel/models"

	log "github.com/sirupsen/logrus"
)

// ledgerService implements the LedgerService interface
type ledgerService struct {
	uowFactory    UnitOfWorkFactory
	verifier      DepositVerifier
	payouts       PayoutSender
	queuedBets    func(address string) int64
	minWithdrawal int64
	rakeBps       int64
}

// NewLedgerService creates a new ledger service
func NewLedgerService(uowFactory UnitOfWorkFactory, verifier DepositVerifier, payouts PayoutSender) LedgerService {
	cfg := config.Get()
	return &ledgerService{
		uowFactory:    uowFactory,
		verifier:      verifier,
		payouts:       payouts,
		minWithdrawal: cfg.MinWithdrawal,
		rakeBps:       cfg.RakeBps,
	}
}

// SetQueuedBetSource wires the in-memory queue total into reconciliation.
// Called once during startup wiring; the queue service itself depends on the
// ledger, so this cannot be a constructor argument.
func (s *ledgerService) SetQueuedBetSource(fn func(address string) int64) {
	s.queuedBets = fn
}

// winnerPayout returns the gross amount paid to the winner: both bets minus
// the platform rake, rounded down.
func (s *ledgerService) winnerPayout(bet int64) int64 {
	pot := bet * 2
	return pot - pot*s.rakeBps/10_000
}

// GetBalance returns the account's balance summary. Unknown addresses report
// zero balances rather than an error since any wallet may query before its
// first deposit. A negative balance or frozen amount can only come from a
// corrupted write; it is clamped and the repair persisted best-effort.
func (s *ledgerService) GetBalance(ctx context.Context, address string) (*models.BalanceSummary, error) {
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
		return &models.BalanceSummary{}, nil
	}

	if account.Balance < 0 || account.FrozenBalance < 0 {
		log.WithFields(log.Fields{
			"address": address,
			"balance": account.Balance,
			"frozen":  account.FrozenBalance,
		}).Warn("Clamping negative balance state")

		if account.Balance < 0 {
			account.Balance = 0
		}
		if account.FrozenBalance < 0 {
			account.FrozenBalance = 0
		}

		if err := uow.AccountRepository().CompareAndSwap(ctx, account); err != nil {
			// A concurrent writer already moved the account on; its state
			// wins and the next read re-evaluates.
			if !errors.Is(err, ErrVersionConflict) {
				return nil, err
			}
		} else if err := uow.Commit(); err != nil {
			return nil, err
		}
	}

	available := account.Available()
	if available < 0 {
		available = 0
	}

	return &models.BalanceSummary{
		Balance:   account.Balance,
		Frozen:    account.FrozenBalance,
		Available: available,
	}, nil
}

// Freeze reserves amount out of the available balance
func (s *ledgerService) Freeze(ctx context.Context, address string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	return withVersionRetry(ctx, "freeze", func(ctx context.Context) error {
		uow := s.uowFactory.Create()
		if err := uow.Begin(ctx); err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer uow.Rollback()

		account, err := uow.AccountRepository().Get(ctx, address)
		if err != nil {
			return err
		}
		if account == nil {
			return ErrAccountNotFound
		}
		if account.Available() < amount {
			return ErrInsufficientFunds
		}

		account.FrozenBalance += amount
		if err := uow.AccountRepository().CompareAndSwap(ctx, account); err != nil {
			return err
		}

		return uow.Commit()
	})
}

// Unfreeze releases up to amount of frozen balance. Releasing more than is
// frozen clamps to zero; reconciliation may have already healed the account.
func (s *ledgerService) Unfreeze(ctx context.Context, address string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	return withVersionRetry(ctx, "unfreeze", func(ctx context.Context) error {
		uow := s.uowFactory.Create()
		if err := uow.Begin(ctx); err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer uow.Rollback()

		account, err := uow.AccountRepository().Get(ctx, address)
		if err != nil {
			return err
		}
		if account == nil {
			return ErrAccountNotFound
		}

		account.FrozenBalance -= amount
		if account.FrozenBalance < 0 {
			log.WithFields(log.Fields{
				"address": address,
				"amount":  amount,
			}).Warn("Unfreeze exceeded frozen balance, clamping to zero")
			account.FrozenBalance = 0
		}

		if err := uow.AccountRepository().CompareAndSwap(ctx, account); err != nil {
			return err
		}

		return uow.Commit()
	})
}

// SettleMatchBalances applies the financial outcome of a match. Each player's
// mutation runs in its own transaction gated on that player's durable settled
// flag, so a crash between the two sides is healed by re-running: the settled
// side is skipped, the unsettled side is applied exactly once.
func (s *ledgerService) SettleMatchBalances(ctx context.Context, matchID string, winner *string, player1, player2 string, bet int64, isTie bool) error {
	if err := s.settlePlayer(ctx, matchID, 1, player1, winner, bet, isTie); err != nil {
		return fmt.Errorf("failed to settle player1 for match %s: %w", matchID, err)
	}
	if err := s.settlePlayer(ctx, matchID, 2, player2, winner, bet, isTie); err != nil {
		return fmt.Errorf("failed to settle player2 for match %s: %w", matchID, err)
	}

	return withVersionRetry(ctx, "settle_mark_done", func(ctx context.Context) error {
		uow := s.uowFactory.Create()
		if err := uow.Begin(ctx); err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer uow.Rollback()

		match, err := uow.MatchRepository().GetByID(ctx, matchID)
		if err != nil {
			return err
		}
		if match == nil {
			return fmt.Errorf("match %s not found", matchID)
		}
		if match.BalancesSettled {
			return nil
		}
		if !match.Player1Settled || !match.Player2Settled {
			return fmt.Errorf("match %s has unsettled players after settlement", matchID)
		}

		if err := uow.MatchRepository().SetBalancesSettled(ctx, matchID); err != nil {
			return err
		}

		return uow.Commit()
	})
}

// settlePlayer applies one side of the settlement: balance mutation, frozen
// release, audit entry and the durable per-player settled flag, atomically.
func (s *ledgerService) settlePlayer(ctx context.Context, matchID string, slot int, address string, winner *string, bet int64, isTie bool) error {
	return withVersionRetry(ctx, "settle_player", func(ctx context.Context) error {
		uow := s.uowFactory.Create()
		if err := uow.Begin(ctx); err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer uow.Rollback()

		match, err := uow.MatchRepository().GetByID(ctx, matchID)
		if err != nil {
			return err
		}
		if match == nil {
			return fmt.Errorf("match %s not found", matchID)
		}

		settled := match.Player1Settled
		if slot == 2 {
			settled = match.Player2Settled
		}
		if settled {
			return nil
		}

		account, err := uow.AccountRepository().Get(ctx, address)
		if err != nil {
			return err
		}
		if account == nil {
			return fmt.Errorf("account %s missing at settlement", address)
		}

		oldBalance := account.Balance

		var delta int64
		var txnType models.TransactionType
		switch {
		case isTie:
			delta = 0
			txnType = models.TransactionTypeMatchTieRefund
		case winner != nil && *winner == address:
			delta = s.winnerPayout(bet) - bet
			txnType = models.TransactionTypeMatchWin
		default:
			delta = -bet
			txnType = models.TransactionTypeMatchLoss
		}

		account.Balance += delta
		account.FrozenBalance -= bet
		if account.FrozenBalance < 0 {
			account.FrozenBalance = 0
		}
		if account.Balance < 0 {
			account.Balance = 0
		}

		if err := uow.AccountRepository().CompareAndSwap(ctx, account); err != nil {
			return err
		}

		txn := &models.BalanceTransaction{
			Address: address,
			Type:    txnType,
			Amount:  delta,
			MatchID: &matchID,
		}
		if err := uow.BalanceTransactionRepository().Record(ctx, txn); err != nil {
			return err
		}

		if err := uow.MatchRepository().SetPlayerSettled(ctx, matchID, slot); err != nil {
			return err
		}

		uow.EventBus().Publish(events.BalanceChangeEvent{
			Address:         address,
			OldBalance:      oldBalance,
			NewBalance:      account.Balance,
			TransactionType: txnType,
			ChangeAmount:    delta,
		})

		return uow.Commit()
	})
}

// ReconcileFrozenBalance recomputes the frozen total from ground truth:
// active match bets, pending challenge bets and in-memory queued bets. Heals
// freezes orphaned by a crash between freezing and durable intent.
func (s *ledgerService) ReconcileFrozenBalance(ctx context.Context, address string) error {
	return withVersionRetry(ctx, "reconcile_frozen", func(ctx context.Context) error {
		uow := s.uowFactory.Create()
		if err := uow.Begin(ctx); err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer uow.Rollback()

		account, err := uow.AccountRepository().Get(ctx, address)
		if err != nil {
			return err
		}
		if account == nil {
			return nil
		}

		activeBets, err := uow.MatchRepository().SumActiveBets(ctx, address)
		if err != nil {
			return err
		}
		pendingBets, err := uow.ChallengeRepository().SumPendingBets(ctx, address)
		if err != nil {
			return err
		}

		expected := activeBets + pendingBets
		if s.queuedBets != nil {
			expected += s.queuedBets(address)
		}

		if account.FrozenBalance == expected {
			return nil
		}

		log.WithFields(log.Fields{
			"address":  address,
			"frozen":   account.FrozenBalance,
			"expected": expected,
		}).Warn("Frozen balance drift detected, reconciling")

		account.FrozenBalance = expected
		if err := uow.AccountRepository().CompareAndSwap(ctx, account); err != nil {
			return err
		}

		return uow.Commit()
	})
}

// ReconcileAllFrozen reconciles every account currently holding frozen funds
func (s *ledgerService) ReconcileAllFrozen(ctx context.Context) error {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	addresses, err := uow.AccountRepository().GetAddressesWithFrozen(ctx)
	uow.Rollback()
	if err != nil {
		return err
	}

	for _, address := range addresses {
		if err := s.ReconcileFrozenBalance(ctx, address); err != nil {
			log.WithError(err).WithField("address", address).Error("Failed to reconcile frozen balance")
		}
	}

	return nil
}

// ConfirmDeposit verifies the claimed transaction against the external ledger
// and credits the account exactly once. The claim row insert is the
// linearization point: whichever caller inserts it performs the credit, every
// other caller of the same signature is rejected.
func (s *ledgerService) ConfirmDeposit(ctx context.Context, address, signature string) (int64, error) {
	if address == "" || signature == "" {
		return 0, fmt.Errorf("address and signature are required")
	}

	// Cheap replay check before spending an RPC round trip. Not
	// authoritative; the claim insert below is.
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	claimed, err := uow.DepositClaimRepository().Exists(ctx, signature)
	uow.Rollback()
	if err != nil {
		return 0, err
	}
	if claimed {
		return 0, ErrAlreadyCredited
	}

	amount, err := s.verifier.VerifyDeposit(ctx, address, signature)
	if err != nil {
		return 0, err
	}
	if amount <= 0 {
		return 0, ErrNoMatchingTransfer
	}

	var newBalance int64
	err = withVersionRetry(ctx, "confirm_deposit", func(ctx context.Context) error {
		uow := s.uowFactory.Create()
		if err := uow.Begin(ctx); err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer uow.Rollback()

		inserted, err := uow.DepositClaimRepository().TryCreate(ctx, &models.DepositClaim{
			Signature: signature,
			Address:   address,
			Amount:    amount,
		})
		if err != nil {
			return err
		}
		if !inserted {
			return ErrAlreadyCredited
		}

		account, err := uow.AccountRepository().Get(ctx, address)
		if err != nil {
			return err
		}

		var oldBalance int64
		if account == nil {
			account = &models.Account{
				Address:        address,
				Balance:        amount,
				TotalDeposited: amount,
			}
			if err := uow.AccountRepository().Create(ctx, account); err != nil {
				return err
			}
		} else {
			oldBalance = account.Balance
			account.Balance += amount
			account.TotalDeposited += amount
			if err := uow.AccountRepository().CompareAndSwap(ctx, account); err != nil {
				return err
			}
		}

		txn := &models.BalanceTransaction{
			Address:   address,
			Type:      models.TransactionTypeDeposit,
			Amount:    amount,
			Signature: &signature,
		}
		if err := uow.BalanceTransactionRepository().Record(ctx, txn); err != nil {
			return err
		}

		uow.EventBus().Publish(events.BalanceChangeEvent{
			Address:         address,
			OldBalance:      oldBalance,
			NewBalance:      account.Balance,
			TransactionType: models.TransactionTypeDeposit,
			ChangeAmount:    amount,
		})

		newBalance = account.Balance
		return uow.Commit()
	})
	if err != nil {
		return 0, err
	}

	log.WithFields(log.Fields{
		"address":   address,
		"signature": signature,
		"amount":    amount,
	}).Info("Deposit credited")

	return newBalance, nil
}

// ProcessWithdrawal debits the account durably, then issues the external
// payout. A send failure with a confirmed non-landed transfer is refunded; an
// ambiguous failure is resolved against the external ledger first so a landed
// transfer is never refunded on top of the payout.
func (s *ledgerService) ProcessWithdrawal(ctx context.Context, address string, amount int64) (string, error) {
	if amount <= 0 {
		return "", ErrInvalidAmount
	}
	if amount < s.minWithdrawal {
		return "", ErrBelowMinimumWithdrawal
	}

	err := withVersionRetry(ctx, "withdrawal_debit", func(ctx context.Context) error {
		uow := s.uowFactory.Create()
		if err := uow.Begin(ctx); err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer uow.Rollback()

		account, err := uow.AccountRepository().Get(ctx, address)
		if err != nil {
			return err
		}
		if account == nil {
			return ErrAccountNotFound
		}
		if account.Available() < amount {
			return ErrInsufficientFunds
		}

		oldBalance := account.Balance
		account.Balance -= amount
		account.TotalWithdrawn += amount
		if err := uow.AccountRepository().CompareAndSwap(ctx, account); err != nil {
			return err
		}

		txn := &models.BalanceTransaction{
			Address: address,
			Type:    models.TransactionTypeWithdrawal,
			Amount:  -amount,
		}
		if err := uow.BalanceTransactionRepository().Record(ctx, txn); err != nil {
			return err
		}

		uow.EventBus().Publish(events.BalanceChangeEvent{
			Address:         address,
			OldBalance:      oldBalance,
			NewBalance:      account.Balance,
			TransactionType: models.TransactionTypeWithdrawal,
			ChangeAmount:    -amount,
		})

		return uow.Commit()
	})
	if err != nil {
		return "", err
	}

	signature, sendErr := s.payouts.SendPayout(ctx, address, amount)
	if sendErr == nil {
		log.WithFields(log.Fields{
			"address":   address,
			"amount":    amount,
			"signature": signature,
		}).Info("Withdrawal sent")
		return signature, nil
	}

	if signature != "" {
		landed, confirmErr := s.payouts.ConfirmLanded(ctx, signature)
		if confirmErr != nil {
			// Cannot tell whether the transfer landed. Keep the debit; an
			// operator resolves it from the audit trail rather than risking
			// a double payout.
			return "", fmt.Errorf("payout %s in unknown state (send: %v): %w", signature, sendErr, confirmErr)
		}
		if landed {
			log.WithFields(log.Fields{
				"address":   address,
				"signature": signature,
			}).Warn("Payout send errored but transfer landed on-chain")
			return signature, nil
		}
	}

	if err := s.refundWithdrawal(ctx, address, amount); err != nil {
		return "", fmt.Errorf("payout failed and refund failed (send: %v): %w", sendErr, err)
	}

	return "", fmt.Errorf("%w: %v", ErrPayoutFailed, sendErr)
}

func (s *ledgerService) refundWithdrawal(ctx context.Context, address string, amount int64) error {
	return withVersionRetry(ctx, "withdrawal_refund", func(ctx context.Context) error {
		uow := s.uowFactory.Create()
		if err := uow.Begin(ctx); err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer uow.Rollback()

		account, err := uow.AccountRepository().Get(ctx, address)
		if err != nil {
			return err
		}
		if account == nil {
			return ErrAccountNotFound
		}

		oldBalance := account.Balance
		account.Balance += amount
		account.TotalWithdrawn -= amount
		if err := uow.AccountRepository().CompareAndSwap(ctx, account); err != nil {
			return err
		}

		txn := &models.BalanceTransaction{
			Address: address,
			Type:    models.TransactionTypeWithdrawalRefund,
			Amount:  amount,
		}
		if err := uow.BalanceTransactionRepository().Record(ctx, txn); err != nil {
			return err
		}

		uow.EventBus().Publish(events.BalanceChangeEvent{
			Address:         address,
			OldBalance:      oldBalance,
			NewBalance:      account.Balance,
			TransactionType: models.TransactionTypeWithdrawalRefund,
			ChangeAmount:    amount,
		})

		return uow.Commit()
	})
}

// GetTransactions pages through the account's audit trail, newest first
func (s *ledgerService) GetTransactions(ctx context.Context, address string, limit int, beforeID int64) ([]*models.BalanceTransaction, error) {
	if limit <= 0 || limit > 200 {
		limit = models.DefaultTransactionPageSize
	}

	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	return uow.BalanceTransactionRepository().GetByAccount(ctx, address, limit, beforeID)
}
