package service

import (
	"errors"
)

// Error taxonomy for the match economy. Validation, replay and verification
// failures are terminal for the given input and reject with no mutation;
// version conflicts are transient and retried transparently by the CAS
// helpers; ambiguous sends are resolved against the external ledger before
// any compensating action.
var (
	// ErrVersionConflict signals a lost optimistic-concurrency race on an
	// account write. Callers re-read and retry; it never escapes the ledger.
	ErrVersionConflict = errors.New("account version conflict")

	// ErrInsufficientFunds is returned when a freeze or debit would exceed
	// the available balance. The conditional update aborts with no mutation.
	ErrInsufficientFunds = errors.New("insufficient available balance")

	// ErrAccountNotFound is returned for operations on unknown addresses
	ErrAccountNotFound = errors.New("account not found")

	// ErrInvalidAmount rejects non-positive amounts before any store access
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrBelowMinimumWithdrawal rejects withdrawals under the configured floor
	ErrBelowMinimumWithdrawal = errors.New("withdrawal below configured minimum")

	// ErrAlreadyCredited is the replay rejection: the deposit signature has
	// an existing claim and must never be credited again.
	ErrAlreadyCredited = errors.New("deposit signature already credited")

	// ErrDepositNotFound means the claimed transaction is unknown to or not
	// yet confirmed by the external network.
	ErrDepositNotFound = errors.New("deposit transaction not found or unconfirmed")

	// ErrDepositFailed means the claimed transaction landed on-chain but failed
	ErrDepositFailed = errors.New("deposit transaction failed on-chain")

	// ErrNoMatchingTransfer means the transaction contains no transfer of the
	// settlement asset from the depositor to the platform vault.
	ErrNoMatchingTransfer = errors.New("no matching transfer to vault in transaction")

	// ErrPayoutFailed is returned when a payout send failed and the external
	// status check confirmed it did not land. The debit has been refunded.
	ErrPayoutFailed = errors.New("payout send failed and did not land")
)
