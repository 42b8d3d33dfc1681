package solana

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	log "github.com/sirupsen/logrus"
)

const (
	confirmTimeout = 60 * time.Second
	confirmPoll    = 2 * time.Second
)

// SendPayout transfers amount base units of the settlement asset from the
// vault to the recipient. The returned signature is valid even when err is
// non-nil, as long as the transaction was signed; the caller uses it to
// resolve ambiguous failures via ConfirmLanded.
func (c *Client) SendPayout(ctx context.Context, recipient string, amount int64) (string, error) {
	if c.vaultKey == nil {
		return "", fmt.Errorf("vault private key not configured")
	}
	if amount <= 0 {
		return "", fmt.Errorf("payout amount must be positive")
	}

	recipientKey, err := solana.PublicKeyFromBase58(recipient)
	if err != nil {
		return "", fmt.Errorf("invalid recipient address: %w", err)
	}

	vaultATA, _, err := solana.FindAssociatedTokenAddress(c.vault, c.mint)
	if err != nil {
		return "", fmt.Errorf("failed to derive vault token account: %w", err)
	}
	recipientATA, _, err := solana.FindAssociatedTokenAddress(recipientKey, c.mint)
	if err != nil {
		return "", fmt.Errorf("failed to derive recipient token account: %w", err)
	}

	instructions := []solana.Instruction{}

	// Create the recipient's token account when it does not exist yet; the
	// vault pays the rent
	if _, err := c.rpc.GetAccountInfo(ctx, recipientATA); err != nil {
		instructions = append(instructions,
			associatedtokenaccount.NewCreateInstruction(c.vault, recipientKey, c.mint).Build())
	}

	instructions = append(instructions,
		token.NewTransferInstruction(uint64(amount), vaultATA, recipientATA, c.vault, nil).Build())

	blockhash, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return "", fmt.Errorf("failed to fetch blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(instructions, blockhash.Value.Blockhash,
		solana.TransactionPayer(c.vault))
	if err != nil {
		return "", fmt.Errorf("failed to build transaction: %w", err)
	}

	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(c.vault) {
			return &c.vaultKey
		}
		return nil
	}); err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	signature := tx.Signatures[0].String()

	if _, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentConfirmed,
	}); err != nil {
		// The transaction may still land despite the local error; hand the
		// signature back so the caller can check before compensating
		return signature, fmt.Errorf("failed to send payout: %w", err)
	}

	if err := c.awaitConfirmation(ctx, tx.Signatures[0]); err != nil {
		return signature, err
	}

	log.WithFields(log.Fields{
		"recipient": recipient,
		"amount":    amount,
		"signature": signature,
	}).Info("Payout confirmed")

	return signature, nil
}

// awaitConfirmation polls signature status until the transfer is confirmed,
// failed, or the timeout makes the outcome ambiguous
func (c *Client) awaitConfirmation(ctx context.Context, sig solana.Signature) error {
	deadline := time.Now().Add(confirmTimeout)
	ticker := time.NewTicker(confirmPoll)
	defer ticker.Stop()

	for {
		out, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
		if err == nil && len(out.Value) > 0 && out.Value[0] != nil {
			status := out.Value[0]
			if status.Err != nil {
				return fmt.Errorf("payout transaction failed on-chain: %v", status.Err)
			}
			if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return nil
			}
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("payout %s not confirmed within %s", sig, confirmTimeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ConfirmLanded queries the authoritative status of a payout signature. Used
// to resolve ambiguous send failures: a landed transfer must never be
// refunded.
func (c *Client) ConfirmLanded(ctx context.Context, signature string) (bool, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return false, fmt.Errorf("invalid signature: %w", err)
	}

	out, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return false, fmt.Errorf("failed to query signature status: %w", err)
	}
	if len(out.Value) == 0 || out.Value[0] == nil {
		return false, nil
	}

	return statusLanded(out.Value[0]), nil
}

// statusLanded reports whether a signature status means the transaction made
// it into a block. Processed counts: a processed transaction can still reach
// confirmation, so it must never be treated as refundable.
func statusLanded(status *rpc.SignatureStatusesResult) bool {
	if status == nil || status.Err != nil {
		return false
	}

	switch status.ConfirmationStatus {
	case rpc.ConfirmationStatusProcessed,
		rpc.ConfirmationStatusConfirmed,
		rpc.ConfirmationStatusFinalized:
		return true
	}
	return false
}
