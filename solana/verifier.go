package solana

import (
	"context"
	"fmt"
	"strconv"

	"solduel/service"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	log "github.com/sirupsen/logrus"
)

// VerifyDeposit fetches the claimed transaction at confirmed commitment and
// locates a settlement-mint transfer from the depositor to the vault by
// diffing pre/post token balances. The diff covers both top-level and inner
// (CPI) transfers, which instruction parsing would miss.
func (c *Client) VerifyDeposit(ctx context.Context, depositor, signature string) (int64, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return 0, fmt.Errorf("invalid transaction signature: %w", err)
	}
	depositorKey, err := solana.PublicKeyFromBase58(depositor)
	if err != nil {
		return 0, fmt.Errorf("invalid depositor address: %w", err)
	}

	maxVersion := uint64(0)
	tx, err := c.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		log.WithError(err).WithField("signature", signature).Debug("Transaction lookup failed")
		return 0, service.ErrDepositNotFound
	}
	if tx == nil || tx.Meta == nil {
		return 0, service.ErrDepositNotFound
	}
	if tx.Meta.Err != nil {
		return 0, service.ErrDepositFailed
	}

	vaultCredit := c.ownerDelta(tx.Meta, c.vault)
	depositorDebit := -c.ownerDelta(tx.Meta, depositorKey)

	if vaultCredit <= 0 || depositorDebit <= 0 {
		return 0, service.ErrNoMatchingTransfer
	}

	// Credit only what the depositor actually sent; a transaction may credit
	// the vault from several parties at once.
	amount := vaultCredit
	if depositorDebit < amount {
		amount = depositorDebit
	}

	return amount, nil
}

// ownerDelta sums the settlement-mint balance change across every token
// account owned by owner in the transaction. Positive means the owner was
// credited.
func (c *Client) ownerDelta(meta *rpc.TransactionMeta, owner solana.PublicKey) int64 {
	pre := make(map[uint16]int64)
	for _, b := range meta.PreTokenBalances {
		if c.matchesOwner(b, owner) {
			pre[b.AccountIndex] = parseBaseUnits(b)
		}
	}

	var delta int64
	seen := make(map[uint16]bool)
	for _, b := range meta.PostTokenBalances {
		if !c.matchesOwner(b, owner) {
			continue
		}
		delta += parseBaseUnits(b) - pre[b.AccountIndex]
		seen[b.AccountIndex] = true
	}

	// Token accounts closed by the transaction appear only in the pre set
	for idx, amount := range pre {
		if !seen[idx] {
			delta -= amount
		}
	}

	return delta
}

func (c *Client) matchesOwner(b rpc.TokenBalance, owner solana.PublicKey) bool {
	if !b.Mint.Equals(c.mint) {
		return false
	}
	return b.Owner != nil && b.Owner.Equals(owner)
}

func parseBaseUnits(b rpc.TokenBalance) int64 {
	if b.UiTokenAmount == nil {
		return 0
	}
	amount, err := strconv.ParseInt(b.UiTokenAmount.Amount, 10, 64)
	if err != nil {
		return 0
	}
	return amount
}
