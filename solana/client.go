// Package solana implements the external ledger integration: deposit
// verification against confirmed transactions and vault payouts for
// withdrawals.
package solana

import (
	"fmt"

	"solduel/config"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Client wraps the RPC connection together with the vault identity and the
// settlement mint. It implements both service.DepositVerifier and
// service.PayoutSender.
type Client struct {
	rpc      *rpc.Client
	vault    solana.PublicKey
	vaultKey solana.PrivateKey
	mint     solana.PublicKey
}

// NewClient creates a client from configuration. The vault private key is
// only required for sending payouts; a verify-only deployment may omit it.
func NewClient(cfg *config.Config) (*Client, error) {
	vault, err := solana.PublicKeyFromBase58(cfg.VaultAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid vault address: %w", err)
	}
	mint, err := solana.PublicKeyFromBase58(cfg.SettlementMint)
	if err != nil {
		return nil, fmt.Errorf("invalid settlement mint: %w", err)
	}

	c := &Client{
		rpc:   rpc.New(cfg.SolanaRPCURL),
		vault: vault,
		mint:  mint,
	}

	if cfg.VaultPrivateKey != "" {
		key, err := solana.PrivateKeyFromBase58(cfg.VaultPrivateKey)
		if err != nil {
			return nil, fmt.Errorf("invalid vault private key: %w", err)
		}
		if !key.PublicKey().Equals(vault) {
			return nil, fmt.Errorf("vault private key does not match vault address")
		}
		c.vaultKey = key
	}

	return c, nil
}
