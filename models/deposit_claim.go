package models

import (
	"time"
)

// DepositClaim is the durable replay guard for deposit crediting. Keyed by
// the external transaction signature; inserted exactly once and never
// overwritten. Creating this row is the linearization point that prevents
// double-credit of a single on-chain deposit.
type DepositClaim struct {
	Signature string    `db:"signature"`
	Address   string    `db:"address"`
	Amount    int64     `db:"amount"`
	ClaimedAt time.Time `db:"claimed_at"`
}
