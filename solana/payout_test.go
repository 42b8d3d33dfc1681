package solana

import (
	"testing"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
)

func TestStatusLanded(t *testing.T) {
	tests := []struct {
		name   string
		status *rpc.SignatureStatusesResult
		landed bool
	}{
		{
			name:   "unknown signature",
			status: nil,
			landed: false,
		},
		{
			name:   "failed on-chain",
			status: &rpc.SignatureStatusesResult{Err: map[string]any{"InstructionError": 0}, ConfirmationStatus: rpc.ConfirmationStatusFinalized},
			landed: false,
		},
		{
			// Processed means the transaction is in a block; refunding it
			// now could double-pay once the block confirms
			name:   "processed counts as landed",
			status: &rpc.SignatureStatusesResult{ConfirmationStatus: rpc.ConfirmationStatusProcessed},
			landed: true,
		},
		{
			name:   "confirmed",
			status: &rpc.SignatureStatusesResult{ConfirmationStatus: rpc.ConfirmationStatusConfirmed},
			landed: true,
		},
		{
			name:   "finalized",
			status: &rpc.SignatureStatusesResult{ConfirmationStatus: rpc.ConfirmationStatusFinalized},
			landed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.landed, statusLanded(tt.status))
		})
	}
}
