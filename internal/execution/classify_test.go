package execution

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/solana-copybot/internal/blockchain/solbc"
	"github.com/rovshanmuradov/solana-copybot/internal/dex/launchpad"
	"github.com/rovshanmuradov/solana-copybot/internal/domain"
)

func TestClassify(t *testing.T) {
	c := NewClassifier(zaptest.NewLogger(t))

	tests := []struct {
		name string
		err  error
		want domain.FailureKind
	}{
		{"nil", nil, domain.FailureNone},
		{"already closed", fmt.Errorf("sell: %w", ErrAlreadyClosed), domain.FailureAlreadyClosed},
		{"pool migrated", ErrPoolNotTrading, domain.FailureFatal},
		{"deadline", context.DeadlineExceeded, domain.FailureTransient},
		{"confirm timeout", fmt.Errorf("confirm: %w", solbc.ErrConfirmationTimeout), domain.FailureTransient},
		{"pool not indexed yet", launchpad.ErrPoolNotFound, domain.FailureTransient},
		{"rate limit", &jsonrpc.RPCError{Code: 429, Message: "Too many requests"}, domain.FailureTransient},
		{"blockhash", errors.New("Blockhash not found"), domain.FailureTransient},
		{"slippage", errors.New("Program log: Error: too little output"), domain.FailureTransient},
		{"insufficient funds", errors.New("Transfer: insufficient lamports 5, need 10"), domain.FailureFatal},
		{"anchor constraint", &jsonrpc.RPCError{
			Code:    -32002,
			Message: "Transaction simulation failed",
			Data: map[string]interface{}{
				"logs": []interface{}{
					"Program log: AnchorError caused by account: pool_state. Error Code: ConstraintSeeds. Error Number: 2006. Error Message: A seeds constraint was violated.",
				},
			},
		}, domain.FailureFatal},
		{"unknown", errors.New("something odd"), domain.FailureTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.err))
		})
	}
}
