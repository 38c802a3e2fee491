// internal/blockchain/types.go
package blockchain

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// ErrAccountNotFound возникает, когда аккаунт отсутствует в сети.
var ErrAccountNotFound = errors.New("account not found")

// TransactionOptions определяет опции для отправки транзакций.
type TransactionOptions struct {
	SkipPreflight       bool
	PreflightCommitment rpc.CommitmentType
	MaxRetries          uint
}

// TxError означает, что транзакция попала в блок, но программа вернула ошибку.
type TxError struct {
	Signature solana.Signature
	Err       interface{}
}

func (e *TxError) Error() string {
	raw, err := json.Marshal(e.Err)
	if err != nil {
		return fmt.Sprintf("transaction %s failed: %v", e.Signature, e.Err)
	}
	return fmt.Sprintf("transaction %s failed: %s", e.Signature, raw)
}
