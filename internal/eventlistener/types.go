// internal/eventlistener/types.go
package eventlistener

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// State - состояние подписки на поток транзакций
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateStreaming:
		return "streaming"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Filter selects transactions for a subscription. Program is always set;
// Accounts is non-empty only when every target is watched individually.
type Filter struct {
	Program  solana.PublicKey
	Accounts []solana.PublicKey
}

// Mentions returns the accounts to subscribe to.
func (f Filter) Mentions() []solana.PublicKey {
	if len(f.Accounts) == 0 {
		return []solana.PublicKey{f.Program}
	}
	return f.Accounts
}

// Envelope is one transaction notification from the feed.
// Transaction is nil until a TxFetcher resolves it.
type Envelope struct {
	Signature   solana.Signature
	Slot        uint64
	Logs        []string
	Err         interface{}
	ReceivedAt  time.Time
	Transaction *rpc.GetTransactionResult
}

// Failed reports whether the transaction failed on chain.
func (e *Envelope) Failed() bool {
	if e.Err != nil {
		return true
	}
	return e.Transaction != nil && e.Transaction.Meta != nil && e.Transaction.Meta.Err != nil
}

// Decode returns the resolved transaction.
func (e *Envelope) Decode() (*solana.Transaction, error) {
	if e.Transaction == nil || e.Transaction.Transaction == nil {
		return nil, fmt.Errorf("transaction %s not resolved", e.Signature)
	}
	return e.Transaction.Transaction.GetTransaction()
}

// FeePayer returns the first account key of a resolved transaction.
func (e *Envelope) FeePayer() (solana.PublicKey, bool) {
	tx, err := e.Decode()
	if err != nil || len(tx.Message.AccountKeys) == 0 {
		return solana.PublicKey{}, false
	}
	return tx.Message.AccountKeys[0], true
}

// Transport opens subscriptions to a transaction feed.
type Transport interface {
	Subscribe(ctx context.Context, filter Filter) (Stream, error)
}

// Stream delivers envelopes until it fails or is closed.
type Stream interface {
	Recv(ctx context.Context) (*Envelope, error)
	Close() error
}

// TxFetcher resolves a signature-only envelope into a full transaction.
type TxFetcher interface {
	Fetch(ctx context.Context, env *Envelope) error
}
