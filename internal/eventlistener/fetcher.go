// internal/eventlistener/fetcher.go
package eventlistener

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	rpcpool "github.com/rovshanmuradov/solana-copybot/internal/blockchain/solbc/rpc"
)

// TransactionGetter is the RPC call the fetcher relies on.
type TransactionGetter interface {
	GetTransaction(ctx context.Context, signature solana.Signature) (*rpc.GetTransactionResult, error)
}

// RPCFetcher resolves envelopes with getTransaction. A processed-commitment
// notification usually arrives before the node can serve the transaction,
// so "not found" is retried.
type RPCFetcher struct {
	client   TransactionGetter
	maxTries uint
	initial  time.Duration
	max      time.Duration
	logger   *zap.Logger
}

func NewRPCFetcher(client TransactionGetter, timeout time.Duration, logger *zap.Logger) *RPCFetcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RPCFetcher{
		client:   client,
		maxTries: 8,
		initial:  150 * time.Millisecond,
		max:      timeout / 4,
		logger:   logger.Named("fetcher"),
	}
}

func (f *RPCFetcher) Fetch(ctx context.Context, env *Envelope) error {
	if env.Transaction != nil {
		return nil
	}

	schedule := backoff.NewExponentialBackOff()
	schedule.InitialInterval = f.initial
	schedule.MaxInterval = f.max

	tx, err := backoff.Retry(ctx, func() (*rpc.GetTransactionResult, error) {
		tx, err := f.client.GetTransaction(ctx, env.Signature)
		switch {
		case err == nil && tx != nil:
			return tx, nil
		case err == nil, errors.Is(err, rpc.ErrNotFound):
			return nil, rpc.ErrNotFound
		case rpcpool.IsRetryableError(err):
			return nil, err
		default:
			return nil, backoff.Permanent(err)
		}
	}, backoff.WithBackOff(schedule), backoff.WithMaxTries(f.maxTries))
	if err != nil {
		return fmt.Errorf("fetch transaction %s: %w", env.Signature, err)
	}

	env.Transaction = tx
	return nil
}
