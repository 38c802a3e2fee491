// ==============================================
// File: internal/dex/launchpad/price.go
// ==============================================
package launchpad

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrPoolNotFound is returned when the pool account does not exist.
var ErrPoolNotFound = errors.New("launchpad pool not found")

// AccountReader is the RPC surface needed to read pool accounts.
type AccountReader interface {
	GetAccountInfo(ctx context.Context, pubkey solana.PublicKey) (*rpc.GetAccountInfoResult, error)
}

// PoolReader fetches pool state and mark prices over RPC.
type PoolReader struct {
	codec  *Codec
	client AccountReader
	logger *zap.Logger
}

// NewPoolReader creates a pool reader.
func NewPoolReader(codec *Codec, client AccountReader, logger *zap.Logger) *PoolReader {
	return &PoolReader{
		codec:  codec,
		client: client,
		logger: logger.Named("launchpad-pool"),
	}
}

// Pool returns the current state of the SOL pool for baseMint.
func (r *PoolReader) Pool(ctx context.Context, baseMint solana.PublicKey) (*PoolState, error) {
	cfg := r.codec.Config()
	addr, err := cfg.PoolAddress(baseMint, cfg.QuoteMint)
	if err != nil {
		return nil, err
	}

	info, err := r.client.GetAccountInfo(ctx, addr)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, addr)
		}
		return nil, fmt.Errorf("failed to get pool account %s: %w", addr, err)
	}
	if info == nil || info.Value == nil {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, addr)
	}

	state, err := DecodePoolState(info.Value.Data.GetBinary())
	if err != nil {
		return nil, err
	}

	r.logger.Debug("Pool state loaded",
		zap.String("pool", addr.String()),
		zap.String("base_mint", baseMint.String()),
		zap.Uint64("virtual_base", state.VirtualBase),
		zap.Uint64("real_base", state.RealBase),
		zap.Uint64("virtual_quote", state.VirtualQuote),
		zap.Uint64("real_quote", state.RealQuote))

	return state, nil
}

// MarkPrice returns the current curve price of token in SOL per token.
func (r *PoolReader) MarkPrice(ctx context.Context, token solana.PublicKey) (decimal.Decimal, error) {
	state, err := r.Pool(ctx, token)
	if err != nil {
		return decimal.Zero, err
	}
	return state.Price()
}
