// ==============================================
// File: internal/dex/launchpad/pool.go
// ==============================================
package launchpad

import (
	"fmt"
	"math/big"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// PoolStatus is the curve phase of a pool.
type PoolStatus uint8

const (
	PoolStatusTrading   PoolStatus = 0
	PoolStatusMigrating PoolStatus = 1
	PoolStatusMigrated  PoolStatus = 2
)

// VestingSchedule mirrors the on-chain vesting block of a pool.
type VestingSchedule struct {
	TotalLockedAmount    uint64
	CliffPeriod          uint64
	UnlockPeriod         uint64
	StartTime            uint64
	AllocatedShareAmount uint64
}

// PoolState is the pool account layout after the 8-byte account discriminator.
type PoolState struct {
	Epoch                 uint64
	AuthBump              uint8
	Status                uint8
	BaseDecimals          uint8
	QuoteDecimals         uint8
	MigrateType           uint8
	Supply                uint64
	TotalBaseSell         uint64
	VirtualBase           uint64
	VirtualQuote          uint64
	RealBase              uint64
	RealQuote             uint64
	TotalQuoteFundRaising uint64
	QuoteProtocolFee      uint64
	PlatformFee           uint64
	MigrateFee            uint64
	Vesting               VestingSchedule
	GlobalConfig          solana.PublicKey
	PlatformConfig        solana.PublicKey
	BaseMint              solana.PublicKey
	QuoteMint             solana.PublicKey
	BaseVault             solana.PublicKey
	QuoteVault            solana.PublicKey
	Creator               solana.PublicKey
}

// DecodePoolState parses raw pool account data.
func DecodePoolState(data []byte) (*PoolState, error) {
	if len(data) < discriminatorLen {
		return nil, fmt.Errorf("pool account data too short: %d bytes", len(data))
	}
	var state PoolState
	if err := bin.NewBorshDecoder(data[discriminatorLen:]).Decode(&state); err != nil {
		return nil, fmt.Errorf("failed to decode pool state: %w", err)
	}
	return &state, nil
}

// Trading reports whether the pool still trades on the curve.
func (p *PoolState) Trading() bool {
	return PoolStatus(p.Status) == PoolStatusTrading
}

func (p *PoolState) reserves() (base, quote *big.Int, err error) {
	if p.RealBase >= p.VirtualBase {
		return nil, nil, fmt.Errorf("pool base reserve exhausted")
	}
	base = new(big.Int).SetUint64(p.VirtualBase - p.RealBase)
	quote = new(big.Int).Add(
		new(big.Int).SetUint64(p.VirtualQuote),
		new(big.Int).SetUint64(p.RealQuote),
	)
	return base, quote, nil
}

// Price is the mark price in quote units (SOL) per whole base token.
func (p *PoolState) Price() (decimal.Decimal, error) {
	base, quote, err := p.reserves()
	if err != nil {
		return decimal.Zero, err
	}
	raw := decimal.NewFromBigInt(quote, 0).Div(decimal.NewFromBigInt(base, 0))
	return raw.Shift(int32(p.BaseDecimals) - int32(p.QuoteDecimals)), nil
}

// QuoteBuy estimates base units received for quoteIn lamports on the curve.
func (p *PoolState) QuoteBuy(quoteIn uint64) (uint64, error) {
	base, quote, err := p.reserves()
	if err != nil {
		return 0, err
	}
	in := new(big.Int).SetUint64(quoteIn)
	out := new(big.Int).Mul(base, in)
	out.Quo(out, new(big.Int).Add(quote, in))
	return clampUint64(out), nil
}

// QuoteSell estimates lamports received for baseIn units on the curve.
func (p *PoolState) QuoteSell(baseIn uint64) (uint64, error) {
	base, quote, err := p.reserves()
	if err != nil {
		return 0, err
	}
	in := new(big.Int).SetUint64(baseIn)
	out := new(big.Int).Mul(quote, in)
	out.Quo(out, new(big.Int).Add(base, in))
	return clampUint64(out), nil
}

func clampUint64(v *big.Int) uint64 {
	if !v.IsUint64() {
		return ^uint64(0)
	}
	return v.Uint64()
}

// MinAmountOut applies a slippage tolerance in basis points to an expected amount.
func MinAmountOut(expected, slippageBps uint64) uint64 {
	if slippageBps >= 10_000 {
		return 0
	}
	v := new(big.Int).SetUint64(expected)
	v.Mul(v, new(big.Int).SetUint64(10_000-slippageBps))
	v.Quo(v, big.NewInt(10_000))
	return v.Uint64()
}

// FillPrice is quote per whole base token for an executed amount pair.
func FillPrice(quoteAmount, baseAmount uint64, baseDecimals, quoteDecimals uint8) decimal.Decimal {
	if baseAmount == 0 {
		return decimal.Zero
	}
	raw := decimal.NewFromBigInt(new(big.Int).SetUint64(quoteAmount), 0).
		Div(decimal.NewFromBigInt(new(big.Int).SetUint64(baseAmount), 0))
	return raw.Shift(int32(baseDecimals) - int32(quoteDecimals))
}
