// internal/domain/order.go
package domain

import (
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Origin tells who created an order.
type Origin int

const (
	OriginCopyTrade Origin = iota + 1
	OriginStrategyExit
)

func (o Origin) String() string {
	switch o {
	case OriginCopyTrade:
		return "copy_trade"
	case OriginStrategyExit:
		return "strategy_exit"
	default:
		return fmt.Sprintf("origin(%d)", int(o))
	}
}

// TradeOrder is an execution request.
// For buys Amount is quote lamports to spend, for sells it is base units to sell.
type TradeOrder struct {
	ID             string
	Direction      Direction
	Token          solana.PublicKey
	Amount         uint64
	MaxSlippageBps uint64
	Origin         Origin
	CreatedAt      time.Time
}

// NewTradeOrder returns an order with a fresh id.
func NewTradeOrder(direction Direction, token solana.PublicKey, amount, slippageBps uint64, origin Origin) TradeOrder {
	return TradeOrder{
		ID:             uuid.New().String(),
		Direction:      direction,
		Token:          token,
		Amount:         amount,
		MaxSlippageBps: slippageBps,
		Origin:         origin,
		CreatedAt:      time.Now(),
	}
}

// OutcomeStatus is the terminal status of an order.
type OutcomeStatus int

const (
	StatusSuccess OutcomeStatus = iota + 1
	StatusFailed
)

func (s OutcomeStatus) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// FailureKind classifies a failed order.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureTransient
	FailureFatal
	// FailureAlreadyClosed marks a sell for a position that is already gone.
	FailureAlreadyClosed
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureTransient:
		return "transient"
	case FailureFatal:
		return "fatal"
	case FailureAlreadyClosed:
		return "already_closed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ExecutionOutcome is reported exactly once per TradeOrder.
type ExecutionOutcome struct {
	Order        TradeOrder
	Status       OutcomeStatus
	Signature    solana.Signature
	FillPrice    decimal.Decimal
	FilledAmount uint64
	Kind         FailureKind
	Attempts     int
	Err          error
	Duration     time.Duration
}

// Succeeded reports whether the order landed on chain.
func (o ExecutionOutcome) Succeeded() bool {
	return o.Status == StatusSuccess
}

// Settled is true when nothing more needs to happen for the order's position:
// it either landed or the position was already closed.
func (o ExecutionOutcome) Settled() bool {
	return o.Succeeded() || o.Kind == FailureAlreadyClosed
}
