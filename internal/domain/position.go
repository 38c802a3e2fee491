// internal/domain/position.go
package domain

import (
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// PositionState is the exit state of an open position.
type PositionState int

const (
	PositionOpen PositionState = iota
	PositionPendingExit
	PositionClosed
)

func (s PositionState) String() string {
	switch s {
	case PositionOpen:
		return "open"
	case PositionPendingExit:
		return "pending_exit"
	case PositionClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Position is one mirrored buy awaiting exit.
type Position struct {
	Token        solana.PublicKey `json:"token"`
	Source       solana.PublicKey `json:"source"`
	EntryPrice   decimal.Decimal  `json:"entry_price"`
	EntryAmount  uint64           `json:"entry_amount"`
	EntryCost    uint64           `json:"entry_cost"`
	EntryTime    time.Time        `json:"entry_time"`
	CounterIndex int              `json:"counter_index"`
	Origin       Origin           `json:"origin"`
	Signature    solana.Signature `json:"signature"`
	State        PositionState    `json:"-"`
}

// NewPosition validates the entry fields and returns an open position.
func NewPosition(token solana.PublicKey, entryPrice decimal.Decimal, entryAmount uint64, entryTime time.Time) (*Position, error) {
	if token.IsZero() {
		return nil, fmt.Errorf("position token is required")
	}
	if entryPrice.IsNegative() {
		return nil, fmt.Errorf("entry price must not be negative, got %s", entryPrice)
	}
	if entryTime.IsZero() {
		return nil, fmt.Errorf("entry time is required")
	}
	return &Position{
		Token:       token,
		EntryPrice:  entryPrice,
		EntryAmount: entryAmount,
		EntryTime:   entryTime,
		Origin:      OriginCopyTrade,
		State:       PositionOpen,
	}, nil
}

// Return is the unrealized return in percent at the given mark price.
// A zero entry price yields zero.
func (p *Position) Return(mark decimal.Decimal) decimal.Decimal {
	if p.EntryPrice.IsZero() {
		return decimal.Zero
	}
	return mark.Sub(p.EntryPrice).Div(p.EntryPrice).Mul(decimal.NewFromInt(100))
}

// Age is the time elapsed since entry.
func (p *Position) Age(now time.Time) time.Duration {
	return now.Sub(p.EntryTime)
}
