// internal/domain/event.go
package domain

import (
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
)

// Direction is the side of a trade.
type Direction int

const (
	DirectionBuy Direction = iota + 1
	DirectionSell
)

func (d Direction) String() string {
	switch d {
	case DirectionBuy:
		return "buy"
	case DirectionSell:
		return "sell"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// TradeEvent is a buy or sell of a watched account, decoded from one transaction.
// Direction and amounts always come from decoded instruction data.
type TradeEvent struct {
	Source      solana.PublicKey
	Token       solana.PublicKey
	Pool        solana.PublicKey
	Direction   Direction
	BaseAmount  uint64
	QuoteAmount uint64
	Slot        uint64
	Signature   solana.Signature
	Protocol    string
	ObservedAt  time.Time
}

// Key returns a short identifier used in logs.
func (e TradeEvent) Key() string {
	return fmt.Sprintf("%s:%s:%d", e.Direction, e.Token, e.Slot)
}
