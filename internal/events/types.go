// internal/events/types.go
package events

import (
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/rovshanmuradov/solana-copybot/internal/domain"
)

// EventType represents the type of event.
type EventType string

const (
	// Pipeline events
	TradeDetected  EventType = "trade.detected"
	PolicyRejected EventType = "trade.rejected"

	// Execution events
	OrderExecuted EventType = "order.executed"

	// Position events
	PositionOpened EventType = "position.opened"
	ExitRequested  EventType = "position.exit_requested"
	PositionClosed EventType = "position.closed"

	// Feed events
	MonitorStateChanged EventType = "monitor.state_changed"
)

// Event is the base interface for all events.
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	EventType EventType
	EventTime time.Time
}

// Type returns the event type.
func (e BaseEvent) Type() EventType {
	return e.EventType
}

// Timestamp returns when the event occurred.
func (e BaseEvent) Timestamp() time.Time {
	return e.EventTime
}

func base(t EventType) BaseEvent {
	return BaseEvent{EventType: t, EventTime: time.Now()}
}

// TradeDetectedEvent is emitted for every trade of a target account.
type TradeDetectedEvent struct {
	BaseEvent
	Trade domain.TradeEvent
}

func NewTradeDetected(trade domain.TradeEvent) TradeDetectedEvent {
	return TradeDetectedEvent{BaseEvent: base(TradeDetected), Trade: trade}
}

// PolicyRejectedEvent is emitted when the engine declines to mirror a trade.
type PolicyRejectedEvent struct {
	BaseEvent
	Trade  domain.TradeEvent
	Reason string
}

func NewPolicyRejected(trade domain.TradeEvent, reason string) PolicyRejectedEvent {
	return PolicyRejectedEvent{BaseEvent: base(PolicyRejected), Trade: trade, Reason: reason}
}

// OrderExecutedEvent carries the terminal outcome of an order.
type OrderExecutedEvent struct {
	BaseEvent
	Outcome domain.ExecutionOutcome
}

func NewOrderExecuted(outcome domain.ExecutionOutcome) OrderExecutedEvent {
	return OrderExecutedEvent{BaseEvent: base(OrderExecuted), Outcome: outcome}
}

// PositionOpenedEvent is emitted after a successful copy buy.
type PositionOpenedEvent struct {
	BaseEvent
	Position domain.Position
}

func NewPositionOpened(p domain.Position) PositionOpenedEvent {
	return PositionOpenedEvent{BaseEvent: base(PositionOpened), Position: p}
}

// ExitRequestedEvent is emitted when a position moves to pending exit.
type ExitRequestedEvent struct {
	BaseEvent
	Token   solana.PublicKey
	Origin  domain.Origin
	Trigger string
}

func NewExitRequested(token solana.PublicKey, origin domain.Origin, trigger string) ExitRequestedEvent {
	return ExitRequestedEvent{BaseEvent: base(ExitRequested), Token: token, Origin: origin, Trigger: trigger}
}

// PositionClosedEvent is emitted when a position leaves the open set.
type PositionClosedEvent struct {
	BaseEvent
	Position domain.Position
	Outcome  domain.ExecutionOutcome
}

func NewPositionClosed(p domain.Position, outcome domain.ExecutionOutcome) PositionClosedEvent {
	return PositionClosedEvent{BaseEvent: base(PositionClosed), Position: p, Outcome: outcome}
}

// MonitorStateChangedEvent is emitted on every feed state transition.
type MonitorStateChangedEvent struct {
	BaseEvent
	From string
	To   string
}

func NewMonitorStateChanged(from, to string) MonitorStateChangedEvent {
	return MonitorStateChangedEvent{BaseEvent: base(MonitorStateChanged), From: from, To: to}
}
