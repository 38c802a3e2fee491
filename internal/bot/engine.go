// internal/bot/engine.go
package bot

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-copybot/internal/config"
	"github.com/rovshanmuradov/solana-copybot/internal/domain"
	"github.com/rovshanmuradov/solana-copybot/internal/events"
	"github.com/rovshanmuradov/solana-copybot/internal/monitor"
	"github.com/rovshanmuradov/solana-copybot/internal/utils/metrics"
)

// ErrEngineClosed is reported for exits requested after Close.
var ErrEngineClosed = errors.New("copy-trade engine is closed")

// RejectReason explains why a trade event was not mirrored.
type RejectReason string

const (
	RejectNone             RejectReason = ""
	RejectCounterLimit     RejectReason = "counter_limit"
	RejectPositionExists   RejectReason = "position_exists"
	RejectProtocolMismatch RejectReason = "protocol_mismatch"
	RejectNoPosition       RejectReason = "no_position"
	RejectExitPending      RejectReason = "exit_pending"
	RejectShuttingDown     RejectReason = "shutting_down"
)

// OrderExecutor runs a trade order to a terminal outcome.
type OrderExecutor interface {
	Execute(ctx context.Context, order domain.TradeOrder) domain.ExecutionOutcome
}

// EngineConfig is the part of the trading policy the engine enforces.
type EngineConfig struct {
	CounterLimit      int
	BuyAmountLamports uint64
	SlippageBps       uint64
	Protocol          string
}

// EngineConfigFrom extracts the engine settings from the loaded policy.
func EngineConfigFrom(p config.TradingPolicy) EngineConfig {
	return EngineConfig{
		CounterLimit:      p.CounterLimit,
		BuyAmountLamports: p.BuyAmountLamports,
		SlippageBps:       p.SlippageBps,
		Protocol:          p.Protocol,
	}
}

// Engine turns target trades into orders: buys open positions, sells close them.
type Engine struct {
	cfg       EngineConfig
	executor  OrderExecutor
	positions *monitor.Manager
	bus       *events.Bus
	metrics   *metrics.Collector
	logger    *zap.Logger

	mu       sync.Mutex
	executed int
	inflight map[solana.PublicKey]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// NewEngine creates the copy-trade engine. bus and collector may be nil.
func NewEngine(
	cfg EngineConfig,
	executor OrderExecutor,
	positions *monitor.Manager,
	bus *events.Bus,
	collector *metrics.Collector,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		cfg:       cfg,
		executor:  executor,
		positions: positions,
		bus:       bus,
		metrics:   collector,
		logger:    logger.Named("engine"),
		inflight:  make(map[solana.PublicKey]struct{}),
	}
}

// Executed returns the number of successful copy buys since start.
func (e *Engine) Executed() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.executed
}

// Handle applies the copy policy to one trade event. Orders run in the
// background; the returned reason is RejectNone when an order was dispatched.
func (e *Engine) Handle(ctx context.Context, ev domain.TradeEvent) RejectReason {
	e.publish(events.NewTradeDetected(ev))
	e.metrics.TradeEvent(ev.Direction.String())

	if e.cfg.Protocol != "" && e.cfg.Protocol != config.ProtocolAuto && ev.Protocol != e.cfg.Protocol {
		return e.reject(ev, RejectProtocolMismatch)
	}

	switch ev.Direction {
	case domain.DirectionBuy:
		return e.handleBuy(ctx, ev)
	case domain.DirectionSell:
		return e.handleSell(ctx, ev)
	default:
		e.logger.Warn("Unknown trade direction", zap.String("event", ev.Key()))
		return RejectNone
	}
}

func (e *Engine) handleBuy(ctx context.Context, ev domain.TradeEvent) RejectReason {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return e.reject(ev, RejectShuttingDown)
	}
	if e.cfg.CounterLimit > 0 && e.executed+len(e.inflight) >= e.cfg.CounterLimit {
		e.mu.Unlock()
		return e.reject(ev, RejectCounterLimit)
	}
	if _, busy := e.inflight[ev.Token]; busy || e.positions.Has(ev.Token) {
		e.mu.Unlock()
		return e.reject(ev, RejectPositionExists)
	}
	e.inflight[ev.Token] = struct{}{}
	e.wg.Add(1)
	e.mu.Unlock()

	order := domain.NewTradeOrder(domain.DirectionBuy, ev.Token, e.cfg.BuyAmountLamports, e.cfg.SlippageBps, domain.OriginCopyTrade)
	e.logger.Info("🛒 Mirroring buy",
		zap.String("token", ev.Token.String()),
		zap.String("source", ev.Source.String()),
		zap.String("target_tx", ev.Signature.String()),
		zap.String("order_id", order.ID))

	go func() {
		defer e.wg.Done()
		outcome := e.executor.Execute(context.WithoutCancel(ctx), order)
		e.completeBuy(ev, outcome)
	}()
	return RejectNone
}

func (e *Engine) completeBuy(ev domain.TradeEvent, outcome domain.ExecutionOutcome) {
	if !outcome.Succeeded() {
		e.mu.Lock()
		delete(e.inflight, ev.Token)
		e.mu.Unlock()
		e.logger.Warn("Copy buy failed",
			zap.String("token", ev.Token.String()),
			zap.String("kind", outcome.Kind.String()),
			zap.Int("attempts", outcome.Attempts),
			zap.Error(outcome.Err))
		return
	}

	// the reservation is released only after the position is tracked, so a
	// token is always either in flight or open
	e.mu.Lock()
	e.executed++
	index := e.executed
	limitReached := e.cfg.CounterLimit > 0 && e.executed >= e.cfg.CounterLimit
	pos, err := domain.NewPosition(ev.Token, outcome.FillPrice, outcome.FilledAmount, time.Now())
	if err == nil {
		pos.Source = ev.Source
		pos.EntryCost = outcome.Order.Amount
		pos.CounterIndex = index
		pos.Signature = outcome.Signature
		err = e.positions.Open(*pos)
	}
	delete(e.inflight, ev.Token)
	e.mu.Unlock()

	if err != nil {
		if errors.Is(err, monitor.ErrPositionExists) {
			e.logger.Warn("Position already tracked", zap.String("token", ev.Token.String()))
		} else {
			e.logger.Error("Failed to open position", zap.String("token", ev.Token.String()), zap.Error(err))
		}
		return
	}
	e.publish(events.NewPositionOpened(*pos))

	if limitReached {
		e.logger.Info("🔒 Trade counter limit reached, new buys are blocked",
			zap.Int("executed", index),
			zap.Int("limit", e.cfg.CounterLimit))
	}
}

func (e *Engine) handleSell(ctx context.Context, ev domain.TradeEvent) RejectReason {
	p, ok := e.positions.Get(ev.Token)
	if !ok {
		return e.reject(ev, RejectNoPosition)
	}
	if p.Origin != domain.OriginCopyTrade || !p.Source.Equals(ev.Source) {
		return e.reject(ev, RejectNoPosition)
	}

	p, ok = e.positions.RequestExit(ev.Token, domain.OriginCopyTrade)
	if !ok {
		return e.reject(ev, RejectExitPending)
	}

	e.logger.Info("💸 Mirroring sell",
		zap.String("token", ev.Token.String()),
		zap.String("source", ev.Source.String()),
		zap.String("target_tx", ev.Signature.String()))
	if !e.dispatchExit(ctx, p, domain.OriginCopyTrade, string(monitor.TriggerMirror)) {
		return e.reject(ev, RejectShuttingDown)
	}
	return RejectNone
}

// StrategyExit is the position manager's exit handler. The position is
// already in PendingExit when it is called.
func (e *Engine) StrategyExit(ctx context.Context, p domain.Position, trigger monitor.Trigger) {
	e.logger.Info("⏰ Strategy exit",
		zap.String("token", p.Token.String()),
		zap.String("trigger", string(trigger)))
	if !e.dispatchExit(ctx, p, domain.OriginStrategyExit, string(trigger)) {
		e.logger.Warn("Strategy exit skipped, engine is closed", zap.String("token", p.Token.String()))
	}
}

// dispatchExit sells a PendingExit position in the background. After Close
// the position is handed back to the manager as Open and false is returned.
func (e *Engine) dispatchExit(ctx context.Context, p domain.Position, origin domain.Origin, trigger string) bool {
	order := domain.NewTradeOrder(domain.DirectionSell, p.Token, p.EntryAmount, e.cfg.SlippageBps, origin)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.positions.CompleteExit(p.Token, domain.ExecutionOutcome{
			Order:  order,
			Status: domain.StatusFailed,
			Kind:   domain.FailureTransient,
			Err:    ErrEngineClosed,
		})
		return false
	}
	e.wg.Add(1)
	e.mu.Unlock()

	e.publish(events.NewExitRequested(p.Token, origin, trigger))
	go func() {
		defer e.wg.Done()
		outcome := e.executor.Execute(context.WithoutCancel(ctx), order)

		closed, ok := e.positions.CompleteExit(p.Token, outcome)
		if ok && closed.State == domain.PositionClosed {
			e.publish(events.NewPositionClosed(closed, outcome))
		}
	}()
	return true
}

// Close stops accepting new orders and waits for in-flight ones.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) reject(ev domain.TradeEvent, reason RejectReason) RejectReason {
	e.metrics.PolicyRejection(string(reason))
	e.publish(events.NewPolicyRejected(ev, string(reason)))
	e.logger.Debug("Trade not mirrored",
		zap.String("event", ev.Key()),
		zap.String("reason", string(reason)))
	return reason
}

func (e *Engine) publish(ev events.Event) {
	if e.bus == nil {
		return
	}
	if err := e.bus.Publish(ev); err != nil {
		e.logger.Debug("Event not published", zap.String("type", string(ev.Type())), zap.Error(err))
	}
}
