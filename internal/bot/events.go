// internal/bot/events.go
package bot

import (
	"context"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-copybot/internal/events"
)

// SubscribeLifecycleLog mirrors pipeline events into the log. Order outcomes
// are logged by the notifier and are not repeated here.
func SubscribeLifecycleLog(bus *events.Bus, logger *zap.Logger) []events.Subscription {
	log := logger.Named("lifecycle")

	return []events.Subscription{
		bus.Subscribe(events.On(func(_ context.Context, ev events.TradeDetectedEvent) error {
			log.Info("👀 Target trade",
				zap.String("direction", ev.Trade.Direction.String()),
				zap.String("token", ev.Trade.Token.String()),
				zap.String("source", ev.Trade.Source.String()),
				zap.Uint64("base_amount", ev.Trade.BaseAmount),
				zap.Uint64("quote_amount", ev.Trade.QuoteAmount),
				zap.Uint64("slot", ev.Trade.Slot))
			return nil
		}), events.TradeDetected),

		bus.Subscribe(events.On(func(_ context.Context, ev events.PolicyRejectedEvent) error {
			log.Info("🚫 Trade skipped",
				zap.String("token", ev.Trade.Token.String()),
				zap.String("reason", ev.Reason))
			return nil
		}), events.PolicyRejected),

		bus.Subscribe(events.On(func(_ context.Context, ev events.ExitRequestedEvent) error {
			log.Debug("Exit requested",
				zap.String("token", ev.Token.String()),
				zap.String("origin", ev.Origin.String()),
				zap.String("trigger", ev.Trigger))
			return nil
		}), events.ExitRequested),

		bus.Subscribe(events.On(func(_ context.Context, ev events.PositionClosedEvent) error {
			log.Debug("Position closed",
				zap.String("token", ev.Position.Token.String()),
				zap.Int("counter", ev.Position.CounterIndex),
				zap.String("outcome", ev.Outcome.Kind.String()))
			return nil
		}), events.PositionClosed),

		bus.Subscribe(events.On(func(_ context.Context, ev events.MonitorStateChangedEvent) error {
			log.Info("📡 Feed state", zap.String("from", ev.From), zap.String("to", ev.To))
			return nil
		}), events.MonitorStateChanged),
	}
}
