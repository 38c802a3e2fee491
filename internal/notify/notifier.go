// internal/notify/notifier.go
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-copybot/internal/domain"
	"github.com/rovshanmuradov/solana-copybot/internal/events"
)

// Notifier receives every terminal execution outcome exactly once.
type Notifier interface {
	Notify(ctx context.Context, outcome domain.ExecutionOutcome) error
}

// Multi fans an outcome out to several notifiers; all are called even if some fail.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, outcome domain.ExecutionOutcome) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, outcome); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes outcomes to the structured log.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("notify")}
}

func (l *LogNotifier) Notify(_ context.Context, o domain.ExecutionOutcome) error {
	fields := []zap.Field{
		zap.String("order_id", o.Order.ID),
		zap.String("direction", o.Order.Direction.String()),
		zap.String("origin", o.Order.Origin.String()),
		zap.String("token", o.Order.Token.String()),
		zap.Int("attempts", o.Attempts),
		zap.Duration("duration", o.Duration),
	}
	if o.Succeeded() {
		l.logger.Info("✅ Order executed", append(fields,
			zap.String("signature", o.Signature.String()),
			zap.String("fill_price", o.FillPrice.String()),
			zap.Uint64("filled_amount", o.FilledAmount))...)
		return nil
	}
	l.logger.Warn("❌ Order failed", append(fields,
		zap.String("kind", o.Kind.String()),
		zap.Error(o.Err))...)
	return nil
}

// BusNotifier publishes outcomes on the event bus; subscribers run asynchronously.
type BusNotifier struct {
	bus *events.Bus
}

func NewBusNotifier(bus *events.Bus) *BusNotifier {
	return &BusNotifier{bus: bus}
}

func (b *BusNotifier) Notify(_ context.Context, o domain.ExecutionOutcome) error {
	return b.bus.Publish(events.NewOrderExecuted(o))
}

// AsHandler adapts a notifier into a bus handler for OrderExecuted events.
func AsHandler(n Notifier) events.Handler {
	return events.HandlerFunc(func(ctx context.Context, e events.Event) error {
		ev, ok := e.(events.OrderExecutedEvent)
		if !ok {
			return nil
		}
		return n.Notify(ctx, ev.Outcome)
	})
}

// FormatOutcome renders a short human readable message.
func FormatOutcome(o domain.ExecutionOutcome) string {
	var b strings.Builder
	if o.Succeeded() {
		fmt.Fprintf(&b, "✅ %s %s executed\n", strings.ToUpper(o.Order.Direction.String()), o.Order.Token)
		fmt.Fprintf(&b, "origin: %s\nattempts: %d\n", o.Order.Origin, o.Attempts)
		fmt.Fprintf(&b, "fill price: %s SOL\namount: %d\n", o.FillPrice.String(), o.FilledAmount)
		fmt.Fprintf(&b, "tx: %s", o.Signature)
		return b.String()
	}
	fmt.Fprintf(&b, "❌ %s %s failed (%s)\n", strings.ToUpper(o.Order.Direction.String()), o.Order.Token, o.Kind)
	fmt.Fprintf(&b, "origin: %s\nattempts: %d", o.Order.Origin, o.Attempts)
	if o.Err != nil {
		fmt.Fprintf(&b, "\nerror: %v", o.Err)
	}
	return b.String()
}
