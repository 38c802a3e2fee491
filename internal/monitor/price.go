// internal/monitor/price.go
package monitor

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-copybot/internal/domain"
)

const priceLookupTimeout = 5 * time.Second

// PriceLookup returns the current mark price of a token in SOL per whole token.
type PriceLookup interface {
	MarkPrice(ctx context.Context, token solana.PublicKey) (decimal.Decimal, error)
}

// evaluate returns the trigger that fires for p, if any. The time trigger is
// checked first and needs no price; a failed price lookup only skips the
// price triggers.
func (m *Manager) evaluate(ctx context.Context, p domain.Position, now time.Time) (Trigger, bool) {
	if m.policy.SellingTime > 0 && p.Age(now) >= m.policy.SellingTime {
		return TriggerTime, true
	}
	if m.prices == nil || !m.policy.priceTriggers() {
		return "", false
	}

	lctx, cancel := context.WithTimeout(ctx, priceLookupTimeout)
	defer cancel()
	mark, err := m.prices.MarkPrice(lctx, p.Token)
	if err != nil {
		m.logger.Debug("Price lookup failed",
			zap.String("token", p.Token.String()),
			zap.Error(err))
		return "", false
	}

	pnl := CalculatePnL(p, mark)
	m.logger.Debug("Position price",
		zap.String("token", p.Token.String()),
		zap.String("mark", mark.String()),
		zap.String("return_pct", pnl.PnLPercentage.StringFixed(2)),
		zap.String("net_sol", pnl.NetPnL.StringFixed(6)))

	if tp := m.policy.TakeProfitPercent; tp.IsPositive() && pnl.PnLPercentage.GreaterThanOrEqual(tp) {
		return TriggerTakeProfit, true
	}
	if sl := m.policy.StopLossPercent; sl.IsPositive() && pnl.PnLPercentage.LessThanOrEqual(sl.Neg()) {
		return TriggerStopLoss, true
	}
	return "", false
}
