// internal/monitor/position.go
package monitor

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trigger names the reason a position is closed.
type Trigger string

const (
	TriggerTime       Trigger = "selling_time"
	TriggerTakeProfit Trigger = "take_profit"
	TriggerStopLoss   Trigger = "stop_loss"
	TriggerMirror     Trigger = "mirror_sell"
)

// Policy is the exit policy applied to every open position.
// Zero thresholds disable the matching trigger.
type Policy struct {
	SellingTime       time.Duration
	TakeProfitPercent decimal.Decimal
	StopLossPercent   decimal.Decimal
	PollInterval      time.Duration
}

func (p Policy) priceTriggers() bool {
	return p.TakeProfitPercent.IsPositive() || p.StopLossPercent.IsPositive()
}
