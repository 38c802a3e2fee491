// internal/monitor/calculators.go
package monitor

import (
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/solana-copybot/internal/domain"
)

const solDecimals = 9

// PnLData содержит оценку прибыли/убытка позиции по текущей цене
type PnLData struct {
	InitialInvestment decimal.Decimal // Сколько вложено в SOL
	CurrentValue      decimal.Decimal // Оценка позиции в SOL по цене mark
	NetPnL            decimal.Decimal // Прибыль/убыток в SOL
	PnLPercentage     decimal.Decimal // Процент PnL
}

// CalculatePnL оценивает позицию по цене mark без учёта комиссий.
func CalculatePnL(p domain.Position, mark decimal.Decimal) PnLData {
	invested := decimal.NewFromBigInt(new(big.Int).SetUint64(p.EntryCost), -solDecimals)
	value := invested
	if p.EntryPrice.IsPositive() {
		value = invested.Mul(mark).Div(p.EntryPrice)
	}

	return PnLData{
		InitialInvestment: invested,
		CurrentValue:      value,
		NetPnL:            value.Sub(invested),
		PnLPercentage:     p.Return(mark),
	}
}
