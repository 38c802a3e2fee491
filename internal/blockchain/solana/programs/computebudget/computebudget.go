// internal/blockchain/solana/programs/computebudget/computebudget.go
package computebudget

import (
	"math"

	"github.com/gagliardetto/solana-go"
	cb "github.com/gagliardetto/solana-go/programs/compute-budget"
)

var ProgramID = cb.ProgramID

// Профили лимитов
const (
	DefaultUnits uint32 = 200_000
	TradeUnits   uint32 = 150_000
)

// Config содержит бюджет вычислений для транзакции
type Config struct {
	Units     uint32
	UnitPrice uint64 // micro-lamports per compute unit
}

// ConvertSolToMicrolamports переводит приоритетную комиссию в SOL в цену за compute unit.
func ConvertSolToMicrolamports(sol float64, units uint32) uint64 {
	if units == 0 {
		units = DefaultUnits
	}
	return uint64(math.Round(sol * 1e15 / float64(units)))
}

// Instructions создает инструкции лимита и (опционально) цены compute units.
func (c Config) Instructions() []solana.Instruction {
	units := c.Units
	if units == 0 {
		units = DefaultUnits
	}

	out := []solana.Instruction{
		cb.NewSetComputeUnitLimitInstruction(units).Build(),
	}
	if c.UnitPrice > 0 {
		out = append(out, cb.NewSetComputeUnitPriceInstruction(c.UnitPrice).Build())
	}
	return out
}
