// internal/blockchain/solana/transaction/builder.go
package transaction

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/rovshanmuradov/solana-copybot/internal/blockchain/solana/programs/computebudget"
)

// ErrNoSigners возникает при попытке собрать транзакцию без подписантов.
var ErrNoSigners = errors.New("no signers provided")

// BlockhashSource отдаёт свежий blockhash
type BlockhashSource interface {
	GetRecentBlockhash(ctx context.Context) (solana.Hash, error)
}

// Builder помогает конструировать транзакции
type Builder struct {
	instructions []solana.Instruction
	signers      []solana.PrivateKey
	budget       computebudget.Config
}

// NewBuilder создает новый билдер транзакций
func NewBuilder() *Builder {
	return &Builder{
		budget: computebudget.Config{Units: computebudget.TradeUnits},
	}
}

// SetComputeBudget устанавливает параметры compute budget
func (b *Builder) SetComputeBudget(cfg computebudget.Config) *Builder {
	b.budget = cfg
	return b
}

// AddInstruction добавляет инструкцию в транзакцию
func (b *Builder) AddInstruction(instructions ...solana.Instruction) *Builder {
	b.instructions = append(b.instructions, instructions...)
	return b
}

// AddSigner добавляет подписанта; первый подписант платит комиссию
func (b *Builder) AddSigner(signer solana.PrivateKey) *Builder {
	b.signers = append(b.signers, signer)
	return b
}

// Build создает и подписывает транзакцию
func (b *Builder) Build(ctx context.Context, source BlockhashSource) (*solana.Transaction, error) {
	if len(b.signers) == 0 {
		return nil, ErrNoSigners
	}

	blockhash, err := source.GetRecentBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent blockhash: %w", err)
	}

	budget := b.budget.Instructions()
	instructions := make([]solana.Instruction, 0, len(budget)+len(b.instructions))
	instructions = append(instructions, budget...)
	instructions = append(instructions, b.instructions...)

	tx, err := solana.NewTransaction(
		instructions,
		blockhash,
		solana.TransactionPayer(b.signers[0].PublicKey()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	keys := make(map[solana.PublicKey]*solana.PrivateKey, len(b.signers))
	for i := range b.signers {
		keys[b.signers[i].PublicKey()] = &b.signers[i]
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		return keys[key]
	}); err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	return tx, nil
}
