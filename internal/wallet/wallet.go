// internal/wallet/wallet.go
package wallet

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/mr-tron/base58"
)

// ErrWalletNotFound возникает, если кошелёк с указанным именем отсутствует в файле.
var ErrWalletNotFound = errors.New("wallet not found")

// WrappedSOLMint - минт обёрнутого SOL
var WrappedSOLMint = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")

// Wallet представляет кошелёк Solana.
type Wallet struct {
	PrivateKey solana.PrivateKey
	PublicKey  solana.PublicKey

	mu       sync.RWMutex
	ataCache map[solana.PublicKey]solana.PublicKey // Кеш ATA по минту
}

// NewWallet создаёт новый кошелёк из base58-encoded приватного ключа.
func NewWallet(privateKeyBase58 string) (*Wallet, error) {
	privateKeyBytes, err := base58.Decode(strings.TrimSpace(privateKeyBase58))
	if err != nil {
		return nil, fmt.Errorf("failed to decode private key: %w", err)
	}
	if len(privateKeyBytes) != 64 {
		return nil, fmt.Errorf("invalid private key length: expected 64 bytes, got %d", len(privateKeyBytes))
	}
	privateKey := solana.PrivateKey(privateKeyBytes)
	return &Wallet{
		PrivateKey: privateKey,
		PublicKey:  privateKey.PublicKey(),
		ataCache:   make(map[solana.PublicKey]solana.PublicKey),
	}, nil
}

// LoadWallets загружает кошельки из CSV-файла с колонками: [Name, PrivateKeyBase58].
func LoadWallets(path string) (map[string]*Wallet, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("CSV file is empty or missing data")
	}

	wallets := make(map[string]*Wallet)
	for _, record := range records[1:] {
		if len(record) != 2 {
			continue
		}
		w, err := NewWallet(record[1])
		if err != nil {
			continue
		}
		wallets[strings.TrimSpace(record[0])] = w
	}
	return wallets, nil
}

// Load возвращает кошелёк: из приватного ключа, если он задан, иначе по имени из CSV.
func Load(privateKey, csvPath, name string) (*Wallet, error) {
	if privateKey != "" {
		return NewWallet(privateKey)
	}
	wallets, err := LoadWallets(csvPath)
	if err != nil {
		return nil, err
	}
	w, ok := wallets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q in %s", ErrWalletNotFound, name, csvPath)
	}
	return w, nil
}

// SignTransaction подписывает транзакцию с помощью приватного ключа кошелька.
func (w *Wallet) SignTransaction(tx *solana.Transaction) error {
	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(w.PublicKey) {
			return &w.PrivateKey
		}
		return nil
	})
	return err
}

// GetATA возвращает адрес ассоциированного токен-аккаунта (ATA) для заданного минта.
func (w *Wallet) GetATA(mint solana.PublicKey) (solana.PublicKey, error) {
	w.mu.RLock()
	ata, ok := w.ataCache[mint]
	w.mu.RUnlock()
	if ok {
		return ata, nil
	}

	ata, _, err := solana.FindAssociatedTokenAddress(w.PublicKey, mint)
	if err != nil {
		return solana.PublicKey{}, err
	}

	w.mu.Lock()
	w.ataCache[mint] = ata
	w.mu.Unlock()
	return ata, nil
}

// CreateATAIdempotentInstruction создаёт ATA кошелька для минта, если он ещё не существует.
func (w *Wallet) CreateATAIdempotentInstruction(mint solana.PublicKey) (solana.Instruction, error) {
	ata, err := w.GetATA(mint)
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(
		solana.SPLAssociatedTokenAccountProgramID,
		solana.AccountMetaSlice{
			solana.Meta(w.PublicKey).WRITE().SIGNER(),
			solana.Meta(ata).WRITE(),
			solana.Meta(w.PublicKey),
			solana.Meta(mint),
			solana.Meta(solana.SystemProgramID),
			solana.Meta(solana.TokenProgramID),
		},
		[]byte{1},
	), nil
}

// WrapSOLInstructions переводит lamports на WSOL ATA кошелька и синхронизирует баланс.
func (w *Wallet) WrapSOLInstructions(lamports uint64) ([]solana.Instruction, error) {
	create, err := w.CreateATAIdempotentInstruction(WrappedSOLMint)
	if err != nil {
		return nil, err
	}
	wsol, err := w.GetATA(WrappedSOLMint)
	if err != nil {
		return nil, err
	}
	return []solana.Instruction{
		create,
		system.NewTransferInstruction(lamports, w.PublicKey, wsol).Build(),
		token.NewSyncNativeInstruction(wsol).Build(),
	}, nil
}

// CloseWSOLInstruction закрывает WSOL ATA и возвращает lamports на кошелёк.
func (w *Wallet) CloseWSOLInstruction() (solana.Instruction, error) {
	wsol, err := w.GetATA(WrappedSOLMint)
	if err != nil {
		return nil, err
	}
	return token.NewCloseAccountInstruction(wsol, w.PublicKey, w.PublicKey, nil).Build(), nil
}

// String возвращает строковое представление кошелька (его публичный ключ).
func (w *Wallet) String() string {
	return w.PublicKey.String()
}
