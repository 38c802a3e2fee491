// internal/blockchain/solbc/client.go
package solbc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AlekSi/pointer"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rovshanmuradov/solana-copybot/internal/blockchain"
	rpcpool "github.com/rovshanmuradov/solana-copybot/internal/blockchain/solbc/rpc"
	"go.uber.org/zap"
)

const (
	defaultPollInterval        = 500 * time.Millisecond
	defaultConfirmationTimeout = 30 * time.Second
)

// ErrConfirmationTimeout возникает, если транзакция не подтвердилась за отведённое время.
var ErrConfirmationTimeout = errors.New("confirmation timeout")

// IsAccountNotFoundError проверяет, является ли ошибка "not found"
func IsAccountNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, rpc.ErrNotFound) || errors.Is(err, blockchain.ErrAccountNotFound) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "could not find account")
}

// Client – адаптер для взаимодействия с блокчейном Solana через пул RPC узлов.
type Client struct {
	pool         *rpcpool.Pool
	pollInterval time.Duration
	logger       *zap.Logger
}

// NewClient создаёт новый клиент поверх списка RPC URL.
func NewClient(urls []string, logger *zap.Logger) (*Client, error) {
	pool, err := rpcpool.NewPool(urls, rpcpool.DefaultCooldown, logger)
	if err != nil {
		return nil, err
	}
	return &Client{
		pool:         pool,
		pollInterval: defaultPollInterval,
		logger:       logger.Named("solbc-client"),
	}, nil
}

// SetLatencyObserver передаёт задержки RPC-запросов во внешний сборщик метрик.
func (c *Client) SetLatencyObserver(o rpcpool.Observer) {
	c.pool.SetObserver(o)
}

// GetRecentBlockhash получает последний blockhash.
func (c *Client) GetRecentBlockhash(ctx context.Context) (solana.Hash, error) {
	var result *rpc.GetLatestBlockhashResult
	err := c.pool.Do(ctx, "getLatestBlockhash", func(cl *rpc.Client) error {
		var err error
		result, err = cl.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
		return err
	})
	if err != nil {
		c.logger.Error("GetRecentBlockhash error", zap.Error(err))
		return solana.Hash{}, err
	}
	return result.Value.Blockhash, nil
}

// SendTransactionWithOpts отправляет транзакцию с заданными опциями.
func (c *Client) SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts blockchain.TransactionOptions) (solana.Signature, error) {
	sendOpts := rpc.TransactionOpts{
		SkipPreflight:       opts.SkipPreflight,
		PreflightCommitment: opts.PreflightCommitment,
	}
	if opts.MaxRetries > 0 {
		sendOpts.MaxRetries = pointer.ToUint(opts.MaxRetries)
	}

	var sig solana.Signature
	err := c.pool.Do(ctx, "sendTransaction", func(cl *rpc.Client) error {
		var err error
		sig, err = cl.SendTransactionWithOpts(ctx, tx, sendOpts)
		return err
	})
	if err != nil {
		c.logger.Error("SendTransactionWithOpts error", zap.Error(err))
		return solana.Signature{}, err
	}
	return sig, nil
}

// GetSignatureStatus возвращает статус одной подписи; nil, если подпись неизвестна сети.
func (c *Client) GetSignatureStatus(ctx context.Context, signature solana.Signature) (*rpc.SignatureStatusesResult, error) {
	var result *rpc.GetSignatureStatusesResult
	err := c.pool.Do(ctx, "getSignatureStatuses", func(cl *rpc.Client) error {
		var err error
		result, err = cl.GetSignatureStatuses(ctx, true, signature)
		return err
	})
	if err != nil {
		return nil, err
	}
	if result == nil || len(result.Value) == 0 {
		return nil, nil
	}
	return result.Value[0], nil
}

// WaitForTransactionConfirmation ожидает подтверждения транзакции (polling).
// Транзакция, попавшая в блок с ошибкой, возвращает *blockchain.TxError.
func (c *Client) WaitForTransactionConfirmation(ctx context.Context, signature solana.Signature, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = defaultConfirmationTimeout
	}
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("%w: %s", ErrConfirmationTimeout, signature)
		case <-ticker.C:
			status, err := c.GetSignatureStatus(ctx, signature)
			if err != nil {
				c.logger.Warn("Error getting signature status", zap.Error(err))
				continue
			}
			if confirmed, err := IsConfirmed(signature, status); confirmed || err != nil {
				return err
			}
		}
	}
}

// IsConfirmed сообщает, подтверждена ли транзакция по её статусу.
func IsConfirmed(signature solana.Signature, status *rpc.SignatureStatusesResult) (bool, error) {
	if status == nil {
		return false, nil
	}
	if status.Err != nil {
		return false, &blockchain.TxError{Signature: signature, Err: status.Err}
	}
	return status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
		status.ConfirmationStatus == rpc.ConfirmationStatusFinalized, nil
}

// GetTokenBalance получает баланс токенного аккаунта в минимальных единицах.
func (c *Client) GetTokenBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	var result *rpc.GetTokenAccountBalanceResult
	err := c.pool.Do(ctx, "getTokenAccountBalance", func(cl *rpc.Client) error {
		var err error
		result, err = cl.GetTokenAccountBalance(ctx, account, rpc.CommitmentConfirmed)
		return err
	})
	if err != nil {
		if IsAccountNotFoundError(err) {
			return 0, fmt.Errorf("%w: %s", blockchain.ErrAccountNotFound, account)
		}
		return 0, err
	}
	if result == nil || result.Value == nil {
		return 0, fmt.Errorf("%w: empty balance for %s", rpcpool.ErrInvalidResponse, account)
	}

	var amount uint64
	if _, err := fmt.Sscan(result.Value.Amount, &amount); err != nil {
		return 0, fmt.Errorf("%w: bad token amount %q", rpcpool.ErrInvalidResponse, result.Value.Amount)
	}
	return amount, nil
}

// GetAccountInfo получает информацию об аккаунте.
func (c *Client) GetAccountInfo(ctx context.Context, pubkey solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	var result *rpc.GetAccountInfoResult
	err := c.pool.Do(ctx, "getAccountInfo", func(cl *rpc.Client) error {
		var err error
		result, err = cl.GetAccountInfoWithOpts(ctx, pubkey, &rpc.GetAccountInfoOpts{
			Commitment: rpc.CommitmentConfirmed,
			Encoding:   solana.EncodingBase64,
		})
		return err
	})
	if err != nil {
		c.logger.Debug("GetAccountInfo error",
			zap.String("pubkey", pubkey.String()),
			zap.Error(err))
		return nil, err
	}
	return result, nil
}

// GetTransaction загружает подтверждённую транзакцию вместе с метаданными.
func (c *Client) GetTransaction(ctx context.Context, signature solana.Signature) (*rpc.GetTransactionResult, error) {
	var result *rpc.GetTransactionResult
	err := c.pool.Do(ctx, "getTransaction", func(cl *rpc.Client) error {
		var err error
		result, err = cl.GetTransaction(ctx, signature, &rpc.GetTransactionOpts{
			Encoding:                       solana.EncodingBase64,
			Commitment:                     rpc.CommitmentConfirmed,
			MaxSupportedTransactionVersion: pointer.ToUint64(0),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetBalance получает баланс аккаунта в лампортах.
func (c *Client) GetBalance(ctx context.Context, pubkey solana.PublicKey) (uint64, error) {
	var result *rpc.GetBalanceResult
	err := c.pool.Do(ctx, "getBalance", func(cl *rpc.Client) error {
		var err error
		result, err = cl.GetBalance(ctx, pubkey, rpc.CommitmentConfirmed)
		return err
	})
	if err != nil {
		return 0, err
	}
	return result.Value, nil
}

// Гарантируем, что Client реализует интерфейс blockchain.Client.
var _ blockchain.Client = (*Client)(nil)
