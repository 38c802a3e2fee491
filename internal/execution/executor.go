// internal/execution/executor.go
package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-copybot/internal/blockchain"
	"github.com/rovshanmuradov/solana-copybot/internal/blockchain/solana/programs/computebudget"
	"github.com/rovshanmuradov/solana-copybot/internal/blockchain/solana/transaction"
	"github.com/rovshanmuradov/solana-copybot/internal/blockchain/solbc"
	"github.com/rovshanmuradov/solana-copybot/internal/dex/launchpad"
	"github.com/rovshanmuradov/solana-copybot/internal/domain"
	"github.com/rovshanmuradov/solana-copybot/internal/notify"
	"github.com/rovshanmuradov/solana-copybot/internal/utils/logger"
	"github.com/rovshanmuradov/solana-copybot/internal/utils/metrics"
	"github.com/rovshanmuradov/solana-copybot/internal/wallet"
)

const notifyTimeout = 10 * time.Second

// ChainClient is the RPC surface the executor needs.
type ChainClient interface {
	blockchain.Client
	WaitForTransactionConfirmation(ctx context.Context, signature solana.Signature, timeout time.Duration) error
}

// PoolSource returns the current curve state for a token.
type PoolSource interface {
	Pool(ctx context.Context, baseMint solana.PublicKey) (*launchpad.PoolState, error)
}

// Config controls retries and transaction fees.
type Config struct {
	MaxRetries     int
	RetryDelay     time.Duration
	RetryMaxDelay  time.Duration
	AttemptTimeout time.Duration
	ConfirmTimeout time.Duration
	ComputeUnits   uint32
	PriorityFeeSOL float64
	SkipPreflight  bool
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 400 * time.Millisecond
	}
	if c.RetryMaxDelay < c.RetryDelay {
		c.RetryMaxDelay = c.RetryDelay
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 20 * time.Second
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = 15 * time.Second
	}
	if c.ComputeUnits == 0 {
		c.ComputeUnits = computebudget.TradeUnits
	}
	return c
}

// Executor submits trade orders with per-token serialization and bounded retries.
type Executor struct {
	cfg        Config
	codec      *launchpad.Codec
	pools      PoolSource
	chain      ChainClient
	wallet     *wallet.Wallet
	notifier   notify.Notifier
	classifier *Classifier
	locks      *KeyedLocker
	signatures *SignatureRegistry
	metrics    *metrics.Collector
	logger     *zap.Logger
}

// NewExecutor wires an executor. metrics may be nil.
func NewExecutor(
	cfg Config,
	codec *launchpad.Codec,
	pools PoolSource,
	chain ChainClient,
	w *wallet.Wallet,
	notifier notify.Notifier,
	signatures *SignatureRegistry,
	collector *metrics.Collector,
	log *zap.Logger,
) *Executor {
	if signatures == nil {
		signatures = NewSignatureRegistry(0)
	}
	return &Executor{
		cfg:        cfg.withDefaults(),
		codec:      codec,
		pools:      pools,
		chain:      chain,
		wallet:     w,
		notifier:   notifier,
		classifier: NewClassifier(log),
		locks:      NewKeyedLocker(),
		signatures: signatures,
		metrics:    collector,
		logger:     log.Named("executor"),
	}
}

// Signatures exposes the registry of signatures this executor has produced.
func (e *Executor) Signatures() *SignatureRegistry { return e.signatures }

// Execute runs order to a terminal outcome. The outcome is returned and
// delivered to the notifier exactly once.
func (e *Executor) Execute(ctx context.Context, order domain.TradeOrder) domain.ExecutionOutcome {
	start := time.Now()
	log := logger.WithOrder(e.logger, order)
	defer logger.TrackPerformance(log, "execute_"+order.Direction.String())()

	var outcome domain.ExecutionOutcome
	unlock, err := e.locks.Lock(ctx, order.Token)
	if err != nil {
		outcome = failed(order, domain.FailureTransient, 0, fmt.Errorf("waiting for token lock: %w", err))
	} else {
		outcome = e.run(ctx, order, log)
		unlock()
	}
	outcome.Duration = time.Since(start)

	e.metrics.RecordExecution(order.Direction.String(), order.Origin.String(),
		outcome.Status.String(), outcome.Kind.String(), outcome.Attempts, outcome.Duration)

	if outcome.Succeeded() {
		log.Info("Order executed",
			zap.String("signature", outcome.Signature.String()),
			zap.Int("attempts", outcome.Attempts),
			zap.Duration("duration", outcome.Duration))
	} else {
		log.Warn("Order failed",
			zap.String("kind", outcome.Kind.String()),
			zap.Int("attempts", outcome.Attempts),
			zap.Error(outcome.Err))
	}

	if e.notifier != nil {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		if err := e.notifier.Notify(nctx, outcome); err != nil {
			log.Warn("Notification failed", zap.Error(err))
		}
		cancel()
	}
	return outcome
}

type attemptResult struct {
	signature solana.Signature
	fillPrice decimal.Decimal
	filled    uint64
}

func (e *Executor) run(ctx context.Context, order domain.TradeOrder, log *zap.Logger) domain.ExecutionOutcome {
	schedule := backoff.NewExponentialBackOff()
	schedule.InitialInterval = e.cfg.RetryDelay
	schedule.MaxInterval = e.cfg.RetryMaxDelay
	schedule.RandomizationFactor = 0.2
	schedule.Reset()

	var (
		sent    []sentAttempt
		lastErr error
	)

	for attempt := 1; attempt <= e.cfg.MaxRetries; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, schedule.NextBackOff()); err != nil {
				return failed(order, domain.FailureTransient, attempt-1, errors.Join(lastErr, err))
			}
			// Любая из предыдущих попыток могла попасть в блок после таймаута подтверждения
			if prev, landed, err := e.recheckSent(ctx, sent); landed {
				log.Info("Previous attempt landed late",
					zap.String("signature", prev.res.signature.String()),
					zap.Int("attempt", prev.attempt))
				return succeeded(order, prev.res, prev.attempt)
			} else if err != nil {
				lastErr = err
				if kind := e.classifier.Classify(err); kind != domain.FailureTransient {
					return failed(order, kind, attempt-1, err)
				}
			}
		}

		res, err := e.attempt(ctx, order)
		if err == nil {
			return succeeded(order, res, attempt)
		}
		if !res.signature.IsZero() {
			sent = append(sent, sentAttempt{res: res, attempt: attempt})
		}
		lastErr = err

		kind := e.classifier.Classify(err)
		log.Debug("Attempt failed",
			zap.Int("attempt", attempt),
			zap.String("kind", kind.String()),
			zap.Error(err))
		if kind != domain.FailureTransient {
			return failed(order, kind, attempt, err)
		}
		if ctx.Err() != nil {
			return failed(order, domain.FailureTransient, attempt, err)
		}
	}

	if prev, landed, _ := e.recheckSent(ctx, sent); landed {
		return succeeded(order, prev.res, prev.attempt)
	}
	return failed(order, domain.FailureTransient, e.cfg.MaxRetries,
		fmt.Errorf("retries exhausted after %d attempts: %w", e.cfg.MaxRetries, lastErr))
}

// sentAttempt is a transaction of this order that reached the network.
type sentAttempt struct {
	res     attemptResult
	attempt int
}

// recheckSent returns the first sent attempt that has been confirmed. The
// error is the last on-chain failure seen among the others.
func (e *Executor) recheckSent(ctx context.Context, sent []sentAttempt) (sentAttempt, bool, error) {
	var failure error
	for _, s := range sent {
		landed, err := e.recheck(ctx, s.res.signature)
		if landed {
			return s, true, nil
		}
		if err != nil {
			failure = err
		}
	}
	return sentAttempt{}, false, failure
}

// recheck reports whether sig has been confirmed. An on-chain failure is returned as error.
func (e *Executor) recheck(ctx context.Context, sig solana.Signature) (bool, error) {
	if sig.IsZero() {
		return false, nil
	}
	status, err := e.chain.GetSignatureStatus(ctx, sig)
	if err != nil {
		return false, nil
	}
	return solbc.IsConfirmed(sig, status)
}

func (e *Executor) attempt(ctx context.Context, order domain.TradeOrder) (attemptResult, error) {
	actx, cancel := context.WithTimeout(ctx, e.cfg.AttemptTimeout)
	defer cancel()

	pool, err := e.pools.Pool(actx, order.Token)
	if err != nil {
		return attemptResult{}, err
	}
	if !pool.Trading() {
		return attemptResult{}, fmt.Errorf("%w: status %d", ErrPoolNotTrading, pool.Status)
	}

	var (
		res          attemptResult
		instructions []solana.Instruction
	)
	switch order.Direction {
	case domain.DirectionBuy:
		res, instructions, err = e.buyInstructions(pool, order)
	case domain.DirectionSell:
		res, instructions, err = e.sellInstructions(actx, pool, order)
	default:
		err = fmt.Errorf("unsupported direction %s", order.Direction)
	}
	if err != nil {
		return attemptResult{}, err
	}

	tx, err := transaction.NewBuilder().
		SetComputeBudget(computebudget.Config{
			Units:     e.cfg.ComputeUnits,
			UnitPrice: computebudget.ConvertSolToMicrolamports(e.cfg.PriorityFeeSOL, e.cfg.ComputeUnits),
		}).
		AddInstruction(instructions...).
		AddSigner(e.wallet.PrivateKey).
		Build(actx, e.chain)
	if err != nil {
		return attemptResult{}, err
	}

	res.signature = tx.Signatures[0]
	e.signatures.Register(res.signature)

	if _, err := e.chain.SendTransactionWithOpts(actx, tx, blockchain.TransactionOptions{
		SkipPreflight:       e.cfg.SkipPreflight,
		PreflightCommitment: rpc.CommitmentProcessed,
	}); err != nil {
		return res, fmt.Errorf("send transaction: %w", err)
	}

	if err := e.chain.WaitForTransactionConfirmation(actx, res.signature, e.cfg.ConfirmTimeout); err != nil {
		return res, fmt.Errorf("confirm transaction %s: %w", res.signature, err)
	}
	return res, nil
}

func (e *Executor) buyInstructions(pool *launchpad.PoolState, order domain.TradeOrder) (attemptResult, []solana.Instruction, error) {
	expected, err := pool.QuoteBuy(order.Amount)
	if err != nil {
		return attemptResult{}, nil, err
	}
	if expected == 0 {
		return attemptResult{}, nil, fmt.Errorf("%w: quote returned zero output", ErrPoolNotTrading)
	}

	createBase, err := e.wallet.CreateATAIdempotentInstruction(order.Token)
	if err != nil {
		return attemptResult{}, nil, err
	}
	wrap, err := e.wallet.WrapSOLInstructions(order.Amount)
	if err != nil {
		return attemptResult{}, nil, err
	}
	swap, err := e.codec.EncodeSwap(launchpad.SwapParams{
		Payer:            e.wallet.PublicKey,
		BaseMint:         order.Token,
		Direction:        domain.DirectionBuy,
		AmountIn:         order.Amount,
		MinimumAmountOut: launchpad.MinAmountOut(expected, order.MaxSlippageBps),
	})
	if err != nil {
		return attemptResult{}, nil, err
	}
	unwrap, err := e.wallet.CloseWSOLInstruction()
	if err != nil {
		return attemptResult{}, nil, err
	}

	ixs := append([]solana.Instruction{createBase}, wrap...)
	ixs = append(ixs, swap, unwrap)

	return attemptResult{
		fillPrice: launchpad.FillPrice(order.Amount, expected, pool.BaseDecimals, pool.QuoteDecimals),
		filled:    expected,
	}, ixs, nil
}

func (e *Executor) sellInstructions(ctx context.Context, pool *launchpad.PoolState, order domain.TradeOrder) (attemptResult, []solana.Instruction, error) {
	ata, err := e.wallet.GetATA(order.Token)
	if err != nil {
		return attemptResult{}, nil, err
	}
	balance, err := e.chain.GetTokenBalance(ctx, ata)
	if err != nil {
		if errors.Is(err, blockchain.ErrAccountNotFound) {
			return attemptResult{}, nil, fmt.Errorf("%w: no token account for %s", ErrAlreadyClosed, order.Token)
		}
		return attemptResult{}, nil, fmt.Errorf("get token balance: %w", err)
	}
	if balance == 0 {
		return attemptResult{}, nil, fmt.Errorf("%w: zero balance for %s", ErrAlreadyClosed, order.Token)
	}

	expected, err := pool.QuoteSell(balance)
	if err != nil {
		return attemptResult{}, nil, err
	}

	createQuote, err := e.wallet.CreateATAIdempotentInstruction(wallet.WrappedSOLMint)
	if err != nil {
		return attemptResult{}, nil, err
	}
	swap, err := e.codec.EncodeSwap(launchpad.SwapParams{
		Payer:            e.wallet.PublicKey,
		BaseMint:         order.Token,
		Direction:        domain.DirectionSell,
		AmountIn:         balance,
		MinimumAmountOut: launchpad.MinAmountOut(expected, order.MaxSlippageBps),
		UserBaseToken:    ata,
	})
	if err != nil {
		return attemptResult{}, nil, err
	}
	unwrap, err := e.wallet.CloseWSOLInstruction()
	if err != nil {
		return attemptResult{}, nil, err
	}

	return attemptResult{
		fillPrice: launchpad.FillPrice(expected, balance, pool.BaseDecimals, pool.QuoteDecimals),
		filled:    balance,
	}, []solana.Instruction{createQuote, swap, unwrap}, nil
}

func succeeded(order domain.TradeOrder, res attemptResult, attempts int) domain.ExecutionOutcome {
	return domain.ExecutionOutcome{
		Order:        order,
		Status:       domain.StatusSuccess,
		Signature:    res.signature,
		FillPrice:    res.fillPrice,
		FilledAmount: res.filled,
		Kind:         domain.FailureNone,
		Attempts:     attempts,
	}
}

func failed(order domain.TradeOrder, kind domain.FailureKind, attempts int, err error) domain.ExecutionOutcome {
	return domain.ExecutionOutcome{
		Order:    order,
		Status:   domain.StatusFailed,
		Kind:     kind,
		Attempts: attempts,
		Err:      err,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d == backoff.Stop {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
