// internal/bot/worker.go
package bot

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/rovshanmuradov/solana-copybot/internal/domain"
	"github.com/rovshanmuradov/solana-copybot/internal/eventlistener"
	"github.com/rovshanmuradov/solana-copybot/internal/utils/logger"
	"github.com/rovshanmuradov/solana-copybot/internal/utils/metrics"
)

const defaultWorkers = 4

// TradeParser extracts target trades from a fetched envelope.
type TradeParser interface {
	Parse(env *eventlistener.Envelope) []domain.TradeEvent
}

// EventHandler receives trades in the order their envelopes arrived.
type EventHandler func(ctx context.Context, ev domain.TradeEvent) RejectReason

// WorkerPool fetches and parses envelopes in parallel and delivers the
// resulting trades in arrival order.
type WorkerPool struct {
	fetcher eventlistener.TxFetcher
	parser  TradeParser
	self    *eventlistener.SelfFilter
	handle  EventHandler
	workers int
	metrics *metrics.Collector
	logger  *zap.Logger
}

func NewWorkerPool(
	fetcher eventlistener.TxFetcher,
	parser TradeParser,
	self *eventlistener.SelfFilter,
	handle EventHandler,
	workers int,
	collector *metrics.Collector,
	logger *zap.Logger,
) *WorkerPool {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &WorkerPool{
		fetcher: fetcher,
		parser:  parser,
		self:    self,
		handle:  handle,
		workers: workers,
		metrics: collector,
		logger:  logger.Named("workers"),
	}
}

// Run consumes in until it is closed or ctx is done.
func (wp *WorkerPool) Run(ctx context.Context, in <-chan *eventlistener.Envelope) error {
	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(wp.workers))
	pending := make(chan chan []domain.TradeEvent, wp.workers)

	wp.logger.Info("Worker pool started", zap.Int("workers", wp.workers))

	// dispatcher
	g.Go(func() error {
		defer close(pending)
		for {
			var env *eventlistener.Envelope
			select {
			case <-gctx.Done():
				return nil
			case e, ok := <-in:
				if !ok {
					return nil
				}
				env = e
			}

			if err := sem.Acquire(gctx, 1); err != nil {
				return nil
			}
			result := make(chan []domain.TradeEvent, 1)
			select {
			case pending <- result:
			case <-gctx.Done():
				sem.Release(1)
				return nil
			}
			go func() {
				defer sem.Release(1)
				result <- wp.process(gctx, env)
			}()
		}
	})

	// sequencer
	g.Go(func() error {
		for result := range pending {
			var trades []domain.TradeEvent
			select {
			case trades = <-result:
			case <-gctx.Done():
				return nil
			}
			for _, ev := range trades {
				wp.handle(gctx, ev)
			}
		}
		return nil
	})

	err := g.Wait()
	wp.logger.Info("Worker pool stopped")
	return err
}

func (wp *WorkerPool) process(ctx context.Context, env *eventlistener.Envelope) []domain.TradeEvent {
	if env.Transaction == nil {
		if err := wp.fetcher.Fetch(ctx, env); err != nil {
			if ctx.Err() == nil {
				logger.WithTransaction(wp.logger, env.Signature.String()).
					Warn("Failed to fetch transaction", zap.Uint64("slot", env.Slot), zap.Error(err))
			}
			wp.metrics.EnvelopeDropped("fetch_failed")
			return nil
		}
	}
	wp.metrics.EnvelopeReceived("fetched")

	// the fee payer is only known once the transaction body is loaded
	if wp.self.Own(env) {
		wp.metrics.EnvelopeDropped("self")
		return nil
	}

	trades := wp.parser.Parse(env)
	if len(trades) > 0 {
		wp.metrics.EnvelopeReceived("parsed")
	}
	return trades
}
