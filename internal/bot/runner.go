// internal/bot/runner.go
package bot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/solana-copybot/internal/blockchain/solbc"
	"github.com/rovshanmuradov/solana-copybot/internal/config"
	"github.com/rovshanmuradov/solana-copybot/internal/dex/launchpad"
	"github.com/rovshanmuradov/solana-copybot/internal/eventlistener"
	"github.com/rovshanmuradov/solana-copybot/internal/events"
	"github.com/rovshanmuradov/solana-copybot/internal/execution"
	"github.com/rovshanmuradov/solana-copybot/internal/license"
	"github.com/rovshanmuradov/solana-copybot/internal/monitor"
	"github.com/rovshanmuradov/solana-copybot/internal/notify"
	"github.com/rovshanmuradov/solana-copybot/internal/parser"
	"github.com/rovshanmuradov/solana-copybot/internal/storage"
	"github.com/rovshanmuradov/solana-copybot/internal/utils/metrics"
	"github.com/rovshanmuradov/solana-copybot/internal/wallet"
)

const (
	busBuffer             = 1024
	signatureWindow       = 4096
	licenseHeartbeatEvery = time.Hour
)

// Runner assembles the copy-trading pipeline and supervises it until a
// signal or a fatal error stops it.
type Runner struct {
	config *config.Config
	logger *zap.Logger
}

func NewRunner(cfg *config.Config, logger *zap.Logger) *Runner {
	return &Runner{config: cfg, logger: logger}
}

func (r *Runner) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := r.config
	policy := cfg.Trading

	validator, err := r.validateLicense(ctx)
	if err != nil {
		return fmt.Errorf("license validation failed: %w", err)
	}

	w, err := wallet.Load(cfg.Wallet.PrivateKey, cfg.Wallet.File, cfg.Wallet.Name)
	if err != nil {
		return fmt.Errorf("load wallet: %w", err)
	}
	r.logger.Info("👛 Wallet loaded", zap.String("address", w.String()))

	collector := metrics.NewCollector()

	client, err := solbc.NewClient(cfg.RPCList, r.logger)
	if err != nil {
		return fmt.Errorf("init rpc client: %w", err)
	}
	client.SetLatencyObserver(collector.RecordRPCLatency)
	r.logger.Info("🌐 RPC endpoints", zap.Strings("rpc", cfg.GetMaskedRPCList()))

	lpConfig, err := launchpad.NewConfig(cfg.Launchpad.ProgramID, cfg.Launchpad.GlobalConfig, cfg.Launchpad.PlatformConfig)
	if err != nil {
		return fmt.Errorf("launchpad config: %w", err)
	}
	codec := launchpad.NewCodec(lpConfig)
	pools := launchpad.NewPoolReader(codec, client, r.logger)

	shutdown := NewShutdownHandler(r.logger, defaultShutdownTimeout)

	bus := events.NewBus(r.logger, busBuffer)
	shutdown.AddFunc("event_bus", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return bus.Shutdown(ctx)
	})
	SubscribeLifecycleLog(bus, r.logger)

	journal, err := storage.OpenJournal(storage.Config{
		Dir:              cfg.Journal.Dir,
		SegmentThreshold: cfg.Journal.SegmentThreshold,
		MaxSegments:      cfg.Journal.MaxSegments,
		Sync:             cfg.Journal.Sync,
	}, r.logger)
	if err != nil {
		return err
	}
	shutdown.Add("journal", journal)

	signatures := execution.NewSignatureRegistry(signatureWindow)
	executor := execution.NewExecutor(execution.Config{
		MaxRetries:     policy.MaxRetries,
		RetryDelay:     policy.RetryDelay,
		RetryMaxDelay:  policy.RetryMaxDelay,
		AttemptTimeout: policy.AttemptTimeout,
		ConfirmTimeout: policy.ConfirmTimeout,
		ComputeUnits:   policy.ComputeUnits,
		PriorityFeeSOL: policy.PriorityFeeSOL,
		SkipPreflight:  policy.SkipPreflight,
	}, codec, pools, client, w, r.notifiers(bus), signatures, collector, r.logger)

	positions := monitor.NewManager(monitor.Policy{
		SellingTime:       policy.SellingTime,
		TakeProfitPercent: policy.TakeProfitPercent,
		StopLossPercent:   policy.StopLossPercent,
		PollInterval:      policy.PollInterval,
	}, pools, journal, collector, r.logger)
	recovered, err := positions.Recover()
	if err != nil {
		return fmt.Errorf("recover positions: %w", err)
	}
	if recovered > 0 {
		r.logger.Info(fmt.Sprintf("♻️ Recovered %d open positions", recovered))
	}

	engine := NewEngine(EngineConfigFrom(policy), executor, positions, bus, collector, r.logger)
	positions.OnExit(engine.StrategyExit)
	// registered last so it closes first: in-flight orders finish before the journal closes
	shutdown.AddFunc("engine", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		return engine.Close(ctx)
	})

	filter := feedFilter(codec.ProgramID(), policy)
	self := &eventlistener.SelfFilter{Wallet: w.PublicKey, Signatures: signatures}
	feed := eventlistener.NewMonitor(
		eventlistener.NewWSTransport(cfg.WebSocketURL, r.logger),
		filter,
		eventlistener.Config{
			ReconnectInitial: cfg.Monitor.ReconnectInitial,
			ReconnectMax:     cfg.Monitor.ReconnectMax,
			DedupWindow:      cfg.Monitor.DedupWindow,
			Buffer:           cfg.EventBuffer,
		},
		r.logger,
		eventlistener.WithSelfFilter(self),
		eventlistener.WithMetrics(collector),
		eventlistener.WithStateHook(func(from, to eventlistener.State) {
			_ = bus.Publish(events.NewMonitorStateChanged(from.String(), to.String()))
		}),
	)

	fetcher := eventlistener.NewRPCFetcher(client, cfg.Monitor.FetchTimeout, r.logger)
	trades := parser.New(codec, policy.Targets, collector, r.logger)
	workers := NewWorkerPool(fetcher, trades, self, engine.Handle, cfg.Workers, collector, r.logger)

	r.logger.Info("🚀 Copy trading started",
		zap.Int("targets", len(policy.Targets)),
		zap.Bool("multi_watch", policy.MultiWatch),
		zap.String("protocol", policy.Protocol),
		zap.Int("counter_limit", policy.CounterLimit),
		zap.String("buy_amount_sol", policy.BuyAmountSOL.String()),
		zap.Duration("selling_time", policy.SellingTime),
		zap.Int("workers", cfg.Workers))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return feed.Run(gctx) })
	g.Go(func() error { return workers.Run(gctx, feed.Out()) })
	g.Go(func() error { return positions.Run(gctx) })
	if cfg.MetricsAddr != "" {
		g.Go(func() error { return serveMetrics(gctx, collector, cfg.MetricsAddr, r.logger) })
	}
	if validator != nil {
		g.Go(func() error { return validator.RunHeartbeat(gctx, cfg.License, licenseHeartbeatEvery) })
	}

	runErr := g.Wait()
	if ctx.Err() != nil {
		r.logger.Info("📡 Shutdown signal received")
	}

	shutdownErr := shutdown.Shutdown(context.Background())
	r.logger.Info("👋 Bot stopped",
		zap.Int("copy_buys", engine.Executed()),
		zap.Int("open_positions", positions.Len()),
		zap.Uint64("dropped_envelopes", feed.Dropped()),
		zap.Uint64("pool_launches", trades.Initializes()))
	return errors.Join(runErr, shutdownErr)
}

// feedFilter subscribes to mentions of the targets only, in both watch modes.
// The stream keeps envelopes whose logs show the launchpad program.
func feedFilter(program solana.PublicKey, policy config.TradingPolicy) eventlistener.Filter {
	return eventlistener.Filter{Program: program, Accounts: policy.Targets}
}

// serveMetrics runs the metrics endpoint. A failed endpoint is logged and
// leaves the trading tasks running.
func serveMetrics(ctx context.Context, collector *metrics.Collector, addr string, logger *zap.Logger) error {
	if err := collector.Serve(ctx, addr, logger); err != nil {
		logger.Error("Metrics endpoint stopped", zap.String("addr", addr), zap.Error(err))
	}
	return nil
}

// notifiers fans each outcome out to the log, the bus and any configured sinks.
func (r *Runner) notifiers(bus *events.Bus) notify.Notifier {
	n := notify.Multi{notify.NewLogNotifier(r.logger), notify.NewBusNotifier(bus)}
	if url := r.config.Notify.WebhookURL; url != "" {
		n = append(n, notify.NewWebhookNotifier(url, nil))
	}
	if token := r.config.Notify.TelegramToken; token != "" {
		n = append(n, notify.NewTelegramNotifier(token, r.config.Notify.TelegramChatID, nil))
	}
	return n
}

// validateLicense uses Keygen when it is configured, otherwise a basic key check.
// The returned validator is nil in basic mode.
func (r *Runner) validateLicense(ctx context.Context) (*license.KeygenValidator, error) {
	k := r.config.Keygen
	if !k.Enabled() {
		if err := license.ValidateBasic(r.config.License); err != nil {
			return nil, err
		}
		r.logger.Info("✅ License validated (basic mode)")
		return nil, nil
	}

	r.logger.Info("🔑 Validating license with Keygen.sh")
	validator := license.NewKeygenValidator(k.AccountID, k.ProductToken, k.ProductID, r.logger)
	if err := validator.ValidateLicense(ctx, r.config.License); err != nil {
		return nil, fmt.Errorf("keygen validation failed: %w", err)
	}
	r.logger.Info("✅ License validated with Keygen.sh")
	return validator, nil
}
