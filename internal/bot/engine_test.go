package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/solana-copybot/internal/config"
	"github.com/rovshanmuradov/solana-copybot/internal/domain"
	"github.com/rovshanmuradov/solana-copybot/internal/events"
	"github.com/rovshanmuradov/solana-copybot/internal/monitor"
	"github.com/rovshanmuradov/solana-copybot/internal/parser"
)

type fakeExecutor struct {
	mu     sync.Mutex
	orders []domain.TradeOrder
	// gate, when set, blocks every Execute until it is closed
	gate chan struct{}
	// fail maps a direction to the failure kind its orders end with
	fail map[domain.Direction]domain.FailureKind
}

func (f *fakeExecutor) Execute(_ context.Context, order domain.TradeOrder) domain.ExecutionOutcome {
	f.mu.Lock()
	f.orders = append(f.orders, order)
	n := len(f.orders)
	gate := f.gate
	kind, failed := f.fail[order.Direction]
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if failed {
		return domain.ExecutionOutcome{
			Order:    order,
			Status:   domain.StatusFailed,
			Kind:     kind,
			Attempts: 3,
			Err:      errors.New("boom"),
		}
	}
	return domain.ExecutionOutcome{
		Order:        order,
		Status:       domain.StatusSuccess,
		Signature:    solana.Signature{byte(n)},
		FillPrice:    decimal.RequireFromString("0.000001"),
		FilledAmount: 1_000_000,
		Attempts:     1,
	}
}

func (f *fakeExecutor) setFail(dir domain.Direction, kind domain.FailureKind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail == nil {
		f.fail = map[domain.Direction]domain.FailureKind{}
	}
	f.fail[dir] = kind
}

func (f *fakeExecutor) ordersFor(dir domain.Direction) []domain.TradeOrder {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.TradeOrder
	for _, o := range f.orders {
		if o.Direction == dir {
			out = append(out, o)
		}
	}
	return out
}

type engineHarness struct {
	engine    *Engine
	exec      *fakeExecutor
	positions *monitor.Manager
}

func newEngineHarness(t *testing.T, cfg EngineConfig, policy monitor.Policy) *engineHarness {
	t.Helper()
	log := zaptest.NewLogger(t)
	exec := &fakeExecutor{}
	positions := monitor.NewManager(policy, nil, nil, nil, log)
	engine := NewEngine(cfg, exec, positions, nil, nil, log)
	positions.OnExit(engine.StrategyExit)
	return &engineHarness{engine: engine, exec: exec, positions: positions}
}

// idle waits for every order dispatched so far.
func (h *engineHarness) idle() {
	h.engine.wg.Wait()
}

func defaultEngineConfig() EngineConfig {
	return EngineConfig{
		CounterLimit:      5,
		BuyAmountLamports: 100_000_000,
		SlippageBps:       500,
		Protocol:          config.ProtocolAuto,
	}
}

var (
	targetA = solana.MustPublicKeyFromBase58("7YttLkHDoNj9wyDur5pM1ejNaAvT9X4eqaYcHQqtj2G5")
	targetB = solana.MustPublicKeyFromBase58("9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM")
)

func trade(dir domain.Direction, source, token solana.PublicKey) domain.TradeEvent {
	return domain.TradeEvent{
		Source:      source,
		Token:       token,
		Direction:   dir,
		BaseAmount:  5_000_000,
		QuoteAmount: 2_000_000_000,
		Slot:        100,
		Protocol:    parser.Protocol,
		ObservedAt:  time.Now(),
	}
}

func TestEngineBuyOpensPosition(t *testing.T) {
	h := newEngineHarness(t, defaultEngineConfig(), monitor.Policy{SellingTime: time.Hour})
	token := solana.NewWallet().PublicKey()

	require.Equal(t, RejectNone, h.engine.Handle(context.Background(), trade(domain.DirectionBuy, targetA, token)))
	h.idle()

	p, ok := h.positions.Get(token)
	require.True(t, ok)
	assert.Equal(t, targetA, p.Source)
	assert.Equal(t, 1, p.CounterIndex)
	assert.Equal(t, domain.OriginCopyTrade, p.Origin)
	assert.Equal(t, uint64(1_000_000), p.EntryAmount)
	assert.Equal(t, uint64(100_000_000), p.EntryCost)
	assert.True(t, p.EntryPrice.Equal(decimal.RequireFromString("0.000001")))
	assert.Equal(t, 1, h.engine.Executed())

	buys := h.exec.ordersFor(domain.DirectionBuy)
	require.Len(t, buys, 1)
	assert.Equal(t, uint64(100_000_000), buys[0].Amount)
	assert.Equal(t, uint64(500), buys[0].MaxSlippageBps)
}

func TestEngineCounterLimitCountsInFlightBuys(t *testing.T) {
	cfg := defaultEngineConfig()
	cfg.CounterLimit = 1
	h := newEngineHarness(t, cfg, monitor.Policy{SellingTime: time.Hour})
	h.exec.gate = make(chan struct{})

	ctx := context.Background()
	assert.Equal(t, RejectNone, h.engine.Handle(ctx, trade(domain.DirectionBuy, targetA, solana.NewWallet().PublicKey())))
	assert.Equal(t, RejectCounterLimit, h.engine.Handle(ctx, trade(domain.DirectionBuy, targetA, solana.NewWallet().PublicKey())))

	close(h.exec.gate)
	h.idle()
	assert.Equal(t, 1, h.engine.Executed())
	assert.Equal(t, RejectCounterLimit, h.engine.Handle(ctx, trade(domain.DirectionBuy, targetB, solana.NewWallet().PublicKey())))
	assert.Len(t, h.exec.ordersFor(domain.DirectionBuy), 1)
}

func TestEngineFailedBuyReleasesReservation(t *testing.T) {
	cfg := defaultEngineConfig()
	cfg.CounterLimit = 1
	h := newEngineHarness(t, cfg, monitor.Policy{SellingTime: time.Hour})
	h.exec.setFail(domain.DirectionBuy, domain.FailureFatal)
	token := solana.NewWallet().PublicKey()

	ctx := context.Background()
	require.Equal(t, RejectNone, h.engine.Handle(ctx, trade(domain.DirectionBuy, targetA, token)))
	h.idle()
	assert.Equal(t, 0, h.engine.Executed())
	assert.False(t, h.positions.Has(token))

	// a later trade may still use the slot
	assert.Equal(t, RejectNone, h.engine.Handle(ctx, trade(domain.DirectionBuy, targetA, token)))
	h.idle()
}

func TestEngineRejectsDuplicateBuy(t *testing.T) {
	h := newEngineHarness(t, defaultEngineConfig(), monitor.Policy{SellingTime: time.Hour})
	h.exec.gate = make(chan struct{})
	token := solana.NewWallet().PublicKey()
	ctx := context.Background()

	require.Equal(t, RejectNone, h.engine.Handle(ctx, trade(domain.DirectionBuy, targetA, token)))
	// in flight
	assert.Equal(t, RejectPositionExists, h.engine.Handle(ctx, trade(domain.DirectionBuy, targetB, token)))

	close(h.exec.gate)
	h.idle()
	// open
	assert.Equal(t, RejectPositionExists, h.engine.Handle(ctx, trade(domain.DirectionBuy, targetA, token)))
	assert.Len(t, h.exec.ordersFor(domain.DirectionBuy), 1)
}

func TestEngineNoSecondBuyWhileFirstCompletes(t *testing.T) {
	cfg := defaultEngineConfig()
	cfg.CounterLimit = 1000
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		h := newEngineHarness(t, cfg, monitor.Policy{SellingTime: time.Hour})
		token := solana.NewWallet().PublicKey()

		require.Equal(t, RejectNone, h.engine.Handle(ctx, trade(domain.DirectionBuy, targetA, token)))
		for !h.positions.Has(token) {
			h.engine.Handle(ctx, trade(domain.DirectionBuy, targetA, token))
		}
		h.idle()

		require.Len(t, h.exec.ordersFor(domain.DirectionBuy), 1, "iteration %d", i)
		require.Equal(t, 1, h.engine.Executed(), "iteration %d", i)
	}
}

func TestEngineProtocolPreference(t *testing.T) {
	cfg := defaultEngineConfig()
	cfg.Protocol = config.ProtocolLaunchLab
	h := newEngineHarness(t, cfg, monitor.Policy{SellingTime: time.Hour})

	ev := trade(domain.DirectionBuy, targetA, solana.NewWallet().PublicKey())
	ev.Protocol = "pumpfun"
	assert.Equal(t, RejectProtocolMismatch, h.engine.Handle(context.Background(), ev))

	ev.Protocol = parser.Protocol
	assert.Equal(t, RejectNone, h.engine.Handle(context.Background(), ev))
	h.idle()
}

func TestEngineMirrorsSell(t *testing.T) {
	h := newEngineHarness(t, defaultEngineConfig(), monitor.Policy{SellingTime: time.Hour})
	token := solana.NewWallet().PublicKey()
	ctx := context.Background()

	require.Equal(t, RejectNone, h.engine.Handle(ctx, trade(domain.DirectionBuy, targetA, token)))
	h.idle()

	assert.Equal(t, RejectNoPosition, h.engine.Handle(ctx, trade(domain.DirectionSell, targetB, token)))
	assert.Equal(t, RejectNoPosition, h.engine.Handle(ctx, trade(domain.DirectionSell, targetA, solana.NewWallet().PublicKey())))

	require.Equal(t, RejectNone, h.engine.Handle(ctx, trade(domain.DirectionSell, targetA, token)))
	h.idle()

	assert.False(t, h.positions.Has(token))
	sells := h.exec.ordersFor(domain.DirectionSell)
	require.Len(t, sells, 1)
	assert.Equal(t, domain.OriginCopyTrade, sells[0].Origin)
	assert.Equal(t, uint64(1_000_000), sells[0].Amount)

	// sells do not free the counter
	assert.Equal(t, 1, h.engine.Executed())
}

func TestEngineMirrorAndStrategyExitSellOnce(t *testing.T) {
	h := newEngineHarness(t, defaultEngineConfig(), monitor.Policy{SellingTime: time.Nanosecond})
	token := solana.NewWallet().PublicKey()
	ctx := context.Background()

	require.Equal(t, RejectNone, h.engine.Handle(ctx, trade(domain.DirectionBuy, targetA, token)))
	h.idle()

	h.exec.mu.Lock()
	h.exec.gate = make(chan struct{})
	h.exec.mu.Unlock()

	time.Sleep(time.Millisecond)
	require.Equal(t, 1, h.positions.Tick(ctx))
	assert.Equal(t, RejectExitPending, h.engine.Handle(ctx, trade(domain.DirectionSell, targetA, token)))
	assert.Equal(t, 0, h.positions.Tick(ctx))

	close(h.exec.gate)
	h.idle()

	sells := h.exec.ordersFor(domain.DirectionSell)
	require.Len(t, sells, 1)
	assert.Equal(t, domain.OriginStrategyExit, sells[0].Origin)
	assert.False(t, h.positions.Has(token))
}

func TestEngineFailedSellReopensPosition(t *testing.T) {
	h := newEngineHarness(t, defaultEngineConfig(), monitor.Policy{SellingTime: time.Hour})
	token := solana.NewWallet().PublicKey()
	ctx := context.Background()

	require.Equal(t, RejectNone, h.engine.Handle(ctx, trade(domain.DirectionBuy, targetA, token)))
	h.idle()

	h.exec.setFail(domain.DirectionSell, domain.FailureTransient)
	require.Equal(t, RejectNone, h.engine.Handle(ctx, trade(domain.DirectionSell, targetA, token)))
	h.idle()

	p, ok := h.positions.Get(token)
	require.True(t, ok)
	assert.Equal(t, domain.PositionOpen, p.State)

	h.exec.setFail(domain.DirectionSell, domain.FailureAlreadyClosed)
	require.Equal(t, RejectNone, h.engine.Handle(ctx, trade(domain.DirectionSell, targetA, token)))
	h.idle()
	assert.False(t, h.positions.Has(token))
}

func TestEngineCloseStopsNewOrders(t *testing.T) {
	h := newEngineHarness(t, defaultEngineConfig(), monitor.Policy{SellingTime: time.Nanosecond})
	token := solana.NewWallet().PublicKey()
	ctx := context.Background()

	require.Equal(t, RejectNone, h.engine.Handle(ctx, trade(domain.DirectionBuy, targetA, token)))
	require.NoError(t, h.engine.Close(ctx))
	assert.True(t, h.positions.Has(token))

	assert.Equal(t, RejectShuttingDown, h.engine.Handle(ctx, trade(domain.DirectionBuy, targetA, solana.NewWallet().PublicKey())))
	assert.Equal(t, RejectShuttingDown, h.engine.Handle(ctx, trade(domain.DirectionSell, targetA, token)))

	// a strategy exit after close hands the position back
	time.Sleep(time.Millisecond)
	h.positions.Tick(ctx)
	p, ok := h.positions.Get(token)
	require.True(t, ok)
	assert.Equal(t, domain.PositionOpen, p.State)
	assert.Empty(t, h.exec.ordersFor(domain.DirectionSell))
}

func TestEngineCloseHonoursContext(t *testing.T) {
	h := newEngineHarness(t, defaultEngineConfig(), monitor.Policy{SellingTime: time.Hour})
	h.exec.gate = make(chan struct{})
	defer close(h.exec.gate)

	require.Equal(t, RejectNone, h.engine.Handle(context.Background(), trade(domain.DirectionBuy, targetA, solana.NewWallet().PublicKey())))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.engine.Close(ctx), context.DeadlineExceeded)
}

func TestEnginePublishesLifecycleEvents(t *testing.T) {
	log := zaptest.NewLogger(t)
	bus := events.NewBus(log, 64)
	defer bus.Shutdown(context.Background())

	var mu sync.Mutex
	seen := map[events.EventType]int{}
	bus.SubscribeFunc(func(_ context.Context, e events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		seen[e.Type()]++
		return nil
	}, events.TradeDetected, events.PolicyRejected, events.PositionOpened)

	positions := monitor.NewManager(monitor.Policy{SellingTime: time.Hour}, nil, nil, nil, log)
	engine := NewEngine(defaultEngineConfig(), &fakeExecutor{}, positions, bus, nil, log)

	token := solana.NewWallet().PublicKey()
	engine.Handle(context.Background(), trade(domain.DirectionBuy, targetA, token))
	engine.wg.Wait()
	engine.Handle(context.Background(), trade(domain.DirectionBuy, targetA, token))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen[events.TradeDetected] == 2 && seen[events.PositionOpened] == 1 && seen[events.PolicyRejected] == 1
	}, time.Second, 5*time.Millisecond)
}
