// internal/monitor/service_test.go
package monitor

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

	"github.com/rovshanmuradov/solana-copybot/internal/domain"
)

type stubPrices struct {
	mu     sync.Mutex
	prices map[solana.PublicKey]decimal.Decimal
	err    error
}

func (s *stubPrices) MarkPrice(_ context.Context, token solana.PublicKey) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return decimal.Zero, s.err
	}
	p, ok := s.prices[token]
	if !ok {
		return decimal.Zero, errors.New("no price")
	}
	return p, nil
}

type memJournal struct {
	mu     sync.Mutex
	open   map[solana.PublicKey]domain.Position
	closed []solana.PublicKey
}

func newMemJournal() *memJournal {
	return &memJournal{open: map[solana.PublicKey]domain.Position{}}
}

func (j *memJournal) RecordOpen(p domain.Position) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.open[p.Token] = p
	return nil
}

func (j *memJournal) RecordClose(token solana.PublicKey, _ solana.Signature) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.open, token)
	j.closed = append(j.closed, token)
	return nil
}

func (j *memJournal) Recover() ([]domain.Position, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []domain.Position
	for _, p := range j.open {
		out = append(out, p)
	}
	return out, nil
}

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func openPosition(t *testing.T, m *Manager, entry string) domain.Position {
	t.Helper()
	p, err := domain.NewPosition(solana.NewWallet().PublicKey(), decimal.RequireFromString(entry), 1_000_000, t0)
	require.NoError(t, err)
	p.EntryCost = 100_000_000
	require.NoError(t, m.Open(*p))
	return *p
}

func newManager(t *testing.T, policy Policy, prices PriceLookup, journal Journal) *Manager {
	m := NewManager(policy, prices, journal, nil, zaptest.NewLogger(t))
	m.now = func() time.Time { return t0 }
	return m
}

func success() domain.ExecutionOutcome {
	return domain.ExecutionOutcome{Status: domain.StatusSuccess, Signature: solana.Signature{1}, FillPrice: decimal.RequireFromString("0.0002")}
}

func TestOpenRejectsDuplicate(t *testing.T) {
	m := newManager(t, Policy{}, nil, nil)
	p := openPosition(t, m, "0.0001")

	err := m.Open(p)
	assert.ErrorIs(t, err, ErrPositionExists)
	assert.Equal(t, 1, m.Len())
	assert.True(t, m.Has(p.Token))
}

func TestRequestExitIsExclusive(t *testing.T) {
	m := newManager(t, Policy{}, nil, nil)
	p := openPosition(t, m, "0.0001")

	got, ok := m.RequestExit(p.Token, domain.OriginCopyTrade)
	require.True(t, ok)
	assert.Equal(t, domain.PositionPendingExit, got.State)

	_, ok = m.RequestExit(p.Token, domain.OriginStrategyExit)
	assert.False(t, ok, "second exit must lose")

	_, ok = m.RequestExit(solana.NewWallet().PublicKey(), domain.OriginStrategyExit)
	assert.False(t, ok)
}

func TestCompleteExitTransitions(t *testing.T) {
	journal := newMemJournal()
	m := newManager(t, Policy{}, nil, journal)
	p := openPosition(t, m, "0.0001")

	_, ok := m.CompleteExit(p.Token, success())
	assert.False(t, ok, "only pending exits can complete")

	_, ok = m.RequestExit(p.Token, domain.OriginStrategyExit)
	require.True(t, ok)
	reopened, ok := m.CompleteExit(p.Token, domain.ExecutionOutcome{Status: domain.StatusFailed, Kind: domain.FailureTransient})
	require.True(t, ok)
	assert.Equal(t, domain.PositionOpen, reopened.State)

	_, ok = m.RequestExit(p.Token, domain.OriginStrategyExit)
	require.True(t, ok)
	closed, ok := m.CompleteExit(p.Token, success())
	require.True(t, ok)
	assert.Equal(t, domain.PositionClosed, closed.State)
	assert.False(t, m.Has(p.Token))
	assert.Equal(t, []solana.PublicKey{p.Token}, journal.closed)
}

func TestCompleteExitAlreadyClosed(t *testing.T) {
	m := newManager(t, Policy{}, nil, nil)
	p := openPosition(t, m, "0.0001")

	_, ok := m.RequestExit(p.Token, domain.OriginCopyTrade)
	require.True(t, ok)
	closed, ok := m.CompleteExit(p.Token, domain.ExecutionOutcome{Status: domain.StatusFailed, Kind: domain.FailureAlreadyClosed})
	require.True(t, ok)
	assert.Equal(t, domain.PositionClosed, closed.State)
	assert.Zero(t, m.Len())
}

func TestTickTriggers(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		entryAt time.Time
		mark    string
		want    Trigger
	}{
		{"selling time", Policy{SellingTime: time.Minute}, t0.Add(-time.Minute), "0.0001", TriggerTime},
		{"take profit", Policy{TakeProfitPercent: decimal.NewFromInt(50)}, t0, "0.00015", TriggerTakeProfit},
		{"stop loss", Policy{StopLossPercent: decimal.NewFromInt(20)}, t0, "0.00008", TriggerStopLoss},
		{"inside band", Policy{TakeProfitPercent: decimal.NewFromInt(50), StopLossPercent: decimal.NewFromInt(20)}, t0, "0.00011", ""},
		{"not old enough", Policy{SellingTime: time.Minute}, t0.Add(-30 * time.Second), "0.0001", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prices := &stubPrices{prices: map[solana.PublicKey]decimal.Decimal{}}
			m := newManager(t, tt.policy, prices, nil)

			p, err := domain.NewPosition(solana.NewWallet().PublicKey(), decimal.RequireFromString("0.0001"), 1_000_000, tt.entryAt)
			require.NoError(t, err)
			require.NoError(t, m.Open(*p))
			prices.prices[p.Token] = decimal.RequireFromString(tt.mark)

			var fired []Trigger
			m.OnExit(func(_ context.Context, pos domain.Position, trigger Trigger) {
				assert.Equal(t, domain.PositionPendingExit, pos.State)
				fired = append(fired, trigger)
			})

			m.Tick(context.Background())
			m.Tick(context.Background())

			if tt.want == "" {
				assert.Empty(t, fired)
				return
			}
			assert.Equal(t, []Trigger{tt.want}, fired, "one exit per position")
		})
	}
}

func TestTickPriceFailureKeepsTimeTrigger(t *testing.T) {
	prices := &stubPrices{err: errors.New("rpc down")}
	m := newManager(t, Policy{SellingTime: time.Minute, StopLossPercent: decimal.NewFromInt(10)}, prices, nil)

	young := openPosition(t, m, "0.0001")
	old, err := domain.NewPosition(solana.NewWallet().PublicKey(), decimal.RequireFromString("0.0001"), 1, t0.Add(-2*time.Minute))
	require.NoError(t, err)
	require.NoError(t, m.Open(*old))

	var fired []solana.PublicKey
	m.OnExit(func(_ context.Context, pos domain.Position, _ Trigger) { fired = append(fired, pos.Token) })

	assert.Equal(t, 1, m.Tick(context.Background()))
	assert.Equal(t, []solana.PublicKey{old.Token}, fired)
	got, _ := m.Get(young.Token)
	assert.Equal(t, domain.PositionOpen, got.State)
}

func TestTickSkipsPendingExit(t *testing.T) {
	m := newManager(t, Policy{SellingTime: time.Second}, nil, nil)
	p := openPosition(t, m, "0.0001")
	_, ok := m.RequestExit(p.Token, domain.OriginCopyTrade)
	require.True(t, ok)

	assert.Zero(t, m.Tick(context.Background()))
}

func TestRecoverFromJournal(t *testing.T) {
	journal := newMemJournal()
	first := newManager(t, Policy{}, nil, journal)
	a := openPosition(t, first, "0.0001")
	b := openPosition(t, first, "0.0002")
	_, ok := first.RequestExit(b.Token, domain.OriginStrategyExit)
	require.True(t, ok)
	_, ok = first.CompleteExit(b.Token, success())
	require.True(t, ok)

	second := newManager(t, Policy{}, nil, journal)
	n, err := second.Recover()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got, ok := second.Get(a.Token)
	require.True(t, ok)
	assert.Equal(t, domain.PositionOpen, got.State)
	assert.False(t, second.Has(b.Token))
}

func TestRunStopsOnCancel(t *testing.T) {
	m := newManager(t, Policy{PollInterval: time.Millisecond}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestCalculatePnL(t *testing.T) {
	p := domain.Position{EntryPrice: decimal.RequireFromString("0.0001"), EntryCost: 500_000_000}

	pnl := CalculatePnL(p, decimal.RequireFromString("0.00015"))

	assert.True(t, decimal.RequireFromString("0.5").Equal(pnl.InitialInvestment), pnl.InitialInvestment.String())
	assert.True(t, decimal.RequireFromString("0.75").Equal(pnl.CurrentValue), pnl.CurrentValue.String())
	assert.True(t, decimal.RequireFromString("0.25").Equal(pnl.NetPnL), pnl.NetPnL.String())
	assert.True(t, decimal.NewFromInt(50).Equal(pnl.PnLPercentage), pnl.PnLPercentage.String())
}
