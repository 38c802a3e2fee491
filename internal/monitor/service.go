// internal/monitor/service.go
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-copybot/internal/domain"
	"github.com/rovshanmuradov/solana-copybot/internal/utils/metrics"
)

const defaultPollInterval = time.Second

// ErrPositionExists is returned by Open for a token that already has a position.
var ErrPositionExists = errors.New("position already exists")

// Journal persists position lifecycle records.
type Journal interface {
	RecordOpen(p domain.Position) error
	RecordClose(token solana.PublicKey, signature solana.Signature) error
	Recover() ([]domain.Position, error)
}

// ExitHandler is called once for every position the strategy moves to
// PendingExit. It must not block the poll loop.
type ExitHandler func(ctx context.Context, p domain.Position, trigger Trigger)

// Manager owns the set of open positions. Every state change goes through
// its mutex, so at most one exit can be pending per token.
type Manager struct {
	mu        sync.Mutex
	positions map[solana.PublicKey]*domain.Position

	policy  Policy
	prices  PriceLookup
	journal Journal
	onExit  ExitHandler
	metrics *metrics.Collector
	logger  *zap.Logger
	now     func() time.Time
}

// NewManager creates a manager. prices, journal and collector may be nil.
func NewManager(policy Policy, prices PriceLookup, journal Journal, collector *metrics.Collector, logger *zap.Logger) *Manager {
	if policy.PollInterval <= 0 {
		policy.PollInterval = defaultPollInterval
	}
	return &Manager{
		positions: make(map[solana.PublicKey]*domain.Position),
		policy:    policy,
		prices:    prices,
		journal:   journal,
		metrics:   collector,
		logger:    logger.Named("positions"),
		now:       time.Now,
	}
}

// OnExit registers the handler for strategy exits.
func (m *Manager) OnExit(fn ExitHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExit = fn
}

// Open registers a new position in state Open.
func (m *Manager) Open(p domain.Position) error {
	m.mu.Lock()
	if _, ok := m.positions[p.Token]; ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPositionExists, p.Token)
	}
	p.State = domain.PositionOpen
	m.positions[p.Token] = &p
	n := len(m.positions)
	m.mu.Unlock()

	m.metrics.SetOpenPositions(n)
	if m.journal != nil {
		if err := m.journal.RecordOpen(p); err != nil {
			m.logger.Error("Failed to journal position", zap.String("token", p.Token.String()), zap.Error(err))
		}
	}

	m.logger.Info("📈 Position opened",
		zap.String("token", p.Token.String()),
		zap.String("entry_price", p.EntryPrice.String()),
		zap.Uint64("amount", p.EntryAmount),
		zap.Int("counter", p.CounterIndex))
	return nil
}

// RequestExit moves an Open position to PendingExit. It returns false when
// the position is missing or already exiting.
func (m *Manager) RequestExit(token solana.PublicKey, origin domain.Origin) (domain.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.positions[token]
	if !ok || p.State != domain.PositionOpen {
		return domain.Position{}, false
	}
	p.State = domain.PositionPendingExit
	m.logger.Debug("Exit requested",
		zap.String("token", token.String()),
		zap.String("origin", origin.String()))
	return *p, true
}

// CompleteExit resolves a PendingExit position. A settled outcome closes and
// removes it; anything else returns it to Open for a later attempt.
func (m *Manager) CompleteExit(token solana.PublicKey, outcome domain.ExecutionOutcome) (domain.Position, bool) {
	m.mu.Lock()
	p, ok := m.positions[token]
	if !ok || p.State != domain.PositionPendingExit {
		m.mu.Unlock()
		return domain.Position{}, false
	}

	if !outcome.Settled() {
		p.State = domain.PositionOpen
		snapshot := *p
		m.mu.Unlock()
		m.logger.Warn("Exit failed, position reopened",
			zap.String("token", token.String()),
			zap.String("kind", outcome.Kind.String()),
			zap.Error(outcome.Err))
		return snapshot, true
	}

	p.State = domain.PositionClosed
	snapshot := *p
	delete(m.positions, token)
	n := len(m.positions)
	m.mu.Unlock()

	m.metrics.SetOpenPositions(n)
	if m.journal != nil {
		if err := m.journal.RecordClose(token, outcome.Signature); err != nil {
			m.logger.Error("Failed to journal close", zap.String("token", token.String()), zap.Error(err))
		}
	}

	fields := []zap.Field{
		zap.String("token", token.String()),
		zap.String("signature", outcome.Signature.String()),
	}
	if outcome.Succeeded() && outcome.FillPrice.IsPositive() {
		pnl := CalculatePnL(snapshot, outcome.FillPrice)
		fields = append(fields,
			zap.String("return_pct", pnl.PnLPercentage.StringFixed(2)),
			zap.String("net_sol", pnl.NetPnL.StringFixed(6)))
	}
	m.logger.Info("📉 Position closed", fields...)
	return snapshot, true
}

// Get returns a copy of the position for token.
func (m *Manager) Get(token solana.PublicKey) (domain.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[token]
	if !ok {
		return domain.Position{}, false
	}
	return *p, true
}

// Has reports whether token has a position in any state.
func (m *Manager) Has(token solana.PublicKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.positions[token]
	return ok
}

// Snapshot returns copies of all positions ordered by entry time.
func (m *Manager) Snapshot() []domain.Position {
	m.mu.Lock()
	out := make([]domain.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, *p)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].EntryTime.Before(out[j].EntryTime) })
	return out
}

// Len returns the number of tracked positions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.positions)
}

// Recover loads positions from the journal. It must run before Run.
func (m *Manager) Recover() (int, error) {
	if m.journal == nil {
		return 0, nil
	}
	positions, err := m.journal.Recover()
	if err != nil {
		return 0, fmt.Errorf("recover positions: %w", err)
	}

	m.mu.Lock()
	for i := range positions {
		p := positions[i]
		p.State = domain.PositionOpen
		m.positions[p.Token] = &p
	}
	n := len(m.positions)
	m.mu.Unlock()

	m.metrics.SetOpenPositions(n)
	return len(positions), nil
}

// Run evaluates exit triggers every poll interval until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.policy.PollInterval)
	defer ticker.Stop()

	m.logger.Info("Position manager started",
		zap.Duration("poll_interval", m.policy.PollInterval),
		zap.Duration("selling_time", m.policy.SellingTime),
		zap.String("take_profit_pct", m.policy.TakeProfitPercent.String()),
		zap.String("stop_loss_pct", m.policy.StopLossPercent.String()))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick runs one evaluation pass and returns the number of exits requested.
func (m *Manager) Tick(ctx context.Context) int {
	now := m.now()
	m.mu.Lock()
	handler := m.onExit
	m.mu.Unlock()

	exits := 0
	for _, p := range m.Snapshot() {
		if p.State != domain.PositionOpen {
			continue
		}
		trigger, fire := m.evaluate(ctx, p, now)
		if !fire {
			continue
		}
		pos, ok := m.RequestExit(p.Token, domain.OriginStrategyExit)
		if !ok {
			continue
		}

		exits++
		m.metrics.StrategyExit(string(trigger))
		m.logger.Info("⏰ Exit triggered",
			zap.String("token", p.Token.String()),
			zap.String("trigger", string(trigger)),
			zap.Duration("age", p.Age(now)))
		if handler != nil {
			handler(ctx, pos, trigger)
		}
	}
	return exits
}
