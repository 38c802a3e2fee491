// internal/eventlistener/listener.go
package eventlistener

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-copybot/internal/utils/metrics"
)

const (
	defaultReconnectInitial = 500 * time.Millisecond
	defaultReconnectMax     = 30 * time.Second
	defaultBuffer           = 1024
	defaultDedupWindow      = 4096
)

// Config tunes reconnects and buffering of the monitor.
type Config struct {
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	DedupWindow      int
	Buffer           int
}

func (c Config) withDefaults() Config {
	if c.ReconnectInitial <= 0 {
		c.ReconnectInitial = defaultReconnectInitial
	}
	if c.ReconnectMax < c.ReconnectInitial {
		c.ReconnectMax = defaultReconnectMax
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = defaultDedupWindow
	}
	if c.Buffer <= 0 {
		c.Buffer = defaultBuffer
	}
	return c
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithSelfFilter drops transactions produced by this bot.
func WithSelfFilter(f *SelfFilter) Option {
	return func(m *Monitor) { m.self = f }
}

// WithMetrics records envelope and connection metrics.
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Monitor) { m.metrics = c }
}

// WithStateHook is called on every state transition.
func WithStateHook(fn func(from, to State)) Option {
	return func(m *Monitor) { m.onState = fn }
}

// Monitor keeps a subscription to the transaction feed alive and forwards
// validated envelopes to Out.
type Monitor struct {
	transport Transport
	filter    Filter
	cfg       Config
	self      *SelfFilter
	metrics   *metrics.Collector
	onState   func(from, to State)
	logger    *zap.Logger

	out      chan *Envelope
	state    atomic.Int32
	lastSlot atomic.Uint64
	recent   *recentSignatures

	dropped     atomic.Uint64
	regressions atomic.Uint64
}

func NewMonitor(transport Transport, filter Filter, cfg Config, logger *zap.Logger, opts ...Option) *Monitor {
	cfg = cfg.withDefaults()
	m := &Monitor{
		transport: transport,
		filter:    filter,
		cfg:       cfg,
		logger:    logger.Named("monitor"),
		out:       make(chan *Envelope, cfg.Buffer),
		recent:    newRecentSignatures(cfg.DedupWindow),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Out is closed when Run returns.
func (m *Monitor) Out() <-chan *Envelope { return m.out }

func (m *Monitor) State() State { return State(m.state.Load()) }

// Dropped returns the number of envelopes lost to a full buffer.
func (m *Monitor) Dropped() uint64 { return m.dropped.Load() }

// SlotRegressions returns how many envelopes arrived with a slot below the last seen one.
func (m *Monitor) SlotRegressions() uint64 { return m.regressions.Load() }

// Run reconnects until ctx is cancelled. Transport errors are logged and retried.
func (m *Monitor) Run(ctx context.Context) error {
	defer close(m.out)
	defer m.setState(StateDisconnected)

	schedule := backoff.NewExponentialBackOff()
	schedule.InitialInterval = m.cfg.ReconnectInitial
	schedule.MaxInterval = m.cfg.ReconnectMax
	schedule.RandomizationFactor = 0.3
	schedule.Reset()

	m.logger.Info("Transaction monitor started",
		zap.String("program", m.filter.Program.String()),
		zap.Int("mentions", len(m.filter.Mentions())))

	for {
		if ctx.Err() != nil {
			return nil
		}

		m.setState(StateConnecting)
		stream, err := m.transport.Subscribe(ctx, m.filter)
		if err == nil {
			m.setState(StateSubscribed)
			err = m.consume(ctx, stream, schedule)
			if cerr := stream.Close(); cerr != nil {
				m.logger.Debug("Stream close error", zap.Error(cerr))
			}
		}
		m.setState(StateDisconnected)
		if ctx.Err() != nil {
			return nil
		}

		delay := schedule.NextBackOff()
		m.metrics.Reconnect()
		m.logger.Warn("Feed disconnected, reconnecting",
			zap.Error(err),
			zap.Duration("delay", delay))

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (m *Monitor) consume(ctx context.Context, stream Stream, schedule *backoff.ExponentialBackOff) error {
	for {
		env, err := stream.Recv(ctx)
		if err != nil {
			return err
		}
		if env == nil {
			return errors.New("stream closed")
		}
		if m.State() != StateStreaming {
			m.setState(StateStreaming)
			schedule.Reset()
		}
		m.accept(env)
	}
}

func (m *Monitor) accept(env *Envelope) {
	m.metrics.EnvelopeReceived("feed")

	switch {
	case env.Signature.IsZero() || env.Slot == 0:
		m.drop("invalid", env)
		return
	case env.Failed():
		m.drop("failed", env)
		return
	case m.self.Own(env):
		m.drop("self", env)
		return
	case !m.recent.Add(env.Signature):
		m.drop("duplicate", env)
		return
	}

	if last := m.lastSlot.Load(); env.Slot < last {
		m.regressions.Add(1)
		m.logger.Debug("Slot regression",
			zap.Uint64("slot", env.Slot),
			zap.Uint64("last_slot", last))
	} else {
		m.lastSlot.Store(env.Slot)
	}

	if env.ReceivedAt.IsZero() {
		env.ReceivedAt = time.Now()
	}

	select {
	case m.out <- env:
	default:
		m.dropped.Add(1)
		m.drop("buffer_full", env)
	}
}

func (m *Monitor) drop(reason string, env *Envelope) {
	m.metrics.EnvelopeDropped(reason)
	if reason == "buffer_full" {
		m.logger.Warn("Envelope buffer full, dropping", zap.String("signature", env.Signature.String()))
	}
}

func (m *Monitor) setState(to State) {
	from := State(m.state.Swap(int32(to)))
	if from == to {
		return
	}
	m.metrics.SetMonitorState(int(to))
	m.logger.Debug("Monitor state changed",
		zap.Stringer("from", from),
		zap.Stringer("to", to))
	if m.onState != nil {
		m.onState(from, to)
	}
}
