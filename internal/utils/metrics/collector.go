// internal/utils/metrics/collector.go
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "solana_copybot"

// Collector владеет собственным реестром метрик.
// Все методы безопасны для nil-получателя, что позволяет отключать метрики.
type Collector struct {
	registry *prometheus.Registry

	envelopes        *prometheus.CounterVec
	dropped          *prometheus.CounterVec
	monitorState     prometheus.Gauge
	reconnects       prometheus.Counter
	tradeEvents      *prometheus.CounterVec
	rejections       *prometheus.CounterVec
	executions       *prometheus.CounterVec
	executionLatency *prometheus.HistogramVec
	attempts         prometheus.Histogram
	openPositions    prometheus.Gauge
	strategyExits    *prometheus.CounterVec
	rpcLatency       *prometheus.HistogramVec
}

// NewCollector создает новый экземпляр коллектора метрик
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		envelopes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_total",
			Help:      "Transaction envelopes received from the feed",
		}, []string{"stage"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_dropped_total",
			Help:      "Envelopes dropped before parsing",
		}, []string{"reason"}),
		monitorState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "monitor_state",
			Help:      "Transaction monitor state (0 disconnected, 1 connecting, 2 subscribed, 3 streaming)",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitor_reconnects_total",
			Help:      "Feed reconnect attempts",
		}),
		tradeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trade_events_total",
			Help:      "Trade events detected for target accounts",
		}, []string{"direction"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_rejections_total",
			Help:      "Trade events rejected by the copy-trade policy",
		}, []string{"reason"}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Terminal execution outcomes",
		}, []string{"direction", "origin", "status", "kind"}),
		executionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Order execution duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"direction"}),
		attempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_attempts",
			Help:      "Attempts used per order",
			Buckets:   prometheus.LinearBuckets(1, 1, 6),
		}),
		openPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_positions",
			Help:      "Positions currently open or pending exit",
		}),
		strategyExits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "strategy_exits_total",
			Help:      "Exit requests emitted by the selling strategy",
		}, []string{"trigger"}),
		rpcLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rpc_latency_seconds",
			Help:      "RPC request latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"method", "status"}),
	}

	c.registry.MustRegister(
		c.envelopes, c.dropped, c.monitorState, c.reconnects,
		c.tradeEvents, c.rejections, c.executions, c.executionLatency,
		c.attempts, c.openPositions, c.strategyExits, c.rpcLatency,
	)
	return c
}

// Registry возвращает реестр для HTTP-экспорта и тестов
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) EnvelopeReceived(stage string) {
	if c == nil {
		return
	}
	c.envelopes.WithLabelValues(stage).Inc()
}

func (c *Collector) EnvelopeDropped(reason string) {
	if c == nil {
		return
	}
	c.dropped.WithLabelValues(reason).Inc()
}

func (c *Collector) SetMonitorState(state int) {
	if c == nil {
		return
	}
	c.monitorState.Set(float64(state))
}

func (c *Collector) Reconnect() {
	if c == nil {
		return
	}
	c.reconnects.Inc()
}

func (c *Collector) TradeEvent(direction string) {
	if c == nil {
		return
	}
	c.tradeEvents.WithLabelValues(direction).Inc()
}

func (c *Collector) PolicyRejection(reason string) {
	if c == nil {
		return
	}
	c.rejections.WithLabelValues(reason).Inc()
}

// RecordExecution записывает итог исполнения ордера
func (c *Collector) RecordExecution(direction, origin, status, kind string, attempts int, duration time.Duration) {
	if c == nil {
		return
	}
	c.executions.WithLabelValues(direction, origin, status, kind).Inc()
	c.executionLatency.WithLabelValues(direction).Observe(duration.Seconds())
	c.attempts.Observe(float64(attempts))
}

func (c *Collector) SetOpenPositions(n int) {
	if c == nil {
		return
	}
	c.openPositions.Set(float64(n))
}

func (c *Collector) StrategyExit(trigger string) {
	if c == nil {
		return
	}
	c.strategyExits.WithLabelValues(trigger).Inc()
}

// RecordRPCLatency записывает метрики RPC-запроса
func (c *Collector) RecordRPCLatency(method string, duration time.Duration, err error) {
	if c == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failed"
	}
	c.rpcLatency.WithLabelValues(method, status).Observe(duration.Seconds())
}
