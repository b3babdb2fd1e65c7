package metrics

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

var (
	initOnce sync.Once
	shared   *NodeMetrics
)

// NodeMetrics aggregates the orchestrator's counters and gauges. Instruments
// are registered once per process; every subsystem shares the same collector.
type NodeMetrics struct {
	eventsProcessed *prometheus.CounterVec
	eventFailures   *prometheus.CounterVec
	blocks          *prometheus.CounterVec
	tipHeight       prometheus.Gauge
	payments        *prometheus.CounterVec
	fundingAttempts *prometheus.CounterVec
	sweepAttempts   *prometheus.CounterVec

	meter        metric.Meter
	eventCounter metric.Int64Counter
	blockCounter metric.Int64Counter
}

// ForNode returns the process-wide metrics collector, registering the
// Prometheus instruments on first use.
func ForNode() *NodeMetrics {
	initOnce.Do(func() {
		nm := &NodeMetrics{
			eventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "channeld_events_processed_total",
				Help: "Engine and chain-monitor events processed by kind.",
			}, []string{"kind"}),
			eventFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "channeld_event_failures_total",
				Help: "Event handling failures by kind.",
			}, []string{"kind"}),
			blocks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "channeld_blocks_total",
				Help: "Chain listener notifications by direction.",
			}, []string{"direction"}),
			tipHeight: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "channeld_chain_tip_height",
				Help: "Height of the authoritative chain tip.",
			}),
			payments: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "channeld_payments_total",
				Help: "Payment records reaching a terminal status.",
			}, []string{"direction", "status"}),
			fundingAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "channeld_funding_attempts_total",
				Help: "Funding transaction construction outcomes.",
			}, []string{"result"}),
			sweepAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "channeld_sweep_attempts_total",
				Help: "Spendable output sweep outcomes.",
			}, []string{"result"}),
		}
		prometheus.MustRegister(
			nm.eventsProcessed, nm.eventFailures, nm.blocks, nm.tipHeight,
			nm.payments, nm.fundingAttempts, nm.sweepAttempts,
		)
		nm.initMeter()
		shared = nm
	})
	return shared
}

func (m *NodeMetrics) initMeter() {
	meter := otel.GetMeterProvider().Meter("channeld/node")
	events, err := meter.Int64Counter("channeld.events")
	if err != nil {
		meter = noop.NewMeterProvider().Meter("channeld/node")
		events, _ = meter.Int64Counter("channeld.events")
	}
	blocks, err := meter.Int64Counter("channeld.blocks")
	if err != nil {
		fallback := noop.NewMeterProvider().Meter("channeld/node")
		blocks, _ = fallback.Int64Counter("channeld.blocks")
	}
	m.meter = meter
	m.eventCounter = events
	m.blockCounter = blocks
}

// ObserveEvent records one processed event of the given kind.
func (m *NodeMetrics) ObserveEvent(kind string, failed bool) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.eventsProcessed.WithLabelValues(kind).Inc()
	if failed {
		m.eventFailures.WithLabelValues(kind).Inc()
	}
	if m.eventCounter != nil {
		m.eventCounter.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("kind", kind)))
	}
}

// ObserveBlock records one block connect or disconnect notification and the
// resulting tip height.
func (m *NodeMetrics) ObserveBlock(direction string, tipHeight int32) {
	if m == nil {
		return
	}
	m.blocks.WithLabelValues(direction).Inc()
	m.tipHeight.Set(float64(tipHeight))
	if m.blockCounter != nil {
		m.blockCounter.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("direction", direction)))
	}
}

// SetTipHeight records the authoritative tip height without counting a
// connect or disconnect notification.
func (m *NodeMetrics) SetTipHeight(height int32) {
	if m == nil {
		return
	}
	m.tipHeight.Set(float64(height))
}

// ObservePayment records a payment record reaching a terminal status.
func (m *NodeMetrics) ObservePayment(direction, status string) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(direction, status).Inc()
}

// ObserveFunding records the outcome of one funding construction attempt.
func (m *NodeMetrics) ObserveFunding(result string) {
	if m == nil {
		return
	}
	m.fundingAttempts.WithLabelValues(result).Inc()
}

// ObserveSweep records the outcome of one spendable output sweep attempt.
func (m *NodeMetrics) ObserveSweep(result string) {
	if m == nil {
		return
	}
	m.sweepAttempts.WithLabelValues(result).Inc()
}
