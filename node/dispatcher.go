package node

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/google/uuid"

	"channeld/chain"
	"channeld/engine"
	"channeld/keys"
	"channeld/observability/logging"
	"channeld/observability/metrics"
	"channeld/payments"
)

const (
	defaultWakeTimeout = time.Second
	defaultDebounce    = time.Second
)

// DispatcherConfig wires the event dispatcher to its collaborators.
type DispatcherConfig struct {
	Engine   engine.Engine
	Monitor  engine.Monitor
	Wallet   chain.Wallet
	Signer   keys.Signer
	Payments *payments.Store
	Notifier *Notifier
	Params   *chaincfg.Params

	// WakeTimeout bounds the wait for a notification so a dropped signal
	// degrades to polling instead of a hang.
	WakeTimeout time.Duration
	// Debounce is the pause after a processed batch before re-checking.
	Debounce time.Duration

	// Persist is invoked after every non-empty batch: drained events mean
	// the engine's durable state just changed.
	Persist func()

	Logger  *slog.Logger
	Metrics *metrics.NodeMetrics
}

// Dispatcher drains pending events from the protocol engine and the chain
// monitor and routes each to its handler. Delivery is at-least-once and
// in-order per source; events drained at the start of a cycle are fully
// processed before the cycle ends, and a per-event failure never stops the
// batch.
type Dispatcher struct {
	engine   engine.Engine
	monitor  engine.Monitor
	wallet   chain.Wallet
	signer   keys.Signer
	payments *payments.Store
	notifier *Notifier
	params   *chaincfg.Params

	wakeTimeout time.Duration
	debounce    time.Duration
	persist     func()

	logger  *slog.Logger
	metrics *metrics.NodeMetrics

	// Test seams; production uses the defaults set in NewDispatcher.
	forwardDelay func(min time.Duration) time.Duration
	sleep        func(ctx context.Context, d time.Duration) bool
}

// NewDispatcher validates the configuration and builds a dispatcher.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Engine == nil || cfg.Monitor == nil {
		return nil, fmt.Errorf("node: engine and monitor required")
	}
	if cfg.Wallet == nil || cfg.Signer == nil {
		return nil, fmt.Errorf("node: wallet and signer required")
	}
	if cfg.Payments == nil || cfg.Notifier == nil {
		return nil, fmt.Errorf("node: payment store and notifier required")
	}
	if cfg.Params == nil {
		return nil, fmt.Errorf("node: network params required")
	}
	wakeTimeout := cfg.WakeTimeout
	if wakeTimeout <= 0 {
		wakeTimeout = defaultWakeTimeout
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		engine:       cfg.Engine,
		monitor:      cfg.Monitor,
		wallet:       cfg.Wallet,
		signer:       cfg.Signer,
		payments:     cfg.Payments,
		notifier:     cfg.Notifier,
		params:       cfg.Params,
		wakeTimeout:  wakeTimeout,
		debounce:     debounce,
		persist:      cfg.Persist,
		logger:       logger.With(slog.String("component", "dispatcher")),
		metrics:      cfg.Metrics,
		forwardDelay: jitteredDelay,
		sleep:        sleepCtx,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// jitteredDelay picks a uniform delay in [min, 5*min). The jitter hides the
// node's position in a route from timing correlation.
func jitteredDelay(min time.Duration) time.Duration {
	if min <= 0 {
		return 0
	}
	return min + time.Duration(rand.Int63n(int64(4*min)))
}

// Run processes event batches until the notifier closes or ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		timer := time.NewTimer(d.wakeTimeout)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case _, ok := <-d.notifier.C():
			timer.Stop()
			if !ok {
				d.logger.Info("Notification channel closed, dispatcher shutting down")
				return nil
			}
		case <-timer.C:
		}

		d.runCycle(ctx)

		if !d.sleep(ctx, d.debounce) {
			return ctx.Err()
		}
	}
}

// runCycle drains both event sources into one ordered batch and processes it
// synchronously. Events produced while the batch runs wait for the next
// cycle.
func (d *Dispatcher) runCycle(ctx context.Context) {
	events := d.engine.DrainPendingEvents()
	events = append(events, d.monitor.DrainPendingEvents()...)
	if len(events) == 0 {
		return
	}

	batchID := uuid.NewString()
	d.logger.Debug("Processing event batch",
		slog.String("batch_id", batchID),
		slog.Int("events", len(events)))

	for _, ev := range events {
		kind := ev.Kind()
		err := d.handleEvent(ctx, ev)
		d.metrics.ObserveEvent(kind, err != nil)
		if err != nil {
			d.logger.Error("Event handling failed",
				slog.String("batch_id", batchID),
				slog.String("kind", kind),
				slog.Any("error", err))
		}
	}

	// Drained events imply the engine advanced its state; snapshot it.
	if d.persist != nil {
		d.persist()
	}
}

func (d *Dispatcher) handleEvent(ctx context.Context, ev engine.Event) error {
	switch ev := ev.(type) {
	case engine.FundingGenerationReady:
		return d.handleFundingGeneration(ctx, ev)
	case engine.PaymentReceived:
		return d.handlePaymentReceived(ev)
	case engine.PaymentSent:
		return d.handlePaymentSent(ev)
	case engine.PaymentFailed:
		return d.handlePaymentFailed(ev)
	case engine.PendingHTLCsForwardable:
		d.scheduleForwards(ctx, ev.MinWait)
		return nil
	case engine.SpendableOutputs:
		return d.handleSpendableOutputs(ctx, ev)
	default:
		return fmt.Errorf("unhandled event kind %q", ev.Kind())
	}
}

func (d *Dispatcher) handlePaymentReceived(ev engine.PaymentReceived) error {
	if ev.Preimage == nil {
		d.payments.SettleInbound(ev.Hash, payments.StatusFailed, nil, payments.Secret(ev.Secret), ev.Amount)
		d.metrics.ObservePayment("inbound", payments.StatusFailed.String())
		return fmt.Errorf("payment %s received without preimage", ev.Hash)
	}

	status := payments.StatusFailed
	if d.engine.ClaimPayment(*ev.Preimage) {
		status = payments.StatusSucceeded
	}
	d.payments.SettleInbound(ev.Hash, status, ev.Preimage, payments.Secret(ev.Secret), ev.Amount)
	d.metrics.ObservePayment("inbound", status.String())

	if status != payments.StatusSucceeded {
		return fmt.Errorf("claim failed for payment %s", ev.Hash)
	}
	d.logger.Info("Received payment",
		slog.String("hash", logging.ShortHash(ev.Hash.String())),
		slog.Uint64("amount_msat", uint64(ev.Amount)))
	return nil
}

func (d *Dispatcher) handlePaymentSent(ev engine.PaymentSent) error {
	hash, ok := d.payments.SucceedOutboundByPreimage(ev.Preimage)
	if !ok {
		d.logger.Warn("Payment sent for unknown outbound hash",
			slog.String("hash", logging.ShortHash(hash.String())))
		return nil
	}
	d.metrics.ObservePayment("outbound", payments.StatusSucceeded.String())
	d.logger.Info("Sent payment", slog.String("hash", logging.ShortHash(hash.String())))
	return nil
}

func (d *Dispatcher) handlePaymentFailed(ev engine.PaymentFailed) error {
	reason := "route failed"
	if ev.RejectedByDestination {
		reason = "rejected by destination"
	}
	if !d.payments.Transition(payments.Outbound, ev.Hash, payments.StatusFailed, nil) {
		d.logger.Warn("Payment failure for unknown outbound hash",
			slog.String("hash", logging.ShortHash(ev.Hash.String())),
			slog.String("reason", reason))
		return nil
	}
	d.metrics.ObservePayment("outbound", payments.StatusFailed.String())
	d.logger.Info("Payment failed",
		slog.String("hash", logging.ShortHash(ev.Hash.String())),
		slog.String("reason", reason))
	return nil
}

// scheduleForwards fires an independent, failure-isolated goroutine that asks
// the engine to flush queued forwards after a randomized delay. It never
// blocks the dispatcher loop.
func (d *Dispatcher) scheduleForwards(ctx context.Context, min time.Duration) {
	delay := d.forwardDelay(min)
	go func() {
		if delay > 0 && !d.sleep(ctx, delay) {
			return
		}
		d.engine.ProcessPendingHTLCForwards()
	}()
}
