// Package node wires the chain synchronizer, event dispatcher, persister, and
// peer acceptor around an externally provided protocol engine, and runs them
// as one unit.
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/btcsuite/btcd/chaincfg"

	"channeld/chain"
	"channeld/engine"
	"channeld/keys"
	"channeld/observability/metrics"
	"channeld/payments"
	"channeld/peer"
	"channeld/storage"
)

// Config assembles a Node from its external collaborators.
type Config struct {
	NetworkName  string
	Source       chain.BlockSource
	Wallet       chain.Wallet
	DB           storage.Database
	EngineDriver string
	KeysSeed     [32]byte

	// Signer spends engine-surfaced outputs. When nil, the engine itself
	// must implement keys.Signer.
	Signer keys.Signer

	PeerListenAddress string

	PollInterval    time.Duration
	WakeTimeout     time.Duration
	Debounce        time.Duration
	PersistInterval time.Duration

	Logger *slog.Logger
}

// Node is the assembled runtime: one engine, one monitor, and the background
// tasks that keep them fed and persisted.
type Node struct {
	params   *chaincfg.Params
	network  string
	source   chain.BlockSource
	engine   engine.Engine
	monitor  engine.Monitor
	store    *storage.ChannelStore
	payments *payments.Store
	notifier *Notifier

	sync       *chain.Synchronizer
	dispatcher *Dispatcher
	persister  *Persister
	acceptor   *peer.Acceptor

	logger *slog.Logger
}

// New validates the chain source, restores persisted channel state, opens the
// configured engine driver, and reconciles every restored listener with the
// source's current chain before any background task starts. A network mismatch
// between configuration and source is fatal.
func New(ctx context.Context, cfg Config) (*Node, error) {
	if cfg.Source == nil || cfg.Wallet == nil {
		return nil, fmt.Errorf("node: chain source and wallet required")
	}
	if cfg.DB == nil {
		return nil, fmt.Errorf("node: database required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nodeMetrics := metrics.ForNode()

	params, err := chain.ParamsForNetwork(cfg.NetworkName)
	if err != nil {
		return nil, err
	}
	expected, err := chain.SourceNetworkName(cfg.NetworkName)
	if err != nil {
		return nil, err
	}
	info, err := cfg.Source.GetChainInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("node: chain source unreachable: %w", err)
	}
	if info.Network != expected {
		return nil, fmt.Errorf("node: configured for network %q but source reports %q",
			cfg.NetworkName, info.Network)
	}

	store := storage.NewChannelStore(cfg.DB)
	snapshot, restarting, err := store.LoadManager()
	if err != nil {
		return nil, err
	}
	records, err := store.LoadMonitors()
	if err != nil {
		return nil, err
	}

	notifier := NewNotifier()
	eng, mon, err := engine.Open(cfg.EngineDriver, engine.Deps{
		Network:         params,
		Source:          cfg.Source,
		Wallet:          cfg.Wallet,
		KeysSeed:        cfg.KeysSeed,
		Logger:          logger,
		ManagerSnapshot: snapshot,
		Notify:          notifier.Wake,
	})
	if err != nil {
		return nil, err
	}

	signer := cfg.Signer
	if signer == nil {
		s, ok := eng.(keys.Signer)
		if !ok {
			return nil, fmt.Errorf("node: engine driver %q does not sign spendable outputs and no signer was configured",
				cfg.EngineDriver)
		}
		signer = s
	}

	tip, err := reconcileStartup(ctx, cfg.Source, eng, mon, records, restarting, logger)
	if err != nil {
		return nil, err
	}
	nodeMetrics.SetTipHeight(tip.Height)

	// The monitor observes a block before the engine reacts to it.
	listener := chain.NewCompositeListener(mon, eng)
	synchronizer, err := chain.NewSynchronizer(chain.SyncConfig{
		Source:       cfg.Source,
		Listener:     listener,
		StartTip:     tip,
		PollInterval: cfg.PollInterval,
		Logger:       logger,
		Metrics:      nodeMetrics,
	})
	if err != nil {
		return nil, err
	}

	persister := NewPersister(eng, store, cfg.PersistInterval, logger)

	paymentStore := payments.NewStore()
	dispatcher, err := NewDispatcher(DispatcherConfig{
		Engine:      eng,
		Monitor:     mon,
		Wallet:      cfg.Wallet,
		Signer:      signer,
		Payments:    paymentStore,
		Notifier:    notifier,
		Params:      params,
		WakeTimeout: cfg.WakeTimeout,
		Debounce:    cfg.Debounce,
		Persist:     persister.Trigger,
		Logger:      logger,
		Metrics:     nodeMetrics,
	})
	if err != nil {
		return nil, err
	}

	n := &Node{
		params:     params,
		network:    cfg.NetworkName,
		source:     cfg.Source,
		engine:     eng,
		monitor:    mon,
		store:      store,
		payments:   paymentStore,
		notifier:   notifier,
		sync:       synchronizer,
		dispatcher: dispatcher,
		persister:  persister,
		logger:     logger.With(slog.String("component", "node")),
	}

	if cfg.PeerListenAddress != "" {
		acceptor, err := peer.NewAcceptor(peer.AcceptorConfig{
			ListenAddress: cfg.PeerListenAddress,
			Handler:       eng,
			Wake:          notifier.Wake,
			Logger:        logger,
		})
		if err != nil {
			return nil, err
		}
		n.acceptor = acceptor
	}

	logger.Info("Node assembled",
		slog.String("network", cfg.NetworkName),
		slog.String("engine_driver", cfg.EngineDriver),
		slog.Int("restored_channels", len(records)),
		slog.Bool("restarting", restarting),
		slog.Int("height", int(tip.Height)))
	return n, nil
}

// reconcileStartup brings the engine and every persisted channel monitor from
// their last-seen blocks to the source's current tip, replaying ordered
// connect/disconnect notifications per listener, then activates the restored
// channels under the live monitor. On a fresh node it just resolves the tip.
func reconcileStartup(
	ctx context.Context,
	source chain.BlockSource,
	eng engine.Engine,
	mon engine.Monitor,
	records []storage.ChannelMonitor,
	restarting bool,
	logger *slog.Logger,
) (chain.Tip, error) {
	if !restarting {
		if len(records) > 0 {
			return chain.Tip{}, fmt.Errorf("node: %d channel monitors persisted but no manager snapshot", len(records))
		}
		return source.GetBestHeader(ctx)
	}

	restored := make([]engine.RestoredChannel, 0, len(records))
	items := make([]chain.ListenerSync, 0, len(records)+1)
	for _, record := range records {
		rc, err := mon.RestoreChannel(record)
		if err != nil {
			return chain.Tip{}, fmt.Errorf("node: restore channel %s: %w", record.FundingOutPoint, err)
		}
		restored = append(restored, rc)
		items = append(items, chain.ListenerSync{
			Listener:   rc,
			LastBlock:  record.LastBlock,
			LastHeight: record.LastHeight,
		})
	}
	engBlock, engHeight := eng.BestBlock()
	items = append(items, chain.ListenerSync{
		Listener:   eng,
		LastBlock:  engBlock,
		LastHeight: engHeight,
	})

	tip, err := chain.SynchronizeListeners(ctx, source, items)
	if err != nil {
		return chain.Tip{}, fmt.Errorf("node: startup chain reconciliation: %w", err)
	}

	for _, rc := range restored {
		if err := mon.WatchChannel(rc); err != nil {
			return chain.Tip{}, fmt.Errorf("node: watch restored channel %s: %w", rc.FundingOutPoint(), err)
		}
		logger.Info("Channel monitor restored",
			slog.String("funding_outpoint", rc.FundingOutPoint().String()))
	}
	return tip, nil
}

// Run launches the background tasks and blocks until one of them fails or ctx
// is cancelled. All tasks are stopped before Run returns.
func (n *Node) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type task struct {
		name string
		run  func(context.Context) error
	}
	tasks := []task{
		{name: "chain_sync", run: n.sync.Run},
		{name: "dispatcher", run: n.dispatcher.Run},
		{name: "persister", run: n.persister.Run},
	}
	if n.acceptor != nil {
		tasks = append(tasks, task{name: "peer_acceptor", run: n.acceptor.Run})
	}

	errCh := make(chan error, len(tasks))
	for _, t := range tasks {
		t := t
		go func() {
			err := t.run(ctx)
			if err != nil && ctx.Err() == nil {
				n.logger.Error("Background task exited",
					slog.String("task", t.name),
					slog.Any("error", err))
			}
			errCh <- err
		}()
	}

	err := <-errCh
	cancel()
	for i := 1; i < len(tasks); i++ {
		<-errCh
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Payments exposes the in-memory payment store for the admin surface.
func (n *Node) Payments() *payments.Store { return n.payments }

// Tip reports the synchronizer's current authoritative tip.
func (n *Node) Tip() chain.Tip { return n.sync.Tip() }

// Network reports the configured network name.
func (n *Node) Network() string { return n.network }

// Channels reports the engine's currently open channels.
func (n *Node) Channels() []engine.ChannelInfo { return n.engine.ListChannels() }

// Wake nudges the event dispatcher.
func (n *Node) Wake() { n.notifier.Wake() }

// TriggerPersist requests an immediate engine snapshot.
func (n *Node) TriggerPersist() { n.persister.Trigger() }
