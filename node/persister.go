package node

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"channeld/engine"
	"channeld/storage"
)

const defaultPersistInterval = 30 * time.Second

// Persister periodically snapshots the protocol engine's state into durable
// storage, and immediately when triggered by a relevant state change.
type Persister struct {
	engine   engine.Engine
	store    *storage.ChannelStore
	interval time.Duration
	trigger  chan struct{}
	logger   *slog.Logger
}

// NewPersister builds a background persister.
func NewPersister(eng engine.Engine, store *storage.ChannelStore, interval time.Duration, logger *slog.Logger) *Persister {
	if interval <= 0 {
		interval = defaultPersistInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Persister{
		engine:   eng,
		store:    store,
		interval: interval,
		trigger:  make(chan struct{}, 1),
		logger:   logger.With(slog.String("component", "persister")),
	}
}

// Trigger requests an immediate snapshot. Never blocks; triggers while a
// persist is pending are coalesced.
func (p *Persister) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Run persists on the configured interval and on demand until ctx is
// cancelled. A final snapshot is attempted at shutdown.
func (p *Persister) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := p.persistOnce(); err != nil {
				p.logger.Error("Final snapshot failed", slog.Any("error", err))
			}
			return ctx.Err()
		case <-ticker.C:
		case <-p.trigger:
		}
		if err := p.persistOnce(); err != nil {
			p.logger.Error("Snapshot failed", slog.Any("error", err))
		}
	}
}

func (p *Persister) persistOnce() error {
	snapshot, err := p.engine.Snapshot()
	if err != nil {
		return fmt.Errorf("engine snapshot: %w", err)
	}
	return p.store.PersistManager(snapshot)
}
