package chain

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"channeld/observability/metrics"
)

const (
	defaultPollInterval = time.Second
	maxPollBackoff      = 30 * time.Second
	// recentHeaderLimit bounds the in-memory suffix of the active chain kept
	// for reorg handling. Reorgs deeper than this fall back to header fetches
	// from the source.
	recentHeaderLimit = 2048
)

// SyncConfig configures a Synchronizer.
type SyncConfig struct {
	Source       BlockSource
	Listener     Listener
	StartTip     Tip
	PollInterval time.Duration
	Logger       *slog.Logger
	Metrics      *metrics.NodeMetrics
}

// Synchronizer keeps the local chain view in agreement with the chain source,
// replaying ordered connect/disconnect notifications to its listener. The tip
// it maintains is the single authoritative one; height is monotonically
// non-decreasing across polls except through an explicit
// disconnect-then-reconnect reorg sequence.
type Synchronizer struct {
	source   BlockSource
	listener Listener
	interval time.Duration
	logger   *slog.Logger
	metrics  *metrics.NodeMetrics

	mu     sync.RWMutex
	tip    Tip
	recent []Tip
}

// NewSynchronizer builds a synchronizer starting from the given tip.
func NewSynchronizer(cfg SyncConfig) (*Synchronizer, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("chain: block source required")
	}
	if cfg.Listener == nil {
		return nil, fmt.Errorf("chain: listener required")
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{
		source:   cfg.Source,
		listener: cfg.Listener,
		interval: interval,
		logger:   logger.With(slog.String("component", "chain_sync")),
		metrics:  cfg.Metrics,
		tip:      cfg.StartTip,
		recent:   []Tip{cfg.StartTip},
	}, nil
}

// Tip returns the current authoritative tip.
func (s *Synchronizer) Tip() Tip {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tip
}

// Run polls the source until ctx is cancelled. Transient source failures are
// retried with exponential backoff rather than terminating the task; the poll
// cadence resumes after the first successful poll.
func (s *Synchronizer) Run(ctx context.Context) error {
	backoff := s.interval
	for {
		if err := s.pollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("Chain poll failed, backing off",
				slog.Duration("backoff", backoff),
				slog.Any("error", err))
			if !sleepCtx(ctx, backoff) {
				return ctx.Err()
			}
			backoff *= 2
			if backoff > maxPollBackoff {
				backoff = maxPollBackoff
			}
			continue
		}
		backoff = s.interval
		if !sleepCtx(ctx, s.interval) {
			return ctx.Err()
		}
	}
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

func (s *Synchronizer) pollOnce(ctx context.Context) error {
	best, err := s.source.GetBestHeader(ctx)
	if err != nil {
		return err
	}

	s.mu.RLock()
	current := s.tip
	s.mu.RUnlock()
	if best.Hash == current.Hash {
		return nil
	}

	// Rewind until the local tip lies on the source's active chain.
	for {
		onChain, err := s.onActiveChain(ctx, current, best.Height)
		if err != nil {
			return err
		}
		if onChain {
			break
		}
		if current.Height == 0 {
			return fmt.Errorf("chain: no common ancestor with source")
		}
		s.listener.BlockDisconnected(&current.Header, current.Height)
		s.metrics.ObserveBlock("disconnected", current.Height-1)
		s.logger.Info("Block disconnected",
			slog.String("hash", current.Hash.String()),
			slog.Int("height", int(current.Height)))
		prev, err := s.previousTip(ctx, current)
		if err != nil {
			return err
		}
		current = prev
		s.setTip(current, true)
	}

	// Walk forward to the source's best header.
	for height := current.Height + 1; height <= best.Height; height++ {
		hash, err := s.source.GetBlockHash(ctx, height)
		if err != nil {
			return err
		}
		block, err := s.source.GetBlock(ctx, hash)
		if err != nil {
			return err
		}
		if block.Header.PrevBlock != current.Hash {
			// The source reorganized mid-walk; the next poll restarts
			// from a consistent view.
			return fmt.Errorf("chain: block %s at height %d does not extend local tip", hash, height)
		}
		s.listener.BlockConnected(block, height)
		current = Tip{Hash: *hash, Height: height, Header: block.Header}
		s.setTip(current, false)
		s.metrics.ObserveBlock("connected", height)
		s.logger.Info("Block connected",
			slog.String("hash", hash.String()),
			slog.Int("height", int(height)))
	}
	return nil
}

// onActiveChain reports whether tip is part of the source's current active
// chain. A tip above the source's best height cannot be active; checking the
// height first keeps a reorg onto a shorter chain from reading past the
// source's tip.
func (s *Synchronizer) onActiveChain(ctx context.Context, tip Tip, bestHeight int32) (bool, error) {
	if tip.Height > bestHeight {
		return false, nil
	}
	hash, err := s.source.GetBlockHash(ctx, tip.Height)
	if err != nil {
		return false, err
	}
	return *hash == tip.Hash, nil
}

// previousTip resolves the parent of the given tip, preferring the in-memory
// suffix and falling back to a header fetch for deep reorgs.
func (s *Synchronizer) previousTip(ctx context.Context, tip Tip) (Tip, error) {
	s.mu.RLock()
	for i := len(s.recent) - 1; i >= 0; i-- {
		if s.recent[i].Hash == tip.Header.PrevBlock {
			prev := s.recent[i]
			s.mu.RUnlock()
			return prev, nil
		}
	}
	s.mu.RUnlock()
	return s.source.GetHeader(ctx, &tip.Header.PrevBlock)
}

func (s *Synchronizer) setTip(tip Tip, rewind bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tip = tip
	if rewind {
		for len(s.recent) > 0 && s.recent[len(s.recent)-1].Height >= tip.Height+1 {
			s.recent = s.recent[:len(s.recent)-1]
		}
		return
	}
	s.recent = append(s.recent, tip)
	if len(s.recent) > recentHeaderLimit {
		s.recent = s.recent[len(s.recent)-recentHeaderLimit:]
	}
}

// ListenerSync pairs a chain listener with the last block it saw, for startup
// reconciliation.
type ListenerSync struct {
	Listener   Listener
	LastBlock  chainhash.Hash
	LastHeight int32
}

// SynchronizeListeners replays ordered connect/disconnect notifications that
// bring every listener from its persisted last-seen block to the source's
// current tip, and returns that tip. Listeners are processed in the order
// given; each listener's replay is strictly ordered.
func SynchronizeListeners(ctx context.Context, source BlockSource, items []ListenerSync) (Tip, error) {
	best, err := source.GetBestHeader(ctx)
	if err != nil {
		return Tip{}, err
	}

	for _, item := range items {
		current, err := source.GetHeader(ctx, &item.LastBlock)
		if err != nil {
			return Tip{}, fmt.Errorf("chain: resolve listener block %s: %w", item.LastBlock, err)
		}

		for {
			onChain := false
			if current.Height <= best.Height {
				active, err := source.GetBlockHash(ctx, current.Height)
				if err != nil {
					return Tip{}, err
				}
				onChain = *active == current.Hash
			}
			if onChain {
				break
			}
			if current.Height == 0 {
				return Tip{}, fmt.Errorf("chain: listener state has no common ancestor with source")
			}
			item.Listener.BlockDisconnected(&current.Header, current.Height)
			current, err = source.GetHeader(ctx, &current.Header.PrevBlock)
			if err != nil {
				return Tip{}, err
			}
		}

		for height := current.Height + 1; height <= best.Height; height++ {
			hash, err := source.GetBlockHash(ctx, height)
			if err != nil {
				return Tip{}, err
			}
			block, err := source.GetBlock(ctx, hash)
			if err != nil {
				return Tip{}, err
			}
			item.Listener.BlockConnected(block, height)
		}
	}
	return best, nil
}
