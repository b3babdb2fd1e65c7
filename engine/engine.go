package engine

import (
	"net"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lntypes"

	"channeld/chain"
	"channeld/storage"
)

// ChannelInfo is the engine's summary of one open channel, consumed by the
// admin surface.
type ChannelInfo struct {
	ChannelID       [32]byte
	RemoteNodeID    [33]byte
	FundingOutPoint wire.OutPoint
	CapacitySats    int64
	Usable          bool
}

// Engine is the external protocol engine: it owns channel state machines,
// HTLC routing, and gossip. The orchestrator consumes only this narrow
// surface and never assumes a concrete implementation. All methods must be
// safe for concurrent use per the engine's own contract.
type Engine interface {
	chain.Listener

	// DrainPendingEvents atomically removes and returns every event the
	// engine has queued, in emission order.
	DrainPendingEvents() []Event

	// FundingTransactionGenerated hands a signed funding transaction back
	// to the engine. The call is idempotent per temporary channel id.
	FundingTransactionGenerated(tempID TemporaryChannelID, tx *wire.MsgTx) error

	// ClaimPayment attempts to settle an inbound payment with the given
	// preimage, reporting whether the claim succeeded.
	ClaimPayment(preimage lntypes.Preimage) bool

	// ProcessPendingHTLCForwards flushes the engine's queued forwards.
	ProcessPendingHTLCForwards()

	// ListChannels reports the engine's currently open channels.
	ListChannels() []ChannelInfo

	// BestBlock reports the engine's last-seen block, used for startup
	// chain reconciliation after a restart.
	BestBlock() (chainhash.Hash, int32)

	// Snapshot serializes the engine's durable state for the background
	// persister.
	Snapshot() ([]byte, error)

	// InboundConnection hands an accepted peer connection to the engine's
	// transport setup. The engine signals wake whenever the connection
	// may have produced new pending events.
	InboundConnection(conn net.Conn, wake func())
}

// Monitor is the external chain monitor: it watches on-chain activity for
// channels it is told about and surfaces events such as spendable outputs.
type Monitor interface {
	chain.Listener

	// DrainPendingEvents atomically removes and returns every event the
	// monitor has queued, in emission order.
	DrainPendingEvents() []Event

	// RestoreChannel deserializes one persisted channel monitor record
	// into a standalone chain listener. The orchestrator replays chain
	// activity on the restored channel before activating it.
	RestoreChannel(record storage.ChannelMonitor) (RestoredChannel, error)

	// WatchChannel activates a restored channel under this monitor.
	WatchChannel(channel RestoredChannel) error
}

// RestoredChannel is one persisted channel monitor brought back to life,
// addressable as a chain listener until it is handed to WatchChannel.
type RestoredChannel interface {
	chain.Listener

	FundingOutPoint() wire.OutPoint
}
