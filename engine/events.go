package engine

import (
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
)

// TemporaryChannelID identifies a channel before its funding transaction
// exists.
type TemporaryChannelID [32]byte

// PaymentSecret is the receiver-side authorization bundled with an invoice.
type PaymentSecret [32]byte

// Event is a pending occurrence drained from the protocol engine or the chain
// monitor. The concrete types below form a closed set; the dispatcher
// processes each drained batch strictly in order.
type Event interface {
	Kind() string
}

// FundingGenerationReady asks the orchestrator to construct and sign the
// funding transaction for a channel the engine has negotiated.
type FundingGenerationReady struct {
	TemporaryChannelID TemporaryChannelID
	ChannelValue       btcutil.Amount
	OutputScript       []byte
}

func (FundingGenerationReady) Kind() string { return "funding_generation_ready" }

// PaymentReceived reports an inbound payment whose HTLCs have arrived and can
// be claimed with the supplied preimage.
type PaymentReceived struct {
	Hash     lntypes.Hash
	Preimage *lntypes.Preimage
	Secret   PaymentSecret
	Amount   lnwire.MilliSatoshi
}

func (PaymentReceived) Kind() string { return "payment_received" }

// PaymentSent reports that an outbound payment completed; the revealed
// preimage proves delivery. The payment hash is derived from the preimage,
// never trusted from the wire.
type PaymentSent struct {
	Preimage lntypes.Preimage
}

func (PaymentSent) Kind() string { return "payment_sent" }

// PaymentFailed reports that an outbound payment can no longer succeed.
type PaymentFailed struct {
	Hash                  lntypes.Hash
	RejectedByDestination bool
}

func (PaymentFailed) Kind() string { return "payment_failed" }

// PendingHTLCsForwardable signals that forwarded HTLCs are ready for batch
// processing no sooner than MinWait from now.
type PendingHTLCsForwardable struct {
	MinWait time.Duration
}

func (PendingHTLCsForwardable) Kind() string { return "pending_htlcs_forwardable" }

// SpendableOutput is one on-chain output the engine has determined is safe to
// reclaim to the node's wallet. Descriptor is the engine-owned material the
// key-material collaborator needs to produce a spend.
type SpendableOutput struct {
	OutPoint   wire.OutPoint
	Value      btcutil.Amount
	Descriptor []byte
}

// SpendableOutputs carries a batch of reclaimable outputs. The batch is swept
// into one transaction or not at all; failed sweeps rely on the engine
// re-surfacing the outputs later.
type SpendableOutputs struct {
	Outputs []SpendableOutput
}

func (SpendableOutputs) Kind() string { return "spendable_outputs" }
