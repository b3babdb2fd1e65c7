package chain

import (
	"context"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Tip is the authoritative view of the best validated header. It is replaced
// wholesale on every successful poll and never partially mutated.
type Tip struct {
	Hash   chainhash.Hash
	Height int32
	Header wire.BlockHeader
}

// ChainInfo summarizes the source's view of the chain at connect time.
type ChainInfo struct {
	Network    string
	BestHash   chainhash.Hash
	BestHeight int32
}

// FundedTransaction is the wallet's response to a funding request: the
// input-complete raw transaction and the position of the change output. The
// wallet contract allows change at position 0 or 1 only.
type FundedTransaction struct {
	Hex            string
	ChangePosition int
}

// SignedTransaction is the wallet's response to a signing request. Complete
// reports whether every input carries a final signature.
type SignedTransaction struct {
	Hex      string
	Complete bool
}

// SatPerKWeight expresses a fee rate in satoshis per 1000 weight units.
type SatPerKWeight int64

// FallbackFeeRate is used when the source cannot produce an estimate, e.g. on
// a fresh regtest chain with no fee history.
const FallbackFeeRate SatPerKWeight = 253

// Listener consumes ordered block connect/disconnect notifications. Every
// call is fully applied before the next begins.
type Listener interface {
	BlockConnected(block *wire.MsgBlock, height int32)
	BlockDisconnected(header *wire.BlockHeader, height int32)
}

// CompositeListener fans a notification out to an ordered set of listeners.
// The order is fixed at construction: the chain monitor is registered before
// the protocol engine so channel monitors observe a block before channel
// state machines react to it.
type CompositeListener struct {
	listeners []Listener
}

// NewCompositeListener builds a composite over the given listeners, invoked
// in the order supplied.
func NewCompositeListener(listeners ...Listener) *CompositeListener {
	return &CompositeListener{listeners: listeners}
}

func (c *CompositeListener) BlockConnected(block *wire.MsgBlock, height int32) {
	for _, l := range c.listeners {
		l.BlockConnected(block, height)
	}
}

func (c *CompositeListener) BlockDisconnected(header *wire.BlockHeader, height int32) {
	for _, l := range c.listeners {
		l.BlockDisconnected(header, height)
	}
}

// BlockSource provides validated chain data. The bitcoind-backed Client
// implements it; tests script it.
type BlockSource interface {
	GetChainInfo(ctx context.Context) (*ChainInfo, error)
	GetBestHeader(ctx context.Context) (Tip, error)
	GetHeader(ctx context.Context, hash *chainhash.Hash) (Tip, error)
	GetBlockHash(ctx context.Context, height int32) (*chainhash.Hash, error)
	GetBlock(ctx context.Context, hash *chainhash.Hash) (*wire.MsgBlock, error)
}

// Wallet is the on-chain wallet surface the orchestrator consumes: funding
// transaction construction and signing, fresh addresses, fee estimates, and
// broadcast.
type Wallet interface {
	CreateRawTransaction(ctx context.Context, outputs map[btcutil.Address]btcutil.Amount) (string, error)
	FundRawTransaction(ctx context.Context, rawHex string) (*FundedTransaction, error)
	SignRawTransaction(ctx context.Context, rawHex string) (*SignedTransaction, error)
	GetNewAddress(ctx context.Context) (btcutil.Address, error)
	EstimateFeeRate(ctx context.Context, confTarget int32) SatPerKWeight
	Broadcast(ctx context.Context, tx *wire.MsgTx) error
}
