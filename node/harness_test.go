package node

import (
	"bytes"
	"context"
	"encoding/hex"
	"net"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/stretchr/testify/require"

	"channeld/chain"
	"channeld/engine"
	"channeld/payments"
	"channeld/storage"
)

type fundingCall struct {
	tempID engine.TemporaryChannelID
	tx     *wire.MsgTx
}

type fakeEngine struct {
	events     []engine.Event
	claimOK    bool
	claims     []lntypes.Preimage
	funded     []fundingCall
	fundErr    error
	forwards   chan struct{}
	channels   []engine.ChannelInfo
	snapshot   []byte
	best       chainhash.Hash
	bestHeight int32
	connected  []int32
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{claimOK: true, forwards: make(chan struct{}, 4)}
}

func (e *fakeEngine) BlockConnected(_ *wire.MsgBlock, height int32) {
	e.connected = append(e.connected, height)
}

func (e *fakeEngine) BlockDisconnected(*wire.BlockHeader, int32) {}

func (e *fakeEngine) ProcessPendingHTLCForwards() { e.forwards <- struct{}{} }

func (e *fakeEngine) ListChannels() []engine.ChannelInfo { return e.channels }

func (e *fakeEngine) BestBlock() (chainhash.Hash, int32) { return e.best, e.bestHeight }

func (e *fakeEngine) Snapshot() ([]byte, error) { return e.snapshot, nil }

func (e *fakeEngine) InboundConnection(conn net.Conn, _ func()) { _ = conn.Close() }

func (e *fakeEngine) DrainPendingEvents() []engine.Event {
	events := e.events
	e.events = nil
	return events
}

func (e *fakeEngine) FundingTransactionGenerated(tempID engine.TemporaryChannelID, tx *wire.MsgTx) error {
	if e.fundErr != nil {
		return e.fundErr
	}
	e.funded = append(e.funded, fundingCall{tempID: tempID, tx: tx})
	return nil
}

func (e *fakeEngine) ClaimPayment(preimage lntypes.Preimage) bool {
	e.claims = append(e.claims, preimage)
	return e.claimOK
}

type fakeMonitor struct {
	events   []engine.Event
	restored []*fakeRestoredChannel
	watching []engine.RestoredChannel
}

func (m *fakeMonitor) BlockConnected(*wire.MsgBlock, int32) {}

func (m *fakeMonitor) BlockDisconnected(*wire.BlockHeader, int32) {}

func (m *fakeMonitor) DrainPendingEvents() []engine.Event {
	events := m.events
	m.events = nil
	return events
}

func (m *fakeMonitor) RestoreChannel(record storage.ChannelMonitor) (engine.RestoredChannel, error) {
	rc := &fakeRestoredChannel{outpoint: record.FundingOutPoint}
	m.restored = append(m.restored, rc)
	return rc, nil
}

func (m *fakeMonitor) WatchChannel(channel engine.RestoredChannel) error {
	m.watching = append(m.watching, channel)
	return nil
}

type fakeRestoredChannel struct {
	outpoint  wire.OutPoint
	connected []int32
}

func (c *fakeRestoredChannel) BlockConnected(_ *wire.MsgBlock, height int32) {
	c.connected = append(c.connected, height)
}

func (c *fakeRestoredChannel) BlockDisconnected(*wire.BlockHeader, int32) {}

func (c *fakeRestoredChannel) FundingOutPoint() wire.OutPoint { return c.outpoint }

type fakeWallet struct {
	createdHex   string
	createErr    error
	funded       chain.FundedTransaction
	fundErr      error
	signed       chain.SignedTransaction
	signErr      error
	address      btcutil.Address
	addrErr      error
	feeRate      chain.SatPerKWeight
	broadcast    []*wire.MsgTx
	broadcastErr error
}

func (w *fakeWallet) CreateRawTransaction(_ context.Context, _ map[btcutil.Address]btcutil.Amount) (string, error) {
	return w.createdHex, w.createErr
}

func (w *fakeWallet) FundRawTransaction(context.Context, string) (*chain.FundedTransaction, error) {
	if w.fundErr != nil {
		return nil, w.fundErr
	}
	funded := w.funded
	return &funded, nil
}

func (w *fakeWallet) SignRawTransaction(context.Context, string) (*chain.SignedTransaction, error) {
	if w.signErr != nil {
		return nil, w.signErr
	}
	signed := w.signed
	return &signed, nil
}

func (w *fakeWallet) GetNewAddress(context.Context) (btcutil.Address, error) {
	return w.address, w.addrErr
}

func (w *fakeWallet) EstimateFeeRate(context.Context, int32) chain.SatPerKWeight {
	if w.feeRate == 0 {
		return chain.FallbackFeeRate
	}
	return w.feeRate
}

func (w *fakeWallet) Broadcast(_ context.Context, tx *wire.MsgTx) error {
	if w.broadcastErr != nil {
		return w.broadcastErr
	}
	w.broadcast = append(w.broadcast, tx)
	return nil
}

type fakeSigner struct {
	tx         *wire.MsgTx
	err        error
	destScript []byte
	feeRate    chain.SatPerKWeight
}

func (s *fakeSigner) SpendSpendableOutputs(_ []engine.SpendableOutput, _ []*wire.TxIn, destScript []byte, feeRate chain.SatPerKWeight) (*wire.MsgTx, error) {
	s.destScript = destScript
	s.feeRate = feeRate
	return s.tx, s.err
}

func testAddress(t *testing.T) btcutil.Address {
	t.Helper()
	keyHash := bytes.Repeat([]byte{0x11}, 20)
	addr, err := btcutil.NewAddressWitnessPubKeyHash(keyHash, &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	return addr
}

// witnessScript builds a P2WPKH output script that resolves to exactly one
// address on regtest.
func witnessScript(t *testing.T, fill byte) []byte {
	t.Helper()
	script := make([]byte, 22)
	script[0] = 0x00
	script[1] = 0x14
	for i := 2; i < len(script); i++ {
		script[i] = fill
	}
	return script
}

func txPaying(t *testing.T, script []byte, value btcutil.Amount) (*wire.MsgTx, string) {
	t.Helper()
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Index: 0}, nil, nil))
	tx.AddTxOut(wire.NewTxOut(int64(value), script))
	var buf bytes.Buffer
	require.NoError(t, tx.Serialize(&buf))
	return tx, hex.EncodeToString(buf.Bytes())
}

type dispatcherHarness struct {
	dispatcher *Dispatcher
	engine     *fakeEngine
	monitor    *fakeMonitor
	wallet     *fakeWallet
	signer     *fakeSigner
	payments   *payments.Store
	notifier   *Notifier
}

func newDispatcherHarness(t *testing.T) *dispatcherHarness {
	t.Helper()
	h := &dispatcherHarness{
		engine:   newFakeEngine(),
		monitor:  &fakeMonitor{},
		wallet:   &fakeWallet{address: testAddress(t)},
		signer:   &fakeSigner{},
		payments: payments.NewStore(),
		notifier: NewNotifier(),
	}
	dispatcher, err := NewDispatcher(DispatcherConfig{
		Engine:      h.engine,
		Monitor:     h.monitor,
		Wallet:      h.wallet,
		Signer:      h.signer,
		Payments:    h.payments,
		Notifier:    h.notifier,
		Params:      &chaincfg.RegressionNetParams,
		WakeTimeout: 10 * time.Millisecond,
		Debounce:    time.Millisecond,
	})
	require.NoError(t, err)
	dispatcher.forwardDelay = func(time.Duration) time.Duration { return 0 }
	h.dispatcher = dispatcher
	return h
}
