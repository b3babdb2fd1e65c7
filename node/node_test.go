package node

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"channeld/chain"
	"channeld/engine"
	"channeld/storage"
)

// The test driver hands out whatever fakes the current test staged.
var testDriver struct {
	eng  *fakeEngine
	mon  *fakeMonitor
	deps engine.Deps
}

func init() {
	engine.Register("test", func(deps engine.Deps) (engine.Engine, engine.Monitor, error) {
		testDriver.deps = deps
		return testDriver.eng, testDriver.mon, nil
	})
}

// scriptedSource is a linear chain with no reorgs, enough for wiring tests.
type scriptedSource struct {
	network string
	headers []wire.BlockHeader
	hashes  []chainhash.Hash
}

func newScriptedSource(network string, height int32) *scriptedSource {
	s := &scriptedSource{network: network}
	prev := chainhash.Hash{}
	for i := int32(0); i <= height; i++ {
		header := wire.BlockHeader{PrevBlock: prev, Nonce: uint32(i)}
		hash := header.BlockHash()
		s.headers = append(s.headers, header)
		s.hashes = append(s.hashes, hash)
		prev = hash
	}
	return s
}

func (s *scriptedSource) tip(height int32) chain.Tip {
	return chain.Tip{Hash: s.hashes[height], Height: height, Header: s.headers[height]}
}

func (s *scriptedSource) GetChainInfo(context.Context) (*chain.ChainInfo, error) {
	best := int32(len(s.hashes) - 1)
	return &chain.ChainInfo{Network: s.network, BestHash: s.hashes[best], BestHeight: best}, nil
}

func (s *scriptedSource) GetBestHeader(context.Context) (chain.Tip, error) {
	return s.tip(int32(len(s.hashes) - 1)), nil
}

func (s *scriptedSource) GetHeader(_ context.Context, hash *chainhash.Hash) (chain.Tip, error) {
	for height, h := range s.hashes {
		if h == *hash {
			return s.tip(int32(height)), nil
		}
	}
	return chain.Tip{}, fmt.Errorf("unknown block %s", hash)
}

func (s *scriptedSource) GetBlockHash(_ context.Context, height int32) (*chainhash.Hash, error) {
	if height < 0 || int(height) >= len(s.hashes) {
		return nil, fmt.Errorf("height %d out of range", height)
	}
	hash := s.hashes[height]
	return &hash, nil
}

func (s *scriptedSource) GetBlock(_ context.Context, hash *chainhash.Hash) (*wire.MsgBlock, error) {
	tip, err := s.GetHeader(context.Background(), hash)
	if err != nil {
		return nil, err
	}
	return &wire.MsgBlock{Header: tip.Header}, nil
}

func testNodeConfig(source *scriptedSource, db storage.Database) Config {
	return Config{
		NetworkName:  "regtest",
		Source:       source,
		Wallet:       &fakeWallet{},
		DB:           db,
		EngineDriver: "test",
		Signer:       &fakeSigner{},
		PollInterval: time.Hour,
	}
}

func TestNewRejectsNetworkMismatch(t *testing.T) {
	testDriver.eng = newFakeEngine()
	testDriver.mon = &fakeMonitor{}
	source := newScriptedSource("main", 1)

	_, err := New(context.Background(), testNodeConfig(source, storage.NewMemDB()))
	require.Error(t, err)
	require.Contains(t, err.Error(), "source reports")
}

func TestNewFreshNodeStartsAtSourceTip(t *testing.T) {
	testDriver.eng = newFakeEngine()
	testDriver.mon = &fakeMonitor{}
	source := newScriptedSource("regtest", 3)

	n, err := New(context.Background(), testNodeConfig(source, storage.NewMemDB()))
	require.NoError(t, err)
	require.Equal(t, int32(3), n.Tip().Height)
	require.Empty(t, testDriver.mon.watching)
	require.Empty(t, testDriver.eng.connected)
	require.Nil(t, testDriver.deps.ManagerSnapshot)
}

func TestNewRestartReplaysPerListener(t *testing.T) {
	source := newScriptedSource("regtest", 4)

	testDriver.eng = newFakeEngine()
	testDriver.eng.best = source.hashes[3]
	testDriver.eng.bestHeight = 3
	testDriver.mon = &fakeMonitor{}

	db := storage.NewMemDB()
	store := storage.NewChannelStore(db)
	require.NoError(t, store.PersistManager([]byte("snapshot")))
	outpoint := wire.OutPoint{Hash: chainhash.Hash{9}, Index: 1}
	require.NoError(t, store.PersistMonitor(storage.ChannelMonitor{
		FundingOutPoint: outpoint,
		LastBlock:       source.hashes[1],
		LastHeight:      1,
		State:           []byte("mon"),
	}))

	n, err := New(context.Background(), testNodeConfig(source, db))
	require.NoError(t, err)

	// The restored channel last saw height 1, the engine height 3.
	require.Len(t, testDriver.mon.restored, 1)
	require.Equal(t, []int32{2, 3, 4}, testDriver.mon.restored[0].connected)
	require.Equal(t, []int32{4}, testDriver.eng.connected)

	require.Len(t, testDriver.mon.watching, 1)
	require.Equal(t, outpoint, testDriver.mon.watching[0].FundingOutPoint())

	require.Equal(t, []byte("snapshot"), testDriver.deps.ManagerSnapshot)
	require.Equal(t, int32(4), n.Tip().Height)
}

func TestNewRejectsMonitorsWithoutSnapshot(t *testing.T) {
	source := newScriptedSource("regtest", 2)
	testDriver.eng = newFakeEngine()
	testDriver.mon = &fakeMonitor{}

	db := storage.NewMemDB()
	store := storage.NewChannelStore(db)
	require.NoError(t, store.PersistMonitor(storage.ChannelMonitor{
		FundingOutPoint: wire.OutPoint{Index: 0},
		LastBlock:       source.hashes[1],
		LastHeight:      1,
	}))

	_, err := New(context.Background(), testNodeConfig(source, db))
	require.Error(t, err)
}
