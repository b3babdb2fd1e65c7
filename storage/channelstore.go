package storage

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

var (
	managerKey    = []byte("manager")
	monitorPrefix = []byte("monitor/")
)

// ChannelMonitor is the durable record for one watched channel: the opaque
// engine-owned state blob plus the metadata the orchestrator needs to replay
// chain activity on restart.
type ChannelMonitor struct {
	FundingOutPoint wire.OutPoint
	LastBlock       chainhash.Hash
	LastHeight      int32
	State           []byte
}

type monitorRecord struct {
	FundingTxid  string `json:"funding_txid"`
	FundingIndex uint32 `json:"funding_index"`
	LastBlock    string `json:"last_block"`
	LastHeight   int32  `json:"last_height"`
	State        string `json:"state"`
}

// ChannelStore persists the protocol engine's manager snapshot and per-channel
// monitor records in the node's key-value database.
type ChannelStore struct {
	db Database
}

// NewChannelStore wraps the given database.
func NewChannelStore(db Database) *ChannelStore {
	return &ChannelStore{db: db}
}

// PersistManager stores the engine's serialized manager snapshot, replacing
// any previous snapshot wholesale.
func (s *ChannelStore) PersistManager(snapshot []byte) error {
	if err := s.db.Put(managerKey, snapshot); err != nil {
		return fmt.Errorf("persist manager snapshot: %w", err)
	}
	return nil
}

// LoadManager returns the stored manager snapshot. The second return value
// reports whether a snapshot exists; a fresh node has none.
func (s *ChannelStore) LoadManager() ([]byte, bool, error) {
	snapshot, err := s.db.Get(managerKey)
	if err == ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load manager snapshot: %w", err)
	}
	return snapshot, true, nil
}

// PersistMonitor stores one channel monitor record keyed by its funding
// outpoint.
func (s *ChannelStore) PersistMonitor(m ChannelMonitor) error {
	record := monitorRecord{
		FundingTxid:  m.FundingOutPoint.Hash.String(),
		FundingIndex: m.FundingOutPoint.Index,
		LastBlock:    m.LastBlock.String(),
		LastHeight:   m.LastHeight,
		State:        hex.EncodeToString(m.State),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode monitor record: %w", err)
	}
	return s.db.Put(monitorKey(m.FundingOutPoint), data)
}

// LoadMonitors returns every persisted channel monitor.
func (s *ChannelStore) LoadMonitors() ([]ChannelMonitor, error) {
	var monitors []ChannelMonitor
	var decodeErr error
	err := s.db.IteratePrefix(monitorPrefix, func(key, value []byte) bool {
		var record monitorRecord
		if err := json.Unmarshal(value, &record); err != nil {
			decodeErr = fmt.Errorf("decode monitor record %q: %w", key, err)
			return false
		}
		monitor, err := record.toMonitor()
		if err != nil {
			decodeErr = fmt.Errorf("decode monitor record %q: %w", key, err)
			return false
		}
		monitors = append(monitors, monitor)
		return true
	})
	if err != nil {
		return nil, err
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	return monitors, nil
}

func (r monitorRecord) toMonitor() (ChannelMonitor, error) {
	txid, err := chainhash.NewHashFromStr(r.FundingTxid)
	if err != nil {
		return ChannelMonitor{}, err
	}
	block, err := chainhash.NewHashFromStr(r.LastBlock)
	if err != nil {
		return ChannelMonitor{}, err
	}
	state, err := hex.DecodeString(r.State)
	if err != nil {
		return ChannelMonitor{}, err
	}
	return ChannelMonitor{
		FundingOutPoint: wire.OutPoint{Hash: *txid, Index: r.FundingIndex},
		LastBlock:       *block,
		LastHeight:      r.LastHeight,
		State:           state,
	}, nil
}

func monitorKey(op wire.OutPoint) []byte {
	return append(append([]byte(nil), monitorPrefix...), []byte(op.String())...)
}
