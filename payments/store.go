// Package payments tracks the node's inbound and outbound payment records.
// The two tables are the only state shared across the dispatcher and the
// command surface; all access goes through Store so the mutual-exclusion
// discipline stays in one place.
package payments

import (
	"sort"
	"sync"

	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
)

// Status is the lifecycle state of a payment record. Succeeded and Failed are
// terminal; a record never moves from Succeeded back to Failed, even when a
// stale failure event arrives after the fact.
type Status uint8

const (
	StatusPending Status = iota
	StatusSucceeded
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Direction selects one of the two payment tables.
type Direction uint8

const (
	Inbound Direction = iota
	Outbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}
	return "outbound"
}

// Secret is the receiver-side payment secret bundled with an invoice.
type Secret [32]byte

// Record is one payment, keyed by its payment hash. Amount is nil while
// unknown; an inbound amount is only learned from the receipt event.
type Record struct {
	Hash     lntypes.Hash
	Preimage *lntypes.Preimage
	Secret   *Secret
	Status   Status
	Amount   *lnwire.MilliSatoshi
}

func (r *Record) clone() Record {
	out := Record{Hash: r.Hash, Status: r.Status}
	if r.Preimage != nil {
		p := *r.Preimage
		out.Preimage = &p
	}
	if r.Secret != nil {
		s := *r.Secret
		out.Secret = &s
	}
	if r.Amount != nil {
		a := *r.Amount
		out.Amount = &a
	}
	return out
}

// Store owns the inbound and outbound payment tables. Hashes are never
// removed; entries persist until process exit.
type Store struct {
	mu       sync.Mutex
	inbound  map[lntypes.Hash]*Record
	outbound map[lntypes.Hash]*Record
}

// NewStore creates empty payment tables.
func NewStore() *Store {
	return &Store{
		inbound:  make(map[lntypes.Hash]*Record),
		outbound: make(map[lntypes.Hash]*Record),
	}
}

func (s *Store) table(dir Direction) map[lntypes.Hash]*Record {
	if dir == Inbound {
		return s.inbound
	}
	return s.outbound
}

// RecordInbound registers a pending inbound payment, typically when an
// invoice is issued. An existing record keeps its status; only the secret is
// refreshed.
func (s *Store) RecordInbound(hash lntypes.Hash, secret Secret) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.inbound[hash]; ok {
		rec.Secret = &secret
		return
	}
	s.inbound[hash] = &Record{Hash: hash, Secret: &secret, Status: StatusPending}
}

// RecordOutbound registers a pending outbound payment at send time.
func (s *Store) RecordOutbound(hash lntypes.Hash, amount lnwire.MilliSatoshi) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.outbound[hash]; ok {
		return
	}
	s.outbound[hash] = &Record{Hash: hash, Amount: &amount, Status: StatusPending}
}

// SettleInbound upserts the inbound record for a receipt event: the claim
// outcome, the delivered amount, and the revealed secret material. The record
// is updated in place, never duplicated.
func (s *Store) SettleInbound(hash lntypes.Hash, status Status, preimage *lntypes.Preimage, secret Secret, amount lnwire.MilliSatoshi) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.inbound[hash]
	if !ok {
		rec = &Record{Hash: hash}
		s.inbound[hash] = rec
	}
	if rec.Status == StatusSucceeded && status == StatusFailed {
		return
	}
	rec.Status = status
	rec.Secret = &secret
	if preimage != nil {
		p := *preimage
		rec.Preimage = &p
	}
	a := amount
	rec.Amount = &a
}

// Transition moves the record with the given hash to a new status, recording
// the preimage when supplied. It reports whether a matching record existed.
// Transitions are monotonic: a Succeeded record never regresses to Failed.
func (s *Store) Transition(dir Direction, hash lntypes.Hash, status Status, preimage *lntypes.Preimage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.table(dir)[hash]
	if !ok {
		return false
	}
	if rec.Status == StatusSucceeded && status == StatusFailed {
		return true
	}
	rec.Status = status
	if preimage != nil {
		p := *preimage
		rec.Preimage = &p
	}
	return true
}

// SucceedOutboundByPreimage derives the payment hash from the revealed
// preimage and marks the matching outbound record succeeded. The derived
// hash, not any externally supplied one, keys the lookup.
func (s *Store) SucceedOutboundByPreimage(preimage lntypes.Preimage) (lntypes.Hash, bool) {
	hash := preimage.Hash()
	ok := s.Transition(Outbound, hash, StatusSucceeded, &preimage)
	return hash, ok
}

// Lookup returns a copy of the record for the given hash.
func (s *Store) Lookup(dir Direction, hash lntypes.Hash) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.table(dir)[hash]
	if !ok {
		return Record{}, false
	}
	return rec.clone(), true
}

// List returns a point-in-time snapshot of one table, ordered by hash.
func (s *Store) List(dir Direction) []Record {
	s.mu.Lock()
	table := s.table(dir)
	out := make([]Record, 0, len(table))
	for _, rec := range table {
		out = append(out, rec.clone())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Hash.String() < out[j].Hash.String()
	})
	return out
}
