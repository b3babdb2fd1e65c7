package payments

import (
	"testing"

	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/stretchr/testify/require"
)

func testPreimage(fill byte) lntypes.Preimage {
	var p lntypes.Preimage
	for i := range p {
		p[i] = fill
	}
	return p
}

func TestSettleInboundUpserts(t *testing.T) {
	store := NewStore()
	preimage := testPreimage(0x01)
	hash := preimage.Hash()
	secret := Secret{0x02}

	store.SettleInbound(hash, StatusSucceeded, &preimage, secret, 1000)

	rec, ok := store.Lookup(Inbound, hash)
	require.True(t, ok)
	require.Equal(t, StatusSucceeded, rec.Status)
	require.Equal(t, &preimage, rec.Preimage)
	require.Equal(t, &secret, rec.Secret)
	require.NotNil(t, rec.Amount)
	require.Equal(t, lnwire.MilliSatoshi(1000), *rec.Amount)

	// A second receipt for the same hash updates in place.
	store.SettleInbound(hash, StatusSucceeded, &preimage, secret, 2000)
	require.Len(t, store.List(Inbound), 1)
	rec, _ = store.Lookup(Inbound, hash)
	require.Equal(t, lnwire.MilliSatoshi(2000), *rec.Amount)
}

func TestSettleInboundFinalStatusFollowsLastClaim(t *testing.T) {
	store := NewStore()
	preimage := testPreimage(0x03)
	hash := preimage.Hash()

	store.SettleInbound(hash, StatusFailed, nil, Secret{}, 0)
	rec, _ := store.Lookup(Inbound, hash)
	require.Equal(t, StatusFailed, rec.Status)

	// A later successful claim for the same hash wins.
	store.SettleInbound(hash, StatusSucceeded, &preimage, Secret{}, 500)
	rec, _ = store.Lookup(Inbound, hash)
	require.Equal(t, StatusSucceeded, rec.Status)
}

func TestSucceededNeverRegresses(t *testing.T) {
	store := NewStore()
	preimage := testPreimage(0x04)
	hash := preimage.Hash()

	store.RecordOutbound(hash, 750)
	require.True(t, store.Transition(Outbound, hash, StatusSucceeded, &preimage))

	// A stale failure event for the same hash arrives afterwards.
	require.True(t, store.Transition(Outbound, hash, StatusFailed, nil))
	rec, _ := store.Lookup(Outbound, hash)
	require.Equal(t, StatusSucceeded, rec.Status)
	require.Equal(t, &preimage, rec.Preimage)

	// The same holds for the inbound settle path.
	store.SettleInbound(hash, StatusSucceeded, &preimage, Secret{}, 100)
	store.SettleInbound(hash, StatusFailed, nil, Secret{}, 100)
	rec, _ = store.Lookup(Inbound, hash)
	require.Equal(t, StatusSucceeded, rec.Status)
}

func TestSucceedOutboundByPreimage(t *testing.T) {
	store := NewStore()
	preimage := testPreimage(0x05)
	hash := preimage.Hash()

	store.RecordOutbound(hash, 1234)

	derived, ok := store.SucceedOutboundByPreimage(preimage)
	require.True(t, ok)
	require.Equal(t, hash, derived)

	rec, _ := store.Lookup(Outbound, hash)
	require.Equal(t, StatusSucceeded, rec.Status)
	require.Equal(t, &preimage, rec.Preimage)
}

func TestTransitionMissingRecord(t *testing.T) {
	store := NewStore()
	var hash lntypes.Hash
	hash[0] = 0xff
	require.False(t, store.Transition(Outbound, hash, StatusFailed, nil))
}

func TestListSnapshotsAreIsolated(t *testing.T) {
	store := NewStore()
	preimage := testPreimage(0x06)
	hash := preimage.Hash()
	store.RecordInbound(hash, Secret{0x01})

	snapshot := store.List(Inbound)
	require.Len(t, snapshot, 1)

	// Mutating the store after the snapshot must not alter the copy.
	store.SettleInbound(hash, StatusSucceeded, &preimage, Secret{0x01}, 42)
	require.Equal(t, StatusPending, snapshot[0].Status)
	require.Nil(t, snapshot[0].Preimage)

	// Mutating the snapshot must not reach the store.
	snapshot[0].Status = StatusFailed
	rec, _ := store.Lookup(Inbound, hash)
	require.Equal(t, StatusSucceeded, rec.Status)
}

func TestRecordInboundKeepsExistingStatus(t *testing.T) {
	store := NewStore()
	preimage := testPreimage(0x07)
	hash := preimage.Hash()

	store.SettleInbound(hash, StatusSucceeded, &preimage, Secret{0x01}, 10)
	store.RecordInbound(hash, Secret{0x02})

	rec, _ := store.Lookup(Inbound, hash)
	require.Equal(t, StatusSucceeded, rec.Status)
	require.Equal(t, &Secret{0x02}, rec.Secret)
}
