package node

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"channeld/storage"
)

func TestPersisterSnapshotsOnTrigger(t *testing.T) {
	eng := newFakeEngine()
	eng.snapshot = []byte("state-v1")
	store := storage.NewChannelStore(storage.NewMemDB())
	p := NewPersister(eng, store, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	p.Trigger()
	require.Eventually(t, func() bool {
		snapshot, ok, err := store.LoadManager()
		return err == nil && ok && string(snapshot) == "state-v1"
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("persister did not stop")
	}
}

func TestPersisterSnapshotsAtShutdown(t *testing.T) {
	eng := newFakeEngine()
	eng.snapshot = []byte("final")
	store := storage.NewChannelStore(storage.NewMemDB())
	p := NewPersister(eng, store, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, p.Run(ctx), context.Canceled)

	snapshot, ok, err := store.LoadManager()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("final"), snapshot)
}

func TestNotifierWakeNeverBlocks(t *testing.T) {
	n := NewNotifier()
	for i := 0; i < 10; i++ {
		n.Wake()
	}
	// Two buffered signals at most; both drain without further wakes.
	<-n.C()
	<-n.C()
	select {
	case <-n.C():
		t.Fatal("expected coalesced wake signals")
	default:
	}
}
