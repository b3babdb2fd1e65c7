package peer

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	conns chan net.Conn
}

func (h *recordingHandler) InboundConnection(conn net.Conn, wake func()) {
	wake()
	h.conns <- conn
}

func startAcceptor(t *testing.T, handler ConnHandler, wake func()) (*Acceptor, context.CancelFunc) {
	t.Helper()
	acceptor, err := NewAcceptor(AcceptorConfig{
		ListenAddress: "127.0.0.1:0",
		Handler:       handler,
		Wake:          wake,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- acceptor.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("acceptor did not stop")
		}
	})

	require.Eventually(t, func() bool { return acceptor.Addr() != nil }, time.Second, 5*time.Millisecond)
	return acceptor, cancel
}

func TestAcceptorHandsConnectionsToHandler(t *testing.T) {
	handler := &recordingHandler{conns: make(chan net.Conn, 1)}
	woke := make(chan struct{}, 4)
	acceptor, _ := startAcceptor(t, handler, func() { woke <- struct{}{} })

	conn, err := net.Dial("tcp", acceptor.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	select {
	case accepted := <-handler.conns:
		defer accepted.Close()
	case <-time.After(time.Second):
		t.Fatal("handler never received the connection")
	}
	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("wake callback never fired")
	}
}

func TestAcceptorStopsOnCancel(t *testing.T) {
	handler := &recordingHandler{conns: make(chan net.Conn, 1)}
	acceptor, cancel := startAcceptor(t, handler, func() {})

	addr := acceptor.Addr().String()
	cancel()

	require.Eventually(t, func() bool {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			conn.Close()
			return false
		}
		return true
	}, time.Second, 10*time.Millisecond)
}

func TestNewAcceptorValidation(t *testing.T) {
	_, err := NewAcceptor(AcceptorConfig{Handler: &recordingHandler{}})
	require.Error(t, err)

	_, err = NewAcceptor(AcceptorConfig{ListenAddress: ":0"})
	require.Error(t, err)
}
