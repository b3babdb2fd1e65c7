// Package peer accepts inbound peer connections and hands them to the
// protocol engine's transport setup. Wire framing, handshakes, and peer
// lifecycle all belong to the engine; this package only owns the listener.
package peer

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// Accept-rate bounds protect the engine's handshake path from
	// connection floods.
	defaultAcceptPerSec = 16
	defaultAcceptBurst  = 64
)

// ConnHandler is the engine-side surface for accepted connections. The wake
// callback lets the connection's message processing signal the dispatcher
// that new events may exist.
type ConnHandler interface {
	InboundConnection(conn net.Conn, wake func())
}

// AcceptorConfig configures the inbound listener.
type AcceptorConfig struct {
	ListenAddress string
	Handler       ConnHandler
	Wake          func()
	AcceptPerSec  float64
	AcceptBurst   int
	Logger        *slog.Logger
}

// Acceptor runs the inbound TCP listener.
type Acceptor struct {
	addr    string
	handler ConnHandler
	wake    func()
	limiter *rate.Limiter
	logger  *slog.Logger

	mu      sync.Mutex
	boundTo net.Addr
}

// Addr reports the bound listener address, nil until Run has opened it.
func (a *Acceptor) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.boundTo
}

// NewAcceptor validates the configuration and builds an acceptor.
func NewAcceptor(cfg AcceptorConfig) (*Acceptor, error) {
	if cfg.ListenAddress == "" {
		return nil, fmt.Errorf("peer: listen address required")
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("peer: connection handler required")
	}
	perSec := cfg.AcceptPerSec
	if perSec <= 0 {
		perSec = defaultAcceptPerSec
	}
	burst := cfg.AcceptBurst
	if burst <= 0 {
		burst = defaultAcceptBurst
	}
	wake := cfg.Wake
	if wake == nil {
		wake = func() {}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Acceptor{
		addr:    cfg.ListenAddress,
		handler: cfg.Handler,
		wake:    wake,
		limiter: rate.NewLimiter(rate.Limit(perSec), burst),
		logger:  logger.With(slog.String("component", "peer_acceptor")),
	}, nil
}

// Run listens for inbound connections until ctx is cancelled. Each accepted
// connection is handed to the engine together with the dispatcher wake-up.
func (a *Acceptor) Run(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", a.addr)
	if err != nil {
		return fmt.Errorf("peer: listen on %s: %w", a.addr, err)
	}
	a.mu.Lock()
	a.boundTo = ln.Addr()
	a.mu.Unlock()
	a.logger.Info("Peer listener started", slog.String("listen_address", ln.Addr().String()))

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return fmt.Errorf("peer: accept: %w", err)
		}
		if !a.limiter.Allow() {
			a.logger.Warn("Inbound connection dropped by rate limit",
				slog.String("remote", conn.RemoteAddr().String()))
			_ = conn.Close()
			continue
		}
		if tcp, ok := conn.(*net.TCPConn); ok {
			_ = tcp.SetKeepAlive(true)
			_ = tcp.SetKeepAlivePeriod(time.Minute)
		}
		a.logger.Debug("Inbound peer connection",
			slog.String("remote", conn.RemoteAddr().String()))
		go a.handler.InboundConnection(conn, a.wake)
	}
}
