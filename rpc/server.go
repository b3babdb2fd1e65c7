// Package rpc serves the node's read-only admin surface: health, chain and
// channel status, payment listings, and Prometheus metrics.
package rpc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"channeld/chain"
	"channeld/engine"
	"channeld/payments"
)

// Node is the slice of the runtime the admin surface reads from.
type Node interface {
	Network() string
	Tip() chain.Tip
	Channels() []engine.ChannelInfo
	Payments() *payments.Store
}

// ServerConfig configures the admin HTTP server.
type ServerConfig struct {
	ListenAddress string
	Node          Node
	// JWTSecret enables bearer-token authentication on the /v1 routes when
	// non-empty. Health and metrics stay unauthenticated for probes and
	// scrapers.
	JWTSecret []byte
	Logger    *slog.Logger
}

// Server is the admin HTTP server.
type Server struct {
	cfg    ServerConfig
	logger *slog.Logger
	router http.Handler
}

// NewServer builds the admin server and its routes.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.ListenAddress == "" {
		return nil, fmt.Errorf("rpc: listen address required")
	}
	if cfg.Node == nil {
		return nil, fmt.Errorf("rpc: node required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{cfg: cfg, logger: logger.With(slog.String("component", "admin_http"))}
	s.router = s.buildRouter()
	return s, nil
}

// Handler exposes the configured router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		if len(s.cfg.JWTSecret) > 0 {
			api.Use(requireBearer(s.cfg.JWTSecret, s.logger))
		}
		api.Get("/status", s.handleStatus)
		api.Get("/channels", s.handleChannels)
		api.Get("/payments/inbound", s.handlePayments(payments.Inbound))
		api.Get("/payments/outbound", s.handlePayments(payments.Outbound))
	})

	return r
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.ListenAddress,
		Handler:      otelhttp.NewHandler(s.router, "channeld-admin"),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		s.logger.Info("Admin server listening", slog.String("listen_address", s.cfg.ListenAddress))
		errs <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
			return err
		}
		return ctx.Err()
	case err := <-errs:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	Network     string `json:"network"`
	BlockHash   string `json:"block_hash"`
	BlockHeight int32  `json:"block_height"`
	Channels    int    `json:"channels"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	tip := s.cfg.Node.Tip()
	writeJSON(w, http.StatusOK, statusResponse{
		Network:     s.cfg.Node.Network(),
		BlockHash:   tip.Hash.String(),
		BlockHeight: tip.Height,
		Channels:    len(s.cfg.Node.Channels()),
	})
}

type channelResponse struct {
	ChannelID       string `json:"channel_id"`
	RemoteNodeID    string `json:"remote_node_id"`
	FundingOutPoint string `json:"funding_outpoint"`
	CapacitySats    int64  `json:"capacity_sats"`
	Usable          bool   `json:"usable"`
}

func (s *Server) handleChannels(w http.ResponseWriter, _ *http.Request) {
	channels := s.cfg.Node.Channels()
	resp := make([]channelResponse, 0, len(channels))
	for _, ch := range channels {
		resp = append(resp, channelResponse{
			ChannelID:       hex.EncodeToString(ch.ChannelID[:]),
			RemoteNodeID:    hex.EncodeToString(ch.RemoteNodeID[:]),
			FundingOutPoint: ch.FundingOutPoint.String(),
			CapacitySats:    ch.CapacitySats,
			Usable:          ch.Usable,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type paymentResponse struct {
	Hash       string  `json:"hash"`
	Status     string  `json:"status"`
	AmountMsat *uint64 `json:"amount_msat,omitempty"`
}

func (s *Server) handlePayments(direction payments.Direction) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		records := s.cfg.Node.Payments().List(direction)
		resp := make([]paymentResponse, 0, len(records))
		for _, record := range records {
			item := paymentResponse{
				Hash:   record.Hash.String(),
				Status: record.Status.String(),
			}
			if record.Amount != nil {
				amt := uint64(*record.Amount)
				item.AmountMsat = &amt
			}
			resp = append(resp, item)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
