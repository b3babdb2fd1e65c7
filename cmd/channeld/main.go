package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"channeld/chain"
	"channeld/cmd/internal/passphrase"
	"channeld/config"
	"channeld/keys"
	"channeld/node"
	"channeld/observability/logging"
	"channeld/observability/otel"
	"channeld/rpc"
	"channeld/storage"
	// Engine drivers register themselves from an init function; blank-import
	// the desired driver package here and select it with EngineDriver in the
	// config.
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("CHANNELD_ENV"))

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logOpts := logging.Options{}
	if cfg.LogToFile {
		logOpts.FilePath = filepath.Join(cfg.DataDir, "logs", "channeld.log")
	}
	logger := logging.Setup("channeld", env, logOpts)

	if err := run(cfg, logger); err != nil {
		logger.Error("Node terminated", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Endpoint != "" {
		shutdown, err := otel.Init(ctx, otel.Config{
			ServiceName: "channeld",
			Environment: cfg.Network,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Metrics:     cfg.Telemetry.Metrics,
			Traces:      cfg.Telemetry.Traces,
		})
		if err != nil {
			return fmt.Errorf("initialise telemetry: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Warn("Telemetry shutdown failed", slog.Any("error", err))
			}
		}()
	}

	params, err := chain.ParamsForNetwork(cfg.Network)
	if err != nil {
		return err
	}

	rpcPassword, err := resolveRPCPassword(cfg)
	if err != nil {
		return err
	}

	client, err := chain.NewClient(chain.ClientConfig{
		Host:     cfg.Chain.RPCHost,
		Port:     cfg.Chain.RPCPort,
		User:     cfg.Chain.RPCUser,
		Password: rpcPassword,
		Params:   params,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	logger.Info("Chain source configured",
		slog.String("rpc_host", cfg.Chain.RPCHost),
		slog.Int("rpc_port", int(cfg.Chain.RPCPort)),
		logging.MaskField("rpc_user", cfg.Chain.RPCUser))

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("prepare data directory: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	seed, err := keys.LoadOrCreateSeed(filepath.Join(cfg.DataDir, "keys_seed"))
	if err != nil {
		return fmt.Errorf("load keys seed: %w", err)
	}

	n, err := node.New(ctx, node.Config{
		NetworkName:       cfg.Network,
		Source:            client,
		Wallet:            client,
		DB:                db,
		EngineDriver:      cfg.EngineDriver,
		KeysSeed:          seed,
		PeerListenAddress: cfg.PeerListenAddress,
		PollInterval:      time.Duration(cfg.Chain.PollIntervalSeconds) * time.Second,
		WakeTimeout:       time.Duration(cfg.Dispatcher.WakeTimeoutSeconds) * time.Second,
		Debounce:          time.Duration(cfg.Dispatcher.DebounceMillis) * time.Millisecond,
		PersistInterval:   time.Duration(cfg.Persist.IntervalSeconds) * time.Second,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 2)
	go func() { errCh <- n.Run(ctx) }()

	if cfg.Admin.Enabled {
		adminServer, err := rpc.NewServer(rpc.ServerConfig{
			ListenAddress: cfg.Admin.Address,
			Node:          n,
			JWTSecret:     adminJWTSecret(cfg),
			Logger:        logger,
		})
		if err != nil {
			return err
		}
		go func() { errCh <- adminServer.Run(ctx) }()
	}

	logger.Info("channeld running",
		slog.String("network", cfg.Network),
		slog.String("peer_listen_address", cfg.PeerListenAddress))

	err = <-errCh
	stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// resolveRPCPassword prefers the inline config value, then the configured
// environment variable, then an interactive prompt.
func resolveRPCPassword(cfg *config.Config) (string, error) {
	if password := strings.TrimSpace(cfg.Chain.RPCPassword); password != "" {
		return password, nil
	}
	source := passphrase.NewSource(cfg.Chain.RPCPasswordEnv)
	password, err := source.Get()
	if err != nil {
		return "", fmt.Errorf("resolve chain RPC password: %w", err)
	}
	return password, nil
}

func adminJWTSecret(cfg *config.Config) []byte {
	envName := strings.TrimSpace(cfg.Admin.JWTSecretEnv)
	if envName == "" {
		return nil
	}
	if value, ok := os.LookupEnv(envName); ok && strings.TrimSpace(value) != "" {
		return []byte(value)
	}
	return nil
}
