package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Chain holds the connection settings for the bitcoind-style chain data
// source and wallet. The RPC password may be supplied inline, through the
// named environment variable, or interactively at startup.
type Chain struct {
	RPCHost             string `toml:"RPCHost"`
	RPCPort             uint16 `toml:"RPCPort"`
	RPCUser             string `toml:"RPCUser"`
	RPCPassword         string `toml:"RPCPassword"`
	RPCPasswordEnv      string `toml:"RPCPasswordEnv"`
	PollIntervalSeconds uint32 `toml:"PollIntervalSeconds"`
}

// Dispatcher tunes the event-processing loop.
type Dispatcher struct {
	WakeTimeoutSeconds uint32 `toml:"WakeTimeoutSeconds"`
	DebounceMillis     uint32 `toml:"DebounceMillis"`
}

// Persist tunes the background persistence of protocol-engine state.
type Persist struct {
	IntervalSeconds uint32 `toml:"IntervalSeconds"`
}

// Admin configures the local HTTP surface (status, payments, metrics).
type Admin struct {
	Enabled      bool   `toml:"Enabled"`
	Address      string `toml:"Address"`
	JWTSecretEnv string `toml:"JWTSecretEnv"`
}

// Telemetry configures the OTLP exporters.
type Telemetry struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Metrics  bool   `toml:"Metrics"`
	Traces   bool   `toml:"Traces"`
}

type Config struct {
	DataDir           string `toml:"DataDir"`
	Network           string `toml:"Network"`
	PeerListenAddress string `toml:"PeerListenAddress"`
	EngineDriver      string `toml:"EngineDriver"`
	LogToFile         bool   `toml:"LogToFile"`

	Chain      Chain      `toml:"chain"`
	Dispatcher Dispatcher `toml:"dispatcher"`
	Persist    Persist    `toml:"persist"`
	Admin      Admin      `toml:"admin"`
	Telemetry  Telemetry  `toml:"telemetry"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./channeld-data"
	}
	if strings.TrimSpace(cfg.Network) == "" {
		cfg.Network = "regtest"
	}
	if strings.TrimSpace(cfg.PeerListenAddress) == "" {
		cfg.PeerListenAddress = ":9735"
	}
	if strings.TrimSpace(cfg.EngineDriver) == "" {
		cfg.EngineDriver = "default"
	}
	if strings.TrimSpace(cfg.Chain.RPCHost) == "" {
		cfg.Chain.RPCHost = "127.0.0.1"
	}
	if cfg.Chain.RPCPort == 0 {
		cfg.Chain.RPCPort = 18443
	}
	if cfg.Chain.PollIntervalSeconds == 0 {
		cfg.Chain.PollIntervalSeconds = 1
	}
	if cfg.Dispatcher.WakeTimeoutSeconds == 0 {
		cfg.Dispatcher.WakeTimeoutSeconds = 1
	}
	if cfg.Dispatcher.DebounceMillis == 0 {
		cfg.Dispatcher.DebounceMillis = 1000
	}
	if cfg.Persist.IntervalSeconds == 0 {
		cfg.Persist.IntervalSeconds = 30
	}
	if strings.TrimSpace(cfg.Admin.Address) == "" {
		cfg.Admin.Address = "127.0.0.1:9180"
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.Admin.Enabled = true

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
