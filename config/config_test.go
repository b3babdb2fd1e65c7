package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadParsesSettings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `DataDir = "./data"
Network = "testnet"
PeerListenAddress = "0.0.0.0:9800"
EngineDriver = "external"
LogToFile = true

[chain]
RPCHost = "10.0.0.5"
RPCPort = 18332
RPCUser = "channeld"
RPCPasswordEnv = "CHANNELD_RPC_PASS"
PollIntervalSeconds = 2

[dispatcher]
WakeTimeoutSeconds = 3
DebounceMillis = 250

[persist]
IntervalSeconds = 15

[admin]
Enabled = true
Address = "127.0.0.1:9999"
JWTSecretEnv = "CHANNELD_ADMIN_SECRET"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "testnet", cfg.Network)
	require.Equal(t, "0.0.0.0:9800", cfg.PeerListenAddress)
	require.Equal(t, "external", cfg.EngineDriver)
	require.True(t, cfg.LogToFile)
	require.Equal(t, "10.0.0.5", cfg.Chain.RPCHost)
	require.Equal(t, uint16(18332), cfg.Chain.RPCPort)
	require.Equal(t, "channeld", cfg.Chain.RPCUser)
	require.Equal(t, "CHANNELD_RPC_PASS", cfg.Chain.RPCPasswordEnv)
	require.Equal(t, uint32(2), cfg.Chain.PollIntervalSeconds)
	require.Equal(t, uint32(3), cfg.Dispatcher.WakeTimeoutSeconds)
	require.Equal(t, uint32(250), cfg.Dispatcher.DebounceMillis)
	require.Equal(t, uint32(15), cfg.Persist.IntervalSeconds)
	require.Equal(t, "127.0.0.1:9999", cfg.Admin.Address)
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`[chain]
RPCUser = "channeld"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "regtest", cfg.Network)
	require.Equal(t, ":9735", cfg.PeerListenAddress)
	require.Equal(t, "default", cfg.EngineDriver)
	require.Equal(t, uint16(18443), cfg.Chain.RPCPort)
	require.Equal(t, uint32(1), cfg.Chain.PollIntervalSeconds)
	require.Equal(t, uint32(1000), cfg.Dispatcher.DebounceMillis)
	require.Equal(t, uint32(30), cfg.Persist.IntervalSeconds)
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.FileExists(t, path)
	require.True(t, cfg.Admin.Enabled)

	// Reloading the generated file must not require hand edits beyond the
	// RPC user, which has no sensible default.
	cfg.Chain.RPCUser = "channeld"
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "unknown network",
			mutate:  func(c *Config) { c.Network = "florinet" },
			wantErr: "unknown network",
		},
		{
			name:    "missing rpc user",
			mutate:  func(c *Config) { c.Chain.RPCUser = "" },
			wantErr: "RPCUser",
		},
		{
			name:    "zero rpc port",
			mutate:  func(c *Config) { c.Chain.RPCPort = 0 },
			wantErr: "RPCPort",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &Config{}
			applyDefaults(cfg)
			cfg.Chain.RPCUser = "channeld"
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
