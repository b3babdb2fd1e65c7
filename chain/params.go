package chain

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
)

// ParamsForNetwork resolves a configured network name to its chain
// parameters.
func ParamsForNetwork(name string) (*chaincfg.Params, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network %q", name)
	}
}

// SourceNetworkName maps a configured network name to the identifier a
// bitcoind-style source reports from getblockchaininfo. Startup aborts when
// the source's report disagrees with the configuration.
func SourceNetworkName(name string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mainnet":
		return "main", nil
	case "testnet":
		return "test", nil
	case "regtest":
		return "regtest", nil
	case "signet":
		return "signet", nil
	default:
		return "", fmt.Errorf("unknown network %q", name)
	}
}
