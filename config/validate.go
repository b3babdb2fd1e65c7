package config

import (
	"fmt"
	"strings"
)

var knownNetworks = map[string]struct{}{
	"mainnet": {},
	"testnet": {},
	"regtest": {},
	"signet":  {},
}

// Validate rejects configurations the daemon cannot start with. Defaults are
// applied before validation, so only genuinely contradictory or unusable
// values fail here.
func (c *Config) Validate() error {
	network := strings.ToLower(strings.TrimSpace(c.Network))
	if _, ok := knownNetworks[network]; !ok {
		return fmt.Errorf("unknown network %q (want mainnet, testnet, regtest, or signet)", c.Network)
	}
	if strings.TrimSpace(c.Chain.RPCHost) == "" {
		return fmt.Errorf("chain RPCHost must not be empty")
	}
	if c.Chain.RPCPort == 0 {
		return fmt.Errorf("chain RPCPort must not be zero")
	}
	if strings.TrimSpace(c.Chain.RPCUser) == "" {
		return fmt.Errorf("chain RPCUser must be configured")
	}
	if c.Admin.Enabled && strings.TrimSpace(c.Admin.Address) == "" {
		return fmt.Errorf("admin Address must be set when the admin surface is enabled")
	}
	return nil
}
