// Package config loads and validates service configuration.
package config

import (
	"fmt"
	"strings"
)

var knownNetworks = map[string]bool{
	"custom":  true,
	"mainnet": true,
	"testnet": true,
	"devnet":  true,
	"local":   true,
}

// ValidateLedger ensures the signing account and node selection are usable.
func (c *Config) ValidateLedger() error {
	var missing []string

	if !knownNetworks[c.Ledger.Network] {
		return fmt.Errorf("unknown ledger network %q", c.Ledger.Network)
	}
	if c.Ledger.Network == "custom" && strings.TrimSpace(c.Ledger.NodeURL) == "" {
		missing = append(missing, "LEDGER_NODE_URL")
	}
	if strings.TrimSpace(c.Ledger.AccountAddress) == "" {
		missing = append(missing, "LEDGER_ACCOUNT_ADDRESS")
	}
	if strings.TrimSpace(c.Ledger.PrivateKey) == "" {
		missing = append(missing, "LEDGER_PRIVATE_KEY")
	}
	if c.Ledger.PollInterval <= 0 {
		return fmt.Errorf("LEDGER_POLL_INTERVAL must be positive")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ValidateFetcher checks retry bounds and the cache backend.
func (c *Config) ValidateFetcher() error {
	if c.Fetcher.MaxRetries < 0 {
		return fmt.Errorf("FETCH_MAX_RETRIES must be >= 0")
	}
	if c.Fetcher.RetryDelay < 0 {
		return fmt.Errorf("FETCH_RETRY_DELAY must be >= 0")
	}
	switch c.Fetcher.CacheBackend {
	case "memory", "none":
	case "redis":
		if strings.TrimSpace(c.Redis.URL) == "" {
			return fmt.Errorf("missing required configuration: REDIS_URL")
		}
	default:
		return fmt.Errorf("unknown cache backend %q", c.Fetcher.CacheBackend)
	}
	return nil
}

// ValidateCore ensures configuration for the HTTP service is present.
func (c *Config) ValidateCore() error {
	if err := c.ValidateLedger(); err != nil {
		return err
	}
	if err := c.ValidateFetcher(); err != nil {
		return err
	}

	var missing []string
	if strings.TrimSpace(c.Server.Port) == "" {
		missing = append(missing, "SERVER_PORT")
	}
	if strings.TrimSpace(c.JWT.Secret) == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}
