package config

import (
	"fmt"
	"strings"

	"arrayledger/crypto"
)

// knownModules lists the module names accepted in Paused.
var knownModules = map[string]struct{}{
	"vault": {},
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Admin != "" {
		if _, err := crypto.DecodeAddress(c.Admin); err != nil {
			return fmt.Errorf("Admin: %w", err)
		}
	}
	if c.DefaultDelegate != "" {
		if _, err := crypto.DecodeAddress(c.DefaultDelegate); err != nil {
			return fmt.Errorf("DefaultDelegate: %w", err)
		}
	}
	for _, module := range c.Paused {
		if _, ok := knownModules[strings.ToLower(strings.TrimSpace(module))]; !ok {
			return fmt.Errorf("Paused: unknown module %q", module)
		}
	}
	reserves := make(map[string]struct{}, len(c.LendingMarket.Reserves))
	for i, r := range c.LendingMarket.Reserves {
		id := strings.TrimSpace(r.ID)
		if id == "" {
			return fmt.Errorf("LendingMarket.Reserves[%d]: ID required", i)
		}
		if strings.TrimSpace(r.Mint) == "" {
			return fmt.Errorf("LendingMarket.Reserves[%d]: Mint required", i)
		}
		if _, dup := reserves[id]; dup {
			return fmt.Errorf("LendingMarket.Reserves[%d]: duplicate ID %q", i, id)
		}
		reserves[id] = struct{}{}
	}
	markets := make(map[uint16]struct{}, len(c.Margin.Markets))
	for i, m := range c.Margin.Markets {
		if strings.TrimSpace(m.Mint) == "" {
			return fmt.Errorf("Margin.Markets[%d]: Mint required", i)
		}
		if _, dup := markets[m.Index]; dup {
			return fmt.Errorf("Margin.Markets[%d]: duplicate Index %d", i, m.Index)
		}
		markets[m.Index] = struct{}{}
	}
	return nil
}
