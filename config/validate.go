package config

import (
	"fmt"
	"math/big"
	"strings"

	"bdnprotocol/crypto"
	"bdnprotocol/native/permissions"
)

// Validate checks the configuration for consistency.
func (cfg *Config) Validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("DataDir must not be empty")
	}
	for name, addr := range map[string]string{"Owner": cfg.Owner, "DAO": cfg.DAO, "RewardFeeTo": cfg.RewardFeeTo} {
		if _, err := crypto.ParseRaw(addr); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if cfg.ProtocolToken.Symbol == "" {
		return fmt.Errorf("ProtocolToken: symbol required")
	}
	seen := map[string]bool{cfg.ProtocolToken.Symbol: true}
	reserves := map[string]bool{}
	for _, token := range cfg.Tokens {
		if token.Symbol == "" {
			return fmt.Errorf("tokens: symbol required")
		}
		if seen[token.Symbol] {
			return fmt.Errorf("tokens: %s listed twice", token.Symbol)
		}
		seen[token.Symbol] = true
		if token.Rate != "" {
			rate, err := parseAmount(token.Rate)
			if err != nil || rate.Sign() == 0 {
				return fmt.Errorf("tokens: %s rate must be a positive integer", token.Symbol)
			}
			if !token.Reserve {
				return fmt.Errorf("tokens: %s has a rate but is not a reserve", token.Symbol)
			}
		}
		if token.Reserve {
			reserves[token.Symbol] = true
		}
	}
	if !reserves[cfg.Bond.Principle] {
		return fmt.Errorf("bond: principle %q is not a reserve token", cfg.Bond.Principle)
	}
	if !seen[cfg.Rewards.Asset] {
		return fmt.Errorf("rewards: asset %q is not a registered token", cfg.Rewards.Asset)
	}
	if _, err := cfg.Bond.Terms(); err != nil {
		return fmt.Errorf("bond: %w", err)
	}
	if _, err := parseAmount(cfg.Bond.FloorPrice); err != nil {
		return fmt.Errorf("bond: FloorPrice: %w", err)
	}
	if adj := cfg.Bond.Adjustment; adj.Active && adj.Rate > cfg.Bond.ControlVariable*25/1000 {
		return fmt.Errorf("bond: adjustment rate %d too large for control variable %d", adj.Rate, cfg.Bond.ControlVariable)
	}
	for i, grant := range cfg.Permissions.Grants {
		if _, err := permissions.ParseCategory(grant.Category); err != nil {
			return fmt.Errorf("permissions.grants[%d]: %w", i, err)
		}
		if _, err := crypto.ParseRaw(grant.Address); err != nil {
			return fmt.Errorf("permissions.grants[%d]: %w", i, err)
		}
	}
	if cfg.RPC.RateLimit < 0 {
		return fmt.Errorf("rpc: RateLimit must not be negative")
	}
	return nil
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("amount %q must not be negative", raw)
	}
	return value, nil
}
