package config

import (
	"fmt"
	"math/big"

	"bdnprotocol/crypto"
	"bdnprotocol/native/bond"
	nativecommon "bdnprotocol/native/common"
)

// Terms converts the bond section into validated market terms.
func (b Bond) Terms() (bond.Terms, error) {
	amounts := map[string]*big.Int{}
	for name, raw := range map[string]string{
		"MinPrice":  b.MinPrice,
		"MaxPayout": b.MaxPayout,
		"MinPayout": b.MinPayout,
		"MaxDebt":   b.MaxDebt,
	} {
		value, err := parseAmount(raw)
		if err != nil {
			return bond.Terms{}, fmt.Errorf("%s: %w", name, err)
		}
		amounts[name] = value
	}
	terms := bond.Terms{
		ControlVariable: b.ControlVariable,
		MinPrice:        amounts["MinPrice"],
		MaxPayout:       amounts["MaxPayout"],
		MinPayout:       amounts["MinPayout"],
		FeeBps:          b.FeeBps,
		RewardFeeBps:    b.RewardFeeBps,
		MaxDebt:         amounts["MaxDebt"],
		VestingTerm:     b.VestingTerm,
	}
	return terms, terms.Validate()
}

// Floor returns the configured floor price.
func (b Bond) Floor() (*big.Int, error) {
	return parseAmount(b.FloorPrice)
}

// RateValue returns the token's fixed rate, or nil when it is valued
// one-to-one.
func (t TokenConfig) RateValue() (*big.Int, error) {
	if t.Rate == "" {
		return nil, nil
	}
	return parseAmount(t.Rate)
}

// PauseSet converts the pause flags into the view consulted by the engines.
func (p Pauses) PauseSet() nativecommon.StaticPauses {
	return nativecommon.StaticPauses{
		"permissions": p.Permissions,
		"treasury":    p.Treasury,
		"bond":        p.Bond,
		"rewards":     p.Rewards,
		"staking":     p.Staking,
	}
}

// Addresses resolves the owner, DAO and reward fee recipient.
func (cfg *Config) Addresses() (owner, dao, rewardFeeTo [20]byte, err error) {
	if owner, err = crypto.ParseRaw(cfg.Owner); err != nil {
		return
	}
	if dao, err = crypto.ParseRaw(cfg.DAO); err != nil {
		return
	}
	rewardFeeTo, err = crypto.ParseRaw(cfg.RewardFeeTo)
	return
}
