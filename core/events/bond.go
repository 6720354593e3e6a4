package events

import (
	"math/big"

	"bdnprotocol/core/types"
)

const (
	// TypeBondCreated is emitted for every successful bond purchase.
	TypeBondCreated = "bond.created"
	// TypeBondRedeemed is emitted when vested payout is released.
	TypeBondRedeemed = "bond.redeemed"
	// TypeBondPriceChanged is emitted after each purchase with the refreshed price and debt ratio.
	TypeBondPriceChanged = "bond.priceChanged"
	// TypeBondControlVariableAdjusted is emitted when the BCV steps toward its target.
	TypeBondControlVariableAdjusted = "bond.controlVariableAdjusted"
)

// BondCreated captures a bond purchase.
type BondCreated struct {
	Depositor [20]byte
	Deposit   *big.Int
	Payout    *big.Int
	ExpiresAt uint64
	Price     *big.Int
	TotalDebt *big.Int
	FeePaid   *big.Int
	RewardFee *big.Int
}

// EventType satisfies the Event interface.
func (BondCreated) EventType() string { return TypeBondCreated }

// Event converts the structured payload into a broadcastable event.
func (e BondCreated) Event() *types.Event {
	return &types.Event{Type: TypeBondCreated, Attributes: map[string]string{
		"depositor": formatAddress(e.Depositor),
		"deposit":   formatAmount(e.Deposit),
		"payout":    formatAmount(e.Payout),
		"expiresAt": formatUint(e.ExpiresAt),
		"price":     formatAmount(e.Price),
		"totalDebt": formatAmount(e.TotalDebt),
		"fee":       formatAmount(e.FeePaid),
		"rewardFee": formatAmount(e.RewardFee),
	}}
}

// BondRedeemed captures a (partial) release of vested payout.
type BondRedeemed struct {
	Recipient [20]byte
	Payout    *big.Int
	Remaining *big.Int
	Staked    bool
}

// EventType satisfies the Event interface.
func (BondRedeemed) EventType() string { return TypeBondRedeemed }

// Event converts the structured payload into a broadcastable event.
func (e BondRedeemed) Event() *types.Event {
	attrs := map[string]string{
		"recipient": formatAddress(e.Recipient),
		"payout":    formatAmount(e.Payout),
		"remaining": formatAmount(e.Remaining),
	}
	if e.Staked {
		attrs["staked"] = "true"
	}
	return &types.Event{Type: TypeBondRedeemed, Attributes: attrs}
}

// BondPriceChanged captures the post-purchase price and debt ratio.
type BondPriceChanged struct {
	Price     *big.Int
	DebtRatio *big.Int
}

// EventType satisfies the Event interface.
func (BondPriceChanged) EventType() string { return TypeBondPriceChanged }

// Event converts the structured payload into a broadcastable event.
func (e BondPriceChanged) Event() *types.Event {
	return &types.Event{Type: TypeBondPriceChanged, Attributes: map[string]string{
		"price":     formatAmount(e.Price),
		"debtRatio": formatAmount(e.DebtRatio),
	}}
}

// BondControlVariableAdjusted captures a BCV step.
type BondControlVariableAdjusted struct {
	Initial  uint64
	Adjusted uint64
	Rate     uint64
	Active   bool
}

// EventType satisfies the Event interface.
func (BondControlVariableAdjusted) EventType() string { return TypeBondControlVariableAdjusted }

// Event converts the structured payload into a broadcastable event.
func (e BondControlVariableAdjusted) Event() *types.Event {
	attrs := map[string]string{
		"initialBCV":  formatUint(e.Initial),
		"adjustedBCV": formatUint(e.Adjusted),
		"rate":        formatUint(e.Rate),
		"active":      "false",
	}
	if e.Active {
		attrs["active"] = "true"
	}
	return &types.Event{Type: TypeBondControlVariableAdjusted, Attributes: attrs}
}
