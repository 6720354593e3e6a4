package events

import (
	"math/big"

	"bdnprotocol/core/types"
)

const (
	// TypeTreasuryDeposit is emitted when reserves are deposited against a mint.
	TypeTreasuryDeposit = "treasury.deposit"
	// TypeTreasuryWithdraw is emitted when reserves are released against a burn.
	TypeTreasuryWithdraw = "treasury.withdraw"
	// TypeTreasuryManage is emitted when excess reserves leave custody.
	TypeTreasuryManage = "treasury.manage"
	// TypeTreasuryRewardsMinted is emitted when protocol tokens are minted from excess reserves.
	TypeTreasuryRewardsMinted = "treasury.rewardsMinted"
	// TypeTreasuryCalculatorChanged is emitted when the asset value oracle is replaced.
	TypeTreasuryCalculatorChanged = "treasury.calculatorChanged"
)

// TreasuryDeposit records a reserve deposit and the protocol tokens minted for it.
type TreasuryDeposit struct {
	Depositor [20]byte
	Asset     string
	Amount    *big.Int
	Value     *big.Int
	Minted    *big.Int
}

// EventType satisfies the Event interface.
func (TreasuryDeposit) EventType() string { return TypeTreasuryDeposit }

// Event converts the structured payload into a broadcastable event.
func (e TreasuryDeposit) Event() *types.Event {
	return &types.Event{Type: TypeTreasuryDeposit, Attributes: map[string]string{
		"depositor": formatAddress(e.Depositor),
		"asset":     normalizeAsset(e.Asset),
		"amount":    formatAmount(e.Amount),
		"value":     formatAmount(e.Value),
		"minted":    formatAmount(e.Minted),
	}}
}

// TreasuryWithdraw records reserves released against burned protocol tokens.
type TreasuryWithdraw struct {
	Spender [20]byte
	Asset   string
	Amount  *big.Int
	Burned  *big.Int
}

// EventType satisfies the Event interface.
func (TreasuryWithdraw) EventType() string { return TypeTreasuryWithdraw }

// Event converts the structured payload into a broadcastable event.
func (e TreasuryWithdraw) Event() *types.Event {
	return &types.Event{Type: TypeTreasuryWithdraw, Attributes: map[string]string{
		"spender": formatAddress(e.Spender),
		"asset":   normalizeAsset(e.Asset),
		"amount":  formatAmount(e.Amount),
		"burned":  formatAmount(e.Burned),
	}}
}

// TreasuryManage records excess reserves sent out of custody.
type TreasuryManage struct {
	Manager   [20]byte
	Recipient [20]byte
	Asset     string
	Amount    *big.Int
	Value     *big.Int
}

// EventType satisfies the Event interface.
func (TreasuryManage) EventType() string { return TypeTreasuryManage }

// Event converts the structured payload into a broadcastable event.
func (e TreasuryManage) Event() *types.Event {
	return &types.Event{Type: TypeTreasuryManage, Attributes: map[string]string{
		"manager":   formatAddress(e.Manager),
		"recipient": formatAddress(e.Recipient),
		"asset":     normalizeAsset(e.Asset),
		"amount":    formatAmount(e.Amount),
		"value":     formatAmount(e.Value),
	}}
}

// TreasuryRewardsMinted records protocol tokens minted from excess reserves.
type TreasuryRewardsMinted struct {
	Caller    [20]byte
	Recipient [20]byte
	Amount    *big.Int
}

// EventType satisfies the Event interface.
func (TreasuryRewardsMinted) EventType() string { return TypeTreasuryRewardsMinted }

// Event converts the structured payload into a broadcastable event.
func (e TreasuryRewardsMinted) Event() *types.Event {
	return &types.Event{Type: TypeTreasuryRewardsMinted, Attributes: map[string]string{
		"caller":    formatAddress(e.Caller),
		"recipient": formatAddress(e.Recipient),
		"amount":    formatAmount(e.Amount),
	}}
}

// TreasuryCalculatorChanged records a replacement of the asset value oracle.
type TreasuryCalculatorChanged struct {
	Name string
}

// EventType satisfies the Event interface.
func (TreasuryCalculatorChanged) EventType() string { return TypeTreasuryCalculatorChanged }

// Event converts the structured payload into a broadcastable event.
func (e TreasuryCalculatorChanged) Event() *types.Event {
	return &types.Event{Type: TypeTreasuryCalculatorChanged, Attributes: map[string]string{"calculator": e.Name}}
}
